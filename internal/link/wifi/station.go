package wifi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"

	"github.com/1ureka/wifilink/internal/util"
)

// Station controls the radio's association with an access point.
type Station interface {
	// Associate joins ssid and returns once the station has an address.
	Associate(ctx context.Context, ssid, password string) error
	Disassociate() error
}

// Preassociated is a Station for systems whose network manager already keeps
// the radio associated; it does nothing.
type Preassociated struct{}

func (Preassociated) Associate(context.Context, string, string) error { return nil }
func (Preassociated) Disassociate() error                             { return nil }

// DefaultAddressTimeout bounds the wait for an IPv4 address after association.
const DefaultAddressTimeout = 20 * time.Second

const addressPollInterval = 250 * time.Millisecond

// CommandStation associates by running external commands, for example
//
//	Up:   "nmcli device wifi connect {ssid} password {password} ifname {iface}"
//	Down: "nmcli device disconnect {iface}"
//
// Templates are split into arguments before placeholders are substituted, so
// an SSID containing spaces stays a single argument. When Interface is set,
// Associate also waits for it to obtain an IPv4 address.
type CommandStation struct {
	Up, Down       string
	Interface      string
	AddressTimeout time.Duration
}

func (c *CommandStation) Associate(ctx context.Context, ssid, password string) error {
	if c.Up != "" {
		if err := c.run(ctx, c.Up, ssid, password); err != nil {
			return err
		}
	}
	if c.Interface == "" {
		return nil
	}

	timeout := c.AddressTimeout
	if timeout <= 0 {
		timeout = DefaultAddressTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return waitForIPv4(ctx, c.Interface)
}

func (c *CommandStation) Disassociate() error {
	if c.Down == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return c.run(ctx, c.Down, "", "")
}

func (c *CommandStation) run(ctx context.Context, template, ssid, password string) error {
	args := expandArgs(template, map[string]string{
		"{ssid}":     ssid,
		"{password}": password,
		"{iface}":    c.Interface,
	})
	if len(args) == 0 {
		return errors.New("empty station command")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	util.Logf("station: running %s", args[0])
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", args[0], err, strings.TrimSpace(out.String()))
	}
	return nil
}

// expandArgs splits template on whitespace and substitutes placeholders in
// each argument.
func expandArgs(template string, vars map[string]string) []string {
	args := strings.Fields(template)
	for i, arg := range args {
		for k, v := range vars {
			arg = strings.ReplaceAll(arg, k, v)
		}
		args[i] = arg
	}
	return args
}

// waitForIPv4 returns once ifname has a global IPv4 address.
func waitForIPv4(ctx context.Context, ifname string) error {
	ticker := time.NewTicker(addressPollInterval)
	defer ticker.Stop()

	for {
		if ip, ok := ipv4Of(ifname); ok {
			util.Logf("station: %s has address %s", ifname, ip)
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("no IPv4 address on %s: %w", ifname, ctx.Err())
		}
	}
}

func ipv4Of(ifname string) (net.IP, bool) {
	iface, err := net.InterfaceByName(ifname)
	if err != nil {
		return nil, false
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, false
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ip := ipNet.IP.To4(); ip != nil && !ip.IsLinkLocalUnicast() {
			return ip, true
		}
	}
	return nil, false
}
