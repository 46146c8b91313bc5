// Wifilink: USB-to-WiFi Ethernet bridge.
//
// The host computer sees the USB gadget interface as an ordinary Ethernet
// adapter; every frame it sends is framed and carried over a single uplink
// session across the WiFi association to a wifilink-relay, and vice versa.
//
// Everything can be set with flags. When -ssid is omitted and stdin is a
// terminal, the network credentials are asked for interactively.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pterm/pterm"
	"golang.org/x/term"

	"github.com/1ureka/wifilink/internal/bridge"
	"github.com/1ureka/wifilink/internal/config"
	"github.com/1ureka/wifilink/internal/link/usb"
	"github.com/1ureka/wifilink/internal/link/wifi"
	"github.com/1ureka/wifilink/internal/netdev"
	"github.com/1ureka/wifilink/internal/signaling"
	"github.com/1ureka/wifilink/internal/transport"
	"github.com/1ureka/wifilink/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C or SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Default()

	flag.StringVar(&cfg.SSID, "ssid", "", "WiFi network to join")
	flag.StringVar(&cfg.Password, "password", "", "WiFi password (empty for an open network)")
	flag.IntVar(&cfg.MaxRetries, "retries", cfg.MaxRetries, "Reconnection attempts before giving up")
	backoff := flag.String("backoff", "1s,2s,4s,8s", "Delays between reconnection attempts; the last one repeats")
	flag.IntVar(&cfg.QueueCapacity, "queue", cfg.QueueCapacity, "Frames buffered per direction")
	flag.DurationVar(&cfg.EnqueueTimeout, "enqueue-timeout", cfg.EnqueueTimeout, "Longest wait for queue space before a frame is dropped")
	flag.StringVar(&cfg.USBInterface, "usb", cfg.USBInterface, "USB gadget network interface")
	flag.StringVar(&cfg.WiFiInterface, "iface", "", "WiFi interface to wait on for an IPv4 address")
	uplink := flag.String("uplink", string(cfg.UplinkKind), "Uplink transport: tcp, ws or webrtc")
	flag.StringVar(&cfg.UplinkAddr, "relay", "", "Relay address: host:port for tcp, ws(s):// URL for ws and webrtc")
	stun := flag.String("stun", strings.Join(cfg.STUNServers, ","), "STUN servers for the webrtc uplink")
	flag.StringVar(&cfg.StationUp, "station-up", "", "Command joining the network, e.g. 'nmcli device wifi connect {ssid} password {password} ifname {iface}'")
	flag.StringVar(&cfg.StationDown, "station-down", "", "Command leaving the network, e.g. 'nmcli device disconnect {iface}'")
	flag.DurationVar(&cfg.StatsInterval, "stats", cfg.StatsInterval, "Traffic report interval (0 disables)")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Wifilink — v%s", version))
	pterm.Println()

	var err error
	if cfg.Backoff, err = config.ParseBackoff(*backoff); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	cfg.UplinkKind = config.UplinkKind(*uplink)
	cfg.STUNServers = splitList(*stun)

	if cfg.SSID == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		askCredentials(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		util.LogError("invalid configuration: %v", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("bridge stopped")
}

// run opens both links and forwards traffic until ctx is cancelled.
func run(ctx context.Context, cfg config.Config) error {
	dev, err := netdev.OpenRaw(cfg.USBInterface)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", cfg.USBInterface, err)
	}

	usbLink := usb.New(cfg.USBInterface, dev)
	defer usbLink.Close()

	dialer, err := newDialer(cfg)
	if err != nil {
		return err
	}
	wifiLink := wifi.New(newStation(cfg), dialer)

	b, err := bridge.New(cfg, usbLink, wifiLink)
	if err != nil {
		if errors.Is(err, bridge.ErrAllocation) {
			return fmt.Errorf("failed to start bridge: %w", err)
		}
		return err
	}

	if err := usbLink.Init(ctx); err != nil {
		return err
	}

	// SIGHUP is the operator's explicit reconnect, e.g. after Failed.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				util.LogInfo("reconnect requested (state %s)", b.State())
				if err := b.Reconnect(); err != nil {
					util.LogWarning("reconnect: %v", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	util.LogSuccess("bridging %s <-> %q via %s uplink to %s", cfg.USBInterface, cfg.SSID, cfg.UplinkKind, cfg.UplinkAddr)
	return b.Run(ctx)
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

func newDialer(cfg config.Config) (transport.Dialer, error) {
	switch cfg.UplinkKind {
	case config.UplinkTCP:
		return transport.NewTCPDialer(cfg.UplinkAddr), nil
	case config.UplinkWebSocket:
		return transport.NewWebSocketDialer(cfg.UplinkAddr)
	case config.UplinkWebRTC:
		return signaling.NewDialer(cfg.UplinkAddr, transport.PeerConfig{STUNServers: cfg.STUNServers})
	default:
		return nil, fmt.Errorf("unknown uplink kind %q", cfg.UplinkKind)
	}
}

func newStation(cfg config.Config) wifi.Station {
	if cfg.StationUp == "" && cfg.StationDown == "" && cfg.WiFiInterface == "" {
		return wifi.Preassociated{}
	}
	return &wifi.CommandStation{
		Up:        cfg.StationUp,
		Down:      cfg.StationDown,
		Interface: cfg.WiFiInterface,
	}
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// askCredentials prompts for the network to join and, when missing, the relay.
func askCredentials(cfg *config.Config) {
	for cfg.SSID == "" {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("WiFi network (SSID)").
			Show()
		pterm.Println()

		cfg.SSID = strings.TrimSpace(raw)
		if cfg.SSID == "" {
			util.LogWarning("the SSID must not be empty")
		}
	}

	cfg.Password, _ = pterm.DefaultInteractiveTextInput.
		WithDefaultText("Password (leave empty for an open network)").
		WithMask("*").
		Show()
	pterm.Println()

	for cfg.UplinkAddr == "" {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(fmt.Sprintf("Relay address for the %s uplink", cfg.UplinkKind)).
			Show()
		pterm.Println()
		cfg.UplinkAddr = strings.TrimSpace(raw)
	}
}
