// Package config holds the bridge and relay configuration types.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// UplinkKind selects the transport carried over the WiFi association.
type UplinkKind string

const (
	UplinkTCP       UplinkKind = "tcp"
	UplinkWebSocket UplinkKind = "ws"
	UplinkWebRTC    UplinkKind = "webrtc"
)

// Firmware defaults.
const (
	DefaultMaxRetries     = 5
	DefaultQueueCapacity  = 10
	DefaultEnqueueTimeout = 100 * time.Millisecond
	DefaultUSBInterface   = "usb0"
	DefaultStatsInterval  = 10 * time.Second
)

// DefaultBackoff is the reconnect delay schedule; the last entry repeats.
var DefaultBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}

// DefaultSTUNServers are used for WebRTC uplinks when none are configured.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Config stores every parameter of a bridge. It is supplied once at startup and
// never changed afterwards.
type Config struct {
	SSID     string
	Password string // empty for an open network

	MaxRetries     int
	Backoff        []time.Duration
	QueueCapacity  int
	EnqueueTimeout time.Duration

	USBInterface  string     // gadget network interface, e.g. usb0
	WiFiInterface string     // station interface watched for an address; empty skips the check
	UplinkKind    UplinkKind // tcp, ws or webrtc
	UplinkAddr    string     // host:port for tcp, URL for ws and webrtc signaling
	STUNServers   []string

	StationUp   string // association command template, see wifi.CommandStation
	StationDown string

	StatsInterval time.Duration
	Debug         bool
}

// Default returns a Config populated with the firmware defaults.
func Default() Config {
	return Config{
		MaxRetries:     DefaultMaxRetries,
		Backoff:        append([]time.Duration(nil), DefaultBackoff...),
		QueueCapacity:  DefaultQueueCapacity,
		EnqueueTimeout: DefaultEnqueueTimeout,
		USBInterface:   DefaultUSBInterface,
		UplinkKind:     UplinkTCP,
		STUNServers:    append([]string(nil), DefaultSTUNServers...),
		StatsInterval:  DefaultStatsInterval,
	}
}

// Validate reports every problem found in c.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.SSID) == "" {
		errs = append(errs, errors.New("ssid is required"))
	}
	if len(c.SSID) > 32 {
		errs = append(errs, fmt.Errorf("ssid longer than 32 bytes: %q", c.SSID))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries))
	}
	for i, d := range c.Backoff {
		if d < 0 {
			errs = append(errs, fmt.Errorf("backoff[%d] is negative: %v", i, d))
		}
	}
	if c.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("queue capacity must be positive, got %d", c.QueueCapacity))
	}
	if c.EnqueueTimeout < 0 {
		errs = append(errs, fmt.Errorf("enqueue timeout must not be negative, got %v", c.EnqueueTimeout))
	}

	switch c.UplinkKind {
	case UplinkTCP, UplinkWebSocket, UplinkWebRTC:
	default:
		errs = append(errs, fmt.Errorf("unknown uplink kind %q", c.UplinkKind))
	}
	if c.UplinkAddr == "" {
		errs = append(errs, errors.New("uplink address is required"))
	}

	return errors.Join(errs...)
}

// ParseBackoff parses a comma separated list of durations such as "1s,2s,4s".
func ParseBackoff(s string) ([]time.Duration, error) {
	var out []time.Duration
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		d, err := time.ParseDuration(field)
		if err != nil {
			return nil, fmt.Errorf("invalid backoff %q: %w", field, err)
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, errors.New("empty backoff schedule")
	}
	return out, nil
}
