//go:build !linux

package netdev

// OpenRaw is only available on Linux.
func OpenRaw(ifname string) (*Device, error) { return nil, ErrUnsupported }

// OpenTAP is only available on Linux.
func OpenTAP(name string, mtu int) (*Device, error) { return nil, ErrUnsupported }

func (d *Device) readInbound(buf []byte) (int, error) { return d.f.Read(buf) }
