//go:build linux

package netdev

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const tunDevice = "/dev/net/tun"

// OpenTAP creates (or attaches to) the TAP interface name, sets its MTU and
// brings it up. An empty name lets the kernel pick one.
func OpenTAP(name string, mtu int) (*Device, error) {
	fd, err := unix.Open(tunDevice, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("netdev: open %s: %w", tunDevice, err)
	}

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netdev: tap name %q: %w", name, err)
	}
	ifr.SetUint16(unix.IFF_TAP | unix.IFF_NO_PI)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netdev: TUNSETIFF %q: %w", name, err)
	}
	name = ifr.Name()

	if err := configureLink(name, mtu); err != nil {
		unix.Close(fd)
		return nil, err
	}

	return &Device{
		f:            os.NewFile(uintptr(fd), tunDevice),
		name:         name,
		writeTimeout: DefaultWriteTimeout,
	}, nil
}

// configureLink sets the MTU of name (when mtu > 0) and marks it up.
func configureLink(name string, mtu int) error {
	sock, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("netdev: control socket: %w", err)
	}
	defer unix.Close(sock)

	if mtu > 0 {
		ifr, err := unix.NewIfreq(name)
		if err != nil {
			return err
		}
		ifr.SetUint32(uint32(mtu))
		if err := unix.IoctlIfreq(sock, unix.SIOCSIFMTU, ifr); err != nil {
			return fmt.Errorf("netdev: set mtu %d on %s: %w", mtu, name, err)
		}
	}

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return err
	}
	if err := unix.IoctlIfreq(sock, unix.SIOCGIFFLAGS, ifr); err != nil {
		return fmt.Errorf("netdev: get flags of %s: %w", name, err)
	}
	ifr.SetUint16(ifr.Uint16() | unix.IFF_UP | unix.IFF_RUNNING)
	if err := unix.IoctlIfreq(sock, unix.SIOCSIFFLAGS, ifr); err != nil {
		return fmt.Errorf("netdev: bring %s up: %w", name, err)
	}
	return nil
}
