//go:build linux

package netdev

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/1ureka/wifilink/internal/util"
)

// OpenRaw opens a promiscuous AF_PACKET socket bound to ifname. Frames
// transmitted on the interface, including the ones written through this
// socket, are never read back: forwarding them would loop them to the uplink.
func OpenRaw(ifname string) (*Device, error) {
	iface, err := net.InterfaceByName(ifname)
	if err != nil {
		return nil, fmt.Errorf("netdev: lookup %s: %w", ifname, err)
	}

	proto := htons(unix.ETH_P_ALL)
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, int(proto))
	if err != nil {
		return nil, fmt.Errorf("netdev: packet socket: %w", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrLinklayer{Protocol: proto, Ifindex: iface.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netdev: bind %s: %w", ifname, err)
	}

	mreq := unix.PacketMreq{Ifindex: int32(iface.Index), Type: unix.PACKET_MR_PROMISC}
	if err := unix.SetsockoptPacketMreq(fd, unix.SOL_PACKET, unix.PACKET_ADD_MEMBERSHIP, &mreq); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netdev: promiscuous mode on %s: %w", ifname, err)
	}

	// Kernels before 4.20 lack this option. readInbound drops outgoing frames
	// either way; the option only saves copying them to user space.
	if err := unix.SetsockoptInt(fd, unix.SOL_PACKET, unix.PACKET_IGNORE_OUTGOING, 1); err != nil {
		util.Logf("netdev: %s: PACKET_IGNORE_OUTGOING unavailable, filtering in user space: %v", ifname, err)
	}

	f := os.NewFile(uintptr(fd), "packet:"+ifname)
	raw, err := f.SyscallConn()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("netdev: %s: %w", ifname, err)
	}

	util.Logf("netdev: packet socket on %s (index %d, mtu %d)", ifname, iface.Index, iface.MTU)

	return &Device{
		f:            f,
		name:         ifname,
		writeTimeout: DefaultWriteTimeout,
		raw:          raw,
	}, nil
}

// readInbound reads frames with recvfrom until one that was not transmitted
// on the interface arrives.
func (d *Device) readInbound(buf []byte) (int, error) {
	for {
		var (
			n    int
			from unix.Sockaddr
			rerr error
		)
		err := d.raw.Read(func(fd uintptr) bool {
			n, from, rerr = unix.Recvfrom(int(fd), buf, 0)
			return rerr != unix.EAGAIN
		})
		if err != nil {
			return 0, err
		}
		if rerr != nil {
			return 0, rerr
		}
		if isOutgoing(from) {
			continue
		}
		return n, nil
	}
}

// isOutgoing reports whether a packet socket address marks a frame this host
// transmitted.
func isOutgoing(from unix.Sockaddr) bool {
	ll, ok := from.(*unix.SockaddrLinklayer)
	return ok && ll.Pkttype == unix.PACKET_OUTGOING
}

func htons(v uint16) uint16 { return v<<8 | v>>8 }
