package ethernet

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/ivanv/edgerouter/pkg/common"
)

// Interface represents a network interface for sending and receiving Ethernet frames.
type Interface struct {
	name       string
	fd         int               // Raw socket file descriptor
	macAddress common.MACAddress // Hardware address of this interface
	index      int               // Interface index
}

// OpenInterface opens a network interface for raw packet capture and transmission.
// This requires root/sudo privileges on Linux.
//
// The interface parameter is the name of the network interface (e.g., "eth0", "wlan0").
func OpenInterface(ifname string) (*Interface, error) {
	iface, err := net.InterfaceByName(ifname)
	if err != nil {
		return nil, fmt.Errorf("failed to get interface %s: %w", ifname, err)
	}

	if len(iface.HardwareAddr) != 6 {
		return nil, fmt.Errorf("invalid MAC address length: %d", len(iface.HardwareAddr))
	}
	var mac common.MACAddress
	copy(mac[:], iface.HardwareAddr)

	// AF_PACKET/SOCK_RAW gives device-level access; ETH_P_ALL captures every
	// EtherType so ARP and IPv4 frames arrive on the same socket.
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create raw socket: %w (you may need root/sudo)", err)
	}

	addr := unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  iface.Index,
	}

	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to bind socket to interface: %w", err)
	}

	return &Interface{
		name:       ifname,
		fd:         fd,
		macAddress: mac,
		index:      iface.Index,
	}, nil
}

// Close closes the network interface.
func (i *Interface) Close() error {
	if i.fd >= 0 {
		return unix.Close(i.fd)
	}
	return nil
}

// Name returns the interface name.
func (i *Interface) Name() string {
	return i.name
}

// MACAddress returns the hardware address of this interface.
func (i *Interface) MACAddress() common.MACAddress {
	return i.macAddress
}

// Index returns the interface index.
func (i *Interface) Index() int {
	return i.index
}

// ReadFrame reads an Ethernet frame from the interface.
// This is a blocking call that waits for incoming packets.
func (i *Interface) ReadFrame() (*Frame, error) {
	buf := make([]byte, MaxFrameSize)

	n, _, err := unix.Recvfrom(i.fd, buf, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to receive packet: %w", err)
	}

	frame, err := Parse(buf[:n])
	if err != nil {
		return nil, fmt.Errorf("failed to parse frame: %w", err)
	}

	return frame, nil
}

// WriteFrame sends an Ethernet frame to the interface.
func (i *Interface) WriteFrame(frame *Frame) error {
	data := frame.Serialize()

	addr := unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  i.index,
		Halen:    6,
	}
	copy(addr.Addr[:], frame.Destination[:])

	if err := unix.Sendto(i.fd, data, 0, &addr); err != nil {
		return fmt.Errorf("failed to send frame: %w", err)
	}

	return nil
}

// htons converts a 16-bit integer from host byte order to network byte order (big endian).
func htons(v uint16) uint16 {
	return (v << 8) | (v >> 8)
}

// ListInterfaces returns the names of up, non-loopback network interfaces on the system.
func ListInterfaces() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(ifaces))
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		names = append(names, iface.Name)
	}

	return names, nil
}

// GetInterfaceInfo returns a human-readable summary of a network interface.
func GetInterfaceInfo(ifname string) (string, error) {
	iface, err := net.InterfaceByName(ifname)
	if err != nil {
		return "", err
	}

	info := fmt.Sprintf("Interface: %s\n", iface.Name)
	info += fmt.Sprintf("  Index: %d\n", iface.Index)
	info += fmt.Sprintf("  MTU: %d\n", iface.MTU)
	info += fmt.Sprintf("  Hardware Addr: %s\n", iface.HardwareAddr)
	info += fmt.Sprintf("  Flags: %s\n", iface.Flags)

	addrs, err := iface.Addrs()
	if err == nil && len(addrs) > 0 {
		info += "  Addresses:\n"
		for _, addr := range addrs {
			info += fmt.Sprintf("    %s\n", addr)
		}
	}

	return info, nil
}
