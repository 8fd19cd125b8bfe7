package ethernet

import (
	"fmt"
	"net"

	"github.com/ivanv/edgerouter/pkg/common"
)

// Link is the collaborator a router drives to move frames on and off the
// wire. It abstracts over the raw AF_PACKET sockets used in production and
// the in-memory fabric used in tests, so the forwarding engine never talks
// to a socket directly.
type Link interface {
	// Send transmits frame out the interface with the given index.
	Send(iface int, frame *Frame) error
	// Recv blocks until a frame arrives on any interface and reports which
	// interface it arrived on.
	Recv() (iface int, frame *Frame, err error)
	// MAC returns the hardware address bound to the interface.
	MAC(iface int) common.MACAddress
	// IPv4 returns the IPv4 address bound to the interface.
	IPv4(iface int) common.IPv4Address
	// NumInterfaces returns how many interfaces the link serves.
	NumInterfaces() int
	// Close releases the link's resources.
	Close() error
}

// RawLink fans in frames received on a set of real network interfaces into
// a single channel, and demultiplexes sends back out to the interface the
// caller names by index. Interface indices are assigned by position in the
// order interfaces are opened, matching the "interface" field of a routing
// table entry.
type RawLink struct {
	ifaces []*Interface
	ips    []common.IPv4Address
	frames chan rawFrame
	errs   chan error
}

type rawFrame struct {
	iface int
	frame *Frame
}

// NewRawLink opens a raw AF_PACKET socket on each named interface and starts
// a reader goroutine per interface that fans incoming frames into a shared
// channel.
func NewRawLink(ifnames []string) (*RawLink, error) {
	link := &RawLink{
		frames: make(chan rawFrame, 64),
		errs:   make(chan error, 1),
	}

	for _, name := range ifnames {
		iface, err := OpenInterface(name)
		if err != nil {
			link.Close()
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		ip, err := interfaceIPv4(name)
		if err != nil {
			link.Close()
			return nil, fmt.Errorf("resolve IPv4 for %s: %w", name, err)
		}
		link.ifaces = append(link.ifaces, iface)
		link.ips = append(link.ips, ip)
	}

	for idx, iface := range link.ifaces {
		go link.readLoop(idx, iface)
	}

	return link, nil
}

func (l *RawLink) readLoop(idx int, iface *Interface) {
	for {
		frame, err := iface.ReadFrame()
		if err != nil {
			select {
			case l.errs <- err:
			default:
			}
			return
		}
		l.frames <- rawFrame{iface: idx, frame: frame}
	}
}

// Send implements Link.
func (l *RawLink) Send(iface int, frame *Frame) error {
	if iface < 0 || iface >= len(l.ifaces) {
		return fmt.Errorf("unknown interface index %d", iface)
	}
	return l.ifaces[iface].WriteFrame(frame)
}

// Recv implements Link.
func (l *RawLink) Recv() (int, *Frame, error) {
	select {
	case f := <-l.frames:
		return f.iface, f.frame, nil
	case err := <-l.errs:
		return 0, nil, err
	}
}

// MAC implements Link.
func (l *RawLink) MAC(iface int) common.MACAddress {
	return l.ifaces[iface].MACAddress()
}

// IPv4 implements Link.
func (l *RawLink) IPv4(iface int) common.IPv4Address {
	return l.ips[iface]
}

// NumInterfaces implements Link.
func (l *RawLink) NumInterfaces() int {
	return len(l.ifaces)
}

// Close implements Link.
func (l *RawLink) Close() error {
	var firstErr error
	for _, iface := range l.ifaces {
		if err := iface.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func interfaceIPv4(name string) (common.IPv4Address, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return common.IPv4Address{}, err
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return common.IPv4Address{}, err
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		v4 := ipNet.IP.To4()
		if v4 == nil {
			continue
		}
		var out common.IPv4Address
		copy(out[:], v4)
		return out, nil
	}
	return common.IPv4Address{}, fmt.Errorf("interface %s has no IPv4 address", name)
}
