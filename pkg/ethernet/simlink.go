package ethernet

import (
	"fmt"
	"sync"

	"github.com/ivanv/edgerouter/pkg/common"
)

// SimLink is an in-memory Link used by tests in place of raw sockets. Sends
// are recorded per interface instead of hitting the wire, and Recv drains a
// queue that a test fills with SimLink.Inject.
type SimLink struct {
	macs []common.MACAddress
	ips  []common.IPv4Address

	mu   sync.Mutex
	sent map[int][]*Frame
	in   chan rawFrame
}

// SimInterface describes one simulated interface's addressing.
type SimInterface struct {
	MAC  common.MACAddress
	IPv4 common.IPv4Address
}

// NewSimLink builds a simulated link with the given interfaces, indexed by
// their position in ifaces.
func NewSimLink(ifaces []SimInterface) *SimLink {
	link := &SimLink{
		sent: make(map[int][]*Frame),
		in:   make(chan rawFrame, 64),
	}
	for _, ifc := range ifaces {
		link.macs = append(link.macs, ifc.MAC)
		link.ips = append(link.ips, ifc.IPv4)
	}
	return link
}

// Inject queues a frame as if it had arrived on the given interface.
func (l *SimLink) Inject(iface int, frame *Frame) {
	l.in <- rawFrame{iface: iface, frame: frame}
}

// Send implements Link.
func (l *SimLink) Send(iface int, frame *Frame) error {
	if iface < 0 || iface >= len(l.macs) {
		return fmt.Errorf("unknown interface index %d", iface)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent[iface] = append(l.sent[iface], frame)
	return nil
}

// Recv implements Link.
func (l *SimLink) Recv() (int, *Frame, error) {
	f, ok := <-l.in
	if !ok {
		return 0, nil, fmt.Errorf("simlink closed")
	}
	return f.iface, f.frame, nil
}

// MAC implements Link.
func (l *SimLink) MAC(iface int) common.MACAddress {
	return l.macs[iface]
}

// IPv4 implements Link.
func (l *SimLink) IPv4(iface int) common.IPv4Address {
	return l.ips[iface]
}

// NumInterfaces implements Link.
func (l *SimLink) NumInterfaces() int {
	return len(l.macs)
}

// Close implements Link.
func (l *SimLink) Close() error {
	close(l.in)
	return nil
}

// Sent returns the frames recorded by Send on the given interface, in order.
func (l *SimLink) Sent(iface int) []*Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Frame(nil), l.sent[iface]...)
}
