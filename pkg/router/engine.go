// Package router wires the ARP cache, route table and link layer together
// into the per-packet forwarding state machine: classify each received
// frame, rewrite or build a reply in place, and hand it back to the link.
package router

import (
	"github.com/rs/zerolog"

	"github.com/ivanv/edgerouter/pkg/arp"
	"github.com/ivanv/edgerouter/pkg/common"
	"github.com/ivanv/edgerouter/pkg/ethernet"
	"github.com/ivanv/edgerouter/pkg/icmp"
	"github.com/ivanv/edgerouter/pkg/ip"
)

// Router dispatches frames received on a Link, forwarding IPv4 traffic
// using table and resolving next hops through cache, parking anything
// still awaiting resolution in pending.
type Router struct {
	link    ethernet.Link
	table   *ip.Trie
	cache   *arp.Cache
	pending *pendingQueue
	log     zerolog.Logger
}

// New builds a Router bound to link and table. A fresh, empty ARP cache
// and pending-packet queue are created for it.
func New(link ethernet.Link, table *ip.Trie, logger zerolog.Logger) *Router {
	return &Router{
		link:    link,
		table:   table,
		cache:   arp.NewCache(),
		pending: newPendingQueue(),
		log:     logger,
	}
}

// Run receives frames from the link and handles them one at a time until
// the link reports a receive failure, which it returns to the caller.
// There is exactly one goroutine driving this loop, so no part of the
// state machine below needs locking.
func (r *Router) Run() error {
	for {
		iface, frame, err := r.link.Recv()
		if err != nil {
			r.log.Error().Err(err).Msg("link receive failed")
			return err
		}
		r.handleFrame(iface, frame)
	}
}

func (r *Router) handleFrame(iface int, frame *ethernet.Frame) {
	switch frame.EtherType {
	case common.EtherTypeIPv4:
		r.handleIPv4(iface, frame)
	case common.EtherTypeARP:
		r.handleARP(iface, frame)
	default:
		r.log.Debug().Int("iface", iface).Stringer("ethertype", frame.EtherType).Msg("dropping frame with unhandled ethertype")
	}
}

func (r *Router) handleIPv4(iface int, frame *ethernet.Frame) {
	if len(frame.Payload) < ip.HeaderSize {
		r.log.Debug().Int("iface", iface).Msg("dropping undersized IPv4 packet")
		return
	}
	ipHdr := ip.NewHeader(frame.Payload)

	if !ipHdr.ValidChecksum() {
		r.log.Debug().Stringer("source", ipHdr.Source()).Msg("dropping IPv4 packet with invalid checksum")
		return
	}

	dst := ipHdr.Destination()
	if dst == r.link.IPv4(iface) {
		r.handleLocalDelivery(iface, frame, ipHdr)
		return
	}

	route, ok := r.table.Lookup(dst)
	if !ok {
		r.log.Debug().Stringer("destination", dst).Msg("no route, sending destination unreachable")
		r.sendICMPError(iface, frame, ipHdr, icmp.TypeDestinationUnreachable)
		return
	}

	if ipHdr.TTL() <= 1 {
		r.sendICMPError(iface, frame, ipHdr, icmp.TypeTimeExceeded)
		return
	}
	ipHdr.DecrementTTL()

	datagramLen := int(ipHdr.TotalLength())
	if datagramLen <= 0 || datagramLen > len(frame.Payload) {
		datagramLen = len(frame.Payload)
	}
	payload := append([]byte(nil), frame.Payload[:datagramLen]...)

	r.forward(route.Iface, route.Hop, payload)
}

// handleLocalDelivery answers anything addressed to the receiving
// interface's own IPv4 with an in-place ICMP echo reply, unconditionally —
// it does not check that the datagram actually carried ICMP or an echo
// request, matching the original router's generate_icmp_replay call.
func (r *Router) handleLocalDelivery(iface int, frame *ethernet.Frame, ipHdr ip.Header) {
	datagramLen := int(ipHdr.TotalLength())
	if datagramLen <= ip.HeaderSize || datagramLen > len(frame.Payload) {
		r.log.Debug().Msg("dropping malformed ICMP packet")
		return
	}

	icmpBuf := frame.Payload[ip.HeaderSize:datagramLen]
	if len(icmpBuf) < icmp.MinHeaderLength {
		r.log.Debug().Msg("dropping undersized ICMP message")
		return
	}
	icmpHdr := icmp.Header(icmpBuf)

	icmpHdr.SetType(icmp.TypeEchoReply)
	icmpHdr.RecomputeChecksum()

	sender := ipHdr.Source()
	ipHdr.SetSource(r.link.IPv4(iface))
	ipHdr.SetDestination(sender)
	ipHdr.SetTTL(64)
	ipHdr.RecomputeChecksum()

	replyFrame := ethernet.NewFrame(frame.Source, r.link.MAC(iface), common.EtherTypeIPv4, frame.Payload[:datagramLen])
	if err := r.link.Send(iface, replyFrame); err != nil {
		r.log.Error().Err(err).Msg("failed to send echo reply")
	}
}

// forward sends payload out iface if nextHop's MAC is already cached,
// otherwise parks it and fires off an ARP request for nextHop.
func (r *Router) forward(iface int, nextHop common.IPv4Address, payload []byte) {
	if mac, ok := r.cache.Get(nextHop); ok {
		frame := ethernet.NewFrame(mac, r.link.MAC(iface), common.EtherTypeIPv4, payload)
		if err := r.link.Send(iface, frame); err != nil {
			r.log.Error().Err(err).Msg("failed to send forwarded packet")
		}
		return
	}

	r.pending.Enqueue(pendingPacket{payload: payload, iface: iface, nextHop: nextHop})
	r.sendARPRequest(iface, nextHop)
}

func (r *Router) sendARPRequest(iface int, target common.IPv4Address) {
	req := arp.NewRequest(r.link.MAC(iface), r.link.IPv4(iface), target)
	frame := ethernet.NewFrame(common.BroadcastMAC, r.link.MAC(iface), common.EtherTypeARP, req.Serialize())
	if err := r.link.Send(iface, frame); err != nil {
		r.log.Error().Err(err).Msg("failed to send ARP request")
	}
}

// sendICMPError builds a fresh Destination Unreachable or Time Exceeded
// message addressed back to the sender of the datagram that triggered it,
// and sends it straight back out the interface that datagram arrived on —
// the sender's link-layer address is already known from the frame just
// received, so no ARP round trip is needed for the reply itself.
//
// Per RFC 792, the error message carries the original IP header plus the
// first 8 bytes of the original datagram's payload. That slice is copied
// into its own buffer before anything else is built, so there is no risk
// of the new message's construction overwriting bytes it still needs to
// read.
func (r *Router) sendICMPError(iface int, frame *ethernet.Frame, origIPHdr ip.Header, msgType icmp.Type) {
	origLen := ip.HeaderSize + 8
	if avail := len(frame.Payload); avail < origLen {
		origLen = avail
	}
	orig := make([]byte, origLen)
	copy(orig, frame.Payload[:origLen])

	buf := make([]byte, ip.HeaderSize+icmp.MinHeaderLength+len(orig))

	replyIPHdr := ip.NewHeader(buf)
	replyIPHdr.SetDefaults()
	replyIPHdr.SetTotalLength(uint16(len(buf)))
	replyIPHdr.SetSource(r.link.IPv4(iface))
	replyIPHdr.SetDestination(origIPHdr.Source())

	icmpHdr := icmp.NewHeader(buf[ip.HeaderSize:], orig)
	icmpHdr.SetType(msgType)
	icmpHdr.SetCode(icmp.CodeNetUnreachable)
	icmpHdr.RecomputeChecksum()

	replyIPHdr.RecomputeChecksum()

	replyFrame := ethernet.NewFrame(frame.Source, r.link.MAC(iface), common.EtherTypeIPv4, buf)
	if err := r.link.Send(iface, replyFrame); err != nil {
		r.log.Error().Err(err).Msg("failed to send ICMP error")
	}
}

func (r *Router) handleARP(iface int, frame *ethernet.Frame) {
	if len(frame.Payload) < arp.PacketSize {
		r.log.Debug().Int("iface", iface).Msg("dropping undersized ARP packet")
		return
	}
	hdr := arp.NewHeader(frame.Payload)

	switch hdr.Operation() {
	case arp.OperationRequest:
		hdr.TurnIntoReply(r.link.MAC(iface), r.link.IPv4(iface))
		replyFrame := ethernet.NewFrame(frame.Source, r.link.MAC(iface), common.EtherTypeARP, frame.Payload)
		if err := r.link.Send(iface, replyFrame); err != nil {
			r.log.Error().Err(err).Msg("failed to send ARP reply")
		}

	case arp.OperationReply:
		senderIP := hdr.SenderIP()
		senderMAC := hdr.SenderMAC()
		r.cache.Add(senderIP, senderMAC)
		r.pending.Flush(senderIP, func(p pendingPacket) {
			f := ethernet.NewFrame(senderMAC, r.link.MAC(p.iface), common.EtherTypeIPv4, p.payload)
			if err := r.link.Send(p.iface, f); err != nil {
				r.log.Error().Err(err).Msg("failed to send packet queued for ARP resolution")
			}
		})

	default:
		r.log.Debug().Uint16("operation", uint16(hdr.Operation())).Msg("dropping ARP packet with unknown operation")
	}
}
