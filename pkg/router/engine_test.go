package router

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/ivanv/edgerouter/pkg/arp"
	"github.com/ivanv/edgerouter/pkg/common"
	"github.com/ivanv/edgerouter/pkg/ethernet"
	"github.com/ivanv/edgerouter/pkg/icmp"
	"github.com/ivanv/edgerouter/pkg/ip"
)

var (
	macA   = common.MACAddress{0x02, 0x00, 0x00, 0x00, 0x00, 0xA0}
	macB   = common.MACAddress{0x02, 0x00, 0x00, 0x00, 0x00, 0xB0}
	ipA    = common.IPv4Address{192, 168, 1, 1}
	ipB    = common.IPv4Address{10, 0, 0, 1}
	remote = common.MACAddress{0x02, 0x00, 0x00, 0x00, 0x00, 0xC0}
)

func newTestRouter() (*Router, *ethernet.SimLink) {
	link := ethernet.NewSimLink([]ethernet.SimInterface{
		{MAC: macA, IPv4: ipA},
		{MAC: macB, IPv4: ipB},
	})
	r := New(link, ip.NewTrie(), zerolog.Nop())
	return r, link
}

func buildIPv4Packet(t *testing.T, src, dst common.IPv4Address, ttl uint8, protocol common.Protocol, payload []byte) []byte {
	t.Helper()
	buf := make([]byte, ip.HeaderSize+len(payload))
	h := ip.NewHeader(buf)
	h.SetDefaults()
	h.SetTTL(ttl)
	h.SetProtocol(protocol)
	h.SetTotalLength(uint16(len(buf)))
	h.SetSource(src)
	h.SetDestination(dst)
	copy(buf[ip.HeaderSize:], payload)
	h.RecomputeChecksum()
	return buf
}

func buildEchoRequestPacket(t *testing.T, src, dst common.IPv4Address) []byte {
	t.Helper()
	msg := icmp.NewEchoRequest(1, 1, []byte("ping"))
	body, err := msg.Serialize()
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	return buildIPv4Packet(t, src, dst, 64, common.ProtocolICMP, body)
}

func TestEngineDirectForwardWithCachedARP(t *testing.T) {
	r, link := newTestRouter()
	hop := common.IPv4Address{10, 0, 0, 254}
	gatewayMAC := common.MACAddress{0x02, 0x00, 0x00, 0x00, 0x00, 0xD0}
	r.table.Insert(common.IPv4Address{203, 0, 113, 0}, common.IPv4Address{255, 255, 255, 0}, hop, 1)
	r.cache.Add(hop, gatewayMAC)

	packet := buildIPv4Packet(t, common.IPv4Address{192, 168, 1, 50}, common.IPv4Address{203, 0, 113, 5}, 10, common.ProtocolUDP, []byte("payload1"))
	frame := ethernet.NewFrame(macA, remote, common.EtherTypeIPv4, packet)

	r.handleFrame(0, frame)

	sent := link.Sent(1)
	if len(sent) != 1 {
		t.Fatalf("Sent(1) = %d frames, want 1", len(sent))
	}
	if sent[0].Destination != gatewayMAC || sent[0].Source != macB {
		t.Errorf("forwarded frame MACs = dst %v src %v, want dst %v src %v", sent[0].Destination, sent[0].Source, gatewayMAC, macB)
	}

	out := ip.NewHeader(sent[0].Payload)
	if out.TTL() != 9 {
		t.Errorf("TTL() = %d, want 9", out.TTL())
	}
	if !out.ValidChecksum() {
		t.Error("forwarded packet has an invalid checksum")
	}
	if out.Destination() != (common.IPv4Address{203, 0, 113, 5}) {
		t.Errorf("Destination() = %v, unchanged destination expected", out.Destination())
	}
}

func TestEngineARPDeferredForwardThenFlush(t *testing.T) {
	r, link := newTestRouter()
	hop := common.IPv4Address{10, 0, 0, 254}
	gatewayMAC := common.MACAddress{0x02, 0x00, 0x00, 0x00, 0x00, 0xD0}
	r.table.Insert(common.IPv4Address{203, 0, 113, 0}, common.IPv4Address{255, 255, 255, 0}, hop, 1)

	packet := buildIPv4Packet(t, common.IPv4Address{192, 168, 1, 50}, common.IPv4Address{203, 0, 113, 5}, 10, common.ProtocolUDP, []byte("payload1"))
	frame := ethernet.NewFrame(macA, remote, common.EtherTypeIPv4, packet)
	r.handleFrame(0, frame)

	arpSent := link.Sent(1)
	if len(arpSent) != 1 {
		t.Fatalf("Sent(1) after deferred forward = %d frames, want 1 ARP request", len(arpSent))
	}
	if arpSent[0].EtherType != common.EtherTypeARP || arpSent[0].Destination != common.BroadcastMAC {
		t.Errorf("expected a broadcast ARP request, got %+v", arpSent[0])
	}
	if r.pending.Len() != 1 {
		t.Fatalf("pending.Len() = %d, want 1", r.pending.Len())
	}

	reply := arp.NewReply(gatewayMAC, hop, macB, ipB)
	replyFrame := ethernet.NewFrame(macB, gatewayMAC, common.EtherTypeARP, reply.Serialize())
	r.handleFrame(1, replyFrame)

	sent := link.Sent(1)
	if len(sent) != 2 {
		t.Fatalf("Sent(1) after ARP reply = %d frames, want 2 (request + forwarded packet)", len(sent))
	}
	if sent[1].Destination != gatewayMAC {
		t.Errorf("flushed frame destination = %v, want %v", sent[1].Destination, gatewayMAC)
	}
	if r.pending.Len() != 0 {
		t.Errorf("pending.Len() = %d, want 0 after flush", r.pending.Len())
	}
	if mac, ok := r.cache.Get(hop); !ok || mac != gatewayMAC {
		t.Errorf("cache.Get(hop) = %v, %v; want %v, true", mac, ok, gatewayMAC)
	}
}

// TestEngineZeroNextHopRouteIsUsedLiteral guards against substituting a
// route's next-hop with the datagram's destination whenever the next-hop
// happens to be 0.0.0.0 — the conventional "directly connected" next-hop
// spec.md §6's own example line uses. The route's next-hop must be
// resolved via ARP and used as-is, never swapped for the destination.
func TestEngineZeroNextHopRouteIsUsedLiteral(t *testing.T) {
	r, link := newTestRouter()
	zeroHop := common.IPv4Address{}
	r.table.Insert(common.IPv4Address{203, 0, 113, 0}, common.IPv4Address{255, 255, 255, 0}, zeroHop, 1)

	dst := common.IPv4Address{203, 0, 113, 5}
	packet := buildIPv4Packet(t, common.IPv4Address{192, 168, 1, 50}, dst, 10, common.ProtocolUDP, []byte("payload1"))
	frame := ethernet.NewFrame(macA, remote, common.EtherTypeIPv4, packet)
	r.handleFrame(0, frame)

	if r.pending.Len() != 1 {
		t.Fatalf("pending.Len() = %d, want 1", r.pending.Len())
	}
	sent := link.Sent(1)
	if len(sent) != 1 {
		t.Fatalf("Sent(1) = %d frames, want 1 ARP request", len(sent))
	}
	reqHdr := arp.NewHeader(sent[0].Payload)
	if reqHdr.TargetIP() != zeroHop {
		t.Errorf("ARP request target = %v, want the route's literal next-hop %v (not substituted with destination %v)", reqHdr.TargetIP(), zeroHop, dst)
	}
}

func TestEngineTTLExpired(t *testing.T) {
	r, link := newTestRouter()
	hop := common.IPv4Address{10, 0, 0, 254}
	r.table.Insert(common.IPv4Address{203, 0, 113, 0}, common.IPv4Address{255, 255, 255, 0}, hop, 1)

	packet := buildIPv4Packet(t, common.IPv4Address{192, 168, 1, 50}, common.IPv4Address{203, 0, 113, 5}, 1, common.ProtocolUDP, []byte("payload1"))
	frame := ethernet.NewFrame(macA, remote, common.EtherTypeIPv4, packet)
	r.handleFrame(0, frame)

	sent := link.Sent(0)
	if len(sent) != 1 {
		t.Fatalf("Sent(0) = %d frames, want 1 (ICMP time exceeded back to sender)", len(sent))
	}
	if sent[0].Destination != remote || sent[0].Source != macA {
		t.Errorf("reply MACs = dst %v src %v, want dst %v src %v", sent[0].Destination, sent[0].Source, remote, macA)
	}

	replyIP := ip.NewHeader(sent[0].Payload)
	if !replyIP.ValidChecksum() {
		t.Error("ICMP reply IP header has an invalid checksum")
	}
	icmpHdr := icmp.Header(sent[0].Payload[ip.HeaderSize:])
	if icmpHdr.Type() != icmp.TypeTimeExceeded {
		t.Errorf("ICMP Type() = %v, want TimeExceeded", icmpHdr.Type())
	}
	if len(icmpHdr.Data()) != ip.HeaderSize+8 {
		t.Errorf("ICMP error payload length = %d, want %d (original header + 8 bytes)", len(icmpHdr.Data()), ip.HeaderSize+8)
	}
}

func TestEngineNoRouteSendsDestinationUnreachable(t *testing.T) {
	r, link := newTestRouter()

	packet := buildIPv4Packet(t, common.IPv4Address{192, 168, 1, 50}, common.IPv4Address{8, 8, 8, 8}, 30, common.ProtocolUDP, []byte("payload1"))
	frame := ethernet.NewFrame(macA, remote, common.EtherTypeIPv4, packet)
	r.handleFrame(0, frame)

	sent := link.Sent(0)
	if len(sent) != 1 {
		t.Fatalf("Sent(0) = %d frames, want 1", len(sent))
	}
	icmpHdr := icmp.Header(sent[0].Payload[ip.HeaderSize:])
	if icmpHdr.Type() != icmp.TypeDestinationUnreachable {
		t.Errorf("ICMP Type() = %v, want DestinationUnreachable", icmpHdr.Type())
	}
}

func TestEngineEchoToSelf(t *testing.T) {
	r, link := newTestRouter()

	senderIP := common.IPv4Address{192, 168, 1, 50}
	packet := buildEchoRequestPacket(t, senderIP, ipA)
	frame := ethernet.NewFrame(macA, remote, common.EtherTypeIPv4, packet)
	r.handleFrame(0, frame)

	sent := link.Sent(0)
	if len(sent) != 1 {
		t.Fatalf("Sent(0) = %d frames, want 1", len(sent))
	}
	if sent[0].Destination != remote || sent[0].Source != macA {
		t.Errorf("reply MACs = dst %v src %v, want dst %v src %v", sent[0].Destination, sent[0].Source, remote, macA)
	}

	replyIP := ip.NewHeader(sent[0].Payload)
	if replyIP.Source() != ipA || replyIP.Destination() != senderIP {
		t.Errorf("reply IP addrs = src %v dst %v, want src %v dst %v", replyIP.Source(), replyIP.Destination(), ipA, senderIP)
	}
	if !replyIP.ValidChecksum() {
		t.Error("echo reply IP header has an invalid checksum")
	}

	icmpHdr := icmp.Header(sent[0].Payload[ip.HeaderSize:])
	if icmpHdr.Type() != icmp.TypeEchoReply {
		t.Errorf("ICMP Type() = %v, want EchoReply", icmpHdr.Type())
	}
}

// TestEngineOtherInterfaceAddressIsNotLocalDelivery guards against
// checking the destination IPv4 against every interface instead of just
// the one the frame arrived on: a packet received on iface 0 addressed to
// iface 1's own IP is not this router's local-delivery target on iface 0,
// so with no matching route it must get an ICMP destination unreachable,
// never an echo reply carrying iface 0's (wrong) source address.
func TestEngineOtherInterfaceAddressIsNotLocalDelivery(t *testing.T) {
	r, link := newTestRouter()

	packet := buildEchoRequestPacket(t, common.IPv4Address{192, 168, 1, 50}, ipB)
	frame := ethernet.NewFrame(macA, remote, common.EtherTypeIPv4, packet)
	r.handleFrame(0, frame)

	sent := link.Sent(0)
	if len(sent) != 1 {
		t.Fatalf("Sent(0) = %d frames, want 1", len(sent))
	}

	icmpHdr := icmp.Header(sent[0].Payload[ip.HeaderSize:])
	if icmpHdr.Type() != icmp.TypeDestinationUnreachable {
		t.Errorf("ICMP Type() = %v, want DestinationUnreachable (iface 1's address is not local on iface 0)", icmpHdr.Type())
	}
}

// TestEngineLocalDeliveryAnswersNonICMPUnconditionally guards against
// gating the in-place echo-reply construction on the datagram actually
// carrying ICMP or an echo request: anything addressed to the receiving
// interface's own IPv4 gets the same treatment, matching the original
// router's unconditional generate_icmp_replay call.
func TestEngineLocalDeliveryAnswersNonICMPUnconditionally(t *testing.T) {
	r, link := newTestRouter()

	senderIP := common.IPv4Address{192, 168, 1, 50}
	packet := buildIPv4Packet(t, senderIP, ipA, 64, common.ProtocolUDP, []byte("12345678"))
	frame := ethernet.NewFrame(macA, remote, common.EtherTypeIPv4, packet)
	r.handleFrame(0, frame)

	sent := link.Sent(0)
	if len(sent) != 1 {
		t.Fatalf("Sent(0) = %d frames, want 1", len(sent))
	}

	replyIP := ip.NewHeader(sent[0].Payload)
	if replyIP.Source() != ipA || replyIP.Destination() != senderIP {
		t.Errorf("reply IP addrs = src %v dst %v, want src %v dst %v", replyIP.Source(), replyIP.Destination(), ipA, senderIP)
	}
	icmpHdr := icmp.Header(sent[0].Payload[ip.HeaderSize:])
	if icmpHdr.Type() != icmp.TypeEchoReply {
		t.Errorf("ICMP Type() = %v, want EchoReply even for a non-ICMP datagram addressed to the router", icmpHdr.Type())
	}
}

func TestEngineSelectiveARPFlushLeavesOtherHopsQueued(t *testing.T) {
	r, link := newTestRouter()
	hopA := common.IPv4Address{10, 0, 0, 254}
	hopC := common.IPv4Address{10, 0, 0, 253}
	macA254 := common.MACAddress{0x02, 0x00, 0x00, 0x00, 0x00, 0xD1}

	r.table.Insert(common.IPv4Address{203, 0, 113, 0}, common.IPv4Address{255, 255, 255, 0}, hopA, 1)
	r.table.Insert(common.IPv4Address{198, 51, 100, 0}, common.IPv4Address{255, 255, 255, 0}, hopC, 1)

	pktA := buildIPv4Packet(t, common.IPv4Address{192, 168, 1, 50}, common.IPv4Address{203, 0, 113, 9}, 10, common.ProtocolUDP, []byte("a"))
	pktC := buildIPv4Packet(t, common.IPv4Address{192, 168, 1, 50}, common.IPv4Address{198, 51, 100, 9}, 10, common.ProtocolUDP, []byte("c"))
	r.handleFrame(0, ethernet.NewFrame(macA, remote, common.EtherTypeIPv4, pktA))
	r.handleFrame(0, ethernet.NewFrame(macA, remote, common.EtherTypeIPv4, pktC))

	if r.pending.Len() != 2 {
		t.Fatalf("pending.Len() = %d, want 2", r.pending.Len())
	}

	reply := arp.NewReply(macA254, hopA, macB, ipB)
	r.handleFrame(1, ethernet.NewFrame(macB, macA254, common.EtherTypeARP, reply.Serialize()))

	if r.pending.Len() != 1 {
		t.Errorf("pending.Len() = %d after flushing hopA, want 1 (hopC still queued)", r.pending.Len())
	}
	if _, ok := r.cache.Get(hopC); ok {
		t.Error("cache.Get(hopC) resolved, but no reply for hopC was ever injected")
	}

	sent := link.Sent(1)
	if len(sent) != 3 {
		t.Fatalf("Sent(1) = %d frames, want 3 (2 ARP requests + 1 flushed packet)", len(sent))
	}
}

func TestEngineARPRequestAnsweredRegardlessOfTargetIP(t *testing.T) {
	r, link := newTestRouter()

	req := arp.NewRequest(remote, common.IPv4Address{192, 168, 1, 77}, common.IPv4Address{192, 168, 1, 250})
	r.handleFrame(0, ethernet.NewFrame(macA, remote, common.EtherTypeARP, req.Serialize()))

	sent := link.Sent(0)
	if len(sent) != 1 {
		t.Fatalf("Sent(0) = %d frames, want 1 ARP reply", len(sent))
	}
	hdr := arp.NewHeader(sent[0].Payload)
	if hdr.Operation() != arp.OperationReply {
		t.Errorf("Operation() = %v, want Reply", hdr.Operation())
	}
	if hdr.SenderIP() != ipA {
		t.Errorf("SenderIP() = %v, want %v (router answered even though the request's target IP wasn't its own)", hdr.SenderIP(), ipA)
	}
}

func TestEngineARPCacheShadowsDuplicateReplies(t *testing.T) {
	r, _ := newTestRouter()
	ip1 := common.IPv4Address{10, 0, 0, 9}
	firstMAC := common.MACAddress{0x02, 0x00, 0x00, 0x00, 0x00, 0xE0}
	secondMAC := common.MACAddress{0x02, 0x00, 0x00, 0x00, 0x00, 0xE1}

	reply1 := arp.NewReply(firstMAC, ip1, macB, ipB)
	r.handleFrame(1, ethernet.NewFrame(macB, firstMAC, common.EtherTypeARP, reply1.Serialize()))
	reply2 := arp.NewReply(secondMAC, ip1, macB, ipB)
	r.handleFrame(1, ethernet.NewFrame(macB, secondMAC, common.EtherTypeARP, reply2.Serialize()))

	if r.cache.Size() != 2 {
		t.Fatalf("cache.Size() = %d, want 2 (no deduplication)", r.cache.Size())
	}
	mac, ok := r.cache.Get(ip1)
	if !ok || mac != firstMAC {
		t.Errorf("cache.Get(ip1) = %v, %v; want %v, true (first entry wins)", mac, ok, firstMAC)
	}
}
