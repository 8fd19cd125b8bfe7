package ip

import (
	"encoding/binary"

	"github.com/ivanv/edgerouter/pkg/common"
)

// HeaderSize is the fixed IPv4 header length this router works with.
// Options and fragmentation are out of scope, so every header is exactly
// 20 bytes (IHL 5).
const HeaderSize = 20

// Header is a view over an IPv4 header living inside a larger frame buffer.
// The forwarding engine edits TTL, checksum and (for ICMP replies) the
// address fields directly in the received frame's backing array rather
// than parsing into and serializing out of a separate struct.
type Header []byte

// NewHeader wraps buf[:HeaderSize] as an IPv4 header view.
func NewHeader(buf []byte) Header { return Header(buf[:HeaderSize]) }

func (h Header) VersionIHL() byte     { return h[0] }
func (h Header) SetVersionIHL(v byte) { h[0] = v }
func (h Header) IHL() int             { return int(h[0]&0x0F) * 4 }

func (h Header) TOS() byte     { return h[1] }
func (h Header) SetTOS(v byte) { h[1] = v }

func (h Header) TotalLength() uint16     { return binary.BigEndian.Uint16(h[2:4]) }
func (h Header) SetTotalLength(v uint16) { binary.BigEndian.PutUint16(h[2:4], v) }

func (h Header) Identification() uint16     { return binary.BigEndian.Uint16(h[4:6]) }
func (h Header) SetIdentification(v uint16) { binary.BigEndian.PutUint16(h[4:6], v) }

func (h Header) FlagsFragmentOffset() uint16     { return binary.BigEndian.Uint16(h[6:8]) }
func (h Header) SetFlagsFragmentOffset(v uint16) { binary.BigEndian.PutUint16(h[6:8], v) }

func (h Header) TTL() uint8     { return h[8] }
func (h Header) SetTTL(v uint8) { h[8] = v }

func (h Header) Protocol() common.Protocol     { return common.Protocol(h[9]) }
func (h Header) SetProtocol(p common.Protocol) { h[9] = uint8(p) }

func (h Header) Checksum() uint16     { return binary.BigEndian.Uint16(h[10:12]) }
func (h Header) SetChecksum(v uint16) { binary.BigEndian.PutUint16(h[10:12], v) }

func (h Header) Source() common.IPv4Address {
	var ip common.IPv4Address
	copy(ip[:], h[12:16])
	return ip
}
func (h Header) SetSource(ip common.IPv4Address) { copy(h[12:16], ip[:]) }

func (h Header) Destination() common.IPv4Address {
	var ip common.IPv4Address
	copy(ip[:], h[16:20])
	return ip
}
func (h Header) SetDestination(ip common.IPv4Address) { copy(h[16:20], ip[:]) }

// SetDefaults fills in the fields of a freshly built IPv4 header that don't
// depend on the specific datagram being constructed: version 4, IHL 5 (no
// options), TOS 0, identification 1, no fragmentation, TTL 64, protocol
// ICMP. The caller still has to set TotalLength, Source, Destination and
// recompute the checksum once the payload is in place.
func (h Header) SetDefaults() {
	h.SetVersionIHL(0x45)
	h.SetTOS(0)
	h.SetIdentification(1)
	h.SetFlagsFragmentOffset(0)
	h.SetTTL(64)
	h.SetProtocol(common.ProtocolICMP)
}

// ValidChecksum reports whether the header's stored checksum is correct.
// Per RFC 1071, summing a buffer that already contains its own correct
// checksum yields zero (or, with the all-ones representation of zero,
// 0xFFFF).
func (h Header) ValidChecksum() bool {
	sum := common.CalculateChecksum(h[:HeaderSize])
	return sum == 0 || sum == 0xFFFF
}

// RecomputeChecksum zeroes the checksum field and recalculates it over the
// whole header. Used whenever more than the TTL changes.
func (h Header) RecomputeChecksum() {
	h.SetChecksum(0)
	h.SetChecksum(common.CalculateChecksum(h[:HeaderSize]))
}

// DecrementTTL subtracts one from TTL and updates the header checksum
// incrementally instead of re-summing the whole header. TTL sits in the
// high byte of the 16-bit word it shares with Protocol, so decrementing it
// by one lowers that word by exactly 0x0100; per the RFC 1624 incremental
// update identity, lowering a summed field by d raises the stored
// checksum by the same d, folding any carry out of the top back into the
// bottom 16 bits (one's-complement addition).
func (h Header) DecrementTTL() {
	check := uint32(h.Checksum()) + 0x0100
	if check >= 0xFFFF {
		check++
	}

	h.SetTTL(h.TTL() - 1)
	h.SetChecksum(uint16(check))
}
