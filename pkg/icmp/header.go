package icmp

import (
	"encoding/binary"

	"github.com/ivanv/edgerouter/pkg/common"
)

// Header is a view over an ICMP message living inside a larger frame
// buffer. Unlike Message, it never copies: every accessor reads or writes
// directly through the backing slice, which is how the forwarding engine
// turns an echo request into an echo reply in place inside the received
// frame, and lays out error messages inside a freshly allocated reply
// buffer.
type Header []byte

// NewHeader carves out an ICMP header view at the front of buf. buf must be
// at least MinHeaderLength+len(data) bytes.
func NewHeader(buf []byte, data []byte) Header {
	h := Header(buf[:MinHeaderLength+len(data)])
	copy(h[MinHeaderLength:], data)
	return h
}

// Type returns the ICMP type field.
func (h Header) Type() Type { return Type(h[0]) }

// SetType sets the ICMP type field.
func (h Header) SetType(t Type) { h[0] = uint8(t) }

// Code returns the ICMP code field.
func (h Header) Code() Code { return Code(h[1]) }

// SetCode sets the ICMP code field.
func (h Header) SetCode(c Code) { h[1] = byte(c) }

// Checksum returns the ICMP checksum field.
func (h Header) Checksum() uint16 { return binary.BigEndian.Uint16(h[2:4]) }

// SetChecksum writes the ICMP checksum field.
func (h Header) SetChecksum(c uint16) { binary.BigEndian.PutUint16(h[2:4], c) }

// RestOfHeader returns the 4 bytes whose meaning depends on Type: the
// identifier/sequence pair for echo messages, unused (must be zero) for
// Destination Unreachable and Time Exceeded.
func (h Header) RestOfHeader() []byte { return h[4:8] }

// Data returns the bytes following the 8-byte ICMP header.
func (h Header) Data() []byte { return h[MinHeaderLength:] }

// RecomputeChecksum zeroes the checksum field and recomputes it over the
// whole header, per RFC 1071.
func (h Header) RecomputeChecksum() {
	h.SetChecksum(0)
	h.SetChecksum(common.CalculateChecksum(h))
}
