// Package icmp implements the Internet Control Message Protocol (ICMP) as defined in RFC 792.
package icmp

import (
	"encoding/binary"
	"fmt"

	"github.com/ivanv/edgerouter/pkg/common"
)

// Type represents an ICMP message type.
type Type uint8

// ICMP types the router generates or recognizes.
const (
	TypeEchoReply              Type = 0
	TypeDestinationUnreachable Type = 3
	TypeEchoRequest            Type = 8
	TypeTimeExceeded           Type = 11
)

// Code represents an ICMP message code. The router never distinguishes
// sub-reasons, so every error message it generates carries code 0.
type Code uint8

const (
	// CodeNetUnreachable is used for both Destination Unreachable and Time
	// Exceeded messages the router emits.
	CodeNetUnreachable Code = 0
)

const (
	// MinHeaderLength is the minimum ICMP header length (8 bytes).
	MinHeaderLength = 8
)

// Message represents an ICMP message.
type Message struct {
	Type     Type   // ICMP type
	Code     Code   // ICMP code
	Checksum uint16 // Checksum
	ID       uint16 // Identifier (for echo request/reply)
	Sequence uint16 // Sequence number (for echo request/reply)
	Data     []byte // Message data
}

// Parse parses an ICMP message from raw bytes.
func Parse(data []byte) (*Message, error) {
	if len(data) < MinHeaderLength {
		return nil, fmt.Errorf("ICMP message too short: %d bytes (minimum %d)", len(data), MinHeaderLength)
	}

	msg := &Message{
		Type:     Type(data[0]),
		Code:     Code(data[1]),
		Checksum: binary.BigEndian.Uint16(data[2:4]),
		ID:       binary.BigEndian.Uint16(data[4:6]),
		Sequence: binary.BigEndian.Uint16(data[6:8]),
	}

	if len(data) > MinHeaderLength {
		msg.Data = make([]byte, len(data)-MinHeaderLength)
		copy(msg.Data, data[MinHeaderLength:])
	}

	return msg, nil
}

// Serialize converts the ICMP message to bytes.
func (m *Message) Serialize() ([]byte, error) {
	length := MinHeaderLength + len(m.Data)
	buf := make([]byte, length)

	buf[0] = uint8(m.Type)
	buf[1] = uint8(m.Code)
	buf[2] = 0
	buf[3] = 0
	binary.BigEndian.PutUint16(buf[4:6], m.ID)
	binary.BigEndian.PutUint16(buf[6:8], m.Sequence)

	if len(m.Data) > 0 {
		copy(buf[MinHeaderLength:], m.Data)
	}

	m.Checksum = common.CalculateChecksum(buf)
	binary.BigEndian.PutUint16(buf[2:4], m.Checksum)

	return buf, nil
}

// VerifyChecksum verifies the ICMP checksum.
func (m *Message) VerifyChecksum() bool {
	buf := make([]byte, MinHeaderLength+len(m.Data))
	buf[0] = uint8(m.Type)
	buf[1] = uint8(m.Code)
	binary.BigEndian.PutUint16(buf[2:4], m.Checksum)
	binary.BigEndian.PutUint16(buf[4:6], m.ID)
	binary.BigEndian.PutUint16(buf[6:8], m.Sequence)
	if len(m.Data) > 0 {
		copy(buf[MinHeaderLength:], m.Data)
	}

	return common.CalculateChecksum(buf) == 0
}

// String returns a human-readable representation of the ICMP message.
func (m *Message) String() string {
	return fmt.Sprintf("ICMP{Type=%s(%d), Code=%d, ID=%d, Seq=%d, DataLen=%d}",
		m.Type, uint8(m.Type), m.Code, m.ID, m.Sequence, len(m.Data))
}

// String returns a human-readable name for the ICMP type.
func (t Type) String() string {
	switch t {
	case TypeEchoReply:
		return "EchoReply"
	case TypeDestinationUnreachable:
		return "DestinationUnreachable"
	case TypeEchoRequest:
		return "EchoRequest"
	case TypeTimeExceeded:
		return "TimeExceeded"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// NewEchoRequest creates a new ICMP Echo Request message.
func NewEchoRequest(id, sequence uint16, data []byte) *Message {
	return &Message{
		Type:     TypeEchoRequest,
		Code:     0,
		ID:       id,
		Sequence: sequence,
		Data:     data,
	}
}

// NewEchoReply creates a new ICMP Echo Reply message.
func NewEchoReply(id, sequence uint16, data []byte) *Message {
	return &Message{
		Type:     TypeEchoReply,
		Code:     0,
		ID:       id,
		Sequence: sequence,
		Data:     data,
	}
}

// NewDestinationUnreachable creates a new ICMP Destination Unreachable message.
func NewDestinationUnreachable(data []byte) *Message {
	return &Message{
		Type: TypeDestinationUnreachable,
		Code: CodeNetUnreachable,
		Data: data,
	}
}

// NewTimeExceeded creates a new ICMP Time Exceeded message.
func NewTimeExceeded(data []byte) *Message {
	return &Message{
		Type: TypeTimeExceeded,
		Code: CodeNetUnreachable,
		Data: data,
	}
}

// IsEchoRequest returns true if this is an Echo Request message.
func (m *Message) IsEchoRequest() bool {
	return m.Type == TypeEchoRequest
}

// IsEchoReply returns true if this is an Echo Reply message.
func (m *Message) IsEchoReply() bool {
	return m.Type == TypeEchoReply
}

// IsError returns true if this is an error message.
func (m *Message) IsError() bool {
	return m.Type == TypeDestinationUnreachable || m.Type == TypeTimeExceeded
}
