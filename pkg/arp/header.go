package arp

import (
	"encoding/binary"

	"github.com/ivanv/edgerouter/pkg/common"
)

// Header is a view over an ARP packet living inside a larger frame buffer.
// The router turns a request into a reply by editing four address fields
// in place rather than building a new Packet, mirroring the way the
// original implementation swapped sender/target fields directly inside the
// received frame's memory.
type Header []byte

// NewHeader wraps buf[:PacketSize] as an ARP header view. buf must be at
// least PacketSize bytes.
func NewHeader(buf []byte) Header { return Header(buf[:PacketSize]) }

// Operation returns the ARP operation field.
func (h Header) Operation() Operation { return Operation(binary.BigEndian.Uint16(h[6:8])) }

// SetOperation sets the ARP operation field.
func (h Header) SetOperation(op Operation) { binary.BigEndian.PutUint16(h[6:8], uint16(op)) }

// SenderMAC returns the sender hardware address.
func (h Header) SenderMAC() common.MACAddress {
	var mac common.MACAddress
	copy(mac[:], h[8:14])
	return mac
}

// SetSenderMAC sets the sender hardware address.
func (h Header) SetSenderMAC(mac common.MACAddress) { copy(h[8:14], mac[:]) }

// SenderIP returns the sender protocol address.
func (h Header) SenderIP() common.IPv4Address {
	var ip common.IPv4Address
	copy(ip[:], h[14:18])
	return ip
}

// SetSenderIP sets the sender protocol address.
func (h Header) SetSenderIP(ip common.IPv4Address) { copy(h[14:18], ip[:]) }

// TargetMAC returns the target hardware address.
func (h Header) TargetMAC() common.MACAddress {
	var mac common.MACAddress
	copy(mac[:], h[18:24])
	return mac
}

// SetTargetMAC sets the target hardware address.
func (h Header) SetTargetMAC(mac common.MACAddress) { copy(h[18:24], mac[:]) }

// TargetIP returns the target protocol address.
func (h Header) TargetIP() common.IPv4Address {
	var ip common.IPv4Address
	copy(ip[:], h[24:28])
	return ip
}

// SetTargetIP sets the target protocol address.
func (h Header) SetTargetIP(ip common.IPv4Address) { copy(h[24:28], ip[:]) }

// TurnIntoReply rewrites a just-received request in place into the reply
// this host sends back: the sender becomes the target, and the new sender
// is this host at ourMAC/ourIP. It does not check that the request's
// target IP was actually ours — the router answers any request that
// reaches it, exactly as the original implementation did.
func (h Header) TurnIntoReply(ourMAC common.MACAddress, ourIP common.IPv4Address) {
	requesterMAC := h.SenderMAC()
	requesterIP := h.SenderIP()

	h.SetOperation(OperationReply)
	h.SetTargetMAC(requesterMAC)
	h.SetTargetIP(requesterIP)
	h.SetSenderMAC(ourMAC)
	h.SetSenderIP(ourIP)
}
