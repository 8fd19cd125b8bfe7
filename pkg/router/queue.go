package router

import "github.com/ivanv/edgerouter/pkg/common"

// pendingPacket is a forwarded datagram waiting on ARP resolution of its
// next hop. payload is the already-rewritten IP datagram (TTL decremented,
// checksum fixed) exactly as it will go out on the wire once wrapped in an
// Ethernet frame.
type pendingPacket struct {
	payload []byte
	iface   int
	nextHop common.IPv4Address
}

// pendingQueue holds packets parked on an outstanding ARP request. It keeps
// two backing slices, primary and aux, instead of one: a Flush walks
// primary front to back, pulls out matches, and appends the rest to aux in
// the same order they were seen, then swaps the two slices' identities.
// aux is truncated at the start of each Flush and never shares a backing
// array with primary, so appending to it cannot overwrite a packet not yet
// scanned, and nothing is copied more than the one time it's appended — the swap at the
// end is what makes aux the new primary without walking the list twice.
type pendingQueue struct {
	primary []pendingPacket
	aux     []pendingPacket
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{}
}

// Enqueue parks a packet behind an ARP resolution for p.nextHop.
func (q *pendingQueue) Enqueue(p pendingPacket) {
	q.primary = append(q.primary, p)
}

// Flush delivers, in original order, every parked packet whose next hop is
// resolved, and retains everything else for a later resolution.
func (q *pendingQueue) Flush(resolved common.IPv4Address, deliver func(pendingPacket)) {
	q.aux = q.aux[:0]
	for _, p := range q.primary {
		if p.nextHop == resolved {
			deliver(p)
			continue
		}
		q.aux = append(q.aux, p)
	}
	q.primary, q.aux = q.aux, q.primary
}

// Len reports how many packets are currently parked.
func (q *pendingQueue) Len() int {
	return len(q.primary)
}
