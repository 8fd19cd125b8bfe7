// Package ip implements the IPv4 longest-prefix-match route table and the
// byte-level view of an IPv4 header the forwarding engine rewrites in place.
package ip

import (
	"github.com/ivanv/edgerouter/pkg/common"
)

type nodeKind uint8

const (
	dummyNode nodeKind = iota
	emptyNode
	infoNode
)

// node is one trie node. A node starts EMPTY (or DUMMY at the root) and is
// promoted to INFO in place once a route terminates there; it keeps its
// children regardless, since a shorter prefix's INFO node can sit above a
// longer prefix's subtree.
type node struct {
	kind        nodeKind
	hop         common.IPv4Address
	iface       int
	left, right *node
}

// Route is the next-hop/outbound-interface pair a lookup returns.
type Route struct {
	Hop   common.IPv4Address
	Iface int
}

// Trie is a binary prefix trie over the little-endian trie word of an IPv4
// address (see common.IPv4Address.TrieWord). The root is a DUMMY sentinel;
// every inserted route creates exactly one INFO node at the depth given by
// the popcount of its mask.
type Trie struct {
	root *node
	size int
}

// NewTrie returns an empty trie.
func NewTrie() *Trie {
	return &Trie{root: &node{kind: dummyNode}}
}

// popcount counts the set bits of mask, i.e. the prefix length.
func popcount(mask uint32) int {
	n := 0
	for mask != 0 {
		n += int(mask & 1)
		mask >>= 1
	}
	return n
}

// Insert adds a route for prefix/mask. The walk consumes popcount(mask)
// bits from the low end of (prefix & mask).TrieWord(), one per step,
// creating EMPTY children as needed. If mask has no set bits, Insert is a
// no-op. Duplicate inserts at the same depth overwrite the node's route and
// still increment Size, matching the source behavior this is grounded on.
func (t *Trie) Insert(prefix, mask, hop common.IPv4Address, iface int) {
	maskWord := mask.TrieWord()
	depth := popcount(maskWord)
	if depth == 0 {
		return
	}

	word := prefix.TrieWord() & maskWord
	cur := t.root
	for i := 0; i < depth; i++ {
		bit := word & 1
		word >>= 1

		if bit == 0 {
			if cur.left == nil {
				cur.left = &node{kind: emptyNode}
			}
			cur = cur.left
		} else {
			if cur.right == nil {
				cur.right = &node{kind: emptyNode}
			}
			cur = cur.right
		}
	}

	cur.kind = infoNode
	cur.hop = hop
	cur.iface = iface
	t.size++
}

// Lookup walks addr's trie word bit by bit from the root, remembering the
// most recently visited INFO node. Because a longer prefix's INFO node is
// always deeper than a shorter prefix's, the last one remembered before the
// walk runs off the trie is the longest match.
func (t *Trie) Lookup(addr common.IPv4Address) (Route, bool) {
	var best Route
	found := false

	word := addr.TrieWord()
	cur := t.root
	for cur != nil {
		if cur.kind == infoNode {
			best = Route{Hop: cur.hop, Iface: cur.iface}
			found = true
		}

		bit := word & 1
		word >>= 1
		if bit == 0 {
			cur = cur.left
		} else {
			cur = cur.right
		}
	}

	return best, found
}

// Size returns the number of INFO nodes created by Insert calls, counting
// duplicates — it is not consulted by Lookup and exists only as a
// diagnostic counter.
func (t *Trie) Size() int {
	return t.size
}
