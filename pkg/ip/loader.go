package ip

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ivanv/edgerouter/pkg/common"
)

// routeFieldCount is the number of integer tokens one route-table line
// carries: 4 prefix octets, 4 next-hop octets, 4 mask octets, 1 interface
// index.
const routeFieldCount = 13

// LoadRouteTable opens path and parses it as a static routing table,
// returning a trie with every route it could read inserted.
func LoadRouteTable(path string) (*Trie, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseRouteTable(f)
}

// ParseRouteTable reads one route per line from r. Each line is tokenized on
// runs of spaces and dots, so both "192.168.1.0 10.0.0.1 255.255.255.0 0"
// and "192 168 1 0 10 0 0 1 255 255 255 0 0" are accepted. Lines that parse
// to fewer than 13 tokens, or contain a non-numeric token, are not
// rejected outright: whatever fields were read are used and the remainder
// default to zero, so a truncated line still produces a (possibly useless)
// route rather than aborting the whole table load.
func ParseRouteTable(r io.Reader) (*Trie, error) {
	trie := NewTrie()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		tokens := strings.FieldsFunc(line, func(r rune) bool {
			return r == ' ' || r == '.'
		})
		insertRouteLine(trie, tokens)
	}
	return trie, scanner.Err()
}

func insertRouteLine(trie *Trie, tokens []string) {
	var fields [routeFieldCount]int
	for i := 0; i < len(tokens) && i < routeFieldCount; i++ {
		v, err := strconv.Atoi(tokens[i])
		if err != nil {
			continue
		}
		fields[i] = v
	}

	var prefix, nextHop, mask common.IPv4Address
	for i := 0; i < 4; i++ {
		prefix[i] = byte(fields[i])
		nextHop[i] = byte(fields[4+i])
		mask[i] = byte(fields[8+i])
	}
	iface := fields[12]

	trie.Insert(prefix, mask, nextHop, iface)
}
