// Package util provides shared utility functions.
package util

import (
	"net/netip"

	"github.com/spaolacci/murmur3"
)

// EndpointTag computes a 4-byte hash of a remote endpoint, used to tag
// session log lines as [%08x]. It is for identification only.
func EndpointTag(addr netip.AddrPort) uint32 {
	b, _ := addr.MarshalBinary()
	return murmur3.Sum32(b)
}
