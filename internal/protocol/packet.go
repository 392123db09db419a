// Package protocol holds the packet tables of each wire protocol and the
// registry that encodes and decodes packets against them.
package protocol

import "github.com/1ureka/h1net/internal/schema"

// TableID names a packet table in a Registry.
type TableID string

const (
	TableH1emu       TableID = "h1emu"
	TableLoginTunnel TableID = "loginTunnel"
	TableWeapon      TableID = "weapon"
)

// Packet is a decoded packet. Known packets carry their Name and Fields;
// packets whose opcode did not resolve carry the whole datagram in Raw so
// the caller can log it.
type Packet struct {
	Type   uint32 // opcode, or the leading byte when unresolved
	Name   string
	Fields schema.Fields
	Raw    []byte
}

// Known reports whether the packet matched a descriptor.
func (p Packet) Known() bool {
	return p.Name != ""
}
