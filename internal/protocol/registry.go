package protocol

import (
	"errors"
	"fmt"

	"github.com/1ureka/h1net/internal/opcode"
	"github.com/1ureka/h1net/internal/schema"
)

var (
	ErrUnknownTable  = errors.New("protocol: unknown table")
	ErrUnknownPacket = errors.New("protocol: unknown packet name")
	ErrMalformed     = errors.New("protocol: malformed packet")
	ErrEmpty         = errors.New("protocol: empty datagram")

	// ErrNotSupported is returned when a packet contains a field that can
	// only be decoded.
	ErrNotSupported = schema.ErrNotSupported
)

// Registry maps table IDs to immutable opcode tables. It holds no mutable
// state after construction and is safe to share.
type Registry struct {
	tables map[TableID]*opcode.Table
	limits schema.Limits
}

// NewRegistry creates a registry over the given tables. Limits bound every
// count and length read from the network.
func NewRegistry(limits schema.Limits, tables map[TableID]*opcode.Table) *Registry {
	r := &Registry{
		tables: make(map[TableID]*opcode.Table, len(tables)),
		limits: limits,
	}
	for id, t := range tables {
		r.tables[id] = t
	}
	return r
}

// Default builds the shipped tables.
func Default(limits schema.Limits) (*Registry, error) {
	builders := []struct {
		id    TableID
		build func() (*opcode.Table, error)
	}{
		{TableH1emu, buildH1emu},
		{TableLoginTunnel, buildLoginTunnel},
		{TableWeapon, buildWeapon},
	}

	tables := make(map[TableID]*opcode.Table, len(builders))
	for _, b := range builders {
		t, err := b.build()
		if err != nil {
			return nil, fmt.Errorf("build %s table: %w", b.id, err)
		}
		tables[b.id] = t
	}
	return NewRegistry(limits, tables), nil
}

// Table returns the opcode table registered under id.
func (r *Registry) Table(id TableID) (*opcode.Table, bool) {
	t, ok := r.tables[id]
	return t, ok
}

// Decode decodes one datagram. An opcode that does not resolve is not an
// error: the packet comes back with Known() false and the bytes in Raw.
// A known opcode whose body does not decode fails with ErrMalformed.
func (r *Registry) Decode(id TableID, buf []byte) (Packet, error) {
	t, ok := r.tables[id]
	if !ok {
		return Packet{}, fmt.Errorf("%w: %s", ErrUnknownTable, id)
	}
	pkt, _, err := Decode(t, buf, schema.Options{Limits: r.limits})
	return pkt, err
}

// Encode serializes a named packet. Unknown names fail with
// ErrUnknownPacket and no bytes are produced.
func (r *Registry) Encode(id TableID, name string, fields schema.Fields) ([]byte, error) {
	t, ok := r.tables[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, id)
	}
	return Encode(t, name, fields)
}

// Decode decodes one packet from the start of buf against t and returns the
// number of bytes consumed. Bytes after the packet body are ignored.
func Decode(t *opcode.Table, buf []byte, opts schema.Options) (Packet, int, error) {
	if len(buf) == 0 {
		return Packet{}, 0, ErrEmpty
	}

	desc, n, ok := t.Resolve(buf)
	if !ok {
		return Packet{Type: uint32(buf[0]), Raw: append([]byte(nil), buf...)}, len(buf), nil
	}

	fields, m, err := schema.Decode(buf[n:], desc.Schema, opts)
	if err != nil {
		return Packet{Type: desc.Opcode, Name: desc.Name}, 0, fmt.Errorf("%w: %s: %w", ErrMalformed, desc.Name, err)
	}
	return Packet{Type: desc.Opcode, Name: desc.Name, Fields: fields}, n + m, nil
}

// Encode serializes the named packet of t: opcode bytes followed by the body.
func Encode(t *opcode.Table, name string, fields schema.Fields) ([]byte, error) {
	desc, ok := t.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPacket, name)
	}
	body, err := schema.Encode(fields, desc.Schema)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", name, err)
	}
	return append(desc.Bytes(), body...), nil
}
