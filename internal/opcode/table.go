// Package opcode builds the byte-trie that maps multi-byte packet opcodes to
// their descriptors. Opcodes are written most significant byte first, and a
// leading byte may select a nested table for a packet family.
package opcode

import (
	"errors"
	"fmt"

	"github.com/1ureka/h1net/internal/schema"
)

var (
	ErrCollision     = errors.New("opcode: collision")
	ErrDuplicateName = errors.New("opcode: duplicate packet name")
	ErrEmptyName     = errors.New("opcode: empty packet name")
)

// CollisionError reports two declarations whose byte sequences cannot
// coexist: either they are identical, or one is a prefix of the other.
type CollisionError struct {
	Name  string
	Bytes []byte
	Other string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("opcode: %s (% x) collides with %s", e.Name, e.Bytes, e.Other)
}

func (e *CollisionError) Unwrap() error {
	return ErrCollision
}

// Decl declares one packet.
type Decl struct {
	Name   string
	Opcode uint32
	Schema schema.Schema
}

// Descriptor is an immutable table entry.
type Descriptor struct {
	Name   string
	Opcode uint32
	Width  int
	Schema schema.Schema
}

// Bytes returns the wire form of the descriptor's opcode.
func (d *Descriptor) Bytes() []byte {
	return Bytes(d.Opcode)
}

type entry struct {
	desc *Descriptor
	next *node
}

type node struct {
	children [256]*entry
}

// Table is safe for concurrent readers once built.
type Table struct {
	root   node
	byName map[string]*Descriptor
	order  []*Descriptor
}

// Build constructs a table from declarations. It fails if two declarations
// share a name, produce the same bytes, or if one declaration's bytes are a
// prefix of another's.
func Build(decls []Decl) (*Table, error) {
	t := &Table{byName: make(map[string]*Descriptor, len(decls))}
	for _, d := range decls {
		if d.Name == "" {
			return nil, fmt.Errorf("%w (opcode %#x)", ErrEmptyName, d.Opcode)
		}
		if _, dup := t.byName[d.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, d.Name)
		}
		desc := &Descriptor{
			Name:   d.Name,
			Opcode: d.Opcode,
			Width:  Width(d.Opcode),
			Schema: d.Schema,
		}
		if err := t.insert(desc); err != nil {
			return nil, err
		}
		t.byName[desc.Name] = desc
		t.order = append(t.order, desc)
	}
	return t, nil
}

func (t *Table) insert(desc *Descriptor) error {
	b := desc.Bytes()
	n := &t.root
	for _, c := range b[:len(b)-1] {
		e := n.children[c]
		switch {
		case e == nil:
			e = &entry{next: &node{}}
			n.children[c] = e
		case e.desc != nil:
			return &CollisionError{Name: desc.Name, Bytes: b, Other: e.desc.Name}
		}
		n = e.next
	}

	last := b[len(b)-1]
	if e := n.children[last]; e != nil {
		other := e.desc
		if other == nil {
			other = e.next.first()
		}
		return &CollisionError{Name: desc.Name, Bytes: b, Other: other.Name}
	}
	n.children[last] = &entry{desc: desc}
	return nil
}

// first returns some descriptor reachable from n. Every nested node holds at
// least one terminal, since nodes are only created on the way to one.
func (n *node) first() *Descriptor {
	for _, e := range n.children {
		if e == nil {
			continue
		}
		if e.desc != nil {
			return e.desc
		}
		return e.next.first()
	}
	return nil
}

// Resolve walks buf one byte at a time and returns the first terminal it
// reaches together with the number of opcode bytes consumed. There is no
// longest-prefix search: nesting as declared decides the match.
func (t *Table) Resolve(buf []byte) (*Descriptor, int, bool) {
	n := &t.root
	for i, c := range buf {
		e := n.children[c]
		if e == nil {
			return nil, 0, false
		}
		if e.desc != nil {
			return e.desc, i + 1, true
		}
		n = e.next
	}
	return nil, 0, false
}

// Lookup finds a descriptor by packet name.
func (t *Table) Lookup(name string) (*Descriptor, bool) {
	d, ok := t.byName[name]
	return d, ok
}

// Descriptors returns all descriptors in declaration order.
func (t *Table) Descriptors() []*Descriptor {
	return append([]*Descriptor(nil), t.order...)
}

// Len returns the number of declared packets.
func (t *Table) Len() int {
	return len(t.order)
}

// Width returns how many bytes an opcode occupies on the wire, derived from
// its magnitude.
func Width(op uint32) int {
	switch {
	case op <= 0xff:
		return 1
	case op <= 0xffff:
		return 2
	case op <= 0xffffff:
		return 3
	}
	return 4
}

// Bytes returns the big-endian wire form of op.
func Bytes(op uint32) []byte {
	w := Width(op)
	out := make([]byte, w)
	for i := w - 1; i >= 0; i-- {
		out[i] = byte(op)
		op >>= 8
	}
	return out
}
