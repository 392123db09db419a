package protocol

import (
	"fmt"
	"io"

	"github.com/1ureka/h1net/internal/opcode"
	"github.com/1ureka/h1net/internal/schema"
)

// BundleElement is one sub-packet carried inside a bundle packet.
type BundleElement struct {
	Header   uint16 // leading two bytes of the element, kept verbatim
	GameTime uint32
	Packet   Packet
}

// elementHead is the header plus game time that precede each sub-packet.
const elementHead = 2 + 4

// bundle frames a count-prefixed list of size-prefixed sub-packets. Each
// element holds a two-byte header and a game time followed by a packet of
// the same family with the family byte stripped; decoding puts the byte
// back and resolves the element against the family's own table.
type bundle struct {
	family byte
	table  func() *opcode.Table
}

func newBundleCodec(family byte, table func() *opcode.Table) *schema.Codec {
	b := &bundle{family: family, table: table}
	return &schema.Codec{Decode: b.decode, Encode: b.encode}
}

func (b *bundle) decode(buf []byte, opts schema.Options) (any, int, error) {
	limits := opts.Limits
	r := schema.NewReader(buf)

	count, err := r.ReadUint32()
	if err != nil {
		return nil, 0, err
	}
	if limits.MaxArrayCount > 0 && int64(count) > int64(limits.MaxArrayCount) {
		return nil, 0, fmt.Errorf("%w: %d sub-packets", schema.ErrCountTooLarge, count)
	}
	// Every element carries at least its 4-byte size.
	if int64(count)*4 > int64(r.Remaining()) {
		return nil, 0, io.ErrUnexpectedEOF
	}

	out := make([]BundleElement, 0, count)
	for i := 0; i < int(count); i++ {
		size, err := r.ReadUint32()
		if err != nil {
			return nil, 0, err
		}
		if int64(size) > int64(r.Remaining()) {
			return nil, 0, fmt.Errorf("sub-packet %d: size %d exceeds %d remaining: %w", i, size, r.Remaining(), io.ErrUnexpectedEOF)
		}
		slice, _ := r.ReadBytes(int(size))

		elem, err := b.decodeElement(slice, opts)
		if err != nil {
			return nil, 0, fmt.Errorf("sub-packet %d: %w", i, err)
		}
		out = append(out, elem)
	}
	return out, r.Pos(), nil
}

func (b *bundle) decodeElement(slice []byte, opts schema.Options) (BundleElement, error) {
	r := schema.NewReader(slice)
	header, err := r.ReadUint16()
	if err != nil {
		return BundleElement{}, err
	}
	gameTime, err := r.ReadUint32()
	if err != nil {
		return BundleElement{}, err
	}

	framed := make([]byte, 0, 1+r.Remaining())
	framed = append(framed, b.family)
	framed = append(framed, r.Rest()...)

	pkt, n, err := Decode(b.table(), framed, schema.Options{Limits: opts.Limits, Depth: opts.Depth + 1})
	if err != nil {
		return BundleElement{}, err
	}
	if n != len(framed) {
		return BundleElement{}, fmt.Errorf("%w: %s used %d of %d bytes", ErrMalformed, pkt.Name, n, len(framed))
	}
	return BundleElement{Header: header, GameTime: gameTime, Packet: pkt}, nil
}

func (b *bundle) encode(v any) ([]byte, error) {
	var elems []BundleElement
	switch x := v.(type) {
	case nil:
	case []BundleElement:
		elems = x
	default:
		return nil, fmt.Errorf("%w: %T is not a bundle", schema.ErrInvalidValue, v)
	}

	w := schema.NewWriter()
	w.WriteUint32(uint32(len(elems)))
	for i, e := range elems {
		raw := e.Packet.Raw
		if e.Packet.Known() {
			var err error
			raw, err = Encode(b.table(), e.Packet.Name, e.Packet.Fields)
			if err != nil {
				return nil, fmt.Errorf("sub-packet %d: %w", i, err)
			}
		}
		if len(raw) == 0 || raw[0] != b.family {
			return nil, fmt.Errorf("%w: sub-packet %d is outside family %#02x", schema.ErrInvalidValue, i, b.family)
		}
		w.WriteUint32(uint32(elementHead + len(raw) - 1))
		w.WriteUint16(e.Header)
		w.WriteUint32(e.GameTime)
		w.WriteBytes(raw[1:])
	}
	return w.Bytes(), nil
}
