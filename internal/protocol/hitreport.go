package protocol

import (
	"github.com/1ureka/h1net/internal/schema"
)

var hitReportHead = schema.Schema{
	{Name: "unknownDword1", Kind: schema.Uint32},
	{Name: "characterId", Kind: schema.Uint64String, Default: "0"},
	{Name: "position", Kind: schema.FloatVector3},
	{Name: "hitLocationLen", Kind: schema.Uint8},
	{Name: "unknownFlag1", Kind: schema.Uint8},
	{Name: "hitLocation", Kind: schema.NullString},
}

// hitReportFixed is the size of the head up to the location string.
const hitReportFixed = 26

// hitReportCodec decodes a projectile hit report. The trailing blob starts
// hitLocationLen bytes after the fixed head, on the location's terminator,
// and is one byte longer when a location is present. There is no encoder.
var hitReportCodec = &schema.Codec{Decode: decodeHitReport}

func decodeHitReport(buf []byte, opts schema.Options) (any, int, error) {
	report, _, err := schema.Decode(buf, hitReportHead, opts)
	if err != nil {
		return nil, 0, err
	}

	locLen, _ := report["hitLocationLen"].(uint8)
	blobLen := 8
	if locLen > 0 {
		blobLen = 9
	}

	r := schema.NewReader(buf)
	if err := r.Skip(hitReportFixed + int(locLen)); err != nil {
		return nil, 0, err
	}
	blob, err := r.ReadBytes(blobLen)
	if err != nil {
		return nil, 0, err
	}
	shots, err := r.ReadUint8()
	if err != nil {
		return nil, 0, err
	}
	unknownByte2, err := r.ReadUint8()
	if err != nil {
		return nil, 0, err
	}

	report["unknownBytes"] = append([]byte(nil), blob...)
	report["totalShotCount"] = shots
	report["unknownByte2"] = unknownByte2
	return report, r.Pos(), nil
}
