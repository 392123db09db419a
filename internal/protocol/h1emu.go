package protocol

import (
	"github.com/1ureka/h1net/internal/opcode"
	"github.com/1ureka/h1net/internal/schema"
)

// Session packet names shared by every server pair speaking the h1emu
// inter-server protocol.
const (
	PacketSessionRequest = "SessionRequest"
	PacketSessionReply   = "SessionReply"
	PacketPing           = "Ping"
)

// Session reply statuses. Any non-zero status is a rejection.
const (
	StatusAccepted       uint32 = 0
	StatusNotWhitelisted uint32 = 1
)

func buildH1emu() (*opcode.Table, error) {
	return opcode.Build([]opcode.Decl{
		{Name: PacketSessionRequest, Opcode: 0x01, Schema: schema.Schema{
			{Name: "serverId", Kind: schema.Uint32},
		}},
		{Name: PacketSessionReply, Opcode: 0x02, Schema: schema.Schema{
			{Name: "status", Kind: schema.Uint32},
		}},
		{Name: PacketPing, Opcode: 0x03},
		{Name: "Ack", Opcode: 0x04},
		{Name: "CharacterDeleteRequest", Opcode: 0x07, Schema: schema.Schema{
			{Name: "characterId", Kind: schema.Uint64String, Default: "0"},
			{Name: "reqId", Kind: schema.Uint32},
		}},
		{Name: "CharacterDeleteReply", Opcode: 0x08, Schema: schema.Schema{
			{Name: "status", Kind: schema.Boolean},
			{Name: "reqId", Kind: schema.Uint32},
		}},
		{Name: "UpdateZonePopulation", Opcode: 0x09, Schema: schema.Schema{
			{Name: "population", Kind: schema.Uint8},
		}},
		{Name: "ZonePingRequest", Opcode: 0x0a, Schema: schema.Schema{
			{Name: "reqId", Kind: schema.Uint32},
			{Name: "address", Kind: schema.String},
		}},
		{Name: "ZonePingReply", Opcode: 0x0b, Schema: schema.Schema{
			{Name: "reqId", Kind: schema.Uint32},
			{Name: "status", Kind: schema.Boolean},
		}},
		{Name: "CharacterExistRequest", Opcode: 0x0c, Schema: schema.Schema{
			{Name: "characterId", Kind: schema.Uint64String, Default: "0"},
			{Name: "reqId", Kind: schema.Uint32},
		}},
		{Name: "CharacterExistReply", Opcode: 0x0d, Schema: schema.Schema{
			{Name: "status", Kind: schema.Boolean},
			{Name: "reqId", Kind: schema.Uint32},
		}},
	})
}

func buildLoginTunnel() (*opcode.Table, error) {
	return opcode.Build([]opcode.Decl{
		{Name: "nameValidationRequest", Opcode: 0x01, Schema: schema.Schema{
			{Name: "characterName", Kind: schema.String},
		}},
		{Name: "nameValidationReply", Opcode: 0x02, Schema: schema.Schema{
			{Name: "firstName", Kind: schema.String},
			{Name: "lastName", Kind: schema.String, Default: " "},
			{Name: "status", Kind: schema.Uint32},
		}},
	})
}
