package protocol

import (
	"github.com/1ureka/h1net/internal/opcode"
	"github.com/1ureka/h1net/internal/schema"
)

// WeaponFamily is the leading opcode byte of every weapon packet.
const WeaponFamily = 0x83

const PacketMultiWeapon = "Weapon.MultiWeapon"

var vec3Zero = [3]float32{}

var weaponStatUpdate = schema.Schema{
	{Name: "statOwnerId", Kind: schema.Uint32},
	{Name: "statData", Kind: schema.Nested, Fields: schema.Schema{
		{Name: "statId", Kind: schema.Uint32},
		{Name: "baseValue", Kind: schema.Uint32},
		{Name: "modifierValue", Kind: schema.Uint32},
	}},
}

// The RemoteWeapon.Update.* actions are not declared: their four-byte
// opcodes extend 0x831504, which is itself a terminal.
func weaponDecls(multi *schema.Codec) []opcode.Decl {
	return []opcode.Decl{
		{Name: "Weapon.FireStateUpdate", Opcode: 0x8301, Schema: schema.Schema{
			{Name: "guid", Kind: schema.Uint64String, Default: "0"},
			{Name: "unknownByte1", Kind: schema.Uint8},
			{Name: "unknownByte2", Kind: schema.Uint8},
		}},
		{Name: "Weapon.FireStateTargetedUpdate", Opcode: 0x8302},
		{Name: "Weapon.Fire", Opcode: 0x8303, Schema: schema.Schema{
			{Name: "guid", Kind: schema.Uint64String, Default: "0"},
			{Name: "position", Kind: schema.FloatVector3, Default: vec3Zero},
			{Name: "unknownDword1", Kind: schema.Uint32},
			{Name: "unknownDword2", Kind: schema.Uint32},
			{Name: "unknownDword3", Kind: schema.Uint32},
		}},
		{Name: "Weapon.FireWithDefinitionMapping", Opcode: 0x8304},
		{Name: "Weapon.FireNoProjectile", Opcode: 0x8305},
		{Name: "Weapon.ProjectileHitReport", Opcode: 0x8306, Schema: schema.Schema{
			{Name: "hitReport", Kind: schema.Custom, Codec: hitReportCodec},
		}},
		{Name: "Weapon.ReloadRequest", Opcode: 0x8307, Schema: schema.Schema{
			{Name: "characterId", Kind: schema.Uint64String, Default: "0"},
		}},
		{Name: "Weapon.Reload", Opcode: 0x8308, Schema: schema.Schema{
			{Name: "guid", Kind: schema.Uint64String, Default: "0"},
			{Name: "unknownDword1", Kind: schema.Uint32},
			{Name: "ammoCount", Kind: schema.Uint32},
			{Name: "unknownDword3", Kind: schema.Uint32},
			{Name: "characterId", Kind: schema.Uint64String, Default: "0"},
		}},
		{Name: "Weapon.ReloadInterrupt", Opcode: 0x8309},
		{Name: "Weapon.ReloadRejected", Opcode: 0x830b},
		{Name: "Weapon.SwitchFireModeRequest", Opcode: 0x830c, Schema: schema.Schema{
			{Name: "guid", Kind: schema.Uint64String, Default: "0"},
			{Name: "unknownByte1", Kind: schema.Uint8},
			{Name: "unknownByte2", Kind: schema.Uint8},
			{Name: "unknownByte3", Kind: schema.Uint8},
		}},
		{Name: "Weapon.LockOnGuidUpdate", Opcode: 0x830d},
		{Name: "Weapon.LockOnLocationUpdate", Opcode: 0x830e},
		{Name: "Weapon.StatUpdate", Opcode: 0x830f, Schema: schema.Schema{
			{Name: "statData", Kind: schema.Array, Fields: schema.Schema{
				{Name: "guid", Kind: schema.Uint64String, Default: "0"},
				{Name: "unknownBoolean1", Kind: schema.Boolean},
				{Name: "statUpdates", Kind: schema.Array, Fields: schema.Schema{
					{Name: "statCategory", Kind: schema.Uint8},
					{Name: "statUpdateData", Kind: schema.Nested, Fields: weaponStatUpdate},
				}},
			}},
		}},
		{Name: "Weapon.DebugProjectile", Opcode: 0x8310},
		{Name: "Weapon.AddFireGroup", Opcode: 0x8311},
		{Name: "Weapon.RemoveFireGroup", Opcode: 0x8312},
		{Name: "Weapon.ReplaceFireGroup", Opcode: 0x8313},
		{Name: "Weapon.GuidedUpdate", Opcode: 0x8314},
		{Name: "Weapon.RemoteWeapon.Reset", Opcode: 0x831501},
		{Name: "Weapon.RemoteWeapon.AddWeapon", Opcode: 0x831502},
		{Name: "Weapon.RemoteWeapon.RemoveWeapon", Opcode: 0x831503},
		{Name: "Weapon.RemoteWeapon.Update", Opcode: 0x831504, Schema: schema.Schema{
			{Name: "unknownUint1", Kind: schema.Custom, Codec: schema.PackedUint},
			{Name: "unknownByte1", Kind: schema.Uint8},
			{Name: "unknownQword1", Kind: schema.Uint64String, Default: "0"},
			{Name: "unknownByte2", Kind: schema.Uint8},
			{Name: "unknownUint2", Kind: schema.Custom, Codec: schema.PackedUint},
		}},
		{Name: "Weapon.RemoteWeapon.ProjectileLaunchHint", Opcode: 0x831505},
		{Name: "Weapon.RemoteWeapon.ProjectileDetonateHint", Opcode: 0x831506},
		{Name: "Weapon.RemoteWeapon.ProjectileRemoteContactReport", Opcode: 0x831507},
		{Name: "Weapon.ChamberRound", Opcode: 0x8316},
		{Name: "Weapon.GuidedSetNonSeeking", Opcode: 0x8317},
		{Name: "Weapon.ChamberInterrupt", Opcode: 0x8318},
		{Name: "Weapon.GuidedExplode", Opcode: 0x8319},
		{Name: "Weapon.DestroyNpcProjectile", Opcode: 0x831a, Schema: schema.Schema{
			{Name: "unknownDword1", Kind: schema.Uint32},
			{Name: "unknownDword2", Kind: schema.Uint32},
			{Name: "unknownDword3", Kind: schema.Uint32},
			{Name: "position", Kind: schema.FloatVector4},
		}},
		{Name: "Weapon.WeaponToggleEffects", Opcode: 0x831b},
		{Name: "Weapon.Reset", Opcode: 0x831c, Schema: schema.Schema{
			{Name: "characterId", Kind: schema.Uint64String, Default: "0"},
			{Name: "unknownBoolean1", Kind: schema.Boolean, Default: true},
			{Name: "unknownByte1", Kind: schema.Uint8, Default: uint8(1)},
		}},
		{Name: "Weapon.ProjectileSpawnNpc", Opcode: 0x831d, Schema: schema.Schema{
			{Name: "bytes", Kind: schema.Bytes, Length: 5},
		}},
		{Name: "Weapon.FireRejected", Opcode: 0x831e},
		{Name: PacketMultiWeapon, Opcode: 0x831f, Schema: schema.Schema{
			{Name: "packets", Kind: schema.Custom, Codec: multi},
		}},
		{Name: "Weapon.WeaponFireHint", Opcode: 0x8320, Schema: schema.Schema{
			{Name: "characterId", Kind: schema.Uint64String, Default: "0"},
			{Name: "unknownByte1", Kind: schema.Uint8},
			{Name: "position", Kind: schema.FloatVector3},
			{Name: "unknownDword1", Kind: schema.Uint32},
			{Name: "unknownDword2", Kind: schema.Uint32},
			{Name: "rotation", Kind: schema.FloatVector3},
			{Name: "unknownDword3", Kind: schema.Uint32},
		}},
		{Name: "Weapon.ProjectileContactReport", Opcode: 0x8321, Schema: schema.Schema{
			{Name: "unknownDword1", Kind: schema.Uint32},
			{Name: "unknownDword2", Kind: schema.Uint32},
			{Name: "unknownDword3", Kind: schema.Uint32},
			{Name: "rotation", Kind: schema.FloatVector3},
			{Name: "unknownDword4", Kind: schema.Uint32},
			{Name: "position", Kind: schema.FloatVector3},
			{Name: "unknownDword5", Kind: schema.Uint32},
			{Name: "unknownFloat1", Kind: schema.Float32},
			{Name: "unknownDword6", Kind: schema.Uint32},
			{Name: "unknownFloatVector1", Kind: schema.FloatVector3},
			{Name: "unknownDword7", Kind: schema.Int32},
			{Name: "unknownWord1", Kind: schema.Uint16},
			{Name: "unknownByte1", Kind: schema.Uint8},
		}},
		{Name: "Weapon.MeleeHitMaterial", Opcode: 0x8322, Schema: schema.Schema{
			{Name: "bytes", Kind: schema.Bytes, Length: 99},
		}},
		{Name: "Weapon.ProjectileSpawnAttachedNp", Opcode: 0x8323},
		{Name: "Weapon.AddDebugLogEntry", Opcode: 0x8324},
		{Name: "Weapon.DebugZoneState", Opcode: 0x8325},
		{Name: "Weapon.GrenadeBounceReport", Opcode: 0x8326},
		{Name: "Weapon.AimBlockedNotify", Opcode: 0x8327, Schema: schema.Schema{
			{Name: "guid", Kind: schema.Uint64String, Default: "0"},
			{Name: "aimBlocked", Kind: schema.Boolean},
		}},
	}
}

// buildWeapon builds the weapon table. MultiWeapon elements are decoded
// against the same table, so its codec reads the table through a closure
// that is filled in once the build succeeds.
func buildWeapon() (*opcode.Table, error) {
	var table *opcode.Table
	multi := newBundleCodec(WeaponFamily, func() *opcode.Table { return table })

	t, err := opcode.Build(weaponDecls(multi))
	if err != nil {
		return nil, err
	}
	table = t
	return t, nil
}
