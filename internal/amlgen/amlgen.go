// Package amlgen assembles AML definition blocks in memory. The tests and
// the CLI tools use it to synthesize DSDTs without an external compiler.
package amlgen

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/tinyrange/aml/internal/tables"
)

// PkgLength encodes an AML PkgLength covering body plus the encoding
// itself.
func PkgLength(bodyLen int) []byte {
	if bodyLen+1 < 0x40 {
		return []byte{byte(bodyLen + 1)}
	}
	if total := bodyLen + 2; total < 1<<12 {
		return []byte{0x40 | byte(total&0xF), byte(total >> 4)}
	}
	if total := bodyLen + 3; total < 1<<20 {
		return []byte{0x80 | byte(total&0xF), byte(total >> 4), byte(total >> 12)}
	}
	total := bodyLen + 4
	return []byte{0xC0 | byte(total&0xF), byte(total >> 4), byte(total >> 12), byte(total >> 20)}
}

func wrap(opcode []byte, body []byte) []byte {
	var out bytes.Buffer
	out.Write(opcode)
	out.Write(PkgLength(len(body)))
	out.Write(body)
	return out.Bytes()
}

func cat(parts ...[]byte) []byte {
	var out bytes.Buffer
	for _, p := range parts {
		out.Write(p)
	}
	return out.Bytes()
}

func padSeg(seg string) []byte {
	out := []byte{'_', '_', '_', '_'}
	copy(out, seg)
	return out
}

// NameString encodes a (possibly rooted or parent-prefixed) namestring.
func NameString(path string) []byte {
	var out bytes.Buffer
	for len(path) > 0 && (path[0] == '\\' || path[0] == '^') {
		if path[0] == '\\' {
			out.WriteByte(0x5C)
		} else {
			out.WriteByte(0x5E)
		}
		path = path[1:]
	}

	if path == "" {
		out.WriteByte(0x00)
		return out.Bytes()
	}

	segs := strings.Split(path, ".")
	switch len(segs) {
	case 1:
	case 2:
		out.WriteByte(0x2E)
	default:
		out.WriteByte(0x2F)
		out.WriteByte(byte(len(segs)))
	}
	for _, seg := range segs {
		out.Write(padSeg(seg))
	}
	return out.Bytes()
}

// Integer emits the smallest literal encoding of v.
func Integer(v uint64) []byte {
	switch {
	case v == 0:
		return []byte{0x00}
	case v == 1:
		return []byte{0x01}
	case v <= 0xFF:
		return []byte{0x0A, byte(v)}
	case v <= 0xFFFF:
		out := []byte{0x0B, 0, 0}
		binary.LittleEndian.PutUint16(out[1:], uint16(v))
		return out
	case v <= 0xFFFFFFFF:
		out := []byte{0x0C, 0, 0, 0, 0}
		binary.LittleEndian.PutUint32(out[1:], uint32(v))
		return out
	default:
		out := []byte{0x0E, 0, 0, 0, 0, 0, 0, 0, 0}
		binary.LittleEndian.PutUint64(out[1:], v)
		return out
	}
}

// Ones emits the OnesOp literal.
func Ones() []byte { return []byte{0xFF} }

// String emits a string literal.
func String(s string) []byte {
	out := []byte{0x0D}
	out = append(out, s...)
	return append(out, 0x00)
}

// Buffer emits a buffer literal with an explicit byte-count size term.
func Buffer(data []byte) []byte {
	body := cat(Integer(uint64(len(data))), data)
	return wrap([]byte{0x11}, body)
}

// Package emits a fixed-length package.
func Package(elems ...[]byte) []byte {
	body := append([]byte{byte(len(elems))}, cat(elems...)...)
	return wrap([]byte{0x12}, body)
}

// Name emits Name(path, value).
func Name(path string, value []byte) []byte {
	return cat([]byte{0x08}, NameString(path), value)
}

// Scope emits Scope(path) { body }.
func Scope(path string, body ...[]byte) []byte {
	return wrap([]byte{0x10}, cat(NameString(path), cat(body...)))
}

// Device emits Device(path) { body }.
func Device(path string, body ...[]byte) []byte {
	return wrap([]byte{0x5B, 0x82}, cat(NameString(path), cat(body...)))
}

// ThermalZone emits ThermalZone(path) { body }.
func ThermalZone(path string, body ...[]byte) []byte {
	return wrap([]byte{0x5B, 0x85}, cat(NameString(path), cat(body...)))
}

// Processor emits the legacy Processor(path, id, addr, len) { body }.
func Processor(path string, id uint8, blockAddr uint32, blockLen uint8, body ...[]byte) []byte {
	fixed := make([]byte, 6)
	fixed[0] = id
	binary.LittleEndian.PutUint32(fixed[1:], blockAddr)
	fixed[5] = blockLen
	return wrap([]byte{0x5B, 0x83}, cat(NameString(path), fixed, cat(body...)))
}

// PowerResource emits PowerResource(path, level, order) { body }.
func PowerResource(path string, systemLevel uint8, resourceOrder uint16, body ...[]byte) []byte {
	fixed := make([]byte, 3)
	fixed[0] = systemLevel
	binary.LittleEndian.PutUint16(fixed[1:], resourceOrder)
	return wrap([]byte{0x5B, 0x84}, cat(NameString(path), fixed, cat(body...)))
}

// MethodFlags builds the method flag byte.
func MethodFlags(argCount int, serialized bool, syncLevel uint8) byte {
	flags := byte(argCount & 0x7)
	if serialized {
		flags |= 1 << 3
	}
	return flags | syncLevel<<4
}

// Method emits Method(path, argCount) { body }.
func Method(path string, argCount int, serialized bool, body ...[]byte) []byte {
	content := cat(NameString(path), []byte{MethodFlags(argCount, serialized, 0)}, cat(body...))
	return wrap([]byte{0x14}, content)
}

// Mutex emits Mutex(path, syncLevel).
func Mutex(path string, syncLevel uint8) []byte {
	return cat([]byte{0x5B, 0x01}, NameString(path), []byte{syncLevel & 0xF})
}

// Event emits Event(path).
func Event(path string) []byte {
	return cat([]byte{0x5B, 0x02}, NameString(path))
}

// Alias emits Alias(src, alias).
func Alias(src, alias string) []byte {
	return cat([]byte{0x06}, NameString(src), NameString(alias))
}

// OpRegion emits OperationRegion(path, space, offset, length).
func OpRegion(path string, space uint8, offset, length uint64) []byte {
	return cat([]byte{0x5B, 0x80}, NameString(path), []byte{space},
		Integer(offset), Integer(length))
}

// FieldUnit is one entry of a Field list; an empty name reserves bits.
type FieldUnit struct {
	Name string
	Bits uint32
}

// FieldFlags builds the field flag byte.
func FieldFlags(accessType uint8, lock bool, update uint8) byte {
	flags := accessType & 0xF
	if lock {
		flags |= 1 << 4
	}
	return flags | update<<5
}

func fieldUnitBytes(units []FieldUnit) []byte {
	var out bytes.Buffer
	for _, unit := range units {
		if unit.Name == "" {
			out.WriteByte(0x00)
			out.Write(rawPkgLength(unit.Bits))
			continue
		}
		out.Write(padSeg(unit.Name))
		out.Write(rawPkgLength(unit.Bits))
	}
	return out.Bytes()
}

// rawPkgLength encodes a PkgLength holding a literal value (field widths
// use the PkgLength encoding for the bit count itself).
func rawPkgLength(v uint32) []byte {
	if v < 0x40 {
		return []byte{byte(v)}
	}
	if v < 1<<12 {
		return []byte{0x40 | byte(v&0xF), byte(v >> 4)}
	}
	if v < 1<<20 {
		return []byte{0x80 | byte(v&0xF), byte(v >> 4), byte(v >> 12)}
	}
	return []byte{0xC0 | byte(v&0xF), byte(v >> 4), byte(v >> 12), byte(v >> 20)}
}

// Field emits Field(region, flags) { units }.
func Field(region string, flags byte, units ...FieldUnit) []byte {
	body := cat(NameString(region), []byte{flags}, fieldUnitBytes(units))
	return wrap([]byte{0x5B, 0x81}, body)
}

// IndexField emits IndexField(index, data, flags) { units }.
func IndexField(index, data string, flags byte, units ...FieldUnit) []byte {
	body := cat(NameString(index), NameString(data), []byte{flags}, fieldUnitBytes(units))
	return wrap([]byte{0x5B, 0x86}, body)
}

// BankField emits BankField(region, bank, value, flags) { units }.
func BankField(region, bank string, value uint64, flags byte, units ...FieldUnit) []byte {
	body := cat(NameString(region), NameString(bank), Integer(value),
		[]byte{flags}, fieldUnitBytes(units))
	return wrap([]byte{0x5B, 0x87}, body)
}

// CreateField and friends.

func CreateField(src, name []byte, bitIndex, numBits []byte) []byte {
	return cat([]byte{0x5B, 0x13}, src, bitIndex, numBits, name)
}

func CreateByteField(src []byte, index []byte, name string) []byte {
	return cat([]byte{0x8C}, src, index, NameString(name))
}

func CreateWordField(src []byte, index []byte, name string) []byte {
	return cat([]byte{0x8B}, src, index, NameString(name))
}

func CreateDWordField(src []byte, index []byte, name string) []byte {
	return cat([]byte{0x8A}, src, index, NameString(name))
}

func CreateQWordField(src []byte, index []byte, name string) []byte {
	return cat([]byte{0x8F}, src, index, NameString(name))
}

func CreateBitField(src []byte, index []byte, name string) []byte {
	return cat([]byte{0x8D}, src, index, NameString(name))
}

// Expression and statement emitters. Operands are already-encoded terms.

func Ref(path string) []byte { return NameString(path) }

func Local(n int) []byte { return []byte{byte(0x60 + n)} }

func Arg(n int) []byte { return []byte{byte(0x68 + n)} }

func ZeroTarget() []byte { return []byte{0x00} }

func Debug() []byte { return []byte{0x5B, 0x31} }

func Store(value, target []byte) []byte { return cat([]byte{0x70}, value, target) }

func RefOf(target []byte) []byte { return cat([]byte{0x71}, target) }

func CondRefOf(name, target []byte) []byte { return cat([]byte{0x5B, 0x12}, name, target) }

func DerefOf(value []byte) []byte { return cat([]byte{0x83}, value) }

func CopyObject(value, target []byte) []byte { return cat([]byte{0x9D}, value, target) }

func Add(a, b, target []byte) []byte { return cat([]byte{0x72}, a, b, target) }

func Subtract(a, b, target []byte) []byte { return cat([]byte{0x74}, a, b, target) }

func Multiply(a, b, target []byte) []byte { return cat([]byte{0x77}, a, b, target) }

func Divide(a, b, remainder, quotient []byte) []byte {
	return cat([]byte{0x78}, a, b, remainder, quotient)
}

func Mod(a, b, target []byte) []byte { return cat([]byte{0x85}, a, b, target) }

func And(a, b, target []byte) []byte { return cat([]byte{0x7B}, a, b, target) }

func Or(a, b, target []byte) []byte { return cat([]byte{0x7D}, a, b, target) }

func Xor(a, b, target []byte) []byte { return cat([]byte{0x7F}, a, b, target) }

func ShiftLeft(a, b, target []byte) []byte { return cat([]byte{0x79}, a, b, target) }

func ShiftRight(a, b, target []byte) []byte { return cat([]byte{0x7A}, a, b, target) }

func Not(a, target []byte) []byte { return cat([]byte{0x80}, a, target) }

func FindSetLeftBit(a, target []byte) []byte { return cat([]byte{0x81}, a, target) }

func FindSetRightBit(a, target []byte) []byte { return cat([]byte{0x82}, a, target) }

func Increment(target []byte) []byte { return cat([]byte{0x75}, target) }

func Decrement(target []byte) []byte { return cat([]byte{0x76}, target) }

func Concat(a, b, target []byte) []byte { return cat([]byte{0x73}, a, b, target) }

func LEqual(a, b []byte) []byte { return cat([]byte{0x93}, a, b) }

func LGreater(a, b []byte) []byte { return cat([]byte{0x94}, a, b) }

func LLess(a, b []byte) []byte { return cat([]byte{0x95}, a, b) }

func LAnd(a, b []byte) []byte { return cat([]byte{0x90}, a, b) }

func LOr(a, b []byte) []byte { return cat([]byte{0x91}, a, b) }

func LNot(a []byte) []byte { return cat([]byte{0x92}, a) }

func SizeOf(a []byte) []byte { return cat([]byte{0x87}, a) }

func ObjectType(a []byte) []byte { return cat([]byte{0x8E}, a) }

func Index(src, idx, target []byte) []byte { return cat([]byte{0x88}, src, idx, target) }

func ToInteger(a, target []byte) []byte { return cat([]byte{0x99}, a, target) }

func ToBuffer(a, target []byte) []byte { return cat([]byte{0x96}, a, target) }

func ToDecimalString(a, target []byte) []byte { return cat([]byte{0x97}, a, target) }

func ToHexString(a, target []byte) []byte { return cat([]byte{0x98}, a, target) }

func FromBCD(a, target []byte) []byte { return cat([]byte{0x5B, 0x28}, a, target) }

func ToBCD(a, target []byte) []byte { return cat([]byte{0x5B, 0x29}, a, target) }

func Match(pkg []byte, op1 byte, operand1 []byte, op2 byte, operand2, startIndex []byte) []byte {
	return cat([]byte{0x89}, pkg, []byte{op1}, operand1, []byte{op2}, operand2, startIndex)
}

func Return(value []byte) []byte { return cat([]byte{0xA4}, value) }

func If(pred []byte, body ...[]byte) []byte {
	return wrap([]byte{0xA0}, cat(pred, cat(body...)))
}

func Else(body ...[]byte) []byte {
	return wrap([]byte{0xA1}, cat(body...))
}

func While(pred []byte, body ...[]byte) []byte {
	return wrap([]byte{0xA2}, cat(pred, cat(body...)))
}

func Break() []byte { return []byte{0xA5} }

func Continue() []byte { return []byte{0x9F} }

func Noop() []byte { return []byte{0xA3} }

func Acquire(mutex []byte, timeoutMs uint16) []byte {
	out := cat([]byte{0x5B, 0x23}, mutex)
	var t [2]byte
	binary.LittleEndian.PutUint16(t[:], timeoutMs)
	return append(out, t[:]...)
}

func Release(mutex []byte) []byte { return cat([]byte{0x5B, 0x27}, mutex) }

func Signal(event []byte) []byte { return cat([]byte{0x5B, 0x24}, event) }

func Wait(event, timeout []byte) []byte { return cat([]byte{0x5B, 0x25}, event, timeout) }

func Reset(event []byte) []byte { return cat([]byte{0x5B, 0x26}, event) }

func Stall(us []byte) []byte { return cat([]byte{0x5B, 0x21}, us) }

func Sleep(ms []byte) []byte { return cat([]byte{0x5B, 0x22}, ms) }

func Timer() []byte { return []byte{0x5B, 0x33} }

func Notify(target, value []byte) []byte { return cat([]byte{0x86}, target, value) }

func MethodCall(path string, args ...[]byte) []byte {
	return cat(NameString(path), cat(args...))
}

// Table wraps an AML body in a complete SDT with a valid checksum.
func Table(signature string, revision uint8, body []byte) []byte {
	hdr := tables.SDTHeader{
		Signature:       tables.Sig(signature),
		Length:          uint32(tables.HeaderLen + len(body)),
		Revision:        revision,
		OEMID:           [6]byte{'T', 'I', 'N', 'Y', 'R', ' '},
		OEMTableID:      [8]byte{'A', 'M', 'L', 'G', 'E', 'N', ' ', ' '},
		OEMRevision:     1,
		CreatorID:       [4]byte{'T', 'R', 'G', 'N'},
		CreatorRevision: 1,
	}
	raw := append(tables.EncodeSDTHeader(hdr), body...)
	raw[9] = tables.Checksum(raw)
	return raw
}

// DSDT is shorthand for a revision-2 DSDT around body.
func DSDT(body ...[]byte) []byte {
	return Table("DSDT", 2, cat(body...))
}

// Validate re-parses a generated table to catch assembler regressions.
func Validate(raw []byte) error {
	if err := tables.Validate(raw); err != nil {
		return fmt.Errorf("amlgen: %w", err)
	}
	return nil
}
