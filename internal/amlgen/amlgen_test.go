package amlgen

import (
	"bytes"
	"testing"

	"github.com/tinyrange/aml/internal/tables"
)

func TestPkgLengthSelfInclusive(t *testing.T) {
	// One byte form: the encoded value covers the body plus itself.
	if got := PkgLength(5); !bytes.Equal(got, []byte{6}) {
		t.Fatalf("PkgLength(5) = %x", got)
	}
	// Smallest two byte form.
	got := PkgLength(0x3F)
	if len(got) != 2 {
		t.Fatalf("PkgLength(0x3F) length = %d, want 2", len(got))
	}
	total := 0x3F + 2
	if got[0] != 0x40|byte(total&0xF) || got[1] != byte(total>>4) {
		t.Fatalf("two byte form = %x", got)
	}
}

func TestNameStringForms(t *testing.T) {
	if got := NameString("ABCD"); !bytes.Equal(got, []byte("ABCD")) {
		t.Fatalf("bare: %x", got)
	}
	if got := NameString("\\ABCD"); !bytes.Equal(got, append([]byte{0x5C}, "ABCD"...)) {
		t.Fatalf("rooted: %x", got)
	}
	if got := NameString("AB"); !bytes.Equal(got, []byte("AB__")) {
		t.Fatalf("padded: %x", got)
	}
	if got := NameString("AAAA.BBBB"); got[0] != 0x2E {
		t.Fatalf("dual prefix missing: %x", got)
	}
	if got := NameString("AAAA.BBBB.CCCC"); got[0] != 0x2F || got[1] != 3 {
		t.Fatalf("multi prefix: %x", got)
	}
	if got := NameString("^^AB"); !bytes.Equal(got, []byte{0x5E, 0x5E, 'A', 'B', '_', '_'}) {
		t.Fatalf("parent prefixed: %x", got)
	}
}

func TestIntegerEncodings(t *testing.T) {
	if got := Integer(0); !bytes.Equal(got, []byte{0x00}) {
		t.Fatalf("zero: %x", got)
	}
	if got := Integer(1); !bytes.Equal(got, []byte{0x01}) {
		t.Fatalf("one: %x", got)
	}
	if got := Integer(0x42); !bytes.Equal(got, []byte{0x0A, 0x42}) {
		t.Fatalf("byte: %x", got)
	}
	if got := Integer(0x1234); !bytes.Equal(got, []byte{0x0B, 0x34, 0x12}) {
		t.Fatalf("word: %x", got)
	}
	if got := Integer(0x12345678); got[0] != 0x0C {
		t.Fatalf("dword: %x", got)
	}
	if got := Integer(1 << 40); got[0] != 0x0E {
		t.Fatalf("qword: %x", got)
	}
}

func TestTableChecksumValid(t *testing.T) {
	raw := DSDT(Name("VAL0", Integer(7)))
	if err := Validate(raw); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	hdr, err := tables.ParseSDTHeader(raw)
	if err != nil {
		t.Fatalf("ParseSDTHeader: %v", err)
	}
	if hdr.Signature != tables.Sig("DSDT") || hdr.Revision != 2 {
		t.Fatalf("header = %+v", hdr)
	}
	if int(hdr.Length) != len(raw) {
		t.Fatalf("length = %d, raw = %d", hdr.Length, len(raw))
	}
}

func TestMethodFlags(t *testing.T) {
	if got := MethodFlags(3, true, 2); got != 3|1<<3|2<<4 {
		t.Fatalf("flags = 0x%02x", got)
	}
}
