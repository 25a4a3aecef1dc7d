package tables

import (
	"encoding/binary"
	"fmt"
)

// AddressSpace mirrors the generic address structure space IDs the event
// subsystem cares about.
const (
	SpaceSystemMemory uint8 = 0
	SpaceSystemIO     uint8 = 1
)

// GenericAddress is the ACPI generic address structure (GAS).
type GenericAddress struct {
	SpaceID     uint8
	BitWidth    uint8
	BitOffset   uint8
	AccessSize  uint8
	Address     uint64
}

func parseGAS(raw []byte) GenericAddress {
	return GenericAddress{
		SpaceID:    raw[0],
		BitWidth:   raw[1],
		BitOffset:  raw[2],
		AccessSize: raw[3],
		Address:    binary.LittleEndian.Uint64(raw[4:12]),
	}
}

// FADT flag bits consumed by the event subsystem.
const (
	FlagPowerButtonAbsent = 1 << 4
	FlagSleepButtonAbsent = 1 << 5
	FlagResetRegSupported = 1 << 10
)

// FADT carries the fixed-hardware register addresses and command values the
// event subsystem needs. The 64-bit X* registers override their 32-bit twins
// when the table is long enough and the field is populated.
type FADT struct {
	Header SDTHeader

	DSDTAddr uint64

	SCIInt      uint16
	SMICmd      uint32
	ACPIEnable  uint8
	ACPIDisable uint8

	PM1aEvtBlk GenericAddress
	PM1bEvtBlk GenericAddress
	PM1aCntBlk GenericAddress
	PM1bCntBlk GenericAddress
	GPE0Blk    GenericAddress
	GPE1Blk    GenericAddress

	PM1EvtLen  uint8
	PM1CntLen  uint8
	GPE0BlkLen uint8
	GPE1BlkLen uint8
	GPE1Base   uint8

	Flags uint32

	ResetReg   GenericAddress
	ResetValue uint8
}

// Fixed byte offsets inside the FADT body (relative to the table start).
const (
	fadtOffDSDT       = 40
	fadtOffSCIInt     = 46
	fadtOffSMICmd     = 48
	fadtOffACPIEna    = 52
	fadtOffACPIDis    = 53
	fadtOffPM1aEvt    = 56
	fadtOffPM1bEvt    = 60
	fadtOffPM1aCnt    = 64
	fadtOffPM1bCnt    = 68
	fadtOffGPE0Blk    = 80
	fadtOffGPE1Blk    = 84
	fadtOffPM1EvtLen  = 88
	fadtOffPM1CntLen  = 89
	fadtOffGPE0Len    = 92
	fadtOffGPE1Len    = 93
	fadtOffGPE1Base   = 94
	fadtOffFlags      = 112
	fadtOffResetReg   = 116
	fadtOffResetValue = 128
	fadtOffXDSDT      = 140
	fadtOffXPM1aEvt   = 148
	fadtOffXPM1bEvt   = 160
	fadtOffXPM1aCnt   = 172
	fadtOffXPM1bCnt   = 184
	fadtOffXGPE0      = 220
	fadtOffXGPE1      = 232
)

// ParseFADT decodes the fields of interest from a raw FACP table.
func ParseFADT(raw []byte) (*FADT, error) {
	hdr, err := ParseSDTHeader(raw)
	if err != nil {
		return nil, err
	}
	if hdr.Signature != Sig("FACP") {
		return nil, fmt.Errorf("tables: FADT signature is %q, want FACP", hdr.Signature[:])
	}
	if len(raw) < fadtOffFlags+4 {
		return nil, fmt.Errorf("tables: FADT is truncated at %d bytes", len(raw))
	}

	f := &FADT{Header: hdr}
	f.DSDTAddr = uint64(binary.LittleEndian.Uint32(raw[fadtOffDSDT:]))
	f.SCIInt = binary.LittleEndian.Uint16(raw[fadtOffSCIInt:])
	f.SMICmd = binary.LittleEndian.Uint32(raw[fadtOffSMICmd:])
	f.ACPIEnable = raw[fadtOffACPIEna]
	f.ACPIDisable = raw[fadtOffACPIDis]
	f.PM1EvtLen = raw[fadtOffPM1EvtLen]
	f.PM1CntLen = raw[fadtOffPM1CntLen]
	f.GPE0BlkLen = raw[fadtOffGPE0Len]
	f.GPE1BlkLen = raw[fadtOffGPE1Len]
	f.GPE1Base = raw[fadtOffGPE1Base]
	f.Flags = binary.LittleEndian.Uint32(raw[fadtOffFlags:])

	f.PM1aEvtBlk = blockAddress(raw, fadtOffXPM1aEvt, fadtOffPM1aEvt, f.PM1EvtLen)
	f.PM1bEvtBlk = blockAddress(raw, fadtOffXPM1bEvt, fadtOffPM1bEvt, f.PM1EvtLen)
	f.PM1aCntBlk = blockAddress(raw, fadtOffXPM1aCnt, fadtOffPM1aCnt, f.PM1CntLen)
	f.PM1bCntBlk = blockAddress(raw, fadtOffXPM1bCnt, fadtOffPM1bCnt, f.PM1CntLen)
	f.GPE0Blk = blockAddress(raw, fadtOffXGPE0, fadtOffGPE0Blk, 1)
	f.GPE1Blk = blockAddress(raw, fadtOffXGPE1, fadtOffGPE1Blk, 1)

	if len(raw) >= fadtOffResetReg+13 {
		f.ResetReg = parseGAS(raw[fadtOffResetReg:])
		f.ResetValue = raw[fadtOffResetValue]
	}
	if len(raw) >= fadtOffXDSDT+8 {
		if x := binary.LittleEndian.Uint64(raw[fadtOffXDSDT:]); x != 0 {
			f.DSDTAddr = x
		}
	}

	return f, nil
}

// blockAddress prefers the extended GAS when the table carries one with a
// nonzero address, and otherwise synthesizes a SystemIo GAS from the legacy
// 32-bit block address.
func blockAddress(raw []byte, xOff, legacyOff int, byteWidth uint8) GenericAddress {
	if len(raw) >= xOff+12 {
		gas := parseGAS(raw[xOff:])
		if gas.Address != 0 {
			return gas
		}
	}
	return GenericAddress{
		SpaceID:  SpaceSystemIO,
		BitWidth: byteWidth * 8,
		Address:  uint64(binary.LittleEndian.Uint32(raw[legacyOff:])),
	}
}

// ResetSupported reports whether the reset register is advertised.
func (f *FADT) ResetSupported() bool {
	return f.Flags&FlagResetRegSupported != 0 && f.ResetReg.Address != 0
}
