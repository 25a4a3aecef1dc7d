package event_test

import (
	"encoding/binary"
	"log/slog"
	"testing"

	gen "github.com/tinyrange/aml/internal/amlgen"
	"github.com/tinyrange/aml/internal/core"
	"github.com/tinyrange/aml/internal/event"
	"github.com/tinyrange/aml/internal/host"
	"github.com/tinyrange/aml/internal/tables"
)

const (
	pm1aEvtPort = 0x400
	pm1aCntPort = 0x404
	gpe0Port    = 0x420
	smiCmdPort  = 0xB2
	resetPort   = 0xCF9

	acpiEnableCmd = 0xA0
)

// testFADT builds a FACP with one PM1a event block (4 bytes at 0x400), a
// PM1a control block (2 bytes at 0x404) and a two-register GPE0 block at
// 0x420.
func testFADT(t *testing.T) []byte {
	t.Helper()
	raw := make([]byte, 244)
	copy(raw, tables.EncodeSDTHeader(tables.SDTHeader{
		Signature: tables.Sig("FACP"),
		Length:    244,
		Revision:  5,
	}))
	binary.LittleEndian.PutUint16(raw[46:], 9)            // SCI_INT
	binary.LittleEndian.PutUint32(raw[48:], smiCmdPort)   // SMI_CMD
	raw[52] = acpiEnableCmd                               // ACPI_ENABLE
	raw[53] = 0xA1                                        // ACPI_DISABLE
	binary.LittleEndian.PutUint32(raw[56:], pm1aEvtPort)  // PM1a_EVT_BLK
	binary.LittleEndian.PutUint32(raw[64:], pm1aCntPort)  // PM1a_CNT_BLK
	binary.LittleEndian.PutUint32(raw[80:], gpe0Port)     // GPE0_BLK
	raw[88] = 4                                           // PM1_EVT_LEN
	raw[89] = 2                                           // PM1_CNT_LEN
	raw[92] = 4                                           // GPE0_BLK_LEN: 2 reg pairs
	binary.LittleEndian.PutUint32(raw[112:], 1<<10)       // flags: reset reg
	raw[116] = 1                                          // reset: SystemIO
	raw[117] = 8
	binary.LittleEndian.PutUint64(raw[120:], resetPort)
	raw[128] = 6 // RESET_VALUE
	raw[9] = tables.Checksum(raw)
	return raw
}

// installW1C emulates write-one-to-clear semantics for the given status
// ports, as the fixed hardware registers behave.
func installW1C(h *host.SimHost, ports ...uint32) {
	w1c := make(map[uint32]bool, len(ports))
	for _, p := range ports {
		w1c[p] = true
	}
	h.IOWriteHook = func(port uint32, size uint8, value uint64) bool {
		if !w1c[port] {
			return false
		}
		for i := uint8(0); i < size; i++ {
			p := port + uint32(i)
			b := byte(value >> (i * 8))
			h.SetIOPort(p, h.IOPort(p)&^b)
		}
		return true
	}
}

func newEventContext(t *testing.T, body ...[]byte) (*core.Context, *event.Context, *host.SimHost) {
	t.Helper()
	h := host.NewSimHost()
	installW1C(h, pm1aEvtPort, gpe0Port, gpe0Port+1, 0x430)
	ctx, status := core.NewContext(h, slog.Default())
	if status != core.StatusSuccess {
		t.Fatalf("NewContext: %v", status)
	}
	if len(body) > 0 {
		var all []byte
		for _, b := range body {
			all = append(all, b...)
		}
		if status := ctx.LoadTable(all); status != core.StatusSuccess {
			t.Fatalf("LoadTable: %v", status)
		}
	}
	ev, status := event.New(ctx, testFADT(t))
	if status != core.StatusSuccess {
		t.Fatalf("event.New: %v", status)
	}
	t.Cleanup(ev.Close)
	return ctx, ev, h
}

func TestNativeGpeDispatch(t *testing.T) {
	_, ev, h := newEventContext(t)

	fired := 0
	if status := ev.EnableGpe(1, event.TriggerEdge, func() { fired++ }); status != core.StatusSuccess {
		t.Fatalf("EnableGpe: %v", status)
	}
	if h.IOPort(gpe0Port+2)&0x02 == 0 {
		t.Fatal("enable bit not set")
	}

	// Raise GPE 1 status and fire the SCI.
	h.SetIOPort(gpe0Port, 0x02)
	if !h.TriggerSCI() {
		t.Fatal("SCI did not claim the event")
	}
	// Detection disables the event and, for edge triggers, clears status
	// before queueing the handler.
	if h.IOPort(gpe0Port)&0x02 != 0 {
		t.Fatal("edge status not cleared at detection")
	}
	if h.IOPort(gpe0Port+2)&0x02 != 0 {
		t.Fatal("event not disabled during dispatch")
	}

	if h.RunWork() != 1 {
		t.Fatal("handler was not queued")
	}
	if fired != 1 {
		t.Fatalf("handler ran %d times", fired)
	}
	if h.IOPort(gpe0Port+2)&0x02 == 0 {
		t.Fatal("event not re-enabled after the handler")
	}
}

func TestLevelGpeClearsAfterHandler(t *testing.T) {
	_, ev, h := newEventContext(t)

	if status := ev.EnableGpe(3, event.TriggerLevel, func() {}); status != core.StatusSuccess {
		t.Fatalf("EnableGpe: %v", status)
	}
	h.SetIOPort(gpe0Port, 0x08)
	if !h.TriggerSCI() {
		t.Fatal("SCI did not claim the event")
	}
	// Level-triggered status stays set until the handler completes.
	if h.IOPort(gpe0Port)&0x08 == 0 {
		t.Fatal("level status cleared too early")
	}
	h.RunWork()
	if h.IOPort(gpe0Port)&0x08 != 0 {
		t.Fatal("level status not cleared after the handler")
	}
}

func TestAmlGpeMethod(t *testing.T) {
	ctx, ev, h := newEventContext(t,
		gen.Name("CNT0", gen.Integer(0)),
		gen.Scope("_GPE",
			gen.Method("_E02", 0, false,
				gen.Store(gen.Add(gen.Ref("\\CNT0"), gen.Integer(1), gen.ZeroTarget()),
					gen.Ref("\\CNT0")))),
	)

	if status := ev.EnableEventsFromNamespace(); status != core.StatusSuccess {
		t.Fatalf("EnableEventsFromNamespace: %v", status)
	}
	if h.IOPort(gpe0Port+2)&0x04 == 0 {
		t.Fatal("_E02 enable bit not set")
	}

	h.SetIOPort(gpe0Port, 0x04)
	if !h.TriggerSCI() {
		t.Fatal("SCI did not claim the event")
	}
	h.RunWork()

	var v uint64
	if status := ctx.EvaluateInt("\\CNT0", nil, &v); status != core.StatusSuccess || v != 1 {
		t.Fatalf("CNT0 = %d (%v), want 1", v, status)
	}
}

func TestGpeBlock1Base(t *testing.T) {
	// GPE indexes at or above the GPE1 base land in block 1.
	h := host.NewSimHost()
	ctx, _ := core.NewContext(h, slog.Default())

	raw := testFADT(t)
	binary.LittleEndian.PutUint32(raw[84:], 0x430) // GPE1_BLK
	raw[93] = 2                                    // GPE1_BLK_LEN: 1 reg pair
	raw[94] = 16                                   // GPE1_BASE
	raw[9] = 0
	raw[9] = tables.Checksum(raw)

	ev, status := event.New(ctx, raw)
	if status != core.StatusSuccess {
		t.Fatalf("event.New: %v", status)
	}
	defer ev.Close()

	if status := ev.EnableGpe(17, event.TriggerEdge, func() {}); status != core.StatusSuccess {
		t.Fatalf("EnableGpe(17): %v", status)
	}
	// Bit 1 of the block-1 enable register at 0x430 + 1.
	if h.IOPort(0x431)&0x02 == 0 {
		t.Fatal("block 1 enable bit not set")
	}
}

func TestFixedEventDispatch(t *testing.T) {
	_, ev, h := newEventContext(t)

	fired := 0
	if status := ev.EnableFixedEvent(event.FixedPowerButton, func() { fired++ }); status != core.StatusSuccess {
		t.Fatalf("EnableFixedEvent: %v", status)
	}
	// Enable is the high half of the 4-byte PM1a event block; bit 8 is the
	// low bit of its second byte.
	if h.IOPort(pm1aEvtPort+3)&0x01 == 0 {
		t.Fatal("power button enable bit not set")
	}

	// Raise the power button status bit and fire the SCI.
	h.SetIOPort(pm1aEvtPort+1, 0x01)
	if !h.TriggerSCI() {
		t.Fatal("SCI did not claim the fixed event")
	}
	if h.RunWork() != 1 || fired != 1 {
		t.Fatalf("handler ran %d times", fired)
	}
	if h.IOPort(pm1aEvtPort+1)&0x01 != 0 {
		t.Fatal("status bit not cleared")
	}

	if status := ev.DisableFixedEvent(event.FixedPowerButton); status != core.StatusSuccess {
		t.Fatalf("DisableFixedEvent: %v", status)
	}
	if h.IOPort(pm1aEvtPort+3)&0x01 != 0 {
		t.Fatal("enable bit not cleared")
	}
}

func TestFixedEventUnsupported(t *testing.T) {
	h := host.NewSimHost()
	ctx, _ := core.NewContext(h, slog.Default())

	raw := testFADT(t)
	flags := binary.LittleEndian.Uint32(raw[112:])
	binary.LittleEndian.PutUint32(raw[112:], flags|tables.FlagPowerButtonAbsent)
	raw[9] = 0
	raw[9] = tables.Checksum(raw)

	ev, status := event.New(ctx, raw)
	if status != core.StatusSuccess {
		t.Fatalf("event.New: %v", status)
	}
	defer ev.Close()

	if status := ev.EnableFixedEvent(event.FixedPowerButton, func() {}); status != core.StatusUnsupported {
		t.Fatalf("got %v, want unsupported", status)
	}
}

func TestNotifyHandlers(t *testing.T) {
	ctx, ev, h := newEventContext(t,
		gen.Device("DEV0"),
		gen.Method("MAIN", 0, false,
			gen.Notify(gen.Ref("DEV0"), gen.Integer(0x81)),
			gen.Return(gen.Integer(0))),
	)

	node := ctx.FindNode(nil, "DEV0")
	var got uint64
	ev.InstallNotifyHandler(node, func(n *core.Node, value uint64) { got = value })

	var res *core.Object
	if status := ctx.Evaluate("\\MAIN", nil, &res); status != core.StatusSuccess {
		t.Fatalf("Evaluate: %v", status)
	}
	if got != 0x81 {
		t.Fatalf("handler saw 0x%x, want 0x81", got)
	}
	// The host still receives the notification.
	if len(h.Notifications) != 1 {
		t.Fatalf("host notifications = %d", len(h.Notifications))
	}

	ev.UninstallNotifyHandler(node)
	got = 0
	ctx.Evaluate("\\MAIN", nil, &res)
	if got != 0 {
		t.Fatal("handler ran after uninstall")
	}
}

func TestEnableAcpiMode(t *testing.T) {
	_, ev, h := newEventContext(t)

	// Emulate hardware latching SCI_EN when the enable command hits the
	// SMI command port.
	h.IOWriteHook = func(port uint32, size uint8, value uint64) bool {
		if port == smiCmdPort && value == acpiEnableCmd {
			h.SetIOPort(pm1aCntPort, 0x01)
		}
		return false
	}

	if status := ev.EnableAcpiMode(true); status != core.StatusSuccess {
		t.Fatalf("EnableAcpiMode: %v", status)
	}
}

func TestReset(t *testing.T) {
	_, ev, h := newEventContext(t)
	if status := ev.Reset(); status != core.StatusSuccess {
		t.Fatalf("Reset: %v", status)
	}
	if h.IOPort(resetPort) != 6 {
		t.Fatalf("reset port = 0x%x, want 6", h.IOPort(resetPort))
	}
}
