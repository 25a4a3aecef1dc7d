package event_test

import (
	"testing"

	gen "github.com/tinyrange/aml/internal/amlgen"
	"github.com/tinyrange/aml/internal/core"
	"github.com/tinyrange/aml/internal/event"
)

func sleepNamespace() [][]byte {
	return [][]byte{
		gen.Name("STAT", gen.Integer(0)),
		gen.Method("_PTS", 1, false,
			gen.Store(gen.Arg(0), gen.Ref("\\STAT"))),
		gen.Method("_WAK", 1, false,
			gen.Store(gen.Add(gen.Arg(0), gen.Integer(100), gen.ZeroTarget()), gen.Ref("\\STAT"))),
		gen.Name("_S0_", gen.Package(gen.Integer(1), gen.Integer(0))),
		gen.Name("_S3_", gen.Package(gen.Integer(5), gen.Integer(0))),
		gen.Scope("_SI_",
			gen.Method("_SST", 1, false,
				gen.Store(gen.Add(gen.Arg(0), gen.Integer(200), gen.ZeroTarget()), gen.Ref("\\STAT")))),
	}
}

func TestSleepSequence(t *testing.T) {
	ctx, ev, h := newEventContext(t, sleepNamespace()...)

	if status := ev.PrepareForSleep(event.S3); status != core.StatusSuccess {
		t.Fatalf("PrepareForSleep: %v", status)
	}
	var stat uint64
	if status := ctx.EvaluateInt("\\STAT", nil, &stat); status != core.StatusSuccess || stat != 3 {
		t.Fatalf("STAT after _PTS = %d (%v), want 3", stat, status)
	}

	if status := ev.EnterSleepState(event.S3); status != core.StatusSuccess {
		t.Fatalf("EnterSleepState: %v", status)
	}
	// SLP_TYPa=5 with SLP_EN lands in PM1a control: 5<<10 | 1<<13 = 0x3400.
	if lo, hi := h.IOPort(pm1aCntPort), h.IOPort(pm1aCntPort+1); lo != 0x00 || hi != 0x34 {
		t.Fatalf("pm1a control = %02x%02x, want 3400", hi, lo)
	}

	if status := ev.PrepareForWake(); status != core.StatusSuccess {
		t.Fatalf("PrepareForWake: %v", status)
	}
	// The captured S0 type (1) is restored: 1<<10 | 1<<13 = 0x2400.
	if lo, hi := h.IOPort(pm1aCntPort), h.IOPort(pm1aCntPort+1); lo != 0x00 || hi != 0x24 {
		t.Fatalf("pm1a control after wake prep = %02x%02x, want 2400", hi, lo)
	}

	if status := ev.WakeFromState(event.S3); status != core.StatusSuccess {
		t.Fatalf("WakeFromState: %v", status)
	}
	// _WAK(3) stored 103, then \_SI._SST(Working) stored 201.
	if status := ctx.EvaluateInt("\\STAT", nil, &stat); status != core.StatusSuccess || stat != 201 {
		t.Fatalf("STAT after wake = %d (%v), want 201", stat, status)
	}
}

func TestSleepDisablesNonWakeGpes(t *testing.T) {
	_, ev, h := newEventContext(t, sleepNamespace()...)

	if status := ev.EnableGpe(1, event.TriggerEdge, func() {}); status != core.StatusSuccess {
		t.Fatalf("EnableGpe(1): %v", status)
	}
	if status := ev.EnableGpe(2, event.TriggerEdge, func() {}); status != core.StatusSuccess {
		t.Fatalf("EnableGpe(2): %v", status)
	}
	if status := ev.SetGpeWake(2, true); status != core.StatusSuccess {
		t.Fatalf("SetGpeWake: %v", status)
	}

	ev.PrepareForSleep(event.S3)
	if status := ev.EnterSleepState(event.S3); status != core.StatusSuccess {
		t.Fatalf("EnterSleepState: %v", status)
	}

	// Only the wake-qualified GPE stays enabled.
	if en := h.IOPort(gpe0Port + 2); en != 0x04 {
		t.Fatalf("enable register = 0x%02x, want only bit 2", en)
	}

	if status := ev.WakeFromState(event.S3); status != core.StatusSuccess {
		t.Fatalf("WakeFromState: %v", status)
	}
	if en := h.IOPort(gpe0Port + 2); en&0x06 != 0x06 {
		t.Fatalf("enable register after wake = 0x%02x, want bits 1 and 2", en)
	}
}

func TestPrepareForSleepMissingSxPackage(t *testing.T) {
	_, ev, _ := newEventContext(t,
		gen.Name("STAT", gen.Integer(0)),
	)
	if status := ev.PrepareForSleep(event.S3); status == core.StatusSuccess {
		t.Fatal("missing _S3_ should fail")
	}
}
