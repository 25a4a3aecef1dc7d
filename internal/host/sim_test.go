package host

import (
	"testing"

	"github.com/tinyrange/aml/internal/core"
)

func TestSimMutexTimeout(t *testing.T) {
	h := NewSimHost()
	m, status := h.MutexCreate()
	if status != core.StatusSuccess {
		t.Fatalf("MutexCreate: %v", status)
	}
	if status := h.MutexLock(m, 0); status != core.StatusSuccess {
		t.Fatalf("first lock: %v", status)
	}
	if status := h.MutexLock(m, 0); status != core.StatusTimeout {
		t.Fatalf("contended zero-timeout lock: %v, want timeout", status)
	}
	if status := h.MutexLock(m, 10); status != core.StatusTimeout {
		t.Fatalf("contended timed lock: %v, want timeout", status)
	}
	if status := h.MutexUnlock(m); status != core.StatusSuccess {
		t.Fatalf("unlock: %v", status)
	}
	if status := h.MutexLock(m, 0); status != core.StatusSuccess {
		t.Fatalf("relock: %v", status)
	}
}

func TestSimEventCounting(t *testing.T) {
	h := NewSimHost()
	e, _ := h.EventCreate()

	if status := h.EventWait(e, 0); status != core.StatusTimeout {
		t.Fatalf("wait on empty event: %v", status)
	}

	h.EventSignal(e)
	h.EventSignal(e)
	if status := h.EventWait(e, 0); status != core.StatusSuccess {
		t.Fatalf("first wait: %v", status)
	}
	if status := h.EventWait(e, 0); status != core.StatusSuccess {
		t.Fatalf("second wait: %v", status)
	}
	if status := h.EventWait(e, 0); status != core.StatusTimeout {
		t.Fatalf("drained event: %v", status)
	}

	h.EventSignal(e)
	h.EventReset(e)
	if status := h.EventWait(e, 0); status != core.StatusTimeout {
		t.Fatalf("reset event: %v", status)
	}
}

func TestSimMemoryEchoesWrites(t *testing.T) {
	h := NewSimHost()
	if status := h.MMIOWrite(0x1000, 4, 0xDEADBEEF); status != core.StatusSuccess {
		t.Fatalf("write: %v", status)
	}
	v, status := h.MMIORead(0x1000, 4)
	if status != core.StatusSuccess || v != 0xDEADBEEF {
		t.Fatalf("read = 0x%x (%v)", v, status)
	}
	// Byte granular overlap.
	v, _ = h.MMIORead(0x1002, 2)
	if v != 0xDEAD {
		t.Fatalf("overlapping read = 0x%x, want 0xDEAD", v)
	}
}

func TestSimIOWidthChecks(t *testing.T) {
	h := NewSimHost()
	if status := h.IOWrite(0x80, 8, 0); status != core.StatusInvalidArgs {
		t.Fatalf("8 byte port write: %v, want invalid args", status)
	}
	if _, status := h.MMIORead(0, 3); status != core.StatusInvalidArgs {
		t.Fatalf("3 byte mmio read: %v, want invalid args", status)
	}
}

func TestSimWorkQueue(t *testing.T) {
	h := NewSimHost()
	ran := 0
	h.QueueWork(func() { ran++ })
	h.QueueWork(func() { ran++ })
	if n := h.RunWork(); n != 2 || ran != 2 {
		t.Fatalf("RunWork = %d, ran = %d", n, ran)
	}
	if n := h.RunWork(); n != 0 {
		t.Fatalf("drained queue ran %d items", n)
	}
}
