// Package host provides Host implementations for the interpreter. SimHost
// is a fully in-memory host used by the tests and the CLI tools: memory,
// port I/O and PCI config space are byte addressable sparse maps that echo
// writes back on reads.
package host

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tinyrange/aml/internal/core"
)

// Notification records one Notify delivery.
type Notification struct {
	Node  *core.Node
	Value uint64
}

// FatalEvent records one AML Fatal opcode.
type FatalEvent struct {
	Type uint8
	Code uint32
	Arg  uint64
}

type pciKey struct {
	addr   core.PCIAddress
	offset uint64
}

// SimHost implements core.Host against process memory.
type SimHost struct {
	mu sync.Mutex

	mem     map[uint64]byte
	ioPorts map[uint32]byte
	pci     map[pciKey]byte

	// IOWriteHook observes port writes before they are stored, letting
	// tests emulate hardware side effects such as SCI_EN latching or
	// write-one-to-clear status registers. Returning true consumes the
	// write and skips the default store.
	IOWriteHook func(port uint32, size uint8, value uint64) bool

	Notifications []Notification
	Fatals        []FatalEvent
	Breakpoints   int

	workMu sync.Mutex
	work   []func()

	sciMu      sync.Mutex
	sciHandler func() bool
	sciIRQ     uint32

	start time.Time
}

// NewSimHost returns an empty simulated host.
func NewSimHost() *SimHost {
	return &SimHost{
		mem:     make(map[uint64]byte),
		ioPorts: make(map[uint32]byte),
		pci:     make(map[pciKey]byte),
		start:   time.Now(),
	}
}

var _ core.Host = (*SimHost)(nil)

// simMutex is a timed mutex built on a 1-slot channel.
type simMutex struct {
	ch chan struct{}
}

func (h *SimHost) MutexCreate() (core.MutexHandle, core.Status) {
	m := &simMutex{ch: make(chan struct{}, 1)}
	m.ch <- struct{}{}
	return m, core.StatusSuccess
}

func (h *SimHost) MutexDestroy(handle core.MutexHandle) {}

func (h *SimHost) MutexLock(handle core.MutexHandle, timeoutMs uint16) core.Status {
	m := handle.(*simMutex)
	if timeoutMs == core.TimeoutInfinite {
		<-m.ch
		return core.StatusSuccess
	}
	select {
	case <-m.ch:
		return core.StatusSuccess
	default:
	}
	if timeoutMs == 0 {
		return core.StatusTimeout
	}
	select {
	case <-m.ch:
		return core.StatusSuccess
	case <-time.After(time.Duration(timeoutMs) * time.Millisecond):
		return core.StatusTimeout
	}
}

func (h *SimHost) MutexUnlock(handle core.MutexHandle) core.Status {
	m := handle.(*simMutex)
	select {
	case m.ch <- struct{}{}:
		return core.StatusSuccess
	default:
		return core.StatusInvalidArgs
	}
}

// simEvent is a counting event semaphore.
type simEvent struct {
	mu    sync.Mutex
	count int
	wake  chan struct{}
}

func (h *SimHost) EventCreate() (core.EventHandle, core.Status) {
	return &simEvent{wake: make(chan struct{}, 1)}, core.StatusSuccess
}

func (h *SimHost) EventDestroy(handle core.EventHandle) {}

func (e *simEvent) take() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.count > 0 {
		e.count--
		return true
	}
	return false
}

func (h *SimHost) EventWait(handle core.EventHandle, timeoutMs uint16) core.Status {
	e := handle.(*simEvent)

	var deadline <-chan time.Time
	if timeoutMs != core.TimeoutInfinite {
		deadline = time.After(time.Duration(timeoutMs) * time.Millisecond)
	}
	for {
		if e.take() {
			return core.StatusSuccess
		}
		select {
		case <-e.wake:
		case <-deadline:
			return core.StatusTimeout
		}
	}
}

func (h *SimHost) EventSignal(handle core.EventHandle) core.Status {
	e := handle.(*simEvent)
	e.mu.Lock()
	e.count++
	e.mu.Unlock()
	select {
	case e.wake <- struct{}{}:
	default:
	}
	return core.StatusSuccess
}

func (h *SimHost) EventReset(handle core.EventHandle) core.Status {
	e := handle.(*simEvent)
	e.mu.Lock()
	e.count = 0
	e.mu.Unlock()
	return core.StatusSuccess
}

// CurrentThread uses the OS thread ID; mutex ownership only needs equality.
func (h *SimHost) CurrentThread() core.ThreadID {
	return core.ThreadID(unix.Gettid())
}

func (h *SimHost) Timer() uint64 {
	return uint64(time.Since(h.start).Nanoseconds() / 100)
}

func (h *SimHost) Stall(us uint64) {
	end := time.Now().Add(time.Duration(us) * time.Microsecond)
	for time.Now().Before(end) {
	}
}

func (h *SimHost) Sleep(ms uint64) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

func (h *SimHost) Breakpoint() { h.Breakpoints++ }

func (h *SimHost) Fatal(typ uint8, code uint32, arg uint64) {
	h.Fatals = append(h.Fatals, FatalEvent{Type: typ, Code: code, Arg: arg})
}

func validWidth(size uint8, pio bool) bool {
	switch size {
	case 1, 2, 4:
		return true
	case 8:
		return !pio
	}
	return false
}

func (h *SimHost) MMIORead(addr uint64, size uint8) (uint64, core.Status) {
	if !validWidth(size, false) {
		return 0, core.StatusInvalidArgs
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	var value uint64
	for i := uint8(0); i < size; i++ {
		value |= uint64(h.mem[addr+uint64(i)]) << (i * 8)
	}
	return value, core.StatusSuccess
}

func (h *SimHost) MMIOWrite(addr uint64, size uint8, value uint64) core.Status {
	if !validWidth(size, false) {
		return core.StatusInvalidArgs
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := uint8(0); i < size; i++ {
		h.mem[addr+uint64(i)] = byte(value >> (i * 8))
	}
	return core.StatusSuccess
}

func (h *SimHost) IORead(port uint32, size uint8) (uint64, core.Status) {
	if !validWidth(size, true) {
		return 0, core.StatusInvalidArgs
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	var value uint64
	for i := uint8(0); i < size; i++ {
		value |= uint64(h.ioPorts[port+uint32(i)]) << (i * 8)
	}
	return value, core.StatusSuccess
}

func (h *SimHost) IOWrite(port uint32, size uint8, value uint64) core.Status {
	if !validWidth(size, true) {
		return core.StatusInvalidArgs
	}
	if h.IOWriteHook != nil && h.IOWriteHook(port, size, value) {
		return core.StatusSuccess
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := uint8(0); i < size; i++ {
		h.ioPorts[port+uint32(i)] = byte(value >> (i * 8))
	}
	return core.StatusSuccess
}

func (h *SimHost) PCIRead(addr core.PCIAddress, offset uint64, size uint8) (uint64, core.Status) {
	if !validWidth(size, false) {
		return 0, core.StatusInvalidArgs
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	var value uint64
	for i := uint8(0); i < size; i++ {
		value |= uint64(h.pci[pciKey{addr, offset + uint64(i)}]) << (i * 8)
	}
	return value, core.StatusSuccess
}

func (h *SimHost) PCIWrite(addr core.PCIAddress, offset uint64, size uint8, value uint64) core.Status {
	if !validWidth(size, false) {
		return core.StatusInvalidArgs
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := uint8(0); i < size; i++ {
		h.pci[pciKey{addr, offset + uint64(i)}] = byte(value >> (i * 8))
	}
	return core.StatusSuccess
}

func (h *SimHost) Notify(node *core.Node, value uint64) {
	h.Notifications = append(h.Notifications, Notification{Node: node, Value: value})
}

func (h *SimHost) InstallSCIHandler(irq uint32, fn func() bool) (core.SCIHandle, core.Status) {
	h.sciMu.Lock()
	defer h.sciMu.Unlock()
	h.sciHandler = fn
	h.sciIRQ = irq
	return fn, core.StatusSuccess
}

func (h *SimHost) UninstallSCIHandler(irq uint32, handle core.SCIHandle) {
	h.sciMu.Lock()
	defer h.sciMu.Unlock()
	h.sciHandler = nil
}

// TriggerSCI fires the installed SCI handler, as the interrupt controller
// would.
func (h *SimHost) TriggerSCI() bool {
	h.sciMu.Lock()
	fn := h.sciHandler
	h.sciMu.Unlock()
	if fn == nil {
		return false
	}
	return fn()
}

func (h *SimHost) QueueWork(fn func()) core.Status {
	h.workMu.Lock()
	h.work = append(h.work, fn)
	h.workMu.Unlock()
	return core.StatusSuccess
}

// RunWork drains the work queue on the calling goroutine and reports how
// many callbacks ran.
func (h *SimHost) RunWork() int {
	var batch []func()
	h.workMu.Lock()
	batch, h.work = h.work, nil
	h.workMu.Unlock()
	for _, fn := range batch {
		fn()
	}
	return len(batch)
}

// SetMemory seeds guest physical memory for tests.
func (h *SimHost) SetMemory(addr uint64, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range data {
		h.mem[addr+uint64(i)] = b
	}
}

// ReadMemory copies back a memory range for assertions.
func (h *SimHost) ReadMemory(addr uint64, size int) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]byte, size)
	for i := range out {
		out[i] = h.mem[addr+uint64(i)]
	}
	return out
}

// SetIOPort seeds a port byte.
func (h *SimHost) SetIOPort(port uint32, value byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ioPorts[port] = value
}

// IOPort reads back a port byte.
func (h *SimHost) IOPort(port uint32) byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ioPorts[port]
}

// SetPCI seeds a PCI config byte.
func (h *SimHost) SetPCI(addr core.PCIAddress, offset uint64, value byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pci[pciKey{addr, offset}] = value
}
