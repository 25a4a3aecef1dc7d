package core

import "sync/atomic"

// Mutex wraps a host mutex with the per-thread recursion the AML Acquire and
// Release opcodes require. Host mutexes do not need to be recursive.
type Mutex struct {
	host      Host
	handle    MutexHandle
	owner     atomic.Uint64
	recursion int
	SyncLevel uint8

	// prev/next chain the mutex into its acquiring scope (the active method
	// frame, or the context-global list for AML executed outside a method).
	prev, next *Mutex
}

func newMutex(host Host, syncLevel uint8) (*Mutex, Status) {
	handle, status := host.MutexCreate()
	if status != StatusSuccess {
		return nil, status
	}
	return &Mutex{host: host, handle: handle, SyncLevel: syncLevel}, StatusSuccess
}

func (m *Mutex) clone() (*Mutex, Status) {
	return newMutex(m.host, m.SyncLevel)
}

func (m *Mutex) destroy() {
	if m.handle != nil {
		m.host.MutexDestroy(m.handle)
		m.handle = nil
	}
}

// ownedByCurrentThread reports whether the calling thread already holds m.
func (m *Mutex) ownedByCurrentThread() bool {
	return ThreadID(m.owner.Load()) == m.host.CurrentThread()
}

func (m *Mutex) lock(timeoutMs uint16) Status {
	status := m.host.MutexLock(m.handle, timeoutMs)
	if status == StatusSuccess {
		m.owner.Store(uint64(m.host.CurrentThread()))
	}
	return status
}

func (m *Mutex) unlock() Status {
	if status := m.host.MutexUnlock(m.handle); status != StatusSuccess {
		return status
	}
	m.owner.Store(0)
	return StatusSuccess
}

// Recursion exposes the current recursion depth, mainly for tests.
func (m *Mutex) Recursion() int { return m.recursion }

// Held reports whether any thread currently owns the mutex.
func (m *Mutex) Held() bool { return m.owner.Load() != 0 }

// Event wraps a host event handle.
type Event struct {
	host   Host
	handle EventHandle
}

func newEvent(host Host) (*Event, Status) {
	handle, status := host.EventCreate()
	if status != StatusSuccess {
		return nil, status
	}
	return &Event{host: host, handle: handle}, StatusSuccess
}

func (e *Event) clone() (*Event, Status) { return newEvent(e.host) }

func (e *Event) destroy() {
	if e.handle != nil {
		e.host.EventDestroy(e.handle)
		e.handle = nil
	}
}

func (e *Event) signal() Status { return e.host.EventSignal(e.handle) }

func (e *Event) reset() Status { return e.host.EventReset(e.handle) }

func (e *Event) wait(timeoutMs uint16) Status {
	return e.host.EventWait(e.handle, timeoutMs)
}
