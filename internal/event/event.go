// Package event implements the ACPI event model on top of the interpreter:
// general purpose events, fixed PM1 events, notifications and the
// sleep/wake/reset sequencing.
package event

import (
	"fmt"

	"github.com/tinyrange/aml/internal/core"
	"github.com/tinyrange/aml/internal/tables"
)

// GpeTrigger selects the acknowledge protocol for a GPE.
type GpeTrigger uint8

const (
	TriggerEdge GpeTrigger = iota
	TriggerLevel
)

// FixedEvent identifies a PM1 fixed event by its status/enable bit.
type FixedEvent int

const (
	FixedTimer       FixedEvent = 0
	FixedPowerButton FixedEvent = 8
	FixedSleepButton FixedEvent = 9
	FixedRTC         FixedEvent = 10

	wakeStatusBit = 15
)

// SleepState is an ACPI S-state.
type SleepState int

const (
	S1 SleepState = iota + 1
	S2
	S3
	S4
	S5
)

func (s SleepState) String() string { return fmt.Sprintf("S%d", int(s)) }

const (
	slpTypShift = 10
	slpEnBit    = 1 << 13
	sciEnBit    = 1 << 0
)

// gpeRegister is one status/enable byte pair of a GPE block.
type gpeRegister struct {
	host core.Host
	sts  tables.GenericAddress
	en   tables.GenericAddress
}

func (r *gpeRegister) status() (uint8, core.Status) {
	v, status := readAddr(r.host, r.sts)
	return uint8(v), status
}

func (r *gpeRegister) clearStatus(bit uint8) core.Status {
	return writeAddr(r.host, r.sts, 1<<bit)
}

func (r *gpeRegister) clearAllStatus() core.Status {
	return writeAddr(r.host, r.sts, 0xFF)
}

func (r *gpeRegister) setEnabled(bit uint8, enabled bool) core.Status {
	v, status := readAddr(r.host, r.en)
	if status != core.StatusSuccess {
		return status
	}
	if enabled {
		v |= 1 << bit
	} else {
		v &^= 1 << bit
	}
	return writeAddr(r.host, r.en, v)
}

func (r *gpeRegister) disableAll() core.Status {
	return writeAddr(r.host, r.en, 0)
}

// gpeHandler is an armed GPE: either a native callback or an \_GPE._Exx /
// _Lxx AML method.
type gpeHandler struct {
	reg     *gpeRegister
	bit     uint8
	index   uint32
	trigger GpeTrigger
	wake    bool

	fn         func()
	methodName string
}

type gpeBlock struct {
	regs     []gpeRegister
	handlers []*gpeHandler
	base     uint32
}

type fixedHandler struct {
	fn func()
}

type notifyHandler struct {
	node *core.Node
	fn   func(node *core.Node, value uint64)
}

// Context is the event subsystem for one interpreter context.
type Context struct {
	aml  *core.Context
	host core.Host
	fadt *tables.FADT

	blocks [2]gpeBlock

	pm1aEvtSts tables.GenericAddress
	pm1aEvtEn  tables.GenericAddress
	pm1bEvtSts tables.GenericAddress
	pm1bEvtEn  tables.GenericAddress

	sciHandle core.SCIHandle
	sciIRQ    uint32

	fixedHandlers [FixedRTC + 1]fixedHandler

	fixedPowerButton bool
	fixedSleepButton bool

	notifyHandlers []*notifyHandler

	slpTypA, slpTypB     uint8
	slpTypAS0, slpTypBS0 uint8
	haveS0               bool
}

// New parses the FADT, programs the GPE blocks to a quiet state and installs
// the SCI handler. The returned context also receives every AML Notify.
func New(amlCtx *core.Context, fadtRaw []byte) (*Context, core.Status) {
	fadt, err := tables.ParseFADT(fadtRaw)
	if err != nil {
		amlCtx.Logger().Error("FADT parse failed", "err", err)
		return nil, core.StatusInvalidArgs
	}

	c := &Context{
		aml:       amlCtx,
		host:      amlCtx.Host(),
		fadt:      fadt,
		slpTypAS0: 0xFF,
		slpTypBS0: 0xFF,
	}

	c.pm1aEvtSts, c.pm1aEvtEn = splitEventBlock(fadt.PM1aEvtBlk, fadt.PM1EvtLen)
	if fadt.PM1bEvtBlk.Address != 0 {
		c.pm1bEvtSts, c.pm1bEvtEn = splitEventBlock(fadt.PM1bEvtBlk, fadt.PM1EvtLen)
	}

	c.blocks[0].base = 0
	c.blocks[1].base = uint32(fadt.GPE1Base)
	c.initGpeBlock(&c.blocks[0], fadt.GPE0Blk, fadt.GPE0BlkLen)
	c.initGpeBlock(&c.blocks[1], fadt.GPE1Blk, fadt.GPE1BlkLen)

	c.fixedPowerButton = fadt.Flags&tables.FlagPowerButtonAbsent == 0
	c.fixedSleepButton = fadt.Flags&tables.FlagSleepButtonAbsent == 0

	handle, status := c.host.InstallSCIHandler(uint32(fadt.SCIInt), c.onSCI)
	if status != core.StatusSuccess {
		return nil, status
	}
	c.sciHandle = handle
	c.sciIRQ = uint32(fadt.SCIInt)

	amlCtx.NotifyHook = c.OnNotify

	return c, core.StatusSuccess
}

// Close disables every GPE and removes the SCI handler.
func (c *Context) Close() {
	for i := range c.blocks {
		for r := range c.blocks[i].regs {
			c.blocks[i].regs[r].disableAll()
		}
	}
	if c.sciHandle != nil {
		c.host.UninstallSCIHandler(c.sciIRQ, c.sciHandle)
		c.sciHandle = nil
	}
}

// splitEventBlock derives the status and enable halves of a PM1 event
// block: status occupies the low half, enable the high half.
func splitEventBlock(addr tables.GenericAddress, length uint8) (sts, en tables.GenericAddress) {
	sts = addr
	sts.BitWidth /= 2
	en = addr
	en.Address += uint64(length) / 2
	en.BitWidth /= 2
	return sts, en
}

// initGpeBlock lays out status/enable register pairs: for register i the
// pair is (base+i, base+regCount+i), one byte each, and quiesces them.
func (c *Context) initGpeBlock(block *gpeBlock, addr tables.GenericAddress, length uint8) {
	if addr.Address == 0 {
		return
	}
	regCount := int(length) / 2
	for i := 0; i < regCount; i++ {
		reg := gpeRegister{
			host: c.host,
			sts: tables.GenericAddress{
				SpaceID:    addr.SpaceID,
				BitWidth:   8,
				AccessSize: 1,
				Address:    addr.Address + uint64(i),
			},
			en: tables.GenericAddress{
				SpaceID:    addr.SpaceID,
				BitWidth:   8,
				AccessSize: 1,
				Address:    addr.Address + uint64(regCount) + uint64(i),
			},
		}
		reg.disableAll()
		reg.clearAllStatus()
		block.regs = append(block.regs, reg)
	}
}

// register locates the status/enable pair covering a GPE index; block 1
// indices are offset by the FADT's GPE1 base.
func (c *Context) register(index uint32) (*gpeRegister, *gpeBlock, uint32, bool) {
	if len(c.blocks[1].regs) > 0 && index >= c.blocks[1].base {
		rel := index - c.blocks[1].base
		if int(rel/8) >= len(c.blocks[1].regs) {
			return nil, nil, 0, false
		}
		return &c.blocks[1].regs[rel/8], &c.blocks[1], rel, true
	}
	if int(index/8) >= len(c.blocks[0].regs) {
		return nil, nil, 0, false
	}
	return &c.blocks[0].regs[index/8], &c.blocks[0], index, true
}

// EnableGpe arms a GPE with a native callback.
func (c *Context) EnableGpe(index uint32, trigger GpeTrigger, fn func()) core.Status {
	reg, block, rel, ok := c.register(index)
	if !ok {
		return core.StatusInvalidArgs
	}

	handler := &gpeHandler{
		reg:     reg,
		bit:     uint8(rel % 8),
		index:   index,
		trigger: trigger,
		fn:      fn,
	}
	block.handlers = append(block.handlers, handler)

	if status := reg.setEnabled(handler.bit, true); status != core.StatusSuccess {
		block.handlers = block.handlers[:len(block.handlers)-1]
		return status
	}
	return core.StatusSuccess
}

// DisableGpe clears the enable bit and forgets the handler.
func (c *Context) DisableGpe(index uint32) core.Status {
	reg, block, rel, ok := c.register(index)
	if !ok {
		return core.StatusInvalidArgs
	}
	if status := reg.setEnabled(uint8(rel%8), false); status != core.StatusSuccess {
		return status
	}
	for i, handler := range block.handlers {
		if handler.reg == reg && handler.bit == uint8(rel%8) {
			block.handlers = append(block.handlers[:i], block.handlers[i+1:]...)
			return core.StatusSuccess
		}
	}
	return core.StatusInvalidArgs
}

// SetGpeWake marks a GPE as wake-qualified: it stays armed across a sleep
// transition.
func (c *Context) SetGpeWake(index uint32, wake bool) core.Status {
	_, block, rel, ok := c.register(index)
	if !ok {
		return core.StatusInvalidArgs
	}
	for _, handler := range block.handlers {
		if handler.index == index || (handler.bit == uint8(rel%8) && handler.index == index) {
			handler.wake = wake
			return core.StatusSuccess
		}
	}
	return core.StatusNotFound
}

// EnableEventsFromNamespace walks \_GPE and arms an AML handler for every
// _Exx (edge) and _Lxx (level) method found.
func (c *Context) EnableEventsFromNamespace() core.Status {
	gpeNode := c.aml.FindNode(nil, "_GPE")
	if gpeNode == nil {
		return core.StatusInternalError
	}

	result := core.StatusSuccess
	c.aml.IterateNodes(gpeNode, func(node *core.Node) core.IterDecision {
		name := node.Name()
		if name[0] != '_' {
			return core.IterContinue
		}

		var trigger GpeTrigger
		switch name[1] {
		case 'E':
			trigger = TriggerEdge
		case 'L':
			trigger = TriggerLevel
		default:
			return core.IterContinue
		}

		index, ok := parseGpeIndex(name[2:4])
		if !ok {
			return core.IterContinue
		}

		if status := c.enableAmlGpe(index, name, trigger); status != core.StatusSuccess {
			result = status
		}
		return core.IterContinue
	})
	return result
}

func parseGpeIndex(s string) (uint32, bool) {
	var index uint32
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			index = index*16 + uint32(c-'0')
		case c >= 'A' && c <= 'F':
			index = index*16 + uint32(c-'A'+10)
		default:
			return 0, false
		}
	}
	return index, true
}

func (c *Context) enableAmlGpe(index uint32, methodName string, trigger GpeTrigger) core.Status {
	reg, block, rel, ok := c.register(index)
	if !ok {
		return core.StatusInvalidArgs
	}

	handler := &gpeHandler{
		reg:        reg,
		bit:        uint8(rel % 8),
		index:      index,
		trigger:    trigger,
		methodName: methodName,
	}
	block.handlers = append(block.handlers, handler)

	if status := reg.setEnabled(handler.bit, true); status != core.StatusSuccess {
		block.handlers = block.handlers[:len(block.handlers)-1]
		return status
	}
	return core.StatusSuccess
}

// enableFixed applies the fixed-event enable mask to both PM1 enable
// registers.
func (c *Context) enableFixed(event FixedEvent, enable bool) core.Status {
	value, status := readAddr(c.host, c.pm1aEvtEn)
	if status != core.StatusSuccess {
		return status
	}
	if c.pm1bEvtEn.Address != 0 {
		v, status := readAddr(c.host, c.pm1bEvtEn)
		if status != core.StatusSuccess {
			return status
		}
		value |= v
	}

	if enable {
		value |= 1 << uint(event)
	} else {
		value &^= 1 << uint(event)
	}

	if status := writeAddr(c.host, c.pm1aEvtEn, value); status != core.StatusSuccess {
		return status
	}
	if c.pm1bEvtEn.Address != 0 {
		return writeAddr(c.host, c.pm1bEvtEn, value)
	}
	return core.StatusSuccess
}

// EnableFixedEvent arms a fixed-feature event with a host callback.
func (c *Context) EnableFixedEvent(event FixedEvent, fn func()) core.Status {
	if (event == FixedPowerButton && !c.fixedPowerButton) ||
		(event == FixedSleepButton && !c.fixedSleepButton) {
		return core.StatusUnsupported
	}
	if c.fixedHandlers[event].fn != nil {
		return core.StatusInvalidArgs
	}
	if status := c.enableFixed(event, true); status != core.StatusSuccess {
		return status
	}
	c.fixedHandlers[event].fn = fn
	return core.StatusSuccess
}

// DisableFixedEvent reverses EnableFixedEvent.
func (c *Context) DisableFixedEvent(event FixedEvent) core.Status {
	if c.fixedHandlers[event].fn == nil {
		return core.StatusInvalidArgs
	}
	if status := c.enableFixed(event, false); status != core.StatusSuccess {
		return status
	}
	c.fixedHandlers[event].fn = nil
	return core.StatusSuccess
}

var allFixedEvents = []FixedEvent{FixedTimer, FixedPowerButton, FixedSleepButton, FixedRTC}

const fixedEventMask = 1<<FixedTimer | 1<<FixedPowerButton | 1<<FixedSleepButton | 1<<FixedRTC

// checkFixedEvents polls PM1 status; set bits of interest dispatch their
// handler on the work queue and are cleared.
func (c *Context) checkFixedEvents() bool {
	status, s := readAddr(c.host, c.pm1aEvtSts)
	if s != core.StatusSuccess {
		return false
	}
	if c.pm1bEvtSts.Address != 0 {
		v, s := readAddr(c.host, c.pm1bEvtSts)
		if s != core.StatusSuccess {
			return false
		}
		status |= v
	}

	set := status & fixedEventMask
	if set == 0 {
		return false
	}

	for _, event := range allFixedEvents {
		if set&(1<<uint(event)) == 0 {
			continue
		}
		if fn := c.fixedHandlers[event].fn; fn != nil {
			c.host.QueueWork(fn)
		}
	}

	writeAddr(c.host, c.pm1aEvtSts, set)
	if c.pm1bEvtSts.Address != 0 {
		writeAddr(c.host, c.pm1bEvtSts, set)
	}
	return true
}

// checkGpeEvents polls GPE status registers; for each pending armed event
// the bit is disabled, edge-triggered status is cleared immediately, and the
// handler is queued.
func (c *Context) checkGpeEvents() bool {
	for i := range c.blocks {
		for _, handler := range c.blocks[i].handlers {
			sts, status := handler.reg.status()
			if status != core.StatusSuccess {
				continue
			}
			if sts&(1<<handler.bit) == 0 {
				continue
			}
			if handler.reg.setEnabled(handler.bit, false) != core.StatusSuccess {
				continue
			}
			if handler.trigger == TriggerEdge {
				if handler.reg.clearStatus(handler.bit) != core.StatusSuccess {
					continue
				}
			}
			c.host.QueueWork(func() { c.runGpeHandler(handler) })
			return true
		}
	}
	return false
}

// runGpeHandler executes an armed GPE's action on a work-queue thread, then
// completes the acknowledge protocol and re-enables the event.
func (c *Context) runGpeHandler(handler *gpeHandler) {
	if handler.fn != nil {
		handler.fn()
	} else {
		gpe := c.aml.FindNode(nil, "_GPE")
		var res *core.Object
		status := c.aml.EvaluateAt(gpe, handler.methodName, nil, &res)
		if status != core.StatusSuccess && status != core.StatusNotFound {
			c.aml.Logger().Warn("GPE method failed",
				"method", handler.methodName, "status", status)
		}
	}

	if handler.trigger == TriggerLevel {
		handler.reg.clearStatus(handler.bit)
	}
	handler.reg.setEnabled(handler.bit, true)
}

// onSCI is the system control interrupt body.
func (c *Context) onSCI() bool {
	return c.checkFixedEvents() || c.checkGpeEvents()
}

// InstallNotifyHandler registers fn for Notify operations on node.
func (c *Context) InstallNotifyHandler(node *core.Node, fn func(node *core.Node, value uint64)) core.Status {
	c.notifyHandlers = append(c.notifyHandlers, &notifyHandler{node: node, fn: fn})
	return core.StatusSuccess
}

// UninstallNotifyHandler removes the handler registered for node.
func (c *Context) UninstallNotifyHandler(node *core.Node) {
	for i, h := range c.notifyHandlers {
		if h.node == node {
			c.notifyHandlers = append(c.notifyHandlers[:i], c.notifyHandlers[i+1:]...)
			return
		}
	}
}

// OnNotify dispatches a notification to the first matching handler.
func (c *Context) OnNotify(node *core.Node, value uint64) {
	for _, h := range c.notifyHandlers {
		if h.node == node {
			h.fn(node, value)
			return
		}
	}
}
