package event

import (
	"fmt"

	"github.com/tinyrange/aml/internal/core"
)

const (
	sstWorking = 1
)

// sleepTypes evaluates an _Sx package and extracts SLP_TYPa/b from its
// first two elements.
func (c *Context) sleepTypes(name string) (uint8, uint8, core.Status) {
	var pkg *core.Object
	status := c.aml.EvaluatePackage("\\"+name, nil, &pkg)
	if status != core.StatusSuccess {
		return 0, 0, status
	}
	if pkg.PackageLen() < 2 {
		return 0, 0, core.StatusInvalidType
	}

	var typ [2]uint64
	for i := 0; i < 2; i++ {
		elem, status := c.aml.GetPackageElement(pkg, i)
		if status != core.StatusSuccess {
			return 0, 0, status
		}
		if elem.Kind() != core.KindInteger {
			return 0, 0, core.StatusInvalidType
		}
		typ[i] = elem.Integer()
	}
	return uint8(typ[0]), uint8(typ[1]), core.StatusSuccess
}

// PrepareForSleep evaluates _PTS for the target state and latches the
// SLP_TYP values from the matching _Sx package. The S0 values are captured
// on first use so a later wake can restore them.
func (c *Context) PrepareForSleep(state SleepState) core.Status {
	args := []*core.Object{core.NewInteger(uint64(state))}
	var res *core.Object
	status := c.aml.Evaluate("\\_PTS", args, &res)
	if status != core.StatusSuccess && status != core.StatusNotFound &&
		status != core.StatusMethodNotFound {
		return status
	}

	if !c.haveS0 {
		if a, b, status := c.sleepTypes("_S0_"); status == core.StatusSuccess {
			c.slpTypAS0, c.slpTypBS0 = a, b
			c.haveS0 = true
		}
	}

	a, b, status := c.sleepTypes(fmt.Sprintf("_S%d_", int(state)))
	if status != core.StatusSuccess {
		return status
	}
	c.slpTypA, c.slpTypB = a, b
	return core.StatusSuccess
}

// writeSleepControl writes SLP_TYP and then SLP_EN into the PM1 control
// registers.
func (c *Context) writeSleepControl(typA, typB uint8) core.Status {
	a := uint64(typA) << slpTypShift
	if status := writeAddr(c.host, c.fadt.PM1aCntBlk, a); status != core.StatusSuccess {
		return status
	}
	if c.fadt.PM1bCntBlk.Address != 0 {
		b := uint64(typB) << slpTypShift
		if status := writeAddr(c.host, c.fadt.PM1bCntBlk, b); status != core.StatusSuccess {
			return status
		}
	}

	if status := writeAddr(c.host, c.fadt.PM1aCntBlk, a|slpEnBit); status != core.StatusSuccess {
		return status
	}
	if c.fadt.PM1bCntBlk.Address != 0 {
		b := uint64(typB) << slpTypShift
		return writeAddr(c.host, c.fadt.PM1bCntBlk, b|slpEnBit)
	}
	return core.StatusSuccess
}

// EnterSleepState performs the hardware side of the sleep transition:
// clear wake status, quiesce the GPE blocks, rearm wake-qualified GPEs and
// write SLP_TYP/SLP_EN. For S4 and deeper, still executing after ten
// seconds is reported as a timeout.
func (c *Context) EnterSleepState(state SleepState) core.Status {
	writeAddr(c.host, c.pm1aEvtSts, 1<<wakeStatusBit)
	if c.pm1bEvtSts.Address != 0 {
		writeAddr(c.host, c.pm1bEvtSts, 1<<wakeStatusBit)
	}

	for i := range c.blocks {
		for r := range c.blocks[i].regs {
			c.blocks[i].regs[r].disableAll()
			c.blocks[i].regs[r].clearAllStatus()
		}
	}
	for i := range c.blocks {
		for _, handler := range c.blocks[i].handlers {
			if handler.wake {
				handler.reg.setEnabled(handler.bit, true)
			}
		}
	}

	if status := c.writeSleepControl(c.slpTypA, c.slpTypB); status != core.StatusSuccess {
		return status
	}

	if state >= S4 {
		deadline := c.host.Timer() + 10*10_000_000
		for c.host.Timer() < deadline {
			c.host.Sleep(10)
		}
		return core.StatusTimeout
	}
	return core.StatusSuccess
}

// PrepareForWake restores the S0 sleep type values captured before the
// transition.
func (c *Context) PrepareForWake() core.Status {
	if !c.haveS0 {
		return core.StatusSuccess
	}
	return c.writeSleepControl(c.slpTypAS0, c.slpTypBS0)
}

// WakeFromState reverses a sleep transition: every armed GPE is re-enabled,
// then _WAK runs and \_SI._SST is told the system is working.
func (c *Context) WakeFromState(state SleepState) core.Status {
	for i := range c.blocks {
		for _, handler := range c.blocks[i].handlers {
			handler.reg.setEnabled(handler.bit, true)
		}
	}

	args := []*core.Object{core.NewInteger(uint64(state))}
	var res *core.Object
	status := c.aml.Evaluate("\\_WAK", args, &res)
	if status != core.StatusSuccess && status != core.StatusNotFound &&
		status != core.StatusMethodNotFound {
		return status
	}

	si := c.aml.FindNode(nil, "_SI_")
	if si != nil {
		sstArgs := []*core.Object{core.NewInteger(sstWorking)}
		status := c.aml.EvaluateAt(si, "_SST", sstArgs, &res)
		if status != core.StatusSuccess && status != core.StatusNotFound &&
			status != core.StatusMethodNotFound {
			c.aml.Logger().Warn("_SST failed", "status", status)
		}
	}
	return core.StatusSuccess
}

// EnableAcpiMode writes the FADT's enable (or disable) command to the SMI
// command port and polls SCI_EN for up to two seconds.
func (c *Context) EnableAcpiMode(enable bool) core.Status {
	if c.fadt.SMICmd == 0 {
		return core.StatusUnsupported
	}

	cmd := c.fadt.ACPIEnable
	if !enable {
		cmd = c.fadt.ACPIDisable
	}
	if status := c.host.IOWrite(c.fadt.SMICmd, 1, uint64(cmd)); status != core.StatusSuccess {
		return status
	}

	deadline := c.host.Timer() + 2*10_000_000
	for {
		value, status := readAddr(c.host, c.fadt.PM1aCntBlk)
		if status == core.StatusSuccess {
			if c.fadt.PM1bCntBlk.Address != 0 {
				if v, status := readAddr(c.host, c.fadt.PM1bCntBlk); status == core.StatusSuccess {
					value |= v
				}
			}
			if (value&sciEnBit != 0) == enable {
				return core.StatusSuccess
			}
		}
		if c.host.Timer() >= deadline {
			return core.StatusTimeout
		}
		c.host.Sleep(1)
	}
}

// Reset writes the FADT reset value into the reset register.
func (c *Context) Reset() core.Status {
	if !c.fadt.ResetSupported() {
		return core.StatusUnsupported
	}
	return writeAddr(c.host, c.fadt.ResetReg, uint64(c.fadt.ResetValue))
}
