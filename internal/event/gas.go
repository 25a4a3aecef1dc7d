package event

import (
	"github.com/tinyrange/aml/internal/core"
	"github.com/tinyrange/aml/internal/tables"
)

// accessWidth derives the byte width of a generic address: the declared
// access size wins, otherwise the register bit width rounds up.
func accessWidth(a tables.GenericAddress) uint8 {
	switch a.AccessSize {
	case 1:
		return 1
	case 2:
		return 2
	case 3:
		return 4
	case 4:
		return 8
	}
	width := (uint32(a.BitWidth) + 7) / 8
	switch {
	case width <= 1:
		return 1
	case width <= 2:
		return 2
	case width <= 4:
		return 4
	default:
		return 8
	}
}

// readAddr reads a register described by a generic address structure.
func readAddr(h core.Host, a tables.GenericAddress) (uint64, core.Status) {
	if a.Address == 0 {
		return 0, core.StatusInvalidArgs
	}
	size := accessWidth(a)

	var value uint64
	var status core.Status
	switch a.SpaceID {
	case tables.SpaceSystemMemory:
		value, status = h.MMIORead(a.Address, size)
	case tables.SpaceSystemIO:
		value, status = h.IORead(uint32(a.Address), size)
	default:
		return 0, core.StatusUnsupported
	}
	if status != core.StatusSuccess {
		return 0, status
	}

	if a.BitWidth != 0 && a.BitWidth < 64 {
		value >>= a.BitOffset
		value &= uint64(1)<<a.BitWidth - 1
	}
	return value, core.StatusSuccess
}

// writeAddr writes a register described by a generic address structure.
func writeAddr(h core.Host, a tables.GenericAddress, value uint64) core.Status {
	if a.Address == 0 {
		return core.StatusInvalidArgs
	}
	size := accessWidth(a)

	switch a.SpaceID {
	case tables.SpaceSystemMemory:
		return h.MMIOWrite(a.Address, size, value)
	case tables.SpaceSystemIO:
		return h.IOWrite(uint32(a.Address), size, value)
	default:
		return core.StatusUnsupported
	}
}
