package core

import "github.com/tinyrange/aml/internal/tables"

var (
	pciID  = tables.EisaFromString("PNP0A03")
	pcieID = tables.EisaFromString("PNP0A08")
)

// pciConfigHandler is the built-in PCI configuration space handler. Attach
// walks up from the region to the owning host bridge and derives the
// region's bus/device/function from _SEG, _BBN and _ADR.
func pciConfigHandler() *RegionSpaceHandler {
	return &RegionSpaceHandler{
		Space:  SpacePCIConfig,
		Attach: pciConfigAttach,
		Detach: func(*Context, *Node) Status { return StatusSuccess },
		Read: func(region *Node, offset uint64, size uint8, _ any) (uint64, Status) {
			r := region.object.region
			return r.ctx.host.PCIRead(r.PCIAddress, offset, size)
		},
		Write: func(region *Node, offset uint64, size uint8, value uint64, _ any) Status {
			r := region.object.region
			return r.ctx.host.PCIWrite(r.PCIAddress, offset, size, value)
		},
	}
}

func pciConfigAttach(c *Context, regionNode *Node) Status {
	for node := regionNode; node != nil; node = node.parent {
		isBridge, status := pciBridgeNode(c, node)
		if status != StatusSuccess {
			return status
		}
		if !isBridge {
			continue
		}

		var seg, bus, adr uint64
		if status := optionalInt(c, node, "_SEG", &seg); status != StatusSuccess {
			return status
		}
		if status := optionalInt(c, node, "_BBN", &bus); status != StatusSuccess {
			return status
		}
		if status := optionalInt(c, node, "_ADR", &adr); status != StatusSuccess {
			return status
		}

		region := regionNode.object.region
		region.PCIAddress = PCIAddress{
			Segment:  uint16(seg),
			Bus:      uint8(bus),
			Device:   uint16(adr >> 16),
			Function: uint16(adr),
		}
		return StatusSuccess
	}
	return StatusUnsupported
}

// pciBridgeNode reports whether node's _HID or _CID names a PCI or PCIe
// host bridge.
func pciBridgeNode(c *Context, node *Node) (bool, Status) {
	var res *Object
	status := c.EvaluateAt(node, "_HID", nil, &res)
	if status == StatusSuccess {
		if id := idFromObject(res); id == pciID || id == pcieID {
			return true, StatusSuccess
		}
	} else if status != StatusNotFound && status != StatusMethodNotFound {
		return false, status
	}

	status = c.EvaluateAt(node, "_CID", nil, &res)
	if status == StatusNotFound || status == StatusMethodNotFound {
		return false, StatusSuccess
	} else if status != StatusSuccess {
		return false, status
	}

	candidates := []*Object{res}
	if res.kind == KindPackage {
		candidates = candidates[:0]
		for i := range res.pkg {
			elem, status := c.GetPackageElement(res, i)
			if status != StatusSuccess {
				continue
			}
			candidates = append(candidates, elem)
		}
	}
	for _, cand := range candidates {
		if id := idFromObject(cand); id == pciID || id == pcieID {
			return true, StatusSuccess
		}
	}
	return false, StatusSuccess
}

func optionalInt(c *Context, node *Node, name string, out *uint64) Status {
	var res *Object
	status := c.EvaluateAt(node, name, nil, &res)
	switch status {
	case StatusSuccess:
		if res.kind != KindInteger {
			return StatusInvalidType
		}
		*out = res.integer
		return StatusSuccess
	case StatusNotFound, StatusMethodNotFound:
		*out = 0
		return StatusSuccess
	default:
		return status
	}
}
