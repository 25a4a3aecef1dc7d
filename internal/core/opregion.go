package core

// RegionSpace identifies the address space an operation region windows into.
type RegionSpace uint8

const (
	SpaceSystemMemory RegionSpace = 0x0
	SpaceSystemIO     RegionSpace = 0x1
	SpacePCIConfig    RegionSpace = 0x2
	SpaceEmbeddedCtl  RegionSpace = 0x3
	SpaceSMBus        RegionSpace = 0x4
	SpaceSystemCMOS   RegionSpace = 0x5
	SpacePCIBarTarget RegionSpace = 0x6
	SpaceIPMI         RegionSpace = 0x7
	SpaceGeneralIO    RegionSpace = 0x8
	SpaceSerialBus    RegionSpace = 0x9
	SpacePCC          RegionSpace = 0xA
)

func (s RegionSpace) String() string {
	switch s {
	case SpaceSystemMemory:
		return "SystemMemory"
	case SpaceSystemIO:
		return "SystemIO"
	case SpacePCIConfig:
		return "PCI_Config"
	case SpaceEmbeddedCtl:
		return "EmbeddedControl"
	case SpaceSMBus:
		return "SMBus"
	case SpaceSystemCMOS:
		return "SystemCMOS"
	case SpacePCIBarTarget:
		return "PciBarTarget"
	case SpaceIPMI:
		return "IPMI"
	case SpaceGeneralIO:
		return "GeneralPurposeIO"
	case SpaceSerialBus:
		return "GenericSerialBus"
	case SpacePCC:
		return "PCC"
	}
	return "Unknown"
}

// RegionSpaceHandler services operation regions of one address space.
// SystemMemory and SystemIO are built in, and every context registers a
// PCI_Config handler itself; any other space needs a handler registered on
// the context before its regions become accessible.
type RegionSpaceHandler struct {
	Space RegionSpace

	// Attach runs before the region's first access through this handler.
	Attach func(c *Context, region *Node) Status
	// Detach runs when the handler is deregistered.
	Detach func(c *Context, region *Node) Status
	Read   func(region *Node, offset uint64, size uint8, arg any) (uint64, Status)
	Write  func(region *Node, offset uint64, size uint8, value uint64, arg any) Status
	Arg    any
}

// OpRegion is a declared window into an address space.
type OpRegion struct {
	ctx  *Context
	node *Node

	Offset     uint64
	Size       uint64
	Space      RegionSpace
	PCIAddress PCIAddress

	attached bool
	regged   bool
}

// Read performs one access-sized read at a byte offset relative to the
// region base.
func (r *OpRegion) Read(offset uint64, size uint8) (uint64, Status) {
	switch r.Space {
	case SpaceSystemMemory:
		return r.ctx.host.MMIORead(r.Offset+offset, size)
	case SpaceSystemIO:
		return r.ctx.host.IORead(uint32(r.Offset+offset), size)
	}

	handler := r.ctx.findRegionHandler(r.Space)
	if handler == nil {
		return 0, StatusUnsupported
	}
	if status := r.attach(handler); status != StatusSuccess {
		return 0, status
	}
	return handler.Read(r.node, r.Offset+offset, size, handler.Arg)
}

// Write performs one access-sized write at a byte offset relative to the
// region base.
func (r *OpRegion) Write(offset uint64, size uint8, value uint64) Status {
	switch r.Space {
	case SpaceSystemMemory:
		return r.ctx.host.MMIOWrite(r.Offset+offset, size, value)
	case SpaceSystemIO:
		return r.ctx.host.IOWrite(uint32(r.Offset+offset), size, value)
	}

	handler := r.ctx.findRegionHandler(r.Space)
	if handler == nil {
		return StatusUnsupported
	}
	if status := r.attach(handler); status != StatusSuccess {
		return status
	}
	return handler.Write(r.node, r.Offset+offset, size, value, handler.Arg)
}

func (r *OpRegion) attach(handler *RegionSpaceHandler) Status {
	if r.attached {
		return StatusSuccess
	}
	if handler.Attach != nil {
		if status := handler.Attach(r.ctx, r.node); status != StatusSuccess {
			return status
		}
	}
	r.attached = true
	return StatusSuccess
}

const (
	regDisconnect uint64 = 0
	regConnect    uint64 = 1
)

// runReg evaluates _REG(space, 1) on the region's parent scope. A missing
// _REG reports NotFound so the caller can queue the region for the
// namespace initialization pass or a late handler registration.
func (r *OpRegion) runReg() Status {
	args := []*Object{newInteger(uint64(r.Space)), newInteger(regConnect)}

	var res *Object
	status := r.ctx.EvaluateAt(r.node.parent, "_REG", args, &res)
	switch status {
	case StatusSuccess:
		r.regged = true
		return StatusSuccess
	case StatusNotFound, StatusMethodNotFound:
		return StatusNotFound
	default:
		return status
	}
}

func (c *Context) findRegionHandler(space RegionSpace) *RegionSpaceHandler {
	for _, h := range c.regionHandlers {
		if h.Space == space {
			return h
		}
	}
	return nil
}

// RegisterRegionHandler makes an address space accessible and immediately
// retries _REG for any region of that space still waiting for it.
func (c *Context) RegisterRegionHandler(handler *RegionSpaceHandler) {
	c.regionHandlers = append(c.regionHandlers, handler)

	remaining := c.pendingRegs[:0]
	for _, node := range c.pendingRegs {
		region := node.object.region
		if region.Space != handler.Space {
			remaining = append(remaining, node)
			continue
		}
		c.log.Debug("running late _REG", "region", node.AbsolutePath())
		if region.runReg() != StatusSuccess {
			remaining = append(remaining, node)
		}
	}
	c.pendingRegs = remaining
}

// DeregisterRegionHandler removes a previously registered handler, running
// its Detach callback on every attached region of that space.
func (c *Context) DeregisterRegionHandler(handler *RegionSpaceHandler) {
	for i, h := range c.regionHandlers {
		if h == handler {
			c.regionHandlers = append(c.regionHandlers[:i], c.regionHandlers[i+1:]...)
			break
		}
	}
	if handler.Detach == nil {
		return
	}
	c.IterateNodes(nil, func(node *Node) IterDecision {
		if obj := node.object; obj != nil && obj.kind == KindOpRegion {
			if r := obj.region; r.Space == handler.Space && r.attached {
				handler.Detach(c, node)
				r.attached = false
			}
		}
		return IterContinue
	})
}
