package core

// createNamedNode resolves name in Create mode and reports whether the node
// is fresh. Duplicate definitions are warned about and skipped, matching
// firmware tolerance for tables that redefine names.
func (ip *interp) createNamedNode(name string) (*Node, bool, Status) {
	node := ip.createOrGetNode(name, SearchFlagCreate)
	if node == nil {
		return nil, false, StatusNoMemory
	}
	if node.object != nil {
		ip.ctx.log.Warn("ignoring duplicate node", "name", name)
		return node, false, StatusSuccess
	}
	return node, true, StatusSuccess
}

func (ip *interp) attachObject(node *Node, obj *Object) {
	obj.node = node
	node.object = obj
}

func (ip *interp) opName() Status {
	value := ip.popObject()
	name := ip.popName()

	node, fresh, status := ip.createNamedNode(name)
	if status != StatusSuccess || !fresh {
		return status
	}

	obj := newObject()
	if status := value.cloneInto(obj); status != StatusSuccess {
		return status
	}
	ip.attachObject(node, obj)
	return StatusSuccess
}

func (ip *interp) opAlias() Status {
	name := ip.popName()
	src := ip.popName()

	srcNode := ip.createOrGetNode(src, SearchFlagSearch)
	if srcNode == nil {
		ip.ctx.log.Warn("alias source was not found", "source", src, "alias", name)
	}

	node, fresh, status := ip.createNamedNode(name)
	if status != StatusSuccess || !fresh {
		return status
	}
	node.isAlias = true

	if srcNode != nil {
		node.object = srcNode.object
	} else {
		// A dangling alias keeps the path for lazy resolution.
		obj := newPathString([]byte(src))
		ip.attachObject(node, obj)
	}
	return StatusSuccess
}

func (ip *interp) opMethod(f *frame) Status {
	flags := ip.popPkgLen().value
	name := ip.popName()
	length := ip.popPkgLen()
	remaining := length.remaining(f)
	if remaining < 0 || f.need(remaining) != StatusSuccess {
		return StatusUnexpectedEOF
	}

	node, fresh, status := ip.createNamedNode(name)
	if status != StatusSuccess {
		return status
	}
	if !fresh {
		f.cursor += remaining
		return StatusSuccess
	}

	serialized := flags>>3&1 != 0
	syncLevel := uint8(flags >> 4)

	method := &Method{
		AML:        f.data[f.cursor : f.cursor+remaining],
		ArgCount:   uint8(flags & 0x7),
		Serialized: serialized,
		SyncLevel:  syncLevel,
	}
	if serialized {
		mutex, status := newMutex(ip.ctx.host, syncLevel)
		if status != StatusSuccess {
			return status
		}
		method.Mutex = mutex
	}

	ip.attachObject(node, &Object{kind: KindMethod, method: method})
	f.cursor += remaining
	return StatusSuccess
}

// opScopeOrDevice handles both Scope() and Device(): a Scope over a missing
// node is skipped with a log line, a Device creates its node.
func (ip *interp) opScopeOrDevice(f *frame, isScope bool) Status {
	name := ip.popName()
	length := ip.popPkgLen()
	remaining := length.remaining(f)
	if remaining < 0 || f.need(remaining) != StatusSuccess {
		return StatusUnexpectedEOF
	}

	var node *Node
	if isScope {
		node = ip.createOrGetNode(name, SearchFlagSearch)
		if node == nil {
			ip.ctx.log.Info("skipping non-existing scope", "name", name)
			f.cursor += remaining
			return StatusSuccess
		}
	} else {
		node = ip.createOrGetNode(name, SearchFlagCreate)
		if node == nil {
			return StatusNoMemory
		}
		if node.object != nil {
			ip.ctx.log.Warn("ignoring duplicate node", "name", name)
			f.cursor += remaining
			return StatusSuccess
		}
	}

	if node.object == nil {
		if node.name[0] != 0 {
			node.parent = ip.currentScope
		}
		ip.attachObject(node, &Object{kind: KindDevice})
	}

	ip.enterScopeBody(f, node, remaining)
	return StatusSuccess
}

// enterScopeBody pushes a Scope frame over the next remaining bytes and
// makes node the current scope for its duration.
func (ip *interp) enterScopeBody(f *frame, node *Node, remaining int) {
	if remaining == 0 {
		return
	}
	start := f.cursor
	f.cursor += remaining
	ip.frames = append(ip.frames, &frame{
		data:       f.data,
		start:      start,
		end:        start + remaining,
		cursor:     start,
		parentScope: ip.currentScope,
		kind:       frameScope,
	})
	ip.currentScope = node
}

func (ip *interp) opMutex() Status {
	flags := ip.popPkgLen().value
	name := ip.popName()

	node, fresh, status := ip.createNamedNode(name)
	if status != StatusSuccess || !fresh {
		return status
	}

	mutex, status := newMutex(ip.ctx.host, uint8(flags&0xF))
	if status != StatusSuccess {
		return status
	}
	ip.attachObject(node, &Object{kind: KindMutex, mutex: mutex})
	return StatusSuccess
}

func (ip *interp) opEvent() Status {
	name := ip.popName()

	node, fresh, status := ip.createNamedNode(name)
	if status != StatusSuccess || !fresh {
		return status
	}

	event, status := newEvent(ip.ctx.host)
	if status != StatusSuccess {
		return status
	}
	ip.attachObject(node, &Object{kind: KindEvent, event: event})
	return StatusSuccess
}

func (ip *interp) opBuffer(f *frame, needResult bool) Status {
	sizeObj := ip.popObject()
	length := ip.popPkgLen()
	initLen := length.remaining(f)
	if initLen < 0 || f.need(initLen) != StatusSuccess {
		return StatusUnexpectedEOF
	}

	size, status := ip.toInteger(sizeObj)
	if status != StatusSuccess {
		return status
	}

	realSize := int(size)
	if initLen > realSize {
		realSize = initLen
	}

	if needResult {
		buf := make([]byte, realSize)
		copy(buf, f.data[f.cursor:f.cursor+initLen])
		ip.push(newBuffer(buf))
	}
	f.cursor += initLen
	return StatusSuccess
}

func (ip *interp) opPackage(block *opBlockCtx, needResult bool) Status {
	numElements := int(ip.objects[block.objectsAtStart-1].(pkgLen).value)
	numInit := len(ip.objects) - block.objectsAtStart
	realCount := numElements
	if numInit > realCount {
		realCount = numInit
	}

	elems := make([]*Object, realCount)
	for i := numInit; i > 0; i-- {
		elems[i-1] = ip.popObject()
	}
	for i := numInit; i < realCount; i++ {
		elems[i] = newObject()
	}

	ip.pop() // element count
	ip.pop() // package length

	if needResult {
		ip.push(newPackage(elems))
	}
	return StatusSuccess
}

func (ip *interp) opOpRegion() Status {
	lenObj := ip.popObject()
	offsetObj := ip.popObject()
	space := ip.popPkgLen().value
	name := ip.popName()

	length, status := ip.toInteger(lenObj)
	if status != StatusSuccess {
		return status
	}
	offset, status := ip.toInteger(offsetObj)
	if status != StatusSuccess {
		return status
	}

	node, fresh, status := ip.createNamedNode(name)
	if status != StatusSuccess || !fresh {
		return status
	}

	region := &OpRegion{
		ctx:    ip.ctx,
		node:   node,
		Offset: offset,
		Size:   length,
		Space:  RegionSpace(space),
	}
	ip.attachObject(node, &Object{kind: KindOpRegion, region: region})

	// SystemMemory and SystemIo regions skip the _REG protocol; other
	// spaces run it now when a handler exists, or queue for later.
	if region.Space == SpaceSystemMemory || region.Space == SpaceSystemIO {
		return StatusSuccess
	}

	inMethod := len(ip.methodFrames) > 0
	if ip.ctx.findRegionHandler(region.Space) != nil {
		switch status := region.runReg(); status {
		case StatusSuccess:
		case StatusNotFound:
			if !inMethod {
				ip.ctx.pendingRegs = append(ip.ctx.pendingRegs, node)
			}
		default:
			ip.ctx.log.Error("failed to run _REG", "region", name, "status", status)
			return status
		}
	} else if !inMethod {
		ip.ctx.pendingRegs = append(ip.ctx.pendingRegs, node)
	}
	return StatusSuccess
}

// parseFieldElement decodes one element of a FieldList: a reserved gap, an
// access type change, a connection, or a named field.
func (ip *interp) parseFieldElement(f *frame, list *fieldListState) Status {
	lf := &frame{data: f.data, cursor: list.cursor, end: list.end}

	b, status := lf.peekByte()
	if status != StatusSuccess {
		return status
	}

	switch b {
	case 0x00: // ReservedField := 0x00 PkgLength
		lf.cursor++
		length, status := parsePkgLength(lf)
		if status != StatusSuccess {
			return status
		}
		list.bitOffset += length.value

	case 0x01, 0x03: // AccessField / ExtendedAccessField
		lf.cursor++
		accessType, status := lf.readByte()
		if status != StatusSuccess {
			return status
		}
		list.flags = list.flags&^0xF | accessType&0xF
		if _, status := lf.readByte(); status != StatusSuccess { // attrib
			return status
		}
		if b == 0x03 {
			if _, status := lf.readByte(); status != StatusSuccess { // length
				return status
			}
		}

	case 0x02: // ConnectField := 0x02 (NameString | BufferData)
		lf.cursor++
		nb, status := lf.peekByte()
		if status != StatusSuccess {
			return status
		}
		if isNameChar(nb) {
			name, status := parseNameString(lf)
			if status != StatusSuccess {
				return status
			}
			node := ip.createOrGetNode(name, SearchFlagSearch)
			if node == nil || node.object == nil {
				return StatusNotFound
			}
			ip.push(node.object)
			list.cursor = lf.cursor
			f.cursor = lf.cursor
			list.connectFieldPart2 = true
			return StatusSuccess
		}
		list.cursor = lf.cursor
		list.connectField = true
		return StatusSuccess

	default: // NamedField := NameSeg PkgLength
		if status := lf.need(4); status != StatusSuccess {
			return status
		}
		name := string(lf.data[lf.cursor : lf.cursor+4])
		lf.cursor += 4

		length, status := parsePkgLength(lf)
		if status != StatusSuccess {
			return status
		}

		var accessSize uint8
		switch list.flags & 0xF {
		case 0, 1, 5: // AnyAcc, ByteAcc, BufferAcc
			accessSize = 1
		case 2: // WordAcc
			accessSize = 2
		case 3: // DWordAcc
			accessSize = 4
		case 4: // QWordAcc
			accessSize = 8
		default:
			ip.ctx.log.Error("reserved field access size")
			return StatusUnsupported
		}

		node := ip.createOrGetNode(name, SearchFlagCreate)
		if node == nil {
			return StatusNoMemory
		}
		if node.object != nil {
			ip.ctx.log.Warn("skipping field over an existing node", "name", name)
		} else {
			node.parent = ip.currentScope
			field := &Field{
				Kind:       list.kind,
				Connection: list.connection,
				BitSize:    length.value,
				BitOffset:  list.bitOffset,
				AccessSize: accessSize,
				Update:     FieldUpdate(list.flags >> 5 & 0x3),
				Lock:       list.flags>>4&1 != 0,
			}
			ip.attachObject(node, &Object{kind: KindField, field: field})
			list.nodes = append(list.nodes, node)
		}
		list.bitOffset += length.value
	}

	list.cursor = lf.cursor
	return StatusSuccess
}

func (ip *interp) opField(f *frame) Status {
	list := ip.pop().(*fieldListState)
	ip.pop()                // flags
	regName := ip.popName() // region
	ip.pop()                // length

	f.cursor = list.cursor

	node := ip.createOrGetNode(regName, SearchFlagSearch)
	if node == nil || node.object == nil {
		ip.ctx.log.Error("operation region doesn't exist", "name", regName)
		return StatusInvalidAML
	}
	if node.object.kind != KindOpRegion {
		ip.ctx.log.Error("node is not an operation region", "name", regName)
		return StatusInvalidAML
	}

	for _, fieldNode := range list.nodes {
		fieldNode.object.field.Owner = node.object
	}
	return StatusSuccess
}

func (ip *interp) opIndexField(f *frame) Status {
	list := ip.pop().(*fieldListState)
	ip.pop() // flags
	dataName := ip.popName()
	indexName := ip.popName()
	ip.pop() // length

	f.cursor = list.cursor

	indexNode := ip.createOrGetNode(indexName, SearchFlagSearch)
	if indexNode == nil || indexNode.object == nil || indexNode.object.kind != KindField {
		ip.ctx.log.Error("IndexField index is not a field", "name", indexName)
		return StatusInvalidAML
	}
	dataNode := ip.createOrGetNode(dataName, SearchFlagSearch)
	if dataNode == nil || dataNode.object == nil || dataNode.object.kind != KindField {
		ip.ctx.log.Error("IndexField data is not a field", "name", dataName)
		return StatusInvalidAML
	}

	for _, fieldNode := range list.nodes {
		field := fieldNode.object.field
		field.Owner = indexNode.object
		field.Data = dataNode.object
	}
	return StatusSuccess
}

func (ip *interp) opBankField(f *frame) Status {
	list := ip.pop().(*fieldListState)
	ip.pop() // flags
	selection := ip.popRawObject()
	bankName := ip.popName()
	regName := ip.popName()
	ip.pop() // length

	f.cursor = list.cursor

	regionNode := ip.createOrGetNode(regName, SearchFlagSearch)
	if regionNode == nil || regionNode.object == nil {
		ip.ctx.log.Error("BankField region doesn't exist", "name", regName)
		return StatusInvalidAML
	}
	if regionNode.object.kind != KindOpRegion {
		ip.ctx.log.Error("node is not an operation region", "name", regName)
		return StatusInvalidAML
	}
	bankNode := ip.createOrGetNode(bankName, SearchFlagSearch)
	if bankNode == nil || bankNode.object == nil || bankNode.object.kind != KindField {
		ip.ctx.log.Error("BankField bank is not a field", "name", bankName)
		return StatusInvalidAML
	}

	value, status := ip.toInteger(selection)
	if status != StatusSuccess {
		return status
	}

	for _, fieldNode := range list.nodes {
		field := fieldNode.object.field
		field.Owner = regionNode.object
		field.Data = bankNode.object
		field.BankValue = value
	}
	return StatusSuccess
}

func (ip *interp) opCreateField() Status {
	name := ip.popName()
	numBitsObj := ip.popObject()
	bitIndexObj := ip.popObject()
	srcObj := ip.popObject()

	src, status := ip.tryConvert(srcObj, KindBuffer)
	if status != StatusSuccess {
		return status
	}
	numBits64, status := ip.toInteger(numBitsObj)
	if status != StatusSuccess {
		return status
	}
	bitIndex64, status := ip.toInteger(bitIndexObj)
	if status != StatusSuccess {
		return status
	}
	numBits := uint32(numBits64)
	bitIndex := uint32(bitIndex64)

	if int(bitIndex+numBits+7)/8 > len(src.buf) {
		return StatusInvalidAML
	}

	node, fresh, status := ip.createNamedNode(name)
	if status != StatusSuccess || !fresh {
		return status
	}

	byteSize := (numBits + 7) / 8
	if bitIndex+numBits > (bitIndex&^7)+byteSize*8 {
		byteSize++
	}

	ip.attachObject(node, &Object{kind: KindBufferField, bufferField: &BufferField{
		Owner:        src,
		ByteOffset:   bitIndex / 8,
		ByteSize:     byteSize,
		TotalBitSize: numBits,
		BitOffset:    uint8(bitIndex % 8),
		BitSize:      uint8(numBits % 8),
	}})
	return StatusSuccess
}

func (ip *interp) opCreateSizedField(handler opHandler) Status {
	name := ip.popName()
	indexObj := ip.popObject()
	srcObj := ip.popObject()

	src, status := ip.tryConvert(srcObj, KindBuffer)
	if status != StatusSuccess {
		return status
	}
	index64, status := ip.toInteger(indexObj)
	if status != StatusSuccess {
		return status
	}
	index := uint32(index64)

	var byteSize, byteOffset, totalBits uint32
	var bitSize, bitOffset uint8
	switch handler {
	case handlerCreateBitField:
		byteSize, byteOffset, totalBits = 1, index/8, 1
		bitSize, bitOffset = 1, uint8(index%8)
	case handlerCreateByteField:
		byteSize, byteOffset, totalBits = 1, index, 8
	case handlerCreateWordField:
		byteSize, byteOffset, totalBits = 2, index, 16
	case handlerCreateDWordField:
		byteSize, byteOffset, totalBits = 4, index, 32
	case handlerCreateQWordField:
		byteSize, byteOffset, totalBits = 8, index, 64
	}

	if int(byteOffset+byteSize) > len(src.buf) {
		return StatusInvalidAML
	}

	node, fresh, status := ip.createNamedNode(name)
	if status != StatusSuccess || !fresh {
		return status
	}

	if uint32(bitOffset)+totalBits > (uint32(bitOffset)&^7)+byteSize*8 {
		byteSize++
	}

	ip.attachObject(node, &Object{kind: KindBufferField, bufferField: &BufferField{
		Owner:        src,
		ByteOffset:   byteOffset,
		ByteSize:     byteSize,
		TotalBitSize: totalBits,
		BitOffset:    bitOffset,
		BitSize:      bitSize,
	}})
	return StatusSuccess
}

func (ip *interp) opProcessor(f *frame) Status {
	blockLen := ip.popPkgLen().value
	blockAddr := ip.popPkgLen().value
	id := ip.popPkgLen().value
	name := ip.popName()
	length := ip.popPkgLen()
	remaining := length.remaining(f)
	if remaining < 0 || f.need(remaining) != StatusSuccess {
		return StatusUnexpectedEOF
	}

	node, fresh, status := ip.createNamedNode(name)
	if status != StatusSuccess {
		return status
	}
	if !fresh {
		f.cursor += remaining
		return StatusSuccess
	}

	ip.attachObject(node, &Object{kind: KindProcessor, processor: Processor{
		BlockAddr: blockAddr,
		BlockSize: uint8(blockLen),
		ID:        uint8(id),
	}})
	ip.enterScopeBody(f, node, remaining)
	return StatusSuccess
}

func (ip *interp) opPowerRes(f *frame) Status {
	resourceOrder := ip.popPkgLen().value
	systemLevel := ip.popPkgLen().value
	name := ip.popName()
	length := ip.popPkgLen()
	remaining := length.remaining(f)
	if remaining < 0 || f.need(remaining) != StatusSuccess {
		return StatusUnexpectedEOF
	}

	node, fresh, status := ip.createNamedNode(name)
	if status != StatusSuccess {
		return status
	}
	if !fresh {
		f.cursor += remaining
		return StatusSuccess
	}

	ip.attachObject(node, &Object{kind: KindPowerResource, powerRes: PowerResource{
		ResourceOrder: uint16(resourceOrder),
		SystemLevel:   uint8(systemLevel),
	}})
	ip.enterScopeBody(f, node, remaining)
	return StatusSuccess
}

func (ip *interp) opThermalZone(f *frame) Status {
	name := ip.popName()
	length := ip.popPkgLen()
	remaining := length.remaining(f)
	if remaining < 0 || f.need(remaining) != StatusSuccess {
		return StatusUnexpectedEOF
	}

	node, fresh, status := ip.createNamedNode(name)
	if status != StatusSuccess {
		return status
	}
	if !fresh {
		f.cursor += remaining
		return StatusSuccess
	}

	ip.attachObject(node, &Object{kind: KindThermalZone})
	ip.enterScopeBody(f, node, remaining)
	return StatusSuccess
}
