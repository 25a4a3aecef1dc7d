package core

// handleOp dispatches an op block whose parse plan completed.
func (ip *interp) handleOp(f *frame, block *opBlockCtx, needResult bool) Status {
	switch block.block.handler {
	case handlerNone:
		return StatusSuccess

	case handlerConstant:
		return ip.opConstant(f, block, needResult)

	case handlerString:
		start := f.cursor
		for {
			b, status := f.readByte()
			if status != StatusSuccess {
				return status
			}
			if b == 0 {
				break
			}
		}
		str := make([]byte, f.cursor-1-start)
		copy(str, f.data[start:f.cursor-1])
		ip.push(newString(str))
		return StatusSuccess

	case handlerDebug:
		ip.push(&Object{kind: KindDebug})
		return StatusSuccess

	case handlerLocal, handlerArg:
		return ip.opLocalArg(f, block, needResult)

	case handlerCall:
		return ip.opCall(block, needResult)

	case handlerStore:
		target := ip.popRawObject()
		value := ip.popObject()
		if status := ip.storeToTarget(target, value); status != StatusSuccess {
			return status
		}
		if needResult {
			clone := newObject()
			if status := value.cloneInto(clone); status != StatusSuccess {
				return status
			}
			ip.push(clone)
		}
		return StatusSuccess

	case handlerRefOf:
		target := ip.popRawObject()
		if needResult {
			ip.push(newRef(RefOf, target))
		}
		return StatusSuccess

	case handlerCondRefOf:
		target := ip.popRawObject()
		name := ip.popRawObject()
		resolved := uint64(0)
		if name != nil {
			if status := ip.storeToTarget(target, newRef(RefOf, name)); status != StatusSuccess {
				return status
			}
			resolved = 1
		}
		if needResult {
			ip.push(newInteger(resolved))
		}
		return StatusSuccess

	case handlerDerefOf:
		target := unwrapRefs(ip.popObject())
		if needResult {
			clone := newObject()
			if status := target.cloneInto(clone); status != StatusSuccess {
				return status
			}
			ip.push(clone)
		}
		return StatusSuccess

	case handlerCopyObject:
		return ip.opCopyObject(needResult)

	case handlerAdd, handlerSubtract, handlerMultiply, handlerShl, handlerShr,
		handlerAnd, handlerNand, handlerOr, handlerNor, handlerXor, handlerMod:
		return ip.opBinaryArith(block.block.handler, needResult)

	case handlerIncrement, handlerDecrement:
		return ip.opIncDec(block.block.handler, needResult)

	case handlerDivide:
		return ip.opDivide(needResult)

	case handlerNot, handlerFindSetLeftBit, handlerFindSetRightBit:
		return ip.opUnaryArith(block.block.handler, needResult)

	case handlerLNot:
		value := ip.popObject()
		if !needResult {
			return StatusSuccess
		}
		v, status := ip.toInteger(value)
		if status != StatusSuccess {
			return status
		}
		result := uint64(0)
		if v == 0 {
			result = 1
		}
		ip.push(newInteger(result))
		return StatusSuccess

	case handlerLAnd, handlerLOr, handlerLEqual, handlerLGreater, handlerLLess:
		return ip.opLogic(block.block.handler, needResult)

	case handlerConcat:
		return ip.opConcat(needResult)

	case handlerToBuffer:
		target := ip.popRawObject()
		value := ip.popObject()
		res, status := ip.tryConvert(value, KindBuffer)
		if status != StatusSuccess {
			return status
		}
		if status := ip.storeToTarget(target, res); status != StatusSuccess {
			return status
		}
		if needResult {
			ip.push(res)
		}
		return StatusSuccess

	case handlerToInteger:
		return ip.opToInteger(needResult)

	case handlerToDecimalString:
		return ip.opToString(needResult, 10)

	case handlerToHexString:
		return ip.opToString(needResult, 16)

	case handlerSizeOf:
		name := unwrapRefs(ip.popRawObject())
		if !needResult {
			return StatusSuccess
		}
		var size uint64
		switch name.kind {
		case KindBuffer:
			size = uint64(len(name.buf))
		case KindString:
			size = uint64(len(name.str))
		case KindPackage:
			size = uint64(len(name.pkg))
		default:
			return StatusInvalidAML
		}
		ip.push(newInteger(size))
		return StatusSuccess

	case handlerObjectType:
		name := unwrapRefs(ip.popObject())
		if needResult {
			ip.push(newInteger(uint64(name.kind)))
		}
		return StatusSuccess

	case handlerIndex:
		return ip.opIndex(needResult)

	case handlerMatch:
		return ip.opMatch(needResult)

	case handlerIf:
		return ip.opIf(f)

	case handlerElse:
		length := ip.popPkgLen()
		remaining := length.remaining(f)
		if remaining < 0 || f.need(remaining) != StatusSuccess {
			return StatusUnexpectedEOF
		}
		f.cursor += remaining
		return StatusSuccess

	case handlerWhile:
		return ip.opWhile(f)

	case handlerNoop:
		return StatusSuccess

	case handlerReturn:
		return ip.opReturn()

	case handlerBreak:
		return ip.opBreak()

	case handlerContinue:
		return ip.opContinue()

	case handlerBreakPoint:
		ip.ctx.host.Breakpoint()
		return StatusSuccess

	case handlerFatal:
		arg := ip.popObject()
		code := ip.popPkgLen().value
		typ := ip.popPkgLen().value
		value, status := ip.toInteger(arg)
		if status != StatusSuccess {
			return status
		}
		ip.ctx.host.Fatal(uint8(typ), code, value)
		return StatusSuccess

	case handlerAcquire:
		return ip.opAcquire(needResult)

	case handlerRelease:
		return ip.opRelease()

	case handlerSignal:
		name := ip.popObject()
		if name.kind != KindEvent {
			return StatusInvalidAML
		}
		return name.event.signal()

	case handlerReset:
		name := ip.popObject()
		if name.kind != KindEvent {
			return StatusInvalidAML
		}
		return name.event.reset()

	case handlerWait:
		return ip.opWait(needResult)

	case handlerStall:
		us, status := ip.toInteger(ip.popObject())
		if status != StatusSuccess {
			return status
		}
		ip.ctx.host.Stall(us)
		return StatusSuccess

	case handlerSleep:
		ms, status := ip.toInteger(ip.popObject())
		if status != StatusSuccess {
			return status
		}
		ip.ctx.host.Sleep(ms)
		return StatusSuccess

	case handlerTimer:
		if needResult {
			ip.push(newInteger(ip.ctx.host.Timer()))
		}
		return StatusSuccess

	case handlerRevision:
		if needResult {
			ip.push(newInteger(2))
		}
		return StatusSuccess

	case handlerNotify:
		valueObj := ip.popObject()
		object := ip.popObject()
		value, status := ip.toInteger(valueObj)
		if status != StatusSuccess {
			return status
		}
		ip.ctx.notify(object.node, value)
		return StatusSuccess

	case handlerFromBCD:
		return ip.opFromBCD(needResult)

	case handlerToBCD:
		return ip.opToBCD(needResult)

	case handlerLoad:
		target := ip.popRawObject()
		name := ip.popName()
		ip.ctx.log.Warn("ignoring Load of definition block", "name", name)
		if status := ip.storeToTarget(target, newInteger(0)); status != StatusSuccess {
			return status
		}
		if needResult {
			ip.push(newInteger(0))
		}
		return StatusSuccess

	// Declarative definitions.
	case handlerAlias:
		return ip.opAlias()
	case handlerName:
		return ip.opName()
	case handlerScope, handlerDevice:
		return ip.opScopeOrDevice(f, block.block.handler == handlerScope)
	case handlerBuffer:
		return ip.opBuffer(f, needResult)
	case handlerPackage:
		return ip.opPackage(block, needResult)
	case handlerMethod:
		return ip.opMethod(f)
	case handlerExternal:
		ip.pop()
		ip.pop()
		ip.pop()
		return StatusSuccess
	case handlerMutex:
		return ip.opMutex()
	case handlerEvent:
		return ip.opEvent()
	case handlerOpRegion:
		return ip.opOpRegion()
	case handlerField:
		return ip.opField(f)
	case handlerIndexField:
		return ip.opIndexField(f)
	case handlerBankField:
		return ip.opBankField(f)
	case handlerDataRegion:
		ip.popObject()
		ip.popObject()
		ip.popObject()
		ip.popName()
		ip.ctx.log.Warn("ignoring DataRegion")
		return StatusSuccess
	case handlerCreateField:
		return ip.opCreateField()
	case handlerCreateBitField, handlerCreateByteField, handlerCreateWordField,
		handlerCreateDWordField, handlerCreateQWordField:
		return ip.opCreateSizedField(block.block.handler)
	case handlerProcessor:
		return ip.opProcessor(f)
	case handlerPowerRes:
		return ip.opPowerRes(f)
	case handlerThermalZone:
		return ip.opThermalZone(f)
	}

	ip.ctx.log.Error("unhandled op handler", "handler", int(block.block.handler))
	return StatusInternalError
}

func (ip *interp) opConstant(f *frame, block *opBlockCtx, needResult bool) Status {
	op := f.data[f.cursor-1]
	var value *Object

	switch op {
	case opZero:
		if block.asRef {
			value = &Object{kind: KindNullTarget}
		} else {
			value = newInteger(0)
		}
	case opOne:
		value = newInteger(1)
	case opBytePrefix:
		b, status := f.readByte()
		if status != StatusSuccess {
			return status
		}
		value = newInteger(uint64(b))
	case opWordPrefix:
		v, status := f.readWord()
		if status != StatusSuccess {
			return status
		}
		value = newInteger(uint64(v))
	case opDWordPrefix:
		v, status := f.readDWord()
		if status != StatusSuccess {
			return status
		}
		value = newInteger(uint64(v))
	case opQWordPrefix:
		v, status := f.readQWord()
		if status != StatusSuccess {
			return status
		}
		value = newInteger(v)
	case opOnes:
		value = newInteger(onesValue(ip.intSize))
	}

	if needResult {
		ip.push(value)
	}
	return StatusSuccess
}

func (ip *interp) opLocalArg(f *frame, block *opBlockCtx, needResult bool) Status {
	var slot **Object
	isLocal := false

	if len(ip.methodFrames) == 0 {
		if block.block.handler == handlerArg {
			return StatusInvalidAML
		}
		num := f.data[f.cursor-1] - opLocal0
		slot = &ip.ctx.globalLocals[num]
		isLocal = true
	} else {
		mf := ip.methodFrames[len(ip.methodFrames)-1]
		if block.block.handler == handlerArg {
			num := f.data[f.cursor-1] - opArg0
			slot = &mf.args[num]
		} else {
			num := f.data[f.cursor-1] - opLocal0
			slot = &mf.locals[num]
			isLocal = true
		}
	}

	if *slot == nil {
		kind := RefArg
		if isLocal {
			kind = RefLocal
		}
		*slot = newRef(kind, newObject())
	}

	if needResult {
		ip.push(*slot)
	}
	return StatusSuccess
}

// opCall transfers control into a method called from expression position.
func (ip *interp) opCall(block *opBlockCtx, needResult bool) Status {
	args := ip.objects[block.objectsAtStart].(*methodArgs)

	if args.method.Native != nil {
		nativeArgs := make([]*Object, args.method.ArgCount)
		for i := int(args.method.ArgCount); i > 0; i-- {
			nativeArgs[i-1] = ip.popObject()
		}
		ip.pop() // the methodArgs record
		out, status := args.method.Native(ip.ctx, nativeArgs)
		if status != StatusSuccess {
			return status
		}
		if needResult {
			if out == nil {
				out = newInteger(0)
			}
			ip.push(out)
		}
		return StatusSuccess
	}

	if len(ip.methodFrames) >= ip.ctx.MaxCallDepth {
		ip.ctx.log.Error("method call depth limit reached", "depth", len(ip.methodFrames))
		return StatusEndOfResources
	}

	ip.frames = append(ip.frames, &frame{
		data:       args.method.AML,
		end:        len(args.method.AML),
		parentScope: ip.currentScope,
		needResult: needResult,
		isMethod:   true,
		kind:       frameScope,
	})

	scopeNode := newNode(padName("_MTH"))
	scopeNode.parent = args.parentScope
	ip.currentScope = scopeNode

	mf := &methodFrame{serialize: args.method.Mutex, scopeNode: scopeNode}
	for i := int(args.method.ArgCount); i > 0; i-- {
		realArg := ip.popObject()

		// Strings, buffers and packages pass by reference; everything else
		// is copied into the activation.
		var arg *Object
		switch realArg.kind {
		case KindString, KindBuffer, KindPackage:
			arg = realArg
		default:
			arg = newObject()
			if status := realArg.cloneInto(arg); status != StatusSuccess {
				return status
			}
		}
		mf.args[i-1] = newRef(RefArg, arg)
	}
	ip.methodFrames = append(ip.methodFrames, mf)

	ip.pop() // the methodArgs record
	return StatusSuccess
}

func (ip *interp) opCopyObject(needResult bool) Status {
	target := ip.popRawObject()
	value := ip.popObject()

	dest := target
	if target.kind == KindRef && target.ref.Kind == RefArg {
		unwrapped := unwrapInternalRefs(target)
		if unwrapped.kind == KindRef {
			dest = unwrapRefs(unwrapped)
		}
	}

	if status := value.cloneInto(dest); status != StatusSuccess {
		return status
	}
	if needResult {
		ip.push(target)
	}
	return StatusSuccess
}

func (ip *interp) opBinaryArith(handler opHandler, needResult bool) Status {
	target := ip.popRawObject()
	rhsObj := ip.popObject()
	lhsObj := ip.popObject()

	lhs, status := ip.toInteger(lhsObj)
	if status != StatusSuccess {
		return status
	}
	rhs, status := ip.toInteger(rhsObj)
	if status != StatusSuccess {
		return status
	}

	var result uint64
	switch handler {
	case handlerAdd:
		result = lhs + rhs
	case handlerSubtract:
		result = lhs - rhs
	case handlerMultiply:
		result = lhs * rhs
	case handlerShl:
		if rhs >= 64 {
			result = 0
		} else {
			result = lhs << rhs
		}
	case handlerShr:
		if rhs >= 64 {
			result = 0
		} else {
			result = lhs >> rhs
		}
	case handlerAnd:
		result = lhs & rhs
	case handlerNand:
		result = ^(lhs & rhs)
	case handlerOr:
		result = lhs | rhs
	case handlerNor:
		result = ^(lhs | rhs)
	case handlerXor:
		result = lhs ^ rhs
	case handlerMod:
		if rhs == 0 {
			return StatusInvalidAML
		}
		result = lhs % rhs
	}
	result = ip.maskToIntSize(result)

	obj := newInteger(result)
	if status := ip.storeToTarget(target, obj); status != StatusSuccess {
		return status
	}
	if needResult {
		ip.push(obj)
	}
	return StatusSuccess
}

func (ip *interp) opIncDec(handler opHandler, needResult bool) Status {
	target := ip.popRawObject()

	value, status := ip.toInteger(target)
	if status != StatusSuccess {
		return status
	}

	var result uint64
	if handler == handlerIncrement {
		result = value + 1
	} else {
		result = value - 1
	}
	result = ip.maskToIntSize(result)

	obj := newInteger(result)
	if status := ip.storeToTarget(unwrapRefs(target), obj); status != StatusSuccess {
		return status
	}
	if needResult {
		ip.push(obj)
	}
	return StatusSuccess
}

func (ip *interp) opDivide(needResult bool) Status {
	quotientTarget := ip.popObject()
	remainderTarget := ip.popObject()
	rhsObj := ip.popObject()
	lhsObj := ip.popObject()

	lhs, status := ip.toInteger(lhsObj)
	if status != StatusSuccess {
		return status
	}
	rhs, status := ip.toInteger(rhsObj)
	if status != StatusSuccess {
		return status
	}
	if rhs == 0 {
		return StatusInvalidAML
	}

	quotient := newInteger(lhs / rhs)
	remainder := newInteger(lhs % rhs)
	if status := ip.storeToTarget(quotientTarget, quotient); status != StatusSuccess {
		return status
	}
	if status := ip.storeToTarget(remainderTarget, remainder); status != StatusSuccess {
		return status
	}
	if needResult {
		ip.push(quotient)
	}
	return StatusSuccess
}

func (ip *interp) opUnaryArith(handler opHandler, needResult bool) Status {
	target := ip.popRawObject()
	valueObj := ip.popObject()

	value, status := ip.toInteger(valueObj)
	if status != StatusSuccess {
		return status
	}

	intBits := int(ip.intSize) * 8
	var result uint64
	switch handler {
	case handlerNot:
		result = ip.maskToIntSize(^value)
	case handlerFindSetLeftBit:
		for i := intBits; i > 0; i-- {
			if value&(uint64(1)<<(i-1)) != 0 {
				result = uint64(intBits - i + 1)
				break
			}
		}
	case handlerFindSetRightBit:
		for i := 0; i < intBits; i++ {
			if value&(uint64(1)<<i) != 0 {
				result = uint64(i + 1)
				break
			}
		}
	}

	obj := newInteger(result)
	if status := ip.storeToTarget(target, obj); status != StatusSuccess {
		return status
	}
	if needResult {
		ip.push(obj)
	}
	return StatusSuccess
}

func (ip *interp) opLogic(handler opHandler, needResult bool) Status {
	rhsObj := ip.popObject()
	lhsObj := ip.popObject()

	if !needResult {
		return StatusSuccess
	}

	lhs, status := ip.toInteger(lhsObj)
	if status != StatusSuccess {
		return status
	}
	rhs, status := ip.toInteger(rhsObj)
	if status != StatusSuccess {
		return status
	}

	var result bool
	switch handler {
	case handlerLAnd:
		result = lhs != 0 && rhs != 0
	case handlerLOr:
		result = lhs != 0 || rhs != 0
	case handlerLEqual:
		result = lhs == rhs
	case handlerLGreater:
		result = lhs > rhs
	case handlerLLess:
		result = lhs < rhs
	}

	value := uint64(0)
	if result {
		value = 1
	}
	ip.push(newInteger(value))
	return StatusSuccess
}

// concatDisplay renders an inconvertible operand the way Concatenate
// displays it.
func concatDisplay(obj *Object) []byte {
	switch obj.kind {
	case KindUninitialized:
		return []byte("[Uninitialized Object]")
	case KindInteger:
		var buf [16]byte
		i := len(buf)
		v := obj.integer
		for {
			i--
			buf[i] = lowerHex[v%16]
			v /= 16
			if v == 0 {
				break
			}
		}
		out := make([]byte, len(buf)-i)
		copy(out, buf[i:])
		return out
	case KindString:
		out := make([]byte, len(obj.str))
		copy(out, obj.str)
		return out
	case KindBuffer:
		return []byte("[Buffer]")
	case KindPackage:
		return []byte("[Package]")
	case KindField:
		return []byte("[Field]")
	case KindDevice:
		return []byte("[Device]")
	case KindEvent:
		return []byte("[Event]")
	case KindMethod:
		return []byte("[Control Method]")
	case KindMutex:
		return []byte("[Mutex]")
	case KindOpRegion:
		return []byte("[Operation Region]")
	case KindPowerResource:
		return []byte("[Power Resource]")
	case KindProcessor:
		return []byte("[Processor]")
	case KindThermalZone:
		return []byte("[Thermal Zone]")
	case KindBufferField:
		return []byte("[Buffer Field]")
	case KindDebug:
		return []byte("[Debug Object]")
	case KindRef:
		return []byte("[Reference]")
	case KindNullTarget:
		return []byte("[Null Target]")
	}
	return []byte("[Unknown]")
}

func (ip *interp) opConcat(needResult bool) Status {
	target := ip.popRawObject()
	rhsOrig := ip.popObject()
	lhsOrig := ip.popObject()

	lhs, status := ip.tryConvert(lhsOrig, KindInteger, KindString, KindBuffer)
	if status == StatusInvalidArgs {
		lhs = newString(concatDisplay(lhsOrig))
	} else if status != StatusSuccess {
		return status
	}

	var value *Object
	switch lhs.kind {
	case KindInteger:
		rhs, status := ip.tryConvert(rhsOrig, KindInteger)
		if status != StatusSuccess {
			return status
		}
		intSize := int(ip.intSize)
		buf := make([]byte, intSize*2)
		copy(buf, littleEndianBytes(lhs.integer, intSize))
		copy(buf[intSize:], littleEndianBytes(rhs.integer, intSize))
		value = newBuffer(buf)

	case KindString:
		rhs, status := ip.tryConvert(rhsOrig, KindString)
		if status == StatusInvalidArgs {
			rhs = newString(concatDisplay(rhsOrig))
		} else if status != StatusSuccess {
			return status
		}
		str := make([]byte, 0, len(lhs.str)+len(rhs.str))
		str = append(str, lhs.str...)
		str = append(str, rhs.str...)
		value = newString(str)

	case KindBuffer:
		rhs, status := ip.tryConvert(rhsOrig, KindBuffer)
		if status != StatusSuccess {
			return status
		}
		buf := make([]byte, 0, len(lhs.buf)+len(rhs.buf))
		buf = append(buf, lhs.buf...)
		buf = append(buf, rhs.buf...)
		value = newBuffer(buf)
	}

	if status := ip.storeToTarget(target, value); status != StatusSuccess {
		return status
	}
	if needResult {
		ip.push(value)
	}
	return StatusSuccess
}

func (ip *interp) opToInteger(needResult bool) Status {
	target := ip.popRawObject()
	value := ip.popObject()

	converted, status := ip.tryConvert(value, KindInteger, KindString, KindBuffer)
	if status != StatusSuccess {
		return status
	}

	var res *Object
	switch converted.kind {
	case KindInteger:
		res = newInteger(converted.integer)
	case KindString:
		res = newInteger(ip.maskToIntSize(stringToInt(converted.str, 0)))
	case KindBuffer:
		res = newInteger(littleEndianValue(converted.buf, int(ip.intSize)))
	default:
		return StatusInvalidAML
	}

	if status := ip.storeToTarget(target, res); status != StatusSuccess {
		return status
	}
	if needResult {
		ip.push(res)
	}
	return StatusSuccess
}

// opToString implements ToDecimalString and ToHexString. Buffers render as
// comma separated per-byte values.
func (ip *interp) opToString(needResult bool, base uint64) Status {
	target := ip.popRawObject()
	value := ip.popObject()

	converted, status := ip.tryConvert(value, KindInteger, KindString, KindBuffer)
	if status != StatusSuccess {
		return status
	}

	var out []byte
	switch converted.kind {
	case KindInteger:
		out = intToString(converted.integer, base)
	case KindString:
		out = make([]byte, len(converted.str))
		copy(out, converted.str)
	case KindBuffer:
		for i, b := range converted.buf {
			if i != 0 {
				out = append(out, ',')
			}
			if base == 16 {
				out = append(out, '0', 'x', upperHex[b>>4], upperHex[b&0xF])
			} else {
				out = append(out, intToString(uint64(b), 10)...)
			}
		}
	}

	res := newString(out)
	if status := ip.storeToTarget(target, res); status != StatusSuccess {
		return status
	}
	if needResult {
		ip.push(res)
	}
	return StatusSuccess
}

func (ip *interp) opIndex(needResult bool) Status {
	target := ip.popRawObject()
	indexObj := ip.popObject()
	src := ip.popObject()

	index, status := ip.toInteger(indexObj)
	if status != StatusSuccess {
		return status
	}

	var ref *Object
	switch src.kind {
	case KindBuffer, KindString:
		size := len(src.buf)
		if src.kind == KindString {
			size = len(src.str)
		}
		if index >= uint64(size) {
			return StatusInvalidAML
		}
		field := &Object{kind: KindBufferField, bufferField: &BufferField{
			Owner:        src,
			ByteOffset:   uint32(index),
			ByteSize:     1,
			TotalBitSize: 8,
		}}
		ref = newRef(RefOf, field)

	case KindPackage:
		if index >= uint64(len(src.pkg)) {
			return StatusInvalidAML
		}
		elem := src.pkg[index]
		if elem.kind == KindString && elem.isPath {
			if status := ip.resolvePath(elem); status != StatusSuccess {
				return status
			}
		}
		ref = newRef(RefOf, elem)

	default:
		return StatusInvalidAML
	}

	if status := ip.storeToTarget(target, ref); status != StatusSuccess {
		return status
	}
	if needResult {
		ip.push(ref)
	}
	return StatusSuccess
}

// matchOp applies one of the six Match comparison operators.
func matchOp(op uint32, value, operand uint64) (bool, Status) {
	switch op {
	case 0:
		return true, StatusSuccess
	case 1:
		return value == operand, StatusSuccess
	case 2:
		return value <= operand, StatusSuccess
	case 3:
		return value < operand, StatusSuccess
	case 4:
		return value >= operand, StatusSuccess
	case 5:
		return value > operand, StatusSuccess
	default:
		return false, StatusInvalidAML
	}
}

func (ip *interp) opMatch(needResult bool) Status {
	startIndexObj := ip.popObject()
	startIndex, status := ip.toInteger(startIndexObj)
	if status != StatusSuccess {
		return status
	}

	operand2Obj := ip.popObject()
	op2 := ip.popPkgLen().value
	operand1Obj := ip.popObject()
	op1 := ip.popPkgLen().value
	pkgObj := ip.popObject()
	if pkgObj.kind != KindPackage {
		return StatusInvalidAML
	}

	if startIndex >= uint64(len(pkgObj.pkg)) {
		return StatusInvalidAML
	}
	if !needResult {
		return StatusSuccess
	}

	operand1, status := ip.tryConvert(operand1Obj, KindInteger, KindString, KindBuffer)
	if status != StatusSuccess {
		return status
	}
	operand2, status := ip.tryConvert(operand2Obj, KindInteger, KindString, KindBuffer)
	if status != StatusSuccess {
		return status
	}
	if operand1.kind != KindInteger || operand2.kind != KindInteger {
		ip.ctx.log.Error("unsupported operand type for Match")
		return StatusUnsupported
	}

	retIndex := onesValue(8)
	for i := int(startIndex); i < len(pkgObj.pkg); i++ {
		converted, status := ip.tryConvert(pkgObj.pkg[i], KindInteger)
		if status == StatusInvalidArgs {
			continue
		} else if status != StatusSuccess {
			return status
		}

		match1, status := matchOp(op1, converted.integer, operand1.integer)
		if status != StatusSuccess {
			return status
		}
		if !match1 {
			continue
		}
		match2, status := matchOp(op2, converted.integer, operand2.integer)
		if status != StatusSuccess {
			return status
		}
		if match2 {
			retIndex = uint64(i)
			break
		}
	}

	ip.push(newInteger(retIndex))
	return StatusSuccess
}

func (ip *interp) opIf(f *frame) Status {
	pred := ip.popObject()
	length := ip.popPkgLen()
	remaining := length.remaining(f)
	if remaining < 0 || f.need(remaining) != StatusSuccess {
		return StatusUnexpectedEOF
	}

	value, status := ip.toInteger(pred)
	if status != StatusSuccess {
		return status
	}

	if value != 0 {
		if remaining > 0 {
			start := f.cursor
			f.cursor += remaining
			ip.frames = append(ip.frames, &frame{
				data:   f.data,
				start:  start,
				end:    start + remaining,
				cursor: start,
				kind:   frameIf,
			})
		}
		return StatusSuccess
	}

	f.cursor += remaining
	// An untaken If falls into the body of a following Else by skipping the
	// Else opcode and its PkgLength encoding.
	if b, status := f.peekByte(); status == StatusSuccess && b == opElse {
		f.cursor++
		first, status := f.readByte()
		if status != StatusSuccess {
			return status
		}
		count := int(first >> 6)
		if status := f.need(count); status != StatusSuccess {
			return status
		}
		f.cursor += count
	}
	return StatusSuccess
}

func (ip *interp) opWhile(f *frame) Status {
	pred := ip.popObject()
	length := ip.popPkgLen()
	remaining := length.remaining(f)
	if remaining < 0 || f.need(remaining) != StatusSuccess {
		return StatusUnexpectedEOF
	}

	value, status := ip.toInteger(pred)
	if status != StatusSuccess {
		return status
	}

	loopKey := length.start
	if value == 0 {
		f.cursor += remaining
		delete(ip.whileDeadlines, loopKey)
		return StatusSuccess
	}

	if status := ip.checkLoopDeadline(loopKey); status != StatusSuccess {
		return status
	}

	if remaining > 0 {
		start := f.cursor
		// Re-seat the parent cursor at the While opcode so the predicate is
		// re-evaluated when the body frame pops.
		f.cursor = length.start - 1
		ip.frames = append(ip.frames, &frame{
			data:   f.data,
			start:  start,
			end:    start + remaining,
			cursor: start,
			kind:   frameWhile,
		})
	}
	return StatusSuccess
}

// checkLoopDeadline watchdogs one While loop against the context's loop
// timeout.
func (ip *interp) checkLoopDeadline(key int) Status {
	if ip.ctx.LoopTimeoutSeconds <= 0 {
		return StatusSuccess
	}
	now := ip.ctx.host.Timer()
	if ip.whileDeadlines == nil {
		ip.whileDeadlines = make(map[int]uint64)
	}
	deadline, ok := ip.whileDeadlines[key]
	if !ok {
		// Host timer ticks are 100ns.
		ip.whileDeadlines[key] = now + uint64(ip.ctx.LoopTimeoutSeconds)*10_000_000
		return StatusSuccess
	}
	if now > deadline {
		ip.ctx.log.Error("aml loop timed out")
		return StatusTimeout
	}
	return StatusSuccess
}

func (ip *interp) opReturn() Status {
	value := ip.popObject()
	if value.kind == KindField {
		read, status := ip.readField(value.field)
		if status != StatusSuccess {
			return status
		}
		value = newInteger(read)
	}

	if len(ip.methodFrames) == 0 {
		return StatusInvalidAML
	}

	for {
		f := ip.frames[len(ip.frames)-1]
		if !f.isMethod {
			ip.frames = ip.frames[:len(ip.frames)-1]
			continue
		}
		f.cursor = f.end
		f.opBlocks = f.opBlocks[:0]
		if f.needResult {
			ip.push(value)
			f.needResult = false
		}
		return StatusSuccess
	}
}

func (ip *interp) opBreak() Status {
	for {
		f := ip.frames[len(ip.frames)-1]
		if f.kind != frameWhile {
			ip.frames = ip.frames[:len(ip.frames)-1]
			continue
		}
		if len(ip.frames) < 2 {
			return StatusInvalidAML
		}
		parent := ip.frames[len(ip.frames)-2]
		parent.cursor = f.end
		f.cursor = f.end
		f.opBlocks = f.opBlocks[:0]
		return StatusSuccess
	}
}

func (ip *interp) opContinue() Status {
	for {
		f := ip.frames[len(ip.frames)-1]
		if f.kind != frameWhile {
			ip.frames = ip.frames[:len(ip.frames)-1]
			continue
		}
		f.cursor = f.end
		f.opBlocks = f.opBlocks[:0]
		return StatusSuccess
	}
}

func (ip *interp) opAcquire(needResult bool) Status {
	timeout := uint16(ip.popPkgLen().value)
	name := ip.popObject()
	if name.kind != KindMutex {
		return StatusInvalidAML
	}
	mutex := name.mutex

	if mutex.ownedByCurrentThread() {
		mutex.recursion++
	} else {
		status := mutex.lock(timeout)
		if status == StatusTimeout {
			if needResult {
				ip.push(newInteger(1))
			}
			return StatusSuccess
		} else if status != StatusSuccess {
			return status
		}
		ip.linkAcquiredMutex(mutex)
	}

	if needResult {
		ip.push(newInteger(0))
	}
	return StatusSuccess
}

// linkAcquiredMutex chains a freshly locked mutex into the active method
// frame, or the context's global list when AML runs outside a method.
func (ip *interp) linkAcquiredMutex(mutex *Mutex) {
	if len(ip.methodFrames) == 0 {
		mutex.prev = nil
		mutex.next = ip.ctx.globalMutexes
		ip.ctx.globalMutexes = mutex
		if mutex.next != nil {
			mutex.next.prev = mutex
		}
		return
	}
	mf := ip.methodFrames[len(ip.methodFrames)-1]
	mutex.prev = nil
	mutex.next = mf.mutexes
	mf.mutexes = mutex
	if mutex.next != nil {
		mutex.next.prev = mutex
	}
}

func (ip *interp) opRelease() Status {
	name := ip.popObject()
	if name.kind != KindMutex {
		return StatusInvalidAML
	}
	mutex := name.mutex

	if !mutex.ownedByCurrentThread() {
		return StatusInvalidAML
	}
	if mutex.recursion > 0 {
		mutex.recursion--
		return StatusSuccess
	}

	ip.unlinkAcquiredMutex(mutex)
	return mutex.unlock()
}

func (ip *interp) unlinkAcquiredMutex(mutex *Mutex) {
	if mutex.prev != nil {
		mutex.prev.next = mutex.next
	} else if len(ip.methodFrames) == 0 {
		if ip.ctx.globalMutexes == mutex {
			ip.ctx.globalMutexes = mutex.next
		}
	} else {
		mf := ip.methodFrames[len(ip.methodFrames)-1]
		if mf.mutexes == mutex {
			mf.mutexes = mutex.next
		}
	}
	if mutex.next != nil {
		mutex.next.prev = mutex.prev
	}
	mutex.prev = nil
	mutex.next = nil
}

func (ip *interp) opWait(needResult bool) Status {
	timeoutObj := ip.popObject()
	name := ip.popObject()

	timeout, status := ip.toInteger(timeoutObj)
	if status != StatusSuccess {
		return status
	}
	if timeout > uint64(TimeoutInfinite) {
		timeout = uint64(TimeoutInfinite)
	}

	if name.kind != KindEvent {
		return StatusInvalidAML
	}
	status = name.event.wait(uint16(timeout))
	if status == StatusTimeout {
		if needResult {
			ip.push(newInteger(1))
		}
		return StatusSuccess
	} else if status != StatusSuccess {
		return status
	}

	if needResult {
		ip.push(newInteger(0))
	}
	return StatusSuccess
}

func (ip *interp) opFromBCD(needResult bool) Status {
	target := ip.popRawObject()
	valueObj := ip.popObject()

	value, status := ip.toInteger(valueObj)
	if status != StatusSuccess {
		return status
	}

	var result, multiplier uint64 = 0, 1
	for value != 0 {
		result += (value & 0xF) * multiplier
		value >>= 4
		multiplier *= 10
	}

	obj := newInteger(result)
	if status := ip.storeToTarget(target, obj); status != StatusSuccess {
		return status
	}
	if needResult {
		ip.push(obj)
	}
	return StatusSuccess
}

func (ip *interp) opToBCD(needResult bool) Status {
	target := ip.popRawObject()
	valueObj := ip.popObject()

	value, status := ip.toInteger(valueObj)
	if status != StatusSuccess {
		return status
	}

	var result uint64
	offset := 0
	for value != 0 {
		result |= (value % 10) << offset
		value /= 10
		offset += 4
	}

	obj := newInteger(result)
	if status := ip.storeToTarget(target, obj); status != StatusSuccess {
		return status
	}
	if needResult {
		ip.push(obj)
	}
	return StatusSuccess
}
