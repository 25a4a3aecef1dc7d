package core

// debugOutput logs a store to the Debug object.
func (ip *interp) debugOutput(value *Object) {
	switch value.kind {
	case KindString:
		ip.ctx.log.Info("aml debug", "value", string(value.str))
	case KindInteger:
		ip.ctx.log.Info("aml debug", "value", value.integer)
	case KindBuffer:
		ip.ctx.log.Info("aml debug", "value", value.buf)
	default:
		ip.ctx.log.Info("aml debug", "kind", value.kind.String())
	}
}

// storeToTarget implements the Store operator's target semantics: discard
// into NullTarget, trace into Debug, rebind argument and local slots,
// convert-in-place for named objects, and re-encode through buffer field or
// field writes.
func (ip *interp) storeToTarget(target, value *Object) Status {
	if target == nil {
		return StatusInvalidAML
	}
	switch target.kind {
	case KindNullTarget:
		return StatusSuccess
	case KindDebug:
		ip.debugOutput(unwrapRefs(value))
		return StatusSuccess
	}

	realValue := unwrapInternalRefs(value)

	var realTarget *Object
	copyObj := false
	if target.kind == KindRef {
		realTarget = unwrapInternalRefs(target.ref.Inner)
		if realTarget.kind == KindRef {
			copyObj = target.ref.Kind == RefArg
			realTarget = unwrapRefs(realTarget.ref.Inner)
		} else {
			if target.ref.Kind == RefArg {
				realTarget = target
			}
			copyObj = true
		}
	} else {
		realTarget = target
	}
	if realTarget.kind == KindUninitialized {
		copyObj = true
	}

	switch realTarget.kind {
	case KindBufferField:
		bf := realTarget.bufferField
		if int(bf.ByteSize) > int(ip.intSize) {
			ip.ctx.log.Error("buffer field writes wider than 8 bytes are not implemented")
			return StatusUnsupported
		}
		converted, status := ip.tryConvert(realValue, KindInteger)
		if status != StatusSuccess {
			return status
		}
		bf.writeBits(converted.integer)
		return StatusSuccess

	case KindField:
		converted, status := ip.tryConvert(realValue, KindInteger, KindBuffer)
		if status != StatusSuccess {
			return status
		}
		return ip.writeFieldObject(realTarget.field, converted)
	}

	if copyObj {
		return realValue.cloneInto(realTarget)
	}

	switch realTarget.kind {
	case KindString:
		converted, status := ip.tryConvert(realValue, KindString)
		if status != StatusSuccess {
			return status
		}
		// A named string target keeps its length; the incoming bytes are
		// truncated or NUL padded to fit.
		n := copy(realTarget.str, converted.str)
		for i := n; i < len(realTarget.str); i++ {
			realTarget.str[i] = 0
		}
		return StatusSuccess

	case KindBuffer:
		converted, status := ip.tryConvert(realValue, KindBuffer)
		if status != StatusSuccess {
			return status
		}
		n := copy(realTarget.buf, converted.buf)
		for i := n; i < len(realTarget.buf); i++ {
			realTarget.buf[i] = 0
		}
		return StatusSuccess
	}

	converted, status := ip.tryConvert(realValue, realTarget.kind)
	if status != StatusSuccess {
		return status
	}
	if converted == realValue {
		return converted.cloneInto(realTarget)
	}
	realTarget.setFrom(converted)
	return StatusSuccess
}
