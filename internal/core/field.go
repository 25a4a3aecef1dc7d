package core

// fieldChunkRead performs one access-sized read for a field, routing through
// the region, the bank selection or the index/data pair as required.
func (ip *interp) fieldChunkRead(field *Field, byteOffset uint32) (uint64, Status) {
	switch field.Kind {
	case FieldNormal, FieldBank:
		if field.Kind == FieldBank {
			if status := ip.writeField(field.Data.field, field.BankValue); status != StatusSuccess {
				return 0, status
			}
		}
		return field.Owner.region.Read(uint64(byteOffset), field.AccessSize)

	default: // FieldIndex
		if status := ip.writeField(field.Owner.field, uint64(byteOffset)); status != StatusSuccess {
			return 0, status
		}
		return ip.readField(field.Data.field)
	}
}

// fieldChunkWrite is the write half of fieldChunkRead.
func (ip *interp) fieldChunkWrite(field *Field, byteOffset uint32, value uint64) Status {
	switch field.Kind {
	case FieldNormal, FieldBank:
		if field.Kind == FieldBank {
			if status := ip.writeField(field.Data.field, field.BankValue); status != StatusSuccess {
				return status
			}
		}
		return field.Owner.region.Write(uint64(byteOffset), field.AccessSize, value)

	default: // FieldIndex
		if status := ip.writeField(field.Owner.field, uint64(byteOffset)); status != StatusSuccess {
			return status
		}
		return ip.writeField(field.Data.field, value)
	}
}

// withFieldLock runs fn under the global lock when the field was declared
// with the Lock rule.
func (ip *interp) withFieldLock(field *Field, fn func() Status) Status {
	if !field.Lock {
		return fn()
	}
	gl := ip.ctx.globalLock
	recursed := gl.ownedByCurrentThread()
	if recursed {
		gl.recursion++
	} else {
		if status := gl.lock(TimeoutInfinite); status != StatusSuccess {
			return status
		}
	}
	status := fn()
	if recursed {
		gl.recursion--
	} else {
		gl.unlock()
	}
	return status
}

// readField reads the field's whole bit range, assembling it from access
// sized chunks. Fields wider than 64 bits are not supported.
func (ip *interp) readField(field *Field) (uint64, Status) {
	if field.BitSize > 64 {
		ip.ctx.log.Error("field sizes greater than 8 bytes are not supported")
		return 0, StatusUnsupported
	}
	if field.Connection != nil {
		ip.ctx.log.Error("connection fields are not supported")
		return 0, StatusUnsupported
	}

	var dest uint64
	status := ip.withFieldLock(field, func() Status {
		accessBits := uint32(field.AccessSize) * 8
		byteOffset := (field.BitOffset &^ (accessBits - 1)) / 8

		for i := uint32(0); i < field.BitSize; {
			bitOffset := (field.BitOffset + i) & (accessBits - 1)
			bits := min(field.BitSize-i, accessBits-bitOffset)

			value, status := ip.fieldChunkRead(field, byteOffset)
			if status != StatusSuccess {
				return status
			}

			value >>= bitOffset
			if bits < 64 {
				value &= uint64(1)<<bits - 1
			}
			dest |= value << i

			i += bits
			byteOffset += uint32(field.AccessSize)
		}
		return StatusSuccess
	})
	return dest, status
}

// writeField writes the field's whole bit range in access sized chunks,
// merging partial chunks per the field's update rule.
func (ip *interp) writeField(field *Field, value uint64) Status {
	if field.BitSize > 64 {
		ip.ctx.log.Error("field sizes greater than 8 bytes are not supported")
		return StatusUnsupported
	}
	if field.Connection != nil {
		ip.ctx.log.Error("connection fields are not supported")
		return StatusUnsupported
	}

	return ip.withFieldLock(field, func() Status {
		accessBits := uint32(field.AccessSize) * 8
		byteOffset := (field.BitOffset &^ (accessBits - 1)) / 8

		for i := uint32(0); i < field.BitSize; {
			bitOffset := (field.BitOffset + i) & (accessBits - 1)
			bits := min(field.BitSize-i, accessBits-bitOffset)

			var old uint64
			partial := bits != accessBits
			switch {
			case field.Update == UpdatePreserve && partial:
				var status Status
				old, status = ip.fieldChunkRead(field, byteOffset)
				if status != StatusSuccess {
					return status
				}
			case field.Update == UpdateWriteAsOnes:
				old = 0xFFFFFFFFFFFFFFFF
			default:
				old = 0
			}

			var mask uint64 = 1<<64 - 1
			if bits < 64 {
				mask = uint64(1)<<bits - 1
			}

			chunk := old
			chunk &^= mask << bitOffset
			chunk |= (value >> i & mask) << bitOffset

			if status := ip.fieldChunkWrite(field, byteOffset, chunk); status != StatusSuccess {
				return status
			}

			i += bits
			byteOffset += uint32(field.AccessSize)
		}
		return StatusSuccess
	})
}

// writeFieldObject stores a converted value object (integer or buffer) into
// a field.
func (ip *interp) writeFieldObject(field *Field, value *Object) Status {
	switch value.kind {
	case KindInteger:
		return ip.writeField(field, value.integer)
	case KindBuffer:
		return ip.writeField(field, littleEndianValue(value.buf, 8))
	default:
		return StatusInvalidArgs
	}
}
