package core

import "encoding/binary"

// frameKind labels what a parse frame is executing.
type frameKind uint8

const (
	frameScope frameKind = iota
	framePackage
	frameIf
	frameWhile
)

// frame is one entry of the interpreter's explicit frame stack: a byte range
// being executed plus the op blocks currently decoding inside it.
type frame struct {
	data       []byte
	start      int
	end        int
	cursor     int
	parentScope *Node
	opBlocks   []opBlockCtx
	needResult bool
	isMethod   bool
	kind       frameKind
}

// opBlockCtx is the progress of one opcode's parse plan.
type opBlockCtx struct {
	block          *opBlock
	objectsAtStart int
	ip             int
	processed      bool
	needResult     bool
	asRef          bool
}

// pkgLen is a parsed package length (or a raw immediate pushed by the
// Byte/Word/DWord steps). start is the offset of the length encoding inside
// the frame data, used to compute how much of the package body remains.
type pkgLen struct {
	start int
	value uint32
}

// methodArgs tracks an in-expression method call while its arguments parse.
type methodArgs struct {
	method      *Method
	node        *Node
	parentScope *Node
	remaining   uint8
}

// fieldListState carries the incremental state of a FieldList parse.
type fieldListState struct {
	nodes      []*Node
	connection *Object
	bitOffset  uint32
	cursor     int
	end        int
	kind       FieldKind
	flags      uint8

	connectField      bool
	connectFieldPart2 bool
}

// methodFrame holds the per-activation state of a control method.
type methodFrame struct {
	args   [7]*Object
	locals [8]*Object

	// ownedNodes are nodes created while the method ran; they are removed
	// from the namespace when the method returns.
	ownedNodes []*Node
	// mutexes heads the list of mutexes acquired inside the method.
	mutexes   *Mutex
	serialize *Mutex
	scopeNode *Node
}

// interp executes AML. One interp is allocated per LoadTable or Evaluate
// call; durable state lives on the Context.
type interp struct {
	ctx     *Context
	intSize uint8

	frames       []*frame
	methodFrames []*methodFrame
	objects      []any

	currentScope *Node

	// whileDeadlines watchdogs runaway loops, keyed by the While opcode
	// offset, in host timer ticks.
	whileDeadlines map[int]uint64
}

func newInterpreter(c *Context) *interp {
	return &interp{
		ctx:          c,
		intSize:      c.intSize,
		currentScope: c.root,
	}
}

// execute runs a definition block in declarative mode.
func (ip *interp) execute(aml []byte) Status {
	ip.frames = append(ip.frames, &frame{
		data: aml,
		end:  len(aml),
		kind: frameScope,
	})
	return ip.run()
}

// run drives parse and, on failure, unwinds any method activations still on
// the stack so their mutexes and nodes are released.
func (ip *interp) run() Status {
	status := ip.parse()
	if status != StatusSuccess {
		for len(ip.methodFrames) > 0 {
			mf := ip.methodFrames[len(ip.methodFrames)-1]
			ip.methodFrames = ip.methodFrames[:len(ip.methodFrames)-1]
			ip.unwindMethodFrame(mf)
		}
	}
	return status
}

// invokeMethod runs the method attached to node with the given arguments.
func (ip *interp) invokeMethod(node *Node, args []*Object, res **Object) Status {
	method := node.object.method
	if len(args) != int(method.ArgCount) {
		return StatusInvalidArgs
	}

	if method.Native != nil {
		out, status := method.Native(ip.ctx, args)
		if status == StatusSuccess && res != nil {
			*res = out
		}
		return status
	}

	if len(ip.methodFrames) >= ip.ctx.MaxCallDepth {
		return StatusEndOfResources
	}

	if method.Serialized {
		ip.acquireSerializeMutex(method.Mutex)
	}

	ip.frames = append(ip.frames, &frame{
		data:       method.AML,
		end:        len(method.AML),
		parentScope: ip.currentScope,
		needResult: true,
		isMethod:   true,
		kind:       frameScope,
	})

	scopeNode := newNode(padName("_MTH"))
	scopeNode.parent = node.parent
	ip.currentScope = scopeNode

	mf := &methodFrame{serialize: method.Mutex, scopeNode: scopeNode}
	for i := 0; i < int(method.ArgCount); i++ {
		mf.args[i] = newRef(RefArg, args[i])
	}
	ip.methodFrames = append(ip.methodFrames, mf)

	status := ip.run()

	if status == StatusSuccess && len(ip.objects) > 0 {
		out := ip.popObject()
		if out.node == nil {
			out.node = node.parent
		}
		if res != nil {
			*res = out
		}
	}
	return status
}

func (ip *interp) acquireSerializeMutex(m *Mutex) {
	if m.ownedByCurrentThread() {
		m.recursion++
	} else {
		m.lock(TimeoutInfinite)
	}
}

// unwindMethodFrame releases everything a returning (or failing) method
// activation owns.
func (ip *interp) unwindMethodFrame(mf *methodFrame) {
	if mf.serialize != nil {
		if mf.serialize.recursion > 0 {
			mf.serialize.recursion--
		} else {
			mf.serialize.unlock()
		}
	}

	for m := mf.mutexes; m != nil; m = m.next {
		ip.ctx.log.Warn("mutex still locked at method return")
		m.unlock()
	}

	for _, node := range mf.ownedNodes {
		if node.parent != nil {
			node.parent.removeChild(node)
		}
	}
}

// push/pop helpers for the heterogeneous object stack.

func (ip *interp) push(item any) { ip.objects = append(ip.objects, item) }

func (ip *interp) pop() any {
	item := ip.objects[len(ip.objects)-1]
	ip.objects = ip.objects[:len(ip.objects)-1]
	return item
}

func (ip *interp) popPkgLen() pkgLen { return ip.pop().(pkgLen) }

func (ip *interp) popName() string { return ip.pop().(string) }

func (ip *interp) popRawObject() *Object {
	item := ip.pop()
	if item == nil {
		return nil
	}
	return item.(*Object)
}

// popObject pops an object and unwraps Arg/Local indirections, stopping at
// an explicit RefOf.
func (ip *interp) popObject() *Object {
	obj := ip.popRawObject()
	if obj == nil {
		return nil
	}
	return unwrapInternalRefs(obj)
}

// unwrapInternalRefs peels Arg/Local reference wrappers but keeps RefOf
// references intact.
func unwrapInternalRefs(obj *Object) *Object {
	for obj.kind == KindRef {
		if obj.ref.Kind == RefOf {
			return obj
		}
		obj = obj.ref.Inner
	}
	return obj
}

// unwrapRefs peels every reference wrapper, RefOf included.
func unwrapRefs(obj *Object) *Object {
	for obj.kind == KindRef {
		obj = obj.ref.Inner
	}
	return obj
}

// Stream reading helpers. All reads bound-check against the frame range and
// report StatusUnexpectedEOF on truncation.

func (f *frame) atEnd() bool { return f.cursor >= f.end }

func (f *frame) readByte() (byte, Status) {
	if f.cursor >= f.end {
		return 0, StatusUnexpectedEOF
	}
	b := f.data[f.cursor]
	f.cursor++
	return b, StatusSuccess
}

func (f *frame) peekByte() (byte, Status) {
	if f.cursor >= f.end {
		return 0, StatusUnexpectedEOF
	}
	return f.data[f.cursor], StatusSuccess
}

func (f *frame) need(n int) Status {
	if f.cursor+n > f.end {
		return StatusUnexpectedEOF
	}
	return StatusSuccess
}

func (f *frame) readWord() (uint16, Status) {
	if status := f.need(2); status != StatusSuccess {
		return 0, status
	}
	v := binary.LittleEndian.Uint16(f.data[f.cursor:])
	f.cursor += 2
	return v, StatusSuccess
}

func (f *frame) readDWord() (uint32, Status) {
	if status := f.need(4); status != StatusSuccess {
		return 0, status
	}
	v := binary.LittleEndian.Uint32(f.data[f.cursor:])
	f.cursor += 4
	return v, StatusSuccess
}

func (f *frame) readQWord() (uint64, Status) {
	if status := f.need(8); status != StatusSuccess {
		return 0, status
	}
	v := binary.LittleEndian.Uint64(f.data[f.cursor:])
	f.cursor += 8
	return v, StatusSuccess
}

// parsePkgLength decodes an AML PkgLength. The returned start offset points
// at the first byte of the encoding, so callers can compute how many bytes
// of the package body remain after further parsing.
func parsePkgLength(f *frame) (pkgLen, Status) {
	start := f.cursor
	first, status := f.readByte()
	if status != StatusSuccess {
		return pkgLen{}, status
	}
	count := int(first >> 6)
	if count == 0 {
		return pkgLen{start: start, value: uint32(first & 0x3F)}, StatusSuccess
	}
	if status := f.need(count); status != StatusSuccess {
		return pkgLen{}, status
	}
	value := uint32(first & 0xF)
	for i := 0; i < count; i++ {
		b, _ := f.readByte()
		value |= uint32(b) << (4 + i*8)
	}
	return pkgLen{start: start, value: value}, StatusSuccess
}

// remaining computes how much of a package body is left after the cursor
// consumed the fixed part that followed the PkgLength.
func (p pkgLen) remaining(f *frame) int {
	return int(p.value) - (f.cursor - p.start)
}

// parseNameString decodes a namestring: optional root anchor or parent
// prefixes, then zero, one, two or multi name segments. Segments are joined
// with dots in the decoded form.
func parseNameString(f *frame) (string, Status) {
	if f.atEnd() {
		return "", StatusUnexpectedEOF
	}

	var out []byte
	c := f.data[f.cursor]
	if c == rootChar {
		out = append(out, '\\')
		f.cursor++
		if f.atEnd() {
			return "", StatusUnexpectedEOF
		}
		c = f.data[f.cursor]
	} else if c == parentPrefixChar {
		for c == parentPrefixChar {
			out = append(out, '^')
			f.cursor++
			if f.atEnd() {
				return "", StatusUnexpectedEOF
			}
			c = f.data[f.cursor]
		}
	}

	segs := 1
	switch c {
	case 0:
		f.cursor++
		return string(out), StatusSuccess
	case dualNamePrefix:
		f.cursor++
		segs = 2
	case multiNamePrefix:
		f.cursor++
		b, status := f.readByte()
		if status != StatusSuccess {
			return "", status
		}
		segs = int(b)
	}

	if status := f.need(segs * 4); status != StatusSuccess {
		return "", status
	}
	for i := 0; i < segs; i++ {
		if i != 0 {
			out = append(out, '.')
		}
		out = append(out, f.data[f.cursor:f.cursor+4]...)
		f.cursor += 4
	}
	return string(out), StatusSuccess
}

func (ip *interp) createOrGetNode(name string, flags SearchFlags) *Node {
	var mf *methodFrame
	if len(ip.methodFrames) > 0 {
		mf = ip.methodFrames[len(ip.methodFrames)-1]
	}
	return ip.ctx.createOrFindNode(ip.currentScope, mf, name, flags)
}

// resolvePath resolves a path-flagged string object in place.
func (ip *interp) resolvePath(obj *Object) Status {
	node := ip.createOrGetNode(string(obj.str), SearchFlagSearch)
	if node == nil {
		return StatusNotFound
	}
	if node.object == nil {
		ip.ctx.log.Error("resolved node has no object", "node", node.AbsolutePath())
		return StatusInternalError
	}
	obj.setFrom(node.object)
	obj.node = node.object.node
	return StatusSuccess
}

// handleName processes a namestring encountered in opcode position: either
// a reference to an existing object or a method invocation. Inside package
// frames a miss becomes a lazily resolved path element instead of an error.
func (ip *interp) handleName(f *frame, needResult, superName bool) Status {
	f.cursor-- // the name's first byte was already consumed
	name, status := parseNameString(f)
	if status != StatusSuccess {
		return status
	}
	if len(name) < 4 {
		return StatusInvalidAML
	}

	node := ip.createOrGetNode(name, SearchFlagSearch)
	if node == nil {
		if f.kind == framePackage {
			ip.push(newPathString([]byte(name)))
			return StatusSuccess
		}
		ip.ctx.log.Warn("node was not found", "name", name)
		return StatusNotFound
	}
	if node.object == nil {
		ip.ctx.log.Error("named node has no object", "name", name)
		return StatusInternalError
	}

	obj := node.object
	if obj.kind == KindMethod && !superName {
		method := obj.method
		if method.Serialized {
			ip.acquireSerializeMutex(method.Mutex)
		}

		f.opBlocks = append(f.opBlocks, opBlockCtx{
			block:          callBlock,
			objectsAtStart: len(ip.objects),
			needResult:     needResult,
		})
		ip.push(&methodArgs{
			method:      method,
			node:        node,
			parentScope: node.parent,
			remaining:   method.ArgCount,
		})
		return StatusSuccess
	}

	if needResult {
		ip.push(obj)
	}
	return StatusSuccess
}

// parse is the interpreter main loop: drive the innermost frame's innermost
// op block one step at a time.
func (ip *interp) parse() Status {
	for {
		if len(ip.frames) == 0 {
			if len(ip.objects) > 1 {
				ip.ctx.log.Error("object stack not drained after all frames")
				return StatusInternalError
			}
			if len(ip.methodFrames) != 0 {
				ip.ctx.log.Error("method frames not drained after all frames")
				return StatusInternalError
			}
			return StatusSuccess
		}

		f := ip.frames[len(ip.frames)-1]

		if len(f.opBlocks) == 0 {
			if f.atEnd() {
				ip.popFrame(f)
				continue
			}

			b, status := f.readByte()
			if status != StatusSuccess {
				return status
			}

			var block *opBlock
			if b == extOpPrefix {
				eb, status := f.readByte()
				if status != StatusSuccess {
					return status
				}
				block = extOpTable[eb]
				if block == nil {
					ip.ctx.log.Error("unimplemented extended op", "op", eb)
					return StatusUnsupported
				}
			} else if isNameChar(b) {
				isPackage := f.kind == framePackage
				if status := ip.handleName(f, isPackage, isPackage); status != StatusSuccess {
					return status
				}
				continue
			} else {
				block = opTable[b]
				if block == nil {
					ip.ctx.log.Error("unimplemented op", "op", b)
					return StatusUnsupported
				}
			}

			f.opBlocks = append(f.opBlocks, opBlockCtx{
				block:          block,
				objectsAtStart: len(ip.objects),
				needResult:     f.kind == framePackage,
			})
		}

		block := &f.opBlocks[len(f.opBlocks)-1]
		step := block.block.steps[block.ip]

		switch {
		case block.processed:
			block.ip++
			block.processed = false
			if status := ip.validateStep(step, block); status != StatusSuccess {
				return status
			}

		case step == stepCall:
			// The block is retired before its handler runs: control flow
			// handlers may unwind the frame the block lives in.
			blockCopy := *block
			f.opBlocks = f.opBlocks[:len(f.opBlocks)-1]
			if status := ip.handleOp(f, &blockCopy, blockCopy.needResult); status != StatusSuccess {
				return status
			}

		default:
			block.processed = true
			if status := ip.runStep(f, block, step); status != StatusSuccess {
				return status
			}
		}
	}
}

// popFrame retires a finished frame, handling scope restoration and
// method-frame teardown.
func (ip *interp) popFrame(f *frame) Status {
	if f.kind == frameScope {
		ip.currentScope = f.parentScope
	}
	if f.isMethod {
		mf := ip.methodFrames[len(ip.methodFrames)-1]
		ip.methodFrames = ip.methodFrames[:len(ip.methodFrames)-1]
		ip.unwindMethodFrame(mf)
		if f.needResult {
			// Falling off the end of a method yields zero.
			ip.push(newInteger(0))
		}
	}
	ip.frames = ip.frames[:len(ip.frames)-1]
	return StatusSuccess
}

// validateStep checks the stack effect of a completed step, mirroring the
// defensive checks of the reference frame machine.
func (ip *interp) validateStep(step parseStep, block *opBlockCtx) Status {
	switch step {
	case stepPkgLength, stepByte, stepWord, stepDWord:
		block.objectsAtStart++
		if len(ip.objects) != block.objectsAtStart {
			return StatusInvalidAML
		}
	case stepNameString:
		block.objectsAtStart++
		if len(ip.objects) != block.objectsAtStart {
			return StatusInvalidAML
		}
	case stepTermArg, stepSuperName, stepSuperNameUnresolved:
		block.objectsAtStart++
		if len(ip.objects) != block.objectsAtStart {
			return StatusInvalidAML
		}
	case stepMethodArgs:
		args := ip.objects[block.objectsAtStart].(*methodArgs)
		if args.remaining != 0 ||
			len(ip.objects) != block.objectsAtStart+1+int(args.method.ArgCount) {
			return StatusInvalidAML
		}
	case stepFieldList:
		list := ip.objects[len(ip.objects)-1].(*fieldListState)
		if list.cursor != list.end {
			return StatusInvalidAML
		}
	}
	return StatusSuccess
}

// runStep performs the side of a step that consumes the byte stream.
func (ip *interp) runStep(f *frame, block *opBlockCtx, step parseStep) Status {
	switch step {
	case stepPkgLength:
		length, status := parsePkgLength(f)
		if status != StatusSuccess {
			return status
		}
		ip.push(length)

	case stepNameString:
		name, status := parseNameString(f)
		if status != StatusSuccess {
			return status
		}
		ip.push(name)

	case stepByte:
		b, status := f.readByte()
		if status != StatusSuccess {
			return status
		}
		ip.push(pkgLen{start: f.cursor, value: uint32(b)})

	case stepWord:
		v, status := f.readWord()
		if status != StatusSuccess {
			return status
		}
		ip.push(pkgLen{start: f.cursor, value: uint32(v)})

	case stepDWord:
		v, status := f.readDWord()
		if status != StatusSuccess {
			return status
		}
		ip.push(pkgLen{start: f.cursor, value: v})

	case stepPkgElements, stepVarPkgElements:
		length := ip.objects[block.objectsAtStart-2].(pkgLen)
		remaining := length.remaining(f)
		if remaining < 0 || f.need(remaining) != StatusSuccess {
			return StatusUnexpectedEOF
		}

		if step == stepVarPkgElements {
			countObj := ip.popObject()
			count, status := ip.toInteger(countObj)
			if status != StatusSuccess {
				return status
			}
			ip.push(pkgLen{value: uint32(count)})
		}

		start := f.cursor
		f.cursor += remaining
		ip.frames = append(ip.frames, &frame{
			data:       f.data,
			start:      start,
			end:        start + remaining,
			cursor:     start,
			parentScope: ip.currentScope,
			needResult: true,
			kind:       framePackage,
		})

	case stepMethodArgs:
		args := ip.objects[block.objectsAtStart].(*methodArgs)
		if args.remaining == 0 {
			break
		}
		args.remaining--
		block.processed = false
		return ip.parseOperand(f, stepTermArg)

	case stepTermArg, stepSuperName, stepSuperNameUnresolved:
		return ip.parseOperand(f, step)

	case stepStartFieldList:
		flags := ip.objects[len(ip.objects)-1].(pkgLen).value

		var length pkgLen
		var kind FieldKind
		switch block.block.handler {
		case handlerField:
			length = ip.objects[len(ip.objects)-3].(pkgLen)
			kind = FieldNormal
		case handlerIndexField:
			length = ip.objects[len(ip.objects)-4].(pkgLen)
			kind = FieldIndex
		case handlerBankField:
			length = ip.objects[len(ip.objects)-5].(pkgLen)
			kind = FieldBank
		}

		remaining := length.remaining(f)
		if remaining < 0 || f.need(remaining) != StatusSuccess {
			return StatusUnexpectedEOF
		}
		ip.push(&fieldListState{
			cursor: f.cursor,
			end:    f.cursor + remaining,
			kind:   kind,
			flags:  uint8(flags),
		})

	case stepFieldList:
		list := ip.objects[block.objectsAtStart].(*fieldListState)
		if list.connectField {
			// A buffer-valued connection: run a TermArg sub-parse over the
			// field list bytes, then resume the list.
			f.cursor = list.cursor
			block.processed = false
			f.opBlocks = append(f.opBlocks, opBlockCtx{
				block:          termArgBlock,
				objectsAtStart: len(ip.objects),
				needResult:     true,
			})
			list.connectField = false
			list.connectFieldPart2 = true
			break
		}
		if list.connectFieldPart2 {
			list.connection = ip.popRawObject()
			list.cursor = f.cursor
			list.connectFieldPart2 = false
		}

		if list.cursor == list.end {
			break
		}
		if status := ip.parseFieldElement(f, list); status != StatusSuccess {
			return status
		}
		block.processed = false
	}
	return StatusSuccess
}

// parseOperand begins decoding a TermArg or SuperName: either the next
// opcode's block is pushed, or a namestring is resolved directly.
func (ip *interp) parseOperand(f *frame, step parseStep) Status {
	b, status := f.readByte()
	if status != StatusSuccess {
		return status
	}

	var block *opBlock
	if b == extOpPrefix {
		eb, status := f.readByte()
		if status != StatusSuccess {
			return status
		}
		block = extOpTable[eb]
		if block == nil {
			ip.ctx.log.Error("unimplemented extended op", "op", eb)
			return StatusUnsupported
		}
	} else if isNameChar(b) {
		superName := step == stepSuperName || step == stepSuperNameUnresolved
		status := ip.handleName(f, true, superName)
		if status == StatusNotFound && step == stepSuperNameUnresolved {
			ip.push(nil)
			return StatusSuccess
		}
		return status
	} else {
		block = opTable[b]
		if block == nil {
			ip.ctx.log.Error("unimplemented op", "op", b)
			return StatusUnsupported
		}
	}

	f.opBlocks = append(f.opBlocks, opBlockCtx{
		block:          block,
		objectsAtStart: len(ip.objects),
		needResult:     true,
		asRef:          step == stepSuperName,
	})
	return StatusSuccess
}
