package core

import (
	"log/slog"

	"github.com/tinyrange/aml/internal/tables"
)

// Defaults for runaway-AML watchdogging.
const (
	DefaultMaxCallDepth       = 256
	DefaultLoopTimeoutSeconds = 2
)

// Table is an installed system description table.
type Table struct {
	Header tables.SDTHeader
	// Data is the full table including the header.
	Data []byte
}

// AML returns the table body following the header.
func (t *Table) AML() []byte { return t.Data[tables.HeaderLen:] }

// Context owns the namespace, the installed tables and the address space
// handlers. Multiple goroutines may evaluate concurrently; cross-thread
// exclusion is the firmware's business, expressed through AML mutexes and
// the global lock.
type Context struct {
	host Host
	log  *slog.Logger

	root       *Node
	tablesList []*Table
	revision   uint8
	intSize    uint8

	// globalLocals back Local0-7 for AML executed outside any method.
	globalLocals [8]*Object

	regionHandlers []*RegionSpaceHandler
	pendingRegs    []*Node

	// globalMutexes tracks mutexes acquired outside any method frame.
	globalMutexes *Mutex

	globalLock *Mutex

	// NotifyHook, when set, receives Notify deliveries before the host.
	// The event subsystem uses it to fan out to installed handlers.
	NotifyHook func(node *Node, value uint64)

	MaxCallDepth       int
	LoopTimeoutSeconds int
}

// NewContext builds a context with the predefined namespace in place.
func NewContext(h Host, logger *slog.Logger) (*Context, Status) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Context{
		host:               h,
		log:                logger,
		revision:           2,
		intSize:            8,
		MaxCallDepth:       DefaultMaxCallDepth,
		LoopTimeoutSeconds: DefaultLoopTimeoutSeconds,
	}

	c.root = newNode([4]byte{})
	c.root.object = newObject()
	c.root.object.node = c.root

	predefine := func(name string, obj *Object) *Node {
		node := newNode(padName(name))
		node.parent = c.root
		obj.node = node
		node.object = obj
		c.root.addChild(node)
		return node
	}

	gl, status := newMutex(h, 0)
	if status != StatusSuccess {
		return nil, status
	}
	c.globalLock = gl
	predefine("_GL_", &Object{kind: KindMutex, mutex: gl})

	predefine("_OSI", &Object{kind: KindMethod, method: &Method{
		ArgCount: 1,
		Native:   osiMethod,
	}})

	for _, name := range []string{"_SB_", "_SI_", "_GPE", "_PR_", "_TZ_"} {
		predefine(name, &Object{kind: KindDevice})
	}

	predefine("_OS_", newString([]byte("Microsoft Windows NT")))
	predefine("_REV", newInteger(2))

	c.regionHandlers = []*RegionSpaceHandler{pciConfigHandler()}

	return c, StatusSuccess
}

// Host returns the host the context was built with.
func (c *Context) Host() Host { return c.host }

// Logger returns the context's structured logger.
func (c *Context) Logger() *slog.Logger { return c.log }

// Root returns the namespace root node.
func (c *Context) Root() *Node { return c.root }

// GlobalLock returns the \_GL_ mutex.
func (c *Context) GlobalLock() *Mutex { return c.globalLock }

// Revision returns the AML revision governing integer width.
func (c *Context) Revision() uint8 { return c.revision }

// IntSize returns the current integer width in bytes (4 or 8).
func (c *Context) IntSize() uint8 { return c.intSize }

// InstallTable registers a raw system description table with the context.
// Installing a DSDT sets the context's AML revision and hence the integer
// width; other tables leave it unchanged.
func (c *Context) InstallTable(raw []byte) (*Table, Status) {
	hdr, err := tables.ParseSDTHeader(raw)
	if err != nil {
		return nil, StatusInvalidArgs
	}
	if uint32(len(raw)) < hdr.Length || hdr.Length < tables.HeaderLen {
		return nil, StatusInvalidArgs
	}
	t := &Table{Header: hdr, Data: raw[:hdr.Length]}
	c.tablesList = append(c.tablesList, t)

	if hdr.Signature == tables.Sig("DSDT") {
		c.setRevision(hdr.Revision)
	}
	return t, StatusSuccess
}

func (c *Context) setRevision(rev uint8) {
	c.revision = rev
	if rev >= 2 {
		c.intSize = 8
	} else {
		c.intSize = 4
	}
}

// FindTable returns the index-th installed table with the given signature.
func (c *Context) FindTable(signature string, index int) (*Table, Status) {
	sig := tables.Sig(signature)
	for _, t := range c.tablesList {
		if t.Header.Signature == sig {
			if index == 0 {
				return t, StatusSuccess
			}
			index--
		}
	}
	return nil, StatusNotFound
}

// LoadTable executes a definition block in declarative mode, populating the
// namespace. The aml slice is the table body without the SDT header.
func (c *Context) LoadTable(aml []byte) Status {
	interp := newInterpreter(c)
	return interp.execute(aml)
}

// LoadNamespace loads the installed DSDT followed by every installed SSDT.
func (c *Context) LoadNamespace() Status {
	dsdt, status := c.FindTable("DSDT", 0)
	if status != StatusSuccess {
		return status
	}
	c.setRevision(dsdt.Header.Revision)
	if status := c.LoadTable(dsdt.AML()); status != StatusSuccess {
		return status
	}

	for i := 0; ; i++ {
		ssdt, status := c.FindTable("SSDT", i)
		if status == StatusNotFound {
			break
		} else if status != StatusSuccess {
			return status
		}
		if status := c.LoadTable(ssdt.AML()); status != StatusSuccess {
			return status
		}
	}
	return StatusSuccess
}

// FindNode resolves a namestring using the method-style search rules,
// starting at start (the root when nil).
func (c *Context) FindNode(start *Node, name string) *Node {
	if start == nil {
		start = c.root
	}
	return c.createOrFindNode(start, nil, name, SearchFlagSearch)
}

// Evaluate resolves name from the root and evaluates it: methods are
// invoked with args, any other object is returned as is.
func (c *Context) Evaluate(name string, args []*Object, res **Object) Status {
	node := c.createOrFindNode(c.root, nil, name, SearchFlagSearch)
	if node == nil {
		return StatusNotFound
	}
	return c.evaluateNode(node, args, res)
}

// EvaluateAt evaluates the direct child name of node.
func (c *Context) EvaluateAt(node *Node, name string, args []*Object, res **Object) Status {
	if node == nil {
		return StatusNotFound
	}
	child := node.Child(name)
	if child == nil {
		return StatusNotFound
	}
	return c.evaluateNode(child, args, res)
}

func (c *Context) evaluateNode(node *Node, args []*Object, res **Object) Status {
	obj := node.object
	if obj == nil {
		c.log.Error("evaluate reached a node without an object", "node", node.AbsolutePath())
		return StatusInternalError
	}
	if obj.kind != KindMethod {
		if res != nil {
			*res = obj
		}
		return StatusSuccess
	}

	interp := newInterpreter(c)
	return interp.invokeMethod(node, args, res)
}

// EvaluateInt evaluates name and type-checks the result as an integer.
func (c *Context) EvaluateInt(name string, args []*Object, res *uint64) Status {
	return c.evaluateIntNode(nil, name, args, res)
}

// EvaluateIntAt is EvaluateInt scoped to a direct child of node.
func (c *Context) EvaluateIntAt(node *Node, name string, args []*Object, res *uint64) Status {
	return c.evaluateIntNode(node, name, args, res)
}

func (c *Context) evaluateIntNode(node *Node, name string, args []*Object, res *uint64) Status {
	var obj *Object
	var status Status
	if node != nil {
		status = c.EvaluateAt(node, name, args, &obj)
	} else {
		status = c.Evaluate(name, args, &obj)
	}
	if status != StatusSuccess {
		return status
	}
	if obj.kind != KindInteger {
		return StatusInvalidType
	}
	*res = obj.integer
	return StatusSuccess
}

// EvaluatePackage evaluates name and type-checks the result as a package.
func (c *Context) EvaluatePackage(name string, args []*Object, res **Object) Status {
	var obj *Object
	if status := c.Evaluate(name, args, &obj); status != StatusSuccess {
		return status
	}
	if obj.kind != KindPackage {
		return StatusInvalidType
	}
	*res = obj
	return StatusSuccess
}

// EvaluateBuffer evaluates name and type-checks the result as a buffer.
func (c *Context) EvaluateBuffer(name string, args []*Object, res *[]byte) Status {
	var obj *Object
	if status := c.Evaluate(name, args, &obj); status != StatusSuccess {
		return status
	}
	if obj.kind != KindBuffer {
		return StatusInvalidType
	}
	*res = obj.buf
	return StatusSuccess
}

// IterDecision is a visitor's verdict while walking the namespace.
type IterDecision uint8

const (
	IterContinue IterDecision = iota
	IterBreak
)

// IterateNodes walks the tree depth first from start (root when nil).
func (c *Context) IterateNodes(start *Node, fn func(*Node) IterDecision) Status {
	if start == nil {
		start = c.root
	}
	stack := []*Node{start}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if fn(node) == IterBreak {
			return StatusSuccess
		}
		for i := len(node.children) - 1; i >= 0; i-- {
			stack = append(stack, node.children[i])
		}
	}
	return StatusSuccess
}

// DiscoverNodes evaluates _HID and _CID on every node below start and calls
// fn on nodes whose id matches one of ids. A _CID package matches if any of
// its elements does.
func (c *Context) DiscoverNodes(start *Node, ids []tables.EisaID, fn func(*Node) IterDecision) Status {
	if start == nil {
		start = c.root
	}
	stack := []*Node{start}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		matched := false
		hid, status := c.nodeID(node, "_HID")
		if status != StatusSuccess && status != StatusNotFound && status != StatusMethodNotFound {
			return status
		}
		if !hid.IsZero() {
			for _, id := range ids {
				if id == hid {
					if fn(node) == IterBreak {
						return StatusSuccess
					}
					matched = true
					break
				}
			}
		}

		if !matched {
			var res *Object
			status = c.EvaluateAt(node, "_CID", nil, &res)
			if status == StatusSuccess {
				stop, match := c.matchCID(node, res, ids, fn)
				if stop {
					return StatusSuccess
				}
				matched = match
			} else if status != StatusNotFound && status != StatusMethodNotFound {
				return status
			}
		}

		for i := len(node.children) - 1; i >= 0; i-- {
			stack = append(stack, node.children[i])
		}
	}
	return StatusSuccess
}

// matchCID matches a _CID result, which may be a string, an EISA encoded
// integer, or a package of either.
func (c *Context) matchCID(node *Node, res *Object, ids []tables.EisaID, fn func(*Node) IterDecision) (stop, matched bool) {
	check := func(id tables.EisaID) (bool, bool) {
		if id.IsZero() {
			return false, false
		}
		for _, want := range ids {
			if want == id {
				return fn(node) == IterBreak, true
			}
		}
		return false, false
	}

	switch res.kind {
	case KindString, KindInteger:
		return check(idFromObject(res))
	case KindPackage:
		for i := range res.pkg {
			elem, status := c.GetPackageElement(res, i)
			if status != StatusSuccess {
				continue
			}
			stop, match := check(idFromObject(elem))
			if stop || match {
				return stop, match
			}
		}
	}
	return false, false
}

func idFromObject(obj *Object) tables.EisaID {
	switch obj.kind {
	case KindString:
		if len(obj.str) >= 6 {
			return tables.EisaFromString(string(obj.str))
		}
	case KindInteger:
		return tables.DecodeEisa(uint32(obj.integer))
	}
	return tables.EisaID{}
}

// DiscoverNodesByHID matches string hardware IDs without the EISA encoding.
func (c *Context) DiscoverNodesByHID(start *Node, ids []string, fn func(*Node) IterDecision) Status {
	if start == nil {
		start = c.root
	}
	stack := []*Node{start}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		matched := false
		var res *Object
		status := c.EvaluateAt(node, "_HID", nil, &res)
		if status == StatusSuccess && res.kind == KindString {
			for _, id := range ids {
				if id == string(res.str) {
					if fn(node) == IterBreak {
						return StatusSuccess
					}
					matched = true
					break
				}
			}
		} else if status != StatusSuccess && status != StatusNotFound && status != StatusMethodNotFound {
			return status
		}

		if !matched {
			status = c.EvaluateAt(node, "_CID", nil, &res)
			if status == StatusSuccess {
				candidates := []*Object{res}
				if res.kind == KindPackage {
					candidates = res.pkg
				}
			cidLoop:
				for _, cand := range candidates {
					if cand.kind != KindString {
						continue
					}
					for _, id := range ids {
						if id == string(cand.str) {
							if fn(node) == IterBreak {
								return StatusSuccess
							}
							break cidLoop
						}
					}
				}
			} else if status != StatusNotFound && status != StatusMethodNotFound {
				return status
			}
		}

		for i := len(node.children) - 1; i >= 0; i-- {
			stack = append(stack, node.children[i])
		}
	}
	return StatusSuccess
}

func (c *Context) nodeID(node *Node, name string) (tables.EisaID, Status) {
	var res *Object
	status := c.EvaluateAt(node, name, nil, &res)
	if status != StatusSuccess {
		return tables.EisaID{}, status
	}
	return idFromObject(res), StatusSuccess
}

// GetPackageElement returns element i of a package, resolving path-flagged
// elements lazily and reading through field elements. The resolution
// rewrites the element slot, so a second call returns the same object.
func (c *Context) GetPackageElement(pkg *Object, i int) (*Object, Status) {
	if pkg == nil || pkg.kind != KindPackage || i < 0 || i >= len(pkg.pkg) {
		return nil, StatusInvalidArgs
	}

	elem := pkg.pkg[i]
	if elem.kind == KindString && elem.isPath {
		start := pkg.node
		if start == nil {
			start = c.root
		}
		node := c.createOrFindNode(start, nil, string(elem.str), SearchFlagSearch)
		if node == nil {
			return nil, StatusNotFound
		}
		if node.object == nil {
			c.log.Error("package element resolved to a node without an object",
				"node", node.AbsolutePath())
			return nil, StatusInternalError
		}
		pkg.pkg[i] = node.object
		elem = node.object
	}

	if elem.kind == KindField {
		interp := newInterpreter(c)
		value, status := interp.readField(elem.field)
		if status != StatusSuccess {
			c.log.Error("package element field read failed", "status", status)
			return nil, status
		}
		return newInteger(value), StatusSuccess
	}

	if elem.node == nil {
		elem.node = pkg.node
	}
	return elem, StatusSuccess
}

const (
	staDevicePresent     = 1 << 0
	staDeviceFunctioning = 1 << 3
)

// InitNamespace performs the post-load initialization pass: top level _INI,
// the deferred _REG flush, then the _STA/_INI walk over the whole tree.
func (c *Context) InitNamespace() Status {
	var tmp *Object
	c.EvaluateAt(c.root, "_INI", nil, &tmp)
	sb := c.FindNode(c.root, "_SB")
	c.EvaluateAt(sb, "_INI", nil, &tmp)

	remaining := c.pendingRegs[:0]
	for _, node := range c.pendingRegs {
		if node.object.region.runReg() != StatusSuccess {
			remaining = append(remaining, node)
		}
	}
	c.pendingRegs = remaining

	stack := []*Node{c.root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node.isAlias {
			continue
		}

		var res *Object
		status := c.EvaluateAt(node, "_STA", nil, &res)

		runINI := false
		examineChildren := false
		switch {
		case status == StatusSuccess && res.kind == KindInteger:
			value := res.integer
			if value&staDevicePresent != 0 {
				runINI = true
				examineChildren = true
			} else if value&staDeviceFunctioning != 0 {
				examineChildren = true
			}
		case status == StatusNotFound || status == StatusMethodNotFound:
			if node.object != nil && node.object.IsDevice() && node.name[0] != 0 && node != sb {
				runINI = true
			}
			examineChildren = true
		default:
			c.log.Warn("_STA failed", "node", node.AbsolutePath(), "status", status)
			examineChildren = true
		}

		if runINI {
			status = c.EvaluateAt(node, "_INI", nil, &res)
			if status != StatusSuccess && status != StatusNotFound && status != StatusMethodNotFound {
				c.log.Warn("_INI failed", "node", node.AbsolutePath(), "status", status)
			}
		}

		if examineChildren {
			for i := len(node.children) - 1; i >= 0; i-- {
				stack = append(stack, node.children[i])
			}
		}
	}
	return StatusSuccess
}

// notify routes an AML Notify to the hook and the host.
func (c *Context) notify(node *Node, value uint64) {
	if c.NotifyHook != nil {
		c.NotifyHook(node, value)
	}
	c.host.Notify(node, value)
}
