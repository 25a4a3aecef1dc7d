package core

// ObjectKind tags the variant stored in an Object. The numeric values of the
// data kinds match what the AML ObjectType operator reports.
type ObjectKind uint8

const (
	KindUninitialized ObjectKind = iota
	KindInteger
	KindString
	KindBuffer
	KindPackage
	KindField
	KindDevice
	KindEvent
	KindMethod
	KindMutex
	KindOpRegion
	KindPowerResource
	KindProcessor
	KindThermalZone
	KindBufferField
	KindDebug
	KindRef
	KindNullTarget
)

func (k ObjectKind) String() string {
	switch k {
	case KindUninitialized:
		return "Uninitialized"
	case KindInteger:
		return "Integer"
	case KindString:
		return "String"
	case KindBuffer:
		return "Buffer"
	case KindPackage:
		return "Package"
	case KindField:
		return "Field"
	case KindDevice:
		return "Device"
	case KindEvent:
		return "Event"
	case KindMethod:
		return "Method"
	case KindMutex:
		return "Mutex"
	case KindOpRegion:
		return "Operation Region"
	case KindPowerResource:
		return "Power Resource"
	case KindProcessor:
		return "Processor"
	case KindThermalZone:
		return "Thermal Zone"
	case KindBufferField:
		return "Buffer Field"
	case KindDebug:
		return "Debug Object"
	case KindRef:
		return "Reference"
	case KindNullTarget:
		return "Null Target"
	}
	return "Unknown"
}

// RefKind distinguishes the three reference flavors an AML reference object
// can carry.
type RefKind uint8

const (
	RefOf RefKind = iota
	RefArg
	RefLocal
)

// Ref is an indirection to another object. Clones of references alias: the
// inner object is shared, never copied.
type Ref struct {
	Kind  RefKind
	Inner *Object
}

// Method points into the AML bytecode of a control method. A serialized
// method shares one mutex between all of its concurrent activations.
type Method struct {
	AML        []byte
	ArgCount   uint8
	Serialized bool
	SyncLevel  uint8
	Mutex      *Mutex

	// Native replaces the bytecode body for built-in methods such as \_OSI.
	Native func(c *Context, args []*Object) (*Object, Status)
}

// FieldKind selects how a field reaches its backing store.
type FieldKind uint8

const (
	FieldNormal FieldKind = iota
	FieldIndex
	FieldBank
)

// FieldUpdate is the update rule applied to untouched bits of a partially
// written access chunk.
type FieldUpdate uint8

const (
	UpdatePreserve FieldUpdate = iota
	UpdateWriteAsOnes
	UpdateWriteAsZeros
)

// Field is a bit-granular window into an operation region, an index/data
// field pair, or a bank-selected region.
type Field struct {
	Kind FieldKind

	// Owner is the operation region object for normal and bank fields, and
	// the index field for index fields.
	Owner *Object
	// Data is the data field for index fields and the bank field for bank
	// fields.
	Data      *Object
	BankValue uint64

	// Connection carries a GPIO/GenericSerialBus connection resource. It is
	// recorded during parsing but rejected at access time.
	Connection *Object

	BitSize    uint32
	BitOffset  uint32
	AccessSize uint8
	Update     FieldUpdate
	Lock       bool
}

// BufferField is a bit-range view into an owning buffer object.
type BufferField struct {
	Owner        *Object
	ByteOffset   uint32
	ByteSize     uint32
	TotalBitSize uint32
	BitOffset    uint8
	BitSize      uint8
}

// Processor describes a legacy Processor() declaration.
type Processor struct {
	BlockAddr uint32
	BlockSize uint8
	ID        uint8
}

// PowerResource describes a PowerResource() declaration.
type PowerResource struct {
	ResourceOrder uint16
	SystemLevel   uint8
}

// Object is the reference counted variant the whole interpreter operates on.
// Exactly one of the payload fields is meaningful, selected by kind.
// Assignment of *Object duplicates the reference; Clone copies the contents.
type Object struct {
	node *Node
	kind ObjectKind

	integer uint64
	str     []byte
	// isPath marks a string that holds an unresolved namestring: a package
	// element whose target did not exist at parse time and is looked up
	// lazily on first access.
	isPath bool
	buf    []byte
	pkg    []*Object

	method      *Method
	field       *Field
	bufferField *BufferField
	region      *OpRegion
	mutex       *Mutex
	event       *Event
	processor   Processor
	powerRes    PowerResource
	ref         Ref
}

// Kind reports which variant the object currently holds.
func (o *Object) Kind() ObjectKind { return o.kind }

// Node returns the namespace node owning this object, or nil for transient
// objects.
func (o *Object) Node() *Node { return o.node }

// Integer returns the integer payload. Valid only for KindInteger.
func (o *Object) Integer() uint64 { return o.integer }

// StringBytes returns the string payload without the NUL terminator.
func (o *Object) StringBytes() []byte { return o.str }

// StringValue returns the string payload as a Go string.
func (o *Object) StringValue() string { return string(o.str) }

// Buffer returns the buffer payload. The slice aliases the object's storage.
func (o *Object) Buffer() []byte { return o.buf }

// PackageLen returns the element count of a package object.
func (o *Object) PackageLen() int { return len(o.pkg) }

// Field returns the field payload. Valid only for KindField.
func (o *Object) Field() *Field { return o.field }

// Region returns the operation region payload. Valid only for KindOpRegion.
func (o *Object) Region() *OpRegion { return o.region }

// Method returns the method payload. Valid only for KindMethod.
func (o *Object) Method() *Method { return o.method }

// Mutex returns the mutex payload. Valid only for KindMutex.
func (o *Object) Mutex() *Mutex { return o.mutex }

// IsDevice reports whether the object marks a device-like namespace node.
func (o *Object) IsDevice() bool {
	return o.kind == KindDevice || o.kind == KindProcessor
}

// NewInteger builds a transient integer object, typically a method
// argument.
func NewInteger(v uint64) *Object { return newInteger(v) }

// NewString builds a transient string object.
func NewString(s string) *Object { return newString([]byte(s)) }

// NewBuffer builds a transient buffer object owning a copy of b.
func NewBuffer(b []byte) *Object {
	buf := make([]byte, len(b))
	copy(buf, b)
	return newBuffer(buf)
}

// NewPackage builds a transient package object over the given elements.
func NewPackage(elems ...*Object) *Object { return newPackage(elems) }

func newObject() *Object { return &Object{kind: KindUninitialized} }

func newInteger(v uint64) *Object { return &Object{kind: KindInteger, integer: v} }

func newString(b []byte) *Object { return &Object{kind: KindString, str: b} }

func newPathString(b []byte) *Object {
	return &Object{kind: KindString, str: b, isPath: true}
}

func newBuffer(b []byte) *Object { return &Object{kind: KindBuffer, buf: b} }

func newPackage(elems []*Object) *Object { return &Object{kind: KindPackage, pkg: elems} }

func newRef(kind RefKind, inner *Object) *Object {
	return &Object{kind: KindRef, ref: Ref{Kind: kind, Inner: inner}}
}

// setFrom replaces o's variant with a shallow copy of src's. Both objects
// share any heap payload afterwards; the node back-link is kept.
func (o *Object) setFrom(src *Object) {
	node := o.node
	*o = *src
	o.node = node
}

func (o *Object) setInteger(v uint64) {
	o.reset(KindInteger)
	o.integer = v
}

func (o *Object) setString(b []byte) {
	o.reset(KindString)
	o.str = b
}

func (o *Object) setBuffer(b []byte) {
	o.reset(KindBuffer)
	o.buf = b
}

func (o *Object) reset(kind ObjectKind) {
	node := o.node
	*o = Object{kind: kind, node: node}
}

// cloneInto deep-copies o's variant into dst. Strings, buffers and package
// elements are copied recursively; cloning a mutex or event allocates a new
// host handle at the same sync level; references clone by aliasing their
// inner object. The destination keeps its node back-link.
func (o *Object) cloneInto(dst *Object) Status {
	switch o.kind {
	case KindString:
		str := make([]byte, len(o.str))
		copy(str, o.str)
		dst.reset(KindString)
		dst.str = str
		dst.isPath = o.isPath
	case KindBuffer:
		buf := make([]byte, len(o.buf))
		copy(buf, o.buf)
		dst.reset(KindBuffer)
		dst.buf = buf
	case KindPackage:
		elems := make([]*Object, len(o.pkg))
		for i, elem := range o.pkg {
			clone := newObject()
			if status := elem.cloneInto(clone); status != StatusSuccess {
				return status
			}
			clone.node = elem.node
			elems[i] = clone
		}
		dst.reset(KindPackage)
		dst.pkg = elems
	case KindMutex:
		clone, status := o.mutex.clone()
		if status != StatusSuccess {
			return status
		}
		dst.reset(KindMutex)
		dst.mutex = clone
	case KindEvent:
		clone, status := o.event.clone()
		if status != StatusSuccess {
			return status
		}
		dst.reset(KindEvent)
		dst.event = clone
	case KindMethod:
		m := &Method{
			AML:        o.method.AML,
			ArgCount:   o.method.ArgCount,
			Serialized: o.method.Serialized,
			SyncLevel:  o.method.SyncLevel,
			Native:     o.method.Native,
		}
		if m.Serialized {
			mutex, status := o.method.Mutex.clone()
			if status != StatusSuccess {
				return status
			}
			m.Mutex = mutex
		}
		dst.reset(KindMethod)
		dst.method = m
	case KindRef:
		dst.reset(KindRef)
		dst.ref = o.ref
	default:
		// Integers, fields, regions and node-kind markers copy by value;
		// field and region payloads are shared structure by design.
		dst.setFrom(o)
	}
	return StatusSuccess
}
