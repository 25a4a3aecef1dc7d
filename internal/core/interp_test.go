package core_test

import (
	"log/slog"
	"testing"

	gen "github.com/tinyrange/aml/internal/amlgen"
	"github.com/tinyrange/aml/internal/core"
	"github.com/tinyrange/aml/internal/host"
)

// newTestContext builds a context over a fresh simulated host and loads the
// given definition block body.
func newTestContext(t *testing.T, body ...[]byte) (*core.Context, *host.SimHost) {
	t.Helper()
	h := host.NewSimHost()
	ctx, status := core.NewContext(h, slog.Default())
	if status != core.StatusSuccess {
		t.Fatalf("NewContext: %v", status)
	}
	if len(body) > 0 {
		var all []byte
		for _, b := range body {
			all = append(all, b...)
		}
		if status := ctx.LoadTable(all); status != core.StatusSuccess {
			t.Fatalf("LoadTable: %v", status)
		}
	}
	return ctx, h
}

func evalInt(t *testing.T, ctx *core.Context, name string) uint64 {
	t.Helper()
	var v uint64
	if status := ctx.EvaluateInt(name, nil, &v); status != core.StatusSuccess {
		t.Fatalf("EvaluateInt(%s): %v", name, status)
	}
	return v
}

func TestMethodArithmetic(t *testing.T) {
	ctx, _ := newTestContext(t,
		gen.Method("MAIN", 0, false,
			gen.Return(gen.Add(gen.Integer(2),
				gen.Multiply(gen.Integer(3), gen.Integer(4), gen.ZeroTarget()),
				gen.ZeroTarget()))),
	)
	if got := evalInt(t, ctx, "\\MAIN"); got != 14 {
		t.Fatalf("\\MAIN = %d, want 14", got)
	}
}

func TestStringConcat(t *testing.T) {
	ctx, _ := newTestContext(t,
		gen.Method("MAIN", 0, false,
			gen.Return(gen.Concat(gen.String("ab"), gen.String("cd"), gen.ZeroTarget()))),
	)
	var res *core.Object
	if status := ctx.Evaluate("\\MAIN", nil, &res); status != core.StatusSuccess {
		t.Fatalf("Evaluate: %v", status)
	}
	if res.Kind() != core.KindString || res.StringValue() != "abcd" {
		t.Fatalf("got %v %q, want String \"abcd\"", res.Kind(), res.StringValue())
	}
}

func TestIntegerOps(t *testing.T) {
	tests := []struct {
		name string
		expr []byte
		want uint64
	}{
		{"subtract", gen.Subtract(gen.Integer(10), gen.Integer(3), gen.ZeroTarget()), 7},
		{"mod", gen.Mod(gen.Integer(10), gen.Integer(3), gen.ZeroTarget()), 1},
		{"and", gen.And(gen.Integer(0xF0F0), gen.Integer(0xFF00), gen.ZeroTarget()), 0xF000},
		{"or", gen.Or(gen.Integer(0xF0), gen.Integer(0x0F), gen.ZeroTarget()), 0xFF},
		{"xor", gen.Xor(gen.Integer(0xFF), gen.Integer(0x0F), gen.ZeroTarget()), 0xF0},
		{"shl", gen.ShiftLeft(gen.Integer(1), gen.Integer(8), gen.ZeroTarget()), 0x100},
		{"shr", gen.ShiftRight(gen.Integer(0x100), gen.Integer(4), gen.ZeroTarget()), 0x10},
		{"not", gen.Not(gen.Integer(0), gen.ZeroTarget()), 0xFFFFFFFFFFFFFFFF},
		{"fslb", gen.FindSetLeftBit(gen.Integer(0x40), gen.ZeroTarget()), 58},
		{"fsrb", gen.FindSetRightBit(gen.Integer(0x40), gen.ZeroTarget()), 7},
		{"lequal", gen.LEqual(gen.Integer(4), gen.Integer(4)), 1},
		{"lgreater", gen.LGreater(gen.Integer(3), gen.Integer(4)), 0},
		{"lless", gen.LLess(gen.Integer(3), gen.Integer(4)), 1},
		{"land", gen.LAnd(gen.Integer(1), gen.Integer(2)), 1},
		{"lor", gen.LOr(gen.Integer(0), gen.Integer(0)), 0},
		{"lnot", gen.LNot(gen.Integer(0)), 1},
		{"tobcd", gen.ToBCD(gen.Integer(1234), gen.ZeroTarget()), 0x1234},
		{"frombcd", gen.FromBCD(gen.Integer(0x1234), gen.ZeroTarget()), 1234},
		{"tointeger", gen.ToInteger(gen.String("0x1f"), gen.ZeroTarget()), 0x1F},
		{"sizeof-str", gen.SizeOf(gen.String("hello")), 5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx, _ := newTestContext(t,
				gen.Method("MAIN", 0, false, gen.Return(tc.expr)))
			if got := evalInt(t, ctx, "\\MAIN"); got != tc.want {
				t.Fatalf("got 0x%x, want 0x%x", got, tc.want)
			}
		})
	}
}

func TestDivide(t *testing.T) {
	ctx, _ := newTestContext(t,
		gen.Method("MAIN", 0, false,
			gen.Divide(gen.Integer(17), gen.Integer(5), gen.Local(0), gen.Local(1)),
			gen.Return(gen.Add(
				gen.Multiply(gen.Local(1), gen.Integer(100), gen.ZeroTarget()),
				gen.Local(0), gen.ZeroTarget()))),
	)
	// quotient 3, remainder 2.
	if got := evalInt(t, ctx, "\\MAIN"); got != 302 {
		t.Fatalf("got %d, want 302", got)
	}
}

func TestDivideByZero(t *testing.T) {
	ctx, _ := newTestContext(t,
		gen.Method("MAIN", 0, false,
			gen.Return(gen.Divide(gen.Integer(1), gen.Integer(0), gen.ZeroTarget(), gen.ZeroTarget()))),
	)
	var res *core.Object
	if status := ctx.Evaluate("\\MAIN", nil, &res); status != core.StatusInvalidAML {
		t.Fatalf("got %v, want invalid aml", status)
	}
}

func TestLocalsAndStore(t *testing.T) {
	ctx, _ := newTestContext(t,
		gen.Method("MAIN", 0, false,
			gen.Store(gen.Integer(5), gen.Local(0)),
			gen.Store(gen.Add(gen.Local(0), gen.Integer(2), gen.ZeroTarget()), gen.Local(1)),
			gen.Return(gen.Local(1))),
	)
	if got := evalInt(t, ctx, "\\MAIN"); got != 7 {
		t.Fatalf("got %d, want 7", got)
	}
}

func TestMethodArgs(t *testing.T) {
	ctx, _ := newTestContext(t,
		gen.Method("ADD2", 2, false,
			gen.Return(gen.Add(gen.Arg(0), gen.Arg(1), gen.ZeroTarget()))),
		gen.Method("MAIN", 0, false,
			gen.Return(gen.MethodCall("ADD2", gen.Integer(30), gen.Integer(12)))),
	)
	if got := evalInt(t, ctx, "\\MAIN"); got != 42 {
		t.Fatalf("got %d, want 42", got)
	}

	// Calling with explicit arguments from the host side.
	var v uint64
	args := []*core.Object{core.NewInteger(1), core.NewInteger(2)}
	if status := ctx.EvaluateInt("\\ADD2", args, &v); status != core.StatusSuccess || v != 3 {
		t.Fatalf("ADD2(1,2) = %d (%v), want 3", v, status)
	}

	// Argument count mismatch.
	if status := ctx.EvaluateInt("\\ADD2", nil, &v); status != core.StatusInvalidArgs {
		t.Fatalf("arg mismatch: got %v, want invalid arguments", status)
	}
}

func TestIfElse(t *testing.T) {
	body := func(pred uint64) []byte {
		return gen.Method("MAIN", 0, false,
			gen.If(gen.Integer(pred),
				gen.Return(gen.Integer(1))),
			gen.Else(
				gen.Return(gen.Integer(2))))
	}

	ctx, _ := newTestContext(t, body(1))
	if got := evalInt(t, ctx, "\\MAIN"); got != 1 {
		t.Fatalf("taken if: got %d, want 1", got)
	}

	ctx, _ = newTestContext(t, body(0))
	if got := evalInt(t, ctx, "\\MAIN"); got != 2 {
		t.Fatalf("else: got %d, want 2", got)
	}
}

func TestWhileLoop(t *testing.T) {
	ctx, _ := newTestContext(t,
		gen.Method("MAIN", 0, false,
			gen.Store(gen.Integer(0), gen.Local(0)),
			gen.Store(gen.Integer(0), gen.Local(1)),
			gen.While(gen.LLess(gen.Local(0), gen.Integer(10)),
				gen.Store(gen.Add(gen.Local(1), gen.Local(0), gen.ZeroTarget()), gen.Local(1)),
				gen.Increment(gen.Local(0))),
			gen.Return(gen.Local(1))),
	)
	if got := evalInt(t, ctx, "\\MAIN"); got != 45 {
		t.Fatalf("got %d, want 45", got)
	}
}

func TestBreakContinue(t *testing.T) {
	// Sum odd numbers below 10, stopping at 7: 1+3+5+7 = 16.
	ctx, _ := newTestContext(t,
		gen.Method("MAIN", 0, false,
			gen.Store(gen.Integer(0), gen.Local(0)),
			gen.Store(gen.Integer(0), gen.Local(1)),
			gen.While(gen.LLess(gen.Local(0), gen.Integer(10)),
				gen.Increment(gen.Local(0)),
				gen.If(gen.LEqual(gen.Mod(gen.Local(0), gen.Integer(2), gen.ZeroTarget()), gen.Integer(0)),
					gen.Continue()),
				gen.Store(gen.Add(gen.Local(1), gen.Local(0), gen.ZeroTarget()), gen.Local(1)),
				gen.If(gen.LEqual(gen.Local(0), gen.Integer(7)),
					gen.Break())),
			gen.Return(gen.Local(1))),
	)
	if got := evalInt(t, ctx, "\\MAIN"); got != 16 {
		t.Fatalf("got %d, want 16", got)
	}
}

func TestWhileTimeout(t *testing.T) {
	ctx, _ := newTestContext(t,
		gen.Method("MAIN", 0, false,
			gen.While(gen.Ones(), gen.Noop())),
	)
	ctx.LoopTimeoutSeconds = 1
	var res *core.Object
	if status := ctx.Evaluate("\\MAIN", nil, &res); status != core.StatusTimeout {
		t.Fatalf("got %v, want timeout", status)
	}
}

func TestFieldRoundTrip(t *testing.T) {
	ctx, h := newTestContext(t,
		gen.OpRegion("RGN0", 0 /* SystemMemory */, 0x1000, 8),
		gen.Field("RGN0", gen.FieldFlags(3 /* DWordAcc */, false, 0),
			gen.FieldUnit{Name: "FLD1", Bits: 32}),
		gen.Method("MAIN", 0, false,
			gen.Store(gen.Integer(0xDEADBEEF), gen.Ref("FLD1")),
			gen.Return(gen.Ref("FLD1"))),
	)
	if got := evalInt(t, ctx, "\\MAIN"); got != 0xDEADBEEF {
		t.Fatalf("got 0x%x, want 0xDEADBEEF", got)
	}
	mem := h.ReadMemory(0x1000, 4)
	if mem[0] != 0xEF || mem[1] != 0xBE || mem[2] != 0xAD || mem[3] != 0xDE {
		t.Fatalf("memory = %x, want efbeadde", mem)
	}
}

func TestFieldUpdateRules(t *testing.T) {
	// Two byte-wide fields packed into one DWord access chunk. Writing the
	// low field must preserve the high field under the Preserve rule.
	ctx, h := newTestContext(t,
		gen.OpRegion("RGN0", 0, 0x2000, 4),
		gen.Field("RGN0", gen.FieldFlags(3, false, 0 /* Preserve */),
			gen.FieldUnit{Name: "LO__", Bits: 8},
			gen.FieldUnit{Name: "HI__", Bits: 8}),
		gen.Method("MAIN", 0, false,
			gen.Store(gen.Integer(0xAA), gen.Ref("HI__")),
			gen.Store(gen.Integer(0x55), gen.Ref("LO__")),
			gen.Return(gen.Ref("HI__"))),
	)
	if got := evalInt(t, ctx, "\\MAIN"); got != 0xAA {
		t.Fatalf("high field = 0x%x, want 0xAA", got)
	}
	mem := h.ReadMemory(0x2000, 2)
	if mem[0] != 0x55 || mem[1] != 0xAA {
		t.Fatalf("memory = %x, want 55aa", mem)
	}
}

func TestFieldOffsets(t *testing.T) {
	// A reserved gap shifts the named field's bit offset.
	ctx, h := newTestContext(t,
		gen.OpRegion("RGN0", 0, 0x3000, 8),
		gen.Field("RGN0", gen.FieldFlags(1 /* ByteAcc */, false, 0),
			gen.FieldUnit{Name: "", Bits: 16},
			gen.FieldUnit{Name: "FLD2", Bits: 8}),
		gen.Method("MAIN", 0, false,
			gen.Store(gen.Integer(0x7E), gen.Ref("FLD2")),
			gen.Return(gen.Ref("FLD2"))),
	)
	if got := evalInt(t, ctx, "\\MAIN"); got != 0x7E {
		t.Fatalf("got 0x%x, want 0x7e", got)
	}
	if mem := h.ReadMemory(0x3002, 1); mem[0] != 0x7E {
		t.Fatalf("byte at +2 = 0x%x, want 0x7e", mem[0])
	}
}

func TestIndexField(t *testing.T) {
	// An index/data pair backed by SystemMemory: the index register selects
	// a byte offset, the data register accesses it. The simulated host
	// echoes writes, so the data lands wherever the region points.
	ctx, _ := newTestContext(t,
		gen.OpRegion("RGN0", 0, 0x4000, 2),
		gen.Field("RGN0", gen.FieldFlags(1, false, 0),
			gen.FieldUnit{Name: "IDX_", Bits: 8},
			gen.FieldUnit{Name: "DAT_", Bits: 8}),
		gen.IndexField("IDX_", "DAT_", gen.FieldFlags(1, false, 0),
			gen.FieldUnit{Name: "REG0", Bits: 8},
			gen.FieldUnit{Name: "REG1", Bits: 8}),
		gen.Method("MAIN", 0, false,
			gen.Store(gen.Integer(0x42), gen.Ref("REG1")),
			gen.Return(gen.Ref("REG1"))),
	)
	// REG1 lives at index offset 1: the write sets IDX_=1 then DAT_=0x42;
	// the read repeats the index dance and reads DAT_ back.
	if got := evalInt(t, ctx, "\\MAIN"); got != 0x42 {
		t.Fatalf("got 0x%x, want 0x42", got)
	}
}

func TestBankField(t *testing.T) {
	ctx, h := newTestContext(t,
		gen.OpRegion("RGN0", 0, 0x5000, 4),
		gen.Field("RGN0", gen.FieldFlags(1, false, 0),
			gen.FieldUnit{Name: "BNK_", Bits: 8}),
		gen.BankField("RGN0", "BNK_", 1, gen.FieldFlags(1, false, 0),
			gen.FieldUnit{Name: "", Bits: 8},
			gen.FieldUnit{Name: "BF00", Bits: 8}),
		gen.Method("MAIN", 0, false,
			gen.Store(gen.Integer(0x99), gen.Ref("BF00")),
			gen.Return(gen.Ref("BF00"))),
	)
	if got := evalInt(t, ctx, "\\MAIN"); got != 0x99 {
		t.Fatalf("got 0x%x, want 0x99", got)
	}
	// The bank selector must have been written before the access.
	if mem := h.ReadMemory(0x5000, 2); mem[0] != 1 || mem[1] != 0x99 {
		t.Fatalf("memory = %x, want 0199", mem)
	}
}

func TestBufferFields(t *testing.T) {
	ctx, _ := newTestContext(t,
		gen.Method("MAIN", 0, false,
			gen.Store(gen.Buffer([]byte{0, 0, 0, 0, 0, 0, 0, 0}), gen.Local(0)),
			gen.CreateDWordField(gen.Local(0), gen.Integer(2), "DWF_"),
			gen.Store(gen.Integer(0xCAFEBABE), gen.Ref("DWF_")),
			gen.Return(gen.ToInteger(gen.Ref("DWF_"), gen.ZeroTarget()))),
	)
	if got := evalInt(t, ctx, "\\MAIN"); got != 0xCAFEBABE {
		t.Fatalf("got 0x%x, want 0xCAFEBABE", got)
	}
}

func TestCreateFieldBitRange(t *testing.T) {
	ctx, _ := newTestContext(t,
		gen.Method("MAIN", 0, false,
			gen.Store(gen.Buffer([]byte{0xFF, 0xFF}), gen.Local(0)),
			gen.CreateField(gen.Local(0), gen.NameString("BITS"), gen.Integer(4), gen.Integer(6)),
			gen.Store(gen.Integer(0), gen.Ref("BITS")),
			gen.Return(gen.Local(0))),
	)
	var res *core.Object
	if status := ctx.Evaluate("\\MAIN", nil, &res); status != core.StatusSuccess {
		t.Fatalf("Evaluate: %v", status)
	}
	if res.Kind() != core.KindBuffer {
		t.Fatalf("got %v, want buffer", res.Kind())
	}
	// Bits 4..9 cleared: 0xFF,0xFF -> 0x0F,0xFC.
	buf := res.Buffer()
	if buf[0] != 0x0F || buf[1] != 0xFC {
		t.Fatalf("buffer = %x, want 0ffc", buf)
	}
}

func TestIndexIntoBufferAndPackage(t *testing.T) {
	ctx, _ := newTestContext(t,
		gen.Name("PKG0", gen.Package(gen.Integer(11), gen.Integer(22), gen.Integer(33))),
		gen.Method("MAIN", 0, false,
			gen.Store(gen.Buffer([]byte{1, 2, 3}), gen.Local(0)),
			gen.Store(gen.DerefOf(gen.Index(gen.Local(0), gen.Integer(1), gen.ZeroTarget())), gen.Local(1)),
			gen.Store(gen.DerefOf(gen.Index(gen.Ref("PKG0"), gen.Integer(2), gen.ZeroTarget())), gen.Local(2)),
			gen.Return(gen.Add(gen.Local(1), gen.Local(2), gen.ZeroTarget()))),
	)
	if got := evalInt(t, ctx, "\\MAIN"); got != 35 {
		t.Fatalf("got %d, want 35", got)
	}
}

func TestMatch(t *testing.T) {
	pkgDecl := gen.Name("PKG0", gen.Package(
		gen.Integer(10), gen.Integer(20), gen.Integer(30), gen.Integer(20)))

	// Match operator 1 is MEQ (equal), 0 is MTR (always true).
	ctx, _ := newTestContext(t,
		pkgDecl,
		gen.Method("MAIN", 0, false,
			gen.Return(gen.Match(gen.Ref("PKG0"), 1, gen.Integer(20), 0, gen.Integer(0), gen.Integer(0)))),
		gen.Method("MISS", 0, false,
			gen.Return(gen.Match(gen.Ref("PKG0"), 1, gen.Integer(99), 0, gen.Integer(0), gen.Integer(0)))),
		gen.Method("SKIP", 0, false,
			gen.Return(gen.Match(gen.Ref("PKG0"), 1, gen.Integer(20), 0, gen.Integer(0), gen.Integer(2)))),
	)
	if got := evalInt(t, ctx, "\\MAIN"); got != 1 {
		t.Fatalf("first match at %d, want 1", got)
	}
	if got := evalInt(t, ctx, "\\MISS"); got != 0xFFFFFFFFFFFFFFFF {
		t.Fatalf("miss = 0x%x, want Ones", got)
	}
	if got := evalInt(t, ctx, "\\SKIP"); got != 3 {
		t.Fatalf("skip = %d, want 3", got)
	}
}

func TestMatchStartIndexOutOfRange(t *testing.T) {
	ctx, _ := newTestContext(t,
		gen.Name("PKG0", gen.Package(gen.Integer(1))),
		gen.Method("MAIN", 0, false,
			gen.Return(gen.Match(gen.Ref("PKG0"), 0, gen.Integer(0), 0, gen.Integer(0), gen.Integer(5)))),
	)
	var res *core.Object
	if status := ctx.Evaluate("\\MAIN", nil, &res); status != core.StatusInvalidAML {
		t.Fatalf("got %v, want invalid aml", status)
	}
}

func TestMutexRecursion(t *testing.T) {
	// A serialized method recursing three levels deep, acquiring the same
	// mutex at every level.
	ctx, _ := newTestContext(t,
		gen.Mutex("MUT0", 0),
		gen.Method("REC_", 1, true,
			gen.Acquire(gen.Ref("MUT0"), 0xFFFF),
			gen.If(gen.LLess(gen.Arg(0), gen.Integer(3)),
				gen.MethodCall("REC_", gen.Add(gen.Arg(0), gen.Integer(1), gen.ZeroTarget()))),
			gen.Release(gen.Ref("MUT0"))),
	)

	var res *core.Object
	args := []*core.Object{core.NewInteger(1)}
	if status := ctx.Evaluate("\\REC_", args, &res); status != core.StatusSuccess {
		t.Fatalf("Evaluate: %v", status)
	}

	mutex := ctx.FindNode(nil, "MUT0").Object().Mutex()
	if mutex.Recursion() != 0 {
		t.Fatalf("recursion = %d, want 0", mutex.Recursion())
	}
	if mutex.Held() {
		t.Fatal("mutex still held after return")
	}
}

func TestLeakedMutexForceRelease(t *testing.T) {
	ctx, _ := newTestContext(t,
		gen.Mutex("MUT0", 0),
		gen.Method("MAIN", 0, false,
			gen.Acquire(gen.Ref("MUT0"), 0xFFFF),
			gen.Return(gen.Integer(0))),
	)
	var res *core.Object
	if status := ctx.Evaluate("\\MAIN", nil, &res); status != core.StatusSuccess {
		t.Fatalf("Evaluate: %v", status)
	}
	if ctx.FindNode(nil, "MUT0").Object().Mutex().Held() {
		t.Fatal("leaked mutex was not force released")
	}
}

func TestAcquireTimeout(t *testing.T) {
	// A zero timeout on an available mutex returns zero (acquired).
	ctx, _ := newTestContext(t,
		gen.Mutex("MUT0", 0),
		gen.Method("MAIN", 0, false,
			gen.Store(gen.Acquire(gen.Ref("MUT0"), 0), gen.Local(0)),
			gen.Release(gen.Ref("MUT0")),
			gen.Return(gen.Local(0))),
	)
	if got := evalInt(t, ctx, "\\MAIN"); got != 0 {
		t.Fatalf("acquire result = %d, want 0", got)
	}
}

func TestEventSignalWait(t *testing.T) {
	ctx, _ := newTestContext(t,
		gen.Event("EVT0"),
		gen.Method("MAIN", 0, false,
			gen.Signal(gen.Ref("EVT0")),
			gen.Return(gen.Wait(gen.Ref("EVT0"), gen.Integer(0)))),
		gen.Method("TOUT", 0, false,
			gen.Return(gen.Wait(gen.Ref("EVT0"), gen.Integer(0)))),
	)
	if got := evalInt(t, ctx, "\\MAIN"); got != 0 {
		t.Fatalf("signaled wait = %d, want 0", got)
	}
	if got := evalInt(t, ctx, "\\TOUT"); got != 1 {
		t.Fatalf("empty wait = %d, want 1 (timeout)", got)
	}
}

func TestLazyPackageResolution(t *testing.T) {
	// PKG0 references \DEV0.FLD0 before it is defined; resolution happens
	// on first element access.
	ctx, h := newTestContext(t,
		gen.Name("PKG0", gen.Package(gen.Ref("\\DEV0.FLD0"), gen.Ref("\\DEV0.VAL0"))),
		gen.Device("DEV0",
			gen.OpRegion("RGN0", 0, 0x6000, 4),
			gen.Field("RGN0", gen.FieldFlags(3, false, 0),
				gen.FieldUnit{Name: "FLD0", Bits: 32}),
			gen.Name("VAL0", gen.Integer(42))),
	)
	h.SetMemory(0x6000, []byte{0x78, 0x56, 0x34, 0x12})

	var pkg *core.Object
	if status := ctx.EvaluatePackage("\\PKG0", nil, &pkg); status != core.StatusSuccess {
		t.Fatalf("EvaluatePackage: %v", status)
	}

	elem, status := ctx.GetPackageElement(pkg, 0)
	if status != core.StatusSuccess {
		t.Fatalf("GetPackageElement(0): %v", status)
	}
	if elem.Kind() != core.KindInteger || elem.Integer() != 0x12345678 {
		t.Fatalf("field element = %v 0x%x, want Integer 0x12345678", elem.Kind(), elem.Integer())
	}

	// Non-field elements resolve once and stay resolved.
	first, status := ctx.GetPackageElement(pkg, 1)
	if status != core.StatusSuccess {
		t.Fatalf("GetPackageElement(1): %v", status)
	}
	second, _ := ctx.GetPackageElement(pkg, 1)
	if first != second {
		t.Fatal("lazy resolution is not idempotent")
	}
	if first.Integer() != 42 {
		t.Fatalf("named element = %d, want 42", first.Integer())
	}
}

func TestPackageDefaults(t *testing.T) {
	ctx, _ := newTestContext(t,
		gen.Name("PKG0", gen.Package(gen.Integer(7), gen.Integer(8))),
		gen.Method("MAIN", 0, false,
			gen.Return(gen.SizeOf(gen.Ref("PKG0")))),
	)
	if got := evalInt(t, ctx, "\\MAIN"); got != 2 {
		t.Fatalf("SizeOf = %d, want 2", got)
	}
}

func TestScopeAndNestedNames(t *testing.T) {
	ctx, _ := newTestContext(t,
		gen.Device("DEV0",
			gen.Name("VAL0", gen.Integer(5))),
		gen.Scope("DEV0",
			gen.Name("VAL1", gen.Integer(6)),
			gen.Method("SUM0", 0, false,
				gen.Return(gen.Add(gen.Ref("VAL0"), gen.Ref("VAL1"), gen.ZeroTarget())))),
	)
	if got := evalInt(t, ctx, "\\DEV0.SUM0"); got != 11 {
		t.Fatalf("got %d, want 11", got)
	}
}

func TestSearchRulesWalkUp(t *testing.T) {
	// A single-segment reference inside a nested scope walks up to find an
	// ancestor's sibling.
	ctx, _ := newTestContext(t,
		gen.Name("GLOB", gen.Integer(99)),
		gen.Device("DEV0",
			gen.Device("DEV1",
				gen.Method("GET0", 0, false,
					gen.Return(gen.Ref("GLOB"))))),
	)
	if got := evalInt(t, ctx, "\\DEV0.DEV1.GET0"); got != 99 {
		t.Fatalf("got %d, want 99", got)
	}
}

func TestDuplicateNameIgnored(t *testing.T) {
	ctx, _ := newTestContext(t,
		gen.Name("VAL0", gen.Integer(1)),
		gen.Name("VAL0", gen.Integer(2)),
	)
	var v uint64
	if status := ctx.EvaluateInt("\\VAL0", nil, &v); status != core.StatusSuccess || v != 1 {
		t.Fatalf("VAL0 = %d (%v), want the first definition", v, status)
	}
}

func TestAlias(t *testing.T) {
	ctx, _ := newTestContext(t,
		gen.Name("VAL0", gen.Integer(123)),
		gen.Alias("VAL0", "VAL1"),
		gen.Method("MAIN", 0, false, gen.Return(gen.Ref("VAL1"))),
	)
	if got := evalInt(t, ctx, "\\MAIN"); got != 123 {
		t.Fatalf("got %d, want 123", got)
	}
}

func TestPredefinedNamespace(t *testing.T) {
	ctx, _ := newTestContext(t)

	for _, name := range []string{"_SB_", "_SI_", "_GPE", "_PR_", "_TZ_"} {
		node := ctx.FindNode(nil, name)
		if node == nil {
			t.Fatalf("%s missing", name)
		}
		if node.Object().Kind() != core.KindDevice {
			t.Fatalf("%s kind = %v, want Device", name, node.Object().Kind())
		}
	}

	var rev uint64
	if status := ctx.EvaluateInt("\\_REV", nil, &rev); status != core.StatusSuccess || rev != 2 {
		t.Fatalf("_REV = %d (%v), want 2", rev, status)
	}

	var os *core.Object
	if status := ctx.Evaluate("\\_OS_", nil, &os); status != core.StatusSuccess {
		t.Fatalf("_OS_: %v", status)
	}
	if os.StringValue() != "Microsoft Windows NT" {
		t.Fatalf("_OS_ = %q", os.StringValue())
	}

	if ctx.FindNode(nil, "_GL_").Object().Kind() != core.KindMutex {
		t.Fatal("_GL_ is not a mutex")
	}
}

func TestOSI(t *testing.T) {
	ctx, _ := newTestContext(t,
		gen.Method("MAIN", 0, false,
			gen.Return(gen.MethodCall("\\_OSI", gen.String("Windows 2015")))),
		gen.Method("MISS", 0, false,
			gen.Return(gen.MethodCall("\\_OSI", gen.String("FreeBSD")))),
	)
	if got := evalInt(t, ctx, "\\MAIN"); got == 0 {
		t.Fatal("_OSI(Windows 2015) = 0, want nonzero")
	}
	if got := evalInt(t, ctx, "\\MISS"); got != 0 {
		t.Fatalf("_OSI(FreeBSD) = %d, want 0", got)
	}
}

func TestObjectTypeAndSizeOf(t *testing.T) {
	ctx, _ := newTestContext(t,
		gen.Name("STR0", gen.String("acpi")),
		gen.Name("BUF0", gen.Buffer([]byte{1, 2, 3})),
		gen.Method("TYPS", 0, false,
			gen.Return(gen.ObjectType(gen.Ref("STR0")))),
		gen.Method("TYPB", 0, false,
			gen.Return(gen.ObjectType(gen.Ref("BUF0")))),
		gen.Method("SZB0", 0, false,
			gen.Return(gen.SizeOf(gen.Ref("BUF0")))),
	)
	if got := evalInt(t, ctx, "\\TYPS"); got != uint64(core.KindString) {
		t.Fatalf("ObjectType(string) = %d", got)
	}
	if got := evalInt(t, ctx, "\\TYPB"); got != uint64(core.KindBuffer) {
		t.Fatalf("ObjectType(buffer) = %d", got)
	}
	if got := evalInt(t, ctx, "\\SZB0"); got != 3 {
		t.Fatalf("SizeOf(buffer) = %d, want 3", got)
	}
}

func TestToStringConversions(t *testing.T) {
	ctx, _ := newTestContext(t,
		gen.Method("DEC0", 0, false,
			gen.Return(gen.ToDecimalString(gen.Integer(1234), gen.ZeroTarget()))),
		gen.Method("HEX0", 0, false,
			gen.Return(gen.ToHexString(gen.Integer(0xBEEF), gen.ZeroTarget()))),
	)
	var res *core.Object
	if status := ctx.Evaluate("\\DEC0", nil, &res); status != core.StatusSuccess {
		t.Fatalf("DEC0: %v", status)
	}
	if res.StringValue() != "1234" {
		t.Fatalf("ToDecimalString = %q", res.StringValue())
	}
	if status := ctx.Evaluate("\\HEX0", nil, &res); status != core.StatusSuccess {
		t.Fatalf("HEX0: %v", status)
	}
	if res.StringValue() != "0xBEEF" {
		t.Fatalf("ToHexString = %q", res.StringValue())
	}
}

func TestCopyObject(t *testing.T) {
	ctx, _ := newTestContext(t,
		gen.Name("SRC0", gen.Integer(77)),
		gen.Method("MAIN", 0, false,
			gen.CopyObject(gen.Ref("SRC0"), gen.Local(0)),
			gen.Return(gen.Local(0))),
	)
	if got := evalInt(t, ctx, "\\MAIN"); got != 77 {
		t.Fatalf("got %d, want 77", got)
	}
}

func TestCondRefOf(t *testing.T) {
	ctx, _ := newTestContext(t,
		gen.Name("VAL0", gen.Integer(1)),
		gen.Method("HIT0", 0, false,
			gen.Return(gen.CondRefOf(gen.Ref("VAL0"), gen.Local(0)))),
		gen.Method("MISS", 0, false,
			gen.Return(gen.CondRefOf(gen.Ref("NOPE"), gen.Local(0)))),
	)
	if got := evalInt(t, ctx, "\\HIT0"); got != 1 {
		t.Fatalf("CondRefOf(existing) = %d, want 1", got)
	}
	if got := evalInt(t, ctx, "\\MISS"); got != 0 {
		t.Fatalf("CondRefOf(missing) = %d, want 0", got)
	}
}

func TestMethodScopedNodesVanish(t *testing.T) {
	ctx, _ := newTestContext(t,
		gen.Method("MAIN", 0, false,
			gen.Name("\\TMP0", gen.Integer(9)),
			gen.Return(gen.Ref("\\TMP0"))),
	)
	if got := evalInt(t, ctx, "\\MAIN"); got != 9 {
		t.Fatalf("got %d, want 9", got)
	}
	if node := ctx.FindNode(nil, "TMP0"); node != nil {
		t.Fatal("method-created node survived the method")
	}
}

func TestNotifyReachesHost(t *testing.T) {
	ctx, h := newTestContext(t,
		gen.Device("DEV0"),
		gen.Method("MAIN", 0, false,
			gen.Notify(gen.Ref("DEV0"), gen.Integer(0x80)),
			gen.Return(gen.Integer(0))),
	)
	evalInt(t, ctx, "\\MAIN")
	if len(h.Notifications) != 1 {
		t.Fatalf("got %d notifications, want 1", len(h.Notifications))
	}
	n := h.Notifications[0]
	if n.Value != 0x80 || n.Node == nil || n.Node.Name() != "DEV0" {
		t.Fatalf("notification = %+v", n)
	}
}

func TestFatalOpcode(t *testing.T) {
	ctx, h := newTestContext(t,
		gen.Method("MAIN", 0, false,
			append([]byte{0x5B, 0x32, 0x01, 0x02, 0x00, 0x00, 0x00}, gen.Integer(7)...),
			gen.Return(gen.Integer(0))),
	)
	evalInt(t, ctx, "\\MAIN")
	if len(h.Fatals) != 1 {
		t.Fatalf("got %d fatals, want 1", len(h.Fatals))
	}
	f := h.Fatals[0]
	if f.Type != 1 || f.Code != 2 || f.Arg != 7 {
		t.Fatalf("fatal = %+v", f)
	}
}

func TestMethodWithoutReturnYieldsZero(t *testing.T) {
	ctx, _ := newTestContext(t,
		gen.Method("MAIN", 0, false,
			gen.Store(gen.Integer(5), gen.Local(0))),
	)
	if got := evalInt(t, ctx, "\\MAIN"); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
}

func TestStoreToNamedStringKeepsSize(t *testing.T) {
	ctx, _ := newTestContext(t,
		gen.Name("STR0", gen.String("abcdef")),
		gen.Method("MAIN", 0, false,
			gen.Store(gen.String("XY"), gen.Ref("STR0")),
			gen.Return(gen.SizeOf(gen.Ref("STR0")))),
	)
	// The named string keeps its declared size.
	if got := evalInt(t, ctx, "\\MAIN"); got != 6 {
		t.Fatalf("SizeOf after store = %d, want 6", got)
	}
}

func TestUnexpectedEOF(t *testing.T) {
	h := host.NewSimHost()
	ctx, _ := core.NewContext(h, slog.Default())
	// A Method opcode whose package length runs past the stream.
	if status := ctx.LoadTable([]byte{0x14, 0x20, 'M', 'A', 'I', 'N', 0x00}); status != core.StatusUnexpectedEOF {
		t.Fatalf("got %v, want unexpected eof", status)
	}
}

func TestUnknownOpcode(t *testing.T) {
	h := host.NewSimHost()
	ctx, _ := core.NewContext(h, slog.Default())
	if status := ctx.LoadTable([]byte{0xFE}); status != core.StatusUnsupported {
		t.Fatalf("got %v, want unsupported", status)
	}
}

func TestCallDepthLimit(t *testing.T) {
	ctx, _ := newTestContext(t,
		gen.Method("LOOP", 0, false,
			gen.MethodCall("LOOP")),
	)
	ctx.LoopTimeoutSeconds = 0
	var res *core.Object
	if status := ctx.Evaluate("\\LOOP", nil, &res); status != core.StatusEndOfResources {
		t.Fatalf("got %v, want end of resources", status)
	}
}
