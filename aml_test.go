package aml_test

import (
	"log/slog"
	"testing"

	"github.com/tinyrange/aml"
	gen "github.com/tinyrange/aml/internal/amlgen"
)

// TestEndToEnd drives the public facade the way an embedder would: install
// tables, load the namespace, discover a device and evaluate its methods.
func TestEndToEnd(t *testing.T) {
	h := aml.NewSimHost()
	ctx, status := aml.NewContext(h, slog.Default())
	if status != aml.StatusSuccess {
		t.Fatalf("NewContext: %v", status)
	}

	dsdt := gen.DSDT(
		gen.Device("COM0",
			gen.Name("_HID", gen.String("PNP0501")),
			gen.Name("BAUD", gen.Integer(115200)),
			gen.Method("DBL0", 0, false,
				gen.Return(gen.Multiply(gen.Ref("BAUD"), gen.Integer(2), gen.ZeroTarget())))),
	)
	if _, status := ctx.InstallTable(dsdt); status != aml.StatusSuccess {
		t.Fatalf("InstallTable: %v", status)
	}
	if status := ctx.LoadNamespace(); status != aml.StatusSuccess {
		t.Fatalf("LoadNamespace: %v", status)
	}

	var found *aml.Node
	ctx.DiscoverNodesByHID(nil, []string{"PNP0501"}, func(node *aml.Node) aml.IterDecision {
		found = node
		return aml.IterBreak
	})
	if found == nil || found.Name() != "COM0" {
		t.Fatalf("discovery found %v", found)
	}

	var v uint64
	if status := ctx.EvaluateInt("\\COM0.DBL0", nil, &v); status != aml.StatusSuccess || v != 230400 {
		t.Fatalf("DBL0 = %d (%v), want 230400", v, status)
	}
}
