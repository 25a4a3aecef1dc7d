// Command amlrun loads ACPI definition block files into an interpreter
// context over a simulated host, evaluates a method and prints the result.
// With -i it drops into an interactive namespace shell instead.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/tinyrange/aml"
)

func main() {
	var (
		method      = flag.String("e", "", "method or object to evaluate (e.g. \\MAIN)")
		interactive = flag.Bool("i", false, "interactive namespace shell")
		initNS      = flag.Bool("init", false, "run _STA/_INI namespace initialization")
		verbose     = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: amlrun [flags] dsdt.aml [ssdt.aml ...]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	ctx, err := loadTables(logger, flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "amlrun: %v\n", err)
		os.Exit(1)
	}

	if *initNS {
		if err := ctx.InitNamespace().Err(); err != nil {
			fmt.Fprintf(os.Stderr, "amlrun: init namespace: %v\n", err)
			os.Exit(1)
		}
	}

	if *interactive {
		if err := runShell(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "amlrun: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *method == "" {
		dumpNamespace(ctx.Root(), 0)
		return
	}

	var res *aml.Object
	if err := ctx.Evaluate(*method, nil, &res).Err(); err != nil {
		fmt.Fprintf(os.Stderr, "amlrun: evaluate %s: %v\n", *method, err)
		os.Exit(1)
	}
	fmt.Println(formatObject(ctx, res))
}

// loadTables builds a context and loads every table file. Files carrying an
// SDT header are installed as tables; a bare DSDT body is executed directly.
func loadTables(logger *slog.Logger, paths []string) (*aml.Context, error) {
	h := aml.NewSimHost()
	ctx, status := aml.NewContext(h, logger)
	if status != aml.StatusSuccess {
		return nil, fmt.Errorf("new context: %w", status)
	}

	installed := false
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if _, status := ctx.InstallTable(raw); status != aml.StatusSuccess {
			if status := ctx.LoadTable(raw); status != aml.StatusSuccess {
				return nil, fmt.Errorf("%s: load: %w", path, status)
			}
			continue
		}
		installed = true
	}
	if installed {
		if status := ctx.LoadNamespace(); status != aml.StatusSuccess {
			return nil, fmt.Errorf("load namespace: %w", status)
		}
	}
	return ctx, nil
}

// formatObject renders an evaluation result for display.
func formatObject(ctx *aml.Context, obj *aml.Object) string {
	if obj == nil {
		return "<nil>"
	}
	switch obj.Kind() {
	case aml.KindInteger:
		return fmt.Sprintf("Integer(0x%X)", obj.Integer())
	case aml.KindString:
		return fmt.Sprintf("String(%q)", obj.StringValue())
	case aml.KindBuffer:
		return fmt.Sprintf("Buffer(% X)", obj.Buffer())
	case aml.KindPackage:
		var parts []string
		for i := 0; i < obj.PackageLen(); i++ {
			elem, status := ctx.GetPackageElement(obj, i)
			if status != aml.StatusSuccess {
				parts = append(parts, fmt.Sprintf("<%v>", status))
				continue
			}
			parts = append(parts, formatObject(ctx, elem))
		}
		return "Package{" + strings.Join(parts, ", ") + "}"
	case aml.KindMethod:
		return "Method"
	default:
		return obj.Kind().String()
	}
}

func dumpNamespace(node *aml.Node, depth int) {
	if depth > 0 {
		kind := "?"
		if obj := node.Object(); obj != nil {
			kind = obj.Kind().String()
		}
		fmt.Printf("%s%s [%s]\n", strings.Repeat("  ", depth-1), node.Name(), kind)
	}
	for _, child := range node.Children() {
		dumpNamespace(child, depth+1)
	}
}

// parseArg converts a shell argument into an evaluation argument object.
func parseArg(s string) (*aml.Object, error) {
	if strings.HasPrefix(s, "\"") && strings.HasSuffix(s, "\"") && len(s) >= 2 {
		return aml.NewString(s[1 : len(s)-1]), nil
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return nil, fmt.Errorf("argument %q: %w", s, err)
	}
	return aml.NewInteger(v), nil
}
