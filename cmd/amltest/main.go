// Command amltest runs YAML scenario specs against the interpreter: each
// spec loads definition block files into a fresh context over a simulated
// host, evaluates methods and compares results.
package main

import (
	"bytes"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/schollz/progressbar/v3"

	"github.com/tinyrange/aml"
)

var (
	passStyle = ansi.Style{}.ForegroundColor(ansi.Green).Bold()
	failStyle = ansi.Style{}.ForegroundColor(ansi.Red).Bold()
	dimStyle  = ansi.Style{}.Faint()
)

type result struct {
	spec string
	test string
	err  error
}

func main() {
	var (
		verbose = flag.Bool("v", false, "verbose logging")
		noColor = flag.Bool("no-color", false, "disable colored output")
	)
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: amltest spec.yaml [spec.yaml ...]")
		os.Exit(2)
	}

	level := slog.LevelError
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	styled := func(style ansi.Style, s string) string {
		if *noColor {
			return s
		}
		return style.Styled(s)
	}

	total := 0
	specs := make([]*Spec, 0, flag.NArg())
	for _, path := range flag.Args() {
		spec, err := LoadSpec(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "amltest: %v\n", err)
			os.Exit(1)
		}
		spec.baseDir = filepath.Dir(path)
		specs = append(specs, spec)
		total += len(spec.Tests)
	}

	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("running"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
	)

	start := time.Now()
	var failures []result
	passed := 0
	for _, spec := range specs {
		results, err := runSpec(logger, spec, bar)
		if err != nil {
			fmt.Fprintf(os.Stderr, "amltest: %s: %v\n", spec.Name, err)
			os.Exit(1)
		}
		for _, r := range results {
			if r.err != nil {
				failures = append(failures, r)
			} else {
				passed++
			}
		}
	}
	bar.Finish()

	for _, r := range failures {
		fmt.Printf("%s %s/%s: %v\n", styled(failStyle, "FAIL"), r.spec, r.test, r.err)
	}
	fmt.Printf("%s %d passed, %d failed %s\n",
		styled(passStyle, "PASS"), passed, len(failures),
		styled(dimStyle, fmt.Sprintf("(%s)", time.Since(start).Round(time.Millisecond))))

	if len(failures) > 0 {
		os.Exit(1)
	}
}

// runSpec loads a spec's tables into a fresh context and runs its tests.
func runSpec(logger *slog.Logger, spec *Spec, bar *progressbar.ProgressBar) ([]result, error) {
	h := aml.NewSimHost()
	ctx, status := aml.NewContext(h, logger)
	if status != aml.StatusSuccess {
		return nil, fmt.Errorf("new context: %w", status)
	}

	for _, seed := range spec.Memory {
		data, _ := hex.DecodeString(seed.Bytes)
		h.SetMemory(seed.Addr, data)
	}
	for _, seed := range spec.IOPorts {
		h.SetIOPort(seed.Port, seed.Value)
	}

	for _, path := range spec.Tables {
		raw, err := os.ReadFile(filepath.Join(spec.baseDir, path))
		if err != nil {
			return nil, err
		}
		if _, status := ctx.InstallTable(raw); status != aml.StatusSuccess {
			return nil, fmt.Errorf("%s: install: %w", path, status)
		}
	}
	if status := ctx.LoadNamespace(); status != aml.StatusSuccess {
		return nil, fmt.Errorf("load namespace: %w", status)
	}
	if spec.InitNamespace {
		if status := ctx.InitNamespace(); status != aml.StatusSuccess {
			return nil, fmt.Errorf("init namespace: %w", status)
		}
	}

	results := make([]result, 0, len(spec.Tests))
	for _, tc := range spec.Tests {
		results = append(results, result{
			spec: spec.Name,
			test: tc.Name,
			err:  runCase(ctx, tc),
		})
		bar.Add(1)
	}
	return results, nil
}

// runCase evaluates one test case and checks the expectation.
func runCase(ctx *aml.Context, tc TestCase) error {
	var args []*aml.Object
	for i, arg := range tc.Args {
		switch {
		case arg.Integer != nil:
			args = append(args, aml.NewInteger(*arg.Integer))
		case arg.String != nil:
			args = append(args, aml.NewString(*arg.String))
		default:
			return fmt.Errorf("argument %d has no value", i)
		}
	}

	var res *aml.Object
	status := ctx.Evaluate(tc.Method, args, &res)

	if tc.Expect.Status != "" {
		if status.String() != tc.Expect.Status {
			return fmt.Errorf("status %q, want %q", status, tc.Expect.Status)
		}
		return nil
	}
	if status != aml.StatusSuccess {
		return fmt.Errorf("evaluate: %w", status)
	}

	switch {
	case tc.Expect.Integer != nil:
		if res.Kind() != aml.KindInteger {
			return fmt.Errorf("result is %v, want Integer", res.Kind())
		}
		if res.Integer() != *tc.Expect.Integer {
			return fmt.Errorf("result 0x%X, want 0x%X", res.Integer(), *tc.Expect.Integer)
		}
	case tc.Expect.String != nil:
		if res.Kind() != aml.KindString {
			return fmt.Errorf("result is %v, want String", res.Kind())
		}
		if res.StringValue() != *tc.Expect.String {
			return fmt.Errorf("result %q, want %q", res.StringValue(), *tc.Expect.String)
		}
	case tc.Expect.Buffer != "":
		want, err := hex.DecodeString(tc.Expect.Buffer)
		if err != nil {
			return fmt.Errorf("bad buffer expectation: %w", err)
		}
		if res.Kind() != aml.KindBuffer {
			return fmt.Errorf("result is %v, want Buffer", res.Kind())
		}
		if !bytes.Equal(res.Buffer(), want) {
			return fmt.Errorf("result % X, want % X", res.Buffer(), want)
		}
	}
	return nil
}
