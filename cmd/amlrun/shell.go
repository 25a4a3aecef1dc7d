package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/tinyrange/aml"
)

// shellIO adapts stdin/stdout into the single ReadWriter term.Terminal
// expects.
type shellIO struct {
	io.Reader
	io.Writer
}

// runShell is a small interactive namespace explorer: ls, cat, eval, quit.
func runShell(ctx *aml.Context) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return fmt.Errorf("interactive mode needs a terminal")
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	t := term.NewTerminal(shellIO{os.Stdin, os.Stdout}, "aml> ")
	printLine := func(format string, args ...any) {
		fmt.Fprintf(t, format+"\r\n", args...)
	}

	printLine("aml namespace shell; commands: ls [path], cat <path>, eval <path> [args...], quit")
	for {
		line, err := t.ReadLine()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "quit", "exit", "q":
			return nil

		case "ls":
			node := ctx.Root()
			if len(fields) > 1 {
				if node = ctx.FindNode(nil, fields[1]); node == nil {
					printLine("not found: %s", fields[1])
					continue
				}
			}
			for _, child := range node.Children() {
				kind := "?"
				if obj := child.Object(); obj != nil {
					kind = obj.Kind().String()
				}
				printLine("%s [%s]", child.Name(), kind)
			}

		case "cat":
			if len(fields) != 2 {
				printLine("usage: cat <path>")
				continue
			}
			node := ctx.FindNode(nil, fields[1])
			if node == nil || node.Object() == nil {
				printLine("not found: %s", fields[1])
				continue
			}
			printLine("%s = %s", node.AbsolutePath(), formatObject(ctx, node.Object()))

		case "eval":
			if len(fields) < 2 {
				printLine("usage: eval <path> [args...]")
				continue
			}
			var args []*aml.Object
			argErr := false
			for _, raw := range fields[2:] {
				arg, err := parseArg(raw)
				if err != nil {
					printLine("%v", err)
					argErr = true
					break
				}
				args = append(args, arg)
			}
			if argErr {
				continue
			}
			var res *aml.Object
			if status := ctx.Evaluate(fields[1], args, &res); status != aml.StatusSuccess {
				printLine("error: %v", status)
				continue
			}
			printLine("%s", formatObject(ctx, res))

		default:
			printLine("unknown command: %s", fields[0])
		}
	}
}
