// Command tdnjit is a debug/demo entry point wrapping jit.CompileAll: it
// compiles a small built-in assembly against the in-memory fake backend and
// either prints its compiled methods, invokes one with int32 arguments, or
// drops into an interactive TUI to browse and call them, the same way the
// teacher's cmd/run wraps runtime.New around a real wasm component. It never
// touches the core packages' public contracts beyond what jit/emit/finalize
// already expose.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Itay2805/tinydotnet/backend"
	"github.com/Itay2805/tinydotnet/backend/fake"
	"github.com/Itay2805/tinydotnet/finalize"
	"github.com/Itay2805/tinydotnet/jit"
)

func main() {
	var (
		list        = flag.Bool("list", false, "List the demo assembly's compiled methods and exit")
		call        = flag.String("call", "", "Mangled method name to call (see -list)")
		args        = flag.String("args", "", "Comma-separated int32 arguments for -call")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	reg, asm, methods := buildDemoAssembly()
	mod := fake.NewModule()
	fz := finalize.New(fake.NewGC())
	if err := jit.CompileAll(reg, mod, asm, fz); err != nil {
		fmt.Fprintf(os.Stderr, "compile demo assembly: %v\n", err)
		os.Exit(1)
	}

	switch {
	case *interactive:
		if err := runInteractive(mod, methods); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case *list:
		for _, m := range methods {
			fmt.Println(formatMethodSignature(m))
		}
	case *call != "":
		vals, err := parseArgs(*args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "parse -args: %v\n", err)
			os.Exit(1)
		}
		exc, val, err := mod.Invoke(*call, vals)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printResult(exc, val)
	default:
		fmt.Fprintln(os.Stderr, "Usage: tdnjit -list")
		fmt.Fprintln(os.Stderr, "       tdnjit -call <MangledName> -args 1,2")
		fmt.Fprintln(os.Stderr, "       tdnjit -i  (interactive mode)")
		os.Exit(1)
	}
}

func parseArgs(s string) ([]fake.Value, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	vals := make([]fake.Value, len(parts))
	for i, part := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("argument %d (%q): %w", i, part, err)
		}
		vals[i] = fake.Value{Kind: backend.ValI32, I: n}
	}
	return vals, nil
}

func printResult(exc, val fake.Value) {
	if exc.Obj != nil || exc.I != 0 {
		fmt.Printf("exception: %+v\n", exc)
		return
	}
	fmt.Printf("result: %d\n", val.I)
}

func formatMethodSignature(m demoMethod) string {
	var names []string
	for _, p := range m.Params {
		names = append(names, p.Name)
	}
	return m.Method.MangledMethodName() + "  (" + strings.Join(names, ", ") + ")"
}
