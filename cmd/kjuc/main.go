package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/golang/glog"
	"github.com/hashicorp/go-multierror"

	"github.com/xplshn/kju/pkg/ast"
	"github.com/xplshn/kju/pkg/cli"
	"github.com/xplshn/kju/pkg/codegen"
	"github.com/xplshn/kju/pkg/config"
	"github.com/xplshn/kju/pkg/errs"
	"github.com/xplshn/kju/pkg/ir"
	"github.com/xplshn/kju/pkg/loader"
	"github.com/xplshn/kju/pkg/util"
)

func main() {
	app := cli.NewApp("kjuc")
	app.Synopsis = "[options] <unit.yaml>"
	app.Description = "The KJU compiler backend. Lowers a resolved KJU unit to x86-64 instruction graphs for NASM."
	app.Authors = []string{"xplshn"}
	app.Repository = "<https://github.com/xplshn/kju>"
	app.Since = 2025

	var (
		outFile      string
		emit         string
		target       string
		labels       string
		entry        string
		argRegisters int
		verbosity    int
		stats        bool
	)

	fs := app.FlagSet
	fs.String(&outFile, "output", "o", "-", "Place the output into <file>. '-' is stdout.", "file")
	fs.String(&emit, "emit", "e", codegen.EmitIR, "What to print: "+strings.Join(codegen.EmitKinds, ", ")+".", "kind")
	fs.String(&target, "target", "t", "", "Set the target ABI. Defaults to the host's.", "target")
	fs.String(&labels, "labels", "", config.LabelsGUID, "Label id scheme: guid or counter.", "scheme")
	fs.String(&entry, "entry", "", loader.DefaultEntry, "Name of the entry point function.", "name")
	fs.Int(&argRegisters, "arg-registers", "", config.MaxArgumentRegisters, "Number of arguments passed in registers.", "n")
	fs.Int(&verbosity, "verbose", "v", 0, "Trace code generation at glog verbosity <n>.", "n")
	fs.Bool(&stats, "stats", "", false, "Print unit statistics to stderr.")

	cfg := config.NewConfig()
	cfg.SetupFlagGroups(fs)

	app.Action = func(inputFiles []string) error {
		if len(inputFiles) != 1 {
			util.Error("", "expected exactly one input unit, got %d", len(inputFiles))
		}
		setupTracing(verbosity)

		given := map[string]bool{}
		fs.Visit(func(name string) { given[name] = true })

		if note := cfg.SetTarget(runtime.GOOS, runtime.GOARCH, target); note != "" {
			util.Info("%s", note)
		}
		if err := cfg.SetArgumentRegisters(argRegisters); err != nil {
			util.Error("", "%v", err)
		}
		if err := cfg.SetLabelIDs(labels); err != nil {
			util.Error("", "%v", err)
		}
		backend, err := codegen.SelectBackend(emit)
		if err != nil {
			util.Error("", "%v", err)
		}

		unit := loadUnit(inputFiles[0], given["entry"], entry)
		cfg.EntryPoint = unit.Entry
		glog.V(1).Infof("loaded %s: %d functions, entry %s", inputFiles[0], len(unit.Arena.Functions), unit.Entry)

		// Unit directives first so the command line wins
		for _, f := range cfg.ProcessDirectiveFlags(unit.Flags) {
			util.Warn(cfg, config.WarnExtra, inputFiles[0], "unknown flag '%s' in unit directives", f)
		}
		cfg.ProcessFlags(fs.Visit)

		ctx := codegen.NewContext(cfg)
		entries, err := ctx.CreateIR(unit.Program)
		if err != nil {
			report(err)
			os.Exit(1)
		}
		warnAbout(cfg, ctx, unit.Arena)

		out, err := backend.Generate(ctx, entries)
		if err != nil {
			util.Error("", "%v", err)
		}
		if stats {
			printStats(ctx, entries)
		}
		if err := writeOutput(outFile, out.Bytes()); err != nil {
			util.Error(outFile, "%v", err)
		}
		return nil
	}

	if err := app.Run(os.Args[1:]); err != nil {
		os.Exit(1)
	}
}

// setupTracing routes glog to stderr at the requested verbosity
func setupTracing(verbosity int) {
	flag.Set("logtostderr", "true")
	flag.Set("v", strconv.Itoa(verbosity))
	flag.CommandLine.Parse(nil)
}

func loadUnit(path string, override bool, entry string) *loader.Unit {
	f, err := os.Open(path)
	if err != nil {
		util.Error(path, "could not read unit: %v", err)
	}
	defer f.Close()

	if !override {
		entry = ""
	}
	unit, err := loader.LoadUnit(f, entry)
	if err != nil {
		report(err)
		os.Exit(1)
	}
	return unit
}

// report prints every error an aggregate carries, each naming its subject
func report(err error) {
	merr, ok := err.(*multierror.Error)
	if !ok {
		util.Report(errs.Subject(err), "%v", err)
		return
	}
	for _, e := range merr.Errors {
		util.Report(errs.Subject(e), "%v", e)
	}
}

func warnAbout(cfg *config.Config, ctx *codegen.Context, arena *ast.Arena) {
	graph := ctx.Graph()
	reachable := map[int]bool{}
	for _, decl := range arena.Functions {
		if decl.IsEntryPoint {
			for _, id := range graph.Reachable(decl.ID) {
				reachable[id] = true
			}
		}
	}

	for _, fn := range ctx.Descriptors() {
		if fn.IsForeign {
			continue
		}
		if !reachable[fn.ID] {
			util.Warn(cfg, config.WarnUnreachableFunction, fn.Identifier, "function is never called from the entry point")
		}
		if graph.Recursive(fn.ID) {
			util.Warn(cfg, config.WarnRecursion, fn.Identifier, "function can call itself")
		}
		if n := fn.StackArgumentsCount(cfg.ArgumentRegisters); n > 0 {
			util.Warn(cfg, config.WarnStackArgs, fn.Identifier, "callers pass %d argument(s) on the stack", n)
		}
	}
}

func printStats(ctx *codegen.Context, entries map[*ir.Function]*ir.Label) {
	var labels, nodes, stack int
	for fn, entry := range entries {
		stack += fn.StackBytes
		for _, l := range ir.Reachable(entry) {
			labels++
			nodes += countNodes(l.Tree().Root)
		}
	}
	fmt.Fprintf(os.Stderr, "%s functions (%s foreign)\n",
		humanize.Comma(int64(len(ctx.Descriptors()))), humanize.Comma(int64(len(ctx.Descriptors())-len(entries))))
	fmt.Fprintf(os.Stderr, "%s labels, %s IR nodes\n", humanize.Comma(int64(labels)), humanize.Comma(int64(nodes)))
	fmt.Fprintf(os.Stderr, "%s of stack frames\n", humanize.IBytes(uint64(stack)))
}

func countNodes(n ir.Node) int {
	if n == nil {
		return 0
	}
	total := 1
	for _, c := range ir.Children(n) {
		total += countNodes(c)
	}
	return total
}

func writeOutput(path string, data []byte) error {
	var w io.Writer = os.Stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	_, err := w.Write(data)
	return err
}
