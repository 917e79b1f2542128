package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/xplshn/kju/pkg/cli"
)

type Feature int

const (
	FeatAsmComments Feature = iota
	FeatStackLayouts
	FeatCount
)

type Warning int

const (
	WarnUnreachableFunction Warning = iota
	WarnRecursion
	WarnStackArgs
	WarnExtra
	WarnCount
)

type Info struct {
	Name        string
	Enabled     bool
	Description string
}

// Label id schemes
const (
	LabelsGUID    = "guid"
	LabelsCounter = "counter"
)

// MaxArgumentRegisters is the number of System V integer argument registers
const MaxArgumentRegisters = 6

type Config struct {
	Features          map[Feature]Info
	Warnings          map[Warning]Info
	FeatureMap        map[string]Feature
	WarningMap        map[string]Warning
	Target            string
	TargetArch        string
	WordSize          int
	StackAlignment    int
	ArgumentRegisters int
	EntryPoint        string
	LabelIDs          string
}

func NewConfig() *Config {
	cfg := &Config{
		Features:          make(map[Feature]Info),
		Warnings:          make(map[Warning]Info),
		FeatureMap:        make(map[string]Feature),
		WarningMap:        make(map[string]Warning),
		Target:            "amd64_sysv",
		TargetArch:        "amd64",
		WordSize:          8,
		StackAlignment:    16,
		ArgumentRegisters: MaxArgumentRegisters,
		EntryPoint:        "kju",
		LabelIDs:          LabelsGUID,
	}

	features := map[Feature]Info{
		FeatAsmComments:  {"asm-comments", true, "Annotate generated code with comments around calls and frames."},
		FeatStackLayouts: {"stack-layouts", true, "Push a pointer to each function's stack layout record in its prologue."},
	}

	warnings := map[Warning]Info{
		WarnUnreachableFunction: {"unreachable-function", true, "Warn about functions never called from the entry point."},
		WarnRecursion:           {"recursion", false, "Warn about functions that can call themselves."},
		WarnStackArgs:           {"stack-args", false, "Warn about calls that pass arguments on the stack."},
		WarnExtra:               {"extra", true, "Enable extra miscellaneous warnings."},
	}

	cfg.Features, cfg.Warnings = features, warnings
	for ft, info := range features {
		cfg.FeatureMap[info.Name] = ft
	}
	for wt, info := range warnings {
		cfg.WarningMap[info.Name] = wt
	}

	return cfg
}

// SetTarget configures word size and stack alignment for a target ABI. An empty
// target picks the host's; the returned note explains a host that cannot be honoured
func (c *Config) SetTarget(goos, goarch, target string) (note string) {
	if target == "" {
		target = "amd64_sysv"
		if goarch != "amd64" || goos == "darwin" || goos == "windows" {
			note = fmt.Sprintf("host %s/%s is not a supported target, generating amd64_sysv code", goos, goarch)
		}
	}
	c.TargetArch = goarch

	switch target {
	case "amd64_sysv":
		c.Target, c.WordSize, c.StackAlignment = target, 8, 16
	default:
		fmt.Fprintf(os.Stderr, "kjuc: warning: unsupported target '%s'.\n", target)
		fmt.Fprintf(os.Stderr, "kjuc: warning: defaulting to amd64_sysv.\n")
		c.Target, c.WordSize, c.StackAlignment = "amd64_sysv", 8, 16
	}
	return note
}

// SetArgumentRegisters limits how many arguments are passed in registers
func (c *Config) SetArgumentRegisters(n int) error {
	if n < 1 || n > MaxArgumentRegisters { return fmt.Errorf("argument registers must be between 1 and %d, got %d", MaxArgumentRegisters, n) }
	c.ArgumentRegisters = n
	return nil
}

func (c *Config) SetLabelIDs(scheme string) error {
	switch scheme {
	case LabelsGUID, LabelsCounter:
		c.LabelIDs = scheme
		return nil
	}
	return fmt.Errorf("unsupported label scheme '%s'. Supported: '%s', '%s'", scheme, LabelsGUID, LabelsCounter)
}

func (c *Config) SetFeature(ft Feature, enabled bool) {
	if info, ok := c.Features[ft]; ok {
		info.Enabled = enabled
		c.Features[ft] = info
	}
}

func (c *Config) IsFeatureEnabled(ft Feature) bool { return c.Features[ft].Enabled }

func (c *Config) SetWarning(wt Warning, enabled bool) {
	if info, ok := c.Warnings[wt]; ok {
		info.Enabled = enabled
		c.Warnings[wt] = info
	}
}

func (c *Config) IsWarningEnabled(wt Warning) bool { return c.Warnings[wt].Enabled }

func (c *Config) SetAllWarnings(enabled bool) {
	for i := Warning(0); i < WarnCount; i++ {
		c.SetWarning(i, enabled)
	}
}

// applyFlag handles one -W<name>, -Wno-<name>, -F<name> or -Fno-<name> flag. Unknown names report false
func (c *Config) applyFlag(flag string) bool {
	trimmed := strings.TrimPrefix(flag, "-")
	var isWarning bool
	switch {
	case strings.HasPrefix(trimmed, "W"): isWarning = true
	case strings.HasPrefix(trimmed, "F"):
	default:
		return false
	}
	name := trimmed[1:]
	enable := !strings.HasPrefix(name, "no-")
	name = strings.TrimPrefix(name, "no-")

	if name == "all" && isWarning {
		c.SetAllWarnings(enable)
		return true
	}
	if isWarning {
		w, ok := c.WarningMap[name]
		if ok { c.SetWarning(w, enable) }
		return ok
	}
	f, ok := c.FeatureMap[name]
	if ok { c.SetFeature(f, enable) }
	return ok
}

// ProcessFlags applies the -W and -F flags visitFlag reports. -Wall and -Wno-all go first so
// that individual flags override them
func (c *Config) ProcessFlags(visitFlag func(fn func(name string))) {
	visitFlag(func(name string) {
		if name == "Wall" || name == "Wno-all" { c.applyFlag("-" + name) }
	})
	visitFlag(func(name string) {
		if name != "Wall" && name != "Wno-all" { c.applyFlag("-" + name) }
	})
}

// ProcessDirectiveFlags applies a whitespace separated flag list such as a unit's `flags:` entry
func (c *Config) ProcessDirectiveFlags(flags []string) []string {
	var unknown []string
	for _, f := range flags {
		for _, field := range strings.Fields(f) {
			if !c.applyFlag(field) { unknown = append(unknown, field) }
		}
	}
	return unknown
}

// SetupFlagGroups registers the warning and feature flag groups on fs
func (c *Config) SetupFlagGroups(fs *cli.FlagSet) {
	var wall, wnoall bool
	fs.Bool(&wall, "Wall", "", false, "Enable all warnings.")
	fs.Bool(&wnoall, "Wno-all", "", false, "Disable all warnings.")

	warnings := make([]cli.FlagGroupEntry, 0, WarnCount)
	for i := Warning(0); i < WarnCount; i++ {
		info := c.Warnings[i]
		enabled, disabled := info.Enabled, false
		warnings = append(warnings, cli.FlagGroupEntry{Name: info.Name, Prefix: "W", Usage: info.Description, Enabled: &enabled, Disabled: &disabled})
	}
	features := make([]cli.FlagGroupEntry, 0, FeatCount)
	for i := Feature(0); i < FeatCount; i++ {
		info := c.Features[i]
		enabled, disabled := info.Enabled, false
		features = append(features, cli.FlagGroupEntry{Name: info.Name, Prefix: "F", Usage: info.Description, Enabled: &enabled, Disabled: &disabled})
	}
	sort.Slice(warnings, func(i, j int) bool { return warnings[i].Name < warnings[j].Name })
	sort.Slice(features, func(i, j int) bool { return features[i].Name < features[j].Name })

	fs.AddFlagGroup("Warning Flags", "warning flag", "Available warning flags:", warnings)
	fs.AddFlagGroup("Feature Flags", "feature flag", "Available feature flags:", features)
}
