// Package cli parses kjuc's command line and renders its usage and help pages
package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"
)

const (
	section = "    "
	entry   = section + section
)

type value interface {
	String() string
	Set(string) error
}

type stringValue struct{ p *string }

func (v stringValue) Set(s string) error { *v.p = s; return nil }
func (v stringValue) String() string     { return *v.p }

// boolValue treats a bare flag as true
type boolValue struct{ p *bool }

func (v boolValue) Set(s string) error {
	if s == "" {
		*v.p = true
		return nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil { return fmt.Errorf("invalid boolean value '%s'", s) }
	*v.p = b
	return nil
}
func (v boolValue) String() string { return strconv.FormatBool(*v.p) }

type intValue struct{ p *int }

func (v intValue) Set(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil { return fmt.Errorf("invalid integer value '%s'", s) }
	*v.p = n
	return nil
}
func (v intValue) String() string { return strconv.Itoa(*v.p) }

type Flag struct {
	Name      string
	Shorthand string
	Usage     string
	Default   string
	// Arg names the operand in help output; empty for switches
	Arg   string
	value value
}

func (f *Flag) isSwitch() bool {
	_, ok := f.value.(boolValue)
	return ok
}

// FlagGroupEntry is one -<Prefix><Name> / -<Prefix>no-<Name> pair
type FlagGroupEntry struct {
	Name     string
	Prefix   string
	Usage    string
	Enabled  *bool
	Disabled *bool
}

func (e FlagGroupEntry) on() bool { return *e.Enabled && !*e.Disabled }

type flagGroup struct {
	title, kind, header string
	entries             []FlagGroupEntry
}

type FlagSet struct {
	flags      map[string]*Flag
	shorthands map[string]*Flag
	grouped    map[string]bool
	groups     []flagGroup
	given      []string
	args       []string
}

func NewFlagSet() *FlagSet {
	return &FlagSet{flags: map[string]*Flag{}, shorthands: map[string]*Flag{}, grouped: map[string]bool{}}
}

// Args returns the operands left after Parse
func (f *FlagSet) Args() []string { return f.args }

func (f *FlagSet) String(p *string, name, shorthand, def, usage, arg string) {
	*p = def
	f.define(&Flag{Name: name, Shorthand: shorthand, Usage: usage, Default: def, Arg: arg, value: stringValue{p}})
}

func (f *FlagSet) Int(p *int, name, shorthand string, def int, usage, arg string) {
	*p = def
	f.define(&Flag{Name: name, Shorthand: shorthand, Usage: usage, Default: strconv.Itoa(def), Arg: arg, value: intValue{p}})
}

func (f *FlagSet) Bool(p *bool, name, shorthand string, def bool, usage string) {
	*p = def
	f.define(&Flag{Name: name, Shorthand: shorthand, Usage: usage, value: boolValue{p}})
}

func (f *FlagSet) define(flag *Flag) {
	if _, dup := f.flags[flag.Name]; dup || flag.Name == "" { panic(fmt.Sprintf("cli: bad or duplicate flag %q", flag.Name)) }
	f.flags[flag.Name] = flag
	if flag.Shorthand == "" { return }
	if _, dup := f.shorthands[flag.Shorthand]; dup { panic(fmt.Sprintf("cli: duplicate shorthand %q", flag.Shorthand)) }
	f.shorthands[flag.Shorthand] = flag
}

// AddFlagGroup defines a switch pair per entry and lists them under title in the help page
func (f *FlagSet) AddFlagGroup(title, kind, header string, entries []FlagGroupEntry) {
	for _, e := range entries {
		f.Bool(e.Enabled, e.Prefix+e.Name, "", *e.Enabled, e.Usage)
		f.Bool(e.Disabled, e.Prefix+"no-"+e.Name, "", *e.Disabled, "Disable '"+e.Name+"'")
		f.grouped[e.Prefix+e.Name], f.grouped[e.Prefix+"no-"+e.Name] = true, true
	}
	f.groups = append(f.groups, flagGroup{title: title, kind: kind, header: header, entries: entries})
}

// Visit calls fn for every flag given on the command line, in the order first seen
func (f *FlagSet) Visit(fn func(name string)) {
	for _, name := range f.given {
		fn(name)
	}
}

func (f *FlagSet) set(flag *Flag, s string) error {
	if err := flag.value.Set(s); err != nil { return fmt.Errorf("--%s: %w", flag.Name, err) }
	for _, name := range f.given {
		if name == flag.Name { return nil }
	}
	f.given = append(f.given, flag.Name)
	return nil
}

// Parse accepts --name[=v], -name[=v] for long names, and -x[v] for shorthands.
// Everything after "--" is an operand
func (f *FlagSet) Parse(arguments []string) error {
	f.args = []string{}
	for i := 0; i < len(arguments); i++ {
		arg := arguments[i]
		switch {
		case arg == "--":
			f.args = append(f.args, arguments[i+1:]...)
			return nil
		case len(arg) < 2 || arg[0] != '-':
			f.args = append(f.args, arg)
			continue
		}

		body := strings.TrimPrefix(strings.TrimPrefix(arg, "-"), "-")
		name, inline, hasInline := strings.Cut(body, "=")
		flag, ok := f.flags[name]
		if !ok && !strings.HasPrefix(arg, "--") {
			flag, ok = f.shorthands[body[:1]]
			inline, hasInline = body[1:], len(body) > 1
		}
		if !ok { return fmt.Errorf("unknown flag: %s", arg) }

		switch {
		case hasInline:
			if err := f.set(flag, inline); err != nil { return err }
		case flag.isSwitch():
			if err := f.set(flag, ""); err != nil { return err }
		case i+1 < len(arguments):
			i++
			if err := f.set(flag, arguments[i]); err != nil { return err }
		default:
			return fmt.Errorf("flag needs an argument: %s", arg)
		}
	}
	return nil
}

type App struct {
	Name        string
	Synopsis    string
	Description string
	Authors     []string
	Repository  string
	Since       int
	FlagSet     *FlagSet
	Action      func(args []string) error
}

func NewApp(name string) *App { return &App{Name: name, FlagSet: NewFlagSet()} }

// Run parses arguments and hands the operands to Action, or prints help when asked
func (a *App) Run(arguments []string) error {
	var help bool
	a.FlagSet.Bool(&help, "help", "h", false, "Display this information.")
	if err := a.FlagSet.Parse(arguments); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", a.Name, err)
		a.usage(os.Stderr, terminalWidth())
		return err
	}
	if help {
		a.help(os.Stdout, terminalWidth())
		return nil
	}
	if a.Action == nil { return nil }
	return a.Action(a.FlagSet.Args())
}

// options returns the flags that are not part of a group, by name
func (a *App) options() []*Flag {
	var out []*Flag
	for name, flag := range a.FlagSet.flags {
		if !a.FlagSet.grouped[name] { out = append(out, flag) }
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (f *Flag) spelling() string {
	long := "--" + f.Name
	if f.Arg != "" { long += " <" + f.Arg + ">" }
	if f.Shorthand == "" { return long }
	short := "-" + f.Shorthand
	if f.Arg != "" { short += " <" + f.Arg + ">" }
	return short + ", " + long
}

type table struct {
	width, left int
	sb          strings.Builder
}

func (t *table) heading(s string) { fmt.Fprintf(&t.sb, "\n%s%s\n", section, s) }

// row prints left, then usage wrapped to the terminal, then an optional marker
func (t *table) row(left, usage, marker string) {
	room := t.width - len(entry) - t.left - 4 - len(marker)
	if room < 10 { room = 10 }
	lines := wrapText(usage, room)
	if len(lines) == 0 { lines = []string{""} }
	if marker == "" {
		fmt.Fprintf(&t.sb, "%s%-*s %s\n", entry, t.left, left, lines[0])
	} else {
		fmt.Fprintf(&t.sb, "%s%-*s %-*s  %s\n", entry, t.left, left, room, lines[0], marker)
	}
	for _, l := range lines[1:] {
		fmt.Fprintf(&t.sb, "%s%s %s\n", entry, strings.Repeat(" ", t.left), l)
	}
}

func (a *App) table(width int) *table {
	t := &table{width: width}
	for _, f := range a.options() {
		t.left = max(t.left, len(f.spelling()))
	}
	for _, g := range a.FlagSet.groups {
		t.left = max(t.left, len(groupSpelling(g, true)))
		for _, e := range g.entries {
			t.left = max(t.left, len(e.Name))
		}
	}
	return t
}

func (t *table) options(flags []*Flag) {
	t.heading("Options")
	for _, f := range flags {
		marker := ""
		if !f.isSwitch() && f.Default != "" { marker = "|" + f.Default + "|" }
		t.row(f.spelling(), f.Usage, marker)
	}
}

func groupSpelling(g flagGroup, negated bool) string {
	prefix := g.entries[0].Prefix
	if negated { return fmt.Sprintf("-%sno-<%s>", prefix, g.kind) }
	return fmt.Sprintf("-%s<%s>", prefix, g.kind)
}

func (a *App) usage(w io.Writer, width int) {
	t := a.table(width)
	fmt.Fprintf(&t.sb, "Usage: %s %s\n", a.Name, a.Synopsis)
	t.options(a.options())
	fmt.Fprintf(&t.sb, "\nRun '%s --help' for all available options and flags.\n", a.Name)
	io.WriteString(w, t.sb.String())
}

func (a *App) help(w io.Writer, width int) {
	t := a.table(width)
	fmt.Fprintf(&t.sb, "\n%sCopyright (c) %d-%d: %s and contributors\n", section, a.Since, time.Now().Year(), strings.Join(a.Authors, ", "))
	if a.Repository != "" { fmt.Fprintf(&t.sb, "%sFor more details refer to %s\n", section, a.Repository) }
	if a.Synopsis != "" {
		t.heading("Synopsis")
		fmt.Fprintf(&t.sb, "%s%s %s\n", entry, a.Name, a.Synopsis)
	}
	if a.Description != "" {
		t.heading("Description")
		for _, l := range wrapText(a.Description, max(width-len(entry), 20)) {
			fmt.Fprintf(&t.sb, "%s%s\n", entry, l)
		}
	}
	t.options(a.options())

	groups := append([]flagGroup(nil), a.FlagSet.groups...)
	sort.Slice(groups, func(i, j int) bool { return groups[i].title < groups[j].title })
	for _, g := range groups {
		t.heading(g.title)
		t.row(groupSpelling(g, false), "Enable a specific "+g.kind, "")
		t.row(groupSpelling(g, true), "Disable a specific "+g.kind, "")
		if g.header != "" { fmt.Fprintf(&t.sb, "%s%s\n", section, g.header) }
		entries := append([]FlagGroupEntry(nil), g.entries...)
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
		for _, e := range entries {
			marker := "|-|"
			if e.on() { marker = "|x|" }
			t.row(e.Name, e.Usage, marker)
		}
	}
	io.WriteString(w, t.sb.String())
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil { return 80 }
	return max(width, 20)
}

// wrapText splits text into lines of at most maxWidth columns, breaking at spaces
func wrapText(text string, maxWidth int) []string {
	lines := []string{}
	var line strings.Builder
	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && line.Len()+1+len(word) > maxWidth {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 { line.WriteByte(' ') }
		line.WriteString(word)
	}
	if line.Len() > 0 { lines = append(lines, line.String()) }
	return lines
}
