package util

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/xplshn/kju/pkg/config"
)

// Program prefixes every diagnostic
const Program = "kjuc"

var (
	stderr io.Writer = os.Stderr
	exit             = os.Exit
	colour           = isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
)

func paint(code, s string) string {
	if !colour { return s }
	return "\033[" + code + "m" + s + "\033[0m"
}

func header(kind, code, subject string) string {
	if subject == "" { return fmt.Sprintf("%s: %s ", Program, paint(code, kind+":")) }
	return fmt.Sprintf("%s: %s %s: ", Program, paint(code, kind+":"), subject)
}

// Error prints a formatted error message and exits the program
func Error(subject, format string, args ...interface{}) {
	Report(subject, format, args...)
	exit(1)
}

// Report prints an error message without exiting, for callers that list several errors first
func Report(subject, format string, args ...interface{}) {
	fmt.Fprint(stderr, header("error", "31", subject))
	fmt.Fprintf(stderr, format, args...)
	fmt.Fprintln(stderr)
}

// Warn prints a formatted warning message if the corresponding warning is enabled
func Warn(cfg *config.Config, wt config.Warning, subject, format string, args ...interface{}) {
	if !cfg.IsWarningEnabled(wt) { return }
	fmt.Fprint(stderr, header("warning", "33", subject))
	fmt.Fprintf(stderr, format, args...)
	fmt.Fprintf(stderr, " [-W%s]\n", cfg.Warnings[wt].Name)
}

// Info prints a progress note
func Info(format string, args ...interface{}) {
	fmt.Fprint(stderr, header("info", "36", ""))
	fmt.Fprintf(stderr, format, args...)
	fmt.Fprintln(stderr)
}
