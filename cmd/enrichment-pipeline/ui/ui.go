// Package ui provides terminal output for the enrichment pipeline CLI.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

var (
	out     io.Writer = os.Stdout
	errOut  io.Writer = os.Stderr
	verbose bool

	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.Bold)
)

// Init configures color and verbosity.
func Init(noColor, verboseOutput bool) {
	verbose = verboseOutput
	if noColor {
		color.NoColor = true
	}
}

// SetOutput redirects standard and error output.
func SetOutput(stdout, stderr io.Writer) {
	out = stdout
	errOut = stderr
}

// Verbose reports whether verbose output was requested.
func Verbose() bool {
	return verbose
}

// Success displays a success message.
func Success(format string, args ...interface{}) {
	successColor.Fprintf(out, "✓ %s\n", fmt.Sprintf(format, args...))
}

// Warning displays a warning message.
func Warning(format string, args ...interface{}) {
	warnColor.Fprintf(out, "⚠ %s\n", fmt.Sprintf(format, args...))
}

// Error displays an error message to stderr.
func Error(format string, args ...interface{}) {
	errorColor.Fprintf(errOut, "✗ %s\n", fmt.Sprintf(format, args...))
}

// Info displays an informational message.
func Info(format string, args ...interface{}) {
	infoColor.Fprintf(out, "ℹ %s\n", fmt.Sprintf(format, args...))
}

// Debug displays a message only in verbose mode.
func Debug(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(out, "  %s\n", fmt.Sprintf(format, args...))
	}
}

// Section displays a section header.
func Section(title string) {
	headerColor.Fprintf(out, "\n%s\n", title)
	fmt.Fprintf(out, "%s\n\n", strings.Repeat("=", len(title)))
}
