package config

import (
	"fmt"
	"io"
	"os"
)

const (
	// ExitFailure reports a runtime failure.
	ExitFailure = 1
	// ExitUsage reports invalid flags or environment.
	ExitUsage = 2
)

// Exitf writes a formatted error message to stderr and exits with ExitFailure.
func Exitf(format string, args ...any) {
	ExitCodef(ExitFailure, format, args...)
}

// ExitCodef writes a formatted error message to stderr and exits with code.
func ExitCodef(code int, format string, args ...any) {
	writeExitMessage(os.Stderr, format, args...)
	os.Exit(code)
}

func writeExitMessage(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format+"\n", args...)
}
