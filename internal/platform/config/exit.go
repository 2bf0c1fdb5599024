package config

import (
	"fmt"
	"io"
	"os"
)

// exit is swapped in tests.
var (
	osExit = os.Exit
	exit   = osExit
)

// Exitf writes a formatted error message to stderr and exits with code 1.
func Exitf(format string, args ...any) {
	exitf(os.Stderr, format, args...)
}

func exitf(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format+"\n", args...)
	exit(1)
}
