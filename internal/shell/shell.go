// Package shell resolves which program a recording runs and with what
// arguments.
package shell

import (
	"os"
	"path/filepath"
)

// DefaultShell is used when $SHELL is unset or empty.
const DefaultShell = "/bin/sh"

// Resolve returns the user's shell from $SHELL, or DefaultShell.
func Resolve() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return DefaultShell
}

// Argv builds the argument vector for the child. An empty command yields an
// interactive invocation of sh; otherwise sh runs command via -c.
func Argv(sh, command string) []string {
	if command == "" {
		return []string{sh}
	}
	return []string{sh, "-c", command}
}

// Name returns the shell's base name, e.g. "zsh" for /usr/bin/zsh.
func Name(sh string) string {
	return filepath.Base(sh)
}
