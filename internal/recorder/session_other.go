//go:build !unix

package recorder

import "github.com/rs/zerolog"

// Run always fails on platforms without pseudo-terminals.
func Run(Config, Stdio, zerolog.Logger) (Result, error) {
	return Result{}, ErrUnsupported
}
