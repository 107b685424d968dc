package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/script/internal/config"
)

// Version is set at build time via ldflags.
var Version = "dev"

// cfg holds the merged configuration, populated in PersistentPreRunE.
var cfg config.Config

// logger is the diagnostics logger, populated in PersistentPreRunE.
var logger = zerolog.Nop()

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "script [options] [file]",
	Short: "Make a typescript of a terminal session",
	Long: `Record everything printed to the terminal by a shell or command into a
typescript file (default: typescript), optionally logging input, output and
per-transfer timing for later replay.

A file named like a subcommand is recorded into when given after "--",
e.g. "script -- replay".`,
	Version:       Version,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = newLogger(cmd.ErrOrStderr(), verbose)

		var err error
		if cfg, err = config.Load(); err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
	RunE: runRecord,
}

// ExitStatusError carries a child's status that should become the process
// exit code without a diagnostic.
type ExitStatusError struct {
	Code int
}

func (e *ExitStatusError) Error() string {
	return fmt.Sprintf("child exited with status %d", e.Code)
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "print debug diagnostics")
}

// Execute runs the root command. Diagnostics go to stderr and exit with code
// 1, except a mirrored child status which exits with that status.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var status *ExitStatusError
	if errors.As(err, &status) {
		os.Exit(status.Code)
	}
	fmt.Fprintf(os.Stderr, "script: %v\n", err)
	os.Exit(1)
}
