package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/script/internal/bytesize"
	"github.com/fakeyudi/script/internal/session"
	"github.com/fakeyudi/script/internal/tui"
)

var plainOutput bool

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := session.NewSessionStore()
		if err != nil {
			return err
		}
		list, err := store.List()
		if err != nil {
			logger.Warn().Err(err).Msg("some session records could not be read")
		}
		if len(list) == 0 {
			cmd.Println("no recorded sessions")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tEXIT\tOUTPUT\tCOMMAND")
		for _, s := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				s.ShortID(),
				humanize.Time(s.StartTime),
				s.Duration().Round(time.Second),
				exitColumn(s),
				bytesize.Format(s.OutputBytes),
				commandColumn(s),
			)
		}
		return w.Flush()
	},
}

func exitColumn(s *session.Session) string {
	switch {
	case s.LimitReached:
		return "limit"
	case s.ExitCode == nil:
		return "-"
	}
	return fmt.Sprintf("%d", *s.ExitCode)
}

func commandColumn(s *session.Session) string {
	if s.Command != "" {
		return s.Command
	}
	return s.Shell
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Inspect a recorded session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := session.NewSessionStore()
		if err != nil {
			return err
		}
		s, err := store.Load(args[0])
		if err != nil {
			return err
		}
		rec := tui.Load(s)
		if plainOutput {
			tui.WritePlain(cmd.OutOrStdout(), rec)
			return nil
		}
		return tui.Run(rec)
	},
}

var sessionsRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Forget a recorded session (its files are kept)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := session.NewSessionStore()
		if err != nil {
			return err
		}
		s, err := store.Load(args[0])
		if err != nil {
			return err
		}
		if err := store.Delete(s.ID); err != nil {
			return err
		}
		cmd.Printf("Removed session %s.\n", sessionLabel(s))
		return nil
	},
}

func init() {
	sessionsShowCmd.Flags().BoolVar(&plainOutput, "plain", false, "plain text output instead of TUI")
	sessionsCmd.AddCommand(sessionsShowCmd, sessionsRmCmd)
	rootCmd.AddCommand(sessionsCmd)
}
