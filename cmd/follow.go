package cmd

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/script/internal/follow"
	"github.com/fakeyudi/script/internal/recorder"
)

var followCmd = &cobra.Command{
	Use:   "follow [typescript]",
	Short: "Print a typescript and everything appended to it",
	Long: `Print a typescript's contents, then keep printing output as the recording
appends it. Stops when the file is removed or renamed, or on interrupt.
Pair it with --flush on the recording side to see output as it happens.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := recorder.DefaultTranscript
		if len(args) > 0 {
			path = args[0]
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return follow.Follow(ctx, path, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(followCmd)
}
