package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/script/internal/recorder"
	"github.com/fakeyudi/script/internal/replay"
	"github.com/fakeyudi/script/internal/session"
	"github.com/fakeyudi/script/internal/timing"
)

var (
	replayTiming   string
	replayDivisor  float64
	replayMaxDelay float64
	replaySession  string
)

var replayCmd = &cobra.Command{
	Use:   "replay [typescript]",
	Short: "Play back a typescript using its timing log",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayDivisor <= 0 {
			return fmt.Errorf("divisor must be positive, got %g", replayDivisor)
		}
		if replayMaxDelay < 0 {
			return fmt.Errorf("maxdelay must not be negative, got %g", replayMaxDelay)
		}

		transcriptPath, timingPath, err := replayPaths(cmd, args)
		if err != nil {
			return err
		}

		tf, err := os.Open(timingPath)
		if err != nil {
			return err
		}
		records, err := timing.Parse(tf)
		tf.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", timingPath, err)
		}

		ts, err := os.Open(transcriptPath)
		if err != nil {
			return err
		}
		defer ts.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		p := &replay.Player{
			Divisor:  replayDivisor,
			MaxDelay: time.Duration(replayMaxDelay * float64(time.Second)),
		}
		st, err := p.Play(ctx, records, bufio.NewReader(ts), cmd.OutOrStdout())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		logger.Debug().Int("entries", st.Entries).Int64("bytes", st.Bytes).Dur("waited", st.Waited).Msg("replay finished")
		return err
	},
}

// replayPaths resolves the transcript and timing log, from a history record
// when --session is given.
func replayPaths(cmd *cobra.Command, args []string) (transcript, timingLog string, err error) {
	transcript, timingLog = recorder.DefaultTranscript, replayTiming
	if len(args) > 0 {
		transcript = args[0]
	}
	if replaySession == "" {
		return transcript, timingLog, nil
	}

	store, err := session.NewSessionStore()
	if err != nil {
		return "", "", err
	}
	s, err := store.Load(replaySession)
	if err != nil {
		return "", "", err
	}
	if len(args) == 0 {
		transcript = s.Log(session.LogTranscript)
	}
	if !cmd.Flags().Changed("timing") {
		timingLog = s.Log(session.LogTiming)
	}
	if timingLog == "" || timingLog == recorder.StderrPath {
		return "", "", fmt.Errorf("session %s has no timing log file", sessionLabel(s))
	}
	return transcript, timingLog, nil
}

func init() {
	f := replayCmd.Flags()
	f.StringVarP(&replayTiming, "timing", "T", "timing", "timing log `file`")
	f.Float64VarP(&replayDivisor, "divisor", "d", 1, "speed up playback by this factor")
	f.Float64VarP(&replayMaxDelay, "maxdelay", "m", 0, "cap each pause at this many `seconds` (0: no cap)")
	f.StringVarP(&replaySession, "session", "s", "", "replay the files of a recorded session `id`")
	rootCmd.AddCommand(replayCmd)
}
