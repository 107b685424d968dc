// Package replay plays a recorded transcript back with its original pacing.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fakeyudi/script/internal/timing"
)

// ErrShortTranscript means the timing log describes more output than the
// transcript holds.
var ErrShortTranscript = errors.New("transcript is shorter than its timing log")

// Player paces transcript bytes according to timing records.
type Player struct {
	// Divisor speeds playback up; values <= 0 mean real time.
	Divisor float64
	// MaxDelay caps any single pause; zero leaves pauses uncapped.
	MaxDelay time.Duration
	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Stats summarises a playback.
type Stats struct {
	Entries int
	Bytes   int64
	Waited  time.Duration
}

// Delay returns the pause applied before an entry recorded after elapsed.
func (p *Player) Delay(elapsed time.Duration) time.Duration {
	d := elapsed
	if p.Divisor > 0 && p.Divisor != 1 {
		d = time.Duration(float64(elapsed) / p.Divisor)
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Play writes transcript to out entry by entry. Output entries consume their
// byte count from transcript; input entries only contribute their delay.
func (p *Player) Play(ctx context.Context, records []timing.Record, transcript io.Reader, out io.Writer) (Stats, error) {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var st Stats
	for _, rec := range records {
		d := p.Delay(rec.Elapsed)
		if d > 0 {
			if err := sleep(ctx, d); err != nil {
				return st, err
			}
			st.Waited += d
		}
		st.Entries++
		if rec.Direction == timing.Input {
			continue
		}

		n, err := io.CopyN(out, transcript, int64(rec.Bytes))
		st.Bytes += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				return st, fmt.Errorf("%w: ends after %d bytes", ErrShortTranscript, st.Bytes)
			}
			return st, err
		}
	}
	return st, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
