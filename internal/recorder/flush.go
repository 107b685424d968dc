package recorder

import (
	"os"
	"os/signal"
	"sync/atomic"
)

// FlushFlag is set when the operator asks for the logs to be flushed and is
// consumed by the event loop once per iteration.
type FlushFlag struct {
	pending atomic.Bool
}

// Set marks a flush as pending.
func (f *FlushFlag) Set() { f.pending.Store(true) }

// TakeAndClear reports whether a flush was pending and clears it.
func (f *FlushFlag) TakeAndClear() bool { return f.pending.Swap(false) }

// NotifyFlush sets flag every time sig is delivered to the process. The
// returned function stops delivery.
func NotifyFlush(flag *FlushFlag, sig os.Signal) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sig)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range ch {
			flag.Set()
		}
	}()
	return func() {
		signal.Stop(ch)
		close(ch)
		<-done
	}
}
