package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/kamilpajak/opsdiag/internal/tracker"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow active diagnoses until none is left running",
	Long: `Watch polls the diagnosis list while any diagnosis is pending or running
and prints every status change. It exits once all diagnoses settled, or on
Ctrl+C.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := newWatcher(cmd.ErrOrStderr(), stderrIsTerminal())
		ctrl := newController(tracker.WithEmitter(w))
		defer ctrl.Shutdown()

		if err := ctrl.Refresh(cmd.Context()); err != nil {
			return err
		}
		return follow(cmd, ctrl, w)
	},
}

// follow polls until the controller goes idle or the user interrupts.
func follow(cmd *cobra.Command, ctrl *tracker.Controller, w *watcher) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl.Focus()
	if !ctrl.Polling() {
		fmt.Fprintln(cmd.ErrOrStderr(), "No active diagnosis to watch.")
		return nil
	}

	w.arm()
	defer w.stopSpinner()

	select {
	case <-ctx.Done():
		fmt.Fprintln(cmd.ErrOrStderr(), "\nStopped watching.")
	case <-w.done:
		fmt.Fprintln(cmd.ErrOrStderr(), "All diagnoses settled.")
	}
	return nil
}

// watcher prints controller events as text lines under a spinner. Once armed
// it closes done when a list snapshot shows the poller idle.
type watcher struct {
	mu    sync.Mutex
	text  *tracker.TextEmitter
	spin  *spinner.Spinner
	armed atomic.Bool
	done  chan struct{}
	once  sync.Once
}

func newWatcher(w io.Writer, interactive bool) *watcher {
	wt := &watcher{text: &tracker.TextEmitter{W: w}, done: make(chan struct{})}
	if interactive {
		wt.spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
		wt.spin.Suffix = " waiting for the backend..."
	}
	return wt
}

func (w *watcher) arm() {
	w.armed.Store(true)
	if w.spin != nil {
		w.spin.Start()
	}
}

func (w *watcher) stopSpinner() {
	if w.spin != nil {
		w.spin.Stop()
	}
}

// Emit implements tracker.Emitter.
func (w *watcher) Emit(ev tracker.Event) {
	armed := w.armed.Load()
	if ev.Type == tracker.EventError && !armed {
		// Returned to the command as well; printed once by cobra.
		return
	}

	idle := ev.Type == tracker.EventSnapshot && !ev.Polling

	w.mu.Lock()
	if w.spin != nil {
		w.spin.Stop()
	}
	w.text.Emit(ev)
	if w.spin != nil {
		if ev.Type == tracker.EventSnapshot {
			w.spin.Suffix = " " + activeSummary(ev)
		}
		if armed && !idle {
			w.spin.Start()
		}
	}
	w.mu.Unlock()

	if armed && idle {
		w.once.Do(func() { close(w.done) })
	}
}

func activeSummary(ev tracker.Event) string {
	active := 0
	for _, r := range ev.Records {
		if r.Status.IsActive() {
			active++
		}
	}
	if active == 1 {
		return "1 diagnosis running"
	}
	return fmt.Sprintf("%d diagnoses running", active)
}
