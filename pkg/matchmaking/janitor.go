package matchmaking

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/tinyland-inc/craig/pkg/logger"
)

// Start launches the janitor that sweeps expired sessions on the configured
// cron schedule. It is a no-op when no TTL or schedule is configured.
func (st *Store) Start(ctx context.Context) error {
	if st.opts.TTL <= 0 || st.opts.SweepSchedule == "" {
		return nil
	}
	if !gronx.New().IsValid(st.opts.SweepSchedule) {
		return fmt.Errorf("invalid sweep schedule %q", st.opts.SweepSchedule)
	}

	st.janitorMu.Lock()
	defer st.janitorMu.Unlock()
	if st.cancel != nil {
		return nil // Already running
	}

	janitorCtx, cancel := context.WithCancel(ctx)
	st.cancel = cancel
	st.done = make(chan struct{})
	go st.runJanitor(janitorCtx, st.done)

	logger.InfoCF("matchmaking", "Session janitor started", map[string]any{
		"schedule": st.opts.SweepSchedule,
		"ttl":      st.opts.TTL.String(),
	})
	return nil
}

// Stop halts the janitor and waits for it to exit. Live sessions are kept;
// call Clear to drop them.
func (st *Store) Stop() {
	st.janitorMu.Lock()
	cancel, done := st.cancel, st.done
	st.cancel, st.done = nil, nil
	st.janitorMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (st *Store) runJanitor(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		next, err := st.nextSweep(st.opts.Now())
		if err != nil {
			logger.ErrorCF("matchmaking", "Cannot schedule session sweep", map[string]any{
				"schedule": st.opts.SweepSchedule,
				"error":    err.Error(),
			})
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if removed := st.Sweep(st.opts.Now()); removed > 0 {
			logger.InfoCF("matchmaking", "Expired sessions swept", map[string]any{
				"removed": removed,
				"live":    st.Len(),
			})
		}
	}
}

func (st *Store) nextSweep(after time.Time) (time.Time, error) {
	return gronx.NextTickAfter(st.opts.SweepSchedule, after, false)
}
