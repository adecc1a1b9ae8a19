package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/Nomoos/PrismQ-sub002/internal/dispatch"
	pqerrors "github.com/Nomoos/PrismQ-sub002/internal/errors"
	"github.com/Nomoos/PrismQ-sub002/internal/logfields"
)

// runWorker polls one stage until the context is cancelled. An advanced step
// loops immediately; an empty stage sleeps one poll interval; a transient
// failure backs off with jitter so contending workers spread out.
func (d *Daemon) runWorker(ctx context.Context, stageName string) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		if !d.stageEnabled(stageName) {
			if !d.sleep(ctx, d.pollInterval()) {
				return
			}
			continue
		}

		res, err := d.disp.Step(ctx, stageName)
		switch {
		case err == nil && res.Kind == dispatch.ResultAdvanced:
			attempt = 0
			continue

		case err == nil:
			// NoWork and AlreadyDone both mean: nothing advanced, try later.
			attempt = 0
			if res.Kind == dispatch.ResultNoWork {
				d.recorder.IncStepNoWork(stageName)
			}
			if !d.sleep(ctx, d.pollInterval()) {
				return
			}

		case pqerrors.IsRetryable(err) && attempt < d.retryPolicy().MaxRetries:
			attempt++
			d.recorder.IncStepRetry(stageName)
			delay := d.retryPolicy().DelayJittered(attempt)
			slog.Warn("Transient step failure, backing off",
				logfields.Stage(stageName),
				logfields.Attempt(attempt),
				slog.String("delay", delay.String()),
				logfields.Error(err))
			if !d.sleep(ctx, delay) {
				return
			}

		default:
			// Retries exhausted or the failure is not retryable. The story
			// stays in place; an operator acts on the log and the counter.
			d.recorder.IncStepFailed(stageName, string(pqerrors.GetKind(err)))
			slog.Error("Step failed",
				logfields.Stage(stageName),
				logfields.Attempt(attempt),
				logfields.Error(err))
			attempt = 0
			if !d.sleep(ctx, d.pollInterval()) {
				return
			}
		}
	}
}

// sleep waits for dur or cancellation, reporting false when cancelled.
func (d *Daemon) sleep(ctx context.Context, dur time.Duration) bool {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// sampleBacklog exports the per-stage story counts. Stages with no stories
// are reset to zero so gauges do not go stale.
func (d *Daemon) sampleBacklog(ctx context.Context) {
	counts, err := d.stories.CountsByState(ctx)
	if err != nil {
		slog.Warn("Backlog sampling failed", logfields.Error(err))
		return
	}
	for _, name := range d.cat.Stages() {
		d.recorder.SetBacklog(name, counts[name])
	}
}
