package rotation

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/steviebd/swole-tracker-sub007/internal/logging"
)

// DefaultSweepInterval is how often the background ticker runs a sweep.
const DefaultSweepInterval = 1 * time.Hour

// SweepTicker periodically runs a rotation sweep so tokens are refreshed
// ahead of expiry even when no caller asks for them.
type SweepTicker struct {
	rotator  *Rotator
	interval time.Duration
	window   time.Duration
	clock    clockwork.Clock
}

// NewSweepTicker creates a ticker. Non-positive interval and window fall back
// to the defaults.
func NewSweepTicker(rotator *Rotator, interval, window time.Duration, clock clockwork.Clock) *SweepTicker {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if window <= 0 {
		window = DefaultSweepWindow
	}
	return &SweepTicker{rotator: rotator, interval: interval, window: window, clock: clock}
}

// Run starts the periodic sweep loop. It blocks until ctx is cancelled.
func (t *SweepTicker) Run(ctx context.Context) {
	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			t.sweep(ctx)
		}
	}
}

func (t *SweepTicker) sweep(ctx context.Context) {
	sweepCtx := logging.WithCorrelationID(ctx, logging.NewCorrelationID())

	if _, err := t.rotator.SweepExpiring(sweepCtx, t.window); err != nil {
		slog.WarnContext(sweepCtx, "Rotation sweep failed", "error", err)
	}
}
