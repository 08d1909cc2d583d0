package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/wagate/internal/store"
	"github.com/nextlevelbuilder/wagate/internal/timing"
)

const defaultCleanupMaxAge = 7 * 24 * time.Hour

// janitor prunes stale auth files on a cron schedule.
type janitor struct {
	expr   string
	maxAge time.Duration
	store  store.SessionStore
	now    func() time.Time
	sleep  timing.SleepFunc
}

func newJanitor(expr string, maxAge time.Duration, st store.SessionStore) (*janitor, error) {
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("gateway: invalid session cleanup schedule %q", expr)
	}
	if maxAge <= 0 {
		maxAge = defaultCleanupMaxAge
	}
	return &janitor{expr: expr, maxAge: maxAge, store: st, now: time.Now, sleep: timing.Sleep}, nil
}

func (j *janitor) run(ctx context.Context) {
	slog.Info("session janitor scheduled", "schedule", j.expr, "max_age", j.maxAge)
	for {
		now := j.now()
		next, err := gronx.NextTickAfter(j.expr, now, false)
		if err != nil {
			slog.Error("session janitor stopped", "schedule", j.expr, "error", err)
			return
		}
		if err := j.sleep(ctx, next.Sub(now)); err != nil {
			return
		}
		j.sweep(ctx)
	}
}

func (j *janitor) sweep(ctx context.Context) {
	removed, err := j.store.CleanupOld(ctx, j.maxAge)
	if err != nil {
		slog.Warn("session cleanup failed", "error", err)
		return
	}
	if removed > 0 {
		slog.Info("session cleanup complete", "removed", removed, "max_age", j.maxAge)
	}
}
