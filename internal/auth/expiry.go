package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/openalgo-bridge/internal/cache"
)

// ExpireAllAt implements spec §4.3's expire_all_at(time) directly: it
// wipes the positive cache at the given wall-clock instant. Callers
// that want the cron-driven "every day at 03:00" behaviour should
// register ForcedLogoutJob with internal/scheduler instead; this
// method is the one-shot primitive both paths share.
func (g *Gate) ExpireAllAt(ctx context.Context, at time.Time) error {
	delay := time.Until(at)
	if delay <= 0 {
		return g.backend.Clear(ctx, cache.NamespaceAuth)
	}
	timer := time.NewTimer(delay)
	go func() {
		<-timer.C
		if err := g.backend.Clear(context.Background(), cache.NamespaceAuth); err != nil {
			g.log.Warn().Err(err).Msg("expire_all_at: clear failed")
		}
	}()
	return nil
}

// ForcedLogoutJob is an internal/scheduler.Job that wipes the whole
// positive auth cache at its configured cron time (spec §4.3: default
// 03:00 local market tz). In multi-instance mode every instance runs
// this cron entry, so the wipe is effectively simultaneous rather than
// propagated — the distributed cache backend makes that correct.
type ForcedLogoutJob struct {
	gate *Gate
}

func NewForcedLogoutJob(gate *Gate) *ForcedLogoutJob {
	return &ForcedLogoutJob{gate: gate}
}

func (j *ForcedLogoutJob) Name() string { return "auth.forced_logout" }

func (j *ForcedLogoutJob) Run() error {
	ctx := context.Background()
	if err := j.gate.backend.Clear(ctx, cache.NamespaceAuth); err != nil {
		return fmt.Errorf("auth: forced logout clear failed: %w", err)
	}
	j.gate.log.Info().Msg("daily forced logout: positive auth cache cleared")
	return nil
}
