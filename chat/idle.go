package chat

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/daybreakhq/ensemble/room"
	"github.com/daybreakhq/ensemble/telemetry"
)

// StartIdleTicker keeps otherwise-silent, auto-chat-enabled rooms alive. On
// each tick it scans every room and, for rooms quiet longer than quietAfter,
// fires an idle_tick burst with probability fireProb. The random gate keeps
// quiet rooms from all firing in lockstep on the same tick. Blocks until ctx
// is canceled; run it in its own goroutine.
func StartIdleTicker(ctx context.Context, reg *room.Registry, disp *Dispatcher, interval, quietAfter time.Duration, fireProb float64) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if quietAfter <= 0 {
		quietAfter = 120 * time.Second
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("idle scheduler started",
		slog.Duration("interval", interval),
		slog.Duration("quiet_after", quietAfter),
		slog.Float64("fire_probability", fireProb),
	)
	for {
		select {
		case <-ctx.Done():
			slog.Info("idle scheduler stopped")
			return
		case <-ticker.C:
			idleTickOnce(reg, disp.Trigger, quietAfter, fireProb, rng, time.Now().UTC())
		}
	}
}

// idleTickOnce scans rooms once. trigger is injectable for tests; it returns
// whether the burst was accepted. Returns the number of bursts fired.
func idleTickOnce(reg *room.Registry, trigger func(roomID string, t Trigger) bool, quietAfter time.Duration, fireProb float64, rng *rand.Rand, now time.Time) int {
	telemetry.IdleTicks.Inc()
	fired := 0
	for _, id := range reg.IDs() {
		enabled, ok := reg.AutoChatEnabled(id)
		if !ok || !enabled {
			continue
		}
		last, ok := reg.LastMessageAt(id)
		if !ok || now.Sub(last) <= quietAfter {
			continue
		}
		if rng.Float64() >= fireProb {
			continue
		}
		slog.Debug("idle room selected for burst", slog.String("room_id", id), slog.Duration("quiet", now.Sub(last)), slog.String("component", "idle_scheduler"))
		if trigger(id, TriggerIdleTick) {
			fired++
		}
	}
	return fired
}
