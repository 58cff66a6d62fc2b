package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/playrooms/backend/internal/config"
	"github.com/playrooms/backend/internal/game"
	"github.com/playrooms/backend/internal/registry"
)

// ResultSink receives applied timeout outcomes for broadcast and archival
// staging. The ws dispatcher implements it.
type ResultSink interface {
	FinishTimeout(ctx context.Context, roomID string, res *game.ActionResult)
}

// Worker periodically sweeps stale turn-based rooms and drives each engine's
// auto-play path under the room lock. A room that is locked by live play is
// skipped and picked up on a later tick.
type Worker struct {
	reg  *registry.RoomRegistry
	cfg  *config.Config
	sink ResultSink
}

func New(reg *registry.RoomRegistry, cfg *config.Config, sink ResultSink) *Worker {
	return &Worker{reg: reg, cfg: cfg, sink: sink}
}

// Start runs the sweep loop until ctx is done.
func (w *Worker) Start(ctx context.Context) {
	interval := time.Duration(w.cfg.TickIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[SCHED] Turn-timeout scheduler started (tick %s)", interval)

	for {
		select {
		case <-ctx.Done():
			log.Println("[SCHED] Turn-timeout scheduler stopped")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick sweeps every registered turn-based game type once.
func (w *Worker) tick(ctx context.Context) {
	cutoff := time.Now().Add(-time.Duration(w.cfg.StaleAfterSeconds) * time.Second)
	for _, rt := range game.All() {
		if rt.Kind() != game.TurnBased {
			continue
		}
		roomIDs, err := w.reg.StaleRooms(ctx, rt.GameType(), cutoff, int64(w.cfg.TimeoutBatchSize))
		if err != nil {
			log.Printf("[SCHED] Stale room scan for %s failed: %v", rt.GameType(), err)
			continue
		}
		for _, roomID := range roomIDs {
			w.checkRoom(ctx, rt, roomID)
		}
	}
}

func (w *Worker) checkRoom(ctx context.Context, rt game.Runtime, roomID string) {
	ttl := time.Duration(w.cfg.LockTTLSeconds) * time.Second
	if err := w.reg.AcquireLock(ctx, roomID, "scheduler", ttl, time.Second); err != nil {
		// Busy rooms are being played right now; nothing is overdue there.
		return
	}
	defer w.reg.ReleaseLock(ctx, roomID)

	res, err := rt.CheckTimeouts(ctx, roomID, time.Now())
	if err != nil {
		log.Printf("[SCHED] Timeout check for room %s failed: %v", roomID, err)
		return
	}
	// Re-arm the sweep backoff whether or not anything was due.
	w.reg.TouchActivity(ctx, roomID, rt.GameType())
	if res == nil {
		return
	}
	w.sink.FinishTimeout(ctx, roomID, res)
	log.Printf("[SCHED] ✓ Auto-played stale turn in room %s", roomID)
}
