package gamestate

import (
	"context"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/playrooms/backend/internal/config"
	"github.com/playrooms/backend/internal/game"
	"github.com/playrooms/backend/internal/registry"
)

// StartSnapshotWorker runs a background job copying each live room's
// (state, meta) pair into room_snapshots at coarse intervals. Snapshots are
// a recovery fallback, never a read path, so the copy is raw bytes with no
// decoding.
func StartSnapshotWorker(ctx context.Context, db *sqlx.DB, rdb *redis.Client, reg *registry.RoomRegistry, cfg *config.Config) {
	interval := time.Duration(cfg.SnapshotIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[SNAPSHOT] Starting snapshot worker (every %v)", interval)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[SNAPSHOT] Worker stopped")
			return
		case <-ticker.C:
			snapshotAll(ctx, db, rdb, reg)
		}
	}
}

func snapshotAll(ctx context.Context, db *sqlx.DB, rdb *redis.Client, reg *registry.RoomRegistry) {
	total := 0
	for _, rt := range game.All() {
		gameType := rt.GameType()
		// Page through every registered room of this type.
		for offset := int64(0); ; offset += 200 {
			roomIDs, err := reg.RoomsPage(ctx, gameType, offset, 200)
			if err != nil {
				log.Printf("[SNAPSHOT] List rooms for %s failed: %v", gameType, err)
				break
			}
			if len(roomIDs) == 0 {
				break
			}
			for _, roomID := range roomIDs {
				if snapshotRoom(ctx, db, rdb, gameType, roomID) {
					total++
				}
			}
			if int64(len(roomIDs)) < 200 {
				break
			}
		}
	}
	if total > 0 {
		log.Printf("[SNAPSHOT] ✓ Saved %d room snapshot(s)", total)
	}
}

func snapshotRoom(ctx context.Context, db *sqlx.DB, rdb *redis.Client, gameType, roomID string) bool {
	vals, err := rdb.HMGet(ctx, "state:"+gameType+":"+roomID, "state", "meta").Result()
	if err != nil || len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return false
	}
	rawState, ok1 := vals[0].(string)
	rawMeta, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return false
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO room_snapshots (room_id, game_type, state, meta, saved_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (room_id) DO UPDATE
		SET state = EXCLUDED.state, meta = EXCLUDED.meta, saved_at = NOW()
	`, roomID, gameType, []byte(rawState), []byte(rawMeta))
	if err != nil {
		log.Printf("[SNAPSHOT] Upsert for room %s failed: %v", roomID, err)
		return false
	}
	return true
}

// DeleteSnapshot removes a room's snapshot once the room is archived.
func DeleteSnapshot(ctx context.Context, db *sqlx.DB, roomID string) {
	if _, err := db.ExecContext(ctx, `DELETE FROM room_snapshots WHERE room_id = $1`, roomID); err != nil {
		log.Printf("[SNAPSHOT] Delete for room %s failed: %v", roomID, err)
	}
}
