package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/playrooms/backend/internal/config"
	"github.com/playrooms/backend/internal/economy"
	"github.com/playrooms/backend/internal/models"
)

// lastErrorMax bounds what we keep of a failure; only the tail matters.
const lastErrorMax = 500

const cleanupRetentionDays = 7

// errUnknownEvent marks rows this dispatcher has no consumer for. They are
// logged and left unprocessed so a newer build can pick them up.
var errUnknownEvent = errors.New("unknown event type")

// Archiver consumes decoded GameEnded events. Implemented by the archive
// service; declared here so the dispatcher stays free of game imports.
type Archiver interface {
	ArchiveGame(ctx context.Context, p models.GameEndedPayload) error
}

// Dispatcher drains outbox_messages in insertion order and hands each event
// to its consumer. Delivery is at-least-once; every consumer dedupes by key,
// so a crash between dispatch and the processed-mark only costs a redelivery.
type Dispatcher struct {
	db  *sqlx.DB
	rdb *redis.Client
	cfg *config.Config
	arc Archiver
}

func NewDispatcher(db *sqlx.DB, rdb *redis.Client, cfg *config.Config, arc Archiver) *Dispatcher {
	return &Dispatcher{db: db, rdb: rdb, cfg: cfg, arc: arc}
}

// Start runs the drain loop plus the hourly cleanup until ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	interval := time.Duration(d.cfg.OutboxIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	cleanup := time.NewTicker(time.Hour)
	defer cleanup.Stop()

	log.Printf("[OUTBOX] Starting outbox dispatcher (drain every %v, batch %d, max %d attempts)",
		interval, d.cfg.OutboxBatchSize, d.cfg.OutboxMaxAttempts)

	// Drain whatever a previous run left behind.
	d.drainBatch(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[OUTBOX] Outbox dispatcher stopped")
			return
		case <-ticker.C:
			d.drainBatch(ctx)
		case <-cleanup.C:
			d.cleanup(ctx)
		}
	}
}

// drainBatch claims one batch of due rows and dispatches them. The claim
// holds row locks for the duration, so concurrent instances skip past this
// batch instead of double-delivering it.
func (d *Dispatcher) drainBatch(ctx context.Context) {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		log.Printf("[OUTBOX] Failed to begin claim transaction: %v", err)
		return
	}
	defer tx.Rollback()

	var msgs []models.OutboxMessage
	err = tx.SelectContext(ctx, &msgs, `
		SELECT id, event_type, payload, created_at, processed_at, attempts, last_error
		FROM outbox_messages
		WHERE processed_at IS NULL
		  AND attempts < $1
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT $2`, d.cfg.OutboxMaxAttempts, d.cfg.OutboxBatchSize)
	if err != nil {
		log.Printf("[OUTBOX] Failed to claim messages: %v", err)
		return
	}
	if len(msgs) == 0 {
		return
	}

	var delivered, failed int
	for i := range msgs {
		msg := &msgs[i]
		err := d.dispatch(ctx, msg)
		switch {
		case err == nil:
			delivered++
			if _, uerr := tx.ExecContext(ctx, `
				UPDATE outbox_messages SET processed_at = NOW(), last_error = NULL
				WHERE id = $1`, msg.ID); uerr != nil {
				log.Printf("[OUTBOX] Failed to mark message %d processed: %v", msg.ID, uerr)
			}
		case errors.Is(err, errUnknownEvent):
			log.Printf("[OUTBOX] Message %d has unknown event type %q, leaving unprocessed", msg.ID, msg.EventType)
		default:
			failed++
			log.Printf("[OUTBOX] Message %d (%s) failed on attempt %d/%d: %v",
				msg.ID, msg.EventType, msg.Attempts+1, d.cfg.OutboxMaxAttempts, err)
			if _, uerr := tx.ExecContext(ctx, `
				UPDATE outbox_messages SET attempts = attempts + 1, last_error = $1
				WHERE id = $2`, tailOf(err.Error(), lastErrorMax), msg.ID); uerr != nil {
				log.Printf("[OUTBOX] Failed to record failure for message %d: %v", msg.ID, uerr)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[OUTBOX] Failed to commit batch: %v", err)
		return
	}
	if delivered > 0 || failed > 0 {
		log.Printf("[OUTBOX] ✓ Drained batch: %d delivered, %d failed, %d claimed", delivered, failed, len(msgs))
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, msg *models.OutboxMessage) error {
	switch msg.EventType {
	case models.EventPlayerUpdated:
		return d.publishPlayerUpdate(ctx, msg.Payload)
	case models.EventGameEnded:
		var p models.GameEndedPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("decode GameEnded payload: %w", err)
		}
		if d.arc == nil {
			return fmt.Errorf("no archiver configured for GameEnded")
		}
		return d.arc.ArchiveGame(ctx, p)
	default:
		return errUnknownEvent
	}
}

// publishPlayerUpdate re-publishes a wallet delta that the economy core
// failed to push at commit time. Decoded first so a malformed row burns its
// attempts instead of spamming the channel forever.
func (d *Dispatcher) publishPlayerUpdate(ctx context.Context, payload json.RawMessage) error {
	var p models.PlayerUpdatedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode PlayerUpdated payload: %w", err)
	}
	if p.UserID == "" {
		return fmt.Errorf("PlayerUpdated payload missing userId")
	}
	if err := d.rdb.Publish(ctx, economy.ChannelPlayerUpdates, []byte(payload)).Err(); err != nil {
		return fmt.Errorf("publish player update for %s: %w", p.UserID, err)
	}
	return nil
}

// cleanup prunes delivered history and permanently failed rows past the
// retention window.
func (d *Dispatcher) cleanup(ctx context.Context) {
	res, err := d.db.ExecContext(ctx, `
		DELETE FROM outbox_messages
		WHERE created_at < NOW() - make_interval(days => $1)
		  AND (processed_at IS NOT NULL OR attempts >= $2)`,
		cleanupRetentionDays, d.cfg.OutboxMaxAttempts)
	if err != nil {
		log.Printf("[OUTBOX] Cleanup failed: %v", err)
		return
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.Printf("[OUTBOX] ✓ Cleanup removed %d old message(s)", n)
	}
}

// tailOf keeps the last max bytes of s. Postgres error chains put the
// interesting part at the end.
func tailOf(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
