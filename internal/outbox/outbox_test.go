package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/playrooms/backend/internal/config"
	"github.com/playrooms/backend/internal/economy"
	"github.com/playrooms/backend/internal/models"
)

type fakeArchiver struct {
	mu    sync.Mutex
	calls []models.GameEndedPayload
	err   error
}

func (f *fakeArchiver) ArchiveGame(ctx context.Context, p models.GameEndedPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, p)
	return nil
}

func TestTailOfKeepsTheEnd(t *testing.T) {
	long := strings.Repeat("x", 600) + "the-part-that-matters"
	got := tailOf(long, 500)
	require.Len(t, got, 500)
	require.True(t, strings.HasSuffix(got, "the-part-that-matters"))
	require.Equal(t, "short", tailOf("short", 500))
}

func TestDispatchRejectsMalformedPayloads(t *testing.T) {
	d := &Dispatcher{}
	ctx := context.Background()

	err := d.dispatch(ctx, &models.OutboxMessage{EventType: models.EventPlayerUpdated, Payload: []byte("{broken")})
	require.Error(t, err)

	err = d.dispatch(ctx, &models.OutboxMessage{EventType: models.EventPlayerUpdated, Payload: []byte(`{"newCoins": 5}`)})
	require.Error(t, err, "missing userId must not publish")

	err = d.dispatch(ctx, &models.OutboxMessage{EventType: models.EventGameEnded, Payload: []byte("{broken")})
	require.Error(t, err)

	err = d.dispatch(ctx, &models.OutboxMessage{EventType: models.EventGameEnded, Payload: []byte(`{"roomId":"x"}`)})
	require.Error(t, err, "GameEnded without an archiver must fail, not vanish")

	err = d.dispatch(ctx, &models.OutboxMessage{EventType: "Mystery", Payload: []byte(`{}`)})
	require.ErrorIs(t, err, errUnknownEvent)
}

// --- integration tests below need TEST_DATABASE_URL ---

func testDispatcher(t *testing.T, arc Archiver) (*Dispatcher, *sqlx.DB) {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping outbox integration tests")
	}
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	schema, err := os.ReadFile(filepath.Join("..", "..", "migrations", "000001_init.up.sql"))
	require.NoError(t, err)
	_, err = db.Exec(string(schema))
	require.NoError(t, err)
	_, err = db.Exec(`TRUNCATE outbox_messages`)
	require.NoError(t, err)

	cfg := &config.Config{OutboxIntervalSec: 5, OutboxBatchSize: 100, OutboxMaxAttempts: 5}
	return NewDispatcher(db, nil, cfg, arc), db
}

func insertEvent(t *testing.T, db *sqlx.DB, eventType string, payload any) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO outbox_messages (event_type, payload, created_at) VALUES ($1, $2, NOW())`,
		eventType, body)
	require.NoError(t, err)
}

func singleRow(t *testing.T, db *sqlx.DB) models.OutboxMessage {
	t.Helper()
	var row models.OutboxMessage
	require.NoError(t, db.Get(&row, `
		SELECT id, event_type, payload, created_at, processed_at, attempts, last_error
		FROM outbox_messages`))
	return row
}

func TestDrainBatchDeliversGameEnded(t *testing.T) {
	arc := &fakeArchiver{}
	d, db := testDispatcher(t, arc)

	insertEvent(t, db, models.EventGameEnded, models.GameEndedPayload{
		RoomID:       "abc123",
		GameType:     "ludo",
		PlayerSeats:  map[string]int{"alice": 0, "bob": 2},
		WinnerUserID: "bob",
		Ranking:      []int{2, 0},
		TotalPot:     200,
		EndedAt:      time.Now().UTC(),
	})

	d.drainBatch(context.Background())

	require.Len(t, arc.calls, 1)
	require.Equal(t, "abc123", arc.calls[0].RoomID)
	require.Equal(t, "bob", arc.calls[0].WinnerUserID)
	require.Equal(t, []int{2, 0}, arc.calls[0].Ranking)
	require.Equal(t, int64(200), arc.calls[0].TotalPot)

	row := singleRow(t, db)
	require.True(t, row.ProcessedAt.Valid)
	require.False(t, row.LastError.Valid)
	require.Zero(t, row.Attempts)
}

func TestDrainBatchDeliversInInsertionOrder(t *testing.T) {
	arc := &fakeArchiver{}
	d, db := testDispatcher(t, arc)

	for i, room := range []string{"r-one", "r-two", "r-three"} {
		body, err := json.Marshal(models.GameEndedPayload{RoomID: room, GameType: "ludo", EndedAt: time.Now().UTC()})
		require.NoError(t, err)
		_, err = db.Exec(`
			INSERT INTO outbox_messages (event_type, payload, created_at)
			VALUES ($1, $2, NOW() - make_interval(secs => $3))`,
			models.EventGameEnded, body, 30-i*10)
		require.NoError(t, err)
	}

	d.drainBatch(context.Background())

	require.Len(t, arc.calls, 3)
	require.Equal(t, "r-one", arc.calls[0].RoomID)
	require.Equal(t, "r-two", arc.calls[1].RoomID)
	require.Equal(t, "r-three", arc.calls[2].RoomID)
}

func TestDrainBatchCountsAttemptsUntilExhausted(t *testing.T) {
	arc := &fakeArchiver{err: errors.New("archive backend down: connection refused")}
	d, db := testDispatcher(t, arc)

	insertEvent(t, db, models.EventGameEnded, models.GameEndedPayload{
		RoomID: "dead01", GameType: "ludo", EndedAt: time.Now().UTC(),
	})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		d.drainBatch(ctx)
	}

	row := singleRow(t, db)
	require.False(t, row.ProcessedAt.Valid)
	require.Equal(t, 5, row.Attempts)
	require.Contains(t, row.LastError.String, "connection refused")

	// Exhausted rows are never claimed again, even once the backend recovers.
	arc.err = nil
	d.drainBatch(ctx)
	require.Empty(t, arc.calls)
}

func TestDrainBatchLeavesUnknownEventsUntouched(t *testing.T) {
	d, db := testDispatcher(t, &fakeArchiver{})

	insertEvent(t, db, "SeasonReset", map[string]any{})
	d.drainBatch(context.Background())

	row := singleRow(t, db)
	require.False(t, row.ProcessedAt.Valid)
	require.Zero(t, row.Attempts, "unknown events burn no attempts")
}

func TestDrainBatchPublishesPlayerUpdates(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set; skipping publish test")
	}
	d, db := testDispatcher(t, nil)
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: 9})
	t.Cleanup(func() { rdb.Close() })
	d.rdb = rdb

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, economy.ChannelPlayerUpdates)
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	insertEvent(t, db, models.EventPlayerUpdated, models.PlayerUpdatedPayload{
		UserID: "u1", NewCoins: 70, ChangeType: "Updated",
	})

	d.drainBatch(ctx)

	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(recvCtx)
	require.NoError(t, err)

	var p models.PlayerUpdatedPayload
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &p))
	require.Equal(t, "u1", p.UserID)
	require.Equal(t, int64(70), p.NewCoins)

	row := singleRow(t, db)
	require.True(t, row.ProcessedAt.Valid)
}

func TestCleanupPrunesOldDeliveredAndExhaustedRows(t *testing.T) {
	d, db := testDispatcher(t, &fakeArchiver{})

	_, err := db.Exec(`
		INSERT INTO outbox_messages (event_type, payload, created_at, processed_at)
		VALUES ('PlayerUpdated', '{}', NOW() - INTERVAL '8 days', NOW() - INTERVAL '8 days')`)
	require.NoError(t, err)
	_, err = db.Exec(`
		INSERT INTO outbox_messages (event_type, payload, created_at, attempts)
		VALUES ('GameEnded', '{}', NOW() - INTERVAL '8 days', 5)`)
	require.NoError(t, err)
	_, err = db.Exec(`
		INSERT INTO outbox_messages (event_type, payload, created_at)
		VALUES ('PlayerUpdated', '{}', NOW() - INTERVAL '8 days')`)
	require.NoError(t, err)

	d.cleanup(context.Background())

	var n int
	require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM outbox_messages`))
	require.Equal(t, 1, n, "rows still within their attempt budget survive regardless of age")
}
