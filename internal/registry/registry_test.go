package registry

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// These tests need a live Redis; set REDIS_ADDR to run them.
func testRegistry(t *testing.T) *RoomRegistry {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set; skipping registry integration tests")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: 9})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	rdb.FlushDB(context.Background())
	t.Cleanup(func() { rdb.FlushDB(context.Background()); rdb.Close() })
	return New(rdb)
}

func TestRoomIndexRoundTrip(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	if err := reg.RegisterRoom(ctx, "a1b2c3", "ludo"); err != nil {
		t.Fatalf("RegisterRoom: %v", err)
	}

	gt, err := reg.GameTypeOf(ctx, "a1b2c3")
	if err != nil || gt != "ludo" {
		t.Errorf("GameTypeOf = %q, %v; want ludo", gt, err)
	}

	if err := reg.UnregisterRoom(ctx, "a1b2c3", "ludo"); err != nil {
		t.Fatalf("UnregisterRoom: %v", err)
	}
	gt, _ = reg.GameTypeOf(ctx, "a1b2c3")
	if gt != "" {
		t.Errorf("GameTypeOf after unregister = %q; want empty", gt)
	}
}

func TestLockMutualExclusion(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	if err := reg.AcquireLock(ctx, "r1", "holder-a", 5*time.Second, 100*time.Millisecond); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	err := reg.AcquireLock(ctx, "r1", "holder-b", 5*time.Second, 150*time.Millisecond)
	if err != ErrLockNotAcquired {
		t.Errorf("second acquire err = %v; want ErrLockNotAcquired", err)
	}

	reg.ReleaseLock(ctx, "r1")
	if err := reg.AcquireLock(ctx, "r1", "holder-b", 5*time.Second, 100*time.Millisecond); err != nil {
		t.Errorf("acquire after release: %v", err)
	}
	// Release twice is a no-op.
	reg.ReleaseLock(ctx, "r1")
	reg.ReleaseLock(ctx, "r1")
}

func TestGraceReclaimIsAtomicGetAndClear(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	if err := reg.SetGrace(ctx, "u1", "room42", 10*time.Second); err != nil {
		t.Fatalf("SetGrace: %v", err)
	}

	room, err := reg.ReclaimGrace(ctx, "u1")
	if err != nil || room != "room42" {
		t.Fatalf("ReclaimGrace = %q, %v; want room42", room, err)
	}

	// Second reclaim finds nothing.
	room, err = reg.ReclaimGrace(ctx, "u1")
	if err != nil || room != "" {
		t.Errorf("second ReclaimGrace = %q, %v; want empty", room, err)
	}
}

func TestRateLimitWindow(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		n, err := reg.IncrRateLimit(ctx, "u2", time.Minute)
		if err != nil {
			t.Fatalf("IncrRateLimit: %v", err)
		}
		if n != int64(i) {
			t.Errorf("count after incr %d = %d", i, n)
		}
	}
}

func TestStaleRoomsOrderedOldestFirst(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	now := time.Now()
	for i, id := range []string{"old1", "old2", "fresh"} {
		if err := reg.RegisterRoom(ctx, id, "ludo"); err != nil {
			t.Fatalf("RegisterRoom %s: %v", id, err)
		}
		// Backdate the first two well past the cutoff, oldest first.
		score := now.Add(-time.Duration(60-i*10) * time.Second)
		if id == "fresh" {
			score = now
		}
		reg.rdb.ZAdd(ctx, keyActivity("ludo"), redis.Z{Score: float64(score.Unix()), Member: id})
	}

	stale, err := reg.StaleRooms(ctx, "ludo", now.Add(-5*time.Second), 50)
	if err != nil {
		t.Fatalf("StaleRooms: %v", err)
	}
	if len(stale) != 2 || stale[0] != "old1" || stale[1] != "old2" {
		t.Errorf("StaleRooms = %v; want [old1 old2]", stale)
	}
}

func TestConnectionCountNeverNegative(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	if _, err := reg.IncrConnections(ctx, "u3"); err != nil {
		t.Fatalf("IncrConnections: %v", err)
	}
	n, err := reg.DecrConnections(ctx, "u3")
	if err != nil || n != 0 {
		t.Errorf("DecrConnections = %d, %v; want 0", n, err)
	}
	// Extra decrement must clamp at zero.
	n, err = reg.DecrConnections(ctx, "u3")
	if err != nil || n != 0 {
		t.Errorf("extra DecrConnections = %d, %v; want 0", n, err)
	}
}

func TestCommandIdempotencyMark(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	seen, err := reg.SeenCommand(ctx, "r9", "cmd-1")
	if err != nil || seen {
		t.Fatalf("SeenCommand before mark = %v, %v", seen, err)
	}
	if err := reg.MarkCommand(ctx, "r9", "cmd-1"); err != nil {
		t.Fatalf("MarkCommand: %v", err)
	}
	seen, err = reg.SeenCommand(ctx, "r9", "cmd-1")
	if err != nil || !seen {
		t.Errorf("SeenCommand after mark = %v, %v; want true", seen, err)
	}
}

func TestLockContentionSerializes(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	const workers = 8
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func(n int) {
			holder := fmt.Sprintf("w%d", n)
			err := reg.AcquireLock(ctx, "hot", holder, 2*time.Second, 2*time.Second)
			if err == nil {
				time.Sleep(10 * time.Millisecond)
				reg.ReleaseLock(ctx, "hot")
			}
			results <- err
		}(i)
	}

	acquired := 0
	for i := 0; i < workers; i++ {
		if err := <-results; err == nil {
			acquired++
		}
	}
	if acquired != workers {
		t.Errorf("only %d/%d workers acquired the lock within the wait budget", acquired, workers)
	}
}
