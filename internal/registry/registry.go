package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RoomRegistry maintains the ephemeral O(1) indices over rooms and users:
// primary room index, per-game ordered indices, user presence, disconnect
// grace slots, rate-limit buckets, room locks and the processed-command set.
// Everything is best-effort against Redis; callers must treat errors as
// "state unknown" and a failed lock acquisition as not holding the lock.
type RoomRegistry struct {
	rdb *redis.Client
}

var ErrLockNotAcquired = errors.New("room lock not acquired")

func New(rdb *redis.Client) *RoomRegistry {
	return &RoomRegistry{rdb: rdb}
}

func keyRoomType(roomID string) string      { return "room:" + roomID + ":type" }
func keyCreated(gameType string) string     { return "rooms:" + gameType + ":created" }
func keyActivity(gameType string) string    { return "rooms:" + gameType + ":activity" }
func keyUserRoom(userID string) string      { return "user:" + userID + ":room" }
func keyUserConns(userID string) string     { return "user:" + userID + ":conns" }
func keyUserGrace(userID string) string     { return "user:" + userID + ":grace" }
func keyRateLimit(userID string) string     { return "ratelimit:" + userID }
func keyRoomLock(roomID string) string      { return "lock:room:" + roomID }
func keyDisconnect(userID string) string    { return "lock:disconnect:" + userID }
func keyCommand(roomID, cmdID string) string { return "cmd:" + roomID + ":" + cmdID }

// RegisterRoom records the room in the primary index and both per-game
// ordered indices.
func (r *RoomRegistry) RegisterRoom(ctx context.Context, roomID, gameType string) error {
	now := float64(time.Now().Unix())
	pipe := r.rdb.Pipeline()
	pipe.Set(ctx, keyRoomType(roomID), gameType, 0)
	pipe.ZAdd(ctx, keyCreated(gameType), redis.Z{Score: now, Member: roomID})
	pipe.ZAdd(ctx, keyActivity(gameType), redis.Z{Score: now, Member: roomID})
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("register room %s: %w", roomID, err)
	}
	return nil
}

// UnregisterRoom removes the room from all indices.
func (r *RoomRegistry) UnregisterRoom(ctx context.Context, roomID, gameType string) error {
	pipe := r.rdb.Pipeline()
	pipe.Del(ctx, keyRoomType(roomID))
	pipe.ZRem(ctx, keyCreated(gameType), roomID)
	pipe.ZRem(ctx, keyActivity(gameType), roomID)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("unregister room %s: %w", roomID, err)
	}
	return nil
}

// GameTypeOf resolves roomID to its game type. Returns "" when unknown.
func (r *RoomRegistry) GameTypeOf(ctx context.Context, roomID string) (string, error) {
	v, err := r.rdb.Get(ctx, keyRoomType(roomID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

// TouchActivity bumps the room's last-activity score.
func (r *RoomRegistry) TouchActivity(ctx context.Context, roomID, gameType string) error {
	return r.rdb.ZAdd(ctx, keyActivity(gameType),
		redis.Z{Score: float64(time.Now().Unix()), Member: roomID}).Err()
}

// StaleRooms returns up to limit rooms whose activity score is at or below
// the cutoff, oldest first. The scheduler drains these.
func (r *RoomRegistry) StaleRooms(ctx context.Context, gameType string, cutoff time.Time, limit int64) ([]string, error) {
	return r.rdb.ZRangeByScore(ctx, keyActivity(gameType), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", cutoff.Unix()),
		Count: limit,
	}).Result()
}

// RoomsPage lists rooms for a game type by creation order, newest first.
func (r *RoomRegistry) RoomsPage(ctx context.Context, gameType string, offset, count int64) ([]string, error) {
	return r.rdb.ZRevRange(ctx, keyCreated(gameType), offset, offset+count-1).Result()
}

// SetUserRoom records the user's current room.
func (r *RoomRegistry) SetUserRoom(ctx context.Context, userID, roomID string) error {
	return r.rdb.Set(ctx, keyUserRoom(userID), roomID, 0).Err()
}

// UserRoom returns the user's current room, "" if none.
func (r *RoomRegistry) UserRoom(ctx context.Context, userID string) (string, error) {
	v, err := r.rdb.Get(ctx, keyUserRoom(userID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

// ClearUserRoom removes the user's current-room entry.
func (r *RoomRegistry) ClearUserRoom(ctx context.Context, userID string) error {
	return r.rdb.Del(ctx, keyUserRoom(userID)).Err()
}

// IncrConnections bumps the user's live connection count and returns the new
// value.
func (r *RoomRegistry) IncrConnections(ctx context.Context, userID string) (int64, error) {
	return r.rdb.Incr(ctx, keyUserConns(userID)).Result()
}

// DecrConnections drops the count, deleting the key at zero so stale
// counters cannot linger negative.
func (r *RoomRegistry) DecrConnections(ctx context.Context, userID string) (int64, error) {
	n, err := r.rdb.Decr(ctx, keyUserConns(userID)).Result()
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		r.rdb.Del(ctx, keyUserConns(userID))
		if n < 0 {
			n = 0
		}
	}
	return n, nil
}

// Connections returns the user's live connection count.
func (r *RoomRegistry) Connections(ctx context.Context, userID string) (int64, error) {
	n, err := r.rdb.Get(ctx, keyUserConns(userID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

// SetGrace opens a disconnected-grace slot pointing at the user's room.
func (r *RoomRegistry) SetGrace(ctx context.Context, userID, roomID string, ttl time.Duration) error {
	return r.rdb.Set(ctx, keyUserGrace(userID), roomID, ttl).Err()
}

// ReclaimGrace atomically reads and clears the grace slot. Returns the room
// the user may rejoin, or "" when no slot was present.
func (r *RoomRegistry) ReclaimGrace(ctx context.Context, userID string) (string, error) {
	v, err := r.rdb.GetDel(ctx, keyUserGrace(userID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

// PeekGrace reads the slot without clearing it; the deferred disconnect
// checker uses this to see whether the user came back.
func (r *RoomRegistry) PeekGrace(ctx context.Context, userID string) (string, error) {
	v, err := r.rdb.Get(ctx, keyUserGrace(userID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

// IncrRateLimit bumps the user's fixed-window counter, arming the window TTL
// on first increment, and returns the count in the current window.
func (r *RoomRegistry) IncrRateLimit(ctx context.Context, userID string, window time.Duration) (int64, error) {
	key := keyRateLimit(userID)
	n, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		r.rdb.Expire(ctx, key, window)
	}
	return n, nil
}

// AcquireLock takes the room lock, retrying until the wait deadline. The key
// carries lockTTL so a crashed holder releases automatically.
func (r *RoomRegistry) AcquireLock(ctx context.Context, roomID, holder string, lockTTL, maxWait time.Duration) error {
	deadline := time.Now().Add(maxWait)
	for {
		ok, err := r.rdb.SetNX(ctx, keyRoomLock(roomID), holder, lockTTL).Result()
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", roomID, err)
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrLockNotAcquired
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}

// ReleaseLock drops the room lock. Deleting an absent key is a no-op, so
// release is idempotent.
func (r *RoomRegistry) ReleaseLock(ctx context.Context, roomID string) {
	if err := r.rdb.Del(ctx, keyRoomLock(roomID)).Err(); err != nil {
		// Lock TTL covers us if this fails.
		return
	}
}

// AcquireDisconnectLock guards the deferred disconnect check against a
// racing reconnect.
func (r *RoomRegistry) AcquireDisconnectLock(ctx context.Context, userID string, ttl time.Duration) (bool, error) {
	return r.rdb.SetNX(ctx, keyDisconnect(userID), "1", ttl).Result()
}

// ReleaseDisconnectLock drops the disconnect lock.
func (r *RoomRegistry) ReleaseDisconnectLock(ctx context.Context, userID string) {
	r.rdb.Del(ctx, keyDisconnect(userID))
}

// SeenCommand reports whether commandID was already processed for this room.
func (r *RoomRegistry) SeenCommand(ctx context.Context, roomID, commandID string) (bool, error) {
	n, err := r.rdb.Exists(ctx, keyCommand(roomID, commandID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkCommand records commandID as processed for five minutes.
func (r *RoomRegistry) MarkCommand(ctx context.Context, roomID, commandID string) error {
	return r.rdb.Set(ctx, keyCommand(roomID, commandID), "1", 5*time.Minute).Err()
}
