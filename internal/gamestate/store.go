package gamestate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/playrooms/backend/internal/game"
)

// Store persists one game type's rooms: the fixed-size state image beside
// its JSON meta, both written in a single HSET so readers never observe a
// torn pair. Keys are namespaced per game type so a cluster can shard them.
type Store[T any] struct {
	rdb      *redis.Client
	gameType string
	codec    game.Codec[T]
}

func New[T any](rdb *redis.Client, gameType string, codec game.Codec[T]) *Store[T] {
	return &Store[T]{rdb: rdb, gameType: gameType, codec: codec}
}

func (s *Store[T]) key(roomID string) string {
	return "state:" + s.gameType + ":" + roomID
}

// Save writes state and meta atomically.
func (s *Store[T]) Save(ctx context.Context, roomID string, state *T, meta *game.Meta) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal meta for %s: %w", roomID, err)
	}
	err = s.rdb.HSet(ctx, s.key(roomID),
		"state", s.codec.Encode(state),
		"meta", metaJSON,
	).Err()
	if err != nil {
		return fmt.Errorf("save room %s: %w", roomID, err)
	}
	return nil
}

// Load returns the room's state and meta, or (nil, nil, nil) when the room
// does not exist.
func (s *Store[T]) Load(ctx context.Context, roomID string) (*T, *game.Meta, error) {
	vals, err := s.rdb.HMGet(ctx, s.key(roomID), "state", "meta").Result()
	if err != nil {
		return nil, nil, fmt.Errorf("load room %s: %w", roomID, err)
	}
	return s.decodePair(roomID, vals)
}

// LoadMany fetches many rooms in one round trip via a pipeline. Missing
// rooms are silently skipped.
func (s *Store[T]) LoadMany(ctx context.Context, roomIDs []string) (map[string]*T, map[string]*game.Meta, error) {
	states := make(map[string]*T, len(roomIDs))
	metas := make(map[string]*game.Meta, len(roomIDs))
	if len(roomIDs) == 0 {
		return states, metas, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make(map[string]*redis.SliceCmd, len(roomIDs))
	for _, id := range roomIDs {
		cmds[id] = pipe.HMGet(ctx, s.key(id), "state", "meta")
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, nil, fmt.Errorf("load many: %w", err)
	}

	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		st, meta, err := s.decodePair(id, vals)
		if err != nil || st == nil {
			continue
		}
		states[id] = st
		metas[id] = meta
	}
	return states, metas, nil
}

// Delete removes the room's stored pair.
func (s *Store[T]) Delete(ctx context.Context, roomID string) error {
	return s.rdb.Del(ctx, s.key(roomID)).Err()
}

// RawState returns the encoded state image without decoding, for archival
// payloads.
func (s *Store[T]) RawState(ctx context.Context, roomID string) ([]byte, error) {
	v, err := s.rdb.HGet(ctx, s.key(roomID), "state").Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(v), nil
}

func (s *Store[T]) decodePair(roomID string, vals []interface{}) (*T, *game.Meta, error) {
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return nil, nil, nil
	}
	rawState, ok1 := vals[0].(string)
	rawMeta, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return nil, nil, fmt.Errorf("room %s: unexpected redis value types", roomID)
	}

	st, err := s.codec.Decode([]byte(rawState))
	if err != nil {
		return nil, nil, fmt.Errorf("decode state for %s: %w", roomID, err)
	}
	var meta game.Meta
	if err := json.Unmarshal([]byte(rawMeta), &meta); err != nil {
		return nil, nil, fmt.Errorf("decode meta for %s: %w", roomID, err)
	}
	return st, &meta, nil
}
