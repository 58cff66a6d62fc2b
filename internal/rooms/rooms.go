package rooms

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/playrooms/backend/internal/game"
	"github.com/playrooms/backend/internal/gamestate"
	"github.com/playrooms/backend/internal/models"
	"github.com/playrooms/backend/internal/registry"
)

// Hooks capture what differs between game modules beyond the engine itself.
type Hooks[T any] struct {
	// InitialState builds the state for a brand-new room, e.g. placing
	// mines from the room config.
	InitialState func(meta *game.Meta) *T
	// SeatOrder is the preferred fill order; nil means sequential.
	SeatOrder []int
	// PotBased games pool committed entry fees into meta.Pot and pay the
	// pot out by ranking. House-banked games leave the pot at zero and pay
	// explicit engine awards instead.
	PotBased bool
}

// Module wires one engine, codec and hook set into the room lifecycle and
// implements the runtime face the dispatcher drives. Callers serialize
// mutating calls per room via the registry lock.
type Module[T any] struct {
	gameType string
	kind     game.Kind
	engine   game.Engine[T]
	store    *gamestate.Store[T]
	codec    game.Codec[T]
	reg      *registry.RoomRegistry
	hooks    Hooks[T]
}

func New[T any](gameType string, kind game.Kind, engine game.Engine[T], codec game.Codec[T], rdb *redis.Client, reg *registry.RoomRegistry, hooks Hooks[T]) *Module[T] {
	if hooks.InitialState == nil {
		panic("rooms: module " + gameType + " needs an InitialState hook")
	}
	return &Module[T]{
		gameType: gameType,
		kind:     kind,
		engine:   engine,
		store:    gamestate.New[T](rdb, gameType, codec),
		codec:    codec,
		reg:      reg,
		hooks:    hooks,
	}
}

// NewRoomID returns an opaque 8-hex-char room identifier.
func NewRoomID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xFFFFFFFF)
	}
	return hex.EncodeToString(b)
}

func (m *Module[T]) GameType() string { return m.gameType }
func (m *Module[T]) Kind() game.Kind  { return m.kind }

func (m *Module[T]) CreateRoom(ctx context.Context, tpl *models.RoomTemplate, roomID string) (*game.Meta, error) {
	meta := &game.Meta{
		RoomID:        roomID,
		GameType:      m.gameType,
		MaxPlayers:    tpl.MaxPlayers,
		EntryFee:      tpl.EntryFee,
		Config:        tpl.ConfigMap(),
		IsPublic:      tpl.IsPublic,
		PlayerSeats:   map[string]int{},
		PlayerNames:   map[string]string{},
		Reservations:  map[string]string{},
		CreatedAt:     time.Now(),
		TurnStartedAt: time.Now(),
	}
	state := m.hooks.InitialState(meta)
	if err := m.store.Save(ctx, roomID, state, meta); err != nil {
		return nil, err
	}
	if err := m.reg.RegisterRoom(ctx, roomID, m.gameType); err != nil {
		m.store.Delete(ctx, roomID)
		return nil, fmt.Errorf("register room %s: %w", roomID, err)
	}
	log.Printf("[ROOM] ✓ Created %s room %s (max %d, fee %d)", m.gameType, roomID, tpl.MaxPlayers, tpl.EntryFee)
	return meta, nil
}

// Join seats the user. Joining a room you already sit in returns your seat
// again. The caller holds the room lock and has already reserved the entry
// fee; reservationID travels in the meta until the game starts.
func (m *Module[T]) Join(ctx context.Context, roomID, userID, userName, reservationID string) (int, *game.Meta, error) {
	state, meta, err := m.store.Load(ctx, roomID)
	if err != nil {
		return 0, nil, err
	}
	if state == nil {
		return 0, nil, game.ErrRoomNotFound
	}
	if seat, ok := meta.SeatOf(userID); ok {
		return seat, meta, nil
	}
	if meta.Started() {
		return 0, nil, game.ErrAlreadyStarted
	}
	if len(meta.PlayerSeats) >= meta.MaxPlayers {
		return 0, nil, game.ErrRoomFull
	}

	seat, ok := m.freeSeat(meta)
	if !ok {
		return 0, nil, game.ErrRoomFull
	}
	meta.PlayerSeats[userID] = seat
	if meta.PlayerNames == nil {
		meta.PlayerNames = map[string]string{}
	}
	meta.PlayerNames[userID] = userName
	if reservationID != "" {
		if meta.Reservations == nil {
			meta.Reservations = map[string]string{}
		}
		meta.Reservations[userID] = reservationID
	}

	if err := m.store.Save(ctx, roomID, state, meta); err != nil {
		return 0, nil, err
	}
	if err := m.reg.SetUserRoom(ctx, userID, roomID); err != nil {
		log.Printf("[ROOM] Set user-room index for %s failed: %v", userID, err)
	}
	m.reg.TouchActivity(ctx, roomID, m.gameType)
	log.Printf("[ROOM] User %s joined %s at seat %d", userID, roomID, seat)
	return seat, meta, nil
}

// freeSeat picks the first unoccupied seat, preferring the hook's order.
func (m *Module[T]) freeSeat(meta *game.Meta) (int, bool) {
	order := m.hooks.SeatOrder
	if order == nil {
		order = make([]int, meta.MaxPlayers)
		for i := range order {
			order[i] = i
		}
	}
	for _, seat := range order {
		if seat >= meta.MaxPlayers {
			continue
		}
		if !meta.SeatTaken(seat) {
			return seat, true
		}
	}
	return 0, false
}

// Leave releases the user's seat. Forfeiting an in-progress game is the
// dispatcher's job (an engine action) before it calls Leave; here only the
// seat bookkeeping happens. An empty never-started room is deleted.
func (m *Module[T]) Leave(ctx context.Context, roomID, userID string) (*game.LeaveResult, error) {
	state, meta, err := m.store.Load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, game.ErrRoomNotFound
	}
	seat, ok := meta.SeatOf(userID)
	if !ok {
		return nil, game.ErrNotSeated
	}

	reservationID := meta.Reservations[userID]
	delete(meta.PlayerSeats, userID)
	delete(meta.PlayerNames, userID)
	delete(meta.Reservations, userID)

	if current, _ := m.reg.UserRoom(ctx, userID); current == roomID {
		m.reg.ClearUserRoom(ctx, userID)
	}

	if len(meta.PlayerSeats) == 0 && !meta.Started() {
		if err := m.DeleteRoom(ctx, roomID); err != nil {
			return nil, err
		}
		log.Printf("[ROOM] Deleted empty room %s", roomID)
		return &game.LeaveResult{Seat: seat, ReservationID: reservationID, Meta: meta}, nil
	}

	if err := m.store.Save(ctx, roomID, state, meta); err != nil {
		return nil, err
	}
	m.reg.TouchActivity(ctx, roomID, m.gameType)
	log.Printf("[ROOM] User %s left %s (seat %d)", userID, roomID, seat)
	return &game.LeaveResult{Seat: seat, ReservationID: reservationID, Meta: meta}, nil
}

// DeleteRoom removes the stored pair and every index entry. Seated users'
// room pointers are cleared only when still pointing here.
func (m *Module[T]) DeleteRoom(ctx context.Context, roomID string) error {
	_, meta, err := m.store.Load(ctx, roomID)
	if err == nil && meta != nil {
		for userID := range meta.PlayerSeats {
			if current, _ := m.reg.UserRoom(ctx, userID); current == roomID {
				m.reg.ClearUserRoom(ctx, userID)
			}
		}
	}
	if err := m.store.Delete(ctx, roomID); err != nil {
		return err
	}
	return m.reg.UnregisterRoom(ctx, roomID, m.gameType)
}

// Execute loads the room, resolves the caller's seat, runs the engine and
// persists the result. State is saved only on engine success.
func (m *Module[T]) Execute(ctx context.Context, roomID string, cmd game.Command) (*game.ActionResult, error) {
	state, meta, err := m.store.Load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, game.ErrRoomNotFound
	}
	if seat, ok := meta.SeatOf(cmd.UserID); ok {
		cmd.Seat = seat
	} else if !cmd.Privileged {
		return nil, game.ErrNotSeated
	} else {
		cmd.Seat = -1
	}

	out, err := m.engine.Execute(state, meta, cmd)
	if err != nil {
		return nil, err
	}

	res := m.finishOutcome(state, meta, out)
	if err := m.store.Save(ctx, roomID, state, meta); err != nil {
		return nil, err
	}
	m.reg.TouchActivity(ctx, roomID, m.gameType)
	return res, nil
}

// CheckTimeouts drives the engine's auto-play path. A vanished room or a
// not-yet-due turn both come back as (nil, nil).
func (m *Module[T]) CheckTimeouts(ctx context.Context, roomID string, now time.Time) (*game.ActionResult, error) {
	state, meta, err := m.store.Load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, nil
	}

	out, err := m.engine.CheckTimeouts(state, meta, now)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}

	res := m.finishOutcome(state, meta, out)
	if err := m.store.Save(ctx, roomID, state, meta); err != nil {
		return nil, err
	}
	m.reg.TouchActivity(ctx, roomID, m.gameType)
	return res, nil
}

// finishOutcome applies meta bookkeeping an applied outcome implies: the
// start stamp, pot accumulation, fee-commit handoff and the turn clock.
func (m *Module[T]) finishOutcome(state *T, meta *game.Meta, out *game.Outcome) *game.ActionResult {
	res := &game.ActionResult{
		Events:          out.Events,
		ShouldBroadcast: out.ShouldBroadcast,
		Terminal:        out.Terminal,
		WinnerRanking:   out.WinnerRanking,
		Awards:          out.Awards,
		Meta:            meta,
	}

	for _, ev := range out.Events {
		if ev.Name != game.EventGameStarted {
			continue
		}
		now := time.Now()
		meta.StartedAt = &now
		if m.hooks.PotBased {
			meta.Pot = meta.EntryFee * int64(len(meta.PlayerSeats))
		}
		for userID, resID := range meta.Reservations {
			res.CommitFees = append(res.CommitFees, game.ReservationRef{
				UserID:        userID,
				ReservationID: resID,
				Fee:           meta.EntryFee,
			})
		}
		meta.Reservations = map[string]string{}
		break
	}
	if out.ShouldBroadcast {
		meta.TurnStartedAt = time.Now()
	}

	res.View = m.engine.View(state, meta)
	res.StateBytes = m.codec.Encode(state)
	return res
}

func (m *Module[T]) View(ctx context.Context, roomID string) (map[string]any, error) {
	state, meta, err := m.store.Load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, game.ErrRoomNotFound
	}
	return m.engine.View(state, meta), nil
}

// ViewMany renders many rooms in one store round trip, for lobby listings.
func (m *Module[T]) ViewMany(ctx context.Context, roomIDs []string) (map[string]map[string]any, error) {
	states, metas, err := m.store.LoadMany(ctx, roomIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]any, len(states))
	for id, st := range states {
		view := m.engine.View(st, metas[id])
		view["roomId"] = id
		view["players"] = len(metas[id].PlayerSeats)
		view["maxPlayers"] = metas[id].MaxPlayers
		view["entryFee"] = metas[id].EntryFee
		view["isPublic"] = metas[id].IsPublic
		out[id] = view
	}
	return out, nil
}

func (m *Module[T]) LegalActions(ctx context.Context, roomID, userID string) ([]string, error) {
	state, meta, err := m.store.Load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, game.ErrRoomNotFound
	}
	return m.engine.LegalActions(state, meta, userID), nil
}

func (m *Module[T]) Meta(ctx context.Context, roomID string) (*game.Meta, error) {
	state, meta, err := m.store.Load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, game.ErrRoomNotFound
	}
	return meta, nil
}
