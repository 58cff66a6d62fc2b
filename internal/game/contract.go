package game

import (
	"context"
	"errors"
	"time"

	"github.com/playrooms/backend/internal/models"
)

// Kind tags a module's capability set. TurnBased modules participate in the
// turn-timeout scheduler; Instant modules do not.
type Kind int

const (
	TurnBased Kind = iota
	Instant
)

// Actions understood by every turn-based module.
const (
	ActionStart   = "start"
	ActionForfeit = "forfeit"
)

// Event names shared across engines. Game-specific names live in the engine
// packages.
const (
	EventGameStarted = "GameStarted"
	EventTurnChanged = "TurnChanged"
	EventTurnTimeout = "TurnTimeout"
	EventGameEnded   = "GameEnded"
)

var (
	ErrUnknownGame    = errors.New("unknown game type")
	ErrRoomNotFound   = errors.New("room not found")
	ErrRoomFull       = errors.New("room is full")
	ErrAlreadyStarted = errors.New("game already started")
	ErrNotSeated      = errors.New("user is not seated in this room")
	ErrNotYourTurn    = errors.New("not your turn")
	ErrGameOver       = errors.New("game is over")
	ErrGameNotActive  = errors.New("game has not started")
	ErrInvalidAction  = errors.New("invalid action")
)

// Command is a single player (or privileged system) action routed to an
// engine. Privileged commands bypass seat ownership checks; the scheduler and
// the dispatcher's auto-start path use them.
type Command struct {
	UserID     string
	Seat       int
	Action     string
	Payload    map[string]any
	Privileged bool
}

// PayloadInt reads an integer payload field, tolerating the float64 values
// produced by JSON decoding.
func (c Command) PayloadInt(key string) (int, bool) {
	v, ok := c.Payload[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}

// Event is one domain event emitted by an engine and broadcast to the room.
type Event struct {
	Name string         `json:"name"`
	Data map[string]any `json:"data,omitempty"`
}

// Outcome is an engine's answer to a single command. Engines never perform
// I/O; the caller persists the mutated state only when the call succeeds.
// Awards carries explicit seat credits for house-banked games whose payout
// is not a pot split (a LuckyMine cashout); pot games leave it nil.
type Outcome struct {
	Events          []Event
	ShouldBroadcast bool
	Terminal        bool
	WinnerRanking   []int
	Awards          map[int]int64
}

// Engine is the pure per-game state machine. A call mutates the passed state
// in place and reports what happened; all staging (load, lock, save,
// broadcast) is the dispatcher's job.
type Engine[T any] interface {
	// Execute validates and applies one command.
	Execute(s *T, meta *Meta, cmd Command) (*Outcome, error)
	// CheckTimeouts advances the game on behalf of a stale current player.
	// Returns nil when nothing is due.
	CheckTimeouts(s *T, meta *Meta, now time.Time) (*Outcome, error)
	// LegalActions lists the actions the given user may take right now.
	LegalActions(s *T, meta *Meta, userID string) []string
	// View renders the state for clients.
	View(s *T, meta *Meta) map[string]any
}

// Codec serializes a fixed-size game state. Encode/Decode must round-trip
// exactly; Decode rejects images of the wrong length.
type Codec[T any] interface {
	Size() int
	Encode(s *T) []byte
	Decode(b []byte) (*T, error)
}

// ReservationRef names an entry-fee reservation handed back to the
// dispatcher for committing once the game starts.
type ReservationRef struct {
	UserID        string
	ReservationID string
	Fee           int64
}

// ActionResult is what a module returns to the dispatcher after a persisted
// engine call. CommitFees lists the reservations to finalize when the call
// started the game.
type ActionResult struct {
	Events          []Event
	ShouldBroadcast bool
	Terminal        bool
	WinnerRanking   []int
	Awards          map[int]int64
	CommitFees      []ReservationRef
	View            map[string]any
	StateBytes      []byte
	Meta            *Meta
}

// LeaveResult reports a completed seat release. ReservationID is the still
// uncommitted entry-fee reservation to refund, empty when the fee was
// already committed or none was taken.
type LeaveResult struct {
	Seat          int
	ReservationID string
	Meta          *Meta
}

// Runtime is the type-erased face of one registered game module: room
// lifecycle plus engine invocation over stored state. Implementations are
// provided by internal/rooms.
type Runtime interface {
	GameType() string
	Kind() Kind

	CreateRoom(ctx context.Context, tpl *models.RoomTemplate, roomID string) (*Meta, error)
	Join(ctx context.Context, roomID, userID, userName, reservationID string) (int, *Meta, error)
	Leave(ctx context.Context, roomID, userID string) (*LeaveResult, error)
	DeleteRoom(ctx context.Context, roomID string) error

	Execute(ctx context.Context, roomID string, cmd Command) (*ActionResult, error)
	CheckTimeouts(ctx context.Context, roomID string, now time.Time) (*ActionResult, error)
	View(ctx context.Context, roomID string) (map[string]any, error)
	ViewMany(ctx context.Context, roomIDs []string) (map[string]map[string]any, error)
	LegalActions(ctx context.Context, roomID, userID string) ([]string, error)
	Meta(ctx context.Context, roomID string) (*Meta, error)
}
