package game

import (
	"strconv"
	"time"
)

// Meta is the room metadata stored beside the game state image. It is the
// concrete form of the Room entity: immutable identity fields plus the
// mutable seat map and turn clock.
type Meta struct {
	RoomID        string            `json:"roomId"`
	GameType      string            `json:"gameType"`
	MaxPlayers    int               `json:"maxPlayers"`
	EntryFee      int64             `json:"entryFee"`
	Config        map[string]string `json:"config,omitempty"`
	IsPublic      bool              `json:"isPublic"`
	PlayerSeats   map[string]int    `json:"playerSeats"`
	PlayerNames   map[string]string `json:"playerNames,omitempty"`
	Reservations  map[string]string `json:"reservations,omitempty"`
	Pot           int64             `json:"pot"`
	CreatedAt     time.Time         `json:"createdAt"`
	StartedAt     *time.Time        `json:"startedAt,omitempty"`
	TurnStartedAt time.Time         `json:"turnStartedAt"`
}

// SeatOf returns the seat index of userID, if seated.
func (m *Meta) SeatOf(userID string) (int, bool) {
	seat, ok := m.PlayerSeats[userID]
	return seat, ok
}

// UserAtSeat returns the userID occupying seat, or "".
func (m *Meta) UserAtSeat(seat int) string {
	for uid, s := range m.PlayerSeats {
		if s == seat {
			return uid
		}
	}
	return ""
}

// SeatTaken reports whether seat is occupied.
func (m *Meta) SeatTaken(seat int) bool {
	return m.UserAtSeat(seat) != ""
}

// Started reports whether the game has begun.
func (m *Meta) Started() bool {
	return m.StartedAt != nil
}

// ConfigInt reads an integer room-config value with a default.
func (m *Meta) ConfigInt(key string, def int) int {
	if v, ok := m.Config[key]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// TurnTimeoutSeconds is how long the current player may sit on a turn before
// the scheduler auto-plays for them.
func (m *Meta) TurnTimeoutSeconds() int {
	return m.ConfigInt("turnTimeoutSeconds", 30)
}

// MinPlayers is the smallest seat count at which the game may be started.
func (m *Meta) MinPlayers() int {
	return m.ConfigInt("minPlayers", 2)
}
