package models

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Ledger entry types.
const (
	TxTypeCredit      = "CREDIT"
	TxTypeDebit       = "DEBIT"
	TxTypeAdminAdjust = "ADMIN_ADJUST"
)

// Outbox event types.
const (
	EventPlayerUpdated = "PlayerUpdated"
	EventGameEnded     = "GameEnded"
)

// WalletAccount is a user's coin balance. Accounts are created lazily on the
// first transaction that references them.
type WalletAccount struct {
	UserID    string    `db:"user_id" json:"user_id"`
	Coins     int64     `db:"coins" json:"coins"`
	Version   string    `db:"version" json:"version"`
	IsDeleted bool      `db:"is_deleted" json:"is_deleted"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// WalletTransaction is one immutable ledger entry. BalanceAfter always equals
// the previous balance plus Amount.
type WalletTransaction struct {
	ID             int64          `db:"id" json:"id"`
	UserID         string         `db:"user_id" json:"user_id"`
	Amount         int64          `db:"amount" json:"amount"`
	BalanceAfter   int64          `db:"balance_after" json:"balance_after"`
	TxType         string         `db:"tx_type" json:"tx_type"`
	Description    string         `db:"description" json:"description"`
	ReferenceID    sql.NullString `db:"reference_id" json:"reference_id,omitempty"`
	IdempotencyKey sql.NullString `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}

// OutboxMessage is a durable domain event delivered at least once.
type OutboxMessage struct {
	ID          int64           `db:"id" json:"id"`
	EventType   string          `db:"event_type" json:"event_type"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt sql.NullTime    `db:"processed_at" json:"processed_at,omitempty"`
	Attempts    int             `db:"attempts" json:"attempts"`
	LastError   sql.NullString  `db:"last_error" json:"last_error,omitempty"`
}

// ArchivedGame is the immutable record of a finished room.
type ArchivedGame struct {
	ID            int64           `db:"id" json:"id"`
	RoomID        string          `db:"room_id" json:"room_id"`
	GameType      string          `db:"game_type" json:"game_type"`
	FinalState    json.RawMessage `db:"final_state" json:"final_state"`
	PlayerSeats   json.RawMessage `db:"player_seats" json:"player_seats"`
	WinnerUserID  sql.NullString  `db:"winner_user_id" json:"winner_user_id,omitempty"`
	WinnerRanking json.RawMessage `db:"winner_ranking" json:"winner_ranking,omitempty"`
	TotalPot      int64           `db:"total_pot" json:"total_pot"`
	StartedAt     sql.NullTime    `db:"started_at" json:"started_at,omitempty"`
	EndedAt       time.Time       `db:"ended_at" json:"ended_at"`
}

// GlobalSetting is a runtime configuration override stored in the DB.
type GlobalSetting struct {
	Key         string         `db:"key" json:"key"`
	Value       string         `db:"value" json:"value"`
	Description sql.NullString `db:"description" json:"description,omitempty"`
}

// RoomTemplate defines the shape of rooms players can create.
type RoomTemplate struct {
	ID         int             `db:"id" json:"id"`
	Name       string          `db:"name" json:"name"`
	GameType   string          `db:"game_type" json:"game_type"`
	MaxPlayers int             `db:"max_players" json:"max_players"`
	EntryFee   int64           `db:"entry_fee" json:"entry_fee"`
	Config     json.RawMessage `db:"config" json:"config,omitempty"`
	IsPublic   bool            `db:"is_public" json:"is_public"`
}

// ConfigMap decodes the template's config blob into a string map.
func (t *RoomTemplate) ConfigMap() map[string]string {
	out := map[string]string{}
	if len(t.Config) > 0 {
		_ = json.Unmarshal(t.Config, &out)
	}
	return out
}

// RoomSnapshot is a coarse durable copy of a live room, used only for
// recovery, never as a primary read path.
type RoomSnapshot struct {
	RoomID   string          `db:"room_id" json:"room_id"`
	GameType string          `db:"game_type" json:"game_type"`
	State    []byte          `db:"state" json:"-"`
	Meta     json.RawMessage `db:"meta" json:"meta"`
	SavedAt  time.Time       `db:"saved_at" json:"saved_at"`
}

// AdminUser is an operator account for the admin API.
type AdminUser struct {
	ID           int       `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         string    `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// AdminAuditEntry records one admin action.
type AdminAuditEntry struct {
	ID        int64           `db:"id" json:"id"`
	AdminID   int             `db:"admin_id" json:"admin_id"`
	Action    string          `db:"action" json:"action"`
	Details   json.RawMessage `db:"details" json:"details,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// PlayerUpdatedPayload is the body of a PlayerUpdated outbox message and of
// the player_updates pub/sub channel.
type PlayerUpdatedPayload struct {
	UserID     string `json:"userId"`
	NewCoins   int64  `json:"newCoins"`
	Username   string `json:"username,omitempty"`
	ChangeType string `json:"changeType"` // Updated | Deleted
}

// GameEndedPayload is the body of a GameEnded outbox message. FinalState is
// the codec byte image, base64 in JSON. Awards carries explicit user credits
// for house-banked games; pot games use Ranking against TotalPot instead.
type GameEndedPayload struct {
	RoomID       string           `json:"roomId"`
	GameType     string           `json:"gameType"`
	FinalState   []byte           `json:"finalState"`
	FinalView    map[string]any   `json:"finalView,omitempty"`
	PlayerSeats  map[string]int   `json:"playerSeats"`
	WinnerUserID string           `json:"winnerUserId,omitempty"`
	Ranking      []int            `json:"ranking,omitempty"`
	Awards       map[string]int64 `json:"awards,omitempty"`
	TotalPot     int64            `json:"totalPot"`
	StartedAt    *time.Time       `json:"startedAt,omitempty"`
	EndedAt      time.Time        `json:"endedAt"`
}
