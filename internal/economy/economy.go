package economy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/playrooms/backend/internal/config"
	"github.com/playrooms/backend/internal/models"
)

// ChannelPlayerUpdates is the pub/sub channel carrying wallet deltas.
const ChannelPlayerUpdates = "player_updates"

// ResultCode tags every wallet outcome so callers branch on the case instead
// of parsing errors.
type ResultCode int

const (
	Ok ResultCode = iota
	Invalid
	InsufficientFunds
	Duplicate
	Concurrency
	Unknown
)

func (c ResultCode) String() string {
	switch c {
	case Ok:
		return "Ok"
	case Invalid:
		return "Invalid"
	case InsufficientFunds:
		return "InsufficientFunds"
	case Duplicate:
		return "DuplicateTransaction"
	case Concurrency:
		return "ConcurrencyConflict"
	default:
		return "Unknown"
	}
}

// TxResult is the outcome of one wallet mutation. For Duplicate it carries
// the previously recorded balance.
type TxResult struct {
	Code         ResultCode
	BalanceAfter int64
	TxID         int64
}

// Reservation is the handle for a tentatively debited entry fee.
type Reservation struct {
	ReservationID string `json:"reservationId"`
	UserID        string `json:"userId"`
	RoomID        string `json:"roomId"`
	Fee           int64  `json:"fee"`
}

// Ranked payout percentages by ranking size. Rankings longer than four fall
// back to harmonic shares.
var payoutPercents = map[int][]int64{
	1: {100},
	2: {70, 30},
	3: {50, 30, 20},
	4: {40, 30, 20, 10},
}

const maxTxAttempts = 3

// Service owns all wallet mutations. Every mutation runs in a row-locked DB
// transaction, appends exactly one ledger entry, rotates the account version
// and stages a PlayerUpdated outbox row in the same transaction.
type Service struct {
	db  *sqlx.DB
	rdb *redis.Client
	cfg *config.Config
}

func NewService(db *sqlx.DB, rdb *redis.Client, cfg *config.Config) *Service {
	return &Service{db: db, rdb: rdb, cfg: cfg}
}

// ProcessTransaction applies amount (positive credit, negative debit) to the
// user's wallet. Accounts are created lazily, seeded from the
// Economy:InitialCoins setting. An idempotencyKey makes the call
// at-most-once: a repeat returns Duplicate with the original balance.
func (s *Service) ProcessTransaction(ctx context.Context, userID string, amount int64, description, referenceID, idempotencyKey string) (TxResult, error) {
	return s.processTransaction(ctx, userID, amount, txTypeFor(amount), description, referenceID, idempotencyKey)
}

// ProcessAdminAdjust is ProcessTransaction with the ADMIN_ADJUST ledger type
// for operator corrections.
func (s *Service) ProcessAdminAdjust(ctx context.Context, userID string, amount int64, description, referenceID, idempotencyKey string) (TxResult, error) {
	return s.processTransaction(ctx, userID, amount, models.TxTypeAdminAdjust, description, referenceID, idempotencyKey)
}

func txTypeFor(amount int64) string {
	if amount < 0 {
		return models.TxTypeDebit
	}
	return models.TxTypeCredit
}

func (s *Service) processTransaction(ctx context.Context, userID string, amount int64, txType, description, referenceID, idempotencyKey string) (TxResult, error) {
	if amount == 0 {
		return TxResult{Code: Invalid}, nil
	}

	// Fast path: a matching idempotency key means this already happened.
	if idempotencyKey != "" {
		if res, found := s.findByIdempotencyKey(ctx, idempotencyKey); found {
			return res, nil
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		res, err := s.runTransaction(ctx, userID, amount, txType, description, referenceID, idempotencyKey)
		if err == nil {
			return res, nil
		}
		if isDuplicateKeyConflict(err) {
			// Lost the race on the idempotency key; the other writer's row is
			// the answer.
			if res, found := s.findByIdempotencyKey(ctx, idempotencyKey); found {
				return res, nil
			}
			return TxResult{Code: Duplicate}, nil
		}
		if !isRetryableConflict(err) {
			return TxResult{Code: Unknown}, err
		}
		lastErr = err
		backoff := time.Duration(10+rand.Intn(41)) * time.Millisecond
		log.Printf("[ECON] Concurrency conflict for user %s (attempt %d/%d), retrying in %v", userID, attempt, maxTxAttempts, backoff)
		select {
		case <-ctx.Done():
			return TxResult{Code: Unknown}, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return TxResult{Code: Concurrency}, fmt.Errorf("wallet transaction for %s: retries exhausted: %w", userID, lastErr)
}

func (s *Service) runTransaction(ctx context.Context, userID string, amount int64, txType, description, referenceID, idempotencyKey string) (TxResult, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return TxResult{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var acct struct {
		Coins     int64 `db:"coins"`
		IsDeleted bool  `db:"is_deleted"`
	}
	err = tx.GetContext(ctx, &acct,
		`SELECT coins, is_deleted FROM wallet_accounts WHERE user_id = $1 FOR UPDATE`, userID)

	var newBalance int64
	switch {
	case err == sql.ErrNoRows:
		// Lazy account creation seeded from the runtime setting.
		initial := s.initialCoins(ctx, tx)
		newBalance = initial + amount
		if newBalance < 0 {
			return TxResult{Code: InsufficientFunds, BalanceAfter: initial}, nil
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO wallet_accounts (user_id, coins, version, created_at, updated_at)
			VALUES ($1, $2, $3, NOW(), NOW())`,
			userID, newBalance, uuid.NewString())
		if err != nil {
			return TxResult{}, fmt.Errorf("create account: %w", err)
		}
	case err != nil:
		return TxResult{}, fmt.Errorf("lock account: %w", err)
	default:
		if acct.IsDeleted {
			return TxResult{Code: Invalid}, nil
		}
		newBalance = acct.Coins + amount
		if newBalance < 0 {
			return TxResult{Code: InsufficientFunds, BalanceAfter: acct.Coins}, nil
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE wallet_accounts SET coins = $1, version = $2, updated_at = NOW()
			WHERE user_id = $3`,
			newBalance, uuid.NewString(), userID)
		if err != nil {
			return TxResult{}, fmt.Errorf("update account: %w", err)
		}
	}

	var txID int64
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO wallet_transactions
			(user_id, amount, balance_after, tx_type, description, reference_id, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NOW())
		RETURNING id`,
		userID, amount, newBalance, txType, description, referenceID, idempotencyKey).Scan(&txID)
	if err != nil {
		return TxResult{}, fmt.Errorf("append ledger: %w", err)
	}

	payload, _ := json.Marshal(models.PlayerUpdatedPayload{
		UserID:     userID,
		NewCoins:   newBalance,
		ChangeType: "Updated",
	})
	var outboxID int64
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO outbox_messages (event_type, payload, created_at)
		VALUES ($1, $2, NOW())
		RETURNING id`,
		models.EventPlayerUpdated, payload).Scan(&outboxID)
	if err != nil {
		return TxResult{}, fmt.Errorf("stage outbox: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return TxResult{}, fmt.Errorf("commit: %w", err)
	}

	log.Printf("[ECON] ✓ Wallet tx %d: user=%s amount=%d balance=%d type=%s", txID, userID, amount, newBalance, txType)

	// Best-effort immediate publish; the outbox dispatcher covers failures.
	s.publishProcessed(ctx, outboxID, payload)

	return TxResult{Code: Ok, BalanceAfter: newBalance, TxID: txID}, nil
}

func (s *Service) publishProcessed(ctx context.Context, outboxID int64, payload []byte) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Publish(ctx, ChannelPlayerUpdates, payload).Err(); err != nil {
		log.Printf("[ECON] Immediate publish failed (outbox %d will retry): %v", outboxID, err)
		return
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE outbox_messages SET processed_at = NOW() WHERE id = $1`, outboxID); err != nil {
		log.Printf("[ECON] Mark outbox %d processed failed: %v", outboxID, err)
	}
}

func (s *Service) findByIdempotencyKey(ctx context.Context, key string) (TxResult, bool) {
	if key == "" {
		return TxResult{}, false
	}
	var row struct {
		ID           int64 `db:"id"`
		BalanceAfter int64 `db:"balance_after"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT id, balance_after FROM wallet_transactions WHERE idempotency_key = $1`, key)
	if err != nil {
		return TxResult{}, false
	}
	return TxResult{Code: Duplicate, BalanceAfter: row.BalanceAfter, TxID: row.ID}, true
}

// initialCoins reads the Economy:InitialCoins runtime setting, falling back
// to the config default.
func (s *Service) initialCoins(ctx context.Context, tx *sqlx.Tx) int64 {
	var raw string
	err := tx.GetContext(ctx, &raw,
		`SELECT value FROM global_settings WHERE key = 'Economy:InitialCoins'`)
	if err != nil {
		return s.cfg.InitialCoins
	}
	var n int64
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil || n < 0 {
		return s.cfg.InitialCoins
	}
	return n
}

// Balance returns the user's current coins. Users with no account yet show
// the initial-coins default, matching what their first transaction would
// start from.
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	var coins int64
	err := s.db.GetContext(ctx, &coins,
		`SELECT coins FROM wallet_accounts WHERE user_id = $1 AND NOT is_deleted`, userID)
	if err == sql.ErrNoRows {
		return s.cfg.InitialCoins, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance for %s: %w", userID, err)
	}
	return coins, nil
}

// Transactions lists the user's ledger entries, newest first.
func (s *Service) Transactions(ctx context.Context, userID string, limit int) ([]models.WalletTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []models.WalletTransaction
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, amount, balance_after, tx_type, description, reference_id, idempotency_key, created_at
		FROM wallet_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, limit)
	return rows, err
}

func isRetryableConflict(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case "40001", "40P01": // serialization failure, deadlock
			return true
		case "23505":
			// A lost race creating the same account row retries cleanly.
			return pqErr.Constraint == "wallet_accounts_pkey"
		}
	}
	return false
}

func isDuplicateKeyConflict(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == "23505" && pqErr.Constraint == "idx_wallet_tx_idempotency"
	}
	return false
}
