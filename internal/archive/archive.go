package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"

	"github.com/jmoiron/sqlx"

	"github.com/playrooms/backend/internal/economy"
	"github.com/playrooms/backend/internal/game"
	"github.com/playrooms/backend/internal/gamestate"
	"github.com/playrooms/backend/internal/models"
)

// Service turns GameEnded events into permanent records: an archived_games
// row, settled winnings and removal of the live room. Every step is keyed,
// so the outbox may deliver the same event more than once.
type Service struct {
	db   *sqlx.DB
	econ *economy.Service
}

func NewService(db *sqlx.DB, econ *economy.Service) *Service {
	return &Service{db: db, econ: econ}
}

// finalStateDoc is what lands in the final_state column: the codec byte
// image beside the last player-facing view, so history stays queryable
// without a decoder.
type finalStateDoc struct {
	Bytes []byte         `json:"bytes,omitempty"`
	View  map[string]any `json:"view,omitempty"`
}

// ArchiveGame records the finished room, pays the winners and deletes the
// live copy. Settlement runs even when the archive row already exists: a
// redelivery may be the retry of a crash between insert and payout, and the
// win keys make paying twice impossible.
func (s *Service) ArchiveGame(ctx context.Context, p models.GameEndedPayload) error {
	if p.RoomID == "" {
		return fmt.Errorf("archive: payload missing roomId")
	}
	if err := s.insertRecord(ctx, p); err != nil {
		return err
	}
	if err := s.settle(ctx, p); err != nil {
		return err
	}
	if err := s.deleteLiveRoom(ctx, p); err != nil {
		return err
	}
	log.Printf("[ARCHIVE] ✓ Room %s (%s) archived: pot=%d winner=%q", p.RoomID, p.GameType, p.TotalPot, p.WinnerUserID)
	return nil
}

func (s *Service) insertRecord(ctx context.Context, p models.GameEndedPayload) error {
	finalState, err := json.Marshal(finalStateDoc{Bytes: p.FinalState, View: p.FinalView})
	if err != nil {
		return fmt.Errorf("archive %s: marshal final state: %w", p.RoomID, err)
	}
	seats, err := json.Marshal(p.PlayerSeats)
	if err != nil {
		return fmt.Errorf("archive %s: marshal seats: %w", p.RoomID, err)
	}
	var ranking []byte
	if len(p.Ranking) > 0 {
		if ranking, err = json.Marshal(p.Ranking); err != nil {
			return fmt.Errorf("archive %s: marshal ranking: %w", p.RoomID, err)
		}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO archived_games
			(room_id, game_type, final_state, player_seats, winner_user_id, winner_ranking, total_pot, started_at, ended_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9)
		ON CONFLICT (room_id) DO NOTHING`,
		p.RoomID, p.GameType, finalState, seats, p.WinnerUserID, ranking, p.TotalPot, p.StartedAt, p.EndedAt)
	if err != nil {
		return fmt.Errorf("archive %s: insert: %w", p.RoomID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		log.Printf("[ARCHIVE] Room %s already archived, re-running settlement only", p.RoomID)
	}
	return nil
}

func (s *Service) settle(ctx context.Context, p models.GameEndedPayload) error {
	switch {
	case p.TotalPot > 0:
		return s.econ.ProcessGamePayouts(ctx, p.RoomID, p.TotalPot, p.PlayerSeats, p.WinnerUserID, p.Ranking)
	case len(p.Awards) > 0:
		return s.creditAwards(ctx, p)
	default:
		return nil
	}
}

// creditAwards pays house-banked winnings. The keys share the win: space
// with pot payouts, so a room settles each user exactly once either way.
func (s *Service) creditAwards(ctx context.Context, p models.GameEndedPayload) error {
	userIDs := make([]string, 0, len(p.Awards))
	for uid := range p.Awards {
		userIDs = append(userIDs, uid)
	}
	sort.Strings(userIDs)

	var firstErr error
	for _, uid := range userIDs {
		amount := p.Awards[uid]
		if amount <= 0 {
			continue
		}
		out, err := s.econ.ProcessTransaction(ctx, uid, amount,
			"Game winnings",
			fmt.Sprintf("ROOM:%s:WIN", p.RoomID),
			fmt.Sprintf("win:%s:%s", p.RoomID, uid))
		if err != nil {
			log.Printf("[ARCHIVE] Award to %s for room %s failed: %v", uid, p.RoomID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if out.Code != economy.Ok && out.Code != economy.Duplicate {
			log.Printf("[ARCHIVE] Award to %s for room %s rejected: %s", uid, p.RoomID, out.Code)
		}
	}
	if firstErr != nil {
		return fmt.Errorf("awards for room %s: %w", p.RoomID, firstErr)
	}
	return nil
}

// deleteLiveRoom clears the ephemeral copy and its recovery snapshot once
// the record and the money are durable.
func (s *Service) deleteLiveRoom(ctx context.Context, p models.GameEndedPayload) error {
	rt, ok := game.Get(p.GameType)
	if !ok {
		// Not registered on this instance; nothing local to clear.
		log.Printf("[ARCHIVE] No module %q registered, skipping live-room delete for %s", p.GameType, p.RoomID)
		return nil
	}
	if err := rt.DeleteRoom(ctx, p.RoomID); err != nil {
		return fmt.Errorf("archive %s: delete live room: %w", p.RoomID, err)
	}
	gamestate.DeleteSnapshot(ctx, s.db, p.RoomID)
	return nil
}

// Recent lists archived games newest first, optionally filtered by game
// type. Backs the admin history endpoint.
func (s *Service) Recent(ctx context.Context, gameType string, limit int) ([]models.ArchivedGame, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []models.ArchivedGame
	var err error
	if gameType != "" {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT id, room_id, game_type, final_state, player_seats, winner_user_id, winner_ranking, total_pot, started_at, ended_at
			FROM archived_games
			WHERE game_type = $1
			ORDER BY ended_at DESC, id DESC
			LIMIT $2`, gameType, limit)
	} else {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT id, room_id, game_type, final_state, player_seats, winner_user_id, winner_ranking, total_pot, started_at, ended_at
			FROM archived_games
			ORDER BY ended_at DESC, id DESC
			LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	return rows, nil
}
