package economy

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"

	"github.com/google/uuid"
)

// Reserve tentatively debits the entry fee ahead of seating the user. The
// debit is keyed by a fresh reservation id so a retried reserve cannot
// double-charge.
func (s *Service) Reserve(ctx context.Context, userID string, fee int64, roomID string) (*Reservation, TxResult, error) {
	res := &Reservation{
		ReservationID: uuid.NewString(),
		UserID:        userID,
		RoomID:        roomID,
		Fee:           fee,
	}
	if fee <= 0 {
		return res, TxResult{Code: Ok}, nil
	}
	out, err := s.ProcessTransaction(ctx, userID, -fee,
		"Entry fee reserve",
		fmt.Sprintf("ROOM:%s:ENTRY_RESERVE", roomID),
		res.ReservationID)
	return res, out, err
}

// Commit finalizes a reservation once the game has started: the matching
// ledger row is relabeled as the entry itself. No balance change.
func (s *Service) Commit(ctx context.Context, res *Reservation) error {
	if res == nil || res.Fee <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE wallet_transactions
		SET description = 'Entry fee', reference_id = $1
		WHERE idempotency_key = $2`,
		fmt.Sprintf("ROOM:%s:ENTRY", res.RoomID), res.ReservationID)
	if err != nil {
		return fmt.Errorf("commit reservation %s: %w", res.ReservationID, err)
	}
	return nil
}

// Refund compensates a reservation with a credit keyed by the reservation
// id, so refunding twice yields exactly one credit row.
func (s *Service) Refund(ctx context.Context, res *Reservation) (TxResult, error) {
	if res == nil || res.Fee <= 0 {
		return TxResult{Code: Ok}, nil
	}
	return s.ProcessTransaction(ctx, res.UserID, res.Fee,
		"Entry fee refund",
		fmt.Sprintf("ROOM:%s:ENTRY_REFUND", res.RoomID),
		"refund:"+res.ReservationID)
}

// PayoutShares splits a prize pool across n ranked positions. For one to
// four finishers the fixed percentage tables apply; longer rankings pay the
// first ceil(n/2) positions by normalized harmonic weights. Shares round
// down; any remainder stays with the house.
func PayoutShares(prize int64, n int) []int64 {
	if n <= 0 || prize <= 0 {
		return nil
	}
	if pcts, ok := payoutPercents[n]; ok {
		out := make([]int64, n)
		for i, p := range pcts {
			out[i] = prize * p / 100
		}
		return out
	}

	paid := int(math.Ceil(float64(n) / 2))
	weights := make([]float64, paid)
	var sum float64
	for i := range weights {
		weights[i] = 1 / float64(i+1)
		sum += weights[i]
	}
	out := make([]int64, n)
	for i := 0; i < paid; i++ {
		out[i] = int64(float64(prize) * weights[i] / sum)
	}
	return out
}

// Rake returns the house cut withheld from a pot.
func (s *Service) Rake(totalPot int64) int64 {
	return totalPot * int64(s.cfg.RakePercent) / 100
}

// ProcessGamePayouts distributes a finished room's pot. A 3% rake is
// withheld; the rest goes to the ranking when present, to the single winner
// when known, or evenly back to the seated players (refund semantics).
// Every credit is keyed "win:{roomId}:{userId}" so redelivery of the
// GameEnded event cannot double-pay.
func (s *Service) ProcessGamePayouts(ctx context.Context, roomID string, totalPot int64, seats map[string]int, winnerUserID string, ranking []int) error {
	if totalPot <= 0 || len(seats) == 0 {
		return nil
	}
	rake := s.Rake(totalPot)
	prize := totalPot - rake

	credits := map[string]int64{}

	switch {
	case len(ranking) > 0:
		users := usersByRanking(seats, ranking)
		shares := PayoutShares(prize, len(users))
		for i, uid := range users {
			if shares[i] > 0 {
				credits[uid] = shares[i]
			}
		}
	case winnerUserID != "":
		credits[winnerUserID] = prize
	default:
		each := prize / int64(len(seats))
		if each > 0 {
			for uid := range seats {
				credits[uid] = each
			}
		}
	}

	// Stable order keeps logs and retries readable.
	userIDs := make([]string, 0, len(credits))
	for uid := range credits {
		userIDs = append(userIDs, uid)
	}
	sort.Strings(userIDs)

	var firstErr error
	for _, uid := range userIDs {
		out, err := s.ProcessTransaction(ctx, uid, credits[uid],
			"Game winnings",
			fmt.Sprintf("ROOM:%s:WIN", roomID),
			fmt.Sprintf("win:%s:%s", roomID, uid))
		if err != nil {
			log.Printf("[ECON] Payout to %s for room %s failed: %v", uid, roomID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if out.Code != Ok && out.Code != Duplicate {
			log.Printf("[ECON] Payout to %s for room %s rejected: %s", uid, roomID, out.Code)
		}
	}
	if firstErr != nil {
		return fmt.Errorf("payouts for room %s: %w", roomID, firstErr)
	}
	log.Printf("[ECON] ✓ Payouts done for room %s: pot=%d rake=%d paid=%d player(s)", roomID, totalPot, rake, len(credits))
	return nil
}

// usersByRanking maps ranked seat indices back to user ids, skipping seats
// nobody occupies (a forfeited seat may appear in neither).
func usersByRanking(seats map[string]int, ranking []int) []string {
	bySeat := make(map[int]string, len(seats))
	for uid, seat := range seats {
		bySeat[seat] = uid
	}
	out := make([]string, 0, len(ranking))
	for _, seat := range ranking {
		if uid, ok := bySeat[seat]; ok {
			out = append(out, uid)
		}
	}
	return out
}
