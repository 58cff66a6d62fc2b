package luckymine

import (
	"fmt"
	"time"

	"github.com/playrooms/backend/internal/game"
)

// GameType is the registry key for this module.
const GameType = "luckymine"

// Player actions beyond the shared start/forfeit pair.
const (
	ActionReveal  = "reveal"
	ActionCashout = "cashout"
)

// Events emitted by this engine.
const (
	EventRevealed        = "Revealed"
	EventHitMine         = "HitMine"
	EventCashedOut       = "CashedOut"
	EventPlayerForfeited = "PlayerForfeited"
)

// Engine is the LuckyMine state machine. The board is fixed at room
// creation, so the engine itself holds no randomness. The game is
// house-banked: cashing out awards the accrued winnings to the caller, a
// mine hit pays nothing.
type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

func (e *Engine) Execute(s *State, meta *game.Meta, cmd game.Command) (*game.Outcome, error) {
	switch cmd.Action {
	case game.ActionStart:
		return e.start(s, meta, cmd)
	case ActionReveal:
		return e.revealTile(s, cmd)
	case ActionCashout:
		return e.cashout(s, cmd)
	case game.ActionForfeit:
		return e.forfeit(s, cmd)
	default:
		return nil, fmt.Errorf("%w: %q", game.ErrInvalidAction, cmd.Action)
	}
}

func (e *Engine) start(s *State, meta *game.Meta, cmd game.Command) (*game.Outcome, error) {
	if s.Started() {
		return nil, fmt.Errorf("%w: game already started", game.ErrInvalidAction)
	}
	if len(meta.PlayerSeats) < 1 {
		return nil, fmt.Errorf("%w: nobody is seated", game.ErrInvalidAction)
	}
	if !cmd.Privileged && len(meta.PlayerSeats) < meta.MinPlayers() {
		return nil, fmt.Errorf("%w: waiting for %d players", game.ErrInvalidAction, meta.MinPlayers())
	}

	var mask uint8
	first := MaxSeats
	for _, seat := range meta.PlayerSeats {
		mask |= 1 << seat
		if seat < first {
			first = seat
		}
	}
	s.ActiveSeatsMask = mask
	s.CurrentPlayer = uint8(first)
	s.TurnID = 1

	seats := make([]int, 0, MaxSeats)
	for seat := 0; seat < MaxSeats; seat++ {
		if s.SeatActive(seat) {
			seats = append(seats, seat)
		}
	}
	out := &game.Outcome{ShouldBroadcast: true}
	out.Events = append(out.Events,
		game.Event{Name: game.EventGameStarted, Data: map[string]any{
			"activeSeats": seats,
			"firstPlayer": first,
			"totalTiles":  int(s.TotalTiles),
			"totalMines":  int(s.TotalMines),
		}},
		turnChanged(first))
	return out, nil
}

func (e *Engine) revealTile(s *State, cmd game.Command) (*game.Outcome, error) {
	if err := guardTurn(s, cmd); err != nil {
		return nil, err
	}
	tile, ok := cmd.PayloadInt("tileIndex")
	if !ok || tile < 0 || tile >= int(s.TotalTiles) {
		return nil, fmt.Errorf("%w: tileIndex out of range", game.ErrInvalidAction)
	}
	if s.isRevealed(tile) {
		// Revealing a revealed tile is an ignored no-op, not an error.
		return &game.Outcome{}, nil
	}

	out := &game.Outcome{ShouldBroadcast: true}
	e.applyReveal(s, int(s.CurrentPlayer), tile, false, out)
	return out, nil
}

func (e *Engine) cashout(s *State, cmd game.Command) (*game.Outcome, error) {
	if err := guardTurn(s, cmd); err != nil {
		return nil, err
	}
	seat := int(s.CurrentPlayer)
	s.Status = StatusGameOver

	// Caller first, then the other active seats in seat order.
	s.appendWinner(seat)
	for st := 0; st < MaxSeats; st++ {
		if st != seat && s.SeatActive(st) {
			s.appendWinner(st)
		}
	}
	ranking := s.Ranking()

	out := &game.Outcome{ShouldBroadcast: true, Terminal: true, WinnerRanking: ranking}
	if s.Winnings > 0 {
		out.Awards = map[int]int64{seat: int64(s.Winnings)}
	}
	out.Events = append(out.Events,
		game.Event{Name: EventCashedOut, Data: map[string]any{
			"player": seat, "amount": s.Winnings,
		}},
		game.Event{Name: game.EventGameEnded, Data: map[string]any{"ranking": ranking}})
	return out, nil
}

func (e *Engine) forfeit(s *State, cmd game.Command) (*game.Outcome, error) {
	if !s.Started() {
		return nil, game.ErrGameNotActive
	}
	if s.Over() {
		return nil, game.ErrGameOver
	}
	seat := cmd.Seat
	if seat < 0 || seat >= MaxSeats || !s.SeatActive(seat) {
		return nil, fmt.Errorf("%w: seat %d cannot forfeit", game.ErrInvalidAction, seat)
	}

	s.ActiveSeatsMask &^= 1 << seat
	out := &game.Outcome{ShouldBroadcast: true}
	out.Events = append(out.Events, game.Event{Name: EventPlayerForfeited, Data: map[string]any{"player": seat}})

	if s.ActiveSeatsMask == 0 {
		// Everybody walked away; accrued winnings are lost.
		s.Status = StatusGameOver
		out.Terminal = true
		out.WinnerRanking = s.Ranking()
		out.Events = append(out.Events, game.Event{Name: game.EventGameEnded, Data: map[string]any{"ranking": out.WinnerRanking}})
		return out, nil
	}
	if int(s.CurrentPlayer) == seat {
		out.Events = append(out.Events, turnChanged(s.advanceTurn()))
	}
	return out, nil
}

// CheckTimeouts reveals the lowest-indexed unrevealed tile on behalf of the
// stale current player, mine or not.
func (e *Engine) CheckTimeouts(s *State, meta *game.Meta, now time.Time) (*game.Outcome, error) {
	if !s.Started() || s.Over() {
		return nil, nil
	}
	timeout := time.Duration(meta.TurnTimeoutSeconds()) * time.Second
	if now.Sub(meta.TurnStartedAt) < timeout {
		return nil, nil
	}

	seat := int(s.CurrentPlayer)
	out := &game.Outcome{ShouldBroadcast: true}
	out.Events = append(out.Events, game.Event{Name: game.EventTurnTimeout, Data: map[string]any{"player": seat}})

	tile := s.lowestUnrevealed()
	if tile < 0 {
		out.Events = append(out.Events, turnChanged(s.advanceTurn()))
		return out, nil
	}
	e.applyReveal(s, seat, tile, true, out)
	return out, nil
}

func (e *Engine) LegalActions(s *State, meta *game.Meta, userID string) []string {
	seat, seated := meta.SeatOf(userID)
	if !seated {
		return nil
	}
	if !s.Started() {
		if len(meta.PlayerSeats) >= meta.MinPlayers() {
			return []string{game.ActionStart}
		}
		return nil
	}
	if s.Over() {
		return nil
	}
	var actions []string
	if s.SeatActive(seat) {
		if seat == int(s.CurrentPlayer) {
			actions = append(actions, ActionReveal, ActionCashout)
		}
		actions = append(actions, game.ActionForfeit)
	}
	return actions
}

// View renders the board for clients. Unrevealed mine positions stay secret
// until the game is over.
func (e *Engine) View(s *State, meta *game.Meta) map[string]any {
	revealed := make([]int, 0, s.TotalTiles)
	mines := make([]int, 0, s.TotalMines)
	for tile := 0; tile < int(s.TotalTiles); tile++ {
		if s.isRevealed(tile) {
			revealed = append(revealed, tile)
		}
		if s.isMine(tile) && (s.Over() || s.isRevealed(tile)) {
			mines = append(mines, tile)
		}
	}
	deadSeats := make([]int, 0, MaxSeats)
	for seat := 0; seat < MaxSeats; seat++ {
		if s.DeadMask&(1<<seat) != 0 {
			deadSeats = append(deadSeats, seat)
		}
	}
	return map[string]any{
		"gameType":        GameType,
		"totalTiles":      int(s.TotalTiles),
		"totalMines":      int(s.TotalMines),
		"revealedTiles":   revealed,
		"mines":           mines,
		"safeRevealed":    s.SafeRevealedCount(),
		"winnings":        s.Winnings,
		"entryCost":       s.EntryCost,
		"rewardSlope":     s.RewardSlope,
		"currentPlayer":   int(s.CurrentPlayer),
		"status":          int(s.Status),
		"deadSeats":       deadSeats,
		"activeSeatsMask": int(s.ActiveSeatsMask),
		"turnId":          s.TurnID,
		"started":         s.Started(),
		"gameOver":        s.Over(),
		"winnerRanking":   s.Ranking(),
	}
}

func (e *Engine) applyReveal(s *State, seat, tile int, auto bool, out *game.Outcome) {
	s.reveal(tile)

	if s.isMine(tile) {
		s.DeadMask |= 1 << seat
		if s.revealedMineCount() == int(s.TotalMines) {
			s.Status = StatusAllMinesHit
		} else {
			s.Status = StatusGameOver
		}
		data := map[string]any{"player": seat, "tileIndex": tile}
		if auto {
			data["autoPlay"] = true
		}
		out.Events = append(out.Events, game.Event{Name: EventHitMine, Data: data})

		// Survivors in seat order, the dead seat last.
		for st := 0; st < MaxSeats; st++ {
			if st != seat && s.SeatActive(st) {
				s.appendWinner(st)
			}
		}
		s.appendWinner(seat)
		ranking := s.Ranking()
		out.Terminal = true
		out.WinnerRanking = ranking
		out.Events = append(out.Events, game.Event{Name: game.EventGameEnded, Data: map[string]any{"ranking": ranking}})
		return
	}

	s.Winnings = uint64(s.RewardSlope) * uint64(s.SafeRevealedCount())
	data := map[string]any{
		"player": seat, "tileIndex": tile,
		"safeRevealed": s.SafeRevealedCount(), "winnings": s.Winnings,
	}
	if auto {
		data["autoPlay"] = true
	}
	out.Events = append(out.Events, game.Event{Name: EventRevealed, Data: data})
	out.Events = append(out.Events, turnChanged(s.advanceTurn()))
}

func guardTurn(s *State, cmd game.Command) error {
	if !s.Started() {
		return game.ErrGameNotActive
	}
	if s.Over() {
		return game.ErrGameOver
	}
	if cmd.Seat != int(s.CurrentPlayer) && !cmd.Privileged {
		return game.ErrNotYourTurn
	}
	return nil
}

func turnChanged(newPlayer int) game.Event {
	return game.Event{Name: game.EventTurnChanged, Data: map[string]any{"newPlayer": newPlayer}}
}
