package ludo

import (
	"fmt"
	"math/bits"
	"math/rand"
	"time"

	"github.com/playrooms/backend/internal/game"
)

// GameType is the registry key for this module.
const GameType = "ludo"

// Player actions beyond the shared start/forfeit pair.
const (
	ActionRoll = "roll"
	ActionMove = "move"
)

// Events emitted by this engine.
const (
	EventDiceRolled      = "DiceRolled"
	EventTokenMoved      = "TokenMoved"
	EventTokenCaptured   = "TokenCaptured"
	EventPlayerFinished  = "PlayerFinished"
	EventPlayerForfeited = "PlayerForfeited"
)

// SeatPreference is the order the room service fills seats in, so a
// 2-player room seats opponents across the board.
var SeatPreference = []int{0, 2, 1, 3}

// Engine is the Ludo state machine. One instance serves every room; the
// dispatcher's room lock serializes calls per room. The dice roller is
// injectable so tests can script rolls.
type Engine struct {
	roll func() int
}

func NewEngine() *Engine {
	return &Engine{roll: func() int { return rand.Intn(6) + 1 }}
}

// NewEngineWithRoller builds an engine with a scripted dice source.
func NewEngineWithRoller(roll func() int) *Engine {
	return &Engine{roll: roll}
}

func (e *Engine) Execute(s *State, meta *game.Meta, cmd game.Command) (*game.Outcome, error) {
	switch cmd.Action {
	case game.ActionStart:
		return e.start(s, meta, cmd)
	case ActionRoll:
		return e.rollDice(s, cmd)
	case ActionMove:
		return e.moveToken(s, cmd)
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
	if len(meta.PlayerSeats) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 players", game.ErrInvalidAction)
	}
	if !cmd.Privileged && len(meta.PlayerSeats) < meta.MinPlayers() {
		return nil, fmt.Errorf("%w: waiting for %d players", game.ErrInvalidAction, meta.MinPlayers())
	}

	var mask uint8
	for _, seat := range meta.PlayerSeats {
		mask |= 1 << seat
	}
	s.ActiveSeatsMask = mask
	s.CurrentPlayer = uint8(bits.TrailingZeros8(mask))
	s.TurnID = 1
	s.LastDiceRoll = 0
	s.ConsecutiveSixes = 0

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
			"firstPlayer": int(s.CurrentPlayer),
		}},
		turnChanged(int(s.CurrentPlayer)))
	return out, nil
}

func (e *Engine) rollDice(s *State, cmd game.Command) (*game.Outcome, error) {
	if err := guardTurn(s, cmd); err != nil {
		return nil, err
	}
	if s.LastDiceRoll != 0 {
		return nil, fmt.Errorf("%w: a move is pending", game.ErrInvalidAction)
	}
	seat := int(s.CurrentPlayer)
	v := e.roll()

	out := &game.Outcome{ShouldBroadcast: true}
	out.Events = append(out.Events, game.Event{Name: EventDiceRolled, Data: map[string]any{
		"player": seat, "value": v,
	}})

	if v == 6 {
		s.ConsecutiveSixes++
	} else {
		s.ConsecutiveSixes = 0
	}
	if s.ConsecutiveSixes >= 3 {
		// Third six in a row forfeits the whole turn.
		out.Events = append(out.Events, turnChanged(s.advanceTurn()))
		return out, nil
	}

	s.LastDiceRoll = uint8(v)
	if s.LegalMovesMask(seat) == 0 {
		out.Events = append(out.Events, turnChanged(s.advanceTurn()))
	}
	return out, nil
}

func (e *Engine) moveToken(s *State, cmd game.Command) (*game.Outcome, error) {
	if err := guardTurn(s, cmd); err != nil {
		return nil, err
	}
	if s.LastDiceRoll == 0 {
		return nil, fmt.Errorf("%w: roll first", game.ErrInvalidAction)
	}
	ti, ok := cmd.PayloadInt("tokenIndex")
	if !ok || ti < 0 || ti >= TokensPerSeat {
		return nil, fmt.Errorf("%w: tokenIndex out of range", game.ErrInvalidAction)
	}

	seat := int(s.CurrentPlayer)
	roll := int(s.LastDiceRoll)
	newPos, legal := predictMove(s.token(seat, ti), roll)
	if !legal {
		return nil, fmt.Errorf("%w: token %d cannot move %d", game.ErrInvalidAction, ti, roll)
	}

	s.setToken(seat, ti, newPos)
	out := &game.Outcome{ShouldBroadcast: true}
	out.Events = append(out.Events, game.Event{Name: EventTokenMoved, Data: map[string]any{
		"player": seat, "tokenIndex": ti, "newPosition": int(newPos),
	}})
	captured := e.captureAt(s, seat, newPos, out)
	s.LastDiceRoll = 0

	finishedNow := false
	if s.allTokensHome(seat) {
		s.FinishedMask |= 1 << seat
		s.appendWinner(seat)
		out.Events = append(out.Events, game.Event{Name: EventPlayerFinished, Data: map[string]any{"player": seat}})
		finishedNow = true
	}
	if e.closeIfDecided(s, out) {
		return out, nil
	}

	switch {
	case finishedNow:
		out.Events = append(out.Events, turnChanged(s.advanceTurn()))
	case roll == 6 || captured:
		// Extra turn: pointer and turn counter stay, dice already cleared.
	default:
		out.Events = append(out.Events, turnChanged(s.advanceTurn()))
	}
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
	if seat < 0 || seat >= MaxSeats || !s.SeatActive(seat) || s.SeatFinished(seat) {
		return nil, fmt.Errorf("%w: seat %d cannot forfeit", game.ErrInvalidAction, seat)
	}

	s.ActiveSeatsMask &^= 1 << seat
	for i := 0; i < TokensPerSeat; i++ {
		s.setToken(seat, i, Base)
	}
	out := &game.Outcome{ShouldBroadcast: true}
	out.Events = append(out.Events, game.Event{Name: EventPlayerForfeited, Data: map[string]any{"player": seat}})

	wasCurrent := int(s.CurrentPlayer) == seat
	if e.closeIfDecided(s, out) {
		return out, nil
	}
	if wasCurrent {
		out.Events = append(out.Events, turnChanged(s.advanceTurn()))
	}
	return out, nil
}

// CheckTimeouts plays the stale current player's turn for them: auto-roll if
// no dice is pending, then the lowest-indexed legal move. A timed-out player
// gets no extra turn, even on a six.
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

	if s.LastDiceRoll == 0 {
		v := e.roll()
		s.LastDiceRoll = uint8(v)
		out.Events = append(out.Events, game.Event{Name: EventDiceRolled, Data: map[string]any{
			"player": seat, "value": v, "autoPlay": true,
		}})
	}

	if mask := s.LegalMovesMask(seat); mask != 0 {
		ti := bits.TrailingZeros8(mask)
		newPos, _ := predictMove(s.token(seat, ti), int(s.LastDiceRoll))
		s.setToken(seat, ti, newPos)
		out.Events = append(out.Events, game.Event{Name: EventTokenMoved, Data: map[string]any{
			"player": seat, "tokenIndex": ti, "newPosition": int(newPos), "autoPlay": true,
		}})
		e.captureAt(s, seat, newPos, out)
		s.LastDiceRoll = 0

		if s.allTokensHome(seat) {
			s.FinishedMask |= 1 << seat
			s.appendWinner(seat)
			out.Events = append(out.Events, game.Event{Name: EventPlayerFinished, Data: map[string]any{"player": seat}})
		}
		if e.closeIfDecided(s, out) {
			return out, nil
		}
	}

	out.Events = append(out.Events, turnChanged(s.advanceTurn()))
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
	if s.SeatActive(seat) && !s.SeatFinished(seat) {
		if seat == int(s.CurrentPlayer) {
			if s.LastDiceRoll == 0 {
				actions = append(actions, ActionRoll)
			} else if s.LegalMovesMask(seat) != 0 {
				actions = append(actions, ActionMove)
			}
		}
		actions = append(actions, game.ActionForfeit)
	}
	return actions
}

func (e *Engine) View(s *State, meta *game.Meta) map[string]any {
	tokens := make([][]int, MaxSeats)
	for seat := 0; seat < MaxSeats; seat++ {
		row := make([]int, TokensPerSeat)
		for i := 0; i < TokensPerSeat; i++ {
			row[i] = int(s.token(seat, i))
		}
		tokens[seat] = row
	}
	view := map[string]any{
		"gameType":         GameType,
		"tokens":           tokens,
		"currentPlayer":    int(s.CurrentPlayer),
		"lastDiceRoll":     int(s.LastDiceRoll),
		"consecutiveSixes": int(s.ConsecutiveSixes),
		"activeSeatsMask":  int(s.ActiveSeatsMask),
		"finishedMask":     int(s.FinishedMask),
		"turnId":           s.TurnID,
		"started":          s.Started(),
		"gameOver":         s.Over(),
		"winnerRanking":    s.Ranking(),
	}
	if s.Started() && !s.Over() {
		view["legalMovesMask"] = int(s.LegalMovesMask(int(s.CurrentPlayer)))
	}
	return view
}

// captureAt sends every opposing track token on the landing cell back to
// Base, unless the cell is safe. Reports whether anything was captured.
func (e *Engine) captureAt(s *State, seat int, pos uint8, out *game.Outcome) bool {
	if !onTrack(pos) {
		return false
	}
	landing := globalCell(seat, int(pos))
	if isSafeCell(landing) {
		return false
	}
	captured := false
	for other := 0; other < MaxSeats; other++ {
		if other == seat || !s.SeatActive(other) {
			continue
		}
		for i := 0; i < TokensPerSeat; i++ {
			p := s.token(other, i)
			if onTrack(p) && globalCell(other, int(p)) == landing {
				s.setToken(other, i, Base)
				out.Events = append(out.Events, game.Event{Name: EventTokenCaptured, Data: map[string]any{
					"capturedPlayer": other, "capturedToken": i,
				}})
				captured = true
			}
		}
	}
	return captured
}

// closeIfDecided ends the game when at most one active seat is still
// playing: the survivor is appended to the winner order last.
func (e *Engine) closeIfDecided(s *State, out *game.Outcome) bool {
	rem := s.remainingSeats()
	if len(rem) > 1 {
		return false
	}
	if len(rem) == 1 {
		s.appendWinner(rem[0])
	}
	ranking := s.Ranking()
	out.Terminal = true
	out.WinnerRanking = ranking
	out.Events = append(out.Events, game.Event{Name: game.EventGameEnded, Data: map[string]any{"ranking": ranking}})
	return true
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
