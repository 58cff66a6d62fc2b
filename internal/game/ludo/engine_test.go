package ludo

import (
	"errors"
	"testing"
	"time"

	"github.com/playrooms/backend/internal/game"
)

func testMeta(seats map[string]int) *game.Meta {
	return &game.Meta{
		RoomID:      "r1",
		GameType:    GameType,
		MaxPlayers:  4,
		PlayerSeats: seats,
		Config:      map[string]string{},
		CreatedAt:   time.Now(),
	}
}

func scripted(vals ...int) func() int {
	i := 0
	return func() int {
		v := vals[i]
		if i < len(vals)-1 {
			i++
		}
		return v
	}
}

func countEvents(outs []*game.Outcome, name string) int {
	n := 0
	for _, out := range outs {
		for _, ev := range out.Events {
			if ev.Name == name {
				n++
			}
		}
	}
	return n
}

func findEvent(out *game.Outcome, name string) (game.Event, bool) {
	for _, ev := range out.Events {
		if ev.Name == name {
			return ev, true
		}
	}
	return game.Event{}, false
}

func mustExecute(t *testing.T, e *Engine, s *State, meta *game.Meta, cmd game.Command) *game.Outcome {
	t.Helper()
	out, err := e.Execute(s, meta, cmd)
	if err != nil {
		t.Fatalf("Execute(%s) failed: %v", cmd.Action, err)
	}
	return out
}

func TestStartTwoPlayerRoom(t *testing.T) {
	e := NewEngine()
	s := NewState()
	meta := testMeta(map[string]int{"A": 0, "B": 2})

	out := mustExecute(t, e, s, meta, game.Command{UserID: "A", Seat: 0, Action: game.ActionStart})

	if s.ActiveSeatsMask != 0b0101 {
		t.Errorf("ActiveSeatsMask = %04b, want 0101", s.ActiveSeatsMask)
	}
	if s.CurrentPlayer != 0 {
		t.Errorf("CurrentPlayer = %d, want 0", s.CurrentPlayer)
	}
	if s.TurnID != 1 {
		t.Errorf("TurnID = %d, want 1", s.TurnID)
	}
	if _, ok := findEvent(out, game.EventGameStarted); !ok {
		t.Error("expected GameStarted event")
	}
}

func TestStartRejectsSinglePlayer(t *testing.T) {
	e := NewEngine()
	s := NewState()
	meta := testMeta(map[string]int{"A": 0})

	_, err := e.Execute(s, meta, game.Command{UserID: "A", Seat: 0, Action: game.ActionStart})
	if !errors.Is(err, game.ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
}

func TestTripleSixForfeitsTurn(t *testing.T) {
	e := NewEngineWithRoller(scripted(6, 6, 6))
	s := NewState()
	meta := testMeta(map[string]int{"A": 0, "B": 2})
	mustExecute(t, e, s, meta, game.Command{UserID: "A", Seat: 0, Action: game.ActionStart})

	var outs []*game.Outcome
	// Two sixes each grant an extra turn after a move; the third forfeits.
	outs = append(outs, mustExecute(t, e, s, meta, game.Command{UserID: "A", Seat: 0, Action: ActionRoll}))
	outs = append(outs, mustExecute(t, e, s, meta, game.Command{UserID: "A", Seat: 0, Action: ActionMove, Payload: map[string]any{"tokenIndex": 0}}))
	outs = append(outs, mustExecute(t, e, s, meta, game.Command{UserID: "A", Seat: 0, Action: ActionRoll}))
	outs = append(outs, mustExecute(t, e, s, meta, game.Command{UserID: "A", Seat: 0, Action: ActionMove, Payload: map[string]any{"tokenIndex": 0}}))
	last := mustExecute(t, e, s, meta, game.Command{UserID: "A", Seat: 0, Action: ActionRoll})
	outs = append(outs, last)

	if n := countEvents(outs, EventDiceRolled); n != 3 {
		t.Errorf("DiceRolled count = %d, want 3", n)
	}
	ev, ok := findEvent(last, game.EventTurnChanged)
	if !ok {
		t.Fatal("expected TurnChanged after the third six")
	}
	if ev.Data["newPlayer"] != 2 {
		t.Errorf("newPlayer = %v, want 2", ev.Data["newPlayer"])
	}
	if s.CurrentPlayer != 2 {
		t.Errorf("CurrentPlayer = %d, want 2", s.CurrentPlayer)
	}
	if s.ConsecutiveSixes != 0 {
		t.Errorf("ConsecutiveSixes = %d, want 0", s.ConsecutiveSixes)
	}
	if s.LastDiceRoll != 0 {
		t.Errorf("LastDiceRoll = %d, want 0", s.LastDiceRoll)
	}
	if s.TurnID != 2 {
		t.Errorf("TurnID = %d, want 2", s.TurnID)
	}
}

func TestCaptureOnSharedCellGrantsExtraTurn(t *testing.T) {
	e := NewEngineWithRoller(scripted(6))
	s := NewState()
	meta := testMeta(map[string]int{"A": 0, "B": 1})
	mustExecute(t, e, s, meta, game.Command{UserID: "A", Seat: 0, Action: game.ActionStart})

	// Seat 0 already holds local 1; seat 1's local 40 shares global cell 1.
	s.setToken(0, 0, 1)
	s.setToken(1, 0, 40)

	mustExecute(t, e, s, meta, game.Command{UserID: "A", Seat: 0, Action: ActionRoll})
	out := mustExecute(t, e, s, meta, game.Command{UserID: "A", Seat: 0, Action: ActionMove, Payload: map[string]any{"tokenIndex": 1}})

	ev, ok := findEvent(out, EventTokenCaptured)
	if !ok {
		t.Fatal("expected TokenCaptured event")
	}
	if ev.Data["capturedPlayer"] != 1 || ev.Data["capturedToken"] != 0 {
		t.Errorf("captured = %v, want player 1 token 0", ev.Data)
	}
	if got := s.token(1, 0); got != Base {
		t.Errorf("captured token position = %d, want Base", got)
	}
	if got := s.token(0, 0); got != 1 {
		t.Errorf("own token on the cell moved to %d, want 1", got)
	}
	if s.CurrentPlayer != 0 {
		t.Errorf("CurrentPlayer = %d, want 0 (extra turn)", s.CurrentPlayer)
	}
	if s.TurnID != 1 {
		t.Errorf("TurnID = %d, want 1 (extra turns do not advance it)", s.TurnID)
	}
}

func TestNoCaptureOnSafeCell(t *testing.T) {
	e := NewEngineWithRoller(scripted(5))
	s := NewState()
	meta := testMeta(map[string]int{"A": 0, "B": 2})
	mustExecute(t, e, s, meta, game.Command{UserID: "A", Seat: 0, Action: game.ActionStart})

	// Seat 0 local 13 and seat 2 local 39 are both global cell 13, a safe
	// square.
	s.setToken(0, 0, 8)
	s.setToken(2, 0, 39)

	mustExecute(t, e, s, meta, game.Command{UserID: "A", Seat: 0, Action: ActionRoll})
	out := mustExecute(t, e, s, meta, game.Command{UserID: "A", Seat: 0, Action: ActionMove, Payload: map[string]any{"tokenIndex": 0}})

	if _, ok := findEvent(out, EventTokenCaptured); ok {
		t.Error("captured on a safe cell")
	}
	if got := s.token(2, 0); got != 39 {
		t.Errorf("opponent token position = %d, want 39", got)
	}
	if s.CurrentPlayer != 2 {
		t.Errorf("CurrentPlayer = %d, want 2 (no extra turn on a 5)", s.CurrentPlayer)
	}
}

func TestRollWithNoLegalMovePassesTurn(t *testing.T) {
	e := NewEngineWithRoller(scripted(3))
	s := NewState()
	meta := testMeta(map[string]int{"A": 0, "B": 2})
	mustExecute(t, e, s, meta, game.Command{UserID: "A", Seat: 0, Action: game.ActionStart})

	// All tokens in Base and the roll is not a six: nothing can move.
	out := mustExecute(t, e, s, meta, game.Command{UserID: "A", Seat: 0, Action: ActionRoll})

	if _, ok := findEvent(out, game.EventTurnChanged); !ok {
		t.Fatal("expected the turn to pass")
	}
	if s.CurrentPlayer != 2 {
		t.Errorf("CurrentPlayer = %d, want 2", s.CurrentPlayer)
	}
	if s.LastDiceRoll != 0 {
		t.Errorf("LastDiceRoll = %d, want 0", s.LastDiceRoll)
	}
}

func TestMoveGuards(t *testing.T) {
	e := NewEngineWithRoller(scripted(4))
	s := NewState()
	meta := testMeta(map[string]int{"A": 0, "B": 2})
	mustExecute(t, e, s, meta, game.Command{UserID: "A", Seat: 0, Action: game.ActionStart})

	// Move before rolling.
	_, err := e.Execute(s, meta, game.Command{UserID: "A", Seat: 0, Action: ActionMove, Payload: map[string]any{"tokenIndex": 0}})
	if !errors.Is(err, game.ErrInvalidAction) {
		t.Errorf("move before roll: got %v, want ErrInvalidAction", err)
	}

	// Wrong seat.
	_, err = e.Execute(s, meta, game.Command{UserID: "B", Seat: 2, Action: ActionRoll})
	if !errors.Is(err, game.ErrNotYourTurn) {
		t.Errorf("off-turn roll: got %v, want ErrNotYourTurn", err)
	}

	// Double roll.
	s.setToken(0, 0, 10)
	mustExecute(t, e, s, meta, game.Command{UserID: "A", Seat: 0, Action: ActionRoll})
	_, err = e.Execute(s, meta, game.Command{UserID: "A", Seat: 0, Action: ActionRoll})
	if !errors.Is(err, game.ErrInvalidAction) {
		t.Errorf("double roll: got %v, want ErrInvalidAction", err)
	}
}

func TestOvershootIsIllegal(t *testing.T) {
	if _, ok := predictMove(55, 5); ok {
		t.Error("55+5 overshoots Home and must be illegal")
	}
	if pos, ok := predictMove(52, 5); !ok || pos != Home {
		t.Errorf("52+5 = (%d,%v), want exact Home", pos, ok)
	}
	if _, ok := predictMove(Home, 1); ok {
		t.Error("a finished token must not move")
	}
	if _, ok := predictMove(Base, 5); ok {
		t.Error("leaving Base needs a six")
	}
}

func TestFinishAppendsRankingAndEndsGame(t *testing.T) {
	e := NewEngineWithRoller(scripted(5))
	s := NewState()
	meta := testMeta(map[string]int{"A": 0, "B": 2})
	mustExecute(t, e, s, meta, game.Command{UserID: "A", Seat: 0, Action: game.ActionStart})

	s.setToken(0, 0, 52)
	s.setToken(0, 1, Home)
	s.setToken(0, 2, Home)
	s.setToken(0, 3, Home)

	mustExecute(t, e, s, meta, game.Command{UserID: "A", Seat: 0, Action: ActionRoll})
	out := mustExecute(t, e, s, meta, game.Command{UserID: "A", Seat: 0, Action: ActionMove, Payload: map[string]any{"tokenIndex": 0}})

	if _, ok := findEvent(out, EventPlayerFinished); !ok {
		t.Error("expected PlayerFinished")
	}
	if _, ok := findEvent(out, game.EventGameEnded); !ok {
		t.Error("expected GameEnded")
	}
	if !out.Terminal {
		t.Error("outcome must be terminal")
	}
	want := []int{0, 2}
	if len(out.WinnerRanking) != 2 || out.WinnerRanking[0] != want[0] || out.WinnerRanking[1] != want[1] {
		t.Errorf("WinnerRanking = %v, want %v", out.WinnerRanking, want)
	}
	if !s.Over() {
		t.Error("state must be over")
	}

	// Frozen: further actions are rejected.
	_, err := e.Execute(s, meta, game.Command{UserID: "B", Seat: 2, Action: ActionRoll})
	if !errors.Is(err, game.ErrGameOver) {
		t.Errorf("post-game roll: got %v, want ErrGameOver", err)
	}
}

func TestForfeitEndsTwoPlayerGame(t *testing.T) {
	e := NewEngine()
	s := NewState()
	meta := testMeta(map[string]int{"A": 0, "B": 2})
	mustExecute(t, e, s, meta, game.Command{UserID: "A", Seat: 0, Action: game.ActionStart})

	out := mustExecute(t, e, s, meta, game.Command{UserID: "B", Seat: 2, Action: game.ActionForfeit})

	if !out.Terminal {
		t.Fatal("forfeit down to one seat must end the game")
	}
	if len(out.WinnerRanking) != 1 || out.WinnerRanking[0] != 0 {
		t.Errorf("WinnerRanking = %v, want [0]", out.WinnerRanking)
	}
	if s.SeatActive(2) {
		t.Error("forfeited seat must leave the active mask")
	}
}

func TestForfeitMidGameRotatesTurn(t *testing.T) {
	e := NewEngine()
	s := NewState()
	meta := testMeta(map[string]int{"A": 0, "B": 1, "C": 2})
	mustExecute(t, e, s, meta, game.Command{UserID: "A", Seat: 0, Action: game.ActionStart})

	out := mustExecute(t, e, s, meta, game.Command{UserID: "A", Seat: 0, Action: game.ActionForfeit})

	if out.Terminal {
		t.Fatal("two seats remain, game must continue")
	}
	ev, ok := findEvent(out, game.EventTurnChanged)
	if !ok {
		t.Fatal("expected TurnChanged after the current player forfeits")
	}
	if ev.Data["newPlayer"] != 1 {
		t.Errorf("newPlayer = %v, want 1", ev.Data["newPlayer"])
	}
}

func TestTimeoutAutoPlaysStaleTurn(t *testing.T) {
	e := NewEngineWithRoller(scripted(6))
	s := NewState()
	meta := testMeta(map[string]int{"A": 0, "B": 1})
	mustExecute(t, e, s, meta, game.Command{UserID: "A", Seat: 0, Action: game.ActionStart})
	s.CurrentPlayer = 1
	meta.TurnStartedAt = time.Now().Add(-60 * time.Second)

	turnBefore := s.TurnID
	out, err := e.CheckTimeouts(s, meta, time.Now())
	if err != nil {
		t.Fatalf("CheckTimeouts failed: %v", err)
	}
	if out == nil {
		t.Fatal("expected auto-play outcome")
	}

	ev, ok := findEvent(out, game.EventTurnTimeout)
	if !ok {
		t.Fatal("expected TurnTimeout")
	}
	if ev.Data["player"] != 1 {
		t.Errorf("timed-out player = %v, want 1", ev.Data["player"])
	}
	dice, ok := findEvent(out, EventDiceRolled)
	if !ok {
		t.Fatal("expected auto DiceRolled")
	}
	if dice.Data["autoPlay"] != true {
		t.Error("auto roll must carry autoPlay")
	}
	moved, ok := findEvent(out, EventTokenMoved)
	if !ok {
		t.Fatal("a six from Base must produce an auto move")
	}
	if moved.Data["autoPlay"] != true {
		t.Error("auto move must carry autoPlay")
	}
	if s.TurnID == turnBefore && s.CurrentPlayer == 1 {
		t.Error("timeout must advance the turn or rotate the player")
	}
	if s.CurrentPlayer != 0 {
		t.Errorf("CurrentPlayer = %d, want 0 (no extra turn on timeout)", s.CurrentPlayer)
	}
}

func TestTimeoutBeforeDeadlineIsNoOp(t *testing.T) {
	e := NewEngine()
	s := NewState()
	meta := testMeta(map[string]int{"A": 0, "B": 1})
	mustExecute(t, e, s, meta, game.Command{UserID: "A", Seat: 0, Action: game.ActionStart})
	meta.TurnStartedAt = time.Now().Add(-10 * time.Second)

	out, err := e.CheckTimeouts(s, meta, time.Now())
	if err != nil {
		t.Fatalf("CheckTimeouts failed: %v", err)
	}
	if out != nil {
		t.Fatalf("expected no-op, got %+v", out)
	}
}

func TestLegalActionsFollowTurnState(t *testing.T) {
	e := NewEngineWithRoller(scripted(6))
	s := NewState()
	meta := testMeta(map[string]int{"A": 0, "B": 2})

	if got := e.LegalActions(s, meta, "A"); len(got) != 1 || got[0] != game.ActionStart {
		t.Errorf("pre-start actions = %v, want [start]", got)
	}
	if got := e.LegalActions(s, meta, "ghost"); got != nil {
		t.Errorf("unseated actions = %v, want none", got)
	}

	mustExecute(t, e, s, meta, game.Command{UserID: "A", Seat: 0, Action: game.ActionStart})

	got := e.LegalActions(s, meta, "A")
	if len(got) != 2 || got[0] != ActionRoll || got[1] != game.ActionForfeit {
		t.Errorf("on-turn actions = %v, want [roll forfeit]", got)
	}
	if got := e.LegalActions(s, meta, "B"); len(got) != 1 || got[0] != game.ActionForfeit {
		t.Errorf("off-turn actions = %v, want [forfeit]", got)
	}

	mustExecute(t, e, s, meta, game.Command{UserID: "A", Seat: 0, Action: ActionRoll})
	got = e.LegalActions(s, meta, "A")
	if len(got) != 2 || got[0] != ActionMove {
		t.Errorf("post-roll actions = %v, want [move forfeit]", got)
	}
}

func TestGlobalCellGeometry(t *testing.T) {
	// Seat 1's local 40 and seat 0's local 1 share global cell 1.
	if g0, g1 := globalCell(0, 1), globalCell(1, 40); g0 != g1 || g0 != 1 {
		t.Errorf("globalCell(0,1)=%d globalCell(1,40)=%d, want both 1", g0, g1)
	}
	for _, g := range []int{0, 13, 26, 39} {
		if !isSafeCell(g) {
			t.Errorf("cell %d must be safe", g)
		}
	}
	if isSafeCell(1) || isSafeCell(40) {
		t.Error("cells 1 and 40 must not be safe")
	}
}
