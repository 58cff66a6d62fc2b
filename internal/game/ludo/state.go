package ludo

import "math/bits"

// Board geometry. The shared track has 52 cells; each seat enters it at its
// own rotation offset and runs a private 6-cell home column after cell 51.
// Positions are seat-relative: 0 is Base, 1..51 the track, 52..56 the home
// column, 57 Home.
const (
	Base       = 0
	TrackStart = 1
	TrackEnd   = 51
	Home       = 57

	TrackLen   = 52
	SeatStride = 13

	MaxSeats      = 4
	TokensPerSeat = 4
)

// NoWinner marks an unused winner-order slot.
const NoWinner = 0xFF

// State is the complete Ludo position. Tokens are indexed seat*4+i and hold
// seat-relative positions. WinnerOrder lists seats by finishing order; the
// last loser is appended when the game ends.
type State struct {
	Tokens           [MaxSeats * TokensPerSeat]uint8
	WinnerOrder      [MaxSeats]uint8
	CurrentPlayer    uint8
	LastDiceRoll     uint8
	ConsecutiveSixes uint8
	FinishedMask     uint8
	WinnersCount     uint8
	ActiveSeatsMask  uint8
	TurnID           uint64
}

// NewState returns the pre-start position: all tokens in Base, no winners,
// no active seats. The start action populates ActiveSeatsMask.
func NewState() *State {
	s := &State{}
	for i := range s.WinnerOrder {
		s.WinnerOrder[i] = NoWinner
	}
	return s
}

// globalCell maps a seat-relative track position (1..51) onto the shared
// 52-cell track.
func globalCell(seat, local int) int {
	return (local + SeatStride*seat) % TrackLen
}

// isSafeCell reports whether a global track cell is capture-proof. Every
// 13th cell is safe.
func isSafeCell(global int) bool {
	return global%SeatStride == 0
}

// onTrack reports whether a seat-relative position is on the shared track,
// i.e. reachable by opponents.
func onTrack(pos uint8) bool {
	return pos >= TrackStart && pos <= TrackEnd
}

// predictMove computes where a token at pos lands on the given roll. A token
// in Base leaves only on a 6; past the track a token must land on Home
// exactly, never beyond.
func predictMove(pos uint8, roll int) (uint8, bool) {
	switch {
	case roll < 1 || roll > 6:
		return 0, false
	case pos == Home:
		return 0, false
	case pos == Base:
		if roll == 6 {
			return TrackStart, true
		}
		return 0, false
	default:
		next := int(pos) + roll
		if next > Home {
			return 0, false
		}
		return uint8(next), true
	}
}

func (s *State) token(seat, i int) uint8 {
	return s.Tokens[seat*TokensPerSeat+i]
}

func (s *State) setToken(seat, i int, pos uint8) {
	s.Tokens[seat*TokensPerSeat+i] = pos
}

// SeatActive reports whether seat started the game and has not forfeited.
func (s *State) SeatActive(seat int) bool {
	return s.ActiveSeatsMask&(1<<seat) != 0
}

// SeatFinished reports whether seat brought all four tokens Home.
func (s *State) SeatFinished(seat int) bool {
	return s.FinishedMask&(1<<seat) != 0
}

// Started reports whether the start action ran.
func (s *State) Started() bool {
	return s.ActiveSeatsMask != 0
}

// Over reports terminal state: every active seat appears in the winner
// order, including the appended last loser.
func (s *State) Over() bool {
	return s.ActiveSeatsMask != 0 &&
		int(s.WinnersCount) >= bits.OnesCount8(s.ActiveSeatsMask)
}

// Ranking returns the winner order as seat indices, finishers first.
func (s *State) Ranking() []int {
	out := make([]int, 0, s.WinnersCount)
	for i := 0; i < int(s.WinnersCount); i++ {
		out = append(out, int(s.WinnerOrder[i]))
	}
	return out
}

// LegalMovesMask returns a 4-bit mask of the seat's movable tokens against
// the current dice. Zero when no dice is pending.
func (s *State) LegalMovesMask(seat int) uint8 {
	if s.LastDiceRoll == 0 {
		return 0
	}
	var mask uint8
	for i := 0; i < TokensPerSeat; i++ {
		if _, ok := predictMove(s.token(seat, i), int(s.LastDiceRoll)); ok {
			mask |= 1 << i
		}
	}
	return mask
}

// allTokensHome reports whether every token of seat reached Home.
func (s *State) allTokensHome(seat int) bool {
	for i := 0; i < TokensPerSeat; i++ {
		if s.token(seat, i) != Home {
			return false
		}
	}
	return true
}

// remainingSeats lists active seats that have not finished, ascending.
func (s *State) remainingSeats() []int {
	var out []int
	for seat := 0; seat < MaxSeats; seat++ {
		if s.SeatActive(seat) && !s.SeatFinished(seat) {
			out = append(out, seat)
		}
	}
	return out
}

// appendWinner records seat in the finish order.
func (s *State) appendWinner(seat int) {
	if int(s.WinnersCount) < len(s.WinnerOrder) {
		s.WinnerOrder[s.WinnersCount] = uint8(seat)
		s.WinnersCount++
	}
}

// advanceTurn passes the pointer to the next active unfinished seat, clears
// the dice and the six streak, and bumps the turn counter. At most five
// rotation attempts; if nobody is eligible the pointer stays put.
func (s *State) advanceTurn() int {
	s.LastDiceRoll = 0
	s.ConsecutiveSixes = 0
	s.TurnID++
	p := int(s.CurrentPlayer)
	for i := 0; i < MaxSeats+1; i++ {
		p = (p + 1) % MaxSeats
		if s.SeatActive(p) && !s.SeatFinished(p) {
			s.CurrentPlayer = uint8(p)
			break
		}
	}
	return int(s.CurrentPlayer)
}
