package luckymine

import (
	"math/bits"
	"math/rand"
)

// Board limits. Tiles live in two 64-bit masks, so a board holds at most
// 128 tiles.
const (
	MaxTiles = 128
	MaxSeats = 4
)

// Game status values.
const (
	StatusActive      = 0
	StatusAllMinesHit = 1
	StatusGameOver    = 2
)

// NoWinner marks an unused winner-order slot.
const NoWinner = 0xFF

// State is the complete LuckyMine position. MineMask is server-secret;
// clients only ever see revealed tiles. Winnings accumulate per safe reveal
// and are paid out whole to whoever cashes out.
type State struct {
	MineMask        [2]uint64
	RevealMask      [2]uint64
	CurrentPlayer   uint8
	TotalMines      uint8
	TotalTiles      uint8
	Status          uint8
	DeadMask        uint8
	ActiveSeatsMask uint8
	WinnersCount    uint8
	WinnerOrder     [MaxSeats]uint8
	EntryCost       uint32
	RewardSlope     uint32
	Winnings        uint64
	TurnID          uint64
}

// NewState builds a fresh board with mines placed by a Fisher-Yates shuffle
// over the tile indices. Bounds are clamped: 2..128 tiles, 1..tiles-1 mines.
func NewState(totalTiles, totalMines int, entryCost, rewardSlope uint32) *State {
	return NewStateWithRand(totalTiles, totalMines, entryCost, rewardSlope, nil)
}

// NewStateWithRand is NewState with an injected shuffle source, so boards
// can be derived from a published seed commitment. A nil rng uses the
// global source.
func NewStateWithRand(totalTiles, totalMines int, entryCost, rewardSlope uint32, rng *rand.Rand) *State {
	if totalTiles < 2 {
		totalTiles = 2
	}
	if totalTiles > MaxTiles {
		totalTiles = MaxTiles
	}
	if totalMines < 1 {
		totalMines = 1
	}
	if totalMines >= totalTiles {
		totalMines = totalTiles - 1
	}

	s := &State{
		TotalTiles:  uint8(totalTiles),
		TotalMines:  uint8(totalMines),
		EntryCost:   entryCost,
		RewardSlope: rewardSlope,
	}
	for i := range s.WinnerOrder {
		s.WinnerOrder[i] = NoWinner
	}
	perm := rand.Perm
	if rng != nil {
		perm = rng.Perm
	}
	for _, tile := range perm(totalTiles)[:totalMines] {
		s.MineMask[tile/64] |= 1 << (tile % 64)
	}
	return s
}

func (s *State) isMine(tile int) bool {
	return s.MineMask[tile/64]&(1<<(tile%64)) != 0
}

func (s *State) isRevealed(tile int) bool {
	return s.RevealMask[tile/64]&(1<<(tile%64)) != 0
}

func (s *State) reveal(tile int) {
	s.RevealMask[tile/64] |= 1 << (tile % 64)
}

// SafeRevealedCount counts revealed tiles that are not mines.
func (s *State) SafeRevealedCount() int {
	return bits.OnesCount64(s.RevealMask[0]&^s.MineMask[0]) +
		bits.OnesCount64(s.RevealMask[1]&^s.MineMask[1])
}

// revealedMineCount counts mines that have been hit.
func (s *State) revealedMineCount() int {
	return bits.OnesCount64(s.RevealMask[0]&s.MineMask[0]) +
		bits.OnesCount64(s.RevealMask[1]&s.MineMask[1])
}

// lowestUnrevealed returns the smallest unrevealed tile index, or -1.
func (s *State) lowestUnrevealed() int {
	for tile := 0; tile < int(s.TotalTiles); tile++ {
		if !s.isRevealed(tile) {
			return tile
		}
	}
	return -1
}

// SeatActive reports whether seat started the game and has not forfeited.
func (s *State) SeatActive(seat int) bool {
	return s.ActiveSeatsMask&(1<<seat) != 0
}

// Started reports whether the start action ran.
func (s *State) Started() bool {
	return s.ActiveSeatsMask != 0 || s.Status != StatusActive
}

// Over reports terminal state.
func (s *State) Over() bool {
	return s.Status != StatusActive
}

// Ranking returns the winner order as seat indices.
func (s *State) Ranking() []int {
	out := make([]int, 0, s.WinnersCount)
	for i := 0; i < int(s.WinnersCount); i++ {
		out = append(out, int(s.WinnerOrder[i]))
	}
	return out
}

func (s *State) appendWinner(seat int) {
	if int(s.WinnersCount) < len(s.WinnerOrder) {
		s.WinnerOrder[s.WinnersCount] = uint8(seat)
		s.WinnersCount++
	}
}

// advanceTurn passes the pointer to the next active seat and bumps the turn
// counter. In a solo room the pointer stays put but the counter still moves.
func (s *State) advanceTurn() int {
	s.TurnID++
	p := int(s.CurrentPlayer)
	for i := 0; i < MaxSeats+1; i++ {
		p = (p + 1) % MaxSeats
		if s.SeatActive(p) {
			s.CurrentPlayer = uint8(p)
			break
		}
	}
	return int(s.CurrentPlayer)
}
