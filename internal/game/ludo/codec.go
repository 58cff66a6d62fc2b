package ludo

import (
	"encoding/binary"
	"fmt"
)

// StateSize is the byte length of the encoded state image.
const StateSize = 36

// Codec serializes State as a fixed 36-byte little-endian image:
//
//	offset  0..15  tokens[16]
//	offset 16..19  winnerOrder[4] (0xFF = unset)
//	offset 20      currentPlayer
//	offset 21      lastDiceRoll
//	offset 22      consecutiveSixes
//	offset 23      finishedMask
//	offset 24      winnersCount
//	offset 25      activeSeatsMask
//	offset 26..27  reserved (zero)
//	offset 28..35  turnId (uint64)
type Codec struct{}

func (Codec) Size() int { return StateSize }

func (Codec) Encode(s *State) []byte {
	b := make([]byte, StateSize)
	copy(b[0:16], s.Tokens[:])
	copy(b[16:20], s.WinnerOrder[:])
	b[20] = s.CurrentPlayer
	b[21] = s.LastDiceRoll
	b[22] = s.ConsecutiveSixes
	b[23] = s.FinishedMask
	b[24] = s.WinnersCount
	b[25] = s.ActiveSeatsMask
	binary.LittleEndian.PutUint64(b[28:36], s.TurnID)
	return b
}

func (Codec) Decode(b []byte) (*State, error) {
	if len(b) != StateSize {
		return nil, fmt.Errorf("ludo: state image is %d bytes, want %d", len(b), StateSize)
	}
	s := &State{}
	copy(s.Tokens[:], b[0:16])
	copy(s.WinnerOrder[:], b[16:20])
	s.CurrentPlayer = b[20]
	s.LastDiceRoll = b[21]
	s.ConsecutiveSixes = b[22]
	s.FinishedMask = b[23]
	s.WinnersCount = b[24]
	s.ActiveSeatsMask = b[25]
	s.TurnID = binary.LittleEndian.Uint64(b[28:36])
	return s, nil
}
