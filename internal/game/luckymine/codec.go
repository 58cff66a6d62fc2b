package luckymine

import (
	"encoding/binary"
	"fmt"
)

// StateSize is the byte length of the encoded state image.
const StateSize = 68

// Codec serializes State as a fixed 68-byte little-endian image:
//
//	offset  0..15  mineMask[2] (uint64 each)
//	offset 16..31  revealMask[2]
//	offset 32      currentPlayer
//	offset 33      totalMines
//	offset 34      totalTiles
//	offset 35      status
//	offset 36      deadMask
//	offset 37      activeSeatsMask
//	offset 38      winnersCount
//	offset 39      reserved (zero)
//	offset 40..43  winnerOrder[4] (0xFF = unset)
//	offset 44..47  entryCost (uint32)
//	offset 48..51  rewardSlope (uint32)
//	offset 52..59  winnings (uint64)
//	offset 60..67  turnId (uint64)
type Codec struct{}

func (Codec) Size() int { return StateSize }

func (Codec) Encode(s *State) []byte {
	b := make([]byte, StateSize)
	binary.LittleEndian.PutUint64(b[0:8], s.MineMask[0])
	binary.LittleEndian.PutUint64(b[8:16], s.MineMask[1])
	binary.LittleEndian.PutUint64(b[16:24], s.RevealMask[0])
	binary.LittleEndian.PutUint64(b[24:32], s.RevealMask[1])
	b[32] = s.CurrentPlayer
	b[33] = s.TotalMines
	b[34] = s.TotalTiles
	b[35] = s.Status
	b[36] = s.DeadMask
	b[37] = s.ActiveSeatsMask
	b[38] = s.WinnersCount
	copy(b[40:44], s.WinnerOrder[:])
	binary.LittleEndian.PutUint32(b[44:48], s.EntryCost)
	binary.LittleEndian.PutUint32(b[48:52], s.RewardSlope)
	binary.LittleEndian.PutUint64(b[52:60], s.Winnings)
	binary.LittleEndian.PutUint64(b[60:68], s.TurnID)
	return b
}

func (Codec) Decode(b []byte) (*State, error) {
	if len(b) != StateSize {
		return nil, fmt.Errorf("luckymine: state image is %d bytes, want %d", len(b), StateSize)
	}
	s := &State{}
	s.MineMask[0] = binary.LittleEndian.Uint64(b[0:8])
	s.MineMask[1] = binary.LittleEndian.Uint64(b[8:16])
	s.RevealMask[0] = binary.LittleEndian.Uint64(b[16:24])
	s.RevealMask[1] = binary.LittleEndian.Uint64(b[24:32])
	s.CurrentPlayer = b[32]
	s.TotalMines = b[33]
	s.TotalTiles = b[34]
	s.Status = b[35]
	s.DeadMask = b[36]
	s.ActiveSeatsMask = b[37]
	s.WinnersCount = b[38]
	copy(s.WinnerOrder[:], b[40:44])
	s.EntryCost = binary.LittleEndian.Uint32(b[44:48])
	s.RewardSlope = binary.LittleEndian.Uint32(b[48:52])
	s.Winnings = binary.LittleEndian.Uint64(b[52:60])
	s.TurnID = binary.LittleEndian.Uint64(b[60:68])
	return s, nil
}
