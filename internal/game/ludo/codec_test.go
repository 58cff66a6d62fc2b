package ludo

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestCodecRoundTrip(t *testing.T) {
	c := Codec{}
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		s := NewState()
		for j := range s.Tokens {
			s.Tokens[j] = uint8(rng.Intn(Home + 1))
		}
		s.WinnersCount = uint8(rng.Intn(5))
		for j := 0; j < int(s.WinnersCount); j++ {
			s.WinnerOrder[j] = uint8(rng.Intn(MaxSeats))
		}
		s.CurrentPlayer = uint8(rng.Intn(MaxSeats))
		s.LastDiceRoll = uint8(rng.Intn(7))
		s.ConsecutiveSixes = uint8(rng.Intn(3))
		s.FinishedMask = uint8(rng.Intn(16))
		s.ActiveSeatsMask = uint8(rng.Intn(16))
		s.TurnID = rng.Uint64()

		b := c.Encode(s)
		if len(b) != StateSize {
			t.Fatalf("encoded length = %d, want %d", len(b), StateSize)
		}
		got, err := c.Decode(b)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if *got != *s {
			t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, s)
		}
		if !bytes.Equal(c.Encode(got), b) {
			t.Fatal("re-encode changed the image")
		}
	}
}

func TestCodecLayoutOffsets(t *testing.T) {
	s := NewState()
	s.Tokens[0] = 7
	s.Tokens[15] = 51
	s.WinnerOrder[0] = 2
	s.CurrentPlayer = 3
	s.LastDiceRoll = 6
	s.ConsecutiveSixes = 2
	s.FinishedMask = 0b0100
	s.WinnersCount = 1
	s.ActiveSeatsMask = 0b1111
	s.TurnID = 0x0102030405060708

	b := Codec{}.Encode(s)
	if b[0] != 7 || b[15] != 51 {
		t.Errorf("tokens at offsets 0/15 = %d/%d", b[0], b[15])
	}
	if b[16] != 2 || b[17] != NoWinner {
		t.Errorf("winnerOrder at 16/17 = %d/%d", b[16], b[17])
	}
	if b[20] != 3 || b[21] != 6 || b[22] != 2 || b[23] != 0b0100 || b[24] != 1 || b[25] != 0b1111 {
		t.Errorf("scalar block = % x", b[20:26])
	}
	if b[26] != 0 || b[27] != 0 {
		t.Errorf("reserved bytes = %d %d, want zero", b[26], b[27])
	}
	if b[28] != 0x08 || b[35] != 0x01 {
		t.Errorf("turnId not little-endian: b[28]=%x b[35]=%x", b[28], b[35])
	}
}

func TestCodecRejectsWrongLength(t *testing.T) {
	c := Codec{}
	for _, n := range []int{0, 35, 37, 64} {
		if _, err := c.Decode(make([]byte, n)); err == nil {
			t.Errorf("Decode accepted a %d-byte image", n)
		}
	}
}
