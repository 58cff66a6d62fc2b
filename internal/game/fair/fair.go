// Package fair derives game randomness from a server seed whose SHA-256
// commitment is published before play. Revealing the seed later lets anyone
// recompute every roll and board layout.
package fair

import (
	cryptorand "crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/rand"
	"sync"
)

// GenerateServerSeed returns a fresh hex seed and its SHA-256 commitment.
func GenerateServerSeed() (seed, hash string) {
	b := make([]byte, 32)
	cryptorand.Read(b)

	seed = hex.EncodeToString(b)
	h := sha256.Sum256([]byte(seed))
	hash = hex.EncodeToString(h[:])
	return
}

// Verify reports whether seed matches the published commitment.
func Verify(seed, hash string) bool {
	h := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(h[:]) == hash
}

// NewSeededRNG derives a deterministic PRNG from an arbitrary seed string.
// Board layouts use `seed + "-" + roomID` so every room is independently
// reproducible.
func NewSeededRNG(seed string) *rand.Rand {
	h := sha256.Sum256([]byte(seed))
	return rand.New(rand.NewSource(int64(binary.BigEndian.Uint64(h[:8]))))
}

// RollAt computes die roll number nonce for the given seed, in 1..6.
func RollAt(seed string, nonce uint64) int {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s-%d", seed, nonce)))
	return int(binary.BigEndian.Uint64(h[:8])%6) + 1
}

// DiceRoller returns a 1..6 source whose rolls are RollAt(seed, 0), RollAt(seed, 1),
// and so on. Safe for concurrent rooms.
func DiceRoller(seed string) func() int {
	var mu sync.Mutex
	var nonce uint64
	return func() int {
		mu.Lock()
		n := nonce
		nonce++
		mu.Unlock()
		return RollAt(seed, n)
	}
}
