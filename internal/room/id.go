package room

import (
	"fmt"
	"math/rand"
)

const (
	codeLength   = 5
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

	// Far beyond anything needed for 26^5 codes and a handful of live rooms;
	// hitting it means the taken() predicate is broken.
	maxCodeAttempts = 1000
)

func generateRoomCode(rng *rand.Rand) string {
	code := make([]byte, codeLength)
	for i := range code {
		code[i] = codeAlphabet[rng.Intn(len(codeAlphabet))]
	}
	return string(code)
}

// uniqueRoomCode draws codes until one is not taken.
func uniqueRoomCode(rng *rand.Rand, taken func(string) bool) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code := generateRoomCode(rng)
		if !taken(code) {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrIDSpaceExhausted, maxCodeAttempts)
}
