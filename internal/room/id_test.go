package room

import (
	"errors"
	"math/rand"
	"testing"
)

func TestGenerateRoomCode(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		code := generateRoomCode(rng)
		if len(code) != codeLength {
			t.Fatalf("code %q has length %d", code, len(code))
		}
		for _, ch := range code {
			if ch < 'A' || ch > 'Z' {
				t.Fatalf("code %q has character %q", code, ch)
			}
		}
	}
}

func TestUniqueRoomCodeSkipsTaken(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	first := generateRoomCode(rand.New(rand.NewSource(7)))

	code, err := uniqueRoomCode(rng, func(c string) bool { return c == first })
	if err != nil {
		t.Fatalf("uniqueRoomCode: %v", err)
	}
	if code == first {
		t.Errorf("got taken code %q", code)
	}
}

func TestUniqueRoomCodeExhausted(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	calls := 0
	_, err := uniqueRoomCode(rng, func(string) bool {
		calls++
		return true
	})
	if !errors.Is(err, ErrIDSpaceExhausted) {
		t.Fatalf("err = %v, want ErrIDSpaceExhausted", err)
	}
	if calls != maxCodeAttempts {
		t.Errorf("attempts = %d, want %d", calls, maxCodeAttempts)
	}
}
