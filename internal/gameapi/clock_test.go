package gameapi

import "testing"

func TestClockSetTimeAndSeedAreDeterministic(t *testing.T) {
	c := NewClock()
	c.SetTime(123456)
	if c.Now() != 123456 {
		t.Fatalf("Now() = %d, want 123456", c.Now())
	}

	c.SetSeed(42)
	a := c.Rand().IntN(1000)
	c.SetSeed(42)
	b := c.Rand().IntN(1000)
	if a != b {
		t.Fatalf("same seed produced different draws: %d != %d", a, b)
	}
}
