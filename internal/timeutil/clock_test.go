package timeutil

import (
	"testing"
	"time"
)

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	before := time.Now()
	now := c.Now()
	if now.Before(before) {
		t.Errorf("Now() = %v is before %v", now, before)
	}
	if c.Since(before) < 0 {
		t.Error("Since() should not be negative")
	}
}

func TestMockClock(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	if !c.Now().Equal(start) {
		t.Errorf("Now() = %v, want %v", c.Now(), start)
	}

	c.Advance(90 * time.Second)
	if got := c.Since(start); got != 90*time.Second {
		t.Errorf("Since() = %v, want 90s", got)
	}

	later := start.Add(time.Hour)
	c.Set(later)
	if !c.Now().Equal(later) {
		t.Errorf("after Set, Now() = %v, want %v", c.Now(), later)
	}
}
