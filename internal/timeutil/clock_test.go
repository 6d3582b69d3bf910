package timeutil

import (
	"testing"
	"time"
)

func TestRealClockNow(t *testing.T) {
	before := time.Now()
	got := RealClock{}.Now()
	after := time.Now()
	if got.Before(before) || got.After(after) {
		t.Errorf("RealClock.Now() = %v, outside [%v, %v]", got, before, after)
	}
}

func TestFakeClockAdvance(t *testing.T) {
	start := time.UnixMilli(1700000000000)
	c := NewFakeClock(start)

	if !c.Now().Equal(start) {
		t.Errorf("Now() = %v, want %v", c.Now(), start)
	}

	c.Advance(250 * time.Millisecond)
	want := start.Add(250 * time.Millisecond)
	if !c.Now().Equal(want) {
		t.Errorf("Now() after Advance = %v, want %v", c.Now(), want)
	}
}
