package jitter

import (
	"testing"
	"time"
)

func TestExponentialDoublesPerAttempt(t *testing.T) {
	base := 100 * time.Millisecond
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond}
	for i, w := range want {
		if got := Exponential(base, 0, i); got != w {
			t.Errorf("attempt %d: got %v want %v", i, got, w)
		}
	}
}

func TestExponentialRespectsCap(t *testing.T) {
	if got := Exponential(time.Second, 3*time.Second, 5); got != 3*time.Second {
		t.Fatalf("got %v, want cap 3s", got)
	}
}

func TestDurationStaysInRange(t *testing.T) {
	d := time.Second
	for i := 0; i < 100; i++ {
		got := Duration(d, DefaultJitter)
		if got < d || got > d+d/2 {
			t.Fatalf("jittered duration %v out of range", got)
		}
	}
	if got := Duration(d, 0); got != d {
		t.Fatalf("zero jitter must not change duration, got %v", got)
	}
}
