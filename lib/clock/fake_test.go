// Copyright 2026 The ttyspool Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

func TestFakeClockStandsStill(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	c := Fake(start)
	if got := c.Now(); !got.Equal(start) {
		t.Errorf("Now(): got %v, want %v", got, start)
	}
	if got := c.Now(); !got.Equal(start) {
		t.Errorf("second Now(): got %v, want %v", got, start)
	}
}

func TestFakeClockAdvance(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	c := Fake(start)
	c.Advance(90 * time.Second)

	want := start.Add(90 * time.Second)
	if got := c.Now(); !got.Equal(want) {
		t.Errorf("Now() after Advance: got %v, want %v", got, want)
	}
}

func TestFakeClockSet(t *testing.T) {
	t.Parallel()

	c := Fake(time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC))
	want := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	c.Set(want)

	if got := c.Now(); !got.Equal(want) {
		t.Errorf("Now() after Set: got %v, want %v", got, want)
	}
}
