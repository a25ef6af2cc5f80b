package timeutil

import (
	"testing"
	"time"
)

func TestRealClockNow(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClockSince(t *testing.T) {
	clock := RealClock{}
	past := time.Now().Add(-time.Second)
	if d := clock.Since(past); d < time.Second {
		t.Errorf("Since() returned %v, expected >= 1s", d)
	}
}

func TestMockClockAdvance(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := NewMockClock(start)

	if got := clock.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}

	clock.Advance(90 * time.Second)
	want := start.Add(90 * time.Second)
	if got := clock.Now(); !got.Equal(want) {
		t.Fatalf("Now() after Advance = %v, want %v", got, want)
	}
}

func TestMockTimerFires(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	timer := clock.NewTimer(5 * time.Second)

	select {
	case <-timer.C():
		t.Fatal("timer fired before deadline")
	default:
	}

	clock.Advance(4 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("timer fired at 4s, deadline is 5s")
	default:
	}

	clock.Advance(time.Second)
	select {
	case <-timer.C():
	default:
		t.Fatal("timer did not fire at deadline")
	}

	// A fired timer does not fire again.
	clock.Advance(10 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("timer fired twice")
	default:
	}
}

func TestMockTimerStop(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	timer := clock.NewTimer(time.Second)

	if !timer.Stop() {
		t.Error("Stop() on an active timer should return true")
	}
	if timer.Stop() {
		t.Error("Stop() on a stopped timer should return false")
	}

	clock.Advance(2 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestMockTickerFires(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(time.Second)

	clock.Advance(time.Second)
	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker did not fire after one interval")
	}

	ticker.Stop()
	clock.Advance(5 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestMockTickerTrigger(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(time.Hour)
	mt := ticker.(*MockTicker)

	now := clock.Now()
	mt.Trigger(now)
	select {
	case got := <-ticker.C():
		if !got.Equal(now) {
			t.Errorf("Trigger delivered %v, want %v", got, now)
		}
	default:
		t.Fatal("Trigger did not deliver a tick")
	}
}

func TestMockClockTickers(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	clock.NewTicker(time.Second)
	clock.NewTicker(2 * time.Second)

	tickers := clock.Tickers()
	if len(tickers) != 2 {
		t.Fatalf("Tickers() returned %d entries, want 2", len(tickers))
	}
	if tickers[0].Interval() != time.Second || tickers[1].Interval() != 2*time.Second {
		t.Errorf("Tickers() order wrong: %v, %v", tickers[0].Interval(), tickers[1].Interval())
	}
}

func TestMockClockAfter(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ch := clock.After(3 * time.Second)

	clock.Advance(3 * time.Second)
	select {
	case <-ch:
	default:
		t.Fatal("After channel did not deliver")
	}
}
