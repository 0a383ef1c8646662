package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAfterFuncFiresAtDeadline(t *testing.T) {
	c := Fake(epoch)
	var firedAt time.Time
	c.AfterFunc(3*time.Second, func() { firedAt = c.Now() })

	c.Advance(2 * time.Second)
	if !firedAt.IsZero() {
		t.Fatalf("fired early at %v", firedAt)
	}
	c.Advance(2 * time.Second)
	if want := epoch.Add(3 * time.Second); !firedAt.Equal(want) {
		t.Errorf("fired at %v, want %v", firedAt, want)
	}
	if got := c.Now(); !got.Equal(epoch.Add(4 * time.Second)) {
		t.Errorf("Now = %v after advance", got)
	}
}

func TestFakeStopCancels(t *testing.T) {
	c := Fake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatal("Stop on pending timer returned false")
	}
	c.Advance(time.Minute)
	if fired {
		t.Error("stopped timer fired")
	}
	if timer.Stop() {
		t.Error("second Stop returned true")
	}
}

func TestEveryFiresOncePerIntervalAcrossLongAdvance(t *testing.T) {
	c := Fake(epoch)
	var at []time.Time
	stop := Every(c, time.Second, func() { at = append(at, c.Now()) })

	c.Advance(5 * time.Second)
	if len(at) != 5 {
		t.Fatalf("got %d calls, want 5", len(at))
	}
	for i, ts := range at {
		if want := epoch.Add(time.Duration(i+1) * time.Second); !ts.Equal(want) {
			t.Errorf("call %d at %v, want %v", i, ts, want)
		}
	}

	stop()
	c.Advance(5 * time.Second)
	if len(at) != 5 {
		t.Errorf("calls after stop: got %d, want 5", len(at))
	}
	if c.Pending() != 0 {
		t.Errorf("Pending = %d after stop", c.Pending())
	}
}

func TestAdvanceToIgnoresPast(t *testing.T) {
	c := Fake(epoch)
	c.AdvanceTo(epoch.Add(-time.Hour))
	if !c.Now().Equal(epoch) {
		t.Errorf("clock moved backwards to %v", c.Now())
	}
}

func TestCallbacksRunInDeadlineOrder(t *testing.T) {
	c := Fake(epoch)
	var order []int
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })
	c.AfterFunc(time.Second, func() { order = append(order, 1) })
	c.AfterFunc(2*time.Second, func() { order = append(order, 3) })

	c.Advance(10 * time.Second)
	want := []int{1, 2, 3}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}
