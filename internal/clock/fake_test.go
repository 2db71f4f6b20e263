package clock

import (
	"testing"
	"time"
)

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	fc := NewFake(time.Unix(1000, 0))
	ch := fc.After(5 * time.Second)

	select {
	case <-ch:
		t.Fatal("fired before Advance")
	default:
	}

	fc.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired before deadline")
	default:
	}

	fc.Advance(time.Second)
	select {
	case got := <-ch:
		want := time.Unix(1005, 0)
		if !got.Equal(want) {
			t.Errorf("fire time = %v, want %v", got, want)
		}
	default:
		t.Fatal("did not fire at deadline")
	}
}

func TestFakeAfterImmediate(t *testing.T) {
	fc := NewFake(time.Unix(0, 0))
	select {
	case <-fc.After(0):
	default:
		t.Fatal("After(0) did not fire immediately")
	}
}

func TestFakeTickerFiresPerPeriod(t *testing.T) {
	fc := NewFake(time.Unix(0, 0))
	tk := fc.NewTicker(10 * time.Second)
	defer tk.Stop()

	fc.Advance(10 * time.Second)
	select {
	case <-tk.C:
	default:
		t.Fatal("no tick after one period")
	}

	fc.Advance(10 * time.Second)
	select {
	case <-tk.C:
	default:
		t.Fatal("no tick after second period")
	}
}

func TestFakeTickerStop(t *testing.T) {
	fc := NewFake(time.Unix(0, 0))
	tk := fc.NewTicker(time.Second)
	tk.Stop()
	fc.Advance(5 * time.Second)
	select {
	case <-tk.C:
		t.Fatal("stopped ticker ticked")
	default:
	}
	if got := fc.Pending(); got != 0 {
		t.Errorf("pending = %d, want 0", got)
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	fc := NewFake(time.Unix(0, 0))
	done := make(chan struct{})
	go func() {
		fc.Sleep(3 * time.Second)
		close(done)
	}()

	fc.WaitForTimers(1)
	fc.Advance(3 * time.Second)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Sleep did not return after Advance")
	}
}

func TestFakeNowAndSince(t *testing.T) {
	start := time.Unix(500, 0)
	fc := NewFake(start)
	fc.Advance(90 * time.Second)
	if got := fc.Now(); !got.Equal(start.Add(90 * time.Second)) {
		t.Errorf("Now = %v, want %v", got, start.Add(90*time.Second))
	}
	if got := fc.Since(start); got != 90*time.Second {
		t.Errorf("Since(start) = %v, want 90s", got)
	}
}
