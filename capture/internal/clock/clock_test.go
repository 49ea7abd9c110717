package clock

import (
	"context"
	"errors"
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFake_TickerDeliversInOrder(t *testing.T) {
	f := NewFake(epoch)
	tk := f.NewTicker(200 * time.Millisecond)
	defer tk.Stop()

	got := make(chan time.Time, 10)
	go func() {
		for i := 0; i < 3; i++ {
			got <- <-tk.C()
		}
	}()
	f.Advance(600 * time.Millisecond)

	for i := 1; i <= 3; i++ {
		want := epoch.Add(time.Duration(i) * 200 * time.Millisecond)
		if tick := <-got; !tick.Equal(want) {
			t.Fatalf("tick %d: got %v, want %v", i, tick, want)
		}
	}
	if !f.Now().Equal(epoch.Add(600 * time.Millisecond)) {
		t.Fatalf("now: got %v", f.Now())
	}
}

func TestFake_TimerFiresOnce(t *testing.T) {
	f := NewFake(epoch)
	tm := f.NewTimer(time.Second)
	f.Advance(999 * time.Millisecond)
	select {
	case <-tm.C():
		t.Fatal("timer fired early")
	default:
	}
	f.Advance(time.Millisecond)
	select {
	case <-tm.C():
	default:
		t.Fatal("timer did not fire")
	}
	if f.Waiters() != 0 {
		t.Fatalf("waiters after fire: got %d, want 0", f.Waiters())
	}
}

func TestFake_StopRemovesWaiter(t *testing.T) {
	f := NewFake(epoch)
	tm := f.NewTimer(time.Second)
	tk := f.NewTicker(time.Second)
	if f.Waiters() != 2 {
		t.Fatalf("waiters: got %d, want 2", f.Waiters())
	}
	if !tm.Stop() {
		t.Fatal("Stop on pending timer should report true")
	}
	tk.Stop()
	if f.Waiters() != 0 {
		t.Fatalf("waiters after stop: got %d, want 0", f.Waiters())
	}
	f.Advance(5 * time.Second)
}

func TestSleep_Cancelled(t *testing.T) {
	f := NewFake(epoch)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, f, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("Sleep: got %v, want context.Canceled", err)
	}
}

func TestWithDeadline_Fake(t *testing.T) {
	f := NewFake(epoch)
	ctx, cancel := WithDeadline(context.Background(), f, epoch.Add(time.Second))
	defer cancel()

	f.BlockUntil(1)
	f.Advance(time.Second)
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled at deadline")
	}
	if !errors.Is(context.Cause(ctx), context.DeadlineExceeded) {
		t.Fatalf("cause: got %v", context.Cause(ctx))
	}
}

func TestWithDeadline_CancelReleasesTimer(t *testing.T) {
	f := NewFake(epoch)
	_, cancel := WithDeadline(context.Background(), f, epoch.Add(time.Second))
	f.BlockUntil(1)
	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for f.Waiters() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("timer not released after cancel")
		}
		time.Sleep(time.Millisecond)
	}
}
