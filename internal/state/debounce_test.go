package state

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncerCollapsesBursts(t *testing.T) {
	var fired atomic.Int32
	d := NewDebouncer(20*time.Millisecond, func() { fired.Add(1) })

	for i := 0; i < 5; i++ {
		d.Trigger()
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(60 * time.Millisecond)

	if got := fired.Load(); got != 1 {
		t.Fatalf("burst should collapse to one invocation, got %d", got)
	}
}

func TestDebouncerFlushRunsNow(t *testing.T) {
	var fired atomic.Int32
	d := NewDebouncer(time.Hour, func() { fired.Add(1) })

	d.Trigger()
	d.Flush()
	if got := fired.Load(); got != 1 {
		t.Fatalf("flush should run immediately, got %d", got)
	}

	time.Sleep(10 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Fatalf("the pending timer should be cancelled, got %d", got)
	}
}

func TestDebouncerStop(t *testing.T) {
	var fired atomic.Int32
	d := NewDebouncer(10*time.Millisecond, func() { fired.Add(1) })

	d.Trigger()
	d.Stop()
	time.Sleep(40 * time.Millisecond)
	if got := fired.Load(); got != 0 {
		t.Fatalf("stop should cancel without firing, got %d", got)
	}
}
