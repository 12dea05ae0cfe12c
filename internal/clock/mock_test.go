package clock

import (
	"testing"
	"time"
)

func TestMockTimerFiresOnlyAfterDeadline(t *testing.T) {
	m := NewMock(time.Unix(0, 0))
	timer := m.NewTimer(time.Second)

	m.Advance(999 * time.Millisecond)
	select {
	case <-timer.C():
		t.Fatalf("timer fired before deadline")
	default:
	}

	m.Advance(time.Millisecond)
	select {
	case <-timer.C():
	default:
		t.Fatalf("timer did not fire at deadline")
	}
	if got := len(m.Pending()); got != 0 {
		t.Fatalf("expected no pending timers, got %d", got)
	}
}

func TestMockStoppedTimerNeverFires(t *testing.T) {
	m := NewMock(time.Unix(0, 0))
	timer := m.NewTimer(time.Second)
	if !timer.Stop() {
		t.Fatalf("expected Stop to report an active timer")
	}
	m.Advance(2 * time.Second)
	select {
	case <-timer.C():
		t.Fatalf("stopped timer fired")
	default:
	}
	if timer.Stop() {
		t.Fatalf("second Stop should report inactive timer")
	}
}

func TestMockTickerRepeats(t *testing.T) {
	m := NewMock(time.Unix(0, 0))
	ticker := m.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for i := 0; i < 3; i++ {
		m.Advance(5 * time.Second)
		select {
		case <-ticker.C():
		default:
			t.Fatalf("tick %d missing", i)
		}
	}
	if pending := m.Pending(); len(pending) != 1 || pending[0] != 5*time.Second {
		t.Fatalf("unexpected pending ticker set: %v", pending)
	}
}
