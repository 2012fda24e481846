package timer

import (
	"redshift/kernel/gate"
	"testing"
)

func resetQueue() {
	queue = nil
	switchHook = nil
}

func TestHash32IsStableAndDistinct(t *testing.T) {
	a := hash32("tick")
	b := hash32("tick")
	c := hash32("tock")
	if a != b {
		t.Fatalf("expected identical names to hash identically")
	}
	if a == c {
		t.Fatalf("expected differing names to hash differently")
	}
}

func TestAddEventRejectsNilCallback(t *testing.T) {
	resetQueue()
	defer resetQueue()

	AddEvent("noop", 1000, nil, nil)
	if len(queue) != 0 {
		t.Fatalf("expected a nil callback to be rejected, got %d queued events", len(queue))
	}
}

func TestOnTickFiresAfterPeriodElapses(t *testing.T) {
	resetQueue()
	defer resetQueue()

	var fired int
	AddEvent("five-ticks", 5*TickUsec, func(arg interface{}) bool {
		fired++
		return true
	}, nil)

	for i := 0; i < 4; i++ {
		onTick(&gate.Registers{}, &gate.Frame{})
	}
	if fired != 0 {
		t.Fatalf("expected no callback before the period elapsed, fired=%d", fired)
	}

	onTick(&gate.Registers{}, &gate.Frame{})
	if fired != 1 {
		t.Fatalf("expected exactly one callback after 5 ticks, fired=%d", fired)
	}
	if queue[0].elapsedTime != 0 {
		t.Fatalf("expected elapsed time to reset after firing")
	}
}

func TestOnTickRemovesEventWhenCallbackReturnsFalse(t *testing.T) {
	resetQueue()
	defer resetQueue()

	AddEvent("one-shot", TickUsec, func(arg interface{}) bool {
		return false
	}, nil)

	onTick(&gate.Registers{}, &gate.Frame{})
	if len(queue) != 0 {
		t.Fatalf("expected the event to be removed after returning false, queue has %d entries", len(queue))
	}
}

func TestRemoveEventByName(t *testing.T) {
	resetQueue()
	defer resetQueue()

	AddEvent("a", 1000, func(arg interface{}) bool { return true }, nil)
	AddEvent("b", 1000, func(arg interface{}) bool { return true }, nil)

	RemoveEvent("a")
	if len(queue) != 1 || queue[0].name != "b" {
		t.Fatalf("expected only event \"b\" to remain, got %v", queue)
	}
}

func TestOnTickInvokesSwitchHook(t *testing.T) {
	resetQueue()
	defer resetQueue()

	var called int
	SetSwitchHook(func(regs *gate.Registers) { called++ })

	onTick(&gate.Registers{}, &gate.Frame{})
	if called != 1 {
		t.Fatalf("expected the switch hook to run once per tick, called=%d", called)
	}
}
