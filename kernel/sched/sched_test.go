package sched

import (
	"testing"

	"redshift/kernel/gate"
)

func resetScheduler() {
	for i := range table {
		table[i] = process{next: -1}
	}
	for i := range lastOf {
		lastOf[i] = -1
	}
	current = -1
	nextID = 0
}

func TestSpawnRejectsInvalidPriority(t *testing.T) {
	resetScheduler()
	if pid := Spawn(0x1000, nil, MaxPriority+1, 0x2000, 4096, Supervisor); pid != -1 {
		t.Fatalf("expected -1 for an out-of-range priority, got %d", pid)
	}
}

func TestSpawnSetsSupervisorSegments(t *testing.T) {
	resetScheduler()
	pid := Spawn(0x1000, nil, 3, 0x2000, 4096, Supervisor)
	if pid < 0 {
		t.Fatalf("expected a valid pid")
	}
	slot, ok := findByID(pid)
	if !ok {
		t.Fatalf("expected to find the spawned process")
	}
	if table[slot].state.CS != supervisorCS || table[slot].state.DS != supervisorDS {
		t.Fatalf("expected supervisor segment selectors, got cs=%#x ds=%#x", table[slot].state.CS, table[slot].state.DS)
	}
	if table[slot].state.EIP != 0x1000 {
		t.Fatalf("expected EIP to be set to the entry point")
	}
	if table[slot].state._ESP != 0x2000+4096 {
		t.Fatalf("expected ESP to point at the top of the stack")
	}
}

func TestSpawnSetsUserSegments(t *testing.T) {
	resetScheduler()
	pid := Spawn(0x1000, nil, 3, 0x2000, 4096, User)
	slot, _ := findByID(pid)
	if table[slot].state.CS != userCS || table[slot].state.DS != userDS {
		t.Fatalf("expected user segment selectors, got cs=%#x ds=%#x", table[slot].state.CS, table[slot].state.DS)
	}
}

func TestPriorityQueuesPreferHigherPriority(t *testing.T) {
	resetScheduler()

	low := Spawn(0x1000, nil, 3, 0x2000, 4096, Supervisor)
	highA := Spawn(0x2000, nil, 7, 0x3000, 4096, Supervisor)
	highB := Spawn(0x3000, nil, 7, 0x4000, 4096, Supervisor)

	seen := map[int]int{}
	orig := jumpToStateFn
	jumpToStateFn = func(*State) {}
	defer func() { jumpToStateFn = orig }()

	for i := 0; i < 100; i++ {
		Switch(&gate.Registers{}, &gate.Frame{})
		seen[GetCurrentProcessID()]++
	}

	if seen[low] != 0 {
		t.Fatalf("expected the priority-3 process to receive no ticks while priority-7 processes are runnable, got %d", seen[low])
	}
	if seen[highA] == 0 || seen[highB] == 0 {
		t.Fatalf("expected both priority-7 processes to alternate, got %v", seen)
	}
}

func TestTerminateRemovesProcess(t *testing.T) {
	resetScheduler()

	pid := Spawn(0x1000, nil, 5, 0x2000, 4096, Supervisor)
	Terminate(pid)

	if _, ok := findByID(pid); ok {
		t.Fatalf("expected the terminated process to be gone from the table")
	}
}

func TestBlockedProcessIsSkipped(t *testing.T) {
	resetScheduler()

	blocked := Spawn(0x1000, nil, 4, 0x2000, 4096, Supervisor)
	runnable := Spawn(0x2000, nil, 4, 0x3000, 4096, Supervisor)
	Block(blocked)

	orig := jumpToStateFn
	jumpToStateFn = func(*State) {}
	defer func() { jumpToStateFn = orig }()

	Switch(&gate.Registers{}, &gate.Frame{})
	if GetCurrentProcessID() != runnable {
		t.Fatalf("expected the blocked process to be skipped in favour of the runnable one")
	}
}
