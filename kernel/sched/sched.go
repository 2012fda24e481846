// Package sched implements a priority round-robin process scheduler driven
// by the timer tick: 16 priority buckets, each a circular queue of process
// records threaded by index rather than pointer.
package sched

import (
	"redshift/kernel"
	"redshift/kernel/gate"
	"redshift/kernel/kfmt"
	"redshift/kernel/mem"
	"redshift/kernel/mem/heap"
	"redshift/kernel/mem/vmm"
	"redshift/kernel/timer"
)

// MaxPriority is the highest priority queue index; queues are scanned from
// MaxPriority down to 0 so higher-priority processes always preempt lower
// ones when runnable.
const MaxPriority = 15

// Flag selects the privilege level (and therefore the segment selectors) a
// spawned process runs with.
type Flag uint8

const (
	Supervisor Flag = iota
	User
)

// Segment selectors installed into a process' saved state at spawn time.
const (
	supervisorCS = 0x08
	supervisorDS = 0x10
	userCS       = 0x1B
	userDS       = 0x23
)

// State is the saved register/frame snapshot for a non-running process. Its
// field layout mirrors gate.Registers/gate.Frame so a timer-tick interrupt
// frame can be copied into it directly.
type State struct {
	gate.Registers
	gate.Frame
}

// process is one process table entry. next indexes the following process
// in the same priority queue; queues are arenas of indices rather than
// pointers so the scheduler has no cyclic pointer structures to manage.
type process struct {
	id         int
	priority   int
	blocked    bool
	live       bool
	dir        *vmm.PageDirectoryTable
	state      State
	stackAddr  uintptr
	stackSize  uintptr
	next       int // index into table, -1 if this is the only entry
}

const maxProcesses = 256

var (
	table   [maxProcesses]process
	nextID  int
	lastOf  [MaxPriority + 1]int // index of the last-run process in each queue, -1 if empty
	current int                  = -1
)

func init() {
	for i := range table {
		table[i].next = -1
	}
	for i := range lastOf {
		lastOf[i] = -1
	}
}

// kernelHeap backs on-demand stack allocation for processes spawned with
// stackAddr == 0. SetHeap must be called once during boot, after the
// kernel heap has been created, and before the first Spawn.
var kernelHeap *heap.Heap

// SetHeap installs the heap Spawn allocates process stacks from.
func SetHeap(h *heap.Heap) {
	kernelHeap = h
}

// Init wires the scheduler into the timer tick.
func Init() {
	timer.SetSwitchHook(func(regs *gate.Registers) {
		Switch(regs, nil)
	})
}

// Spawn creates a new process at the given priority. If stackAddr is zero,
// stackSize bytes are allocated from the kernel heap. Returns the new
// process' id, or -1 if priority is out of range.
func Spawn(entry uintptr, dir *vmm.PageDirectoryTable, priority int, stackAddr uintptr, stackSize uintptr, flags Flag) int {
	defer kernel.EnterCritical()()

	if priority < 0 || priority > MaxPriority {
		kfmt.Printf("sched: invalid priority %d\n", priority)
		return -1
	}

	slot := allocSlot()
	if slot < 0 {
		kfmt.Panic(&kernel.Error{Module: "sched", Message: "process table exhausted"})
		return -1
	}

	if stackAddr == 0 {
		addr, err := heap.Alloc(kernelHeap, mem.Size(stackSize), false)
		if err != nil {
			kfmt.Panic(&kernel.Error{Module: "sched", Message: "failed to allocate process stack"})
			return -1
		}
		stackAddr = addr
	}

	p := &table[slot]
	p.id = nextID
	nextID++
	p.priority = priority
	p.blocked = false
	p.live = true
	p.dir = dir
	p.stackAddr = stackAddr
	p.stackSize = stackSize
	p.state = State{}

	if flags == Supervisor {
		p.state.DS = supervisorDS
		p.state.CS = supervisorCS
	} else {
		p.state.DS = userDS
		p.state.CS = userCS
	}
	p.state.EIP = uint32(entry)
	p.state._ESP = uint32(stackAddr + stackSize)

	enqueue(slot)
	if current < 0 {
		current = slot
	}

	kfmt.Printf("sched: spawned process id=%d priority=%d entry=0x%x\n", p.id, priority, uint32(entry))
	return p.id
}

// allocSlot finds an unused process table entry.
func allocSlot() int {
	for i := range table {
		if !table[i].live {
			return i
		}
	}
	return -1
}

// enqueue appends the process at slot to the back of its priority queue.
func enqueue(slot int) {
	p := &table[slot]
	last := lastOf[p.priority]
	if last < 0 {
		p.next = slot
		lastOf[p.priority] = slot
		return
	}
	p.next = table[last].next
	table[last].next = slot
	lastOf[p.priority] = slot
}

// dequeue removes the process at slot from its priority queue entirely
// (used by Terminate).
func dequeue(slot int) {
	p := &table[slot]
	if p.next == slot {
		lastOf[p.priority] = -1
		return
	}
	prev := slot
	for table[prev].next != slot {
		prev = table[prev].next
	}
	table[prev].next = p.next
	if lastOf[p.priority] == slot {
		lastOf[p.priority] = prev
	}
}

// Switch is called from the timer tick (or Yield) with the interrupted
// register/frame state. It saves that state into the current process, then
// picks the next runnable process by strict priority and round-robin
// within a priority, loads its page directory, and resumes it.
//
//go:nosplit
func Switch(regs *gate.Registers, frame *gate.Frame) {
	if current >= 0 {
		if regs != nil {
			table[current].state.Registers = *regs
		}
		if frame != nil {
			table[current].state.Frame = *frame
		}
	}

	for priority := MaxPriority; priority >= 0; priority-- {
		last := lastOf[priority]
		if last < 0 {
			continue
		}

		candidate := table[last].next
		for {
			if !table[candidate].blocked {
				lastOf[priority] = candidate
				current = candidate
				resume(candidate)
				return
			}
			if candidate == last {
				break
			}
			candidate = table[candidate].next
		}
	}
}

// jumpToStateFn is indirected through a var so tests can substitute a stub
// for the assembly trampoline, which never returns on real hardware.
var jumpToStateFn = jumpToState

// resume loads the chosen process' page directory and transfers control to
// its saved state via the architecture-private trampoline. It never
// returns.
//go:nosplit
func resume(slot int) {
	p := &table[slot]
	if p.dir != nil {
		p.dir.Load()
	}
	jumpToStateFn(&p.state)
}

// Yield voluntarily gives up the remainder of the current process' time
// slice by invoking Switch with no new register state, causing the
// scheduler to resume the current process' own saved state (a no-op) or,
// if another process of equal or higher priority is ready, switch to it.
func Yield() {
	Switch(nil, nil)
}

// GetCurrentProcessID reports the id of the currently scheduled process, or
// -1 if none has been spawned yet.
func GetCurrentProcessID() int {
	if current < 0 {
		return -1
	}
	return table[current].id
}

// ProcessInfo is a read-only snapshot of a process table entry.
type ProcessInfo struct {
	ID       int
	Priority int
	Blocked  bool
}

// GetCurrentProcess reports the currently scheduled process, or false if no
// process has been spawned yet.
func GetCurrentProcess() (ProcessInfo, bool) {
	if current < 0 {
		return ProcessInfo{}, false
	}
	p := &table[current]
	return ProcessInfo{ID: p.id, Priority: p.priority, Blocked: p.blocked}, true
}

// Terminate removes the process with the given id from its queue. This is
// not part of the original baseline (processes there loop forever); it
// resolves the open question of how a process exits.
func Terminate(pid int) {
	defer kernel.EnterCritical()()

	for i := range table {
		if table[i].live && table[i].id == pid {
			dequeue(i)
			table[i] = process{next: -1}
			if current == i {
				current = -1
			}
			return
		}
	}
}

// Block marks the process with the given id as blocked, removing it from
// scheduling consideration until Unblock is called.
func Block(pid int) {
	defer kernel.EnterCritical()()
	if i, ok := findByID(pid); ok {
		table[i].blocked = true
	}
}

// Unblock marks a previously-blocked process as runnable again.
func Unblock(pid int) {
	defer kernel.EnterCritical()()
	if i, ok := findByID(pid); ok {
		table[i].blocked = false
	}
}

func findByID(pid int) (int, bool) {
	for i := range table {
		if table[i].live && table[i].id == pid {
			return i, true
		}
	}
	return 0, false
}
