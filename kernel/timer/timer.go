// Package timer programs the 8253/8254-compatible PIT and drives a queue of
// periodic events from its IRQ 0 tick.
package timer

import (
	"redshift/kernel"
	"redshift/kernel/cpu"
	"redshift/kernel/gate"
	"redshift/kernel/kfmt"
)

// TickRate is the frequency, in Hz, that the PIT is programmed to interrupt
// at. TickUsec is the corresponding tick period in microseconds.
const (
	TickRate = 1000
	TickUsec = 1000000 / TickRate
)

const (
	pitData    = 0x40
	pitCommand = 0x43
	pitDivisor = 1193180
	// pitModeSquareWave selects channel 0, lobyte/hibyte access, mode 3
	// (square wave generator), binary counting.
	pitModeSquareWave = 0x36
)

// Callback runs when an event's period elapses. It returns false to request
// that the event be removed instead of rearmed.
type Callback func(arg interface{}) bool

// event is one entry in the timer queue.
type event struct {
	name        string
	nameHash    uint32
	period      uint32
	elapsedTime uint32
	callback    Callback
	arg         interface{}
}

var queue []*event

// switchHook, when set, is invoked on every tick with the interrupted
// register state before the timer queue is processed. The scheduler wires
// itself in here rather than the timer package depending on it directly.
var switchHook func(regs *gate.Registers)

// SetSwitchHook installs the function called on every tick prior to walking
// the event queue; passing nil uninstalls it.
func SetSwitchHook(fn func(regs *gate.Registers)) {
	switchHook = fn
}

// hash32 is the djb2-style 32-bit hash used to identify events by name.
func hash32(name string) uint32 {
	var h uint32 = 5381
	for i := 0; i < len(name); i++ {
		h = h*33 + uint32(name[i])
	}
	return h
}

// Init programs the PIT divisor for TickRate and installs the IRQ 0 handler
// that drives the event queue.
func Init() {
	defer kernel.EnterCritical()()

	divisor := uint32(pitDivisor / TickRate)
	cpu.Outb(pitCommand, pitModeSquareWave)
	cpu.Outb(pitData, uint8(divisor))
	cpu.Outb(pitData, uint8(divisor>>8))

	gate.Handle(gate.IRQ(0), onTick)
}

// AddEvent appends a new periodic event to the queue. period is expressed
// in microseconds and compared against an accumulator incremented by
// TickUsec on every tick.
func AddEvent(name string, periodUsec uint32, callback Callback, arg interface{}) {
	if callback == nil {
		return
	}
	defer kernel.EnterCritical()()

	queue = append(queue, &event{
		name:     name,
		nameHash: hash32(name),
		period:   periodUsec,
		callback: callback,
		arg:      arg,
	})
}

// RemoveEvent removes the first queued event whose name hashes to the same
// value as name. It is a no-op if no such event is queued.
func RemoveEvent(name string) {
	defer kernel.EnterCritical()()

	h := hash32(name)
	for i, e := range queue {
		if e.nameHash == h {
			queue = append(queue[:i], queue[i+1:]...)
			return
		}
	}
}

// onTick is installed as the IRQ 0 handler. It notifies the scheduler hook
// (if any), then walks the event queue in order, firing and rearming or
// removing events whose period has elapsed.
func onTick(regs *gate.Registers, frame *gate.Frame) {
	if switchHook != nil {
		switchHook(regs)
	}

	for i := 0; i < len(queue); {
		e := queue[i]
		e.elapsedTime += TickUsec
		if e.elapsedTime < e.period {
			i++
			continue
		}

		kfmt.Printf("timer: event \"%s\" raised\n", e.name)
		keep := e.callback(e.arg)
		e.elapsedTime = 0
		if keep {
			i++
			continue
		}
		queue = append(queue[:i], queue[i+1:]...)
	}
}
