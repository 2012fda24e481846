package kernel

import "redshift/kernel/cpu"

// These are indirected through package-level vars, mocked by tests, and
// automatically inlined by the compiler in production builds.
var (
	interruptsEnabledFn = cpu.InterruptsEnabled
	disableInterruptsFn = cpu.DisableInterrupts
	enableInterruptsFn  = cpu.EnableInterrupts
)

// EnterCritical disables interrupts and returns a closure that restores the
// interrupt flag to whatever it was before the call. Pair it with defer so
// every exit path -- including a panic -- restores the flag exactly once:
//
//	defer kernel.EnterCritical()()
func EnterCritical() func() {
	wasEnabled := interruptsEnabledFn()
	disableInterruptsFn()
	return func() {
		if wasEnabled {
			enableInterruptsFn()
		}
	}
}
