package sched

// jumpToState loads every register from state and transfers control to
// state.EIP via IRET, mirroring in reverse what the common interrupt stub
// in kernel/gate does on entry. It never returns. Implemented in
// switch_386.s.
//
//go:nosplit
func jumpToState(state *State)
