// Package gate installs and dispatches the interrupt descriptor table (IDT)
// entries for the 32 CPU exceptions and the 16 PIC-routed hardware IRQs.
package gate

import (
	"unsafe"

	"redshift/kernel/cpu"
	"redshift/kernel/kfmt"
)

// Registers contains a snapshot of the general-purpose register values
// pushed by the common interrupt stub, in the reverse of the order they
// were pushed (the x86 stack is LIFO).
type Registers struct {
	DS                  uint32
	EDI, ESI, EBP, _ESP uint32
	EBX, EDX, ECX, EAX  uint32
	IntNo, ErrorCode    uint32
}

// Print outputs the register contents to the active console.
func (r *Registers) Print() {
	kfmt.Printf("EAX = %8x EBX = %8x ECX = %8x EDX = %8x\n", r.EAX, r.EBX, r.ECX, r.EDX)
	kfmt.Printf("ESI = %8x EDI = %8x EBP = %8x\n", r.ESI, r.EDI, r.EBP)
	kfmt.Printf("DS  = %8x INT = %8x ERR = %8x\n", r.DS, r.IntNo, r.ErrorCode)
}

// Frame describes the exception frame the CPU itself pushes onto the stack
// before transferring control to an interrupt gate.
type Frame struct {
	EIP, CS, EFlags uint32
}

// Print outputs the exception frame contents to the active console.
func (f *Frame) Print() {
	kfmt.Printf("EIP = %8x CS  = %8x EFL = %8x\n", f.EIP, f.CS, f.EFlags)
}

// InterruptNumber identifies an IDT slot: 0-31 are CPU exceptions, 32-47 are
// the PIC-remapped hardware IRQs.
type InterruptNumber uint8

// irqBase is the vector the master PIC's IRQ0 is remapped to. IRQs occupy
// the 16 vectors starting here.
const irqBase = 32

// IRQ returns the interrupt vector that hardware IRQ line n is remapped to.
func IRQ(n uint8) InterruptNumber { return InterruptNumber(irqBase + n) }

const (
	DivideByZero               = InterruptNumber(0)
	Debug                      = InterruptNumber(1)
	NMI                        = InterruptNumber(2)
	Breakpoint                 = InterruptNumber(3)
	Overflow                   = InterruptNumber(4)
	BoundRangeExceeded         = InterruptNumber(5)
	InvalidOpcode              = InterruptNumber(6)
	DeviceNotAvailable         = InterruptNumber(7)
	DoubleFault                = InterruptNumber(8)
	CoprocessorSegmentOverrun  = InterruptNumber(9)
	InvalidTSS                 = InterruptNumber(10)
	SegmentNotPresent          = InterruptNumber(11)
	StackSegmentFault          = InterruptNumber(12)
	GPFException               = InterruptNumber(13)
	PageFaultException         = InterruptNumber(14)
	FloatingPointException     = InterruptNumber(16)
	AlignmentCheck             = InterruptNumber(17)
	MachineCheck               = InterruptNumber(18)
	SIMDFloatingPointException = InterruptNumber(19)
	VirtualizationException    = InterruptNumber(20)
	SecurityException          = InterruptNumber(30)
)

// hasErrorCode reports whether the CPU pushes an error code for this
// exception. IRQs and exceptions not listed here never carry one.
func hasErrorCode(n InterruptNumber) bool {
	switch n {
	case DoubleFault, InvalidTSS, SegmentNotPresent, StackSegmentFault,
		GPFException, PageFaultException, AlignmentCheck, SecurityException:
		return true
	default:
		return false
	}
}

// exceptionNames maps the CPU-defined exception numbers to a short,
// human-readable description used when no handler is installed.
var exceptionNames = map[InterruptNumber]string{
	DivideByZero:               "divide-by-zero",
	Debug:                      "debug",
	NMI:                        "non-maskable interrupt",
	Breakpoint:                 "breakpoint",
	Overflow:                   "overflow",
	BoundRangeExceeded:         "bound-range exceeded",
	InvalidOpcode:              "invalid opcode",
	DeviceNotAvailable:         "device not available",
	DoubleFault:                "double fault",
	CoprocessorSegmentOverrun:  "coprocessor segment overrun",
	InvalidTSS:                 "invalid TSS",
	SegmentNotPresent:          "segment not present",
	StackSegmentFault:          "stack-segment fault",
	GPFException:               "general protection fault",
	PageFaultException:         "page fault",
	FloatingPointException:     "floating-point exception",
	AlignmentCheck:             "alignment check",
	MachineCheck:               "machine check",
	SIMDFloatingPointException: "SIMD floating-point exception",
	VirtualizationException:    "virtualization exception",
	SecurityException:          "security exception",
}

// Handler processes an interrupt. regs holds the general-purpose registers
// at the time of the interrupt and frame holds the CPU-pushed exception
// frame; both may be mutated by the handler if it intends to modify
// execution state before returning via IRET.
type Handler func(regs *Registers, frame *Frame)

// outbFn and loadIDTFn indirect the two raw hardware accesses this package
// makes outside of dispatch's handler call so tests can run remapPIC,
// installIDT and dispatch without executing privileged I/O instructions.
var (
	outbFn    = cpu.Outb
	loadIDTFn = cpu.LoadIDT
)

var handlers [256]Handler

// FaultHook, when non-nil, is invoked with the register/frame snapshot of
// every unhandled CPU exception before it is reported and the kernel
// panics. kernel/debug installs its fault recorder here during boot.
var FaultHook func(regs *Registers, frame *Frame)

// Handle installs handler as the routine invoked whenever interrupt n
// fires. Passing a nil handler uninstalls any previously registered one.
func Handle(n InterruptNumber, handler Handler) {
	handlers[n] = handler
}

// Init populates and loads the IDT, remaps the PIC so hardware IRQs land on
// vectors 32-47 (clear of the CPU exception range) and installs the matching
// entry stub in each exception (0-31) and IRQ (32-47) gate.
func Init() {
	remapPIC()
	installIDT()
}

// dispatch is called (by name, from the assembly common stub) for every
// interrupt. It acknowledges hardware interrupts at the PIC, reports
// unhandled CPU exceptions, and otherwise routes to the installed Handler.
//go:nosplit
func dispatch(regs *Registers, frame *Frame) {
	n := InterruptNumber(regs.IntNo)

	if n >= irqBase {
		sendEOI(n)
	}

	if h := handlers[n]; h != nil {
		h(regs, frame)
		return
	}

	if n >= irqBase {
		kfmt.Printf("gate: debug: dropping IRQ %d, no handler registered\n", uint8(n)-irqBase)
		return
	}

	if FaultHook != nil {
		FaultHook(regs, frame)
	}

	name := exceptionNames[n]
	if name == "" {
		name = "reserved"
	}
	if hasErrorCode(n) {
		kfmt.Printf("unhandled exception %d (%s), error code 0x%x, eip 0x%x\n", uint8(n), name, regs.ErrorCode, frame.EIP)
	} else {
		kfmt.Printf("unhandled exception %d (%s), eip 0x%x\n", uint8(n), name, frame.EIP)
	}
	regs.Print()
	frame.Print()
	kfmt.Panic("unhandled CPU exception")
}

// idtEntry is the hardware layout of a single 32-bit interrupt gate
// descriptor. Field order and widths matter: this struct is written
// verbatim into the table the CPU reads via LIDT.
type idtEntry struct {
	offsetLow  uint16
	selector   uint16
	zero       uint8
	typeAttr   uint8
	offsetHigh uint16
}

const (
	kernelCodeSelector = 0x08
	gate32BitInterrupt = 0x8E // present, ring 0, 32-bit interrupt gate
)

var idtTable [256]idtEntry

// isrStubAddr and irqStubAddr hold the addresses of the assembly entry
// points declared in gate_386.s (isrStub0..isrStub31, irqStub0..irqStub15).
// They are populated by DATA directives in that file rather than at
// runtime, since nothing here can take the address of a bare TEXT symbol.
var (
	isrStubAddr [32]uintptr
	irqStubAddr [16]uintptr
)

func setGate(n InterruptNumber, handlerAddr uintptr) {
	idtTable[n] = idtEntry{
		offsetLow:  uint16(handlerAddr),
		selector:   kernelCodeSelector,
		zero:       0,
		typeAttr:   gate32BitInterrupt,
		offsetHigh: uint16(handlerAddr >> 16),
	}
}

// installIDT fills gates 0-47 with the matching stub address and loads the
// table via LIDT. Vectors 48-255 stay zeroed (not present).
func installIDT() {
	for i, addr := range isrStubAddr {
		setGate(InterruptNumber(i), addr)
	}
	for i, addr := range irqStubAddr {
		setGate(IRQ(uint8(i)), addr)
	}

	limit := uint16(len(idtTable)*8 - 1)
	base := uint32(uintptr(unsafe.Pointer(&idtTable[0])))

	var idtr [6]byte
	idtr[0] = byte(limit)
	idtr[1] = byte(limit >> 8)
	idtr[2] = byte(base)
	idtr[3] = byte(base >> 8)
	idtr[4] = byte(base >> 16)
	idtr[5] = byte(base >> 24)

	loadIDTFn(uintptr(unsafe.Pointer(&idtr[0])))
}

// PIC I/O ports and command bytes for the 8259A remap sequence.
const (
	picMasterCommand = 0x20
	picMasterData    = 0x21
	picSlaveCommand  = 0xA0
	picSlaveData     = 0xA1

	picInitICW1 = 0x11 // ICW1: edge triggered, cascade mode, ICW4 needed
	picICW4_8086 = 0x01 // ICW4: 8086/88 mode

	picEOI = 0x20
)

// remapPIC reprograms both 8259 PICs so that IRQ0-7 land on vectors 32-39
// and IRQ8-15 land on vectors 40-47, clear of the CPU exception range
// 0-31 that the reset vectors default into.
func remapPIC() {
	outbFn(picMasterCommand, picInitICW1)
	outbFn(picSlaveCommand, picInitICW1)
	outbFn(picMasterData, irqBase)      // ICW2: master offset
	outbFn(picSlaveData, irqBase+8)     // ICW2: slave offset
	outbFn(picMasterData, 0x04)         // ICW3: slave attached to IRQ2
	outbFn(picSlaveData, 0x02)          // ICW3: cascade identity
	outbFn(picMasterData, picICW4_8086)
	outbFn(picSlaveData, picICW4_8086)
	outbFn(picMasterData, 0x00) // unmask all IRQ lines on both PICs
	outbFn(picSlaveData, 0x00)
}

// sendEOI acknowledges a hardware interrupt at the PIC(s) that raised it.
// The slave PIC also needs an EOI for any vector >= 40 since it is
// cascaded behind the master.
//go:nosplit
func sendEOI(n InterruptNumber) {
	if n >= IRQ(8) {
		outbFn(picSlaveCommand, picEOI)
	}
	outbFn(picMasterCommand, picEOI)
}
