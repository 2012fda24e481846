// Package cpu isolates the architecture-private primitives (register
// access, port I/O, CPUID, TLB/paging control) behind a thin Go API. Every
// body-less function in this file is implemented in cpu_386.s; callers are expected
// to already have interrupts disabled where the comment calls for it.
package cpu

var cpuidFn = ID

// EnableInterrupts sets the IF flag (STI), allowing maskable interrupts to
// be delivered.
func EnableInterrupts()

// DisableInterrupts clears the IF flag (CLI).
func DisableInterrupts()

// InterruptsEnabled returns true if the IF flag is currently set.
func InterruptsEnabled() bool

// Halt stops instruction execution until the next interrupt (HLT).
func Halt()

// FlushTLBEntry flushes the TLB entry for a particular virtual address
// (INVLPG).
func FlushTLBEntry(virtAddr uintptr)

// WriteCR3 loads the physical address of a page directory into CR3.
// Precondition: interrupts disabled.
func WriteCR3(pdtPhysAddr uint32)

// ReadCR3 returns the physical address currently loaded in CR3.
func ReadCR3() uint32

// ReadCR2 returns the faulting address recorded by the last page fault.
func ReadCR2() uint32

// EnablePaging sets bit 31 of CR0.
func EnablePaging()

// DisablePaging clears bit 31 of CR0.
func DisablePaging()

// PagingEnabled returns true if CR0 bit 31 is set.
func PagingEnabled() bool

// Outb writes a byte to an I/O port.
func Outb(port uint16, value uint8)

// Inb reads a byte from an I/O port.
func Inb(port uint16) uint8

// LoadIDT loads the interrupt descriptor table register (LIDT) from the
// 6-byte IDTR-shaped value at ptr.
func LoadIDT(ptr uintptr)

// ID returns information about the CPU and its features. It is implemented
// as a CPUID instruction with EAX=leaf and returns the values in EAX, EBX,
// ECX and EDX.
func ID(leaf uint32) (eax, ebx, ecx, edx uint32)

// IsIntel returns true if the code is running on an Intel processor.
func IsIntel() bool {
	_, ebx, ecx, edx := cpuidFn(0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}
