// Package debug loads the kernel symbol map shipped in the initial ramdisk
// and uses it to annotate register dumps and fault addresses with the
// nearest enclosing function name when a fatal error occurs.
package debug

import (
	"redshift/kernel"
	"redshift/kernel/gate"
	"redshift/kernel/initrd"
	"redshift/kernel/kfmt"
	"reflect"
	"unsafe"
)

// symbolMapPath is where the bootloader's initrd module stores the
// kernel symbol map (the archive is packed by tools/mkinitrd).
const symbolMapPath = "boot/redshift.map"

// symbol associates an address with the name of the function starting there.
type symbol struct {
	addr uintptr
	name string
}

// symbols is kept sorted by descending address so SymbolForAddress can stop
// at the first entry whose address is <= the query.
var symbols []symbol

var (
	lastRegs  *gate.Registers
	lastFrame *gate.Frame
)

// readSymbolFileFn fetches the raw bytes of the symbol map. It is mocked in
// tests; in production it resolves boot/redshift.map through the initrd.
var readSymbolFileFn = readSymbolFile

func readSymbolFile() ([]byte, *kernel.Error) {
	f, err := initrd.GetFileByName(symbolMapPath)
	if err != nil {
		return nil, err
	}

	return *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Data: f.Start,
		Len:  int(f.Size),
		Cap:  int(f.Size),
	})), nil
}

// Init loads the symbol table from the initrd and installs this package's
// backtrace printer as kfmt's panic hook.
func Init() *kernel.Error {
	data, err := readSymbolFileFn()
	if err != nil {
		return err
	}

	if loadErr := LoadSymbols(data); loadErr != nil {
		return loadErr
	}

	kfmt.BacktraceHook = printBacktrace
	gate.FaultHook = RecordFault
	return nil
}

// LoadSymbols parses a nm-style symbol map: one "<hex address> <name>" pair
// per line, blank lines ignored. The parsed table is sorted by descending
// address so lookups are a single linear scan for the first entry at or
// below the queried address.
func LoadSymbols(data []byte) *kernel.Error {
	symbols = symbols[:0]

	for pos := 0; pos < len(data); {
		for pos < len(data) && (data[pos] == '\n' || data[pos] == '\r') {
			pos++
		}
		if pos >= len(data) {
			break
		}

		addrStart := pos
		for pos < len(data) && isHexDigit(data[pos]) {
			pos++
		}
		if pos == addrStart {
			return &kernel.Error{Module: "debug", Message: "malformed symbol table: expected hex address"}
		}
		addr := parseHex(data[addrStart:pos])

		for pos < len(data) && isSpace(data[pos]) {
			pos++
		}

		nameStart := pos
		for pos < len(data) && data[pos] != '\n' && data[pos] != '\r' {
			pos++
		}
		name := string(data[nameStart:pos])
		if name == "" {
			return &kernel.Error{Module: "debug", Message: "malformed symbol table: missing symbol name"}
		}

		symbols = insertSorted(symbols, symbol{addr: addr, name: name})
	}

	return nil
}

// insertSorted inserts s into a slice kept sorted by descending address.
func insertSorted(list []symbol, s symbol) []symbol {
	i := 0
	for ; i < len(list) && list[i].addr > s.addr; i++ {
	}
	list = append(list, symbol{})
	copy(list[i+1:], list[i:])
	list[i] = s
	return list
}

// SymbolForAddress returns the name of the function enclosing addr and its
// offset within that function. ok is false if addr falls outside every
// known symbol's range (e.g. the table has not been loaded yet).
func SymbolForAddress(addr uintptr) (name string, offset uintptr, ok bool) {
	for _, s := range symbols {
		if s.addr <= addr {
			return s.name, addr - s.addr, true
		}
	}
	return "", 0, false
}

// RecordFault stashes the register and exception-frame snapshot for a fault
// so a subsequent call to kernel.Panic can render it via printBacktrace.
func RecordFault(regs *gate.Registers, frame *gate.Frame) {
	lastRegs = regs
	lastFrame = frame
}

// printBacktrace is installed as kfmt.BacktraceHook. gate.dispatch already
// prints the raw register/frame contents for an unhandled exception before
// panicking; this only adds the enclosing symbol name for the faulting
// instruction pointer, when a fault has been recorded via RecordFault.
func printBacktrace() {
	if lastFrame == nil {
		return
	}

	if name, offset, ok := SymbolForAddress(uintptr(lastFrame.EIP)); ok {
		kfmt.Printf("at %s+0x%x\n", name, offset)
	}
}

func isHexDigit(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t'
}

func parseHex(b []byte) uintptr {
	var v uintptr
	for _, c := range b {
		v <<= 4
		switch {
		case c >= '0' && c <= '9':
			v |= uintptr(c - '0')
		case c >= 'a' && c <= 'f':
			v |= uintptr(c-'a') + 10
		case c >= 'A' && c <= 'F':
			v |= uintptr(c-'A') + 10
		}
	}
	return v
}
