package debug

import (
	"redshift/kernel"
	"redshift/kernel/gate"
	"testing"
)

func TestLoadSymbolsAndLookup(t *testing.T) {
	data := []byte("c0100000 kmain\nc0100080 gate_dispatch\nc0100200 sched_tick\n")
	if err := LoadSymbols(data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := []struct {
		addr       uintptr
		wantName   string
		wantOffset uintptr
	}{
		{0xc0100000, "kmain", 0},
		{0xc010004f, "kmain", 0x4f},
		{0xc0100080, "gate_dispatch", 0},
		{0xc0100300, "sched_tick", 0x100},
	}

	for _, c := range cases {
		name, offset, ok := SymbolForAddress(c.addr)
		if !ok {
			t.Errorf("address 0x%x: expected a match", c.addr)
			continue
		}
		if name != c.wantName || offset != c.wantOffset {
			t.Errorf("address 0x%x: got (%s, 0x%x); want (%s, 0x%x)", c.addr, name, offset, c.wantName, c.wantOffset)
		}
	}
}

func TestSymbolForAddressBelowFirstSymbol(t *testing.T) {
	if err := LoadSymbols([]byte("c0100000 kmain\n")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, _, ok := SymbolForAddress(0xb0000000); ok {
		t.Error("expected no match below the first known symbol")
	}
}

func TestLoadSymbolsRejectsMalformedInput(t *testing.T) {
	if err := LoadSymbols([]byte("not-hex kmain\n")); err == nil {
		t.Error("expected an error for a non-hex address")
	}
	if err := LoadSymbols([]byte("c0100000\n")); err == nil {
		t.Error("expected an error for a missing symbol name")
	}
}

func TestInitPropagatesReadError(t *testing.T) {
	origFn := readSymbolFileFn
	defer func() { readSymbolFileFn = origFn }()

	wantErr := &kernel.Error{Module: "initrd", Message: "file not found"}
	readSymbolFileFn = func() ([]byte, *kernel.Error) { return nil, wantErr }

	if err := Init(); err != wantErr {
		t.Errorf("expected %v; got %v", wantErr, err)
	}
}

func TestInitInstallsBacktraceHook(t *testing.T) {
	origFn := readSymbolFileFn
	defer func() { readSymbolFileFn = origFn }()

	readSymbolFileFn = func() ([]byte, *kernel.Error) {
		return []byte("c0100000 kmain\n"), nil
	}

	if err := Init(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if name, _, ok := SymbolForAddress(0xc0100000); !ok || name != "kmain" {
		t.Error("expected the symbol table to be populated after Init")
	}
}

func TestRecordFaultAndPrintBacktrace(t *testing.T) {
	if err := LoadSymbols([]byte("c0100000 kmain\n")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	regs := &gate.Registers{EAX: 1}
	frame := &gate.Frame{EIP: 0xc0100010}
	RecordFault(regs, frame)
	defer RecordFault(nil, nil)

	// printBacktrace only prints the resolved symbol name via kfmt.Printf;
	// this test just exercises the code path for panics.
	printBacktrace()
}
