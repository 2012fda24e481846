package cpu

import "testing"

func TestIsIntel(t *testing.T) {
	origFn := cpuidFn
	defer func() { cpuidFn = origFn }()

	specs := []struct {
		ebx, ecx, edx uint32
		expIntel      bool
	}{
		{0x756e6547, 0x6c65746e, 0x49656e69, true},
		{0x68747541, 0x444d4163, 0x69746e65, false}, // "AuthenticAMD"
	}

	for specIndex, spec := range specs {
		cpuidFn = func(leaf uint32) (uint32, uint32, uint32, uint32) {
			return 0, spec.ebx, spec.ecx, spec.edx
		}

		if got := IsIntel(); got != spec.expIntel {
			t.Errorf("[spec %d] expected IsIntel() to return %v; got %v", specIndex, spec.expIntel, got)
		}
	}
}
