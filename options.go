package irkit

import (
	"fmt"
	"strings"
)

// CPU selects the processor a target machine is created for.
type CPU uint8

const (
	CPUNative CPU = iota
	CPUX86_64
	CPUI686
)

// String returns the CPU name understood by the target machine factory.
func (c CPU) String() string {
	switch c {
	case CPUNative:
		return "native"
	case CPUX86_64:
		return "x86-64"
	case CPUI686:
		return "i686"
	default:
		return fmt.Sprintf("cpu(%d)", uint8(c))
	}
}

// ParseCPU parses a CPU name as printed by CPU.String.
func ParseCPU(s string) (CPU, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "native":
		return CPUNative, nil
	case "x86-64", "x86_64", "amd64":
		return CPUX86_64, nil
	case "i686", "i386", "386":
		return CPUI686, nil
	}
	return 0, fmt.Errorf("unknown cpu %q", s)
}

// CodegenLevel is the optimization level used by the JIT and the emitter.
type CodegenLevel uint8

const (
	O0 CodegenLevel = iota // none
	O1                     // less
	O2                     // default
	O3                     // aggressive
)

func (l CodegenLevel) String() string {
	if l > O3 {
		return fmt.Sprintf("O(%d)", uint8(l))
	}
	return fmt.Sprintf("O%d", uint8(l))
}

// Name returns the toolkit name of the level.
func (l CodegenLevel) Name() string {
	switch l {
	case O0:
		return "none"
	case O1:
		return "less"
	case O2:
		return "default"
	case O3:
		return "aggressive"
	}
	return "unknown"
}

// ParseCodegenLevel accepts "0".."3", "O0".."O3" and the toolkit names.
func ParseCodegenLevel(s string) (CodegenLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "0", "o0", "none":
		return O0, nil
	case "1", "o1", "less":
		return O1, nil
	case "2", "o2", "default", "":
		return O2, nil
	case "3", "o3", "aggressive":
		return O3, nil
	}
	return 0, fmt.Errorf("unknown codegen level %q", s)
}
