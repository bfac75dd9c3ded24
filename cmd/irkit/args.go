package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/llir/llvm/ir/types"

	"github.com/wippyai/irkit/engine"
	"github.com/wippyai/irkit/irtypes"
)

// parseArg converts a command line argument to a value of type t.
// Integers accept decimal, hex (0x) and negative forms; i1 also accepts
// true and false.
func parseArg(t types.Type, s string) (engine.GenericValue, error) {
	s = strings.TrimSpace(s)
	switch t := t.(type) {
	case *types.IntType:
		if t.BitSize == 1 {
			switch s {
			case "true":
				return engine.NewGenericInt(t, 1), nil
			case "false":
				return engine.NewGenericInt(t, 0), nil
			}
		}
		if strings.HasPrefix(s, "-") {
			v, err := strconv.ParseInt(s, 0, 64)
			if err != nil {
				return engine.GenericValue{}, fmt.Errorf("%s argument %q: %w", irtypes.String(t), s, err)
			}
			return engine.NewGenericSInt(t, v), nil
		}
		v, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return engine.GenericValue{}, fmt.Errorf("%s argument %q: %w", irtypes.String(t), s, err)
		}
		return engine.NewGenericInt(t, v), nil
	case *types.FloatType:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return engine.GenericValue{}, fmt.Errorf("%s argument %q: %w", irtypes.String(t), s, err)
		}
		return engine.NewGenericFloat(t, v), nil
	case *types.PointerType:
		v, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return engine.GenericValue{}, fmt.Errorf("pointer argument %q: %w", s, err)
		}
		return engine.NewGenericPointer(t, uint32(v)), nil
	}
	return engine.GenericValue{}, fmt.Errorf("arguments of type %s are not supported", irtypes.String(t))
}

// parseArgs converts args for the parameters of sig.
func parseArgs(sig *types.FuncType, args []string) ([]engine.GenericValue, error) {
	if len(args) != len(sig.Params) {
		return nil, fmt.Errorf("expected %d arguments, got %d", len(sig.Params), len(args))
	}
	out := make([]engine.GenericValue, len(args))
	for i, a := range args {
		v, err := parseArg(sig.Params[i], a)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
