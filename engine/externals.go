package engine

import (
	"context"
	"fmt"

	"github.com/llir/llvm/ir/types"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/irkit/internal/lower"
	"github.com/wippyai/irkit/irtypes"
	"github.com/wippyai/irkit/wasm"
)

// linkExternals instantiates the host module that backs declared functions.
func (e *Engine) linkExternals(ctx context.Context) error {
	if len(e.image.Externals) == 0 {
		return nil
	}
	builder := e.runtime.NewHostModuleBuilder(lower.ExternModule)
	for _, ext := range e.image.Externals {
		params, results, err := valueTypes(ext.Sig)
		if err != nil {
			return fmt.Errorf("external %q: %w", ext.Name, err)
		}
		impl := e.cfg.Externals[ext.Name]
		if impl == nil {
			Logger().Debug("unresolved external", zap.String("module", e.name), zap.String("function", ext.Name))
		}
		builder.NewFunctionBuilder().
			WithGoModuleFunction(hostFunc(ext, impl), params, results).
			WithName(ext.Name).
			Export(ext.Name)
	}
	_, err := builder.Instantiate(ctx)
	return err
}

// hostFunc adapts an External to the wazero stack calling convention.
// Failures panic; wazero recovers them and fails the guest call.
func hostFunc(ext *lower.Func, impl External) api.GoModuleFunction {
	sig := ext.Sig
	return api.GoModuleFunc(func(ctx context.Context, _ api.Module, stack []uint64) {
		if impl == nil {
			panic(fmt.Errorf("external function %q is not provided", ext.Name))
		}
		args := make([]GenericValue, len(sig.Params))
		for i, t := range sig.Params {
			args[i] = fromRaw(t, stack[i])
		}
		res, err := impl(ctx, args)
		if err != nil {
			panic(fmt.Errorf("external function %q: %w", ext.Name, err))
		}
		if irtypes.IsVoid(sig.RetType) {
			return
		}
		if !accepts(sig.RetType, res.typ) {
			panic(fmt.Errorf("external function %q returned %s, expected %s",
				ext.Name, irtypes.String(res.typ), irtypes.String(sig.RetType)))
		}
		stack[0] = res.raw()
	})
}

func valueTypes(sig *types.FuncType) (params, results []api.ValueType, err error) {
	for _, p := range sig.Params {
		vt, err := valueType(p)
		if err != nil {
			return nil, nil, err
		}
		params = append(params, vt)
	}
	if !irtypes.IsVoid(sig.RetType) {
		vt, err := valueType(sig.RetType)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, vt)
	}
	return params, results, nil
}

func valueType(t types.Type) (api.ValueType, error) {
	vt, ok := lower.ValType(t)
	if !ok {
		return 0, fmt.Errorf("unsupported type %s", irtypes.String(t))
	}
	switch vt {
	case wasm.ValI32:
		return api.ValueTypeI32, nil
	case wasm.ValI64:
		return api.ValueTypeI64, nil
	case wasm.ValF32:
		return api.ValueTypeF32, nil
	case wasm.ValF64:
		return api.ValueTypeF64, nil
	}
	return 0, fmt.Errorf("unsupported value type %s", vt)
}
