package wasm

import "fmt"

// Validate checks the module for structural validity. Instruction streams
// are not type-checked here; the runtime does that on compilation.
func (m *Module) Validate() error {
	if err := m.validateTypeIndices(); err != nil {
		return err
	}
	if err := m.validateCodeCount(); err != nil {
		return err
	}
	if err := m.validateMemory(); err != nil {
		return err
	}
	if err := m.validateGlobals(); err != nil {
		return err
	}
	if err := m.validateExports(); err != nil {
		return err
	}
	return m.validateData()
}

func (m *Module) validateTypeIndices() error {
	numTypes := uint32(len(m.Types))
	for i, imp := range m.Imports {
		if imp.TypeIdx >= numTypes {
			return fmt.Errorf("import %d (%s.%s) references invalid type index %d", i, imp.Module, imp.Name, imp.TypeIdx)
		}
	}
	for i, typeIdx := range m.Funcs {
		if typeIdx >= numTypes {
			return fmt.Errorf("function %d references invalid type index %d", i, typeIdx)
		}
	}
	return nil
}

func (m *Module) validateCodeCount() error {
	if len(m.Code) != len(m.Funcs) {
		return fmt.Errorf("function count %d does not match code count %d", len(m.Funcs), len(m.Code))
	}
	for i, body := range m.Code {
		if len(body.Code) == 0 || body.Code[len(body.Code)-1] != OpEnd {
			return fmt.Errorf("function %d body is not terminated by end", i)
		}
	}
	return nil
}

func (m *Module) validateMemory() error {
	if len(m.Memories) > 1 {
		return fmt.Errorf("at most one memory is allowed, got %d", len(m.Memories))
	}
	for _, mem := range m.Memories {
		if mem.Limits.Min > 65536 {
			return fmt.Errorf("memory minimum %d exceeds 65536 pages", mem.Limits.Min)
		}
		if mem.Limits.Max != nil {
			if *mem.Limits.Max > 65536 {
				return fmt.Errorf("memory maximum %d exceeds 65536 pages", *mem.Limits.Max)
			}
			if *mem.Limits.Max < mem.Limits.Min {
				return fmt.Errorf("memory maximum %d is below minimum %d", *mem.Limits.Max, mem.Limits.Min)
			}
		}
	}
	return nil
}

func (m *Module) validateGlobals() error {
	for i, g := range m.Globals {
		if len(g.Init) == 0 || g.Init[len(g.Init)-1] != OpEnd {
			return fmt.Errorf("global %d initializer is not terminated by end", i)
		}
	}
	return nil
}

func (m *Module) validateExports() error {
	seen := make(map[string]bool, len(m.Exports))
	numFuncs := uint32(len(m.Imports) + len(m.Funcs))
	for _, exp := range m.Exports {
		if seen[exp.Name] {
			return fmt.Errorf("duplicate export name %q", exp.Name)
		}
		seen[exp.Name] = true

		var limit uint32
		switch exp.Kind {
		case KindFunc:
			limit = numFuncs
		case KindMemory:
			limit = uint32(len(m.Memories))
		case KindGlobal:
			limit = uint32(len(m.Globals))
		default:
			return fmt.Errorf("export %q has unknown kind %d", exp.Name, exp.Kind)
		}
		if exp.Idx >= limit {
			return fmt.Errorf("export %q references invalid index %d", exp.Name, exp.Idx)
		}
	}
	return nil
}

func (m *Module) validateData() error {
	if len(m.Data) == 0 {
		return nil
	}
	if len(m.Memories) == 0 {
		return fmt.Errorf("data segments require a memory")
	}
	size := m.Memories[0].Limits.Min * PageSize
	for i, d := range m.Data {
		if uint64(d.Offset)+uint64(len(d.Init)) > size {
			return fmt.Errorf("data segment %d [%d, %d) exceeds initial memory of %d bytes",
				i, d.Offset, uint64(d.Offset)+uint64(len(d.Init)), size)
		}
	}
	return nil
}
