package module

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/irkit/errors"
	"github.com/wippyai/irkit/handle"
)

// Context is an arena of modules and the isolation scope for IR objects.
// Modules reference their context; the context owns the module state.
type Context struct {
	id      uint64
	global  bool
	modules *handle.Table[*moduleState]
}

var (
	globalCtx  *Context
	globalOnce sync.Once
	contextIDs atomic.Uint64
)

// GlobalContext returns the process-wide default context. Every call returns the
// same context.
func GlobalContext() *Context {
	globalOnce.Do(func() {
		globalCtx = newContext()
		globalCtx.global = true
	})
	return globalCtx
}

// NewContext creates an isolated context.
func NewContext() *Context {
	return newContext()
}

func newContext() *Context {
	return &Context{
		id:      contextIDs.Add(1),
		modules: handle.NewTable[*moduleState](),
	}
}

// ID returns a process-unique identifier for the context.
func (c *Context) ID() uint64 { return c.id }

// IsGlobal reports whether c is the process-wide default context.
func (c *Context) IsGlobal() bool { return c.global }

// Modules returns handles to every live module of the context.
func (c *Context) Modules() []Module {
	hs := c.modules.Handles()
	out := make([]Module, len(hs))
	for i, h := range hs {
		out[i] = Module{ctx: c, h: h}
	}
	return out
}

// Dispose releases every module still alive in the context. Handles derived
// from those modules become stale. The global context cannot be disposed.
func (c *Context) Dispose() error {
	if c.global {
		return errors.InvalidInput(errors.PhaseHandle, "the global context cannot be disposed")
	}
	n := c.modules.Len()
	if err := c.modules.Close(); err != nil {
		return errors.Wrap(errors.PhaseHandle, errors.KindInvalidInput, err, "dispose context")
	}
	Logger().Debug("context disposed", zap.Uint64("context", c.id), zap.Int("modules", n))
	return nil
}
