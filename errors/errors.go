package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseBuild   Phase = "build"   // module and function construction
	PhaseVerify  Phase = "verify"  // IR verification
	PhaseRender  Phase = "render"  // textual dump
	PhaseParse   Phase = "parse"   // textual IR loading
	PhaseLower   Phase = "lower"   // IR to execution image
	PhaseEngine  Phase = "engine"  // engine construction
	PhaseExecute Phase = "execute" // function execution
	PhaseEmit    Phase = "emit"    // object emission
	PhaseHandle  Phase = "handle"  // handle table bookkeeping
)

// Kind categorizes the error
type Kind string

const (
	KindNullHandle    Kind = "null_handle"
	KindStaleHandle   Kind = "stale_handle"
	KindTypeUnknown   Kind = "type_unknown"
	KindTypeMismatch  Kind = "type_mismatch"
	KindOutOfBounds   Kind = "out_of_bounds"
	KindNotFound      Kind = "not_found"
	KindInvalidInput  Kind = "invalid_input"
	KindUnsupported   Kind = "unsupported"
	KindVerification  Kind = "verification"
	KindIO            Kind = "io"
	KindInstantiation Kind = "instantiation"
	KindTrap          Kind = "trap"
	KindNoTarget      Kind = "no_target"
)

// Error is the structured error type used throughout irkit
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	Module   string
	Function string
	Detail   string
	Path     []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Module != "" || e.Function != "" {
		b.WriteString(": ")
		switch {
		case e.Module != "" && e.Function != "":
			b.WriteString("module '")
			b.WriteString(e.Module)
			b.WriteString("', function '")
			b.WriteString(e.Function)
			b.WriteByte('\'')
		case e.Module != "":
			b.WriteString("module '")
			b.WriteString(e.Module)
			b.WriteByte('\'')
		default:
			b.WriteString("function '")
			b.WriteString(e.Function)
			b.WriteByte('\'')
		}
	}

	if e.Detail != "" {
		if e.Module != "" || e.Function != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// IsKind reports whether any *Error in err's chain has the given kind,
// regardless of phase.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Cause
	}
	return false
}

// KindOf returns the kind of the outermost *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the location path (function, block, instruction)
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Module sets the module name
func (b *Builder) Module(name string) *Builder {
	b.err.Module = name
	return b
}

// Function sets the function name
func (b *Builder) Function(name string) *Builder {
	b.err.Function = name
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// NullHandle creates an error for an operation on a null sentinel handle
func NullHandle(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNullHandle,
		Detail: fmt.Sprintf("%s is a null handle", what),
	}
}

// StaleHandle creates an error for a handle whose owner has been released
func StaleHandle(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindStaleHandle,
		Detail: fmt.Sprintf("%s refers to a released resource", what),
	}
}

// TypeUnknown creates an error for a function reference without a known signature
func TypeUnknown(phase Phase, function string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindTypeUnknown,
		Function: function,
		Detail:   "function type is not known for a bare reference",
	}
}

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, want, got string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Path:   path,
		Detail: fmt.Sprintf("expected %s, got %s", want, got),
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Verification creates a verifier diagnostic error
func Verification(module string, path []string, detail string) *Error {
	return &Error{
		Phase:  PhaseVerify,
		Kind:   KindVerification,
		Module: module,
		Path:   path,
		Detail: detail,
	}
}

// IO creates a file system error
func IO(phase Phase, path string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindIO,
		Detail: path,
		Cause:  cause,
	}
}

// Instantiation creates an engine instantiation error
func Instantiation(module string, cause error) *Error {
	return &Error{
		Phase:  PhaseEngine,
		Kind:   KindInstantiation,
		Module: module,
		Detail: "instantiate execution image",
		Cause:  cause,
	}
}

// Trap creates an error for a trap raised while executing IR
func Trap(function string, cause error) *Error {
	return &Error{
		Phase:    PhaseExecute,
		Kind:     KindTrap,
		Function: function,
		Detail:   "execution trapped",
		Cause:    cause,
	}
}

// NoTarget creates an error for a missing native backend
func NoTarget(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNoTarget,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// ParseFailed creates a parsing error
func ParseFailed(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindInvalidInput,
		Detail: fmt.Sprintf("parse %s", what),
		Cause:  cause,
	}
}
