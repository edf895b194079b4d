// Package apperr tags errors with the coarse kind reported in result records.
package apperr

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Kind is the coarse error category surfaced to callers.
type Kind string

const (
	KindUnknown          Kind = "unknown"
	KindInput            Kind = "input"
	KindBusinessRule     Kind = "business_rule"
	KindPackageIntegrity Kind = "package_integrity"
	KindEngine           Kind = "external_engine"
	KindValidation       Kind = "validation_mismatch"
)

// Error carries a kind, the operation that failed and the wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error

	pcs []uintptr
}

// E wraps err with a kind and operation name. A nil err yields nil.
// If err already carries a kind, the outer kind wins only when the inner one is unknown.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var inner *Error
	if errors.As(err, &inner) && inner.Kind != KindUnknown {
		kind = inner.Kind
	}
	pcs := make([]uintptr, 32)
	n := runtime.Callers(2, pcs)
	return &Error{Kind: kind, Op: op, Err: err, pcs: pcs[:n]}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf reports the kind of the outermost tagged error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Record is the structured error representation used in result records.
type Record struct {
	Message string `json:"message"`
	Kind    Kind   `json:"kind"`
	Stack   string `json:"stack,omitempty"`
}

// ToRecord converts err to a Record. The stack is only filled when withStack is set.
func ToRecord(err error, withStack bool) *Record {
	if err == nil {
		return nil
	}
	rec := &Record{Message: err.Error(), Kind: KindOf(err)}
	if withStack {
		rec.Stack = stackOf(err)
	}
	return rec
}

// stackOf formats the stack captured by the innermost tagged error.
func stackOf(err error) string {
	var pcs []uintptr
	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		if e, ok := cur.(*Error); ok && len(e.pcs) > 0 {
			pcs = e.pcs
		}
	}
	if len(pcs) == 0 {
		return ""
	}
	var b strings.Builder
	frames := runtime.CallersFrames(pcs)
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return b.String()
}
