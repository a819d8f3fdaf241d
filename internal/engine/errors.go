package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Callers match them with errors.Is.
var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrInvalidTarget         = errors.New("invalid target size")
	ErrInvalidSourceGeometry = errors.New("invalid source geometry")
	ErrMalformedDocument     = errors.New("malformed document")
	ErrEmptyPagePlan         = errors.New("empty page plan")
	ErrNoPagesAvailable      = errors.New("no pages available")
)

// Error is a classified composition failure.
type Error struct {
	Op     Operation
	Kind   error
	Source int // index into the request's sources, -1 when not tied to one
	Page   int // 0-based page index, -1 when not tied to one
	Name   string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(string(e.Op))
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	switch {
	case e.Name != "":
		fmt.Fprintf(&b, " (%s", e.Name)
		if e.Page >= 0 {
			fmt.Fprintf(&b, " page %d", e.Page+1)
		}
		b.WriteString(")")
	case e.Source >= 0:
		fmt.Fprintf(&b, " (source %d", e.Source)
		if e.Page >= 0 {
			fmt.Fprintf(&b, " page %d", e.Page+1)
		}
		b.WriteString(")")
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind membership. An invalid target is also invalid input and a
// source without pages also yields an empty plan.
func (e *Error) Is(target error) bool {
	if target == e.Kind {
		return true
	}
	switch e.Kind {
	case ErrInvalidTarget:
		return target == ErrInvalidInput
	case ErrNoPagesAvailable:
		return target == ErrEmptyPagePlan
	}
	return false
}

func newError(kind error, detail string) *Error {
	return &Error{Kind: kind, Source: -1, Page: -1, Detail: detail}
}

func invalidInput(format string, args ...any) *Error {
	return newError(ErrInvalidInput, fmt.Sprintf(format, args...))
}

func invalidTarget(format string, args ...any) *Error {
	return newError(ErrInvalidTarget, fmt.Sprintf(format, args...))
}

// withOp stamps the operation on classified errors and leaves others alone.
func withOp(op Operation, err error) error {
	var e *Error
	if errors.As(err, &e) && e.Op == "" {
		e.Op = op
	}
	return err
}

// Kind returns the classified kind of err, or nil when err is not an *Error.
func Kind(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}
