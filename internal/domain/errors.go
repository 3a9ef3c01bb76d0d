// Package domain defines the types shared by every stage of the import and
// publish pipeline, and the error classes those stages report.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error classes. Use errors.Is against these to classify a failure.
var (
	ErrConnection   = errors.New("connection error")
	ErrPrerequisite = errors.New("prerequisite missing")
	ErrImport       = errors.New("import error")
	ErrPublish      = errors.New("publish error")
	ErrName         = errors.New("invalid name")
	ErrNotSupported = errors.New("not supported")
	ErrDatabase     = errors.New("database error")
	ErrInspection   = errors.New("inspection error")

	// ErrReprojection and ErrNoGeometry are import failures.
	ErrReprojection = fmt.Errorf("%w: crs reprojection failed", ErrImport)
	ErrNoGeometry   = fmt.Errorf("%w: no geometry", ErrImport)
)

// Error is the error type returned by the gateways and the orchestrator.
type Error struct {
	Class  error  // One of the Err* classes above
	Op     string // Operation that failed, e.g. "create-workspace"
	Msg    string // Human-readable detail
	Status int    // HTTP status for publish failures, 0 otherwise
	Body   string // Server response body for publish failures
	Cause  error  // Underlying driver or transport error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	if e.Msg != "" {
		b.WriteString(e.Msg)
	} else if e.Class != nil {
		b.WriteString(e.Class.Error())
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " (HTTP %d", e.Status)
		if body := strings.TrimSpace(e.Body); body != "" {
			if len(body) > 200 {
				body = body[:200] + "..."
			}
			b.WriteString(": ")
			b.WriteString(body)
		}
		b.WriteString(")")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the error's class, or a class it wraps.
func (e *Error) Is(target error) bool {
	if e.Class == nil {
		return false
	}
	return e.Class == target || errors.Is(e.Class, target)
}

// NewError builds an Error of the given class.
func NewError(class error, op, msg string, cause error) *Error {
	return &Error{Class: class, Op: op, Msg: msg, Cause: cause}
}

// ConnectionError reports a failure establishing a database or server session.
func ConnectionError(op, msg string, cause error) *Error {
	return NewError(ErrConnection, op, msg, cause)
}

// PrerequisiteError reports a missing extension or service.
func PrerequisiteError(op, msg string) *Error {
	return NewError(ErrPrerequisite, op, msg, nil)
}

// ImportError reports an unreadable file, missing geometry, or write failure.
func ImportError(op, msg string, cause error) *Error {
	return NewError(ErrImport, op, msg, cause)
}

// PublishError reports a non-tolerated HTTP status from the map server.
func PublishError(op string, status int, body string) *Error {
	return &Error{
		Class:  ErrPublish,
		Op:     op,
		Msg:    "unexpected server response",
		Status: status,
		Body:   body,
	}
}

// NameError reports an invalid or colliding identifier.
func NameError(op, msg string) *Error {
	return NewError(ErrName, op, msg, nil)
}

// NotSupportedError reports an operation the build does not implement.
func NotSupportedError(op, msg string) *Error {
	return NewError(ErrNotSupported, op, msg, nil)
}

// DatabaseError wraps a driver failure.
func DatabaseError(op string, cause error) *Error {
	return NewError(ErrDatabase, op, "", cause)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}
