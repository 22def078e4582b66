// Package fault classifies the failures that can occur while the service boots.
//
// Every error raised by the boot sequence carries a Class (what went wrong) and a
// Severity (whether the boot may continue). Callers decide propagation by
// inspecting the severity instead of by where the error was caught.
package fault

import (
	"errors"
	"fmt"
)

// Class identifies the kind of boot failure.
type Class int

const (
	// ClassUnknown is reported for errors that carry no classification.
	ClassUnknown Class = iota
	// TransientDeadlock is a database lock conflict that may succeed on retry.
	// When retries run out it is the cause of the resulting SchemaSyncFailure.
	TransientDeadlock
	// LockTimeout means the migration lock was not acquired in time.
	LockTimeout
	// SchemaSyncFailure means automatic reconciliation failed with no fallback.
	SchemaSyncFailure
	// FallbackDDLFailure means the manual DDL path could not create a table.
	FallbackDDLFailure
	// ConstraintToggleFailure means foreign-key enforcement could not be toggled.
	ConstraintToggleFailure
	// TableVerificationFailure means an expected table is absent after sync.
	TableVerificationFailure
	// SeedFailure means a baseline record could not be created.
	SeedFailure
)

var classNames = map[Class]string{
	ClassUnknown:             "unknown",
	TransientDeadlock:        "transient_deadlock",
	LockTimeout:              "lock_timeout",
	SchemaSyncFailure:        "schema_sync_failure",
	FallbackDDLFailure:       "fallback_ddl_failure",
	ConstraintToggleFailure:  "constraint_toggle_failure",
	TableVerificationFailure: "table_verification_failure",
	SeedFailure:              "seed_failure",
}

// String returns the snake_case name of the class.
func (c Class) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Severity tells the boot sequence whether it may continue.
type Severity int

const (
	// Recoverable failures are logged and the boot continues in a degraded state.
	Recoverable Severity = iota
	// Fatal failures abort the boot.
	Fatal
)

// String returns "fatal" or "recoverable".
func (s Severity) String() string {
	if s == Fatal {
		return "fatal"
	}
	return "recoverable"
}

// Error is a classified boot failure.
type Error struct {
	Class    Class
	Severity Severity
	// Entity names the model, table, record or lock the failure relates to.
	Entity string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Entity == "" {
		return fmt.Sprintf("%s (%s): %v", e.Class, e.Severity, e.Err)
	}
	return fmt.Sprintf("%s (%s) for %s: %v", e.Class, e.Severity, e.Entity, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewFatal wraps err as a fatal failure of the given class.
func NewFatal(class Class, entity string, err error) *Error {
	return &Error{Class: class, Severity: Fatal, Entity: entity, Err: err}
}

// NewRecoverable wraps err as a recoverable failure of the given class.
func NewRecoverable(class Class, entity string, err error) *Error {
	return &Error{Class: class, Severity: Recoverable, Entity: entity, Err: err}
}

// IsFatal reports whether err, or any error it wraps, is a fatal classified failure.
// Unclassified non-nil errors are treated as fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Severity == Fatal
	}
	return true
}

// ClassOf returns the class of the outermost classified error in err's chain.
func ClassOf(err error) Class {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Class
	}
	return ClassUnknown
}

// Recorder collects recoverable failures so they can be reported once the boot
// sequence finishes.
type Recorder interface {
	Record(err *Error)
}

// Discard is a Recorder that drops everything.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(*Error) {}

// HasClass reports whether any classified error in err's chain has class.
func HasClass(err error, class Class) bool {
	for err != nil {
		if fe, ok := err.(*Error); ok && fe.Class == class {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}
