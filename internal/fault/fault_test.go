package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsFatal(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil is not fatal", err: nil, want: false},
		{name: "fatal error", err: NewFatal(LockTimeout, "lock", cause), want: true},
		{name: "recoverable error", err: NewRecoverable(SeedFailure, "users", cause), want: false},
		{name: "wrapped fatal error", err: fmt.Errorf("boot: %w", NewFatal(SchemaSyncFailure, "encounters", cause)), want: true},
		{name: "wrapped recoverable error", err: fmt.Errorf("boot: %w", NewRecoverable(ConstraintToggleFailure, "", cause)), want: false},
		{name: "unclassified error is fatal", err: cause, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsFatal(tt.err))
		})
	}
}

func TestClassOf(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	assert.Equal(t, ClassUnknown, ClassOf(cause))
	assert.Equal(t, ClassUnknown, ClassOf(nil))
	assert.Equal(t, FallbackDDLFailure, ClassOf(fmt.Errorf("x: %w", NewRecoverable(FallbackDDLFailure, "triages", cause))))
}

func TestHasClass(t *testing.T) {
	t.Parallel()

	cause := errors.New("deadlock detected")
	inner := NewFatal(TransientDeadlock, "encounters", cause)
	err := fmt.Errorf("boot: %w", NewFatal(SchemaSyncFailure, "encounters", inner))

	assert.Equal(t, SchemaSyncFailure, ClassOf(err))
	assert.True(t, HasClass(err, SchemaSyncFailure))
	assert.True(t, HasClass(err, TransientDeadlock))
	assert.False(t, HasClass(err, LockTimeout))
	assert.False(t, HasClass(cause, TransientDeadlock))
	assert.False(t, HasClass(nil, TransientDeadlock))
}

func TestError_Message(t *testing.T) {
	t.Parallel()

	cause := errors.New("relation missing")

	err := NewFatal(TableVerificationFailure, "patients", cause)
	assert.Equal(t, "table_verification_failure (fatal) for patients: relation missing", err.Error())
	assert.ErrorIs(t, err, cause)

	err = NewRecoverable(ConstraintToggleFailure, "", cause)
	assert.Equal(t, "constraint_toggle_failure (recoverable): relation missing", err.Error())
}

func TestClass_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "transient_deadlock", TransientDeadlock.String())
	assert.Equal(t, "class(99)", Class(99).String())
}
