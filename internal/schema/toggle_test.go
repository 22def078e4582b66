package schema_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/hms-server/internal/fault"
	"github.com/stacklok/hms-server/internal/schema"
	"github.com/stacklok/hms-server/internal/schema/mocks"
)

const (
	disableStmt = "SET session_replication_role = replica"
	enableStmt  = "SET session_replication_role = DEFAULT"
)

func TestWithConstraintsDisabled(t *testing.T) {
	t.Parallel()

	syncErr := errors.New("sync failed")

	tests := []struct {
		name       string
		disableErr error
		enableErr  error
		fnErr      error
		wantFaults []fault.Class
	}{
		{name: "success"},
		{name: "fn fails midway", fnErr: syncErr},
		{
			name:       "disable fails",
			disableErr: errors.New("permission denied"),
			wantFaults: []fault.Class{fault.ConstraintToggleFailure},
		},
		{
			name:       "enable fails",
			enableErr:  errors.New("connection reset"),
			fnErr:      syncErr,
			wantFaults: []fault.Class{fault.ConstraintToggleFailure},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			exec := mocks.NewMockExecutor(ctrl)
			gomock.InOrder(
				exec.EXPECT().Exec(gomock.Any(), disableStmt).Return(tt.disableErr).Times(1),
				exec.EXPECT().Exec(gomock.Any(), enableStmt).Return(tt.enableErr).Times(1),
			)

			rec := &collector{}
			toggle := schema.NewConstraintToggle(exec, schema.WithRecorder(rec))

			calls := 0
			err := toggle.WithConstraintsDisabled(context.Background(), func(context.Context) error {
				calls++
				return tt.fnErr
			})

			assert.Equal(t, 1, calls)
			if tt.fnErr != nil {
				assert.ErrorIs(t, err, tt.fnErr)
			} else {
				assert.NoError(t, err)
			}
			if tt.wantFaults == nil {
				assert.Empty(t, rec.faults)
			} else {
				assert.Equal(t, tt.wantFaults, rec.classes())
			}
		})
	}
}

func TestWithConstraintsDisabledPanics(t *testing.T) {
	t.Parallel()

	db := newFakeDB()
	toggle := schema.NewConstraintToggle(db)

	assert.PanicsWithValue(t, "boom", func() {
		_ = toggle.WithConstraintsDisabled(context.Background(), func(context.Context) error {
			panic("boom")
		})
	})
	assert.Len(t, db.statements(enableStmt), 1)
}

func TestWithConstraintsDisabledEnablesAfterCancel(t *testing.T) {
	t.Parallel()

	db := newFakeDB()
	toggle := schema.NewConstraintToggle(db)

	ctx, cancel := context.WithCancel(context.Background())
	err := toggle.WithConstraintsDisabled(ctx, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{disableStmt, enableStmt}, db.stmts)
}

func TestToggleFailureIsRecoverable(t *testing.T) {
	t.Parallel()

	db := newFakeDB()
	db.fail = func(string) error { return errors.New("read-only transaction") }
	toggle := schema.NewConstraintToggle(db)

	err := toggle.Disable(context.Background())
	require.Error(t, err)
	assert.Equal(t, fault.ConstraintToggleFailure, fault.ClassOf(err))
	assert.False(t, fault.IsFatal(err))
}
