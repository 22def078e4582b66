package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stacklok/hms-server/internal/fault"
)

// Verification lists the outcome of VerifyTables.
type Verification struct {
	Present         []string
	MissingRequired []string
	MissingOptional []string
}

// OK reports whether every required table is present.
func (v Verification) OK() bool {
	return len(v.MissingRequired) == 0
}

// Verifier checks which tables exist after synchronization.
type Verifier struct {
	catalog  Catalog
	logger   *slog.Logger
	recorder fault.Recorder
}

// NewVerifier returns a Verifier backed by catalog.
func NewVerifier(catalog Catalog, opts ...Option) *Verifier {
	s := newSettings(opts)
	return &Verifier{catalog: catalog, logger: s.logger, recorder: s.recorder}
}

// TableExists reports whether name exists. Lookup errors count as absent.
func (v *Verifier) TableExists(ctx context.Context, name string) bool {
	ok, err := v.catalog.TableExists(ctx, name)
	if err != nil {
		v.logger.Debug("Table lookup failed", "table", name, "error", err)
		return false
	}
	return ok
}

// VerifyTables checks the required and optional tables. Missing optional tables
// are logged. Missing required tables are a fatal TableVerificationFailure when
// production is set and are logged and recorded otherwise.
func (v *Verifier) VerifyTables(ctx context.Context, required, optional []string, production bool) (Verification, error) {
	var out Verification

	for _, name := range required {
		if v.TableExists(ctx, name) {
			out.Present = append(out.Present, name)
			continue
		}
		out.MissingRequired = append(out.MissingRequired, name)
		if production {
			v.logger.Error("Required table is missing", "table", name)
		} else {
			v.logger.Warn("Required table is missing", "table", name)
		}
	}

	for _, name := range optional {
		if v.TableExists(ctx, name) {
			out.Present = append(out.Present, name)
			continue
		}
		out.MissingOptional = append(out.MissingOptional, name)
		v.logger.Warn("Optional table is missing", "table", name)
		v.recorder.Record(fault.NewRecoverable(fault.TableVerificationFailure, name, errors.New("optional table is missing")))
	}

	if out.OK() {
		return out, nil
	}

	err := fmt.Errorf("required tables missing: %v", out.MissingRequired)
	if production {
		return out, fault.NewFatal(fault.TableVerificationFailure, "", err)
	}
	v.recorder.Record(fault.NewRecoverable(fault.TableVerificationFailure, "", err))
	return out, nil
}
