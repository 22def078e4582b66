// Package schema brings the PostgreSQL schema in line with the application's
// declared models at process start.
//
// Models are described by ModelDescriptor values and registered, in order, in a
// Registry that splits them into independent models (no foreign keys into the
// registered set) and dependent models. The Synchronizer reconciles each model
// through a Reconciler and, for dependent models registered with a fallback,
// falls back to hand-written DDL (ManualDDL) when automatic reconciliation
// fails. ConstraintToggle relaxes foreign-key enforcement around the whole pass
// and Verifier checks which tables exist afterwards.
package schema

import (
	"errors"
	"fmt"
)

// DefaultReferenceType is used for a foreign-key column when the referenced
// column's type cannot be determined.
const DefaultReferenceType = "integer"

// ErrInvalidDescriptor is returned for malformed descriptors or registrations.
var ErrInvalidDescriptor = errors.New("invalid model descriptor")

// Column declares one table column.
type Column struct {
	Name       string
	Type       string
	PrimaryKey bool
	NotNull    bool
	Unique     bool
	// Default is a raw SQL default expression, e.g. "now()" or "'active'".
	Default string
}

// ForeignKey declares a reference from Column to RefTable.RefColumn.
type ForeignKey struct {
	Column   string
	RefTable string
	// RefColumn defaults to "id".
	RefColumn string
	// OnDelete is an optional referential action such as "CASCADE" or "SET NULL".
	OnDelete string
}

// ReferencedColumn returns RefColumn, or "id" when unset.
func (fk ForeignKey) ReferencedColumn() string {
	if fk.RefColumn == "" {
		return "id"
	}
	return fk.RefColumn
}

// ConstraintName returns the deterministic name of the constraint on table.
func (fk ForeignKey) ConstraintName(table string) string {
	return fmt.Sprintf("fk_%s_%s", table, fk.Column)
}

// ModelDescriptor is the declarative shape of one entity. Descriptors are
// defined once at start-up and never mutated.
type ModelDescriptor struct {
	// Name is the logical entity name used in logs.
	Name string
	// Table is the physical table name.
	Table       string
	Columns     []Column
	ForeignKeys []ForeignKey
}

// References returns the tables this descriptor points at, in declaration order.
func (d ModelDescriptor) References() []string {
	refs := make([]string, 0, len(d.ForeignKeys))
	for _, fk := range d.ForeignKeys {
		refs = append(refs, fk.RefTable)
	}
	return refs
}

// PrimaryKey returns the names of the primary key columns.
func (d ModelDescriptor) PrimaryKey() []string {
	var pk []string
	for _, c := range d.Columns {
		if c.PrimaryKey {
			pk = append(pk, c.Name)
		}
	}
	return pk
}

// Column returns the column named name.
func (d ModelDescriptor) Column(name string) (Column, bool) {
	for _, c := range d.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Validate checks the descriptor is self-consistent.
func (d ModelDescriptor) Validate() error {
	var errs []error

	if d.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if d.Table == "" {
		errs = append(errs, errors.New("table is required"))
	}
	if len(d.Columns) == 0 {
		errs = append(errs, errors.New("at least one column is required"))
	}

	seen := make(map[string]struct{}, len(d.Columns))
	for i, c := range d.Columns {
		if c.Name == "" {
			errs = append(errs, fmt.Errorf("columns[%d]: name is required", i))
			continue
		}
		if c.Type == "" {
			errs = append(errs, fmt.Errorf("column %q: type is required", c.Name))
		}
		if _, dup := seen[c.Name]; dup {
			errs = append(errs, fmt.Errorf("column %q declared twice", c.Name))
		}
		seen[c.Name] = struct{}{}
	}

	for i, fk := range d.ForeignKeys {
		if fk.RefTable == "" {
			errs = append(errs, fmt.Errorf("foreignKeys[%d]: referenced table is required", i))
		}
		if _, ok := seen[fk.Column]; !ok {
			errs = append(errs, fmt.Errorf("foreignKeys[%d]: column %q is not declared", i, fk.Column))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidDescriptor, d.Name, err)
	}
	return nil
}
