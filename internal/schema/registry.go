package schema

import (
	"errors"
	"fmt"
	"slices"
)

// Group partitions registered models.
type Group int

const (
	// Independent models have no foreign keys into the registered set.
	Independent Group = iota
	// Dependent models reference at least one other registered model.
	Dependent
)

// String returns the group name.
func (g Group) String() string {
	if g == Dependent {
		return "dependent"
	}
	return "independent"
}

// FallbackKind selects the recovery procedure used when automatic
// reconciliation of a model fails. It is fixed when the model is registered.
type FallbackKind int

const (
	// NoFallback makes a failed automatic reconciliation fatal.
	NoFallback FallbackKind = iota
	// ManualDDLFallback creates the table with hand-written DDL.
	ManualDDLFallback
)

// String returns the fallback name.
func (k FallbackKind) String() string {
	switch k {
	case NoFallback:
		return "none"
	case ManualDDLFallback:
		return "manual_ddl"
	default:
		return fmt.Sprintf("fallback(%d)", int(k))
	}
}

// Entry is one registered model.
type Entry struct {
	Descriptor ModelDescriptor
	Group      Group
	Fallback   FallbackKind
}

// Registry holds the models to synchronize, in registration order.
type Registry struct {
	independent []Entry
	dependent   []Entry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Independent registers a model with no foreign keys into the registered set.
func (r *Registry) Independent(d ModelDescriptor) *Registry {
	r.independent = append(r.independent, Entry{Descriptor: d, Group: Independent, Fallback: NoFallback})
	return r
}

// Dependent registers a model that references other registered models, with the
// fallback used if its automatic reconciliation fails.
func (r *Registry) Dependent(d ModelDescriptor, fallback FallbackKind) *Registry {
	r.dependent = append(r.dependent, Entry{Descriptor: d, Group: Dependent, Fallback: fallback})
	return r
}

// Entries returns every entry in synchronization order: independent models
// first, then dependent models, each in registration order.
func (r *Registry) Entries() []Entry {
	return slices.Concat(r.independent, r.dependent)
}

// Tables returns the table names in synchronization order.
func (r *Registry) Tables() []string {
	entries := r.Entries()
	tables := make([]string, 0, len(entries))
	for _, e := range entries {
		tables = append(tables, e.Descriptor.Table)
	}
	return tables
}

// Lookup returns the entry for table.
func (r *Registry) Lookup(table string) (Entry, bool) {
	for _, e := range r.Entries() {
		if e.Descriptor.Table == table {
			return e, true
		}
	}
	return Entry{}, false
}

// Validate checks every descriptor and the ordering invariant: an independent
// model must not reference any registered table, and a dependent model may only
// reference tables registered before it (or itself, or tables outside the set).
func (r *Registry) Validate() error {
	entries := r.Entries()

	registered := make(map[string]int, len(entries))
	var errs []error
	for i, e := range entries {
		if err := e.Descriptor.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := registered[e.Descriptor.Table]; dup {
			errs = append(errs, fmt.Errorf("%w: table %q registered twice", ErrInvalidDescriptor, e.Descriptor.Table))
			continue
		}
		registered[e.Descriptor.Table] = i
	}

	for i, e := range entries {
		for _, ref := range e.Descriptor.References() {
			pos, inSet := registered[ref]
			if !inSet || ref == e.Descriptor.Table {
				continue
			}
			switch {
			case e.Group == Independent:
				errs = append(errs, fmt.Errorf("%w: independent model %q references registered table %q",
					ErrInvalidDescriptor, e.Descriptor.Name, ref))
			case pos > i:
				errs = append(errs, fmt.Errorf("%w: model %q references %q which is synchronized later",
					ErrInvalidDescriptor, e.Descriptor.Name, ref))
			}
		}
	}

	return errors.Join(errs...)
}
