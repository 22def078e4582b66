// Package models declares the hospital entities whose tables are synchronized
// at start-up.
package models

import "github.com/stacklok/hms-server/internal/schema"

// Table names.
const (
	TableUsers          = "users"
	TableDepartments    = "departments"
	TablePatients       = "patients"
	TableLabTests       = "lab_tests"
	TableStockItems     = "stock_items"
	TableEncounters     = "encounters"
	TableTriages        = "triages"
	TableInvestigations = "investigations"
	TableInvoices       = "invoices"
	TableInvoiceItems   = "invoice_items"
	TableStockMovements = "stock_movements"
)

var (
	id        = schema.Column{Name: "id", Type: "bigserial", PrimaryKey: true}
	createdAt = schema.Column{Name: "created_at", Type: "timestamptz", NotNull: true, Default: "now()"}
	updatedAt = schema.Column{Name: "updated_at", Type: "timestamptz", NotNull: true, Default: "now()"}
)

func ref(column string) schema.Column {
	return schema.Column{Name: column, Type: "bigint"}
}

func requiredRef(column string) schema.Column {
	return schema.Column{Name: column, Type: "bigint", NotNull: true}
}

// User is a staff account.
var User = schema.ModelDescriptor{
	Name:  "User",
	Table: TableUsers,
	Columns: []schema.Column{
		id,
		{Name: "email", Type: "varchar(255)", NotNull: true, Unique: true},
		{Name: "password_hash", Type: "text", NotNull: true},
		{Name: "full_name", Type: "varchar(255)", NotNull: true},
		{Name: "role", Type: "varchar(32)", NotNull: true, Default: "'staff'"},
		{Name: "active", Type: "boolean", NotNull: true, Default: "true"},
		createdAt,
		updatedAt,
	},
}

// Department is a clinical or administrative unit.
var Department = schema.ModelDescriptor{
	Name:  "Department",
	Table: TableDepartments,
	Columns: []schema.Column{
		id,
		{Name: "name", Type: "varchar(128)", NotNull: true, Unique: true},
		{Name: "code", Type: "varchar(16)"},
		{Name: "description", Type: "text"},
		createdAt,
	},
}

// Patient is a registered patient.
var Patient = schema.ModelDescriptor{
	Name:  "Patient",
	Table: TablePatients,
	Columns: []schema.Column{
		id,
		{Name: "first_name", Type: "varchar(128)", NotNull: true},
		{Name: "last_name", Type: "varchar(128)", NotNull: true},
		{Name: "date_of_birth", Type: "date"},
		{Name: "gender", Type: "varchar(16)"},
		{Name: "phone", Type: "varchar(32)"},
		{Name: "address", Type: "text"},
		createdAt,
		updatedAt,
	},
}

// LabTest is an entry in the laboratory test catalog.
var LabTest = schema.ModelDescriptor{
	Name:  "LabTest",
	Table: TableLabTests,
	Columns: []schema.Column{
		id,
		{Name: "name", Type: "varchar(128)", NotNull: true, Unique: true},
		{Name: "code", Type: "varchar(32)"},
		{Name: "price", Type: "numeric(12,2)", NotNull: true, Default: "0"},
		createdAt,
	},
}

// StockItem is an inventory item.
var StockItem = schema.ModelDescriptor{
	Name:  "StockItem",
	Table: TableStockItems,
	Columns: []schema.Column{
		id,
		{Name: "sku", Type: "varchar(64)", NotNull: true, Unique: true},
		{Name: "name", Type: "varchar(128)", NotNull: true},
		{Name: "unit", Type: "varchar(32)", NotNull: true, Default: "'unit'"},
		{Name: "quantity", Type: "integer", NotNull: true, Default: "0"},
		{Name: "reorder_level", Type: "integer", NotNull: true, Default: "0"},
		createdAt,
	},
}

// Encounter is a patient visit.
var Encounter = schema.ModelDescriptor{
	Name:  "Encounter",
	Table: TableEncounters,
	Columns: []schema.Column{
		id,
		requiredRef("patient_id"),
		ref("department_id"),
		ref("attending_user_id"),
		{Name: "status", Type: "varchar(32)", NotNull: true, Default: "'open'"},
		{Name: "reason", Type: "text"},
		{Name: "started_at", Type: "timestamptz", NotNull: true, Default: "now()"},
		{Name: "ended_at", Type: "timestamptz"},
	},
	ForeignKeys: []schema.ForeignKey{
		{Column: "patient_id", RefTable: TablePatients, OnDelete: "CASCADE"},
		{Column: "department_id", RefTable: TableDepartments, OnDelete: "SET NULL"},
		{Column: "attending_user_id", RefTable: TableUsers, OnDelete: "SET NULL"},
	},
}

// Triage holds the vital signs taken at the start of an encounter.
var Triage = schema.ModelDescriptor{
	Name:  "Triage",
	Table: TableTriages,
	Columns: []schema.Column{
		id,
		requiredRef("encounter_id"),
		ref("recorded_by"),
		{Name: "temperature_c", Type: "numeric(4,1)"},
		{Name: "pulse", Type: "integer"},
		{Name: "systolic", Type: "integer"},
		{Name: "diastolic", Type: "integer"},
		{Name: "respiratory_rate", Type: "integer"},
		{Name: "weight_kg", Type: "numeric(5,2)"},
		{Name: "priority", Type: "varchar(16)", NotNull: true, Default: "'routine'"},
		{Name: "notes", Type: "text"},
		createdAt,
	},
	ForeignKeys: []schema.ForeignKey{
		{Column: "encounter_id", RefTable: TableEncounters, OnDelete: "CASCADE"},
		{Column: "recorded_by", RefTable: TableUsers, OnDelete: "SET NULL"},
	},
}

// Investigation is a lab test requested during an encounter.
var Investigation = schema.ModelDescriptor{
	Name:  "Investigation",
	Table: TableInvestigations,
	Columns: []schema.Column{
		id,
		requiredRef("encounter_id"),
		requiredRef("lab_test_id"),
		ref("requested_by"),
		{Name: "status", Type: "varchar(32)", NotNull: true, Default: "'requested'"},
		{Name: "result", Type: "text"},
		createdAt,
		{Name: "completed_at", Type: "timestamptz"},
	},
	ForeignKeys: []schema.ForeignKey{
		{Column: "encounter_id", RefTable: TableEncounters, OnDelete: "CASCADE"},
		{Column: "lab_test_id", RefTable: TableLabTests},
		{Column: "requested_by", RefTable: TableUsers, OnDelete: "SET NULL"},
	},
}

// Invoice bills a patient, optionally for a single encounter.
var Invoice = schema.ModelDescriptor{
	Name:  "Invoice",
	Table: TableInvoices,
	Columns: []schema.Column{
		id,
		requiredRef("patient_id"),
		ref("encounter_id"),
		{Name: "number", Type: "varchar(32)", NotNull: true, Unique: true},
		{Name: "status", Type: "varchar(32)", NotNull: true, Default: "'draft'"},
		{Name: "total", Type: "numeric(12,2)", NotNull: true, Default: "0"},
		createdAt,
		updatedAt,
	},
	ForeignKeys: []schema.ForeignKey{
		{Column: "patient_id", RefTable: TablePatients},
		{Column: "encounter_id", RefTable: TableEncounters, OnDelete: "SET NULL"},
	},
}

// InvoiceItem is one billed line.
var InvoiceItem = schema.ModelDescriptor{
	Name:  "InvoiceItem",
	Table: TableInvoiceItems,
	Columns: []schema.Column{
		id,
		requiredRef("invoice_id"),
		ref("investigation_id"),
		{Name: "description", Type: "text", NotNull: true},
		{Name: "quantity", Type: "integer", NotNull: true, Default: "1"},
		{Name: "unit_price", Type: "numeric(12,2)", NotNull: true, Default: "0"},
		{Name: "amount", Type: "numeric(12,2)", NotNull: true, Default: "0"},
	},
	ForeignKeys: []schema.ForeignKey{
		{Column: "invoice_id", RefTable: TableInvoices, OnDelete: "CASCADE"},
		{Column: "investigation_id", RefTable: TableInvestigations, OnDelete: "SET NULL"},
	},
}

// StockMovement records a change in stock level.
var StockMovement = schema.ModelDescriptor{
	Name:  "StockMovement",
	Table: TableStockMovements,
	Columns: []schema.Column{
		id,
		requiredRef("stock_item_id"),
		ref("user_id"),
		{Name: "kind", Type: "varchar(16)", NotNull: true},
		{Name: "quantity", Type: "integer", NotNull: true},
		{Name: "reference", Type: "varchar(64)"},
		createdAt,
	},
	ForeignKeys: []schema.ForeignKey{
		{Column: "stock_item_id", RefTable: TableStockItems, OnDelete: "CASCADE"},
		{Column: "user_id", RefTable: TableUsers, OnDelete: "SET NULL"},
	},
}

// Registry returns the hospital models in synchronization order.
func Registry() *schema.Registry {
	return schema.NewRegistry().
		Independent(User).
		Independent(Department).
		Independent(Patient).
		Independent(LabTest).
		Independent(StockItem).
		Dependent(Encounter, schema.ManualDDLFallback).
		Dependent(Triage, schema.ManualDDLFallback).
		Dependent(Investigation, schema.ManualDDLFallback).
		Dependent(Invoice, schema.ManualDDLFallback).
		Dependent(InvoiceItem, schema.ManualDDLFallback).
		Dependent(StockMovement, schema.NoFallback)
}

// RequiredTables are the tables the service cannot run without.
func RequiredTables() []string {
	return []string{TableUsers, TableDepartments, TablePatients, TableLabTests, TableEncounters, TableInvoices}
}

// OptionalTables back auxiliary features.
func OptionalTables() []string {
	return []string{TableTriages, TableInvestigations, TableInvoiceItems, TableStockItems, TableStockMovements}
}
