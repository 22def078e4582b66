package seed

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/stacklok/hms-server/internal/fault"
	"github.com/stacklok/hms-server/internal/models"
)

const defaultPasswordCost = bcrypt.DefaultCost

// Admin is a baseline administrative account.
type Admin struct {
	Email    string
	FullName string
	Password string
}

// LabTest is a lab test catalog entry.
type LabTest struct {
	Name  string
	Code  string
	Price string
}

// Department is a baseline department.
type Department struct {
	Name string
	Code string
}

// StockItem is a baseline inventory item.
type StockItem struct {
	SKU  string
	Name string
	Unit string
}

// Plan lists the baseline records to ensure.
type Plan struct {
	Admins      []Admin
	Departments []Department
	LabTests    []LabTest
	StockItems  []StockItem
	// SampleData adds one illustrative patient with an encounter and triage.
	SampleData bool
}

// DefaultPlan returns the standard catalog with the given administrator.
// The administrator is omitted when email or password is empty.
func DefaultPlan(adminEmail, adminPassword string, sampleData bool) Plan {
	p := Plan{
		Departments: []Department{
			{Name: "Outpatient", Code: "OPD"},
			{Name: "Emergency", Code: "ER"},
			{Name: "Laboratory", Code: "LAB"},
			{Name: "Pharmacy", Code: "PHM"},
		},
		LabTests: []LabTest{
			{Name: "Full Blood Count", Code: "FBC", Price: "15.00"},
			{Name: "Malaria Rapid Test", Code: "MRDT", Price: "5.00"},
			{Name: "Urinalysis", Code: "UA", Price: "8.00"},
			{Name: "Random Blood Sugar", Code: "RBS", Price: "4.00"},
		},
		StockItems: []StockItem{
			{SKU: "PARA-500", Name: "Paracetamol 500mg", Unit: "tablet"},
			{SKU: "GLOVE-M", Name: "Examination gloves (M)", Unit: "box"},
			{SKU: "SYR-5ML", Name: "Syringe 5ml", Unit: "piece"},
		},
		SampleData: sampleData,
	}
	if adminEmail != "" && adminPassword != "" {
		p.Admins = []Admin{{Email: adminEmail, FullName: "System Administrator", Password: adminPassword}}
	}
	return p
}

// Summary counts the records handled by Run.
type Summary struct {
	Created  int
	Existing int
	Failed   int
	Skipped  int
}

// Run ensures every record in plan. A failing record is recorded as a
// recoverable SeedFailure and the remaining records are still attempted;
// records whose parent failed are skipped.
func (s *Seeder) Run(ctx context.Context, plan Plan) Summary {
	var sum Summary

	ensure := func(table string, key, defaults map[string]any) (Record, bool) {
		rec, created, err := s.EnsureRecord(ctx, table, key, defaults)
		switch {
		case err != nil:
			sum.Failed++
			s.logger.Error("Failed to seed record", "table", table, "key", describeKey(key), "error", err)
			s.recorder.Record(fault.NewRecoverable(fault.SeedFailure, table+"("+describeKey(key)+")", err))
			return nil, false
		case created:
			sum.Created++
		default:
			sum.Existing++
		}
		return rec, true
	}

	for _, a := range plan.Admins {
		hash, err := bcrypt.GenerateFromPassword([]byte(a.Password), s.passwordCost)
		if err != nil {
			sum.Failed++
			s.recorder.Record(fault.NewRecoverable(fault.SeedFailure, models.TableUsers+"("+a.Email+")",
				fmt.Errorf("failed to hash password: %w", err)))
			continue
		}
		ensure(models.TableUsers,
			map[string]any{"email": a.Email},
			map[string]any{"full_name": a.FullName, "password_hash": string(hash), "role": "admin"})
	}

	for _, d := range plan.Departments {
		ensure(models.TableDepartments, map[string]any{"name": d.Name}, map[string]any{"code": d.Code})
	}

	for _, lt := range plan.LabTests {
		ensure(models.TableLabTests, map[string]any{"name": lt.Name}, map[string]any{"code": lt.Code, "price": lt.Price})
	}

	for _, it := range plan.StockItems {
		ensure(models.TableStockItems, map[string]any{"sku": it.SKU}, map[string]any{"name": it.Name, "unit": it.Unit})
	}

	if plan.SampleData {
		s.seedSample(ensure, &sum)
	}

	s.logger.Info("Seeding finished",
		"created", sum.Created, "existing", sum.Existing, "failed", sum.Failed, "skipped", sum.Skipped)
	return sum
}

type ensureFunc func(table string, key, defaults map[string]any) (Record, bool)

func (s *Seeder) seedSample(ensure ensureFunc, sum *Summary) {
	patient, ok := ensure(models.TablePatients,
		map[string]any{
			"first_name":    "Jane",
			"last_name":     "Doe",
			"date_of_birth": time.Date(1985, time.April, 12, 0, 0, 0, 0, time.UTC),
		},
		map[string]any{"gender": "female", "phone": "+10000000000"})
	patientID, hasID := patient.ID()
	if !ok || !hasID {
		s.logger.Warn("Skipping sample encounter and triage, patient is unavailable")
		sum.Skipped += 2
		return
	}

	encounter, ok := ensure(models.TableEncounters,
		map[string]any{"patient_id": patientID, "reason": "Sample visit"},
		map[string]any{"status": "open"})
	encounterID, hasID := encounter.ID()
	if !ok || !hasID {
		s.logger.Warn("Skipping sample triage, encounter is unavailable")
		sum.Skipped++
		return
	}

	ensure(models.TableTriages,
		map[string]any{"encounter_id": encounterID},
		map[string]any{"temperature_c": "36.8", "pulse": 72, "systolic": 120, "diastolic": 80, "priority": "routine"})
}
