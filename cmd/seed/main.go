package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/zomestaydeveloper/Zomestay/api/routes"
	"github.com/zomestaydeveloper/Zomestay/internal/cancellation"
	"github.com/zomestaydeveloper/Zomestay/internal/inventory"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/clock"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/config"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/database"
	"github.com/zomestaydeveloper/Zomestay/pkg/cache"
)

type Seeder struct {
	db       *database.DB
	units    inventory.Service
	policies cancellation.Service
}

func main() {
	fmt.Println("Starting Zomestay database seeder...")

	cfg := config.Load()
	if cfg.UsesMemoryStorage() {
		log.Fatal("STORAGE_DRIVER=memory: nothing to seed")
	}
	// Seeding never needs the cache.
	cfg.Redis.Enabled = false

	db, err := database.InitDB(cfg, routes.Models()...)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	clk := clock.NewSystem()
	units := inventory.NewService(
		inventory.NewRepository(db.PostgreSQL),
		inventory.NewLedger(inventory.NewRecordStore(db.PostgreSQL), clk),
		cache.NewNoop(),
		clk,
		inventory.WithDefaultCurrency(cfg.Booking.Currency),
	)
	seeder := &Seeder{
		db:    db,
		units: units,
		policies: cancellation.NewService(cancellation.NewRepository(db.PostgreSQL), func(ctx context.Context, id uuid.UUID) error {
			_, err := units.GetUnit(ctx, id)
			return err
		}, clk),
	}

	fmt.Println("\nCleaning database...")
	if err := seeder.CleanDatabase(); err != nil {
		log.Fatalf("Failed to clean database: %v", err)
	}

	fmt.Println("\nSeeding database...")
	if err := seeder.SeedAll(context.Background()); err != nil {
		log.Fatalf("Failed to seed database: %v", err)
	}

	fmt.Println("\nSeeding completed! Database is ready for testing.")
}

// CleanDatabase truncates all tables, dependents first.
func (s *Seeder) CleanDatabase() error {
	tables := []string{
		"admin_audit_log",
		"payment_attempts",
		"booking_transitions",
		"cancellation_requests",
		"bookings",
		"holds",
		"availability_records",
		"cancellation_rules",
		"cancellation_policies",
		"units",
	}

	tx := s.db.PostgreSQL.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	for _, table := range tables {
		fmt.Printf("  Truncating table: %s\n", table)
		if err := tx.Exec(fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", table)).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}

	return tx.Commit().Error
}

type seedUnit struct {
	hostID string
	name   string
	rate   int64
	policy *cancellation.PolicyRequest
}

var (
	flexible = &cancellation.PolicyRequest{
		Name:        "Flexible",
		Description: "Full refund up to a day before check-in.",
		Rules: []cancellation.RuleRequest{
			{DaysBefore: 1, RefundPercent: 100},
			{DaysBefore: 0, RefundPercent: 0},
		},
	}
	moderate = &cancellation.PolicyRequest{
		Name:        "Moderate",
		Description: "Full refund two weeks out, half refund one week out.",
		Rules: []cancellation.RuleRequest{
			{DaysBefore: 14, RefundPercent: 100},
			{DaysBefore: 7, RefundPercent: 50},
			{DaysBefore: 0, RefundPercent: 0},
		},
	}
	strict = &cancellation.PolicyRequest{
		Name:        "Strict",
		Description: "Half refund up to thirty days before check-in.",
		Rules: []cancellation.RuleRequest{
			{DaysBefore: 30, RefundPercent: 50},
			{DaysBefore: 0, RefundPercent: 0},
		},
	}
)

// SeedAll creates a small catalogue of units with their cancellation policies.
func (s *Seeder) SeedAll(ctx context.Context) error {
	catalogue := []seedUnit{
		{hostID: "host-coorg", name: "Coorg Coffee Estate Cottage", rate: 6500, policy: moderate},
		{hostID: "host-coorg", name: "Coorg Plantation Suite", rate: 9800, policy: strict},
		{hostID: "host-goa", name: "Anjuna Beach Villa", rate: 14500, policy: strict},
		{hostID: "host-goa", name: "Assagao Garden Room", rate: 4200, policy: flexible},
		{hostID: "host-manali", name: "Old Manali Log Hut", rate: 3800, policy: moderate},
		{hostID: "host-manali", name: "Solang Valley Homestay", rate: 2900},
	}

	// Units open for booking over the next year.
	today := time.Now().UTC().Truncate(24 * time.Hour)
	window := []inventory.DateRangeRequest{{
		From: today.Format(inventory.DateLayout),
		To:   today.AddDate(1, 0, 0).Format(inventory.DateLayout),
	}}

	for _, su := range catalogue {
		unit, err := s.units.CreateUnit(ctx, inventory.CreateUnitRequest{
			HostID:         su.hostID,
			Name:           su.name,
			NightlyRate:    su.rate,
			BookableRanges: window,
		})
		if err != nil {
			return fmt.Errorf("failed to seed unit %q: %w", su.name, err)
		}
		fmt.Printf("  Unit: %s (%s)\n", unit.Name, unit.ID)

		if su.policy == nil {
			continue
		}
		if _, err := s.policies.PutPolicy(ctx, unit.ID, *su.policy); err != nil {
			return fmt.Errorf("failed to seed policy for %q: %w", su.name, err)
		}
		fmt.Printf("    Policy: %s\n", su.policy.Name)
	}
	return nil
}
