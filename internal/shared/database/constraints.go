package database

import (
	"fmt"

	"gorm.io/gorm"
)

var constraintStatements = []string{
	// At most one pending and one succeeded payment attempt per booking.
	`CREATE UNIQUE INDEX IF NOT EXISTS uniq_payment_attempts_pending
		ON payment_attempts (booking_id) WHERE status = 'PENDING'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uniq_payment_attempts_succeeded
		ON payment_attempts (booking_id) WHERE status = 'SUCCEEDED'`,

	// Sweeper scans active holds by expiry.
	`CREATE INDEX IF NOT EXISTS idx_holds_active_expiry
		ON holds (expires_at) WHERE status = 'ACTIVE'`,

	// One active hold per booking.
	`CREATE UNIQUE INDEX IF NOT EXISTS uniq_holds_active_booking
		ON holds (booking_id) WHERE status = 'ACTIVE'`,

	`CREATE INDEX IF NOT EXISTS idx_availability_records_owner
		ON availability_records (owner, unit_id)`,

	`CREATE INDEX IF NOT EXISTS idx_booking_transitions_booking_at
		ON booking_transitions (booking_id, at)`,

	`CREATE INDEX IF NOT EXISTS idx_admin_audit_log_target
		ON admin_audit_log (target_type, target_id, at DESC)`,
}

// MigrateConstraints adds the partial indexes that back the booking
// invariants in the database.
func MigrateConstraints(db *gorm.DB) error {
	for _, stmt := range constraintStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("apply constraint: %w", err)
		}
	}
	return nil
}
