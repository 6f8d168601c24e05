package cancellation

import (
	"time"

	"github.com/google/uuid"
)

// Policy is a unit's refund schedule for guest and admin cancellations.
type Policy struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UnitID      uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"unit_id"`
	Name        string    `gorm:"type:varchar(120);not null" json:"name"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	Rules       []Rule    `gorm:"foreignKey:PolicyID;constraint:OnDelete:CASCADE" json:"rules"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Rule refunds RefundPercent of the amount when the guest cancels at least
// DaysBefore days ahead of check-in.
type Rule struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PolicyID      uuid.UUID `gorm:"type:uuid;not null;index" json:"-"`
	DaysBefore    int       `gorm:"not null" json:"days_before"`
	RefundPercent int       `gorm:"not null" json:"refund_percent"`
	SortOrder     int       `gorm:"not null" json:"sort_order"`
}

func (Policy) TableName() string {
	return "cancellation_policies"
}

func (Rule) TableName() string {
	return "cancellation_rules"
}

// Refund is the outcome of evaluating a policy for one cancellation.
type Refund struct {
	Amount      int64 `json:"amount"`
	Percent     int   `json:"percent"`
	DaysNotice  int   `json:"days_notice"`
	MatchedRule *Rule `json:"matched_rule,omitempty"`
}
