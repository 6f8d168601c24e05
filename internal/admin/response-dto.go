package admin

import "github.com/google/uuid"

type OverrideResponse struct {
	AuditID    uuid.UUID   `json:"audit_id"`
	Action     Action      `json:"action"`
	TargetType TargetType  `json:"target_type"`
	TargetID   string      `json:"target_id"`
	Outcome    Outcome     `json:"outcome"`
	Result     interface{} `json:"result,omitempty"`
}

type AuditListResponse struct {
	Entries    []AuditEntry `json:"entries"`
	TotalCount int64        `json:"total_count"`
	Page       int          `json:"page"`
	Limit      int          `json:"limit"`
}
