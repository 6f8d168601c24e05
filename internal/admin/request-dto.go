package admin

type OverrideRequest struct {
	Action    Action `json:"action" validate:"required,oneof=FORCE_CANCEL FORCE_BLOCK FORCE_UNBLOCK FORCE_RELEASE_HOLD EXTEND_HOLD SET_UNIT_STATUS APPROVE_CANCELLATION REJECT_CANCELLATION"`
	BookingID string `json:"booking_id" validate:"omitempty,uuid"`
	HoldID    string `json:"hold_id" validate:"omitempty,uuid"`
	UnitID    string `json:"unit_id" validate:"omitempty,uuid"`
	From      string `json:"from" validate:"omitempty,datetime=2006-01-02"`
	To        string `json:"to" validate:"omitempty,datetime=2006-01-02"`
	// RequestID is a guest cancellation request, for the two review actions.
	RequestID string `json:"request_id" validate:"omitempty,uuid"`
	// BlockRef is the reference returned by FORCE_BLOCK.
	BlockRef      string `json:"block_ref" validate:"omitempty,max=64"`
	ExtendMinutes int    `json:"extend_minutes" validate:"omitempty,min=1,max=1440"`
	Status        string `json:"status" validate:"omitempty,oneof=ACTIVE SUSPENDED MAINTENANCE"`
	Reason        string `json:"reason" validate:"required,min=3,max=500"`
}

type UnitStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=ACTIVE SUSPENDED MAINTENANCE"`
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

type AuditQuery struct {
	ActorID  string `form:"actor_id"`
	TargetID string `form:"target_id"`
	Action   string `form:"action"`
	Page     int    `form:"page" validate:"omitempty,min=1"`
	Limit    int    `form:"limit" validate:"omitempty,min=1,max=100"`
}

func (q AuditQuery) normalized() (int, int) {
	page, limit := q.Page, q.Limit
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return page, limit
}
