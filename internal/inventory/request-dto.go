package inventory

type CreateUnitRequest struct {
	HostID         string             `json:"host_id" validate:"required,max=64"`
	Name           string             `json:"name" validate:"required,min=2,max=200"`
	NightlyRate    int64              `json:"nightly_rate" validate:"required,gt=0"`
	Currency       string             `json:"currency" validate:"omitempty,len=3"`
	BookableRanges []DateRangeRequest `json:"bookable_ranges" validate:"omitempty,dive"`
}

type UpdateUnitStatusRequest struct {
	Status UnitStatus `json:"status" validate:"required,oneof=ACTIVE SUSPENDED MAINTENANCE"`
	Reason string     `json:"reason" validate:"max=255"`
}

type DateRangeRequest struct {
	From string `json:"from" validate:"required,datetime=2006-01-02"`
	To   string `json:"to" validate:"required,datetime=2006-01-02"`
}

func (r DateRangeRequest) Parse() (DateRange, error) {
	return ParseDateRange(r.From, r.To)
}

type AvailabilityQuery struct {
	From string `form:"from" validate:"required,datetime=2006-01-02"`
	To   string `form:"to" validate:"required,datetime=2006-01-02"`
}

type UnitListQuery struct {
	Page   int        `form:"page"`
	Limit  int        `form:"limit"`
	Status UnitStatus `form:"status"`
	HostID string     `form:"host_id"`
}

func (q UnitListQuery) normalized() (int, int) {
	page, limit := q.Page, q.Limit
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return page, limit
}
