package cancellation

type RuleRequest struct {
	DaysBefore    int `json:"days_before" validate:"min=0,max=365"`
	RefundPercent int `json:"refund_percent" validate:"min=0,max=100"`
}

type PolicyRequest struct {
	Name        string        `json:"name" validate:"required,min=2,max=120"`
	Description string        `json:"description" validate:"max=1000"`
	Rules       []RuleRequest `json:"rules" validate:"required,min=1,max=20,dive"`
}
