package inventory

type UnitListResponse struct {
	Units      []Unit `json:"units"`
	TotalCount int64  `json:"total_count"`
	Page       int    `json:"page"`
	Limit      int    `json:"limit"`
}
