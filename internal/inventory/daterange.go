package inventory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zomestaydeveloper/Zomestay/internal/shared/apperrors"
)

const DateLayout = "2006-01-02"

// DateRange is a span of nights: Start is the check-in day (inclusive) and
// End the check-out day (exclusive). Both are UTC midnight.
type DateRange struct {
	Start time.Time `gorm:"type:date"`
	End   time.Time `gorm:"type:date"`
}

// Day truncates t to UTC midnight of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func DayKey(t time.Time) string {
	return Day(t).Format(DateLayout)
}

func NewDateRange(start, end time.Time) (DateRange, error) {
	r := DateRange{Start: Day(start), End: Day(end)}
	if !r.End.After(r.Start) {
		return DateRange{}, fmt.Errorf("%w: check-out %s must be after check-in %s",
			apperrors.ErrInvalidInput, r.End.Format(DateLayout), r.Start.Format(DateLayout))
	}
	return r, nil
}

func ParseDateRange(from, to string) (DateRange, error) {
	start, err := time.Parse(DateLayout, from)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: bad start date %q", apperrors.ErrInvalidInput, from)
	}
	end, err := time.Parse(DateLayout, to)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: bad end date %q", apperrors.ErrInvalidInput, to)
	}
	return NewDateRange(start, end)
}

// MustDateRange is for tests and seed data.
func MustDateRange(from, to string) DateRange {
	r, err := ParseDateRange(from, to)
	if err != nil {
		panic(err)
	}
	return r
}

func (r DateRange) NightCount() int {
	return int(r.End.Sub(r.Start).Hours() / 24)
}

// Nights lists every night in the range in ascending order.
func (r DateRange) Nights() []time.Time {
	n := r.NightCount()
	out := make([]time.Time, 0, n)
	for d := r.Start; d.Before(r.End); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

func (r DateRange) Overlaps(o DateRange) bool {
	return r.Start.Before(o.End) && o.Start.Before(r.End)
}

// Within reports whether r lies entirely inside o.
func (r DateRange) Within(o DateRange) bool {
	return !r.Start.Before(o.Start) && !r.End.After(o.End)
}

func (r DateRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

func (r DateRange) String() string {
	return r.Start.Format(DateLayout) + "/" + r.End.Format(DateLayout)
}

type dateRangeJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (r DateRange) MarshalJSON() ([]byte, error) {
	return json.Marshal(dateRangeJSON{
		Start: r.Start.Format(DateLayout),
		End:   r.End.Format(DateLayout),
	})
}

func (r *DateRange) UnmarshalJSON(b []byte) error {
	var raw dateRangeJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := ParseDateRange(raw.Start, raw.End)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
