package types

import (
	"time"
)

// DateLayout is the calendar-date wire and storage format.
const DateLayout = "2006-01-02"

type Station struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Lat       float64  `json:"lat"`
	Lon       float64  `json:"lon"`
	Elevation *float64 `json:"elevation,omitempty"`

	// DataStart/DataEnd is the span the upstream inventory reports
	// temperature data for. Nil when the inventory was unavailable.
	DataStart *time.Time `json:"dataStart,omitempty"`
	DataEnd   *time.Time `json:"dataEnd,omitempty"`
}

// StationHit is a search result.
type StationHit struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	DistanceKm float64 `json:"distanceKm"`
}

type DailyRecord struct {
	StationID string
	Date      time.Time
	Tmin      *float64
	Tavg      *float64
	Tmax      *float64
	// Inconsistent is set when the present values violate min <= avg <= max.
	// The values are stored as reported.
	Inconsistent bool
}

// CheckConsistency reports whether the present values are ordered
// min <= avg <= max.
func (r DailyRecord) CheckConsistency() bool {
	if r.Tmin != nil && r.Tmax != nil && *r.Tmin > *r.Tmax {
		return false
	}
	if r.Tavg != nil {
		if r.Tmin != nil && *r.Tmin > *r.Tavg {
			return false
		}
		if r.Tmax != nil && *r.Tavg > *r.Tmax {
			return false
		}
	}
	return true
}

// Empty reports whether no temperature field is present.
func (r DailyRecord) Empty() bool {
	return r.Tmin == nil && r.Tavg == nil && r.Tmax == nil
}

// MonthlyAggregate is computed per request and never persisted.
type MonthlyAggregate struct {
	YearMonth        string   `json:"yearMonth"`
	Tmin             *float64 `json:"tmin,omitempty"`
	Tavg             *float64 `json:"tavg,omitempty"`
	Tmax             *float64 `json:"tmax,omitempty"`
	Days             int      `json:"days"`
	InconsistentDays int      `json:"inconsistentDays,omitempty"`
}

// DateRange is an inclusive span of calendar days (UTC midnight).
type DateRange struct {
	From time.Time
	To   time.Time
}

// NewDateRange normalises both ends to UTC midnight.
func NewDateRange(from, to time.Time) DateRange {
	return DateRange{From: Day(from), To: Day(to)}
}

// ParseDateRange parses two YYYY-MM-DD strings.
func ParseDateRange(from, to string) (DateRange, error) {
	f, err := time.Parse(DateLayout, from)
	if err != nil {
		return DateRange{}, InvalidParameter("from: %q is not a YYYY-MM-DD date", from)
	}
	t, err := time.Parse(DateLayout, to)
	if err != nil {
		return DateRange{}, InvalidParameter("to: %q is not a YYYY-MM-DD date", to)
	}
	return NewDateRange(f, t), nil
}

func (r DateRange) Valid() bool {
	return !r.From.After(r.To)
}

func (r DateRange) Contains(d time.Time) bool {
	return !d.Before(r.From) && !d.After(r.To)
}

func (r DateRange) Overlaps(o DateRange) bool {
	return !r.From.After(o.To) && !o.From.After(r.To)
}

func (r DateRange) String() string {
	return r.From.Format(DateLayout) + ".." + r.To.Format(DateLayout)
}

// Day truncates t to UTC midnight of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
