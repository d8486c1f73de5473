// Package aggregate turns stored daily records into monthly summaries.
package aggregate

import (
	"context"
	"fmt"
	"math"
	"time"

	"climate-server/internal/modules/climate/repository"
	"climate-server/internal/modules/climate/types"
)

const yearMonthLayout = "2006-01"

type Aggregator struct {
	repo repository.ClimateRepository
}

func New(repo repository.ClimateRepository) *Aggregator {
	return &Aggregator{repo: repo}
}

// MonthlyAverages reads the station's records in [from, to] and summarises
// them per calendar month.
func (a *Aggregator) MonthlyAverages(ctx context.Context, stationID string, from, to time.Time) ([]types.MonthlyAggregate, error) {
	r := types.NewDateRange(from, to)
	if !r.Valid() {
		return nil, types.InvalidParameter("from %s is after to %s",
			r.From.Format(types.DateLayout), r.To.Format(types.DateLayout))
	}
	records, err := a.repo.DailyRecords(ctx, stationID, r)
	if err != nil {
		return nil, fmt.Errorf("daily records for %s: %w", stationID, err)
	}
	return Monthly(records), nil
}

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v *float64) bool {
	if v == nil {
		return false
	}
	m.sum += *v
	m.n++
	return true
}

func (m mean) value() *float64 {
	if m.n == 0 {
		return nil
	}
	v := Round1(m.sum / float64(m.n))
	return &v
}

type bucket struct {
	key              string
	tmin, tavg, tmax mean
	days             int
	inconsistent     int
}

// Monthly groups date-ordered records by month. Each field is averaged over
// the days it is present; months without any value are left out.
func Monthly(records []types.DailyRecord) []types.MonthlyAggregate {
	var buckets []*bucket
	for _, rec := range records {
		key := rec.Date.Format(yearMonthLayout)
		if len(buckets) == 0 || buckets[len(buckets)-1].key != key {
			buckets = append(buckets, &bucket{key: key})
		}
		b := buckets[len(buckets)-1]

		a := b.tmin.add(rec.Tmin)
		c := b.tavg.add(rec.Tavg)
		d := b.tmax.add(rec.Tmax)
		if a || c || d {
			b.days++
			if rec.Inconsistent {
				b.inconsistent++
			}
		}
	}

	out := make([]types.MonthlyAggregate, 0, len(buckets))
	for _, b := range buckets {
		if b.days == 0 {
			continue
		}
		out = append(out, types.MonthlyAggregate{
			YearMonth:        b.key,
			Tmin:             b.tmin.value(),
			Tavg:             b.tavg.value(),
			Tmax:             b.tmax.value(),
			Days:             b.days,
			InconsistentDays: b.inconsistent,
		})
	}
	return out
}

// Round1 rounds to one decimal place, halves away from zero. The first step
// strips binary representation noise so 2.45 rounds to 2.5.
func Round1(v float64) float64 {
	scaled := math.Round(v*10*1e6) / 1e6
	return math.Round(scaled) / 10
}
