package repository

import (
	"context"
	"time"

	"climate-server/internal/modules/climate/types"
)

// CandidateQuery selects stations that may lie within RadiusKm of the point.
// Backends may over-approximate; callers filter by exact distance. When Range
// is set only stations whose inventory span or stored coverage overlaps it
// are returned.
type CandidateQuery struct {
	Lat      float64
	Lon      float64
	RadiusKm float64
	Range    *types.DateRange
}

type ClimateRepository interface {
	// UpsertStations inserts or updates stations by id. A nil inventory span
	// keeps the stored one.
	UpsertStations(ctx context.Context, stations []types.Station, updatedAt time.Time) error
	CountStations(ctx context.Context) (int, error)
	// GetStation returns types.ErrNotFound for unknown ids.
	GetStation(ctx context.Context, id string) (types.Station, error)
	StationCandidates(ctx context.Context, q CandidateQuery) ([]types.Station, error)

	Coverage(ctx context.Context, stationID string) ([]types.DateRange, error)
	// SaveDaily upserts records and replaces the station's coverage in one
	// transaction.
	SaveDaily(ctx context.Context, stationID string, records []types.DailyRecord, coverage []types.DateRange, fetchedAt time.Time) error
	DailyRecords(ctx context.Context, stationID string, r types.DateRange) ([]types.DailyRecord, error)

	Ping(ctx context.Context) error
}

func dateArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(types.DateLayout)
}

func parseDate(s string) (time.Time, error) {
	return time.Parse(types.DateLayout, s)
}

func parseNullDate(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := parseDate(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
