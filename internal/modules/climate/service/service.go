// Package service composes the directory, ingestion, aggregation and cache
// into the two public operations.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"climate-server/internal/cache"
	"climate-server/internal/modules/climate/aggregate"
	"climate-server/internal/modules/climate/directory"
	"climate-server/internal/modules/climate/ingest"
	"climate-server/internal/modules/climate/types"
)

const (
	DefaultRadiusKm = 50
	DefaultLimit    = 10
)

// Open ends of a station search date filter.
var (
	earliestDate = time.Date(1700, time.January, 1, 0, 0, 0, 0, time.UTC)
	latestDate   = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)
)

var validate = validator.New()

type FindStationsRequest struct {
	Lat      float64    `validate:"gte=-90,lte=90"`
	Lon      float64    `validate:"gte=-180,lte=180"`
	RadiusKm *float64   `validate:"omitempty,gte=1,lte=100"`
	Limit    *int       `validate:"omitempty,gte=1,lte=50"`
	From     *time.Time `validate:"omitempty"`
	To       *time.Time `validate:"omitempty"`
}

type TemperaturesRequest struct {
	StationID string    `validate:"required,max=32"`
	From      time.Time `validate:"required"`
	To        time.Time `validate:"required"`
}

type TTLs struct {
	Stations     time.Duration
	Temperatures time.Duration
}

type Service struct {
	directory  *directory.Directory
	ingestor   *ingest.Ingestor
	aggregator *aggregate.Aggregator
	cache      *cache.Cache
	ttl        TTLs
	logger     *slog.Logger
}

func NewService(
	dir *directory.Directory,
	ingestor *ingest.Ingestor,
	aggregator *aggregate.Aggregator,
	c *cache.Cache,
	ttl TTLs,
	logger *slog.Logger,
) *Service {
	if c == nil {
		c = cache.New(nil, 0, logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		directory:  dir,
		ingestor:   ingestor,
		aggregator: aggregator,
		cache:      c,
		ttl:        ttl,
		logger:     logger,
	}
}

// FindStations returns stations near a point, nearest first.
func (s *Service) FindStations(ctx context.Context, req FindStationsRequest) ([]types.StationHit, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	q := directory.SearchQuery{Lat: req.Lat, Lon: req.Lon, RadiusKm: DefaultRadiusKm, Limit: DefaultLimit}
	if req.RadiusKm != nil {
		q.RadiusKm = *req.RadiusKm
	}
	if req.Limit != nil {
		q.Limit = *req.Limit
	}
	if req.From != nil || req.To != nil {
		r := types.DateRange{From: earliestDate, To: latestDate}
		if req.From != nil {
			r.From = types.Day(*req.From)
		}
		if req.To != nil {
			r.To = types.Day(*req.To)
		}
		if !r.Valid() {
			return nil, types.InvalidParameter("from %s is after to %s",
				r.From.Format(types.DateLayout), r.To.Format(types.DateLayout))
		}
		q.Range = &r
	}

	params := map[string]string{
		"lat":       strconv.FormatFloat(q.Lat, 'f', -1, 64),
		"lon":       strconv.FormatFloat(q.Lon, 'f', -1, 64),
		"radius_km": strconv.FormatFloat(q.RadiusKm, 'f', -1, 64),
		"limit":     strconv.Itoa(q.Limit),
	}
	if q.Range != nil {
		params["from"] = q.Range.From.Format(types.DateLayout)
		params["to"] = q.Range.To.Format(types.DateLayout)
	}
	key := cache.Fingerprint("stations", params)

	var hits []types.StationHit
	if s.cache.GetJSON(ctx, key, &hits) {
		return hits, nil
	}

	hits, err := s.directory.SearchNearby(ctx, q)
	if err != nil {
		return nil, err
	}
	s.cache.SetJSON(ctx, key, hits, s.ttl.Stations)
	return hits, nil
}

// GetStation returns one station's metadata.
func (s *Service) GetStation(ctx context.Context, id string) (types.Station, error) {
	if err := validate.Var(id, "required,max=32"); err != nil {
		return types.Station{}, types.InvalidParameter("station id %q", id)
	}
	return s.directory.GetStation(ctx, id)
}

// GetTemperatures returns monthly temperature means for a station, fetching
// missing daily data from upstream first. When upstream is down the request
// still succeeds if every requested day is already stored; partial results
// are never returned.
func (s *Service) GetTemperatures(ctx context.Context, req TemperaturesRequest) ([]types.MonthlyAggregate, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	r := types.NewDateRange(req.From, req.To)
	if !r.Valid() {
		return nil, types.InvalidParameter("from %s is after to %s",
			r.From.Format(types.DateLayout), r.To.Format(types.DateLayout))
	}

	key := cache.Fingerprint("temperatures", map[string]string{
		"station_id": req.StationID,
		"from":       r.From.Format(types.DateLayout),
		"to":         r.To.Format(types.DateLayout),
	})
	var months []types.MonthlyAggregate
	if s.cache.GetJSON(ctx, key, &months) {
		return months, nil
	}

	if _, err := s.directory.GetStation(ctx, req.StationID); err != nil {
		return nil, err
	}

	if err := s.ingestor.EnsureCoverage(ctx, req.StationID, r); err != nil {
		if !errors.Is(err, types.ErrUpstreamUnavailable) {
			return nil, err
		}
		covered, cerr := s.ingestor.Covered(ctx, req.StationID, r)
		if cerr != nil || !covered {
			return nil, err
		}
		s.logger.Warn("upstream unavailable, serving stored data",
			"station_id", req.StationID, "range", r.String(), "error", err)
	}

	months, err := s.aggregator.MonthlyAverages(ctx, req.StationID, r.From, r.To)
	if err != nil {
		return nil, err
	}
	s.cache.SetJSON(ctx, key, months, s.ttl.Temperatures)
	return months, nil
}

// validateStruct runs struct tag validation and reports the first failing
// field as an invalid parameter.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Param() != "" {
			return types.InvalidParameter("%s must satisfy %s=%s, got %v", fe.Field(), fe.Tag(), fe.Param(), fe.Value())
		}
		return types.InvalidParameter("%s failed %s", fe.Field(), fe.Tag())
	}
	return fmt.Errorf("%w: %v", types.ErrInvalidParameter, err)
}
