// Package ingest fetches per-station daily documents on demand and keeps
// track of which date spans are already stored.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"climate-server/internal/ghcn"
	"climate-server/internal/modules/climate/repository"
	"climate-server/internal/modules/climate/types"
)

// Fetcher downloads a station's full daily document.
type Fetcher interface {
	FetchDaily(ctx context.Context, stationID string) ([]byte, error)
}

const (
	defaultFlightTimeout = 10 * time.Minute
	maxLoggedParseErrors = 10
)

type Ingestor struct {
	repo          repository.ClimateRepository
	fetcher       Fetcher
	logger        *slog.Logger
	flightTimeout time.Duration
	now           func() time.Time

	flights singleflight.Group
}

// New builds an Ingestor. flightTimeout bounds one shared fetch including
// retries; zero selects a default.
func New(repo repository.ClimateRepository, fetcher Fetcher, flightTimeout time.Duration, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	if flightTimeout <= 0 {
		flightTimeout = defaultFlightTimeout
	}
	return &Ingestor{
		repo:          repo,
		fetcher:       fetcher,
		logger:        logger,
		flightTimeout: flightTimeout,
		now:           time.Now,
	}
}

func (i *Ingestor) today() time.Time {
	return types.Day(i.now().UTC())
}

// clip drops the part of r after today; upstream cannot have data for it.
func (i *Ingestor) clip(r types.DateRange) (types.DateRange, bool) {
	today := i.today()
	if r.From.After(today) {
		return types.DateRange{}, false
	}
	if r.To.After(today) {
		r.To = today
	}
	return r, true
}

// Covered reports whether every fetchable day of r is already stored.
func (i *Ingestor) Covered(ctx context.Context, stationID string, r types.DateRange) (bool, error) {
	r, ok := i.clip(r)
	if !ok {
		return true, nil
	}
	covered, err := i.repo.Coverage(ctx, stationID)
	if err != nil {
		return false, fmt.Errorf("load coverage for %s: %w", stationID, err)
	}
	return len(Missing(covered, r)) == 0, nil
}

// EnsureCoverage makes sure every day of r that upstream has data for is
// stored. The station's document is fetched at most once per uncovered
// request; concurrent callers for the same station share one download.
// A caller whose ctx ends stops waiting, but the shared fetch carries on and
// its result is stored.
func (i *Ingestor) EnsureCoverage(ctx context.Context, stationID string, r types.DateRange) error {
	if !r.Valid() {
		return types.InvalidParameter("from %s is after to %s",
			r.From.Format(types.DateLayout), r.To.Format(types.DateLayout))
	}

	// A waiter may join a flight started for a narrower range; one more
	// round covers the remainder.
	for round := 0; round < 2; round++ {
		ok, err := i.Covered(ctx, stationID, r)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		ch := i.flights.DoChan(stationID, func() (any, error) {
			fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.flightTimeout)
			defer cancel()
			return nil, i.fetchAndStore(fetchCtx, stationID, r)
		})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				return res.Err
			}
			if !res.Shared {
				return nil
			}
		}
	}
	return nil
}

func (i *Ingestor) fetchAndStore(ctx context.Context, stationID string, r types.DateRange) error {
	// Another flight may have finished between the caller's check and now.
	if ok, err := i.Covered(ctx, stationID, r); err != nil || ok {
		return err
	}
	r, _ = i.clip(r)

	existing, err := i.repo.Coverage(ctx, stationID)
	if err != nil {
		return fmt.Errorf("load coverage for %s: %w", stationID, err)
	}

	start := time.Now()
	doc, err := i.fetcher.FetchDaily(ctx, stationID)
	if errors.Is(err, ghcn.ErrNoData) {
		i.logger.Info("no upstream data for station", "station_id", stationID, "range", r.String())
		return i.repo.SaveDaily(ctx, stationID, nil, MergeRanges(append(existing, r)), i.now())
	}
	if err != nil {
		return fmt.Errorf("fetch daily document for %s: %w", stationID, err)
	}

	records, parseErrs, err := ghcn.ParseDaily(stationID, bytes.NewReader(doc))
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrUpstreamUnavailable, err)
	}
	for n, pe := range parseErrs {
		if n == maxLoggedParseErrors {
			i.logger.Warn("more daily records skipped", "station_id", stationID, "count", len(parseErrs)-n)
			break
		}
		i.logger.Warn("skipping daily record", "station_id", stationID, "line", pe.Line, "record", pe.Record, "error", pe.Err)
	}

	span := r
	if len(records) > 0 {
		first, last := records[0].Date, records[len(records)-1].Date
		if first.Before(span.From) {
			span.From = first
		}
		if last.After(span.To) {
			span.To = last
		}
	}
	if err := i.repo.SaveDaily(ctx, stationID, records, MergeRanges(append(existing, span)), i.now()); err != nil {
		return fmt.Errorf("store daily records for %s: %w", stationID, err)
	}

	i.logger.Info("station daily records ingested",
		"station_id", stationID,
		"records", len(records),
		"skipped", len(parseErrs),
		"coverage", span.String(),
		"duration", time.Since(start),
	)
	return nil
}
