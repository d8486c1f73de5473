// Package directory owns station metadata: the bulk import from the upstream
// station documents and point-radius search.
package directory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"climate-server/internal/geo"
	"climate-server/internal/ghcn"
	"climate-server/internal/modules/climate/repository"
	"climate-server/internal/modules/climate/types"
)

const (
	MinRadiusKm = 1
	MaxRadiusKm = 100
	MinLimit    = 1
	MaxLimit    = 50

	// importTimeout bounds a shared first import, which outlives the
	// request that started it.
	importTimeout = 10 * time.Minute
)

// Source provides the raw station and inventory documents.
type Source interface {
	FetchStations(ctx context.Context) ([]byte, error)
	FetchInventory(ctx context.Context) ([]byte, error)
}

type ImportResult struct {
	Imported int
	Skipped  int
	// Filtered counts stations without temperature elements in the inventory.
	Filtered int
	Errors   []*types.ParseError
}

type Directory struct {
	repo   repository.ClimateRepository
	source Source
	logger *slog.Logger
	now    func() time.Time

	loaded    atomic.Bool
	loads     singleflight.Group
	refreshMu sync.Mutex
}

func New(repo repository.ClimateRepository, source Source, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{repo: repo, source: source, logger: logger, now: time.Now}
}

// ImportStations fetches both upstream documents and upserts every decodable
// station. Rows that fail to decode are skipped and reported in the result.
// The inventory is optional: without it stations are stored without a data
// span and nothing is filtered.
func (d *Directory) ImportStations(ctx context.Context) (ImportResult, error) {
	var (
		stationsDoc, inventoryDoc []byte
		inventoryErr              error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stationsDoc, err = d.source.FetchStations(gctx)
		return err
	})
	g.Go(func() error {
		inventoryDoc, inventoryErr = d.source.FetchInventory(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return ImportResult{}, fmt.Errorf("%w: %v", types.ErrSourceUnavailable, err)
	}

	stations, parseErrs, err := ghcn.ParseStations(bytes.NewReader(stationsDoc))
	if err != nil {
		return ImportResult{}, fmt.Errorf("%w: %v", types.ErrSourceUnavailable, err)
	}
	for _, pe := range parseErrs {
		d.logger.Warn("skipping station record", "line", pe.Line, "record", pe.Record, "error", pe.Err)
	}
	res := ImportResult{Skipped: len(parseErrs), Errors: parseErrs}

	if len(stations) == 0 {
		if len(parseErrs) > 0 {
			return res, parseErrs[0]
		}
		return res, fmt.Errorf("%w: station document is empty", types.ErrSourceUnavailable)
	}

	stations, res.Filtered = d.applyInventory(stations, inventoryDoc, inventoryErr)

	if err := d.repo.UpsertStations(ctx, stations, d.now()); err != nil {
		return res, fmt.Errorf("store stations: %w", err)
	}
	res.Imported = len(stations)

	d.logger.Info("station directory imported",
		"imported", res.Imported, "skipped", res.Skipped, "filtered", res.Filtered)
	return res, nil
}

func (d *Directory) applyInventory(stations []types.Station, doc []byte, fetchErr error) ([]types.Station, int) {
	if fetchErr != nil {
		d.logger.Warn("inventory unavailable, importing stations without data span", "error", fetchErr)
		return stations, 0
	}
	spans, parseErrs, err := ghcn.ParseInventory(bytes.NewReader(doc))
	if err != nil || len(spans) == 0 {
		d.logger.Warn("inventory unusable, importing stations without data span",
			"error", err, "parse_errors", len(parseErrs))
		return stations, 0
	}
	if len(parseErrs) > 0 {
		d.logger.Debug("inventory records skipped", "count", len(parseErrs))
	}

	kept := stations[:0]
	filtered := 0
	for _, s := range stations {
		span, ok := spans[s.ID]
		if !ok {
			filtered++
			continue
		}
		from, to := span.From, span.To
		s.DataStart, s.DataEnd = &from, &to
		kept = append(kept, s)
	}
	return kept, filtered
}

// EnsureLoaded imports the directory once if the store is empty. Concurrent
// callers share one import. A caller whose ctx ends stops waiting while the
// import carries on; a failed import is retried by the next caller.
func (d *Directory) EnsureLoaded(ctx context.Context) error {
	if d.loaded.Load() {
		return nil
	}

	ch := d.loads.DoChan("load", func() (any, error) {
		if d.loaded.Load() {
			return nil, nil
		}
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), importTimeout)
		defer cancel()

		n, err := d.repo.CountStations(loadCtx)
		if err != nil {
			return nil, fmt.Errorf("count stations: %w", err)
		}
		if n == 0 {
			if _, err := d.ImportStations(loadCtx); err != nil {
				return nil, err
			}
		}
		d.loaded.Store(true)
		return nil, nil
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

// Refresh re-imports the directory unconditionally. Refreshes run one at a
// time; requests keep reading the current rows meanwhile.
func (d *Directory) Refresh(ctx context.Context) (ImportResult, error) {
	d.refreshMu.Lock()
	defer d.refreshMu.Unlock()

	res, err := d.ImportStations(ctx)
	if err == nil {
		d.loaded.Store(true)
	}
	return res, err
}

// GetStation looks up one station, seeding the directory first if needed.
func (d *Directory) GetStation(ctx context.Context, id string) (types.Station, error) {
	if err := d.load(ctx); err != nil {
		return types.Station{}, err
	}
	return d.repo.GetStation(ctx, id)
}

// load is EnsureLoaded for request paths: an unreachable or unreadable
// station source surfaces as ErrUpstreamUnavailable.
func (d *Directory) load(ctx context.Context) error {
	err := d.EnsureLoaded(ctx)
	var pe *types.ParseError
	if errors.Is(err, types.ErrSourceUnavailable) || errors.As(err, &pe) {
		return fmt.Errorf("%w: %w", types.ErrUpstreamUnavailable, err)
	}
	return err
}

type SearchQuery struct {
	Lat      float64
	Lon      float64
	RadiusKm float64
	Limit    int
	Range    *types.DateRange
}

func (q SearchQuery) validate() error {
	switch {
	case math.IsNaN(q.Lat) || q.Lat < -90 || q.Lat > 90:
		return types.InvalidParameter("lat %v out of range [-90, 90]", q.Lat)
	case math.IsNaN(q.Lon) || q.Lon < -180 || q.Lon > 180:
		return types.InvalidParameter("lon %v out of range [-180, 180]", q.Lon)
	case math.IsNaN(q.RadiusKm) || q.RadiusKm < MinRadiusKm || q.RadiusKm > MaxRadiusKm:
		return types.InvalidParameter("radiusKm %v out of range [%d, %d]", q.RadiusKm, MinRadiusKm, MaxRadiusKm)
	case q.Limit < MinLimit || q.Limit > MaxLimit:
		return types.InvalidParameter("limit %d out of range [%d, %d]", q.Limit, MinLimit, MaxLimit)
	case q.Range != nil && !q.Range.Valid():
		return types.InvalidParameter("from %s is after to %s",
			q.Range.From.Format(types.DateLayout), q.Range.To.Format(types.DateLayout))
	}
	return nil
}

// SearchNearby returns up to q.Limit stations within q.RadiusKm great-circle
// distance, nearest first, ties broken by id. It seeds the directory on first
// use.
func (d *Directory) SearchNearby(ctx context.Context, q SearchQuery) ([]types.StationHit, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	if err := d.load(ctx); err != nil {
		return nil, err
	}

	candidates, err := d.repo.StationCandidates(ctx, repository.CandidateQuery{
		Lat: q.Lat, Lon: q.Lon, RadiusKm: q.RadiusKm, Range: q.Range,
	})
	if err != nil {
		return nil, fmt.Errorf("station candidates: %w", err)
	}
	return rank(candidates, q.Lat, q.Lon, q.RadiusKm, q.Limit), nil
}

func rank(candidates []types.Station, lat, lon, radiusKm float64, limit int) []types.StationHit {
	hits := make([]types.StationHit, 0, len(candidates))
	for _, s := range candidates {
		dist := geo.HaversineKm(lat, lon, s.Lat, s.Lon)
		if dist > radiusKm {
			continue
		}
		// Sort on the reported value so equal distances order by id.
		rounded := math.Round(dist*1000) / 1000
		hits = append(hits, types.StationHit{ID: s.ID, Name: s.Name, Lat: s.Lat, Lon: s.Lon, DistanceKm: rounded})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].DistanceKm != hits[j].DistanceKm {
			return hits[i].DistanceKm < hits[j].DistanceKm
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}
