package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"climate-server/internal/modules/climate/types"
)

//go:embed sql/postgres/upsert-station.sql
var pgUpsertStationSQL string

//go:embed sql/postgres/get-station.sql
var pgGetStationSQL string

//go:embed sql/postgres/station-candidates.sql
var pgStationCandidatesSQL string

//go:embed sql/postgres/get-coverage.sql
var pgGetCoverageSQL string

//go:embed sql/postgres/upsert-daily.sql
var pgUpsertDailySQL string

//go:embed sql/postgres/get-daily.sql
var pgGetDailySQL string

const (
	pgCountStationsSQL  = `SELECT COUNT(*) FROM stations`
	pgDeleteCoverageSQL = `DELETE FROM coverage WHERE station_id = $1`
	pgInsertCoverageSQL = `INSERT INTO coverage (station_id, start_date, end_date, fetched_at) VALUES ($1, $2, $3, $4)`

	// ST_DWithin uses the spheroid; pad the radius so exact haversine
	// filtering in the caller sees every station on the sphere's boundary.
	pgRadiusPadding = 1.01

	pgBatchSize = 1000
)

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) ClimateRepository {
	return &postgresRepository{pool: pool}
}

func (r *postgresRepository) UpsertStations(ctx context.Context, stations []types.Station, updatedAt time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for start := 0; start < len(stations); start += pgBatchSize {
		end := min(start+pgBatchSize, len(stations))
		batch := &pgx.Batch{}
		for _, s := range stations[start:end] {
			batch.Queue(pgUpsertStationSQL, s.ID, s.Name, s.Lat, s.Lon, s.Elevation, s.DataStart, s.DataEnd, updatedAt)
		}
		if err := execBatch(ctx, tx, batch); err != nil {
			return fmt.Errorf("upsert stations: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func execBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	res := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := res.Exec(); err != nil {
			_ = res.Close()
			return err
		}
	}
	return res.Close()
}

func (r *postgresRepository) CountStations(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, pgCountStationsSQL).Scan(&n)
	return n, err
}

func (r *postgresRepository) GetStation(ctx context.Context, id string) (types.Station, error) {
	var s types.Station
	err := r.pool.QueryRow(ctx, pgGetStationSQL, id).
		Scan(&s.ID, &s.Name, &s.Lat, &s.Lon, &s.Elevation, &s.DataStart, &s.DataEnd)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Station{}, fmt.Errorf("station %q: %w", id, types.ErrNotFound)
	}
	return s, err
}

func (r *postgresRepository) StationCandidates(ctx context.Context, q CandidateQuery) ([]types.Station, error) {
	var from, to time.Time
	if q.Range != nil {
		from, to = q.Range.From, q.Range.To
	}
	rows, err := r.pool.Query(ctx, pgStationCandidatesSQL,
		q.Lat, q.Lon, q.RadiusKm*1000*pgRadiusPadding, q.Range != nil, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Station
	for rows.Next() {
		var s types.Station
		if err := rows.Scan(&s.ID, &s.Name, &s.Lat, &s.Lon, &s.Elevation, &s.DataStart, &s.DataEnd); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *postgresRepository) Coverage(ctx context.Context, stationID string) ([]types.DateRange, error) {
	rows, err := r.pool.Query(ctx, pgGetCoverageSQL, stationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.DateRange
	for rows.Next() {
		var c types.DateRange
		if err := rows.Scan(&c.From, &c.To); err != nil {
			return nil, err
		}
		out = append(out, types.NewDateRange(c.From, c.To))
	}
	return out, rows.Err()
}

func (r *postgresRepository) SaveDaily(ctx context.Context, stationID string, records []types.DailyRecord, coverage []types.DateRange, fetchedAt time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for start := 0; start < len(records); start += pgBatchSize {
		end := min(start+pgBatchSize, len(records))
		batch := &pgx.Batch{}
		for _, rec := range records[start:end] {
			batch.Queue(pgUpsertDailySQL, stationID, rec.Date, rec.Tmin, rec.Tavg, rec.Tmax, rec.Inconsistent)
		}
		if err := execBatch(ctx, tx, batch); err != nil {
			return fmt.Errorf("upsert daily records for %s: %w", stationID, err)
		}
	}

	batch := &pgx.Batch{}
	batch.Queue(pgDeleteCoverageSQL, stationID)
	for _, c := range coverage {
		batch.Queue(pgInsertCoverageSQL, stationID, c.From, c.To, fetchedAt)
	}
	if err := execBatch(ctx, tx, batch); err != nil {
		return fmt.Errorf("replace coverage for %s: %w", stationID, err)
	}
	return tx.Commit(ctx)
}

func (r *postgresRepository) DailyRecords(ctx context.Context, stationID string, dr types.DateRange) ([]types.DailyRecord, error) {
	rows, err := r.pool.Query(ctx, pgGetDailySQL, stationID, dr.From, dr.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.DailyRecord
	for rows.Next() {
		var rec types.DailyRecord
		if err := rows.Scan(&rec.StationID, &rec.Date, &rec.Tmin, &rec.Tavg, &rec.Tmax, &rec.Inconsistent); err != nil {
			return nil, err
		}
		rec.Date = types.Day(rec.Date)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
