package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"climate-server/internal/geo"
	"climate-server/internal/modules/climate/types"
)

//go:embed sql/sqlite/upsert-station.sql
var sqliteUpsertStationSQL string

//go:embed sql/sqlite/count-stations.sql
var sqliteCountStationsSQL string

//go:embed sql/sqlite/get-station.sql
var sqliteGetStationSQL string

//go:embed sql/sqlite/station-candidates.sql
var sqliteStationCandidatesSQL string

//go:embed sql/sqlite/get-coverage.sql
var sqliteGetCoverageSQL string

//go:embed sql/sqlite/delete-coverage.sql
var sqliteDeleteCoverageSQL string

//go:embed sql/sqlite/insert-coverage.sql
var sqliteInsertCoverageSQL string

//go:embed sql/sqlite/upsert-daily.sql
var sqliteUpsertDailySQL string

//go:embed sql/sqlite/get-daily.sql
var sqliteGetDailySQL string

type sqliteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) ClimateRepository {
	return &sqliteRepository{db: db}
}

func (r *sqliteRepository) UpsertStations(ctx context.Context, stations []types.Station, updatedAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertStationSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	ts := updatedAt.UTC().Format(time.RFC3339)
	for _, s := range stations {
		if _, err := stmt.ExecContext(ctx, s.ID, s.Name, s.Lat, s.Lon, s.Elevation,
			dateArg(s.DataStart), dateArg(s.DataEnd), ts); err != nil {
			return fmt.Errorf("upsert station %s: %w", s.ID, err)
		}
	}
	return tx.Commit()
}

func (r *sqliteRepository) CountStations(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, sqliteCountStationsSQL).Scan(&n)
	return n, err
}

func (r *sqliteRepository) GetStation(ctx context.Context, id string) (types.Station, error) {
	s, err := scanSQLiteStation(r.db.QueryRowContext(ctx, sqliteGetStationSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Station{}, fmt.Errorf("station %q: %w", id, types.ErrNotFound)
	}
	return s, err
}

func (r *sqliteRepository) StationCandidates(ctx context.Context, q CandidateQuery) ([]types.Station, error) {
	box := geo.BoundingBoxAround(q.Lat, q.Lon, q.RadiusKm)
	wraps, filter := 0, 0
	var from, to string
	if box.WrapsAntimeridian {
		wraps = 1
	}
	if q.Range != nil {
		filter = 1
		from, to = q.Range.From.Format(types.DateLayout), q.Range.To.Format(types.DateLayout)
	}

	rows, err := r.db.QueryContext(ctx, sqliteStationCandidatesSQL,
		box.MinLat, box.MaxLat, wraps, box.MinLon, box.MaxLon, filter, from, to)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close candidate rows", "error", err)
		}
	}()

	var out []types.Station
	for rows.Next() {
		s, err := scanSQLiteStation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteStation(row rowScanner) (types.Station, error) {
	var (
		s          types.Station
		start, end *string
	)
	if err := row.Scan(&s.ID, &s.Name, &s.Lat, &s.Lon, &s.Elevation, &start, &end); err != nil {
		return types.Station{}, err
	}
	var err error
	if s.DataStart, err = parseNullDate(start); err != nil {
		return types.Station{}, fmt.Errorf("station %s data_start: %w", s.ID, err)
	}
	if s.DataEnd, err = parseNullDate(end); err != nil {
		return types.Station{}, fmt.Errorf("station %s data_end: %w", s.ID, err)
	}
	return s, nil
}

func (r *sqliteRepository) Coverage(ctx context.Context, stationID string) ([]types.DateRange, error) {
	rows, err := r.db.QueryContext(ctx, sqliteGetCoverageSQL, stationID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close coverage rows", "error", err)
		}
	}()

	var out []types.DateRange
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, err
		}
		f, err1 := parseDate(from)
		t, err2 := parseDate(to)
		if err := errors.Join(err1, err2); err != nil {
			return nil, fmt.Errorf("coverage for %s: %w", stationID, err)
		}
		out = append(out, types.DateRange{From: f, To: t})
	}
	return out, rows.Err()
}

func (r *sqliteRepository) SaveDaily(ctx context.Context, stationID string, records []types.DailyRecord, coverage []types.DateRange, fetchedAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if len(records) > 0 {
		stmt, err := tx.PrepareContext(ctx, sqliteUpsertDailySQL)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, rec := range records {
			if _, err := stmt.ExecContext(ctx, stationID, rec.Date.Format(types.DateLayout),
				rec.Tmin, rec.Tavg, rec.Tmax, rec.Inconsistent); err != nil {
				return fmt.Errorf("upsert %s %s: %w", stationID, rec.Date.Format(types.DateLayout), err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, sqliteDeleteCoverageSQL, stationID); err != nil {
		return fmt.Errorf("clear coverage: %w", err)
	}
	ts := fetchedAt.UTC().Format(time.RFC3339)
	for _, c := range coverage {
		if _, err := tx.ExecContext(ctx, sqliteInsertCoverageSQL, stationID,
			c.From.Format(types.DateLayout), c.To.Format(types.DateLayout), ts); err != nil {
			return fmt.Errorf("insert coverage: %w", err)
		}
	}
	return tx.Commit()
}

func (r *sqliteRepository) DailyRecords(ctx context.Context, stationID string, dr types.DateRange) ([]types.DailyRecord, error) {
	rows, err := r.db.QueryContext(ctx, sqliteGetDailySQL, stationID,
		dr.From.Format(types.DateLayout), dr.To.Format(types.DateLayout))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close daily rows", "error", err)
		}
	}()

	var out []types.DailyRecord
	for rows.Next() {
		var (
			rec  types.DailyRecord
			date string
		)
		if err := rows.Scan(&rec.StationID, &date, &rec.Tmin, &rec.Tavg, &rec.Tmax, &rec.Inconsistent); err != nil {
			return nil, err
		}
		if rec.Date, err = parseDate(date); err != nil {
			return nil, fmt.Errorf("daily record date %q: %w", date, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *sqliteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
