package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"climate-server/internal/modules/climate/types"
)

// runContract exercises behavior every ClimateRepository backend must share.
func runContract(t *testing.T, open openFunc) {
	tests := []struct {
		name string
		fn   func(*testing.T, openFunc)
	}{
		{"UpsertStations_Idempotent", contractUpsertStations_Idempotent},
		{"GetStation_NotFound", contractGetStation_NotFound},
		{"StationCandidates_BoundingBox", contractStationCandidates_BoundingBox},
		{"StationCandidates_Antimeridian", contractStationCandidates_Antimeridian},
		{"StationCandidates_DateRange", contractStationCandidates_DateRange},
		{"SaveDaily_UpsertAndCoverage", contractSaveDaily_UpsertAndCoverage},
		{"DailyRecords_RangeIsInclusive", contractDailyRecords_RangeIsInclusive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) { tt.fn(t, open) })
	}
}

var testStations = []types.Station{
	{ID: "GM000010147", Name: "HAMBURG", Lat: 53.633, Lon: 9.983, Elevation: fptr(11),
		DataStart: dayPtr("1936-01-01"), DataEnd: dayPtr("2023-12-31")},
	{ID: "GM000003319", Name: "BREMEN", Lat: 53.045, Lon: 8.799},
	{ID: "USW00094728", Name: "NEW YORK", Lat: 40.779, Lon: -73.969,
		DataStart: dayPtr("1869-01-01"), DataEnd: dayPtr("2023-12-31")},
	{ID: "FJ000091680", Name: "NADI", Lat: -17.755, Lon: 177.443},
	{ID: "WS000091765", Name: "APIA", Lat: -13.8, Lon: -171.783},
}

type openFunc func(t *testing.T) ClimateRepository

func seededRepo(t *testing.T, open openFunc) ClimateRepository {
	t.Helper()
	repo := open(t)
	if err := repo.UpsertStations(context.Background(), testStations, time.Now()); err != nil {
		t.Fatalf("UpsertStations: %v", err)
	}
	return repo
}

func ids(stations []types.Station) map[string]bool {
	out := make(map[string]bool, len(stations))
	for _, s := range stations {
		out[s.ID] = true
	}
	return out
}

func contractUpsertStations_Idempotent(t *testing.T, open openFunc) {
	repo := seededRepo(t, open)
	ctx := context.Background()

	// Re-import without inventory keeps the stored span.
	again := []types.Station{{ID: "GM000010147", Name: "HAMBURG-FUHLSBUETTEL", Lat: 53.633, Lon: 9.983}}
	if err := repo.UpsertStations(ctx, again, time.Now()); err != nil {
		t.Fatalf("UpsertStations: %v", err)
	}

	n, err := repo.CountStations(ctx)
	if err != nil {
		t.Fatalf("CountStations: %v", err)
	}
	if n != len(testStations) {
		t.Errorf("CountStations = %d, want %d", n, len(testStations))
	}

	s, err := repo.GetStation(ctx, "GM000010147")
	if err != nil {
		t.Fatalf("GetStation: %v", err)
	}
	if s.Name != "HAMBURG-FUHLSBUETTEL" {
		t.Errorf("Name = %q", s.Name)
	}
	if s.DataStart == nil || !s.DataStart.Equal(day("1936-01-01")) {
		t.Errorf("DataStart = %v, want kept", s.DataStart)
	}
	if s.Elevation != nil {
		t.Errorf("Elevation = %v, want cleared", *s.Elevation)
	}
}

func contractGetStation_NotFound(t *testing.T, open openFunc) {
	repo := seededRepo(t, open)
	_, err := repo.GetStation(context.Background(), "NOPE")
	if !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func contractStationCandidates_BoundingBox(t *testing.T, open openFunc) {
	repo := seededRepo(t, open)
	ctx := context.Background()

	got, err := repo.StationCandidates(ctx, CandidateQuery{Lat: 53.55, Lon: 10.0, RadiusKm: 150})
	if err != nil {
		t.Fatalf("StationCandidates: %v", err)
	}
	set := ids(got)
	if !set["GM000010147"] || !set["GM000003319"] || set["USW00094728"] {
		t.Errorf("candidates = %v", set)
	}
}

func contractStationCandidates_Antimeridian(t *testing.T, open openFunc) {
	repo := seededRepo(t, open)

	got, err := repo.StationCandidates(context.Background(), CandidateQuery{Lat: -16, Lon: 179.9, RadiusKm: 1200})
	if err != nil {
		t.Fatalf("StationCandidates: %v", err)
	}
	set := ids(got)
	if !set["FJ000091680"] || !set["WS000091765"] {
		t.Errorf("candidates across the antimeridian = %v", set)
	}
}

func contractStationCandidates_DateRange(t *testing.T, open openFunc) {
	repo := seededRepo(t, open)
	ctx := context.Background()
	r := types.DateRange{From: day("2020-01-01"), To: day("2020-12-31")}

	got, err := repo.StationCandidates(ctx, CandidateQuery{Lat: 53.55, Lon: 10.0, RadiusKm: 150, Range: &r})
	if err != nil {
		t.Fatalf("StationCandidates: %v", err)
	}
	set := ids(got)
	if !set["GM000010147"] || set["GM000003319"] {
		t.Fatalf("unknown span should be excluded without coverage: %v", set)
	}

	// Stored coverage makes Bremen eligible.
	if err := repo.SaveDaily(ctx, "GM000003319", nil, []types.DateRange{r}, time.Now()); err != nil {
		t.Fatalf("SaveDaily: %v", err)
	}
	got, err = repo.StationCandidates(ctx, CandidateQuery{Lat: 53.55, Lon: 10.0, RadiusKm: 150, Range: &r})
	if err != nil {
		t.Fatalf("StationCandidates: %v", err)
	}
	if !ids(got)["GM000003319"] {
		t.Errorf("covered station missing: %v", ids(got))
	}
}

func contractSaveDaily_UpsertAndCoverage(t *testing.T, open openFunc) {
	repo := seededRepo(t, open)
	ctx := context.Background()
	const id = "GM000010147"

	first := []types.DailyRecord{
		{StationID: id, Date: day("2020-01-01"), Tmin: fptr(-1), Tmax: fptr(4)},
		{StationID: id, Date: day("2020-01-02"), Tavg: fptr(2)},
	}
	cov := []types.DateRange{{From: day("2020-01-01"), To: day("2020-01-31")}}
	if err := repo.SaveDaily(ctx, id, first, cov, time.Now()); err != nil {
		t.Fatalf("SaveDaily: %v", err)
	}

	// Replacing a day overwrites the whole row.
	second := []types.DailyRecord{
		{StationID: id, Date: day("2020-01-01"), Tmin: fptr(5), Tmax: fptr(3), Inconsistent: true},
	}
	cov2 := []types.DateRange{{From: day("2019-12-01"), To: day("2020-01-31")}}
	if err := repo.SaveDaily(ctx, id, second, cov2, time.Now()); err != nil {
		t.Fatalf("SaveDaily: %v", err)
	}

	recs, err := repo.DailyRecords(ctx, id, types.DateRange{From: day("2020-01-01"), To: day("2020-01-31")})
	if err != nil {
		t.Fatalf("DailyRecords: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	r0 := recs[0]
	if *r0.Tmin != 5 || *r0.Tmax != 3 || r0.Tavg != nil || !r0.Inconsistent {
		t.Errorf("first record = %+v", r0)
	}
	if recs[1].Tavg == nil || *recs[1].Tavg != 2 {
		t.Errorf("second record = %+v", recs[1])
	}

	got, err := repo.Coverage(ctx, id)
	if err != nil {
		t.Fatalf("Coverage: %v", err)
	}
	if len(got) != 1 || !got[0].From.Equal(day("2019-12-01")) || !got[0].To.Equal(day("2020-01-31")) {
		t.Errorf("coverage = %v", got)
	}
}

func contractDailyRecords_RangeIsInclusive(t *testing.T, open openFunc) {
	repo := seededRepo(t, open)
	ctx := context.Background()
	const id = "USW00094728"

	var recs []types.DailyRecord
	for _, d := range []string{"2020-01-31", "2020-02-01", "2020-02-29", "2020-03-01"} {
		recs = append(recs, types.DailyRecord{StationID: id, Date: day(d), Tmax: fptr(1)})
	}
	if err := repo.SaveDaily(ctx, id, recs, nil, time.Now()); err != nil {
		t.Fatalf("SaveDaily: %v", err)
	}

	got, err := repo.DailyRecords(ctx, id, types.DateRange{From: day("2020-02-01"), To: day("2020-02-29")})
	if err != nil {
		t.Fatalf("DailyRecords: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("records = %d, want 2", len(got))
	}
	if !got[0].Date.Equal(day("2020-02-01")) || !got[1].Date.Equal(day("2020-02-29")) {
		t.Errorf("dates = %v, %v", got[0].Date, got[1].Date)
	}
}
