package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"climate-server/internal/db/dbtest"
	"climate-server/internal/ghcn"
	"climate-server/internal/modules/climate/repository"
	"climate-server/internal/modules/climate/types"
)

const stationID = "GM000010147"

func day(s string) time.Time {
	t, err := time.Parse(types.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func rng(from, to string) types.DateRange {
	return types.DateRange{From: day(from), To: day(to)}
}

func dlyLine(year, month int, element string, values map[int]int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-11s%04d%02d%s", stationID, year, month, element)
	for d := 1; d <= 31; d++ {
		v, ok := values[d]
		if !ok {
			v = ghcn.MissingValue
		}
		fmt.Fprintf(&b, "%5d   ", v)
	}
	return b.String()
}

// sampleDoc holds data for Jan 2019 and Feb 2020 plus one broken line.
var sampleDoc = strings.Join([]string{
	dlyLine(2019, 1, ghcn.ElementTmax, map[int]int{1: 10, 2: 20}),
	dlyLine(2020, 2, ghcn.ElementTmax, map[int]int{1: 50, 29: 70}),
	dlyLine(2020, 2, ghcn.ElementTmin, map[int]int{1: -10}),
	stationID + "2020XXTMAX",
}, "\n")

type fakeFetcher struct {
	doc   string
	err   error
	calls atomic.Int32
	gate  chan struct{}
}

func (f *fakeFetcher) FetchDaily(ctx context.Context, id string) ([]byte, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.doc), nil
}

func setup(t *testing.T, f *fakeFetcher) (*Ingestor, repository.ClimateRepository) {
	t.Helper()
	repo := repository.NewSQLiteRepository(dbtest.OpenSQLite(t))
	err := repo.UpsertStations(context.Background(), []types.Station{{ID: stationID, Name: "HAMBURG", Lat: 53.6, Lon: 10}}, time.Now())
	if err != nil {
		t.Fatalf("UpsertStations: %v", err)
	}
	ing := New(repo, f, time.Minute, nil)
	ing.now = func() time.Time { return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC) }
	return ing, repo
}

func TestEnsureCoverage_FetchesOnceAndStoresEverything(t *testing.T) {
	f := &fakeFetcher{doc: sampleDoc}
	ing, repo := setup(t, f)
	ctx := context.Background()

	want := rng("2020-02-01", "2020-02-29")
	if err := ing.EnsureCoverage(ctx, stationID, want); err != nil {
		t.Fatalf("EnsureCoverage: %v", err)
	}
	if err := ing.EnsureCoverage(ctx, stationID, want); err != nil {
		t.Fatalf("second EnsureCoverage: %v", err)
	}
	// Data outside the requested range was stored too.
	if err := ing.EnsureCoverage(ctx, stationID, rng("2019-01-01", "2019-01-31")); err != nil {
		t.Fatalf("EnsureCoverage 2019: %v", err)
	}
	if f.calls.Load() != 1 {
		t.Errorf("fetches = %d, want 1", f.calls.Load())
	}

	recs, err := repo.DailyRecords(ctx, stationID, rng("2019-01-01", "2020-12-31"))
	if err != nil {
		t.Fatalf("DailyRecords: %v", err)
	}
	if len(recs) != 4 {
		t.Fatalf("records = %d, want 4", len(recs))
	}
	if *recs[2].Tmax != 5.0 || *recs[2].Tmin != -1.0 {
		t.Errorf("2020-02-01 = %+v", recs[2])
	}
}

func TestEnsureCoverage_ConcurrentCallersShareOneFetch(t *testing.T) {
	f := &fakeFetcher{doc: sampleDoc, gate: make(chan struct{})}
	ing, _ := setup(t, f)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- ing.EnsureCoverage(context.Background(), stationID, rng("2020-02-01", "2020-02-29"))
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(f.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("EnsureCoverage: %v", err)
		}
	}
	if f.calls.Load() != 1 {
		t.Errorf("fetches = %d, want 1", f.calls.Load())
	}
}

func TestEnsureCoverage_CancelledWaiterDoesNotAbortFetch(t *testing.T) {
	f := &fakeFetcher{doc: sampleDoc, gate: make(chan struct{})}
	ing, repo := setup(t, f)
	want := rng("2020-02-01", "2020-02-29")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ing.EnsureCoverage(ctx, stationID, want) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	close(f.gate)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ok, err := ing.Covered(context.Background(), stationID, want)
		if err != nil {
			t.Fatalf("Covered: %v", err)
		}
		if ok {
			recs, err := repo.DailyRecords(context.Background(), stationID, want)
			if err != nil || len(recs) != 2 {
				t.Fatalf("records = %d, err = %v", len(recs), err)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("shared fetch did not complete after waiter cancelled")
}

func TestEnsureCoverage_NoDataMarksRange(t *testing.T) {
	f := &fakeFetcher{err: ghcn.ErrNoData}
	ing, repo := setup(t, f)
	ctx := context.Background()
	want := rng("2020-01-01", "2020-12-31")

	for i := 0; i < 2; i++ {
		if err := ing.EnsureCoverage(ctx, stationID, want); err != nil {
			t.Fatalf("EnsureCoverage: %v", err)
		}
	}
	if f.calls.Load() != 1 {
		t.Errorf("fetches = %d, want 1", f.calls.Load())
	}
	cov, err := repo.Coverage(ctx, stationID)
	if err != nil {
		t.Fatalf("Coverage: %v", err)
	}
	if len(cov) != 1 || cov[0] != want {
		t.Errorf("coverage = %v", cov)
	}
}

func TestEnsureCoverage_UpstreamFailure(t *testing.T) {
	f := &fakeFetcher{err: fmt.Errorf("%w: status 503", types.ErrUpstreamUnavailable)}
	ing, repo := setup(t, f)
	ctx := context.Background()
	want := rng("2020-01-01", "2020-01-31")

	err := ing.EnsureCoverage(ctx, stationID, want)
	if !errors.Is(err, types.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v, want ErrUpstreamUnavailable", err)
	}
	cov, err := repo.Coverage(ctx, stationID)
	if err != nil || len(cov) != 0 {
		t.Fatalf("coverage after failure = %v, %v", cov, err)
	}

	// Recovery triggers a new fetch.
	f.err, f.doc = nil, sampleDoc
	if err := ing.EnsureCoverage(ctx, stationID, want); err != nil {
		t.Fatalf("EnsureCoverage after recovery: %v", err)
	}
	if f.calls.Load() != 2 {
		t.Errorf("fetches = %d, want 2", f.calls.Load())
	}
}

func TestEnsureCoverage_FutureRangeNeedsNoFetch(t *testing.T) {
	f := &fakeFetcher{doc: sampleDoc}
	ing, _ := setup(t, f)

	if err := ing.EnsureCoverage(context.Background(), stationID, rng("2030-01-01", "2030-12-31")); err != nil {
		t.Fatalf("EnsureCoverage: %v", err)
	}
	if f.calls.Load() != 0 {
		t.Errorf("fetches = %d, want 0", f.calls.Load())
	}
}

func TestEnsureCoverage_InvalidRange(t *testing.T) {
	f := &fakeFetcher{doc: sampleDoc}
	ing, _ := setup(t, f)

	err := ing.EnsureCoverage(context.Background(), stationID, rng("2020-02-01", "2020-01-01"))
	if !errors.Is(err, types.ErrInvalidParameter) {
		t.Fatalf("err = %v, want ErrInvalidParameter", err)
	}
	if f.calls.Load() != 0 {
		t.Errorf("fetches = %d, want 0", f.calls.Load())
	}
}

func TestMergeRanges(t *testing.T) {
	tests := []struct {
		name string
		in   []types.DateRange
		want []types.DateRange
	}{
		{name: "empty", in: nil, want: nil},
		{
			name: "overlapping and adjacent",
			in:   []types.DateRange{rng("2020-03-01", "2020-03-31"), rng("2020-01-01", "2020-01-31"), rng("2020-02-01", "2020-03-05")},
			want: []types.DateRange{rng("2020-01-01", "2020-03-31")},
		},
		{
			name: "gap kept",
			in:   []types.DateRange{rng("2020-01-01", "2020-01-30"), rng("2020-02-01", "2020-02-02")},
			want: []types.DateRange{rng("2020-01-01", "2020-01-30"), rng("2020-02-01", "2020-02-02")},
		},
		{
			name: "contained",
			in:   []types.DateRange{rng("2020-01-01", "2020-12-31"), rng("2020-05-01", "2020-05-02")},
			want: []types.DateRange{rng("2020-01-01", "2020-12-31")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeRanges(tt.in)
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("MergeRanges = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMissing(t *testing.T) {
	covered := []types.DateRange{rng("2020-02-01", "2020-02-10"), rng("2020-02-20", "2020-02-25")}

	tests := []struct {
		name string
		want types.DateRange
		out  []types.DateRange
	}{
		{name: "fully covered", want: rng("2020-02-02", "2020-02-09"), out: nil},
		{name: "before and between", want: rng("2020-01-30", "2020-02-21"),
			out: []types.DateRange{rng("2020-01-30", "2020-01-31"), rng("2020-02-11", "2020-02-19")}},
		{name: "tail", want: rng("2020-02-24", "2020-03-02"), out: []types.DateRange{rng("2020-02-26", "2020-03-02")}},
		{name: "disjoint", want: rng("2021-01-01", "2021-01-01"), out: []types.DateRange{rng("2021-01-01", "2021-01-01")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Missing(covered, tt.want)
			if fmt.Sprint(got) != fmt.Sprint(tt.out) {
				t.Errorf("Missing = %v, want %v", got, tt.out)
			}
		})
	}
}
