package ingest

import (
	"sort"

	"climate-server/internal/modules/climate/types"
)

// MergeRanges returns the union of ranges as sorted, disjoint ranges.
// Ranges that touch (one ends the day before the other starts) are joined.
func MergeRanges(ranges []types.DateRange) []types.DateRange {
	if len(ranges) == 0 {
		return nil
	}
	sorted := make([]types.DateRange, 0, len(ranges))
	for _, r := range ranges {
		if r.Valid() {
			sorted = append(sorted, r)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].From.Before(sorted[j].From) })

	var out []types.DateRange
	for _, r := range sorted {
		if n := len(out); n > 0 && !r.From.After(out[n-1].To.AddDate(0, 0, 1)) {
			if r.To.After(out[n-1].To) {
				out[n-1].To = r.To
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

// Missing returns the parts of want not inside covered, in order.
func Missing(covered []types.DateRange, want types.DateRange) []types.DateRange {
	if !want.Valid() {
		return nil
	}
	var out []types.DateRange
	cursor := want.From
	for _, c := range MergeRanges(covered) {
		if c.To.Before(cursor) {
			continue
		}
		if c.From.After(want.To) {
			break
		}
		if c.From.After(cursor) {
			out = append(out, types.DateRange{From: cursor, To: c.From.AddDate(0, 0, -1)})
		}
		cursor = c.To.AddDate(0, 0, 1)
		if cursor.After(want.To) {
			return out
		}
	}
	return append(out, types.DateRange{From: cursor, To: want.To})
}
