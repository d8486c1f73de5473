package ghcn

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"climate-server/internal/modules/climate/types"
)

// .dly layout: ID(11) YEAR(4) MONTH(2) ELEMENT(4), then 31 day slots of
// VALUE(5) MFLAG(1) QFLAG(1) SFLAG(1).
const (
	dailyHeaderLen = 21
	daySlotWidth   = 8
	daysPerLine    = 31
	dailyLineLen   = dailyHeaderLen + daysPerLine*daySlotWidth

	qflagOffset = 6
)

const dailySource = "daily"

// ParseDaily decodes a per-station .dly document. Lines that cannot be
// decoded are returned as parse errors and skipped; the returned error is
// only set when reading fails. Records come back ordered by date and days
// without any temperature value are dropped.
func ParseDaily(stationID string, r io.Reader) ([]types.DailyRecord, []*types.ParseError, error) {
	byDate := make(map[time.Time]*types.DailyRecord)
	var parseErrs []*types.ParseError

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := decodeDailyLine(stationID, line, byDate); err != nil {
			parseErrs = append(parseErrs, &types.ParseError{
				Source: dailySource,
				Line:   lineNo,
				Record: line,
				Err:    err,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, parseErrs, fmt.Errorf("read daily document: %w", err)
	}

	out := make([]types.DailyRecord, 0, len(byDate))
	for _, rec := range byDate {
		if rec.Empty() {
			continue
		}
		rec.Inconsistent = !rec.CheckConsistency()
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, parseErrs, nil
}

func decodeDailyLine(stationID, line string, byDate map[time.Time]*types.DailyRecord) error {
	if len(line) < dailyHeaderLen {
		return errors.New("line shorter than record header")
	}

	id := strings.TrimSpace(line[0:11])
	if stationID != "" && id != stationID {
		return fmt.Errorf("station id %q does not match %q", id, stationID)
	}
	year, err := strconv.Atoi(line[11:15])
	if err != nil {
		return fmt.Errorf("year: %w", err)
	}
	month, err := strconv.Atoi(line[15:17])
	if err != nil || month < 1 || month > 12 {
		return fmt.Errorf("month %q out of range", line[15:17])
	}
	element := line[17:21]
	if !IsTemperatureElement(element) {
		return nil
	}

	// Trailing blanks (empty flags) are sometimes stripped.
	if len(line) < dailyLineLen {
		line += strings.Repeat(" ", dailyLineLen-len(line))
	}

	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	days := first.AddDate(0, 1, -1).Day()

	values := make([]*float64, days)
	for d := 0; d < days; d++ {
		off := dailyHeaderLen + d*daySlotWidth
		v, err := DecodeValue(line[off:off+5], line[off+qflagOffset])
		if err != nil {
			return fmt.Errorf("day %d: %w", d+1, err)
		}
		values[d] = v
	}

	// Only touch the map once the whole line decoded.
	for d, v := range values {
		if v == nil {
			continue
		}
		date := first.AddDate(0, 0, d)
		rec, ok := byDate[date]
		if !ok {
			rec = &types.DailyRecord{StationID: id, Date: date}
			byDate[date] = rec
		}
		switch element {
		case ElementTmin:
			rec.Tmin = v
		case ElementTmax:
			rec.Tmax = v
		case ElementTavg:
			rec.Tavg = v
		}
	}
	return nil
}
