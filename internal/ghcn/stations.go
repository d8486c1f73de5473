package ghcn

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"climate-server/internal/modules/climate/types"
)

const (
	stationsSource  = "stations"
	inventorySource = "inventory"

	stationMinLineLen = 30
)

// ParseStations decodes ghcnd-stations.txt. Duplicate ids keep the last row.
func ParseStations(r io.Reader) ([]types.Station, []*types.ParseError, error) {
	var (
		out       []types.Station
		index     = make(map[string]int)
		parseErrs []*types.ParseError
	)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		st, err := decodeStationLine(line)
		if err != nil {
			parseErrs = append(parseErrs, &types.ParseError{
				Source: stationsSource,
				Line:   lineNo,
				Record: line,
				Err:    err,
			})
			continue
		}
		if i, ok := index[st.ID]; ok {
			out[i] = st
			continue
		}
		index[st.ID] = len(out)
		out = append(out, st)
	}
	if err := scanner.Err(); err != nil {
		return nil, parseErrs, fmt.Errorf("read stations document: %w", err)
	}
	return out, parseErrs, nil
}

func decodeStationLine(line string) (types.Station, error) {
	if len(line) < stationMinLineLen {
		return types.Station{}, errors.New("line shorter than coordinates")
	}
	id := strings.TrimSpace(line[0:11])
	if id == "" {
		return types.Station{}, errors.New("empty station id")
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(line[12:20]), 64)
	if err != nil {
		return types.Station{}, fmt.Errorf("latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(line[21:30]), 64)
	if err != nil {
		return types.Station{}, fmt.Errorf("longitude: %w", err)
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return types.Station{}, fmt.Errorf("coordinates (%v, %v) out of range", lat, lon)
	}

	st := types.Station{ID: id, Lat: lat, Lon: lon}

	if elev := field(line, 31, 37); elev != "" {
		v, err := strconv.ParseFloat(elev, 64)
		if err == nil && v != MissingElevation {
			st.Elevation = &v
		}
	}
	st.Name = field(line, 41, 71)
	if st.Name == "" {
		st.Name = id
	}
	return st, nil
}

// ParseInventory decodes ghcnd-inventory.txt into the span of years each
// station reports temperature data for.
func ParseInventory(r io.Reader) (map[string]types.DateRange, []*types.ParseError, error) {
	out := make(map[string]types.DateRange)
	var parseErrs []*types.ParseError

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		if len(parts) < 6 {
			parseErrs = append(parseErrs, &types.ParseError{
				Source: inventorySource, Line: lineNo, Record: line,
				Err: errors.New("expected 6 fields"),
			})
			continue
		}
		id, element := parts[0], parts[3]
		if !IsTemperatureElement(element) {
			continue
		}
		first, err1 := strconv.Atoi(parts[4])
		last, err2 := strconv.Atoi(parts[5])
		if err := errors.Join(err1, err2); err != nil {
			parseErrs = append(parseErrs, &types.ParseError{
				Source: inventorySource, Line: lineNo, Record: line, Err: err,
			})
			continue
		}

		span := types.DateRange{
			From: time.Date(first, time.January, 1, 0, 0, 0, 0, time.UTC),
			To:   time.Date(last, time.December, 31, 0, 0, 0, 0, time.UTC),
		}
		if cur, ok := out[id]; ok {
			if cur.From.Before(span.From) {
				span.From = cur.From
			}
			if cur.To.After(span.To) {
				span.To = cur.To
			}
		}
		out[id] = span
	}
	if err := scanner.Err(); err != nil {
		return nil, parseErrs, fmt.Errorf("read inventory document: %w", err)
	}
	return out, parseErrs, nil
}

// field returns the trimmed [start:end) slice of line, clipped to its length.
func field(line string, start, end int) string {
	if start >= len(line) {
		return ""
	}
	if end > len(line) {
		end = len(line)
	}
	return strings.TrimSpace(line[start:end])
}
