// Package ghcn decodes the GHCN-Daily archive formats and fetches them from
// the upstream archive.
//
// The decoding policy is fixed by the archive format:
//   - daily values are integers in tenths of a degree Celsius;
//   - MissingValue marks "no measurement" and decodes to an absent value;
//   - a non-blank quality flag marks a value that failed quality control,
//     which also decodes to an absent value.
package ghcn

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// MissingValue is the daily-value sentinel for "no measurement".
	MissingValue = -9999
	// TenthsPerDegree converts raw daily values to degrees Celsius.
	TenthsPerDegree = 10.0
	// MissingElevation is the station-document elevation sentinel.
	MissingElevation = -999.9
)

// Temperature elements extracted from the daily document.
const (
	ElementTmin = "TMIN"
	ElementTmax = "TMAX"
	ElementTavg = "TAVG"
)

// IsTemperatureElement reports whether element is one we ingest.
func IsTemperatureElement(element string) bool {
	switch element {
	case ElementTmin, ElementTmax, ElementTavg:
		return true
	}
	return false
}

var errBlankValue = errors.New("blank value")

// DecodeValue decodes one daily value slot. It returns nil for the missing
// sentinel and for values carrying a quality flag.
func DecodeValue(raw string, qflag byte) (*float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, errBlankValue
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("value %q: %w", raw, err)
	}
	if n == MissingValue {
		return nil, nil
	}
	if qflag != ' ' && qflag != 0 {
		return nil, nil
	}
	v := float64(n) / TenthsPerDegree
	return &v, nil
}
