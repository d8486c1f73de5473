package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"climate-server/internal/modules/climate/service"
	"climate-server/internal/modules/climate/types"
	"climate-server/internal/utils"
)

func parseStationsQuery(r *http.Request) (service.FindStationsRequest, error) {
	q := r.URL.Query()
	var req service.FindStationsRequest
	var err error

	if req.Lat, err = requiredFloat(q.Get("lat"), "lat"); err != nil {
		return req, err
	}
	if req.Lon, err = requiredFloat(q.Get("lon"), "lon"); err != nil {
		return req, err
	}
	if s := q.Get("radius_km"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return req, errors.New("invalid 'radius_km' (expected number)")
		}
		req.RadiusKm = &v
	}
	if s := q.Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			return req, errors.New("invalid 'limit' (expected integer)")
		}
		req.Limit = &v
	}
	if req.From, err = optionalDate(q.Get("from"), "from"); err != nil {
		return req, err
	}
	if req.To, err = optionalDate(q.Get("to"), "to"); err != nil {
		return req, err
	}
	return req, nil
}

func parseTemperaturesQuery(r *http.Request) (service.TemperaturesRequest, error) {
	q := r.URL.Query()
	req := service.TemperaturesRequest{StationID: strings.TrimSpace(q.Get("station_id"))}
	if req.StationID == "" {
		return req, errors.New("missing 'station_id'")
	}

	from, err := optionalDate(q.Get("from"), "from")
	if err != nil {
		return req, err
	}
	to, err := optionalDate(q.Get("to"), "to")
	if err != nil {
		return req, err
	}
	if from == nil || to == nil {
		return req, errors.New("'from' and 'to' are required")
	}
	req.From, req.To = *from, *to
	return req, nil
}

func requiredFloat(s, name string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("missing '%s'", name)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid '%s' (expected number)", name)
	}
	return v, nil
}

func optionalDate(s, name string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(types.DateLayout, s)
	if err != nil {
		return nil, fmt.Errorf("invalid '%s' (expected YYYY-MM-DD)", name)
	}
	return &t, nil
}

// statusClientClosedRequest is the nginx convention for a client that went
// away before the response was ready.
const statusClientClosedRequest = 499

func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrUpstreamUnavailable), errors.Is(err, types.ErrSourceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch {
	case status == statusClientClosedRequest:
		slog.DebugContext(r.Context(), "request cancelled", "path", r.URL.Path)
		msg = "request cancelled"
	case status >= http.StatusInternalServerError:
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "status", status, "error", err)
	}
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	utils.WriteError(w, status, msg)
}
