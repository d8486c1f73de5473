package ghcn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"climate-server/internal/modules/climate/types"
)

// ErrNoData is returned when the archive has no document for a station.
var ErrNoData = errors.New("no data for station")

type ClientConfig struct {
	StationsURL    string
	InventoryURL   string
	DailyBaseURL   string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Client fetches GHCN documents with retries and a circuit breaker.
type Client struct {
	http    *http.Client
	cfg     ClientConfig
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

func NewClient(cfg ClientConfig, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "ghcn",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNoData)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{http: httpClient, cfg: cfg, breaker: breaker, logger: logger}
}

func (c *Client) FetchStations(ctx context.Context) ([]byte, error) {
	return c.fetch(ctx, c.cfg.StationsURL)
}

func (c *Client) FetchInventory(ctx context.Context) ([]byte, error) {
	return c.fetch(ctx, c.cfg.InventoryURL)
}

// FetchDaily downloads <DailyBaseURL>/<stationID>.dly.
func (c *Client) FetchDaily(ctx context.Context, stationID string) ([]byte, error) {
	url := strings.TrimRight(c.cfg.DailyBaseURL, "/") + "/" + stationID + ".dly"
	return c.fetch(ctx, url)
}

// retryableError marks failures worth another attempt.
type retryableError struct{ err error }

func (e retryableError) Error() string { return e.err.Error() }
func (e retryableError) Unwrap() error { return e.err }

func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		res, err := c.breaker.Execute(func() (interface{}, error) {
			return c.get(ctx, url)
		})
		if err == nil {
			return res.([]byte), nil
		}
		if errors.Is(err, ErrNoData) {
			return nil, err
		}
		lastErr = err

		var re retryableError
		retry := errors.As(err, &re) && attempt < c.cfg.MaxAttempts
		if !retry {
			break
		}

		delay := c.backoff(attempt)
		c.logger.Warn("upstream request failed, retrying",
			"url", url, "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", types.ErrUpstreamUnavailable, ctx.Err())
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("%w: %s: %v", types.ErrUpstreamUnavailable, url, lastErr)
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.InitialBackoff << (attempt - 1)
	if c.cfg.MaxBackoff > 0 && (d > c.cfg.MaxBackoff || d <= 0) {
		d = c.cfg.MaxBackoff
	}
	return d
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, retryableError{err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNoData
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, retryableError{fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retryableError{fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}
