// Package oracle is the HTTP client for the weather data service that
// reports observed aggregates over a policy window.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/alanyoungcy/weathercover/internal/crypto"
	"github.com/alanyoungcy/weathercover/internal/domain"
)

const maxBodyBytes = 1 << 20

var (
	errStatus       = errors.New("unexpected status")
	errCircuitOpen  = errors.New("circuit breaker open")
	errBadSignature = errors.New("response signature mismatch")
	errStale        = errors.New("response timestamp outside tolerance")
)

// Config configures the oracle client.
type Config struct {
	BaseURL string
	APIKey  string
	// Secret, when set, requires every response to carry a valid HMAC.
	Secret          string
	Timeout         time.Duration
	MaxClockSkew    time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Client implements domain.Oracle. Calls are not retried: a failed
// observation aborts the settlement attempt and the caller tries again later.
type Client struct {
	baseURL    string
	apiKey     string
	secret     *crypto.SharedSecret
	skew       time.Duration
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	now        func() time.Time
	logger     *slog.Logger
}

// observationsResponse is the wire format of GET /observations.
type observationsResponse struct {
	Location     string                         `json:"location"`
	Observations map[string]observationReadings `json:"observations"`
}

type observationReadings struct {
	Aggregate int64  `json:"aggregate"`
	Sub       *int64 `json:"sub,omitempty"`
}

// NewClient creates an oracle Client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	skew := cfg.MaxClockSkew
	if skew <= 0 {
		skew = 5 * time.Minute
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	logger = logger.With(slog.String("component", "oracle"))
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "oracle",
		Timeout: cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		secret:     crypto.NewSharedSecret(cfg.Secret),
		skew:       skew,
		httpClient: &http.Client{Timeout: timeout},
		cb:         cb,
		now:        time.Now,
		logger:     logger,
	}
}

// Observe fetches the aggregates for every type in q in one request.
func (c *Client) Observe(ctx context.Context, q domain.ObservationQuery) (map[domain.WeatherType]domain.Observation, error) {
	params := url.Values{}
	params.Set("location", q.Location)
	params.Set("start", q.Start.UTC().Format(time.RFC3339))
	params.Set("end", q.End.UTC().Format(time.RFC3339))
	types := make([]string, 0, len(q.Types))
	for _, t := range q.Types {
		types = append(types, string(t))
	}
	params.Set("types", strings.Join(types, ","))

	body, err := c.doGet(ctx, "/observations?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("oracle: observe %s: %w", q.Location, err)
	}

	var resp observationsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("oracle: decode observations: %w", err)
	}

	out := make(map[domain.WeatherType]domain.Observation, len(resp.Observations))
	for name, r := range resp.Observations {
		wt := domain.WeatherType(name)
		if !wt.Valid() {
			c.logger.WarnContext(ctx, "ignoring unknown weather type", slog.String("type", name))
			continue
		}
		out[wt] = domain.Observation{Aggregate: r.Aggregate, Sub: r.Sub}
	}

	c.logger.DebugContext(ctx, "observations fetched",
		slog.String("location", q.Location),
		slog.Int("types", len(out)),
	)
	return out, nil
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	res, err := c.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("%w %d: %s", errStatus, resp.StatusCode, truncate(body, 200))
		}
		if err := c.verify(resp.Header, body); err != nil {
			return nil, err
		}
		return body, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %w", errCircuitOpen, err)
		}
		return nil, err
	}
	return res.([]byte), nil
}

func (c *Client) verify(h http.Header, body []byte) error {
	if !c.secret.Enabled() {
		return nil
	}
	ts, err := strconv.ParseInt(h.Get(crypto.HeaderOracleTimestamp), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: missing timestamp", errBadSignature)
	}
	if d := c.now().Sub(time.Unix(ts, 0)); d > c.skew || d < -c.skew {
		return errStale
	}
	if !c.secret.Verify(ts, body, h.Get(crypto.HeaderOracleSignature)) {
		return errBadSignature
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

var _ domain.Oracle = (*Client)(nil)
