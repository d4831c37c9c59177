// Package openrouteservice provides a client for the OpenRouteService
// directions, elevation and geocoding APIs.
package openrouteservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/pedalei/pedalei/internal/provider/resilience"
	"github.com/pedalei/pedalei/internal/routing"
)

const (
	// ProviderName is the registry and log name of the client.
	ProviderName = "openrouteservice"

	DefaultBaseURL = "https://api.openrouteservice.org"
	DefaultTimeout = 10 * time.Second
)

// HTTPDoer sends one HTTP request. *resilience.Client and *http.Client
// both satisfy it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig configures NewClient. Only APIKey is required.
type ClientConfig struct {
	APIKey  string
	BaseURL string

	// HTTPClient replaces the default resilience.Client, mostly in tests.
	HTTPClient HTTPDoer

	// Timeout bounds each attempt of the default client.
	Timeout time.Duration

	// Registry tracks the default client for GET /v1/ops/status.
	Registry *resilience.Registry

	// GeocodeCountry is an ISO 3166 alpha-2 code that restricts geocoding.
	GeocodeCountry string

	Logger zerolog.Logger
}

// Client is an OpenRouteService API client. It implements routing.Provider,
// routing.ElevationProvider and routing.Geocoder.
type Client struct {
	apiKey         string
	baseURL        string
	geocodeCountry string
	httpClient     HTTPDoer
	logger         zerolog.Logger
}

var (
	_ routing.Provider          = (*Client)(nil)
	_ routing.ElevationProvider = (*Client)(nil)
	_ routing.Geocoder          = (*Client)(nil)
)

// NewClient creates a new OpenRouteService client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		clientCfg := resilience.DefaultClientConfig(ProviderName)
		clientCfg.Timeout = timeout
		clientCfg.Registry = cfg.Registry
		clientCfg.Logger = cfg.Logger
		httpClient = resilience.NewClient(clientCfg)
	}

	return &Client{
		apiKey:         cfg.APIKey,
		baseURL:        baseURL,
		geocodeCountry: cfg.GeocodeCountry,
		httpClient:     httpClient,
		logger:         cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// do sends a request to ORS and decodes a 200 response into out. Any other
// status is mapped to a *routing.Error.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Authorization", c.apiKey)
	httpReq.Header.Set("Accept", "application/json, application/geo+json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &routing.Error{
			Provider: ProviderName,
			Status:   routing.StatusUnknownError,
			Message:  "failed to reach routing provider",
			Err:      fmt.Errorf("%w: %w", routing.ErrProviderUnavailable, err),
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return handleErrorResponse(resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// handleErrorResponse maps ORS error responses to domain errors.
func handleErrorResponse(statusCode int, body []byte) error {
	var orsErr orsErrorResponse
	message := fmt.Sprintf("routing provider returned status %d", statusCode)
	if err := json.Unmarshal(body, &orsErr); err == nil && orsErr.Error.Message != "" {
		message = orsErr.Error.Message
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return &routing.Error{
			Provider: ProviderName,
			Status:   routing.StatusOverQueryLimit,
			Message:  "API rate limit exceeded, please try again later",
			Err:      routing.ErrRateLimitExceeded,
		}
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &routing.Error{
			Provider: ProviderName,
			Status:   routing.StatusRequestDenied,
			Message:  "API access denied - check API key configuration",
			Err:      routing.ErrProviderUnavailable,
		}
	case statusCode == http.StatusNotFound,
		orsErr.Error.Code == orsErrorCodeRouteNotFound,
		orsErr.Error.Code == orsErrorCodePointNotFound:
		return &routing.Error{
			Provider: ProviderName,
			Status:   routing.StatusZeroResults,
			Message:  message,
			Err:      routing.ErrNoRouteFound,
		}
	case statusCode == http.StatusBadRequest:
		return &routing.Error{
			Provider: ProviderName,
			Status:   routing.StatusInvalidRequest,
			Message:  message,
			Err:      routing.ErrInvalidCoordinates,
		}
	case statusCode >= 500:
		return &routing.Error{
			Provider: ProviderName,
			Status:   routing.StatusUnknownError,
			Message:  "routing provider is temporarily unavailable",
			Err:      routing.ErrProviderUnavailable,
		}
	default:
		return &routing.Error{
			Provider: ProviderName,
			Status:   routing.StatusUnknownError,
			Message:  message,
			Err:      routing.ErrProviderUnavailable,
		}
	}
}
