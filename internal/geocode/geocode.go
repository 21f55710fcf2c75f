// Package geocode resolves coordinates to a human-readable address through
// the OpenCage reverse geocoding API.
package geocode

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/exambook/apiserver/internal/logging"
	"github.com/exambook/apiserver/internal/metrics"
)

const (
	UnknownLocation = "Unknown location"
	LookupFailed    = "Error fetching location"

	defaultBaseURL = "https://api.opencagedata.com/geocode/v1/json"
	defaultTimeout = 10 * time.Second
)

// Client is an OpenCage reverse geocoder. Lookups never fail: errors
// degrade to a placeholder address.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient constructs a Client. An empty apiKey disables lookups.
func NewClient(baseURL, apiKey string) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(apiKey),
	}
}

type response struct {
	Results []struct {
		Formatted string `json:"formatted"`
	} `json:"results"`
}

// Reverse returns the formatted address for lat/lng.
func (c *Client) Reverse(ctx context.Context, lat, lng float64) string {
	if c.apiKey == "" {
		metrics.RecordGeocode("skipped")
		return UnknownLocation
	}

	address, err := c.lookup(ctx, lat, lng)
	if err != nil {
		metrics.RecordGeocode("error")
		logging.Ctx(ctx).Warn().Err(err).
			Float64("latitude", lat).
			Float64("longitude", lng).
			Msg("reverse geocoding failed")
		return LookupFailed
	}
	if address == "" {
		metrics.RecordGeocode("no_result")
		return UnknownLocation
	}
	metrics.RecordGeocode("ok")
	return address
}

func (c *Client) lookup(ctx context.Context, lat, lng float64) (string, error) {
	q := url.Values{}
	q.Set("q", strconv.FormatFloat(lat, 'f', -1, 64)+" "+strconv.FormatFloat(lng, 'f', -1, 64))
	q.Set("key", c.apiKey)
	q.Set("no_annotations", "1")
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("opencage status %d", resp.StatusCode)
	}

	var parsed response
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode opencage response: %w", err)
	}
	if len(parsed.Results) == 0 {
		return "", nil
	}
	return strings.TrimSpace(parsed.Results[0].Formatted), nil
}
