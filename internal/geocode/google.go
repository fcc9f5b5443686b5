// Package geocode validates and geocodes addresses.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/JonMunkholm/activism/internal/core"
)

// DefaultEndpoint is the Google Geocoding API endpoint.
const DefaultEndpoint = "https://maps.googleapis.com/maps/api/geocode/json"

// MaxSuggestions bounds the number of suggestions returned for an address.
const MaxSuggestions = 5

var (
	_ core.AddressValidator = (*Google)(nil)
	_ core.Geocoder         = (*Google)(nil)
)

// ErrRequestDenied is returned when the API rejects the key or quota.
var ErrRequestDenied = errors.New("geocoding request denied")

type match struct {
	address string
	coords  core.Coordinates
}

// Google queries the Google Geocoding API. Responses are cached per address
// for the lifetime of the client, so validating and then importing the same
// file costs one request per distinct address.
type Google struct {
	client   *retryablehttp.Client
	endpoint string
	apiKey   string
	language string

	mu    sync.Mutex
	cache map[string][]match
}

// Config configures the Google client.
type Config struct {
	APIKey   string
	Endpoint string
	Language string
	Timeout  time.Duration
	RetryMax int
}

// NewGoogle creates a client.
func NewGoogle(cfg Config) *Google {
	client := retryablehttp.NewClient()
	client.Logger = log.New(io.Discard, "", 0)
	client.RetryMax = cfg.RetryMax
	if cfg.Timeout > 0 {
		client.HTTPClient.Timeout = cfg.Timeout
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Google{
		client:   client,
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		language: cfg.Language,
		cache:    make(map[string][]match),
	}
}

// ValidateAddress reports whether the address is exactly one of the
// service's formatted addresses for it.
func (g *Google) ValidateAddress(ctx context.Context, address string) (bool, error) {
	matches, err := g.lookup(ctx, address)
	if err != nil {
		return false, err
	}
	want := normalize(address)
	for _, m := range matches {
		if normalize(m.address) == want {
			return true, nil
		}
	}
	return false, nil
}

// AddressSuggestions returns formatted addresses matching the input.
func (g *Google) AddressSuggestions(ctx context.Context, address string) ([]string, error) {
	matches, err := g.lookup(ctx, address)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.address)
		if len(out) == MaxSuggestions {
			break
		}
	}
	return out, nil
}

// Geocode returns the coordinates of the first match.
func (g *Google) Geocode(ctx context.Context, address string) (core.Coordinates, bool, error) {
	matches, err := g.lookup(ctx, address)
	if err != nil || len(matches) == 0 {
		return core.Coordinates{}, false, err
	}
	return matches[0].coords, true, nil
}

func (g *Google) lookup(ctx context.Context, address string) ([]match, error) {
	key := normalize(address)
	g.mu.Lock()
	cached, ok := g.cache[key]
	g.mu.Unlock()
	if ok {
		return cached, nil
	}

	body, err := g.get(ctx, address)
	if err != nil {
		return nil, err
	}

	switch status := gjson.GetBytes(body, "status").String(); status {
	case "OK", "ZERO_RESULTS":
	case "REQUEST_DENIED", "OVER_QUERY_LIMIT", "OVER_DAILY_LIMIT":
		return nil, fmt.Errorf("%w: %s %s", ErrRequestDenied, status, gjson.GetBytes(body, "error_message").String())
	default:
		return nil, fmt.Errorf("geocode %q: status %s", address, status)
	}

	var matches []match
	for _, r := range gjson.GetBytes(body, "results").Array() {
		matches = append(matches, match{
			address: r.Get("formatted_address").String(),
			coords: core.Coordinates{
				Lat: r.Get("geometry.location.lat").Float(),
				Lon: r.Get("geometry.location.lng").Float(),
			},
		})
	}

	g.mu.Lock()
	g.cache[key] = matches
	g.mu.Unlock()
	return matches, nil
}

func (g *Google) get(ctx context.Context, address string) ([]byte, error) {
	q := url.Values{}
	q.Set("address", address)
	if g.apiKey != "" {
		q.Set("key", g.apiKey)
	}
	if g.language != "" {
		q.Set("language", g.language)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode %q: %w", address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode %q: unexpected status %d", address, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
