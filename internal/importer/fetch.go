package importer

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// MaxFeedSize bounds the size of a fetched calendar feed.
const MaxFeedSize = 10 << 20

// NewHTTPClient creates the client used for calendar feeds. A retryMax of
// zero fetches exactly once.
func NewHTTPClient(timeout time.Duration, retryMax int) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.Logger = log.New(io.Discard, "", 0)
	client.RetryMax = retryMax
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	if timeout > 0 {
		client.HTTPClient.Timeout = timeout
	}
	return client
}

// FeedURL rewrites webcal:// URLs to http://.
func FeedURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(raw, "webcal://"); ok {
		return "http://" + rest
	}
	return raw
}

// fetch downloads a feed and returns its body. Any transport failure or
// non-2xx status is an error.
func fetch(ctx context.Context, client *retryablehttp.Client, url string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/calendar, text/plain;q=0.9, */*;q=0.5")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxFeedSize))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return body, nil
}
