package foursquare

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"

	appLog "fsqcal/internal/log"
)

const (
	DefaultBaseURL = "https://api.foursquare.com/v2"

	// apiVersion pins the response shape of the v2 API.
	apiVersion = "20231010"

	DefaultPageSize       = 250
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 2 * time.Second

	maxBodyBytes = 16 << 20
)

// Client fetches check-ins for the authenticated user.
type Client struct {
	client  *http.Client
	baseURL string
	token   string

	pageSize       int
	maxAttempts    int
	initialBackoff time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL points the client at another API root (tests use httptest).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithPageSize sets the pagination limit.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithRetry sets the total attempt count per page and the first backoff delay.
func WithRetry(attempts int, initial time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
		if initial > 0 {
			c.initialBackoff = initial
		}
	}
}

// NewClient creates a new Foursquare client for the given OAuth token.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		baseURL:        DefaultBaseURL,
		token:          token,
		pageSize:       DefaultPageSize,
		maxAttempts:    DefaultMaxAttempts,
		initialBackoff: DefaultInitialBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns raw check-in items, newest first. With since == nil the
// entire history is returned; otherwise only items after *since (epoch
// seconds). Pagination is transparent. Any page that still fails after
// retries aborts the whole fetch and nothing is returned.
func (c *Client) Fetch(ctx context.Context, since *int64) ([]json.RawMessage, error) {
	if c.token == "" {
		return nil, ErrNoToken
	}

	mode := "all history"
	if since != nil {
		mode = "since " + strconv.FormatInt(*since, 10)
	}
	appLog.Info("foursquare fetch start", "mode", mode, "page_size", c.pageSize)

	all := make([]json.RawMessage, 0)
	for offset := 0; ; offset += c.pageSize {
		items, err := c.fetchPage(ctx, since, offset)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			break
		}

		appLog.Debug("foursquare page fetched", "count", len(items), "offset", offset)
		all = append(all, items...)

		if len(items) < c.pageSize {
			break
		}
	}

	appLog.Info("foursquare fetch done", "mode", mode, "items", len(all))
	return all, nil
}

func (c *Client) fetchPage(ctx context.Context, since *int64, offset int) ([]json.RawMessage, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(c.pageSize))
	params.Set("sort", "newestfirst")
	params.Set("offset", strconv.Itoa(offset))
	if since != nil {
		params.Set("afterTimestamp", strconv.FormatInt(*since, 10))
	}

	var items []json.RawMessage
	attempts := 0

	op := func() error {
		attempts++
		body, err := c.get(ctx, "users/self/checkins", params)
		if err != nil {
			appLog.Warn("foursquare request failed", "attempt", attempts, "max_attempts", c.maxAttempts, "offset", offset, "err", err)
			return err
		}

		res := gjson.GetBytes(body, "response.checkins.items")
		if !res.Exists() {
			// The envelope carries an empty array when there is nothing left;
			// a missing key means the payload is not what we expect.
			return backoff.Permanent(errors.New("response.checkins.items missing"))
		}
		if !res.IsArray() {
			return backoff.Permanent(errors.New("response.checkins.items is not an array"))
		}

		page := make([]json.RawMessage, 0, len(res.Array()))
		res.ForEach(func(_, v gjson.Result) bool {
			page = append(page, json.RawMessage(v.Raw))
			return true
		})
		items = page
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxAttempts-1)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, &FetchError{Op: "checkins", Offset: offset, Attempts: attempts, Err: err}
	}
	return items, nil
}

// RemoteCount returns the total number of check-ins reported by the user
// profile. It is best effort: any failure yields 0.
func (c *Client) RemoteCount(ctx context.Context) int {
	if c.token == "" {
		return 0
	}

	body, err := c.get(ctx, "users/self", url.Values{})
	if err != nil {
		appLog.Error("foursquare profile fetch failed", err)
		return 0
	}

	count := int(gjson.GetBytes(body, "response.user.checkins.count").Int())
	appLog.Info("foursquare remote total count", "count", count)
	return count
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("oauth_token", c.token)
	q.Set("v", apiVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		var ue *url.Error
		if errors.As(err, &ue) {
			// Never let the token leak into logs through the wrapped URL.
			ue.URL = redactURL(ue.URL)
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}

// redactURL hides the path and query of an API URL for logging purposes.
//
//	https://api.foursquare.com/v2/users/self?oauth_token=abcd
//	-> https://api.foursquare.com/...(redacted)
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "foursquare://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + redactedSuffix
}
