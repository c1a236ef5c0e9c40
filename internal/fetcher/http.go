package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const defaultUserAgent = "cryptoalerts/1.0"

// Options parameterise a single exchange client.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	RPS       float64
	Burst     int
	UserAgent string
}

func (o Options) limiter() *rate.Limiter {
	if o.RPS <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := o.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(o.RPS), burst)
}

func (o Options) httpClient() *http.Client {
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func (o Options) baseURL(fallback string) string {
	base := strings.TrimRight(strings.TrimSpace(o.BaseURL), "/")
	if base == "" {
		return fallback
	}
	return base
}

// restClient issues throttled GET requests against a JSON REST API.
type restClient struct {
	exchange  string
	baseURL   string
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
}

func newRESTClient(exchange, fallbackBase string, opts Options) *restClient {
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = defaultUserAgent
	}
	return &restClient{
		exchange:  exchange,
		baseURL:   opts.baseURL(fallbackBase),
		userAgent: ua,
		client:    opts.httpClient(),
		limiter:   opts.limiter(),
	}
}

func (c *restClient) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s rate limiter: %w", c.exchange, err)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(c.exchange, resp.StatusCode, payload)
	}
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("%s returned malformed json", c.exchange)
	}
	return payload, nil
}

func parseHTTPError(exchange string, status int, payload []byte) error {
	for _, path := range []string{"msg", "message", "error.0", "error", "retMsg"} {
		if v := gjson.GetBytes(payload, path); v.Exists() && v.String() != "" {
			return fmt.Errorf("%s api error (%d): %s", exchange, status, v.String())
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("%s api error (%d): %s", exchange, status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("%s api error (%d)", exchange, status)
}

// decimalField parses a numeric JSON value that exchanges encode as a string or number.
func decimalField(v gjson.Result) (decimal.Decimal, bool) {
	if !v.Exists() || v.String() == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func optionalField(v gjson.Result) *decimal.Decimal {
	d, ok := decimalField(v)
	if !ok {
		return nil
	}
	return &d
}

var hundred = decimal.NewFromInt(100)

// ratioToPct converts a fractional 24h change (0.0123) into percent.
func ratioToPct(v gjson.Result) *decimal.Decimal {
	d, ok := decimalField(v)
	if !ok {
		return nil
	}
	pct := d.Mul(hundred)
	return &pct
}
