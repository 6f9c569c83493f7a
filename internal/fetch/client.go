// Package fetch retrieves rendered product pages through the rendering proxy.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spherical-ai/catalog-engine/internal/config"
	"github.com/spherical-ai/catalog-engine/internal/domain"
	"github.com/spherical-ai/catalog-engine/internal/observability"
	"github.com/spherical-ai/catalog-engine/internal/retry"
)

const maxBodyBytes = 16 << 20

// Fetcher fetches one page as seen from a proxy country.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL, country string) (*Page, error)
}

// Page is a fetched page body.
type Page struct {
	URL       string
	Country   string
	Body      []byte
	FetchedAt time.Time
}

// StatusError is a non-2xx answer from the proxy.
type StatusError struct {
	StatusCode int
	Country    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("render proxy returned status %d (country %s)", e.StatusCode, e.Country)
}

// StatusCode returns the proxy status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// Client calls the rendering proxy.
type Client struct {
	cfg        config.FetchConfig
	policies   retry.Policies
	httpClient *http.Client
	logger     *observability.Logger
}

// NewClient creates a proxy client. Each attempt is bounded by cfg.Timeout.
func NewClient(cfg config.FetchConfig, logger *observability.Logger) *Client {
	return &Client{
		cfg:        cfg,
		policies:   retry.FromConfig(cfg.Retry),
		httpClient: &http.Client{},
		logger:     logger.WithOperation("fetch"),
	}
}

// Fetch retrieves pageURL through country, retrying per error class. When
// transport errors exhaust their retries the fallback countries are tried in
// order. The last error is returned if every country fails.
func (c *Client) Fetch(ctx context.Context, pageURL, country string) (*Page, error) {
	var lastErr error
	for _, cc := range c.countries(country) {
		var page *Page
		err := retry.Do(ctx, c.policies, func(ctx context.Context) error {
			p, err := c.fetchOnce(ctx, pageURL, cc)
			if err != nil {
				return err
			}
			page = p
			return nil
		}, func(err error, class retry.Class, attempt int, wait time.Duration) {
			c.logger.Debug().
				Err(err).
				URL(pageURL).
				Country(cc).
				Str("class", string(class)).
				Attempt(attempt).
				Dur("wait", wait).
				Msg("Retrying fetch")
		})
		if err == nil {
			return page, nil
		}
		lastErr = err

		if ctx.Err() != nil || retry.Classify(err) != retry.ClassTransport {
			return nil, err
		}
		c.logger.Warn().Err(err).URL(pageURL).Country(cc).Msg("Fetch failed, trying next region")
	}
	return nil, lastErr
}

func (c *Client) countries(primary string) []string {
	out := []string{primary}
	seen := map[string]bool{primary: true}
	for _, cc := range c.cfg.FallbackCountries {
		if !seen[cc] {
			seen[cc] = true
			out = append(out, cc)
		}
	}
	return out
}

func (c *Client) fetchOnce(parent context.Context, pageURL, country string) (*Page, error) {
	ctx := parent
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, c.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(pageURL, country), nil)
	if err != nil {
		return nil, domain.PermanentError("build proxy request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if parent.Err() != nil {
			return nil, parent.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			// attempt timeout only; keep it retryable
			return nil, domain.FetchError(fmt.Sprintf("proxy request timed out after %s", c.cfg.Timeout), nil)
		}
		return nil, domain.FetchError("proxy request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		se := &StatusError{StatusCode: resp.StatusCode, Country: country}
		switch retry.StatusClass(resp.StatusCode) {
		case retry.ClassRateLimit:
			return nil, domain.RateLimitError("proxy rate limited", se)
		case retry.ClassPermanent:
			return nil, domain.PermanentError("page unavailable", se)
		default:
			return nil, domain.FetchError("proxy error", se)
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if parent.Err() != nil {
			return nil, parent.Err()
		}
		return nil, domain.FetchError("read proxy response: "+err.Error(), nil)
	}
	return &Page{URL: pageURL, Country: country, Body: body, FetchedAt: time.Now().UTC()}, nil
}

func (c *Client) requestURL(pageURL, country string) string {
	q := url.Values{}
	q.Set("api_key", c.cfg.APIKey)
	q.Set("url", pageURL)
	if c.cfg.RenderJS {
		q.Set("render_js", "true")
	}
	if c.cfg.Wait > 0 {
		q.Set("wait", strconv.FormatInt(c.cfg.Wait.Milliseconds(), 10))
	}
	if country != "" {
		q.Set("country_code", country)
	}
	if c.cfg.Stealth {
		q.Set("stealth_proxy", "true")
	}
	return c.cfg.Endpoint + "?" + q.Encode()
}
