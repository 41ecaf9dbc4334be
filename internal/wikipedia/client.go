package wikipedia

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sjpalmer/wikivandal/internal/metrics"
	"github.com/sjpalmer/wikivandal/internal/models"
	"github.com/sjpalmer/wikivandal/internal/resilience"
)

const (
	// DefaultBaseURL is the English Wikipedia action API endpoint.
	DefaultBaseURL = "https://en.wikipedia.org/w/api.php"
	// DefaultUserAgent identifies the service per Wikimedia's API etiquette.
	DefaultUserAgent = "WikiReconstitute/1.0 (https://github.com/sjpalmer/wikivandal)"
	// MaxRevisions bounds the revision log fetched per article.
	MaxRevisions = 500
)

// Client is the concrete Wikipedia API collaborator: title resolution,
// revision listing, revision content, wikitext rendering, and article HTML
// against the MediaWiki action API over HTTP, with outbound rate limiting,
// retry-with-backoff, and a circuit breaker guarding against a misbehaving
// upstream.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	breaker   *resilience.CircuitBreaker
	logger    zerolog.Logger
}

// Config controls Client construction.
type Config struct {
	BaseURL            string
	UserAgent          string
	RequestsPerSecond  float64
	Burst              int
	Timeout            time.Duration
	CircuitBreaker     resilience.CircuitBreakerConfig
}

// NewClient builds a Client. Zero-valued Config fields fall back to sane
// defaults (the production English Wikipedia API, a conservative outbound
// rate, and MediaWiki-tuned circuit breaker thresholds).
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst == 0 {
		cfg.Burst = 5
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = resilience.DefaultTimeoutConfig().HTTP.ForWikipediaActionAPI().RequestTimeout
	}
	if cfg.CircuitBreaker.FailureThreshold == 0 && cfg.CircuitBreaker.ResetTimeout == 0 {
		cfg.CircuitBreaker = resilience.WikipediaAPIBreakerConfig()
	}
	cfg.CircuitBreaker.Name = "wikipedia-api"

	log := logger.With().Str("component", "wikipedia-client").Logger()

	return &Client{
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		http:      &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker:   resilience.NewCircuitBreaker(cfg.CircuitBreaker, log),
		logger:    log,
	}
}

// httpStatusError classifies HTTP errors for resilience.RetryWithBackoff:
// 5xx and network errors are retryable, 4xx is not (the request itself is
// wrong, retrying won't help).
type httpStatusError struct {
	status int
	url    string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("wikipedia API: unexpected status %d from %s", e.status, e.url)
}

func (e *httpStatusError) ShouldRetry() bool {
	return e.status >= 500
}

func (c *Client) get(ctx context.Context, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wikipedia client: rate limiter: %w", err)
	}

	reqURL := c.baseURL + "?" + params.Encode()

	retryCfg := resilience.RetryConfig{
		MaxAttempts:   3,
		OperationName: "wikipedia-api-call",
	}

	start := time.Now()
	defer func() {
		metrics.ObserveHistogram("wikipedia_api_request_duration_seconds",
			time.Since(start).Seconds(), map[string]string{"method": params.Get("action")})
	}()

	return c.breaker.Call(func() error {
		return resilience.RetryWithBackoff(ctx, retryCfg, func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
			if err != nil {
				return resilience.NewNonRetryableError(fmt.Errorf("building request: %w", err))
			}
			req.Header.Set("User-Agent", c.userAgent)
			req.Header.Set("Accept", "application/json")

			resp, err := c.http.Do(req)
			if err != nil {
				return resilience.NewRetryableError(fmt.Errorf("wikipedia client: request failed: %w", err))
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return &httpStatusError{status: resp.StatusCode, url: reqURL}
			}

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return resilience.NewRetryableError(fmt.Errorf("reading response: %w", err))
			}

			var envelope struct {
				Error *apiError `json:"error,omitempty"`
			}
			if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
				return resilience.ClassifyMediaWikiError(envelope.Error.Code, envelope.Error.Info)
			}

			if err := json.Unmarshal(body, out); err != nil {
				return resilience.NewNonRetryableError(fmt.Errorf("decoding response: %w", err))
			}
			return nil
		})
	})
}

// ResolveTitle follows redirects and returns the canonical form of title.
func (c *Client) ResolveTitle(ctx context.Context, title string) (string, error) {
	params := url.Values{
		"action":  {"query"},
		"format":  {"json"},
		"redirects": {"1"},
		"titles":  {title},
	}

	var resp queryResponse
	if err := c.get(ctx, params, &resp); err != nil {
		return "", fmt.Errorf("resolving title %q: %w", title, err)
	}

	canonical := title
	if len(resp.Query.Redirects) > 0 {
		canonical = resp.Query.Redirects[len(resp.Query.Redirects)-1].To
	}
	for _, page := range resp.Query.Pages {
		if page.Missing {
			return "", fmt.Errorf("wikipedia client: article %q does not exist", title)
		}
		if page.Title != "" {
			canonical = page.Title
		}
	}
	return canonical, nil
}

// RevisionLog returns up to MaxRevisions revisions for title, newest-first.
func (c *Client) RevisionLog(ctx context.Context, title string) ([]models.RevisionSummary, error) {
	params := url.Values{
		"action":  {"query"},
		"format":  {"json"},
		"prop":    {"revisions"},
		"titles":  {title},
		"rvlimit": {fmt.Sprintf("%d", MaxRevisions)},
		"rvprop":  {"ids|timestamp|comment|size|user"},
		"rvdir":   {"older"},
	}

	var resp queryResponse
	if err := c.get(ctx, params, &resp); err != nil {
		return nil, fmt.Errorf("fetching revision log for %q: %w", title, err)
	}

	var revisions []models.RevisionSummary
	for _, page := range resp.Query.Pages {
		for _, r := range page.Revisions {
			ts, _ := time.Parse(time.RFC3339, r.Timestamp)
			revisions = append(revisions, models.RevisionSummary{
				RevID:     r.RevID,
				ParentID:  r.ParentID,
				User:      r.User,
				Timestamp: ts,
				Comment:   r.Comment,
				Size:      r.Size,
			})
		}
	}
	return revisions, nil
}

// RevisionContent fetches the wikitext of a specific revision id.
func (c *Client) RevisionContent(ctx context.Context, revID int64) (string, error) {
	params := url.Values{
		"action":  {"query"},
		"format":  {"json"},
		"prop":    {"revisions"},
		"revids":  {fmt.Sprintf("%d", revID)},
		"rvprop":  {"content"},
		"rvslots": {"main"},
	}

	var resp queryResponse
	if err := c.get(ctx, params, &resp); err != nil {
		return "", fmt.Errorf("fetching content for revision %d: %w", revID, err)
	}

	for _, page := range resp.Query.Pages {
		if len(page.Revisions) > 0 {
			return page.Revisions[0].Slots.Main.Content, nil
		}
	}
	return "", nil
}

// FetchRevisionWikitext implements reconstitute.RevisionWikitextFetcher.
func (c *Client) FetchRevisionWikitext(ctx context.Context, revID int64) (string, error) {
	return c.RevisionContent(ctx, revID)
}

// RenderWikitext renders wikitext to an HTML fragment via action=parse.
func (c *Client) RenderWikitext(ctx context.Context, title, wikitext string) (string, error) {
	params := url.Values{
		"action":        {"parse"},
		"format":        {"json"},
		"title":         {title},
		"text":          {wikitext},
		"contentmodel":  {"wikitext"},
		"disablelimitreport": {"1"},
	}

	var resp parseResponse
	if err := c.get(ctx, params, &resp); err != nil {
		return "", fmt.Errorf("rendering wikitext for %q: %w", title, err)
	}
	return resp.Parse.Text.Content, nil
}

// FetchArticleHTML fetches the current rendered page HTML for title, used
// as the shell into which reconstituted content is spliced.
func (c *Client) FetchArticleHTML(ctx context.Context, title string) (string, error) {
	params := url.Values{
		"action":       {"parse"},
		"format":       {"json"},
		"page":         {title},
		"prop":         {"text"},
		"disablelimitreport": {"1"},
	}

	var resp parseResponse
	if err := c.get(ctx, params, &resp); err != nil {
		return "", fmt.Errorf("fetching article HTML for %q: %w", title, err)
	}
	return resp.Parse.Text.Content, nil
}
