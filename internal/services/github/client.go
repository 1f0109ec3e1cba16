package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/huangang/claimwatch/internal/config"
	"github.com/huangang/claimwatch/pkg/logger"
	"golang.org/x/time/rate"
)

const (
	perPage  = 100
	maxPages = 10
)

// Client is a small GitHub REST client. Every request waits on a shared
// token bucket; once GitHub reports the rate limit as exhausted, requests fail
// fast with a transient APIError until the reset time.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time

	mu           sync.Mutex
	blockedUntil time.Time
}

func NewClient(cfg config.GitHubConfig) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		now:        time.Now,
	}
}

func (c *Client) apiURL(path string, q url.Values) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// do performs one request and decodes a JSON answer into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out interface{}) (http.Header, error) {
	if err := c.checkBlocked(); err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL(path, q), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		if until, limited := c.rateLimitReset(resp); limited {
			apiErr.RateLimited = true
			apiErr.RetryAfter = until
			c.block(until)
			logger.Warn().
				Int("status", resp.StatusCode).
				Time("retry_after", until).
				Msg("[GitHub] rate limited")
		}
		return resp.Header, apiErr
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.Header, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.Header, nil
}

// getPaged follows page numbers until a short page or maxPages.
func getPaged[T any](ctx context.Context, c *Client, path string, q url.Values) ([]T, error) {
	if q == nil {
		q = url.Values{}
	}
	q.Set("per_page", strconv.Itoa(perPage))

	var all []T
	for page := 1; page <= maxPages; page++ {
		q.Set("page", strconv.Itoa(page))
		var batch []T
		if _, err := c.do(ctx, http.MethodGet, path, q, nil, &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < perPage {
			break
		}
	}
	return all, nil
}

// rateLimitReset detects primary (X-RateLimit-Remaining: 0) and secondary
// (Retry-After) rate limits.
func (c *Client) rateLimitReset(resp *http.Response) (time.Time, bool) {
	if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusForbidden {
		return time.Time{}, false
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			return c.now().Add(time.Duration(secs) * time.Second), true
		}
	}
	if resp.Header.Get("X-RateLimit-Remaining") == "0" {
		if reset, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
			return time.Unix(reset, 0), true
		}
		return c.now().Add(time.Minute), true
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return c.now().Add(time.Minute), true
	}
	return time.Time{}, false
}

func (c *Client) block(until time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if until.After(c.blockedUntil) {
		c.blockedUntil = until
	}
}

func (c *Client) checkBlocked() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now().Before(c.blockedUntil) {
		return &APIError{StatusCode: http.StatusTooManyRequests, RateLimited: true, RetryAfter: c.blockedUntil}
	}
	return nil
}

// SplitRepo splits "owner/name".
func SplitRepo(fullName string) (owner, name string, err error) {
	parts := strings.Split(strings.Trim(fullName, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository %q, want owner/name", fullName)
	}
	return parts[0], parts[1], nil
}
