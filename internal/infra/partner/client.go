// Package partner reads paginated collections from the partner JSON API.
package partner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"partner_sync/internal/reconcile"
)

// ErrUpstreamUnavailable wraps every failure to read a complete collection.
var ErrUpstreamUnavailable = errors.New("partner API unavailable")

const (
	defaultConcurrency = 4
	defaultMaxRetries  = 3
	defaultTimeout     = 30 * time.Second
)

// Config configures a Client.
type Config struct {
	BaseURL string
	Token   string
	// Concurrency bounds the pages fetched at once.
	Concurrency int
	// Delay is the minimum time between two requests.
	Delay      time.Duration
	Timeout    time.Duration
	MaxRetries uint64
	// HTTPClient overrides the default client, mostly for tests.
	HTTPClient *http.Client
	Logger     logrus.FieldLogger
}

// Client fetches whole collections page by page.
type Client struct {
	baseURL     *url.URL
	token       string
	http        *http.Client
	concurrency int
	maxRetries  uint64
	throttle    *throttle
	logger      logrus.FieldLogger
	// newBackOff is replaced in tests to avoid real waits.
	newBackOff func() backoff.BackOff
}

func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid partner base URL %q", cfg.BaseURL)
	}
	c := &Client{
		baseURL:     base,
		token:       cfg.Token,
		http:        cfg.HTTPClient,
		concurrency: cfg.Concurrency,
		maxRetries:  cfg.MaxRetries,
		throttle:    &throttle{delay: cfg.Delay},
		logger:      cfg.Logger,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
	if c.http == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if c.concurrency < 1 {
		c.concurrency = defaultConcurrency
	}
	if c.maxRetries == 0 {
		c.maxRetries = defaultMaxRetries
	}
	if c.logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		c.logger = l
	}
	return c, nil
}

type page struct {
	Data       []map[string]any `json:"data"`
	TotalPages int              `json:"total_pages"`
}

// FetchAll reads every page of the collection at path. The first page gives the
// page count; the others are fetched concurrently and returned in page order.
// Nothing is returned unless every page was read.
func (c *Client) FetchAll(ctx context.Context, path string, query url.Values) ([]reconcile.Record, error) {
	first, err := c.fetchPage(ctx, path, query, 1)
	if err != nil {
		return nil, err
	}

	pages := make([][]map[string]any, max(first.TotalPages, 1))
	pages[0] = first.Data

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for n := 2; n <= first.TotalPages; n++ {
		g.Go(func() error {
			p, err := c.fetchPage(gctx, path, query, n)
			if err != nil {
				return err
			}
			pages[n-1] = p.Data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var records []reconcile.Record
	for _, data := range pages {
		for _, fields := range data {
			records = append(records, reconcile.NewRecord(fields))
		}
	}
	c.logger.WithFields(logrus.Fields{"path": path, "pages": len(pages), "records": len(records)}).Debug("partner collection fetched")
	return records, nil
}

func (c *Client) fetchPage(ctx context.Context, path string, query url.Values, n int) (*page, error) {
	u := c.baseURL.JoinPath(path)
	q := url.Values{}
	for k, v := range query {
		q[k] = append([]string(nil), v...)
	}
	q.Set("page", strconv.Itoa(n))
	u.RawQuery = q.Encode()
	logger := c.logger.WithFields(logrus.Fields{"path": path, "page": n})

	var result *page
	op := func() error {
		if err := c.throttle.wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		p, err := c.get(ctx, u.String())
		if err != nil {
			return err
		}
		result = p
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.maxRetries), ctx)
	notify := func(err error, wait time.Duration) {
		logger.WithError(err).WithField("retry_in", wait).Warn("partner request failed, retrying")
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, fmt.Errorf("%w: GET %s page %d: %w", ErrUpstreamUnavailable, path, n, err)
	}
	return result, nil
}

// get performs one request. Client errors other than 429 are permanent.
func (c *Client) get(ctx context.Context, rawURL string) (*page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("unexpected status %d", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var p page
	if err := dec.Decode(&p); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode page: %w", err))
	}
	return &p, nil
}

// throttle spaces requests at least delay apart across goroutines.
type throttle struct {
	delay time.Duration
	mu    sync.Mutex
	next  time.Time
}

func (t *throttle) wait(ctx context.Context) error {
	if t.delay <= 0 {
		return ctx.Err()
	}
	t.mu.Lock()
	now := time.Now()
	at := t.next
	if at.Before(now) {
		at = now
	}
	t.next = at.Add(t.delay)
	t.mu.Unlock()

	timer := time.NewTimer(time.Until(at))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
