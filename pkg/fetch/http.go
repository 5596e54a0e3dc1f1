package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/piratf/kampus-crawler/pkg/config"
	"github.com/piratf/kampus-crawler/pkg/metrics"
	"github.com/piratf/kampus-crawler/pkg/models"
	"github.com/piratf/kampus-crawler/pkg/retry"
	"github.com/piratf/kampus-crawler/pkg/utils"
)

const acceptHeader = "text/html,application/xhtml+xml,application/pdf,image/*;q=0.9,*/*;q=0.8"

// HTTPFetcher is the light fetcher: plain GET through the shared client,
// paced by the host gate, retried per policy.
type HTTPFetcher struct {
	client        *http.Client
	policy        retry.Policy
	gate          *HostGate
	robots        *Robots
	respectRobots bool
	userAgent     string
	maxBody       int64
	log           *logrus.Entry
}

// NewHTTPFetcher creates the light fetcher. gate may be nil for unpaced fetching.
func NewHTTPFetcher(client *http.Client, cfg *config.AppConfig, gate *HostGate, log *logrus.Entry) *HTTPFetcher {
	f := &HTTPFetcher{
		client:        client,
		policy:        retry.FromConfig(cfg.Retry),
		gate:          gate,
		respectRobots: cfg.GetEffectiveRespectRobots(),
		userAgent:     cfg.DefaultUserAgent,
		maxBody:       cfg.HTTPClientSettings.MaxBodyBytes,
		log:           log.WithField("component", "http_fetcher"),
	}
	f.robots = NewRobots(FetcherFunc(f.get), log)
	return f
}

// Fetch retrieves rawURL, honoring robots.txt when configured.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", utils.ErrMalformedURL, rawURL)
	}
	if f.respectRobots && !f.robots.Allowed(ctx, u, f.userAgent) {
		err := fmt.Errorf("%w: %w: %s", utils.ErrFetchFailure, utils.ErrRobotsDisallowed, rawURL)
		metrics.FetchErrors.WithLabelValues(utils.CategorizeError(err)).Inc()
		return nil, err
	}
	return f.get(ctx, rawURL)
}

// Sitemaps returns the sitemap URLs listed in the site's robots.txt.
func (f *HTTPFetcher) Sitemaps(ctx context.Context, siteURL string) []string {
	u, err := url.Parse(siteURL)
	if err != nil || u.Host == "" {
		return nil
	}
	return f.robots.Sitemaps(ctx, u)
}

func (f *HTTPFetcher) get(ctx context.Context, rawURL string) (*Result, error) {
	start := time.Now()
	reqLog := f.log.WithField("url", rawURL)

	var res *Result
	err := f.policy.Do(ctx, reqLog, func(ctx context.Context, attempt int) error {
		r, err := f.attempt(ctx, rawURL)
		if r != nil {
			res = r
		}
		return err
	})
	if res != nil {
		res.ElapsedMS = time.Since(start).Milliseconds()
	}
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", utils.ErrFetchFailure, rawURL, err)
		metrics.FetchErrors.WithLabelValues(utils.CategorizeError(err)).Inc()
		return res, err
	}
	metrics.PagesFetched.WithLabelValues(string(models.FetchModeHTTP)).Inc()
	return res, nil
}

// attempt performs one GET. Retryable failures are returned plainly; the rest
// are marked permanent.
func (f *HTTPFetcher) attempt(ctx context.Context, rawURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("%w: %w", utils.ErrRequestCreation, err))
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", acceptHeader)

	if f.gate != nil {
		release, err := f.gate.Acquire(ctx, req.URL.Hostname())
		if err != nil {
			return nil, err
		}
		defer release()
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	res := &Result{
		URL:         rawURL,
		FinalURL:    resp.Request.URL.String(),
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Mode:        models.FetchModeHTTP,
	}
	statusCode := resp.StatusCode

	switch {
	case statusCode >= 200 && statusCode < 300:
		body := io.Reader(resp.Body)
		if f.maxBody > 0 {
			body = io.LimitReader(resp.Body, f.maxBody)
		}
		content, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, err)
		}
		res.OK = true
		res.Content = content
		return res, nil

	case statusCode >= 500:
		return res, fmt.Errorf("%w: status %d %s", utils.ErrServerHTTPError, statusCode, resp.Status)

	case statusCode == http.StatusTooManyRequests:
		return res, fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, resp.Status)

	case statusCode >= 400:
		return res, retry.Permanent(fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, resp.Status))

	default:
		return res, retry.Permanent(fmt.Errorf("%w: status %d %s", utils.ErrOtherHTTPError, statusCode, resp.Status))
	}
}
