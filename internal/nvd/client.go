// Package nvd implements the paginated NVD 2.0 REST API fetcher used by the mirror.
package nvd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ortelius/nvd-mirror/internal/telemetry"
	"github.com/ortelius/nvd-mirror/model"
	"go.uber.org/zap"
)

const (
	// DefaultBaseURL is the public NVD API host
	DefaultBaseURL = "https://services.nvd.nist.gov"
	// DefaultRetryMax bounds the retries of a single page request
	DefaultRetryMax = 100
	// DefaultRetryInterval is the fixed wait between retries
	DefaultRetryInterval = 10 * time.Second
	// DefaultRequestTimeout bounds each HTTP call
	DefaultRequestTimeout = 60 * time.Second
)

// Options configures a Client. Zero BaseURL and RequestTimeout select the defaults
// above; Retry is taken as is, so a zero RetryPolicy makes a single attempt per page.
type Options struct {
	BaseURL        string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	Retry          RetryPolicy
	Logger         *zap.Logger
	Metrics        *telemetry.Metrics
}

// Client fetches every page of an NVD endpoint, one request at a time
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      RetryPolicy
	logger     *zap.Logger
	metrics    *telemetry.Metrics
}

// NewClient builds a Client from opts
func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = DefaultRequestTimeout
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: telemetry.HTTPTransport(http.DefaultTransport),
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		retry:      opts.Retry,
		logger:     logger,
		metrics:    opts.Metrics,
	}
}

// Fetch requests endpoint with params, advancing startIndex until the server reports
// every result delivered, and returns all pages in order. params is not modified.
//
// Completion is re-evaluated against the totalResults of each page, and a page that
// delivers nothing ends the loop, so a total that drifts between requests can
// neither spin forever nor be mistaken for progress.
func (c *Client) Fetch(ctx context.Context, endpoint string, params url.Values) ([]model.Page, error) {
	var pages []model.Page
	startIndex := 0

	for {
		query := cloneValues(params)
		query.Set("startIndex", strconv.Itoa(startIndex))

		var page model.Page
		err := c.retry.Do(ctx, func() error {
			p, err := c.fetchPage(ctx, endpoint, query)
			page = p
			return err
		}, func(err error, retry uint64, wait time.Duration) {
			c.metrics.ObserveRetry(endpoint)
			c.logger.Warn("Failed to receive a response from NVD, trying again",
				zap.String("endpoint", endpoint),
				zap.Int("startIndex", startIndex),
				zap.Uint64("retry", retry),
				zap.Uint64("retryMax", c.retry.MaxRetries),
				zap.Duration("wait", wait),
				zap.Error(err))
		})
		if err != nil {
			return nil, fmt.Errorf("fetch %s at startIndex %d: %w", endpoint, startIndex, err)
		}

		if len(pages) > 0 && page.TotalResults != pages[0].TotalResults {
			c.logger.Warn("totalResults changed while paging",
				zap.String("endpoint", endpoint),
				zap.Int("initial", pages[0].TotalResults),
				zap.Int("current", page.TotalResults))
		}
		pages = append(pages, page)

		if page.ResultsPerPage <= 0 {
			if startIndex < page.TotalResults {
				c.logger.Warn("Server returned an empty page before reaching totalResults",
					zap.String("endpoint", endpoint),
					zap.Int("startIndex", startIndex),
					zap.Int("totalResults", page.TotalResults))
			}
			break
		}

		startIndex += page.ResultsPerPage
		if startIndex >= page.TotalResults {
			break
		}
	}

	return pages, nil
}

func (c *Client) fetchPage(ctx context.Context, endpoint string, query url.Values) (model.Page, error) {
	reqURL := c.baseURL + "/" + strings.TrimLeft(endpoint, "/") + "?" + query.Encode()
	c.logger.Info("Requesting NVD page",
		zap.String("endpoint", endpoint),
		zap.String("params", query.Encode()),
		zap.String("url", reqURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return model.Page{}, fmt.Errorf("%w: new request: %v", ErrMalformedResponse, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(endpoint, "error")
		return model.Page{}, fmt.Errorf("nvd: GET %s: %w", reqURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.metrics.ObserveRequest(endpoint, strconv.Itoa(resp.StatusCode))
		_, _ = io.Copy(io.Discard, resp.Body)
		return model.Page{}, &StatusError{
			StatusCode: resp.StatusCode,
			URL:        reqURL,
			Message:    resp.Header.Get("message"),
		}
	}

	// A body cut short by the network is transient; only a complete but invalid body is fatal.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.ObserveRequest(endpoint, "error")
		return model.Page{}, fmt.Errorf("nvd: read body of %s: %w", reqURL, err)
	}

	var page model.Page
	if err := json.Unmarshal(body, &page); err != nil {
		c.metrics.ObserveRequest(endpoint, "malformed")
		return model.Page{}, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, reqURL, err)
	}
	if page.TotalResults < 0 || page.ResultsPerPage < 0 {
		c.metrics.ObserveRequest(endpoint, "malformed")
		return model.Page{}, fmt.Errorf("%w: %s: negative resultsPerPage or totalResults", ErrMalformedResponse, reqURL)
	}

	c.metrics.ObserveRequest(endpoint, "ok")
	return page, nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+1)
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
