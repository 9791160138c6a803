package fetcher

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/parcelpicker/internal/resilience"
)

// maxBodyBytes bounds a single provider response.
const maxBodyBytes = 32 << 20

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	// Service names the upstream in retry logs.
	Service   string
	UserAgent string
	// Timeout applies to each attempt, not to the whole call.
	Timeout  time.Duration
	Retry    resilience.RetryConfig
	Throttle *resilience.Throttle
	// Client overrides the default HTTP client (tests).
	Client *http.Client
}

// HTTPFetcher implements JSONGetter using net/http with budget, throttle and retry.
type HTTPFetcher struct {
	client   *http.Client
	opts     HTTPOptions
	throttle *resilience.Throttle
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "parcelpicker/1.0"
	}
	if opts.Service == "" {
		opts.Service = "provider"
	}
	throttle := opts.Throttle
	if throttle == nil {
		throttle = resilience.NewThrottle(0)
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &HTTPFetcher{
		client:   client,
		opts:     opts,
		throttle: throttle,
	}
}

// GetJSON spends one budget unit, then GETs rawURL with params and decodes the
// body into out. Transient failures are retried; permanent ones and
// resilience.ErrBudgetExceeded are returned immediately.
func (f *HTTPFetcher) GetJSON(ctx context.Context, budget *resilience.Budget, rawURL string, params url.Values, out any) error {
	if budget != nil {
		if err := budget.Consume(); err != nil {
			return err
		}
	}

	target := buildURL(rawURL, params)
	cfg := f.opts.Retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger(f.opts.Service, "get")
	}

	err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		return f.attempt(ctx, target, out)
	})
	if err != nil {
		zap.L().Debug("fetcher: call failed",
			zap.String("service", f.opts.Service),
			zap.String("url", rawURL),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (f *HTTPFetcher) attempt(ctx context.Context, target string, out any) error {
	if err := f.throttle.Wait(ctx); err != nil {
		return err
	}

	actx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, target, nil)
	if err != nil {
		return resilience.NewPermanentError(eris.Wrap(err, "fetcher: create request"), 0)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "fetcher: request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "fetcher: read body"), resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resilience.ClassifyStatus(
			eris.Errorf("fetcher: http %d from %s", resp.StatusCode, redact(target)),
			resp.StatusCode,
		)
	}

	// out is reused across attempts; clear what a previous attempt decoded.
	if rv := reflect.ValueOf(out); rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv.Elem().SetZero()
	}
	if err := json.Unmarshal(body, out); err != nil {
		return resilience.NewPermanentError(eris.Wrap(err, "fetcher: decode json"), resp.StatusCode)
	}
	if v, ok := out.(PayloadValidator); ok {
		return v.Validate()
	}
	return nil
}

func buildURL(rawURL string, params url.Values) string {
	if len(params) == 0 {
		return rawURL
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + params.Encode()
}

// redact strips the query string so provider errors don't echo addresses.
func redact(target string) string {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		return target[:i]
	}
	return target
}
