package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/propscope/comp-engine/internal/config"
	"github.com/propscope/comp-engine/internal/resilience"
)

// HTTPProvider talks to the upstream search API over JSON. Each Search is
// a single POST; transient upstream failures come back wrapped as
// resilience.TransientError so the caller's retry loop can classify them.
type HTTPProvider struct {
	client     *http.Client
	baseURL    string
	credential string
	timeout    time.Duration
	limiter    *rate.Limiter
}

// NewHTTPProvider builds a provider from configuration.
func NewHTTPProvider(cfg config.ProviderConfig) *HTTPProvider {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 10
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}

	return &HTTPProvider{
		client:     &http.Client{Transport: transport},
		baseURL:    cfg.BaseURL,
		credential: cfg.Credential,
		timeout:    timeout,
		limiter:    rate.NewLimiter(rate.Limit(perSec), max(1, int(perSec))),
	}
}

// Search performs one upstream search call. 429 and 5xx responses and
// network failures return transient errors; other non-2xx statuses are
// permanent.
func (p *HTTPProvider) Search(ctx context.Context, q Query) (*Page, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, eris.Wrap(err, "provider: encode query")
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "provider: rate limiter wait")
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, p.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "provider: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if p.credential != "" {
		req.Header.Set("Authorization", "Bearer "+p.credential)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		// Timeouts and dropped connections are retryable.
		return nil, resilience.NewTransientError(eris.Wrap(err, "provider: search request"), 0)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		callErr := eris.Errorf("provider: search returned %d: %s", resp.StatusCode, string(snippet))

		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			zap.L().Warn("transient provider response",
				zap.Int("status", resp.StatusCode),
				zap.Int("page", q.Page),
			)
			return nil, resilience.NewTransientError(callErr, resp.StatusCode)
		}
		return nil, callErr
	}

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, eris.Wrap(err, "provider: decode search response")
	}

	zap.L().Debug("provider search page",
		zap.Int("page", page.Page),
		zap.Int("properties", len(page.Properties)),
		zap.Bool("has_more", page.HasMore),
	)
	return &page, nil
}
