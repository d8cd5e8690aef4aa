package retrieval

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/propscope/comp-engine/internal/config"
	"github.com/propscope/comp-engine/internal/flatten"
	"github.com/propscope/comp-engine/internal/model"
	"github.com/propscope/comp-engine/internal/provider"
	"github.com/propscope/comp-engine/internal/resilience"
)

// Batcher turns a validated search request into one logical fetch: the
// request is normalized, fingerprinted, looked up in the cache and, on a
// miss, paged out of the provider under a bounded retry budget. Every page
// of one request counts toward the same logical fetch.
type Batcher struct {
	searcher provider.Searcher
	cache    *Cache
	cfg      config.ProviderConfig
	retry    resilience.RetryConfig
}

// NewBatcher wires a batcher over a provider and cache.
func NewBatcher(searcher provider.Searcher, cache *Cache, cfg config.ProviderConfig) *Batcher {
	retry := resilience.DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.MaxAttempts
	}
	retry.OnRetry = resilience.RetryLogger("provider", "search")
	return &Batcher{searcher: searcher, cache: cache, cfg: cfg, retry: retry}
}

// Fetch resolves a search request to its merged property set. The boolean
// reports whether the result came from cache. Identical concurrent requests
// coalesce onto a single upstream fetch.
func (b *Batcher) Fetch(ctx context.Context, req model.SearchRequest) (*Result, bool, error) {
	if err := req.Validate(); err != nil {
		return nil, false, err
	}
	req = b.normalize(req)
	key := Fingerprint(req)

	return b.cache.GetOrFetch(ctx, key, func(ctx context.Context) (*Result, error) {
		return b.fetchAll(ctx, req, key)
	})
}

// CacheStats exposes the underlying cache counters for run metadata.
func (b *Batcher) CacheStats() CacheStats {
	return b.cache.Stats()
}

// normalize applies the default result limit and widens the field set to
// the union of the requested fields and the fields every downstream stage
// needs. One widened fetch serves ranking and classification alike instead
// of two narrow ones.
func (b *Batcher) normalize(req model.SearchRequest) model.SearchRequest {
	if req.Limit <= 0 {
		req.Limit = b.cfg.DefaultLimit
	}
	if len(req.Fields) == 0 {
		// Empty already means every attribute; nothing to widen.
		return req
	}

	seen := make(map[string]struct{}, len(req.Fields)+len(b.cfg.RequiredFields))
	union := make([]string, 0, len(req.Fields)+len(b.cfg.RequiredFields))
	for _, f := range req.Fields {
		if _, ok := seen[f]; !ok {
			seen[f] = struct{}{}
			union = append(union, f)
		}
	}
	for _, f := range b.cfg.RequiredFields {
		if _, ok := seen[f]; !ok {
			seen[f] = struct{}{}
			union = append(union, f)
		}
	}
	sort.Strings(union)
	req.Fields = union
	return req
}

// fetchAll pages through the provider until the last page, the limit or
// the page cap, whichever comes first. Each page gets its own retry budget;
// a page that exhausts it fails the whole logical fetch.
func (b *Batcher) fetchAll(ctx context.Context, req model.SearchRequest, key string) (*Result, error) {
	maxPages := b.cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 50
	}

	res := &Result{Fingerprint: key, FetchedAt: time.Now().UTC()}
	seen := make(map[string]struct{})

	for page := 0; page < maxPages; page++ {
		q := provider.Query{
			Lat:          req.Center.Lat,
			Lon:          req.Center.Lon,
			RadiusMeters: req.RadiusMeters,
			Filters:      req.Filters,
			Fields:       req.Fields,
			Limit:        req.Limit,
			Page:         page,
		}

		pg, attempts, err := resilience.DoVal(ctx, b.retry, func(ctx context.Context) (*provider.Page, error) {
			return b.searcher.Search(ctx, q)
		})
		res.NetworkCalls += attempts
		res.Retries += attempts - 1
		if err != nil {
			return nil, &RetrievalError{Fingerprint: key, Page: page, Attempts: attempts, Err: err}
		}

		for _, p := range pg.Properties {
			// Providers occasionally repeat records across page boundaries.
			if _, dup := seen[p.ID]; dup {
				continue
			}
			seen[p.ID] = struct{}{}

			attrs, err := flatten.Map(p.Attributes)
			if err != nil {
				zap.L().Warn("skipping malformed record",
					zap.String("property_id", p.ID),
					zap.Error(err),
				)
				continue
			}
			res.Properties = append(res.Properties, model.PropertyRecord{
				ID:          p.ID,
				Coordinates: model.Location{Lat: p.Lat, Lon: p.Lon},
				Attributes:  attrs,
				FetchedAt:   res.FetchedAt,
			})
		}

		if !pg.HasMore || (req.Limit > 0 && len(res.Properties) >= req.Limit) {
			break
		}
	}

	if req.Limit > 0 && len(res.Properties) > req.Limit {
		res.Properties = res.Properties[:req.Limit]
	}

	zap.L().Info("logical fetch complete",
		zap.String("fingerprint", key),
		zap.Int("properties", len(res.Properties)),
		zap.Int("network_calls", res.NetworkCalls),
		zap.Int("retries", res.Retries),
	)
	return res, nil
}
