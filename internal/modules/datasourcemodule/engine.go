package datasourcemodule

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/fabrica-io/fabrica/internal/config"
	"github.com/fabrica-io/fabrica/internal/pagetree"
	"github.com/fabrica-io/fabrica/internal/template"
)

// maxResponseBytes caps remote payloads so a runaway endpoint cannot
// exhaust memory.
const maxResponseBytes = 8 << 20

// StatusError reports a non-2xx upstream response. The probe and
// single-source endpoints surface the upstream code in their result.
type StatusError struct {
	Endpoint string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetching %s: unexpected status %d", e.Endpoint, e.Code)
}

// Engine fetches data sources and aggregates per-page results.
type Engine struct {
	client *http.Client
	cache  *ttlCache
	cfg    *config.DataSourceConfig
	logger hclog.Logger
}

// NewEngine creates the engine; client may be nil for the default.
func NewEngine(cfg *config.DataSourceConfig, client *http.Client, logger hclog.Logger) *Engine {
	if client == nil {
		client = &http.Client{Timeout: cfg.FetchTimeout}
	}
	return &Engine{
		client: client,
		cache:  newTTLCache(),
		cfg:    cfg,
		logger: logger.Named("datasource"),
	}
}

// Fetch resolves one data source: cache, then the type-specific fetch,
// then field mapping. requestContext backs CONTEXT sources.
func (e *Engine) Fetch(ctx context.Context, key string, cfg pagetree.DataSourceConfig, requestContext map[string]any) (any, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Caching is opt-in: only API sources that name a cacheKey are stored.
	// Sources without one refetch every time, so request parameters merged
	// into the query never leak between calls.
	cacheable := cfg.Type == pagetree.SourceAPI && cfg.CacheKey != ""
	if cacheable {
		if v, ok := e.cache.Get(cfg.CacheKey); ok {
			return v, nil
		}
	}

	var (
		raw any
		err error
	)
	switch cfg.Type {
	case pagetree.SourceStatic:
		raw = cfg.StaticData
	case pagetree.SourceContext:
		raw = template.NavigatePath(asAny(requestContext), cfg.ContextKey)
	case pagetree.SourceAPI:
		raw, err = e.fetchAPI(ctx, cfg, requestContext)
	}
	if err != nil {
		return nil, err
	}

	mapped := ApplyMapping(raw, cfg.Mapping)
	if cacheable {
		ttl := e.cfg.DefaultTTL
		if cfg.CacheTTLMs > 0 {
			ttl = time.Duration(cfg.CacheTTLMs) * time.Millisecond
		}
		e.cache.Set(cfg.CacheKey, mapped, ttl)
	}
	return mapped, nil
}

func asAny(m map[string]any) any {
	if m == nil {
		return nil
	}
	return m
}

func (e *Engine) fetchAPI(ctx context.Context, cfg pagetree.DataSourceConfig, requestContext map[string]any) (any, error) {
	method := cfg.Method
	if method == "" {
		method = http.MethodGet
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, cfg.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", cfg.Endpoint, err)
	}
	if q := mergeQuery(req.URL.Query(), requestContext); len(q) > 0 {
		req.URL.RawQuery = q.Encode()
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", cfg.Endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Endpoint: cfg.Endpoint, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", cfg.Endpoint, err)
	}
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", cfg.Endpoint, err)
	}
	return data, nil
}

// mergeQuery folds scalar request parameters into the endpoint query so
// callers can parameterize API sources. Structured values stay out of the
// URL.
func mergeQuery(q url.Values, requestContext map[string]any) url.Values {
	for k, v := range requestContext {
		switch tv := v.(type) {
		case string:
			q.Set(k, tv)
		case float64:
			q.Set(k, strconv.FormatFloat(tv, 'f', -1, 64))
		case int:
			q.Set(k, strconv.Itoa(tv))
		case bool:
			q.Set(k, strconv.FormatBool(tv))
		}
	}
	return q
}

// FetchResult carries the outcome of a multi-source fetch. Data and Errors
// are disjoint: a key appears in exactly one of them.
type FetchResult struct {
	Data   map[string]any    `json:"data"`
	Errors map[string]string `json:"errors,omitempty"`
}

// FetchAll resolves every source in parallel and settles all of them: one
// failing source lands in Errors while the rest still deliver. Cancellation
// of ctx aborts the in-flight fetches.
func (e *Engine) FetchAll(ctx context.Context, configs map[string]pagetree.DataSourceConfig, requestContext map[string]any) FetchResult {
	result := FetchResult{
		Data:   make(map[string]any, len(configs)),
		Errors: make(map[string]string),
	}
	if len(configs) == 0 {
		return result
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for key, cfg := range configs {
		wg.Add(1)
		go func(key string, cfg pagetree.DataSourceConfig) {
			defer wg.Done()
			value, err := e.Fetch(ctx, key, cfg, requestContext)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.logger.Warn("data source failed", "key", key, "error", err)
				result.Errors[key] = err.Error()
				return
			}
			result.Data[key] = value
		}(key, cfg)
	}
	wg.Wait()

	if len(result.Errors) == 0 {
		result.Errors = nil
	}
	return result
}

// Probe fetches a config without touching the cache, for the admin "test
// this source" endpoint.
func (e *Engine) Probe(ctx context.Context, cfg pagetree.DataSourceConfig, requestContext map[string]any) (any, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case pagetree.SourceStatic:
		return ApplyMapping(cfg.StaticData, cfg.Mapping), nil
	case pagetree.SourceContext:
		return ApplyMapping(template.NavigatePath(asAny(requestContext), cfg.ContextKey), cfg.Mapping), nil
	default:
		raw, err := e.fetchAPI(ctx, cfg, requestContext)
		if err != nil {
			return nil, err
		}
		return ApplyMapping(raw, cfg.Mapping), nil
	}
}

// InvalidateKey drops one cache entry; Invalidate drops them all.
func (e *Engine) InvalidateKey(key string) { e.cache.ClearKey(key) }
func (e *Engine) Invalidate()              { e.cache.Clear() }

// CacheSize reports the live entry count for the system status endpoint.
func (e *Engine) CacheSize() int { return e.cache.Len() }
