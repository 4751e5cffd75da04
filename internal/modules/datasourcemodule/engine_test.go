package datasourcemodule

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabrica-io/fabrica/internal/config"
	"github.com/fabrica-io/fabrica/internal/pagetree"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := &config.DataSourceConfig{
		DefaultTTL:   time.Minute,
		FetchTimeout: 2 * time.Second,
	}
	return NewEngine(cfg, nil, hclog.NewNullLogger())
}

func TestFetchStatic(t *testing.T) {
	e := testEngine(t)
	value, err := e.Fetch(context.Background(), "greeting", pagetree.DataSourceConfig{
		Type:       pagetree.SourceStatic,
		StaticData: map[string]any{"text": "hello"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": "hello"}, value)
}

func TestFetchContext(t *testing.T) {
	e := testEngine(t)
	reqCtx := map[string]any{
		"user": map[string]any{"name": "Ada"},
	}
	value, err := e.Fetch(context.Background(), "who", pagetree.DataSourceConfig{
		Type:       pagetree.SourceContext,
		ContextKey: "user.name",
	}, reqCtx)
	require.NoError(t, err)
	assert.Equal(t, "Ada", value)

	// A missing context key resolves to nil, not an error.
	value, err = e.Fetch(context.Background(), "who", pagetree.DataSourceConfig{
		Type:       pagetree.SourceContext,
		ContextKey: "user.missing",
	}, reqCtx)
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestFetchAPIWithMappingAndCache(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":{"name":"  widget  ","price":"19.5"}}`))
	}))
	defer srv.Close()

	e := testEngine(t)
	cfg := pagetree.DataSourceConfig{
		Type:     pagetree.SourceAPI,
		Endpoint: srv.URL,
		CacheKey: "product",
		Headers:  map[string]string{"Authorization": "Bearer token-1"},
		Mapping: map[string]pagetree.FieldMapping{
			"name":  {Path: "result.name", Transform: "trim"},
			"price": {Path: "result.price", Transform: "number"},
			"stock": {Path: "result.stock", Fallback: float64(0)},
		},
	}

	value, err := e.Fetch(context.Background(), "product", cfg, nil)
	require.NoError(t, err)
	mapped, ok := value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "widget", mapped["name"])
	assert.Equal(t, 19.5, mapped["price"])
	assert.Equal(t, float64(0), mapped["stock"], "missing path takes the fallback")

	// Second fetch is served from cache.
	_, err = e.Fetch(context.Background(), "product", cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	e.InvalidateKey("product")
	_, err = e.Fetch(context.Background(), "product", cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestFetchWithoutCacheKeyRefetches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"q":"` + r.URL.Query().Get("q") + `"}`))
	}))
	defer srv.Close()

	e := testEngine(t)
	cfg := pagetree.DataSourceConfig{Type: pagetree.SourceAPI, Endpoint: srv.URL}

	first, err := e.Fetch(context.Background(), "search", cfg, map[string]any{"q": "alpha"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"q": "alpha"}, first)

	// No cacheKey, so a second call with different parameters reaches the
	// server instead of replaying the first payload.
	second, err := e.Fetch(context.Background(), "search", cfg, map[string]any{"q": "beta"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"q": "beta"}, second)
}

func TestFetchAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	e := testEngine(t)
	_, err := e.Fetch(context.Background(), "down", pagetree.DataSourceConfig{
		Type:     pagetree.SourceAPI,
		Endpoint: srv.URL,
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	var serr *StatusError
	require.True(t, errors.As(err, &serr), "non-2xx responses carry the upstream code")
	assert.Equal(t, http.StatusBadGateway, serr.Code)

	_, err = e.Fetch(context.Background(), "bad", pagetree.DataSourceConfig{Type: pagetree.SourceAPI}, nil)
	assert.Error(t, err, "config validation runs before the fetch")
}

func TestFetchAPIMergesRequestParams(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	e := testEngine(t)
	_, err := e.Fetch(context.Background(), "q", pagetree.DataSourceConfig{
		Type:     pagetree.SourceAPI,
		Endpoint: srv.URL + "?fixed=1",
	}, map[string]any{
		"page":    float64(2),
		"sort":    "name",
		"filters": map[string]any{"a": 1},
	})
	require.NoError(t, err)
	assert.Equal(t, "1", got.Get("fixed"))
	assert.Equal(t, "2", got.Get("page"))
	assert.Equal(t, "name", got.Get("sort"))
	assert.False(t, got.Has("filters"), "structured values stay out of the URL")
}

func TestFetchAllSettlesPartialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok" {
			w.Write([]byte(`[1,2,3]`))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := testEngine(t)
	result := e.FetchAll(context.Background(), map[string]pagetree.DataSourceConfig{
		"numbers": {Type: pagetree.SourceAPI, Endpoint: srv.URL + "/ok"},
		"broken":  {Type: pagetree.SourceAPI, Endpoint: srv.URL + "/boom"},
		"inline":  {Type: pagetree.SourceStatic, StaticData: "x"},
	}, nil)

	assert.Equal(t, []any{float64(1), float64(2), float64(3)}, result.Data["numbers"])
	assert.Equal(t, "x", result.Data["inline"])
	require.Contains(t, result.Errors, "broken")

	// Data and errors never overlap.
	_, inData := result.Data["broken"]
	assert.False(t, inData)
}

func TestCacheTTLExpiry(t *testing.T) {
	cache := newTTLCache()
	cache.Set("k", "v", 30*time.Millisecond)
	v, ok := cache.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	time.Sleep(50 * time.Millisecond)
	_, ok = cache.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

func TestTransforms(t *testing.T) {
	tests := []struct {
		transform string
		in        any
		want      any
	}{
		{"uppercase", "abc", "ABC"},
		{"lowercase", "ABC", "abc"},
		{"trim", " x ", "x"},
		{"number", "2.5", 2.5},
		{"number", true, float64(1)},
		{"integer", "7.9", float64(7)},
		{"boolean", "yes", true},
		{"boolean", float64(0), false},
		{"string", float64(2), "2"},
		{"no-such-transform", "raw", "raw"},
		{"uppercase", float64(3), float64(3)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, applyTransform(tt.in, tt.transform),
			"transform %s on %v", tt.transform, tt.in)
	}
}
