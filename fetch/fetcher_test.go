package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shellproxy/apigw"
	"shellproxy/cache"
)

const origin = "http://app.local"

type fakePage struct {
	status  int
	body    string
	headers http.Header
}

// fakeNetwork - сеть с заранее заданными страницами, счетчиком вызовов
// и переключателем "офлайн"
type fakeNetwork struct {
	mu      sync.Mutex
	pages   map[string]fakePage
	offline bool
	gate    chan struct{}
	calls   atomic.Int32
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{pages: make(map[string]fakePage)}
}

func (n *fakeNetwork) set(path string, status int, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pages[path] = fakePage{status: status, body: body}
}

func (n *fakeNetwork) setWithHeaders(path string, status int, body string, headers http.Header) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pages[path] = fakePage{status: status, body: body, headers: headers}
}

func (n *fakeNetwork) setOffline(offline bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline = offline
}

func (n *fakeNetwork) Fetch(ctx context.Context, req *apigw.Request) (*apigw.Response, error) {
	n.calls.Add(1)
	if n.gate != nil {
		select {
		case <-n.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.offline {
		return nil, errors.New("dial tcp: connection refused")
	}
	page, ok := n.pages[req.URL.Path]
	if !ok {
		page = fakePage{status: http.StatusNotFound, body: "not found"}
	}
	headers := http.Header{"Content-Type": []string{"text/html"}}
	for k, v := range page.headers {
		headers[k] = v
	}
	return &apigw.Response{
		StatusCode: page.status,
		Headers:    headers,
		Body:       io.NopCloser(strings.NewReader(page.body)),
	}, nil
}

type fixture struct {
	network *fakeNetwork
	manager *cache.Manager
	names   cache.PartitionNames
	fetcher *Fetcher
	ctx     context.Context
	t       *testing.T
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithStore(t, cache.NewMemoryStore())
}

func newFixtureWithStore(t *testing.T, store cache.Store) *fixture {
	t.Helper()
	ctx := context.Background()
	manager, err := cache.NewManager(ctx, store)
	require.NoError(t, err)

	network := newFakeNetwork()
	names := cache.DefaultPartitionNames()
	return &fixture{
		network: network,
		manager: manager,
		names:   names,
		fetcher: NewFetcher(network, manager, names, DefaultConfig()),
		ctx:     ctx,
		t:       t,
	}
}

func (fx *fixture) request(path string) *apigw.Request {
	req, err := apigw.NewRequest(fx.ctx, origin+path)
	require.NoError(fx.t, err)
	return req
}

func (fx *fixture) seed(partition, path, body string) {
	p, err := fx.manager.Open(fx.ctx, partition)
	require.NoError(fx.t, err)
	key := origin + path
	require.NoError(fx.t, p.Put(fx.ctx, key, &cache.Entry{
		Key:        key,
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": []string{"text/html"}},
		Body:       []byte(body),
	}))
}

func (fx *fixture) cached(partition, path string) (string, bool) {
	p, err := fx.manager.Open(fx.ctx, partition)
	require.NoError(fx.t, err)
	entry, err := p.Match(fx.ctx, origin+path)
	if err != nil {
		return "", false
	}
	return string(entry.Body), true
}

func (fx *fixture) drain() {
	ctx, cancel := context.WithTimeout(fx.ctx, 5*time.Second)
	defer cancel()
	require.NoError(fx.t, fx.fetcher.Drain(ctx))
}

func body(t *testing.T, resp *apigw.Response) string {
	t.Helper()
	require.NotNil(t, resp.Body)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func TestCacheFirst_HitMakesNoNetworkCall(t *testing.T) {
	fx := newFixture(t)
	fx.seed(fx.names.Static, "/app.js", "cached-js")
	fx.network.set("/app.js", http.StatusOK, "fresh-js")

	resp := fx.fetcher.CacheFirst(fx.ctx, fx.request("/app.js"), fx.names.Static)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, apigw.SourceCache, resp.Source)
	assert.Equal(t, "cached-js", body(t, resp))
	assert.Equal(t, int32(0), fx.network.calls.Load())
}

func TestCacheFirst_MissStoresNetworkResponse(t *testing.T) {
	fx := newFixture(t)
	fx.network.set("/logo.png", http.StatusOK, "png-bytes")

	resp := fx.fetcher.CacheFirst(fx.ctx, fx.request("/logo.png"), fx.names.Static)
	assert.Equal(t, apigw.SourceNetwork, resp.Source)
	assert.Equal(t, "png-bytes", body(t, resp))

	stored, ok := fx.cached(fx.names.Static, "/logo.png")
	require.True(t, ok)
	assert.Equal(t, "png-bytes", stored)

	// Второй запрос уже из кэша
	resp = fx.fetcher.CacheFirst(fx.ctx, fx.request("/logo.png"), fx.names.Static)
	assert.Equal(t, apigw.SourceCache, resp.Source)
	assert.Equal(t, int32(1), fx.network.calls.Load())
}

func TestCacheFirst_OnlyLooksInGivenPartition(t *testing.T) {
	fx := newFixture(t)
	fx.seed(fx.names.Primary, "/gymmatrix-logo.png", "shell-logo")
	fx.network.set("/gymmatrix-logo.png", http.StatusOK, "network-logo")

	resp := fx.fetcher.CacheFirst(fx.ctx, fx.request("/gymmatrix-logo.png"), fx.names.Static)

	assert.Equal(t, "network-logo", body(t, resp))
	assert.Equal(t, int32(1), fx.network.calls.Load())
}

func TestCacheFirst_OfflineMiss(t *testing.T) {
	fx := newFixture(t)
	fx.network.setOffline(true)

	resp := fx.fetcher.CacheFirst(fx.ctx, fx.request("/app.css"), fx.names.Static)

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, apigw.SourceSynthetic, resp.Source)
	assert.Equal(t, "Offline", body(t, resp))
}

func TestCacheFirst_ErrorStatusIsNotCached(t *testing.T) {
	fx := newFixture(t)

	resp := fx.fetcher.CacheFirst(fx.ctx, fx.request("/missing.js"), fx.names.Static)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not found", body(t, resp))
	_, ok := fx.cached(fx.names.Static, "/missing.js")
	assert.False(t, ok)
}

func TestStrategies_PartialContentIsNotCached(t *testing.T) {
	fx := newFixture(t)
	fx.network.set("/font.woff2", http.StatusPartialContent, "first-100-bytes")

	ranged := fx.request("/font.woff2")
	ranged.Headers.Set("Range", "bytes=0-99")
	resp := fx.fetcher.CacheFirst(fx.ctx, ranged, fx.names.Static)
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "first-100-bytes", body(t, resp))

	_, ok := fx.cached(fx.names.Static, "/font.woff2")
	assert.False(t, ok)

	// Обычный запрос после ranged идет в сеть за полным ресурсом
	fx.network.set("/font.woff2", http.StatusOK, "whole-font")
	resp = fx.fetcher.CacheFirst(fx.ctx, fx.request("/font.woff2"), fx.names.Static)
	assert.Equal(t, apigw.SourceNetwork, resp.Source)
	assert.Equal(t, "whole-font", body(t, resp))
	assert.Equal(t, int32(2), fx.network.calls.Load())

	fx.network.set("/video.mp4", http.StatusPartialContent, "chunk")
	resp = fx.fetcher.StaleWhileRevalidate(fx.ctx, fx.request("/video.mp4"))
	assert.Equal(t, "chunk", body(t, resp))
	_, ok = fx.cached(fx.names.Dynamic, "/video.mp4")
	assert.False(t, ok)

	fx.network.set("/api/partial", http.StatusPartialContent, "part")
	resp = fx.fetcher.NetworkFirst(fx.ctx, fx.request("/api/partial"))
	assert.Equal(t, "part", body(t, resp))
	_, ok = fx.cached(fx.names.Dynamic, "/api/partial")
	assert.False(t, ok)
}

func TestStrategies_VaryStarIsNotCached(t *testing.T) {
	for _, vary := range []string{"*", "Accept-Encoding, *"} {
		t.Run(vary, func(t *testing.T) {
			fx := newFixture(t)
			fx.network.setWithHeaders("/app.js", http.StatusOK, "js", http.Header{"Vary": []string{vary}})

			resp := fx.fetcher.CacheFirst(fx.ctx, fx.request("/app.js"), fx.names.Static)
			assert.Equal(t, "js", body(t, resp))

			_, ok := fx.cached(fx.names.Static, "/app.js")
			assert.False(t, ok)
		})
	}

	fx := newFixture(t)
	fx.network.setWithHeaders("/app.css", http.StatusOK, "css", http.Header{"Vary": []string{"Accept-Encoding"}})
	fx.fetcher.CacheFirst(fx.ctx, fx.request("/app.css"), fx.names.Static).Discard()
	_, ok := fx.cached(fx.names.Static, "/app.css")
	assert.True(t, ok)
}

func TestNetworkFirst_SuccessWritesDynamic(t *testing.T) {
	fx := newFixture(t)
	fx.network.set("/api/workouts", http.StatusOK, `[{"id":1}]`)

	resp := fx.fetcher.NetworkFirst(fx.ctx, fx.request("/api/workouts"))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `[{"id":1}]`, body(t, resp))
	stored, ok := fx.cached(fx.names.Dynamic, "/api/workouts")
	require.True(t, ok)
	assert.Equal(t, `[{"id":1}]`, stored)
}

func TestNetworkFirst_OfflineWithoutCache(t *testing.T) {
	fx := newFixture(t)
	fx.network.setOffline(true)

	resp := fx.fetcher.NetworkFirst(fx.ctx, fx.request("/api/workouts"))

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Headers.Get("Content-Type"))
	assert.JSONEq(t, `{"error":"Offline"}`, body(t, resp))
}

func TestNetworkFirst_OfflineFallsBackToAnyPartition(t *testing.T) {
	fx := newFixture(t)
	fx.seed(fx.names.Primary, "/manifest.json", `{"name":"GymMatrix"}`)
	fx.network.setOffline(true)

	resp := fx.fetcher.NetworkFirst(fx.ctx, fx.request("/manifest.json"))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, apigw.SourceCache, resp.Source)
	assert.Equal(t, `{"name":"GymMatrix"}`, body(t, resp))
}

func TestNetworkFirst_ErrorStatus(t *testing.T) {
	t.Run("falls back to cache", func(t *testing.T) {
		fx := newFixture(t)
		fx.seed(fx.names.Dynamic, "/api/plan", "cached-plan")
		fx.network.set("/api/plan", http.StatusInternalServerError, "boom")

		resp := fx.fetcher.NetworkFirst(fx.ctx, fx.request("/api/plan"))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "cached-plan", body(t, resp))
	})

	t.Run("passes status through on miss", func(t *testing.T) {
		fx := newFixture(t)
		fx.network.set("/api/plan", http.StatusInternalServerError, "boom")

		resp := fx.fetcher.NetworkFirst(fx.ctx, fx.request("/api/plan"))
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, "boom", body(t, resp))
		_, ok := fx.cached(fx.names.Dynamic, "/api/plan")
		assert.False(t, ok)
	})
}

func TestStaleWhileRevalidate_ServesCachedAndRefreshesOnce(t *testing.T) {
	fx := newFixture(t)
	fx.seed(fx.names.Dynamic, "/feed", "stale")
	fx.network.set("/feed", http.StatusOK, "fresh")
	fx.network.gate = make(chan struct{})

	resp := fx.fetcher.StaleWhileRevalidate(fx.ctx, fx.request("/feed"))

	// Ответ получен, пока сеть еще заблокирована
	assert.Equal(t, apigw.SourceCache, resp.Source)
	assert.Equal(t, "stale", body(t, resp))

	close(fx.network.gate)
	fx.drain()

	assert.Equal(t, int32(1), fx.network.calls.Load())
	stored, ok := fx.cached(fx.names.Dynamic, "/feed")
	require.True(t, ok)
	assert.Equal(t, "fresh", stored)
}

func TestStaleWhileRevalidate_ConcurrentHitsShareRefresh(t *testing.T) {
	fx := newFixture(t)
	fx.seed(fx.names.Dynamic, "/feed", "stale")
	fx.network.set("/feed", http.StatusOK, "fresh")
	fx.network.gate = make(chan struct{})

	for i := 0; i < 3; i++ {
		resp := fx.fetcher.StaleWhileRevalidate(fx.ctx, fx.request("/feed"))
		assert.Equal(t, "stale", body(t, resp))
	}

	// Первое обновление висит на gate, остальные должны к нему присоединиться
	require.Eventually(t, func() bool { return fx.network.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(fx.network.gate)
	fx.drain()

	assert.Equal(t, int32(1), fx.network.calls.Load())
}

func TestStaleWhileRevalidate_BackgroundFailureIsSwallowed(t *testing.T) {
	fx := newFixture(t)
	fx.seed(fx.names.Dynamic, "/feed", "stale")
	fx.network.setOffline(true)

	resp := fx.fetcher.StaleWhileRevalidate(fx.ctx, fx.request("/feed"))
	assert.Equal(t, "stale", body(t, resp))

	fx.drain()
	assert.Equal(t, int32(1), fx.network.calls.Load())
	stored, _ := fx.cached(fx.names.Dynamic, "/feed")
	assert.Equal(t, "stale", stored)
}

func TestStaleWhileRevalidate_SurvivesCallerCancellation(t *testing.T) {
	fx := newFixture(t)
	fx.seed(fx.names.Dynamic, "/feed", "stale")
	fx.network.set("/feed", http.StatusOK, "fresh")
	fx.network.gate = make(chan struct{})

	ctx, cancel := context.WithCancel(fx.ctx)
	req := fx.request("/feed").WithContext(ctx)
	resp := fx.fetcher.StaleWhileRevalidate(ctx, req)
	assert.Equal(t, "stale", body(t, resp))

	cancel()
	close(fx.network.gate)
	fx.drain()

	stored, _ := fx.cached(fx.names.Dynamic, "/feed")
	assert.Equal(t, "fresh", stored)
}

func TestStaleWhileRevalidate_NoCache(t *testing.T) {
	t.Run("waits for network", func(t *testing.T) {
		fx := newFixture(t)
		fx.network.set("/feed", http.StatusOK, "fresh")

		resp := fx.fetcher.StaleWhileRevalidate(fx.ctx, fx.request("/feed"))
		assert.Equal(t, apigw.SourceNetwork, resp.Source)
		assert.Equal(t, "fresh", body(t, resp))

		stored, ok := fx.cached(fx.names.Dynamic, "/feed")
		require.True(t, ok)
		assert.Equal(t, "fresh", stored)
	})

	t.Run("caller observes network failure", func(t *testing.T) {
		fx := newFixture(t)
		fx.network.setOffline(true)

		resp := fx.fetcher.StaleWhileRevalidate(fx.ctx, fx.request("/feed"))
		require.Error(t, resp.Error)
		assert.False(t, resp.OK())
	})
}

func TestNavigation_SuccessWritesPrimary(t *testing.T) {
	fx := newFixture(t)
	fx.network.set("/diet", http.StatusOK, "<html>diet</html>")

	resp := fx.fetcher.Navigation(fx.ctx, fx.request("/diet"))

	assert.Equal(t, "<html>diet</html>", body(t, resp))
	stored, ok := fx.cached(fx.names.Primary, "/diet")
	require.True(t, ok)
	assert.Equal(t, "<html>diet</html>", stored)
}

func TestNavigation_FallbackChain(t *testing.T) {
	tests := []struct {
		name     string
		seed     map[string]string
		wantCode int
		wantBody string
	}{
		{
			name:     "exact entry",
			seed:     map[string]string{"/workout": "workout-page", "/": "root-shell"},
			wantCode: http.StatusOK,
			wantBody: "workout-page",
		},
		{
			name:     "root shell",
			seed:     map[string]string{"/": "root-shell", "/offline.html": "offline-page"},
			wantCode: http.StatusOK,
			wantBody: "root-shell",
		},
		{
			name:     "offline placeholder",
			seed:     map[string]string{"/offline.html": "offline-page"},
			wantCode: http.StatusOK,
			wantBody: "offline-page",
		},
		{
			name:     "synthetic",
			wantCode: http.StatusServiceUnavailable,
			wantBody: "Offline",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			for path, content := range tt.seed {
				fx.seed(fx.names.Primary, path, content)
			}
			fx.network.setOffline(true)

			resp := fx.fetcher.Navigation(fx.ctx, fx.request("/workout"))

			assert.Equal(t, tt.wantCode, resp.StatusCode)
			assert.Equal(t, tt.wantBody, body(t, resp))
		})
	}
}

func TestNavigation_ErrorStatusWalksChain(t *testing.T) {
	fx := newFixture(t)
	fx.seed(fx.names.Primary, "/", "root-shell")
	fx.network.set("/profile", http.StatusBadGateway, "upstream down")

	resp := fx.fetcher.Navigation(fx.ctx, fx.request("/profile"))

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "root-shell", body(t, resp))
	_, ok := fx.cached(fx.names.Primary, "/profile")
	assert.False(t, ok)
}

// brokenStore отказывает на каждой записи
type brokenStore struct {
	*cache.MemoryStore
}

func (b brokenStore) Put(ctx context.Context, partition, key string, entry *cache.Entry) error {
	return errors.New("quota exceeded")
}

func TestStrategies_WriteFailureDoesNotChangeOutcome(t *testing.T) {
	fx := newFixtureWithStore(t, brokenStore{cache.NewMemoryStore()})
	fx.network.set("/api/sets", http.StatusOK, "sets")
	fx.network.set("/app.js", http.StatusOK, "js")

	resp := fx.fetcher.NetworkFirst(fx.ctx, fx.request("/api/sets"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "sets", body(t, resp))

	resp = fx.fetcher.CacheFirst(fx.ctx, fx.request("/app.js"), fx.names.Static)
	assert.Equal(t, "js", body(t, resp))
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, (&Config{RootPath: "", OfflinePath: "/offline.html"}).Validate())
	assert.Error(t, (&Config{RootPath: "/", OfflinePath: "offline.html"}).Validate())
}
