package lifecycle

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shellproxy/apigw"
	"shellproxy/cache"
)

const origin = "http://app.local"

// shellNetwork отдает тело "page:<путь>" для любого пути, кроме перечисленных в failing
type shellNetwork struct {
	mu      sync.Mutex
	failing map[string]int // путь -> код ответа; 0 - сетевая ошибка
	fetched []string
}

func (n *shellNetwork) Fetch(ctx context.Context, req *apigw.Request) (*apigw.Response, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	path := req.URL.Path
	n.fetched = append(n.fetched, path)
	if status, ok := n.failing[path]; ok {
		if status == 0 {
			return nil, errors.New("connection reset by peer")
		}
		return &apigw.Response{StatusCode: status, Headers: make(http.Header), Body: io.NopCloser(strings.NewReader("error"))}, nil
	}
	return &apigw.Response{
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": []string{"text/html"}},
		Body:       io.NopCloser(strings.NewReader("page:" + path)),
	}, nil
}

// flakyStore отказывает на записи одного ключа
type flakyStore struct {
	*cache.MemoryStore
	failKey string
}

func (f *flakyStore) Put(ctx context.Context, partition, key string, entry *cache.Entry) error {
	if key == f.failKey {
		return errors.New("quota exceeded")
	}
	return f.MemoryStore.Put(ctx, partition, key, entry)
}

type fixture struct {
	ctx        context.Context
	network    *shellNetwork
	partitions *cache.Manager
	names      cache.PartitionNames
	controller *Controller
}

func newFixture(t *testing.T, config *Config, store cache.Store) *fixture {
	t.Helper()
	ctx := context.Background()
	if store == nil {
		store = cache.NewMemoryStore()
	}
	partitions, err := cache.NewManager(ctx, store)
	require.NoError(t, err)

	network := &shellNetwork{failing: make(map[string]int)}
	names := cache.DefaultPartitionNames()
	controller, err := NewController(config, origin, network, partitions, names)
	require.NoError(t, err)

	return &fixture{ctx: ctx, network: network, partitions: partitions, names: names, controller: controller}
}

func (fx *fixture) primaryBody(t *testing.T, path string) (string, bool) {
	t.Helper()
	entry, err := fx.partitions.Match(fx.ctx, origin+path)
	if errors.Is(err, cache.ErrNotFound) {
		return "", false
	}
	require.NoError(t, err)
	return string(entry.Body), true
}

func (fx *fixture) partitionNames(t *testing.T) []string {
	t.Helper()
	names, err := fx.partitions.Names(fx.ctx)
	require.NoError(t, err)
	return names
}

func shellConfig(paths ...string) *Config {
	cfg := DefaultConfig()
	cfg.Shell = paths
	return cfg
}

func TestInstall_PrewarmsShell(t *testing.T) {
	fx := newFixture(t, nil, nil)

	require.NoError(t, fx.controller.Install(fx.ctx))

	assert.Equal(t, StateInstalled, fx.controller.State())
	assert.True(t, fx.controller.ShouldActivate())
	assert.False(t, fx.controller.Controlling())

	for _, path := range DefaultShell() {
		body, ok := fx.primaryBody(t, path)
		require.True(t, ok, path)
		assert.Equal(t, "page:"+path, body)
	}

	p, err := fx.partitions.Open(fx.ctx, fx.names.Primary)
	require.NoError(t, err)
	count, err := p.Count(fx.ctx)
	require.NoError(t, err)
	assert.Equal(t, len(DefaultShell()), count)
}

func TestInstall_FailedResourceLeavesNoPartition(t *testing.T) {
	for name, status := range map[string]int{"network error": 0, "not found": http.StatusNotFound} {
		t.Run(name, func(t *testing.T) {
			fx := newFixture(t, shellConfig("/", "/offline.html"), nil)
			fx.network.failing["/offline.html"] = status

			err := fx.controller.Install(fx.ctx)

			require.ErrorIs(t, err, ErrInstallFailed)
			assert.Equal(t, StateRedundant, fx.controller.State())
			assert.NotContains(t, fx.partitionNames(t), fx.names.Primary)
			_, ok := fx.primaryBody(t, "/")
			assert.False(t, ok)
		})
	}
}

func TestInstall_FailedResourceKeepsPreviousPrimary(t *testing.T) {
	fx := newFixture(t, shellConfig("/", "/offline.html"), nil)
	p, err := fx.partitions.Open(fx.ctx, fx.names.Primary)
	require.NoError(t, err)
	require.NoError(t, p.Put(fx.ctx, origin+"/", &cache.Entry{Key: origin + "/", StatusCode: 200, Body: []byte("old-root")}))
	fx.network.failing["/offline.html"] = http.StatusInternalServerError

	require.ErrorIs(t, fx.controller.Install(fx.ctx), ErrInstallFailed)

	body, ok := fx.primaryBody(t, "/")
	require.True(t, ok)
	assert.Equal(t, "old-root", body)
}

func TestInstall_StoreFailureRollsBack(t *testing.T) {
	t.Run("new partition is removed", func(t *testing.T) {
		store := &flakyStore{MemoryStore: cache.NewMemoryStore(), failKey: origin + "/offline.html"}
		fx := newFixture(t, shellConfig("/", "/workout", "/offline.html"), store)

		require.ErrorIs(t, fx.controller.Install(fx.ctx), ErrInstallFailed)
		assert.NotContains(t, fx.partitionNames(t), fx.names.Primary)
	})

	t.Run("existing partition is restored", func(t *testing.T) {
		store := &flakyStore{MemoryStore: cache.NewMemoryStore(), failKey: origin + "/offline.html"}
		fx := newFixture(t, shellConfig("/", "/workout", "/offline.html"), store)
		p, err := fx.partitions.Open(fx.ctx, fx.names.Primary)
		require.NoError(t, err)
		require.NoError(t, p.Put(fx.ctx, origin+"/", &cache.Entry{Key: origin + "/", StatusCode: 200, Body: []byte("old-root")}))

		require.ErrorIs(t, fx.controller.Install(fx.ctx), ErrInstallFailed)

		body, ok := fx.primaryBody(t, "/")
		require.True(t, ok)
		assert.Equal(t, "old-root", body)
		_, ok = fx.primaryBody(t, "/workout")
		assert.False(t, ok)
	})
}

func TestInstall_RetryAfterFailure(t *testing.T) {
	fx := newFixture(t, shellConfig("/", "/offline.html"), nil)
	fx.network.failing["/offline.html"] = 0
	require.Error(t, fx.controller.Install(fx.ctx))

	delete(fx.network.failing, "/offline.html")
	require.NoError(t, fx.controller.Install(fx.ctx))
	assert.Equal(t, StateInstalled, fx.controller.State())

	// Повторная установка уже установленного контроллера запрещена
	assert.ErrorIs(t, fx.controller.Install(fx.ctx), ErrInvalidTransition)
}

func TestActivate_SweepsObsoletePartitions(t *testing.T) {
	fx := newFixture(t, shellConfig("/"), nil)
	for _, name := range []string{"legacy-v0", fx.names.Static, fx.names.Dynamic} {
		_, err := fx.partitions.Open(fx.ctx, name)
		require.NoError(t, err)
	}
	require.NoError(t, fx.controller.Install(fx.ctx))

	require.NoError(t, fx.controller.Activate(fx.ctx))

	assert.ElementsMatch(t, []string{fx.names.Primary, fx.names.Static, fx.names.Dynamic}, fx.partitionNames(t))
	assert.Equal(t, StateActive, fx.controller.State())
	assert.True(t, fx.controller.Controlling())
}

func TestActivate_RequiresInstall(t *testing.T) {
	fx := newFixture(t, nil, nil)

	assert.ErrorIs(t, fx.controller.Activate(fx.ctx), ErrInvalidTransition)
	assert.False(t, fx.controller.Controlling())
}

func TestControl_ForceActivate(t *testing.T) {
	t.Run("installed and waiting", func(t *testing.T) {
		cfg := shellConfig("/")
		cfg.SkipWaiting = false
		fx := newFixture(t, cfg, nil)
		require.NoError(t, fx.controller.Install(fx.ctx))
		assert.False(t, fx.controller.ShouldActivate())

		fx.controller.Control(fx.ctx, CommandForceActivate)

		assert.Equal(t, StateActive, fx.controller.State())
		assert.True(t, fx.controller.Controlling())
	})

	t.Run("before install", func(t *testing.T) {
		cfg := shellConfig("/")
		cfg.SkipWaiting = false
		fx := newFixture(t, cfg, nil)

		fx.controller.Control(fx.ctx, CommandForceActivate)
		assert.Equal(t, StateParsed, fx.controller.State())

		require.NoError(t, fx.controller.Install(fx.ctx))
		assert.True(t, fx.controller.ShouldActivate())
	})

	t.Run("already active", func(t *testing.T) {
		fx := newFixture(t, shellConfig("/"), nil)
		require.NoError(t, fx.controller.Install(fx.ctx))
		require.NoError(t, fx.controller.Activate(fx.ctx))

		fx.controller.Control(fx.ctx, CommandForceActivate)
		assert.Equal(t, StateActive, fx.controller.State())
	})
}

func TestControl_ClearAllCaches(t *testing.T) {
	fx := newFixture(t, shellConfig("/"), nil)
	require.NoError(t, fx.controller.Install(fx.ctx))
	_, err := fx.partitions.Open(fx.ctx, fx.names.Dynamic)
	require.NoError(t, err)

	fx.controller.Control(fx.ctx, CommandClearAllCaches)

	assert.Empty(t, fx.partitionNames(t))
	_, ok := fx.primaryBody(t, "/")
	assert.False(t, ok)
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand("SKIP_WAITING")
	require.NoError(t, err)
	assert.Equal(t, CommandForceActivate, cmd)

	cmd, err = ParseCommand("CLEAR_CACHE")
	require.NoError(t, err)
	assert.Equal(t, CommandClearAllCaches, cmd)

	_, err = ParseCommand("RELOAD")
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestNewController_InvalidOrigin(t *testing.T) {
	partitions, err := cache.NewManager(context.Background(), cache.NewMemoryStore())
	require.NoError(t, err)

	_, err = NewController(nil, "/relative", &shellNetwork{}, partitions, cache.DefaultPartitionNames())
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, shellConfig().Validate())
	assert.Error(t, shellConfig("offline.html").Validate())

	cfg := DefaultConfig()
	cfg.InstallConcurrency = 0
	assert.Error(t, cfg.Validate())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "redundant", StateRedundant.String())
	assert.Equal(t, "unknown", State(42).String())
}
