package di

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aihub/gemini-bot/internal/backend"
	"github.com/aihub/gemini-bot/internal/config"
	"github.com/aihub/gemini-bot/internal/database"
	"github.com/aihub/gemini-bot/internal/kafka"
	"github.com/aihub/gemini-bot/internal/quota"
	"github.com/aihub/gemini-bot/internal/router"
	"github.com/aihub/gemini-bot/internal/session"
	"github.com/aihub/gemini-bot/internal/settings"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("GEMINI_API_KEY", "key")
	cfg, err := config.NewConfigLoader().Load()
	require.NoError(t, err)
	return cfg
}

func TestDependencyInjectionContainer(t *testing.T) {
	container := InitContainer()
	assert.NotNil(t, container)
	assert.Equal(t, container, GetContainer())
}

func TestRegisterProviders_CoreGraph(t *testing.T) {
	cfg := testConfig(t)
	container := InitContainer()
	require.NoError(t, RegisterProviders(container, cfg, zap.NewNop()))

	err := Invoke(func(r *router.Router, sessions *session.Store, q quota.Store, s settings.Store, gen backend.Generator, pub kafka.Publisher) {
		id, err := r.Resolve(router.KindPro)
		assert.NoError(t, err)
		assert.Equal(t, cfg.AI.Models.Pro, id)
		assert.NotNil(t, sessions)
		assert.IsType(t, &quota.MemoryStore{}, q)
		assert.IsType(t, &settings.MemoryStore{}, s)
		assert.IsType(t, &backend.Breaker{}, gen)
		assert.IsType(t, kafka.NopPublisher{}, pub)
	})
	require.NoError(t, err)

	err = Invoke(func(c *Cleanup) {
		assert.NoError(t, c.Run())
	})
	require.NoError(t, err)
}

func TestRegisterProviders_RedisQuota(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Quota.Provider = "redis"
	cfg.Redis.Addr = mr.Addr()

	container := InitContainer()
	require.NoError(t, RegisterProviders(container, cfg, zap.NewNop()))

	err := container.Invoke(func(q quota.Store, health *database.HealthChecker, c *Cleanup) {
		require.IsType(t, &quota.RedisStore{}, q)
		assert.True(t, health.Check(context.Background()))
		assert.Contains(t, health.Results(), "redis")
		require.NoError(t, q.Set(context.Background(), 1, 3))
		n, err := q.Get(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
		assert.NoError(t, c.Run())
	})
	require.NoError(t, err)
}

func TestCleanup_RunsInReverseOrder(t *testing.T) {
	var order []int
	c := &Cleanup{}
	c.Add(func() error { order = append(order, 1); return errors.New("first registered") })
	c.Add(func() error { order = append(order, 2); return errors.New("last registered") })

	err := c.Run()
	assert.EqualError(t, err, "last registered")
	assert.Equal(t, []int{2, 1}, order)
	// 第二次调用不再执行
	assert.NoError(t, c.Run())
}
