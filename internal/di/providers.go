package di

import (
	"context"
	"fmt"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/aihub/gemini-bot/internal/backend"
	"github.com/aihub/gemini-bot/internal/bot"
	"github.com/aihub/gemini-bot/internal/config"
	"github.com/aihub/gemini-bot/internal/database"
	"github.com/aihub/gemini-bot/internal/kafka"
	"github.com/aihub/gemini-bot/internal/locale"
	"github.com/aihub/gemini-bot/internal/metrics"
	"github.com/aihub/gemini-bot/internal/quota"
	"github.com/aihub/gemini-bot/internal/ratelimit"
	"github.com/aihub/gemini-bot/internal/relay"
	"github.com/aihub/gemini-bot/internal/router"
	"github.com/aihub/gemini-bot/internal/services"
	"github.com/aihub/gemini-bot/internal/session"
	"github.com/aihub/gemini-bot/internal/settings"
	"github.com/aihub/gemini-bot/internal/transport"
	"github.com/aihub/gemini-bot/internal/transport/telegram"
)

// RegisterProviders 注册所有依赖提供者
//
// 构造是惰性的：只有被 Invoke 用到的组件才会创建，管理命令不会连接Telegram。
func RegisterProviders(container *dig.Container, cfg *config.Config, log *zap.Logger) error {
	cleanup := &Cleanup{}
	providers := []interface{}{
		// 配置与基础设施
		func() *config.Config { return cfg },
		func() *zap.Logger { return log },
		func() *Cleanup { return cleanup },
		func(c *config.Config) config.AIConfig { return c.AI },
		metrics.New,
		func() *database.HealthChecker { return database.NewHealthChecker(log.Named("health")) },
		func(c *config.Config, m *metrics.Metrics) *ratelimit.Limiter {
			return ratelimit.New(c.RateLimit).WithObserver(m)
		},
		func(c *config.Config) *locale.Catalog { return locale.NewCatalog(c.App.DefaultLanguage) },

		// 存储
		provideSettings,
		provideQuota,
		func(c *config.Config) (kafka.Publisher, error) {
			pub, err := kafka.NewPublisher(c.Kafka, log.Named("kafka"))
			if err != nil {
				return nil, err
			}
			cleanup.Add(pub.Close)
			return pub, nil
		},

		// 传输
		func(c *config.Config) (*telegram.Client, error) {
			return telegram.New(c.Telegram, telegram.Options{}, log.Named("telegram"))
		},
		func(client *telegram.Client, limiter *ratelimit.Limiter) transport.Messenger {
			return transport.Throttle(client, limiter)
		},

		// 核心
		func(c *config.Config, store settings.Store) (*router.Router, error) {
			return router.New(c.AI.Models, store, log.Named("router"))
		},
		func(r *router.Router) services.ModelRouter { return r },
		func(c *config.Config, r *router.Router) *session.Store {
			return session.NewStore(c.Session.MaxTurns, r, r, log.Named("session"))
		},
		func(c *config.Config) (backend.Generator, error) {
			gen, err := backend.NewOpenAIGenerator(c.AI, nil, log.Named("backend"))
			if err != nil {
				return nil, err
			}
			return backend.NewBreaker(gen, c.AI.Breaker, log.Named("breaker")), nil
		},
		func(c *config.Config, m transport.Messenger, obs *metrics.Metrics) *relay.Relay {
			return relay.New(m, c.Stream, log.Named("relay"), obs)
		},

		// 服务
		func(m *metrics.Metrics) services.Observer { return m },
		func(store settings.Store, catalog *locale.Catalog) *services.PreferenceService {
			return services.NewPreferenceService(store, catalog, log.Named("preferences"))
		},
		services.NewChatService,
		services.NewImageService,
		bot.New,
	}

	for _, p := range providers {
		if err := container.Provide(p); err != nil {
			return fmt.Errorf("register provider: %w", err)
		}
	}
	return nil
}

// provideSettings 按配置选择设置存储
func provideSettings(c *config.Config, m *metrics.Metrics, health *database.HealthChecker, log *zap.Logger, cleanup *Cleanup) (settings.Store, error) {
	if c.Settings.Provider != "postgres" {
		return settings.NewMemoryStore(), nil
	}
	db, err := database.OpenPostgres(c.Settings.DatabaseURL, database.DefaultPoolConfig(), log.Named("database"), &settings.UserSetting{})
	if err != nil {
		return nil, err
	}
	cleanup.Add(func() error { return database.ClosePostgres(db) })

	if sqlDB, err := db.DB(); err == nil {
		health.Register("postgres", database.PingSQL(sqlDB))
		if err := m.RegisterDB(sqlDB, "settings"); err != nil {
			log.Warn("注册数据库指标失败", zap.Error(err))
		}
	}
	return settings.NewGormStore(db), nil
}

// provideQuota 按配置选择额度存储
func provideQuota(c *config.Config, health *database.HealthChecker, log *zap.Logger, cleanup *Cleanup) (quota.Store, error) {
	if c.Quota.Provider != "redis" {
		return quota.NewMemoryStore(c.Quota.Default), nil
	}
	client, err := database.NewRedisClient(context.Background(), c.Redis, log.Named("redis"))
	if err != nil {
		return nil, err
	}
	cleanup.Add(client.Close)
	health.Register("redis", database.PingRedis(client))
	return quota.NewRedisStore(client, c.Quota.Default), nil
}
