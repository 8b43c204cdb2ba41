package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aihub/gemini-bot/internal/bot"
	"github.com/aihub/gemini-bot/internal/config"
	"github.com/aihub/gemini-bot/internal/database"
	"github.com/aihub/gemini-bot/internal/di"
	"github.com/aihub/gemini-bot/internal/locale"
	"github.com/aihub/gemini-bot/internal/logger"
	"github.com/aihub/gemini-bot/internal/metrics"
	"github.com/aihub/gemini-bot/internal/relay"
	"github.com/aihub/gemini-bot/internal/router"
	"github.com/aihub/gemini-bot/internal/transport/telegram"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start polling Telegram and answering messages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			container, loader, cfg, err := bootstrap()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return container.Invoke(func(
				client *telegram.Client,
				dispatcher *bot.Dispatcher,
				r *router.Router,
				rl *relay.Relay,
				m *metrics.Metrics,
				health *database.HealthChecker,
				catalog *locale.Catalog,
				cleanup *di.Cleanup,
			) error {
				return serve(ctx, cfg, loader, client, dispatcher, r, rl, m, health, catalog, cleanup)
			})
		},
	}
}

func serve(
	ctx context.Context,
	cfg *config.Config,
	loader *config.ConfigLoader,
	client *telegram.Client,
	dispatcher *bot.Dispatcher,
	r *router.Router,
	rl *relay.Relay,
	m *metrics.Metrics,
	health *database.HealthChecker,
	catalog *locale.Catalog,
	cleanup *di.Cleanup,
) error {
	defer func() {
		if err := cleanup.Run(); err != nil {
			logger.Warn("释放资源失败", zap.Error(err))
		}
	}()

	// 配置文件变更时更新模型映射和编辑间隔
	loader.Watch(func(next *config.Config) {
		if err := r.Reload(next.AI.Models); err != nil {
			logger.Warn("模型映射更新失败", zap.Error(err))
		}
		rl.SetUpdateInterval(next.Stream.UpdateInterval)
		logger.Debug("配置变更已生效", zap.Duration("update_interval", next.Stream.UpdateInterval))
	})

	dispatcher.SetUsername(client.Username())
	if err := client.SetCommands(ctx, bot.Commands(catalog, catalog.Default())); err != nil {
		logger.Warn("注册命令菜单失败", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return m.Serve(gctx, cfg.Metrics.Listen, health, logger.GetLogger().Named("metrics"))
		})
	}
	g.Go(func() error {
		client.Run(gctx, dispatcher.Handle)
		return nil
	})

	logger.Info("机器人已启动", zap.String("username", client.Username()))
	if err := g.Wait(); err != nil {
		logger.Error("机器人异常退出", zap.Error(err))
		return err
	}
	logger.Info("机器人已停止")
	return nil
}
