package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/aihub/gemini-bot/internal/config"
	"github.com/aihub/gemini-bot/internal/di"
	"github.com/aihub/gemini-bot/internal/logger"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "gemini-bot",
		Short:         "Telegram bot backed by Gemini models",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// .env 不存在时忽略
			if err := godotenv.Load(); err != nil {
				log.Println("No .env file found")
			}
			if path, _ := cmd.Flags().GetString("config"); path != "" {
				if err := os.Setenv("CONFIG_FILE", path); err != nil {
					return err
				}
			}
			return logger.InitLogger()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			logger.Sync()
		},
	}

	cmd.PersistentFlags().String("config", "", "Config file path (optional, overrides CONFIG_FILE).")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newQuotaCmd())
	return cmd
}

// bootstrap 加载配置并注册依赖
func bootstrap() (*dig.Container, *config.ConfigLoader, *config.Config, error) {
	log := logger.GetLogger()
	loader := config.NewConfigLoader().WithLogger(log.Named("config"))
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	log.Info("配置加载成功", zap.String("config", cfg.String()))

	container := di.InitContainer()
	if err := di.RegisterProviders(container, cfg, log); err != nil {
		return nil, nil, nil, err
	}
	return container, loader, cfg, nil
}
