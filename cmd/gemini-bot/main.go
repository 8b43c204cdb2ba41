package main

import (
	"go.uber.org/zap"

	"github.com/aihub/gemini-bot/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Fatal("命令执行失败", zap.Error(err))
	}
}
