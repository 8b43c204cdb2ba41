package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/aihub/gemini-bot/internal/locale"
	"github.com/aihub/gemini-bot/internal/settings"
)

// PreferenceService 用户界面语言偏好
type PreferenceService struct {
	settings settings.Store
	catalog  *locale.Catalog
	logger   *zap.Logger
}

// NewPreferenceService 创建偏好服务
func NewPreferenceService(store settings.Store, catalog *locale.Catalog, logger *zap.Logger) *PreferenceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PreferenceService{settings: store, catalog: catalog, logger: logger}
}

// Catalog 返回消息表
func (s *PreferenceService) Catalog() *locale.Catalog {
	return s.catalog
}

// Language 返回用户语言，未设置或读取失败时返回默认语言
func (s *PreferenceService) Language(ctx context.Context, userID int64) locale.Lang {
	raw, err := s.settings.Language(ctx, userID)
	if err != nil {
		s.logger.Warn("读取用户语言失败，使用默认语言", zap.Int64("user_id", userID), zap.Error(err))
		return s.catalog.Default()
	}
	return locale.Parse(raw, s.catalog.Default())
}

// Text 按用户语言查找消息
func (s *PreferenceService) Text(ctx context.Context, userID int64, key string) string {
	return s.catalog.Get(s.Language(ctx, userID), key)
}

// ToggleLanguage 在中英文之间切换并返回新语言
func (s *PreferenceService) ToggleLanguage(ctx context.Context, userID int64) (locale.Lang, error) {
	next := s.Language(ctx, userID).Toggle()
	if err := s.settings.SetLanguage(ctx, userID, string(next)); err != nil {
		return "", fmt.Errorf("save language: %w", err)
	}
	return next, nil
}
