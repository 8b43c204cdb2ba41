package router

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/aihub/gemini-bot/internal/config"
	apperrors "github.com/aihub/gemini-bot/internal/errors"
	"github.com/aihub/gemini-bot/internal/settings"
)

// Kind 逻辑模型类型
type Kind string

const (
	KindFast       Kind = "fast"
	KindPro        Kind = "pro"
	KindImage      Kind = "image"
	KindVisionEdit Kind = "vision_edit"
)

// DefaultKind 未设置偏好的用户使用的默认通道
const DefaultKind = KindFast

// ParseKind 解析用户可选的对话通道
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindFast, KindPro:
		return k, nil
	}
	return "", apperrors.NewConfigError(apperrors.ErrCodeUnknownModelKind, "unknown model kind %q", s)
}

// Router 将逻辑模型类型解析为具体模型ID，并维护用户默认通道
type Router struct {
	mu       sync.RWMutex
	models   map[Kind]string
	settings settings.Store
	logger   *zap.Logger
}

// New 创建模型路由
func New(models config.ModelsConfig, store settings.Store, logger *zap.Logger) (*Router, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{settings: store, logger: logger}
	if err := r.Reload(models); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload 替换模型映射，配置热更新时调用
func (r *Router) Reload(models config.ModelsConfig) error {
	next := map[Kind]string{
		KindFast:       models.Fast,
		KindPro:        models.Pro,
		KindImage:      models.Image,
		KindVisionEdit: models.VisionEdit,
	}
	for kind, id := range next {
		if id == "" {
			return apperrors.NewConfigError(apperrors.ErrCodeConfigInvalid, "model id for kind %q is empty", kind)
		}
	}

	r.mu.Lock()
	r.models = next
	r.mu.Unlock()

	r.logger.Info("模型映射已更新",
		zap.String("fast", models.Fast),
		zap.String("pro", models.Pro),
		zap.String("image", models.Image),
		zap.String("vision_edit", models.VisionEdit),
	)
	return nil
}

// Resolve 查找逻辑类型对应的模型ID，未知类型立即返回配置错误
func (r *Router) Resolve(kind Kind) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.models[kind]
	if !ok {
		return "", apperrors.NewConfigError(apperrors.ErrCodeUnknownModelKind, "unknown model kind %q", kind)
	}
	return id, nil
}

// Fallback 返回权限被拒时的降级类型
func (r *Router) Fallback(kind Kind) (Kind, bool) {
	if kind == KindPro {
		return KindFast, true
	}
	return "", false
}

// GetDefault 返回用户的默认通道，未设置或存储不可用时返回 DefaultKind
func (r *Router) GetDefault(ctx context.Context, userID int64) Kind {
	raw, err := r.settings.DefaultTrack(ctx, userID)
	if err != nil {
		r.logger.Warn("读取默认通道失败，使用缺省值", zap.Int64("user_id", userID), zap.Error(err))
		return DefaultKind
	}
	kind, err := ParseKind(raw)
	if err != nil {
		return DefaultKind
	}
	return kind
}

// SetDefault 保存用户默认通道
func (r *Router) SetDefault(ctx context.Context, userID int64, kind Kind) error {
	if _, err := ParseKind(string(kind)); err != nil {
		return err
	}
	if err := r.settings.SetDefaultTrack(ctx, userID, string(kind)); err != nil {
		return fmt.Errorf("set default track: %w", err)
	}
	return nil
}

// Toggle 在 fast 与 pro 之间切换用户默认通道并返回新值
func (r *Router) Toggle(ctx context.Context, userID int64) (Kind, error) {
	next := KindPro
	if r.GetDefault(ctx, userID) == KindPro {
		next = KindFast
	}
	if err := r.SetDefault(ctx, userID, next); err != nil {
		return "", err
	}
	return next, nil
}
