package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/aihub/gemini-bot/internal/config"
)

// Budget 限流预算类别
type Budget string

const (
	// BudgetGeneral 普通出站调用（发送、删除、下载等）
	BudgetGeneral Budget = "general"
	// BudgetEdit 流式输出期间的消息编辑
	BudgetEdit Budget = "edit"
)

// WaitObserver 记录许可等待时长
type WaitObserver interface {
	ObserveRateLimitWait(budget string, d time.Duration)
}

// Limiter 进程级共享的两个独立限流预算，阻塞等待而不丢弃
type Limiter struct {
	general  *rate.Limiter
	edit     *rate.Limiter
	observer WaitObserver
}

// New 根据配置创建限流器
//
// 每个预算的令牌桶容量为1，补充速率为 limit/period，
// 因此任意长度为 period 的滑动窗口内的调用次数不超过 limit。
func New(cfg config.RateLimitConfig) *Limiter {
	return &Limiter{
		general: newBucket(cfg.General),
		edit:    newBucket(cfg.Edit),
	}
}

// WithObserver 设置等待时长观察者
func (l *Limiter) WithObserver(o WaitObserver) *Limiter {
	l.observer = o
	return l
}

func newBucket(b config.BudgetConfig) *rate.Limiter {
	if b.Limit <= 0 || b.Period <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(b.Period/time.Duration(b.Limit)), 1)
}

// Wait 获取指定预算的一个许可，容量不足时阻塞直到ctx结束
func (l *Limiter) Wait(ctx context.Context, budget Budget) error {
	var lim *rate.Limiter
	switch budget {
	case BudgetGeneral:
		lim = l.general
	case BudgetEdit:
		lim = l.edit
	default:
		return fmt.Errorf("unknown rate limit budget %q", budget)
	}

	start := time.Now()
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("wait %s permit: %w", budget, err)
	}
	if l.observer != nil {
		l.observer.ObserveRateLimitWait(string(budget), time.Since(start))
	}
	return nil
}

// WaitGeneral 获取普通调用许可
func (l *Limiter) WaitGeneral(ctx context.Context) error {
	return l.Wait(ctx, BudgetGeneral)
}

// WaitEdit 获取编辑调用许可
func (l *Limiter) WaitEdit(ctx context.Context) error {
	return l.Wait(ctx, BudgetEdit)
}
