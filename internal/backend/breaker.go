package backend

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/aihub/gemini-bot/internal/config"
	apperrors "github.com/aihub/gemini-bot/internal/errors"
)

// BreakerState 熔断器状态
type BreakerState int32

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

// String 返回状态字符串
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker 单个模型的熔断器
type CircuitBreaker struct {
	name string

	// 配置
	failureThreshold int64
	successThreshold int64
	timeout          time.Duration

	// 状态
	state           int32
	failureCount    int64
	successCount    int64
	lastFailureTime time.Time
	mutex           sync.RWMutex
	now             func() time.Time
}

// NewCircuitBreaker 创建熔断器
func NewCircuitBreaker(name string, cfg config.BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		timeout:          cfg.OpenTimeout,
		state:            int32(StateClosed),
		now:              time.Now,
	}
}

// Allow 检查是否可以执行请求
func (cb *CircuitBreaker) Allow() bool {
	switch cb.State() {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		// 检查是否可以尝试半开
		cb.mutex.RLock()
		canHalfOpen := cb.now().Sub(cb.lastFailureTime) >= cb.timeout
		cb.mutex.RUnlock()

		if canHalfOpen && atomic.CompareAndSwapInt32(&cb.state, int32(StateOpen), int32(StateHalfOpen)) {
			atomic.StoreInt64(&cb.successCount, 0)
		}
		return canHalfOpen
	default:
		return false
	}
}

// Record 记录调用结果，权限错误和调用方取消不计入
func (cb *CircuitBreaker) Record(err error) {
	switch {
	case err == nil:
		cb.recordSuccess()
	case IsPermissionDenied(err), errors.Is(err, context.Canceled):
	default:
		cb.recordFailure()
	}
}

// recordSuccess 记录成功
func (cb *CircuitBreaker) recordSuccess() {
	switch cb.State() {
	case StateHalfOpen:
		// 半开状态下，成功计数增加
		if atomic.AddInt64(&cb.successCount, 1) >= cb.successThreshold {
			atomic.StoreInt32(&cb.state, int32(StateClosed))
			atomic.StoreInt64(&cb.failureCount, 0)
		}
	case StateClosed:
		atomic.StoreInt64(&cb.failureCount, 0)
	}
}

// recordFailure 记录失败
func (cb *CircuitBreaker) recordFailure() {
	cb.mutex.Lock()
	cb.lastFailureTime = cb.now()
	cb.mutex.Unlock()

	switch cb.State() {
	case StateHalfOpen:
		// 半开状态下失败，直接打开熔断器
		atomic.StoreInt32(&cb.state, int32(StateOpen))
		atomic.StoreInt64(&cb.successCount, 0)
	case StateClosed:
		if atomic.AddInt64(&cb.failureCount, 1) >= cb.failureThreshold {
			atomic.StoreInt32(&cb.state, int32(StateOpen))
		}
	}
}

// State 获取当前状态
func (cb *CircuitBreaker) State() BreakerState {
	return BreakerState(atomic.LoadInt32(&cb.state))
}

// Breaker 为每个模型维护熔断器的生成器装饰器
type Breaker struct {
	next     Generator
	cfg      config.BreakerConfig
	logger   *zap.Logger
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewBreaker 创建熔断装饰器
func NewBreaker(next Generator, cfg config.BreakerConfig, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		next:     next,
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// For 获取或创建模型对应的熔断器
func (b *Breaker) For(model string) *CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.breakers[model]
	if !ok {
		cb = NewCircuitBreaker(model, b.cfg)
		b.breakers[model] = cb
	}
	return cb
}

func (b *Breaker) guard(model string) (*CircuitBreaker, error) {
	cb := b.For(model)
	if !cb.Allow() {
		b.logger.Warn("熔断器打开，拒绝请求", zap.String("model", model))
		return nil, apperrors.NewExternalError(apperrors.ErrCodeCircuitOpen, "model "+model+" is temporarily unavailable")
	}
	return cb, nil
}

func (b *Breaker) record(cb *CircuitBreaker, err error) {
	before := cb.State()
	cb.Record(err)
	if after := cb.State(); after != before {
		b.logger.Info("熔断器状态变化",
			zap.String("model", cb.name),
			zap.String("from", before.String()),
			zap.String("to", after.String()),
		)
	}
}

func (b *Breaker) Stream(ctx context.Context, req Request) (Stream, error) {
	cb, err := b.guard(req.Model)
	if err != nil {
		return nil, err
	}
	s, err := b.next.Stream(ctx, req)
	if err != nil {
		b.record(cb, err)
		return nil, err
	}
	return &breakerStream{Stream: s, done: func(err error) { b.record(cb, err) }}, nil
}

func (b *Breaker) Draw(ctx context.Context, model, prompt string) ([]byte, error) {
	cb, err := b.guard(model)
	if err != nil {
		return nil, err
	}
	data, err := b.next.Draw(ctx, model, prompt)
	b.record(cb, err)
	return data, err
}

func (b *Breaker) EditImage(ctx context.Context, req Request) (Reply, error) {
	cb, err := b.guard(req.Model)
	if err != nil {
		return Reply{}, err
	}
	reply, err := b.next.EditImage(ctx, req)
	b.record(cb, err)
	return reply, err
}

// breakerStream 在流结束时记录一次结果
type breakerStream struct {
	Stream
	once sync.Once
	done func(error)
}

func (s *breakerStream) Recv() (string, error) {
	text, err := s.Stream.Recv()
	if errors.Is(err, io.EOF) {
		s.once.Do(func() { s.done(nil) })
	} else if err != nil {
		s.once.Do(func() { s.done(err) })
	}
	return text, err
}
