package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CheckFunc 单个依赖的检查函数
type CheckFunc func(ctx context.Context) error

// PingSQL 通过 PingContext 检查数据库
func PingSQL(db *sql.DB) CheckFunc {
	return func(ctx context.Context) error { return db.PingContext(ctx) }
}

// PingRedis 通过 PING 命令检查Redis
func PingRedis(client redis.UniversalClient) CheckFunc {
	return func(ctx context.Context) error { return client.Ping(ctx).Err() }
}

// HealthCheckResult 健康检查结果
type HealthCheckResult struct {
	Healthy      bool      `json:"healthy"`
	LastCheck    time.Time `json:"last_check"`
	LastError    string    `json:"last_error,omitempty"`
	ResponseTime string    `json:"response_time,omitempty"`
}

// HealthChecker 存储依赖健康检查器
type HealthChecker struct {
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time

	mu      sync.RWMutex
	checks  map[string]CheckFunc
	results map[string]HealthCheckResult
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthChecker{
		logger:  logger,
		timeout: 5 * time.Second,
		now:     time.Now,
		checks:  make(map[string]CheckFunc),
		results: make(map[string]HealthCheckResult),
	}
}

// Register 注册检查，同名覆盖
func (hc *HealthChecker) Register(name string, check CheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check
}

// Check 执行所有检查，返回是否全部健康
func (hc *HealthChecker) Check(ctx context.Context) bool {
	hc.mu.RLock()
	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	hc.mu.RUnlock()
	sort.Strings(names)

	healthy := true
	for _, name := range names {
		if !hc.checkOne(ctx, name) {
			healthy = false
		}
	}
	return healthy
}

func (hc *HealthChecker) checkOne(ctx context.Context, name string) bool {
	hc.mu.RLock()
	check := hc.checks[name]
	prev, seen := hc.results[name]
	hc.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	start := hc.now()
	err := check(ctx)
	result := HealthCheckResult{
		Healthy:      err == nil,
		LastCheck:    hc.now(),
		ResponseTime: hc.now().Sub(start).String(),
	}
	if err != nil {
		result.LastError = err.Error()
		hc.logger.Warn("依赖健康检查失败", zap.String("name", name), zap.Error(err))
	} else if seen && !prev.Healthy {
		hc.logger.Info("依赖连接已恢复", zap.String("name", name))
	}

	hc.mu.Lock()
	hc.results[name] = result
	hc.mu.Unlock()
	return err == nil
}

// Results 返回最近一次检查结果
func (hc *HealthChecker) Results() map[string]HealthCheckResult {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	out := make(map[string]HealthCheckResult, len(hc.results))
	for k, v := range hc.results {
		out[k] = v
	}
	return out
}

// ServeHTTP 执行检查并以JSON返回，任一依赖异常时返回503
func (hc *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	if !hc.Check(r.Context()) {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"healthy":      status == http.StatusOK,
		"dependencies": hc.Results(),
	})
}
