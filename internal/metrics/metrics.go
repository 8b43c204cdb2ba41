package metrics

import (
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gemini_bot"

// Metrics 机器人运行指标，所有方法对nil接收者安全
type Metrics struct {
	registry *prometheus.Registry

	exchanges        *prometheus.CounterVec
	exchangeDuration *prometheus.HistogramVec
	firstChunk       *prometheus.HistogramVec
	edits            *prometheus.CounterVec
	rateLimitWait    *prometheus.HistogramVec
	fallbacks        *prometheus.CounterVec
	quotaRefusals    prometheus.Counter
	images           *prometheus.CounterVec
}

// New 创建指标并注册到独立的Registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		exchanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchanges_total",
			Help:      "Completed chat exchanges by track and outcome",
		}, []string{"track", "outcome"}),
		exchangeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exchange_duration_seconds",
			Help:      "Wall time of a chat exchange including streaming",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 45, 90, 180},
		}, []string{"track"}),
		firstChunk: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_chunk_seconds",
			Help:      "Latency until the first streamed chunk",
			Buckets:   prometheus.DefBuckets,
		}, []string{"model"}),
		edits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_edits_total",
			Help:      "Streaming message edits by result",
		}, []string{"result"}),
		rateLimitWait: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ratelimit_wait_seconds",
			Help:      "Time spent waiting for a transport permit",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"budget"}),
		fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_fallbacks_total",
			Help:      "Permission-denied downgrades between models",
		}, []string{"from", "to"}),
		quotaRefusals: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_refusals_total",
			Help:      "Requests refused because the user quota is exhausted",
		}),
		images: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_requests_total",
			Help:      "Image draw and edit requests by outcome",
		}, []string{"op", "outcome"}),
	}
}

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RegisterDB 注册数据库连接池指标
func (m *Metrics) RegisterDB(db *sql.DB, name string) error {
	if m == nil || db == nil {
		return nil
	}
	return m.registry.Register(collectors.NewDBStatsCollector(db, name))
}

// ObserveExchange 记录一次问答
func (m *Metrics) ObserveExchange(track, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.exchanges.WithLabelValues(track, outcome).Inc()
	m.exchangeDuration.WithLabelValues(track).Observe(d.Seconds())
}

// ObserveFirstChunk 记录首个分片延迟
func (m *Metrics) ObserveFirstChunk(model string, d time.Duration) {
	if m == nil {
		return
	}
	m.firstChunk.WithLabelValues(model).Observe(d.Seconds())
}

// IncEdit 记录一次编辑结果
func (m *Metrics) IncEdit(result string) {
	if m == nil {
		return
	}
	m.edits.WithLabelValues(result).Inc()
}

// ObserveRateLimitWait 记录许可等待时长
func (m *Metrics) ObserveRateLimitWait(budget string, d time.Duration) {
	if m == nil {
		return
	}
	m.rateLimitWait.WithLabelValues(budget).Observe(d.Seconds())
}

// IncFallback 记录一次模型降级
func (m *Metrics) IncFallback(from, to string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(from, to).Inc()
}

// IncQuotaRefusal 记录一次配额拒绝
func (m *Metrics) IncQuotaRefusal() {
	if m == nil {
		return
	}
	m.quotaRefusals.Inc()
}

// IncImage 记录一次图片请求
func (m *Metrics) IncImage(op, outcome string) {
	if m == nil {
		return
	}
	m.images.WithLabelValues(op, outcome).Inc()
}
