package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/aihub/gemini-bot/internal/config"
)

// ExchangeEvent 一次完成的问答事件
type ExchangeEvent struct {
	ExchangeID string    `json:"exchange_id"`
	UserID     int64     `json:"user_id"`
	ChatID     int64     `json:"chat_id"`
	Track      string    `json:"track"`
	Model      string    `json:"model"`
	FellBack   bool      `json:"fell_back,omitempty"`
	Outcome    string    `json:"outcome"`
	PromptLen  int       `json:"prompt_len"`
	ReplyLen   int       `json:"reply_len"`
	Chunks     int       `json:"chunks"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher 问答事件发布者
type Publisher interface {
	PublishExchange(ctx context.Context, event ExchangeEvent) error
	Close() error
}

// NopPublisher 未启用Kafka时使用
type NopPublisher struct{}

func (NopPublisher) PublishExchange(context.Context, ExchangeEvent) error { return nil }
func (NopPublisher) Close() error                                          { return nil }

// Producer Kafka生产者
type Producer struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewPublisher 按配置创建发布者，未启用时返回 NopPublisher
func NewPublisher(cfg config.KafkaConfig, logger *zap.Logger) (Publisher, error) {
	if !cfg.Enabled {
		return NopPublisher{}, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Retry.Max = 5
	saramaCfg.Producer.Timeout = 10 * time.Second

	sp, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	logger.Info("Kafka生产者初始化成功", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.Topic))
	return NewProducer(sp, cfg.Topic, logger), nil
}

// NewProducer 包装已有的sarama生产者
func NewProducer(sp sarama.SyncProducer, topic string, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{producer: sp, topic: topic, logger: logger}
}

// PublishExchange 发送问答事件，以用户ID为分区键保证同一用户的事件有序
func (p *Producer) PublishExchange(ctx context.Context, event ExchangeEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	userID := strconv.FormatInt(event.UserID, 10)
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(userID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("exchange_id"), Value: []byte(event.ExchangeID)},
			{Key: []byte("outcome"), Value: []byte(event.Outcome)},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("发送事件失败: %w", err)
	}

	p.logger.Debug("Kafka事件发送成功",
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.String("exchange_id", event.ExchangeID))
	return nil
}

// Close 关闭生产者
func (p *Producer) Close() error {
	if p != nil && p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
