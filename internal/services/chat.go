package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/aihub/gemini-bot/internal/backend"
	"github.com/aihub/gemini-bot/internal/config"
	apperrors "github.com/aihub/gemini-bot/internal/errors"
	"github.com/aihub/gemini-bot/internal/kafka"
	"github.com/aihub/gemini-bot/internal/locale"
	"github.com/aihub/gemini-bot/internal/quota"
	"github.com/aihub/gemini-bot/internal/relay"
	"github.com/aihub/gemini-bot/internal/router"
	"github.com/aihub/gemini-bot/internal/session"
	"github.com/aihub/gemini-bot/internal/transport"
)

// ModelRouter 聊天服务使用的模型路由
type ModelRouter interface {
	Resolve(kind router.Kind) (string, error)
	Fallback(kind router.Kind) (router.Kind, bool)
	GetDefault(ctx context.Context, userID int64) router.Kind
}

// ChatDeps 聊天服务依赖
type ChatDeps struct {
	dig.In

	Sessions    *session.Store
	Router      ModelRouter
	Generator   backend.Generator
	Relay       *relay.Relay
	Messenger   transport.Messenger
	Quota       quota.Store
	Preferences *PreferenceService
	Events      kafka.Publisher `optional:"true"`
	Observer    Observer        `optional:"true"`
	AI          config.AIConfig
	Logger      *zap.Logger `optional:"true"`
}

// ChatService 文本问答服务
type ChatService struct {
	sessions  *session.Store
	router    ModelRouter
	gen       backend.Generator
	relay     *relay.Relay
	messenger transport.Messenger
	prefs     *PreferenceService
	events    kafka.Publisher
	observer  Observer
	gate      *gate
	timeout   time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewChatService 创建聊天服务
func NewChatService(deps ChatDeps) *ChatService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var observer Observer = nopObserver{}
	if deps.Observer != nil {
		observer = deps.Observer
	}
	var events kafka.Publisher = kafka.NopPublisher{}
	if deps.Events != nil {
		events = deps.Events
	}
	return &ChatService{
		sessions:  deps.Sessions,
		router:    deps.Router,
		gen:       deps.Generator,
		relay:     deps.Relay,
		messenger: deps.Messenger,
		prefs:     deps.Preferences,
		events:    events,
		observer:  observer,
		gate:      &gate{quota: deps.Quota, messenger: deps.Messenger, observer: observer, logger: logger},
		timeout:   deps.AI.TextTimeout,
		logger:    logger,
		now:       time.Now,
	}
}

// AskRequest 一次文本提问
type AskRequest struct {
	ChatID    int64
	UserID    int64
	MessageID int
	Prompt    string
	// Track 为空时使用用户默认通道
	Track router.Kind
}

// AskResult 问答结果
type AskResult struct {
	ExchangeID string
	Track      router.Kind
	Model      string
	Text       string
	FellBack   bool
	Refused    bool
	// Err 已经展示给用户的后端错误
	Err error
}

// Ask 执行一次完整问答：额度检查、加锁、读取历史、路由、流式转发、记录历史
func (s *ChatService) Ask(ctx context.Context, req AskRequest) (AskResult, error) {
	start := s.now()
	lang := s.prefs.Language(ctx, req.UserID)
	catalog := s.prefs.Catalog()
	result := AskResult{ExchangeID: uuid.NewString(), Track: req.Track}
	log := s.logger.With(zap.String("exchange_id", result.ExchangeID), zap.Int64("user_id", req.UserID))

	// 1. 额度检查，拒绝时不加锁、不调用后端、不修改历史
	ok, err := s.gate.admit(ctx, req.ChatID, req.UserID, req.MessageID, lang, catalog)
	if err != nil {
		return result, err
	}
	if !ok {
		result.Refused = true
		s.observer.ObserveExchange(string(req.Track), OutcomeRefused, s.now().Sub(start))
		return result, nil
	}

	if result.Track == "" {
		result.Track = s.router.GetDefault(ctx, req.UserID)
	}
	log = log.With(zap.String("track", string(result.Track)))

	// 2. 获取用户锁，整个问答期间持有
	sess, err := s.sessions.Acquire(ctx, req.UserID)
	if err != nil {
		return result, err
	}
	defer sess.Release()

	conv, err := sess.GetOrCreate(result.Track)
	if err != nil {
		s.reportError(ctx, req, lang, err, log)
		return result, err
	}

	// 3. 读取历史后记录用户消息，失败时这条消息保留为未回答的一轮
	history := conv.Context()
	conv.Append(session.RoleUser, req.Prompt)

	primary := conv.Model
	secondary := ""
	if fb, ok := s.router.Fallback(result.Track); ok {
		if id, err := s.router.Resolve(fb); err == nil {
			secondary = id
		}
	}

	// 4. 流式转发，权限被拒时降级到备用模型
	used := primary
	run, err := s.relay.Run(ctx, relay.Request{
		ChatID:  req.ChatID,
		ReplyTo: req.MessageID,
		Model:   primary,
		Timeout: s.timeout,
		Notices: notices(catalog, lang, locale.Generating),
		Open: func(callCtx context.Context) (backend.Stream, error) {
			stream, model, err := backend.OpenWithFallback(callCtx, s.gen,
				backend.NewRequest(primary, history, req.Prompt), primary, secondary)
			used = model
			return stream, err
		},
	})
	result.Model = used
	if err != nil {
		log.Error("发送占位消息失败", zap.Error(err))
		s.finish(ctx, req, result, OutcomeError, 0, err, start)
		return result, err
	}

	if used != primary {
		result.FellBack = true
		s.observer.IncFallback(primary, used)
		log.Info("模型权限被拒，已降级", zap.String("from", primary), zap.String("to", used))
	}

	// 5. 记录模型回复，部分回复同样记录
	result.Text = run.Text
	result.Err = run.Err
	if run.Text != "" {
		conv.Append(session.RoleModel, run.Text)
	}

	outcome := OutcomeOK
	switch {
	case apperrors.IsCode(run.Err, apperrors.ErrCodeTimeout):
		outcome = OutcomeTimeout
	case run.Err != nil:
		outcome = OutcomeError
	}
	s.finish(ctx, req, result, outcome, run.Chunks, run.Err, start)
	return result, nil
}

// finish 记录指标并发布问答事件
func (s *ChatService) finish(ctx context.Context, req AskRequest, res AskResult, outcome string, chunks int, err error, start time.Time) {
	elapsed := s.now().Sub(start)
	s.observer.ObserveExchange(string(res.Track), outcome, elapsed)

	event := kafka.ExchangeEvent{
		ExchangeID: res.ExchangeID,
		UserID:     req.UserID,
		ChatID:     req.ChatID,
		Track:      string(res.Track),
		Model:      res.Model,
		FellBack:   res.FellBack,
		Outcome:    outcome,
		PromptLen:  len([]rune(req.Prompt)),
		ReplyLen:   len([]rune(res.Text)),
		Chunks:     chunks,
		DurationMs: elapsed.Milliseconds(),
		Timestamp:  s.now(),
	}
	if err != nil {
		event.Error = relay.Diagnostic(err)
	}
	if pubErr := s.events.PublishExchange(context.WithoutCancel(ctx), event); pubErr != nil {
		s.logger.Warn("发布问答事件失败", zap.String("exchange_id", res.ExchangeID), zap.Error(pubErr))
	}
}

// reportError 发送一条错误提示
func (s *ChatService) reportError(ctx context.Context, req AskRequest, lang locale.Lang, err error, log *zap.Logger) {
	catalog := s.prefs.Catalog()
	text := errorNotice(catalog, lang, err)
	if _, sendErr := s.messenger.Send(ctx, req.ChatID, text, transport.SendOptions{ReplyTo: req.MessageID}); sendErr != nil {
		log.Warn("发送错误提示失败", zap.Error(sendErr))
	}
}

// Clear 清除用户所有通道的历史
func (s *ChatService) Clear(ctx context.Context, userID int64) error {
	if err := s.sessions.Clear(ctx, userID); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	s.logger.Info("历史记录已清除", zap.Int64("user_id", userID))
	return nil
}

// Switch 切换用户默认通道，返回新通道及其模型ID
func (s *ChatService) Switch(ctx context.Context, userID int64) (router.Kind, string, error) {
	kind, err := s.sessions.SwitchTrack(ctx, userID)
	if err != nil {
		return "", "", err
	}
	model, err := s.router.Resolve(kind)
	if err != nil {
		return kind, "", err
	}
	return kind, model, nil
}
