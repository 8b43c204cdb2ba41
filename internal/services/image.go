package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/aihub/gemini-bot/internal/backend"
	"github.com/aihub/gemini-bot/internal/config"
	apperrors "github.com/aihub/gemini-bot/internal/errors"
	"github.com/aihub/gemini-bot/internal/locale"
	"github.com/aihub/gemini-bot/internal/quota"
	"github.com/aihub/gemini-bot/internal/relay"
	"github.com/aihub/gemini-bot/internal/router"
	"github.com/aihub/gemini-bot/internal/transport"
)

// ImageDeps 图片服务依赖
type ImageDeps struct {
	dig.In

	Router      ModelRouter
	Generator   backend.Generator
	Relay       *relay.Relay
	Messenger   transport.Messenger
	Quota       quota.Store
	Preferences *PreferenceService
	Observer    Observer `optional:"true"`
	AI          config.AIConfig
	Logger      *zap.Logger `optional:"true"`
}

// ImageService 绘图与看图服务
type ImageService struct {
	router       ModelRouter
	gen          backend.Generator
	relay        *relay.Relay
	messenger    transport.Messenger
	prefs        *PreferenceService
	observer     Observer
	gate         *gate
	imageTimeout time.Duration
	textTimeout  time.Duration
	logger       *zap.Logger
}

// NewImageService 创建图片服务
func NewImageService(deps ImageDeps) *ImageService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var observer Observer = nopObserver{}
	if deps.Observer != nil {
		observer = deps.Observer
	}
	return &ImageService{
		router:       deps.Router,
		gen:          deps.Generator,
		relay:        deps.Relay,
		messenger:    deps.Messenger,
		prefs:        deps.Preferences,
		observer:     observer,
		gate:         &gate{quota: deps.Quota, messenger: deps.Messenger, observer: observer, logger: logger},
		imageTimeout: deps.AI.ImageTimeout,
		textTimeout:  deps.AI.TextTimeout,
		logger:       logger,
	}
}

// DrawRequest 文生图请求
type DrawRequest struct {
	ChatID    int64
	UserID    int64
	MessageID int
	Prompt    string
}

// Draw 生成图片并回复
//
// 绘制期间显示占位消息，无论成功与否都会删除。后端错误以消息形式告知用户，不作为返回值。
func (s *ImageService) Draw(ctx context.Context, req DrawRequest) error {
	lang := s.prefs.Language(ctx, req.UserID)
	catalog := s.prefs.Catalog()
	log := s.logger.With(zap.Int64("user_id", req.UserID), zap.Int64("chat_id", req.ChatID))

	// 1. 额度检查
	ok, err := s.gate.admit(ctx, req.ChatID, req.UserID, req.MessageID, lang, catalog)
	if err != nil || !ok {
		return err
	}

	model, err := s.router.Resolve(router.KindImage)
	if err != nil {
		s.notifyError(ctx, req.ChatID, req.MessageID, lang, err, log)
		return err
	}

	// 2. 占位消息，结束时删除
	placeholder, err := s.messenger.Send(ctx, req.ChatID, catalog.Get(lang, locale.Drawing), transport.SendOptions{ReplyTo: req.MessageID})
	if err != nil {
		return fmt.Errorf("send drawing placeholder: %w", err)
	}
	defer func() {
		if err := s.messenger.Delete(context.WithoutCancel(ctx), placeholder); err != nil {
			log.Warn("删除占位消息失败", zap.Error(err))
		}
	}()

	// 3. 调用后端
	callCtx, cancel := context.WithTimeout(ctx, s.imageTimeout)
	data, err := s.gen.Draw(callCtx, model, req.Prompt)
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
	cancel()
	if err != nil {
		if timedOut && !apperrors.IsCode(err, apperrors.ErrCodeTimeout) {
			err = apperrors.NewExternalError(apperrors.ErrCodeTimeout,
				fmt.Sprintf("no image within %s", s.imageTimeout)).WithCause(err)
		}
		s.observer.IncImage("draw", outcomeOf(err))
		log.Warn("绘图失败", zap.String("model", model), zap.Error(err))
		s.notifyError(ctx, req.ChatID, req.MessageID, lang, err, log)
		return nil
	}
	if len(data) == 0 {
		s.observer.IncImage("draw", OutcomeError)
		s.reply(ctx, req.ChatID, req.MessageID, catalog.Get(lang, locale.NoContent), log)
		return nil
	}

	// 4. 发送图片
	if _, err := s.messenger.SendPhoto(ctx, req.ChatID, data, transport.SendOptions{ReplyTo: req.MessageID}); err != nil {
		s.observer.IncImage("draw", OutcomeError)
		log.Warn("发送图片失败", zap.Error(err))
		s.notifyError(ctx, req.ChatID, req.MessageID, lang, err, log)
		return nil
	}
	s.observer.IncImage("draw", OutcomeOK)
	return nil
}

// EditRequest 看图请求：照片与文字说明
type EditRequest struct {
	ChatID    int64
	UserID    int64
	MessageID int
	Prompt    string
	Image     []byte
	ImageMIME string
}

// Edit 把照片和说明交给图片编辑模型
//
// 文字部分经流式转发器写入占位消息，图片部分逐张回复。只返回图片时删除占位消息。
func (s *ImageService) Edit(ctx context.Context, req EditRequest) error {
	lang := s.prefs.Language(ctx, req.UserID)
	catalog := s.prefs.Catalog()
	log := s.logger.With(zap.Int64("user_id", req.UserID), zap.Int64("chat_id", req.ChatID))

	ok, err := s.gate.admit(ctx, req.ChatID, req.UserID, req.MessageID, lang, catalog)
	if err != nil || !ok {
		return err
	}

	model, err := s.router.Resolve(router.KindVisionEdit)
	if err != nil {
		s.notifyError(ctx, req.ChatID, req.MessageID, lang, err, log)
		return err
	}

	var images [][]byte
	res, err := s.relay.Run(ctx, relay.Request{
		ChatID:  req.ChatID,
		ReplyTo: req.MessageID,
		Model:   model,
		Timeout: s.textTimeout,
		Notices: notices(catalog, lang, locale.Generating),
		Open: func(callCtx context.Context) (backend.Stream, error) {
			reply, err := s.gen.EditImage(callCtx, backend.Request{Model: model, Prompt: req.Prompt}.WithImage(req.Image, req.ImageMIME))
			if err != nil {
				return nil, err
			}
			images = reply.Images
			return backend.TextStream(reply.Text), nil
		},
	})
	if err != nil {
		s.observer.IncImage("edit", OutcomeError)
		return err
	}
	if res.Err != nil {
		s.observer.IncImage("edit", outcomeOf(res.Err))
		return nil
	}

	sendCtx := context.WithoutCancel(ctx)
	sent := 0
	var sendErr error
	for _, data := range images {
		if _, err := s.messenger.SendPhoto(sendCtx, req.ChatID, data, transport.SendOptions{ReplyTo: req.MessageID}); err != nil {
			log.Warn("发送图片失败", zap.Error(err))
			sendErr = err
			continue
		}
		sent++
	}
	if sendErr != nil {
		s.notifyError(sendCtx, req.ChatID, req.MessageID, lang, sendErr, log)
	}
	if res.Text == "" && sent > 0 {
		if err := s.messenger.Delete(sendCtx, res.Message); err != nil {
			log.Warn("删除占位消息失败", zap.Error(err))
		}
	}

	s.observer.IncImage("edit", outcomeOf(sendErr))
	return nil
}

func (s *ImageService) notifyError(ctx context.Context, chatID int64, replyTo int, lang locale.Lang, err error, log *zap.Logger) {
	catalog := s.prefs.Catalog()
	text := errorNotice(catalog, lang, err)
	s.reply(ctx, chatID, replyTo, text, log)
}

func (s *ImageService) reply(ctx context.Context, chatID int64, replyTo int, text string, log *zap.Logger) {
	if _, err := s.messenger.Send(ctx, chatID, text, transport.SendOptions{ReplyTo: replyTo}); err != nil {
		log.Warn("发送消息失败", zap.Error(err))
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case apperrors.IsCode(err, apperrors.ErrCodeTimeout):
		return OutcomeTimeout
	default:
		return OutcomeError
	}
}
