package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aihub/gemini-bot/internal/locale"
	"github.com/aihub/gemini-bot/internal/quota"
	"github.com/aihub/gemini-bot/internal/relay"
	"github.com/aihub/gemini-bot/internal/transport"
)

// Observer 服务层指标
type Observer interface {
	ObserveExchange(track, outcome string, d time.Duration)
	IncFallback(from, to string)
	IncQuotaRefusal()
	IncImage(op, outcome string)
}

type nopObserver struct{}

func (nopObserver) ObserveExchange(string, string, time.Duration) {}
func (nopObserver) IncFallback(string, string)                    {}
func (nopObserver) IncQuotaRefusal()                              {}
func (nopObserver) IncImage(string, string)                       {}

// 问答结果
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
	OutcomeRefused = "refused"
)

// gate 付费调用之前的额度检查
type gate struct {
	quota     quota.Store
	messenger transport.Messenger
	observer  Observer
	logger    *zap.Logger
}

// admit 扣减一次额度，额度不足时发送一条拒绝消息并返回false
//
// 存储不可用时同样拒绝服务，并发送错误提示。
func (g *gate) admit(ctx context.Context, chatID, userID int64, replyTo int, lang locale.Lang, catalog *locale.Catalog) (bool, error) {
	ok, err := g.quota.Decrement(ctx, userID)
	if err != nil {
		g.logger.Error("扣减额度失败", zap.Int64("user_id", userID), zap.Error(err))
		text := errorNotice(catalog, lang, err)
		if _, sendErr := g.messenger.Send(ctx, chatID, text, transport.SendOptions{ReplyTo: replyTo}); sendErr != nil {
			g.logger.Warn("发送错误提示失败", zap.Error(sendErr))
		}
		return false, fmt.Errorf("decrement quota: %w", err)
	}
	if ok {
		return true, nil
	}

	g.observer.IncQuotaRefusal()
	g.logger.Info("额度不足，拒绝请求", zap.Int64("user_id", userID))
	if _, err := g.messenger.Send(ctx, chatID, catalog.Get(lang, locale.QuotaExhausted), transport.SendOptions{ReplyTo: replyTo}); err != nil {
		return false, fmt.Errorf("send quota refusal: %w", err)
	}
	return false, nil
}

// notices 用户语言下的流式提示
func notices(catalog *locale.Catalog, lang locale.Lang, placeholderKey string) relay.Notices {
	return relay.Notices{
		Placeholder:  catalog.Get(lang, placeholderKey),
		NoContent:    catalog.Get(lang, locale.NoContent),
		ErrorInfo:    catalog.Get(lang, locale.ErrorInfo),
		ErrorDetails: catalog.Get(lang, locale.ErrorDetails),
	}
}

// errorNotice 错误提示与截断后的诊断信息
func errorNotice(catalog *locale.Catalog, lang locale.Lang, err error) string {
	return catalog.Get(lang, locale.ErrorInfo) + "\n\n" + catalog.Get(lang, locale.ErrorDetails) + relay.Diagnostic(err)
}
