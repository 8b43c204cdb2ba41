package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/aihub/gemini-bot/internal/backend"
	"github.com/aihub/gemini-bot/internal/config"
	apperrors "github.com/aihub/gemini-bot/internal/errors"
	"github.com/aihub/gemini-bot/internal/transport"
)

const (
	// maxDiagnosticRunes 错误提示中诊断信息的最大长度
	maxDiagnosticRunes = 200
	// finalizeTimeout 收尾编辑的时限，不受调用方取消影响
	finalizeTimeout = 30 * time.Second
)

// Observer 编辑结果与首包延迟观察者
type Observer interface {
	IncEdit(result string)
	ObserveFirstChunk(model string, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) IncEdit(string)                           {}
func (nopObserver) ObserveFirstChunk(string, time.Duration) {}

// Notices 面向用户的提示文本
type Notices struct {
	Placeholder  string
	NoContent    string
	ErrorInfo    string
	ErrorDetails string
}

// Request 一次流式问答
type Request struct {
	ChatID  int64
	ReplyTo int
	// Model 仅用于日志和指标
	Model string
	// Open 在占位消息发出后调用，ctx 已带超时
	Open    func(ctx context.Context) (backend.Stream, error)
	Timeout time.Duration
	Notices Notices
}

// Result 问答结果
type Result struct {
	// Text 收到的全部文本，失败时为已收到的部分
	Text string
	// Err 后端错误，已经以消息形式展示给用户
	Err     error
	Message transport.MessageRef
	Chunks  int
}

// Relay 把一次流式调用转换为对同一条消息的逐步编辑
type Relay struct {
	messenger transport.Messenger
	interval  atomic.Int64
	maxLen    int
	logger    *zap.Logger
	observer  Observer
	now       func() time.Time
}

// New 创建流式转发器
func New(m transport.Messenger, cfg config.StreamConfig, logger *zap.Logger, observer Observer) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	maxLen := cfg.MaxMessageLength
	if maxLen <= 0 {
		maxLen = 4096
	}
	r := &Relay{
		messenger: m,
		maxLen:    maxLen,
		logger:    logger,
		observer:  observer,
		now:       time.Now,
	}
	r.SetUpdateInterval(cfg.UpdateInterval)
	return r
}

// SetUpdateInterval 修改编辑间隔，配置热更新时调用
func (r *Relay) SetUpdateInterval(d time.Duration) {
	r.interval.Store(int64(d))
}

// Run 执行一次流式问答
//
// 只有占位消息发送失败时返回error；后端错误和超时记录在 Result.Err 中，
// 此时用户已经看到了错误提示或带错误标记的部分回答。
func (r *Relay) Run(ctx context.Context, req Request) (Result, error) {
	log := r.logger.With(zap.Int64("chat_id", req.ChatID), zap.String("model", req.Model))

	// 1. 发送占位消息
	ref, err := r.messenger.Send(ctx, req.ChatID, req.Notices.Placeholder, transport.SendOptions{ReplyTo: req.ReplyTo})
	if err != nil {
		return Result{}, fmt.Errorf("send placeholder: %w", err)
	}

	// 2. 消费流并按间隔编辑
	text, shown, chunks, streamErr := r.stream(ctx, ref, req, log)

	// 3. 收尾：最终内容、空内容提示或错误提示
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	r.finalize(fctx, ref, text, shown, streamErr, req.Notices, log)

	if streamErr != nil {
		log.Warn("流式问答失败", zap.Int("chunks", chunks), zap.Int("partial_len", len(text)), zap.Error(streamErr))
	}
	return Result{Text: text, Err: streamErr, Message: ref, Chunks: chunks}, nil
}

// stream 消费分片，返回累计文本、最后展示的内容、分片数与错误
func (r *Relay) stream(ctx context.Context, ref transport.MessageRef, req Request, log *zap.Logger) (string, string, int, error) {
	callCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	start := r.now()
	s, err := req.Open(callCtx)
	if err != nil {
		return "", "", 0, r.timeoutAware(callCtx, req.Timeout, err)
	}
	defer s.Close()

	interval := time.Duration(r.interval.Load())
	var (
		buf      strings.Builder
		chunks   int
		lastEdit = start
		shown    string
	)
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return buf.String(), shown, chunks, nil
		}
		if err != nil {
			return buf.String(), shown, chunks, r.timeoutAware(callCtx, req.Timeout, err)
		}

		if chunks == 0 {
			r.observer.ObserveFirstChunk(req.Model, r.now().Sub(start))
		}
		chunks++
		buf.WriteString(chunk)

		if r.now().Sub(lastEdit) < interval || buf.Len() == 0 {
			continue
		}
		// display 与 shown 都是 buf 的前缀，只在变长时编辑
		display := r.head(buf.String())
		if len(display) <= len(shown) {
			continue
		}
		// 编辑失败不终止流式输出
		if err := r.edit(ctx, ref, display, log); err == nil {
			shown = display
		}
		lastEdit = r.now()
	}
}

// timeoutAware 超时统一归类为 TIMEOUT
func (r *Relay) timeoutAware(callCtx context.Context, timeout time.Duration, err error) error {
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !apperrors.IsCode(err, apperrors.ErrCodeTimeout) {
		return apperrors.NewExternalError(apperrors.ErrCodeTimeout,
			fmt.Sprintf("no response within %s", timeout)).WithCause(err)
	}
	return err
}

// head 流式期间展示的第一段，与收尾切分使用相同的边界
func (r *Relay) head(text string) string {
	return transport.SplitText(text, r.maxLen)[0]
}

// split 切分最终文本，首段不短于流式期间已展示的内容
func (r *Relay) split(final, shown string) []string {
	parts := transport.SplitText(final, r.maxLen)
	if len(parts[0]) >= len(shown) || !strings.HasPrefix(final, shown) {
		return parts
	}
	rest := strings.TrimLeft(final[len(shown):], "\n")
	if rest == "" {
		return []string{shown}
	}
	return append([]string{shown}, transport.SplitText(rest, r.maxLen)...)
}

// edit 先以富文本编辑，失败后以纯文本重试一次
func (r *Relay) edit(ctx context.Context, ref transport.MessageRef, text string, log *zap.Logger) error {
	err := r.messenger.Edit(ctx, ref, text, transport.ParseModeMarkdown)
	if err == nil {
		r.observer.IncEdit("ok")
		return nil
	}
	if errors.Is(err, transport.ErrNotModified) {
		r.observer.IncEdit("unchanged")
		return nil
	}

	plainErr := r.messenger.Edit(ctx, ref, text, transport.ParseModePlain)
	if plainErr == nil || errors.Is(plainErr, transport.ErrNotModified) {
		r.observer.IncEdit("plain_fallback")
		return nil
	}
	r.observer.IncEdit("failed")
	log.Warn("编辑消息失败", zap.Int("message_id", ref.MessageID), zap.NamedError("markdown_error", err), zap.Error(plainErr))
	return plainErr
}

// send 发送新消息，富文本失败时改用纯文本
func (r *Relay) send(ctx context.Context, chatID int64, text string, log *zap.Logger) {
	if _, err := r.messenger.Send(ctx, chatID, text, transport.SendOptions{ParseMode: transport.ParseModeMarkdown}); err == nil {
		return
	}
	if _, err := r.messenger.Send(ctx, chatID, text, transport.SendOptions{}); err != nil {
		log.Warn("发送续写消息失败", zap.Error(err))
	}
}

// finalize 写入最终内容，保证用户不会停留在占位提示上
func (r *Relay) finalize(ctx context.Context, ref transport.MessageRef, text, shown string, streamErr error, n Notices, log *zap.Logger) {
	var final string
	switch {
	case streamErr != nil && text == "":
		final = n.ErrorInfo + "\n\n" + n.ErrorDetails + Diagnostic(streamErr)
		if err := r.messenger.Edit(ctx, ref, final, transport.ParseModePlain); err != nil && !errors.Is(err, transport.ErrNotModified) {
			log.Warn("写入错误提示失败，改为发送新消息", zap.Error(err))
			r.send(ctx, ref.ChatID, final, log)
		}
		return
	case streamErr != nil:
		final = text + "\n\n⚠️ " + n.ErrorDetails + Diagnostic(streamErr)
	case text == "":
		final = n.NoContent
	default:
		final = text
	}

	parts := r.split(final, shown)
	if err := r.edit(ctx, ref, parts[0], log); err != nil {
		r.send(ctx, ref.ChatID, parts[0], log)
	}
	for _, part := range parts[1:] {
		r.send(ctx, ref.ChatID, part, log)
	}
}

// Diagnostic 返回截断后的错误描述
func Diagnostic(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if utf8.RuneCountInString(msg) <= maxDiagnosticRunes {
		return msg
	}
	return string([]rune(msg)[:maxDiagnosticRunes]) + "…"
}
