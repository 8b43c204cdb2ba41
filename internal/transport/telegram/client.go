package telegram

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/aihub/gemini-bot/internal/config"
	apperrors "github.com/aihub/gemini-bot/internal/errors"
	"github.com/aihub/gemini-bot/internal/transport"
)

// MaxDownloadBytes 附件下载上限
const MaxDownloadBytes = 20 << 20

// Handler 处理一条入站消息
type Handler func(ctx context.Context, in transport.Inbound)

// Command 机器人命令菜单项
type Command struct {
	Name        string
	Description string
}

// Client 基于go-telegram/bot的消息通道
type Client struct {
	bot      *tgbot.Bot
	http     *http.Client
	logger   *zap.Logger
	username string

	mu      sync.RWMutex
	handler Handler
	sem     chan struct{}
	wg      sync.WaitGroup
}

// Options 客户端可选项
type Options struct {
	HTTPClient *http.Client
	SkipGetMe  bool
}

// New 创建Telegram客户端
func New(cfg config.TelegramConfig, opts Options, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, apperrors.NewConfigError(apperrors.ErrCodeMissingCredential, "telegram token is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	c := &Client{
		http:   httpClient,
		logger: logger,
		sem:    make(chan struct{}, workers),
	}

	botOpts := []tgbot.Option{
		tgbot.WithDefaultHandler(c.onUpdate),
		tgbot.WithHTTPClient(30*time.Second, httpClient),
		tgbot.WithErrorsHandler(func(err error) {
			logger.Warn("Telegram轮询错误", zap.Error(err))
		}),
	}
	if cfg.ServerURL != "" {
		botOpts = append(botOpts, tgbot.WithServerURL(cfg.ServerURL))
	}
	if opts.SkipGetMe {
		botOpts = append(botOpts, tgbot.WithSkipGetMe())
	}

	b, err := tgbot.New(cfg.Token, botOpts...)
	if err != nil {
		return nil, apperrors.NewExternalError(apperrors.ErrCodeTransport, "create telegram bot").WithCause(err)
	}
	c.bot = b

	if !opts.SkipGetMe {
		me, err := b.GetMe(context.Background())
		if err != nil {
			return nil, apperrors.NewExternalError(apperrors.ErrCodeTransport, "telegram getMe").WithCause(err)
		}
		c.username = me.Username
	}
	return c, nil
}

// Username 机器人用户名，用于识别 /cmd@botname
func (c *Client) Username() string {
	return c.username
}

// SetCommands 注册命令菜单
func (c *Client) SetCommands(ctx context.Context, commands []Command) error {
	list := make([]models.BotCommand, 0, len(commands))
	for _, cmd := range commands {
		list = append(list, models.BotCommand{Command: cmd.Name, Description: cmd.Description})
	}
	if _, err := c.bot.SetMyCommands(ctx, &tgbot.SetMyCommandsParams{Commands: list}); err != nil {
		return classify("setMyCommands", err)
	}
	return nil
}

// Run 开始长轮询，阻塞直到ctx结束并等待处理中的消息完成
func (c *Client) Run(ctx context.Context, handler Handler) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()

	c.logger.Info("开始接收Telegram更新", zap.String("username", c.username), zap.Int("workers", cap(c.sem)))
	c.bot.Start(ctx)
	c.wg.Wait()
}

// onUpdate 把更新转换为入站消息，每条消息在独立的goroutine中处理
func (c *Client) onUpdate(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	in, ok := ToInbound(update)
	if !ok {
		return
	}
	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler == nil {
		return
	}

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() { <-c.sem }()
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("处理消息时发生panic",
					zap.Any("panic", r),
					zap.Int64("chat_id", in.ChatID),
					zap.Int64("user_id", in.UserID),
				)
			}
		}()
		handler(context.WithoutCancel(ctx), in)
	}()
}

// ToInbound 从更新中提取入站消息
func ToInbound(update *models.Update) (transport.Inbound, bool) {
	if update == nil || update.Message == nil {
		return transport.Inbound{}, false
	}
	msg := update.Message
	in := transport.Inbound{
		UpdateID:  update.ID,
		ChatID:    msg.Chat.ID,
		ChatType:  transport.ChatType(msg.Chat.Type),
		MessageID: msg.ID,
		Text:      msg.Text,
		Caption:   msg.Caption,
	}
	if msg.From != nil {
		in.UserID = msg.From.ID
		in.Username = msg.From.Username
	}
	if n := len(msg.Photo); n > 0 {
		// 最后一个尺寸最大
		in.PhotoFileID = msg.Photo[n-1].FileID
	}
	if in.UserID == 0 {
		return transport.Inbound{}, false
	}
	return in, true
}

func parseMode(mode transport.ParseMode) models.ParseMode {
	if mode == transport.ParseModeMarkdown {
		return models.ParseModeMarkdown
	}
	return ""
}

func render(text string, mode transport.ParseMode) string {
	if mode == transport.ParseModeMarkdown {
		return RenderMarkdownV2(text)
	}
	return text
}

func replyParams(replyTo int) *models.ReplyParameters {
	if replyTo == 0 {
		return nil
	}
	return &models.ReplyParameters{MessageID: replyTo, AllowSendingWithoutReply: true}
}

func (c *Client) Send(ctx context.Context, chatID int64, text string, opts transport.SendOptions) (transport.MessageRef, error) {
	msg, err := c.bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:          chatID,
		Text:            render(text, opts.ParseMode),
		ParseMode:       parseMode(opts.ParseMode),
		ReplyParameters: replyParams(opts.ReplyTo),
	})
	if err != nil {
		return transport.MessageRef{}, classify("sendMessage", err)
	}
	return transport.MessageRef{ChatID: chatID, MessageID: msg.ID}, nil
}

func (c *Client) Edit(ctx context.Context, ref transport.MessageRef, text string, mode transport.ParseMode) error {
	_, err := c.bot.EditMessageText(ctx, &tgbot.EditMessageTextParams{
		ChatID:    ref.ChatID,
		MessageID: ref.MessageID,
		Text:      render(text, mode),
		ParseMode: parseMode(mode),
	})
	if err != nil {
		return classify("editMessageText", err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, ref transport.MessageRef) error {
	if _, err := c.bot.DeleteMessage(ctx, &tgbot.DeleteMessageParams{
		ChatID:    ref.ChatID,
		MessageID: ref.MessageID,
	}); err != nil {
		return classify("deleteMessage", err)
	}
	return nil
}

func (c *Client) SendPhoto(ctx context.Context, chatID int64, data []byte, opts transport.SendOptions) (transport.MessageRef, error) {
	msg, err := c.bot.SendPhoto(ctx, &tgbot.SendPhotoParams{
		ChatID:          chatID,
		Photo:           &models.InputFileUpload{Filename: "image.png", Data: bytes.NewReader(data)},
		Caption:         opts.Caption,
		ReplyParameters: replyParams(opts.ReplyTo),
	})
	if err != nil {
		return transport.MessageRef{}, classify("sendPhoto", err)
	}
	return transport.MessageRef{ChatID: chatID, MessageID: msg.ID}, nil
}

// Download 下载附件，超过 MaxDownloadBytes 时报错
func (c *Client) Download(ctx context.Context, fileID string) ([]byte, error) {
	file, err := c.bot.GetFile(ctx, &tgbot.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, classify("getFile", err)
	}
	if file.FileSize > MaxDownloadBytes {
		return nil, apperrors.NewExternalError(apperrors.ErrCodeTransport,
			fmt.Sprintf("file too large: %d bytes", file.FileSize))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.bot.FileDownloadLink(file), nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.NewExternalError(apperrors.ErrCodeTransport, "download file").WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.NewExternalError(apperrors.ErrCodeTransport,
			fmt.Sprintf("download file: http %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxDownloadBytes+1))
	if err != nil {
		return nil, apperrors.NewExternalError(apperrors.ErrCodeTransport, "read file").WithCause(err)
	}
	if len(data) > MaxDownloadBytes {
		return nil, apperrors.NewExternalError(apperrors.ErrCodeTransport, "file exceeds download limit")
	}
	return data, nil
}

// classify 按接口返回的描述归类错误
func classify(method string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "message is not modified"):
		return fmt.Errorf("%s: %w", method, transport.ErrNotModified)
	case strings.Contains(msg, "can't parse entities"), strings.Contains(msg, "can't parse entity"),
		strings.Contains(msg, "can't find end of"):
		return fmt.Errorf("%s: %w: %v", method, transport.ErrMarkup, err)
	}
	return apperrors.NewExternalError(apperrors.ErrCodeTransport, method+" failed").WithCause(err)
}
