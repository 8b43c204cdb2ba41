// Package bot 把入站消息分发为命令与问答
package bot

import (
	"context"
	"strings"

	"go.uber.org/dig"
	"go.uber.org/zap"

	apperrors "github.com/aihub/gemini-bot/internal/errors"
	"github.com/aihub/gemini-bot/internal/locale"
	"github.com/aihub/gemini-bot/internal/relay"
	"github.com/aihub/gemini-bot/internal/router"
	"github.com/aihub/gemini-bot/internal/services"
	"github.com/aihub/gemini-bot/internal/transport"
	"github.com/aihub/gemini-bot/internal/transport/telegram"
)

// 命令名
const (
	CmdStart     = "start"
	CmdGemini    = "gemini"
	CmdGeminiPro = "gemini_pro"
	CmdDraw      = "draw"
	CmdEdit      = "edit"
	CmdClear     = "clear"
	CmdSwitch    = "switch"
	CmdLanguage  = "language"
)

// Deps 分发器依赖
type Deps struct {
	dig.In

	Chat        *services.ChatService
	Image       *services.ImageService
	Preferences *services.PreferenceService
	Messenger   transport.Messenger
	Logger      *zap.Logger `optional:"true"`
}

// Dispatcher 命令分发器
type Dispatcher struct {
	chat      *services.ChatService
	image     *services.ImageService
	prefs     *services.PreferenceService
	messenger transport.Messenger
	logger    *zap.Logger
	username  string
}

// New 创建分发器
func New(deps Deps) *Dispatcher {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		chat:      deps.Chat,
		image:     deps.Image,
		prefs:     deps.Preferences,
		messenger: deps.Messenger,
		logger:    logger,
	}
}

// SetUsername 设置机器人用户名，用于过滤发给其他机器人的命令
func (d *Dispatcher) SetUsername(username string) {
	d.username = username
}

// Commands 返回指定语言的命令菜单
func Commands(catalog *locale.Catalog, lang locale.Lang) []telegram.Command {
	list := make([]telegram.Command, 0, len(locale.CommandOrder))
	for _, name := range locale.CommandOrder {
		list = append(list, telegram.Command{Name: name, Description: catalog.Command(lang, name)})
	}
	return list
}

// command 解析出的命令
type command struct {
	name string
	args string
}

// parseCommand 解析 "/cmd@bot 参数"，发给其他机器人的命令返回false
func parseCommand(text, username string) (command, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return command{}, false
	}
	head, args := text, ""
	if i := strings.IndexAny(text, " \t\n"); i >= 0 {
		head, args = text[:i], text[i+1:]
	}
	name := strings.TrimPrefix(head, "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		target := name[at+1:]
		name = name[:at]
		if username != "" && !strings.EqualFold(target, username) {
			return command{}, false
		}
	}
	if name == "" {
		return command{}, false
	}
	return command{name: strings.ToLower(name), args: strings.TrimSpace(args)}, true
}

// Handle 处理一条入站消息
func (d *Dispatcher) Handle(ctx context.Context, in transport.Inbound) {
	log := d.logger.With(zap.Int64("user_id", in.UserID), zap.Int64("chat_id", in.ChatID))

	if in.HasPhoto() {
		d.handlePhoto(ctx, in, log)
		return
	}

	cmd, ok := parseCommand(in.Text, d.username)
	if !ok {
		// 私聊中的普通文本使用默认通道
		if in.IsPrivate() && strings.TrimSpace(in.Text) != "" && !strings.HasPrefix(strings.TrimSpace(in.Text), "/") {
			d.ask(ctx, in, "", in.Text, log)
		}
		return
	}

	switch cmd.name {
	case CmdStart:
		d.reply(ctx, in, d.text(ctx, in, locale.Welcome), transport.ParseModeMarkdown, log)
	case CmdGemini, CmdGeminiPro:
		track, usage := router.KindFast, locale.GeminiUsage
		if cmd.name == CmdGeminiPro {
			track, usage = router.KindPro, locale.GeminiProUsage
		}
		if cmd.args == "" {
			d.reply(ctx, in, d.text(ctx, in, usage), transport.ParseModeMarkdown, log)
			return
		}
		d.ask(ctx, in, track, cmd.args, log)
	case CmdClear:
		if err := d.chat.Clear(ctx, in.UserID); err != nil {
			apperrors.Log(log, "清除历史失败", err)
			return
		}
		d.reply(ctx, in, d.text(ctx, in, locale.HistoryCleared), transport.ParseModePlain, log)
	case CmdSwitch:
		if !in.IsPrivate() {
			d.reply(ctx, in, d.text(ctx, in, locale.PrivateChatOnly), transport.ParseModePlain, log)
			return
		}
		_, model, err := d.chat.Switch(ctx, in.UserID)
		if err != nil {
			d.replyError(ctx, in, err, log)
			return
		}
		d.reply(ctx, in, d.text(ctx, in, locale.UsingModel)+model, transport.ParseModePlain, log)
	case CmdDraw:
		if cmd.args == "" {
			d.reply(ctx, in, d.text(ctx, in, locale.DrawUsage), transport.ParseModeMarkdown, log)
			return
		}
		if err := d.image.Draw(ctx, services.DrawRequest{
			ChatID: in.ChatID, UserID: in.UserID, MessageID: in.MessageID, Prompt: cmd.args,
		}); err != nil {
			apperrors.Log(log, "绘图失败", err)
		}
	case CmdEdit:
		d.reply(ctx, in, d.text(ctx, in, locale.SendPhotoRequest), transport.ParseModePlain, log)
	case CmdLanguage:
		lang, err := d.prefs.ToggleLanguage(ctx, in.UserID)
		if err != nil {
			d.replyError(ctx, in, err, log)
			return
		}
		d.reply(ctx, in, d.prefs.Catalog().Get(lang, locale.LanguageSwitched), transport.ParseModePlain, log)
	default:
		log.Debug("忽略未知命令", zap.String("command", cmd.name))
	}
}

// handlePhoto 私聊中的图片总是处理；群聊中仅处理说明以 /gemini 或 /edit 开头的图片
func (d *Dispatcher) handlePhoto(ctx context.Context, in transport.Inbound, log *zap.Logger) {
	prompt := strings.TrimSpace(in.Caption)
	cmd, isCmd := parseCommand(in.Caption, d.username)
	if isCmd {
		prompt = cmd.args
	}
	if !in.IsPrivate() {
		if !isCmd || (cmd.name != CmdGemini && cmd.name != CmdGeminiPro && cmd.name != CmdEdit) {
			return
		}
	}

	data, err := d.messenger.Download(ctx, in.PhotoFileID)
	if err != nil {
		d.replyError(ctx, in, err, log)
		return
	}
	if err := d.image.Edit(ctx, services.EditRequest{
		ChatID:    in.ChatID,
		UserID:    in.UserID,
		MessageID: in.MessageID,
		Prompt:    prompt,
		Image:     data,
	}); err != nil {
		apperrors.Log(log, "看图失败", err)
	}
}

func (d *Dispatcher) ask(ctx context.Context, in transport.Inbound, track router.Kind, prompt string, log *zap.Logger) {
	_, err := d.chat.Ask(ctx, services.AskRequest{
		ChatID:    in.ChatID,
		UserID:    in.UserID,
		MessageID: in.MessageID,
		Prompt:    prompt,
		Track:     track,
	})
	if err != nil {
		apperrors.Log(log, "问答失败", err)
	}
}

func (d *Dispatcher) text(ctx context.Context, in transport.Inbound, key string) string {
	return d.prefs.Text(ctx, in.UserID, key)
}

// reply 回复一条消息，富文本失败时改用纯文本
func (d *Dispatcher) reply(ctx context.Context, in transport.Inbound, text string, mode transport.ParseMode, log *zap.Logger) {
	opts := transport.SendOptions{ReplyTo: in.MessageID, ParseMode: mode}
	_, err := d.messenger.Send(ctx, in.ChatID, text, opts)
	if err == nil {
		return
	}
	if mode != transport.ParseModePlain {
		opts.ParseMode = transport.ParseModePlain
		if _, err = d.messenger.Send(ctx, in.ChatID, text, opts); err == nil {
			return
		}
	}
	log.Warn("回复消息失败", zap.Error(err))
}

func (d *Dispatcher) replyError(ctx context.Context, in transport.Inbound, err error, log *zap.Logger) {
	apperrors.Log(log, "处理消息失败", err)
	text := d.text(ctx, in, locale.ErrorInfo) + "\n\n" + d.text(ctx, in, locale.ErrorDetails) + relay.Diagnostic(err)
	d.reply(ctx, in, text, transport.ParseModePlain, log)
}
