package transport

import (
	"context"
	"errors"
)

var (
	// ErrNotModified 编辑内容与当前内容相同
	ErrNotModified = errors.New("message content unchanged")
	// ErrMarkup 消息标记渲染失败，可改用纯文本重试
	ErrMarkup = errors.New("message markup rejected")
)

// ParseMode 消息渲染方式
type ParseMode string

const (
	ParseModePlain    ParseMode = ""
	ParseModeMarkdown ParseMode = "markdown"
)

// MessageRef 已发送消息的句柄
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// SendOptions 发送选项
type SendOptions struct {
	ReplyTo   int
	ParseMode ParseMode
	Caption   string
}

// Messenger 消息通道
type Messenger interface {
	Send(ctx context.Context, chatID int64, text string, opts SendOptions) (MessageRef, error)
	Edit(ctx context.Context, ref MessageRef, text string, mode ParseMode) error
	Delete(ctx context.Context, ref MessageRef) error
	SendPhoto(ctx context.Context, chatID int64, data []byte, opts SendOptions) (MessageRef, error)
	Download(ctx context.Context, fileID string) ([]byte, error)
}

// ChatType 会话类型
type ChatType string

const (
	ChatPrivate    ChatType = "private"
	ChatGroup      ChatType = "group"
	ChatSupergroup ChatType = "supergroup"
	ChatChannel    ChatType = "channel"
)

// Inbound 收到的一条用户消息
type Inbound struct {
	UpdateID    int64
	ChatID      int64
	ChatType    ChatType
	MessageID   int
	UserID      int64
	Username    string
	Text        string
	Caption     string
	PhotoFileID string
}

// IsPrivate 是否为私聊
func (in Inbound) IsPrivate() bool {
	return in.ChatType == ChatPrivate
}

// HasPhoto 是否带图片
func (in Inbound) HasPhoto() bool {
	return in.PhotoFileID != ""
}
