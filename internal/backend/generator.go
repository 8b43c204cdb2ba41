package backend

import (
	"context"
	"errors"
	"io"

	apperrors "github.com/aihub/gemini-bot/internal/errors"
	"github.com/aihub/gemini-bot/internal/session"
)

// ErrPermissionDenied 后端拒绝访问该模型（401/403），可触发降级
var ErrPermissionDenied = errors.New("model access denied")

// Request 一次生成请求
//
// History 在构造请求时复制，调用方之后对会话的修改不会影响已发出的请求。
type Request struct {
	Model     string
	History   []session.Turn
	Prompt    string
	Image     []byte
	ImageMIME string
}

// NewRequest 复制历史并构造请求
func NewRequest(model string, history []session.Turn, prompt string) Request {
	h := make([]session.Turn, len(history))
	copy(h, history)
	return Request{Model: model, History: h, Prompt: prompt}
}

// WithImage 附加图片
func (r Request) WithImage(data []byte, mime string) Request {
	r.Image = data
	r.ImageMIME = mime
	return r
}

// Stream 增量文本序列，结束时 Recv 返回 io.EOF
type Stream interface {
	Recv() (string, error)
	Close()
}

// Generator 生成式后端
type Generator interface {
	// Stream 发起流式对话
	Stream(ctx context.Context, req Request) (Stream, error)
	// Draw 根据提示生成图片
	Draw(ctx context.Context, model, prompt string) ([]byte, error)
	// EditImage 图文输入，返回文字和图片
	EditImage(ctx context.Context, req Request) (Reply, error)
}

// Reply 非流式回复，可能同时包含文字和图片
type Reply struct {
	Text   string
	Images [][]byte
}

// IsPermissionDenied 判断是否为模型权限错误
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || apperrors.IsCode(err, apperrors.ErrCodePermissionDenied)
}

// TextStream 把一次性结果包装为只有一个分片的流
func TextStream(text string) Stream {
	return &textStream{text: text}
}

type textStream struct {
	text string
	done bool
}

func (s *textStream) Recv() (string, error) {
	if s.done || s.text == "" {
		return "", io.EOF
	}
	s.done = true
	return s.text, nil
}

func (s *textStream) Close() {}
