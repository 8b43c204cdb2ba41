// Package transporttest 提供记录调用的消息通道
package transporttest

import (
	"context"
	"sync"

	"github.com/aihub/gemini-bot/internal/transport"
)

// Call 一次记录的调用
type Call struct {
	Method string
	Ref    transport.MessageRef
	Text   string
	Mode   transport.ParseMode
	Opts   transport.SendOptions
	Photo  []byte
}

// Recorder 记录所有调用的内存消息通道
type Recorder struct {
	mu     sync.Mutex
	nextID int
	calls  []Call
	texts  map[transport.MessageRef]string

	// SendErr 发送失败时返回的错误
	SendErr error
	// EditErr 按调用方式决定编辑错误，返回nil表示成功
	EditErr func(text string, mode transport.ParseMode) error
	// Files Download 返回的文件内容
	Files map[string][]byte
}

// New 创建记录器
func New() *Recorder {
	return &Recorder{texts: make(map[transport.MessageRef]string), Files: make(map[string][]byte)}
}

func (r *Recorder) record(c Call) {
	r.calls = append(r.calls, c)
}

func (r *Recorder) Send(_ context.Context, chatID int64, text string, opts transport.SendOptions) (transport.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SendErr != nil {
		r.record(Call{Method: "send_failed", Text: text, Opts: opts})
		return transport.MessageRef{}, r.SendErr
	}
	r.nextID++
	ref := transport.MessageRef{ChatID: chatID, MessageID: r.nextID}
	r.texts[ref] = text
	r.record(Call{Method: "send", Ref: ref, Text: text, Mode: opts.ParseMode, Opts: opts})
	return ref, nil
}

func (r *Recorder) Edit(_ context.Context, ref transport.MessageRef, text string, mode transport.ParseMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.EditErr != nil {
		if err := r.EditErr(text, mode); err != nil {
			r.record(Call{Method: "edit_failed", Ref: ref, Text: text, Mode: mode})
			return err
		}
	}
	if r.texts[ref] == text {
		r.record(Call{Method: "edit_unchanged", Ref: ref, Text: text, Mode: mode})
		return transport.ErrNotModified
	}
	r.texts[ref] = text
	r.record(Call{Method: "edit", Ref: ref, Text: text, Mode: mode})
	return nil
}

func (r *Recorder) Delete(_ context.Context, ref transport.MessageRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.texts, ref)
	r.record(Call{Method: "delete", Ref: ref})
	return nil
}

func (r *Recorder) SendPhoto(_ context.Context, chatID int64, data []byte, opts transport.SendOptions) (transport.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SendErr != nil {
		return transport.MessageRef{}, r.SendErr
	}
	r.nextID++
	ref := transport.MessageRef{ChatID: chatID, MessageID: r.nextID}
	r.record(Call{Method: "photo", Ref: ref, Opts: opts, Photo: data, Text: opts.Caption})
	return ref, nil
}

func (r *Recorder) Download(_ context.Context, fileID string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(Call{Method: "download", Text: fileID})
	return r.Files[fileID], nil
}

// Calls 返回调用记录副本
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Methods 返回按顺序的调用方法名
func (r *Recorder) Methods() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.Method)
	}
	return out
}

// Edits 返回成功编辑的文本序列
func (r *Recorder) Edits() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.calls {
		if c.Method == "edit" {
			out = append(out, c.Text)
		}
	}
	return out
}

// Text 返回消息当前内容
func (r *Recorder) Text(ref transport.MessageRef) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.texts[ref]
}

// Messages 返回仍存在的消息数
func (r *Recorder) Messages() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.texts)
}
