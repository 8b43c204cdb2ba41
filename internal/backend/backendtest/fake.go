// Package backendtest 提供测试用的可编排生成器
package backendtest

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/aihub/gemini-bot/internal/backend"
)

// Script 单个模型的响应脚本
type Script struct {
	// OpenErr 打开流时返回的错误
	OpenErr error
	// Chunks 依次返回的分片
	Chunks []string
	// Err 分片全部返回后的错误，为空时返回 io.EOF
	Err error
	// Delay 每个分片之前的等待
	Delay time.Duration
	// Image Draw 与 EditImage 返回的图片
	Image []byte
}

// Generator 按模型ID返回预设脚本，并记录收到的请求
type Generator struct {
	mu       sync.Mutex
	scripts  map[string]Script
	requests []backend.Request
	drawn    []string
}

// New 创建可编排生成器
func New() *Generator {
	return &Generator{scripts: make(map[string]Script)}
}

// On 设置模型对应的脚本
func (g *Generator) On(model string, s Script) *Generator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scripts[model] = s
	return g
}

// Requests 返回收到的请求副本
func (g *Generator) Requests() []backend.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]backend.Request, len(g.requests))
	copy(out, g.requests)
	return out
}

// Calls 返回请求次数（含 Draw）
func (g *Generator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests) + len(g.drawn)
}

func (g *Generator) script(req backend.Request) Script {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	return g.scripts[req.Model]
}

func (g *Generator) Stream(ctx context.Context, req backend.Request) (backend.Stream, error) {
	s := g.script(req)
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	return &stream{ctx: ctx, script: s}, nil
}


func (g *Generator) Draw(ctx context.Context, model, prompt string) ([]byte, error) {
	g.mu.Lock()
	g.drawn = append(g.drawn, prompt)
	s := g.scripts[model]
	g.mu.Unlock()

	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	return s.Image, nil
}

// EditImage 以拼接后的分片作为文字，Image 非空时附带一张图片
func (g *Generator) EditImage(ctx context.Context, req backend.Request) (backend.Reply, error) {
	s := g.script(req)
	if s.OpenErr != nil {
		return backend.Reply{}, s.OpenErr
	}
	var reply backend.Reply
	st := &stream{ctx: ctx, script: s}
	for {
		chunk, err := st.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return reply, err
		}
		reply.Text += chunk
	}
	if len(s.Image) > 0 {
		reply.Images = [][]byte{s.Image}
	}
	return reply, nil
}

type stream struct {
	ctx    context.Context
	script Script
	pos    int
}

func (s *stream) Recv() (string, error) {
	if s.script.Delay > 0 {
		select {
		case <-time.After(s.script.Delay):
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		}
	}
	if s.pos < len(s.script.Chunks) {
		s.pos++
		return s.script.Chunks[s.pos-1], nil
	}
	if s.script.Err != nil {
		return "", s.script.Err
	}
	return "", io.EOF
}

func (s *stream) Close() {}
