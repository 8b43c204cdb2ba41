package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// OpenWithFallback 先尝试主模型，仅当首个分片之前出现权限错误时改用备用模型
//
// 返回的流已预读首个分片，调用方按正常流消费。返回值中的模型ID为实际使用的模型。
// secondary 为空时不降级。
func OpenWithFallback(ctx context.Context, gen Generator, req Request, primary, secondary string) (Stream, string, error) {
	req.Model = primary
	s, err := openPeeked(ctx, gen, req)
	if err == nil {
		return s, primary, nil
	}
	if secondary == "" || secondary == primary || !IsPermissionDenied(err) {
		return nil, primary, err
	}

	req.Model = secondary
	s, fbErr := openPeeked(ctx, gen, req)
	if fbErr != nil {
		return nil, secondary, fmt.Errorf("fallback to %s after %v: %w", secondary, err, fbErr)
	}
	return s, secondary, nil
}

// openPeeked 打开流并读取首个分片，使延迟到首次读取的错误也能在此暴露
func openPeeked(ctx context.Context, gen Generator, req Request) (Stream, error) {
	s, err := gen.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	first, err := s.Recv()
	if err != nil && !errors.Is(err, io.EOF) {
		s.Close()
		return nil, err
	}
	return &peekedStream{Stream: s, first: first, firstErr: err, pending: true}, nil
}

type peekedStream struct {
	Stream
	first    string
	firstErr error
	pending  bool
}

func (p *peekedStream) Recv() (string, error) {
	if p.pending {
		p.pending = false
		if p.firstErr != nil {
			return "", p.firstErr
		}
		return p.first, nil
	}
	return p.Stream.Recv()
}
