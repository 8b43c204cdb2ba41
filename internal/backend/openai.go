package backend

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/aihub/gemini-bot/internal/config"
	apperrors "github.com/aihub/gemini-bot/internal/errors"
	"github.com/aihub/gemini-bot/internal/session"
)

// OpenAIGenerator 通过OpenAI兼容接口访问Gemini
type OpenAIGenerator struct {
	client *openai.Client
	logger *zap.Logger
}

// NewOpenAIGenerator 创建后端客户端，httpClient 为空时使用默认客户端
func NewOpenAIGenerator(cfg config.AIConfig, httpClient *http.Client, logger *zap.Logger) (*OpenAIGenerator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, apperrors.NewConfigError(apperrors.ErrCodeMissingCredential, "ai api key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if httpClient != nil {
		clientConfig.HTTPClient = httpClient
	}

	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(clientConfig),
		logger: logger,
	}, nil
}

// buildMessages 将历史和新消息转换为接口消息
func buildMessages(req Request) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.History)+1)
	for _, turn := range req.History {
		role := openai.ChatMessageRoleUser
		if turn.Role == session.RoleModel {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: turn.Text})
	}

	if len(req.Image) == 0 {
		return append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: req.Prompt,
		})
	}

	mime := req.ImageMIME
	if mime == "" {
		mime = http.DetectContentType(req.Image)
	}
	parts := []openai.ChatMessagePart{
		{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(req.Image),
				Detail: openai.ImageURLDetailAuto,
			},
		},
	}
	if req.Prompt != "" {
		parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: req.Prompt})
	}
	return append(msgs, openai.ChatCompletionMessage{
		Role:         openai.ChatMessageRoleUser,
		MultiContent: parts,
	})
}

// Stream 发起流式对话
func (g *OpenAIGenerator) Stream(ctx context.Context, req Request) (Stream, error) {
	stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: buildMessages(req),
		Stream:   true,
	})
	if err != nil {
		return nil, classify(ctx, req.Model, err)
	}
	g.logger.Debug("流式请求已建立", zap.String("model", req.Model), zap.Int("history", len(req.History)))
	return &openAIStream{ctx: ctx, model: req.Model, stream: stream}, nil
}

// Draw 根据提示生成图片，返回图片字节
func (g *OpenAIGenerator) Draw(ctx context.Context, model, prompt string) ([]byte, error) {
	resp, err := g.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          model,
		N:              1,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, classify(ctx, model, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, apperrors.NewExternalError(apperrors.ErrCodeBackend, "image response is empty")
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, apperrors.NewExternalError(apperrors.ErrCodeBackend, "decode image payload").WithCause(err)
	}
	return data, nil
}

// EditImage 发送图片和说明，回复中的图片以 data URL 形式返回
func (g *OpenAIGenerator) EditImage(ctx context.Context, req Request) (Reply, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: buildMessages(req),
	})
	if err != nil {
		return Reply{}, classify(ctx, req.Model, err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, nil
	}
	return parseReply(resp.Choices[0].Message)
}

// inlineImage 匹配正文中内嵌的 markdown 图片
var inlineImage = regexp.MustCompile(`!\[[^\]]*\]\((data:image/[^)\s]+)\)`)

// parseReply 拆分回复中的文字和图片
func parseReply(msg openai.ChatCompletionMessage) (Reply, error) {
	var (
		reply Reply
		texts []string
	)
	add := func(text string) error {
		for _, m := range inlineImage.FindAllStringSubmatch(text, -1) {
			data, err := decodeDataURL(m[1])
			if err != nil {
				return err
			}
			reply.Images = append(reply.Images, data)
		}
		if text = strings.TrimSpace(inlineImage.ReplaceAllString(text, "")); text != "" {
			texts = append(texts, text)
		}
		return nil
	}

	if err := add(msg.Content); err != nil {
		return Reply{}, err
	}
	for _, part := range msg.MultiContent {
		switch part.Type {
		case openai.ChatMessagePartTypeText:
			if err := add(part.Text); err != nil {
				return Reply{}, err
			}
		case openai.ChatMessagePartTypeImageURL:
			if part.ImageURL == nil {
				continue
			}
			data, err := decodeDataURL(part.ImageURL.URL)
			if err != nil {
				return Reply{}, err
			}
			reply.Images = append(reply.Images, data)
		}
	}
	reply.Text = strings.Join(texts, "\n\n")
	return reply, nil
}

// decodeDataURL 解码 data:image/...;base64, 形式的图片
func decodeDataURL(url string) ([]byte, error) {
	const marker = ";base64,"
	idx := strings.Index(url, marker)
	if !strings.HasPrefix(url, "data:image/") || idx < 0 {
		return nil, apperrors.NewExternalError(apperrors.ErrCodeBackend, "unsupported image part in response")
	}
	data, err := base64.StdEncoding.DecodeString(url[idx+len(marker):])
	if err != nil {
		return nil, apperrors.NewExternalError(apperrors.ErrCodeBackend, "decode image part").WithCause(err)
	}
	return data, nil
}

type openAIStream struct {
	ctx    context.Context
	model  string
	stream *openai.ChatCompletionStream
}

// Recv 返回下一个非空文本分片
func (s *openAIStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", classify(s.ctx, s.model, err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if text := resp.Choices[0].Delta.Content; text != "" {
			return text, nil
		}
	}
}

func (s *openAIStream) Close() {
	s.stream.Close()
}

// classify 将接口错误归类为应用错误
func classify(ctx context.Context, model string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.NewExternalError(apperrors.ErrCodeTimeout, "model "+model+" timed out").WithCause(err)
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return apperrors.NewExternalError(apperrors.ErrCodePermissionDenied, "model "+model+" access denied").
			WithCause(fmt.Errorf("%w: %v", ErrPermissionDenied, err)).
			WithDetails(map[string]int{"status": status})
	}
	return apperrors.NewExternalError(apperrors.ErrCodeBackend, "model "+model+" request failed").WithCause(err)
}
