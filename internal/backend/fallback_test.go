package backend_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aihub/gemini-bot/internal/backend"
	"github.com/aihub/gemini-bot/internal/backend/backendtest"
	apperrors "github.com/aihub/gemini-bot/internal/errors"
	"github.com/aihub/gemini-bot/internal/session"
)

func drain(t *testing.T, s backend.Stream) (string, error) {
	t.Helper()
	defer s.Close()
	var out string
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out += chunk
	}
}

func TestOpenWithFallback_PrimarySucceeds(t *testing.T) {
	gen := backendtest.New().On("pro", backendtest.Script{Chunks: []string{"John ", "Lennon"}})

	s, model, err := backend.OpenWithFallback(context.Background(), gen, backend.Request{Prompt: "hi"}, "pro", "flash")
	require.NoError(t, err)
	assert.Equal(t, "pro", model)

	text, err := drain(t, s)
	require.NoError(t, err)
	assert.Equal(t, "John Lennon", text)
	assert.Len(t, gen.Requests(), 1)
}

func TestOpenWithFallback_PermissionDeniedOnOpen(t *testing.T) {
	gen := backendtest.New().
		On("pro", backendtest.Script{OpenErr: backend.ErrPermissionDenied}).
		On("flash", backendtest.Script{Chunks: []string{"fast answer"}})

	s, model, err := backend.OpenWithFallback(context.Background(), gen, backend.Request{Prompt: "hi"}, "pro", "flash")
	require.NoError(t, err)
	assert.Equal(t, "flash", model)

	text, err := drain(t, s)
	require.NoError(t, err)
	assert.Equal(t, "fast answer", text)

	reqs := gen.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "pro", reqs[0].Model)
	assert.Equal(t, "flash", reqs[1].Model)
}

func TestOpenWithFallback_PermissionDeniedBeforeFirstChunk(t *testing.T) {
	denied := apperrors.NewExternalError(apperrors.ErrCodePermissionDenied, "403")
	gen := backendtest.New().
		On("pro", backendtest.Script{Err: denied}).
		On("flash", backendtest.Script{Chunks: []string{"ok"}})

	s, model, err := backend.OpenWithFallback(context.Background(), gen, backend.Request{}, "pro", "flash")
	require.NoError(t, err)
	assert.Equal(t, "flash", model)
	text, _ := drain(t, s)
	assert.Equal(t, "ok", text)
}

func TestOpenWithFallback_OtherErrorsDoNotFallBack(t *testing.T) {
	boom := errors.New("503 unavailable")
	gen := backendtest.New().
		On("pro", backendtest.Script{OpenErr: boom}).
		On("flash", backendtest.Script{Chunks: []string{"unused"}})

	_, _, err := backend.OpenWithFallback(context.Background(), gen, backend.Request{}, "pro", "flash")
	require.ErrorIs(t, err, boom)
	assert.Len(t, gen.Requests(), 1)
}

func TestOpenWithFallback_MidStreamDenialIsNotRetried(t *testing.T) {
	gen := backendtest.New().
		On("pro", backendtest.Script{Chunks: []string{"partial"}, Err: backend.ErrPermissionDenied}).
		On("flash", backendtest.Script{Chunks: []string{"unused"}})

	s, model, err := backend.OpenWithFallback(context.Background(), gen, backend.Request{}, "pro", "flash")
	require.NoError(t, err)
	assert.Equal(t, "pro", model)

	text, err := drain(t, s)
	assert.Equal(t, "partial", text)
	assert.ErrorIs(t, err, backend.ErrPermissionDenied)
	assert.Len(t, gen.Requests(), 1)
}

func TestOpenWithFallback_BothDenied(t *testing.T) {
	gen := backendtest.New().
		On("pro", backendtest.Script{OpenErr: backend.ErrPermissionDenied}).
		On("flash", backendtest.Script{OpenErr: backend.ErrPermissionDenied})

	_, model, err := backend.OpenWithFallback(context.Background(), gen, backend.Request{}, "pro", "flash")
	require.Error(t, err)
	assert.Equal(t, "flash", model)
	assert.True(t, backend.IsPermissionDenied(err))
}

func TestOpenWithFallback_NoSecondary(t *testing.T) {
	gen := backendtest.New().On("flash", backendtest.Script{OpenErr: backend.ErrPermissionDenied})

	_, _, err := backend.OpenWithFallback(context.Background(), gen, backend.Request{}, "flash", "")
	require.ErrorIs(t, err, backend.ErrPermissionDenied)
	assert.Len(t, gen.Requests(), 1)
}

func TestOpenWithFallback_EmptyStream(t *testing.T) {
	gen := backendtest.New().On("flash", backendtest.Script{})

	s, _, err := backend.OpenWithFallback(context.Background(), gen, backend.Request{}, "flash", "")
	require.NoError(t, err)
	text, err := drain(t, s)
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestNewRequest_CopiesHistory(t *testing.T) {
	history := []session.Turn{{Role: session.RoleUser, Text: "q"}, {Role: session.RoleModel, Text: "a"}}
	req := backend.NewRequest("flash", history, "next")

	history[0].Text = "changed"
	assert.Equal(t, "q", req.History[0].Text)
	assert.Equal(t, "next", req.Prompt)
}
