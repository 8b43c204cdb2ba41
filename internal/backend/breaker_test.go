package backend_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aihub/gemini-bot/internal/backend"
	"github.com/aihub/gemini-bot/internal/backend/backendtest"
	"github.com/aihub/gemini-bot/internal/config"
	apperrors "github.com/aihub/gemini-bot/internal/errors"
)

func breakerConfig() config.BreakerConfig {
	return config.BreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, OpenTimeout: 50 * time.Millisecond}
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	gen := backendtest.New().On("flash", backendtest.Script{OpenErr: errors.New("503")})
	b := backend.NewBreaker(gen, breakerConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := b.EditImage(ctx, backend.Request{Model: "flash"})
		require.Error(t, err)
	}
	assert.Equal(t, backend.StateOpen, b.For("flash").State())

	_, err := b.EditImage(ctx, backend.Request{Model: "flash"})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeCircuitOpen))
	assert.Equal(t, 2, gen.Calls())

	// 其他模型不受影响
	assert.Equal(t, backend.StateClosed, b.For("pro").State())
}

func TestBreaker_HalfOpenRecovers(t *testing.T) {
	gen := backendtest.New().On("flash", backendtest.Script{OpenErr: errors.New("503")})
	b := backend.NewBreaker(gen, breakerConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _ = b.EditImage(ctx, backend.Request{Model: "flash"})
	}
	require.Equal(t, backend.StateOpen, b.For("flash").State())

	time.Sleep(60 * time.Millisecond)
	gen.On("flash", backendtest.Script{Chunks: []string{"ok"}})

	reply, err := b.EditImage(ctx, backend.Request{Model: "flash"})
	require.NoError(t, err)
	assert.Equal(t, "ok", reply.Text)
	assert.Equal(t, backend.StateClosed, b.For("flash").State())
}

func TestBreaker_PermissionErrorsDoNotTrip(t *testing.T) {
	gen := backendtest.New().On("pro", backendtest.Script{OpenErr: backend.ErrPermissionDenied})
	b := backend.NewBreaker(gen, breakerConfig(), nil)

	for i := 0; i < 5; i++ {
		_, err := b.Stream(context.Background(), backend.Request{Model: "pro"})
		require.True(t, backend.IsPermissionDenied(err))
	}
	assert.Equal(t, backend.StateClosed, b.For("pro").State())
}

func TestBreaker_MidStreamFailureCounts(t *testing.T) {
	gen := backendtest.New().On("flash", backendtest.Script{Chunks: []string{"a"}, Err: errors.New("reset")})
	b := backend.NewBreaker(gen, breakerConfig(), nil)

	for i := 0; i < 2; i++ {
		s, err := b.Stream(context.Background(), backend.Request{Model: "flash"})
		require.NoError(t, err)
		_, err = drain(t, s)
		require.Error(t, err)
	}
	assert.Equal(t, backend.StateOpen, b.For("flash").State())
}

func TestBreaker_Draw(t *testing.T) {
	gen := backendtest.New().On("imagen", backendtest.Script{Image: []byte{0x89, 'P', 'N', 'G'}})
	b := backend.NewBreaker(gen, breakerConfig(), nil)

	data, err := b.Draw(context.Background(), "imagen", "a cat")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data)
}

func TestBreaker_EditImage(t *testing.T) {
	gen := backendtest.New().
		On("vision", backendtest.Script{Chunks: []string{"done"}, Image: []byte{0x89, 'P', 'N', 'G'}}).
		On("broken", backendtest.Script{OpenErr: errors.New("upstream 500")})
	b := backend.NewBreaker(gen, breakerConfig(), nil)

	reply, err := b.EditImage(context.Background(), backend.Request{Model: "vision"})
	require.NoError(t, err)
	assert.Equal(t, "done", reply.Text)
	assert.Len(t, reply.Images, 1)

	for i := 0; i < 2; i++ {
		_, err := b.EditImage(context.Background(), backend.Request{Model: "broken"})
		require.Error(t, err)
	}
	assert.Equal(t, backend.StateOpen, b.For("broken").State())
}
