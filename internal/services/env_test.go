package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aihub/gemini-bot/internal/backend/backendtest"
	"github.com/aihub/gemini-bot/internal/config"
	"github.com/aihub/gemini-bot/internal/locale"
	"github.com/aihub/gemini-bot/internal/quota"
	"github.com/aihub/gemini-bot/internal/relay"
	"github.com/aihub/gemini-bot/internal/router"
	"github.com/aihub/gemini-bot/internal/session"
	"github.com/aihub/gemini-bot/internal/settings"
	"github.com/aihub/gemini-bot/internal/transport/transporttest"
)

var testModels = config.ModelsConfig{
	Fast:       "flash",
	Pro:        "pro-model",
	Image:      "imagen",
	VisionEdit: "vision",
}

type recordingObserver struct {
	mu        sync.Mutex
	outcomes  []string
	fallbacks []string
	refusals  int
	images    []string
}

func (o *recordingObserver) ObserveExchange(track, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, track+":"+outcome)
}

func (o *recordingObserver) IncFallback(from, to string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fallbacks = append(o.fallbacks, from+"->"+to)
}

func (o *recordingObserver) IncQuotaRefusal() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refusals++
}

func (o *recordingObserver) IncImage(op, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.images = append(o.images, op+":"+outcome)
}

type testEnv struct {
	gen      *backendtest.Generator
	rec      *transporttest.Recorder
	quota    *quota.MemoryStore
	settings *settings.MemoryStore
	router   *router.Router
	sessions *session.Store
	observer *recordingObserver
	catalog  *locale.Catalog
	chat     *ChatService
	image    *ImageService
}

func newTestEnv(t *testing.T, ai config.AIConfig) *testEnv {
	t.Helper()
	if ai.TextTimeout == 0 {
		ai.TextTimeout = time.Second
	}
	if ai.ImageTimeout == 0 {
		ai.ImageTimeout = time.Second
	}

	env := &testEnv{
		gen:      backendtest.New(),
		rec:      transporttest.New(),
		quota:    quota.NewMemoryStore(100),
		settings: settings.NewMemoryStore(),
		observer: &recordingObserver{},
		catalog:  locale.NewCatalog("en"),
	}
	r, err := router.New(testModels, env.settings, nil)
	require.NoError(t, err)
	env.router = r
	env.sessions = session.NewStore(10, r, r, nil)

	rl := relay.New(env.rec, config.StreamConfig{UpdateInterval: 0, MaxMessageLength: 4096}, nil, nil)
	prefs := NewPreferenceService(env.settings, env.catalog, nil)

	env.chat = NewChatService(ChatDeps{
		Sessions:    env.sessions,
		Router:      r,
		Generator:   env.gen,
		Relay:       rl,
		Messenger:   env.rec,
		Quota:       env.quota,
		Preferences: prefs,
		Observer:    env.observer,
		AI:          ai,
	})
	env.image = NewImageService(ImageDeps{
		Router:      r,
		Generator:   env.gen,
		Relay:       rl,
		Messenger:   env.rec,
		Quota:       env.quota,
		Preferences: prefs,
		Observer:    env.observer,
		AI:          ai,
	})
	return env
}

// history 返回用户在通道上的历史
func (e *testEnv) history(t *testing.T, userID int64, track router.Kind) []session.Turn {
	t.Helper()
	sess, err := e.sessions.Acquire(context.Background(), userID)
	require.NoError(t, err)
	defer sess.Release()
	conv, err := sess.GetOrCreate(track)
	require.NoError(t, err)
	return conv.Context()
}

func (e *testEnv) text(key string) string {
	return e.catalog.Get(locale.EN, key)
}
