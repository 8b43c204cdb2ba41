package relay

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aihub/gemini-bot/internal/backend"
	"github.com/aihub/gemini-bot/internal/backend/backendtest"
	"github.com/aihub/gemini-bot/internal/config"
	apperrors "github.com/aihub/gemini-bot/internal/errors"
	"github.com/aihub/gemini-bot/internal/transport"
	"github.com/aihub/gemini-bot/internal/transport/transporttest"
)

var testNotices = Notices{
	Placeholder:  "🤖Generating🤖",
	NoContent:    "No content was generated.",
	ErrorInfo:    "Something went wrong!",
	ErrorDetails: "Error details: ",
}

type countingObserver struct {
	edits  map[string]int
	firsts int
}

func (o *countingObserver) IncEdit(result string) {
	if o.edits == nil {
		o.edits = make(map[string]int)
	}
	o.edits[result]++
}

func (o *countingObserver) ObserveFirstChunk(string, time.Duration) { o.firsts++ }

func newRelay(rec *transporttest.Recorder, interval time.Duration, maxLen int) (*Relay, *countingObserver) {
	obs := &countingObserver{}
	return New(rec, config.StreamConfig{UpdateInterval: interval, MaxMessageLength: maxLen}, nil, obs), obs
}

func openScript(s backendtest.Script) func(ctx context.Context) (backend.Stream, error) {
	gen := backendtest.New().On("m", s)
	return func(ctx context.Context) (backend.Stream, error) {
		return gen.Stream(ctx, backend.Request{Model: "m"})
	}
}

func assertMonotonic(t *testing.T, edits []string) {
	t.Helper()
	for i := 1; i < len(edits); i++ {
		assert.True(t, strings.HasPrefix(edits[i], edits[i-1]), "edit %d %q does not extend %q", i, edits[i], edits[i-1])
	}
}

func TestRelay_StreamsIntoPlaceholder(t *testing.T) {
	rec := transporttest.New()
	r, obs := newRelay(rec, 0, 4096)

	res, err := r.Run(context.Background(), Request{
		ChatID:  1,
		ReplyTo: 9,
		Model:   "m",
		Open:    openScript(backendtest.Script{Chunks: []string{"John ", "Lennon ", "was…"}}),
		Timeout: time.Second,
		Notices: testNotices,
	})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, "John Lennon was…", res.Text)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, "John Lennon was…", rec.Text(res.Message))

	calls := rec.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, "send", calls[0].Method)
	assert.Equal(t, testNotices.Placeholder, calls[0].Text)
	assert.Equal(t, 9, calls[0].Opts.ReplyTo)

	edits := rec.Edits()
	assertMonotonic(t, edits)
	assert.Equal(t, "John Lennon was…", edits[len(edits)-1])
	assert.Equal(t, 1, obs.firsts)
	assert.Equal(t, 1, rec.Messages())
}

func TestRelay_UpdateIntervalLimitsEdits(t *testing.T) {
	rec := transporttest.New()
	r, _ := newRelay(rec, 0, 4096)
	r.SetUpdateInterval(time.Hour)

	res, err := r.Run(context.Background(), Request{
		ChatID:  1,
		Open:    openScript(backendtest.Script{Chunks: []string{"a", "b", "c", "d"}}),
		Notices: testNotices,
	})
	require.NoError(t, err)

	// 间隔未到，只有最终一次编辑
	assert.Equal(t, []string{"abcd"}, rec.Edits())
	assert.Equal(t, "abcd", rec.Text(res.Message))
}

func TestRelay_TimeoutBeforeFirstChunk(t *testing.T) {
	rec := transporttest.New()
	r, _ := newRelay(rec, 0, 4096)

	res, err := r.Run(context.Background(), Request{
		ChatID:  1,
		Open:    openScript(backendtest.Script{Chunks: []string{"late"}, Delay: 500 * time.Millisecond}),
		Timeout: 30 * time.Millisecond,
		Notices: testNotices,
	})
	require.NoError(t, err)
	require.Error(t, res.Err)
	assert.True(t, apperrors.IsCode(res.Err, apperrors.ErrCodeTimeout))
	assert.Empty(t, res.Text)

	final := rec.Text(res.Message)
	assert.True(t, strings.HasPrefix(final, testNotices.ErrorInfo))
	assert.Contains(t, final, testNotices.ErrorDetails)
	assert.NotContains(t, final, "⚠️")
}

func TestRelay_MidStreamFailureKeepsPartial(t *testing.T) {
	rec := transporttest.New()
	r, _ := newRelay(rec, 0, 4096)

	res, err := r.Run(context.Background(), Request{
		ChatID:  1,
		Open:    openScript(backendtest.Script{Chunks: []string{"one ", "two ", "three"}, Err: errors.New("stream reset")}),
		Notices: testNotices,
	})
	require.NoError(t, err)
	require.Error(t, res.Err)
	assert.Equal(t, "one two three", res.Text)

	final := rec.Text(res.Message)
	assert.True(t, strings.HasPrefix(final, "one two three"))
	assert.Contains(t, final, "⚠️ Error details: stream reset")
	assertMonotonic(t, rec.Edits())
}

func TestRelay_OpenErrorShowsNotice(t *testing.T) {
	rec := transporttest.New()
	r, _ := newRelay(rec, 0, 4096)

	res, err := r.Run(context.Background(), Request{
		ChatID:  1,
		Open:    openScript(backendtest.Script{OpenErr: errors.New("503 unavailable")}),
		Notices: testNotices,
	})
	require.NoError(t, err)
	assert.EqualError(t, res.Err, "503 unavailable")
	assert.Equal(t, "Something went wrong!\n\nError details: 503 unavailable", rec.Text(res.Message))
}

func TestRelay_EmptyStreamShowsNoContent(t *testing.T) {
	rec := transporttest.New()
	r, _ := newRelay(rec, 0, 4096)

	res, err := r.Run(context.Background(), Request{
		ChatID:  1,
		Open:    openScript(backendtest.Script{}),
		Notices: testNotices,
	})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, testNotices.NoContent, rec.Text(res.Message))
}

func TestRelay_MarkupFailureFallsBackToPlain(t *testing.T) {
	rec := transporttest.New()
	rec.EditErr = func(_ string, mode transport.ParseMode) error {
		if mode == transport.ParseModeMarkdown {
			return transport.ErrMarkup
		}
		return nil
	}
	r, obs := newRelay(rec, 0, 4096)

	res, err := r.Run(context.Background(), Request{
		ChatID:  1,
		Open:    openScript(backendtest.Script{Chunks: []string{"**unbalanced"}}),
		Notices: testNotices,
	})
	require.NoError(t, err)
	assert.Equal(t, "**unbalanced", rec.Text(res.Message))
	assert.GreaterOrEqual(t, obs.edits["plain_fallback"], 1)
	assert.Zero(t, obs.edits["failed"])
}

func TestRelay_EditFailureIsLoggedAndFinalSentFresh(t *testing.T) {
	rec := transporttest.New()
	rec.EditErr = func(string, transport.ParseMode) error { return errors.New("message to edit not found") }
	r, obs := newRelay(rec, 0, 4096)

	res, err := r.Run(context.Background(), Request{
		ChatID:  1,
		Open:    openScript(backendtest.Script{Chunks: []string{"a", "b"}}),
		Notices: testNotices,
	})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, "ab", res.Text)
	assert.Positive(t, obs.edits["failed"])

	calls := rec.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, "send", last.Method)
	assert.Equal(t, "ab", last.Text)
}

func TestRelay_PlaceholderFailureAborts(t *testing.T) {
	rec := transporttest.New()
	rec.SendErr = errors.New("bot was blocked by the user")
	r, _ := newRelay(rec, 0, 4096)

	opened := false
	_, err := r.Run(context.Background(), Request{
		ChatID: 1,
		Open: func(ctx context.Context) (backend.Stream, error) {
			opened = true
			return nil, errors.New("unreachable")
		},
		Notices: testNotices,
	})
	require.Error(t, err)
	assert.False(t, opened)
}

func TestRelay_LongAnswerIsSplit(t *testing.T) {
	rec := transporttest.New()
	r, _ := newRelay(rec, 0, 100)

	long := strings.Repeat("x", 90) + "\n" + strings.Repeat("y", 90) + "\n" + strings.Repeat("z", 30)
	res, err := r.Run(context.Background(), Request{
		ChatID:  1,
		Open:    openScript(backendtest.Script{Chunks: []string{long[:60], long[60:]}}),
		Notices: testNotices,
	})
	require.NoError(t, err)
	assert.Equal(t, long, res.Text)
	assert.Equal(t, strings.Repeat("x", 90), rec.Text(res.Message))

	var sent []string
	for _, c := range rec.Calls()[1:] {
		if c.Method == "send" {
			sent = append(sent, c.Text)
		}
	}
	assert.Equal(t, []string{strings.Repeat("y", 90), strings.Repeat("z", 30)}, sent)
	for _, e := range rec.Edits() {
		assert.LessOrEqual(t, len([]rune(e)), 100)
	}
	assertMonotonic(t, rec.Edits())
}

func TestRelay_LongAnswerKeepsShownPrefix(t *testing.T) {
	rec := transporttest.New()
	r, _ := newRelay(rec, 0, 100)

	// 第一段在换行后已展示了一部分，继续增长后首段不能回退
	first := strings.Repeat("x", 90) + "\n" + strings.Repeat("y", 4)
	second := strings.Repeat("y", 86) + "\n" + strings.Repeat("z", 30)
	res, err := r.Run(context.Background(), Request{
		ChatID:  1,
		Open:    openScript(backendtest.Script{Chunks: []string{first, second}}),
		Notices: testNotices,
	})
	require.NoError(t, err)
	assert.Equal(t, first+second, res.Text)

	assertMonotonic(t, rec.Edits())
	assert.Equal(t, first, rec.Text(res.Message))

	var sent []string
	for _, c := range rec.Calls()[1:] {
		if c.Method == "send" {
			sent = append(sent, c.Text)
		}
	}
	assert.Equal(t, []string{strings.Repeat("y", 86), strings.Repeat("z", 30)}, sent)
}

func TestRelay_CanceledCallerStillFinalizes(t *testing.T) {
	rec := transporttest.New()
	r, _ := newRelay(rec, 0, 4096)

	ctx, cancel := context.WithCancel(context.Background())
	gen := backendtest.New().On("m", backendtest.Script{Chunks: []string{"partial", "never"}, Delay: 20 * time.Millisecond})
	res, err := r.Run(ctx, Request{
		ChatID: 1,
		Open: func(callCtx context.Context) (backend.Stream, error) {
			s, err := gen.Stream(callCtx, backend.Request{Model: "m"})
			time.AfterFunc(30*time.Millisecond, cancel)
			return s, err
		},
		Notices: testNotices,
	})
	require.NoError(t, err)
	require.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, "partial", res.Text)
	assert.True(t, strings.HasPrefix(rec.Text(res.Message), "partial\n\n⚠️"))
}

func TestDiagnostic(t *testing.T) {
	assert.Empty(t, Diagnostic(nil))
	assert.Equal(t, "boom", Diagnostic(errors.New("boom")))

	long := Diagnostic(errors.New(strings.Repeat("e", 500)))
	assert.Equal(t, maxDiagnosticRunes+1, len([]rune(long)))
	assert.True(t, strings.HasSuffix(long, "…"))
}
