package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSESink_Headers(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	_, err := NewSSESink(context.Background(), rec)
	require.NoError(t, err)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
}

func TestSSESink_WriteFrames(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	sink, err := NewSSESink(context.Background(), rec)
	require.NoError(t, err)

	assert.False(t, sink.Started())

	require.NoError(t, sink.Write(Event{Type: TypeTextDelta, Content: "hello"}))
	require.NoError(t, sink.Write(Event{Type: TypeFinish, Content: ""}))

	assert.True(t, sink.Started())

	body := rec.Body.String()
	frames := strings.Split(strings.TrimSuffix(body, "\n\n"), "\n\n")
	require.Len(t, frames, 2)
	assert.Equal(t, `data: {"type":"text-delta","content":"hello"}`, frames[0])
	assert.Equal(t, `data: {"type":"finish","content":""}`, frames[1])
}

// nonFlushable is an http.ResponseWriter without http.Flusher.
type nonFlushable struct {
	header http.Header
}

func (w nonFlushable) Header() http.Header       { return w.header }
func (w nonFlushable) Write(b []byte) (int, error) { return len(b), nil }
func (w nonFlushable) WriteHeader(int)           {}

func TestSSESink_RequiresFlusher(t *testing.T) {
	t.Parallel()

	_, err := NewSSESink(context.Background(), nonFlushable{header: http.Header{}})
	require.Error(t, err)
}

func TestSSESink_StopsAfterDisconnect(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	rec := httptest.NewRecorder()
	sink, err := NewSSESink(ctx, rec)
	require.NoError(t, err)

	require.NoError(t, sink.Write(Event{Type: TypeTextDelta, Content: "before"}))

	cancel()
	err = sink.Write(Event{Type: TypeTextDelta, Content: "after"})
	require.ErrorIs(t, err, context.Canceled)

	// Nothing after the disconnect reaches the response.
	assert.NotContains(t, rec.Body.String(), "after")
}

func TestMemorySink_RecordsInOrder(t *testing.T) {
	t.Parallel()

	sink := NewMemorySink()
	require.NoError(t, sink.Write(Event{Type: TypeID, Content: "doc-1"}))
	require.NoError(t, sink.Write(Event{Type: TypeTitle, Content: "Notes"}))
	require.NoError(t, sink.Write(Event{Type: TypeKind, Content: "text"}))

	assert.Equal(t, []string{TypeID, TypeTitle, TypeKind}, sink.Types())

	events := sink.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "doc-1", events[0].Content)

	// Events returns a copy; mutating it does not affect the sink.
	events[0].Content = "mutated"
	assert.Equal(t, "doc-1", sink.Events()[0].Content)
}
