package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mubot/mu/internal/chat"
	"github.com/mubot/mu/internal/conversation"
	"github.com/mubot/mu/internal/log"
	"github.com/mubot/mu/internal/stream"
)

// fakeEngine replays a scripted stream of chunks into the sink and returns
// the scripted error.
type fakeEngine struct {
	chunks []stream.Chunk
	err    error
	title  string

	gotReq chat.Request
}

func (f *fakeEngine) ExecuteStream(ctx context.Context, req chat.Request, sink stream.Sink) (chat.Result, error) {
	f.gotReq = req
	for _, c := range f.chunks {
		if err := sink.Send(ctx, c); err != nil {
			return chat.Result{}, err
		}
	}
	if f.err != nil {
		return chat.Result{}, f.err
	}
	msgID := uuid.New()
	var text strings.Builder
	for _, c := range f.chunks {
		text.WriteString(c.Text)
	}
	final := stream.Final{
		ConversationID: req.ConversationID,
		MessageID:      msgID,
		Text:           text.String(),
	}
	if err := sink.Done(ctx, final); err != nil {
		return chat.Result{}, err
	}
	return chat.Result{ConversationID: req.ConversationID, MessageID: msgID, Text: final.Text}, nil
}

func (f *fakeEngine) GenerateTitle(_ context.Context, message string) (string, error) {
	if f.title != "" {
		return f.title, nil
	}
	return truncateTitle(message), nil
}

func newTestServer(t *testing.T, engine ChatEngine, store conversation.Store) *httptest.Server {
	t.Helper()
	srv, err := New(Config{
		Engine: engine,
		Store:  store,
		Logger: log.NewNop(),
	})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", strings.NewReader(string(raw)))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestChatStream(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{chunks: []stream.Chunk{
		{Text: "Hello ", IsBoundary: true},
		{Text: "world!", IsBoundary: true},
	}}
	store := conversation.NewMemoryStore()
	ts := newTestServer(t, engine, store)

	resp := postJSON(t, ts.URL+"/api/v1/chat/stream", map[string]string{
		"message": "greet the world",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readSSE(t, resp)
	require.Len(t, events, 3)

	var c0, c1 stream.Chunk
	require.Equal(t, "chunk", events[0].Type)
	require.NoError(t, json.Unmarshal([]byte(events[0].Data), &c0))
	assert.Equal(t, "Hello ", c0.Text)
	assert.True(t, c0.IsBoundary)

	require.Equal(t, "chunk", events[1].Type)
	require.NoError(t, json.Unmarshal([]byte(events[1].Data), &c1))
	assert.Equal(t, "world!", c1.Text)

	var final stream.Final
	require.Equal(t, "done", events[2].Type)
	require.NoError(t, json.Unmarshal([]byte(events[2].Data), &final))
	assert.Equal(t, "Hello world!", final.Text)
	assert.NotEqual(t, uuid.Nil, final.MessageID)

	// A fresh conversation was created and titled from the message.
	convs, err := store.List(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "greet the world", convs[0].Title)
	assert.Equal(t, convs[0].ID, final.ConversationID)
	assert.Equal(t, convs[0].ID, engine.gotReq.ConversationID)
}

func TestChatStreamExistingConversation(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{chunks: []stream.Chunk{{Text: "ok", IsBoundary: true}}}
	store := conversation.NewMemoryStore()
	conv, err := store.Create(context.Background(), "existing")
	require.NoError(t, err)
	ts := newTestServer(t, engine, store)

	resp := postJSON(t, ts.URL+"/api/v1/chat/stream", map[string]string{
		"conversation_id": conv.ID.String(),
		"message":         "hi",
		"persona_id":      "pirate",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	readSSE(t, resp)

	assert.Equal(t, conv.ID, engine.gotReq.ConversationID)
	assert.Equal(t, "pirate", engine.gotReq.PersonaID)

	// No second conversation was created.
	convs, err := store.List(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestChatStreamValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{
			name:     "empty message",
			body:     `{"message":""}`,
			wantCode: http.StatusBadRequest,
			wantErr:  "empty_message",
		},
		{
			name:     "malformed json",
			body:     `{"message":`,
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid_request",
		},
		{
			name:     "bad conversation id",
			body:     `{"message":"hi","conversation_id":"not-a-uuid"}`,
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid_conversation_id",
		},
		{
			name:     "unknown conversation",
			body:     `{"message":"hi","conversation_id":"` + uuid.NewString() + `"}`,
			wantCode: http.StatusNotFound,
			wantErr:  "conversation_not_found",
		},
	}

	engine := &fakeEngine{}
	ts := newTestServer(t, engine, conversation.NewMemoryStore())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp, err := http.Post(ts.URL+"/api/v1/chat/stream", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantCode, resp.StatusCode)
			var body errorBody
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.wantErr, body.Code)
		})
	}
}

func TestChatStreamEngineError(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{
		chunks: []stream.Chunk{{Text: "partial ", IsBoundary: true}},
		err:    chat.ErrProviderUnavailable,
	}
	ts := newTestServer(t, engine, conversation.NewMemoryStore())

	resp := postJSON(t, ts.URL+"/api/v1/chat/stream", map[string]string{"message": "hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode) // headers already sent

	events := readSSE(t, resp)
	require.Len(t, events, 2)
	assert.Equal(t, "chunk", events[0].Type)

	require.Equal(t, "error", events[1].Type)
	var body errorBody
	require.NoError(t, json.Unmarshal([]byte(events[1].Data), &body))
	assert.Equal(t, "provider_unavailable", body.Code)
}

func TestMapEngineError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"empty message", chat.ErrEmptyMessage, "empty_message"},
		{"corrupt history", chat.ErrHistoryCorrupt, "history_corrupt"},
		{"provider down", chat.ErrProviderUnavailable, "provider_unavailable"},
		{"canceled", context.Canceled, "canceled"},
		{"deadline", context.DeadlineExceeded, "canceled"},
		{"unknown", assert.AnError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, _ := mapEngineError(tt.err)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestTruncateTitle(t *testing.T) {
	t.Parallel()

	short := "a short title"
	assert.Equal(t, short, truncateTitle(short))

	long := strings.Repeat("x", 100)
	got := truncateTitle(long)
	assert.Equal(t, 60, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))
}
