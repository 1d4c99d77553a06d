package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repnote/repnote/ai/agent"
	"github.com/repnote/repnote/ai/core/llm"
	"github.com/repnote/repnote/ai/persona"
	"github.com/repnote/repnote/internal/profile"
	"github.com/repnote/repnote/store"
)

// fakeLLM classifies everything as ADVICE and replies with a fixed line.
type fakeLLM struct{}

func (fakeLLM) Chat(_ context.Context, messages []llm.Message) (string, error) {
	if strings.Contains(messages[0].Content, "intent classifier") {
		return "ADVICE", nil
	}
	return "Train your legs.", nil
}

func (fakeLLM) ChatStructured(_ context.Context, _ []llm.Message, _ string, _ *llm.JSONSchema) (string, error) {
	return "", nil
}

func (fakeLLM) Transcribe(_ context.Context, _ llm.AudioPayload) (string, error) {
	return "", nil
}

func (fakeLLM) Speak(_ context.Context, _ string, _ string) ([]byte, error) {
	return []byte("speech"), nil
}

type memDriver struct {
	payload []byte
}

func (d *memDriver) LoadLogSlot(_ context.Context) ([]byte, error) { return d.payload, nil }
func (d *memDriver) SaveLogSlot(_ context.Context, p []byte) error { d.payload = p; return nil }
func (d *memDriver) ClearLogSlot(_ context.Context) error          { d.payload = nil; return nil }
func (d *memDriver) Migrate(_ context.Context) error               { return nil }
func (d *memDriver) Close() error                                  { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()

	st := store.New(&memDriver{}, nil)
	personas := persona.NewRegistry()
	transcript := NewTranscript()

	pipeline, err := agent.NewPipeline(agent.PipelineConfig{
		Classifier:    agent.NewClassifier(fakeLLM{}),
		Extractor:     agent.NewExtractor(fakeLLM{}),
		Advisor:       agent.NewAdvisor(fakeLLM{}),
		Speech:        agent.NewSpeech(fakeLLM{}),
		Logs:          st,
		Personas:      personas,
		Emitter:       transcript,
		SpeechEnabled: true,
	})
	require.NoError(t, err)

	s, err := NewServer(context.Background(), &profile.Profile{Mode: "dev"}, st, pipeline, personas, transcript, nil)
	require.NoError(t, err)
	return s
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func TestChat_TextInput(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/api/v1/chat", `{"text":"what should I train?","muted":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Messages []store.ChatMessage `json:"messages"`
		Audio    []byte              `json:"audio"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, store.SenderUser, resp.Messages[0].Sender)
	assert.Equal(t, "Train your legs.", resp.Messages[1].Content)
	assert.Empty(t, resp.Audio, "muted requests carry no audio")

	// The run also landed in the transcript.
	assert.Len(t, s.Transcript.List(), 2)
}

func TestChat_UnmutedReplyIncludesAudio(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/api/v1/chat", `{"text":"what should I train?"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Audio []byte `json:"audio"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []byte("speech"), resp.Audio)
}

func TestChat_EmptyInputRejected(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/api/v1/chat", `{"text":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChat_InvalidBase64Rejected(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/api/v1/chat", `{"audio":"not-base64!!!"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListPersonas(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/api/v1/personas", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Personas []persona.Persona `json:"personas"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Personas)
}

func TestListAndClearLogs(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	date := "2024-05-01"
	_, err := s.Store.MergeWrite(ctx, &store.WorkoutLog{
		Date:        &date,
		WorkoutType: store.WorkoutTypeStrength,
	})
	require.NoError(t, err)

	rec := doRequest(s, http.MethodGet, "/api/v1/logs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Logs []*store.WorkoutLog `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Logs, 1)

	rec = doRequest(s, http.MethodDelete, "/api/v1/logs", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, s.Store.ReadAll(ctx))
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}
