package llm

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
)

// ErrMissingAPIKey is returned by every provider call when no credential is
// configured. Callers use errors.Is to distinguish this from transport
// failures and surface a configuration hint instead of a generic error.
var ErrMissingAPIKey = errors.New("no LLM API key configured")

// Message represents a chat message.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// AudioPayload is one completed recording crossing the provider boundary.
type AudioPayload struct {
	Data     []byte
	MIMEType string
}

// Service is the generative-model provider boundary. All methods are
// synchronous; the provider is treated as an opaque, fallible black box.
type Service interface {
	// Chat performs a plain chat completion and returns the reply text.
	Chat(ctx context.Context, messages []Message) (string, error)

	// ChatStructured performs a chat completion constrained to the given
	// JSON schema and returns the raw JSON text of the reply.
	ChatStructured(ctx context.Context, messages []Message, schemaName string, schema *JSONSchema) (string, error)

	// Transcribe converts a finished recording to text.
	Transcribe(ctx context.Context, audio AudioPayload) (string, error)

	// Speak synthesizes speech for the given text with a named prebuilt
	// voice and returns the encoded audio.
	Speak(ctx context.Context, text string, voice string) ([]byte, error)
}

// Config represents LLM service configuration.
type Config struct {
	Provider        string // openai, deepseek, siliconflow, openrouter, ollama
	Model           string // gpt-4o, deepseek-chat, etc.
	APIKey          string
	BaseURL         string
	MaxTokens       int     // default: 2048
	Temperature     float32 // default: 0.7
	Timeout         int     // request timeout in seconds (default: 120)
	SpeechModel     string  // default: tts-1
	TranscribeModel string  // default: whisper-1
}

type service struct {
	client          *openai.Client
	model           string
	provider        string
	maxTokens       int
	temperature     float32
	timeout         int
	speechModel     string
	transcribeModel string
	requiresKey     bool
	hasKey          bool
}

// NewService creates a new LLM Service.
func NewService(cfg *Config) (Service, error) {
	httpClient := newHTTPClient()

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.HTTPClient = httpClient
	requiresKey := true

	switch cfg.Provider {
	case "openai":
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}
	case "deepseek":
		clientConfig.BaseURL = baseURLOrDefault(cfg.BaseURL, "https://api.deepseek.com")
	case "siliconflow":
		clientConfig.BaseURL = baseURLOrDefault(cfg.BaseURL, "https://api.siliconflow.cn/v1")
	case "openrouter":
		clientConfig.BaseURL = baseURLOrDefault(cfg.BaseURL, "https://openrouter.ai/api/v1")
	case "ollama":
		clientConfig.BaseURL = baseURLOrDefault(cfg.BaseURL, "http://localhost:11434")
		requiresKey = false
	default:
		// Generic fallback for any other OpenAI-compatible provider.
		slog.Info("using generic OpenAI-compatible provider", "provider", cfg.Provider)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	speechModel := cfg.SpeechModel
	if speechModel == "" {
		speechModel = string(openai.TTSModel1)
	}
	transcribeModel := cfg.TranscribeModel
	if transcribeModel == "" {
		transcribeModel = openai.Whisper1
	}

	return &service{
		client:          openai.NewClientWithConfig(clientConfig),
		model:           cfg.Model,
		provider:        cfg.Provider,
		maxTokens:       maxTokens,
		temperature:     cfg.Temperature,
		timeout:         timeout,
		speechModel:     speechModel,
		transcribeModel: transcribeModel,
		requiresKey:     requiresKey,
		hasKey:          cfg.APIKey != "",
	}, nil
}

func (s *service) checkCredential() error {
	if s.requiresKey && !s.hasKey {
		return ErrMissingAPIKey
	}
	return nil
}

func (s *service) Chat(ctx context.Context, messages []Message) (string, error) {
	if err := s.checkCredential(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.timeout)*time.Second)
	defer cancel()

	startTime := time.Now()

	req := openai.ChatCompletionRequest{
		Model:       s.model,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
		Messages:    convertMessages(messages),
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("LLM: chat request failed", "error", err)
		return "", errors.Wrap(err, "LLM chat failed")
	}
	if len(resp.Choices) == 0 {
		slog.Warn("LLM: empty response")
		return "", errors.New("empty response from LLM")
	}

	slog.Debug("LLM: chat response received",
		"content_length", len(resp.Choices[0].Message.Content),
		"total_tokens", resp.Usage.TotalTokens,
		"duration_ms", time.Since(startTime).Milliseconds(),
	)
	return resp.Choices[0].Message.Content, nil
}

func (s *service) ChatStructured(ctx context.Context, messages []Message, schemaName string, schema *JSONSchema) (string, error) {
	if err := s.checkCredential(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.timeout)*time.Second)
	defer cancel()

	startTime := time.Now()

	// Low temperature for structured output keeps the shape deterministic.
	temperature := float32(0.1)
	if s.temperature < 0.1 {
		temperature = s.temperature
	}

	req := openai.ChatCompletionRequest{
		Model:       s.model,
		MaxTokens:   s.maxTokens,
		Temperature: temperature,
		Messages:    convertMessages(messages),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   schemaName,
				Schema: schema,
				Strict: true,
			},
		},
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("LLM: structured request failed", "schema", schemaName, "error", err)
		return "", errors.Wrap(err, "LLM structured chat failed")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty response from LLM")
	}

	slog.Debug("LLM: structured response received",
		"schema", schemaName,
		"content_length", len(resp.Choices[0].Message.Content),
		"duration_ms", time.Since(startTime).Milliseconds(),
	)
	return resp.Choices[0].Message.Content, nil
}

func (s *service) Transcribe(ctx context.Context, audio AudioPayload) (string, error) {
	if err := s.checkCredential(); err != nil {
		return "", err
	}
	if len(audio.Data) == 0 {
		return "", errors.New("empty audio payload")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.timeout)*time.Second)
	defer cancel()

	startTime := time.Now()

	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    s.transcribeModel,
		Reader:   bytes.NewReader(audio.Data),
		FilePath: "recording" + extensionForMIME(audio.MIMEType),
	})
	if err != nil {
		slog.Error("LLM: transcription failed", "error", err)
		return "", errors.Wrap(err, "transcription failed")
	}

	slog.Debug("LLM: transcription received",
		"text_length", len(resp.Text),
		"duration_ms", time.Since(startTime).Milliseconds(),
	)
	return resp.Text, nil
}

func (s *service) Speak(ctx context.Context, text string, voice string) ([]byte, error) {
	if err := s.checkCredential(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.timeout)*time.Second)
	defer cancel()

	startTime := time.Now()

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.speechModel),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		slog.Error("LLM: speech synthesis failed", "voice", voice, "error", err)
		return nil, errors.Wrap(err, "speech synthesis failed")
	}
	defer func() { _ = resp.Close() }() //nolint:errcheck // cleanup

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read synthesized audio")
	}

	slog.Debug("LLM: speech synthesized",
		"voice", voice,
		"bytes", len(data),
		"duration_ms", time.Since(startTime).Milliseconds(),
	)
	return data, nil
}

func baseURLOrDefault(url, fallback string) string {
	if url != "" {
		return url
	}
	return fallback
}

// extensionForMIME maps a recording MIME type to the filename extension the
// transcription endpoint uses for format detection.
func extensionForMIME(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "webm"):
		return ".webm"
	case strings.Contains(mimeType, "ogg"):
		return ".ogg"
	case strings.Contains(mimeType, "wav"):
		return ".wav"
	case strings.Contains(mimeType, "mp4"), strings.Contains(mimeType, "m4a"):
		return ".m4a"
	default:
		return ".mp3"
	}
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	llmMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		switch m.Role {
		case "system":
			llmMessages[i] = openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: m.Content,
			}
		case "assistant":
			llmMessages[i] = openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: m.Content,
			}
		default:
			llmMessages[i] = openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: m.Content,
			}
		}
	}
	return llmMessages
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// SystemPrompt creates a system message.
func SystemPrompt(content string) Message {
	return Message{Role: "system", Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}
