package agent

import (
	"context"

	"github.com/repnote/repnote/ai/core/llm"
)

// fakeLLM implements llm.Service for tests. Unset functions return zero
// values without error.
type fakeLLM struct {
	chatFn       func(ctx context.Context, messages []llm.Message) (string, error)
	structuredFn func(ctx context.Context, messages []llm.Message, schemaName string, schema *llm.JSONSchema) (string, error)
	transcribeFn func(ctx context.Context, audio llm.AudioPayload) (string, error)
	speakFn      func(ctx context.Context, text string, voice string) ([]byte, error)
}

func (f *fakeLLM) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	if f.chatFn == nil {
		return "", nil
	}
	return f.chatFn(ctx, messages)
}

func (f *fakeLLM) ChatStructured(ctx context.Context, messages []llm.Message, schemaName string, schema *llm.JSONSchema) (string, error) {
	if f.structuredFn == nil {
		return "", nil
	}
	return f.structuredFn(ctx, messages, schemaName, schema)
}

func (f *fakeLLM) Transcribe(ctx context.Context, audio llm.AudioPayload) (string, error) {
	if f.transcribeFn == nil {
		return "", nil
	}
	return f.transcribeFn(ctx, audio)
}

func (f *fakeLLM) Speak(ctx context.Context, text string, voice string) ([]byte, error) {
	if f.speakFn == nil {
		return nil, nil
	}
	return f.speakFn(ctx, text, voice)
}

var _ llm.Service = (*fakeLLM)(nil)
