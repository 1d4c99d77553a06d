package agent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/repnote/repnote/ai/core/llm"
)

// Speech wraps the provider's synthesis and transcription operations.
// Both are best-effort: a nil or empty result is a valid outcome that the
// pipeline handles explicitly, never an error.
type Speech struct {
	llm llm.Service
}

func NewSpeech(svc llm.Service) *Speech {
	return &Speech{llm: svc}
}

// Synthesize returns encoded audio for the text, or nil on any failure.
func (s *Speech) Synthesize(ctx context.Context, text string, voiceID string) []byte {
	audio, err := s.llm.Speak(ctx, text, voiceID)
	if err != nil {
		slog.Warn("speech synthesis failed, skipping playback", "voice", voiceID, "error", err)
		return nil
	}
	return audio
}

// Transcribe returns the recognized text, or an empty string on any failure.
func (s *Speech) Transcribe(ctx context.Context, audio llm.AudioPayload) string {
	text, err := s.llm.Transcribe(ctx, audio)
	if err != nil {
		slog.Warn("transcription failed", "error", err)
		return ""
	}
	return strings.TrimSpace(text)
}
