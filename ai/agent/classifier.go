package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/repnote/repnote/ai/core/llm"
)

// Intent is the classified purpose of a user input.
type Intent string

const (
	IntentLog     Intent = "LOG"
	IntentAdvice  Intent = "ADVICE"
	IntentUnknown Intent = "UNKNOWN"
)

const classifierInstruction = `You are an intent classifier for a workout journaling assistant.
Reply with exactly one word.
Reply "LOG" if the user is describing a workout they performed (exercises, sets, reps, weights, runs, durations).
Reply "ADVICE" if the user is asking a question or wants coaching, feedback or suggestions.
Reply only LOG or ADVICE, nothing else.`

// Classifier maps free text to an intent with a single provider call.
type Classifier struct {
	llm llm.Service
}

func NewClassifier(svc llm.Service) *Classifier {
	return &Classifier{llm: svc}
}

// Classify returns the intent for the given text. Generic provider failures
// fail open to IntentUnknown so the input is still handled on the advice
// path; only a missing credential is returned as an error.
func (c *Classifier) Classify(ctx context.Context, text string) (Intent, error) {
	start := time.Now()

	reply, err := c.llm.Chat(ctx, []llm.Message{
		llm.SystemPrompt(classifierInstruction),
		llm.UserMessage(text),
	})
	if err != nil {
		if errors.Is(err, llm.ErrMissingAPIKey) {
			return IntentUnknown, err
		}
		slog.Warn("intent classification failed, defaulting to UNKNOWN", "error", err)
		return IntentUnknown, nil
	}

	intent := normalizeIntent(reply)
	slog.Debug("intent classified",
		"intent", intent,
		"latency_ms", time.Since(start).Milliseconds())
	return intent, nil
}

// normalizeIntent trims and case-normalizes the raw reply; anything other
// than exactly LOG or ADVICE maps to UNKNOWN.
func normalizeIntent(raw string) Intent {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(IntentLog):
		return IntentLog
	case string(IntentAdvice):
		return IntentAdvice
	default:
		return IntentUnknown
	}
}
