package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/repnote/repnote/ai/core/llm"
	"github.com/repnote/repnote/ai/persona"
	"github.com/repnote/repnote/store"
)

// FallbackReply is returned when the provider produces no usable advice.
const FallbackReply = "Sorry, I couldn't come up with advice right now. Please try again in a moment."

// maxHistoryEntries caps how many recent logs are serialized as context.
const maxHistoryEntries = 10

const advisorGuidance = `
You are advising based on the athlete's recent workout history below.
Identify trends, call out underworked areas, and answer the athlete's question.
Keep the reply terse and speakable: a few sentences, no markdown, no lists.`

// Advisor produces a coaching reply for a query against recent history.
type Advisor struct {
	llm llm.Service
}

func NewAdvisor(svc llm.Service) *Advisor {
	return &Advisor{llm: svc}
}

// Advise returns the coaching reply. Generic provider failures and empty
// replies degrade to FallbackReply and never surface as errors; only a
// missing credential is returned to the caller.
func (a *Advisor) Advise(ctx context.Context, query string, history []*store.WorkoutLog, p persona.Persona) (string, error) {
	start := time.Now()

	instruction := p.SystemPrompt + "\n" + advisorGuidance + "\n\nRecent workout history (most recent first):\n" + serializeHistory(history)

	reply, err := a.llm.Chat(ctx, []llm.Message{
		llm.SystemPrompt(instruction),
		llm.UserMessage(query),
	})
	if err != nil {
		if errors.Is(err, llm.ErrMissingAPIKey) {
			return "", err
		}
		slog.Warn("advice request failed, using fallback reply", "persona", p.ID, "error", err)
		return FallbackReply, nil
	}
	if strings.TrimSpace(reply) == "" {
		slog.Warn("advice reply was empty, using fallback reply", "persona", p.ID)
		return FallbackReply, nil
	}

	slog.Debug("advice generated",
		"persona", p.ID,
		"history_entries", min(len(history), maxHistoryEntries),
		"reply_length", len(reply),
		"latency_ms", time.Since(start).Milliseconds())
	return reply, nil
}

// serializeHistory renders at most the ten most-recent log entries verbatim.
func serializeHistory(history []*store.WorkoutLog) string {
	if len(history) == 0 {
		return "(no workouts logged yet)"
	}
	if len(history) > maxHistoryEntries {
		history = history[:maxHistoryEntries]
	}
	payload, err := json.Marshal(history)
	if err != nil {
		return fmt.Sprintf("(%d workouts logged, history unavailable)", len(history))
	}
	return string(payload)
}
