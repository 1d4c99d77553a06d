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
	"github.com/repnote/repnote/store"
)

const extractorInstructionTemplate = `You extract structured workout data from a user's description of their training.
Today's date is %s (%s).
Rules:
- Canonicalize exercise names, e.g. "bench" becomes "Bench Press".
- Keep sets in the order they were performed, numbering from 1.
- Weight is free text exactly as stated ("225", "100kg", "bodyweight").
- If the user mentions a relative or absolute date ("yesterday", "last Monday", "May 3rd"), resolve it to an ISO calendar date (YYYY-MM-DD) using today's date. If no date is mentioned, leave the date null.
- Phrases like "to failure", "maxed out" or "0 RIR" mean reps_in_reserve is 0 for that set.
- workout_type must be one of: strength, cardio, mixed, other.`

// Extractor turns free text (or a recording) into a WorkoutLog candidate.
type Extractor struct {
	llm llm.Service

	// Overridable for tests.
	now func() time.Time
}

func NewExtractor(svc llm.Service) *Extractor {
	return &Extractor{llm: svc, now: time.Now}
}

// Extract requests a schema-constrained completion and validates the result.
// A response that cannot be parsed into a valid workout log fails with
// *ExtractionError; a missing provider credential passes through unchanged.
func (e *Extractor) Extract(ctx context.Context, text string, audio *llm.AudioPayload) (*store.WorkoutLog, error) {
	if strings.TrimSpace(text) == "" && audio != nil {
		transcript, err := e.llm.Transcribe(ctx, *audio)
		if err != nil {
			if errors.Is(err, llm.ErrMissingAPIKey) {
				return nil, err
			}
			return nil, &ExtractionError{Reason: "failed to transcribe recording", Err: err}
		}
		text = transcript
	}
	if strings.TrimSpace(text) == "" {
		return nil, &ExtractionError{Reason: "no input to extract from"}
	}

	now := e.now()
	instruction := fmt.Sprintf(extractorInstructionTemplate,
		now.Format("2006-01-02"), now.Weekday().String())

	start := time.Now()
	raw, err := e.llm.ChatStructured(ctx, []llm.Message{
		llm.SystemPrompt(instruction),
		llm.UserMessage(text),
	}, "workout_log", workoutLogSchema())
	if err != nil {
		if errors.Is(err, llm.ErrMissingAPIKey) {
			return nil, err
		}
		return nil, &ExtractionError{Reason: "provider call failed", Err: err}
	}

	candidate, err := parseWorkoutLog(raw)
	if err != nil {
		return nil, err
	}

	slog.Debug("workout extracted",
		"exercises", len(candidate.Exercises),
		"workout_type", candidate.WorkoutType,
		"has_date", candidate.Date != nil,
		"latency_ms", time.Since(start).Milliseconds())
	return candidate, nil
}

// parseWorkoutLog is the explicit parse-and-validate step over the raw
// provider JSON. The shape is never trusted implicitly.
func parseWorkoutLog(raw string) (*store.WorkoutLog, error) {
	cleaned := stripCodeFence(raw)
	if cleaned == "" {
		return nil, &ExtractionError{Reason: "empty response"}
	}

	var candidate store.WorkoutLog
	if err := json.Unmarshal([]byte(cleaned), &candidate); err != nil {
		return nil, &ExtractionError{Reason: "response is not valid JSON", Err: err}
	}

	if !candidate.WorkoutType.IsValid() {
		return nil, &ExtractionError{Reason: fmt.Sprintf("invalid workout_type %q", candidate.WorkoutType)}
	}
	for i, exercise := range candidate.Exercises {
		if strings.TrimSpace(exercise.Name) == "" {
			return nil, &ExtractionError{Reason: fmt.Sprintf("exercise %d has an empty name", i+1)}
		}
		for j, set := range exercise.Sets {
			if set.SetNumber < 1 {
				return nil, &ExtractionError{Reason: fmt.Sprintf("%s set %d has non-positive set_number", exercise.Name, j+1)}
			}
			if set.Reps < 0 {
				return nil, &ExtractionError{Reason: fmt.Sprintf("%s set %d has negative reps", exercise.Name, j+1)}
			}
			if set.RepsInReserve != nil && *set.RepsInReserve < 0 {
				return nil, &ExtractionError{Reason: fmt.Sprintf("%s set %d has negative reps_in_reserve", exercise.Name, j+1)}
			}
		}
	}

	// Strict-mode schemas emit null for absent optionals; models sometimes
	// emit empty strings instead. Treat both as unset.
	if candidate.Date != nil && strings.TrimSpace(*candidate.Date) == "" {
		candidate.Date = nil
	}
	if candidate.Duration != nil && strings.TrimSpace(*candidate.Duration) == "" {
		candidate.Duration = nil
	}
	if candidate.Notes != nil && strings.TrimSpace(*candidate.Notes) == "" {
		candidate.Notes = nil
	}

	return &candidate, nil
}

// stripCodeFence removes a surrounding markdown code fence, if any.
func stripCodeFence(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	return trimmed
}

func workoutLogSchema() *llm.JSONSchema {
	setSchema := &llm.JSONSchema{
		Type: []string{"object"},
		Properties: map[string]*llm.JSONSchema{
			"set_number":      {Type: []string{"integer"}, Description: "1-based position of the set"},
			"reps":            {Type: []string{"integer"}},
			"weight":          {Type: []string{"string", "null"}, Description: "free text, unit-agnostic"},
			"reps_in_reserve": {Type: []string{"integer", "null"}},
			"notes":           {Type: []string{"string", "null"}},
		},
		Required: []string{"set_number", "reps", "weight", "reps_in_reserve", "notes"},
	}
	exerciseSchema := &llm.JSONSchema{
		Type: []string{"object"},
		Properties: map[string]*llm.JSONSchema{
			"name": {Type: []string{"string"}, Description: "canonicalized exercise name"},
			"sets": {Type: []string{"array"}, Items: setSchema},
		},
		Required: []string{"name", "sets"},
	}
	return &llm.JSONSchema{
		Type: []string{"object"},
		Properties: map[string]*llm.JSONSchema{
			"exercises":    {Type: []string{"array"}, Items: exerciseSchema},
			"workout_type": {Type: []string{"string"}, Enum: []string{"strength", "cardio", "mixed", "other"}},
			"duration":     {Type: []string{"string", "null"}},
			"date":         {Type: []string{"string", "null"}, Description: "ISO calendar date YYYY-MM-DD"},
			"notes":        {Type: []string{"string", "null"}},
		},
		Required: []string{"exercises", "workout_type", "duration", "date", "notes"},
	}
}
