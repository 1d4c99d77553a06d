package agent

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repnote/repnote/ai/core/llm"
	"github.com/repnote/repnote/ai/persona"
	"github.com/repnote/repnote/store"
)

// memDriver is an in-memory store.Driver for pipeline tests.
type memDriver struct {
	payload []byte
}

func (d *memDriver) LoadLogSlot(_ context.Context) ([]byte, error) { return d.payload, nil }
func (d *memDriver) SaveLogSlot(_ context.Context, payload []byte) error {
	d.payload = payload
	return nil
}
func (d *memDriver) ClearLogSlot(_ context.Context) error { return nil }
func (d *memDriver) Migrate(_ context.Context) error      { return nil }
func (d *memDriver) Close() error                         { return nil }

type recordingPlayer struct {
	played [][]byte
	err    error
}

func (p *recordingPlayer) Play(audio []byte) error {
	p.played = append(p.played, audio)
	return p.err
}

func newTestPipeline(t *testing.T, svc llm.Service, player Player) (*Pipeline, *store.Store) {
	t.Helper()
	logs := store.New(&memDriver{}, nil)
	pipeline, err := NewPipeline(PipelineConfig{
		Classifier:    NewClassifier(svc),
		Extractor:     NewExtractor(svc),
		Advisor:       NewAdvisor(svc),
		Speech:        NewSpeech(svc),
		Logs:          logs,
		Personas:      persona.NewRegistry(),
		Player:        player,
		SpeechEnabled: true,
	})
	require.NoError(t, err)
	return pipeline, logs
}

func senders(messages []store.ChatMessage) []store.Sender {
	result := make([]store.Sender, 0, len(messages))
	for _, m := range messages {
		result = append(result, m.Sender)
	}
	return result
}

func TestHandle_EmptyInputIsNoOp(t *testing.T) {
	pipeline, _ := newTestPipeline(t, &fakeLLM{}, nil)

	result, accepted := pipeline.Handle(context.Background(), Request{Text: "   "})
	assert.False(t, accepted)
	assert.Nil(t, result)
}

func TestHandle_DropsInputWhileRunActive(t *testing.T) {
	pipeline, _ := newTestPipeline(t, &fakeLLM{}, nil)
	pipeline.processing.Store(true)

	_, accepted := pipeline.Handle(context.Background(), Request{Text: "log my squats"})
	assert.False(t, accepted, "concurrent triggers are dropped, not queued")
}

func TestHandle_UnintelligibleAudioTerminatesEarly(t *testing.T) {
	classifierCalled := false
	svc := &fakeLLM{
		transcribeFn: func(_ context.Context, _ llm.AudioPayload) (string, error) {
			return "", errors.New("garbled")
		},
		chatFn: func(_ context.Context, _ []llm.Message) (string, error) {
			classifierCalled = true
			return "ADVICE", nil
		},
	}
	pipeline, _ := newTestPipeline(t, svc, nil)

	result, accepted := pipeline.Handle(context.Background(), Request{
		Audio: &llm.AudioPayload{Data: []byte{1}, MIMEType: "audio/webm"},
	})
	require.True(t, accepted)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, store.SenderUser, result.Messages[0].Sender)
	assert.Equal(t, msgUnintelligibleAudio, result.Messages[0].Content)
	assert.False(t, classifierCalled, "classifier must not be contacted")
}

func TestHandle_LogBranchInsertsAndSummarizes(t *testing.T) {
	svc := &fakeLLM{
		chatFn: func(_ context.Context, _ []llm.Message) (string, error) {
			return "LOG", nil
		},
		structuredFn: func(_ context.Context, _ []llm.Message, _ string, _ *llm.JSONSchema) (string, error) {
			return validWorkoutJSON, nil
		},
	}
	pipeline, logs := newTestPipeline(t, svc, nil)

	result, accepted := pipeline.Handle(context.Background(), Request{Text: "squatted 225 for 2x5"})
	require.True(t, accepted)
	require.Equal(t, []store.Sender{store.SenderUser, store.SenderSystem, store.SenderAI}, senders(result.Messages))
	assert.Contains(t, result.Messages[2].Content, "Logged a new workout for 2024-05-01")
	assert.Contains(t, result.Messages[2].Content, "1 exercise")

	stored := logs.ReadAll(context.Background())
	require.Len(t, stored, 1)
}

func TestHandle_LogBranchMergeSummary(t *testing.T) {
	svc := &fakeLLM{
		chatFn: func(_ context.Context, _ []llm.Message) (string, error) {
			return "LOG", nil
		},
		structuredFn: func(_ context.Context, _ []llm.Message, _ string, _ *llm.JSONSchema) (string, error) {
			return validWorkoutJSON, nil
		},
	}
	pipeline, _ := newTestPipeline(t, svc, nil)

	_, accepted := pipeline.Handle(context.Background(), Request{Text: "squatted 225 for 2x5"})
	require.True(t, accepted)
	result, accepted := pipeline.Handle(context.Background(), Request{Text: "also benched"})
	require.True(t, accepted)

	last := result.Messages[len(result.Messages)-1]
	assert.Equal(t, store.SenderAI, last.Sender)
	assert.Contains(t, last.Content, "Added to your existing log for 2024-05-01")
	assert.Contains(t, last.Content, "2 exercises")
}

func TestHandle_ExtractionFailureEmitsSingleErrorAndLeavesStoreUnchanged(t *testing.T) {
	svc := &fakeLLM{
		chatFn: func(_ context.Context, _ []llm.Message) (string, error) {
			return "LOG", nil
		},
		structuredFn: func(_ context.Context, _ []llm.Message, _ string, _ *llm.JSONSchema) (string, error) {
			return "no workout here", nil
		},
	}
	pipeline, logs := newTestPipeline(t, svc, nil)

	result, accepted := pipeline.Handle(context.Background(), Request{Text: "log something"})
	require.True(t, accepted)
	require.Equal(t, []store.Sender{store.SenderUser, store.SenderSystem, store.SenderAI}, senders(result.Messages))
	assert.Equal(t, msgGenericFailure, result.Messages[2].Content)
	assert.Empty(t, logs.ReadAll(context.Background()), "no partial merge may occur")
}

func TestHandle_AdviceBranchRepliesAndSpeaks(t *testing.T) {
	svc := &fakeLLM{
		chatFn: func(_ context.Context, messages []llm.Message) (string, error) {
			if messages[0].Content == classifierInstruction {
				return "ADVICE", nil
			}
			return "Add a pull day.", nil
		},
		speakFn: func(_ context.Context, _ string, voice string) ([]byte, error) {
			assert.Equal(t, "onyx", voice, "default persona voice")
			return []byte("mp3-bytes"), nil
		},
	}
	player := &recordingPlayer{}
	pipeline, _ := newTestPipeline(t, svc, player)

	result, accepted := pipeline.Handle(context.Background(), Request{Text: "what should I train?"})
	require.True(t, accepted)
	require.Equal(t, []store.Sender{store.SenderUser, store.SenderAI}, senders(result.Messages))
	assert.Equal(t, "Add a pull day.", result.Messages[1].Content)
	require.Len(t, player.played, 1)
}

func TestHandle_AdviceResultCarriesSynthesizedAudio(t *testing.T) {
	svc := &fakeLLM{
		chatFn: func(_ context.Context, messages []llm.Message) (string, error) {
			if messages[0].Content == classifierInstruction {
				return "ADVICE", nil
			}
			return "Deload this week.", nil
		},
		speakFn: func(_ context.Context, _ string, _ string) ([]byte, error) {
			return []byte("mp3-bytes"), nil
		},
	}
	// No player: the audio still reaches the caller through the result.
	pipeline, _ := newTestPipeline(t, svc, nil)

	result, accepted := pipeline.Handle(context.Background(), Request{Text: "how hard should I go?"})
	require.True(t, accepted)
	assert.Equal(t, []byte("mp3-bytes"), result.Audio)
}

func TestHandle_SpeechDisabledSkipsSynthesis(t *testing.T) {
	speakCalled := false
	svc := &fakeLLM{
		chatFn: func(_ context.Context, messages []llm.Message) (string, error) {
			if messages[0].Content == classifierInstruction {
				return "ADVICE", nil
			}
			return "Stretch more.", nil
		},
		speakFn: func(_ context.Context, _ string, _ string) ([]byte, error) {
			speakCalled = true
			return []byte("mp3"), nil
		},
	}
	logs := store.New(&memDriver{}, nil)
	pipeline, err := NewPipeline(PipelineConfig{
		Classifier: NewClassifier(svc),
		Extractor:  NewExtractor(svc),
		Advisor:    NewAdvisor(svc),
		Speech:     NewSpeech(svc),
		Logs:       logs,
		Personas:   persona.NewRegistry(),
	})
	require.NoError(t, err)

	result, accepted := pipeline.Handle(context.Background(), Request{Text: "any tips?"})
	require.True(t, accepted)
	assert.False(t, speakCalled)
	assert.Nil(t, result.Audio)
}

func TestHandle_DefaultPersonaAppliedWhenRequestCarriesNone(t *testing.T) {
	var voiceUsed string
	svc := &fakeLLM{
		chatFn: func(_ context.Context, messages []llm.Message) (string, error) {
			if messages[0].Content == classifierInstruction {
				return "ADVICE", nil
			}
			return "Let's go!", nil
		},
		speakFn: func(_ context.Context, _ string, voice string) ([]byte, error) {
			voiceUsed = voice
			return []byte("mp3"), nil
		},
	}
	logs := store.New(&memDriver{}, nil)
	pipeline, err := NewPipeline(PipelineConfig{
		Classifier:       NewClassifier(svc),
		Extractor:        NewExtractor(svc),
		Advisor:          NewAdvisor(svc),
		Speech:           NewSpeech(svc),
		Logs:             logs,
		Personas:         persona.NewRegistry(),
		DefaultPersonaID: "hype",
		SpeechEnabled:    true,
	})
	require.NoError(t, err)

	_, accepted := pipeline.Handle(context.Background(), Request{Text: "pump me up"})
	require.True(t, accepted)
	assert.Equal(t, persona.NewRegistry().Get("hype").VoiceID, voiceUsed)
}

func TestHandle_MutedRunSkipsSynthesis(t *testing.T) {
	speakCalled := false
	svc := &fakeLLM{
		chatFn: func(_ context.Context, messages []llm.Message) (string, error) {
			if messages[0].Content == classifierInstruction {
				return "ADVICE", nil
			}
			return "Rest up.", nil
		},
		speakFn: func(_ context.Context, _ string, _ string) ([]byte, error) {
			speakCalled = true
			return []byte("mp3"), nil
		},
	}
	player := &recordingPlayer{}
	pipeline, _ := newTestPipeline(t, svc, player)

	result, accepted := pipeline.Handle(context.Background(), Request{Text: "should I rest?", Muted: true})
	require.True(t, accepted)
	assert.False(t, speakCalled)
	assert.Nil(t, result.Audio)
	assert.Empty(t, player.played)
}

func TestHandle_SynthesisFailureIsSwallowed(t *testing.T) {
	svc := &fakeLLM{
		chatFn: func(_ context.Context, messages []llm.Message) (string, error) {
			if messages[0].Content == classifierInstruction {
				return "ADVICE", nil
			}
			return "Nice work.", nil
		},
		speakFn: func(_ context.Context, _ string, _ string) ([]byte, error) {
			return nil, errors.New("tts unavailable")
		},
	}
	player := &recordingPlayer{}
	pipeline, _ := newTestPipeline(t, svc, player)

	result, accepted := pipeline.Handle(context.Background(), Request{Text: "did I do well?"})
	require.True(t, accepted)
	last := result.Messages[len(result.Messages)-1]
	assert.Equal(t, store.SenderAI, last.Sender, "reply survives synthesis failure")
	assert.Nil(t, result.Audio)
	assert.Empty(t, player.played)
}

func TestHandle_UnknownIntentRoutesToAdvice(t *testing.T) {
	adviceCalled := false
	svc := &fakeLLM{
		chatFn: func(_ context.Context, messages []llm.Message) (string, error) {
			if messages[0].Content == classifierInstruction {
				return "", errors.New("classifier down")
			}
			adviceCalled = true
			return "Here to help.", nil
		},
	}
	pipeline, _ := newTestPipeline(t, svc, nil)

	result, accepted := pipeline.Handle(context.Background(), Request{Text: "hello there", Muted: true})
	require.True(t, accepted)
	assert.True(t, adviceCalled, "UNKNOWN routes to the advice path")
	assert.Equal(t, "Here to help.", result.Messages[len(result.Messages)-1].Content)
}

func TestHandle_MissingCredentialEmitsConfigurationMessage(t *testing.T) {
	svc := &fakeLLM{
		chatFn: func(_ context.Context, _ []llm.Message) (string, error) {
			return "", llm.ErrMissingAPIKey
		},
	}
	pipeline, _ := newTestPipeline(t, svc, nil)

	result, accepted := pipeline.Handle(context.Background(), Request{Text: "hello"})
	require.True(t, accepted)
	require.Equal(t, []store.Sender{store.SenderUser, store.SenderSystem}, senders(result.Messages))
	assert.Equal(t, msgMissingCredentials, result.Messages[1].Content)
}

func TestHandle_VoiceInputFlowsThroughPipeline(t *testing.T) {
	svc := &fakeLLM{
		transcribeFn: func(_ context.Context, _ llm.AudioPayload) (string, error) {
			return "how is my week looking", nil
		},
		chatFn: func(_ context.Context, messages []llm.Message) (string, error) {
			if messages[0].Content == classifierInstruction {
				return "ADVICE", nil
			}
			return "Looking strong.", nil
		},
	}
	pipeline, _ := newTestPipeline(t, svc, nil)

	result, accepted := pipeline.Handle(context.Background(), Request{
		Audio: &llm.AudioPayload{Data: []byte{1, 2}, MIMEType: "audio/webm"},
		Muted: true,
	})
	require.True(t, accepted)
	require.Equal(t, []store.Sender{store.SenderUser, store.SenderAI}, senders(result.Messages))
	assert.Equal(t, "how is my week looking", result.Messages[0].Content)
}
