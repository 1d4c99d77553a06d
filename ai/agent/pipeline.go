package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/repnote/repnote/ai/core/llm"
	"github.com/repnote/repnote/ai/metrics"
	"github.com/repnote/repnote/ai/persona"
	"github.com/repnote/repnote/store"
)

// Emitter receives chat messages as the pipeline produces them. Messages are
// append-only and ordered by creation.
type Emitter interface {
	Emit(msg store.ChatMessage)
}

// Player receives synthesized audio for playback. Playback failures are the
// player's problem; the pipeline only logs them.
type Player interface {
	Play(audio []byte) error
}

// Request is one user input entering the pipeline. Persona and mute state
// are read once at run start and not re-read mid-run.
type Request struct {
	Text      string
	Audio     *llm.AudioPayload
	PersonaID string
	Muted     bool
}

// Result is the outcome of one pipeline run.
type Result struct {
	Messages []store.ChatMessage
	// Audio is the synthesized reply, mp3-encoded. Nil when the run was
	// muted, speech is disabled, or synthesis failed.
	Audio []byte
}

const (
	stageTranscribing = "transcribing"
	stageClassifying  = "classifying"
	stageExtracting   = "extracting"
	stageMerging      = "merging"
	stageAdvising     = "advising"
	stageSynthesizing = "synthesizing"
)

const (
	msgUnintelligibleAudio = "(unintelligible audio)"
	msgProcessingLog       = "Processing your workout log..."
	msgGenericFailure      = "Sorry, I couldn't process that. Please try again."
	msgMissingCredentials  = "AI features are not configured. Set REPNOTE_AI_LLM_API_KEY to enable the assistant."
)

// Pipeline sequences transcription, classification and the log/advice
// branches. At most one run is active at any time; inputs arriving during a
// run are dropped, not queued.
type Pipeline struct {
	classifier *Classifier
	extractor  *Extractor
	advisor    *Advisor
	speech     *Speech
	logs       *store.Store
	personas   *persona.Registry
	emitter    Emitter
	player     Player
	exporter   *metrics.Exporter

	defaultPersonaID string
	speechEnabled    bool

	processing atomic.Bool
}

// PipelineConfig wires the pipeline's collaborators. Emitter, Player and
// Exporter are optional. DefaultPersonaID fills requests that carry no
// persona; SpeechEnabled gates the synthesis stage.
type PipelineConfig struct {
	Classifier *Classifier
	Extractor  *Extractor
	Advisor    *Advisor
	Speech     *Speech
	Logs       *store.Store
	Personas   *persona.Registry
	Emitter    Emitter
	Player     Player
	Exporter   *metrics.Exporter

	DefaultPersonaID string
	SpeechEnabled    bool
}

// NewPipeline creates the orchestrator.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Classifier == nil || cfg.Extractor == nil || cfg.Advisor == nil || cfg.Speech == nil {
		return nil, errors.New("pipeline requires all four agents")
	}
	if cfg.Logs == nil {
		return nil, errors.New("pipeline requires a log store")
	}
	if cfg.Personas == nil {
		cfg.Personas = persona.NewRegistry()
	}
	return &Pipeline{
		classifier:       cfg.Classifier,
		extractor:        cfg.Extractor,
		advisor:          cfg.Advisor,
		speech:           cfg.Speech,
		logs:             cfg.Logs,
		personas:         cfg.Personas,
		emitter:          cfg.Emitter,
		player:           cfg.Player,
		exporter:         cfg.Exporter,
		defaultPersonaID: cfg.DefaultPersonaID,
		speechEnabled:    cfg.SpeechEnabled,
	}, nil
}

// Busy reports whether a run is currently active.
func (p *Pipeline) Busy() bool {
	return p.processing.Load()
}

// Handle runs one input through the pipeline and returns the result of the
// run. The second return value is false when the input was dropped: either
// it was empty, or another run was already active.
//
// All failures are internalized into messages; Handle itself never fails. A
// terminal failure emits exactly one message, distinguishing a missing
// provider credential from a generic processing failure.
func (p *Pipeline) Handle(ctx context.Context, req Request) (*Result, bool) {
	hasAudio := req.Audio != nil && len(req.Audio.Data) > 0
	if strings.TrimSpace(req.Text) == "" && !hasAudio {
		return nil, false
	}

	if !p.processing.CompareAndSwap(false, true) {
		slog.Debug("pipeline busy, dropping input")
		if p.exporter != nil {
			p.exporter.ObserveDropped()
		}
		return nil, false
	}
	defer p.processing.Store(false)

	run := &pipelineRun{pipeline: p}
	run.execute(ctx, req, hasAudio)
	return &Result{Messages: run.messages, Audio: run.audio}, true
}

// pipelineRun collects the output of a single Handle invocation.
type pipelineRun struct {
	pipeline *Pipeline
	messages []store.ChatMessage
	audio    []byte
}

func (r *pipelineRun) emit(sender store.Sender, content string) {
	msg := store.NewChatMessage(sender, content)
	r.messages = append(r.messages, msg)
	if r.pipeline.emitter != nil {
		r.pipeline.emitter.Emit(msg)
	}
}

func (r *pipelineRun) observeStage(stage string, start time.Time) {
	if r.pipeline.exporter != nil {
		r.pipeline.exporter.ObserveStage(stage, time.Since(start))
	}
}

func (r *pipelineRun) observeFailure(stage string) {
	if r.pipeline.exporter != nil {
		r.pipeline.exporter.ObserveFailure(stage)
	}
}

func (r *pipelineRun) execute(ctx context.Context, req Request, hasAudio bool) {
	p := r.pipeline
	text := strings.TrimSpace(req.Text)

	// Voice input is transcribed before anything else. An empty transcript
	// terminates the run without contacting the classifier.
	if text == "" && hasAudio {
		start := time.Now()
		text = p.speech.Transcribe(ctx, *req.Audio)
		r.observeStage(stageTranscribing, start)
		if text == "" {
			r.emit(store.SenderUser, msgUnintelligibleAudio)
			slog.Debug("pipeline finished: unintelligible audio")
			return
		}
	}

	r.emit(store.SenderUser, text)

	start := time.Now()
	intent, err := p.classifier.Classify(ctx, text)
	r.observeStage(stageClassifying, start)
	if err != nil {
		// Classification only errors on a missing credential; everything
		// else fails open to IntentUnknown inside the classifier.
		r.observeFailure(stageClassifying)
		r.emit(store.SenderSystem, msgMissingCredentials)
		return
	}

	if p.exporter != nil {
		p.exporter.ObserveRun(string(intent))
	}

	if intent == IntentLog {
		r.handleLog(ctx, text, req.Audio)
		return
	}
	r.handleAdvice(ctx, text, req)
}

func (r *pipelineRun) handleLog(ctx context.Context, text string, audio *llm.AudioPayload) {
	p := r.pipeline
	r.emit(store.SenderSystem, msgProcessingLog)

	start := time.Now()
	candidate, err := p.extractor.Extract(ctx, text, audio)
	r.observeStage(stageExtracting, start)
	if err != nil {
		r.observeFailure(stageExtracting)
		if errors.Is(err, llm.ErrMissingAPIKey) {
			r.emit(store.SenderSystem, msgMissingCredentials)
			return
		}
		slog.Warn("log branch aborted", "error", err)
		r.emit(store.SenderAI, msgGenericFailure)
		return
	}

	start = time.Now()
	result, err := p.logs.MergeWrite(ctx, candidate)
	r.observeStage(stageMerging, start)
	if err != nil {
		r.observeFailure(stageMerging)
		slog.Error("failed to write workout log", "error", err)
		r.emit(store.SenderAI, msgGenericFailure)
		return
	}

	if p.exporter != nil {
		p.exporter.ObserveLogWritten(result.Merged)
	}
	r.emit(store.SenderAI, logSummary(result))
}

func (r *pipelineRun) handleAdvice(ctx context.Context, text string, req Request) {
	p := r.pipeline
	personaID := req.PersonaID
	if personaID == "" {
		personaID = p.defaultPersonaID
	}
	activePersona := p.personas.Get(personaID)
	history := p.logs.ReadAll(ctx)

	start := time.Now()
	reply, err := p.advisor.Advise(ctx, text, history, activePersona)
	r.observeStage(stageAdvising, start)
	if err != nil {
		// The advisor degrades to a fallback reply on anything except a
		// missing credential.
		r.observeFailure(stageAdvising)
		r.emit(store.SenderSystem, msgMissingCredentials)
		return
	}

	r.emit(store.SenderAI, reply)

	if req.Muted || !p.speechEnabled {
		return
	}
	start = time.Now()
	audio := p.speech.Synthesize(ctx, reply, activePersona.VoiceID)
	r.observeStage(stageSynthesizing, start)
	if audio == nil {
		r.observeFailure(stageSynthesizing)
		return
	}
	r.audio = audio
	if p.player == nil {
		return
	}
	if err := p.player.Play(audio); err != nil {
		slog.Warn("audio playback failed", "error", err)
	}
}

func logSummary(result *store.MergeResult) string {
	date := ""
	if result.Entry.Date != nil {
		date = *result.Entry.Date
	}
	count := len(result.Entry.Exercises)
	noun := "exercises"
	if count == 1 {
		noun = "exercise"
	}
	if result.Merged {
		return fmt.Sprintf("Added to your existing log for %s: %d %s recorded for the day.", date, count, noun)
	}
	return fmt.Sprintf("Logged a new workout for %s with %d %s.", date, count, noun)
}
