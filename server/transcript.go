package server

import (
	"sync"

	"github.com/repnote/repnote/store"
)

// Transcript is an in-memory, append-only chat message sequence. It
// implements agent.Emitter and backs the /api/v1/messages endpoint.
type Transcript struct {
	mu       sync.RWMutex
	messages []store.ChatMessage
}

func NewTranscript() *Transcript {
	return &Transcript{}
}

func (t *Transcript) Emit(msg store.ChatMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, msg)
}

// List returns the transcript in creation order.
func (t *Transcript) List() []store.ChatMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	result := make([]store.ChatMessage, len(t.messages))
	copy(result, t.messages)
	return result
}
