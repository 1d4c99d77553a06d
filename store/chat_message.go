package store

import (
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// Sender identifies who produced a chat message.
type Sender string

const (
	SenderUser   Sender = "USER"
	SenderAI     Sender = "AI"
	SenderSystem Sender = "SYSTEM"
)

// ChatMessage is one entry of the conversation transcript.
// Messages are append-only and never mutated after creation.
type ChatMessage struct {
	ID        string    `json:"id"`
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewChatMessage creates a message with a fresh id and the current instant.
func NewChatMessage(sender Sender, content string) ChatMessage {
	return ChatMessage{
		ID:        shortuuid.New(),
		Sender:    sender,
		Content:   content,
		Timestamp: time.Now(),
	}
}
