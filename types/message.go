// Package types provides core types used across the cogcoach core.
// This package has ZERO dependencies on other cogcoach packages to avoid
// circular imports. All other packages should import types from here.
package types

import (
	"time"

	"github.com/google/uuid"
)

// Role represents the role of a conversation participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage represents a single conversation turn.
// Messages are immutable once created: compaction produces new messages,
// it never mutates existing ones.
type ChatMessage struct {
	ID        string            `json:"id"`
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewMessage creates a new message with a generated ID and current timestamp.
func NewMessage(role Role, content string) ChatMessage {
	return ChatMessage{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) ChatMessage {
	return NewMessage(RoleSystem, content)
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) ChatMessage {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) ChatMessage {
	return NewMessage(RoleAssistant, content)
}

// WithMetadata returns a copy of the message with metadata attached.
func (m ChatMessage) WithMetadata(md map[string]string) ChatMessage {
	m.Metadata = md
	return m
}
