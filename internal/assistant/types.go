package assistant

import (
	"context"
	"encoding/json"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one visible entry in a conversation. Pending marks the single
// placeholder shown while a reply is outstanding; it is never persisted.
type Turn struct {
	ID        string          `json:"id"`
	Role      Role            `json:"role"`
	Text      string          `json:"text"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Pending   bool            `json:"pending,omitempty"`
}

type State int

const (
	StateIdle State = iota
	StateSending
)

func (s State) String() string {
	if s == StateSending {
		return "sending"
	}
	return "idle"
}

// Action is a structured side effect reported by the assistant, such as a
// saved recipe or a planned meal.
type Action struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is the conversation endpoint's reply body.
type Response struct {
	Success         bool            `json:"success"`
	Message         string          `json:"message"`
	Data            json.RawMessage `json:"data,omitempty"`
	Actions         []Action        `json:"actions,omitempty"`
	ConversationID  string          `json:"conversationId"`
	ExecutionTimeMs int64           `json:"executionTimeMs,omitempty"`
	Error           string          `json:"error,omitempty"`
}

type requestBody struct {
	Message        string         `json:"message"`
	ConversationID string         `json:"conversationId,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ActionHandler applies an action locally. Errors are logged and do not
// fail the turn.
type ActionHandler func(ctx context.Context, a Action) error

// Invalidator drops cached views so they are rebuilt on next read.
type Invalidator interface {
	Invalidate(keys ...string)
}

// DefaultInvalidationKeys maps action types to the cached views they affect.
func DefaultInvalidationKeys() map[string][]string {
	return map[string][]string{
		"save_recipe":          {"recipes"},
		"add_to_calendar":      {"meal-plan"},
		"plan_meal":            {"meal-plan"},
		"create_shopping_list": {"shopping-lists"},
		"add_restaurant":       {"restaurants"},
	}
}
