package api

import (
	"fmt"
	"time"
)

// Document is a workspace document as returned by the server.
type Document struct {
	ID        string    `json:"id"`
	Scope     string    `json:"scope,omitempty"`
	Title     string    `json:"title"`
	Content   string    `json:"content,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ClipboardItem is one shared clipboard entry.
type ClipboardItem struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// MemoryCounts is the per-scope aggregate count snapshot.
type MemoryCounts struct {
	Documents int `json:"documents"`
	Notes     int `json:"notes"`
	TodoItems int `json:"todo_items"`
	Clipboard int `json:"clipboard"`
}

// Note is a free-form workspace note.
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TodoItem is a single entry of the scope's todo list.
type TodoItem struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// TodoList is the scope's single todo list.
type TodoList struct {
	ID        string     `json:"id"`
	Items     []TodoItem `json:"items"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Session status values.
const (
	SessionStatusActive   = "active"
	SessionStatusArchived = "archived"
)

// Session is a durable agent chat session.
type Session struct {
	ID        string    `json:"id"`
	Scope     string    `json:"scope,omitempty"`
	Title     string    `json:"title,omitempty"`
	Status    string    `json:"status"`
	Messages  []Message `json:"messages,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one chat message inside a session.
type Message struct {
	ID        string     `json:"id"`
	Role      string     `json:"role"` // user or assistant
	Content   string     `json:"content"`
	Reasoning string     `json:"reasoning,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     *Usage     `json:"usage,omitempty"`
	Model     string     `json:"model,omitempty"`
	CreatedAt time.Time  `json:"created_at,omitempty"`
}

// ToolCall records a tool invocation made by the assistant.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string
}

// Usage is the token accounting attached to a completed assistant turn.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// SessionPatch is a partial update applied to a session record.
type SessionPatch struct {
	Title  *string `json:"title,omitempty"`
	Status *string `json:"status,omitempty"`
}

// Stream chunk kinds delivered by the chat stream.
const (
	ChunkText      = "text"
	ChunkReasoning = "reasoning"
	ChunkDone      = "done"
)

// StreamChunk is one incremental piece of a streamed assistant response.
// Text and Reasoning chunks carry a delta in Text; the final Done chunk
// carries usage/model metadata and the server-side stopped flag.
type StreamChunk struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Model   string `json:"model,omitempty"`
	Usage   *Usage `json:"usage,omitempty"`
	Stopped bool   `json:"stopped,omitempty"`
}

// ChunkHandler consumes stream chunks as they arrive. It runs on the stream
// reader's goroutine; it must stay O(1) per chunk.
type ChunkHandler func(StreamChunk)

// RegisterRequest is the body sent to /auth/register.
type RegisterRequest struct {
	Name            string   `json:"name"`
	RequestedScopes []string `json:"requested_scopes,omitempty"`
}

// RegisterResponse is the server's registration grant.
type RegisterResponse struct {
	ClientID string `json:"client_id"`
	APIKey   string `json:"api_key"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the server's error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// APIError represents a structured API error with retry information.
type APIError struct {
	StatusCode int
	Message    string
	Retryable  bool
	RetryAfter time.Duration
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsRateLimitError returns true if this is a rate limit error
func (e *APIError) IsRateLimitError() bool {
	return e.StatusCode == 429
}

// IsNotFound returns true when the server no longer knows the entity.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == 404
}
