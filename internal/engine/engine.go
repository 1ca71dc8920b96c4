// Package engine defines the interface to the external agent-graph
// execution engine. The engine produces an ordered event stream for one
// turn, can report its paused state, and accepts state patches and
// resume commands for human-in-the-loop continuation.
package engine

import (
	"context"

	"github.com/my-personal-agent/chat-service/internal/domain"
)

// StreamMode tags the channel a stream event belongs to.
type StreamMode string

const (
	ModeMessages StreamMode = "messages"
	ModeUpdates  StreamMode = "updates"
)

// ToolCall is a buffered function-call request inside an agent message.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Token is one streamed fragment. Fragments with ToolCalls are function
// call requests, not user-visible text. FromTool marks tool-result
// messages echoed through the stream.
type Token struct {
	Content   string
	ToolCalls []ToolCall
	FromTool  bool
}

// Event is one element of the engine's stream. Err terminates the stream
// with an upstream failure.
type Event struct {
	Mode  StreamMode
	Token *Token
	Err   error
}

// Config is the per-turn invocation configuration.
type Config struct {
	ThreadID     string
	ChatID       string
	UserID       string
	UserFullname string
	// Configurable carries connector identifiers, e.g. "gmail_user_id".
	Configurable map[string]string
	FileIDs      []string
}

// Command resumes a paused graph with the client's approval decision.
type Command struct {
	Resume domain.ApproveType
}

// Input starts a turn. Exactly one of UserText or Command is set; a nil
// Input continues a paused graph transparently.
type Input struct {
	UserText string
	Command  *Command
}

// Message is an agent-internal message from the graph's durable state.
type Message struct {
	ID         string
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// Task is one pending sub-execution of the graph.
type Task struct {
	// Next lists the nodes the task will run when resumed.
	Next     []string
	Messages []Message
}

// State is a snapshot of the graph for one thread. No tasks means the
// turn is complete.
type State struct {
	Tasks []Task
}

// ToolArgsPatch overwrites the arguments of a buffered tool call.
type ToolArgsPatch struct {
	MessageID  string
	ToolCallID string
	Args       map[string]any
}

// Patch mutates the graph's durable state before a resume.
type Patch struct {
	RemoveMessageIDs []string
	AppendMessages   []Message
	SetToolArgs      *ToolArgsPatch
}

// Engine is the agent-graph execution collaborator.
type Engine interface {
	// Stream runs one turn and yields events in emission order. The channel
	// is closed when the turn pauses or completes.
	Stream(ctx context.Context, input *Input, cfg Config) (<-chan Event, error)
	// GetState returns the paused-state snapshot for the thread.
	GetState(ctx context.Context, cfg Config) (*State, error)
	// UpdateState applies a patch to the thread's durable state.
	UpdateState(ctx context.Context, cfg Config, patch Patch) error
}
