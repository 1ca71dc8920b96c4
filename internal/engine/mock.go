package engine

import (
	"context"
	"sync"
)

// ScriptedTurn is one Stream invocation's worth of canned events plus the
// graph state after the stream ends.
type ScriptedTurn struct {
	Events []Event
	State  State
}

// Mock is a scripted Engine for tests and local wiring. Each Stream call
// consumes the next scripted turn; GetState reflects the state of the
// most recently streamed turn, as mutated by UpdateState patches.
type Mock struct {
	mu      sync.Mutex
	turns   []ScriptedTurn
	current State

	Inputs  []*Input
	Patches []Patch
}

// NewMock creates a mock engine with the given script.
func NewMock(turns ...ScriptedTurn) *Mock {
	return &Mock{turns: turns}
}

func (m *Mock) Stream(ctx context.Context, input *Input, cfg Config) (<-chan Event, error) {
	m.mu.Lock()
	m.Inputs = append(m.Inputs, input)
	var turn ScriptedTurn
	if len(m.turns) > 0 {
		turn = m.turns[0]
		m.turns = m.turns[1:]
	}
	m.current = turn.State
	m.mu.Unlock()

	ch := make(chan Event)
	go func() {
		defer close(ch)
		for _, ev := range turn.Events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (m *Mock) GetState(ctx context.Context, cfg Config) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.current
	return &state, nil
}

func (m *Mock) UpdateState(ctx context.Context, cfg Config, patch Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Patches = append(m.Patches, patch)

	for t := range m.current.Tasks {
		task := &m.current.Tasks[t]

		if len(patch.RemoveMessageIDs) > 0 {
			removed := false
			kept := task.Messages[:0]
			for _, msg := range task.Messages {
				if containsID(patch.RemoveMessageIDs, msg.ID) {
					removed = true
					continue
				}
				kept = append(kept, msg)
			}
			task.Messages = kept
			if removed {
				// Excising the pending tool call clears the pending step.
				task.Next = nil
			}
		}

		task.Messages = append(task.Messages, patch.AppendMessages...)

		if patch.SetToolArgs != nil {
			for i := range task.Messages {
				msg := &task.Messages[i]
				if msg.ID != patch.SetToolArgs.MessageID {
					continue
				}
				for j := range msg.ToolCalls {
					if msg.ToolCalls[j].ID == patch.SetToolArgs.ToolCallID {
						msg.ToolCalls[j].Args = patch.SetToolArgs.Args
					}
				}
			}
		}
	}

	// Removing every task's pending step empties the snapshot.
	var remaining []Task
	for _, task := range m.current.Tasks {
		if len(task.Next) > 0 || len(task.Messages) > 0 {
			remaining = append(remaining, task)
		}
	}
	m.current.Tasks = remaining
	return nil
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// TextEvent builds a messages-mode event carrying a content fragment.
func TextEvent(content string) Event {
	return Event{Mode: ModeMessages, Token: &Token{Content: content}}
}
