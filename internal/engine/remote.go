package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Remote is an HTTP client for an agent-graph runtime. Turns stream back
// as newline-delimited JSON events.
type Remote struct {
	baseURL    string
	httpClient *http.Client
}

// NewRemote creates a new remote engine client. The client timeout covers
// state calls only; streams run until the runtime closes them.
func NewRemote(baseURL string) *Remote {
	return &Remote{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type streamRequest struct {
	ThreadID     string            `json:"thread_id"`
	UserID       string            `json:"user_id"`
	UserFullname string            `json:"user_fullname,omitempty"`
	Configurable map[string]string `json:"configurable,omitempty"`
	FileIDs      []string          `json:"file_ids,omitempty"`
	UserText     string            `json:"user_text,omitempty"`
	Resume       string            `json:"resume,omitempty"`
	Continue     bool              `json:"continue,omitempty"`
}

type streamEvent struct {
	Mode      StreamMode `json:"mode"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	FromTool  bool       `json:"from_tool,omitempty"`
	Error     string     `json:"error,omitempty"`
}

type stateResponse struct {
	Tasks []struct {
		Next     []string `json:"next"`
		Messages []struct {
			ID         string     `json:"id"`
			Role       string     `json:"role"`
			Content    string     `json:"content"`
			ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
			ToolCallID string     `json:"tool_call_id,omitempty"`
		} `json:"messages"`
	} `json:"tasks"`
}

type updateStateRequest struct {
	ThreadID         string          `json:"thread_id"`
	RemoveMessageIDs []string        `json:"remove_message_ids,omitempty"`
	AppendMessages   []patchMessage  `json:"append_messages,omitempty"`
	SetToolArgs      *toolArgsUpdate `json:"set_tool_args,omitempty"`
}

type patchMessage struct {
	ID         string `json:"id"`
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

type toolArgsUpdate struct {
	MessageID  string         `json:"message_id"`
	ToolCallID string         `json:"tool_call_id"`
	Args       map[string]any `json:"args"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Stream calls POST /v1/threads/stream and forwards the runtime's
// newline-delimited events until the body closes.
func (r *Remote) Stream(ctx context.Context, input *Input, cfg Config) (<-chan Event, error) {
	req := streamRequest{
		ThreadID:     cfg.ThreadID,
		UserID:       cfg.UserID,
		UserFullname: cfg.UserFullname,
		Configurable: cfg.Configurable,
		FileIDs:      cfg.FileIDs,
	}
	switch {
	case input == nil:
		req.Continue = true
	case input.Command != nil:
		req.Resume = string(input.Command.Resume)
	default:
		req.UserText = input.UserText
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", r.baseURL+"/v1/threads/stream", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	// No client timeout on streams; ctx bounds them instead.
	resp, err := (&http.Client{}).Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to start stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, remoteError(resp.StatusCode, respBody)
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var ev streamEvent
			if err := json.Unmarshal(line, &ev); err != nil {
				events <- Event{Err: fmt.Errorf("failed to decode stream event: %w", err)}
				return
			}
			if ev.Error != "" {
				events <- Event{Err: fmt.Errorf("engine stream error: %s", ev.Error)}
				return
			}

			events <- Event{
				Mode: ev.Mode,
				Token: &Token{
					Content:   ev.Content,
					ToolCalls: ev.ToolCalls,
					FromTool:  ev.FromTool,
				},
			}
		}
		if err := scanner.Err(); err != nil {
			events <- Event{Err: fmt.Errorf("stream read failed: %w", err)}
		}
	}()

	return events, nil
}

// GetState calls GET /v1/threads/:thread_id/state.
func (r *Remote) GetState(ctx context.Context, cfg Config) (*State, error) {
	url := fmt.Sprintf("%s/v1/threads/%s/state", r.baseURL, cfg.ThreadID)
	httpReq, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to get thread state: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, remoteError(resp.StatusCode, respBody)
	}

	var stateResp stateResponse
	if err := json.NewDecoder(resp.Body).Decode(&stateResp); err != nil {
		return nil, fmt.Errorf("failed to decode state response: %w", err)
	}

	state := &State{Tasks: make([]Task, 0, len(stateResp.Tasks))}
	for _, t := range stateResp.Tasks {
		task := Task{Next: t.Next, Messages: make([]Message, 0, len(t.Messages))}
		for _, m := range t.Messages {
			task.Messages = append(task.Messages, Message{
				ID:         m.ID,
				Role:       m.Role,
				Content:    m.Content,
				ToolCalls:  m.ToolCalls,
				ToolCallID: m.ToolCallID,
			})
		}
		state.Tasks = append(state.Tasks, task)
	}
	return state, nil
}

// UpdateState calls POST /v1/threads/:thread_id/state.
func (r *Remote) UpdateState(ctx context.Context, cfg Config, patch Patch) error {
	req := updateStateRequest{
		ThreadID:         cfg.ThreadID,
		RemoveMessageIDs: patch.RemoveMessageIDs,
	}
	for _, m := range patch.AppendMessages {
		req.AppendMessages = append(req.AppendMessages, patchMessage{
			ID:         m.ID,
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		})
	}
	if patch.SetToolArgs != nil {
		req.SetToolArgs = &toolArgsUpdate{
			MessageID:  patch.SetToolArgs.MessageID,
			ToolCallID: patch.SetToolArgs.ToolCallID,
			Args:       patch.SetToolArgs.Args,
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal state patch: %w", err)
	}

	url := fmt.Sprintf("%s/v1/threads/%s/state", r.baseURL, cfg.ThreadID)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to update thread state: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return remoteError(resp.StatusCode, respBody)
	}
	return nil
}

func remoteError(status int, body []byte) error {
	var errResp errorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return fmt.Errorf("engine error: %s", errResp.Error)
	}
	return fmt.Errorf("engine returned status %d: %s", status, string(body))
}
