package session

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/my-personal-agent/chat-service/internal/cache"
	"github.com/my-personal-agent/chat-service/internal/config"
	"github.com/my-personal-agent/chat-service/internal/domain"
	"github.com/my-personal-agent/chat-service/internal/engine"
	"github.com/my-personal-agent/chat-service/internal/protocol"
	"github.com/my-personal-agent/chat-service/internal/segment"
	"github.com/my-personal-agent/chat-service/internal/store"
)

type frameRecorder struct {
	frames []any
}

func (r *frameRecorder) Send(v any) error {
	r.frames = append(r.frames, v)
	return nil
}

// types returns the type discriminator of every recorded frame, in order.
func (r *frameRecorder) types() []string {
	var out []string
	for _, f := range r.frames {
		raw, err := json.Marshal(f)
		if err != nil {
			out = append(out, "unmarshalable")
			continue
		}
		var m struct {
			Type string `json:"type"`
		}
		json.Unmarshal(raw, &m)
		out = append(out, m.Type)
	}
	return out
}

type scriptedLLM struct {
	responses []string
	err       error
	prompts   []string
}

func (s *scriptedLLM) Complete(ctx context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return "", s.err
	}
	if len(s.responses) == 0 {
		return "", nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

type staticPolicy struct {
	confirm map[string]bool
	err     error
}

func (p *staticPolicy) RequiresConfirmation(ctx context.Context, node, toolName string) (bool, error) {
	if p.err != nil {
		return false, p.err
	}
	return p.confirm[toolName], nil
}

func newTestService(t *testing.T, eng engine.Engine, llm Completer, pol ConfirmPolicy) (*Service, *store.SQLiteStore) {
	t.Helper()
	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{StreamCacheTTL: time.Minute, MaxResumeHops: 4}
	if pol == nil {
		pol = &staticPolicy{}
	}
	if llm == nil {
		llm = &scriptedLLM{err: fmt.Errorf("llm not scripted")}
	}
	return New(db, cache.NewMemory(), eng, pol, llm, cfg), db
}

func userTextEvent(chatID, text string) protocol.ClientEvent {
	raw, _ := json.Marshal(text)
	return protocol.ClientEvent{
		Type:    protocol.TypeUserMessage,
		ChatID:  chatID,
		Message: raw,
	}
}

func replyEvent(chatID string, reply protocol.ConfirmationReply) protocol.ClientEvent {
	raw, _ := json.Marshal(reply)
	return protocol.ClientEvent{
		Type:    protocol.TypeUserMessage,
		ChatID:  chatID,
		Message: raw,
	}
}

func assertFrameTypes(t *testing.T, rec *frameRecorder, want []string) {
	t.Helper()
	got := rec.types()
	if len(got) != len(want) {
		t.Fatalf("expected frames %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame %d: expected %s, got %s (all: %v)", i, want[i], got[i], got)
		}
	}
}

func TestFreeTextTurn(t *testing.T) {
	eng := engine.NewMock(engine.ScriptedTurn{
		Events: []engine.Event{
			engine.TextEvent(segment.ThinkStart),
			engine.TextEvent("let me see"),
			engine.TextEvent(segment.ThinkEnd),
			engine.TextEvent("Paris is the capital "),
			engine.TextEvent("of France."),
		},
	})
	llm := &scriptedLLM{responses: []string{"no", "Capital of France"}}
	svc, db := newTestService(t, eng, llm, nil)
	rec := &frameRecorder{}

	err := svc.HandleUserMessage(context.Background(), rec, "u1", userTextEvent("", "what is the capital of France?"))
	if err != nil {
		t.Fatalf("HandleUserMessage failed: %v", err)
	}

	assertFrameTypes(t, rec, []string{
		protocol.TypeCreateChat,
		protocol.TypeInit,
		protocol.TypeStartThinking,
		protocol.TypeThinking,
		protocol.TypeEndThinking,
		protocol.TypeStartMessaging,
		protocol.TypeMessaging,
		protocol.TypeEndMessaging,
		protocol.TypeCheckingTitle,
		protocol.TypeGeneratedTitle,
		protocol.TypeComplete,
	})

	created := rec.frames[0].(protocol.ChatFrame)
	chat, err := db.GetChat(context.Background(), "u1", created.ChatID)
	if err != nil {
		t.Fatalf("GetChat failed: %v", err)
	}
	if chat.Title != "Capital of France" || !chat.TitleSet {
		t.Fatalf("title not persisted: %+v", chat)
	}

	page, err := db.GetMessages(context.Background(), created.ChatID, 10, "")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	// User message, thinking segment, assistant segment.
	if page.Total != 3 {
		t.Fatalf("expected 3 persisted messages, got %d", page.Total)
	}
}

func TestGreetingKeepsDefaultTitle(t *testing.T) {
	eng := engine.NewMock(engine.ScriptedTurn{
		Events: []engine.Event{engine.TextEvent("Hello! How can I help?")},
	})
	llm := &scriptedLLM{responses: []string{"yes"}}
	svc, db := newTestService(t, eng, llm, nil)
	rec := &frameRecorder{}

	if err := svc.HandleUserMessage(context.Background(), rec, "u1", userTextEvent("", "hi")); err != nil {
		t.Fatalf("HandleUserMessage failed: %v", err)
	}

	var titleFrame *protocol.TitleFrame
	for _, f := range rec.frames {
		if tf, ok := f.(protocol.TitleFrame); ok && tf.Type == protocol.TypeGeneratedTitle {
			titleFrame = &tf
		}
	}
	if titleFrame == nil {
		t.Fatal("expected generated_title frame")
	}
	if titleFrame.Content != domain.DefaultChatTitle {
		t.Fatalf("greeting should keep default title, got %q", titleFrame.Content)
	}
	if len(llm.prompts) != 1 {
		t.Fatalf("expected only the greeting check, got %d prompts", len(llm.prompts))
	}

	created := rec.frames[0].(protocol.ChatFrame)
	chat, err := db.GetChat(context.Background(), "u1", created.ChatID)
	if err != nil {
		t.Fatalf("GetChat failed: %v", err)
	}
	if chat.TitleSet {
		t.Fatal("greeting must not mark the title as set")
	}
}

func TestExistingChatSkipsTitleFlow(t *testing.T) {
	eng := engine.NewMock(engine.ScriptedTurn{
		Events: []engine.Event{engine.TextEvent("Sure.")},
	})
	llm := &scriptedLLM{err: fmt.Errorf("must not be called")}
	svc, db := newTestService(t, eng, llm, nil)

	_, chat, err := db.UpsertChat(context.Background(), "u1", "")
	if err != nil {
		t.Fatalf("UpsertChat failed: %v", err)
	}
	if _, err := db.UpdateChatTitle(context.Background(), "u1", chat.ChatID, "Errands"); err != nil {
		t.Fatalf("UpdateChatTitle failed: %v", err)
	}

	rec := &frameRecorder{}
	if err := svc.HandleUserMessage(context.Background(), rec, "u1", userTextEvent(chat.ChatID, "another question")); err != nil {
		t.Fatalf("HandleUserMessage failed: %v", err)
	}

	// A single-fragment segment carries its content on start_messaging;
	// messaging updates only follow on later appends.
	assertFrameTypes(t, rec, []string{
		protocol.TypeUpdateChat,
		protocol.TypeInit,
		protocol.TypeStartMessaging,
		protocol.TypeEndMessaging,
		protocol.TypeComplete,
	})
}

func TestWhitespaceOnlyMessageNotPersisted(t *testing.T) {
	eng := engine.NewMock()
	svc, db := newTestService(t, eng, nil, nil)
	rec := &frameRecorder{}

	if err := svc.HandleUserMessage(context.Background(), rec, "u1", userTextEvent("", "   \n\t")); err != nil {
		t.Fatalf("HandleUserMessage failed: %v", err)
	}

	assertFrameTypes(t, rec, []string{
		protocol.TypeCreateChat,
		protocol.TypeComplete,
	})
	if len(eng.Inputs) != 0 {
		t.Fatalf("blank input must not start a turn, got %d stream calls", len(eng.Inputs))
	}

	created := rec.frames[0].(protocol.ChatFrame)
	page, err := db.GetMessages(context.Background(), created.ChatID, 10, "")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if page.Total != 0 {
		t.Fatalf("blank input must not be persisted, got %d messages", page.Total)
	}
}

func TestUnknownChatRejected(t *testing.T) {
	eng := engine.NewMock()
	svc, _ := newTestService(t, eng, nil, nil)
	rec := &frameRecorder{}

	err := svc.HandleUserMessage(context.Background(), rec, "u1", userTextEvent("missing", "hello"))
	if err != domain.ErrChatNotFound {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}
	if len(rec.frames) != 0 {
		t.Fatalf("no frames expected, got %v", rec.types())
	}
}

func TestStreamErrorEmitsErrorFrame(t *testing.T) {
	eng := engine.NewMock(engine.ScriptedTurn{
		Events: []engine.Event{
			engine.TextEvent("partial "),
			{Err: fmt.Errorf("model unavailable")},
		},
	})
	svc, db := newTestService(t, eng, nil, nil)
	rec := &frameRecorder{}

	if err := svc.HandleUserMessage(context.Background(), rec, "u1", userTextEvent("", "hello")); err != nil {
		t.Fatalf("HandleUserMessage failed: %v", err)
	}

	assertFrameTypes(t, rec, []string{
		protocol.TypeCreateChat,
		protocol.TypeInit,
		protocol.TypeStartMessaging,
		protocol.TypeEndMessaging,
		protocol.TypeError,
		protocol.TypeComplete,
	})

	// The partial segment is still preserved.
	created := rec.frames[0].(protocol.ChatFrame)
	page, err := db.GetMessages(context.Background(), created.ChatID, 10, "")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("expected user message plus partial segment, got %d", page.Total)
	}
}

func TestTransparentContinueOnUnconfirmedTool(t *testing.T) {
	toolState := engine.State{Tasks: []engine.Task{{
		Next: []string{"tools"},
		Messages: []engine.Message{{
			ID:        "am1",
			Role:      "assistant",
			ToolCalls: []engine.ToolCall{{ID: "tc1", Name: "search_web", Args: map[string]any{"q": "news"}}},
		}},
	}}}
	eng := engine.NewMock(
		engine.ScriptedTurn{
			Events: []engine.Event{{Mode: engine.ModeMessages, Token: &engine.Token{
				ToolCalls: []engine.ToolCall{{ID: "tc1", Name: "search_web"}},
			}}},
			State: toolState,
		},
		engine.ScriptedTurn{
			Events: []engine.Event{engine.TextEvent("Here is the news.")},
		},
	)
	llm := &scriptedLLM{responses: []string{"no", "Latest news"}}
	svc, _ := newTestService(t, eng, llm, &staticPolicy{confirm: map[string]bool{"send_gmail": true}})
	rec := &frameRecorder{}

	if err := svc.HandleUserMessage(context.Background(), rec, "u1", userTextEvent("", "any news?")); err != nil {
		t.Fatalf("HandleUserMessage failed: %v", err)
	}

	if len(eng.Inputs) != 2 {
		t.Fatalf("expected 2 stream calls, got %d", len(eng.Inputs))
	}
	if eng.Inputs[1] != nil {
		t.Fatalf("continue hop must use a nil input, got %+v", eng.Inputs[1])
	}

	got := rec.types()
	if got[len(got)-1] != protocol.TypeComplete {
		t.Fatalf("turn should complete, got %v", got)
	}
	for _, ty := range got {
		if ty == protocol.TypeConfirmation {
			t.Fatalf("no confirmation expected for search_web: %v", got)
		}
	}
}

func TestResumeHopLimit(t *testing.T) {
	stuck := engine.ScriptedTurn{
		State: engine.State{Tasks: []engine.Task{{
			Next: []string{"tools"},
			Messages: []engine.Message{{
				ID:        "am1",
				Role:      "assistant",
				ToolCalls: []engine.ToolCall{{ID: "tc1", Name: "search_web"}},
			}},
		}}},
	}
	turns := make([]engine.ScriptedTurn, 10)
	for i := range turns {
		turns[i] = stuck
	}
	eng := engine.NewMock(turns...)
	svc, _ := newTestService(t, eng, nil, nil)
	rec := &frameRecorder{}

	if err := svc.HandleUserMessage(context.Background(), rec, "u1", userTextEvent("", "loop")); err != nil {
		t.Fatalf("HandleUserMessage failed: %v", err)
	}

	got := rec.types()
	foundError := false
	for _, ty := range got {
		if ty == protocol.TypeError {
			foundError = true
		}
	}
	if !foundError {
		t.Fatalf("expected error frame after hop limit, got %v", got)
	}
	// MaxResumeHops is 4: initial stream plus four continues.
	if len(eng.Inputs) != 5 {
		t.Fatalf("expected 5 stream calls, got %d", len(eng.Inputs))
	}
}
