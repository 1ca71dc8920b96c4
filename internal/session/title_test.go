package session

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/my-personal-agent/chat-service/internal/domain"
	"github.com/my-personal-agent/chat-service/internal/engine"
	"github.com/my-personal-agent/chat-service/internal/protocol"
)

func newTitleFixture(t *testing.T, llm *scriptedLLM) (*Service, *domain.Chat) {
	t.Helper()
	svc, db := newTestService(t, engine.NewMock(), llm, nil)
	_, chat, err := db.UpsertChat(context.Background(), "u1", "")
	if err != nil {
		t.Fatalf("UpsertChat failed: %v", err)
	}
	return svc, chat
}

func TestTitleSkippedWhenAlreadySet(t *testing.T) {
	llm := &scriptedLLM{err: fmt.Errorf("must not be called")}
	svc, chat := newTitleFixture(t, llm)
	chat.TitleSet = true

	rec := &frameRecorder{}
	svc.maybeGenerateTitle(context.Background(), rec, "u1", chat, "hello", nil)

	if len(rec.frames) != 0 {
		t.Fatalf("expected no frames, got %v", rec.types())
	}
}

func TestTitleSkippedOnEmptyUserText(t *testing.T) {
	llm := &scriptedLLM{err: fmt.Errorf("must not be called")}
	svc, chat := newTitleFixture(t, llm)

	rec := &frameRecorder{}
	svc.maybeGenerateTitle(context.Background(), rec, "u1", chat, "   ", nil)

	if len(rec.frames) != 0 {
		t.Fatalf("expected no frames, got %v", rec.types())
	}
}

func TestTitleFallsBackOnLLMError(t *testing.T) {
	llm := &scriptedLLM{err: fmt.Errorf("model offline")}
	svc, chat := newTitleFixture(t, llm)

	rec := &frameRecorder{}
	svc.maybeGenerateTitle(context.Background(), rec, "u1", chat, "plan my trip", nil)

	assertFrameTypes(t, rec, []string{
		protocol.TypeCheckingTitle,
		protocol.TypeGeneratedTitle,
	})
	title := rec.frames[1].(protocol.TitleFrame)
	if title.Content != domain.DefaultChatTitle {
		t.Fatalf("llm failure must keep the default title, got %q", title.Content)
	}
}

func TestTitlePromptIncludesAssistantReply(t *testing.T) {
	llm := &scriptedLLM{responses: []string{"no", "Trip planning"}}
	svc, chat := newTitleFixture(t, llm)

	buffered := []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "thinking about flights"},
		{Role: domain.RoleAssistant, Content: "Sure, where are you headed?"},
	}
	rec := &frameRecorder{}
	svc.maybeGenerateTitle(context.Background(), rec, "u1", chat, "plan my trip", buffered)

	if len(llm.prompts) != 2 {
		t.Fatalf("expected greeting check and title prompt, got %d", len(llm.prompts))
	}
	titlePrompt := llm.prompts[1]
	if !strings.Contains(titlePrompt, "User: plan my trip") {
		t.Fatalf("title prompt missing user text: %s", titlePrompt)
	}
	if !strings.Contains(titlePrompt, "Assistant: Sure, where are you headed?") {
		t.Fatalf("title prompt missing assistant reply: %s", titlePrompt)
	}
	if strings.Contains(titlePrompt, "thinking about flights") {
		t.Fatalf("thinking content leaked into title prompt: %s", titlePrompt)
	}

	title := rec.frames[1].(protocol.TitleFrame)
	if title.Content != "Trip planning" {
		t.Fatalf("unexpected title: %q", title.Content)
	}
}

func TestTitleEmptyGenerationFallsBack(t *testing.T) {
	llm := &scriptedLLM{responses: []string{"no", ""}}
	svc, chat := newTitleFixture(t, llm)

	rec := &frameRecorder{}
	svc.maybeGenerateTitle(context.Background(), rec, "u1", chat, "plan my trip", nil)

	title := rec.frames[1].(protocol.TitleFrame)
	if title.Content != domain.DefaultChatTitle {
		t.Fatalf("empty generation must keep the default title, got %q", title.Content)
	}
}
