package session

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/my-personal-agent/chat-service/internal/domain"
	"github.com/my-personal-agent/chat-service/internal/protocol"
)

// maybeGenerateTitle runs the title flow after a chat's first substantive
// turn. A pure greeting keeps the default title; anything else gets a
// short generated one. Failures keep the default title and never fail the
// turn.
func (s *Service) maybeGenerateTitle(ctx context.Context, send Sender, userID string, chat *domain.Chat, userText string, buffered []domain.ChatMessage) {
	if chat.TitleSet || strings.TrimSpace(userText) == "" {
		return
	}

	if err := send.Send(protocol.TitleFrame{Type: protocol.TypeCheckingTitle, ChatID: chat.ChatID}); err != nil {
		log.Printf("ERROR: failed to send checking_title: %v", err)
		return
	}

	greeting, err := s.isGreeting(ctx, userText)
	if err != nil {
		log.Printf("WARN: greeting check failed: %v", err)
		s.sendTitle(send, chat.ChatID, chat.Title, chat.Timestamp)
		return
	}

	if greeting {
		s.sendTitle(send, chat.ChatID, chat.Title, chat.Timestamp)
		return
	}

	title, err := s.generateTitle(ctx, userText, buffered)
	if err != nil || title == "" {
		log.Printf("WARN: title generation failed: %v", err)
		s.sendTitle(send, chat.ChatID, chat.Title, chat.Timestamp)
		return
	}

	updated, err := s.store.UpdateChatTitle(ctx, userID, chat.ChatID, title)
	if err != nil {
		log.Printf("ERROR: failed to persist chat title: %v", err)
		s.sendTitle(send, chat.ChatID, chat.Title, chat.Timestamp)
		return
	}
	s.sendTitle(send, chat.ChatID, updated.Title, updated.Timestamp)
}

func (s *Service) sendTitle(send Sender, chatID, title string, timestamp float64) {
	if err := send.Send(protocol.TitleFrame{
		Type:      protocol.TypeGeneratedTitle,
		ChatID:    chatID,
		Content:   title,
		Timestamp: timestamp,
	}); err != nil {
		log.Printf("ERROR: failed to send generated_title: %v", err)
	}
}

// isGreeting classifies whether the user's message is only a greeting.
func (s *Service) isGreeting(ctx context.Context, message string) (bool, error) {
	prompt := fmt.Sprintf(`Determine whether the user's message is only a greeting (e.g. 'hi', 'hello', 'good morning', etc.).
If yes, respond only with "yes". If not, respond only with "no".

Message: "%s"
Answer:`, strings.TrimSpace(message))

	answer, err := s.llm.Complete(ctx, prompt)
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "yes"), nil
}

// generateTitle synthesizes a short title from the user text and the
// turn's first assistant reply.
func (s *Service) generateTitle(ctx context.Context, userText string, buffered []domain.ChatMessage) (string, error) {
	var reply string
	for _, msg := range buffered {
		if msg.Role == domain.RoleAssistant && strings.TrimSpace(msg.Content) != "" {
			reply = strings.TrimSpace(msg.Content)
			break
		}
	}

	var dialogue strings.Builder
	dialogue.WriteString("User: " + strings.TrimSpace(userText))
	if reply != "" {
		dialogue.WriteString("\nAssistant: " + reply)
	}

	prompt := fmt.Sprintf(`Generate a short and relevant title (max 5 words) for the following conversation between a user and an assistant. Respond with only the title.

%s

Title:`, dialogue.String())

	return s.llm.Complete(ctx, prompt)
}
