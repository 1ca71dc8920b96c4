package session

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/my-personal-agent/chat-service/internal/domain"
	"github.com/my-personal-agent/chat-service/internal/engine"
	"github.com/my-personal-agent/chat-service/internal/protocol"
	"github.com/my-personal-agent/chat-service/internal/segment"
)

// HandleUserMessage processes one user_message frame: either a new
// free-text turn or a response to a pending confirmation.
func (s *Service) HandleUserMessage(ctx context.Context, send Sender, userID string, evt protocol.ClientEvent) error {
	text, reply, err := evt.DecodeMessage()
	if err != nil {
		return fmt.Errorf("invalid message payload: %w", err)
	}

	created, chat, err := s.store.UpsertChat(ctx, userID, evt.ChatID)
	if err != nil {
		return err
	}

	if created {
		err = send.Send(protocol.ChatFrame{
			Type:      protocol.TypeCreateChat,
			ChatID:    chat.ChatID,
			Content:   chat.Title,
			Timestamp: chat.Timestamp,
		})
	} else {
		err = send.Send(protocol.ChatFrame{
			Type:      protocol.TypeUpdateChat,
			ChatID:    chat.ChatID,
			Timestamp: chat.Timestamp,
		})
	}
	if err != nil {
		return err
	}

	if reply != nil {
		return s.handleConfirmationReply(ctx, send, userID, chat, reply)
	}
	return s.handleFreeText(ctx, send, userID, chat, text, evt.UploadFiles)
}

// handleFreeText runs a new turn started by plain user text.
func (s *Service) handleFreeText(ctx context.Context, send Sender, userID string, chat *domain.Chat, text string, files []domain.FileRef) error {
	text = strings.TrimSpace(text)
	if text == "" {
		// Whitespace-only input is never persisted and starts no turn; the
		// chat bump has already been announced, so just settle the client.
		if len(files) > 0 {
			if err := s.store.AddChatFiles(ctx, chat.ChatID, files); err != nil {
				log.Printf("ERROR: failed to record chat files: %v", err)
			}
		}
		return send.Send(protocol.CompleteFrame{Type: protocol.TypeComplete, ChatID: chat.ChatID})
	}

	groupID := domain.NewID()

	userMsg := &domain.ChatMessage{
		MessageID: domain.NewID(),
		ChatID:    chat.ChatID,
		GroupID:   groupID,
		Role:      domain.RoleUser,
		Content:   text,
		Timestamp: domain.NowTimestamp(),
		Files:     files,
	}
	if err := s.store.CreateMessage(ctx, userMsg); err != nil {
		return fmt.Errorf("failed to save user message: %w", err)
	}

	if err := send.Send(protocol.MessageFrame{
		Type:      protocol.TypeInit,
		ID:        userMsg.MessageID,
		ChatID:    chat.ChatID,
		Role:      domain.RoleUser,
		GroupID:   groupID,
		Timestamp: userMsg.Timestamp,
		Content:   userMsg.Content,
		Files:     userMsg.Files,
	}); err != nil {
		return err
	}

	if len(files) > 0 {
		if err := s.store.AddChatFiles(ctx, chat.ChatID, files); err != nil {
			log.Printf("ERROR: failed to record chat files: %v", err)
		}
	}

	cfg := s.engineConfig(ctx, chat, userID, files)
	input := &engine.Input{UserText: userMsg.Content}

	completed, buffered, streamErr := s.streamTurn(ctx, send, chat, groupID, userMsg.Content, input, cfg)
	return s.finishTurn(ctx, send, userID, chat, buffered, userMsg.Content, completed, streamErr)
}

// streamTurn drives the engine's event stream through the segment
// accumulator, transparently continuing past non-confirm pauses up to the
// hop limit. Returns completed=false when the turn suspends for a
// confirmation.
func (s *Service) streamTurn(ctx context.Context, send Sender, chat *domain.Chat, groupID, userText string, input *engine.Input, cfg engine.Config) (completed bool, buffered []domain.ChatMessage, streamErr error) {
	sink := &turnSink{ctx: ctx, send: send, progress: s.progress, chatID: chat.ChatID}
	acc := segment.New(chat.ChatID, groupID, sink)

	completed = true
	var confirmation *domain.ChatMessage

	for hop := 0; ; hop++ {
		events, err := s.engine.Stream(ctx, input, cfg)
		if err != nil {
			streamErr = fmt.Errorf("failed to start agent stream: %w", err)
			break
		}

		if streamErr = s.consumeStream(events, acc); streamErr != nil {
			break
		}

		decision, msg, err := s.checkPause(ctx, send, chat, groupID, userText, cfg)
		if err != nil {
			streamErr = err
			break
		}
		if decision == pauseSuspended {
			confirmation = msg
			completed = false
			break
		}
		if decision == pauseNone {
			break
		}

		// Pending step on a tool that needs no approval: continue the graph
		// with a null input and re-check.
		if hop >= s.maxResumeHops {
			streamErr = fmt.Errorf("resume hop limit reached after %d hops", hop)
			break
		}
		input = nil
	}

	if err := acc.Finish(); err != nil {
		log.Printf("ERROR: failed to close final segment: %v", err)
	}

	for _, seg := range acc.Closed() {
		buffered = append(buffered, seg.Message())
	}
	if confirmation != nil {
		buffered = append(buffered, *confirmation)
	}
	return completed, buffered, streamErr
}

// consumeStream feeds content fragments to the accumulator. Tool-call
// fragments and tool results are logged, never shown to the user.
func (s *Service) consumeStream(events <-chan engine.Event, acc *segment.Accumulator) error {
	defer func() {
		for range events {
		}
	}()

	for ev := range events {
		if ev.Err != nil {
			return fmt.Errorf("agent stream failed: %w", ev.Err)
		}
		if ev.Mode != engine.ModeMessages || ev.Token == nil {
			continue
		}
		tok := ev.Token
		if tok.FromTool {
			log.Printf("INFO: tool result: %s", tok.Content)
			continue
		}
		if len(tok.ToolCalls) > 0 {
			log.Printf("INFO: buffered tool call: %s", tok.ToolCalls[0].Name)
			continue
		}
		if err := acc.Feed(tok.Content); err != nil {
			return err
		}
	}
	return nil
}

// finishTurn persists the buffered segments, clears the progress cache
// and, on completion of a free-text turn, runs the title flow.
func (s *Service) finishTurn(ctx context.Context, send Sender, userID string, chat *domain.Chat, buffered []domain.ChatMessage, userText string, completed bool, streamErr error) error {
	// Best-effort preservation: the content was already streamed, so a
	// persistence failure is logged rather than surfaced.
	if err := s.store.CreateMessages(ctx, buffered); err != nil {
		log.Printf("ERROR: failed to save bot messages: %v", err)
	}

	if err := s.progress.Clear(ctx, chat.ChatID); err != nil {
		log.Printf("WARN: failed to clear progress cache: %v", err)
	}

	if streamErr != nil {
		log.Printf("ERROR: streaming failed: %v", streamErr)
		if err := send.Send(protocol.Error("Agent stream failed")); err != nil {
			return err
		}
	}

	if !completed {
		return nil
	}

	if streamErr == nil && len(buffered) > 0 {
		s.maybeGenerateTitle(ctx, send, userID, chat, userText, buffered)
	}

	return send.Send(protocol.CompleteFrame{Type: protocol.TypeComplete, ChatID: chat.ChatID})
}

// engineConfig builds the per-turn invocation configuration: identities,
// linked connector accounts and the files relevant to this turn.
func (s *Service) engineConfig(ctx context.Context, chat *domain.Chat, userID string, files []domain.FileRef) engine.Config {
	cfg := engine.Config{
		ThreadID:     chat.ChatID,
		ChatID:       chat.ChatID,
		UserID:       userID,
		Configurable: make(map[string]string),
	}

	fullname, err := s.store.GetUserFullname(ctx, userID)
	if err != nil {
		log.Printf("WARN: failed to get user fullname: %v", err)
	}
	cfg.UserFullname = fullname

	connectors, err := s.store.GetConnectors(ctx, userID)
	if err != nil {
		log.Printf("WARN: failed to get connectors: %v", err)
	}
	for _, c := range connectors {
		cfg.Configurable[c.ConnectorType+"_user_id"] = c.ConnectorID
	}

	// No files attached to this turn: fall back to the files previously
	// referenced in the conversation.
	if len(files) == 0 {
		files, err = s.store.GetChatFiles(ctx, chat.ChatID)
		if err != nil {
			log.Printf("WARN: failed to get chat files: %v", err)
		}
	}
	for _, f := range files {
		cfg.FileIDs = append(cfg.FileIDs, f.FileID)
	}

	return cfg
}
