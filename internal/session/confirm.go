package session

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/my-personal-agent/chat-service/internal/domain"
	"github.com/my-personal-agent/chat-service/internal/engine"
	"github.com/my-personal-agent/chat-service/internal/protocol"
)

type pauseDecision int

const (
	// pauseNone: no pending step, the turn is complete.
	pauseNone pauseDecision = iota
	// pauseContinue: pending step on a tool that needs no approval.
	pauseContinue
	// pauseSuspended: a must-confirm tool is buffered; the turn suspends.
	pauseSuspended
)

// checkPause inspects the engine's paused state after a stream ends. When
// the buffered tool call is in the must-confirm set it materializes the
// confirmation record, emits the confirmation frame and caches the
// pending-confirmation context.
func (s *Service) checkPause(ctx context.Context, send Sender, chat *domain.Chat, groupID, userText string, cfg engine.Config) (pauseDecision, *domain.ChatMessage, error) {
	state, err := s.engine.GetState(ctx, cfg)
	if err != nil {
		return pauseNone, nil, fmt.Errorf("failed to get agent state: %w", err)
	}
	if state == nil || len(state.Tasks) == 0 {
		return pauseNone, nil, nil
	}

	task := state.Tasks[0]
	node := pendingToolNode(task.Next)
	if node == "" {
		return pauseNone, nil, nil
	}
	if len(task.Messages) == 0 {
		return pauseContinue, nil, nil
	}

	last := task.Messages[len(task.Messages)-1]
	if len(last.ToolCalls) == 0 {
		return pauseContinue, nil, nil
	}
	toolCall := last.ToolCalls[0]

	requires, err := s.policy.RequiresConfirmation(ctx, node, toolCall.Name)
	if err != nil {
		return pauseNone, nil, fmt.Errorf("failed to evaluate confirm policy: %w", err)
	}
	if !requires {
		return pauseContinue, nil, nil
	}

	confirmation := domain.Confirmation{
		Name:    toolCall.Name,
		Args:    toolCall.Args,
		Approve: domain.ApproveAsking,
	}
	msg := &domain.ChatMessage{
		MessageID:    domain.NewID(),
		ChatID:       chat.ChatID,
		GroupID:      groupID,
		Role:         domain.RoleConfirmation,
		Confirmation: &confirmation,
		Timestamp:    domain.NowTimestamp(),
	}

	if err := send.Send(protocol.ConfirmationFrame{
		Type:      protocol.TypeConfirmation,
		ID:        msg.MessageID,
		ChatID:    msg.ChatID,
		Role:      msg.Role,
		GroupID:   msg.GroupID,
		Timestamp: msg.Timestamp,
		Content:   confirmation,
	}); err != nil {
		return pauseNone, nil, err
	}

	pending := &domain.PendingConfirmation{
		GroupID:        groupID,
		ToolCallID:     toolCall.ID,
		ToolName:       toolCall.Name,
		ToolArgs:       toolCall.Args,
		LastMessageIDs: lastMessageIDs(task.Messages, 2),
		UserText:       userText,
	}
	if err := s.confirmations.Save(ctx, msg.MessageID, pending); err != nil {
		// Without the cached context the confirmation could never be
		// resumed; fail the turn instead of suspending into a dead end.
		return pauseNone, nil, fmt.Errorf("failed to cache pending confirmation: %w", err)
	}

	return pauseSuspended, msg, nil
}

// handleConfirmationReply resumes, patches or cancels a suspended turn
// based on the client's approval decision.
func (s *Service) handleConfirmationReply(ctx context.Context, send Sender, userID string, chat *domain.Chat, reply *protocol.ConfirmationReply) error {
	pending, err := s.confirmations.Load(ctx, reply.MsgID)
	if err != nil {
		return fmt.Errorf("failed to load pending confirmation: %w", err)
	}
	if pending == nil {
		// Stale or retried confirmation: treat as already complete.
		log.Printf("WARN: no pending confirmation for message %s", reply.MsgID)
		return send.Send(protocol.CompleteFrame{Type: protocol.TypeComplete, ChatID: chat.ChatID})
	}

	if !domain.ValidApproval(reply.Approve) {
		// Leave the pending confirmation intact so the client can retry.
		return domain.ErrInvalidApproval
	}

	if err := s.confirmations.Delete(ctx, reply.MsgID); err != nil {
		log.Printf("WARN: failed to delete pending confirmation: %v", err)
	}

	cfg := s.engineConfig(ctx, chat, userID, nil)

	if reply.Approve == domain.ApproveCancel {
		return s.cancelConfirmation(ctx, send, chat, reply.MsgID, pending, cfg)
	}

	final := domain.Confirmation{
		Name:    pending.ToolName,
		Args:    pending.ToolArgs,
		Approve: reply.Approve,
	}

	switch reply.Approve {
	case domain.ApproveUpdate:
		merged := mergeArgs(pending.ToolArgs, replyArgs(reply))
		final.Args = merged
		if len(pending.LastMessageIDs) > 0 {
			patch := engine.Patch{SetToolArgs: &engine.ToolArgsPatch{
				MessageID:  pending.LastMessageIDs[len(pending.LastMessageIDs)-1],
				ToolCallID: pending.ToolCallID,
				Args:       merged,
			}}
			if err := s.engine.UpdateState(ctx, cfg, patch); err != nil {
				return fmt.Errorf("failed to update tool args: %w", err)
			}
		}

	case domain.ApproveFeedback:
		feedback := ""
		if reply.Data != nil {
			feedback = reply.Data.Feedback
		}
		// The tool is not executed; its result slot is filled with the
		// user's feedback instead.
		patch := engine.Patch{AppendMessages: []engine.Message{{
			ID:         domain.NewID(),
			Role:       "tool",
			Content:    feedback,
			ToolCallID: pending.ToolCallID,
		}}}
		if err := s.engine.UpdateState(ctx, cfg, patch); err != nil {
			return fmt.Errorf("failed to inject feedback: %w", err)
		}
	}

	s.resolveConfirmation(ctx, send, chat, reply.MsgID, pending.GroupID, final)

	input := &engine.Input{Command: &engine.Command{Resume: reply.Approve}}
	completed, buffered, streamErr := s.streamTurn(ctx, send, chat, pending.GroupID, pending.UserText, input, cfg)
	return s.finishTurn(ctx, send, userID, chat, buffered, pending.UserText, completed, streamErr)
}

// cancelConfirmation excises the pending tool-call and user-turn messages
// from the graph's durable state and finalizes the confirmation record.
func (s *Service) cancelConfirmation(ctx context.Context, send Sender, chat *domain.Chat, msgID string, pending *domain.PendingConfirmation, cfg engine.Config) error {
	final := domain.Confirmation{
		Name:    pending.ToolName,
		Args:    pending.ToolArgs,
		Approve: domain.ApproveCancel,
	}
	s.resolveConfirmation(ctx, send, chat, msgID, pending.GroupID, final)

	patch := engine.Patch{RemoveMessageIDs: pending.LastMessageIDs}
	if err := s.engine.UpdateState(ctx, cfg, patch); err != nil {
		return fmt.Errorf("failed to excise cancelled messages: %w", err)
	}

	return send.Send(protocol.CompleteFrame{Type: protocol.TypeComplete, ChatID: chat.ChatID})
}

// resolveConfirmation updates the stored confirmation record in place and
// emits the end_confirmation frame.
func (s *Service) resolveConfirmation(ctx context.Context, send Sender, chat *domain.Chat, msgID, groupID string, final domain.Confirmation) {
	timestamp := domain.NowTimestamp()
	updated, err := s.store.UpdateConfirmationApprove(ctx, chat.ChatID, msgID, final)
	if err != nil {
		if !errors.Is(err, domain.ErrMissingConfirmationContext) {
			log.Printf("ERROR: failed to update confirmation message: %v", err)
		}
	} else {
		timestamp = updated.Timestamp
	}

	if err := send.Send(protocol.ConfirmationFrame{
		Type:      protocol.TypeEndConfirmation,
		ID:        msgID,
		ChatID:    chat.ChatID,
		Role:      domain.RoleConfirmation,
		GroupID:   groupID,
		Timestamp: timestamp,
		Content:   final,
	}); err != nil {
		log.Printf("ERROR: failed to send end_confirmation: %v", err)
	}
}

// pendingToolNode returns the tool-execution node among the pending
// nodes, or "" when the pause is not before a tool invocation.
func pendingToolNode(next []string) string {
	for _, node := range next {
		if node == "tools" {
			return node
		}
	}
	return ""
}

// lastMessageIDs returns the ids of the n most recent messages, oldest
// first.
func lastMessageIDs(messages []engine.Message, n int) []string {
	start := len(messages) - n
	if start < 0 {
		start = 0
	}
	ids := make([]string, 0, n)
	for _, msg := range messages[start:] {
		ids = append(ids, msg.ID)
	}
	return ids
}

func replyArgs(reply *protocol.ConfirmationReply) map[string]any {
	if reply.Data == nil {
		return nil
	}
	return reply.Data.Args
}

// mergeArgs overlays client-supplied argument deltas onto the stored
// args without mutating either map.
func mergeArgs(base, delta map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(delta))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range delta {
		merged[k] = v
	}
	return merged
}
