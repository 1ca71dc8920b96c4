// Package session orchestrates one user turn end-to-end: chat upsert,
// user-message persistence, agent streaming through the segment
// accumulator, confirmation gating and finalization.
package session

import (
	"context"
	"log"

	"github.com/my-personal-agent/chat-service/internal/cache"
	"github.com/my-personal-agent/chat-service/internal/config"
	"github.com/my-personal-agent/chat-service/internal/domain"
	"github.com/my-personal-agent/chat-service/internal/engine"
	"github.com/my-personal-agent/chat-service/internal/protocol"
	"github.com/my-personal-agent/chat-service/internal/segment"
	"github.com/my-personal-agent/chat-service/internal/store"
)

// Sender delivers outbound frames to the client.
type Sender interface {
	Send(v any) error
}

// Completer is the model used for greeting classification and title
// generation.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ConfirmPolicy decides whether a paused tool invocation needs human
// approval.
type ConfirmPolicy interface {
	RequiresConfirmation(ctx context.Context, node, toolName string) (bool, error)
}

// Service drives chat turns. One turn per chat runs at a time; the
// transport loop awaits full turn completion before reading the next
// client frame.
type Service struct {
	store         store.Store
	progress      *cache.Progress
	confirmations *cache.Confirmations
	engine        engine.Engine
	policy        ConfirmPolicy
	llm           Completer
	maxResumeHops int
}

// New creates the session service.
func New(st store.Store, c cache.Cache, eng engine.Engine, pol ConfirmPolicy, llm Completer, cfg *config.Config) *Service {
	return &Service{
		store:         st,
		progress:      cache.NewProgress(c, cfg.StreamCacheTTL),
		confirmations: cache.NewConfirmations(c, cfg.StreamCacheTTL),
		engine:        eng,
		policy:        pol,
		llm:           llm,
		maxResumeHops: cfg.MaxResumeHops,
	}
}

// Progress exposes the progress cache for the transport's resume path.
func (s *Service) Progress() *cache.Progress {
	return s.progress
}

// turnSink bridges segment lifecycle notifications to outbound frames and
// the progress cache. The session controller is the sole writer of
// progress entries.
type turnSink struct {
	ctx      context.Context
	send     Sender
	progress *cache.Progress
	chatID   string
}

func (t *turnSink) SegmentStarted(seg domain.Segment, thinking bool) error {
	frameType := protocol.TypeStartMessaging
	if thinking {
		frameType = protocol.TypeStartThinking
	}
	if err := t.send.Send(protocol.SegmentFrame(frameType, seg)); err != nil {
		return err
	}
	t.saveProgress(seg, thinking)
	return nil
}

func (t *turnSink) SegmentUpdated(seg domain.Segment, thinking bool) error {
	frameType := protocol.TypeMessaging
	if thinking {
		frameType = protocol.TypeThinking
	}
	if err := t.send.Send(protocol.SegmentFrame(frameType, seg)); err != nil {
		return err
	}
	t.saveProgress(seg, thinking)
	return nil
}

func (t *turnSink) SegmentEnded(seg domain.Segment, thinking bool) error {
	frameType := protocol.TypeEndMessaging
	if thinking {
		frameType = protocol.TypeEndThinking
	}
	if err := t.send.Send(protocol.SegmentFrame(frameType, seg)); err != nil {
		return err
	}
	if err := t.progress.Clear(t.ctx, t.chatID); err != nil {
		log.Printf("WARN: failed to clear progress cache: %v", err)
	}
	return nil
}

func (t *turnSink) saveProgress(seg domain.Segment, thinking bool) {
	entry := &domain.ProgressEntry{Current: &seg, Thinking: thinking}
	if err := t.progress.Save(t.ctx, t.chatID, entry); err != nil {
		log.Printf("WARN: failed to save progress cache: %v", err)
	}
}

var _ segment.Sink = (*turnSink)(nil)
