// Package segment classifies a turn's stream of content fragments into
// ordered thinking and assistant segments.
package segment

import (
	"strings"

	"github.com/my-personal-agent/chat-service/internal/domain"
)

// Thinking-block boundary sentinels emitted by the agent engine.
const (
	ThinkStart = "<think>"
	ThinkEnd   = "</think>"
)

// Sink receives segment lifecycle notifications. The thinking flag
// selects between the thinking and messaging frame families.
type Sink interface {
	SegmentStarted(seg domain.Segment, thinking bool) error
	SegmentUpdated(seg domain.Segment, thinking bool) error
	SegmentEnded(seg domain.Segment, thinking bool) error
}

// Accumulator is the token-segmentation state machine for one turn.
// Fragments are fed in emission order; closed segments come out in the
// same order. Not safe for concurrent use; a turn is single-threaded.
type Accumulator struct {
	chatID  string
	groupID string
	sink    Sink

	thinking bool
	current  *domain.Segment
	closed   []domain.Segment
}

// New creates an accumulator for one turn.
func New(chatID, groupID string, sink Sink) *Accumulator {
	return &Accumulator{chatID: chatID, groupID: groupID, sink: sink}
}

// Feed processes one content fragment.
func (a *Accumulator) Feed(content string) error {
	switch content {
	case ThinkStart:
		if a.current != nil {
			if err := a.closeCurrent(); err != nil {
				return err
			}
		}
		a.thinking = true
		a.current = a.newSegment(domain.RoleSystem, "")
		return a.sink.SegmentStarted(*a.current, true)

	case ThinkEnd:
		a.thinking = false
		if a.current == nil {
			return nil
		}
		seg := *a.current
		a.closed = append(a.closed, seg)
		a.current = nil
		return a.sink.SegmentEnded(seg, true)
	}

	if a.thinking {
		if a.current == nil {
			return nil
		}
		a.append(content)
		return a.sink.SegmentUpdated(*a.current, true)
	}

	if a.current == nil {
		// Whitespace between segments never opens one.
		if strings.TrimSpace(content) == "" {
			return nil
		}
		a.current = a.newSegment(domain.RoleAssistant, content)
		return a.sink.SegmentStarted(*a.current, false)
	}

	a.append(content)
	return a.sink.SegmentUpdated(*a.current, false)
}

// Finish closes the open segment, if any. It is closed unconditionally;
// empty segments are filtered at the persistence boundary, not here.
func (a *Accumulator) Finish() error {
	if a.current == nil {
		return nil
	}
	return a.closeCurrent()
}

// Closed returns the closed segments in emission order.
func (a *Accumulator) Closed() []domain.Segment {
	return a.closed
}

// Open returns the still-open segment, if any, and the thinking flag.
func (a *Accumulator) Open() (*domain.Segment, bool) {
	return a.current, a.thinking
}

func (a *Accumulator) newSegment(role domain.ChatRole, content string) *domain.Segment {
	return &domain.Segment{
		ID:        domain.NewID(),
		ChatID:    a.chatID,
		GroupID:   a.groupID,
		Role:      role,
		Content:   content,
		Timestamp: domain.NowTimestamp(),
		Thinking:  a.thinking,
	}
}

func (a *Accumulator) append(content string) {
	a.current.Content += content
	a.current.Timestamp = domain.NowTimestamp()
}

func (a *Accumulator) closeCurrent() error {
	seg := *a.current
	thinking := a.thinking
	a.closed = append(a.closed, seg)
	a.current = nil
	return a.sink.SegmentEnded(seg, thinking)
}
