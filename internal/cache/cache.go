// Package cache provides the ephemeral key-value cache backing stream
// resumption and pending confirmations.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/my-personal-agent/chat-service/internal/domain"
)

// Cache is a TTL-bounded key-value store.
type Cache interface {
	SetEx(ctx context.Context, key string, ttl time.Duration, value string) error
	// Get returns the value and whether the key was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

const (
	progressKeyPrefix     = "chat_messages_in_progress:"
	confirmationKeyPrefix = "chat_messages_in_confirmation:"
)

// Progress records the in-flight segment of a chat so a reconnecting
// client can replay it. Not authoritative: a missing entry means no
// in-flight segment, never an error.
type Progress struct {
	cache Cache
	ttl   time.Duration
}

// NewProgress creates a progress cache with the given entry TTL.
func NewProgress(c Cache, ttl time.Duration) *Progress {
	return &Progress{cache: c, ttl: ttl}
}

// Save overwrites the chat's progress entry.
func (p *Progress) Save(ctx context.Context, chatID string, entry *domain.ProgressEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal progress entry: %w", err)
	}
	return p.cache.SetEx(ctx, progressKeyPrefix+chatID, p.ttl, string(raw))
}

// Load returns the last saved entry, or nil when none exists.
func (p *Progress) Load(ctx context.Context, chatID string) (*domain.ProgressEntry, error) {
	raw, ok, err := p.cache.Get(ctx, progressKeyPrefix+chatID)
	if err != nil || !ok {
		return nil, err
	}
	var entry domain.ProgressEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal progress entry: %w", err)
	}
	return &entry, nil
}

// Clear removes the chat's progress entry.
func (p *Progress) Clear(ctx context.Context, chatID string) error {
	return p.cache.Delete(ctx, progressKeyPrefix+chatID)
}

// Confirmations holds pending confirmation records keyed by the
// confirmation message id.
type Confirmations struct {
	cache Cache
	ttl   time.Duration
}

// NewConfirmations creates a pending-confirmation cache with the given TTL.
func NewConfirmations(c Cache, ttl time.Duration) *Confirmations {
	return &Confirmations{cache: c, ttl: ttl}
}

// Save stores the pending confirmation under the message id.
func (c *Confirmations) Save(ctx context.Context, messageID string, pending *domain.PendingConfirmation) error {
	raw, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("failed to marshal pending confirmation: %w", err)
	}
	return c.cache.SetEx(ctx, confirmationKeyPrefix+messageID, c.ttl, string(raw))
}

// Load returns the pending confirmation, or nil when absent or expired.
func (c *Confirmations) Load(ctx context.Context, messageID string) (*domain.PendingConfirmation, error) {
	raw, ok, err := c.cache.Get(ctx, confirmationKeyPrefix+messageID)
	if err != nil || !ok {
		return nil, err
	}
	var pending domain.PendingConfirmation
	if err := json.Unmarshal([]byte(raw), &pending); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending confirmation: %w", err)
	}
	return &pending, nil
}

// Delete removes the pending confirmation once the client has responded.
func (c *Confirmations) Delete(ctx context.Context, messageID string) error {
	return c.cache.Delete(ctx, confirmationKeyPrefix+messageID)
}
