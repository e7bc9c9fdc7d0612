// Package idempotency remembers which payment completion events were already processed.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Status represents the lifecycle state of a processed-event record.
type Status string

const (
	// DefaultTTL is how long processed-event records are retained.
	DefaultTTL = 30 * 24 * time.Hour
	// StatusPending marks a claimed event whose sync has not finished.
	StatusPending Status = "pending"
	// StatusCompleted marks an event whose sync finished, whatever its outcome.
	StatusCompleted Status = "completed"
)

// Record is the persisted state of one event key.
type Record struct {
	Key       string
	Status    Status
	Outcome   string
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

func (r Record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Store persists processed-event records.
type Store interface {
	// Claim records key as pending. It returns false when an unexpired record already exists.
	Claim(ctx context.Context, key string, now time.Time, ttl time.Duration) (bool, error)
	// Complete marks key as completed with outcome, creating the record when missing.
	Complete(ctx context.Context, key, outcome string, now time.Time, ttl time.Duration) error
	// Release deletes the record so that a later delivery may claim key again.
	Release(ctx context.Context, key string) error
	// CleanupExpired removes up to limit expired records.
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

func documentID(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}
