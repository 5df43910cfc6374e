// Package audit records anonymized lifecycle events. Recording is
// fire-and-forget: it must never block or fail the request that emits it,
// and it never sees plaintext, PINs, tokens, or raw client addresses.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
)

type EventType string

const (
	EventCreated    EventType = "created"
	EventViewed     EventType = "viewed"
	EventViewFailed EventType = "view_failed"
	EventPinFailed  EventType = "pin_failed"
	EventPinLocked  EventType = "pin_locked"
)

type Event struct {
	Type          EventType
	SecretID      string // may be empty when no record was addressed
	IPHash        string
	UserAgentHash string
	At            time.Time
}

type Recorder interface {
	Record(ctx context.Context, event Event)
}

// LogRecorder writes events to the context logger.
type LogRecorder struct{}

var _ Recorder = LogRecorder{}

func (LogRecorder) Record(ctx context.Context, event Event) {
	clog.FromContext(ctx).
		With(
			"event", string(event.Type),
			"secret_id", event.SecretID,
			"ip_hash", event.IPHash,
			"ua_hash", event.UserAgentHash,
			"at", event.At.UTC().Format(time.RFC3339),
		).
		Info("audit event")
}

// HashIP anonymizes a client address before it leaves the process.
func HashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])
}

// HashUserAgent reduces a user agent to its browser family before hashing,
// so the stored value carries no version or OS fingerprint.
func HashUserAgent(userAgent string) string {
	sum := sha256.Sum256([]byte(browserFamily(userAgent)))
	return hex.EncodeToString(sum[:])
}

func browserFamily(userAgent string) string {
	switch {
	case strings.Contains(userAgent, "Chrome"):
		return "Chrome"
	case strings.Contains(userAgent, "Firefox"):
		return "Firefox"
	case strings.Contains(userAgent, "Safari"):
		return "Safari"
	case strings.Contains(userAgent, "Edge"):
		return "Edge"
	default:
		return "Other"
	}
}
