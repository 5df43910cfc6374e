package models

import "time"

// Secret is the unit of storage. A record is created once, mutated only
// through the store's atomic counters, and deleted when its view budget
// is spent or it expires.
type Secret struct {
	ID          string // 32 random bytes, hex encoded
	Ciphertext  string // versioned blob, see internal/crypto
	PinHash     []byte // nil means no PIN gate
	ViewsLeft   int
	PinAttempts int
	ExpiresAt   time.Time
	CreatedAt   time.Time
	CreatorIP   string // provenance only, never used for authorization
}

// Expired reports whether the record is past its expiry at the given time.
func (s *Secret) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Clone returns a deep copy so callers never alias stored state.
func (s *Secret) Clone() *Secret {
	cp := *s
	if s.PinHash != nil {
		cp.PinHash = append([]byte(nil), s.PinHash...)
	}
	return &cp
}
