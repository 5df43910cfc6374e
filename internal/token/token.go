// Package token derives and verifies the tamper-evident link tokens that
// address secrets. Tokens are stateless: a token is valid for an id exactly
// when it equals HMAC-SHA256(secret, id), so validity can be checked even
// after the underlying record is gone.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

type Service struct {
	secret []byte
}

func NewService(secret string) *Service {
	return &Service{secret: []byte(secret)}
}

// Issue derives the link token for a secret identifier.
func (s *Service) Issue(id string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(id))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether token is the valid token for id. The comparison is
// constant time; only the (non-secret) length can influence timing.
func (s *Service) Verify(id, token string) bool {
	expected := s.Issue(id)
	if len(token) != len(expected) {
		return false
	}
	return hmac.Equal([]byte(token), []byte(expected))
}
