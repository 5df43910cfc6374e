// Package secrets implements the secret lifecycle: creation with optional
// PIN gating, token-addressed retrieval, bounded PIN lockout, and
// destruction on consumption.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"onetime.share/internal/audit"
	"onetime.share/internal/crypto"
	"onetime.share/internal/models"
	"onetime.share/internal/pin"
	"onetime.share/internal/store"
	"onetime.share/internal/token"
)

// Outcome is the closed set of per-request retrieval results. Rejections are
// outcomes, not errors; only backend faults surface as Go errors.
type Outcome int

const (
	// OutcomeRevealed delivers the plaintext and spends the view.
	OutcomeRevealed Outcome = iota
	// OutcomePinRequired asks the caller to (re)submit a PIN. Attempts on
	// the result carries the current failure count for display.
	OutcomePinRequired
	// OutcomeInvalidLink means the token does not match the id. Returned
	// without consulting the store, so probing cannot reveal whether a
	// record exists.
	OutcomeInvalidLink
	// OutcomeNotFound means the record is absent, expired, or already
	// consumed.
	OutcomeNotFound
	// OutcomeLocked means the PIN attempt budget is exhausted for good.
	OutcomeLocked
	// OutcomeBadPinFormat means the submitted PIN failed validation.
	OutcomeBadPinFormat
	// OutcomeDecryptFailed means the stored blob would not decrypt. The
	// view budget is not spent.
	OutcomeDecryptFailed
)

var (
	ErrEmptySecret   = errors.New("secret text is required")
	ErrSecretTooLong = errors.New("secret text exceeds maximum length")
)

// Limits bound what the lifecycle accepts and how hard it defends PINs.
type Limits struct {
	DefaultTTL       time.Duration
	MaxTTL           time.Duration
	MaxContentLength int
	MaxPinAttempts   int
	PinHashCost      int
}

type Service struct {
	store  store.Store
	codec  *crypto.Codec
	tokens *token.Service
	audit  audit.Recorder
	limits Limits
}

func NewService(st store.Store, codec *crypto.Codec, tokens *token.Service, recorder audit.Recorder, limits Limits) *Service {
	return &Service{
		store:  st,
		codec:  codec,
		tokens: tokens,
		audit:  recorder,
		limits: limits,
	}
}

type CreateRequest struct {
	Text      string
	PIN       string // empty means no PIN gate
	TTL       time.Duration
	ClientIP  string
	UserAgent string
}

type CreateResult struct {
	ID        string
	Token     string
	ExpiresAt time.Time
}

// Create encrypts the payload, hashes the optional PIN, and persists a
// single-view record. An id collision is retried once with a fresh id.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if req.Text == "" {
		return nil, ErrEmptySecret
	}
	if len(req.Text) > s.limits.MaxContentLength {
		return nil, ErrSecretTooLong
	}

	var pinHash []byte
	if req.PIN != "" {
		var err error
		pinHash, err = pin.Hash(req.PIN, s.limits.PinHashCost)
		if err != nil {
			return nil, err
		}
	}

	blob, err := s.codec.Encrypt([]byte(req.Text))
	if err != nil {
		return nil, fmt.Errorf("encrypting secret: %w", err)
	}

	ttl := clampTTL(req.TTL, s.limits.DefaultTTL, s.limits.MaxTTL)
	now := time.Now()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		secret := &models.Secret{
			ID:         crypto.GenerateID(),
			Ciphertext: blob,
			PinHash:    pinHash,
			ViewsLeft:  1,
			ExpiresAt:  now.Add(ttl),
			CreatedAt:  now,
			CreatorIP:  req.ClientIP,
		}

		if err := s.store.Create(ctx, secret); err != nil {
			if errors.Is(err, store.ErrConflict) {
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("saving secret: %w", err)
		}

		s.record(ctx, audit.EventCreated, secret.ID, req.ClientIP, req.UserAgent)
		return &CreateResult{
			ID:        secret.ID,
			Token:     s.tokens.Issue(secret.ID),
			ExpiresAt: secret.ExpiresAt,
		}, nil
	}
	return nil, fmt.Errorf("saving secret: %w", lastErr)
}

type RetrieveRequest struct {
	ID        string
	Token     string
	PIN       string // empty means no PIN was submitted
	ClientIP  string
	UserAgent string
}

type RetrieveResult struct {
	Outcome  Outcome
	Text     string // set only for OutcomeRevealed
	Attempts int    // set for OutcomePinRequired and OutcomeBadPinFormat
}

// Retrieve runs the retrieval state machine: token check, live fetch, PIN
// gate with lockout, decrypt, then atomic view consumption. The view budget
// is spent only on a fully delivered secret.
func (s *Service) Retrieve(ctx context.Context, req RetrieveRequest) (*RetrieveResult, error) {
	// Token validity is checked first and statelessly. A bad token gets the
	// same class of answer whether or not the record exists.
	if !s.tokens.Verify(req.ID, req.Token) {
		s.record(ctx, audit.EventViewFailed, req.ID, req.ClientIP, req.UserAgent)
		return &RetrieveResult{Outcome: OutcomeInvalidLink}, nil
	}

	secret, err := s.store.FetchLive(ctx, req.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &RetrieveResult{Outcome: OutcomeNotFound}, nil
		}
		return nil, fmt.Errorf("fetching secret: %w", err)
	}

	if len(secret.PinHash) > 0 {
		if result, err := s.pinGate(ctx, req, secret); result != nil || err != nil {
			return result, err
		}
	}

	plaintext, err := s.codec.Decrypt(secret.Ciphertext)
	if err != nil {
		// IntegrityError and FormatError are both fatal to the request and
		// deliberately indistinguishable to the caller. No view is spent.
		s.record(ctx, audit.EventViewFailed, req.ID, req.ClientIP, req.UserAgent)
		return &RetrieveResult{Outcome: OutcomeDecryptFailed}, nil
	}

	if _, err := s.store.ConsumeView(ctx, req.ID); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("consuming view: %w", err)
		}
		// The record raced away between fetch and consume. This caller
		// already holds a legitimately decrypted payload, so deliver it;
		// the store's atomicity guarantees nobody else got a view for it.
	}

	s.record(ctx, audit.EventViewed, req.ID, req.ClientIP, req.UserAgent)
	return &RetrieveResult{Outcome: OutcomeRevealed, Text: string(plaintext)}, nil
}

// pinGate enforces the PIN prompt and lockout. It returns (nil, nil) when
// the gate is passed and retrieval should continue.
func (s *Service) pinGate(ctx context.Context, req RetrieveRequest, secret *models.Secret) (*RetrieveResult, error) {
	// A locked secret stays locked, correct PIN or not.
	if secret.PinAttempts >= s.limits.MaxPinAttempts {
		return &RetrieveResult{Outcome: OutcomeLocked}, nil
	}

	if req.PIN == "" {
		return &RetrieveResult{Outcome: OutcomePinRequired, Attempts: secret.PinAttempts}, nil
	}

	if err := pin.Validate(req.PIN); err != nil {
		return &RetrieveResult{Outcome: OutcomeBadPinFormat, Attempts: secret.PinAttempts}, nil
	}

	if pin.Verify(req.PIN, secret.PinHash) {
		return nil, nil
	}

	attempts, err := s.store.IncrementAttempts(ctx, req.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &RetrieveResult{Outcome: OutcomeNotFound}, nil
		}
		return nil, fmt.Errorf("recording pin attempt: %w", err)
	}

	if attempts >= s.limits.MaxPinAttempts {
		s.record(ctx, audit.EventPinLocked, req.ID, req.ClientIP, req.UserAgent)
		return &RetrieveResult{Outcome: OutcomeLocked}, nil
	}

	s.record(ctx, audit.EventPinFailed, req.ID, req.ClientIP, req.UserAgent)
	return &RetrieveResult{Outcome: OutcomePinRequired, Attempts: attempts}, nil
}

func (s *Service) record(ctx context.Context, eventType audit.EventType, id, clientIP, userAgent string) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, audit.Event{
		Type:          eventType,
		SecretID:      id,
		IPHash:        audit.HashIP(clientIP),
		UserAgentHash: audit.HashUserAgent(userAgent),
		At:            time.Now(),
	})
}

func clampTTL(val, defaultVal, maxVal time.Duration) time.Duration {
	if val <= 0 {
		return defaultVal
	}
	if val > maxVal {
		return maxVal
	}
	return val
}
