package store

import (
	"context"
	"errors"

	"onetime.share/internal/models"
)

var (
	ErrNotFound = errors.New("secret not found")
	// ErrConflict means the generated id already exists. Callers regenerate
	// and retry; with 256-bit ids this is effectively a backend hiccup.
	ErrConflict = errors.New("secret id already exists")
	// ErrUnavailable wraps transient backend failures (connection loss,
	// timeouts). The store never retries; that policy belongs to callers.
	ErrUnavailable = errors.New("store unavailable")
)

// Store is the typed façade over the persistence backend. Both counter
// operations are atomic per record: concurrent callers observe a total
// order, and at most one caller can take the last view of a secret.
type Store interface {
	// Create inserts a new record. ErrConflict on a duplicate id.
	Create(ctx context.Context, secret *models.Secret) error

	// FetchLive returns the record only if it has not expired; an expired
	// record is indistinguishable from an absent one.
	FetchLive(ctx context.Context, id string) (*models.Secret, error)

	// ConsumeView atomically decrements the view budget and deletes the
	// record in the same operation once the budget hits zero. The returned
	// count is the budget remaining after this call.
	ConsumeView(ctx context.Context, id string) (viewsLeft int, err error)

	// IncrementAttempts atomically bumps the failed-PIN counter and returns
	// the new value.
	IncrementAttempts(ctx context.Context, id string) (attempts int, err error)

	Close() error
}
