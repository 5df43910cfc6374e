// redis.go
package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"onetime.share/internal/models"
)

var _ Store = (*RedisStore)(nil)

// RedisStore persists gob-encoded records under a TTL matching the secret's
// expiry, so Redis itself enforces the time bound. The counter operations
// run as optimistic WATCH transactions: if another writer touches the key
// between read and write the transaction aborts and is retried, which gives
// per-record linearizable decrements without any process-local locking.
type RedisStore struct {
	client *redis.Client
}

const txRetries = 3

func NewRedisStore(options *redis.Options) (*RedisStore, error) {
	client := redis.NewClient(options)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Create(ctx context.Context, secret *models.Secret) error {
	data, err := encode(secret)
	if err != nil {
		return err
	}

	ttl := time.Until(secret.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("secret expires in the past")
	}

	ok, err := r.client.SetNX(ctx, secretKey(secret.ID), data, ttl).Result()
	if err != nil {
		return unavailable(err)
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

func (r *RedisStore) FetchLive(ctx context.Context, id string) (*models.Secret, error) {
	data, err := r.client.Get(ctx, secretKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}

	secret, err := decode(data)
	if err != nil {
		return nil, err
	}

	// The key TTL tracks ExpiresAt, but check anyway in case of clock skew
	// between writers.
	if secret.Expired(time.Now()) {
		return nil, ErrNotFound
	}

	return secret, nil
}

func (r *RedisStore) ConsumeView(ctx context.Context, id string) (int, error) {
	key := secretKey(id)
	var viewsLeft int

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}

		secret, err := decode(data)
		if err != nil {
			return err
		}

		if secret.Expired(time.Now()) {
			return ErrNotFound
		}

		if secret.ViewsLeft <= 0 {
			return ErrNotFound
		}

		secret.ViewsLeft--
		viewsLeft = secret.ViewsLeft

		newData, err := encode(secret)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if secret.ViewsLeft <= 0 {
				pipe.Del(ctx, key)
			} else {
				pipe.Set(ctx, key, newData, redis.KeepTTL)
			}
			return nil
		})
		return err
	}

	if err := r.watch(ctx, txf, key); err != nil {
		return 0, err
	}
	return viewsLeft, nil
}

func (r *RedisStore) IncrementAttempts(ctx context.Context, id string) (int, error) {
	key := secretKey(id)
	var attempts int

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}

		secret, err := decode(data)
		if err != nil {
			return err
		}

		if secret.Expired(time.Now()) {
			return ErrNotFound
		}

		secret.PinAttempts++
		attempts = secret.PinAttempts

		newData, err := encode(secret)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newData, redis.KeepTTL)
			return nil
		})
		return err
	}

	if err := r.watch(ctx, txf, key); err != nil {
		return 0, err
	}
	return attempts, nil
}

// watch runs txf under WATCH on key, retrying a bounded number of times when
// the optimistic transaction loses a race.
func (r *RedisStore) watch(ctx context.Context, txf func(*redis.Tx) error, key string) error {
	for i := 0; i < txRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return unavailable(err)
	}
	return unavailable(redis.TxFailedErr)
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Helpers

func secretKey(id string) string {
	return "secret:" + id
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func encode(secret *models.Secret) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(secret); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte) (*models.Secret, error) {
	var secret models.Secret
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&secret); err != nil {
		return nil, err
	}
	return &secret, nil
}
