package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"onetime.share/internal/models"
	"onetime.share/internal/store/migrations"
)

var _ Store = (*PostgresStore)(nil)

// uniqueViolation is the Postgres error code for duplicate keys.
const uniqueViolation = "23505"

// PostgresStore keeps records in a secrets table. The counter operations are
// single guarded UPDATE ... RETURNING statements, so the row lock makes
// concurrent decrements linearizable without SELECT FOR UPDATE dances.
// Expired rows are treated as absent on every read and physically removed by
// a background sweep.
type PostgresStore struct {
	db            *sql.DB
	cleanupCancel context.CancelFunc
}

func NewPostgresStore(ctx context.Context, dsn string, cleanupInterval time.Duration) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("pgx"); err != nil {
		db.Close()
		return nil, err
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		db.Close()
		return nil, err
	}

	loopCtx, cancelLoop := context.WithCancel(context.Background())
	store := &PostgresStore{db: db, cleanupCancel: cancelLoop}
	go store.cleanupLoop(loopCtx, cleanupInterval)
	return store, nil
}

func (p *PostgresStore) Create(ctx context.Context, secret *models.Secret) error {
	query := `
		INSERT INTO secrets (id, ciphertext, pin_hash, views_left, pin_attempts, expires_at, created_at, creator_ip)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := p.db.ExecContext(ctx, query,
		secret.ID, secret.Ciphertext, secret.PinHash, secret.ViewsLeft,
		secret.PinAttempts, secret.ExpiresAt, secret.CreatedAt, secret.CreatorIP)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrConflict
		}
		return unavailable(err)
	}
	return nil
}

func (p *PostgresStore) FetchLive(ctx context.Context, id string) (*models.Secret, error) {
	query := `
		SELECT id, ciphertext, pin_hash, views_left, pin_attempts, expires_at, created_at, creator_ip
		FROM secrets
		WHERE id = $1 AND expires_at > now()
	`
	secret := &models.Secret{}
	err := p.db.QueryRowContext(ctx, query, id).Scan(
		&secret.ID, &secret.Ciphertext, &secret.PinHash, &secret.ViewsLeft,
		&secret.PinAttempts, &secret.ExpiresAt, &secret.CreatedAt, &secret.CreatorIP)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}
	return secret, nil
}

func (p *PostgresStore) ConsumeView(ctx context.Context, id string) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, unavailable(err)
	}
	defer tx.Rollback()

	// The WHERE guard means two racing callers cannot both decrement a
	// single-view secret: the second one blocks on the row lock and then
	// matches no row.
	query := `
		UPDATE secrets
		SET views_left = views_left - 1
		WHERE id = $1 AND views_left > 0 AND expires_at > now()
		RETURNING views_left
	`
	var viewsLeft int
	if err := tx.QueryRowContext(ctx, query, id).Scan(&viewsLeft); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, unavailable(err)
	}

	if viewsLeft <= 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM secrets WHERE id = $1`, id); err != nil {
			return 0, unavailable(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, unavailable(err)
	}
	return viewsLeft, nil
}

func (p *PostgresStore) IncrementAttempts(ctx context.Context, id string) (int, error) {
	query := `
		UPDATE secrets
		SET pin_attempts = pin_attempts + 1
		WHERE id = $1 AND expires_at > now()
		RETURNING pin_attempts
	`
	var attempts int
	if err := p.db.QueryRowContext(ctx, query, id).Scan(&attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, unavailable(err)
	}
	return attempts, nil
}

func (p *PostgresStore) Close() error {
	if p.cleanupCancel != nil {
		p.cleanupCancel()
	}
	return p.db.Close()
}

func (p *PostgresStore) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := p.purgeExpired(ctx); err != nil {
				clog.FromContext(ctx).Warnf("expired-secret sweep failed: %v", err)
			} else if n > 0 {
				clog.FromContext(ctx).Infof("swept %d expired secrets", n)
			}
		}
	}
}

func (p *PostgresStore) purgeExpired(ctx context.Context) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM secrets WHERE expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
