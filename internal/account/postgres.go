package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

const accountColumns = `id, username, email, full_name, password_hash, avatar_url, cover_image_url, refresh_token, watch_history, created_at, updated_at`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (Account, error) {
	var a Account
	history := pgtype.NewMap().SQLScanner(&a.WatchHistory)
	err := row.Scan(
		&a.ID, &a.Username, &a.Email, &a.FullName, &a.PasswordHash,
		&a.AvatarURL, &a.CoverImageURL, &a.RefreshToken, history,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return Account{}, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM users
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("query user by id: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) FindByUsernameOrEmail(ctx context.Context, username, email string) (Account, error) {
	if username == "" && email == "" {
		return Account{}, ErrNotFound
	}

	a, err := scanAccount(s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM users
		WHERE ($1::text <> '' AND username = $1) OR ($2::text <> '' AND email = $2)
		ORDER BY created_at ASC
		LIMIT 1
	`, username, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("query user by username or email: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) Insert(ctx context.Context, a Account) (Account, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Account{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := time.Now().UTC()
	a.ID = id.String()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.WatchHistory == nil {
		a.WatchHistory = []string{}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, full_name, password_hash, avatar_url, cover_image_url, refresh_token, watch_history, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`, a.ID, a.Username, a.Email, a.FullName, a.PasswordHash, a.AvatarURL, a.CoverImageURL, a.RefreshToken, a.WatchHistory, now)
	if err != nil {
		if isUniqueViolation(err) {
			return Account{}, ErrDuplicate
		}
		return Account{}, fmt.Errorf("insert user: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, id, fullName, email string) (Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, `
		UPDATE users
		SET full_name = $2, email = $3, updated_at = $4
		WHERE id = $1
		RETURNING `+accountColumns,
		id, fullName, email, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		if isUniqueViolation(err) {
			return Account{}, ErrDuplicate
		}
		return Account{}, fmt.Errorf("update user profile: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return s.execOne(ctx, "update user password", `
		UPDATE users
		SET password_hash = $2, updated_at = $3
		WHERE id = $1
	`, id, passwordHash, time.Now().UTC())
}

func (s *PostgresStore) UpdateMedia(ctx context.Context, id string, field MediaField, url string) (Account, error) {
	var column string
	switch field {
	case FieldAvatar:
		column = "avatar_url"
	case FieldCoverImage:
		column = "cover_image_url"
	default:
		return Account{}, fmt.Errorf("unknown media field %q", field)
	}

	a, err := scanAccount(s.db.QueryRowContext(ctx, `
		UPDATE users
		SET `+column+` = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+accountColumns,
		id, url, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("update user %s: %w", column, err)
	}
	return a, nil
}

func (s *PostgresStore) SetRefreshToken(ctx context.Context, id, token string) error {
	return s.execOne(ctx, "set refresh token", `
		UPDATE users
		SET refresh_token = $2, updated_at = $3
		WHERE id = $1
	`, id, token, time.Now().UTC())
}

func (s *PostgresStore) ClearRefreshToken(ctx context.Context, id string) error {
	return s.execOne(ctx, "clear refresh token", `
		UPDATE users
		SET refresh_token = '', updated_at = $2
		WHERE id = $1
	`, id, time.Now().UTC())
}

// RotateRefreshToken swaps the stored token only while it still equals
// presented, so two refreshes racing on the same token cannot both win.
func (s *PostgresStore) RotateRefreshToken(ctx context.Context, id, presented, next string) error {
	if presented == "" {
		return ErrTokenMismatch
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET refresh_token = $3, updated_at = $4
		WHERE id = $1 AND refresh_token = $2
	`, id, presented, next, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rotate refresh token rows affected: %w", err)
	}
	if affected == 0 {
		return ErrTokenMismatch
	}
	return nil
}

func (s *PostgresStore) ChannelProfile(ctx context.Context, username, viewerID string) (ChannelView, error) {
	var v ChannelView
	err := s.db.QueryRowContext(ctx, `
		SELECT
			u.id, u.username, u.email, u.full_name, u.avatar_url, u.cover_image_url,
			(SELECT COUNT(*) FROM subscriptions s WHERE s.channel_id = u.id),
			(SELECT COUNT(*) FROM subscriptions s WHERE s.subscriber_id = u.id),
			EXISTS (SELECT 1 FROM subscriptions s WHERE s.channel_id = u.id AND s.subscriber_id = $2)
		FROM users u
		WHERE u.username = $1
	`, username, viewerID).Scan(
		&v.ID, &v.Username, &v.Email, &v.FullName, &v.AvatarURL, &v.CoverImageURL,
		&v.SubscribersCount, &v.ChannelsSubscribedToCount, &v.IsSubscribed,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ChannelView{}, ErrNotFound
		}
		return ChannelView{}, fmt.Errorf("query channel profile: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) Subscribe(ctx context.Context, subscriberID, channelID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (subscriber_id, channel_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (subscriber_id, channel_id) DO NOTHING
	`, subscriberID, channelID, time.Now().UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return ErrNotFound
		}
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (s *PostgresStore) Unsubscribe(ctx context.Context, subscriberID, channelID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM subscriptions
		WHERE subscriber_id = $1 AND channel_id = $2
	`, subscriberID, channelID)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
