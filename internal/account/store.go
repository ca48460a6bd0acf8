package account

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("account not found")
	ErrDuplicate     = errors.New("username or email already exists")
	ErrTokenMismatch = errors.New("stored refresh token does not match")
)

// Store is the credential store. Every write touches exactly one account.
// FindByUsernameOrEmail ignores empty arguments; with both empty it
// returns ErrNotFound.
type Store interface {
	FindByID(ctx context.Context, id string) (Account, error)
	FindByUsernameOrEmail(ctx context.Context, username, email string) (Account, error)
	Insert(ctx context.Context, a Account) (Account, error)
	UpdateProfile(ctx context.Context, id, fullName, email string) (Account, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateMedia(ctx context.Context, id string, field MediaField, url string) (Account, error)
	SetRefreshToken(ctx context.Context, id, token string) error
	ClearRefreshToken(ctx context.Context, id string) error
	RotateRefreshToken(ctx context.Context, id, presented, next string) error

	ChannelProfile(ctx context.Context, username, viewerID string) (ChannelView, error)
	Subscribe(ctx context.Context, subscriberID, channelID string) error
	Unsubscribe(ctx context.Context, subscriberID, channelID string) error

	Ping(ctx context.Context) error
	Close() error
}
