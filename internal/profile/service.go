// Package profile serves the public channel view of an account and the
// subscription edges it aggregates.
package profile

import (
	"context"
	"errors"

	"vidtube-users/internal/account"
	"vidtube-users/internal/apperr"
)

type Channels interface {
	FindByUsernameOrEmail(ctx context.Context, username, email string) (account.Account, error)
	ChannelProfile(ctx context.Context, username, viewerID string) (account.ChannelView, error)
	Subscribe(ctx context.Context, subscriberID, channelID string) error
	Unsubscribe(ctx context.Context, subscriberID, channelID string) error
}

type Service struct {
	channels Channels
}

func NewService(channels Channels) *Service {
	return &Service{channels: channels}
}

// ChannelProfile looks the channel up case-insensitively. viewerID may be
// empty for anonymous viewers, in which case IsSubscribed is false.
func (s *Service) ChannelProfile(ctx context.Context, viewerID, username string) (account.ChannelView, error) {
	username = account.NormalizeUsername(username)
	if username == "" {
		return account.ChannelView{}, apperr.Validation("username is missing")
	}

	view, err := s.channels.ChannelProfile(ctx, username, viewerID)
	if err != nil {
		return account.ChannelView{}, channelError(err)
	}
	return view, nil
}

func (s *Service) Subscribe(ctx context.Context, viewer account.Account, username string) (account.ChannelView, error) {
	channel, err := s.resolve(ctx, viewer, username)
	if err != nil {
		return account.ChannelView{}, err
	}
	if err := s.channels.Subscribe(ctx, viewer.ID, channel.ID); err != nil {
		return account.ChannelView{}, channelError(err)
	}
	return s.ChannelProfile(ctx, viewer.ID, channel.Username)
}

func (s *Service) Unsubscribe(ctx context.Context, viewer account.Account, username string) (account.ChannelView, error) {
	channel, err := s.resolve(ctx, viewer, username)
	if err != nil {
		return account.ChannelView{}, err
	}
	if err := s.channels.Unsubscribe(ctx, viewer.ID, channel.ID); err != nil {
		return account.ChannelView{}, channelError(err)
	}
	return s.ChannelProfile(ctx, viewer.ID, channel.Username)
}

func (s *Service) resolve(ctx context.Context, viewer account.Account, username string) (account.Account, error) {
	username = account.NormalizeUsername(username)
	if username == "" {
		return account.Account{}, apperr.Validation("username is missing")
	}

	channel, err := s.channels.FindByUsernameOrEmail(ctx, username, "")
	if err != nil {
		return account.Account{}, channelError(err)
	}
	if channel.ID == viewer.ID {
		return account.Account{}, apperr.Validation("cannot subscribe to your own channel")
	}
	return channel, nil
}

func channelError(err error) error {
	if errors.Is(err, account.ErrNotFound) {
		return apperr.NotFound("channel does not exist")
	}
	return apperr.Internal("failed to load channel", err)
}
