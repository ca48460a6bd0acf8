package account

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type subscriptionKey struct {
	subscriber string
	channel    string
}

// MemoryStore keeps accounts in process memory. Used by tests and by
// STORE_DRIVER=memory for local runs.
type MemoryStore struct {
	mu            sync.RWMutex
	accounts      map[string]Account
	byUsername    map[string]string
	byEmail       map[string]string
	subscriptions map[subscriptionKey]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:      make(map[string]Account),
		byUsername:    make(map[string]string),
		byEmail:       make(map[string]string),
		subscriptions: make(map[subscriptionKey]time.Time),
	}
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return clone(a), nil
}

func (s *MemoryStore) FindByUsernameOrEmail(_ context.Context, username, email string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if username != "" {
		if id, ok := s.byUsername[username]; ok {
			return clone(s.accounts[id]), nil
		}
	}
	if email != "" {
		if id, ok := s.byEmail[email]; ok {
			return clone(s.accounts[id]), nil
		}
	}
	return Account{}, ErrNotFound
}

func (s *MemoryStore) Insert(_ context.Context, a Account) (Account, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Account{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUsername[a.Username]; ok {
		return Account{}, ErrDuplicate
	}
	if _, ok := s.byEmail[a.Email]; ok {
		return Account{}, ErrDuplicate
	}

	now := time.Now().UTC()
	a.ID = id.String()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.WatchHistory == nil {
		a.WatchHistory = []string{}
	}

	s.accounts[a.ID] = clone(a)
	s.byUsername[a.Username] = a.ID
	s.byEmail[a.Email] = a.ID
	return a, nil
}

func (s *MemoryStore) UpdateProfile(_ context.Context, id, fullName, email string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	if owner, taken := s.byEmail[email]; taken && owner != id {
		return Account{}, ErrDuplicate
	}

	delete(s.byEmail, a.Email)
	a.FullName = fullName
	a.Email = email
	a.UpdatedAt = time.Now().UTC()
	s.byEmail[email] = id
	s.accounts[id] = a
	return clone(a), nil
}

func (s *MemoryStore) UpdatePassword(_ context.Context, id, passwordHash string) error {
	return s.mutate(id, func(a *Account) error {
		a.PasswordHash = passwordHash
		return nil
	})
}

func (s *MemoryStore) UpdateMedia(_ context.Context, id string, field MediaField, url string) (Account, error) {
	var out Account
	err := s.mutate(id, func(a *Account) error {
		switch field {
		case FieldAvatar:
			a.AvatarURL = url
		case FieldCoverImage:
			a.CoverImageURL = url
		default:
			return fmt.Errorf("unknown media field %q", field)
		}
		out = *a
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	return clone(out), nil
}

func (s *MemoryStore) SetRefreshToken(_ context.Context, id, token string) error {
	return s.mutate(id, func(a *Account) error {
		a.RefreshToken = token
		return nil
	})
}

func (s *MemoryStore) ClearRefreshToken(_ context.Context, id string) error {
	return s.mutate(id, func(a *Account) error {
		a.RefreshToken = ""
		return nil
	})
}

func (s *MemoryStore) RotateRefreshToken(_ context.Context, id, presented, next string) error {
	return s.mutate(id, func(a *Account) error {
		if presented == "" || a.RefreshToken != presented {
			return ErrTokenMismatch
		}
		a.RefreshToken = next
		return nil
	})
}

func (s *MemoryStore) ChannelProfile(_ context.Context, username, viewerID string) (ChannelView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[username]
	if !ok {
		return ChannelView{}, ErrNotFound
	}
	a := s.accounts[id]

	view := ChannelView{
		ID:            a.ID,
		Username:      a.Username,
		Email:         a.Email,
		FullName:      a.FullName,
		AvatarURL:     a.AvatarURL,
		CoverImageURL: a.CoverImageURL,
	}
	for key := range s.subscriptions {
		if key.channel == id {
			view.SubscribersCount++
			if viewerID != "" && key.subscriber == viewerID {
				view.IsSubscribed = true
			}
		}
		if key.subscriber == id {
			view.ChannelsSubscribedToCount++
		}
	}
	return view, nil
}

func (s *MemoryStore) Subscribe(_ context.Context, subscriberID, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[subscriberID]; !ok {
		return ErrNotFound
	}
	if _, ok := s.accounts[channelID]; !ok {
		return ErrNotFound
	}
	key := subscriptionKey{subscriber: subscriberID, channel: channelID}
	if _, exists := s.subscriptions[key]; !exists {
		s.subscriptions[key] = time.Now().UTC()
	}
	return nil
}

func (s *MemoryStore) Unsubscribe(_ context.Context, subscriberID, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.subscriptions, subscriptionKey{subscriber: subscriberID, channel: channelID})
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) mutate(id string, fn func(a *Account) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	if err := fn(&a); err != nil {
		return err
	}
	a.UpdatedAt = time.Now().UTC()
	s.accounts[id] = a
	return nil
}

func clone(a Account) Account {
	if a.WatchHistory != nil {
		a.WatchHistory = append([]string(nil), a.WatchHistory...)
	}
	return a
}
