// Package session owns the account lifecycle: registration, credential
// verification, token pair issuance and rotation, and profile edits.
package session

import (
	"context"
	"errors"
	"strings"

	"vidtube-users/internal/account"
	"vidtube-users/internal/apperr"
	"vidtube-users/internal/auth"
	"vidtube-users/internal/media"
	"vidtube-users/internal/observability"
)

// Accounts is the slice of account.Store the session flows need.
type Accounts interface {
	FindByID(ctx context.Context, id string) (account.Account, error)
	FindByUsernameOrEmail(ctx context.Context, username, email string) (account.Account, error)
	Insert(ctx context.Context, a account.Account) (account.Account, error)
	UpdateProfile(ctx context.Context, id, fullName, email string) (account.Account, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	SetRefreshToken(ctx context.Context, id, token string) error
	ClearRefreshToken(ctx context.Context, id string) error
	RotateRefreshToken(ctx context.Context, id, presented, next string) error
}

// Uploader pushes staged files to the asset store and discards uploads
// that end up unattached.
type Uploader interface {
	UploadAndAttach(ctx context.Context, localPath string) (*media.Asset, error)
	Discard(ctx context.Context, asset *media.Asset)
}

// RegisterInput carries the registration form. AvatarPath and CoverPath
// point at staged files and may be empty.
type RegisterInput struct {
	FullName   string
	Email      string
	Username   string
	Password   string
	AvatarPath string
	CoverPath  string
}

// LoginInput identifies the account by username or email.
type LoginInput struct {
	Username string
	Email    string
	Password string
}

// LoginResult is the authenticated view plus a freshly issued token pair.
type LoginResult struct {
	User         account.View `json:"user"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
}

// Service runs the account lifecycle flows against an Accounts store.
type Service struct {
	accounts Accounts
	hasher   *auth.PasswordHasher
	tokens   *auth.TokenService
	uploader Uploader
	logger   *observability.Logger
	metrics  *observability.Metrics
}

func NewService(
	accounts Accounts,
	hasher *auth.PasswordHasher,
	tokens *auth.TokenService,
	uploader Uploader,
	logger *observability.Logger,
	metrics *observability.Metrics,
) *Service {
	return &Service{
		accounts: accounts,
		hasher:   hasher,
		tokens:   tokens,
		uploader: uploader,
		logger:   logger,
		metrics:  metrics,
	}
}

// Register validates the form, uploads the staged avatar and optional cover,
// and stores the new account. Uploads are discarded if the insert fails.
func (s *Service) Register(ctx context.Context, in RegisterInput) (account.View, error) {
	view, err := s.register(ctx, in)
	s.metrics.ObserveSession("register", err == nil)
	return view, err
}

func (s *Service) register(ctx context.Context, in RegisterInput) (account.View, error) {
	fullName := strings.TrimSpace(in.FullName)
	email := account.NormalizeEmail(in.Email)
	username := account.NormalizeUsername(in.Username)

	if fullName == "" || email == "" || username == "" || strings.TrimSpace(in.Password) == "" {
		return account.View{}, apperr.Validation("all fields are required")
	}
	if !account.ValidEmail(email) {
		return account.View{}, apperr.Validation("invalid email address")
	}
	if len(in.Password) < account.MinPasswordLength {
		return account.View{}, apperr.Validation("password must be at least 8 characters")
	}

	_, err := s.accounts.FindByUsernameOrEmail(ctx, username, email)
	switch {
	case err == nil:
		return account.View{}, apperr.Conflict("user with email or username already exists")
	case !errors.Is(err, account.ErrNotFound):
		return account.View{}, apperr.Internal("failed to check existing user", err)
	}

	if strings.TrimSpace(in.AvatarPath) == "" {
		return account.View{}, apperr.Validation("avatar file is required")
	}

	digest, err := s.hashPassword(in.Password)
	if err != nil {
		return account.View{}, err
	}

	avatar, err := s.uploader.UploadAndAttach(ctx, in.AvatarPath)
	if err != nil {
		return account.View{}, err
	}
	if avatar == nil || avatar.URL == "" {
		return account.View{}, apperr.Upload("avatar upload failed", nil)
	}

	var coverURL string
	cover, err := s.uploader.UploadAndAttach(ctx, in.CoverPath)
	if err != nil {
		s.logger.Warn("cover_upload_failed", map[string]any{"username": username, "error": err})
	} else if cover != nil {
		coverURL = cover.URL
	}

	created, err := s.accounts.Insert(ctx, account.Account{
		Username:      username,
		Email:         email,
		FullName:      fullName,
		PasswordHash:  digest,
		AvatarURL:     avatar.URL,
		CoverImageURL: coverURL,
	})
	if err != nil {
		s.uploader.Discard(ctx, avatar)
		s.uploader.Discard(ctx, cover)
		if errors.Is(err, account.ErrDuplicate) {
			return account.View{}, apperr.Conflict("user with email or username already exists")
		}
		return account.View{}, apperr.Internal("failed to create user", err)
	}

	s.logger.Info("user_registered", map[string]any{"account_id": created.ID})
	return created.View(), nil
}

// Login verifies the credentials and persists the new refresh token.
func (s *Service) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	result, err := s.login(ctx, in)
	s.metrics.ObserveSession("login", err == nil)
	return result, err
}

func (s *Service) login(ctx context.Context, in LoginInput) (LoginResult, error) {
	username := account.NormalizeUsername(in.Username)
	email := account.NormalizeEmail(in.Email)
	if username == "" && email == "" {
		return LoginResult{}, apperr.Validation("username or email is required")
	}
	if in.Password == "" {
		return LoginResult{}, apperr.Validation("password is required")
	}

	acc, err := s.accounts.FindByUsernameOrEmail(ctx, username, email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return LoginResult{}, apperr.NotFound("user does not exist")
		}
		return LoginResult{}, apperr.Internal("failed to load user", err)
	}

	if !s.hasher.Verify(in.Password, acc.PasswordHash) {
		return LoginResult{}, apperr.Unauthorized("invalid user credentials")
	}

	pair, err := s.tokens.IssuePair(acc)
	if err != nil {
		return LoginResult{}, apperr.Internal("failed to issue tokens", err)
	}
	if err := s.accounts.SetRefreshToken(ctx, acc.ID, pair.RefreshToken); err != nil {
		return LoginResult{}, apperr.Internal("failed to persist refresh token", err)
	}
	acc.RefreshToken = pair.RefreshToken

	return LoginResult{
		User:         acc.View(),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, nil
}

// Logout clears the stored refresh token. Repeating it is harmless.
func (s *Service) Logout(ctx context.Context, acc account.Account) error {
	err := s.accounts.ClearRefreshToken(ctx, acc.ID)
	if errors.Is(err, account.ErrNotFound) {
		err = nil
	}
	s.metrics.ObserveSession("logout", err == nil)
	if err != nil {
		return apperr.Internal("failed to logout", err)
	}
	return nil
}

// Refresh exchanges the currently stored refresh token for a new pair. Every
// non-internal failure surfaces as Unauthorized.
func (s *Service) Refresh(ctx context.Context, presented string) (auth.Pair, error) {
	pair, err := s.refresh(ctx, strings.TrimSpace(presented))
	s.metrics.ObserveSession("refresh", err == nil)
	if err != nil {
		return auth.Pair{}, asUnauthorized(err)
	}
	return pair, nil
}

func (s *Service) refresh(ctx context.Context, presented string) (auth.Pair, error) {
	if presented == "" {
		return auth.Pair{}, apperr.Unauthorized("unauthorized request")
	}

	claims, err := s.tokens.VerifyRefreshToken(presented)
	if err != nil {
		return auth.Pair{}, &apperr.Error{Kind: apperr.KindUnauthorized, Message: "invalid refresh token", Err: err}
	}

	acc, err := s.accounts.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return auth.Pair{}, apperr.NotFound("invalid refresh token")
		}
		return auth.Pair{}, apperr.Internal("failed to load user", err)
	}

	if acc.RefreshToken != presented {
		return auth.Pair{}, apperr.Unauthorized("refresh token is expired or used")
	}

	pair, err := s.tokens.IssuePair(acc)
	if err != nil {
		return auth.Pair{}, apperr.Internal("failed to issue tokens", err)
	}

	if err := s.accounts.RotateRefreshToken(ctx, acc.ID, presented, pair.RefreshToken); err != nil {
		switch {
		case errors.Is(err, account.ErrTokenMismatch):
			return auth.Pair{}, apperr.Unauthorized("refresh token is expired or used")
		case errors.Is(err, account.ErrNotFound):
			return auth.Pair{}, apperr.NotFound("invalid refresh token")
		default:
			return auth.Pair{}, apperr.Internal("failed to rotate refresh token", err)
		}
	}
	return pair, nil
}

func asUnauthorized(err error) error {
	appErr := apperr.From(err)
	if appErr.Kind == apperr.KindInternal || appErr.Kind == apperr.KindUnauthorized {
		return appErr
	}
	return &apperr.Error{Kind: apperr.KindUnauthorized, Message: appErr.Message, Err: err}
}

// ChangePassword requires the current password to match.
func (s *Service) ChangePassword(ctx context.Context, acc account.Account, oldPassword, newPassword string) error {
	if !s.hasher.Verify(oldPassword, acc.PasswordHash) {
		return apperr.Unauthorized("invalid old password")
	}
	if len(newPassword) < account.MinPasswordLength {
		return apperr.Validation("password must be at least 8 characters")
	}

	digest, err := s.hashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.accounts.UpdatePassword(ctx, acc.ID, digest); err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return apperr.NotFound("user not found")
		}
		return apperr.Internal("failed to update password", err)
	}
	return nil
}

func (s *Service) UpdateProfile(ctx context.Context, acc account.Account, fullName, email string) (account.View, error) {
	fullName = strings.TrimSpace(fullName)
	email = account.NormalizeEmail(email)
	if fullName == "" || email == "" {
		return account.View{}, apperr.Validation("all fields are required")
	}
	if !account.ValidEmail(email) {
		return account.View{}, apperr.Validation("invalid email address")
	}

	updated, err := s.accounts.UpdateProfile(ctx, acc.ID, fullName, email)
	if err != nil {
		switch {
		case errors.Is(err, account.ErrDuplicate):
			return account.View{}, apperr.Conflict("email is already in use")
		case errors.Is(err, account.ErrNotFound):
			return account.View{}, apperr.NotFound("user not found")
		default:
			return account.View{}, apperr.Internal("failed to update account", err)
		}
	}
	return updated.View(), nil
}

func (s *Service) CurrentUser(acc account.Account) account.View {
	return acc.View()
}

func (s *Service) hashPassword(plaintext string) (string, error) {
	digest, err := s.hasher.Hash(plaintext)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return "", apperr.Validation("password must be at most 72 bytes")
		}
		return "", apperr.Internal("failed to hash password", err)
	}
	return digest, nil
}
