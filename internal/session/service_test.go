package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"vidtube-users/internal/account"
	"vidtube-users/internal/apperr"
	"vidtube-users/internal/auth"
	"vidtube-users/internal/config"
	"vidtube-users/internal/media"
	"vidtube-users/internal/observability"
)

type fakeUploader struct {
	mu        sync.Mutex
	failPaths map[string]bool
	uploads   []string
	discarded []string
}

func (f *fakeUploader) UploadAndAttach(_ context.Context, localPath string) (*media.Asset, error) {
	if localPath == "" {
		return nil, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = os.Remove(localPath)
	if f.failPaths[localPath] {
		return nil, apperr.Upload("failed to upload file", errors.New("remote down"))
	}
	f.uploads = append(f.uploads, localPath)
	name := filepath.Base(localPath)
	return &media.Asset{URL: "https://store/" + name, PublicID: name}, nil
}

func (f *fakeUploader) Discard(_ context.Context, asset *media.Asset) {
	if asset == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded = append(f.discarded, asset.PublicID)
}

type fixture struct {
	store    *account.MemoryStore
	uploader *fakeUploader
	tokens   *auth.TokenService
	service  *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := account.NewMemoryStore()
	uploader := &fakeUploader{failPaths: map[string]bool{}}
	tokens := auth.NewTokenService(config.TokenConfig{
		AccessSecret:  "access-secret",
		AccessTTL:     15 * time.Minute,
		RefreshSecret: "refresh-secret",
		RefreshTTL:    time.Hour,
		Issuer:        "vidtube-users",
	})
	service := NewService(store, auth.NewPasswordHasher(bcrypt.MinCost), tokens, uploader, observability.Discard(), observability.NewMetrics())
	return &fixture{store: store, uploader: uploader, tokens: tokens, service: service}
}

func stagedFile(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte("bytes"), 0o600))
	return p
}

func (f *fixture) registerJane(t *testing.T) account.View {
	t.Helper()
	view, err := f.service.Register(context.Background(), RegisterInput{
		FullName:   "Jane Doe",
		Email:      "jane@x.com",
		Username:   "janedoe",
		Password:   "longpassword1",
		AvatarPath: stagedFile(t, "avatar.png"),
	})
	require.NoError(t, err)
	return view
}

func (f *fixture) account(t *testing.T, id string) account.Account {
	t.Helper()
	acc, err := f.store.FindByID(context.Background(), id)
	require.NoError(t, err)
	return acc
}

func TestRegisterCreatesAccount(t *testing.T) {
	f := newFixture(t)

	view, err := f.service.Register(context.Background(), RegisterInput{
		FullName:   "  Jane Doe ",
		Email:      " Jane@X.com",
		Username:   "JaneDoe ",
		Password:   "longpassword1",
		AvatarPath: stagedFile(t, "avatar.png"),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, view.ID)
	assert.Equal(t, "janedoe", view.Username)
	assert.Equal(t, "jane@x.com", view.Email)
	assert.Equal(t, "Jane Doe", view.FullName)
	assert.Equal(t, "https://store/avatar.png", view.AvatarURL)
	assert.Equal(t, "", view.CoverImageURL)
	assert.Equal(t, []string{}, view.WatchHistory)

	stored := f.account(t, view.ID)
	assert.NotEqual(t, "longpassword1", stored.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("longpassword1")))
	assert.Empty(t, stored.RefreshToken)
}

func TestRegisterValidation(t *testing.T) {
	valid := RegisterInput{
		FullName: "Jane Doe",
		Email:    "jane@x.com",
		Username: "janedoe",
		Password: "longpassword1",
	}
	cases := map[string]func(in *RegisterInput){
		"blank full name": func(in *RegisterInput) { in.FullName = "   " },
		"blank email":     func(in *RegisterInput) { in.Email = "" },
		"blank username":  func(in *RegisterInput) { in.Username = " " },
		"blank password":  func(in *RegisterInput) { in.Password = "   " },
		"invalid email":   func(in *RegisterInput) { in.Email = "not-an-email" },
		"short password":  func(in *RegisterInput) { in.Password = "short12" },
		"missing avatar":  func(in *RegisterInput) { in.AvatarPath = "" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			in := valid
			in.AvatarPath = stagedFile(t, "avatar.png")
			mutate(&in)

			_, err := f.service.Register(context.Background(), in)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			assert.Empty(t, f.uploader.uploads)

			_, err = f.store.FindByUsernameOrEmail(context.Background(), "janedoe", "jane@x.com")
			assert.ErrorIs(t, err, account.ErrNotFound)
		})
	}
}

func TestRegisterConflicts(t *testing.T) {
	f := newFixture(t)
	f.registerJane(t)

	for name, in := range map[string]RegisterInput{
		"username": {FullName: "Other", Email: "other@x.com", Username: "JANEDOE", Password: "longpassword1"},
		"email":    {FullName: "Other", Email: "JANE@x.com", Username: "other", Password: "longpassword1"},
	} {
		t.Run(name, func(t *testing.T) {
			in.AvatarPath = stagedFile(t, "avatar2.png")
			_, err := f.service.Register(context.Background(), in)
			assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
		})
	}
	assert.Len(t, f.uploader.uploads, 1)
}

func TestRegisterUploadFailures(t *testing.T) {
	f := newFixture(t)
	avatar := stagedFile(t, "avatar.png")
	f.uploader.failPaths[avatar] = true

	_, err := f.service.Register(context.Background(), RegisterInput{
		FullName: "Jane Doe", Email: "jane@x.com", Username: "janedoe", Password: "longpassword1",
		AvatarPath: avatar,
	})
	assert.Equal(t, apperr.KindUpload, apperr.KindOf(err))

	cover := stagedFile(t, "cover.png")
	f.uploader.failPaths[cover] = true
	view, err := f.service.Register(context.Background(), RegisterInput{
		FullName: "Jane Doe", Email: "jane@x.com", Username: "janedoe", Password: "longpassword1",
		AvatarPath: stagedFile(t, "avatar-ok.png"),
		CoverPath:  cover,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://store/avatar-ok.png", view.AvatarURL)
	assert.Empty(t, view.CoverImageURL)
}

func TestRegisterWithCoverImage(t *testing.T) {
	f := newFixture(t)

	view, err := f.service.Register(context.Background(), RegisterInput{
		FullName: "Jane Doe", Email: "jane@x.com", Username: "janedoe", Password: "longpassword1",
		AvatarPath: stagedFile(t, "avatar.png"),
		CoverPath:  stagedFile(t, "cover.png"),
	})
	require.NoError(t, err)
	assert.Equal(t, "https://store/cover.png", view.CoverImageURL)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	jane := f.registerJane(t)

	_, err := f.service.Login(context.Background(), LoginInput{Username: "janedoe", Password: "wrongpass"})
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	assert.Empty(t, f.account(t, jane.ID).RefreshToken)

	_, err = f.service.Login(context.Background(), LoginInput{Username: "nobody", Password: "longpassword1"})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = f.service.Login(context.Background(), LoginInput{Password: "longpassword1"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	result, err := f.service.Login(context.Background(), LoginInput{Username: "JaneDoe", Password: "longpassword1"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.AccessToken)
	assert.NotEmpty(t, result.RefreshToken)
	assert.Equal(t, jane.ID, result.User.ID)
	assert.Equal(t, result.RefreshToken, f.account(t, jane.ID).RefreshToken)

	byEmail, err := f.service.Login(context.Background(), LoginInput{Email: "jane@x.com", Password: "longpassword1"})
	require.NoError(t, err)
	assert.Equal(t, byEmail.RefreshToken, f.account(t, jane.ID).RefreshToken)
}

func TestRefreshRotatesExactlyOnce(t *testing.T) {
	f := newFixture(t)
	jane := f.registerJane(t)
	login, err := f.service.Login(context.Background(), LoginInput{Username: "janedoe", Password: "longpassword1"})
	require.NoError(t, err)

	next, err := f.service.Refresh(context.Background(), login.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, next.RefreshToken)
	assert.Equal(t, next.RefreshToken, f.account(t, jane.ID).RefreshToken)

	_, err = f.service.Refresh(context.Background(), login.RefreshToken)
	require.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	assert.Equal(t, "refresh token is expired or used", apperr.From(err).Message)

	again, err := f.service.Refresh(context.Background(), next.RefreshToken)
	require.NoError(t, err)

	_, err = f.service.Refresh(context.Background(), next.RefreshToken)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	_, err = f.service.Refresh(context.Background(), again.RefreshToken)
	assert.NoError(t, err)
}

func TestConcurrentRefreshHasOneWinner(t *testing.T) {
	f := newFixture(t)
	f.registerJane(t)
	login, err := f.service.Login(context.Background(), LoginInput{Username: "janedoe", Password: "longpassword1"})
	require.NoError(t, err)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.service.Refresh(context.Background(), login.RefreshToken)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	}
	assert.Equal(t, 1, wins)
}

func TestRefreshFailuresAreUnauthorized(t *testing.T) {
	f := newFixture(t)
	jane := f.registerJane(t)
	login, err := f.service.Login(context.Background(), LoginInput{Username: "janedoe", Password: "longpassword1"})
	require.NoError(t, err)

	_, err = f.service.Refresh(context.Background(), "")
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	_, err = f.service.Refresh(context.Background(), "garbage")
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	_, err = f.service.Refresh(context.Background(), login.AccessToken)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	ghost, err := f.tokens.IssueRefreshToken(account.Account{ID: "ghost"})
	require.NoError(t, err)
	_, err = f.service.Refresh(context.Background(), ghost)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	assert.Equal(t, "invalid refresh token", apperr.From(err).Message)

	require.NoError(t, f.service.Logout(context.Background(), f.account(t, jane.ID)))
	_, err = f.service.Refresh(context.Background(), login.RefreshToken)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := newFixture(t)
	jane := f.registerJane(t)
	_, err := f.service.Login(context.Background(), LoginInput{Username: "janedoe", Password: "longpassword1"})
	require.NoError(t, err)

	acc := f.account(t, jane.ID)
	require.NoError(t, f.service.Logout(context.Background(), acc))
	assert.Empty(t, f.account(t, jane.ID).RefreshToken)
	require.NoError(t, f.service.Logout(context.Background(), acc))
	assert.Empty(t, f.account(t, jane.ID).RefreshToken)

	require.NoError(t, f.service.Logout(context.Background(), account.Account{ID: "ghost"}))
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	jane := f.registerJane(t)
	acc := f.account(t, jane.ID)

	err := f.service.ChangePassword(context.Background(), acc, "wrongpassword", "newpassword1")
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	err = f.service.ChangePassword(context.Background(), acc, "longpassword1", "short")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	require.NoError(t, f.service.ChangePassword(context.Background(), acc, "longpassword1", "newpassword1"))

	_, err = f.service.Login(context.Background(), LoginInput{Username: "janedoe", Password: "longpassword1"})
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	_, err = f.service.Login(context.Background(), LoginInput{Username: "janedoe", Password: "newpassword1"})
	assert.NoError(t, err)
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	jane := f.registerJane(t)
	_, err := f.service.Register(context.Background(), RegisterInput{
		FullName: "John", Email: "john@x.com", Username: "john", Password: "longpassword1",
		AvatarPath: stagedFile(t, "john.png"),
	})
	require.NoError(t, err)
	acc := f.account(t, jane.ID)

	_, err = f.service.UpdateProfile(context.Background(), acc, "", "jane@x.com")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.service.UpdateProfile(context.Background(), acc, "Jane", "bad")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.service.UpdateProfile(context.Background(), acc, "Jane", "JOHN@x.com")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	view, err := f.service.UpdateProfile(context.Background(), acc, " Jane Q. Doe ", "Jane.Doe@X.com")
	require.NoError(t, err)
	assert.Equal(t, "Jane Q. Doe", view.FullName)
	assert.Equal(t, "jane.doe@x.com", view.Email)
	assert.Equal(t, jane.AvatarURL, view.AvatarURL)
}
