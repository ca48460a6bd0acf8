package session

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidtube-users/internal/account"
	"vidtube-users/internal/auth"
	"vidtube-users/internal/config"
	"vidtube-users/internal/httpx"
	"vidtube-users/internal/media"
	"vidtube-users/internal/observability"
)

type fakeReplacer struct {
	store    *account.MemoryStore
	gotField account.MediaField
	gotPath  string
}

func (f *fakeReplacer) ReplaceAsset(ctx context.Context, acc account.Account, localPath string, field account.MediaField) (account.View, error) {
	f.gotField = field
	f.gotPath = localPath
	updated, err := f.store.UpdateMedia(ctx, acc.ID, field, "https://store/replaced.png")
	if err != nil {
		return account.View{}, err
	}
	return updated.View(), nil
}

type server struct {
	*fixture
	replacer *fakeReplacer
	stageDir string
	mux      *http.ServeMux
}

func newServer(t *testing.T) *server {
	t.Helper()
	f := newFixture(t)
	stager, err := media.NewStager(filepath.Join(t.TempDir(), "temp"), 1<<20, observability.Discard())
	require.NoError(t, err)

	replacer := &fakeReplacer{store: f.store}
	cookies := auth.NewCookieWriter(config.CookieConfig{Secure: true}, config.TokenConfig{AccessTTL: f.tokens.AccessTTL(), RefreshTTL: f.tokens.RefreshTTL()})
	h := NewHandler(f.service, replacer, stager, cookies, httpx.DefaultBodyLimit)
	authn := auth.NewAuthenticator(f.tokens, f.store)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", h.Register)
	mux.HandleFunc("POST /login", h.Login)
	mux.HandleFunc("POST /refresh-token", h.RefreshToken)
	mux.Handle("POST /logout", authn.Require(http.HandlerFunc(h.Logout)))
	mux.Handle("GET /current-user", authn.Require(http.HandlerFunc(h.CurrentUser)))
	mux.Handle("PATCH /avatar", authn.Require(http.HandlerFunc(h.UpdateAvatar)))
	return &server{fixture: f, replacer: replacer, stageDir: stager.Dir(), mux: mux}
}

func (s *server) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func multipartBody(t *testing.T, values map[string]string, files ...string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for k, v := range values {
		require.NoError(t, writer.WriteField(k, v))
	}
	for _, field := range files {
		part, err := writer.CreateFormFile(field, field+".png")
		require.NoError(t, err)
		_, err = part.Write([]byte("image-bytes"))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return &body, writer.FormDataContentType()
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, data any) httpx.Envelope {
	t.Helper()
	env := httpx.Envelope{Data: data}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func cookieValue(rec *httptest.ResponseRecorder, name string) string {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func (s *server) register(t *testing.T) account.View {
	t.Helper()
	body, contentType := multipartBody(t, map[string]string{
		"fullName": "Jane Doe",
		"email":    "jane@x.com",
		"username": "janedoe",
		"password": "longpassword1",
	}, "avatar")
	req := httptest.NewRequest(http.MethodPost, "/register", body)
	req.Header.Set("Content-Type", contentType)

	rec := s.do(req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var view account.View
	env := decodeEnvelope(t, rec, &view)
	assert.True(t, env.Success)
	return view
}

func (s *server) login(t *testing.T) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":"janedoe","password":"longpassword1"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := s.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return rec
}

func TestRegisterEndpoint(t *testing.T) {
	s := newServer(t)
	view := s.register(t)

	assert.Equal(t, "janedoe", view.Username)
	assert.NotEmpty(t, view.AvatarURL)
	assert.Equal(t, "", view.CoverImageURL)

	entries, err := os.ReadDir(s.stageDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRegisterEndpointRejectsMissingAvatar(t *testing.T) {
	s := newServer(t)
	body, contentType := multipartBody(t, map[string]string{
		"fullName": "Jane Doe",
		"email":    "jane@x.com",
		"username": "janedoe",
		"password": "longpassword1",
	}, "coverImage")
	req := httptest.NewRequest(http.MethodPost, "/register", body)
	req.Header.Set("Content-Type", contentType)

	rec := s.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)

	entries, err := os.ReadDir(s.stageDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLoginRefreshLogoutFlow(t *testing.T) {
	s := newServer(t)
	jane := s.register(t)

	loginRec := s.login(t)
	var result LoginResult
	decodeEnvelope(t, loginRec, &result)
	assert.Equal(t, result.AccessToken, cookieValue(loginRec, auth.AccessTokenCookie))
	assert.Equal(t, result.RefreshToken, cookieValue(loginRec, auth.RefreshTokenCookie))
	assert.NotContains(t, loginRec.Body.String(), "password")

	current := httptest.NewRequest(http.MethodGet, "/current-user", nil)
	current.AddCookie(&http.Cookie{Name: auth.AccessTokenCookie, Value: result.AccessToken})
	rec := s.do(current)
	require.Equal(t, http.StatusOK, rec.Code)
	var me account.View
	decodeEnvelope(t, rec, &me)
	assert.Equal(t, jane.ID, me.ID)

	refresh := httptest.NewRequest(http.MethodPost, "/refresh-token", nil)
	refresh.AddCookie(&http.Cookie{Name: auth.RefreshTokenCookie, Value: result.RefreshToken})
	rec = s.do(refresh)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pair auth.Pair
	decodeEnvelope(t, rec, &pair)
	assert.NotEqual(t, result.RefreshToken, pair.RefreshToken)
	assert.Equal(t, pair.RefreshToken, cookieValue(rec, auth.RefreshTokenCookie))

	replay := httptest.NewRequest(http.MethodPost, "/refresh-token", strings.NewReader(`{"refreshToken":"`+result.RefreshToken+`"}`))
	replay.Header.Set("Content-Type", "application/json")
	rec = s.do(replay)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	logout := httptest.NewRequest(http.MethodPost, "/logout", nil)
	logout.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec = s.do(logout)
	require.Equal(t, http.StatusOK, rec.Code)
	for _, c := range rec.Result().Cookies() {
		assert.Equal(t, -1, c.MaxAge, c.Name)
	}
	assert.Empty(t, s.account(t, jane.ID).RefreshToken)
}

func TestRefreshEndpointWithoutToken(t *testing.T) {
	s := newServer(t)

	rec := s.do(httptest.NewRequest(http.MethodPost, "/refresh-token", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutRequiresAuthentication(t *testing.T) {
	s := newServer(t)

	rec := s.do(httptest.NewRequest(http.MethodPost, "/logout", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUpdateAvatarEndpoint(t *testing.T) {
	s := newServer(t)
	s.register(t)
	var result LoginResult
	decodeEnvelope(t, s.login(t), &result)

	body, contentType := multipartBody(t, nil, "avatar")
	req := httptest.NewRequest(http.MethodPatch, "/avatar", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+result.AccessToken)

	rec := s.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var view account.View
	decodeEnvelope(t, rec, &view)
	assert.Equal(t, "https://store/replaced.png", view.AvatarURL)
	assert.Equal(t, account.FieldAvatar, s.replacer.gotField)
	assert.NotEmpty(t, s.replacer.gotPath)
	assert.NoFileExists(t, s.replacer.gotPath)
}
