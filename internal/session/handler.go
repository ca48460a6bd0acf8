package session

import (
	"context"
	"net/http"

	"vidtube-users/internal/account"
	"vidtube-users/internal/apperr"
	"vidtube-users/internal/auth"
	"vidtube-users/internal/httpx"
	"vidtube-users/internal/media"
)

type MediaReplacer interface {
	ReplaceAsset(ctx context.Context, acc account.Account, localPath string, field account.MediaField) (account.View, error)
}

type Handler struct {
	service   *Service
	media     MediaReplacer
	stager    *media.Stager
	cookies   *auth.CookieWriter
	bodyLimit int64
}

func NewHandler(service *Service, replacer MediaReplacer, stager *media.Stager, cookies *auth.CookieWriter, bodyLimit int64) *Handler {
	return &Handler{
		service:   service,
		media:     replacer,
		stager:    stager,
		cookies:   cookies,
		bodyLimit: bodyLimit,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type updateAccountRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	staged, err := h.stager.Stage(w, r, string(account.FieldAvatar), string(account.FieldCoverImage))
	if err != nil {
		httpx.Failure(w, err)
		return
	}
	defer staged.Cleanup()

	view, err := h.service.Register(r.Context(), RegisterInput{
		FullName:   staged.Values.Get("fullName"),
		Email:      staged.Values.Get("email"),
		Username:   staged.Values.Get("username"),
		Password:   staged.Values.Get("password"),
		AvatarPath: staged.Path(string(account.FieldAvatar)),
		CoverPath:  staged.Path(string(account.FieldCoverImage)),
	})
	if err != nil {
		httpx.Failure(w, err)
		return
	}

	httpx.Success(w, http.StatusCreated, view, "user registered successfully")
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if err := httpx.DecodeBody(w, r, h.bodyLimit, &body); err != nil {
		httpx.Failure(w, err)
		return
	}

	result, err := h.service.Login(r.Context(), LoginInput{
		Username: body.Username,
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		httpx.Failure(w, err)
		return
	}

	h.cookies.Set(w, auth.Pair{AccessToken: result.AccessToken, RefreshToken: result.RefreshToken})
	httpx.Success(w, http.StatusOK, result, "user logged in successfully")
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	acc, ok := auth.AccountFrom(r.Context())
	if !ok {
		httpx.Failure(w, apperr.Unauthorized("unauthorized request"))
		return
	}

	if err := h.service.Logout(r.Context(), acc); err != nil {
		httpx.Failure(w, err)
		return
	}

	h.cookies.Clear(w)
	httpx.Success(w, http.StatusOK, nil, "user logged out")
}

// RefreshToken reads the refresh token from its cookie, falling back to the
// request body.
func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var presented string
	if cookie, err := r.Cookie(auth.RefreshTokenCookie); err == nil {
		presented = cookie.Value
	}
	if presented == "" && r.ContentLength != 0 {
		var body refreshRequest
		if err := httpx.DecodeBody(w, r, h.bodyLimit, &body); err == nil {
			presented = body.RefreshToken
		}
	}

	pair, err := h.service.Refresh(r.Context(), presented)
	if err != nil {
		httpx.Failure(w, err)
		return
	}

	h.cookies.Set(w, pair)
	httpx.Success(w, http.StatusOK, pair, "access token refreshed")
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	acc, ok := auth.AccountFrom(r.Context())
	if !ok {
		httpx.Failure(w, apperr.Unauthorized("unauthorized request"))
		return
	}

	var body changePasswordRequest
	if err := httpx.DecodeBody(w, r, h.bodyLimit, &body); err != nil {
		httpx.Failure(w, err)
		return
	}

	if err := h.service.ChangePassword(r.Context(), acc, body.OldPassword, body.NewPassword); err != nil {
		httpx.Failure(w, err)
		return
	}

	httpx.Success(w, http.StatusOK, nil, "password changed successfully")
}

func (h *Handler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	acc, ok := auth.AccountFrom(r.Context())
	if !ok {
		httpx.Failure(w, apperr.Unauthorized("unauthorized request"))
		return
	}

	httpx.Success(w, http.StatusOK, h.service.CurrentUser(acc), "current user fetched successfully")
}

func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	acc, ok := auth.AccountFrom(r.Context())
	if !ok {
		httpx.Failure(w, apperr.Unauthorized("unauthorized request"))
		return
	}

	var body updateAccountRequest
	if err := httpx.DecodeBody(w, r, h.bodyLimit, &body); err != nil {
		httpx.Failure(w, err)
		return
	}

	view, err := h.service.UpdateProfile(r.Context(), acc, body.FullName, body.Email)
	if err != nil {
		httpx.Failure(w, err)
		return
	}

	httpx.Success(w, http.StatusOK, view, "account details updated successfully")
}

func (h *Handler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	h.replaceMedia(w, r, account.FieldAvatar, "avatar image updated successfully")
}

func (h *Handler) UpdateCoverImage(w http.ResponseWriter, r *http.Request) {
	h.replaceMedia(w, r, account.FieldCoverImage, "cover image updated successfully")
}

func (h *Handler) replaceMedia(w http.ResponseWriter, r *http.Request, field account.MediaField, message string) {
	acc, ok := auth.AccountFrom(r.Context())
	if !ok {
		httpx.Failure(w, apperr.Unauthorized("unauthorized request"))
		return
	}

	staged, err := h.stager.Stage(w, r, string(field))
	if err != nil {
		httpx.Failure(w, err)
		return
	}
	defer staged.Cleanup()

	view, err := h.media.ReplaceAsset(r.Context(), acc, staged.Path(string(field)), field)
	if err != nil {
		httpx.Failure(w, err)
		return
	}

	httpx.Success(w, http.StatusOK, view, message)
}
