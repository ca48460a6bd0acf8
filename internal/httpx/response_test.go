package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidtube-users/internal/apperr"
)

func TestSuccessEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	Success(rec, http.StatusCreated, map[string]string{"id": "1"}, "created")

	require.Equal(t, http.StatusCreated, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(201), body["statusCode"])
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "created", body["message"])
	assert.Equal(t, map[string]any{"id": "1"}, body["data"])
}

func TestSuccessWithNilDataWritesEmptyObject(t *testing.T) {
	rec := httptest.NewRecorder()
	Success(rec, http.StatusOK, nil, "ok")

	assert.Contains(t, rec.Body.String(), `"data":{}`)
}

func TestFailureEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	Failure(rec, apperr.Conflict("email or username already used"))

	require.Equal(t, http.StatusConflict, rec.Code)
	var body ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, 409, body.StatusCode)
	assert.Equal(t, "email or username already used", body.Message)
	assert.NotNil(t, body.Errors)
	assert.Empty(t, body.Errors)
}

func TestFailureHidesInternalCause(t *testing.T) {
	rec := httptest.NewRecorder()
	Failure(rec, errors.New("pq: password authentication failed for user admin"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password authentication")
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestDecodeJSON(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"jane"}`))
		var dst struct {
			Name string `json:"name"`
		}
		require.NoError(t, DecodeJSON(httptest.NewRecorder(), req, 0, &dst))
		assert.Equal(t, "jane", dst.Name)
	})

	t.Run("unknown field", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"other":1}`))
		var dst struct {
			Name string `json:"name"`
		}
		err := DecodeJSON(httptest.NewRecorder(), req, 0, &dst)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	})

	t.Run("too large", func(t *testing.T) {
		payload := `{"name":"` + strings.Repeat("a", 64) + `"}`
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))
		var dst struct {
			Name string `json:"name"`
		}
		err := DecodeJSON(httptest.NewRecorder(), req, 16, &dst)
		require.Error(t, err)
		assert.Equal(t, "request body is too large", apperr.From(err).Message)
	})
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, BearerToken(req))

	req.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, BearerToken(req))

	req.Header.Set("Authorization", "bearer  token-value ")
	assert.Equal(t, "token-value", BearerToken(req))
}

func TestDecodeBodyAcceptsURLEncodedForm(t *testing.T) {
	var dst struct {
		Email    string `json:"email"`
		Password string `json:"password,omitempty"`
		Ignored  int    `json:"ignored"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("email=jane%40x.com&password=secret&ignored=3"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	require.NoError(t, DecodeBody(httptest.NewRecorder(), req, 0, &dst))
	assert.Equal(t, "jane@x.com", dst.Email)
	assert.Equal(t, "secret", dst.Password)
	assert.Zero(t, dst.Ignored)
}

func TestDecodeBodyFallsBackToJSON(t *testing.T) {
	var dst struct {
		Email string `json:"email"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"jane@x.com"}`))
	req.Header.Set("Content-Type", "application/json")

	require.NoError(t, DecodeBody(httptest.NewRecorder(), req, 0, &dst))
	assert.Equal(t, "jane@x.com", dst.Email)
}
