package maintenance

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"vidtube-users/internal/httpx"
	"vidtube-users/internal/media"
	"vidtube-users/internal/observability"
)

type Sweeper interface {
	Sweep(ctx context.Context, retention time.Duration, now time.Time) (media.SweepResult, error)
}

// CleanupHandler removes staged uploads older than the retention window. It
// is disabled (404) unless a cron secret is configured.
type CleanupHandler struct {
	sweeper    Sweeper
	logger     *observability.Logger
	cronSecret string
	retention  time.Duration
}

func NewCleanupHandler(sweeper Sweeper, logger *observability.Logger, cronSecret string, retention time.Duration) *CleanupHandler {
	return &CleanupHandler{
		sweeper:    sweeper,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
		retention:  retention,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		httpx.WriteError(w, http.StatusNotFound, "not found")
		return
	}

	token := httpx.BearerToken(r)
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.cronSecret)) != 1 {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	result, err := h.sweeper.Sweep(r.Context(), h.retention, time.Now())
	if err != nil {
		h.logger.Error("staging_cleanup_failed", map[string]any{"error": err.Error()})
		httpx.Failure(w, err)
		return
	}

	h.logger.Info("staging_cleanup_completed", map[string]any{
		"removed": result.Removed,
		"failed":  result.Failed,
	})

	httpx.Success(w, http.StatusOK, result, "cleanup completed")
}
