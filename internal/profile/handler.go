package profile

import (
	"net/http"

	"vidtube-users/internal/apperr"
	"vidtube-users/internal/auth"
	"vidtube-users/internal/httpx"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) ChannelProfile(w http.ResponseWriter, r *http.Request) {
	var viewerID string
	if viewer, ok := auth.AccountFrom(r.Context()); ok {
		viewerID = viewer.ID
	}

	view, err := h.service.ChannelProfile(r.Context(), viewerID, r.PathValue("username"))
	if err != nil {
		httpx.Failure(w, err)
		return
	}

	httpx.Success(w, http.StatusOK, view, "user channel fetched successfully")
}

func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	viewer, ok := auth.AccountFrom(r.Context())
	if !ok {
		httpx.Failure(w, apperr.Unauthorized("unauthorized request"))
		return
	}

	view, err := h.service.Subscribe(r.Context(), viewer, r.PathValue("username"))
	if err != nil {
		httpx.Failure(w, err)
		return
	}

	httpx.Success(w, http.StatusOK, view, "subscribed successfully")
}

func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	viewer, ok := auth.AccountFrom(r.Context())
	if !ok {
		httpx.Failure(w, apperr.Unauthorized("unauthorized request"))
		return
	}

	view, err := h.service.Unsubscribe(r.Context(), viewer, r.PathValue("username"))
	if err != nil {
		httpx.Failure(w, err)
		return
	}

	httpx.Success(w, http.StatusOK, view, "unsubscribed successfully")
}
