package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pribylovaa/go-auth-session/internal/api"
	"github.com/pribylovaa/go-auth-session/internal/models"
	apierrors "github.com/pribylovaa/go-auth-session/internal/transport/http/errors"
	"github.com/pribylovaa/go-auth-session/internal/transport/http/middleware"
)

// SetStatus меняет статус аккаунта. Доступно только admin и super_admin
// с активным аккаунтом.
func (h *Handlers) SetStatus(w http.ResponseWriter, r *http.Request) {
	token := middleware.TokenFrom(r.Context())
	if token == "" {
		apierrors.WriteError(w, r, apierrors.ErrUnauthenticated)
		return
	}

	caller, err := h.svc.Whoami(r.Context(), token)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}
	if !caller.Role.IsAdmin() {
		apierrors.WriteError(w, r, apierrors.ErrForbidden)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.WriteError(w, r, apierrors.ErrInvalidArgument)
		return
	}

	var in api.StatusRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrInvalidArgument)
		return
	}

	acc, err := h.svc.SetAccountStatus(r.Context(), id, models.AccountStatus(in.Status))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, api.StatusResponse{ID: acc.ID.String(), Status: string(acc.Status)})
}
