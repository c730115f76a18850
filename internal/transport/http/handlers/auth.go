package handlers

import (
	"net/http"

	"github.com/pribylovaa/go-auth-session/internal/api"
	"github.com/pribylovaa/go-auth-session/internal/models"
	apierrors "github.com/pribylovaa/go-auth-session/internal/transport/http/errors"
	"github.com/pribylovaa/go-auth-session/internal/transport/http/middleware"
)

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var in api.LoginRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrInvalidArgument)
		return
	}

	if err := h.svc.VerifyClient(in.ClientID, in.ClientSecret); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	pair, acc, err := h.svc.Issue(r.Context(),
		models.Credentials{Email: in.Email, Password: in.Password}, clientMeta(r))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, api.LoginFromPair(pair, acc.Profile()))
}

func (h *Handlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var in api.RefreshRequest
	if err := decodeStrict(w, r, &in); err != nil || in.RefreshToken == "" {
		apierrors.WriteError(w, r, apierrors.ErrInvalidArgument)
		return
	}

	if err := h.svc.VerifyClient(in.ClientID, in.ClientSecret); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	pair, err := h.svc.Refresh(r.Context(), in.RefreshToken, clientMeta(r))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, api.RefreshFromPair(pair))
}

// Logout отвечает 200 для любого токена, включая неизвестные и уже отозванные.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	var in api.LogoutRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrInvalidArgument)
		return
	}

	if in.RefreshToken != "" {
		if err := h.svc.Logout(r.Context(), in.RefreshToken); err != nil {
			apierrors.WriteError(w, r, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, api.LogoutResponse{OK: true})
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var in api.RegisterRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrInvalidArgument)
		return
	}

	acc, err := h.svc.Register(r.Context(), in.Email, in.Name, in.Password)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, api.UserResponse{User: acc.Profile()})
}

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	token := middleware.TokenFrom(r.Context())
	if token == "" {
		apierrors.WriteError(w, r, apierrors.ErrUnauthenticated)
		return
	}

	acc, err := h.svc.Whoami(r.Context(), token)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, api.UserResponse{User: acc.Profile()})
}
