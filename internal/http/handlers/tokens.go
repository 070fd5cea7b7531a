package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/owlette/server/internal/auth"
	"github.com/owlette/server/internal/middleware"
)

// TokenHandler handles agent token refresh and admin token management
type TokenHandler struct {
	refresh        *auth.RefreshService
	refreshLimiter middleware.Limiter
}

// NewTokenHandler creates a new token handler
func NewTokenHandler(refresh *auth.RefreshService, refreshLimiter middleware.Limiter) *TokenHandler {
	return &TokenHandler{refresh: refresh, refreshLimiter: refreshLimiter}
}

// refreshRequest is the request body for POST /api/agent/refresh
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
	MachineID    string `json:"machineId"`
}

// refreshResponse is the JSON response for a successful refresh
type refreshResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int    `json:"expiresIn"`
}

// HandleRefresh handles POST /api/agent/refresh. The limiter runs before
// any store access.
func (h *TokenHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	if !h.refreshLimiter.Allow(middleware.GetIPKey(r)) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	req.MachineID = strings.TrimSpace(req.MachineID)
	if req.RefreshToken == "" || req.MachineID == "" {
		respondWithError(w, http.StatusBadRequest, "refreshToken and machineId are required")
		return
	}

	result, err := h.refresh.Refresh(r.Context(), req.RefreshToken, req.MachineID)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidRefreshToken):
			respondWithError(w, http.StatusUnauthorized, "invalid refresh token")
		case errors.Is(err, auth.ErrRefreshTokenExpired):
			respondWithError(w, http.StatusUnauthorized, "refresh token expired")
		case errors.Is(err, auth.ErrMachineMismatch):
			// Distinct from expiry on purpose: the agent must not silently
			// retry, an operator should look at this machine.
			respondWithError(w, http.StatusForbidden, "machine identifier mismatch")
		default:
			log.Printf("Failed to refresh access token: %v", err)
			respondWithError(w, http.StatusInternalServerError, "failed to refresh access token")
		}
		return
	}

	respondJSON(w, http.StatusOK, refreshResponse{
		AccessToken: result.AccessToken,
		ExpiresIn:   result.ExpiresIn,
	})
}

// tokenView is one token record in the admin listing. The storage key is
// exposed as the token id; the raw token is long gone.
type tokenView struct {
	ID        string     `json:"id"`
	SiteID    string     `json:"siteId"`
	MachineID string     `json:"machineId"`
	AgentUID  string     `json:"agentUid"`
	Version   string     `json:"version"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	LastUsed  *time.Time `json:"lastUsed,omitempty"`
}

// listResponse is the JSON response for GET /api/tokens
type listResponse struct {
	Tokens []tokenView `json:"tokens"`
	Count  int         `json:"count"`
}

// HandleList handles GET /api/tokens?siteId= (admin session)
func (h *TokenHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	siteID := strings.TrimSpace(r.URL.Query().Get("siteId"))
	if siteID == "" {
		respondWithError(w, http.StatusBadRequest, "siteId query parameter is required")
		return
	}

	tokens, err := h.refresh.List(r.Context(), siteID)
	if err != nil {
		log.Printf("Failed to list tokens for site %s: %v", siteID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to list tokens")
		return
	}

	views := make([]tokenView, 0, len(tokens))
	for _, t := range tokens {
		views = append(views, tokenView{
			ID:        t.TokenHash,
			SiteID:    t.SiteID,
			MachineID: t.MachineID,
			AgentUID:  t.AgentUID,
			Version:   t.Version,
			CreatedAt: t.CreatedAt,
			ExpiresAt: t.ExpiresAt,
			LastUsed:  t.LastUsed,
		})
	}

	respondJSON(w, http.StatusOK, listResponse{Tokens: views, Count: len(views)})
}

// revokeRequest is the request body for POST /api/tokens/revoke. Exactly one
// of tokenId, machineId, all selects the revocation mode.
type revokeRequest struct {
	SiteID    string `json:"siteId"`
	TokenID   string `json:"tokenId,omitempty"`
	MachineID string `json:"machineId,omitempty"`
	All       bool   `json:"all,omitempty"`
}

// revokeResponse is the JSON response for a revocation
type revokeResponse struct {
	Success      bool   `json:"success"`
	RevokedCount int64  `json:"revokedCount"`
	Message      string `json:"message"`
}

// HandleRevoke handles POST /api/tokens/revoke (admin session)
func (h *TokenHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.SiteID = strings.TrimSpace(req.SiteID)
	if req.SiteID == "" {
		respondWithError(w, http.StatusBadRequest, "siteId is required")
		return
	}

	count, err := h.refresh.Revoke(r.Context(), auth.RevokeRequest{
		SiteID:    req.SiteID,
		TokenID:   strings.TrimSpace(req.TokenID),
		MachineID: strings.TrimSpace(req.MachineID),
		All:       req.All,
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidRevokeRequest):
			respondWithError(w, http.StatusBadRequest, "exactly one of tokenId, machineId, all is required")
		case errors.Is(err, auth.ErrInvalidRefreshToken):
			respondWithError(w, http.StatusNotFound, "token not found")
		case errors.Is(err, auth.ErrTokenSiteMismatch):
			respondWithError(w, http.StatusForbidden, "token does not belong to this site")
		default:
			log.Printf("Failed to revoke tokens for site %s: %v", req.SiteID, err)
			respondWithError(w, http.StatusInternalServerError, "failed to revoke tokens")
		}
		return
	}

	respondJSON(w, http.StatusOK, revokeResponse{
		Success:      true,
		RevokedCount: count,
		Message:      fmt.Sprintf("revoked %d token(s)", count),
	})
}
