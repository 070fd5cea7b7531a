package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/owlette/server/internal/middleware"
	"github.com/owlette/server/internal/mfa"
)

// MfaHandler handles MFA setup and verification endpoints
type MfaHandler struct {
	service *mfa.Service
	limiter middleware.Limiter
}

// NewMfaHandler creates a new MFA handler
func NewMfaHandler(service *mfa.Service, limiter middleware.Limiter) *MfaHandler {
	return &MfaHandler{service: service, limiter: limiter}
}

// sessionUser resolves the acting user: the session principal must match
// the userId named in the body, so one operator cannot drive another's MFA.
func (h *MfaHandler) sessionUser(w http.ResponseWriter, r *http.Request, bodyUserID string) (uuid.UUID, bool) {
	claims, ok := middleware.GetSession(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return uuid.Nil, false
	}
	if bodyUserID != "" {
		requested, err := uuid.Parse(bodyUserID)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid userId")
			return uuid.Nil, false
		}
		if requested != claims.UserID {
			respondWithError(w, http.StatusForbidden, "userId does not match session")
			return uuid.Nil, false
		}
	}
	return claims.UserID, true
}

func (h *MfaHandler) allow(w http.ResponseWriter, r *http.Request) bool {
	if !h.limiter.Allow(middleware.GetIPKey(r)) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return false
	}
	return true
}

// setupRequest is the request body for POST /api/mfa/setup
type setupRequest struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// setupResponse is the JSON response for MFA setup
type setupResponse struct {
	Secret    string `json:"secret"`
	QRCodeURL string `json:"qrCodeUrl"`
}

// HandleSetup handles POST /api/mfa/setup
func (h *MfaHandler) HandleSetup(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}

	var req setupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		respondWithError(w, http.StatusBadRequest, "email is required")
		return
	}

	userID, ok := h.sessionUser(w, r, req.UserID)
	if !ok {
		return
	}

	result, err := h.service.Setup(r.Context(), userID, req.Email)
	if err != nil {
		log.Printf("Failed to start MFA setup for user %s: %v", userID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to start MFA setup")
		return
	}

	respondJSON(w, http.StatusOK, setupResponse{
		Secret:    result.Secret,
		QRCodeURL: result.QRCodeURL,
	})
}

// verifySetupRequest is the request body for POST /api/mfa/verify-setup
type verifySetupRequest struct {
	UserID      string   `json:"userId"`
	Code        string   `json:"code"`
	BackupCodes []string `json:"backupCodes"`
}

// HandleVerifySetup handles POST /api/mfa/verify-setup
func (h *MfaHandler) HandleVerifySetup(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}

	var req verifySetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" {
		respondWithError(w, http.StatusBadRequest, "code is required")
		return
	}

	userID, ok := h.sessionUser(w, r, req.UserID)
	if !ok {
		return
	}

	if err := h.service.VerifySetup(r.Context(), userID, req.Code, req.BackupCodes); err != nil {
		switch {
		case errors.Is(err, mfa.ErrSetupNotFound):
			respondWithError(w, http.StatusBadRequest, "no pending MFA setup")
		case errors.Is(err, mfa.ErrSetupExpired):
			respondWithError(w, http.StatusBadRequest, "MFA setup expired, start again")
		case errors.Is(err, mfa.ErrInvalidCode):
			respondWithError(w, http.StatusBadRequest, "invalid verification code")
		default:
			log.Printf("Failed to verify MFA setup for user %s: %v", userID, err)
			respondWithError(w, http.StatusInternalServerError, "failed to verify MFA setup")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// verifyLoginRequest is the request body for POST /api/mfa/verify-login
type verifyLoginRequest struct {
	UserID       string `json:"userId"`
	Code         string `json:"code"`
	IsBackupCode bool   `json:"isBackupCode,omitempty"`
}

// verifyLoginResponse is the JSON response for login verification
type verifyLoginResponse struct {
	Success        bool `json:"success"`
	BackupCodeUsed bool `json:"backupCodeUsed"`
}

// HandleVerifyLogin handles POST /api/mfa/verify-login
func (h *MfaHandler) HandleVerifyLogin(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}

	var req verifyLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" {
		respondWithError(w, http.StatusBadRequest, "code is required")
		return
	}

	userID, ok := h.sessionUser(w, r, req.UserID)
	if !ok {
		return
	}

	result, err := h.service.VerifyLogin(r.Context(), userID, req.Code, req.IsBackupCode)
	if err != nil {
		switch {
		case errors.Is(err, mfa.ErrUserNotFound):
			respondWithError(w, http.StatusNotFound, "user not found")
		case errors.Is(err, mfa.ErrNotEnrolled):
			respondWithError(w, http.StatusForbidden, "MFA is not enrolled")
		case errors.Is(err, mfa.ErrInvalidCode):
			respondWithError(w, http.StatusUnauthorized, "invalid verification code")
		default:
			log.Printf("Failed to verify MFA login for user %s: %v", userID, err)
			respondWithError(w, http.StatusInternalServerError, "failed to verify MFA code")
		}
		return
	}

	respondJSON(w, http.StatusOK, verifyLoginResponse{
		Success:        result.Success,
		BackupCodeUsed: result.BackupCodeUsed,
	})
}
