package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/owlette/server/internal/auth"
	"github.com/owlette/server/internal/middleware"
	"github.com/owlette/server/internal/repo"
)

// RegistrationHandler handles registration code issuance and redemption
type RegistrationHandler struct {
	registration *auth.RegistrationService
	users        repo.UserRepo
}

// NewRegistrationHandler creates a new registration handler
func NewRegistrationHandler(registration *auth.RegistrationService, users repo.UserRepo) *RegistrationHandler {
	return &RegistrationHandler{registration: registration, users: users}
}

// generateCodeRequest is the request body for POST /api/registration/code
type generateCodeRequest struct {
	SiteID string `json:"siteId"`
}

// generateCodeResponse is the JSON response for code generation
type generateCodeResponse struct {
	RegistrationCode string    `json:"registrationCode"`
	ExpiresAt        time.Time `json:"expiresAt"`
	SiteID           string    `json:"siteId"`
}

// HandleGenerateCode handles POST /api/registration/code (session + site access)
func (h *RegistrationHandler) HandleGenerateCode(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetSession(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req generateCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.SiteID = strings.TrimSpace(req.SiteID)
	if req.SiteID == "" {
		respondWithError(w, http.StatusBadRequest, "siteId is required")
		return
	}

	user, err := h.users.GetByID(r.Context(), claims.UserID)
	if err != nil {
		respondWithError(w, http.StatusUnauthorized, "user not found")
		return
	}

	issued, err := h.registration.Issue(r.Context(), req.SiteID, user)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrSiteNotFound):
			respondWithError(w, http.StatusNotFound, "site not found")
		case errors.Is(err, auth.ErrSiteAccessDenied):
			respondWithError(w, http.StatusForbidden, "no access to this site")
		default:
			log.Printf("Failed to issue registration code for site %s: %v", req.SiteID, err)
			respondWithError(w, http.StatusInternalServerError, "failed to generate registration code")
		}
		return
	}

	respondJSON(w, http.StatusOK, generateCodeResponse{
		RegistrationCode: issued.Code,
		ExpiresAt:        issued.ExpiresAt,
		SiteID:           issued.SiteID,
	})
}

// exchangeRequest is the request body for POST /api/registration/exchange
type exchangeRequest struct {
	RegistrationCode string `json:"registrationCode"`
	MachineID        string `json:"machineId"`
	Version          string `json:"version"`
}

// exchangeResponse is the JSON response for a successful redemption. The
// refresh token appears here once and is never retrievable again.
type exchangeResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
	SiteID       string `json:"siteId"`
}

// HandleExchange handles POST /api/registration/exchange (the code is the credential)
func (h *RegistrationHandler) HandleExchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.RegistrationCode = strings.TrimSpace(req.RegistrationCode)
	req.MachineID = strings.TrimSpace(req.MachineID)
	req.Version = strings.TrimSpace(req.Version)

	if req.RegistrationCode == "" || req.MachineID == "" {
		respondWithError(w, http.StatusBadRequest, "registrationCode and machineId are required")
		return
	}

	result, err := h.registration.Redeem(r.Context(), req.RegistrationCode, req.MachineID, req.Version)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCode):
			respondWithError(w, http.StatusUnauthorized, "invalid registration code")
		case errors.Is(err, auth.ErrCodeAlreadyUsed):
			respondWithError(w, http.StatusUnauthorized, "registration code already used")
		case errors.Is(err, auth.ErrCodeExpired):
			respondWithError(w, http.StatusUnauthorized, "registration code expired")
		case errors.Is(err, auth.ErrInvalidCodeData):
			respondWithError(w, http.StatusBadRequest, "registration code record is invalid")
		default:
			log.Printf("Failed to redeem registration code for machine %s: %v", req.MachineID, err)
			respondWithError(w, http.StatusInternalServerError, "failed to exchange registration code")
		}
		return
	}

	respondJSON(w, http.StatusOK, exchangeResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresIn:    result.ExpiresIn,
		SiteID:       result.SiteID,
	})
}
