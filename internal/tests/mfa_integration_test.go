package tests

import (
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupResponse matches POST /api/mfa/setup
type setupResponse struct {
	Secret    string `json:"secret"`
	QRCodeURL string `json:"qrCodeUrl"`
}

// verifyLoginResponse matches POST /api/mfa/verify-login
type verifyLoginResponse struct {
	Success        bool `json:"success"`
	BackupCodeUsed bool `json:"backupCodeUsed"`
}

func currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, time.Now(), totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func TestMfaIntegration(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	ts := newTestServer(t, 1000)
	baseURL := ts.BaseURL()
	client := ts.Server.Client()

	t.Run("A_FullEnrollment", func(t *testing.T) {
		ts.Truncate(t)
		user, session := ts.seedUser(t, "ops@example.com", false)

		// Login verification before enrollment is refused.
		resp := postJSON(t, client, baseURL+"/api/mfa/verify-login", session, map[string]any{
			"userId": user.ID.String(),
			"code":   "123456",
		})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, "body: %s", readBody(resp))
		resp.Body.Close()

		resp = postJSON(t, client, baseURL+"/api/mfa/setup", session, map[string]string{
			"userId": user.ID.String(),
			"email":  user.Email,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", readBody(resp))
		setup := decode[setupResponse](t, resp)
		require.NotEmpty(t, setup.Secret)
		assert.Contains(t, setup.QRCodeURL, "otpauth://totp/")

		// A wrong code does not complete enrollment.
		resp = postJSON(t, client, baseURL+"/api/mfa/verify-setup", session, map[string]any{
			"userId":      user.ID.String(),
			"code":        "000000",
			"backupCodes": []string{"AAAA-BBBB"},
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "body: %s", readBody(resp))
		resp.Body.Close()

		resp = postJSON(t, client, baseURL+"/api/mfa/verify-setup", session, map[string]any{
			"userId":      user.ID.String(),
			"code":        currentCode(t, setup.Secret),
			"backupCodes": []string{"AAAA-BBBB", "CCCC-DDDD"},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", readBody(resp))
		resp.Body.Close()

		// TOTP login now verifies.
		resp = postJSON(t, client, baseURL+"/api/mfa/verify-login", session, map[string]any{
			"userId": user.ID.String(),
			"code":   currentCode(t, setup.Secret),
		})
		require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", readBody(resp))
		login := decode[verifyLoginResponse](t, resp)
		assert.True(t, login.Success)
		assert.False(t, login.BackupCodeUsed)

		// Backup codes work exactly once.
		resp = postJSON(t, client, baseURL+"/api/mfa/verify-login", session, map[string]any{
			"userId":       user.ID.String(),
			"code":         "AAAA-BBBB",
			"isBackupCode": true,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", readBody(resp))
		login = decode[verifyLoginResponse](t, resp)
		assert.True(t, login.BackupCodeUsed)

		resp = postJSON(t, client, baseURL+"/api/mfa/verify-login", session, map[string]any{
			"userId":       user.ID.String(),
			"code":         "AAAA-BBBB",
			"isBackupCode": true,
		})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "body: %s", readBody(resp))
		resp.Body.Close()
	})

	t.Run("B_SessionMustMatchBodyUser", func(t *testing.T) {
		ts.Truncate(t)
		victim, _ := ts.seedUser(t, "victim@example.com", false)
		_, attackerSession := ts.seedUser(t, "attacker@example.com", false)

		resp := postJSON(t, client, baseURL+"/api/mfa/setup", attackerSession, map[string]string{
			"userId": victim.ID.String(),
			"email":  "victim@example.com",
		})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, "body: %s", readBody(resp))
		resp.Body.Close()
	})

	t.Run("C_NoPendingSetup", func(t *testing.T) {
		ts.Truncate(t)
		user, session := ts.seedUser(t, "ops@example.com", false)

		resp := postJSON(t, client, baseURL+"/api/mfa/verify-setup", session, map[string]any{
			"userId": user.ID.String(),
			"code":   "123456",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "body: %s", readBody(resp))
		resp.Body.Close()
	})
}
