package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/owlette/server/internal/model"
	"github.com/owlette/server/internal/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type refreshEnv struct {
	tokens  *fakeRefreshRepo
	service *RefreshService
	issuer  *TokenIssuer
}

func newRefreshEnv() *refreshEnv {
	tokens := newFakeRefreshRepo()
	issuer := NewTokenIssuer(testSigningSecret)
	return &refreshEnv{
		tokens:  tokens,
		service: NewRefreshService(tokens, issuer),
		issuer:  issuer,
	}
}

// seedToken stores a token record and returns the raw token.
func (env *refreshEnv) seedToken(t *testing.T, siteID, machineID string, expiresAt *time.Time) string {
	t.Helper()
	raw, hash, err := GenerateRefreshToken()
	require.NoError(t, err)
	require.NoError(t, env.tokens.Create(context.Background(), model.RefreshToken{
		TokenHash: hash,
		SiteID:    siteID,
		MachineID: machineID,
		AgentUID:  DeriveAgentUID(siteID, machineID),
		Version:   "2.1.0",
		CreatedBy: uuid.New(),
		CreatedAt: time.Now().Add(-time.Hour),
		ExpiresAt: expiresAt,
	}))
	return raw
}

func TestRefresh_success(t *testing.T) {
	env := newRefreshEnv()
	ctx := context.Background()
	expiry := time.Now().Add(29 * 24 * time.Hour)
	raw := env.seedToken(t, "acme", "WIN-01", &expiry)

	result, err := env.service.Refresh(ctx, raw, "WIN-01")
	require.NoError(t, err)
	assert.Equal(t, 3600, result.ExpiresIn)

	// Claims are re-asserted from the stored record.
	claims, err := env.issuer.VerifyAccessToken(result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "agent", claims.Role)
	assert.Equal(t, "acme", claims.SiteID)
	assert.Equal(t, "WIN-01", claims.MachineID)
	assert.Equal(t, "2.1.0", claims.Version)

	record, err := env.tokens.GetByHash(ctx, HashToken(raw))
	require.NoError(t, err)
	require.NotNil(t, record.LastUsed)
	assert.WithinDuration(t, time.Now(), *record.LastUsed, time.Minute)
}

func TestRefresh_unknownToken(t *testing.T) {
	env := newRefreshEnv()
	_, err := env.service.Refresh(context.Background(), "never-issued", "WIN-01")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefresh_expiredTokenDeleted(t *testing.T) {
	env := newRefreshEnv()
	ctx := context.Background()
	expiry := time.Now().Add(-time.Minute)
	raw := env.seedToken(t, "acme", "WIN-01", &expiry)

	_, err := env.service.Refresh(ctx, raw, "WIN-01")
	assert.ErrorIs(t, err, ErrRefreshTokenExpired)

	// Lazy cleanup: the expired record is gone.
	_, err = env.tokens.GetByHash(ctx, HashToken(raw))
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestRefresh_nilExpiryNeverExpires(t *testing.T) {
	env := newRefreshEnv()
	ctx := context.Background()
	raw := env.seedToken(t, "acme", "WIN-01", nil)

	// Age the record far beyond any plausible TTL.
	record, err := env.tokens.GetByHash(ctx, HashToken(raw))
	require.NoError(t, err)
	record.CreatedAt = time.Now().Add(-10 * 365 * 24 * time.Hour)
	require.NoError(t, env.tokens.Create(ctx, record))

	_, err = env.service.Refresh(ctx, raw, "WIN-01")
	assert.NoError(t, err)
}

func TestRefresh_machineMismatch(t *testing.T) {
	env := newRefreshEnv()
	ctx := context.Background()
	raw := env.seedToken(t, "acme", "WIN-01", nil)

	_, err := env.service.Refresh(ctx, raw, "WIN-99")
	assert.ErrorIs(t, err, ErrMachineMismatch)

	// The token survives; the mismatch is an operator signal, not a revocation.
	_, err = env.tokens.GetByHash(ctx, HashToken(raw))
	assert.NoError(t, err)
}

func TestRevoke_singleToken(t *testing.T) {
	env := newRefreshEnv()
	ctx := context.Background()
	raw := env.seedToken(t, "acme", "WIN-01", nil)

	count, err := env.service.Revoke(ctx, RevokeRequest{SiteID: "acme", TokenID: HashToken(raw)})
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	_, err = env.service.Refresh(ctx, raw, "WIN-01")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRevoke_crossSiteRejected(t *testing.T) {
	env := newRefreshEnv()
	ctx := context.Background()
	raw := env.seedToken(t, "acme", "WIN-01", nil)

	_, err := env.service.Revoke(ctx, RevokeRequest{SiteID: "globex", TokenID: HashToken(raw)})
	assert.ErrorIs(t, err, ErrTokenSiteMismatch)

	_, err = env.tokens.GetByHash(ctx, HashToken(raw))
	assert.NoError(t, err, "token outside the caller's site must survive")
}

func TestRevoke_byMachine(t *testing.T) {
	env := newRefreshEnv()
	ctx := context.Background()
	env.seedToken(t, "acme", "WIN-01", nil)
	env.seedToken(t, "acme", "WIN-01", nil)
	env.seedToken(t, "acme", "WIN-02", nil)

	count, err := env.service.Revoke(ctx, RevokeRequest{SiteID: "acme", MachineID: "WIN-01"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	remaining, err := env.tokens.ListBySite(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "WIN-02", remaining[0].MachineID)
}

// Scenario: revoke all for "acme" with 3 tokens outstanding; every former
// token stops refreshing.
func TestRevoke_allForSite(t *testing.T) {
	env := newRefreshEnv()
	ctx := context.Background()
	raws := []string{
		env.seedToken(t, "acme", "WIN-01", nil),
		env.seedToken(t, "acme", "WIN-02", nil),
		env.seedToken(t, "acme", "WIN-03", nil),
	}
	other := env.seedToken(t, "globex", "WIN-01", nil)

	count, err := env.service.Revoke(ctx, RevokeRequest{SiteID: "acme", All: true})
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	for _, raw := range raws {
		_, err := env.service.Refresh(ctx, raw, "WIN-01")
		assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	}

	_, err = env.service.Refresh(ctx, other, "WIN-01")
	assert.NoError(t, err, "other sites are untouched")
}

func TestRevoke_modeValidation(t *testing.T) {
	env := newRefreshEnv()
	ctx := context.Background()

	_, err := env.service.Revoke(ctx, RevokeRequest{SiteID: "acme"})
	assert.ErrorIs(t, err, ErrInvalidRevokeRequest)

	_, err = env.service.Revoke(ctx, RevokeRequest{SiteID: "acme", TokenID: "x", All: true})
	assert.ErrorIs(t, err, ErrInvalidRevokeRequest)

	_, err = env.service.Revoke(ctx, RevokeRequest{SiteID: "acme", TokenID: "x", MachineID: "WIN-01"})
	assert.ErrorIs(t, err, ErrInvalidRevokeRequest)
}
