package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/owlette/server/internal/model"
	"github.com/owlette/server/internal/repo"
)

// In-memory repository fakes for service tests. Not safe for concurrent
// use; tests are single-goroutine.

type fakeRegCodeRepo struct {
	codes map[string]model.RegistrationCode
}

func newFakeRegCodeRepo() *fakeRegCodeRepo {
	return &fakeRegCodeRepo{codes: make(map[string]model.RegistrationCode)}
}

func (f *fakeRegCodeRepo) Create(_ context.Context, code model.RegistrationCode) error {
	f.codes[code.Code] = code
	return nil
}

func (f *fakeRegCodeRepo) GetByCode(_ context.Context, code string) (model.RegistrationCode, error) {
	rc, ok := f.codes[code]
	if !ok {
		return model.RegistrationCode{}, fmt.Errorf("registration code: %w", repo.ErrNotFound)
	}
	return rc, nil
}

func (f *fakeRegCodeRepo) Consume(_ context.Context, code, machineID, agentUID string, usedAt time.Time) (bool, error) {
	rc, ok := f.codes[code]
	if !ok || rc.Used {
		return false, nil
	}
	rc.Used = true
	rc.UsedAt = &usedAt
	rc.MachineID = &machineID
	rc.AgentUID = &agentUID
	f.codes[code] = rc
	return true, nil
}

type fakeRefreshRepo struct {
	tokens map[string]model.RefreshToken
}

func newFakeRefreshRepo() *fakeRefreshRepo {
	return &fakeRefreshRepo{tokens: make(map[string]model.RefreshToken)}
}

func (f *fakeRefreshRepo) Create(_ context.Context, token model.RefreshToken) error {
	f.tokens[token.TokenHash] = token
	return nil
}

func (f *fakeRefreshRepo) GetByHash(_ context.Context, tokenHash string) (model.RefreshToken, error) {
	t, ok := f.tokens[tokenHash]
	if !ok {
		return model.RefreshToken{}, fmt.Errorf("refresh token: %w", repo.ErrNotFound)
	}
	return t, nil
}

func (f *fakeRefreshRepo) TouchLastUsed(_ context.Context, tokenHash string, at time.Time) error {
	t, ok := f.tokens[tokenHash]
	if !ok {
		return fmt.Errorf("refresh token: %w", repo.ErrNotFound)
	}
	t.LastUsed = &at
	f.tokens[tokenHash] = t
	return nil
}

func (f *fakeRefreshRepo) Delete(_ context.Context, tokenHash string) error {
	if _, ok := f.tokens[tokenHash]; !ok {
		return fmt.Errorf("refresh token: %w", repo.ErrNotFound)
	}
	delete(f.tokens, tokenHash)
	return nil
}

func (f *fakeRefreshRepo) DeleteByMachine(_ context.Context, siteID, machineID string) (int64, error) {
	var n int64
	for hash, t := range f.tokens {
		if t.SiteID == siteID && t.MachineID == machineID {
			delete(f.tokens, hash)
			n++
		}
	}
	return n, nil
}

func (f *fakeRefreshRepo) DeleteBySite(_ context.Context, siteID string) (int64, error) {
	var n int64
	for hash, t := range f.tokens {
		if t.SiteID == siteID {
			delete(f.tokens, hash)
			n++
		}
	}
	return n, nil
}

func (f *fakeRefreshRepo) ListBySite(_ context.Context, siteID string) ([]model.RefreshToken, error) {
	var out []model.RefreshToken
	for _, t := range f.tokens {
		if t.SiteID == siteID {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeSiteRepo struct {
	sites   map[string]model.Site
	members map[string]map[uuid.UUID]bool
}

func newFakeSiteRepo() *fakeSiteRepo {
	return &fakeSiteRepo{
		sites:   make(map[string]model.Site),
		members: make(map[string]map[uuid.UUID]bool),
	}
}

func (f *fakeSiteRepo) Create(_ context.Context, site model.Site) error {
	f.sites[site.ID] = site
	return nil
}

func (f *fakeSiteRepo) Get(_ context.Context, id string) (model.Site, error) {
	s, ok := f.sites[id]
	if !ok {
		return model.Site{}, fmt.Errorf("site: %w", repo.ErrNotFound)
	}
	return s, nil
}

func (f *fakeSiteRepo) AddMember(_ context.Context, siteID string, userID uuid.UUID) error {
	if f.members[siteID] == nil {
		f.members[siteID] = make(map[uuid.UUID]bool)
	}
	f.members[siteID][userID] = true
	return nil
}

func (f *fakeSiteRepo) UserHasAccess(_ context.Context, siteID string, userID uuid.UUID) (bool, error) {
	if s, ok := f.sites[siteID]; ok && s.OwnerID == userID {
		return true, nil
	}
	return f.members[siteID][userID], nil
}
