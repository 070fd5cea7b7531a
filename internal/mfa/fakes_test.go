package mfa

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/owlette/server/internal/model"
	"github.com/owlette/server/internal/repo"
)

type fakeUserRepo struct {
	users map[uuid.UUID]*model.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[uuid.UUID]*model.User)}
}

func (f *fakeUserRepo) Create(ctx context.Context, email string, isAdmin bool) (model.User, error) {
	u := model.User{
		ID:        uuid.New(),
		Email:     email,
		IsAdmin:   isAdmin,
		CreatedAt: time.Now(),
	}
	f.users[u.ID] = &u
	return u, nil
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("user: %w", repo.ErrNotFound)
	}
	return *u, nil
}

func (f *fakeUserRepo) SetMfaEnrollment(ctx context.Context, id uuid.UUID, encryptedSecret string, backupCodeHashes []string, enrolledAt time.Time) error {
	u, ok := f.users[id]
	if !ok {
		return fmt.Errorf("user: %w", repo.ErrNotFound)
	}
	u.MfaEnrolled = true
	u.MfaSecret = encryptedSecret
	u.BackupCodes = append([]string(nil), backupCodeHashes...)
	u.MfaEnrolledAt = &enrolledAt
	return nil
}

func (f *fakeUserRepo) UpdateMfaSecret(ctx context.Context, id uuid.UUID, encryptedSecret string) error {
	u, ok := f.users[id]
	if !ok {
		return fmt.Errorf("user: %w", repo.ErrNotFound)
	}
	u.MfaSecret = encryptedSecret
	return nil
}

func (f *fakeUserRepo) ConsumeBackupCode(ctx context.Context, id uuid.UUID, codeHash string) (bool, error) {
	u, ok := f.users[id]
	if !ok {
		return false, nil
	}
	for i, h := range u.BackupCodes {
		if h == codeHash {
			u.BackupCodes = append(u.BackupCodes[:i], u.BackupCodes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

type fakeSetupRepo struct {
	setups map[uuid.UUID]model.MfaPendingSetup
}

func newFakeSetupRepo() *fakeSetupRepo {
	return &fakeSetupRepo{setups: make(map[uuid.UUID]model.MfaPendingSetup)}
}

func (f *fakeSetupRepo) Upsert(ctx context.Context, setup model.MfaPendingSetup) error {
	f.setups[setup.UserID] = setup
	return nil
}

func (f *fakeSetupRepo) Get(ctx context.Context, userID uuid.UUID) (model.MfaPendingSetup, error) {
	s, ok := f.setups[userID]
	if !ok {
		return model.MfaPendingSetup{}, fmt.Errorf("pending setup: %w", repo.ErrNotFound)
	}
	return s, nil
}

func (f *fakeSetupRepo) Delete(ctx context.Context, userID uuid.UUID) error {
	delete(f.setups, userID)
	return nil
}
