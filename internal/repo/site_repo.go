package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/owlette/server/internal/model"
)

// SiteRepo defines the interface for site repository operations
type SiteRepo interface {
	Create(ctx context.Context, site model.Site) error
	Get(ctx context.Context, id string) (model.Site, error)
	AddMember(ctx context.Context, siteID string, userID uuid.UUID) error
	// UserHasAccess reports whether the user owns the site or is an
	// explicitly assigned member. Admin override is the caller's concern.
	UserHasAccess(ctx context.Context, siteID string, userID uuid.UUID) (bool, error)
}

type siteRepo struct {
	db *sql.DB
}

// NewSiteRepo creates a new SiteRepo instance
func NewSiteRepo(db *sql.DB) SiteRepo {
	return &siteRepo{db: db}
}

// Create inserts a new site
func (r *siteRepo) Create(ctx context.Context, site model.Site) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sites (id, name, owner_id)
		VALUES ($1, $2, $3)
	`, site.ID, site.Name, site.OwnerID)
	if err != nil {
		return fmt.Errorf("insert site: %w", err)
	}
	return nil
}

// Get retrieves a site by ID
func (r *siteRepo) Get(ctx context.Context, id string) (model.Site, error) {
	var site model.Site
	var ownerStr string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, owner_id, created_at
		FROM sites
		WHERE id = $1
	`, id).Scan(&site.ID, &site.Name, &ownerStr, &site.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Site{}, fmt.Errorf("site: %w", ErrNotFound)
		}
		return model.Site{}, fmt.Errorf("query site: %w", err)
	}
	site.OwnerID, err = uuid.Parse(ownerStr)
	if err != nil {
		return model.Site{}, fmt.Errorf("parse owner ID: %w", err)
	}
	return site, nil
}

// AddMember assigns a user to a site
func (r *siteRepo) AddMember(ctx context.Context, siteID string, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO site_members (site_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, siteID, userID)
	if err != nil {
		return fmt.Errorf("add site member: %w", err)
	}
	return nil
}

// UserHasAccess checks ownership or membership in one query
func (r *siteRepo) UserHasAccess(ctx context.Context, siteID string, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sites WHERE id = $1 AND owner_id = $2
			UNION
			SELECT 1 FROM site_members WHERE site_id = $1 AND user_id = $2
		)
	`, siteID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check site access: %w", err)
	}
	return exists, nil
}
