package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/scrypster/introducer/internal/storage"
	"github.com/scrypster/introducer/pkg/types"
)

// UpsertOrganization returns the organization keyed by (name, type),
// creating it when absent.
func (s *Store) UpsertOrganization(ctx context.Context, name string, orgType types.OrganizationType, profileURL string) (*types.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" || orgType == "" {
		return nil, fmt.Errorf("%w: organization name and type are required", storage.ErrInvalidInput)
	}

	now := toNanos(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organizations (id, name, type, profile_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name, type) DO UPDATE SET
			profile_url = COALESCE(organizations.profile_url, excluded.profile_url),
			updated_at = excluded.updated_at`,
		uuid.NewString(), name, string(orgType), nullableString(profileURL), now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert organization: %w", err)
	}

	org := types.Organization{Name: name, Type: orgType}
	var logo, url *string
	err = s.db.QueryRowContext(ctx,
		`SELECT id, logo_url, profile_url FROM organizations WHERE name = ? AND type = ?`,
		name, string(orgType)).Scan(&org.ID, &logo, &url)
	if err != nil {
		return nil, fmt.Errorf("failed to read organization: %w", err)
	}
	if logo != nil {
		org.LogoURL = *logo
	}
	if url != nil {
		org.ProfileURL = *url
	}
	return &org, nil
}

// UpdateOrganizationLogo sets the organization's logo URL.
func (s *Store) UpdateOrganizationLogo(ctx context.Context, id, logoURL string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE organizations SET logo_url = ?, updated_at = ? WHERE id = ?`,
		nullableString(logoURL), toNanos(s.now()), id)
	if err != nil {
		return fmt.Errorf("failed to update organization logo: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
