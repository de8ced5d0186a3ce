package postgres

import (
	"context"
	"database/sql"
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

	org := types.Organization{Name: name, Type: orgType}
	var logo, url sql.NullString
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO organizations (id, name, type, profile_url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name, type) DO UPDATE SET
			profile_url = COALESCE(organizations.profile_url, EXCLUDED.profile_url),
			updated_at = NOW()
		RETURNING id, logo_url, profile_url`,
		uuid.NewString(), name, string(orgType), nullableString(profileURL)).Scan(&org.ID, &logo, &url)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to upsert organization: %w", err)
	}
	org.LogoURL = logo.String
	org.ProfileURL = url.String
	return &org, nil
}

// UpdateOrganizationLogo sets the organization's logo URL.
func (s *Store) UpdateOrganizationLogo(ctx context.Context, id, logoURL string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE organizations SET logo_url = $1, updated_at = NOW() WHERE id = $2`,
		nullableString(logoURL), id)
	if err != nil {
		return fmt.Errorf("postgres: failed to update organization logo: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: failed to check rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
