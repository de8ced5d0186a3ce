package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/scrypster/introducer/internal/storage"
	"github.com/scrypster/introducer/pkg/types"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// GetContact retrieves a contact by id.
func (s *Store) GetContact(ctx context.Context, id string) (*types.Contact, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: contact ID is required", storage.ErrInvalidInput)
	}
	return getContact(ctx, s.db, id, false)
}

func getContact(ctx context.Context, q querier, id string, forUpdate bool) (*types.Contact, error) {
	query := `SELECT data, created_at FROM contacts WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}
	c, err := scanContact(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get contact %s: %w", id, err)
	}
	return c, nil
}

func scanContact(row scanner) (*types.Contact, error) {
	var (
		c    types.Contact
		data []byte
	)
	var created sql.NullTime
	if err := row.Scan(&data, &created); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode contact: %w", err)
	}
	if created.Valid {
		c.CreatedAt = created.Time.UTC()
	}
	return &c, nil
}

// SaveContact creates or replaces a contact (upsert semantics).
func (s *Store) SaveContact(ctx context.Context, c *types.Contact) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("%w: contact ID is required", storage.ErrInvalidInput)
	}
	return s.saveContact(ctx, s.db, c)
}

func (s *Store) saveContact(ctx context.Context, q querier, c *types.Contact) error {
	if c.Status == "" {
		c.Status = types.StatusNew
	}
	if !c.Status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", storage.ErrInvalidInput, c.Status)
	}

	now := s.now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("postgres: failed to encode contact: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO contacts (id, status, email, profile_url, last_enriched_at, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			email = EXCLUDED.email,
			profile_url = EXCLUDED.profile_url,
			last_enriched_at = EXCLUDED.last_enriched_at,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at`,
		c.ID, string(c.Status), nullableString(c.Email), nullableString(c.ProfileURL),
		nullableTime(c.LastEnrichedAt), string(data), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to save contact: %w", err)
	}
	return nil
}

// PatchContact applies fn to the stored contact under a row lock.
func (s *Store) PatchContact(ctx context.Context, id string, fn func(*types.Contact) error) (*types.Contact, error) {
	if id == "" || fn == nil {
		return nil, fmt.Errorf("%w: contact ID and patch function are required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	c, err := getContact(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if err := fn(c); err != nil {
		return nil, err
	}
	c.ID = id
	if err := s.saveContact(ctx, tx, c); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("postgres: failed to commit contact patch: %w", err)
	}
	return c, nil
}

// ListContacts returns contacts matching filter, most recently updated first.
func (s *Store) ListContacts(ctx context.Context, filter storage.ContactFilter) ([]*types.Contact, error) {
	filter.Normalize()

	var (
		where []string
		args  []any
	)
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			args = append(args, string(st))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.RequireProfileURL {
		where = append(where, "COALESCE(profile_url, '') <> ''")
	}
	if filter.RequireEmail {
		where = append(where, "COALESCE(email, '') <> ''")
	}

	query := "SELECT data, created_at FROM contacts"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY updated_at DESC, id ASC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list contacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan contact: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
