package sqlite

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

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GetContact retrieves a contact by id.
func (s *Store) GetContact(ctx context.Context, id string) (*types.Contact, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: contact ID is required", storage.ErrInvalidInput)
	}
	return getContact(ctx, s.db, id)
}

func getContact(ctx context.Context, q querier, id string) (*types.Contact, error) {
	row := q.QueryRowContext(ctx, `SELECT data, created_at FROM contacts WHERE id = ?`, id)
	c, err := scanContact(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get contact %s: %w", id, err)
	}
	return c, nil
}

// scanContact decodes a (data, created_at) row. The created_at column is
// authoritative since upserts never rewrite it.
func scanContact(row scanner) (*types.Contact, error) {
	var (
		data    string
		created int64
	)
	if err := row.Scan(&data, &created); err != nil {
		return nil, err
	}

	var c types.Contact
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("decode contact: %w", err)
	}
	c.CreatedAt = fromNanos(created)
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
		return fmt.Errorf("failed to encode contact: %w", err)
	}

	query := `
		INSERT INTO contacts (id, status, email, profile_url, last_enriched_at, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			email = excluded.email,
			profile_url = excluded.profile_url,
			last_enriched_at = excluded.last_enriched_at,
			data = excluded.data,
			updated_at = excluded.updated_at
	`
	_, err = q.ExecContext(ctx, query,
		c.ID,
		string(c.Status),
		nullableString(c.Email),
		nullableString(c.ProfileURL),
		nullableNanos(c.LastEnrichedAt),
		string(data),
		toNanos(c.CreatedAt),
		toNanos(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save contact: %w", err)
	}
	return nil
}

// PatchContact applies fn to the stored contact inside a transaction.
func (s *Store) PatchContact(ctx context.Context, id string, fn func(*types.Contact) error) (*types.Contact, error) {
	if id == "" || fn == nil {
		return nil, fmt.Errorf("%w: contact ID and patch function are required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	c, err := getContact(ctx, tx, id)
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
		return nil, fmt.Errorf("failed to commit contact patch: %w", err)
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
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.RequireProfileURL {
		where = append(where, "profile_url IS NOT NULL AND profile_url != ''")
	}
	if filter.RequireEmail {
		where = append(where, "email IS NOT NULL AND email != ''")
	}

	query := "SELECT data, created_at FROM contacts"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC, id ASC LIMIT ?"
	args = append(args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
