// ABOUTME: Provider configuration storage with sealed API credentials
// ABOUTME: Seals keys with nacl/secretbox so they are never plaintext at rest

package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/nacl/secretbox"
)

// ErrSealedCredential is returned when a stored credential cannot be opened,
// usually because the sealing key changed.
var ErrSealedCredential = errors.New("cannot open sealed credential")

func newID() string {
	return uuid.New().String()
}

// Sealer encrypts and decrypts provider credentials with a 32-byte key.
type Sealer struct {
	key [32]byte
}

// NewSealer creates a Sealer from a 32-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("sealing key must be 32 bytes, got %d", len(key))
	}
	var s Sealer
	copy(s.key[:], key)
	return &s, nil
}

// Seal encrypts plaintext and returns a base64 string with the nonce prepended.
func (s *Sealer) Seal(plaintext string) (string, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &s.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal.
func (s *Sealer) Open(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSealedCredential, err)
	}
	if len(raw) < 24 {
		return "", ErrSealedCredential
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	opened, ok := secretbox.Open(nil, raw[24:], &nonce, &s.key)
	if !ok {
		return "", ErrSealedCredential
	}
	return string(opened), nil
}

func (s *SQLiteStore) sealKey(plaintext string) (string, error) {
	if s.sealer == nil {
		return plaintext, nil
	}
	return s.sealer.Seal(plaintext)
}

func (s *SQLiteStore) openKey(stored string) (string, error) {
	if s.sealer == nil {
		return stored, nil
	}
	return s.sealer.Open(stored)
}

// SaveProvider inserts or updates a provider configuration row.
// A zero ID gets a generated one. The API key is sealed before writing.
func (s *SQLiteStore) SaveProvider(ctx context.Context, p *Provider) error {
	if p.ID == "" {
		p.ID = newID()
	}
	if p.Category == "" {
		p.Category = CategoryText
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	sealed, err := s.sealKey(p.APIKey)
	if err != nil {
		return fmt.Errorf("sealing api key: %w", err)
	}

	query := `
		INSERT INTO ai_providers (id, user_id, name, category, base_url, model, api_key,
			temperature, max_tokens, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			base_url = excluded.base_url,
			model = excluded.model,
			api_key = excluded.api_key,
			temperature = excluded.temperature,
			max_tokens = excluded.max_tokens,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		p.ID,
		p.UserID,
		p.Name,
		p.Category,
		p.BaseURL,
		p.Model,
		sealed,
		p.Temperature,
		p.MaxTokens,
		boolToInt(p.Active),
		p.CreatedAt.Format(time.RFC3339),
		p.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving provider: %w", err)
	}

	s.logger.Debug("saved provider", "id", p.ID, "user_id", p.UserID, "model", p.Model)
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// GetProvider retrieves a provider by ID with its credential opened.
// Returns ErrNotFound if the provider doesn't exist.
func (s *SQLiteStore) GetProvider(ctx context.Context, id string) (*Provider, error) {
	query := providerSelect + ` WHERE id = ?`
	return s.scanProvider(s.db.QueryRowContext(ctx, query, id))
}

// GetActiveProvider returns the active provider for a user and category.
// Returns ErrNotFound when the user has no active provider configured.
func (s *SQLiteStore) GetActiveProvider(ctx context.Context, userID, category string) (*Provider, error) {
	query := providerSelect + ` WHERE user_id = ? AND category = ? AND is_active = 1 LIMIT 1`
	return s.scanProvider(s.db.QueryRowContext(ctx, query, userID, category))
}

const providerSelect = `
	SELECT id, user_id, name, category, base_url, model, api_key,
		temperature, max_tokens, is_active, created_at, updated_at
	FROM ai_providers
`

func (s *SQLiteStore) scanProvider(row *sql.Row) (*Provider, error) {
	var p Provider
	var sealed string
	var active int
	var createdAtStr, updatedAtStr string

	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.Name,
		&p.Category,
		&p.BaseURL,
		&p.Model,
		&sealed,
		&p.Temperature,
		&p.MaxTokens,
		&active,
		&createdAtStr,
		&updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning provider: %w", err)
	}

	p.APIKey, err = s.openKey(sealed)
	if err != nil {
		return nil, err
	}
	p.Active = active == 1
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAtStr)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAtStr)

	return &p, nil
}

// ListProviders returns all provider rows for a user, most recent first.
// Credentials are opened before returning.
func (s *SQLiteStore) ListProviders(ctx context.Context, userID string) ([]*Provider, error) {
	query := providerSelect + ` WHERE user_id = ? ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying providers: %w", err)
	}
	defer rows.Close()

	var providers []*Provider
	for rows.Next() {
		var p Provider
		var sealed string
		var active int
		var createdAtStr, updatedAtStr string

		if err := rows.Scan(
			&p.ID,
			&p.UserID,
			&p.Name,
			&p.Category,
			&p.BaseURL,
			&p.Model,
			&sealed,
			&p.Temperature,
			&p.MaxTokens,
			&active,
			&createdAtStr,
			&updatedAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning provider row: %w", err)
		}

		p.APIKey, err = s.openKey(sealed)
		if err != nil {
			return nil, err
		}
		p.Active = active == 1
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAtStr)
		p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAtStr)

		providers = append(providers, &p)
	}

	return providers, rows.Err()
}

// SetActiveProvider marks one of a user's providers active and deactivates
// the others in the same category.
func (s *SQLiteStore) SetActiveProvider(ctx context.Context, userID, id string) error {
	target, err := s.GetProvider(ctx, id)
	if err != nil {
		return err
	}
	if target.UserID != userID {
		return ErrNotFound
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE ai_providers SET is_active = 0 WHERE user_id = ? AND category = ?`,
		userID, target.Category,
	); err != nil {
		return fmt.Errorf("deactivating providers: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE ai_providers SET is_active = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), id,
	); err != nil {
		return fmt.Errorf("activating provider: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("activated provider", "id", id, "user_id", userID)
	return nil
}

// DeleteProvider removes a provider row.
// Returns ErrNotFound if the provider doesn't exist.
func (s *SQLiteStore) DeleteProvider(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM ai_providers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting provider: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
