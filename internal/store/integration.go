package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"basegraph.app/integrations/common/id"
	"basegraph.app/integrations/internal/model"
)

type integrationDocument struct {
	TokenExpiresAt   *time.Time `json:"token_expires_at,omitempty"`
	RefreshToken     *string    `json:"refresh_token,omitempty"`
	AccessToken      string     `json:"access_token,omitempty"`
	ExternalUserName string     `json:"external_user_name,omitempty"`
}

type integrationStore struct {
	db DBTX
}

func newIntegrationStore(db DBTX) IntegrationStore {
	return &integrationStore{db: db}
}

const integrationColumns = `id, provider, external_id, owner_user_id, document, created_at, updated_at`

const getIntegrationSQL = `SELECT ` + integrationColumns + ` FROM integrations WHERE id = $1`

const getIntegrationByExternalIDSQL = `SELECT ` + integrationColumns + `
FROM integrations
WHERE provider = $1 AND external_id = $2`

const listIntegrationsByOwnerSQL = `SELECT ` + integrationColumns + `
FROM integrations
WHERE owner_user_id = $1
ORDER BY id`

const saveIntegrationSQL = `
INSERT INTO integrations (id, provider, external_id, owner_user_id, document, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, now(), now())
ON CONFLICT (id) DO UPDATE
SET external_id = EXCLUDED.external_id,
    owner_user_id = EXCLUDED.owner_user_id,
    document = EXCLUDED.document,
    updated_at = now()
RETURNING created_at, updated_at`

const deleteIntegrationSQL = `DELETE FROM integrations WHERE id = $1`

func (s *integrationStore) GetByID(ctx context.Context, id int64) (*model.Integration, error) {
	return scanIntegration(s.db.QueryRow(ctx, getIntegrationSQL, id))
}

func (s *integrationStore) GetByExternalID(ctx context.Context, provider model.ProviderKind, externalID string) (*model.Integration, error) {
	return scanIntegration(s.db.QueryRow(ctx, getIntegrationByExternalIDSQL, string(provider), externalID))
}

func (s *integrationStore) Save(ctx context.Context, integration *model.Integration) error {
	if integration.ID == 0 {
		integration.ID = id.New()
	}
	raw, err := json.Marshal(integrationDocument{
		TokenExpiresAt:   integration.TokenExpiresAt,
		RefreshToken:     integration.RefreshToken,
		AccessToken:      integration.AccessToken,
		ExternalUserName: integration.ExternalUserName,
	})
	if err != nil {
		return fmt.Errorf("encoding integration document: %w", err)
	}
	return s.db.QueryRow(ctx, saveIntegrationSQL,
		integration.ID,
		string(integration.Provider),
		integration.ExternalID,
		integration.OwnerUserID,
		raw,
	).Scan(&integration.CreatedAt, &integration.UpdatedAt)
}

func (s *integrationStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, deleteIntegrationSQL, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *integrationStore) ListByOwner(ctx context.Context, ownerUserID int64) ([]model.Integration, error) {
	rows, err := s.db.Query(ctx, listIntegrationsByOwnerSQL, ownerUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Integration
	for rows.Next() {
		integration, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *integration)
	}
	return result, rows.Err()
}

func scanIntegration(row pgx.Row) (*model.Integration, error) {
	var (
		integration model.Integration
		provider    string
		raw         []byte
	)
	err := row.Scan(
		&integration.ID,
		&provider,
		&integration.ExternalID,
		&integration.OwnerUserID,
		&raw,
		&integration.CreatedAt,
		&integration.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var doc integrationDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding integration document: %w", err)
	}
	integration.Provider = model.ProviderKind(provider)
	integration.TokenExpiresAt = doc.TokenExpiresAt
	integration.RefreshToken = doc.RefreshToken
	integration.AccessToken = doc.AccessToken
	integration.ExternalUserName = doc.ExternalUserName
	return &integration, nil
}
