package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"basegraph.app/integrations/internal/model"
)

// appDocument is the JSONB shape of an App. Secrets are stored here and never
// serialized through model.App, whose secret fields are hidden from JSON.
type appDocument struct {
	SignedTokenExpiresAt *time.Time `json:"signed_token_expires_at,omitempty"`
	ProviderAppID        string     `json:"provider_app_id"`
	ClientID             string     `json:"client_id,omitempty"`
	WebhookSecret        string     `json:"webhook_secret,omitempty"`
	PrivateKey           string     `json:"private_key,omitempty"`
	ClientSecret         string     `json:"client_secret,omitempty"`
	SignedToken          string     `json:"signed_token,omitempty"`
}

type appStore struct {
	db DBTX
}

func newAppStore(db DBTX) AppStore {
	return &appStore{db: db}
}

const getAppSQL = `
SELECT provider, document, created_at, updated_at
FROM integration_apps
WHERE provider = $1`

const saveAppSQL = `
INSERT INTO integration_apps (provider, document, created_at, updated_at)
VALUES ($1, $2, now(), now())
ON CONFLICT (provider) DO UPDATE
SET document = EXCLUDED.document, updated_at = now()
RETURNING created_at, updated_at`

func (s *appStore) Get(ctx context.Context, provider model.ProviderKind) (*model.App, error) {
	var (
		kind string
		raw  []byte
		app  model.App
	)
	err := s.db.QueryRow(ctx, getAppSQL, string(provider)).Scan(&kind, &raw, &app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var doc appDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding app document: %w", err)
	}
	app.Provider = model.ProviderKind(kind)
	applyAppDocument(&app, doc)
	return &app, nil
}

func (s *appStore) Save(ctx context.Context, app *model.App) error {
	raw, err := json.Marshal(toAppDocument(app))
	if err != nil {
		return fmt.Errorf("encoding app document: %w", err)
	}
	return s.db.QueryRow(ctx, saveAppSQL, string(app.Provider), raw).Scan(&app.CreatedAt, &app.UpdatedAt)
}

func toAppDocument(app *model.App) appDocument {
	return appDocument{
		SignedTokenExpiresAt: app.SignedTokenExpiresAt,
		ProviderAppID:        app.ProviderAppID,
		ClientID:             app.ClientID,
		WebhookSecret:        app.WebhookSecret,
		PrivateKey:           app.PrivateKey,
		ClientSecret:         app.ClientSecret,
		SignedToken:          app.SignedToken,
	}
}

func applyAppDocument(app *model.App, doc appDocument) {
	app.SignedTokenExpiresAt = doc.SignedTokenExpiresAt
	app.ProviderAppID = doc.ProviderAppID
	app.ClientID = doc.ClientID
	app.WebhookSecret = doc.WebhookSecret
	app.PrivateKey = doc.PrivateKey
	app.ClientSecret = doc.ClientSecret
	app.SignedToken = doc.SignedToken
}
