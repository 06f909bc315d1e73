package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"basegraph.app/integrations/internal/model"
	"basegraph.app/integrations/internal/store"
)

type AppService interface {
	// EnsureApp creates the provider's App or refreshes its identity and secrets,
	// keeping any cached signed token. It reports whether a record was created.
	EnsureApp(ctx context.Context, app *model.App) (*model.App, bool, error)
}

type appService struct {
	apps store.AppStore
}

func NewAppService(apps store.AppStore) AppService {
	return &appService{apps: apps}
}

func (s *appService) EnsureApp(ctx context.Context, app *model.App) (*model.App, bool, error) {
	if !app.Provider.Valid() {
		return nil, false, fmt.Errorf("unknown provider %q", app.Provider)
	}

	existing, err := s.apps.Get(ctx, app.Provider)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("loading %s app: %w", app.Provider, err)
	}

	if existing == nil {
		if err := s.apps.Save(ctx, app); err != nil {
			return nil, false, fmt.Errorf("creating %s app: %w", app.Provider, err)
		}
		slog.InfoContext(ctx, "app created",
			"provider", app.Provider,
			"provider_app_id", app.ProviderAppID)
		return app, true, nil
	}

	keyChanged := existing.PrivateKey != app.PrivateKey || existing.ProviderAppID != app.ProviderAppID
	existing.ProviderAppID = app.ProviderAppID
	existing.ClientID = app.ClientID
	existing.ClientSecret = app.ClientSecret
	existing.WebhookSecret = app.WebhookSecret
	existing.PrivateKey = app.PrivateKey
	if keyChanged {
		existing.SignedToken = ""
		existing.SignedTokenExpiresAt = nil
	}

	if err := s.apps.Save(ctx, existing); err != nil {
		return nil, false, fmt.Errorf("updating %s app: %w", app.Provider, err)
	}
	slog.InfoContext(ctx, "app updated",
		"provider", existing.Provider,
		"provider_app_id", existing.ProviderAppID,
		"signing_key_rotated", keyChanged)
	return existing, false, nil
}
