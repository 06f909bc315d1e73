package credential

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"basegraph.app/integrations/common/logger"
	"basegraph.app/integrations/internal/model"
	"basegraph.app/integrations/internal/provider"
	"basegraph.app/integrations/internal/store"
)

// Manager hands out app and installation tokens, refreshing them lazily at the call site.
//
// Refreshes are not serialized. Callers that observe the same expired token each issue
// a new one and the last write to the record wins.
type Manager struct {
	apps         store.AppStore
	integrations store.IntegrationStore
	providers    *provider.Registry
	now          func() time.Time
	adjust       time.Duration
}

// NewManager creates a Manager. adjust is added to the app token lifetime.
func NewManager(apps store.AppStore, integrations store.IntegrationStore, providers *provider.Registry, adjust time.Duration) *Manager {
	return &Manager{
		apps:         apps,
		integrations: integrations,
		providers:    providers,
		adjust:       adjust,
		now:          time.Now,
	}
}

// WithClock replaces the time source.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// GetAppToken returns the cached app token for kind, minting and persisting a new one
// when it is absent or expired.
func (m *Manager) GetAppToken(ctx context.Context, kind model.ProviderKind) (string, error) {
	app, err := m.apps.Get(ctx, kind)
	if err != nil {
		return "", fmt.Errorf("loading %s app: %w", kind, err)
	}

	now := m.now()
	if app.HasValidSignedToken(now) {
		return app.SignedToken, nil
	}

	token, expiresAt, err := signAppToken(app, now, m.adjust)
	if err != nil {
		return "", err
	}
	app.SignedToken = token
	app.SignedTokenExpiresAt = &expiresAt
	if err := m.apps.Save(ctx, app); err != nil {
		return "", fmt.Errorf("saving %s app token: %w", kind, err)
	}

	slog.DebugContext(ctx, "minted app token",
		"provider", kind,
		"expires_at", expiresAt)
	return token, nil
}

// GetInstallationToken returns the integration's token while it is valid. Otherwise it
// issues a new one through the provider, persists it on the integration and returns it.
func (m *Manager) GetInstallationToken(ctx context.Context, integration *model.Integration) (string, error) {
	if integration.HasValidToken(m.now()) {
		return integration.AccessToken, nil
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Provider:      logger.Ptr(string(integration.Provider)),
		IntegrationID: logger.Ptr(integration.ID),
	})

	p, err := m.providers.Get(integration.Provider)
	if err != nil {
		return "", err
	}
	app, err := m.apps.Get(ctx, integration.Provider)
	if err != nil {
		return "", fmt.Errorf("loading %s app: %w", integration.Provider, err)
	}

	var appToken string
	if p.UsesAppToken() {
		appToken, err = m.GetAppToken(ctx, integration.Provider)
		if err != nil {
			return "", err
		}
	}

	tok, err := p.IssueToken(ctx, app, appToken, integration)
	if err != nil {
		slog.WarnContext(ctx, "installation token issuance failed", "error", err)
		return "", err
	}

	integration.SetToken(tok.AccessToken, tok.RefreshToken, tok.ExpiresAt)
	if err := m.integrations.Save(ctx, integration); err != nil {
		return "", fmt.Errorf("saving integration token: %w", err)
	}

	slog.InfoContext(ctx, "installation token issued", "expires_at", tok.ExpiresAt)
	return tok.AccessToken, nil
}

// BuildAuthHeader returns the headers for API calls on behalf of integration.
func (m *Manager) BuildAuthHeader(ctx context.Context, integration *model.Integration) (http.Header, error) {
	p, err := m.providers.Get(integration.Provider)
	if err != nil {
		return nil, err
	}
	token, err := m.GetInstallationToken(ctx, integration)
	if err != nil {
		return nil, err
	}
	return p.AuthHeader(token), nil
}

// AuthenticatedURL embeds the integration's token in an https clone URL.
func (m *Manager) AuthenticatedURL(ctx context.Context, integration *model.Integration, cloneURL string) (string, error) {
	p, err := m.providers.Get(integration.Provider)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(cloneURL)
	if err != nil {
		return "", fmt.Errorf("parsing clone url: %w", err)
	}
	if u.Scheme != "https" {
		return "", fmt.Errorf("clone url must use https, got %q", u.Scheme)
	}

	token, err := m.GetInstallationToken(ctx, integration)
	if err != nil {
		return "", err
	}
	u.User = url.UserPassword(p.CloneUser(), token)
	return u.String(), nil
}
