package model

import "time"

// App is the platform's registered identity with a provider. There is at most one per ProviderKind.
type App struct {
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
	SignedTokenExpiresAt *time.Time   `json:"-"`
	Provider             ProviderKind `json:"provider"`
	ProviderAppID        string       `json:"provider_app_id"`
	ClientID             string       `json:"client_id,omitempty"`
	WebhookSecret        string       `json:"-"`
	PrivateKey           string       `json:"-"` // PEM, signing providers only
	ClientSecret         string       `json:"-"`
	SignedToken          string       `json:"-"`
}

// HasValidSignedToken reports whether the cached app token can still be used at now.
func (a *App) HasValidSignedToken(now time.Time) bool {
	return a.SignedToken != "" && a.SignedTokenExpiresAt != nil && now.Before(*a.SignedTokenExpiresAt)
}
