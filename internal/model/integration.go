package model

import "time"

// Integration is one connected installation or account on a provider.
// AccessToken is either empty or paired with TokenExpiresAt.
type Integration struct {
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
	TokenExpiresAt   *time.Time   `json:"-"`
	RefreshToken     *string      `json:"-"`
	Provider         ProviderKind `json:"provider"`
	ExternalID       string       `json:"external_id"`
	ExternalUserName string       `json:"external_user_name,omitempty"`
	AccessToken      string       `json:"-"` // never expose tokens in API
	ID               int64        `json:"id"`
	OwnerUserID      int64        `json:"owner_user_id"`
}

// HasValidToken reports whether the stored access token may be used directly at now.
func (i *Integration) HasValidToken(now time.Time) bool {
	return i.AccessToken != "" && i.TokenExpiresAt != nil && now.Before(*i.TokenExpiresAt)
}

// SetToken replaces the token triple. A nil refresh token keeps the current one.
func (i *Integration) SetToken(access string, refresh *string, expiresAt time.Time) {
	i.AccessToken = access
	if refresh != nil {
		i.RefreshToken = refresh
	}
	i.TokenExpiresAt = &expiresAt
}
