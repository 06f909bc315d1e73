package credential

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"basegraph.app/integrations/internal/model"
	"basegraph.app/integrations/internal/provider"
)

// appTokenWindow is the app token lifetime. GitHub caps app JWTs at ten minutes.
const appTokenWindow = 590 * time.Second

// signAppToken mints an RS256 app JWT issued at now and valid for appTokenWindow plus adjust.
func signAppToken(app *model.App, now time.Time, adjust time.Duration) (string, time.Time, error) {
	if app.PrivateKey == "" {
		return "", time.Time{}, &provider.SigningError{Err: errors.New("app has no private key")}
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(app.PrivateKey))
	if err != nil {
		return "", time.Time{}, &provider.SigningError{Err: err}
	}

	expiresAt := now.Add(appTokenWindow + adjust)
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		Issuer:    app.ProviderAppID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", time.Time{}, &provider.SigningError{Err: err}
	}
	return signed, expiresAt, nil
}
