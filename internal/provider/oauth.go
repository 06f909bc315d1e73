package provider

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"basegraph.app/integrations/internal/model"
)

// defaultTokenTTL applies when a provider issues a token without an expiry.
const defaultTokenTTL = 2 * time.Hour

// oauthFlow is the authorization-code and refresh-token plumbing shared by the
// OAuth-style providers.
type oauthFlow struct {
	httpClient  *http.Client
	now         func() time.Time
	endpoint    oauth2.Endpoint
	redirectURL string
	scopes      []string
}

func (f *oauthFlow) config(app *model.App) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     app.ClientID,
		ClientSecret: app.ClientSecret,
		Endpoint:     f.endpoint,
		RedirectURL:  f.redirectURL,
		Scopes:       f.scopes,
	}
}

func (f *oauthFlow) context(ctx context.Context) context.Context {
	if f.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
}

func (f *oauthFlow) authCodeURL(app *model.App, state string) string {
	return f.config(app).AuthCodeURL(state)
}

func (f *oauthFlow) exchange(ctx context.Context, app *model.App, code string) (*Token, error) {
	if code == "" {
		return nil, &MissingParameterError{Name: "code"}
	}
	tok, err := f.config(app).Exchange(f.context(ctx), code)
	if err != nil {
		return nil, upstreamError(err, f.endpoint.TokenURL)
	}
	return f.toToken(tok), nil
}

// refresh trades the integration's refresh token for a new token pair.
func (f *oauthFlow) refresh(ctx context.Context, app *model.App, integration *model.Integration) (*Token, error) {
	if integration.RefreshToken == nil || *integration.RefreshToken == "" {
		return nil, &MissingParameterError{Name: "refresh_token"}
	}
	src := f.config(app).TokenSource(f.context(ctx), &oauth2.Token{RefreshToken: *integration.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, upstreamError(err, f.endpoint.TokenURL)
	}
	return f.toToken(tok), nil
}

func (f *oauthFlow) toToken(tok *oauth2.Token) *Token {
	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = f.now().Add(defaultTokenTTL)
	}
	out := &Token{AccessToken: tok.AccessToken, ExpiresAt: expiresAt}
	if tok.RefreshToken != "" {
		rt := tok.RefreshToken
		out.RefreshToken = &rt
	}
	return out
}

// upstreamError converts a token endpoint failure into UpstreamAuthError.
func upstreamError(err error, url string) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
			if re.Response.Request != nil {
				url = re.Response.Request.URL.String()
			}
		}
		return &UpstreamAuthError{Status: status, Body: string(re.Body), URL: url}
	}
	return err
}

func bearerHeader(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}
