package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"basegraph.app/integrations/common/id"
	"basegraph.app/integrations/internal/model"
)

// Token is an access token issued by a provider.
type Token struct {
	ExpiresAt    time.Time
	RefreshToken *string
	AccessToken  string
}

// ExternalAccount is the provider-side account behind an OAuth token.
type ExternalAccount struct {
	ID   string
	Name string
}

// Provider is implemented by each supported provider family. The set is closed:
// GitHub (signing app), GitLab (header token) and Bitbucket (event-type header).
type Provider interface {
	Kind() model.ProviderKind

	// EventKey derives the handler table key for a delivery.
	EventKey(req *Request) string
	// DeliveryID returns the provider's unique delivery id, or "" when not sent.
	DeliveryID(req *Request) string
	// ValidateSignature must succeed before the body is trusted.
	ValidateSignature(app *model.App, req *Request) error
	// Normalize maps a validated delivery onto a CanonicalEvent. Keys absent from the
	// provider's handler table yield UnsupportedEventError.
	Normalize(eventKey string, req *Request) (*model.CanonicalEvent, error)

	// UsesAppToken reports whether IssueToken needs a signed app token as bearer credential.
	UsesAppToken() bool
	// IssueToken obtains a fresh installation or account token for integration.
	IssueToken(ctx context.Context, app *model.App, appToken string, integration *model.Integration) (*Token, error)

	ListRepositories(ctx context.Context, integration *model.Integration, token string) ([]model.RepoInfo, error)
	GetRepository(ctx context.Context, integration *model.Integration, token string, ref model.RepoRef) (*model.RepoInfo, error)

	// AuthHeader returns the headers for API calls made with token.
	AuthHeader(token string) http.Header
	// CloneUser is the user part of an authenticated clone URL.
	CloneUser() string
}

// Connector is implemented by providers whose integrations are created through an
// OAuth authorization-code flow.
type Connector interface {
	AuthCodeURL(app *model.App, state string) string
	Exchange(ctx context.Context, app *model.App, code string) (*Token, error)
	CurrentAccount(ctx context.Context, token string) (*ExternalAccount, error)
}

// normalizer handles one event key.
type normalizer func(eventKey string, req *Request) (*model.CanonicalEvent, error)

// eventTable maps event keys to normalizers.
type eventTable map[string]normalizer

func (t eventTable) normalize(eventKey string, req *Request) (*model.CanonicalEvent, error) {
	fn, ok := t[eventKey]
	if !ok {
		return nil, &UnsupportedEventError{EventKey: eventKey}
	}
	event, err := fn(eventKey, req)
	if err != nil {
		return nil, err
	}
	event.Key = eventKey
	return event, nil
}

// Registry holds the configured providers by kind.
type Registry struct {
	providers map[model.ProviderKind]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[model.ProviderKind]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Kind()] = p
	}
	return r
}

func (r *Registry) Get(kind model.ProviderKind) (Provider, error) {
	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf("provider %q is not configured", kind)
	}
	return p, nil
}

// Connector returns the OAuth connector for kind, if the provider has one.
func (r *Registry) Connector(kind model.ProviderKind) (Connector, bool) {
	p, ok := r.providers[kind]
	if !ok {
		return nil, false
	}
	c, ok := p.(Connector)
	return c, ok
}

// Kinds returns the configured provider kinds in a stable order.
func (r *Registry) Kinds() []model.ProviderKind {
	var kinds []model.ProviderKind
	for _, k := range model.ProviderKinds {
		if _, ok := r.providers[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func pullRequestEvent(source, target endpoint, revision string) *model.CanonicalEvent {
	branch := &model.BranchInfo{
		Name:     source.branch,
		Revision: revision,
		Overrides: map[string]model.BranchConfig{
			source.branch: {NotifyOnlyLatest: true, BuildersFallback: target.branch},
		},
	}
	if source.id != target.id {
		branch.External = &model.ExternalInfo{
			URL:    source.url,
			Name:   source.name,
			Branch: source.branch,
			Into:   target.branch,
		}
	}
	return &model.CanonicalEvent{
		Kind:           model.EventKindPullRequest,
		RepoExternalID: target.id,
		Branch:         branch,
	}
}

// hookInstallation reads the Integration id a hook was registered with from its
// installation_id query parameter. Hooks registered without one yield an empty ref.
func hookInstallation(req *Request) (model.InstallationRef, error) {
	raw := req.Query.Get("installation_id")
	if raw == "" {
		return model.InstallationRef{}, nil
	}
	integrationID, err := id.Parse(raw)
	if err != nil {
		return model.InstallationRef{}, &InvalidParameterError{Name: "installation_id", Value: raw}
	}
	return model.InstallationRef{IntegrationID: integrationID}, nil
}

// endpoint is one side of a pull request.
type endpoint struct {
	id     string
	name   string
	branch string
	url    string
}
