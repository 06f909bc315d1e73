package service_test

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"basegraph.app/integrations/internal/model"
	"basegraph.app/integrations/internal/provider"
	"basegraph.app/integrations/internal/worker"
)

type repoCall struct {
	Method         string
	Provider       model.ProviderKind
	RepoExternalID string
	Opts           model.UpdateOptions
	Repo           model.RepoInfo
	Branch         string
	Revision       string
	IntegrationID  int64
	ActingUser     model.User
}

type mockRepositoryManager struct {
	mu    sync.Mutex
	calls []repoCall
	errFn func(method string) error
}

func (m *mockRepositoryManager) record(call repoCall) error {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
	if m.errFn != nil {
		return m.errFn(call.Method)
	}
	return nil
}

func (m *mockRepositoryManager) Calls() []repoCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]repoCall(nil), m.calls...)
}

func (m *mockRepositoryManager) ImportRepository(_ context.Context, repo model.RepoInfo) error {
	return m.record(repoCall{Method: "import", Provider: repo.Provider, RepoExternalID: repo.ExternalID, Repo: repo})
}

func (m *mockRepositoryManager) UpdateRepository(_ context.Context, kind model.ProviderKind, repoExternalID string, opts model.UpdateOptions) error {
	return m.record(repoCall{Method: "update", Provider: kind, RepoExternalID: repoExternalID, Opts: opts})
}

func (m *mockRepositoryManager) RemoveRepository(_ context.Context, kind model.ProviderKind, repoExternalID string) error {
	return m.record(repoCall{Method: "remove", Provider: kind, RepoExternalID: repoExternalID})
}

func (m *mockRepositoryManager) RequestBuild(_ context.Context, kind model.ProviderKind, repoExternalID, branch, revision string) error {
	return m.record(repoCall{Method: "build", Provider: kind, RepoExternalID: repoExternalID, Branch: branch, Revision: revision})
}

func (m *mockRepositoryManager) DeleteInstallation(_ context.Context, integration *model.Integration, actingUser model.User) error {
	return m.record(repoCall{Method: "delete_installation", Provider: integration.Provider, IntegrationID: integration.ID, ActingUser: actingUser})
}

type mockCredentials struct {
	tokenFn func(ctx context.Context, integration *model.Integration) (string, error)
}

func (m *mockCredentials) GetInstallationToken(ctx context.Context, integration *model.Integration) (string, error) {
	if m.tokenFn != nil {
		return m.tokenFn(ctx, integration)
	}
	return "tok", nil
}

func (m *mockCredentials) AuthenticatedURL(ctx context.Context, integration *model.Integration, cloneURL string) (string, error) {
	token, err := m.GetInstallationToken(ctx, integration)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s#%s", cloneURL, token), nil
}

// inlineDispatcher runs tasks on the calling goroutine.
type inlineDispatcher struct {
	mu     sync.Mutex
	names  []string
	errs   []error
	refuse bool
}

func (d *inlineDispatcher) Dispatch(ctx context.Context, name string, task worker.Task) bool {
	if d.refuse {
		return false
	}
	err := task(ctx)
	d.mu.Lock()
	d.names = append(d.names, name)
	if err != nil {
		d.errs = append(d.errs, err)
	}
	d.mu.Unlock()
	return true
}

func (d *inlineDispatcher) Names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.names...)
}

func (d *inlineDispatcher) Errors() []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]error(nil), d.errs...)
}

type mockProvider struct {
	kind    model.ProviderKind
	repos   []model.RepoInfo
	getFn   func(ref model.RepoRef) (*model.RepoInfo, error)
	issueFn func(integration *model.Integration) (*provider.Token, error)
}

func (m *mockProvider) Kind() model.ProviderKind            { return m.kind }
func (m *mockProvider) EventKey(*provider.Request) string   { return "" }
func (m *mockProvider) DeliveryID(*provider.Request) string { return "" }
func (m *mockProvider) ValidateSignature(*model.App, *provider.Request) error {
	return nil
}

func (m *mockProvider) Normalize(key string, _ *provider.Request) (*model.CanonicalEvent, error) {
	return nil, &provider.UnsupportedEventError{EventKey: key}
}

func (m *mockProvider) UsesAppToken() bool { return false }

func (m *mockProvider) IssueToken(_ context.Context, _ *model.App, _ string, integration *model.Integration) (*provider.Token, error) {
	if m.issueFn != nil {
		return m.issueFn(integration)
	}
	return nil, fmt.Errorf("not used")
}

func (m *mockProvider) ListRepositories(context.Context, *model.Integration, string) ([]model.RepoInfo, error) {
	return m.repos, nil
}

func (m *mockProvider) GetRepository(_ context.Context, _ *model.Integration, _ string, ref model.RepoRef) (*model.RepoInfo, error) {
	if m.getFn != nil {
		return m.getFn(ref)
	}
	return &model.RepoInfo{ExternalID: ref.ExternalID, FullName: ref.FullName, CloneURL: "https://example.com/" + ref.FullName + ".git"}, nil
}

func (m *mockProvider) AuthHeader(string) http.Header { return http.Header{} }
func (m *mockProvider) CloneUser() string             { return "user" }

// mockConnectorProvider adds the OAuth connect flow.
type mockConnectorProvider struct {
	mockProvider
	exchangeFn func(code string) (*provider.Token, error)
	account    provider.ExternalAccount
}

func (m *mockConnectorProvider) AuthCodeURL(_ *model.App, state string) string {
	return "https://provider.example/authorize?state=" + state
}

func (m *mockConnectorProvider) Exchange(_ context.Context, _ *model.App, code string) (*provider.Token, error) {
	if code == "" {
		return nil, &provider.MissingParameterError{Name: "code"}
	}
	return m.exchangeFn(code)
}

func (m *mockConnectorProvider) CurrentAccount(context.Context, string) (*provider.ExternalAccount, error) {
	account := m.account
	return &account, nil
}
