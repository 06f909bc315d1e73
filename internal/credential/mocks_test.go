package credential_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"basegraph.app/integrations/internal/model"
	"basegraph.app/integrations/internal/provider"
)

// fakeProvider counts token issuance calls.
type fakeProvider struct {
	kind         model.ProviderKind
	usesAppToken bool
	issued       atomic.Int32
	mu           sync.Mutex
	lastAppToken string
	issueFn      func(ctx context.Context, integration *model.Integration) (*provider.Token, error)
}

func (f *fakeProvider) Kind() model.ProviderKind            { return f.kind }
func (f *fakeProvider) EventKey(*provider.Request) string   { return "" }
func (f *fakeProvider) DeliveryID(*provider.Request) string { return "" }
func (f *fakeProvider) ValidateSignature(*model.App, *provider.Request) error {
	return nil
}

func (f *fakeProvider) Normalize(key string, _ *provider.Request) (*model.CanonicalEvent, error) {
	return nil, &provider.UnsupportedEventError{EventKey: key}
}

func (f *fakeProvider) UsesAppToken() bool { return f.usesAppToken }

func (f *fakeProvider) IssueToken(ctx context.Context, _ *model.App, appToken string, integration *model.Integration) (*provider.Token, error) {
	f.issued.Add(1)
	f.mu.Lock()
	f.lastAppToken = appToken
	f.mu.Unlock()
	if f.issueFn != nil {
		return f.issueFn(ctx, integration)
	}
	return &provider.Token{AccessToken: "fresh", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakeProvider) ListRepositories(context.Context, *model.Integration, string) ([]model.RepoInfo, error) {
	return nil, nil
}

func (f *fakeProvider) GetRepository(context.Context, *model.Integration, string, model.RepoRef) (*model.RepoInfo, error) {
	return nil, nil
}

func (f *fakeProvider) AuthHeader(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

func (f *fakeProvider) CloneUser() string { return "x-access-token" }

func newPrivateKey() (*rsa.PrivateKey, string) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	return key, string(pem.EncodeToMemory(block))
}

func (f *fakeProvider) appToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAppToken
}
