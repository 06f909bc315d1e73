package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/bitbucket"

	"basegraph.app/integrations/internal/model"
)

const (
	bitbucketEventHeader     = "X-Event-Key"
	bitbucketSignatureHeader = "X-Hub-Signature"
	bitbucketDeliveryHeader  = "X-Request-UUID"
	defaultBitbucketAPIURL   = "https://api.bitbucket.org/2.0"
)

// Bitbucket keys deliveries by the X-Event-Key header and signs them with
// "sha256=<hex>" HMACs, the same format GitHub uses.
type Bitbucket struct {
	oauth      *oauthFlow
	httpClient *http.Client
	apiURL     string
	table      eventTable
}

func NewBitbucket(apiURL string, httpClient *http.Client) *Bitbucket {
	if apiURL == "" {
		apiURL = defaultBitbucketAPIURL
	}
	p := &Bitbucket{
		httpClient: httpClient,
		apiURL:     strings.TrimSuffix(apiURL, "/"),
		oauth: &oauthFlow{
			httpClient: httpClient,
			now:        time.Now,
			endpoint:   bitbucket.Endpoint,
		},
	}
	p.table = eventTable{
		"repo:push":           p.normalizePush,
		"pullrequest:created": p.normalizePullRequest,
		"pullrequest:updated": p.normalizePullRequest,
	}
	return p
}

// WithEndpoint points the OAuth flow at a different authorization server.
func (p *Bitbucket) WithEndpoint(endpoint oauth2.Endpoint) *Bitbucket {
	p.oauth.endpoint = endpoint
	return p
}

func (p *Bitbucket) Kind() model.ProviderKind {
	return model.ProviderBitbucket
}

func (p *Bitbucket) EventKey(req *Request) string {
	return req.Header.Get(bitbucketEventHeader)
}

func (p *Bitbucket) DeliveryID(req *Request) string {
	return req.Header.Get(bitbucketDeliveryHeader)
}

func (p *Bitbucket) ValidateSignature(app *model.App, req *Request) error {
	signature := req.Header.Get(bitbucketSignatureHeader)
	if signature == "" || app == nil || app.WebhookSecret == "" {
		return ErrBadSignature
	}
	if err := github.ValidateSignature(signature, req.RawBody, []byte(app.WebhookSecret)); err != nil {
		return ErrBadSignature
	}
	return nil
}

func (p *Bitbucket) Normalize(eventKey string, req *Request) (*model.CanonicalEvent, error) {
	return p.table.normalize(eventKey, req)
}

func (p *Bitbucket) normalizePush(_ string, req *Request) (*model.CanonicalEvent, error) {
	repoID, err := req.Required("repository", "uuid")
	if err != nil {
		return nil, err
	}
	installation, err := hookInstallation(req)
	if err != nil {
		return nil, err
	}
	event := &model.CanonicalEvent{Kind: model.EventKindPush, RepoExternalID: repoID, Installation: installation}

	if changes, ok := req.Lookup("push", "changes"); ok {
		if list, ok := changes.([]any); ok && len(list) > 0 {
			change := &Request{Body: asObject(list[0])}
			event.Branch = &model.BranchInfo{
				Name:     change.String("new", "name"),
				Revision: change.String("new", "target", "hash"),
			}
		}
	}
	return event, nil
}

func (p *Bitbucket) normalizePullRequest(_ string, req *Request) (*model.CanonicalEvent, error) {
	targetID, err := req.Required("pullrequest", "destination", "repository", "uuid")
	if err != nil {
		return nil, err
	}
	installation, err := hookInstallation(req)
	if err != nil {
		return nil, err
	}
	source := bitbucketEndpoint(req, "source")
	target := bitbucketEndpoint(req, "destination")
	target.id = targetID
	event := pullRequestEvent(source, target, req.String("pullrequest", "source", "commit", "hash"))
	event.Installation = installation
	return event, nil
}

func bitbucketEndpoint(req *Request, side string) endpoint {
	e := endpoint{
		id:     req.String("pullrequest", side, "repository", "uuid"),
		name:   req.String("pullrequest", side, "repository", "full_name"),
		branch: req.String("pullrequest", side, "branch", "name"),
	}
	if href := req.String("pullrequest", side, "repository", "links", "html", "href"); href != "" {
		e.url = href + ".git"
	}
	return e
}

func (p *Bitbucket) UsesAppToken() bool {
	return false
}

func (p *Bitbucket) IssueToken(ctx context.Context, app *model.App, _ string, integration *model.Integration) (*Token, error) {
	return p.oauth.refresh(ctx, app, integration)
}

func (p *Bitbucket) AuthCodeURL(app *model.App, state string) string {
	return p.oauth.authCodeURL(app, state)
}

func (p *Bitbucket) Exchange(ctx context.Context, app *model.App, code string) (*Token, error) {
	return p.oauth.exchange(ctx, app, code)
}

type bitbucketUser struct {
	UUID     string `json:"uuid"`
	Username string `json:"username"`
}

type bitbucketRepository struct {
	MainBranch *struct {
		Name string `json:"name"`
	} `json:"mainbranch"`
	UUID     string `json:"uuid"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Links    struct {
		Clone []struct {
			Name string `json:"name"`
			Href string `json:"href"`
		} `json:"clone"`
	} `json:"links"`
	IsPrivate bool `json:"is_private"`
}

type bitbucketPage struct {
	Next   string                `json:"next"`
	Values []bitbucketRepository `json:"values"`
}

func (p *Bitbucket) CurrentAccount(ctx context.Context, token string) (*ExternalAccount, error) {
	var user bitbucketUser
	if err := p.get(ctx, token, p.apiURL+"/user", &user); err != nil {
		return nil, err
	}
	return &ExternalAccount{ID: user.UUID, Name: user.Username}, nil
}

func (p *Bitbucket) ListRepositories(ctx context.Context, integration *model.Integration, token string) ([]model.RepoInfo, error) {
	next := p.apiURL + "/repositories?role=admin&pagelen=100"

	var repos []model.RepoInfo
	for next != "" {
		var page bitbucketPage
		if err := p.get(ctx, token, next, &page); err != nil {
			return nil, err
		}
		for _, r := range page.Values {
			repos = append(repos, bitbucketRepoInfo(r, integration))
		}
		next = page.Next
	}
	return repos, nil
}

func (p *Bitbucket) GetRepository(ctx context.Context, integration *model.Integration, token string, ref model.RepoRef) (*model.RepoInfo, error) {
	if ref.FullName == "" {
		return nil, &MissingParameterError{Name: "repository.full_name"}
	}
	var r bitbucketRepository
	if err := p.get(ctx, token, p.apiURL+"/repositories/"+ref.FullName, &r); err != nil {
		return nil, err
	}
	info := bitbucketRepoInfo(r, integration)
	return &info, nil
}

func (p *Bitbucket) AuthHeader(token string) http.Header {
	return bearerHeader(token)
}

func (p *Bitbucket) CloneUser() string {
	return "x-token-auth"
}

// get fetches u with token through an oauth2 client and decodes the JSON response.
func (p *Bitbucket) get(ctx context.Context, token, u string, out any) error {
	client := oauth2.NewClient(p.oauth.context(ctx), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", redact(u), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &UpstreamAuthError{Status: resp.StatusCode, Body: string(body), URL: redact(u)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func bitbucketRepoInfo(r bitbucketRepository, integration *model.Integration) model.RepoInfo {
	info := model.RepoInfo{
		Provider:   model.ProviderBitbucket,
		ExternalID: r.UUID,
		Name:       r.Name,
		FullName:   r.FullName,
		Private:    r.IsPrivate,
	}
	if r.MainBranch != nil {
		info.DefaultBranch = r.MainBranch.Name
	}
	for _, link := range r.Links.Clone {
		if link.Name == "https" {
			info.CloneURL = link.Href
		}
	}
	if integration != nil {
		info.IntegrationID = integration.ID
	}
	return info
}

func asObject(v any) map[string]any {
	obj, _ := v.(map[string]any)
	return obj
}

// redact drops any userinfo from u before it is logged or returned.
func redact(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	return parsed.Redacted()
}
