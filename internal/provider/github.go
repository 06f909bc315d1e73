package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/go-github/v66/github"

	"basegraph.app/integrations/internal/model"
)

const defaultGitHubAPIURL = "https://api.github.com/"

// GitHub is the signing-app provider: deliveries carry an HMAC of the raw body, and API
// calls use installation tokens obtained with a signed app JWT.
type GitHub struct {
	httpClient *http.Client
	baseURL    *url.URL
	table      eventTable
}

func NewGitHub(apiURL string, httpClient *http.Client) (*GitHub, error) {
	if apiURL == "" {
		apiURL = defaultGitHubAPIURL
	}
	if !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}
	baseURL, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("parsing github api url: %w", err)
	}

	p := &GitHub{httpClient: httpClient, baseURL: baseURL}
	p.table = eventTable{
		"push":                              p.normalizePush,
		"pull_request-opened":               p.normalizePullRequest,
		"pull_request-synchronize":          p.normalizePullRequest,
		"pull_request-reopened":             p.normalizePullRequest,
		"check_run-rerequested":             p.normalizeCheckRun,
		"check_suite-rerequested":           p.normalizeCheckSuite,
		"installation_repositories-added":   p.normalizeReposAdded,
		"installation_repositories-removed": p.normalizeReposRemoved,
		"repository-created":                p.normalizeRepoCreated,
		"installation-deleted":              p.normalizeInstallDeleted,
		"installation-created":              p.normalizeInstallCreated,
		"ping":                              p.normalizePing,
	}
	return p, nil
}

func (p *GitHub) Kind() model.ProviderKind {
	return model.ProviderGitHub
}

// EventKey is the X-GitHub-Event header, suffixed with "-<action>" when the body has one.
func (p *GitHub) EventKey(req *Request) string {
	name := req.Header.Get(github.EventTypeHeader)
	if action := req.String("action"); action != "" {
		return name + "-" + action
	}
	return name
}

func (p *GitHub) DeliveryID(req *Request) string {
	return req.Header.Get(github.DeliveryIDHeader)
}

// ValidateSignature checks X-Hub-Signature-256, falling back to the legacy sha1 header.
func (p *GitHub) ValidateSignature(app *model.App, req *Request) error {
	signature := req.Header.Get(github.SHA256SignatureHeader)
	if signature == "" {
		signature = req.Header.Get(github.SHA1SignatureHeader)
	}
	if signature == "" || app == nil || app.WebhookSecret == "" {
		return ErrBadSignature
	}
	if err := github.ValidateSignature(signature, req.RawBody, []byte(app.WebhookSecret)); err != nil {
		return ErrBadSignature
	}
	return nil
}

func (p *GitHub) Normalize(eventKey string, req *Request) (*model.CanonicalEvent, error) {
	return p.table.normalize(eventKey, req)
}

func (p *GitHub) normalizePush(_ string, req *Request) (*model.CanonicalEvent, error) {
	var ev github.PushEvent
	if err := decodeBody(req, &ev); err != nil {
		return nil, err
	}
	repoID := ev.GetRepo().GetID()
	if repoID == 0 {
		return nil, &MissingParameterError{Name: "repository.id"}
	}
	return &model.CanonicalEvent{
		Kind:           model.EventKindPush,
		RepoExternalID: formatID(repoID),
		Branch: &model.BranchInfo{
			Name:     strings.TrimPrefix(ev.GetRef(), "refs/heads/"),
			Revision: ev.GetAfter(),
		},
		Installation: installationRef(ev.GetInstallation()),
	}, nil
}

func (p *GitHub) normalizePullRequest(_ string, req *Request) (*model.CanonicalEvent, error) {
	var ev github.PullRequestEvent
	if err := decodeBody(req, &ev); err != nil {
		return nil, err
	}
	pr := ev.GetPullRequest()
	head, base := pr.GetHead(), pr.GetBase()
	if base.GetRepo().GetID() == 0 {
		return nil, &MissingParameterError{Name: "pull_request.base.repo.id"}
	}

	event := pullRequestEvent(githubEndpoint(head), githubEndpoint(base), head.GetSHA())
	event.Installation = installationRef(ev.GetInstallation())
	return event, nil
}

func (p *GitHub) normalizeCheckRun(_ string, req *Request) (*model.CanonicalEvent, error) {
	var ev github.CheckRunEvent
	if err := decodeBody(req, &ev); err != nil {
		return nil, err
	}
	return checkRerequest(ev.GetRepo(), ev.GetCheckRun().GetCheckSuite(), ev.GetInstallation())
}

func (p *GitHub) normalizeCheckSuite(_ string, req *Request) (*model.CanonicalEvent, error) {
	var ev github.CheckSuiteEvent
	if err := decodeBody(req, &ev); err != nil {
		return nil, err
	}
	return checkRerequest(ev.GetRepo(), ev.GetCheckSuite(), ev.GetInstallation())
}

func checkRerequest(repo *github.Repository, suite *github.CheckSuite, inst *github.Installation) (*model.CanonicalEvent, error) {
	if repo.GetID() == 0 {
		return nil, &MissingParameterError{Name: "repository.id"}
	}
	if suite.GetHeadSHA() == "" {
		return nil, &MissingParameterError{Name: "check_suite.head_sha"}
	}
	return &model.CanonicalEvent{
		Kind:           model.EventKindCheckRerequest,
		RepoExternalID: formatID(repo.GetID()),
		Branch: &model.BranchInfo{
			Name:     suite.GetHeadBranch(),
			Revision: suite.GetHeadSHA(),
		},
		Installation: installationRef(inst),
	}, nil
}

func (p *GitHub) normalizeReposAdded(_ string, req *Request) (*model.CanonicalEvent, error) {
	var ev github.InstallationRepositoriesEvent
	if err := decodeBody(req, &ev); err != nil {
		return nil, err
	}
	return installationRepos(model.EventKindInstallRepoAdded, ev.GetInstallation(), ev.RepositoriesAdded)
}

func (p *GitHub) normalizeReposRemoved(_ string, req *Request) (*model.CanonicalEvent, error) {
	var ev github.InstallationRepositoriesEvent
	if err := decodeBody(req, &ev); err != nil {
		return nil, err
	}
	return installationRepos(model.EventKindInstallRepoRemoved, ev.GetInstallation(), ev.RepositoriesRemoved)
}

func (p *GitHub) normalizeRepoCreated(_ string, req *Request) (*model.CanonicalEvent, error) {
	var ev github.RepositoryEvent
	if err := decodeBody(req, &ev); err != nil {
		return nil, err
	}
	return installationRepos(model.EventKindInstallRepoAdded, ev.GetInstallation(), []*github.Repository{ev.GetRepo()})
}

func installationRepos(kind model.EventKind, inst *github.Installation, repos []*github.Repository) (*model.CanonicalEvent, error) {
	if inst.GetID() == 0 {
		return nil, &MissingParameterError{Name: "installation.id"}
	}
	event := &model.CanonicalEvent{Kind: kind, Installation: installationRef(inst)}
	for _, r := range repos {
		if r.GetID() == 0 {
			continue
		}
		event.Repositories = append(event.Repositories, model.RepoRef{
			ExternalID: formatID(r.GetID()),
			FullName:   r.GetFullName(),
		})
	}
	return event, nil
}

func (p *GitHub) normalizeInstallDeleted(_ string, req *Request) (*model.CanonicalEvent, error) {
	var ev github.InstallationEvent
	if err := decodeBody(req, &ev); err != nil {
		return nil, err
	}
	if ev.GetInstallation().GetID() == 0 {
		return nil, &MissingParameterError{Name: "installation.id"}
	}
	return &model.CanonicalEvent{
		Kind:         model.EventKindInstallDeleted,
		Installation: installationRef(ev.GetInstallation()),
	}, nil
}

// normalizeInstallCreated acknowledges the event only; the setup redirect creates the Integration.
func (p *GitHub) normalizeInstallCreated(_ string, req *Request) (*model.CanonicalEvent, error) {
	var ev github.InstallationEvent
	if err := decodeBody(req, &ev); err != nil {
		return nil, err
	}
	return &model.CanonicalEvent{
		Kind:         model.EventKindPing,
		Installation: installationRef(ev.GetInstallation()),
		Detail:       map[string]any{"account": ev.GetInstallation().GetAccount().GetLogin()},
	}, nil
}

func (p *GitHub) normalizePing(_ string, req *Request) (*model.CanonicalEvent, error) {
	var ev github.PingEvent
	if err := decodeBody(req, &ev); err != nil {
		return nil, err
	}
	return &model.CanonicalEvent{
		Kind:         model.EventKindPing,
		Installation: installationRef(ev.GetInstallation()),
		Detail: map[string]any{
			"zen":     ev.GetZen(),
			"hook_id": ev.GetHookID(),
			"app_id":  req.String("hook", "app_id"),
		},
	}, nil
}

func (p *GitHub) UsesAppToken() bool {
	return true
}

// IssueToken creates an installation access token, authenticating as the app.
func (p *GitHub) IssueToken(ctx context.Context, _ *model.App, appToken string, integration *model.Integration) (*Token, error) {
	installationID, err := strconv.ParseInt(integration.ExternalID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing installation id %q: %w", integration.ExternalID, err)
	}

	tok, _, err := p.client(appToken).Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		return nil, githubError(err)
	}
	return &Token{AccessToken: tok.GetToken(), ExpiresAt: tok.GetExpiresAt().Time}, nil
}

func (p *GitHub) ListRepositories(ctx context.Context, integration *model.Integration, token string) ([]model.RepoInfo, error) {
	client := p.client(token)
	opts := &github.ListOptions{Page: 1, PerPage: 100}

	var repos []model.RepoInfo
	for {
		page, resp, err := client.Apps.ListRepos(ctx, opts)
		if err != nil {
			return nil, githubError(err)
		}
		for _, r := range page.Repositories {
			repos = append(repos, githubRepoInfo(r, integration))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return repos, nil
}

func (p *GitHub) GetRepository(ctx context.Context, integration *model.Integration, token string, ref model.RepoRef) (*model.RepoInfo, error) {
	owner, name, ok := strings.Cut(ref.FullName, "/")
	if !ok || owner == "" || name == "" {
		return nil, &MissingParameterError{Name: "repository.full_name"}
	}
	r, _, err := p.client(token).Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, githubError(err)
	}
	info := githubRepoInfo(r, integration)
	return &info, nil
}

func (p *GitHub) AuthHeader(token string) http.Header {
	h := bearerHeader(token)
	h.Set("Accept", "application/vnd.github+json")
	return h
}

func (p *GitHub) CloneUser() string {
	return "x-access-token"
}

func (p *GitHub) client(token string) *github.Client {
	c := github.NewClient(p.httpClient).WithAuthToken(token)
	base := *p.baseURL
	c.BaseURL = &base
	return c
}

// githubEndpoint names a side by its "owner:branch" label, falling back to the
// repository full name when the label is absent.
func githubEndpoint(b *github.PullRequestBranch) endpoint {
	name := b.GetLabel()
	if name == "" {
		name = b.GetRepo().GetFullName()
	}
	return endpoint{
		id:     formatID(b.GetRepo().GetID()),
		name:   name,
		branch: b.GetRef(),
		url:    b.GetRepo().GetCloneURL(),
	}
}

func githubRepoInfo(r *github.Repository, integration *model.Integration) model.RepoInfo {
	info := model.RepoInfo{
		Provider:      model.ProviderGitHub,
		ExternalID:    formatID(r.GetID()),
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		CloneURL:      r.GetCloneURL(),
		DefaultBranch: r.GetDefaultBranch(),
		Private:       r.GetPrivate(),
	}
	if integration != nil {
		info.IntegrationID = integration.ID
	}
	return info
}

func installationRef(inst *github.Installation) model.InstallationRef {
	if inst.GetID() == 0 {
		return model.InstallationRef{}
	}
	return model.InstallationRef{ExternalID: formatID(inst.GetID())}
}

// githubError converts API error responses into UpstreamAuthError.
func githubError(err error) error {
	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		u := ""
		if er.Response.Request != nil {
			u = er.Response.Request.URL.String()
		}
		return &UpstreamAuthError{Status: er.Response.StatusCode, Body: er.Message, URL: u}
	}
	return err
}

func decodeBody(req *Request, v any) error {
	if len(req.RawBody) == 0 {
		return &MissingParameterError{Name: "body"}
	}
	if err := json.Unmarshal(req.RawBody, v); err != nil {
		return ErrMalformedBody
	}
	return nil
}

func formatID(v int64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatInt(v, 10)
}
