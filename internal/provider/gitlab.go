package provider

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	gitlab "gitlab.com/gitlab-org/api/client-go"
	"golang.org/x/oauth2"

	"basegraph.app/integrations/internal/model"
)

const (
	gitlabTokenHeader    = "X-Gitlab-Token"
	gitlabDeliveryHeader = "X-Gitlab-Event-UUID"
	defaultGitLabURL     = "https://gitlab.com"
)

// GitLab is the header-token provider: deliveries carry the shared secret verbatim and
// API access uses OAuth tokens with refresh.
type GitLab struct {
	oauth      *oauthFlow
	httpClient *http.Client
	baseURL    string
	table      eventTable
}

// NewGitLab returns a GitLab provider for the instance at baseURL.
func NewGitLab(baseURL, redirectURL string, httpClient *http.Client) *GitLab {
	if baseURL == "" {
		baseURL = defaultGitLabURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	p := &GitLab{
		httpClient: httpClient,
		baseURL:    baseURL,
		oauth: &oauthFlow{
			httpClient: httpClient,
			now:        time.Now,
			endpoint: oauth2.Endpoint{
				AuthURL:  baseURL + "/oauth/authorize",
				TokenURL: baseURL + "/oauth/token",
			},
			redirectURL: redirectURL,
			scopes:      []string{"api"},
		},
	}
	p.table = eventTable{
		"push":          p.normalizePush,
		"merge_request": p.normalizeMergeRequest,
	}
	return p
}

func (p *GitLab) Kind() model.ProviderKind {
	return model.ProviderGitLab
}

// EventKey is the body's object_kind.
func (p *GitLab) EventKey(req *Request) string {
	return req.String("object_kind")
}

func (p *GitLab) DeliveryID(req *Request) string {
	return req.Header.Get(gitlabDeliveryHeader)
}

func (p *GitLab) ValidateSignature(app *model.App, req *Request) error {
	token := req.Header.Get(gitlabTokenHeader)
	if token == "" || app == nil || app.WebhookSecret == "" {
		return ErrBadSignature
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(app.WebhookSecret)) != 1 {
		return ErrBadSignature
	}
	return nil
}

func (p *GitLab) Normalize(eventKey string, req *Request) (*model.CanonicalEvent, error) {
	return p.table.normalize(eventKey, req)
}

func (p *GitLab) normalizePush(_ string, req *Request) (*model.CanonicalEvent, error) {
	var ev gitlab.PushEvent
	if err := decodeBody(req, &ev); err != nil {
		return nil, err
	}
	if ev.ProjectID == 0 {
		return nil, &MissingParameterError{Name: "project_id"}
	}
	installation, err := hookInstallation(req)
	if err != nil {
		return nil, err
	}
	return &model.CanonicalEvent{
		Kind:           model.EventKindPush,
		RepoExternalID: formatID(int64(ev.ProjectID)),
		Installation:   installation,
		Branch: &model.BranchInfo{
			Name:     strings.TrimPrefix(ev.Ref, "refs/heads/"),
			Revision: ev.After,
		},
	}, nil
}

func (p *GitLab) normalizeMergeRequest(_ string, req *Request) (*model.CanonicalEvent, error) {
	var ev gitlab.MergeEvent
	if err := decodeBody(req, &ev); err != nil {
		return nil, err
	}
	attrs := ev.ObjectAttributes
	if attrs.TargetProjectID == 0 {
		return nil, &MissingParameterError{Name: "object_attributes.target_project_id"}
	}

	source := endpoint{
		id:     formatID(int64(attrs.SourceProjectID)),
		branch: attrs.SourceBranch,
	}
	if attrs.Source != nil {
		source.name = attrs.Source.Name
		source.url = attrs.Source.GitHTTPURL
	}
	target := endpoint{
		id:     formatID(int64(attrs.TargetProjectID)),
		branch: attrs.TargetBranch,
	}
	if attrs.Target != nil {
		target.name = attrs.Target.Name
		target.url = attrs.Target.GitHTTPURL
	}

	installation, err := hookInstallation(req)
	if err != nil {
		return nil, err
	}
	event := pullRequestEvent(source, target, req.String("object_attributes", "last_commit", "id"))
	event.Installation = installation
	return event, nil
}

func (p *GitLab) UsesAppToken() bool {
	return false
}

// IssueToken refreshes the integration's OAuth token.
func (p *GitLab) IssueToken(ctx context.Context, app *model.App, _ string, integration *model.Integration) (*Token, error) {
	return p.oauth.refresh(ctx, app, integration)
}

func (p *GitLab) AuthCodeURL(app *model.App, state string) string {
	return p.oauth.authCodeURL(app, state)
}

func (p *GitLab) Exchange(ctx context.Context, app *model.App, code string) (*Token, error) {
	return p.oauth.exchange(ctx, app, code)
}

func (p *GitLab) CurrentAccount(ctx context.Context, token string) (*ExternalAccount, error) {
	client, err := p.client(token)
	if err != nil {
		return nil, err
	}
	user, _, err := client.Users.CurrentUser(gitlab.WithContext(ctx))
	if err != nil {
		return nil, gitlabError(err)
	}
	return &ExternalAccount{ID: formatID(int64(user.ID)), Name: user.Username}, nil
}

func (p *GitLab) ListRepositories(ctx context.Context, integration *model.Integration, token string) ([]model.RepoInfo, error) {
	client, err := p.client(token)
	if err != nil {
		return nil, err
	}

	opts := &gitlab.ListProjectsOptions{
		Membership:     gitlab.Ptr(true),
		MinAccessLevel: gitlab.Ptr(gitlab.MaintainerPermissions),
		ListOptions: gitlab.ListOptions{
			Page:    1,
			PerPage: 100,
		},
	}

	var repos []model.RepoInfo
	for {
		page, resp, err := client.Projects.ListProjects(opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, gitlabError(err)
		}
		for _, project := range page {
			repos = append(repos, gitlabRepoInfo(project, integration))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return repos, nil
}

func (p *GitLab) GetRepository(ctx context.Context, integration *model.Integration, token string, ref model.RepoRef) (*model.RepoInfo, error) {
	client, err := p.client(token)
	if err != nil {
		return nil, err
	}
	var pid any = ref.FullName
	if ref.ExternalID != "" {
		pid = ref.ExternalID
	}
	project, _, err := client.Projects.GetProject(pid, nil, gitlab.WithContext(ctx))
	if err != nil {
		return nil, gitlabError(err)
	}
	info := gitlabRepoInfo(project, integration)
	return &info, nil
}

func (p *GitLab) AuthHeader(token string) http.Header {
	return bearerHeader(token)
}

func (p *GitLab) CloneUser() string {
	return "oauth2"
}

func (p *GitLab) client(token string) (*gitlab.Client, error) {
	opts := []gitlab.ClientOptionFunc{gitlab.WithBaseURL(p.baseURL + "/api/v4")}
	if p.httpClient != nil {
		opts = append(opts, gitlab.WithHTTPClient(p.httpClient))
	}
	return gitlab.NewOAuthClient(token, opts...)
}

func gitlabRepoInfo(project *gitlab.Project, integration *model.Integration) model.RepoInfo {
	info := model.RepoInfo{
		Provider:      model.ProviderGitLab,
		ExternalID:    formatID(int64(project.ID)),
		Name:          project.Name,
		FullName:      project.PathWithNamespace,
		CloneURL:      project.HTTPURLToRepo,
		DefaultBranch: project.DefaultBranch,
		Private:       project.Visibility == gitlab.PrivateVisibility,
	}
	if integration != nil {
		info.IntegrationID = integration.ID
	}
	return info
}

func gitlabError(err error) error {
	var er *gitlab.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		u := ""
		if er.Response.Request != nil {
			u = er.Response.Request.URL.String()
		}
		return &UpstreamAuthError{Status: er.Response.StatusCode, Body: string(er.Body), URL: u}
	}
	return err
}
