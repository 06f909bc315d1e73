package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"basegraph.app/integrations/common/logger"
	"basegraph.app/integrations/internal/model"
	"basegraph.app/integrations/internal/provider"
	"basegraph.app/integrations/internal/store"
)

var ErrDispatcherClosed = errors.New("dispatcher is not accepting tasks")

// ConnectParams are the query parameters a provider hands back to the setup URL.
type ConnectParams struct {
	InstallationID string
	Code           string
}

type IntegrationService interface {
	// Connect creates or re-owns the Integration behind a completed setup flow and
	// schedules an import of every repository it can see.
	Connect(ctx context.Context, kind model.ProviderKind, user model.User, params ConnectParams) (*model.Integration, error)
	Resolve(ctx context.Context, kind model.ProviderKind, ref model.InstallationRef) (*model.Integration, error)
	Delete(ctx context.Context, integration *model.Integration, actingUser model.User) error
	ImportAll(ctx context.Context, integration *model.Integration) (int, error)
	ImportRepository(ctx context.Context, integration *model.Integration, ref model.RepoRef) error
}

type integrationService struct {
	apps         store.AppStore
	integrations store.IntegrationStore
	providers    *provider.Registry
	creds        Credentials
	repos        RepositoryManager
	dispatcher   Dispatcher
}

func NewIntegrationService(
	apps store.AppStore,
	integrations store.IntegrationStore,
	providers *provider.Registry,
	creds Credentials,
	repos RepositoryManager,
	dispatcher Dispatcher,
) IntegrationService {
	return &integrationService{
		apps:         apps,
		integrations: integrations,
		providers:    providers,
		creds:        creds,
		repos:        repos,
		dispatcher:   dispatcher,
	}
}

func (s *integrationService) Connect(ctx context.Context, kind model.ProviderKind, user model.User, params ConnectParams) (*model.Integration, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Provider:  logger.Ptr(string(kind)),
		Component: "integrations.service.integration",
	})

	var (
		integration *model.Integration
		err         error
	)
	if connector, ok := s.providers.Connector(kind); ok {
		integration, err = s.connectOAuth(ctx, kind, connector, params.Code)
	} else {
		integration, err = s.connectInstallation(ctx, kind, params.InstallationID)
	}
	if err != nil {
		return nil, err
	}

	integration.OwnerUserID = user.ID
	if err := s.integrations.Save(ctx, integration); err != nil {
		return nil, fmt.Errorf("saving integration: %w", err)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{IntegrationID: logger.Ptr(integration.ID)})
	slog.InfoContext(ctx, "integration connected",
		"external_id", integration.ExternalID,
		"owner_user_id", integration.OwnerUserID)

	snapshot := *integration
	if !s.dispatcher.Dispatch(ctx, "import_all", func(ctx context.Context) error {
		_, err := s.ImportAll(ctx, &snapshot)
		return err
	}) {
		slog.WarnContext(ctx, "initial import not scheduled")
	}
	return integration, nil
}

func (s *integrationService) connectInstallation(ctx context.Context, kind model.ProviderKind, installationID string) (*model.Integration, error) {
	if installationID == "" {
		return nil, &provider.MissingParameterError{Name: "installation_id"}
	}
	if _, err := s.providers.Get(kind); err != nil {
		return nil, err
	}

	existing, err := s.integrations.GetByExternalID(ctx, kind, installationID)
	switch {
	case err == nil:
		return existing, nil
	case errors.Is(err, store.ErrNotFound):
		return &model.Integration{Provider: kind, ExternalID: installationID}, nil
	default:
		return nil, fmt.Errorf("loading integration: %w", err)
	}
}

func (s *integrationService) connectOAuth(ctx context.Context, kind model.ProviderKind, connector provider.Connector, code string) (*model.Integration, error) {
	app, err := s.apps.Get(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("loading %s app: %w", kind, err)
	}

	tok, err := connector.Exchange(ctx, app, code)
	if err != nil {
		return nil, err
	}
	account, err := connector.CurrentAccount(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}

	integration, err := s.integrations.GetByExternalID(ctx, kind, account.ID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("loading integration: %w", err)
		}
		integration = &model.Integration{Provider: kind, ExternalID: account.ID}
	}
	integration.ExternalUserName = account.Name
	integration.SetToken(tok.AccessToken, tok.RefreshToken, tok.ExpiresAt)
	return integration, nil
}

// Resolve finds the Integration a delivery refers to.
func (s *integrationService) Resolve(ctx context.Context, kind model.ProviderKind, ref model.InstallationRef) (*model.Integration, error) {
	switch {
	case ref.IntegrationID != 0:
		return s.integrations.GetByID(ctx, ref.IntegrationID)
	case ref.ExternalID != "":
		return s.integrations.GetByExternalID(ctx, kind, ref.ExternalID)
	default:
		return nil, &provider.MissingParameterError{Name: "installation"}
	}
}

// Delete hands repository cleanup to the build platform on behalf of actingUser, then
// removes the record.
func (s *integrationService) Delete(ctx context.Context, integration *model.Integration, actingUser model.User) error {
	if err := s.repos.DeleteInstallation(ctx, integration, actingUser); err != nil {
		return fmt.Errorf("deleting installation repositories: %w", err)
	}
	if err := s.integrations.Delete(ctx, integration.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("deleting integration: %w", err)
	}

	slog.InfoContext(ctx, "integration deleted",
		"integration_id", integration.ID,
		"acting_user_id", actingUser.ID,
		"system", actingUser.IsSystem())
	return nil
}

// ImportAll lists the repositories visible to integration and dispatches one import
// per repository. It returns how many were dispatched.
func (s *integrationService) ImportAll(ctx context.Context, integration *model.Integration) (int, error) {
	p, err := s.providers.Get(integration.Provider)
	if err != nil {
		return 0, err
	}
	token, err := s.creds.GetInstallationToken(ctx, integration)
	if err != nil {
		return 0, err
	}
	repos, err := p.ListRepositories(ctx, integration, token)
	if err != nil {
		return 0, fmt.Errorf("listing repositories: %w", err)
	}

	dispatched := 0
	for _, repo := range repos {
		inst := *integration
		ok := s.dispatcher.Dispatch(ctx, "import_repository", func(ctx context.Context) error {
			ctx = logger.WithLogFields(ctx, logger.LogFields{RepoExternalID: logger.Ptr(repo.ExternalID)})
			return s.importRepo(ctx, &inst, repo)
		})
		if !ok {
			return dispatched, ErrDispatcherClosed
		}
		dispatched++
	}

	slog.InfoContext(ctx, "repository imports dispatched", "count", dispatched)
	return dispatched, nil
}

func (s *integrationService) ImportRepository(ctx context.Context, integration *model.Integration, ref model.RepoRef) error {
	p, err := s.providers.Get(integration.Provider)
	if err != nil {
		return err
	}
	token, err := s.creds.GetInstallationToken(ctx, integration)
	if err != nil {
		return err
	}
	repo, err := p.GetRepository(ctx, integration, token, ref)
	if err != nil {
		return fmt.Errorf("fetching repository %s: %w", ref.FullName, err)
	}
	return s.importRepo(ctx, integration, *repo)
}

func (s *integrationService) importRepo(ctx context.Context, integration *model.Integration, repo model.RepoInfo) error {
	cloneURL, err := s.creds.AuthenticatedURL(ctx, integration, repo.CloneURL)
	if err != nil {
		return err
	}
	repo.CloneURL = cloneURL
	repo.IntegrationID = integration.ID
	repo.Provider = integration.Provider
	return s.repos.ImportRepository(ctx, repo)
}
