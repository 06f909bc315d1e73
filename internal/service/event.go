package service

import (
	"context"
	"log/slog"

	"basegraph.app/integrations/common/logger"
	"basegraph.app/integrations/internal/model"
)

// EventService turns canonical events into repository actions. Handle resolves what
// it needs synchronously and runs the actions as dispatched background tasks.
type EventService interface {
	Handle(ctx context.Context, kind model.ProviderKind, event *model.CanonicalEvent) error
}

type eventService struct {
	integrations IntegrationService
	repos        RepositoryManager
	dispatcher   Dispatcher
}

func NewEventService(integrations IntegrationService, repos RepositoryManager, dispatcher Dispatcher) EventService {
	return &eventService{
		integrations: integrations,
		repos:        repos,
		dispatcher:   dispatcher,
	}
}

func (s *eventService) Handle(ctx context.Context, kind model.ProviderKind, event *model.CanonicalEvent) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Provider:  logger.Ptr(string(kind)),
		EventKey:  logger.Ptr(event.Key),
		Component: "integrations.service.event",
	})
	if event.RepoExternalID != "" {
		ctx = logger.WithLogFields(ctx, logger.LogFields{RepoExternalID: logger.Ptr(event.RepoExternalID)})
	}

	switch event.Kind {
	case model.EventKindPush, model.EventKindPullRequest:
		if err := s.checkInstallation(ctx, kind, event.Installation); err != nil {
			return err
		}
		opts := model.UpdateOptions{}
		if event.Branch != nil {
			opts.Branch = event.Branch.Name
			opts.Revision = event.Branch.Revision
			opts.BranchOverrides = event.Branch.Overrides
			opts.External = event.Branch.External
		}
		return s.dispatch(ctx, "update_repository", func(ctx context.Context) error {
			return s.repos.UpdateRepository(ctx, kind, event.RepoExternalID, opts)
		})

	case model.EventKindCheckRerequest:
		if err := s.checkInstallation(ctx, kind, event.Installation); err != nil {
			return err
		}
		var branch, revision string
		if event.Branch != nil {
			branch, revision = event.Branch.Name, event.Branch.Revision
		}
		return s.dispatch(ctx, "request_build", func(ctx context.Context) error {
			return s.repos.RequestBuild(ctx, kind, event.RepoExternalID, branch, revision)
		})

	case model.EventKindInstallRepoAdded:
		integration, err := s.integrations.Resolve(ctx, kind, event.Installation)
		if err != nil {
			return err
		}
		ctx = logger.WithLogFields(ctx, logger.LogFields{IntegrationID: logger.Ptr(integration.ID)})
		for _, ref := range event.Repositories {
			// each unit refreshes tokens on its own copy
			inst := *integration
			err := s.dispatch(ctx, "import_repository", func(ctx context.Context) error {
				ctx = logger.WithLogFields(ctx, logger.LogFields{RepoExternalID: logger.Ptr(ref.ExternalID)})
				return s.integrations.ImportRepository(ctx, &inst, ref)
			})
			if err != nil {
				return err
			}
		}
		return nil

	case model.EventKindInstallRepoRemoved:
		if err := s.checkInstallation(ctx, kind, event.Installation); err != nil {
			return err
		}
		for _, ref := range event.Repositories {
			err := s.dispatch(ctx, "remove_repository", func(ctx context.Context) error {
				ctx = logger.WithLogFields(ctx, logger.LogFields{RepoExternalID: logger.Ptr(ref.ExternalID)})
				return s.repos.RemoveRepository(ctx, kind, ref.ExternalID)
			})
			if err != nil {
				return err
			}
		}
		return nil

	case model.EventKindInstallDeleted:
		integration, err := s.integrations.Resolve(ctx, kind, event.Installation)
		if err != nil {
			return err
		}
		ctx = logger.WithLogFields(ctx, logger.LogFields{IntegrationID: logger.Ptr(integration.ID)})
		return s.dispatch(ctx, "delete_installation", func(ctx context.Context) error {
			return s.integrations.Delete(ctx, integration, ownerOf(integration))
		})

	default:
		args := []any{"kind", event.Kind}
		for k, v := range event.Detail {
			args = append(args, k, v)
		}
		slog.InfoContext(ctx, "event acknowledged without action", args...)
		return nil
	}
}

// ownerOf is the user an upstream revocation acts as. Integrations without a recorded
// owner fall back to SystemUser.
func ownerOf(integration *model.Integration) model.User {
	if integration.OwnerUserID == 0 {
		return model.SystemUser
	}
	return model.User{ID: integration.OwnerUserID}
}

// checkInstallation fails when the delivery names an installation that is not connected.
// Deliveries that carry no installation reference pass.
func (s *eventService) checkInstallation(ctx context.Context, kind model.ProviderKind, ref model.InstallationRef) error {
	if ref.ExternalID == "" && ref.IntegrationID == 0 {
		return nil
	}
	integration, err := s.integrations.Resolve(ctx, kind, ref)
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "installation resolved", "integration_id", integration.ID)
	return nil
}

func (s *eventService) dispatch(ctx context.Context, name string, task func(ctx context.Context) error) error {
	if !s.dispatcher.Dispatch(ctx, name, task) {
		return ErrDispatcherClosed
	}
	return nil
}
