package service

import (
	"context"

	"basegraph.app/integrations/internal/model"
	"basegraph.app/integrations/internal/worker"
)

// RepositoryManager is the build platform's repository-management collaborator.
type RepositoryManager interface {
	ImportRepository(ctx context.Context, repo model.RepoInfo) error
	UpdateRepository(ctx context.Context, provider model.ProviderKind, repoExternalID string, opts model.UpdateOptions) error
	RemoveRepository(ctx context.Context, provider model.ProviderKind, repoExternalID string) error
	RequestBuild(ctx context.Context, provider model.ProviderKind, repoExternalID, branch, revision string) error
	DeleteInstallation(ctx context.Context, integration *model.Integration, actingUser model.User) error
}

// Credentials issues the tokens used for provider API calls and clone URLs.
type Credentials interface {
	GetInstallationToken(ctx context.Context, integration *model.Integration) (string, error)
	AuthenticatedURL(ctx context.Context, integration *model.Integration, cloneURL string) (string, error)
}

// Dispatcher runs tasks in the background without blocking the caller.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, task worker.Task) bool
}
