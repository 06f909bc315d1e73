package queue

import (
	"context"

	"basegraph.app/integrations/internal/model"
)

// RepositoryManager turns canonical actions into repository tasks for the build platform.
type RepositoryManager struct {
	producer Producer
}

func NewRepositoryManager(producer Producer) *RepositoryManager {
	return &RepositoryManager{producer: producer}
}

func (m *RepositoryManager) ImportRepository(ctx context.Context, repo model.RepoInfo) error {
	return m.producer.Enqueue(ctx, RepoTask{
		TaskType:       TaskTypeImportRepository,
		Provider:       repo.Provider,
		RepoExternalID: repo.ExternalID,
		IntegrationID:  repo.IntegrationID,
		Repo:           &repo,
	})
}

func (m *RepositoryManager) UpdateRepository(ctx context.Context, provider model.ProviderKind, repoExternalID string, opts model.UpdateOptions) error {
	return m.producer.Enqueue(ctx, RepoTask{
		TaskType:       TaskTypeUpdateRepository,
		Provider:       provider,
		RepoExternalID: repoExternalID,
		Branch:         opts.Branch,
		Revision:       opts.Revision,
		Overrides:      opts.BranchOverrides,
		External:       opts.External,
	})
}

func (m *RepositoryManager) RemoveRepository(ctx context.Context, provider model.ProviderKind, repoExternalID string) error {
	return m.producer.Enqueue(ctx, RepoTask{
		TaskType:       TaskTypeRemoveRepository,
		Provider:       provider,
		RepoExternalID: repoExternalID,
	})
}

func (m *RepositoryManager) RequestBuild(ctx context.Context, provider model.ProviderKind, repoExternalID, branch, revision string) error {
	return m.producer.Enqueue(ctx, RepoTask{
		TaskType:       TaskTypeRequestBuild,
		Provider:       provider,
		RepoExternalID: repoExternalID,
		Branch:         branch,
		Revision:       revision,
	})
}

func (m *RepositoryManager) DeleteInstallation(ctx context.Context, integration *model.Integration, actingUser model.User) error {
	return m.producer.Enqueue(ctx, RepoTask{
		TaskType:      TaskTypeDeleteInstallation,
		Provider:      integration.Provider,
		IntegrationID: integration.ID,
		ActingUserID:  actingUser.ID,
	})
}
