package model

// RepoRef identifies a repository on the provider side.
type RepoRef struct {
	ExternalID string `json:"external_id"`
	FullName   string `json:"full_name,omitempty"`
}

// RepoInfo is the repository description handed to the import action.
type RepoInfo struct {
	DefaultBranch string       `json:"default_branch,omitempty"`
	Provider      ProviderKind `json:"provider"`
	ExternalID    string       `json:"external_id"`
	Name          string       `json:"name"`
	FullName      string       `json:"full_name"`
	CloneURL      string       `json:"clone_url"`
	IntegrationID int64        `json:"integration_id"`
	Private       bool         `json:"private"`
}
