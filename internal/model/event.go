package model

// EventKind is the canonical kind of a normalized webhook delivery.
type EventKind string

const (
	EventKindPush               EventKind = "push"
	EventKindPullRequest        EventKind = "pull_request"
	EventKindCheckRerequest     EventKind = "check_rerequest"
	EventKindInstallRepoAdded   EventKind = "install_repo_added"
	EventKindInstallRepoRemoved EventKind = "install_repo_removed"
	EventKindInstallDeleted     EventKind = "install_deleted"
	EventKindPing               EventKind = "ping"
	EventKindUnknown            EventKind = "unknown"
)

// BranchConfig overrides how builds are reported for one branch.
type BranchConfig struct {
	BuildersFallback string `json:"builders_fallback,omitempty"`
	NotifyOnlyLatest bool   `json:"notify_only_latest"`
}

// ExternalInfo describes the head of a cross-repository pull request.
type ExternalInfo struct {
	URL    string `json:"url"`
	Name   string `json:"name"`
	Branch string `json:"branch"`
	Into   string `json:"into"`
}

// BranchInfo is the branch-level detail carried by push, pull request and check events.
type BranchInfo struct {
	Overrides map[string]BranchConfig `json:"overrides,omitempty"`
	External  *ExternalInfo           `json:"external,omitempty"`
	Name      string                  `json:"name,omitempty"`
	Revision  string                  `json:"revision,omitempty"`
}

// InstallationRef points at the Integration a delivery belongs to. Either ExternalID
// (the provider's installation or project id) or IntegrationID is set.
type InstallationRef struct {
	ExternalID    string `json:"external_id,omitempty"`
	IntegrationID int64  `json:"integration_id,omitempty"`
}

// CanonicalEvent is the provider-agnostic form of a webhook delivery.
type CanonicalEvent struct {
	Branch         *BranchInfo     `json:"branch,omitempty"`
	Kind           EventKind       `json:"kind"`
	Key            string          `json:"key"`
	RepoExternalID string          `json:"repo_external_id,omitempty"`
	Installation   InstallationRef `json:"installation"`
	Repositories   []RepoRef       `json:"repositories,omitempty"`
	Detail         map[string]any  `json:"detail,omitempty"`
}

// UpdateOptions carries the branch detail of an update-repository action.
type UpdateOptions struct {
	BranchOverrides map[string]BranchConfig `json:"branch_overrides,omitempty"`
	External        *ExternalInfo           `json:"external,omitempty"`
	Branch          string                  `json:"branch,omitempty"`
	Revision        string                  `json:"revision,omitempty"`
}
