package queue

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"basegraph.app/integrations/internal/model"
)

// TaskType names a repository-management action handed to the build platform.
type TaskType string

const (
	TaskTypeImportRepository   TaskType = "import_repository"
	TaskTypeUpdateRepository   TaskType = "update_repository"
	TaskTypeRemoveRepository   TaskType = "remove_repository"
	TaskTypeRequestBuild       TaskType = "request_build"
	TaskTypeDeleteInstallation TaskType = "delete_installation"
)

// RepoTask is one entry on the repository task stream.
type RepoTask struct {
	Repo           *model.RepoInfo
	External       *model.ExternalInfo
	Overrides      map[string]model.BranchConfig
	ID             string
	TaskType       TaskType
	Provider       model.ProviderKind
	RepoExternalID string
	Branch         string
	Revision       string
	TraceID        string
	IntegrationID  int64
	ActingUserID   int64
	Attempt        int
}

func taskValues(task RepoTask) (map[string]any, error) {
	attempt := task.Attempt
	if attempt <= 0 {
		attempt = 1
	}
	values := map[string]any{
		"task_type": string(task.TaskType),
		"provider":  string(task.Provider),
		"attempt":   attempt,
	}

	if task.RepoExternalID != "" {
		values["repo_external_id"] = task.RepoExternalID
	}
	if task.IntegrationID != 0 {
		values["integration_id"] = task.IntegrationID
	}
	if task.TaskType == TaskTypeDeleteInstallation {
		values["acting_user_id"] = task.ActingUserID
	}
	if task.Branch != "" {
		values["branch"] = task.Branch
	}
	if task.Revision != "" {
		values["revision"] = task.Revision
	}
	if task.TraceID != "" {
		values["trace_id"] = task.TraceID
	}

	if task.Repo != nil {
		raw, err := json.Marshal(task.Repo)
		if err != nil {
			return nil, fmt.Errorf("encoding repo: %w", err)
		}
		values["repo"] = string(raw)
	}
	if len(task.Overrides) > 0 {
		raw, err := json.Marshal(task.Overrides)
		if err != nil {
			return nil, fmt.Errorf("encoding overrides: %w", err)
		}
		values["overrides"] = string(raw)
	}
	if task.External != nil {
		raw, err := json.Marshal(task.External)
		if err != nil {
			return nil, fmt.Errorf("encoding external: %w", err)
		}
		values["external"] = string(raw)
	}

	return values, nil
}

// ParseTask decodes a stream entry written by the producer, for downstream consumers.
func ParseTask(msg redis.XMessage) (RepoTask, error) {
	task := RepoTask{
		ID:             msg.ID,
		TaskType:       TaskType(parseOptionalString(msg.Values, "task_type")),
		Provider:       model.ProviderKind(parseOptionalString(msg.Values, "provider")),
		RepoExternalID: parseOptionalString(msg.Values, "repo_external_id"),
		Branch:         parseOptionalString(msg.Values, "branch"),
		Revision:       parseOptionalString(msg.Values, "revision"),
		TraceID:        parseOptionalString(msg.Values, "trace_id"),
	}

	var err error
	if task.IntegrationID, err = parseOptionalInt64(msg.Values, "integration_id"); err != nil {
		return RepoTask{}, err
	}
	if task.ActingUserID, err = parseOptionalInt64(msg.Values, "acting_user_id"); err != nil {
		return RepoTask{}, err
	}
	attempt, err := parseOptionalInt64(msg.Values, "attempt")
	if err != nil {
		return RepoTask{}, err
	}
	task.Attempt = int(attempt)
	if task.Attempt == 0 {
		task.Attempt = 1
	}

	if err := parseOptionalJSON(msg.Values, "repo", &task.Repo); err != nil {
		return RepoTask{}, err
	}
	if err := parseOptionalJSON(msg.Values, "overrides", &task.Overrides); err != nil {
		return RepoTask{}, err
	}
	if err := parseOptionalJSON(msg.Values, "external", &task.External); err != nil {
		return RepoTask{}, err
	}

	if !task.Provider.Valid() {
		return RepoTask{}, fmt.Errorf("unknown provider %q", task.Provider)
	}

	switch task.TaskType {
	case TaskTypeImportRepository:
		if task.Repo == nil {
			return RepoTask{}, fmt.Errorf("missing repo")
		}
	case TaskTypeUpdateRepository, TaskTypeRemoveRepository:
		if task.RepoExternalID == "" {
			return RepoTask{}, fmt.Errorf("missing repo_external_id")
		}
	case TaskTypeRequestBuild:
		if task.RepoExternalID == "" || task.Revision == "" {
			return RepoTask{}, fmt.Errorf("missing repo_external_id or revision")
		}
	case TaskTypeDeleteInstallation:
		if task.IntegrationID == 0 {
			return RepoTask{}, fmt.Errorf("missing integration_id")
		}
	case "":
		return RepoTask{}, fmt.Errorf("missing task_type")
	default:
		return RepoTask{}, fmt.Errorf("unknown task_type %q", task.TaskType)
	}

	return task, nil
}

func parseOptionalInt64(values map[string]any, key string) (int64, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	num, err := strconv.ParseInt(fmt.Sprint(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseOptionalString(values map[string]any, key string) string {
	raw, ok := values[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(raw)
}

func parseOptionalJSON(values map[string]any, key string, out any) error {
	raw, ok := values[key]
	if !ok {
		return nil
	}
	if err := json.Unmarshal([]byte(fmt.Sprint(raw)), out); err != nil {
		return fmt.Errorf("parsing %s: %w", key, err)
	}
	return nil
}
