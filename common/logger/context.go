package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, so the provider, integration and delivery
// a log line belongs to are included without threading them through every call.
type LogFields struct {
	Provider       *string // Provider kind (github, gitlab, bitbucket)
	IntegrationID  *int64  // Integration ID
	EventKey       *string // Provider event key (e.g., "pull_request-opened", "merge_request")
	DeliveryID     *string // Provider delivery id header
	RepoExternalID *string // Provider-side repository id
	Task           *string // Background unit name
	Component      string  // Component name (OTel semantic convention style, e.g., "integrations.webhook.receiver")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

// mergeFields merges two LogFields, preferring non-nil/non-empty values from 'new'.
func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.Provider != nil {
		result.Provider = new.Provider
	}
	if new.IntegrationID != nil {
		result.IntegrationID = new.IntegrationID
	}
	if new.EventKey != nil {
		result.EventKey = new.EventKey
	}
	if new.DeliveryID != nil {
		result.DeliveryID = new.DeliveryID
	}
	if new.RepoExternalID != nil {
		result.RepoExternalID = new.RepoExternalID
	}
	if new.Task != nil {
		result.Task = new.Task
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{IntegrationID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Useful for logging potentially long upstream response bodies.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
