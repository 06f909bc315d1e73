package store

import (
	"context"
	"errors"
	"time"

	"basegraph.app/integrations/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// AppStore defines the contract for App record access. Records are keyed by provider kind.
type AppStore interface {
	Get(ctx context.Context, provider model.ProviderKind) (*model.App, error)
	Save(ctx context.Context, app *model.App) error
}

// IntegrationStore defines the contract for integration data access
type IntegrationStore interface {
	GetByID(ctx context.Context, id int64) (*model.Integration, error)
	GetByExternalID(ctx context.Context, provider model.ProviderKind, externalID string) (*model.Integration, error)
	// Save inserts or replaces the record. A zero ID is assigned a new one.
	Save(ctx context.Context, integration *model.Integration) error
	Delete(ctx context.Context, id int64) error
	ListByOwner(ctx context.Context, ownerUserID int64) ([]model.Integration, error)
}

// DeliveryStore records webhook delivery ids so redelivered webhooks can be recognized.
type DeliveryStore interface {
	// MarkSeen returns true the first time a delivery id is seen within ttl.
	MarkSeen(ctx context.Context, provider model.ProviderKind, deliveryID string, ttl time.Duration) (bool, error)
}
