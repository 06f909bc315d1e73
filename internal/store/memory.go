package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"basegraph.app/integrations/common/id"
	"basegraph.app/integrations/internal/model"
)

// MemoryAppStore keeps App records in process memory. Used in development without a
// database and in tests.
type MemoryAppStore struct {
	mu   sync.RWMutex
	apps map[model.ProviderKind]model.App
	now  func() time.Time
}

func NewMemoryAppStore() *MemoryAppStore {
	return &MemoryAppStore{apps: make(map[model.ProviderKind]model.App), now: time.Now}
}

func (s *MemoryAppStore) Get(_ context.Context, provider model.ProviderKind) (*model.App, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[provider]
	if !ok {
		return nil, ErrNotFound
	}
	return &app, nil
}

func (s *MemoryAppStore) Save(_ context.Context, app *model.App) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if existing, ok := s.apps[app.Provider]; ok {
		app.CreatedAt = existing.CreatedAt
	} else {
		app.CreatedAt = now
	}
	app.UpdatedAt = now
	s.apps[app.Provider] = *app
	return nil
}

// MemoryIntegrationStore keeps Integration records in process memory.
type MemoryIntegrationStore struct {
	mu           sync.RWMutex
	integrations map[int64]model.Integration
	now          func() time.Time
}

func NewMemoryIntegrationStore() *MemoryIntegrationStore {
	return &MemoryIntegrationStore{integrations: make(map[int64]model.Integration), now: time.Now}
}

func (s *MemoryIntegrationStore) GetByID(_ context.Context, id int64) (*model.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	integration, ok := s.integrations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &integration, nil
}

func (s *MemoryIntegrationStore) GetByExternalID(_ context.Context, provider model.ProviderKind, externalID string) (*model.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, integration := range s.integrations {
		if integration.Provider == provider && integration.ExternalID == externalID {
			return &integration, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryIntegrationStore) Save(_ context.Context, integration *model.Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if integration.ID == 0 {
		integration.ID = id.New()
	}
	now := s.now()
	if existing, ok := s.integrations[integration.ID]; ok {
		integration.CreatedAt = existing.CreatedAt
	} else {
		integration.CreatedAt = now
	}
	integration.UpdatedAt = now
	s.integrations[integration.ID] = *integration
	return nil
}

func (s *MemoryIntegrationStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.integrations[id]; !ok {
		return ErrNotFound
	}
	delete(s.integrations, id)
	return nil
}

func (s *MemoryIntegrationStore) ListByOwner(_ context.Context, ownerUserID int64) ([]model.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []model.Integration
	for _, integration := range s.integrations {
		if integration.OwnerUserID == ownerUserID {
			result = append(result, integration)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Len returns the number of stored integrations.
func (s *MemoryIntegrationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.integrations)
}

// MemoryDeliveryStore is the in-process DeliveryStore.
type MemoryDeliveryStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func NewMemoryDeliveryStore() *MemoryDeliveryStore {
	return &MemoryDeliveryStore{seen: make(map[string]time.Time), now: time.Now}
}

func (s *MemoryDeliveryStore) MarkSeen(_ context.Context, provider model.ProviderKind, deliveryID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := DeliveryKey(provider, deliveryID)
	now := s.now()
	if expiresAt, ok := s.seen[key]; ok && now.Before(expiresAt) {
		return false, nil
	}
	s.seen[key] = now.Add(ttl)
	return true, nil
}
