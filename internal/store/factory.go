package store

type Stores struct {
	apps         AppStore
	integrations IntegrationStore
}

// NewStores returns Postgres-backed stores over db, which may be a pool or a transaction.
func NewStores(db DBTX) *Stores {
	return &Stores{
		apps:         newAppStore(db),
		integrations: newIntegrationStore(db),
	}
}

// NewMemoryStores returns process-local stores.
func NewMemoryStores() *Stores {
	return &Stores{
		apps:         NewMemoryAppStore(),
		integrations: NewMemoryIntegrationStore(),
	}
}

func (s *Stores) Apps() AppStore {
	return s.apps
}

func (s *Stores) Integrations() IntegrationStore {
	return s.integrations
}
