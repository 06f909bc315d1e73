package service

import (
	"basegraph.app/integrations/internal/provider"
	"basegraph.app/integrations/internal/store"
)

type Services struct {
	stores       *store.Stores
	providers    *provider.Registry
	creds        Credentials
	repos        RepositoryManager
	dispatcher   Dispatcher
	cookieSecret string
}

func NewServices(
	stores *store.Stores,
	providers *provider.Registry,
	creds Credentials,
	repos RepositoryManager,
	dispatcher Dispatcher,
	cookieSecret string,
) *Services {
	return &Services{
		stores:       stores,
		providers:    providers,
		creds:        creds,
		repos:        repos,
		dispatcher:   dispatcher,
		cookieSecret: cookieSecret,
	}
}

func (s *Services) Apps() AppService {
	return NewAppService(s.stores.Apps())
}

func (s *Services) Integrations() IntegrationService {
	return NewIntegrationService(
		s.stores.Apps(),
		s.stores.Integrations(),
		s.providers,
		s.creds,
		s.repos,
		s.dispatcher,
	)
}

func (s *Services) Events() EventService {
	return NewEventService(s.Integrations(), s.repos, s.dispatcher)
}

func (s *Services) Auth() AuthService {
	return NewAuthService(s.cookieSecret, nil)
}
