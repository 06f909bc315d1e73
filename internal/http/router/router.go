package router

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"basegraph.app/integrations/internal/http/handler/webhook"
	"basegraph.app/integrations/internal/provider"
	"basegraph.app/integrations/internal/service"
	"basegraph.app/integrations/internal/store"
)

type RouterConfig struct {
	UIURL         string
	LoginURL      string
	SessionCookie string
	DedupTTL      time.Duration
}

// SetupRoutes mounts one route group per configured provider under /{provider}.
func SetupRoutes(
	router *gin.Engine,
	services *service.Services,
	providers *provider.Registry,
	apps store.AppStore,
	deliveries store.DeliveryStore,
	cfg RouterConfig,
) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	receiverCfg := webhook.Config{
		UIURL:         cfg.UIURL,
		LoginURL:      cfg.LoginURL,
		SessionCookie: cfg.SessionCookie,
		DedupTTL:      cfg.DedupTTL,
	}
	events := services.Events()
	integrations := services.Integrations()
	auth := services.Auth()

	for _, kind := range providers.Kinds() {
		p, err := providers.Get(kind)
		if err != nil {
			continue
		}
		receiver := webhook.NewReceiver(p, apps, deliveries, events, integrations, auth, receiverCfg)
		WebhookRouter(router.Group("/"+string(kind)), receiver)
		slog.Info("provider routes mounted", "provider", kind)
	}
}
