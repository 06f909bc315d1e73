package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/integrations/internal/http/handler/webhook"
)

func WebhookRouter(rg *gin.RouterGroup, h *webhook.Receiver) {
	rg.GET("/hello", h.Hello)
	rg.GET("/connect", h.Connect)
	rg.GET("/setup", h.Setup)
	rg.POST("/webhooks", h.Receive)
}
