package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
)

// Recovery answers a panicking handler with the same {code, msg} body the webhook
// handlers use, so providers see a plain 500 and redeliver.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			err := recover()
			if err == nil {
				return
			}
			attrs := append(requestAttrs(c),
				"error", err,
				"stack", string(debug.Stack()),
			)
			slog.ErrorContext(c.Request.Context(), "panic recovered", attrs...)

			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"code": http.StatusInternalServerError,
				"msg":  "internal server error",
			})
		}()
		c.Next()
	}
}

// deliveryHeaders carry the provider's delivery id, in lookup order.
var deliveryHeaders = []string{
	"X-GitHub-Delivery",
	"X-Gitlab-Event-UUID",
	"X-Request-UUID",
}

// requestAttrs identifies a request by method, route and path. The query string is
// never included: setup callbacks carry authorization codes and signed state in it.
func requestAttrs(c *gin.Context) []any {
	attrs := []any{
		"method", c.Request.Method,
		"route", c.FullPath(),
		"path", c.Request.URL.Path,
	}
	for _, h := range deliveryHeaders {
		if v := c.GetHeader(h); v != "" {
			attrs = append(attrs, "delivery_id", v)
			break
		}
	}
	return attrs
}
