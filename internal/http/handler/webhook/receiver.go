package webhook

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"basegraph.app/integrations/common/logger"
	"basegraph.app/integrations/internal/model"
	"basegraph.app/integrations/internal/provider"
	"basegraph.app/integrations/internal/service"
	"basegraph.app/integrations/internal/store"
)

type Config struct {
	UIURL         string
	LoginURL      string
	SessionCookie string
	// DedupTTL enables redelivery de-duplication when positive.
	DedupTTL time.Duration
}

// Receiver serves one provider's hello, connect, setup and webhook endpoints.
type Receiver struct {
	provider     provider.Provider
	apps         store.AppStore
	deliveries   store.DeliveryStore
	events       service.EventService
	integrations service.IntegrationService
	auth         service.AuthService
	cfg          Config
}

func NewReceiver(
	p provider.Provider,
	apps store.AppStore,
	deliveries store.DeliveryStore,
	events service.EventService,
	integrations service.IntegrationService,
	auth service.AuthService,
	cfg Config,
) *Receiver {
	return &Receiver{
		provider:     p,
		apps:         apps,
		deliveries:   deliveries,
		events:       events,
		integrations: integrations,
		auth:         auth,
		cfg:          cfg,
	}
}

func (r *Receiver) Hello(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "msg": "Hi there!"})
}

// Connect sends an authenticated user to the provider's authorize page.
func (r *Receiver) Connect(c *gin.Context) {
	ctx := c.Request.Context()
	kind := r.provider.Kind()

	user, ok := r.sessionUser(c)
	if !ok {
		c.Redirect(http.StatusFound, r.loginURL(c))
		return
	}

	connector, ok := r.provider.(provider.Connector)
	if !ok {
		respondError(c, fmt.Errorf("%w: %s has no connect flow", store.ErrNotFound, kind))
		return
	}

	app, err := r.apps.Get(ctx, kind)
	if err != nil {
		respondError(c, fmt.Errorf("loading %s app: %w", kind, err))
		return
	}
	state, err := r.auth.SignState(kind, *user)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Redirect(http.StatusFound, connector.AuthCodeURL(app, state))
}

// Setup completes a provider's connect flow. Unauthenticated callers are sent to the
// login page with this URL as the redirect target.
func (r *Receiver) Setup(c *gin.Context) {
	kind := r.provider.Kind()
	ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{
		Provider:  logger.Ptr(string(kind)),
		Component: "integrations.http.webhook",
	})

	user, ok := r.sessionUser(c)
	if !ok {
		slog.DebugContext(ctx, "setup without session, redirecting to login")
		c.Redirect(http.StatusFound, r.loginURL(c))
		return
	}

	params := service.ConnectParams{
		InstallationID: c.Query("installation_id"),
		Code:           c.Query("code"),
	}
	if _, isConnector := r.provider.(provider.Connector); isConnector {
		userID, err := r.auth.ValidateState(kind, c.Query("state"))
		if err != nil {
			respondError(c, err)
			return
		}
		if userID != user.ID {
			respondError(c, fmt.Errorf("%w: state issued to another user", provider.ErrBadSignature))
			return
		}
	}

	if _, err := r.integrations.Connect(ctx, kind, *user, params); err != nil {
		slog.WarnContext(ctx, "setup failed", "error", err, "user_id", user.ID)
		respondError(c, err)
		return
	}

	c.Redirect(http.StatusFound, r.cfg.UIURL)
}

// Receive runs a delivery through validation, normalization and dispatch. The response
// does not wait for dispatched work.
func (r *Receiver) Receive(c *gin.Context) {
	kind := r.provider.Kind()

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondError(c, fmt.Errorf("%w: %v", provider.ErrMalformedBody, err))
		return
	}
	req, err := provider.NewRequest(c.Request.Header, c.Request.URL.Query(), raw)
	if err != nil {
		respondError(c, err)
		return
	}

	eventKey := r.provider.EventKey(req)
	deliveryID := r.provider.DeliveryID(req)
	logDeliveryID := deliveryID
	if logDeliveryID == "" {
		logDeliveryID = uuid.NewString()
	}
	ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{
		Provider:   logger.Ptr(string(kind)),
		EventKey:   logger.Ptr(eventKey),
		DeliveryID: logger.Ptr(logDeliveryID),
		Component:  "integrations.http.webhook",
	})

	app, err := r.apps.Get(ctx, kind)
	if err != nil {
		slog.ErrorContext(ctx, "app not provisioned", "error", err)
		respondError(c, fmt.Errorf("loading %s app: %v", kind, err))
		return
	}
	if err := r.provider.ValidateSignature(app, req); err != nil {
		slog.WarnContext(ctx, "webhook signature rejected", "error", err)
		respondError(c, err)
		return
	}

	event, err := r.provider.Normalize(eventKey, req)
	if err != nil {
		slog.WarnContext(ctx, "webhook not handled", "error", err)
		respondError(c, err)
		return
	}
	slog.InfoContext(ctx, "webhook received", "kind", event.Kind)

	if r.cfg.DedupTTL > 0 && r.deliveries != nil && deliveryID != "" {
		first, err := r.deliveries.MarkSeen(ctx, kind, deliveryID, r.cfg.DedupTTL)
		if err != nil {
			slog.WarnContext(ctx, "delivery de-duplication unavailable", "error", err)
		} else if !first {
			slog.InfoContext(ctx, "redelivered webhook skipped")
			c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "msg": eventKey + " already handled"})
			return
		}
	}

	if err := r.events.Handle(ctx, kind, event); err != nil {
		slog.ErrorContext(ctx, "webhook handling failed", "error", err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "msg": eventKey + " handled successfully"})
}

func (r *Receiver) sessionUser(c *gin.Context) (*model.User, bool) {
	value, err := c.Cookie(r.cfg.SessionCookie)
	if err != nil {
		return nil, false
	}
	user, err := r.auth.UserFromSession(value)
	if err != nil {
		slog.DebugContext(c.Request.Context(), "session rejected", "error", err)
		return nil, false
	}
	return user, true
}

func (r *Receiver) loginURL(c *gin.Context) string {
	return r.cfg.LoginURL + "?redirect=" + url.QueryEscape(fullURL(c.Request))
}

func fullURL(req *http.Request) string {
	scheme := "http"
	if req.TLS != nil {
		scheme = "https"
	}
	if proto := req.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + req.Host + req.URL.RequestURI()
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"code": status, "msg": msg})
}

func statusFor(err error) int {
	var upstream *provider.UpstreamAuthError
	switch {
	case errors.Is(err, provider.ErrBadSignature):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrDispatcherClosed):
		return http.StatusServiceUnavailable
	case provider.IsClientError(err):
		return http.StatusBadRequest
	case errors.As(err, &upstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
