// Package httpapi exposes the session engine and notification feed over
// HTTP. Handlers are written against go-router and served by its fiber
// adapter.
package httpapi

import (
	"context"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	authsync "github.com/goliatone/go-auth-sync"
	"github.com/goliatone/go-auth-sync/middleware/jwtware"
	"github.com/goliatone/go-auth-sync/notification"
	notifications "github.com/goliatone/go-auth-sync/notification/repository"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

// SessionService is implemented by *authsync.Engine.
type SessionService interface {
	Snapshot() authsync.Snapshot
	Refresh(ctx context.Context) error
	SignOut(ctx context.Context) error
}

// TokenAcceptor feeds access tokens to the session provider.
type TokenAcceptor interface {
	SetToken(ctx context.Context, token string) (*authsync.Session, error)
}

// ProfileUpdater is implemented by *authsync.UpdateProfileHandler.
type ProfileUpdater interface {
	Execute(ctx context.Context, msg authsync.UpdateProfileMessage) error
}

// NotificationFeed is implemented by *notification.Feed.
type NotificationFeed interface {
	State() notification.FeedState
	UnreadCount() int
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
}

// NotificationPublisher is implemented by the notification repository Store.
type NotificationPublisher interface {
	Publish(ctx context.Context, n notifications.NewNotification) (notification.Record, error)
}

// RouteRegistrar is satisfied by router.Router.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// Routes holds the paths the handlers are mounted on.
type Routes struct {
	Session       string
	Token         string
	Refresh       string
	SignOut       string
	Profile       string
	Notifications string
	UnreadCount   string
	MarkRead      string
	MarkAllRead   string
	Publish       string
}

// DefaultRoutes returns the default route table.
func DefaultRoutes() Routes {
	return Routes{
		Session:       "/session",
		Token:         "/session/token",
		Refresh:       "/session/refresh",
		SignOut:       "/session/sign-out",
		Profile:       "/session/profile",
		Notifications: "/notifications",
		UnreadCount:   "/notifications/unread-count",
		MarkRead:      "/notifications/:id/read",
		MarkAllRead:   "/notifications/read-all",
		Publish:       "/internal/notifications",
	}
}

// Controller serves session and notification routes.
type Controller struct {
	Routes  Routes
	session SessionService
	tokens  TokenAcceptor
	profile ProfileUpdater
	feed    NotificationFeed
	pub     NotificationPublisher
	guard   []router.MiddlewareFunc
	logger  authsync.Logger

	ErrorHandler router.ErrorHandler
}

// Option customizes Controller.
type Option func(*Controller)

// WithTokenAcceptor enables the token route.
func WithTokenAcceptor(tokens TokenAcceptor) Option {
	return func(c *Controller) {
		c.tokens = tokens
	}
}

// WithProfileUpdater enables the profile route.
func WithProfileUpdater(profile ProfileUpdater) Option {
	return func(c *Controller) {
		c.profile = profile
	}
}

// WithFeed enables the notification routes.
func WithFeed(feed NotificationFeed) Option {
	return func(c *Controller) {
		c.feed = feed
	}
}

// WithPublisher enables the producer route.
func WithPublisher(pub NotificationPublisher) Option {
	return func(c *Controller) {
		c.pub = pub
	}
}

// WithPublishGuard runs mw ahead of the producer route, typically a
// jwtware middleware.
func WithPublishGuard(mw ...router.MiddlewareFunc) Option {
	return func(c *Controller) {
		c.guard = append(c.guard, mw...)
	}
}

// WithLogger sets the controller logger.
func WithLogger(logger authsync.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			_, c.logger = authsync.ResolveLogger("httpapi", nil, logger)
		}
	}
}

// WithRoutes overrides DefaultRoutes.
func WithRoutes(routes Routes) Option {
	return func(c *Controller) {
		c.Routes = routes
	}
}

// NewController builds a Controller.
func NewController(session SessionService, opts ...Option) *Controller {
	c := &Controller{
		Routes:  DefaultRoutes(),
		session: session,
	}
	_, c.logger = authsync.ResolveLogger("httpapi", nil, nil)
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.ErrorHandler == nil {
		c.ErrorHandler = ErrorHandler(c.logger)
	}
	return c
}

// Register mounts the routes on app.
func (h *Controller) Register(app RouteRegistrar) {
	app.Get(h.Routes.Session, h.GetSession).SetName("session.get")
	app.Post(h.Routes.Refresh, h.PostRefresh).SetName("session.refresh")
	app.Post(h.Routes.SignOut, h.PostSignOut).SetName("session.sign-out")

	if h.tokens != nil {
		app.Post(h.Routes.Token, h.PostToken).SetName("session.token")
	}
	if h.profile != nil {
		app.Post(h.Routes.Profile, h.PostProfile, h.RequireIdentity).SetName("session.profile")
	}
	if h.feed != nil {
		app.Get(h.Routes.Notifications, h.GetNotifications, h.RequireIdentity).SetName("notifications.list")
		app.Get(h.Routes.UnreadCount, h.GetUnreadCount, h.RequireIdentity).SetName("notifications.unread")
		app.Post(h.Routes.MarkAllRead, h.PostMarkAllRead, h.RequireIdentity).SetName("notifications.read-all")
		app.Post(h.Routes.MarkRead, h.PostMarkRead, h.RequireIdentity).SetName("notifications.read")
	}
	if h.pub != nil {
		app.Post(h.Routes.Publish, h.PostPublish, h.guard...).SetName("notifications.publish")
	}
}

// NewServer builds a go-router server backed by fiber with the controller
// mounted. setup runs against the fiber app before any route is added.
func NewServer(h *Controller, setup ...func(*fiber.App)) router.Server[*fiber.App] {
	srv := router.NewFiberAdapter(func(_ *fiber.App) *fiber.App {
		app := router.DefaultFiberOptions(fiber.New(fiber.Config{
			DisableStartupMessage: true,
			ErrorHandler:          FiberErrorHandler(h.logger),
		}))
		for _, fn := range setup {
			fn(app)
		}
		return app
	})
	h.Register(srv.Router())
	return srv
}

type sessionResponse struct {
	State                  authsync.SyncState   `json:"state"`
	Identity               *authsync.Identity   `json:"identity"`
	WorkerStats            authsync.WorkerStats `json:"worker_stats,omitempty"`
	Loading                bool                 `json:"loading"`
	Initializing           bool                 `json:"initializing"`
	NeedsEmailVerification bool                 `json:"needs_email_verification"`
	Error                  string               `json:"error,omitempty"`
	ErrorCode              string               `json:"error_code,omitempty"`
}

func toSessionResponse(s authsync.Snapshot) sessionResponse {
	out := sessionResponse{
		State:                  s.State,
		Identity:               s.Identity,
		WorkerStats:            s.WorkerStats,
		Loading:                s.Loading,
		Initializing:           s.Initializing,
		NeedsEmailVerification: s.NeedsEmailVerification,
	}
	if s.LastError != nil {
		out.Error = s.LastError.Error()
		var richErr *errors.Error
		if errors.As(s.LastError, &richErr) {
			out.Error = richErr.Message
			out.ErrorCode = richErr.TextCode
		}
	}
	return out
}

func (h *Controller) GetSession(ctx router.Context) error {
	return ctx.JSON(router.StatusOK, toSessionResponse(h.session.Snapshot()))
}

type tokenRequest struct {
	AccessToken string `json:"access_token"`
}

func (r tokenRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.AccessToken, validation.Required),
	)
}

func (h *Controller) PostToken(ctx router.Context) error {
	req := new(tokenRequest)
	if err := ctx.Bind(req); err != nil {
		return h.ErrorHandler(ctx, errors.Wrap(err, errors.CategoryBadInput, "invalid request body"))
	}
	if err := req.Validate(); err != nil {
		return h.ErrorHandler(ctx, validationError("invalid token request", err))
	}

	if _, err := h.tokens.SetToken(ctx.Context(), req.AccessToken); err != nil {
		return h.ErrorHandler(ctx, err)
	}
	return ctx.JSON(http.StatusAccepted, toSessionResponse(h.session.Snapshot()))
}

func (h *Controller) PostRefresh(ctx router.Context) error {
	if err := h.session.Refresh(ctx.Context()); err != nil {
		return h.ErrorHandler(ctx, err)
	}
	return ctx.JSON(http.StatusAccepted, toSessionResponse(h.session.Snapshot()))
}

// PostSignOut always clears the local session. A provider failure is
// reported alongside the resulting state.
func (h *Controller) PostSignOut(ctx router.Context) error {
	err := h.session.SignOut(ctx.Context())

	var perr *authsync.ProviderError
	if err != nil && !errors.As(err, &perr) {
		return h.ErrorHandler(ctx, err)
	}

	res := map[string]any{"session": toSessionResponse(h.session.Snapshot())}
	if perr != nil {
		res["provider_error"] = perr.Error()
	}
	return ctx.JSON(router.StatusOK, res)
}

func (h *Controller) PostProfile(ctx router.Context) error {
	msg := new(authsync.UpdateProfileMessage)
	if err := ctx.Bind(msg); err != nil {
		return h.ErrorHandler(ctx, errors.Wrap(err, errors.CategoryBadInput, "invalid request body"))
	}
	// only the signed in identity may be edited here
	msg.IdentityID = ""

	if err := h.profile.Execute(ctx.Context(), *msg); err != nil {
		return h.ErrorHandler(ctx, err)
	}
	if identity, ok := authsync.IdentityFromRouter(ctx); ok {
		h.logger.Debug("profile updated", "identity", identity.ID)
	}
	return ctx.JSON(router.StatusOK, toSessionResponse(h.session.Snapshot()))
}

// RequireIdentity rejects requests while no identity is resolved and puts
// the identity on the request context otherwise.
func (h *Controller) RequireIdentity(next router.HandlerFunc) router.HandlerFunc {
	return func(ctx router.Context) error {
		identity := h.session.Snapshot().Identity
		if identity == nil {
			return h.ErrorHandler(ctx, authsync.ErrNoIdentity)
		}
		ctx.SetContext(authsync.WithIdentity(ctx.Context(), identity))
		return next(ctx)
	}
}

func (h *Controller) GetNotifications(ctx router.Context) error {
	return ctx.JSON(router.StatusOK, h.feed.State())
}

func (h *Controller) GetUnreadCount(ctx router.Context) error {
	return ctx.JSON(router.StatusOK, unreadResponse{Unread: h.feed.UnreadCount()})
}

type unreadResponse struct {
	Unread int `json:"unread"`
}

func (h *Controller) PostMarkRead(ctx router.Context) error {
	if err := h.feed.MarkRead(ctx.Context(), ctx.Param("id")); err != nil {
		return h.ErrorHandler(ctx, err)
	}
	return ctx.JSON(router.StatusOK, unreadResponse{Unread: h.feed.UnreadCount()})
}

func (h *Controller) PostMarkAllRead(ctx router.Context) error {
	if err := h.feed.MarkAllRead(ctx.Context()); err != nil {
		return h.ErrorHandler(ctx, err)
	}
	return ctx.JSON(router.StatusOK, unreadResponse{Unread: h.feed.UnreadCount()})
}

// PostPublish stores a notification for any owner and pushes it live.
func (h *Controller) PostPublish(ctx router.Context) error {
	req := new(notifications.NewNotification)
	if err := ctx.Bind(req); err != nil {
		return h.ErrorHandler(ctx, errors.Wrap(err, errors.CategoryBadInput, "invalid request body"))
	}

	record, err := h.pub.Publish(ctx.Context(), *req)
	if err != nil {
		return h.ErrorHandler(ctx, err)
	}
	if claims, ok := jwtware.ClaimsFromLocals(ctx, ""); ok {
		h.logger.Debug("notification published", "producer", claims.UserID(), "id", record.ID)
	}
	return ctx.JSON(http.StatusCreated, record)
}

func validationError(message string, err error) *errors.Error {
	fields := map[string]string{}
	if verrs, ok := err.(validation.Errors); ok {
		for field, ferr := range verrs {
			fields[field] = ferr.Error()
		}
	} else {
		fields["form"] = err.Error()
	}
	verr := errors.NewValidationFromMap(message, fields)
	verr.Code = errors.CodeBadRequest
	return verr
}
