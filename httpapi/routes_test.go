package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	authsync "github.com/goliatone/go-auth-sync"
	"github.com/goliatone/go-auth-sync/httpapi"
	"github.com/goliatone/go-auth-sync/middleware/jwtware"
	"github.com/goliatone/go-auth-sync/notification"
	notifications "github.com/goliatone/go-auth-sync/notification/repository"
	"github.com/goliatone/go-auth-sync/provider/jwtsession"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu        sync.Mutex
	snapshot  authsync.Snapshot
	refreshes int
	signOut   error
}

func (f *fakeSession) Snapshot() authsync.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot
}

func (f *fakeSession) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return nil
}

func (f *fakeSession) SignOut(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot = authsync.Snapshot{State: authsync.StateAnonymous}
	return f.signOut
}

type fakeTokens struct {
	tokens []string
	err    error
}

func (f *fakeTokens) SetToken(_ context.Context, token string) (*authsync.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tokens = append(f.tokens, token)
	return &authsync.Session{UserID: "u1"}, nil
}

type fakeProfile struct {
	msgs       []authsync.UpdateProfileMessage
	identities []string
	err        error
}

func (f *fakeProfile) Execute(ctx context.Context, msg authsync.UpdateProfileMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if identity, ok := authsync.IdentityFromContext(ctx); ok {
		f.identities = append(f.identities, identity.ID)
	}
	f.msgs = append(f.msgs, msg)
	return f.err
}

type memoryStore struct {
	records  []notification.Record
	failRead bool
}

func (s *memoryStore) List(context.Context, string, int) ([]notification.Record, error) {
	return s.records, nil
}

func (s *memoryStore) MarkRead(context.Context, string) error {
	if s.failRead {
		return errors.New("store unavailable")
	}
	return nil
}

func (s *memoryStore) MarkAllRead(context.Context, string) error { return nil }

type fakePublisher struct {
	got []notifications.NewNotification
}

func (f *fakePublisher) Publish(_ context.Context, n notifications.NewNotification) (notification.Record, error) {
	if n.OwnerID == "" {
		return notification.Record{}, notification.ErrNoOwner
	}
	f.got = append(f.got, n)
	return notification.Record{ID: "n1", OwnerID: n.OwnerID, Title: n.Title}, nil
}

func resolvedSnapshot() authsync.Snapshot {
	return authsync.Snapshot{
		State:    authsync.StateResolved,
		Identity: &authsync.Identity{ID: "u1", Email: "u1@example.com", Role: authsync.RoleWorker},
		WorkerStats: authsync.WorkerStats{
			"completed_jobs": 12,
		},
	}
}

// newContext returns a mock whose request context follows SetContext, the
// way a real router context does.
func newContext() *router.MockContext {
	ctx := router.NewMockContext()
	call := ctx.On("Context").Return(context.Background())
	ctx.On("SetContext", mock.Anything).Run(func(args mock.Arguments) {
		call.ReturnArguments = mock.Arguments{args.Get(0)}
	}).Return()
	return ctx
}

// expectJSON captures the body rendered with status as decoded JSON.
func expectJSON(t *testing.T, ctx *router.MockContext, status int) map[string]any {
	t.Helper()
	body := map[string]any{}
	ctx.On("JSON", status, mock.Anything).Run(func(args mock.Arguments) {
		raw, err := json.Marshal(args.Get(1))
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &body))
	}).Return(nil).Once()
	return body
}

func bindBody(t *testing.T, ctx *router.MockContext, payload string) {
	t.Helper()
	ctx.On("Bind", mock.Anything).Run(func(args mock.Arguments) {
		require.NoError(t, json.Unmarshal([]byte(payload), args.Get(0)))
	}).Return(nil)
}

func TestGetSession(t *testing.T) {
	h := httpapi.NewController(&fakeSession{snapshot: resolvedSnapshot()})

	ctx := newContext()
	body := expectJSON(t, ctx, http.StatusOK)
	require.NoError(t, h.GetSession(ctx))

	assert.Equal(t, "resolved", body["state"])
	identity := body["identity"].(map[string]any)
	assert.Equal(t, "u1", identity["id"])
	assert.Equal(t, "worker", identity["role"])
	assert.EqualValues(t, 12, body["worker_stats"].(map[string]any)["completed_jobs"])
}

func TestGetSessionReportsLastError(t *testing.T) {
	h := httpapi.NewController(&fakeSession{snapshot: authsync.Snapshot{
		State:     authsync.StateAnonymous,
		LastError: authsync.ErrTerminalResolution,
	}})

	ctx := newContext()
	body := expectJSON(t, ctx, http.StatusOK)
	require.NoError(t, h.GetSession(ctx))

	assert.Equal(t, authsync.TextCodeTerminalResolution, body["error_code"])
	assert.Nil(t, body["identity"])
}

func TestPostRefresh(t *testing.T) {
	session := &fakeSession{snapshot: resolvedSnapshot()}
	h := httpapi.NewController(session)

	ctx := newContext()
	body := expectJSON(t, ctx, http.StatusAccepted)
	require.NoError(t, h.PostRefresh(ctx))

	assert.Equal(t, 1, session.refreshes)
	assert.Equal(t, "resolved", body["state"])
}

func TestPostSignOut(t *testing.T) {
	h := httpapi.NewController(&fakeSession{snapshot: resolvedSnapshot()})

	ctx := newContext()
	body := expectJSON(t, ctx, http.StatusOK)
	require.NoError(t, h.PostSignOut(ctx))

	assert.Equal(t, "anonymous", body["session"].(map[string]any)["state"])
	assert.Nil(t, body["provider_error"])
}

func TestPostSignOutReportsProviderFailure(t *testing.T) {
	h := httpapi.NewController(&fakeSession{
		snapshot: resolvedSnapshot(),
		signOut:  &authsync.ProviderError{Operation: "sign_out", Err: errors.New("timeout")},
	})

	ctx := newContext()
	body := expectJSON(t, ctx, http.StatusOK)
	require.NoError(t, h.PostSignOut(ctx))

	assert.Equal(t, "anonymous", body["session"].(map[string]any)["state"])
	assert.Contains(t, body["provider_error"], "timeout")
}

func TestPostToken(t *testing.T) {
	tokens := &fakeTokens{}
	h := httpapi.NewController(&fakeSession{}, httpapi.WithTokenAcceptor(tokens))

	ctx := newContext()
	bindBody(t, ctx, `{"access_token":""}`)
	body := expectJSON(t, ctx, http.StatusBadRequest)
	require.NoError(t, h.PostToken(ctx))
	assert.Equal(t, "cannot be blank", body["fields"].(map[string]any)["access_token"])
	assert.Empty(t, tokens.tokens)

	ctx = newContext()
	bindBody(t, ctx, `{"access_token":"abc"}`)
	expectJSON(t, ctx, http.StatusAccepted)
	require.NoError(t, h.PostToken(ctx))
	assert.Equal(t, []string{"abc"}, tokens.tokens)

	tokens.err = authsync.ErrNoIdentity
	ctx = newContext()
	bindBody(t, ctx, `{"access_token":"abc"}`)
	body = expectJSON(t, ctx, http.StatusUnauthorized)
	require.NoError(t, h.PostToken(ctx))
	assert.Equal(t, authsync.TextCodeNoIdentity, body["text_code"])
}

func TestPostTokenRejectsUnreadableBody(t *testing.T) {
	h := httpapi.NewController(&fakeSession{}, httpapi.WithTokenAcceptor(&fakeTokens{}))

	ctx := newContext()
	ctx.On("Bind", mock.Anything).Return(errors.New("unexpected EOF"))
	expectJSON(t, ctx, http.StatusBadRequest)
	require.NoError(t, h.PostToken(ctx))
	ctx.AssertExpectations(t)
}

func TestPostProfile(t *testing.T) {
	profile := &fakeProfile{}
	h := httpapi.NewController(&fakeSession{snapshot: resolvedSnapshot()}, httpapi.WithProfileUpdater(profile))
	handler := h.RequireIdentity(h.PostProfile)

	ctx := newContext()
	bindBody(t, ctx, `{"identity_id":"someone-else","name":"Ada"}`)
	expectJSON(t, ctx, http.StatusOK)
	require.NoError(t, handler(ctx))
	require.Len(t, profile.msgs, 1)
	assert.Empty(t, profile.msgs[0].IdentityID)
	assert.Equal(t, "Ada", *profile.msgs[0].Name)
	assert.Equal(t, []string{"u1"}, profile.identities)

	ctx = newContext()
	bindBody(t, ctx, `{"phone":"12"}`)
	body := expectJSON(t, ctx, http.StatusBadRequest)
	require.NoError(t, handler(ctx))
	assert.Equal(t, authsync.TextCodeValidation, body["text_code"])
	assert.Contains(t, body["fields"], "phone")

	profile.err = authsync.ErrMutationFailed
	ctx = newContext()
	bindBody(t, ctx, `{"name":"Ada"}`)
	expectJSON(t, ctx, http.StatusInternalServerError)
	require.NoError(t, handler(ctx))
}

func TestPostProfileRequiresIdentity(t *testing.T) {
	profile := &fakeProfile{}
	h := httpapi.NewController(
		&fakeSession{snapshot: authsync.Snapshot{State: authsync.StateUnverified, NeedsEmailVerification: true}},
		httpapi.WithProfileUpdater(profile),
	)

	ctx := newContext()
	body := expectJSON(t, ctx, http.StatusUnauthorized)
	require.NoError(t, h.RequireIdentity(h.PostProfile)(ctx))

	assert.Equal(t, authsync.TextCodeNoIdentity, body["text_code"])
	assert.Empty(t, profile.msgs)
	ctx.AssertNotCalled(t, "Bind", mock.Anything)
}

func TestNotificationRoutes(t *testing.T) {
	store := &memoryStore{records: []notification.Record{
		{ID: "c", OwnerID: "u1", Title: "C"},
		{ID: "a", OwnerID: "u1", Title: "A", Read: true},
		{ID: "b", OwnerID: "u1", Title: "B"},
	}}
	feed := notification.NewFeed(store, nil)
	defer feed.Close()
	require.NoError(t, feed.Attach(context.Background(), "u1"))

	h := httpapi.NewController(&fakeSession{snapshot: resolvedSnapshot()}, httpapi.WithFeed(feed))

	ctx := newContext()
	body := expectJSON(t, ctx, http.StatusOK)
	require.NoError(t, h.RequireIdentity(h.GetNotifications)(ctx))
	assert.Len(t, body["records"], 3)
	assert.EqualValues(t, 2, body["unread"])

	ctx = newContext()
	body = expectJSON(t, ctx, http.StatusOK)
	require.NoError(t, h.RequireIdentity(h.GetUnreadCount)(ctx))
	assert.EqualValues(t, 2, body["unread"])

	ctx = newContext()
	ctx.ParamsM["id"] = "c"
	body = expectJSON(t, ctx, http.StatusOK)
	require.NoError(t, h.RequireIdentity(h.PostMarkRead)(ctx))
	assert.EqualValues(t, 1, body["unread"])
	assert.Equal(t, 1, feed.UnreadCount())

	ctx = newContext()
	body = expectJSON(t, ctx, http.StatusOK)
	require.NoError(t, h.RequireIdentity(h.PostMarkAllRead)(ctx))
	assert.EqualValues(t, 0, body["unread"])
	assert.Zero(t, feed.UnreadCount())
}

func TestNotificationRoutesRequireIdentity(t *testing.T) {
	feed := notification.NewFeed(&memoryStore{}, nil)
	defer feed.Close()
	h := httpapi.NewController(&fakeSession{snapshot: authsync.Snapshot{State: authsync.StateAnonymous}}, httpapi.WithFeed(feed))

	ctx := newContext()
	body := expectJSON(t, ctx, http.StatusUnauthorized)
	require.NoError(t, h.RequireIdentity(h.GetNotifications)(ctx))
	assert.Equal(t, authsync.TextCodeNoIdentity, body["text_code"])
}

func TestMarkReadStoreFailure(t *testing.T) {
	store := &memoryStore{records: []notification.Record{{ID: "a", OwnerID: "u1"}}, failRead: true}
	feed := notification.NewFeed(store, nil)
	defer feed.Close()
	require.NoError(t, feed.Attach(context.Background(), "u1"))

	h := httpapi.NewController(&fakeSession{snapshot: resolvedSnapshot()}, httpapi.WithFeed(feed))

	ctx := newContext()
	ctx.ParamsM["id"] = "a"
	body := expectJSON(t, ctx, http.StatusInternalServerError)
	require.NoError(t, h.RequireIdentity(h.PostMarkRead)(ctx))
	assert.Equal(t, notification.TextCodeUpdateFailed, body["text_code"])
	assert.Equal(t, 1, feed.UnreadCount())
}

func TestPostPublish(t *testing.T) {
	pub := &fakePublisher{}
	h := httpapi.NewController(&fakeSession{}, httpapi.WithPublisher(pub))

	ctx := newContext()
	bindBody(t, ctx, `{"owner_id":"u1","title":"Job assigned","dedup_key":"job-1"}`)
	body := expectJSON(t, ctx, http.StatusCreated)
	require.NoError(t, h.PostPublish(ctx))
	assert.Equal(t, "n1", body["id"])
	require.Len(t, pub.got, 1)
	assert.Equal(t, "job-1", pub.got[0].DedupKey)

	ctx = newContext()
	bindBody(t, ctx, `{"title":"orphan"}`)
	body = expectJSON(t, ctx, http.StatusBadRequest)
	require.NoError(t, h.PostPublish(ctx))
	assert.Equal(t, notification.TextCodeNoOwner, body["text_code"])
}

func TestPostPublishGuardedByProducerToken(t *testing.T) {
	pub := &fakePublisher{}
	tokens := jwtsession.New([]byte("producer-secret"))
	h := httpapi.NewController(&fakeSession{}, httpapi.WithPublisher(pub))
	guarded := jwtware.New(jwtware.Config{
		TokenValidator:  tokens,
		AllowedSubjects: []string{"scheduler"},
	})(h.PostPublish)

	publish := func(token string, status int) map[string]any {
		ctx := newContext()
		header := ""
		if token != "" {
			header = "Bearer " + token
		}
		ctx.On("GetString", router.HeaderAuthorization, "").Return(header)
		ctx.On("Locals", "claims", mock.Anything).Return(nil)
		bindBody(t, ctx, `{"owner_id":"u1","title":"Hi"}`)
		body := expectJSON(t, ctx, status)
		require.NoError(t, guarded(ctx))
		return body
	}

	body := publish("", http.StatusUnauthorized)
	assert.Equal(t, jwtware.TextCodeTokenMissing, body["text_code"])

	customer, _, err := tokens.Issue(jwtsession.IssueOptions{UserID: "u1"})
	require.NoError(t, err)
	body = publish(customer, http.StatusForbidden)
	assert.Equal(t, jwtware.TextCodeSubjectDenied, body["text_code"])
	assert.Empty(t, pub.got)

	producer, _, err := tokens.Issue(jwtsession.IssueOptions{UserID: "scheduler"})
	require.NoError(t, err)
	body = publish(producer, http.StatusCreated)
	assert.Equal(t, "n1", body["id"])
	require.Len(t, pub.got, 1)
}

func TestCustomErrorHandler(t *testing.T) {
	h := httpapi.NewController(&fakeSession{}, httpapi.WithPublisher(&fakePublisher{}))

	var handled error
	h.ErrorHandler = func(_ router.Context, err error) error {
		handled = err
		return nil
	}

	ctx := newContext()
	bindBody(t, ctx, `{"title":"orphan"}`)
	require.NoError(t, h.PostPublish(ctx))
	require.ErrorIs(t, handled, notification.ErrNoOwner)
	ctx.AssertNotCalled(t, "JSON", mock.Anything, mock.Anything)
}

func TestFiberErrorHandlerRendersJSON(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: httpapi.FiberErrorHandler(nil)})

	res, err := app.Test(httptest.NewRequest("GET", "/missing", nil), -1)
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	body := map[string]any{}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.NotEmpty(t, body["error"])
	assert.NotEmpty(t, body["text_code"])
}
