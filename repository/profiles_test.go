package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	authsync "github.com/goliatone/go-auth-sync"
	notifications "github.com/goliatone/go-auth-sync/notification/repository"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func setupManager(t *testing.T) *Manager {
	t.Helper()

	db, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())
	t.Cleanup(func() {
		_ = bunDB.Close()
	})

	mgr := NewManager(bunDB)
	mgr.MustValidate()
	require.NoError(t, mgr.Migrate(context.Background()))
	return mgr
}

func TestProfilesResolveMissingProfile(t *testing.T) {
	mgr := setupManager(t)

	got, err := mgr.Profiles().ResolveIdentityContext(context.Background(), &authsync.Session{UserID: uuid.NewString()})
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = mgr.Profiles().ResolveIdentityContext(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestProfilesResolveCustomer(t *testing.T) {
	mgr := setupManager(t)
	ctx := context.Background()

	profile, err := mgr.Profiles().Provision(ctx, &ProfileModel{
		Email:    "ada@example.com",
		FullName: "Ada Lovelace",
		Role:     string(authsync.RoleCustomer),
		Verified: true,
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, profile.ID)

	got, err := mgr.Profiles().ResolveIdentityContext(ctx, &authsync.Session{UserID: profile.ID.String()})
	require.NoError(t, err)
	require.NotNil(t, got)
	require.False(t, got.Empty())

	identity, stats, err := got.ToIdentity(&authsync.Session{UserID: profile.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, profile.ID.String(), identity.ID)
	assert.Equal(t, "Ada Lovelace", identity.Name)
	assert.Equal(t, authsync.RoleCustomer, identity.Role)
	assert.True(t, identity.Verified)
	assert.Nil(t, stats)
}

func TestProfilesResolveWorkerStats(t *testing.T) {
	mgr := setupManager(t)
	ctx := context.Background()

	profile, err := mgr.Profiles().Provision(ctx, &ProfileModel{
		Email: "bob@example.com",
		Role:  string(authsync.RoleWorker),
	})
	require.NoError(t, err)

	got, err := mgr.Profiles().ResolveIdentityContext(ctx, &authsync.Session{UserID: profile.ID.String()})
	require.NoError(t, err)
	assert.NotNil(t, got.WorkerStats)
	assert.Empty(t, got.WorkerStats)

	require.NoError(t, mgr.Profiles().SetWorkerStats(ctx, profile.ID, map[string]any{"completed_jobs": 3}))
	require.NoError(t, mgr.Profiles().SetWorkerStats(ctx, profile.ID, map[string]any{"completed_jobs": 4}))

	got, err = mgr.Profiles().ResolveIdentityContext(ctx, &authsync.Session{UserID: profile.ID.String()})
	require.NoError(t, err)
	assert.EqualValues(t, 4, got.WorkerStats["completed_jobs"])
}

func TestProfilesProvisionDerivesIDFromEmail(t *testing.T) {
	mgr := setupManager(t)
	ctx := context.Background()

	first, err := mgr.Profiles().Provision(ctx, &ProfileModel{Email: "Ada@Example.com", Role: "customer"})
	require.NoError(t, err)

	_, err = mgr.Profiles().Provision(ctx, &ProfileModel{Email: "ada@example.com", Role: "customer"})
	require.Error(t, err)

	_, err = mgr.Profiles().Provision(ctx, &ProfileModel{Email: "x@example.com", Role: "owner"})
	require.Error(t, err)
	assert.True(t, authsync.HasTextCode(err, authsync.TextCodeInvalidRole))

	assert.NotEqual(t, uuid.Nil, first.ID)
}

func TestProfilesMutateProfile(t *testing.T) {
	mgr := setupManager(t)
	ctx := context.Background()

	profile, err := mgr.Profiles().Provision(ctx, &ProfileModel{
		Email:     "ada@example.com",
		FullName:  "Ada",
		AvatarURL: "https://cdn.example.com/old.png",
		Role:      "customer",
	})
	require.NoError(t, err)

	name := "Ada Lovelace"
	phone := "+14155552671"
	require.NoError(t, mgr.Profiles().MutateProfile(ctx, profile.ID.String(), authsync.ProfileFields{
		Name:  &name,
		Phone: &phone,
	}))

	got, err := mgr.Profiles().ResolveIdentityContext(ctx, &authsync.Session{UserID: profile.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", got.User.FullName)
	assert.Equal(t, "+14155552671", got.User.Phone)
	assert.Equal(t, "https://cdn.example.com/old.png", got.User.AvatarURL)
}

func TestProfilesMutateUnknownProfile(t *testing.T) {
	mgr := setupManager(t)

	name := "x"
	err := mgr.Profiles().MutateProfile(context.Background(), uuid.NewString(), authsync.ProfileFields{Name: &name})
	require.Error(t, err)
	assert.True(t, repository.IsRecordNotFound(err))

	require.NoError(t, mgr.Profiles().MutateProfile(context.Background(), uuid.NewString(), authsync.ProfileFields{}))
}

func TestProfilesDriveEngineAndProfileUpdate(t *testing.T) {
	mgr := setupManager(t)
	ctx := context.Background()

	profile, err := mgr.Profiles().Provision(ctx, &ProfileModel{Email: "ada@example.com", FullName: "Ada", Role: "customer"})
	require.NoError(t, err)

	store := &staticSessionStore{session: &authsync.Session{
		UserID:         profile.ID.String(),
		Email:          "ada@example.com",
		EmailConfirmed: true,
	}}
	engine := authsync.NewEngine(store, mgr.Profiles())
	require.NoError(t, engine.Start(ctx))
	defer engine.Stop()

	require.Eventually(t, func() bool {
		return engine.State() == authsync.StateResolved
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "Ada", engine.CurrentIdentity().Name)

	handler := authsync.NewUpdateProfileHandler(engine, mgr.Profiles())
	name := "Ada Lovelace"
	require.NoError(t, handler.Execute(ctx, authsync.UpdateProfileMessage{Name: &name}))

	require.Eventually(t, func() bool {
		id := engine.CurrentIdentity()
		return id != nil && id.Name == "Ada Lovelace"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestManagerExposesNotificationStore(t *testing.T) {
	mgr := setupManager(t)
	ctx := context.Background()

	_, err := mgr.Notifications().Publish(ctx, notifications.NewNotification{OwnerID: "u1", Title: "hello"})
	require.NoError(t, err)

	records, err := mgr.Notifications().List(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestManagerMigrateIsIdempotent(t *testing.T) {
	mgr := setupManager(t)
	ctx := context.Background()

	require.NoError(t, mgr.Migrate(ctx))

	applied, err := mgr.db.NewSelect().Table("bun_migrations").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, applied)

	var index string
	require.NoError(t, mgr.db.NewSelect().
		ColumnExpr("name").
		Table("sqlite_master").
		Where("type = ? AND name = ?", "index", "idx_notifications_owner_created").
		Scan(ctx, &index))
	assert.Equal(t, "idx_notifications_owner_created", index)
}

func TestManagerRunInTx(t *testing.T) {
	mgr := setupManager(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := mgr.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().Model(&ProfileModel{
			ID:        uuid.New(),
			Role:      string(authsync.RoleCustomer),
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}).Exec(ctx)
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	count, err := mgr.db.NewSelect().Model((*ProfileModel)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = mgr.RunInTx(cancelled, nil, func(context.Context, bun.Tx) error {
		t.Fatal("should not run with a done context")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

type staticSessionStore struct {
	session *authsync.Session
}

func (s *staticSessionStore) GetSession(context.Context) (*authsync.Session, error) {
	return s.session, nil
}

func (s *staticSessionStore) OnAuthStateChange(authsync.AuthStateListener) authsync.Subscription {
	return authsync.SubscriptionFunc(func() {})
}

func (s *staticSessionStore) SignOut(context.Context) error { return nil }
