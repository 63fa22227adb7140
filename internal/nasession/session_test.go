package nasession

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/brandur/neoadmin/internal/nanav"
	"github.com/brandur/neoadmin/internal/nanotify"
	"github.com/brandur/neoadmin/internal/nastore"
	"github.com/brandur/neoadmin/internal/nastore/namemorystore"
)

var logger = logrus.New()

var stableTime = time.Date(2022, 11, 9, 10, 11, 12, 0, time.UTC)

func TestSession(t *testing.T) {
	var (
		ctx      context.Context
		history  *nanav.History
		notifier *nanotify.Queue
		store    *nastore.ExpiringStore
	)

	setup := func(test func(*testing.T)) func(*testing.T) {
		return func(t *testing.T) {
			t.Helper()

			ctx = context.Background()
			history = nanav.NewHistory()
			notifier = nanotify.NewQueue(logger)
			store = nastore.NewExpiringStore(logger, namemorystore.NewMemoryStore())
			store.SetTimeNow(func() time.Time { return stableTime })

			test(t)
		}
	}

	newSession := func(t *testing.T) *Session {
		t.Helper()

		session, err := New(ctx, logger, store, notifier, history)
		require.NoError(t, err)
		return session
	}

	requireStoredToken := func(t *testing.T, expected string) {
		t.Helper()

		token, ok, err := nastore.GetValue[string](ctx, store, TokenKey)
		require.NoError(t, err)
		if expected == "" {
			require.False(t, ok)
		} else {
			require.True(t, ok)
			require.Equal(t, expected, token)
		}
	}

	t.Run("InitiallyUnauthenticated", setup(func(t *testing.T) {
		session := newSession(t)
		require.False(t, session.IsAuthenticated())

		_, ok := session.Token()
		require.False(t, ok)
		require.Empty(t, notifier.Drain())
	}))

	t.Run("InitiallyAuthenticatedFromStore", setup(func(t *testing.T) {
		require.NoError(t, store.Set(ctx, TokenKey, "t1", time.Hour))

		session := newSession(t)
		require.True(t, session.IsAuthenticated())

		token, ok := session.Token()
		require.True(t, ok)
		require.Equal(t, "t1", token)
	}))

	t.Run("InitiallyExpiredInStore", setup(func(t *testing.T) {
		require.NoError(t, store.Set(ctx, TokenKey, "t1", time.Second))
		store.SetTimeNow(func() time.Time { return stableTime.Add(time.Minute) })

		session := newSession(t)
		require.False(t, session.IsAuthenticated())

		// It was never authenticated in memory, so there's nothing to
		// announce.
		require.Empty(t, notifier.Drain())
	}))

	t.Run("Login", setup(func(t *testing.T) {
		session := newSession(t)

		require.NoError(t, session.Login(ctx, "t1"))
		require.True(t, session.IsAuthenticated())
		requireStoredToken(t, "t1")

		// Default TTL applies.
		store.SetTimeNow(func() time.Time { return stableTime.Add(DefaultTTL) })
		require.True(t, session.Authenticated(ctx))
	}))

	t.Run("LoginEmptyToken", setup(func(t *testing.T) {
		session := newSession(t)
		require.ErrorIs(t, session.Login(ctx, ""), ErrTokenEmpty)
		require.False(t, session.IsAuthenticated())
	}))

	t.Run("LoginWithoutExpiry", setup(func(t *testing.T) {
		session := newSession(t)
		require.NoError(t, session.LoginWithTTL(ctx, "t1", 0))

		store.SetTimeNow(func() time.Time { return stableTime.Add(365 * 24 * time.Hour) })
		require.True(t, session.Authenticated(ctx))
	}))

	t.Run("ExpiresOnReconcile", setup(func(t *testing.T) {
		session := newSession(t)
		require.NoError(t, session.Login(ctx, "t1"))

		store.SetTimeNow(func() time.Time { return stableTime.Add(DefaultTTL).Add(time.Second) })

		// In-memory state is stale until a reconciliation pass runs.
		require.True(t, session.IsAuthenticated())

		require.NoError(t, session.Reconcile(ctx))
		require.False(t, session.IsAuthenticated())
		requireStoredToken(t, "")

		// Further passes don't announce the expiry again.
		require.NoError(t, session.Reconcile(ctx))
		require.False(t, session.Authenticated(ctx))

		require.Equal(t, []nanotify.Notification{
			{Level: nanotify.LevelError, Message: MessageSessionExpired},
		}, notifier.Drain())

		nav, ok := history.TakePending()
		require.True(t, ok)
		require.Equal(t, &nanav.Navigation{Path: LoginPath}, nav)
	}))

	t.Run("ExternallyCleared", setup(func(t *testing.T) {
		session := newSession(t)
		require.NoError(t, session.Login(ctx, "t1"))

		// Something else (another process sharing the store) removes the
		// token.
		require.NoError(t, store.Remove(ctx, TokenKey))

		require.False(t, session.Authenticated(ctx))
		require.Equal(t, []nanotify.Notification{
			{Level: nanotify.LevelError, Message: MessageSessionExpired},
		}, notifier.Drain())
	}))

	t.Run("ExternallyReplaced", setup(func(t *testing.T) {
		session := newSession(t)
		require.NoError(t, session.Login(ctx, "t1"))
		require.NoError(t, store.Set(ctx, TokenKey, "t2", time.Hour))

		require.False(t, session.Authenticated(ctx))
		requireStoredToken(t, "")
	}))

	t.Run("Logout", setup(func(t *testing.T) {
		session := newSession(t)
		require.NoError(t, session.Login(ctx, "t1"))

		require.NoError(t, session.Logout(ctx))
		require.False(t, session.IsAuthenticated())
		requireStoredToken(t, "")

		require.Equal(t, []nanotify.Notification{
			{Level: nanotify.LevelSuccess, Message: MessageLoggedOut},
		}, notifier.Drain())

		nav, ok := history.TakePending()
		require.True(t, ok)
		require.Equal(t, &nanav.Navigation{Path: LoginPath}, nav)
	}))

	t.Run("LogoutWhenUnauthenticated", setup(func(t *testing.T) {
		session := newSession(t)

		require.NoError(t, session.Logout(ctx))
		require.False(t, session.IsAuthenticated())
		requireStoredToken(t, "")
	}))

	t.Run("LogoutStoreFailure", setup(func(t *testing.T) {
		backend := &removeFailingBackend{MemoryStore: namemorystore.NewMemoryStore()}
		store = nastore.NewExpiringStore(logger, backend)
		store.SetTimeNow(func() time.Time { return stableTime })

		session := newSession(t)
		require.NoError(t, session.Login(ctx, "t1"))

		backend.failRemove = true
		require.ErrorIs(t, session.Logout(ctx), errRemoveFailed)

		// Nothing changed, in memory or in the store.
		require.True(t, session.IsAuthenticated())
		requireStoredToken(t, "t1")
		require.Empty(t, notifier.Drain())

		_, ok := history.TakePending()
		require.False(t, ok)

		backend.failRemove = false
		require.NoError(t, session.Logout(ctx))
		require.False(t, session.IsAuthenticated())
		requireStoredToken(t, "")
	}))

	t.Run("UnauthenticatedClearsStrayToken", setup(func(t *testing.T) {
		session := newSession(t)
		require.NoError(t, store.Set(ctx, TokenKey, "stray", time.Hour))

		require.NoError(t, session.Reconcile(ctx))
		require.False(t, session.IsAuthenticated())
		requireStoredToken(t, "")
	}))

	t.Run("InvalidateUnauthorized", setup(func(t *testing.T) {
		session := newSession(t)
		require.NoError(t, session.Login(ctx, "t1"))

		require.NoError(t, session.Invalidate(ctx, ReasonUnauthorized))
		require.False(t, session.IsAuthenticated())
		requireStoredToken(t, "")

		nav, ok := history.TakePending()
		require.True(t, ok)
		require.Equal(t, &nanav.Navigation{Full: true, Path: LoginPath}, nav)

		// A second path noticing the same thing stays quiet.
		require.NoError(t, session.Invalidate(ctx, ReasonUnauthorized))
		require.NoError(t, session.Reconcile(ctx))

		require.Equal(t, []nanotify.Notification{
			{Level: nanotify.LevelError, Message: MessageSessionExpired},
		}, notifier.Drain())
	}))
}

var errRemoveFailed = errors.New("remove failed")

type removeFailingBackend struct {
	*namemorystore.MemoryStore
	failRemove bool
}

func (b *removeFailingBackend) RemoveItem(ctx context.Context, key string) error {
	if b.failRemove {
		return errRemoveFailed
	}
	return b.MemoryStore.RemoveItem(ctx, key)
}
