// Package nasession holds the console's one session. The session is derived
// from the token persisted in the expiring store: memory only caches what the
// store says, and is reconciled against it at startup, after every transition,
// and whenever a guarded page is rendered.
package nasession

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/brandur/neoadmin/internal/nanav"
	"github.com/brandur/neoadmin/internal/nanotify"
	"github.com/brandur/neoadmin/internal/nastore"
	"github.com/brandur/neoadmin/internal/util/stringutil"
)

const (
	// DefaultTTL is how long a token lives when logging in without an
	// explicit TTL.
	DefaultTTL = 7200 * time.Second

	LoginPath = "/login"

	// TokenKey is the store key under which the session token is persisted.
	TokenKey = "token"
)

const (
	MessageLoggedOut      = "Logged out"
	MessageSessionExpired = "Session expired, please log in again"
)

var ErrTokenEmpty = xerrors.New("token must not be empty")

// Reason describes why a session was invalidated.
type Reason string

const (
	// ReasonExpired means that the stored token disappeared, either because it
	// expired or because something else removed it.
	ReasonExpired Reason = "expired"

	// ReasonUnauthorized means that the API rejected the token with a 401.
	ReasonUnauthorized Reason = "unauthorized"
)

type Session struct {
	logger    *logrus.Logger
	mut       sync.Mutex
	navigator nanav.Navigator
	notifier  nanotify.Notifier
	store     *nastore.ExpiringStore

	// Empty when unauthenticated.
	token string
}

// New creates a session from whatever token is currently in store.
func New(ctx context.Context, logger *logrus.Logger, store *nastore.ExpiringStore,
	notifier nanotify.Notifier, navigator nanav.Navigator,
) (*Session, error) {
	s := &Session{
		logger:    logger,
		navigator: navigator,
		notifier:  notifier,
		store:     store,
	}

	token, _, err := nastore.GetValue[string](ctx, store, TokenKey)
	if err != nil {
		return nil, xerrors.Errorf("error reading stored token: %w", err)
	}
	s.token = token

	if err := s.Reconcile(ctx); err != nil {
		return nil, err
	}

	s.logger.WithField("authenticated", s.token != "").
		Infof("nasession: Initialized session")

	return s, nil
}

// IsAuthenticated reports the in-memory state without reconciling.
func (s *Session) IsAuthenticated() bool {
	s.mut.Lock()
	defer s.mut.Unlock()

	return s.token != ""
}

func (s *Session) Token() (string, bool) {
	s.mut.Lock()
	defer s.mut.Unlock()

	return s.token, s.token != ""
}

// Authenticated reconciles against the store and then reports whether the
// session is authenticated. A store that can't be read counts as
// unauthenticated.
func (s *Session) Authenticated(ctx context.Context) bool {
	s.mut.Lock()
	defer s.mut.Unlock()

	if err := s.reconcile(ctx); err != nil {
		s.logger.Errorf("nasession: Error reconciling session: %v", err)
		return false
	}

	return s.token != ""
}

// Login stores token with DefaultTTL and moves to the authenticated state.
func (s *Session) Login(ctx context.Context, token string) error {
	return s.LoginWithTTL(ctx, token, DefaultTTL)
}

// LoginWithTTL stores token so that it expires after ttl and moves to the
// authenticated state. A ttl of zero or less stores a token that never
// expires. If the token can't be persisted, the session is left as it was.
func (s *Session) LoginWithTTL(ctx context.Context, token string, ttl time.Duration) error {
	if token == "" {
		return ErrTokenEmpty
	}

	s.mut.Lock()
	defer s.mut.Unlock()

	if err := s.store.Set(ctx, TokenKey, token, ttl); err != nil {
		return xerrors.Errorf("error storing token: %w", err)
	}
	s.token = token

	s.logger.WithFields(logrus.Fields{
		"token": stringutil.MaskToken(token),
		"ttl":   ttl,
	}).Infof("nasession: Logged in")

	return s.reconcile(ctx)
}

// Logout clears the session regardless of its current state, then tells the
// operator and sends them to the login page.
func (s *Session) Logout(ctx context.Context) error {
	s.mut.Lock()
	defer s.mut.Unlock()

	// Memory only changes once the store has, so a failed removal leaves the
	// session as it was.
	if err := s.store.Remove(ctx, TokenKey); err != nil {
		return xerrors.Errorf("error removing token: %w", err)
	}
	s.token = ""

	s.logger.Infof("nasession: Logged out")
	s.notifier.Notify(nanotify.LevelSuccess, MessageLoggedOut)
	s.navigator.Navigate(LoginPath)

	return nil
}

// Reconcile re-derives the session from the store. An authenticated session
// whose token is no longer stored is invalidated as expired. An
// unauthenticated session makes sure no stray token is left in the store.
func (s *Session) Reconcile(ctx context.Context) error {
	s.mut.Lock()
	defer s.mut.Unlock()

	return s.reconcile(ctx)
}

// Invalidate is the one way that a session ends involuntarily. Both
// reconciliation and the API client's handling of 401s come through here, so
// the operator sees a single expiry notification no matter how many paths
// notice the session is gone.
func (s *Session) Invalidate(ctx context.Context, reason Reason) error {
	s.mut.Lock()
	defer s.mut.Unlock()

	return s.invalidate(ctx, reason)
}

func (s *Session) invalidate(ctx context.Context, reason Reason) error {
	wasAuthenticated := s.token != ""
	s.token = ""

	if err := s.store.Remove(ctx, TokenKey); err != nil {
		return xerrors.Errorf("error removing token: %w", err)
	}

	if !wasAuthenticated {
		return nil
	}

	s.logger.WithField("reason", string(reason)).
		Infof("nasession: Session invalidated")
	s.notifier.Notify(nanotify.LevelError, MessageSessionExpired)

	if reason == ReasonUnauthorized {
		s.navigator.Assign(LoginPath)
	} else {
		s.navigator.Navigate(LoginPath)
	}

	return nil
}

func (s *Session) reconcile(ctx context.Context) error {
	if s.token == "" {
		if err := s.store.Remove(ctx, TokenKey); err != nil {
			return xerrors.Errorf("error removing token: %w", err)
		}
		return nil
	}

	stored, ok, err := nastore.GetValue[string](ctx, s.store, TokenKey)
	if err != nil {
		return xerrors.Errorf("error reading stored token: %w", err)
	}

	if ok && stored == s.token {
		return nil
	}

	return s.invalidate(ctx, ReasonExpired)
}
