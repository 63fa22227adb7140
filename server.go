package main

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/brandur/neoadmin/internal/nanav"
	"github.com/brandur/neoadmin/internal/nanotify"
	"github.com/brandur/neoadmin/internal/naroute"
	"github.com/brandur/neoadmin/internal/nasession"
	"github.com/brandur/neoadmin/internal/nastore"
)

const (
	HomePath = "/"

	// Store key for the operator's sidebar preference. Never expires.
	SidebarCollapsedKey = "sidebarCollapsed"
)

const (
	MessageLoginSucceeded = "Login succeeded"
)

type Server struct {
	history       *nanav.History
	httpServer    *http.Server
	logger        *logrus.Logger
	loginProvider LoginProvider
	loginTemplate func() (*template.Template, error)
	notifications *nanotify.Queue
	router        *mux.Router
	routes        naroute.Table
	session       *nasession.Session
	stats         StatsSource
	store         *nastore.ExpiringStore
}

type ServerDeps struct {
	History       *nanav.History
	LoginProvider LoginProvider
	Notifications *nanotify.Queue
	Session       *nasession.Session
	Stats         StatsSource
	Store         *nastore.ExpiringStore
}

func NewServer(logger *logrus.Logger, deps *ServerDeps, port int) *Server {
	server := &Server{
		history:       deps.History,
		logger:        logger,
		loginProvider: deps.LoginProvider,
		loginTemplate: sync.OnceValues(parseLogin),
		notifications: deps.Notifications,
		session:       deps.Session,
		stats:         deps.Stats,
		store:         deps.Store,
	}
	server.routes = server.buildRouteTable()

	guard := naroute.NewGuard(deps.Session, nasession.LoginPath)

	router := mux.NewRouter()
	router.Use((&ContextContainerMiddleware{}).Wrapper)
	router.Use((&CanonicalLogLineMiddleware{logger: logger}).Wrapper)
	router.Use(NewInspectableWriterMiddleware().Wrapper)

	router.Handle("/healthz", http.HandlerFunc(server.handleHealthz)).Methods(http.MethodGet)
	router.Handle(nasession.LoginPath, server.wrapEndpoint(server.handleLoginForm)).Methods(http.MethodGet)
	router.Handle(nasession.LoginPath, server.wrapEndpoint(server.handleLoginSubmit)).Methods(http.MethodPost)
	router.Handle("/logout", server.wrapEndpoint(server.handleLogout)).Methods(http.MethodPost)

	protected := router.NewRoute().Subrouter()
	protected.Use(guard.Wrapper)
	protected.Handle(HomePath, server.wrapEndpoint(server.handleIndex)).Methods(http.MethodGet)
	protected.Handle("/sidebar/toggle", server.wrapEndpoint(server.handleSidebarToggle)).Methods(http.MethodPost)
	for _, route := range server.routes.Flatten() {
		if route.View == nil {
			continue
		}
		protected.Handle(route.Path, route.View).Methods(http.MethodGet)
	}

	server.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,

		// Specified to prevent the "Slowloris" DOS attack, in which an attacker
		// sends many partial requests to exhaust a target server's connections.
		//
		// https://en.wikipedia.org/wiki/Slowloris_(computer_security)
		ReadHeaderTimeout: 5 * time.Second,
	}
	server.router = router

	return server
}

func (s *Server) Start() error {
	s.logger.Infof("Listening on %s", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return xerrors.Errorf("error listening on %s: %w", s.httpServer.Addr, err)
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return xerrors.Errorf("error shutting down server: %w", err)
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleIndex(ctx context.Context, r *http.Request) (*ServerResponse, error) {
	return NewRedirectResponse("/dashboard"), nil
}

func (s *Server) handleLoginForm(ctx context.Context, r *http.Request) (*ServerResponse, error) {
	s.history.Visit(r.URL.Path)
	return s.renderLogin(http.StatusOK, &LoginData{})
}

func (s *Server) handleLoginSubmit(ctx context.Context, r *http.Request) (*ServerResponse, error) {
	if err := r.ParseForm(); err != nil {
		return nil, NewServerError(http.StatusBadRequest, "Could not parse login form.")
	}

	var (
		username = strings.TrimSpace(r.PostFormValue("username"))
		password = r.PostFormValue("password")
		data     = &LoginData{Username: username}
	)

	if username == "" {
		data.UsernameError = ErrMessageUsernameEmpty
	}
	if password == "" {
		data.PasswordError = ErrMessagePasswordEmpty
	}
	if data.UsernameError != "" || data.PasswordError != "" {
		return s.renderLogin(http.StatusBadRequest, data)
	}

	result, err := s.loginProvider.Login(ctx, username, password)
	if err != nil {
		s.logger.WithField("username", username).Warnf("Login failed: %v", err)
		s.notifications.Notify(nanotify.LevelError, ErrMessageLoginFailed)
		return s.renderLogin(http.StatusUnauthorized, data)
	}

	if err := s.session.LoginWithTTL(ctx, result.Token, result.TTL); err != nil {
		return nil, xerrors.Errorf("error logging in: %w", err)
	}

	s.notifications.Notify(nanotify.LevelSuccess, MessageLoginSucceeded)
	s.history.Navigate(HomePath)

	return NewRedirectResponse(HomePath), nil
}

func (s *Server) handleLogout(ctx context.Context, r *http.Request) (*ServerResponse, error) {
	if err := s.session.Logout(ctx); err != nil {
		return nil, xerrors.Errorf("error logging out: %w", err)
	}

	return NewRedirectResponse(nasession.LoginPath), nil
}

func (s *Server) handleSidebarToggle(ctx context.Context, r *http.Request) (*ServerResponse, error) {
	collapsed, _, err := nastore.GetValue[bool](ctx, s.store, SidebarCollapsedKey)
	if err != nil {
		return nil, xerrors.Errorf("error reading sidebar preference: %w", err)
	}

	if err := s.store.Set(ctx, SidebarCollapsedKey, !collapsed, 0); err != nil {
		return nil, xerrors.Errorf("error storing sidebar preference: %w", err)
	}

	back := s.history.Current()
	if back == "" || back == nasession.LoginPath {
		back = HomePath
	}

	return NewRedirectResponse(back), nil
}

// Produces an endpoint that renders a protected page into the shell layout.
func (s *Server) pageEndpoint(tmpl *template.Template, title string,
	content func(ctx context.Context, r *http.Request) (any, error),
) func(ctx context.Context, r *http.Request) (*ServerResponse, error) {
	return func(ctx context.Context, r *http.Request) (*ServerResponse, error) {
		pageContent, err := content(ctx, r)
		if err != nil {
			return nil, err
		}

		// Loading content may have ended the session (say the API answered
		// with a 401), in which case the operator goes elsewhere and any
		// notifications are saved for the page they land on.
		if resp, ok := s.takeNavigation(r); ok {
			return resp, nil
		}

		collapsed, _, err := nastore.GetValue[bool](ctx, s.store, SidebarCollapsedKey)
		if err != nil {
			return nil, xerrors.Errorf("error reading sidebar preference: %w", err)
		}

		s.history.Visit(r.URL.Path)

		body, err := renderTemplate(tmpl, "layout", &LayoutData{
			Breadcrumbs:   s.routes.Breadcrumbs(r.URL.Path),
			Collapsed:     collapsed,
			Content:       pageContent,
			CurrentPath:   r.URL.Path,
			Menu:          s.routes.MenuItems(),
			Notifications: s.notifications.Drain(),
			Title:         title,
		})
		if err != nil {
			return nil, err
		}

		return NewServerResponse(http.StatusOK, body, nil), nil
	}
}

func (s *Server) renderLogin(statusCode int, data *LoginData) (*ServerResponse, error) {
	tmpl, err := s.loginTemplate()
	if err != nil {
		return nil, err
	}

	data.Notifications = s.notifications.Drain()

	body, err := renderTemplate(tmpl, "login", data)
	if err != nil {
		return nil, err
	}

	return NewServerResponse(statusCode, body, nil), nil
}

// Converts a navigation requested by the session (or anything else holding the
// history) into a redirect. A navigation to the page being requested is
// dropped since the operator is already there.
func (s *Server) takeNavigation(r *http.Request) (*ServerResponse, bool) {
	nav, ok := s.history.TakePending()
	if !ok {
		return nil, false
	}

	if r.Method == http.MethodGet && nav.Path == r.URL.Path {
		return nil, false
	}

	if ctxContainer, ok := r.Context().Value(contextContainerContextKey{}).(*ContextContainer); ok {
		ctxContainer.Navigation = "app"
		if nav.Full {
			ctxContainer.Navigation = "full"
		}
	}

	return NewRedirectResponse(nav.Path), true
}

type ServerResponse struct {
	Body       []byte
	Header     http.Header
	StatusCode int
}

func NewServerResponse(statusCode int, body []byte, header http.Header) *ServerResponse {
	return &ServerResponse{Body: body, Header: header, StatusCode: statusCode}
}

func NewRedirectResponse(location string) *ServerResponse {
	return NewServerResponse(http.StatusSeeOther, nil, http.Header{
		"Location": []string{location},
	})
}

func (s *Server) wrapEndpoint(h func(ctx context.Context, r *http.Request) (*ServerResponse, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxContainer := ContextContainerFrom(r.Context())
		w.Header().Set("Content-Type", "text/html;charset=utf-8")

		resp, err := h(r.Context(), r)

		// Any navigation still pending (like one requested by a logout) takes
		// precedence over what the endpoint produced.
		if navResp, ok := s.takeNavigation(r); ok {
			resp, err = navResp, nil
		}

		ctxContainer.Authenticated = s.session.IsAuthenticated()

		if err != nil {
			var serverErr *ServerError
			if errors.As(err, &serverErr) {
				ctxContainer.StatusCode = serverErr.StatusCode
				w.WriteHeader(serverErr.StatusCode)
				_, _ = w.Write([]byte(err.Error()))
				return
			}

			s.logger.WithField("request_id", ctxContainer.RequestID).
				Errorf("Internal error: %v", err)

			ctxContainer.StatusCode = http.StatusInternalServerError
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(ErrMessageInternalError))
			return
		}

		if len(resp.Header) > 0 {
			for k, vs := range resp.Header {
				for _, v := range vs {
					w.Header().Add(k, v)
				}
			}
		}

		if resp.StatusCode == 0 {
			resp.StatusCode = http.StatusOK
		}

		ctxContainer.StatusCode = resp.StatusCode
		w.WriteHeader(resp.StatusCode)

		_, _ = w.Write(resp.Body)
	})
}
