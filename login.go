package main

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/brandur/neoadmin/internal/naclient"
	"github.com/brandur/neoadmin/internal/nasession"
)

// MockToken is the placeholder token issued by MockLoginProvider.
const MockToken = "mock-jwt-token"

type LoginResult struct {
	Token string

	// How long the token should live. Zero or less means it never expires.
	TTL time.Duration
}

// LoginProvider exchanges credentials for a session token. Whatever happens
// here, the session itself is only established afterwards through
// nasession.Session.
type LoginProvider interface {
	Login(ctx context.Context, username, password string) (*LoginResult, error)
}

// MockLoginProvider accepts any credentials and issues MockToken. There's no
// backend authentication protocol behind the console yet, so this is the
// default.
type MockLoginProvider struct {
	logger *logrus.Logger
}

func NewMockLoginProvider(logger *logrus.Logger) *MockLoginProvider {
	return &MockLoginProvider{logger: logger}
}

func (p *MockLoginProvider) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	p.logger.WithField("username", username).Infof("Issuing placeholder token")
	return &LoginResult{Token: MockToken, TTL: nasession.DefaultTTL}, nil
}

// APILoginProvider logs in against the backend API's `POST /auth/login`, which
// is expected to return data like `{"token": "...", "expiresIn": 7200}` with
// expiresIn in seconds.
type APILoginProvider struct {
	client *naclient.Client
}

func NewAPILoginProvider(client *naclient.Client) *APILoginProvider {
	return &APILoginProvider{client: client}
}

func (p *APILoginProvider) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	var data struct {
		ExpiresIn int    `json:"expiresIn"`
		Token     string `json:"token"`
	}

	err := p.client.Post(ctx, "/auth/login", map[string]string{
		"password": password,
		"username": username,
	}, &data)
	if err != nil {
		return nil, xerrors.Errorf("error logging in through API: %w", err)
	}

	if data.Token == "" {
		return nil, xerrors.New("API login response contained no token")
	}

	ttl := nasession.DefaultTTL
	if data.ExpiresIn > 0 {
		ttl = time.Duration(data.ExpiresIn) * time.Second
	}

	return &LoginResult{Token: data.Token, TTL: ttl}, nil
}
