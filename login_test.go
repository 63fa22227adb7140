package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brandur/neoadmin/internal/naclient"
	"github.com/brandur/neoadmin/internal/nanav"
	"github.com/brandur/neoadmin/internal/nanotify"
	"github.com/brandur/neoadmin/internal/nasession"
	"github.com/brandur/neoadmin/internal/nastore"
	"github.com/brandur/neoadmin/internal/nastore/namemorystore"
)

func TestMockLoginProvider(t *testing.T) {
	result, err := NewMockLoginProvider(logger).Login(context.Background(), "admin", "anything")
	require.NoError(t, err)
	require.Equal(t, &LoginResult{Token: MockToken, TTL: nasession.DefaultTTL}, result)
}

func TestAPILoginProvider(t *testing.T) {
	var (
		ctx           context.Context
		handler       http.HandlerFunc
		notifications *nanotify.Queue
		provider      *APILoginProvider
	)

	setup := func(test func(*testing.T)) func(*testing.T) {
		return func(t *testing.T) {
			t.Helper()

			ctx = context.Background()
			notifications = nanotify.NewQueue(logger)
			store := nastore.NewExpiringStore(logger, namemorystore.NewMemoryStore())

			session, err := nasession.New(ctx, logger, store, notifications, nanav.NewHistory())
			require.NoError(t, err)

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handler(w, r)
			}))
			t.Cleanup(server.Close)

			client, err := naclient.NewClient(logger, server.URL, notifications, session)
			require.NoError(t, err)
			provider = NewAPILoginProvider(client)

			test(t)
		}
	}

	writeData := func(w http.ResponseWriter, data any) {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 200, "data": data, "message": "ok"})
	}

	t.Run("Success", setup(func(t *testing.T) {
		handler = func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/auth/login", r.URL.Path)

			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			require.JSONEq(t, `{"username":"admin","password":"secret"}`, string(body))

			writeData(w, map[string]any{"token": "api-token", "expiresIn": 600})
		}

		result, err := provider.Login(ctx, "admin", "secret")
		require.NoError(t, err)
		require.Equal(t, &LoginResult{Token: "api-token", TTL: 10 * time.Minute}, result)
	}))

	t.Run("DefaultTTL", setup(func(t *testing.T) {
		handler = func(w http.ResponseWriter, r *http.Request) {
			writeData(w, map[string]any{"token": "api-token"})
		}

		result, err := provider.Login(ctx, "admin", "secret")
		require.NoError(t, err)
		require.Equal(t, nasession.DefaultTTL, result.TTL)
	}))

	t.Run("NoToken", setup(func(t *testing.T) {
		handler = func(w http.ResponseWriter, r *http.Request) {
			writeData(w, map[string]any{})
		}

		_, err := provider.Login(ctx, "admin", "secret")
		require.EqualError(t, err, "API login response contained no token")
	}))

	t.Run("Rejected", setup(func(t *testing.T) {
		handler = func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"code": 401, "message": "Bad credentials"})
		}

		_, err := provider.Login(ctx, "admin", "wrong")
		var envelopeErr *naclient.EnvelopeError
		require.ErrorAs(t, err, &envelopeErr)
		require.Equal(t, "Bad credentials", envelopeErr.Message)
	}))
}
