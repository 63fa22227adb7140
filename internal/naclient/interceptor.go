package naclient

import (
	"context"
	"net/http"

	"golang.org/x/xerrors"

	"github.com/brandur/neoadmin/internal/nasession"
	"github.com/brandur/neoadmin/internal/nastore"
)

// TokenSource produces the token to send with a request, if there is one.
type TokenSource func(ctx context.Context) (string, bool, error)

// StoredToken reads the session token straight from the store rather than
// asking the session, so requests always carry whatever is persisted right
// now.
func StoredToken(store *nastore.ExpiringStore) TokenSource {
	return func(ctx context.Context) (string, bool, error) {
		return nastore.GetValue[string](ctx, store, nasession.TokenKey)
	}
}

// BearerToken sets an `Authorization: Bearer` header on requests when tokens
// has a token to offer.
func BearerToken(tokens TokenSource) RequestInterceptor {
	return func(r *http.Request) error {
		token, ok, err := tokens(r.Context())
		if err != nil {
			return xerrors.Errorf("error reading token: %w", err)
		}

		if ok && token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}

		return nil
	}
}
