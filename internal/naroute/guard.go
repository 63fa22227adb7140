package naroute

import (
	"context"
	"net/http"
)

type Authenticator interface {
	Authenticated(ctx context.Context) bool
}

// Guard serves protected views only to authenticated operators and redirects
// everyone else to the login page. It keeps no state of its own, so every
// request is judged against the session as it stands right then.
type Guard struct {
	auth      Authenticator
	loginPath string
}

func NewGuard(auth Authenticator, loginPath string) *Guard {
	return &Guard{auth: auth, loginPath: loginPath}
}

func (g *Guard) Wrapper(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.auth.Authenticated(r.Context()) {
			http.Redirect(w, r, g.loginPath, http.StatusFound)
			return
		}

		next.ServeHTTP(w, r)
	})
}
