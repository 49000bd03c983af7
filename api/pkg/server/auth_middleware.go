package server

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/imagedesk/imagedesk/api/pkg/auth"
)

type authMiddleware struct {
	authenticator auth.Authenticator
}

func newAuthMiddleware(authenticator auth.Authenticator) *authMiddleware {
	return &authMiddleware{
		authenticator: authenticator,
	}
}

// extractMiddleware resolves the bearer token to a user and stashes it
// on the request context. No token is not an error here; the require*
// middlewares decide what each route demands.
func (m *authMiddleware) extractMiddleware(next http.Handler) http.Handler {
	f := func(w http.ResponseWriter, r *http.Request) {
		token := getRequestToken(r)
		if token != "" {
			user, err := m.authenticator.ValidateToken(r.Context(), token)
			if err != nil {
				log.Trace().Err(err).Msg("token validation failed")
			} else if user != nil {
				r = r.WithContext(setRequestUser(r.Context(), *user))
			}
		}
		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(f)
}
