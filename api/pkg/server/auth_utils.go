package server

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/imagedesk/imagedesk/api/pkg/types"
)

type contextKey string

const userKey contextKey = "user"

/*
-
Middlewares
-
*/
func requireUser(next http.Handler) http.Handler {
	f := func(w http.ResponseWriter, r *http.Request) {
		user := getRequestUser(r)
		if !hasUser(user) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(f)
}

func requireAdmin(next http.Handler) http.Handler {
	f := func(w http.ResponseWriter, r *http.Request) {
		user := getRequestUser(r)
		if !isAdmin(user) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(f)
}

func hasUser(user *types.User) bool {
	return user != nil && user.ID != ""
}

func isAdmin(user *types.User) bool {
	return hasUser(user) && user.IsAdmin()
}

/*
-
Token
-
*/
func extractBearerToken(token string) string {
	return strings.Replace(token, "Bearer ", "", 1)
}

func getBearerToken(r *http.Request) string {
	return extractBearerToken(r.Header.Get("Authorization"))
}

func getQueryToken(r *http.Request) string {
	return r.URL.Query().Get("access_token")
}

func getRequestToken(r *http.Request) string {
	token := getBearerToken(r)
	if token != "" {
		return token
	}

	cookie, err := r.Cookie("access_token")
	if err == nil && cookie != nil && cookie.Value != "" {
		return cookie.Value
	}

	// query parameter fallback is for the websocket handshake, where
	// browsers cannot set headers
	return getQueryToken(r)
}

/*
-
Request Context
-
*/
func setRequestUser(ctx context.Context, user types.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func getRequestUser(req *http.Request) *types.User {
	userIntf := req.Context().Value(userKey)
	if userIntf != nil {
		user := userIntf.(types.User)
		return &user
	}
	return nil
}

// getClientIP resolves the caller's address for the audit trail,
// preferring the proxy-set header.
func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
