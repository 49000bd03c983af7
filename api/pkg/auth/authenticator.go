// Package auth validates bearer tokens issued by the external identity
// provider and maps their claims onto a request user. The provider
// itself (login flows, token issuance) is out of scope; we only verify
// and read claims.
package auth

import (
	"context"
	"errors"
	"fmt"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/imagedesk/imagedesk/api/pkg/types"
)

var ErrInvalidToken = errors.New("invalid token")

type Authenticator interface {
	ValidateToken(ctx context.Context, token string) (*types.User, error)
}

type JWTAuthenticator struct {
	secret       []byte
	adminUserIDs []string
}

func NewJWTAuthenticator(secret string, adminUserIDs []string) *JWTAuthenticator {
	return &JWTAuthenticator{
		secret:       []byte(secret),
		adminUserIDs: adminUserIDs,
	}
}

func (a *JWTAuthenticator) ValidateToken(_ context.Context, token string) (*types.User, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("error validating token: %s: %w", err.Error(), ErrInvalidToken)
	}

	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type: %w", ErrInvalidToken)
	}

	userID, _ := mc["sub"].(string)
	if userID == "" {
		return nil, fmt.Errorf("no user ID in token: %w", ErrInvalidToken)
	}
	email, _ := mc["email"].(string)
	role, _ := mc["role"].(string)

	user := &types.User{
		ID:    userID,
		Email: email,
		Role:  types.ActorRoleDoctor,
		Token: token,
	}
	if role == string(types.ActorRoleAdmin) || a.isAdminUserID(userID) {
		user.Role = types.ActorRoleAdmin
	}

	return user, nil
}

func (a *JWTAuthenticator) isAdminUserID(userID string) bool {
	for _, adminID := range a.adminUserIDs {
		// "*" means everyone is an admin, development mode only
		if adminID == "*" || adminID == userID {
			return true
		}
	}
	return false
}
