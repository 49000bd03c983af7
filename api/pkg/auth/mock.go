package auth

import (
	"context"
	"fmt"

	"github.com/imagedesk/imagedesk/api/pkg/types"
)

// MockAuthenticator maps fixed token strings to users, for tests.
type MockAuthenticator struct {
	users map[string]*types.User
}

func NewMockAuthenticator(users ...*types.User) *MockAuthenticator {
	m := &MockAuthenticator{
		users: map[string]*types.User{},
	}
	for _, user := range users {
		m.users[user.Token] = user
	}
	return m
}

func (m *MockAuthenticator) ValidateToken(_ context.Context, token string) (*types.User, error) {
	user, ok := m.users[token]
	if !ok {
		return nil, fmt.Errorf("unknown token: %w", ErrInvalidToken)
	}
	return user, nil
}
