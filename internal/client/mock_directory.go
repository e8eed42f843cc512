package client

import (
	"context"
	"strings"

	"github.com/hcpe-setisd/leitos-backend/internal/common"
	"github.com/hcpe-setisd/leitos-backend/internal/model"
	"golang.org/x/crypto/bcrypt"
)

// Offline development credentials, used when no AD_URL/AD_BASEDN is configured.
const (
	MockUsername = "admin"
	mockPassword = "admin"
)

// MockVerifier accepts a single hardcoded credential pair without any
// network access.
type MockVerifier struct {
	passwordHash []byte
	groups       []string
}

func NewMockVerifier(adminGroup string) (*MockVerifier, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(mockPassword), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}
	groups := []string{"Users"}
	if adminGroup = strings.TrimSpace(adminGroup); adminGroup != "" {
		groups = []string{adminGroup, "Users"}
	}
	return &MockVerifier{passwordHash: hash, groups: groups}, nil
}

func (m *MockVerifier) Provider() string {
	return "mock"
}

func (m *MockVerifier) Authenticate(_ context.Context, username, password string) (*model.Identity, error) {
	if strings.TrimSpace(username) != MockUsername {
		return nil, common.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(m.passwordHash, []byte(password)); err != nil {
		return nil, common.ErrInvalidCredentials
	}
	return m.identity(), nil
}

func (m *MockVerifier) Lookup(_ context.Context, username string) (*model.Identity, error) {
	if strings.TrimSpace(username) != MockUsername {
		return nil, common.ErrInvalidCredentials
	}
	return m.identity(), nil
}

func (m *MockVerifier) identity() *model.Identity {
	return &model.Identity{
		Username: MockUsername,
		Groups:   append([]string(nil), m.groups...),
	}
}
