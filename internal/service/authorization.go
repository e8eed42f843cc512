package service

import (
	"slices"

	"github.com/hcpe-setisd/leitos-backend/internal/common"
	"github.com/hcpe-setisd/leitos-backend/internal/model"
)

// RequireGroup passes claims through unchanged when they include group.
func RequireGroup(claims *model.Claims, group string) (*model.Claims, error) {
	if claims == nil {
		return nil, common.ErrUnauthorized
	}
	if !slices.Contains(claims.Groups, group) {
		return nil, common.ErrForbidden
	}
	return claims, nil
}

func (s *AuthService) RequireAdmin(claims *model.Claims) (*model.Claims, error) {
	return RequireGroup(claims, s.adminGroup)
}

func (s *AuthService) IsAdmin(claims *model.Claims) bool {
	_, err := s.RequireAdmin(claims)
	return err == nil
}
