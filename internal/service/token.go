package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hcpe-setisd/leitos-backend/internal/common"
	"github.com/hcpe-setisd/leitos-backend/internal/model"
)

var reservedClaims = map[string]struct{}{
	"sub": {}, "groups": {}, "iat": {}, "exp": {}, "nbf": {}, "iss": {}, "aud": {}, "jti": {},
}

// TokenCodec issues and validates HS256 access tokens. It holds no mutable
// state after construction.
type TokenCodec struct {
	secret []byte
	now    func() time.Time
}

func NewTokenCodec(secret string) (*TokenCodec, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: JWT_SECRET is required", common.ErrMisconfiguredSigning)
	}
	return &TokenCodec{secret: []byte(secret), now: time.Now}, nil
}

// Issue signs a token carrying the identity. Directory attributes are folded
// into the top-level claims; reserved claim names are never overwritten.
func (c *TokenCodec) Issue(identity *model.Identity, ttl time.Duration) (string, error) {
	now := c.now()
	claims := jwt.MapClaims{}
	for name, value := range identity.Attributes {
		if _, reserved := reservedClaims[name]; reserved {
			continue
		}
		if len(value) == 1 {
			claims[name] = value[0]
		} else {
			claims[name] = []string(value)
		}
	}

	groups := identity.Groups
	if groups == nil {
		groups = []string{}
	}
	claims["sub"] = identity.Username
	claims["groups"] = groups
	claims["iat"] = jwt.NewNumericDate(now)
	claims["exp"] = jwt.NewNumericDate(now.Add(ttl))

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("%w: sign access token: %v", common.ErrInternal, err)
	}
	return signed, nil
}

// Validate verifies signature and expiry with no leeway.
func (c *TokenCodec) Validate(tokenStr string) (*model.Claims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrTokenInvalid
	}

	return claimsFromMap(claims)
}

func claimsFromMap(m jwt.MapClaims) (*model.Claims, error) {
	sub, err := m.GetSubject()
	if err != nil || sub == "" {
		return nil, common.ErrTokenInvalid
	}
	exp, err := m.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, common.ErrTokenInvalid
	}

	out := &model.Claims{
		Subject:   sub,
		Groups:    []string{},
		ExpiresAt: exp.Time,
	}
	if iat, err := m.GetIssuedAt(); err == nil && iat != nil {
		out.IssuedAt = iat.Time
	}

	if raw, ok := m["groups"]; ok {
		groups, ok := stringList(raw)
		if !ok {
			return nil, common.ErrTokenInvalid
		}
		out.Groups = groups
	}

	for name, raw := range m {
		if _, reserved := reservedClaims[name]; reserved {
			continue
		}
		switch v := raw.(type) {
		case string:
			setAttribute(out, name, model.AttributeValue{v})
		default:
			if values, ok := stringList(v); ok {
				setAttribute(out, name, model.AttributeValue(values))
			}
		}
	}
	return out, nil
}

func setAttribute(c *model.Claims, name string, value model.AttributeValue) {
	if c.Attributes == nil {
		c.Attributes = model.Attributes{}
	}
	c.Attributes[name] = value
}

func stringList(raw interface{}) ([]string, bool) {
	items, ok := raw.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
