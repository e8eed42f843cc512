package model

import (
	"encoding/json"
	"time"
)

type LoginRequest struct {
	Username   string `form:"username" json:"username"`
	Password   string `form:"password" json:"password"`
	RememberMe bool   `form:"remember_me" json:"remember_me"`
}

type AuthResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type AuthConfigResponse struct {
	AuthEnabled bool   `json:"authEnabled"`
	Provider    string `json:"provider"`
}

// Identity is the result of a successful credential verification.
type Identity struct {
	Username   string
	Groups     []string
	Attributes Attributes
}

// Attributes carries provider-specific directory attributes. Keys are not
// interpreted by the auth core.
type Attributes map[string]AttributeValue

// AttributeValue is a single- or multi-valued directory attribute.
type AttributeValue []string

func (v AttributeValue) MarshalJSON() ([]byte, error) {
	if len(v) == 1 {
		return json.Marshal(v[0])
	}
	return json.Marshal([]string(v))
}

func (v *AttributeValue) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*v = AttributeValue{single}
		return nil
	}
	var multi []string
	if err := json.Unmarshal(data, &multi); err != nil {
		return err
	}
	*v = multi
	return nil
}

// Claims is the decoded content of a validated access token.
type Claims struct {
	Subject    string     `json:"sub"`
	Groups     []string   `json:"groups"`
	Attributes Attributes `json:"attributes,omitempty"`
	IssuedAt   time.Time  `json:"iat"`
	ExpiresAt  time.Time  `json:"exp"`
}

type RefreshToken struct {
	ID        int64
	Username  string
	TokenHash string
	Groups    []string
	ExpiresAt time.Time
	CreatedAt time.Time
}
