package model

type ErrorResponse struct {
	Error string `json:"error"`
}

type PingResponse struct {
	Message string `json:"message"`
}

type RootResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type AuthLogoutResponse struct {
	Message string `json:"message"`
}

type AuthMeResponse struct {
	Username   string     `json:"username"`
	Groups     []string   `json:"groups"`
	Attributes Attributes `json:"attributes,omitempty"`
	ExpiresAt  int64      `json:"exp"`
}

type AdminDataResponse struct {
	Message    string   `json:"message"`
	UserGroups []string `json:"user_groups"`
}
