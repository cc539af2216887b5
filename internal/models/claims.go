package models

import "github.com/golang-jwt/jwt/v5"

// UserClaims are carried by access tokens.
type UserClaims struct {
	jwt.RegisteredClaims
	UserID      uint     `json:"user_id"`
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	DeviceID    string   `json:"device_id,omitempty"`
	Permissions []string `json:"permissions"`
}

// HasPermission checks if the claims include a specific permission
func (c *UserClaims) HasPermission(permission string) bool {
	for _, p := range c.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// RefreshClaims are carried by refresh tokens. RegisteredClaims.ID makes
// every issued token distinct even within the same second.
type RefreshClaims struct {
	jwt.RegisteredClaims
	UserID   uint   `json:"user_id"`
	DeviceID string `json:"device_id,omitempty"`
}
