package domain

import "time"

// Role is the privilege level of a user account.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// User is the minimal identity record the engine needs: enough to
// resolve an API key to a broker session. Account administration
// itself is out of scope (spec §1).
type User struct {
	ID           string `json:"id"`
	Role         Role   `json:"role"`
	ActiveBroker string `json:"active_broker"`
	APIKeyHash   string `json:"api_key_hash"`
	AnalyzerMode bool   `json:"analyzer_mode"` // true routes orders to the sandbox (C6) instead of the broker
}

// AuthContext is the result of a successful API-key validation (C3).
type AuthContext struct {
	UserID       string    `json:"user_id"`
	ActiveBroker string    `json:"active_broker"`
	Credentials  []byte    `json:"-"` // opaque broker-level credentials, never logged or serialised to JSON
	GrantedAt    time.Time `json:"granted_at"`
}
