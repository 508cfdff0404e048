package models

import "time"

// AccessLog records one successful protected-document stream: who fetched
// which resource, how they authenticated, and from where. Rows are written
// fire-and-forget; a failed write never fails the document response.
type AccessLog struct {
	ID         string    `json:"id" db:"id"`
	Email      string    `json:"email" db:"email"`
	ResourceID string    `json:"resource_id" db:"resource_id"`
	AuthMethod string    `json:"auth_method" db:"auth_method"`
	IPAddress  *string   `json:"ip_address" db:"ip_address"`
	UserAgent  *string   `json:"user_agent" db:"user_agent"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Auth method values recorded in AccessLog.AuthMethod.
const (
	AuthMethodSession = "session" // session cookie set by the access bridge
	AuthMethodToken   = "token"   // token embedded in the request path
	AuthMethodCode    = "code"    // access code passed as query/header value
)
