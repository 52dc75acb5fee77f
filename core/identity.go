package core

import "time"

// IdentityAssertion is the upstream GitHub identity obtained from an OAuth exchange.
// ID is the durable key of the account; the other fields are display-only.
type IdentityAssertion struct {
	ID        string `json:"id"`
	Login     string `json:"login"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Name      string `json:"name,omitempty"`
}

// BrowserSession identifies one user agent
type BrowserSession struct {
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Flow is the entry path that started a GitHub login
type Flow string

const (
	// FlowLogin is a plain sign-in, identity kept for a day
	FlowLogin Flow = "login"
	// FlowVerify starts a wallet binding, identity kept for the binding window
	FlowVerify Flow = "verify"
)

// OAuthState is the one-time CSRF state attached to a GitHub authorize redirect
type OAuthState struct {
	State     string `json:"state"`
	SessionID string `json:"sid"`
	Flow      Flow   `json:"flow"`
}
