package core

import "time"

// State of the binding protocol for one browser session
type State string

// States reported by the server for a browser session
const (
	StateIdle              State = "IDLE"
	StateAwaitingWallet    State = "AWAITING_WALLET"
	StateChallengePrepared State = "CHALLENGE_PREPARED"
	StateExpired           State = "EXPIRED"
)

// States the server never observes. The wallet prompt and the on-chain
// submission happen in the client, which tracks these itself; they are kept
// so frontends share one vocabulary with the session endpoint.
const (
	StateAwaitingSignature State = "AWAITING_SIGNATURE"
	StateSubmitted         State = "SUBMITTED"
	StateBound             State = "BOUND"
	StateRejected          State = "REJECTED"
)

// VerificationSession is the server-held anchor of one binding attempt.
// ExpiresAt is always Timestamp plus the verification window.
type VerificationSession struct {
	Identity      IdentityAssertion `json:"identity"`
	WalletAddress string            `json:"walletAddress"` // lowercased
	Nonce         string            `json:"nonce"`         // decimal uint256
	Timestamp     int64             `json:"timestamp"`     // unix seconds
	ExpiresAt     int64             `json:"expiresAt"`     // unix seconds
}

// Expired reports whether the session is past its expiry at now
func (s *VerificationSession) Expired(now time.Time) bool {
	return now.Unix() > s.ExpiresAt
}

// Challenge is returned to the caller of prepare
type Challenge struct {
	Identity  IdentityAssertion `json:"identity"`
	Nonce     string            `json:"nonce"`
	Timestamp int64             `json:"timestamp"`
	ExpiresAt int64             `json:"expiresAt"`
	ChainID   int64             `json:"chainId"`
}

// SignedClaim is the terminal artifact handed to the on-chain verifier
type SignedClaim struct {
	GitHubID       string `json:"githubId"`
	GitHubUsername string `json:"githubUsername"`
	WalletAddress  string `json:"walletAddress"`
	Nonce          string `json:"nonce"`
	Timestamp      int64  `json:"timestamp"`
	Signature      string `json:"signature"`
}
