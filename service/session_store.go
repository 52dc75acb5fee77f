package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/layer-3/glytch/core"
	"github.com/layer-3/glytch/ports"
)

const (
	keyIdentity     = "github_user"
	keyVerification = "verification_session"
	keyOAuthState   = "oauth_state"

	// expiredRetention keeps a verification session readable past its
	// expiry so it is reported as expired rather than missing.
	expiredRetention = 5 * time.Minute
)

type identityRecord struct {
	Identity  core.IdentityAssertion `json:"identity"`
	ExpiresAt int64                  `json:"expiresAt"`
}

// SessionStore holds the per-browser-session identity and the single live
// verification session. Reads fail closed: anything unreadable is absent.
type SessionStore struct {
	store  ports.Store
	logger watermill.LoggerAdapter
	nowF   func() time.Time
}

// NewSessionStore creates a session store on top of a key/value store
func NewSessionStore(store ports.Store, logger watermill.LoggerAdapter) *SessionStore {
	return &SessionStore{
		store:  store,
		logger: logger,
		nowF:   time.Now,
	}
}

func sessionKey(sid, name string) string {
	return "session:" + sid + ":" + name
}

// PutIdentity stores identity for ttl, replacing any previous one
func (s *SessionStore) PutIdentity(ctx context.Context, sid string, identity *core.IdentityAssertion, ttl time.Duration) error {
	payload, err := json.Marshal(identityRecord{
		Identity:  *identity,
		ExpiresAt: s.nowF().Add(ttl).Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode identity: %w", err)
	}

	if err := s.store.Set(ctx, sessionKey(sid, keyIdentity), payload, ttl); err != nil {
		return fmt.Errorf("failed to store identity: %w", err)
	}

	return nil
}

// GetIdentity returns core.ErrNoIdentitySession if the identity is missing,
// unreadable or expired
func (s *SessionStore) GetIdentity(ctx context.Context, sid string) (*core.IdentityAssertion, error) {
	payload, ok := s.read(ctx, sessionKey(sid, keyIdentity))
	if !ok {
		return nil, core.ErrNoIdentitySession
	}

	var rec identityRecord
	if err := json.Unmarshal(payload, &rec); err != nil || rec.Identity.ID == "" {
		s.logger.Info("Discarding malformed identity", watermill.LogFields{"sid": sid})
		return nil, core.ErrNoIdentitySession
	}

	if s.nowF().Unix() >= rec.ExpiresAt {
		return nil, core.ErrNoIdentitySession
	}

	return &rec.Identity, nil
}

// PutVerificationSession replaces the live verification session for sid
func (s *SessionStore) PutVerificationSession(ctx context.Context, sid string, session *core.VerificationSession) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode verification session: %w", err)
	}

	ttl := time.Unix(session.ExpiresAt, 0).Sub(s.nowF()) + expiredRetention
	if err := s.store.Set(ctx, sessionKey(sid, keyVerification), payload, ttl); err != nil {
		return fmt.Errorf("failed to store verification session: %w", err)
	}

	return nil
}

// GetVerificationSession returns core.ErrNoVerificationSession when nothing
// usable is stored, and the session together with core.ErrSessionExpired
// when it is past its expiry.
func (s *SessionStore) GetVerificationSession(ctx context.Context, sid string) (*core.VerificationSession, error) {
	payload, ok := s.read(ctx, sessionKey(sid, keyVerification))
	if !ok {
		return nil, core.ErrNoVerificationSession
	}

	var session core.VerificationSession
	if err := json.Unmarshal(payload, &session); err != nil || !wellFormed(&session) {
		s.logger.Info("Discarding malformed verification session", watermill.LogFields{"sid": sid})
		return nil, core.ErrNoVerificationSession
	}

	if session.Expired(s.nowF()) {
		return &session, core.ErrSessionExpired
	}

	return &session, nil
}

// ClearVerificationSession drops the verification session, keeping the identity
func (s *SessionStore) ClearVerificationSession(ctx context.Context, sid string) error {
	return s.store.Delete(ctx, sessionKey(sid, keyVerification))
}

// Clear drops everything held for sid
func (s *SessionStore) Clear(ctx context.Context, sid string) error {
	return s.store.Delete(ctx, sessionKey(sid, keyIdentity), sessionKey(sid, keyVerification))
}

// PutOAuthState stores a one-time OAuth state
func (s *SessionStore) PutOAuthState(ctx context.Context, state *core.OAuthState, ttl time.Duration) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode oauth state: %w", err)
	}

	if err := s.store.Set(ctx, keyOAuthState+":"+state.State, payload, ttl); err != nil {
		return fmt.Errorf("failed to store oauth state: %w", err)
	}

	return nil
}

// ConsumeOAuthState returns and deletes the state. It fails with
// core.ErrInvalidState when the state is unknown or was issued to another session.
func (s *SessionStore) ConsumeOAuthState(ctx context.Context, sid, state string) (*core.OAuthState, error) {
	if state == "" {
		return nil, core.ErrInvalidState
	}

	key := keyOAuthState + ":" + state
	payload, err := s.store.GetDel(ctx, key)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			s.logger.Error("Session store read failed", err, watermill.LogFields{"key": key})
		}
		return nil, core.ErrInvalidState
	}

	var rec core.OAuthState
	if err := json.Unmarshal(payload, &rec); err != nil || rec.SessionID != sid {
		return nil, core.ErrInvalidState
	}

	return &rec, nil
}

func (s *SessionStore) read(ctx context.Context, key string) ([]byte, bool) {
	payload, err := s.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			s.logger.Error("Session store read failed", err, watermill.LogFields{"key": key})
		}
		return nil, false
	}
	return payload, true
}

func wellFormed(session *core.VerificationSession) bool {
	if session.Identity.ID == "" || session.WalletAddress == "" {
		return false
	}
	if session.ExpiresAt <= session.Timestamp {
		return false
	}
	nonce, ok := new(big.Int).SetString(session.Nonce, 10)
	return ok && nonce.Sign() >= 0
}
