package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/google/uuid"
	"github.com/layer-3/glytch/core"
	"github.com/layer-3/glytch/internal/metrics"
	"github.com/layer-3/glytch/ports"
)

const (
	DefaultIdentityTTL      = 10 * time.Minute
	DefaultLoginIdentityTTL = 24 * time.Hour
	DefaultStateTTL         = 10 * time.Minute
)

// AuthService handles the GitHub sign-in that precedes a binding
type AuthService struct {
	provider ports.IdentityProvider
	sessions *SessionStore
	metrics  *metrics.Metrics
	logger   watermill.LoggerAdapter

	identityTTL      time.Duration
	loginIdentityTTL time.Duration
	stateTTL         time.Duration
}

// NewAuthService creates a new authentication service. Zero TTLs fall back to the defaults.
func NewAuthService(
	provider ports.IdentityProvider,
	sessions *SessionStore,
	m *metrics.Metrics,
	logger watermill.LoggerAdapter,
	identityTTL, loginIdentityTTL time.Duration,
) *AuthService {
	if identityTTL <= 0 {
		identityTTL = DefaultIdentityTTL
	}
	if loginIdentityTTL <= 0 {
		loginIdentityTTL = DefaultLoginIdentityTTL
	}

	return &AuthService{
		provider:         provider,
		sessions:         sessions,
		metrics:          m,
		logger:           logger,
		identityTTL:      identityTTL,
		loginIdentityTTL: loginIdentityTTL,
		stateTTL:         DefaultStateTTL,
	}
}

// BeginLogin issues a one-time state for sid and returns the GitHub authorize URL
func (s *AuthService) BeginLogin(ctx context.Context, sid string, flow core.Flow) (string, error) {
	if flow != core.FlowVerify {
		flow = core.FlowLogin
	}

	state := &core.OAuthState{
		State:     uuid.NewString(),
		SessionID: sid,
		Flow:      flow,
	}
	if err := s.sessions.PutOAuthState(ctx, state, s.stateTTL); err != nil {
		return "", err
	}

	return s.provider.AuthorizeURL(state.State), nil
}

// CompleteLogin validates state, exchanges code and stores the identity for sid
func (s *AuthService) CompleteLogin(ctx context.Context, sid, code, state string) (*core.IdentityAssertion, core.Flow, error) {
	st, err := s.sessions.ConsumeOAuthState(ctx, sid, state)
	if err != nil {
		s.metrics.Login.WithLabelValues(metrics.OutcomeRejected).Inc()
		return nil, "", err
	}

	identity, err := s.provider.ExchangeCode(ctx, code)
	if err != nil {
		s.metrics.Login.WithLabelValues(metrics.OutcomeError).Inc()
		s.logger.Error("GitHub code exchange failed", err, watermill.LogFields{"sid": sid})
		return nil, st.Flow, err
	}

	ttl := s.loginIdentityTTL
	if st.Flow == core.FlowVerify {
		ttl = s.identityTTL
	}
	if err := s.sessions.PutIdentity(ctx, sid, identity, ttl); err != nil {
		s.metrics.Login.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, st.Flow, err
	}

	s.metrics.Login.WithLabelValues(metrics.OutcomeOK).Inc()
	s.logger.Info("GitHub identity stored", watermill.LogFields{
		"github_id": identity.ID,
		"login":     identity.Login,
		"flow":      string(st.Flow),
	})

	return identity, st.Flow, nil
}

// Logout drops the identity and any binding attempt of sid
func (s *AuthService) Logout(ctx context.Context, sid string) error {
	if err := s.sessions.Clear(ctx, sid); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
