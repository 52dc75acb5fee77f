package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/layer-3/glytch/core"
	"github.com/layer-3/glytch/internal/eth"
	"github.com/layer-3/glytch/internal/metrics"
	"github.com/layer-3/glytch/ports"
)

// DefaultVerificationWindow is the time between prepare and the last valid complete
const DefaultVerificationWindow = 600 * time.Second

// BindingConfig configures the typed-data domain and the verification window
type BindingConfig struct {
	ChainID           int64
	VerifyingContract common.Address
	Window            time.Duration
}

// BindingService runs the GitHub to wallet binding protocol. All protocol
// state lives in the session store; each call re-validates what it needs.
type BindingService struct {
	sessions *SessionStore
	oracle   ports.NonceOracle
	eventPub ports.EventPublisher
	metrics  *metrics.Metrics
	logger   watermill.LoggerAdapter

	domain  eth.EIP712Domain
	chainID int64
	window  time.Duration
	nowF    func() time.Time
}

// NewBindingService creates a new binding service
func NewBindingService(
	sessions *SessionStore,
	oracle ports.NonceOracle,
	eventPub ports.EventPublisher,
	m *metrics.Metrics,
	logger watermill.LoggerAdapter,
	cfg BindingConfig,
) *BindingService {
	window := cfg.Window
	if window <= 0 {
		window = DefaultVerificationWindow
	}

	return &BindingService{
		sessions: sessions,
		oracle:   oracle,
		eventPub: eventPub,
		metrics:  m,
		logger:   logger,
		domain:   eth.NewDomain(cfg.ChainID, cfg.VerifyingContract),
		chainID:  cfg.ChainID,
		window:   window,
		nowF:     time.Now,
	}
}

// Status reports where the session stands in the protocol
func (s *BindingService) Status(ctx context.Context, sid string) (core.State, *core.IdentityAssertion) {
	identity, err := s.sessions.GetIdentity(ctx, sid)
	if err != nil {
		return core.StateIdle, nil
	}

	_, err = s.sessions.GetVerificationSession(ctx, sid)
	switch {
	case err == nil:
		return core.StateChallengePrepared, identity
	case errors.Is(err, core.ErrSessionExpired):
		return core.StateExpired, identity
	default:
		return core.StateAwaitingWallet, identity
	}
}

// Prepare anchors a new binding attempt to the wallet's current nonce,
// replacing any previous attempt of this session.
func (s *BindingService) Prepare(ctx context.Context, sid, wallet string) (*core.Challenge, error) {
	identity, err := s.sessions.GetIdentity(ctx, sid)
	if err != nil {
		s.metrics.Prepare.WithLabelValues(metrics.OutcomeRejected).Inc()
		return nil, err
	}

	if !eth.IsAddress(wallet) {
		s.metrics.Prepare.WithLabelValues(metrics.OutcomeRejected).Inc()
		return nil, core.ErrInvalidAddress
	}

	nonce, err := s.oracle.GetNonce(ctx, common.HexToAddress(wallet))
	if err != nil {
		s.metrics.Prepare.WithLabelValues(metrics.OutcomeError).Inc()
		s.logger.Error("Failed to read nonce", err, watermill.LogFields{"wallet": wallet})
		if errors.Is(err, core.ErrOracleUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", core.ErrOracleUnavailable, err)
	}

	timestamp := s.nowF().Unix()
	session := &core.VerificationSession{
		Identity:      *identity,
		WalletAddress: strings.ToLower(wallet),
		Nonce:         nonce.String(),
		Timestamp:     timestamp,
		ExpiresAt:     timestamp + int64(s.window/time.Second),
	}

	if err := s.sessions.PutVerificationSession(ctx, sid, session); err != nil {
		s.metrics.Prepare.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, err
	}

	s.metrics.Prepare.WithLabelValues(metrics.OutcomeOK).Inc()
	s.logger.Info("Verification session prepared", watermill.LogFields{
		"github_id": identity.ID,
		"wallet":    session.WalletAddress,
		"nonce":     session.Nonce,
	})
	if err := s.eventPub.PublishPrepared(ctx, session); err != nil {
		s.logger.Error("Failed to publish prepared event", err, nil)
	}

	return &core.Challenge{
		Identity:  *identity,
		Nonce:     session.Nonce,
		Timestamp: session.Timestamp,
		ExpiresAt: session.ExpiresAt,
		ChainID:   s.chainID,
	}, nil
}

// Challenge returns the typed data the wallet has to sign. It does not
// change state, so an abandoned signature request can simply be retried.
func (s *BindingService) Challenge(ctx context.Context, sid string) (*apitypes.TypedData, error) {
	session, err := s.sessions.GetVerificationSession(ctx, sid)
	if err != nil {
		return nil, err
	}

	td := eth.TypedData(s.domain, bindingMessage(session))
	return &td, nil
}

// Complete checks signature against the stored session and returns the claim
// for on-chain submission. Only server-held session fields end up in the claim.
//
// The signer is recovered with ecrecover and must equal the stored wallet, so
// contract wallets signing through EIP-1271 are rejected here even though the
// verifier contract could accept them.
func (s *BindingService) Complete(ctx context.Context, sid, signature string) (*core.SignedClaim, error) {
	sig, err := eth.DecodeSignature(signature)
	if err != nil {
		s.metrics.Complete.WithLabelValues(metrics.OutcomeRejected).Inc()
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidSignature, err)
	}

	session, err := s.sessions.GetVerificationSession(ctx, sid)
	if errors.Is(err, core.ErrSessionExpired) {
		s.metrics.Complete.WithLabelValues(metrics.OutcomeExpired).Inc()
		s.reject(ctx, sid, session, err)
		return nil, err
	}
	if err != nil {
		s.metrics.Complete.WithLabelValues(metrics.OutcomeNoSession).Inc()
		return nil, err
	}

	wallet := common.HexToAddress(session.WalletAddress)
	ok, err := eth.VerifySignatureAgainstAddress(s.domain, bindingMessage(session), sig, wallet)
	if err != nil || !ok {
		s.metrics.Complete.WithLabelValues(metrics.OutcomeRejected).Inc()
		s.reject(ctx, sid, session, core.ErrInvalidSignature)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrInvalidSignature, err)
		}
		return nil, core.ErrInvalidSignature
	}

	claim := &core.SignedClaim{
		GitHubID:       session.Identity.ID,
		GitHubUsername: session.Identity.Login,
		WalletAddress:  session.WalletAddress,
		Nonce:          session.Nonce,
		Timestamp:      session.Timestamp,
		Signature:      signature,
	}

	if err := s.sessions.ClearVerificationSession(ctx, sid); err != nil {
		s.logger.Error("Failed to clear verification session", err, watermill.LogFields{"sid": sid})
	}

	s.metrics.Complete.WithLabelValues(metrics.OutcomeOK).Inc()
	s.logger.Info("Binding claim issued", watermill.LogFields{
		"github_id": claim.GitHubID,
		"wallet":    claim.WalletAddress,
		"nonce":     claim.Nonce,
	})
	if err := s.eventPub.PublishCompleted(ctx, claim); err != nil {
		s.logger.Error("Failed to publish completed event", err, nil)
	}

	return claim, nil
}

// Cancel abandons the current binding attempt
func (s *BindingService) Cancel(ctx context.Context, sid string) error {
	if err := s.sessions.ClearVerificationSession(ctx, sid); err != nil {
		return fmt.Errorf("failed to clear verification session: %w", err)
	}
	return nil
}

func (s *BindingService) reject(ctx context.Context, sid string, session *core.VerificationSession, reason error) {
	if err := s.sessions.ClearVerificationSession(ctx, sid); err != nil {
		s.logger.Error("Failed to clear verification session", err, watermill.LogFields{"sid": sid})
	}

	var githubID, wallet string
	if session != nil {
		githubID, wallet = session.Identity.ID, session.WalletAddress
	}
	s.logger.Info("Binding rejected", watermill.LogFields{
		"github_id": githubID,
		"wallet":    wallet,
		"reason":    reason.Error(),
	})
	if err := s.eventPub.PublishRejected(ctx, githubID, wallet, reason); err != nil {
		s.logger.Error("Failed to publish rejected event", err, nil)
	}
}

// bindingMessage expects a session that passed the store's well-formedness check
func bindingMessage(session *core.VerificationSession) eth.GitHubBinding {
	nonce, _ := new(big.Int).SetString(session.Nonce, 10)
	return eth.GitHubBinding{
		GitHubID:       session.Identity.ID,
		GitHubUsername: session.Identity.Login,
		WalletAddress:  common.HexToAddress(session.WalletAddress),
		Nonce:          nonce,
		Timestamp:      big.NewInt(session.Timestamp),
	}
}
