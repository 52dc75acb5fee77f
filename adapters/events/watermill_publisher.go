package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/layer-3/glytch/core"
	"github.com/layer-3/glytch/ports"
)

const (
	TopicPrepared  = "glytch.binding.prepared"
	TopicCompleted = "glytch.binding.completed"
	TopicRejected  = "glytch.binding.rejected"
)

// PreparedEvent is published once a verification session is stored
type PreparedEvent struct {
	GitHubID      string `json:"github_id"`
	WalletAddress string `json:"wallet_address"`
	Nonce         string `json:"nonce"`
	Timestamp     int64  `json:"timestamp"`
	ExpiresAt     int64  `json:"expires_at"`
}

// CompletedEvent is published when a signed claim is handed out
type CompletedEvent struct {
	GitHubID       string `json:"github_id"`
	GitHubUsername string `json:"github_username"`
	WalletAddress  string `json:"wallet_address"`
	Nonce          string `json:"nonce"`
	Timestamp      int64  `json:"timestamp"`
}

// RejectedEvent is published when a binding attempt ends without a claim
type RejectedEvent struct {
	GitHubID      string `json:"github_id,omitempty"`
	WalletAddress string `json:"wallet_address,omitempty"`
	Reason        string `json:"reason"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// PublishPrepared publishes a prepared event
func (p *WatermillPublisher) PublishPrepared(ctx context.Context, session *core.VerificationSession) error {
	return p.publish(ctx, TopicPrepared, PreparedEvent{
		GitHubID:      session.Identity.ID,
		WalletAddress: session.WalletAddress,
		Nonce:         session.Nonce,
		Timestamp:     session.Timestamp,
		ExpiresAt:     session.ExpiresAt,
	})
}

// PublishCompleted publishes a completed event. The signature is not included.
func (p *WatermillPublisher) PublishCompleted(ctx context.Context, claim *core.SignedClaim) error {
	return p.publish(ctx, TopicCompleted, CompletedEvent{
		GitHubID:       claim.GitHubID,
		GitHubUsername: claim.GitHubUsername,
		WalletAddress:  claim.WalletAddress,
		Nonce:          claim.Nonce,
		Timestamp:      claim.Timestamp,
	})
}

// PublishRejected publishes a rejected event
func (p *WatermillPublisher) PublishRejected(ctx context.Context, githubID, walletAddress string, reason error) error {
	ev := RejectedEvent{
		GitHubID:      githubID,
		WalletAddress: walletAddress,
	}
	if reason != nil {
		ev.Reason = reason.Error()
	}
	return p.publish(ctx, TopicRejected, ev)
}

func (p *WatermillPublisher) publish(ctx context.Context, topic string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
