package ports

import (
	"context"

	"github.com/layer-3/glytch/core"
)

// EventPublisher publishes binding lifecycle events for other services
type EventPublisher interface {
	PublishPrepared(ctx context.Context, session *core.VerificationSession) error
	PublishCompleted(ctx context.Context, claim *core.SignedClaim) error
	PublishRejected(ctx context.Context, githubID, walletAddress string, reason error) error
}
