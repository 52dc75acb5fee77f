package ports

import (
	"context"

	"github.com/layer-3/glytch/core"
)

// IdentityProvider turns an OAuth authorization code into an identity
type IdentityProvider interface {
	AuthorizeURL(state string) string
	// ExchangeCode fails with core.ErrUpstreamAuth on any provider failure
	ExchangeCode(ctx context.Context, code string) (*core.IdentityAssertion, error)
}
