package ports

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// NonceOracle reads the verifier's anti-replay counter. It has no side effects.
type NonceOracle interface {
	GetNonce(ctx context.Context, wallet common.Address) (*big.Int, error)
}
