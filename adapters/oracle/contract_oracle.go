package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/glytch/core"
	"github.com/layer-3/glytch/ports"
)

const nonceMethod = "nonces"

// verifierABI is the read-only slice of the GLYTCH verifier used here
const verifierABI = `[{
	"type": "function",
	"name": "nonces",
	"stateMutability": "view",
	"inputs": [{"name": "wallet", "type": "address"}],
	"outputs": [{"name": "", "type": "uint256"}]
}]`

// ContractCaller is satisfied by *ethclient.Client
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ContractOracle reads nonces from the verifier contract with eth_call
type ContractOracle struct {
	caller   ContractCaller
	contract common.Address
	abi      abi.ABI
}

// NewContractOracle creates a nonce oracle bound to the verifier at contract
func NewContractOracle(caller ContractCaller, contract common.Address) (ports.NonceOracle, error) {
	parsed, err := abi.JSON(strings.NewReader(verifierABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse verifier abi: %w", err)
	}

	return &ContractOracle{
		caller:   caller,
		contract: contract,
		abi:      parsed,
	}, nil
}

// GetNonce returns the current nonce of wallet at the latest block
func (o *ContractOracle) GetNonce(ctx context.Context, wallet common.Address) (*big.Int, error) {
	data, err := o.abi.Pack(nonceMethod, wallet)
	if err != nil {
		return nil, fmt.Errorf("failed to pack call: %w", err)
	}

	out, err := o.caller.CallContract(ctx, ethereum.CallMsg{To: &o.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrOracleUnavailable, err)
	}

	values, err := o.abi.Unpack(nonceMethod, out)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to unpack nonce: %v", core.ErrOracleUnavailable, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%w: unexpected output length %d", core.ErrOracleUnavailable, len(values))
	}

	nonce, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected output type %T", core.ErrOracleUnavailable, values[0])
	}

	return nonce, nil
}
