// Package eth holds the EIP-712 typed-data layout shared with the GLYTCH
// verifier contract and the helpers to hash and recover signatures over it.
package eth

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	DomainName    = "GLYTCH"
	DomainVersion = "1"

	// PrimaryType is the struct name the contract hashes
	PrimaryType = "GitHubBinding"

	signatureLength = 65
)

var (
	ErrSignatureFormat = errors.New("signature must be 65 hex-encoded bytes")
	ErrRecoveryID      = errors.New("invalid signature recovery id")
)

// EIP712Domain separates signatures per chain and verifying contract
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// NewDomain returns the GLYTCH domain for chainID and contract
func NewDomain(chainID int64, contract common.Address) EIP712Domain {
	return EIP712Domain{
		Name:              DomainName,
		Version:           DomainVersion,
		ChainID:           big.NewInt(chainID),
		VerifyingContract: contract,
	}
}

// GitHubBinding mirrors the contract struct field for field
type GitHubBinding struct {
	GitHubID       string
	GitHubUsername string
	WalletAddress  common.Address
	Nonce          *big.Int
	Timestamp      *big.Int
}

var bindingTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	PrimaryType: {
		{Name: "githubId", Type: "string"},
		{Name: "githubUsername", Type: "string"},
		{Name: "walletAddress", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "timestamp", Type: "uint256"},
	},
}

// TypedData builds the eth_signTypedData_v4 payload for msg.
// Integers are encoded as decimal strings so wallets can display them.
func TypedData(domain EIP712Domain, msg GitHubBinding) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       bindingTypes,
		PrimaryType: PrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(domain.ChainID)),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"githubId":       msg.GitHubID,
			"githubUsername": msg.GitHubUsername,
			"walletAddress":  msg.WalletAddress.Hex(),
			"nonce":          msg.Nonce.String(),
			"timestamp":      msg.Timestamp.String(),
		},
	}
}

// Hash returns the EIP-712 digest keccak256("\x19\x01" || domainSeparator || hashStruct(msg))
func Hash(domain EIP712Domain, msg GitHubBinding) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(TypedData(domain, msg))
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return hash, nil
}

// DecodeSignature parses a 0x-prefixed 65 byte signature
func DecodeSignature(sig string) ([]byte, error) {
	decoded, err := hexutil.Decode(sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureFormat, err)
	}
	if len(decoded) != signatureLength {
		return nil, ErrSignatureFormat
	}
	return decoded, nil
}

// RecoverSigner returns the address that produced sig over hash.
// Both the 0/1 and the wallet-style 27/28 recovery ids are accepted.
func RecoverSigner(hash, sig []byte) (common.Address, error) {
	if len(sig) != signatureLength {
		return common.Address{}, ErrSignatureFormat
	}

	normalized := make([]byte, signatureLength)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	if normalized[64] > 1 {
		return common.Address{}, ErrRecoveryID
	}

	pub, err := crypto.SigToPub(hash, normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}

	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignatureAgainstAddress reports whether sig over msg was produced by expected
func VerifySignatureAgainstAddress(domain EIP712Domain, msg GitHubBinding, sig []byte, expected common.Address) (bool, error) {
	hash, err := Hash(domain, msg)
	if err != nil {
		return false, err
	}

	signer, err := RecoverSigner(hash, sig)
	if err != nil {
		return false, err
	}

	return signer == expected, nil
}

// IsAddress reports whether s is a 0x-prefixed 20 byte hex address
func IsAddress(s string) bool {
	return len(s) == 2+2*common.AddressLength && has0xPrefix(s) && common.IsHexAddress(s)
}

func has0xPrefix(s string) bool {
	return s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}
