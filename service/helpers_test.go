package service

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/layer-3/glytch/adapters/store"
	"github.com/layer-3/glytch/core"
	"github.com/layer-3/glytch/internal/eth"
	"github.com/layer-3/glytch/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const testChainID = 11155111

var testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(unix int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = time.Unix(unix, 0)
}

// fakeOracle serves nonces from a map and counts reads
type fakeOracle struct {
	mu     sync.Mutex
	nonces map[common.Address]*big.Int
	calls  int
	err    error
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{nonces: make(map[common.Address]*big.Int)}
}

func (o *fakeOracle) GetNonce(ctx context.Context, wallet common.Address) (*big.Int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.err != nil {
		return nil, o.err
	}
	if n, ok := o.nonces[wallet]; ok {
		return new(big.Int).Set(n), nil
	}
	return big.NewInt(0), nil
}

func (o *fakeOracle) setNonce(wallet common.Address, n int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nonces[wallet] = big.NewInt(n)
}

func (o *fakeOracle) callCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

// fakeVerifier behaves like the contract: it checks the signature and the
// current nonce, then advances the nonce
type fakeVerifier struct {
	oracle *fakeOracle
	domain eth.EIP712Domain
	bound  map[string]common.Address
}

var errStaleNonce = errors.New("stale nonce")

func newFakeVerifier(oracle *fakeOracle) *fakeVerifier {
	return &fakeVerifier{
		oracle: oracle,
		domain: eth.NewDomain(testChainID, testContract),
		bound:  make(map[string]common.Address),
	}
}

func (v *fakeVerifier) SubmitBinding(claim *core.SignedClaim) error {
	wallet := common.HexToAddress(claim.WalletAddress)
	current, _ := v.oracle.GetNonce(context.Background(), wallet)
	nonce, _ := new(big.Int).SetString(claim.Nonce, 10)
	if nonce.Cmp(current) != 0 {
		return errStaleNonce
	}

	sig, err := eth.DecodeSignature(claim.Signature)
	if err != nil {
		return err
	}
	ok, err := eth.VerifySignatureAgainstAddress(v.domain, eth.GitHubBinding{
		GitHubID:       claim.GitHubID,
		GitHubUsername: claim.GitHubUsername,
		WalletAddress:  wallet,
		Nonce:          nonce,
		Timestamp:      big.NewInt(claim.Timestamp),
	}, sig, wallet)
	if err != nil {
		return err
	}
	if !ok {
		return core.ErrInvalidSignature
	}

	v.bound[claim.GitHubID] = wallet
	v.oracle.setNonce(wallet, current.Int64()+1)
	return nil
}

type nopPublisher struct{}

func (nopPublisher) PublishPrepared(context.Context, *core.VerificationSession) error { return nil }
func (nopPublisher) PublishCompleted(context.Context, *core.SignedClaim) error         { return nil }
func (nopPublisher) PublishRejected(context.Context, string, string, error) error      { return nil }

type fixture struct {
	clock    *fakeClock
	oracle   *fakeOracle
	sessions *SessionStore
	metrics  *metrics.Metrics
	binding  *BindingService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	oracle := newFakeOracle()
	logger := watermill.NopLogger{}

	sessions := NewSessionStore(store.NewMemoryStore(), logger)
	sessions.nowF = clock.Now

	m := metrics.New(prometheus.NewRegistry())
	binding := NewBindingService(sessions, oracle, nopPublisher{}, m, logger, BindingConfig{
		ChainID:           testChainID,
		VerifyingContract: testContract,
	})
	binding.nowF = clock.Now

	return &fixture{
		clock:    clock,
		oracle:   oracle,
		sessions: sessions,
		metrics:  m,
		binding:  binding,
	}
}

func (f *fixture) login(t *testing.T, sid string, identity core.IdentityAssertion) {
	t.Helper()
	require.NoError(t, f.sessions.PutIdentity(context.Background(), sid, &identity, DefaultIdentityTTL))
}

type wallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func newWallet(t *testing.T) wallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return wallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// hex returns the address lowercased, the way a browser wallet reports it
func (w wallet) hex() string {
	return strings.ToLower(w.address.Hex())
}

// sign signs typed data the way eth_signTypedData_v4 does, with v in {27, 28}
func (w wallet) sign(t *testing.T, td *apitypes.TypedData) string {
	t.Helper()
	hash, _, err := apitypes.TypedDataAndHash(*td)
	require.NoError(t, err)
	sig, err := crypto.Sign(hash, w.key)
	require.NoError(t, err)
	sig[64] += 27
	return hexutil.Encode(sig)
}

// signBinding signs a binding message built by hand, bypassing the service
func (w wallet) signBinding(t *testing.T, msg eth.GitHubBinding) string {
	t.Helper()
	td := eth.TypedData(eth.NewDomain(testChainID, testContract), msg)
	return w.sign(t, &td)
}
