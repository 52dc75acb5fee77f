package http

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/glytch/adapters/store"
	"github.com/layer-3/glytch/adapters/tokenizer"
	"github.com/layer-3/glytch/core"
	"github.com/layer-3/glytch/internal/eth"
	"github.com/layer-3/glytch/internal/metrics"
	"github.com/layer-3/glytch/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testChainID  = 11155111
	testFrontend = "https://glytch.test"
)

var testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

type fakeProvider struct {
	identity core.IdentityAssertion
}

func (p *fakeProvider) AuthorizeURL(state string) string {
	return "https://github.test/login/oauth/authorize?state=" + url.QueryEscape(state)
}

func (p *fakeProvider) ExchangeCode(ctx context.Context, code string) (*core.IdentityAssertion, error) {
	if code != "good" {
		return nil, core.ErrUpstreamAuth
	}
	identity := p.identity
	return &identity, nil
}

type fakeOracle struct {
	nonce int64
	err   error
}

func (o *fakeOracle) GetNonce(ctx context.Context, wallet common.Address) (*big.Int, error) {
	if o.err != nil {
		return nil, o.err
	}
	return big.NewInt(o.nonce), nil
}

type nopPublisher struct{}

func (nopPublisher) PublishPrepared(context.Context, *core.VerificationSession) error { return nil }
func (nopPublisher) PublishCompleted(context.Context, *core.SignedClaim) error         { return nil }
func (nopPublisher) PublishRejected(context.Context, string, string, error) error      { return nil }

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

type testServer struct {
	router *gin.Engine
	oracle *fakeOracle
	cookie *http.Cookie
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	logger := watermill.NopLogger{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	oracle := &fakeOracle{nonce: 7}
	sessions := service.NewSessionStore(store.NewMemoryStore(), logger)
	provider := &fakeProvider{identity: core.IdentityAssertion{ID: "42", Login: "alice"}}

	router := SetupRouter(RouterConfig{
		Auth: service.NewAuthService(provider, sessions, m, logger, 0, 0),
		Binding: service.NewBindingService(sessions, oracle, nopPublisher{}, m, logger, service.BindingConfig{
			ChainID:           testChainID,
			VerifyingContract: testContract,
		}),
		Tokenizer:   tokenizer.NewJWTTokenizer(key),
		Gatherer:    reg,
		Logger:      logger,
		FrontendURL: testFrontend,
	})

	return &testServer{router: router, oracle: oracle}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.cookie != nil {
		req.AddCookie(s.cookie)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookie {
			s.cookie = c
		}
	}
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

// signIn runs the OAuth redirect dance for flow and returns the callback redirect
func (s *testServer) signIn(t *testing.T, flow string) *url.URL {
	t.Helper()

	w := s.do(t, http.MethodGet, "/auth/github/login?flow="+flow, nil)
	require.Equal(t, http.StatusFound, w.Code)
	authorize, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	state := authorize.Query().Get("state")
	require.NotEmpty(t, state)

	w = s.do(t, http.MethodGet, "/auth/github/callback?code=good&state="+url.QueryEscape(state), nil)
	require.Equal(t, http.StatusFound, w.Code)
	back, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	return back
}

func signChallenge(t *testing.T, key *ecdsa.PrivateKey, challenge core.Challenge) string {
	t.Helper()
	nonce, ok := new(big.Int).SetString(challenge.Nonce, 10)
	require.True(t, ok)

	td := eth.TypedData(eth.NewDomain(testChainID, testContract), eth.GitHubBinding{
		GitHubID:       challenge.Identity.ID,
		GitHubUsername: challenge.Identity.Login,
		WalletAddress:  crypto.PubkeyToAddress(key.PublicKey),
		Nonce:          nonce,
		Timestamp:      big.NewInt(challenge.Timestamp),
	})
	hash, _, err := apitypes.TypedDataAndHash(td)
	require.NoError(t, err)
	sig, err := crypto.Sign(hash, key)
	require.NoError(t, err)
	sig[64] += 27
	return hexutil.Encode(sig)
}

func TestSessionCookieIssued(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, s.cookie)
	assert.True(t, s.cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, s.cookie.SameSite)

	var data struct {
		State core.State `json:"state"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &data))
	assert.Equal(t, core.StateIdle, data.State)

	// the same cookie is reused, not reminted
	first := s.cookie.Value
	w = s.do(t, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Result().Cookies())
	assert.Equal(t, first, s.cookie.Value)
}

func TestForgedCookieGetsFreshSession(t *testing.T) {
	s := newTestServer(t)
	s.cookie = &http.Cookie{Name: SessionCookie, Value: "forged"}

	w := s.do(t, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEqual(t, "forged", s.cookie.Value)
}

func TestBindingFlow(t *testing.T) {
	s := newTestServer(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	wallet := strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())

	back := s.signIn(t, "verify")
	assert.Equal(t, "/verify", back.Path)
	assert.Equal(t, "connected", back.Query().Get("github"))

	w := s.do(t, http.MethodPost, "/api/verify/prepare", gin.H{"walletAddress": wallet})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var challenge core.Challenge
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &challenge))
	assert.Equal(t, "7", challenge.Nonce)
	assert.Equal(t, "42", challenge.Identity.ID)
	assert.Equal(t, int64(testChainID), challenge.ChainID)

	w = s.do(t, http.MethodGet, "/api/verify/challenge", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var td struct {
		PrimaryType string                 `json:"primaryType"`
		Message     map[string]interface{} `json:"message"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &td))
	assert.Equal(t, eth.PrimaryType, td.PrimaryType)
	assert.Equal(t, "7", td.Message["nonce"])

	// client supplied identity and wallet fields are ignored
	w = s.do(t, http.MethodPost, "/api/verify/complete", gin.H{
		"signature":     signChallenge(t, key, challenge),
		"githubId":      "999",
		"walletAddress": "0x000000000000000000000000000000000000dead",
		"nonce":         "0",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var claim core.SignedClaim
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &claim))
	assert.Equal(t, "42", claim.GitHubID)
	assert.Equal(t, "alice", claim.GitHubUsername)
	assert.Equal(t, wallet, claim.WalletAddress)
	assert.Equal(t, "7", claim.Nonce)

	w = s.do(t, http.MethodPost, "/api/verify/complete", gin.H{"signature": signChallenge(t, key, challenge)})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "NoVerificationSession", decode(t, w).Error)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/verify/prepare", gin.H{"walletAddress": testContract.Hex()})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	env := decode(t, w)
	assert.False(t, env.Success)
	assert.Equal(t, "NoIdentitySession", env.Error)
	assert.NotEmpty(t, env.Message)

	s.signIn(t, "login")

	w = s.do(t, http.MethodPost, "/api/verify/prepare", gin.H{"walletAddress": "0x1234"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "InvalidAddress", decode(t, w).Error)

	w = s.do(t, http.MethodPost, "/api/verify/prepare", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "InvalidAddress", decode(t, w).Error)

	w = s.do(t, http.MethodGet, "/api/verify/challenge", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "NoVerificationSession", decode(t, w).Error)

	s.oracle.err = errors.New("rpc down")
	w = s.do(t, http.MethodPost, "/api/verify/prepare", gin.H{"walletAddress": testContract.Hex()})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	env = decode(t, w)
	assert.Equal(t, "OracleUnavailable", env.Error)
	assert.NotContains(t, env.Message, "rpc down")
	s.oracle.err = nil

	w = s.do(t, http.MethodPost, "/api/verify/prepare", gin.H{"walletAddress": testContract.Hex()})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/verify/complete", gin.H{"signature": "0xdeadbeef"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "InvalidSignature", decode(t, w).Error)

	// a malformed signature leaves the attempt in place
	w = s.do(t, http.MethodGet, "/api/verify/challenge", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodDelete, "/api/verify", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, "/api/verify/challenge", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCallbackFailures(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/auth/github/callback?code=good&state=unknown", nil)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, testFrontend+"/?error=invalid_state", w.Header().Get("Location"))

	w = s.do(t, http.MethodGet, "/auth/github/callback?error=access_denied", nil)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, testFrontend+"/?error=github_auth_denied", w.Header().Get("Location"))

	w = s.do(t, http.MethodGet, "/auth/github/login", nil)
	authorize, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	w = s.do(t, http.MethodGet, "/auth/github/callback?code=bad&state="+url.QueryEscape(authorize.Query().Get("state")), nil)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, testFrontend+"/?error=github_auth_failed", w.Header().Get("Location"))
}

func TestLogout(t *testing.T) {
	s := newTestServer(t)
	back := s.signIn(t, "login")
	assert.Equal(t, "/", back.Path)

	w := s.do(t, http.MethodGet, "/api/session", nil)
	var data struct {
		State    core.State              `json:"state"`
		Identity *core.IdentityAssertion `json:"identity"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &data))
	assert.Equal(t, core.StateAwaitingWallet, data.State)
	require.NotNil(t, data.Identity)
	assert.Equal(t, "alice", data.Identity.Login)

	w = s.do(t, http.MethodPost, "/auth/logout", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/verify/prepare", gin.H{"walletAddress": testContract.Hex()})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, s.cookie)

	s.signIn(t, "login")
	w = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `glytch_github_login_total{outcome="ok"} 1`)
}
