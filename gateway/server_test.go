package gateway

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"fxchain/core"
	"fxchain/crypto"
	"fxchain/native/settlement"
	"fxchain/storage"
)

const testSecret = "gateway-test-secret"

func testAddr(fill byte) crypto.Address {
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = fill
	}
	return crypto.NewAddress(crypto.FXPrefix, raw)
}

func signToken(t *testing.T, scopes string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"scope": scopes,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func newTestServer(t *testing.T) (*Server, crypto.Address) {
	t.Helper()
	alice := testAddr(0xa1)

	proto := core.NewProtocol(storage.NewMemDB(), core.Options{
		StateID: "proto-main",
		PoolID:  "pool-main",
	})
	allocs := []core.GenesisAlloc{{Address: alice, Amount: big.NewInt(10_000_000)}}
	require.NoError(t, proto.InitGenesis(settlement.NewProtocolState("proto-main"), "pool-main", allocs))
	require.NoError(t, proto.UpdatePrice(big.NewInt(1_000_000_000), time.Now()))

	server := NewServer(proto, Config{
		ListenAddress:      ":0",
		Auth:               AuthConfig{Enabled: true, HMACSecret: testSecret},
		RateLimitPerSecond: 1000,
		RateLimitBurst:     1000,
		AdminStateID:       "proto-main",
	})
	return server, alice
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func TestMintRedeemOverHTTP(t *testing.T) {
	server, alice := newTestServer(t)
	handler := server.Handler()
	token := signToken(t, ScopeTrade)

	resp := doJSON(t, handler, http.MethodPost, "/v1/mint/stable", token, amountRequest{
		Caller: alice.String(),
		Amount: "1000000",
	})
	require.Equal(t, http.StatusOK, resp.Code)

	var minted mintResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &minted))
	require.Equal(t, "997500", minted.Minted)
	require.Equal(t, "2500", minted.Fee)

	resp = doJSON(t, handler, http.MethodGet, "/v1/accounts/"+alice.String(), "", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var account map[string]string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &account))
	require.Equal(t, "997500", account["balanceFUSD"])
	require.Equal(t, "9000000", account["balanceRSV"])

	// Restore the ratio above the Normal threshold so the stable redemption
	// below runs at standard rates.
	resp = doJSON(t, handler, http.MethodPost, "/v1/mint/leverage", token, amountRequest{
		Caller: alice.String(),
		Amount: "2000000",
	})
	require.Equal(t, http.StatusOK, resp.Code)

	resp = doJSON(t, handler, http.MethodPost, "/v1/redeem/stable", token, amountRequest{
		Caller: alice.String(),
		Amount: "100000",
	})
	require.Equal(t, http.StatusOK, resp.Code)
	var redeemed redeemResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &redeemed))
	require.Equal(t, "99750", redeemed.Payout)
	require.Nil(t, redeemed.Ticket)
}

func TestAuthScopesEnforced(t *testing.T) {
	server, alice := newTestServer(t)
	handler := server.Handler()

	body := amountRequest{Caller: alice.String(), Amount: "1000"}

	resp := doJSON(t, handler, http.MethodPost, "/v1/mint/stable", "", body)
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	// A trade scope must not open the admin surface.
	resp = doJSON(t, handler, http.MethodPost, "/v1/admin/pause", signToken(t, ScopeTrade), pauseRequest{Paused: true})
	require.Equal(t, http.StatusForbidden, resp.Code)

	resp = doJSON(t, handler, http.MethodPost, "/v1/admin/pause", signToken(t, ScopeAdmin), pauseRequest{Paused: true})
	require.Equal(t, http.StatusOK, resp.Code)

	// The pause must now surface as a conflict on the trade path.
	resp = doJSON(t, handler, http.MethodPost, "/v1/mint/stable", signToken(t, ScopeTrade), body)
	require.Equal(t, http.StatusConflict, resp.Code)
}

func TestReadSurface(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	resp := doJSON(t, handler, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = doJSON(t, handler, http.MethodGet, "/v1/protocol/state", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var state stateResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &state))
	require.Equal(t, "proto-main", state.ID)
	require.Equal(t, "1000000000", state.LastPrice)

	resp = doJSON(t, handler, http.MethodGet, "/v1/tickets/unknown", "", nil)
	require.Equal(t, http.StatusNotFound, resp.Code)

	resp = doJSON(t, handler, http.MethodGet, "/v1/protocol/level", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestOraclePushRejectsBadStep(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()
	token := signToken(t, ScopeKeeper)

	resp := doJSON(t, handler, http.MethodPost, "/v1/oracle/price", token, priceRequest{
		PriceE9:    "2000000000",
		ObservedAt: time.Now().Unix(),
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.Code)

	resp = doJSON(t, handler, http.MethodPost, "/v1/oracle/price", token, priceRequest{
		PriceE9:    "1100000000",
		ObservedAt: time.Now().Unix(),
	})
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestRateLimiterThrottles(t *testing.T) {
	server, _ := newTestServer(t)
	server.limiter = NewRateLimiter(1, 1)
	handler := server.Handler()

	first := doJSON(t, handler, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, first.Code)

	second := doJSON(t, handler, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestQuoteEndpoints(t *testing.T) {
	server, alice := newTestServer(t)
	handler := server.Handler()
	token := signToken(t, ScopeTrade)

	resp := doJSON(t, handler, http.MethodGet, "/v1/quotes/mint/stable?amount=1000000", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var quoted mintResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &quoted))
	require.Equal(t, "997500", quoted.Minted)
	require.Equal(t, "2500", quoted.Fee)

	resp = doJSON(t, handler, http.MethodPost, "/v1/mint/stable", token, amountRequest{
		Caller: alice.String(),
		Amount: "1000000",
	})
	require.Equal(t, http.StatusOK, resp.Code)
	var executed mintResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &executed))
	require.Equal(t, quoted.Minted, executed.Minted)
	require.Equal(t, quoted.Fee, executed.Fee)

	// The mint dropped the ratio to 1.0, so further stable minting is blocked
	// and stable redemptions quote with the tier bonus instead of the fee.
	resp = doJSON(t, handler, http.MethodGet, "/v1/quotes/mint/stable?amount=1000", "", nil)
	require.Equal(t, http.StatusConflict, resp.Code)

	resp = doJSON(t, handler, http.MethodGet, "/v1/quotes/redeem/stable?amount=100000", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var redeemQuote redeemResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &redeemQuote))
	require.Equal(t, "0", redeemQuote.Fee)
	require.Equal(t, "2000", redeemQuote.Bonus)
	require.Equal(t, "102000", redeemQuote.Payout)

	resp = doJSON(t, handler, http.MethodGet, "/v1/quotes/mint/stable?amount=abc", "", nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp = doJSON(t, handler, http.MethodGet, "/v1/accounts/"+alice.String(), "", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var account map[string]string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &account))
	require.Equal(t, "9000000", account["balanceRSV"])
}

func TestAdminConfigAndHarvestRoutes(t *testing.T) {
	server, alice := newTestServer(t)
	handler := server.Handler()
	admin := signToken(t, ScopeAdmin)
	keeper := signToken(t, ScopeKeeper)

	resp := doJSON(t, handler, http.MethodPost, "/v1/admin/fees", admin, feeConfigRequest{
		StableMintBps:       30,
		StableRedeemBps:     25,
		LeverageMintBps:     25,
		LeverageRedeemBps:   50,
		LeverageRedeemL1Bps: 100,
		MintBonusL1Bps:      20,
		MintBonusL2Bps:      50,
		MintBonusL3Bps:      100,
		RedeemBonusL2Bps:    100,
		RedeemBonusL3Bps:    200,
	})
	require.Equal(t, http.StatusOK, resp.Code)

	// The raised mint fee shows up in quotes immediately.
	resp = doJSON(t, handler, http.MethodGet, "/v1/quotes/mint/stable?amount=1000000", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var quoted mintResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &quoted))
	require.Equal(t, "3000", quoted.Fee)

	resp = doJSON(t, handler, http.MethodPost, "/v1/admin/buffer-target", admin, bpsRequest{Bps: 1500})
	require.Equal(t, http.StatusOK, resp.Code)
	resp = doJSON(t, handler, http.MethodPost, "/v1/admin/buffer-target", admin, bpsRequest{Bps: 20_000})
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp = doJSON(t, handler, http.MethodPost, "/v1/admin/delegate-fee", admin, delegateFeeRequest{Fee: "0"})
	require.Equal(t, http.StatusOK, resp.Code)

	// Nothing converted into the treasury yet.
	resp = doJSON(t, handler, http.MethodPost, "/v1/admin/treasury/withdraw", admin, withdrawRequest{
		To:     alice.String(),
		Amount: "1000",
	})
	require.Equal(t, http.StatusConflict, resp.Code)

	resp = doJSON(t, handler, http.MethodPost, "/v1/maintenance/harvest", keeper, amountRequest{
		Caller: alice.String(),
		Amount: "1000",
	})
	require.Equal(t, http.StatusOK, resp.Code)
	var harvest map[string]string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &harvest))
	require.Equal(t, "0", harvest["bounty"])
}
