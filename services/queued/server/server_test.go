package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"atomicqueue/core"
	"atomicqueue/core/genesis"
	"atomicqueue/core/types"
	"atomicqueue/crypto"
	nativecommon "atomicqueue/native/common"
	"atomicqueue/native/queue"
	"atomicqueue/native/solver"
	"atomicqueue/observability/logging"
	noncestore "atomicqueue/services/queued/storage"
	"atomicqueue/storage"
)

const serverTestNow = int64(1_700_000_000)

var (
	testQueue = common.BytesToAddress(bytes.Repeat([]byte{0xee}, 20))
	testP2P   = common.BytesToAddress(bytes.Repeat([]byte{0x5a}, 20))
	testOffer = common.BytesToAddress(bytes.Repeat([]byte{0xa1}, 20))
	testWant  = common.BytesToAddress(bytes.Repeat([]byte{0xb2}, 20))
	testToken = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

type harness struct {
	t         *testing.T
	node      *core.Node
	handler   http.Handler
	owner     *crypto.PrivateKey
	initiator *crypto.PrivateKey
	alice     *crypto.PrivateKey
	nonces    map[common.Address]uint64
}

func newHarness(t *testing.T, auth *Authenticator, limiter *RateLimiter) *harness {
	t.Helper()
	h := &harness{t: t, nonces: make(map[common.Address]uint64)}
	var err error
	h.owner, err = crypto.GeneratePrivateKey()
	require.NoError(t, err)
	h.initiator, err = crypto.GeneratePrivateKey()
	require.NoError(t, err)
	h.alice, err = crypto.GeneratePrivateKey()
	require.NoError(t, err)

	h.node, err = core.NewNode(storage.NewMemDB(), testQueue, core.WithNowFunc(func() int64 { return serverTestNow }))
	require.NoError(t, err)
	t.Cleanup(h.node.Close)
	h.node.RegisterP2PSolver(testP2P)

	alice := h.alice.Identity().Hex()
	initiator := h.initiator.Identity().Hex()
	spec := &genesis.Spec{
		Owner: h.owner.Identity().Hex(),
		Assets: []genesis.AssetSpec{
			{Address: testOffer.Hex(), Symbol: "OFR", Decimals: 18},
			{Address: testWant.Hex(), Symbol: "WNT", Decimals: 6},
		},
		Balances: []genesis.BalanceSpec{
			{Asset: testOffer.Hex(), Holder: alice, Amount: testToken.String()},
			{Asset: testWant.Hex(), Holder: initiator, Amount: "1000"},
		},
		Allowances: []genesis.AllowanceSpec{
			{Asset: testOffer.Hex(), Owner: alice, Spender: testQueue.Hex(), Amount: testToken.String()},
			{Asset: testWant.Hex(), Owner: initiator, Spender: testP2P.Hex(), Amount: "1000"},
		},
		Solvers: []string{initiator},
	}
	require.NoError(t, spec.Validate())
	applied, err := h.node.ApplyGenesis(spec)
	require.NoError(t, err)
	require.True(t, applied)

	nonces, err := noncestore.OpenNonceStore(filepath.Join(t.TempDir(), "nonces"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = nonces.Close() })

	srv, err := New(Config{EventBuffer: 16}, h.node, nonces, auth, limiter, nil)
	require.NoError(t, err)
	h.handler = srv.Handler()
	return h
}

func (h *harness) envelope(key *crypto.PrivateKey, action types.Action, payload any) []byte {
	h.t.Helper()
	sender := key.Identity()
	h.nonces[sender]++
	env, err := types.NewEnvelope(action, h.nonces[sender], payload)
	require.NoError(h.t, err)
	require.NoError(h.t, env.Sign(key.PrivateKey))
	raw, err := json.Marshal(env)
	require.NoError(h.t, err)
	return raw
}

func (h *harness) do(method, path string, body []byte, headers ...string) *httptest.ResponseRecorder {
	h.t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) submitAlice(limit string) *httptest.ResponseRecorder {
	h.t.Helper()
	return h.do(http.MethodPost, "/v1/requests", h.envelope(h.alice, types.ActionUpdateRequest, types.UpdateRequestCall{
		Offer:       testOffer,
		Want:        testWant,
		Deadline:    uint64(serverTestNow + 3600),
		LimitPrice:  limit,
		OfferAmount: testToken.String(),
	}))
}

func (h *harness) solveCall(max int64, price string) types.SolveCall {
	h.t.Helper()
	runData, err := solver.EncodeRunData(solver.RunData{Initiator: h.initiator.Identity(), MaxAssets: big.NewInt(max)})
	require.NoError(h.t, err)
	return types.SolveCall{
		Offer:         testOffer,
		Want:          testWant,
		Users:         []common.Address{h.alice.Identity()},
		RunData:       runData,
		Solver:        testP2P,
		ClearingPrice: price,
	}
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestServerRequestAndSolveFlow(t *testing.T) {
	h := newHarness(t, nil, nil)

	rec := h.submitAlice("5")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decodeBody[requestView](t, rec)
	require.Equal(t, account(h.alice.Identity()), view.Owner)
	require.Equal(t, "5", view.LimitPrice)

	rec = h.do(http.MethodGet, fmt.Sprintf("/v1/requests/%s/%s", asset(testOffer), asset(testWant)), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	owners := decodeBody[map[string][]string](t, rec)
	require.Equal(t, []string{account(h.alice.Identity())}, owners["owners"])

	metaBody, err := json.Marshal(metadataBody{
		Offer: testOffer.Hex(),
		Want:  testWant.Hex(),
		Users: []string{h.alice.Identity().Hex()},
		Price: "7",
	})
	require.NoError(t, err)
	rec = h.do(http.MethodPost, "/v1/metadata", metaBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	meta := decodeBody[metadataView](t, rec)
	require.Len(t, meta.Entries, 1)
	require.Equal(t, "7", meta.TotalWant)
	require.Equal(t, testToken.String(), meta.TotalOffer)

	rec = h.do(http.MethodPost, "/v1/solve", h.envelope(h.initiator, types.ActionSolve, h.solveCall(1000, "7")))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeBody[solveView](t, rec)
	require.Len(t, report.Filled, 1)
	require.Empty(t, report.Skipped)
	require.Equal(t, "7", report.TotalWant)

	rec = h.do(http.MethodGet, fmt.Sprintf("/v1/assets/%s/balances/%s", asset(testWant), account(h.alice.Identity())), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "7", decodeBody[map[string]string](t, rec)["balance"])

	rec = h.do(http.MethodGet, "/v1/queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := decodeBody[map[string]any](t, rec)
	require.Equal(t, account(h.owner.Identity()), info["owner"])
	require.Equal(t, false, info["paused"])
}

func TestServerFailedSolveIsBadGateway(t *testing.T) {
	h := newHarness(t, nil, nil)
	require.Equal(t, http.StatusOK, h.submitAlice("5").Code)
	root := h.node.Root()

	rec := h.do(http.MethodPost, "/v1/solve", h.envelope(h.initiator, types.ActionSolve, h.solveCall(6, "7")))
	require.Equal(t, http.StatusBadGateway, rec.Code, rec.Body.String())
	require.Equal(t, root, h.node.Root())

	rec = h.do(http.MethodGet, fmt.Sprintf("/v1/requests/%s/%s/%s",
		account(h.alice.Identity()), asset(testOffer), asset(testWant)), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody[requestView](t, rec)
	require.False(t, view.InSettlement)
	require.Equal(t, testToken.String(), view.OfferAmount)
}

func TestServerRejectsReplayedNonce(t *testing.T) {
	h := newHarness(t, nil, nil)
	body := h.envelope(h.alice, types.ActionUpdateRequest, types.UpdateRequestCall{
		Offer: testOffer, Want: testWant, Deadline: uint64(serverTestNow + 60), LimitPrice: "1", OfferAmount: "1",
	})
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/v1/requests", body).Code)
	rec := h.do(http.MethodPost, "/v1/requests", body)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "nonce")
}

func TestServerEnvelopeChecks(t *testing.T) {
	h := newHarness(t, nil, nil)

	body := h.envelope(h.alice, types.ActionSetPaused, types.SetPausedCall{Paused: true})
	rec := h.do(http.MethodPost, "/v1/requests", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var env types.Envelope
	require.NoError(t, json.Unmarshal(h.envelope(h.alice, types.ActionSetPaused, types.SetPausedCall{Paused: true}), &env))
	env.Payload = json.RawMessage(`{"paused":false}`)
	tampered, err := json.Marshal(env)
	require.NoError(t, err)
	rec = h.do(http.MethodPost, "/v1/admin/pause", tampered)
	// A modified payload recovers some other signer, who is not the owner.
	require.Equal(t, http.StatusForbidden, rec.Code)

	env.Signature = env.Signature[:10]
	truncated, err := json.Marshal(env)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, h.do(http.MethodPost, "/v1/admin/pause", truncated).Code)

	require.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/v1/requests", []byte(`{"bogus":1}`)).Code)
}

func TestServerAdminCalls(t *testing.T) {
	h := newHarness(t, nil, nil)
	mallory := common.BytesToAddress(bytes.Repeat([]byte{0x66}, 20))

	rec := h.do(http.MethodPost, "/v1/admin/solvers/toggle",
		h.envelope(h.alice, types.ActionToggleSolvers, types.ToggleSolversCall{Identities: []common.Address{mallory}}))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPost, "/v1/admin/solvers/toggle",
		h.envelope(h.owner, types.ActionToggleSolvers, types.ToggleSolversCall{Identities: []common.Address{mallory}}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(http.MethodGet, "/v1/solvers/"+account(mallory), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decodeBody[map[string]any](t, rec)["approved"])

	rec = h.do(http.MethodPost, "/v1/admin/pause", h.envelope(h.owner, types.ActionSetPaused, types.SetPausedCall{Paused: true}))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, http.StatusServiceUnavailable, h.submitAlice("5").Code)

	rec = h.do(http.MethodPost, "/v1/admin/pause", h.envelope(h.owner, types.ActionSetPaused, types.SetPausedCall{Paused: false}))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, http.StatusOK, h.submitAlice("5").Code)
}

func TestServerApproveAndAllowance(t *testing.T) {
	h := newHarness(t, nil, nil)
	rec := h.do(http.MethodPost, "/v1/ledger/approve", h.envelope(h.alice, types.ActionApprove, types.ApproveCall{
		Asset: testOffer, Spender: testP2P, Amount: "42",
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(http.MethodGet, fmt.Sprintf("/v1/assets/%s/allowances/%s/%s",
		asset(testOffer), account(h.alice.Identity()), account(testP2P)), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "42", decodeBody[map[string]string](t, rec)["allowance"])

	rec = h.do(http.MethodGet, "/v1/assets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeBody[[]assetView](t, rec), 2)

	rec = h.do(http.MethodGet, "/v1/assets/not-an-address/balances/"+account(testP2P), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServerValidateRequest(t *testing.T) {
	h := newHarness(t, nil, nil)
	body, err := json.Marshal(validateRequestBody{
		Offer:       testOffer.Hex(),
		Owner:       h.alice.Identity().Hex(),
		Deadline:    uint64(serverTestNow + 10),
		LimitPrice:  "1",
		OfferAmount: testToken.String(),
	})
	require.NoError(t, err)
	rec := h.do(http.MethodPost, "/v1/requests/validate", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, decodeBody[map[string]bool](t, rec)["valid"])

	body, err = json.Marshal(validateRequestBody{
		Offer:       testOffer.Hex(),
		Owner:       h.alice.Identity().Hex(),
		Deadline:    uint64(serverTestNow - 10),
		LimitPrice:  "1",
		OfferAmount: "1",
	})
	require.NoError(t, err)
	rec = h.do(http.MethodPost, "/v1/requests/validate", body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, decodeBody[map[string]bool](t, rec)["valid"])
}

func signToken(t *testing.T, secret string, scope string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":   "queued-test",
		"aud":   "queue",
		"scope": scope,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestServerBearerScopes(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: "s3cret", Issuer: "queued-test", Audience: "queue"}, nil)
	require.NoError(t, err)
	h := newHarness(t, auth, nil)

	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/healthz", nil).Code)
	require.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/v1/queue", nil).Code)
	require.Equal(t, http.StatusUnauthorized,
		h.do(http.MethodGet, "/v1/queue", nil, "Authorization", "Bearer "+signToken(t, "wrong", ScopeRead)).Code)

	reader := "Bearer " + signToken(t, "s3cret", ScopeRead)
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/queue", nil, "Authorization", reader).Code)

	body := h.envelope(h.alice, types.ActionUpdateRequest, types.UpdateRequestCall{
		Offer: testOffer, Want: testWant, Deadline: uint64(serverTestNow + 60), LimitPrice: "1", OfferAmount: "1",
	})
	require.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/v1/requests", body, "Authorization", reader).Code)

	writer := "Bearer " + signToken(t, "s3cret", ScopeRead+" "+ScopeWrite)
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/v1/requests", body, "Authorization", writer).Code)
}

func TestServerLogsMaskCredentials(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	auth, err := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: "s3cret"}, logger)
	require.NoError(t, err)
	h := newHarness(t, auth, nil)

	forged := signToken(t, "wrong", ScopeRead)
	require.Equal(t, http.StatusUnauthorized,
		h.do(http.MethodGet, "/v1/queue", nil, "Authorization", "Bearer "+forged).Code)
	require.Contains(t, buf.String(), "Bearer "+logging.RedactedValue)
	require.NotContains(t, buf.String(), forged)

	nonces, err := noncestore.OpenNonceStore(filepath.Join(t.TempDir(), "nonces-logged"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = nonces.Close() })
	srv, err := New(Config{EventBuffer: 16}, h.node, nonces, nil, nil, logger)
	require.NoError(t, err)

	var env types.Envelope
	require.NoError(t, json.Unmarshal(h.envelope(h.owner, types.ActionSetPaused, types.SetPausedCall{Paused: true}), &env))
	env.Signature = env.Signature[:10]
	truncated, err := json.Marshal(env)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/pause", bytes.NewReader(truncated))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, buf.String(), "envelope rejected")
	require.NotContains(t, buf.String(), strings.TrimPrefix(env.Signature.String(), "0x"))
}

func TestNewAuthenticatorRequiresSecret(t *testing.T) {
	_, err := NewAuthenticator(AuthConfig{Enabled: true}, nil)
	require.Error(t, err)
}

func TestServerRateLimitsPerGroup(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{"read": {RequestsPerMinute: 1, Burst: 2}})
	h := newHarness(t, nil, limiter)

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/queue", nil, "X-Real-IP", "10.0.0.1").Code)
	}
	require.Equal(t, http.StatusTooManyRequests, h.do(http.MethodGet, "/v1/queue", nil, "X-Real-IP", "10.0.0.1").Code)
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/queue", nil, "X-Real-IP", "10.0.0.2").Code)
	// Write group has no configured limit.
	require.Equal(t, http.StatusOK, h.submitAlice("5").Code)
}

func TestRateLimiterSweepsIdleClients(t *testing.T) {
	limiter := NewRateLimiter(nil)
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }
	require.True(t, limiter.allow("read|a", RateLimit{RequestsPerMinute: 60, Burst: 1}))
	require.Len(t, limiter.visitors, 1)
	now = now.Add(10 * time.Minute)
	require.True(t, limiter.allow("read|b", RateLimit{RequestsPerMinute: 60, Burst: 1}))
	require.Len(t, limiter.visitors, 1)
}

func TestServerRequestIDHeader(t *testing.T) {
	h := newHarness(t, nil, nil)
	rec := h.do(http.MethodGet, "/healthz", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	const id = "6f1c0d8e-5b0a-4d7e-9c1a-2b3c4d5e6f70"
	rec = h.do(http.MethodGet, "/healthz", nil, "X-Request-ID", id)
	require.Equal(t, id, rec.Header().Get("X-Request-ID"))

	rec = h.do(http.MethodGet, "/healthz", nil, "X-Request-ID", "not a uuid")
	require.NotEqual(t, "not a uuid", rec.Header().Get("X-Request-ID"))
}

func TestServerStreamsCommittedEvents(t *testing.T) {
	h := newHarness(t, nil, nil)
	srv := httptest.NewServer(h.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/events?type=queue.", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Equal(t, http.StatusOK, h.submitAlice("5").Code)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var evt types.Event
	require.NoError(t, json.Unmarshal(data, &evt))
	require.Equal(t, queue.EventTypeRequestUpdated, evt.Type)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", queue.ErrCallbackFailed), http.StatusBadGateway},
		{errors.Join(queue.ErrSettlementTransferFailed, errors.New("x")), http.StatusConflict},
		{queue.ErrRequestLocked, http.StatusConflict},
		{noncestore.ErrNonceReplayed, http.StatusConflict},
		{queue.ErrUnauthorizedSolver, http.StatusForbidden},
		{queue.ErrClearingPriceTooLow, http.StatusUnprocessableEntity},
		{queue.ErrUnknownSolver, http.StatusNotFound},
		{nativecommon.ErrModulePaused, http.StatusServiceUnavailable},
		{types.ErrEnvelopeSignature, http.StatusUnauthorized},
		{errBadRequest, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
