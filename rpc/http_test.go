package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"forwardnet/core/events"
	"forwardnet/core/state"
	"forwardnet/runtime"
	"forwardnet/storage"
	"forwardnet/storage/trie"

	"nhooyr.io/websocket"
)

const (
	testToken    = "test-rpc-token"
	testOwner    = "fwd1owner"
	testGuardian = "fwd1guardian"
	testTreasury = "fwd1treasury"
	testFeed     = "fwd1feed"
	testAlice    = "fwd1alice"
)

func u(n int64) *big.Int {
	exp := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return new(big.Int).Mul(big.NewInt(n), exp)
}

type testEnv struct {
	server *httptest.Server
	rt     *runtime.Runtime
	now    *int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("FORWARD_RPC_TOKEN", testToken)

	db := storage.NewMemDB()
	rt := runtime.New(state.NewManager(db))
	now := new(int64)
	*now = 1_000
	rt.SetNowFunc(func() int64 { return *now })
	mirror, err := trie.NewMirror(db)
	if err != nil {
		t.Fatalf("mirror: %v", err)
	}
	rt.UseMirror(mirror)

	hub := events.NewHub()
	rt.SetEmitter(hub)

	gen := runtime.Genesis{
		Owner:    testOwner,
		Guardian: testGuardian,
		Treasury: testTreasury,
		Assets: []runtime.AssetGenesis{
			{ID: "FWD", Symbol: "FWD", Name: "Forward Network", Decimals: 24},
			{ID: "USDQ", Symbol: "USDQ", Name: "Quote Dollar", Decimals: 24},
		},
		Grants: []runtime.Grant{
			{Asset: "USDQ", Account: testAlice, Amount: u(2_000_000)},
		},
		OraclePairs: []runtime.PairGenesis{
			{Underlying: "FWD", Quote: "USDQ", MaxStaleness: 600},
		},
		OracleSources:    []string{testFeed},
		ProvisioningCost: big.NewInt(10),
	}
	if err := rt.Bootstrap(gen); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	srv := NewServer(rt, hub)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, rt: rt, now: now}
}

func (e *testEnv) call(t *testing.T, method string, params interface{}, authed bool) RPCResponse {
	t.Helper()
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		req["params"] = []interface{}{params}
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	httpReq, err := http.NewRequest(http.MethodPost, e.server.URL, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if authed {
		httpReq.Header.Set("Authorization", "Bearer "+testToken)
	}
	resp, err := e.server.Client().Do(httpReq)
	if err != nil {
		t.Fatalf("call %s: %v", method, err)
	}
	defer resp.Body.Close()
	var decoded RPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode %s response: %v", method, err)
	}
	return decoded
}

func (e *testEnv) mustCall(t *testing.T, method string, params interface{}, out interface{}) {
	t.Helper()
	resp := e.call(t, method, params, true)
	if resp.Error != nil {
		t.Fatalf("%s failed: %+v", method, resp.Error)
	}
	if out != nil {
		raw, err := json.Marshal(resp.Result)
		if err != nil {
			t.Fatalf("remarshal result: %v", err)
		}
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("decode %s result: %v", method, err)
		}
	}
}

func testParamsView() MarketParamsView {
	return MarketParamsView{
		Underlying:   "FWD",
		Quote:        "USDQ",
		Maturity:     2_000,
		Strike:       u(50_000_000).String(),
		Lower:        u(30_000_000).String(),
		Upper:        u(70_000_000).String(),
		MintFeeBps:   30,
		SettleFeeBps: 50,
		RedeemFeeBps: 20,
	}
}

func deployMarket(t *testing.T, env *testEnv) string {
	t.Helper()
	var deployed factoryDeployResult
	env.mustCall(t, "factory_deployMarket", factoryDeployParams{
		Caller:  testAlice,
		Funding: "30",
		Params:  testParamsView(),
	}, &deployed)
	if deployed.DeployID == 0 {
		t.Fatal("deploy id not assigned")
	}

	var infos []MarketInfoView
	env.mustCall(t, "factory_markets", factoryListParams{Take: 10}, &infos)
	if len(infos) != 1 {
		t.Fatalf("expected 1 market, got %d", len(infos))
	}
	return infos[0].MarketID
}

func TestRequestValidation(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.server.Client().Post(env.server.URL, "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	var decoded RPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if decoded.Error == nil || decoded.Error.Code != codeParseError {
		t.Fatalf("expected parse error, got %+v", decoded.Error)
	}

	out := env.call(t, "no_such_method", nil, false)
	if out.Error == nil || out.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found, got %+v", out.Error)
	}

	out = env.call(t, "market_get", nil, false)
	if out.Error == nil || out.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid params, got %+v", out.Error)
	}
}

func TestWriteMethodsRequireAuth(t *testing.T) {
	env := newTestEnv(t)

	out := env.call(t, "market_mint", marketMintParams{Market: "m", Caller: testAlice, Amount: "1"}, false)
	if out.Error == nil || out.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized, got %+v", out.Error)
	}

	// Reads stay open.
	out = env.call(t, "token_list", nil, false)
	if out.Error != nil {
		t.Fatalf("token_list should not require auth: %+v", out.Error)
	}
}

func TestDeployAndLifecycleOverRPC(t *testing.T) {
	env := newTestEnv(t)
	marketID := deployMarket(t, env)

	var view MarketView
	env.mustCall(t, "market_get", marketTargetParams{Market: marketID}, &view)
	if view.State.Settled {
		t.Fatal("fresh market must not be settled")
	}
	if view.Wiring.Oracle == "" || view.Wiring.LongLedger == "" {
		t.Fatalf("wiring incomplete: %+v", view.Wiring)
	}

	var minted marketMintResult
	env.mustCall(t, "market_mint", marketMintParams{
		Market: marketID,
		Caller: testAlice,
		Amount: u(1_000_000).String(),
	}, &minted)
	if minted.Tag == "" {
		t.Fatal("mint tag missing")
	}

	// 30 bps mint fee leaves 997000 sub-units of each claim.
	var balanceOut map[string]string
	env.mustCall(t, "token_balance", tokenBalanceParams{
		Ledger:  view.Wiring.LongLedger,
		Account: testAlice,
	}, &balanceOut)
	if balanceOut["balance"] != u(997_000).String() {
		t.Fatalf("long claim balance %s", balanceOut["balance"])
	}

	// Settlement needs maturity and a fresh observation.
	*env.now = 3_000
	env.mustCall(t, "oracle_postPrice", oraclePostPriceParams{
		Caller:     testFeed,
		Underlying: "FWD",
		Quote:      "USDQ",
		Price:      u(50_000_000).String(),
		Timestamp:  2_900,
	}, nil)
	env.mustCall(t, "market_settle", marketTargetParams{Market: marketID}, &view)
	if !view.State.Settled {
		t.Fatal("market should be settled")
	}

	var redeemed marketRedeemResult
	env.mustCall(t, "market_redeem", marketRedeemParams{
		Market:      marketID,
		Caller:      testAlice,
		LongAmount:  u(997_000).String(),
		ShortAmount: u(997_000).String(),
	}, &redeemed)
	if redeemed.Payout == "0" {
		t.Fatal("redeem payout should be positive")
	}

	var collected map[string]string
	env.mustCall(t, "fees_collected", feesAssetParams{Asset: "USDQ"}, &collected)
	if collected["collected"] == "0" {
		t.Fatal("fees should have accrued")
	}

	var root map[string]string
	env.mustCall(t, "state_root", nil, &root)
	if !strings.HasPrefix(root["root"], "0x") {
		t.Fatalf("unexpected state root %q", root["root"])
	}
}

func TestDuplicateDeployMapsToConflict(t *testing.T) {
	env := newTestEnv(t)
	deployMarket(t, env)

	out := env.call(t, "factory_deployMarket", factoryDeployParams{
		Caller:  testAlice,
		Funding: "30",
		Params:  testParamsView(),
	}, true)
	if out.Error == nil || out.Error.Code != codeDuplicate {
		t.Fatalf("expected duplicate code, got %+v", out.Error)
	}
}

func TestSettleBeforeMaturityIsInvalid(t *testing.T) {
	env := newTestEnv(t)
	marketID := deployMarket(t, env)

	out := env.call(t, "market_settle", marketTargetParams{Market: marketID}, true)
	if out.Error == nil || out.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid-params for early settle, got %+v", out.Error)
	}
	if !strings.Contains(out.Error.Message, "maturity") {
		t.Fatalf("unexpected message %q", out.Error.Message)
	}
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t)
	marketID := deployMarket(t, env)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(env.server.URL, "http://", "ws://", 1) + "/ws/events?cursor=0"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// The deploy already emitted events; replaying from cursor 0 must
	// deliver them without further activity.
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var envelope struct {
		Sequence uint64 `json:"sequence"`
		Cursor   string `json:"cursor"`
		Type     string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Sequence == 0 || envelope.Type == "" {
		t.Fatalf("unexpected envelope %+v", envelope)
	}
	if marketID == "" {
		t.Fatal("market id missing")
	}
}

func TestAdminAndLookupMethods(t *testing.T) {
	env := newTestEnv(t)
	marketID := deployMarket(t, env)

	var info MarketInfoView
	env.mustCall(t, "factory_marketByParams", factoryMarketByParamsParams{Params: testParamsView()}, &info)
	if info.MarketID != marketID {
		t.Fatalf("lookup returned %q, want %q", info.MarketID, marketID)
	}

	var count map[string]int
	env.mustCall(t, "factory_marketCount", nil, &count)
	if count["count"] != 1 {
		t.Fatalf("market count %d, want 1", count["count"])
	}

	missing := testParamsView()
	missing.Maturity = 9_999
	resp := env.call(t, "factory_marketByParams", factoryMarketByParamsParams{Params: missing}, true)
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected unknown-market error, got %+v", resp.Error)
	}

	var pending marketPendingResult
	env.mustCall(t, "market_pendingAction", marketPendingParams{Market: marketID, Tag: "no-such-tag"}, &pending)
	if pending.Found {
		t.Fatalf("unexpected pending action: %+v", pending)
	}

	env.mustCall(t, "factory_setGuardian", factoryWiringParams{Caller: testOwner, Address: "fwd1guardian2"}, nil)
	resp = env.call(t, "factory_setGuardian", factoryWiringParams{Caller: testAlice, Address: testAlice}, true)
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized, got %+v", resp.Error)
	}

	env.mustCall(t, "fees_authorizeMarket", feesMarketParams{Caller: testOwner, Market: "fwd1sidecar"}, nil)
	env.mustCall(t, "fees_revokeMarket", feesMarketParams{Caller: testOwner, Market: "fwd1sidecar"}, nil)
	resp = env.call(t, "fees_setTreasury", feesSetTreasuryParams{Caller: testAlice, Treasury: testAlice}, true)
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized treasury update, got %+v", resp.Error)
	}
}
