package runtime

import (
	"errors"
	"math/big"
	"testing"

	"forwardnet/core/state"
	"forwardnet/native/market"
	"forwardnet/storage"
	"forwardnet/storage/trie"
)

const (
	owner    = "fwd1owner"
	guardian = "fwd1guardian"
	treasury = "fwd1treasury"
	feed     = "fwd1feed"
	alice    = "fwd1alice"
	bob      = "fwd1bob"
)

// u scales whole numbers by 10^18, the sub-unit used throughout these tests.
// One quote unit at 24 decimals is u(1_000_000).
func u(n int64) *big.Int {
	exp := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return new(big.Int).Mul(big.NewInt(n), exp)
}

func testGenesis() Genesis {
	return Genesis{
		Owner:    owner,
		Guardian: guardian,
		Treasury: treasury,
		Assets: []AssetGenesis{
			{ID: "FWD", Symbol: "FWD", Name: "Forward Network", Decimals: 24},
			{ID: "USDQ", Symbol: "USDQ", Name: "Quote Dollar", Decimals: 24},
		},
		Grants: []Grant{
			{Asset: "USDQ", Account: alice, Amount: u(2_000_000)},
		},
		OraclePairs: []PairGenesis{
			{Underlying: "FWD", Quote: "USDQ", MaxStaleness: 600},
		},
		OracleSources:    []string{feed},
		ProvisioningCost: big.NewInt(10),
	}
}

func testMarketParams() market.Params {
	return market.Params{
		Underlying:   "FWD",
		Quote:        "USDQ",
		Maturity:     2_000,
		Strike:       u(50_000_000),
		Lower:        u(30_000_000),
		Upper:        u(70_000_000),
		MintFeeBps:   30,
		SettleFeeBps: 50,
		RedeemFeeBps: 20,
	}
}

func newTestRuntime(t *testing.T, db *storage.MemDB) (*Runtime, *int64) {
	t.Helper()
	rt := New(state.NewManager(db))
	now := new(int64)
	*now = 1_000
	rt.SetNowFunc(func() int64 { return *now })
	mirror, err := trie.NewMirror(db)
	if err != nil {
		t.Fatalf("mirror: %v", err)
	}
	rt.UseMirror(mirror)
	return rt, now
}

func bootTestRuntime(t *testing.T) (*Runtime, *storage.MemDB, *int64) {
	t.Helper()
	db := storage.NewMemDB()
	rt, now := newTestRuntime(t, db)
	if err := rt.Bootstrap(testGenesis()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return rt, db, now
}

func deployTestMarket(t *testing.T, rt *Runtime) string {
	t.Helper()
	var marketID string
	err := rt.Do(func() error {
		orchestrator, ok := rt.Factory(DefaultFactoryID)
		if !ok {
			t.Fatal("factory missing")
		}
		_, err := orchestrator.DeployMarket(alice, testMarketParams(), big.NewInt(30))
		return err
	})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	err = rt.Do(func() error {
		orchestrator, _ := rt.Factory(DefaultFactoryID)
		info, ok, err := orchestrator.MarketByParams(testMarketParams())
		if err != nil || !ok {
			t.Fatalf("market not registered: %v", err)
		}
		marketID = info.MarketID
		return nil
	})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	return marketID
}

func balance(t *testing.T, rt *Runtime, ledger, account string) *big.Int {
	t.Helper()
	var out *big.Int
	err := rt.Do(func() error {
		l, ok := rt.Ledger(ledger)
		if !ok {
			t.Fatalf("ledger %s missing", ledger)
		}
		b, err := l.BalanceOf(account)
		out = b
		return err
	})
	if err != nil {
		t.Fatalf("balance %s/%s: %v", ledger, account, err)
	}
	return out
}

func TestBootstrapIsOneShot(t *testing.T) {
	rt, _, _ := bootTestRuntime(t)
	if err := rt.Bootstrap(testGenesis()); !errors.Is(err, ErrAlreadyBootstrapped) {
		t.Fatalf("expected ErrAlreadyBootstrapped, got %v", err)
	}
	if got := balance(t, rt, "USDQ", alice); got.Cmp(u(2_000_000)) != 0 {
		t.Fatalf("grant balance %s", got)
	}
}

func TestDeploymentProvisionsInstances(t *testing.T) {
	rt, _, _ := bootTestRuntime(t)
	marketID := deployTestMarket(t, rt)
	if marketID != "market-1.factory" {
		t.Fatalf("market id %q", marketID)
	}
	err := rt.Do(func() error {
		if _, ok := rt.Market(marketID); !ok {
			t.Fatal("market engine not hosted")
		}
		if _, ok := rt.Ledger("long-1.factory"); !ok {
			t.Fatal("long ledger not hosted")
		}
		if _, ok := rt.Ledger("short-1.factory"); !ok {
			t.Fatal("short ledger not hosted")
		}
		collector, _ := rt.Collector(DefaultCollectorID)
		allowed, err := collector.IsMarketAuthorized(marketID)
		if err != nil {
			return err
		}
		if !allowed {
			t.Fatal("deployed market not authorized at collector")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
}

func TestMintLifecycle(t *testing.T) {
	rt, _, _ := bootTestRuntime(t)
	marketID := deployTestMarket(t, rt)

	err := rt.Do(func() error {
		engine, _ := rt.Market(marketID)
		_, err := engine.CreatePosition(alice, u(1_000_000))
		return err
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	// 30 bps on one unit: fee 3000, net 997000 sub-units.
	if got := balance(t, rt, "USDQ", alice); got.Cmp(u(1_000_000)) != 0 {
		t.Fatalf("alice quote balance %s", got)
	}
	if got := balance(t, rt, "long-1.factory", alice); got.Cmp(u(997_000)) != 0 {
		t.Fatalf("long claim balance %s", got)
	}
	if got := balance(t, rt, "short-1.factory", alice); got.Cmp(u(997_000)) != 0 {
		t.Fatalf("short claim balance %s", got)
	}
	// Market custody tracks the pool exactly; the fee moved to the collector.
	if got := balance(t, rt, "USDQ", marketID); got.Cmp(u(997_000)) != 0 {
		t.Fatalf("market custody %s", got)
	}
	if got := balance(t, rt, "USDQ", DefaultCollectorID); got.Cmp(u(3_000)) != 0 {
		t.Fatalf("collector custody %s", got)
	}
	err = rt.Do(func() error {
		collector, _ := rt.Collector(DefaultCollectorID)
		collected, err := collector.CollectedFees("USDQ")
		if err != nil {
			return err
		}
		if collected.Cmp(u(3_000)) != 0 {
			t.Fatalf("collected books %s", collected)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("books: %v", err)
	}
}

func TestSettleWaitsForFreshPrice(t *testing.T) {
	rt, _, now := bootTestRuntime(t)
	marketID := deployTestMarket(t, rt)
	*now = 3_000

	// No observation posted yet: the request round-trips without settling.
	err := rt.Do(func() error {
		engine, _ := rt.Market(marketID)
		return engine.Settle()
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	err = rt.Do(func() error {
		engine, _ := rt.Market(marketID)
		st, err := engine.State()
		if err != nil {
			return err
		}
		if st.Settled {
			t.Fatal("settled without a price")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("state: %v", err)
	}
}

func settleTestMarket(t *testing.T, rt *Runtime, marketID string, now *int64, price *big.Int) {
	t.Helper()
	*now = 3_000
	err := rt.Do(func() error {
		router, _ := rt.Oracle(DefaultOracleID)
		return router.PostPrice(feed, "FWD", "USDQ", price, 2_900)
	})
	if err != nil {
		t.Fatalf("post price: %v", err)
	}
	err = rt.Do(func() error {
		engine, _ := rt.Market(marketID)
		return engine.Settle()
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
}

func TestFullLifecycle(t *testing.T) {
	rt, _, now := bootTestRuntime(t)
	marketID := deployTestMarket(t, rt)

	err := rt.Do(func() error {
		engine, _ := rt.Market(marketID)
		_, err := engine.CreatePosition(alice, u(1_000_000))
		return err
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	settleTestMarket(t, rt, marketID, now, u(50_000_000))

	// 50 bps settle fee on the 997000 pool: 4985 sub-units.
	err = rt.Do(func() error {
		engine, _ := rt.Market(marketID)
		st, err := engine.State()
		if err != nil {
			return err
		}
		if !st.Settled {
			t.Fatal("not settled")
		}
		if st.TotalCollateral.Cmp(u(992_015)) != 0 {
			t.Fatalf("pool %s", st.TotalCollateral)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if got := balance(t, rt, "USDQ", marketID); got.Cmp(u(992_015)) != 0 {
		t.Fatalf("market custody %s", got)
	}

	// Redeem half the pair at factor 0.5: payout 498500, fee 997, net 497503.
	err = rt.Do(func() error {
		engine, _ := rt.Market(marketID)
		net, err := engine.Redeem(alice, u(498_500), u(498_500))
		if err != nil {
			return err
		}
		if net.Cmp(u(497_503)) != 0 {
			t.Fatalf("net payout %s", net)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}

	if got := balance(t, rt, "USDQ", alice); got.Cmp(u(1_497_503)) != 0 {
		t.Fatalf("alice balance %s", got)
	}
	if got := balance(t, rt, "long-1.factory", alice); got.Cmp(u(498_500)) != 0 {
		t.Fatalf("long claims after burn %s", got)
	}
	if got := balance(t, rt, "USDQ", marketID); got.Cmp(u(493_515)) != 0 {
		t.Fatalf("market custody %s", got)
	}

	// Collector held 3000 + 4985 + 997 across the three fee events.
	err = rt.Do(func() error {
		collector, _ := rt.Collector(DefaultCollectorID)
		_, err := collector.WithdrawFees(owner, "USDQ", nil)
		return err
	})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := balance(t, rt, "USDQ", treasury); got.Cmp(u(8_982)) != 0 {
		t.Fatalf("treasury balance %s", got)
	}
	if got := balance(t, rt, "USDQ", DefaultCollectorID); got.Sign() != 0 {
		t.Fatalf("collector custody %s", got)
	}
}

func TestResumeRebuildsInstances(t *testing.T) {
	rt, db, _ := bootTestRuntime(t)
	marketID := deployTestMarket(t, rt)
	err := rt.Do(func() error {
		engine, _ := rt.Market(marketID)
		_, err := engine.CreatePosition(alice, u(1_000_000))
		return err
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	rootBefore, err := rt.StateRoot()
	if err != nil {
		t.Fatalf("root: %v", err)
	}

	restarted, _ := newTestRuntime(t, db)
	if err := restarted.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got := balance(t, restarted, "long-1.factory", alice); got.Cmp(u(997_000)) != 0 {
		t.Fatalf("claims after restart %s", got)
	}
	err = restarted.Do(func() error {
		engine, ok := restarted.Market(marketID)
		if !ok {
			t.Fatal("market not rebuilt")
		}
		params, err := engine.Params()
		if err != nil {
			return err
		}
		if params.Quote != "USDQ" {
			t.Fatalf("params lost: %+v", params)
		}
		orchestrator, ok := restarted.Factory(DefaultFactoryID)
		if !ok {
			t.Fatal("factory not rebuilt")
		}
		count, err := orchestrator.MarketCount()
		if err != nil {
			return err
		}
		if count != 1 {
			t.Fatalf("market count %d", count)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	rootAfter, err := restarted.StateRoot()
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if rootBefore != rootAfter {
		t.Fatalf("state root changed across restart: %s != %s", rootBefore, rootAfter)
	}
}

func TestJournaledStepsSurviveRestart(t *testing.T) {
	rt, db, _ := bootTestRuntime(t)
	// Enqueue a plain transfer without draining, simulating a crash between
	// journal write and execution.
	if err := rt.TransferWithTag("USDQ", alice, bob, u(5_000), ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	restarted, _ := newTestRuntime(t, db)
	if err := restarted.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	depth, err := restarted.QueueDepth()
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth != 1 {
		t.Fatalf("queue depth %d, want 1", depth)
	}
	if err := restarted.Drain(); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if got := balance(t, restarted, "USDQ", bob); got.Cmp(u(5_000)) != 0 {
		t.Fatalf("bob balance %s", got)
	}
}

func TestJournalDetectsTampering(t *testing.T) {
	s := step{Kind: kindPay, Ledger: "USDQ", From: alice, To: bob, Amount: u(1)}
	if err := s.seal(); err != nil {
		t.Fatalf("seal: %v", err)
	}
	if err := s.verify(); err != nil {
		t.Fatalf("verify sealed: %v", err)
	}
	s.Amount = u(2)
	if err := s.verify(); !errors.Is(err, ErrJournalCorrupted) {
		t.Fatalf("expected ErrJournalCorrupted, got %v", err)
	}
}

func TestPriceBelowBandZeroesLongSide(t *testing.T) {
	rt, _, now := bootTestRuntime(t)
	marketID := deployTestMarket(t, rt)
	err := rt.Do(func() error {
		engine, _ := rt.Market(marketID)
		_, err := engine.CreatePosition(alice, u(1_000_000))
		return err
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	settleTestMarket(t, rt, marketID, now, u(20_000_000))

	// Factor clamps to zero: long claims burn for nothing.
	err = rt.Do(func() error {
		engine, _ := rt.Market(marketID)
		net, err := engine.Redeem(alice, u(997_000), nil)
		if err != nil {
			return err
		}
		if net.Sign() != 0 {
			t.Fatalf("long-side payout %s below the band", net)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if got := balance(t, rt, "long-1.factory", alice); got.Sign() != 0 {
		t.Fatalf("long claims not burned: %s", got)
	}
}

func TestIDListingsSafeDuringDeploys(t *testing.T) {
	rt, _, _ := bootTestRuntime(t)

	done := make(chan struct{})
	listed := make(chan struct{})
	go func() {
		defer close(listed)
		for {
			select {
			case <-done:
				return
			default:
			}
			rt.MarketIDs()
			rt.LedgerIDs()
		}
	}()

	const deploys = 50
	for i := 0; i < deploys; i++ {
		params := testMarketParams()
		params.Maturity = 2_000 + int64(i)
		err := rt.Do(func() error {
			orchestrator, ok := rt.Factory(DefaultFactoryID)
			if !ok {
				t.Error("factory missing")
				return nil
			}
			_, err := orchestrator.DeployMarket(alice, params, big.NewInt(30))
			return err
		})
		if err != nil {
			t.Fatalf("deploy %d: %v", i, err)
		}
	}
	close(done)
	<-listed

	if got := len(rt.MarketIDs()); got != deploys {
		t.Fatalf("listed %d markets, want %d", got, deploys)
	}
	// genesis FWD and USDQ plus a long and short claim ledger per market
	if got := len(rt.LedgerIDs()); got != 2+2*deploys {
		t.Fatalf("listed %d ledgers, want %d", got, 2+2*deploys)
	}
}
