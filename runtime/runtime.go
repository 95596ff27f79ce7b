package runtime

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"forwardnet/core/events"
	"forwardnet/core/state"
	"forwardnet/native/factory"
	"forwardnet/native/fees"
	"forwardnet/native/market"
	"forwardnet/native/oracle"
	"forwardnet/native/token"
	"forwardnet/observability"
	"forwardnet/storage/trie"
)

var (
	ErrAlreadyBootstrapped = errors.New("runtime: already bootstrapped")
	ErrUnknownInstance     = errors.New("runtime: unknown instance")
	ErrNoMirror            = errors.New("runtime: no commitment mirror attached")
)

// Default instance identifiers used by Bootstrap when the genesis leaves them
// blank.
const (
	DefaultOracleID    = "oracle"
	DefaultCollectorID = "fees"
	DefaultFactoryID   = "factory"
)

// Runtime hosts every instance and executes their asynchronous effects. All
// mutation funnels through Do, which holds the single lock, runs the caller's
// block, and then drains the journaled step queue to quiescence. Instances
// never call each other directly; cross-instance effects are steps.
type Runtime struct {
	mu      sync.Mutex
	state   *state.Manager
	mirror  *trie.Mirror
	emitter events.Emitter
	nowFn   func() int64

	ledgers    map[string]*token.Ledger
	markets    map[string]*market.Engine
	oracles    map[string]*oracle.Router
	collectors map[string]*fees.Collector
	factories  map[string]*factory.Engine
}

// New creates an empty runtime over the given state manager.
func New(manager *state.Manager) *Runtime {
	r := &Runtime{
		state:      manager,
		emitter:    events.NoopEmitter{},
		nowFn:      func() int64 { return time.Now().Unix() },
		ledgers:    make(map[string]*token.Ledger),
		markets:    make(map[string]*market.Engine),
		oracles:    make(map[string]*oracle.Router),
		collectors: make(map[string]*fees.Collector),
		factories:  make(map[string]*factory.Engine),
	}
	return r
}

// SetEmitter routes every instance's events through the given emitter.
// Passing nil restores the no-op emitter.
func (r *Runtime) SetEmitter(emitter events.Emitter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	r.emitter = emitter
}

// SetNowFunc overrides the clock for the runtime and every hosted instance.
func (r *Runtime) SetNowFunc(now func() int64) {
	if now == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nowFn = now
}

// UseMirror attaches a commitment mirror; subsequent state writes feed it and
// Do commits it after each drained batch.
func (r *Runtime) UseMirror(mirror *trie.Mirror) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mirror = mirror
	r.state.SetMirror(mirror)
}

// StateRoot returns the commitment over the live state.
func (r *Runtime) StateRoot() (common.Hash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mirror == nil {
		return common.Hash{}, ErrNoMirror
	}
	return r.mirror.Root(), nil
}

// emitterProxy lets instances hold one emitter value while the runtime swaps
// the destination underneath.
type emitterProxy struct{ r *Runtime }

func (p emitterProxy) Emit(evt events.Event) { p.r.emitter.Emit(evt) }

func (r *Runtime) clock() func() int64 {
	return func() int64 { return r.nowFn() }
}

func manifestKey() []byte { return []byte("runtime/manifest") }
func genesisKey() []byte  { return []byte("runtime/genesis") }

type manifestEntry struct {
	Kind string
	ID   string
}

func (r *Runtime) appendManifest(kind, id string) error {
	encoded, err := rlp.EncodeToBytes(&manifestEntry{Kind: kind, ID: id})
	if err != nil {
		return err
	}
	return r.state.KVAppend(manifestKey(), encoded)
}

func (r *Runtime) loadManifest() ([]manifestEntry, error) {
	var raw [][]byte
	if err := r.state.KVGetList(manifestKey(), &raw); err != nil {
		return nil, err
	}
	entries := make([]manifestEntry, 0, len(raw))
	for _, item := range raw {
		var entry manifestEntry
		if err := rlp.DecodeBytes(item, &entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// attach wires a freshly created shell into the runtime without touching its
// persisted state.
func (r *Runtime) attach(kind, id string) error {
	switch kind {
	case "token":
		ledger := token.NewLedger(id)
		ledger.SetState(r.state)
		ledger.SetEmitter(emitterProxy{r})
		r.ledgers[id] = ledger
	case "market":
		engine := market.NewEngine(id)
		engine.SetState(r.state)
		engine.SetOutbox(r)
		engine.SetEmitter(emitterProxy{r})
		engine.SetNowFunc(r.clock())
		r.markets[id] = engine
	case "oracle":
		router := oracle.NewRouter(id)
		router.SetState(r.state)
		router.SetEmitter(emitterProxy{r})
		router.SetNowFunc(r.clock())
		r.oracles[id] = router
	case "collector":
		collector := fees.NewCollector(id)
		collector.SetState(r.state)
		collector.SetOutbox(r)
		collector.SetEmitter(emitterProxy{r})
		r.collectors[id] = collector
	case "factory":
		orchestrator := factory.NewEngine(id)
		orchestrator.SetState(r.state)
		orchestrator.SetProvisioner(r)
		orchestrator.SetChain(r)
		orchestrator.SetEmitter(emitterProxy{r})
		orchestrator.SetNowFunc(r.clock())
		r.factories[id] = orchestrator
	default:
		return fmt.Errorf("runtime: unknown manifest kind %q", kind)
	}
	return nil
}

func (r *Runtime) register(kind, id string) error {
	if err := r.attach(kind, id); err != nil {
		return err
	}
	return r.appendManifest(kind, id)
}

// CreateLedger provisions a new token ledger. Part of the factory's
// provisioner surface; also used by Bootstrap for genesis assets.
func (r *Runtime) CreateLedger(id string, meta token.Metadata) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("runtime: ledger id required")
	}
	if _, exists := r.ledgers[id]; exists {
		return fmt.Errorf("runtime: ledger %q already exists", id)
	}
	if err := r.register("token", id); err != nil {
		return err
	}
	return r.ledgers[id].Initialize(meta)
}

// CreateMarket provisions a new market instance and authorizes it at its fee
// collector so its fee records land without a separate admin action.
func (r *Runtime) CreateMarket(cfg market.Config) error {
	id := strings.TrimSpace(cfg.ID)
	if id == "" {
		return fmt.Errorf("runtime: market id required")
	}
	if _, exists := r.markets[id]; exists {
		return fmt.Errorf("runtime: market %q already exists", id)
	}
	if err := r.register("market", id); err != nil {
		return err
	}
	if err := r.markets[id].Initialize(cfg); err != nil {
		return err
	}
	if collector, ok := r.collectors[cfg.FeeCollector]; ok {
		if err := collector.AuthorizeMarket(cfg.Owner, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) ledgerFor(id string) (*token.Ledger, error) {
	ledger, ok := r.ledgers[id]
	if !ok {
		return nil, fmt.Errorf("%w: ledger %q", ErrUnknownInstance, id)
	}
	return ledger, nil
}

// AssetGenesis seeds one token ledger at bootstrap. The mint authority is the
// network owner.
type AssetGenesis struct {
	ID       string
	Symbol   string
	Name     string
	Decimals uint8
}

// Grant seeds an account balance at bootstrap.
type Grant struct {
	Asset   string
	Account string
	Amount  *big.Int
}

// PairGenesis configures one oracle pair at bootstrap. Durations in seconds.
type PairGenesis struct {
	Underlying      string
	Quote           string
	TwapWindow      int64
	MaxStaleness    int64
	MaxDeviationBps uint32
}

// Genesis describes the instances Bootstrap creates on first start.
type Genesis struct {
	Owner            string
	Guardian         string
	Treasury         string
	OracleID         string
	CollectorID      string
	FactoryID        string
	Assets           []AssetGenesis
	Grants           []Grant
	OraclePairs      []PairGenesis
	OracleSources    []string
	ProvisioningCost *big.Int
}

func (g Genesis) oracleID() string {
	if strings.TrimSpace(g.OracleID) != "" {
		return strings.TrimSpace(g.OracleID)
	}
	return DefaultOracleID
}

func (g Genesis) collectorID() string {
	if strings.TrimSpace(g.CollectorID) != "" {
		return strings.TrimSpace(g.CollectorID)
	}
	return DefaultCollectorID
}

func (g Genesis) factoryID() string {
	if strings.TrimSpace(g.FactoryID) != "" {
		return strings.TrimSpace(g.FactoryID)
	}
	return DefaultFactoryID
}

// Bootstrap creates and initializes the genesis instances exactly once. A
// second call against the same state returns ErrAlreadyBootstrapped; restarts
// go through Resume instead.
func (r *Runtime) Bootstrap(gen Genesis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	done, err := r.state.KVGet(genesisKey(), nil)
	if err != nil {
		return err
	}
	if done {
		return ErrAlreadyBootstrapped
	}
	owner := strings.TrimSpace(gen.Owner)
	if owner == "" {
		return fmt.Errorf("runtime: genesis owner required")
	}

	oracleID := gen.oracleID()
	if err := r.register("oracle", oracleID); err != nil {
		return err
	}
	if err := r.oracles[oracleID].Initialize(owner); err != nil {
		return err
	}
	for _, pair := range gen.OraclePairs {
		cfg := oracle.PairConfig{
			TwapWindow:      pair.TwapWindow,
			MaxStaleness:    pair.MaxStaleness,
			MaxDeviationBps: pair.MaxDeviationBps,
		}
		if err := r.oracles[oracleID].SetPairConfig(owner, pair.Underlying, pair.Quote, cfg); err != nil {
			return err
		}
	}
	for _, source := range gen.OracleSources {
		if err := r.oracles[oracleID].AuthorizeSource(owner, source); err != nil {
			return err
		}
	}

	collectorID := gen.collectorID()
	if err := r.register("collector", collectorID); err != nil {
		return err
	}
	treasury := strings.TrimSpace(gen.Treasury)
	if treasury == "" {
		treasury = owner
	}
	if err := r.collectors[collectorID].Initialize(owner, treasury); err != nil {
		return err
	}

	factoryID := gen.factoryID()
	if err := r.register("factory", factoryID); err != nil {
		return err
	}
	err = r.factories[factoryID].Initialize(factory.InitConfig{
		Owner:            owner,
		Guardian:         strings.TrimSpace(gen.Guardian),
		Oracle:           oracleID,
		FeeCollector:     collectorID,
		ProvisioningCost: gen.ProvisioningCost,
	})
	if err != nil {
		return err
	}
	// Instances are provisioned in-process, so the deployable code blobs
	// are template identifiers rather than bytecode.
	for kind, blob := range map[string][]byte{
		factory.CodeMarket: []byte("market/v1"),
		factory.CodeLong:   []byte("claim/v1"),
		factory.CodeShort:  []byte("claim/v1"),
	} {
		if err := r.factories[factoryID].SetCodeBlob(owner, kind, blob); err != nil {
			return err
		}
	}

	for _, asset := range gen.Assets {
		meta := token.Metadata{
			Symbol:    asset.Symbol,
			Name:      asset.Name,
			Decimals:  asset.Decimals,
			Authority: owner,
		}
		if err := r.CreateLedger(asset.ID, meta); err != nil {
			return err
		}
	}
	for _, grant := range gen.Grants {
		ledger, err := r.ledgerFor(grant.Asset)
		if err != nil {
			return err
		}
		if err := ledger.Mint(owner, grant.Account, grant.Amount); err != nil {
			return err
		}
	}
	return r.state.KVPut(genesisKey(), true)
}

// Resume rebuilds the instance set from the persisted manifest after a
// restart. Instance state itself lives in the store; only the shells are
// recreated. Any journaled steps left from the previous run stay queued and
// execute on the next drain.
func (r *Runtime) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries, err := r.loadManifest()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := r.attach(entry.Kind, entry.ID); err != nil {
			return err
		}
	}
	return nil
}

// Do runs fn under the runtime lock and then drains the step queue, so every
// effect fn initiated lands before Do returns. The mirror, when attached, is
// committed after the drain.
func (r *Runtime) Do(fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	fnErr := fn()
	drainErr := r.drainLocked()
	var commitErr error
	if r.mirror != nil {
		_, commitErr = r.mirror.Commit()
	}
	return errors.Join(fnErr, drainErr, commitErr)
}

// Step executes the oldest journaled step. It reports whether a step ran.
func (r *Runtime) Step() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stepLocked()
}

func (r *Runtime) stepLocked() (bool, error) {
	s, ok, err := r.dequeue()
	if err != nil || !ok {
		return false, err
	}
	execErr := r.execute(s)
	observability.RuntimeMetrics().ObserveStep(s.Kind, execErr)
	return true, execErr
}

// Drain executes journaled steps until the queue is empty. Step failures do
// not stop the drain; the component that issued a failed dispatch owns the
// consequences, and the remaining steps are unrelated work.
func (r *Runtime) Drain() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drainLocked()
}

func (r *Runtime) drainLocked() error {
	start := time.Now()
	var errs []error
	for {
		ran, err := r.stepLocked()
		if err != nil {
			errs = append(errs, err)
		}
		if !ran {
			break
		}
	}
	observability.RuntimeMetrics().ObserveDrain(time.Since(start))
	return errors.Join(errs...)
}

// Single-instance accessors do not take the runtime lock: the instance set
// mutates during drains, so concurrent callers must reach them from inside a
// Do block. The returned engines share that discipline. The ID listings
// below lock for themselves, like QueueDepth and StateRoot, so read-only
// callers can use them directly.

// Ledger returns the hosted token ledger with the given id.
func (r *Runtime) Ledger(id string) (*token.Ledger, bool) {
	ledger, ok := r.ledgers[id]
	return ledger, ok
}

// Market returns the hosted market engine with the given id.
func (r *Runtime) Market(id string) (*market.Engine, bool) {
	engine, ok := r.markets[id]
	return engine, ok
}

// Oracle returns the hosted oracle router with the given id.
func (r *Runtime) Oracle(id string) (*oracle.Router, bool) {
	router, ok := r.oracles[id]
	return router, ok
}

// Collector returns the hosted fee collector with the given id.
func (r *Runtime) Collector(id string) (*fees.Collector, bool) {
	collector, ok := r.collectors[id]
	return collector, ok
}

// Factory returns the hosted deployment orchestrator with the given id.
func (r *Runtime) Factory(id string) (*factory.Engine, bool) {
	orchestrator, ok := r.factories[id]
	return orchestrator, ok
}

// LedgerIDs lists the hosted token ledgers in lexical order. It takes the
// runtime lock and must not be called from inside a Do block.
func (r *Runtime) LedgerIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.ledgers)
}

// MarketIDs lists the hosted markets in lexical order. It takes the runtime
// lock and must not be called from inside a Do block.
func (r *Runtime) MarketIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.markets)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
