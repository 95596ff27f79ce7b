package market

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"forwardnet/core/events"
	"forwardnet/native/common"
)

var (
	ErrNotInitialized         = errors.New("market engine: not initialized")
	ErrAlreadyInitialized     = errors.New("market engine: already initialized")
	ErrMintPaused             = errors.New("market engine: minting paused")
	ErrSettlePaused           = errors.New("market engine: settlement paused")
	ErrAlreadySettled         = errors.New("market engine: already settled")
	ErrNotSettled             = errors.New("market engine: not settled")
	ErrNotMatured             = errors.New("market engine: maturity not reached")
	ErrNotAuthorized          = errors.New("market engine: caller is not owner or guardian")
	ErrNothingToRedeem        = errors.New("market engine: both redemption amounts are zero")
	ErrInsufficientCollateral = errors.New("market engine: payout exceeds collateral")
	ErrCollateralOverflow     = errors.New("market engine: collateral exceeds 128-bit range")
	ErrNoOutbox               = errors.New("market engine: outbox not configured")
)

// Storage abstracts the subset of state manager functionality required by the
// engine.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// Outbox schedules the asynchronous remote operations the engine issues. Each
// call enqueues a separate runtime step; other operations on this instance may
// interleave before the step runs, so the engine persists its own bookkeeping
// before dispatching.
type Outbox interface {
	TransferWithTag(ledger, from, to string, amount *big.Int, tag string) error
	RequestPrice(market, underlying, quote string) error
	MintClaims(ledger, account string, amount *big.Int) error
	BurnClaims(ledger, account string, amount *big.Int) error
	Pay(ledger, from, to string, amount *big.Int) error
	RecordFee(collector, market, asset string, amount *big.Int) error
}

// Engine is one hosted market instance: the state machine over minting,
// settlement, and redemption of a bounded-forward claim pair. All mutating
// calls run inside a single runtime step, so transitions are plain
// load/mutate/store with explicit phase guards; cross-instance effects go
// through the outbox and land as later steps.
type Engine struct {
	id      string
	state   Storage
	outbox  Outbox
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates an engine shell for the given instance id with a no-op
// emitter and a wall-clock time source.
func NewEngine(id string) *Engine {
	return &Engine{
		id:      strings.TrimSpace(id),
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the persistent store.
func (e *Engine) SetState(state Storage) { e.state = state }

// SetOutbox wires the asynchronous dispatch.
func (e *Engine) SetOutbox(outbox Outbox) { e.outbox = outbox }

// SetEmitter overrides the event emitter. Passing nil restores the no-op
// emitter.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the clock used for the maturity guard.
func (e *Engine) SetNowFunc(now func() int64) {
	if now != nil {
		e.nowFn = now
	}
}

// ID returns the instance identifier, which is also the engine's custody
// account on the quote ledger.
func (e *Engine) ID() string { return e.id }

func (e *Engine) paramsKey() []byte { return []byte("market/" + e.id + "/params") }
func (e *Engine) wiringKey() []byte { return []byte("market/" + e.id + "/wiring") }
func (e *Engine) stateKey() []byte  { return []byte("market/" + e.id + "/state") }
func (e *Engine) pendingKey(tag string) []byte {
	return []byte("market/" + e.id + "/pending/" + tag)
}
func (e *Engine) depositKey(account string) []byte {
	return []byte("market/" + e.id + "/deposit/" + account)
}

type storedParams struct {
	Underlying   string
	Quote        string
	Maturity     uint64
	Strike       *big.Int
	Lower        *big.Int
	Upper        *big.Int
	MintFeeBps   uint32
	SettleFeeBps uint32
	RedeemFeeBps uint32
}

type storedWiring struct {
	Owner        string
	Guardian     string
	LongLedger   string
	ShortLedger  string
	Oracle       string
	FeeCollector string
}

type storedState struct {
	Settled          bool
	SettlementPrice  *big.Int
	SettlementFactor *big.Int
	TotalCollateral  *big.Int
	LongSupply       *big.Int
	ShortSupply      *big.Int
	PausedMint       bool
	PausedSettle     bool
	ActionSeq        uint64
}

type storedPending struct {
	Account string
	Amount  *big.Int
	Kind    uint8
}

// Initialize validates the parameters once and persists the immutable books.
func (e *Engine) Initialize(cfg Config) error {
	if e.state == nil {
		return ErrNotInitialized
	}
	exists, err := e.state.KVGet(e.paramsKey(), nil)
	if err != nil {
		return err
	}
	if exists {
		return ErrAlreadyInitialized
	}
	params := cfg.Params.Normalize()
	if err := params.Validate(e.nowFn()); err != nil {
		return err
	}
	stored := storedParams{
		Underlying:   params.Underlying,
		Quote:        params.Quote,
		Maturity:     uint64(params.Maturity),
		Strike:       params.Strike,
		Lower:        params.Lower,
		Upper:        params.Upper,
		MintFeeBps:   params.MintFeeBps,
		SettleFeeBps: params.SettleFeeBps,
		RedeemFeeBps: params.RedeemFeeBps,
	}
	if err := e.state.KVPut(e.paramsKey(), &stored); err != nil {
		return err
	}
	wiring := storedWiring{
		Owner:        strings.TrimSpace(cfg.Owner),
		Guardian:     strings.TrimSpace(cfg.Guardian),
		LongLedger:   strings.TrimSpace(cfg.LongLedger),
		ShortLedger:  strings.TrimSpace(cfg.ShortLedger),
		Oracle:       strings.TrimSpace(cfg.Oracle),
		FeeCollector: strings.TrimSpace(cfg.FeeCollector),
	}
	if err := e.state.KVPut(e.wiringKey(), &wiring); err != nil {
		return err
	}
	return e.writeState(&storedState{
		SettlementPrice:  big.NewInt(0),
		SettlementFactor: big.NewInt(0),
		TotalCollateral:  big.NewInt(0),
		LongSupply:       big.NewInt(0),
		ShortSupply:      big.NewInt(0),
	})
}

func (e *Engine) loadParams() (storedParams, error) {
	var stored storedParams
	ok, err := e.state.KVGet(e.paramsKey(), &stored)
	if err != nil {
		return storedParams{}, err
	}
	if !ok {
		return storedParams{}, ErrNotInitialized
	}
	return stored, nil
}

func (e *Engine) loadWiring() (storedWiring, error) {
	var wiring storedWiring
	ok, err := e.state.KVGet(e.wiringKey(), &wiring)
	if err != nil {
		return storedWiring{}, err
	}
	if !ok {
		return storedWiring{}, ErrNotInitialized
	}
	return wiring, nil
}

func (e *Engine) loadState() (*storedState, error) {
	stored := &storedState{}
	ok, err := e.state.KVGet(e.stateKey(), stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return stored, nil
}

func (e *Engine) writeState(stored *storedState) error {
	return e.state.KVPut(e.stateKey(), stored)
}

// Params returns the immutable market parameters.
func (e *Engine) Params() (Params, error) {
	if e.state == nil {
		return Params{}, ErrNotInitialized
	}
	stored, err := e.loadParams()
	if err != nil {
		return Params{}, err
	}
	return Params{
		Underlying:   stored.Underlying,
		Quote:        stored.Quote,
		Maturity:     int64(stored.Maturity),
		Strike:       clone(stored.Strike),
		Lower:        clone(stored.Lower),
		Upper:        clone(stored.Upper),
		MintFeeBps:   stored.MintFeeBps,
		SettleFeeBps: stored.SettleFeeBps,
		RedeemFeeBps: stored.RedeemFeeBps,
	}, nil
}

// Wiring returns the instance references the market was provisioned with.
func (e *Engine) Wiring() (Wiring, error) {
	if e.state == nil {
		return Wiring{}, ErrNotInitialized
	}
	stored, err := e.loadWiring()
	if err != nil {
		return Wiring{}, err
	}
	return Wiring{
		Owner:        stored.Owner,
		Guardian:     stored.Guardian,
		LongLedger:   stored.LongLedger,
		ShortLedger:  stored.ShortLedger,
		Oracle:       stored.Oracle,
		FeeCollector: stored.FeeCollector,
	}, nil
}

// State returns a copy of the mutable market state.
func (e *Engine) State() (State, error) {
	if e.state == nil {
		return State{}, ErrNotInitialized
	}
	stored, err := e.loadState()
	if err != nil {
		return State{}, err
	}
	return State{
		Settled:          stored.Settled,
		SettlementPrice:  clone(stored.SettlementPrice),
		SettlementFactor: clone(stored.SettlementFactor),
		TotalCollateral:  clone(stored.TotalCollateral),
		LongSupply:       clone(stored.LongSupply),
		ShortSupply:      clone(stored.ShortSupply),
		PausedMint:       stored.PausedMint,
		PausedSettle:     stored.PausedSettle,
		ActionSeq:        stored.ActionSeq,
	}, nil
}

// PendingAction returns the in-flight action registered under tag, if any.
func (e *Engine) PendingAction(tag string) (PendingAction, bool, error) {
	if e.state == nil {
		return PendingAction{}, false, ErrNotInitialized
	}
	var stored storedPending
	ok, err := e.state.KVGet(e.pendingKey(tag), &stored)
	if err != nil || !ok {
		return PendingAction{}, false, err
	}
	return PendingAction{Account: stored.Account, Amount: clone(stored.Amount), Kind: ActionKind(stored.Kind)}, true, nil
}

// UserDeposit returns the gross collateral an account has deposited over the
// market's lifetime. View-only bookkeeping; redemptions do not reduce it.
func (e *Engine) UserDeposit(account string) (*big.Int, error) {
	if e.state == nil {
		return nil, ErrNotInitialized
	}
	total := new(big.Int)
	ok, err := e.state.KVGet(e.depositKey(account), total)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return total, nil
}

// CreatePosition initiates a mint: it registers a pending action under a
// fresh correlation tag and dispatches the collateral transfer carrying that
// tag. Collateral and supply move only when the transfer reconciles through
// OnTransfer; a transfer that never lands leaves the action orphaned. Returns
// the correlation tag.
func (e *Engine) CreatePosition(caller string, amount *big.Int) (string, error) {
	if e.state == nil {
		return "", ErrNotInitialized
	}
	if e.outbox == nil {
		return "", ErrNoOutbox
	}
	if strings.TrimSpace(caller) == "" {
		return "", fmt.Errorf("market engine: %w", common.ErrAmountRequired)
	}
	if err := common.ValidateAmount(amount); err != nil {
		return "", fmt.Errorf("market engine: %w", err)
	}
	stored, err := e.loadState()
	if err != nil {
		return "", err
	}
	if stored.PausedMint {
		return "", ErrMintPaused
	}
	if stored.Settled {
		return "", ErrAlreadySettled
	}
	params, err := e.loadParams()
	if err != nil {
		return "", err
	}

	tag := fmt.Sprintf("mint_%d", stored.ActionSeq)
	stored.ActionSeq++
	if err := e.writeState(stored); err != nil {
		return "", err
	}
	pending := storedPending{Account: caller, Amount: clone(amount), Kind: uint8(KindMint)}
	if err := e.state.KVPut(e.pendingKey(tag), &pending); err != nil {
		return "", err
	}
	if err := e.outbox.TransferWithTag(params.Quote, caller, e.id, clone(amount), tag); err != nil {
		return "", err
	}
	e.emitter.Emit(events.PositionPending{Market: e.id, Account: caller, Amount: clone(amount), Tag: tag})
	return tag, nil
}

// OnTransfer is the receiving side of the asset transfer protocol. It returns
// the unconsumed remainder: zero when the transfer reconciled a pending
// action, the full amount otherwise (refund by non-consumption). A pending
// action reconciles only when the transfer's sender and amount both match it
// exactly.
func (e *Engine) OnTransfer(from string, amount *big.Int, tag string) (*big.Int, error) {
	if e.state == nil {
		return nil, ErrNotInitialized
	}
	if e.outbox == nil {
		return nil, ErrNoOutbox
	}
	if err := common.ValidateAmount(amount); err != nil {
		return nil, fmt.Errorf("market engine: %w", err)
	}
	var pending storedPending
	ok, err := e.state.KVGet(e.pendingKey(tag), &pending)
	if err != nil {
		return nil, err
	}
	if !ok {
		return e.refund(from, amount, tag, "unknown tag")
	}
	if pending.Account != from {
		return e.refund(from, amount, tag, "sender mismatch")
	}
	if pending.Amount == nil || pending.Amount.Cmp(amount) != 0 {
		return e.refund(from, amount, tag, "amount mismatch")
	}
	if ActionKind(pending.Kind) != KindMint {
		return e.refund(from, amount, tag, "unexpected action kind")
	}

	params, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	stored, err := e.loadState()
	if err != nil {
		return nil, err
	}
	fee := common.FeeOnAmount(amount, params.MintFeeBps)
	net := new(big.Int).Sub(amount, fee)

	nextCollateral := new(big.Int).Add(stored.TotalCollateral, net)
	nextLong := new(big.Int).Add(stored.LongSupply, net)
	nextShort := new(big.Int).Add(stored.ShortSupply, net)
	for _, total := range []*big.Int{nextCollateral, nextLong, nextShort} {
		if !common.FitsAmount(total) {
			return nil, ErrCollateralOverflow
		}
	}
	stored.TotalCollateral = nextCollateral
	stored.LongSupply = nextLong
	stored.ShortSupply = nextShort
	if err := e.writeState(stored); err != nil {
		return nil, err
	}
	deposited, err := e.UserDeposit(from)
	if err != nil {
		return nil, err
	}
	if err := e.state.KVPut(e.depositKey(from), new(big.Int).Add(deposited, amount)); err != nil {
		return nil, err
	}
	if err := e.state.KVDelete(e.pendingKey(tag)); err != nil {
		return nil, err
	}

	wiring, err := e.loadWiring()
	if err != nil {
		return nil, err
	}
	if err := e.outbox.MintClaims(wiring.LongLedger, from, clone(net)); err != nil {
		return nil, err
	}
	if err := e.outbox.MintClaims(wiring.ShortLedger, from, clone(net)); err != nil {
		return nil, err
	}
	if fee.Sign() > 0 {
		if err := e.outbox.RecordFee(wiring.FeeCollector, e.id, params.Quote, clone(fee)); err != nil {
			return nil, err
		}
	}
	e.emitter.Emit(events.PositionMinted{Market: e.id, Account: from, Gross: clone(amount), Fee: fee, Net: clone(net), Tag: tag})
	return big.NewInt(0), nil
}

func (e *Engine) refund(from string, amount *big.Int, tag, reason string) (*big.Int, error) {
	e.emitter.Emit(events.DepositRefunded{Market: e.id, Account: from, Amount: clone(amount), Tag: tag, Reason: reason})
	return clone(amount), nil
}

// Settle requests the settlement price from the oracle. The continuation
// arrives through OnPriceResult as a later step; when the oracle has no fresh
// price the continuation is a no-op and the caller retries.
func (e *Engine) Settle() error {
	if e.state == nil {
		return ErrNotInitialized
	}
	if e.outbox == nil {
		return ErrNoOutbox
	}
	stored, err := e.loadState()
	if err != nil {
		return err
	}
	if stored.PausedSettle {
		return ErrSettlePaused
	}
	if stored.Settled {
		return ErrAlreadySettled
	}
	params, err := e.loadParams()
	if err != nil {
		return err
	}
	if e.nowFn() < int64(params.Maturity) {
		return ErrNotMatured
	}
	if err := e.outbox.RequestPrice(e.id, params.Underlying, params.Quote); err != nil {
		return err
	}
	e.emitter.Emit(events.SettleRequested{Market: e.id, Underlying: params.Underlying, Quote: params.Quote})
	return nil
}

// OnPriceResult finalizes settlement with the oracle's answer. An absent
// price leaves the market unsettled; a second result after settlement is
// ignored, so the price and factor never change once written. The settle fee
// is deducted from the pool before the factor's share math ever applies.
func (e *Engine) OnPriceResult(price *big.Int, ok bool) error {
	if e.state == nil {
		return ErrNotInitialized
	}
	if !ok {
		return nil
	}
	stored, err := e.loadState()
	if err != nil {
		return err
	}
	if stored.Settled {
		return nil
	}
	params, err := e.loadParams()
	if err != nil {
		return err
	}
	factor, err := Factor(price, params.Lower, params.Upper)
	if err != nil {
		return err
	}
	fee := common.FeeOnAmount(stored.TotalCollateral, params.SettleFeeBps)
	stored.TotalCollateral = new(big.Int).Sub(stored.TotalCollateral, fee)
	stored.Settled = true
	stored.SettlementPrice = clone(price)
	stored.SettlementFactor = factor
	if err := e.writeState(stored); err != nil {
		return err
	}
	if fee.Sign() > 0 {
		wiring, err := e.loadWiring()
		if err != nil {
			return err
		}
		// Fire-and-forget: a dropped fee record does not unwind settlement.
		if err := e.outbox.RecordFee(wiring.FeeCollector, e.id, params.Quote, clone(fee)); err != nil {
			return err
		}
	}
	e.emitter.Emit(events.MarketSettled{Market: e.id, Price: clone(price), Factor: clone(factor), Fee: fee})
	return nil
}

// Redeem exchanges claim amounts for settled collateral. The pool is
// decremented before the burn, fee, and payout steps are dispatched; the
// ordering is load-bearing, since a later failed step must never let the pool
// be redeemed twice. The three dispatches are independent and uncompensated.
// Returns the net payout.
func (e *Engine) Redeem(caller string, longAmt, shortAmt *big.Int) (*big.Int, error) {
	if e.state == nil {
		return nil, ErrNotInitialized
	}
	if e.outbox == nil {
		return nil, ErrNoOutbox
	}
	longAmt = orZero(longAmt)
	shortAmt = orZero(shortAmt)
	if longAmt.Sign() < 0 || shortAmt.Sign() < 0 {
		return nil, fmt.Errorf("market engine: %w", common.ErrAmountInvalid)
	}
	if !common.FitsAmount(longAmt) || !common.FitsAmount(shortAmt) {
		return nil, fmt.Errorf("market engine: %w", common.ErrAmountOverflow)
	}
	if longAmt.Sign() == 0 && shortAmt.Sign() == 0 {
		return nil, ErrNothingToRedeem
	}
	stored, err := e.loadState()
	if err != nil {
		return nil, err
	}
	if !stored.Settled {
		return nil, ErrNotSettled
	}
	params, err := e.loadParams()
	if err != nil {
		return nil, err
	}

	longPayout, err := LongPayout(longAmt, stored.SettlementFactor)
	if err != nil {
		return nil, err
	}
	shortPayout, err := ShortPayout(shortAmt, stored.SettlementFactor)
	if err != nil {
		return nil, err
	}
	totalPayout := new(big.Int).Add(longPayout, shortPayout)
	fee := common.FeeOnAmount(totalPayout, params.RedeemFeeBps)
	netPayout := new(big.Int).Sub(totalPayout, fee)
	if totalPayout.Cmp(stored.TotalCollateral) > 0 {
		return nil, ErrInsufficientCollateral
	}

	stored.TotalCollateral = new(big.Int).Sub(stored.TotalCollateral, totalPayout)
	stored.LongSupply = new(big.Int).Sub(stored.LongSupply, minBig(longAmt, stored.LongSupply))
	stored.ShortSupply = new(big.Int).Sub(stored.ShortSupply, minBig(shortAmt, stored.ShortSupply))
	if err := e.writeState(stored); err != nil {
		return nil, err
	}

	wiring, err := e.loadWiring()
	if err != nil {
		return nil, err
	}
	if longAmt.Sign() > 0 {
		if err := e.outbox.BurnClaims(wiring.LongLedger, caller, clone(longAmt)); err != nil {
			return nil, err
		}
	}
	if shortAmt.Sign() > 0 {
		if err := e.outbox.BurnClaims(wiring.ShortLedger, caller, clone(shortAmt)); err != nil {
			return nil, err
		}
	}
	if fee.Sign() > 0 {
		if err := e.outbox.RecordFee(wiring.FeeCollector, e.id, params.Quote, clone(fee)); err != nil {
			return nil, err
		}
	}
	if netPayout.Sign() > 0 {
		if err := e.outbox.Pay(params.Quote, e.id, caller, clone(netPayout)); err != nil {
			return nil, err
		}
	}
	e.emitter.Emit(events.Redeemed{
		Market:      e.id,
		Account:     caller,
		LongAmount:  clone(longAmt),
		ShortAmount: clone(shortAmt),
		Payout:      totalPayout,
		Fee:         fee,
		Net:         clone(netPayout),
	})
	return netPayout, nil
}

// PreviewSettlement applies the payoff interpolation to a hypothetical price
// without touching state.
func (e *Engine) PreviewSettlement(price *big.Int) (*big.Int, error) {
	params, err := e.Params()
	if err != nil {
		return nil, err
	}
	return Factor(price, params.Lower, params.Upper)
}

// SetPaused toggles the mint and settle gates. Owner or guardian only.
func (e *Engine) SetPaused(caller string, pauseMint, pauseSettle bool) error {
	if e.state == nil {
		return ErrNotInitialized
	}
	wiring, err := e.loadWiring()
	if err != nil {
		return err
	}
	if caller != wiring.Owner && (wiring.Guardian == "" || caller != wiring.Guardian) {
		return ErrNotAuthorized
	}
	stored, err := e.loadState()
	if err != nil {
		return err
	}
	stored.PausedMint = pauseMint
	stored.PausedSettle = pauseSettle
	if err := e.writeState(stored); err != nil {
		return err
	}
	e.emitter.Emit(events.MarketPaused{Market: e.id, Caller: caller, Mint: pauseMint, Settle: pauseSettle})
	return nil
}

func clone(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}
