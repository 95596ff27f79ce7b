package fees

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"forwardnet/core/events"
	"forwardnet/native/common"
)

var (
	ErrNotInitialized     = errors.New("fee collector: not initialized")
	ErrAlreadyInitialized = errors.New("fee collector: already initialized")
	ErrNotOwner           = errors.New("fee collector: caller is not the owner")
	ErrNotAuthorized      = errors.New("fee collector: caller is not an authorized market")
	ErrInsufficientFees   = errors.New("fee collector: withdrawal exceeds collected fees")
	ErrNoOutbox           = errors.New("fee collector: outbox not configured")
)

// FeeDepositTag is the reserved transfer tag marking a direct asset transfer
// as a fee deposit.
const FeeDepositTag = "fee"

// Storage abstracts the subset of state manager functionality required by the
// collector.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// Outbox schedules the asynchronous transfer issued by a withdrawal. The
// transfer runs as a separate runtime step after the collector's books are
// already decremented.
type Outbox interface {
	Pay(ledger, from, to string, amount *big.Int) error
}

// Collector accrues fees per asset on behalf of authorized markets and pays
// them out to the treasury on demand.
type Collector struct {
	id      string
	state   Storage
	outbox  Outbox
	emitter events.Emitter
}

// NewCollector creates a collector shell for the given instance id with a
// no-op emitter.
func NewCollector(id string) *Collector {
	return &Collector{id: strings.TrimSpace(id), emitter: events.NoopEmitter{}}
}

// SetState wires the persistent store.
func (c *Collector) SetState(state Storage) { c.state = state }

// SetOutbox wires the asynchronous dispatch used by withdrawals.
func (c *Collector) SetOutbox(outbox Outbox) { c.outbox = outbox }

// SetEmitter overrides the event emitter. Passing nil restores the no-op
// emitter.
func (c *Collector) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		c.emitter = events.NoopEmitter{}
		return
	}
	c.emitter = emitter
}

// ID returns the instance identifier.
func (c *Collector) ID() string { return c.id }

func (c *Collector) ownerKey() []byte    { return []byte("fees/" + c.id + "/owner") }
func (c *Collector) treasuryKey() []byte { return []byte("fees/" + c.id + "/treasury") }
func (c *Collector) marketKey(market string) []byte {
	return []byte("fees/" + c.id + "/market/" + market)
}
func (c *Collector) collectedKey(asset string) []byte {
	return []byte("fees/" + c.id + "/collected/" + asset)
}

// Initialize writes the owner and treasury exactly once.
func (c *Collector) Initialize(owner, treasury string) error {
	if c.state == nil {
		return ErrNotInitialized
	}
	exists, err := c.state.KVGet(c.ownerKey(), nil)
	if err != nil {
		return err
	}
	if exists {
		return ErrAlreadyInitialized
	}
	if err := c.state.KVPut(c.ownerKey(), strings.TrimSpace(owner)); err != nil {
		return err
	}
	return c.state.KVPut(c.treasuryKey(), strings.TrimSpace(treasury))
}

func (c *Collector) owner() (string, error) {
	var owner string
	ok, err := c.state.KVGet(c.ownerKey(), &owner)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotInitialized
	}
	return owner, nil
}

func (c *Collector) requireOwner(caller string) error {
	owner, err := c.owner()
	if err != nil {
		return err
	}
	if caller != owner {
		return ErrNotOwner
	}
	return nil
}

// Treasury returns the configured payout destination.
func (c *Collector) Treasury() (string, error) {
	if c.state == nil {
		return "", ErrNotInitialized
	}
	var treasury string
	ok, err := c.state.KVGet(c.treasuryKey(), &treasury)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotInitialized
	}
	return treasury, nil
}

// SetTreasury repoints withdrawals. Owner only.
func (c *Collector) SetTreasury(caller, treasury string) error {
	if err := c.requireOwner(caller); err != nil {
		return err
	}
	return c.state.KVPut(c.treasuryKey(), strings.TrimSpace(treasury))
}

// AuthorizeMarket allows a market to record fees. Owner only.
func (c *Collector) AuthorizeMarket(caller, market string) error {
	if err := c.requireOwner(caller); err != nil {
		return err
	}
	return c.state.KVPut(c.marketKey(strings.TrimSpace(market)), true)
}

// RevokeMarket removes a market's recording permission. Owner only.
func (c *Collector) RevokeMarket(caller, market string) error {
	if err := c.requireOwner(caller); err != nil {
		return err
	}
	return c.state.KVDelete(c.marketKey(strings.TrimSpace(market)))
}

// IsMarketAuthorized reports whether a market may record fees.
func (c *Collector) IsMarketAuthorized(market string) (bool, error) {
	if c.state == nil {
		return false, ErrNotInitialized
	}
	var allowed bool
	ok, err := c.state.KVGet(c.marketKey(market), &allowed)
	if err != nil {
		return false, err
	}
	return ok && allowed, nil
}

// CollectedFees returns the accrued balance for an asset.
func (c *Collector) CollectedFees(asset string) (*big.Int, error) {
	if c.state == nil {
		return nil, ErrNotInitialized
	}
	collected := new(big.Int)
	ok, err := c.state.KVGet(c.collectedKey(asset), collected)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return collected, nil
}

func (c *Collector) accrue(asset, market string, amount *big.Int) error {
	collected, err := c.CollectedFees(asset)
	if err != nil {
		return err
	}
	next := new(big.Int).Add(collected, amount)
	if !common.FitsAmount(next) {
		return fmt.Errorf("fee collector: %w", common.ErrAmountOverflow)
	}
	if err := c.state.KVPut(c.collectedKey(asset), next); err != nil {
		return err
	}
	c.emitter.Emit(events.FeeRecorded{Asset: asset, Market: market, Amount: new(big.Int).Set(amount)})
	return nil
}

// RecordFee accrues a fee on behalf of an authorized market. The books grow
// independently of custody; custody arrives through tagged transfers.
func (c *Collector) RecordFee(caller, asset string, amount *big.Int) error {
	if c.state == nil {
		return ErrNotInitialized
	}
	allowed, err := c.IsMarketAuthorized(caller)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrNotAuthorized
	}
	if err := common.ValidateAmount(amount); err != nil {
		return fmt.Errorf("fee collector: %w", err)
	}
	return c.accrue(asset, caller, amount)
}

// WithdrawFees pays collected fees for an asset out to the treasury. A nil
// amount withdraws the full balance. The books are decremented before the
// asynchronous transfer is dispatched, mirroring the redemption ordering: a
// failed payout never lets the same fees be withdrawn twice.
func (c *Collector) WithdrawFees(caller, asset string, amount *big.Int) (*big.Int, error) {
	if err := c.requireOwner(caller); err != nil {
		return nil, err
	}
	if c.outbox == nil {
		return nil, ErrNoOutbox
	}
	collected, err := c.CollectedFees(asset)
	if err != nil {
		return nil, err
	}
	withdraw := amount
	if withdraw == nil {
		withdraw = collected
	}
	if withdraw.Sign() <= 0 {
		return nil, fmt.Errorf("fee collector: %w", common.ErrAmountInvalid)
	}
	if withdraw.Cmp(collected) > 0 {
		return nil, ErrInsufficientFees
	}
	treasury, err := c.Treasury()
	if err != nil {
		return nil, err
	}

	remaining := new(big.Int).Sub(collected, withdraw)
	if remaining.Sign() == 0 {
		if err := c.state.KVDelete(c.collectedKey(asset)); err != nil {
			return nil, err
		}
	} else {
		if err := c.state.KVPut(c.collectedKey(asset), remaining); err != nil {
			return nil, err
		}
	}

	if err := c.outbox.Pay(asset, c.id, treasury, new(big.Int).Set(withdraw)); err != nil {
		return nil, err
	}
	c.emitter.Emit(events.FeesWithdrawn{Asset: asset, Amount: new(big.Int).Set(withdraw), Treasury: treasury})
	return new(big.Int).Set(withdraw), nil
}

// OnTransfer implements the receiving side of the asset transfer protocol.
// Transfers tagged with the reserved fee marker are absorbed whole into the
// collected books; anything else is returned unconsumed.
func (c *Collector) OnTransfer(asset, from string, amount *big.Int, tag string) (*big.Int, error) {
	if c.state == nil {
		return nil, ErrNotInitialized
	}
	if err := common.ValidateAmount(amount); err != nil {
		return nil, fmt.Errorf("fee collector: %w", err)
	}
	if tag != FeeDepositTag {
		return new(big.Int).Set(amount), nil
	}
	if err := c.accrue(asset, from, amount); err != nil {
		return nil, err
	}
	return big.NewInt(0), nil
}
