package token

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"forwardnet/core/events"
	"forwardnet/native/common"
)

var (
	ErrNotInitialized     = errors.New("token ledger: not initialized")
	ErrAlreadyInitialized = errors.New("token ledger: already initialized")
	ErrNotAuthority       = errors.New("token ledger: caller is not the mint authority")
	ErrInsufficientFunds  = errors.New("token ledger: insufficient balance")
	ErrSupplyOverflow     = errors.New("token ledger: supply exceeds 128-bit range")
	ErrBalanceOverflow    = errors.New("token ledger: balance exceeds 128-bit range")
	ErrAccountRequired    = errors.New("token ledger: account required")
	ErrSelfTransfer       = errors.New("token ledger: sender and receiver must differ")
)

// Storage abstracts the subset of state manager functionality required by the
// ledger.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Ledger is one hosted token instance: balances, supply, and mint authority.
// All mutating calls run inside a single runtime step, so the ledger performs
// plain load/mutate/store transitions without internal locking.
type Ledger struct {
	id      string
	state   Storage
	emitter events.Emitter
}

// NewLedger creates a ledger shell for the given instance id with a no-op
// emitter.
func NewLedger(id string) *Ledger {
	return &Ledger{id: strings.TrimSpace(id), emitter: events.NoopEmitter{}}
}

// SetState wires the persistent store.
func (l *Ledger) SetState(state Storage) { l.state = state }

// SetEmitter overrides the event emitter. Passing nil restores the no-op
// emitter.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// ID returns the instance identifier, which doubles as the asset id carried in
// market parameters and fee records.
func (l *Ledger) ID() string { return l.id }

func (l *Ledger) metaKey() []byte {
	return []byte("token/" + l.id + "/meta")
}

func (l *Ledger) supplyKey() []byte {
	return []byte("token/" + l.id + "/supply")
}

func (l *Ledger) balanceKey(account string) []byte {
	return []byte("token/" + l.id + "/balance/" + account)
}

type storedMetadata struct {
	Symbol    string
	Name      string
	Decimals  uint8
	Authority string
}

// Initialize writes the ledger metadata exactly once.
func (l *Ledger) Initialize(meta Metadata) error {
	if l.state == nil {
		return ErrNotInitialized
	}
	exists, err := l.state.KVGet(l.metaKey(), nil)
	if err != nil {
		return err
	}
	if exists {
		return ErrAlreadyInitialized
	}
	normalized := meta.Normalize()
	stored := storedMetadata{
		Symbol:    normalized.Symbol,
		Name:      normalized.Name,
		Decimals:  normalized.Decimals,
		Authority: normalized.Authority,
	}
	if err := l.state.KVPut(l.metaKey(), &stored); err != nil {
		return err
	}
	return l.state.KVPut(l.supplyKey(), big.NewInt(0))
}

// Meta returns the ledger metadata.
func (l *Ledger) Meta() (Metadata, error) {
	if l.state == nil {
		return Metadata{}, ErrNotInitialized
	}
	var stored storedMetadata
	ok, err := l.state.KVGet(l.metaKey(), &stored)
	if err != nil {
		return Metadata{}, err
	}
	if !ok {
		return Metadata{}, ErrNotInitialized
	}
	return Metadata{
		Symbol:    stored.Symbol,
		Name:      stored.Name,
		Decimals:  stored.Decimals,
		Authority: stored.Authority,
	}, nil
}

// BalanceOf returns the balance for account, zero when the account has never
// held the asset.
func (l *Ledger) BalanceOf(account string) (*big.Int, error) {
	if l.state == nil {
		return nil, ErrNotInitialized
	}
	balance := new(big.Int)
	ok, err := l.state.KVGet(l.balanceKey(account), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// TotalSupply returns the ledger's outstanding supply.
func (l *Ledger) TotalSupply() (*big.Int, error) {
	if l.state == nil {
		return nil, ErrNotInitialized
	}
	supply := new(big.Int)
	ok, err := l.state.KVGet(l.supplyKey(), supply)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return supply, nil
}

func (l *Ledger) setBalance(account string, amount *big.Int) error {
	return l.state.KVPut(l.balanceKey(account), amount)
}

func (l *Ledger) credit(account string, amount *big.Int) error {
	balance, err := l.BalanceOf(account)
	if err != nil {
		return err
	}
	next := new(big.Int).Add(balance, amount)
	if !common.FitsAmount(next) {
		return ErrBalanceOverflow
	}
	return l.setBalance(account, next)
}

func (l *Ledger) debit(account string, amount *big.Int) error {
	balance, err := l.BalanceOf(account)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	return l.setBalance(account, new(big.Int).Sub(balance, amount))
}

// Mint issues amount to account. Only the configured authority may mint.
func (l *Ledger) Mint(caller, account string, amount *big.Int) error {
	meta, err := l.Meta()
	if err != nil {
		return err
	}
	if caller != meta.Authority {
		return ErrNotAuthority
	}
	if strings.TrimSpace(account) == "" {
		return ErrAccountRequired
	}
	if err := common.ValidateAmount(amount); err != nil {
		return fmt.Errorf("token ledger: %w", err)
	}
	supply, err := l.TotalSupply()
	if err != nil {
		return err
	}
	nextSupply := new(big.Int).Add(supply, amount)
	if !common.FitsAmount(nextSupply) {
		return ErrSupplyOverflow
	}
	if err := l.credit(account, amount); err != nil {
		return err
	}
	if err := l.state.KVPut(l.supplyKey(), nextSupply); err != nil {
		return err
	}
	l.emitter.Emit(events.TokenMinted{Asset: l.id, Account: account, Amount: cloneBigInt(amount)})
	return nil
}

// Burn destroys amount held by account. Only the configured authority may
// burn.
func (l *Ledger) Burn(caller, account string, amount *big.Int) error {
	meta, err := l.Meta()
	if err != nil {
		return err
	}
	if caller != meta.Authority {
		return ErrNotAuthority
	}
	if err := common.ValidateAmount(amount); err != nil {
		return fmt.Errorf("token ledger: %w", err)
	}
	if err := l.debit(account, amount); err != nil {
		return err
	}
	supply, err := l.TotalSupply()
	if err != nil {
		return err
	}
	if err := l.state.KVPut(l.supplyKey(), new(big.Int).Sub(supply, amount)); err != nil {
		return err
	}
	l.emitter.Emit(events.TokenBurned{Asset: l.id, Account: account, Amount: cloneBigInt(amount)})
	return nil
}

// Transfer moves amount from the caller to another account.
func (l *Ledger) Transfer(caller, to string, amount *big.Int) error {
	if strings.TrimSpace(caller) == "" || strings.TrimSpace(to) == "" {
		return ErrAccountRequired
	}
	if caller == to {
		return ErrSelfTransfer
	}
	if err := common.ValidateAmount(amount); err != nil {
		return fmt.Errorf("token ledger: %w", err)
	}
	if err := l.debit(caller, amount); err != nil {
		return err
	}
	if err := l.credit(to, amount); err != nil {
		return err
	}
	l.emitter.Emit(events.TokenTransferred{Asset: l.id, From: caller, To: to, Amount: cloneBigInt(amount)})
	return nil
}

// MoveForCall performs the balance move of a tagged transfer before the
// receiver's on-transfer hook runs. The runtime delivers the hook as a
// separate step and settles any unconsumed remainder via ResolveTransfer.
func (l *Ledger) MoveForCall(from, to string, amount *big.Int) error {
	return l.Transfer(from, to, amount)
}

// ResolveTransfer returns the unconsumed remainder of a tagged transfer to the
// original sender. The refund is capped at the receiver's current balance; it
// reports the amount actually moved back.
func (l *Ledger) ResolveTransfer(from, to string, unconsumed *big.Int) (*big.Int, error) {
	if l.state == nil {
		return nil, ErrNotInitialized
	}
	if unconsumed == nil || unconsumed.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	balance, err := l.BalanceOf(to)
	if err != nil {
		return nil, err
	}
	refund := cloneBigInt(unconsumed)
	if balance.Cmp(refund) < 0 {
		refund = cloneBigInt(balance)
	}
	if refund.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if err := l.debit(to, refund); err != nil {
		return nil, err
	}
	if err := l.credit(from, refund); err != nil {
		return nil, err
	}
	l.emitter.Emit(events.TokenTransferred{Asset: l.id, From: to, To: from, Amount: cloneBigInt(refund)})
	return refund, nil
}
