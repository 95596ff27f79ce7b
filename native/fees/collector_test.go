package fees

import (
	"errors"
	"math/big"
	"testing"

	"forwardnet/core/state"
	"forwardnet/storage"
)

type recordedPay struct {
	Ledger string
	From   string
	To     string
	Amount *big.Int
}

type stubOutbox struct {
	pays []recordedPay
	err  error
}

func (s *stubOutbox) Pay(ledger, from, to string, amount *big.Int) error {
	if s.err != nil {
		return s.err
	}
	s.pays = append(s.pays, recordedPay{Ledger: ledger, From: from, To: to, Amount: amount})
	return nil
}

func newTestCollector(t *testing.T) (*Collector, *stubOutbox) {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	outbox := &stubOutbox{}
	collector := NewCollector("fees-1")
	collector.SetState(manager)
	collector.SetOutbox(outbox)
	if err := collector.Initialize("owner", "treasury"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return collector, outbox
}

func TestInitializeOnce(t *testing.T) {
	collector, _ := newTestCollector(t)
	if err := collector.Initialize("other", "elsewhere"); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
	treasury, err := collector.Treasury()
	if err != nil {
		t.Fatalf("treasury: %v", err)
	}
	if treasury != "treasury" {
		t.Fatalf("unexpected treasury %q", treasury)
	}
}

func TestRecordFeeRequiresAuthorization(t *testing.T) {
	collector, _ := newTestCollector(t)
	if err := collector.RecordFee("market-1", "USDQ", big.NewInt(100)); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if err := collector.AuthorizeMarket("intruder", "market-1"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := collector.AuthorizeMarket("owner", "market-1"); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if err := collector.RecordFee("market-1", "USDQ", big.NewInt(100)); err != nil {
		t.Fatalf("record fee: %v", err)
	}
	if err := collector.RecordFee("market-1", "USDQ", big.NewInt(40)); err != nil {
		t.Fatalf("record fee: %v", err)
	}
	collected, err := collector.CollectedFees("USDQ")
	if err != nil {
		t.Fatalf("collected: %v", err)
	}
	if collected.Cmp(big.NewInt(140)) != 0 {
		t.Fatalf("expected 140 collected, got %s", collected)
	}
	if err := collector.RevokeMarket("owner", "market-1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := collector.RecordFee("market-1", "USDQ", big.NewInt(1)); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized after revoke, got %v", err)
	}
}

func TestWithdrawDecrementsBooksBeforeDispatch(t *testing.T) {
	collector, outbox := newTestCollector(t)
	if err := collector.AuthorizeMarket("owner", "market-1"); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if err := collector.RecordFee("market-1", "USDQ", big.NewInt(500)); err != nil {
		t.Fatalf("record fee: %v", err)
	}

	withdrawn, err := collector.WithdrawFees("owner", "USDQ", big.NewInt(200))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if withdrawn.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("expected 200 withdrawn, got %s", withdrawn)
	}
	collected, err := collector.CollectedFees("USDQ")
	if err != nil {
		t.Fatalf("collected: %v", err)
	}
	if collected.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("expected 300 remaining, got %s", collected)
	}
	if len(outbox.pays) != 1 {
		t.Fatalf("expected one dispatched transfer, got %d", len(outbox.pays))
	}
	pay := outbox.pays[0]
	if pay.Ledger != "USDQ" || pay.From != "fees-1" || pay.To != "treasury" {
		t.Fatalf("unexpected transfer %+v", pay)
	}
	if pay.Amount.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("unexpected transfer amount %s", pay.Amount)
	}
}

func TestWithdrawFullBalanceClearsEntry(t *testing.T) {
	collector, outbox := newTestCollector(t)
	if err := collector.AuthorizeMarket("owner", "market-1"); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if err := collector.RecordFee("market-1", "USDQ", big.NewInt(750)); err != nil {
		t.Fatalf("record fee: %v", err)
	}

	withdrawn, err := collector.WithdrawFees("owner", "USDQ", nil)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if withdrawn.Cmp(big.NewInt(750)) != 0 {
		t.Fatalf("expected full 750 withdrawn, got %s", withdrawn)
	}
	collected, err := collector.CollectedFees("USDQ")
	if err != nil {
		t.Fatalf("collected: %v", err)
	}
	if collected.Sign() != 0 {
		t.Fatalf("expected zero remaining, got %s", collected)
	}
	if len(outbox.pays) != 1 {
		t.Fatalf("expected one dispatched transfer, got %d", len(outbox.pays))
	}

	if _, err := collector.WithdrawFees("owner", "USDQ", nil); err == nil {
		t.Fatal("expected empty withdrawal to fail")
	}
}

func TestWithdrawGates(t *testing.T) {
	collector, _ := newTestCollector(t)
	if err := collector.AuthorizeMarket("owner", "market-1"); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if err := collector.RecordFee("market-1", "USDQ", big.NewInt(50)); err != nil {
		t.Fatalf("record fee: %v", err)
	}

	if _, err := collector.WithdrawFees("intruder", "USDQ", big.NewInt(10)); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if _, err := collector.WithdrawFees("owner", "USDQ", big.NewInt(51)); !errors.Is(err, ErrInsufficientFees) {
		t.Fatalf("expected ErrInsufficientFees, got %v", err)
	}
	collected, err := collector.CollectedFees("USDQ")
	if err != nil {
		t.Fatalf("collected: %v", err)
	}
	if collected.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("failed withdrawal must not touch books, got %s", collected)
	}
}

func TestOnTransferAbsorbsFeeTag(t *testing.T) {
	collector, _ := newTestCollector(t)

	unconsumed, err := collector.OnTransfer("USDQ", "market-1", big.NewInt(90), FeeDepositTag)
	if err != nil {
		t.Fatalf("on transfer: %v", err)
	}
	if unconsumed.Sign() != 0 {
		t.Fatalf("fee transfer must be fully consumed, got %s back", unconsumed)
	}
	collected, err := collector.CollectedFees("USDQ")
	if err != nil {
		t.Fatalf("collected: %v", err)
	}
	if collected.Cmp(big.NewInt(90)) != 0 {
		t.Fatalf("expected 90 collected, got %s", collected)
	}

	unconsumed, err = collector.OnTransfer("USDQ", "someone", big.NewInt(33), "mint_4")
	if err != nil {
		t.Fatalf("on transfer: %v", err)
	}
	if unconsumed.Cmp(big.NewInt(33)) != 0 {
		t.Fatalf("untagged transfer must be refunded whole, got %s", unconsumed)
	}
	collected, err = collector.CollectedFees("USDQ")
	if err != nil {
		t.Fatalf("collected: %v", err)
	}
	if collected.Cmp(big.NewInt(90)) != 0 {
		t.Fatalf("books must be unchanged by refused transfer, got %s", collected)
	}
}

func TestSetTreasury(t *testing.T) {
	collector, outbox := newTestCollector(t)
	if err := collector.SetTreasury("intruder", "nowhere"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := collector.SetTreasury("owner", "vault"); err != nil {
		t.Fatalf("set treasury: %v", err)
	}
	if err := collector.AuthorizeMarket("owner", "market-1"); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if err := collector.RecordFee("market-1", "USDQ", big.NewInt(10)); err != nil {
		t.Fatalf("record fee: %v", err)
	}
	if _, err := collector.WithdrawFees("owner", "USDQ", nil); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if outbox.pays[0].To != "vault" {
		t.Fatalf("expected payout to vault, got %q", outbox.pays[0].To)
	}
}
