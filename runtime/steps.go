package runtime

import (
	"fmt"
	"math/big"
)

// The Runtime is the outbox for every hosted instance: each method journals a
// step and returns; nothing executes until the queue drains. Methods are only
// called from code already running inside a step or a Do block, so they never
// take the runtime lock themselves.

// TransferWithTag journals the two-phase tagged transfer: the balance move,
// then the receiver's delivery hook as a separate step.
func (r *Runtime) TransferWithTag(ledger, from, to string, amount *big.Int, tag string) error {
	return r.enqueue(step{Kind: kindTransfer, Ledger: ledger, From: from, To: to, Amount: cloneBig(amount), Tag: tag})
}

// MintClaims journals a claim issue on a ledger. The mint executes under the
// ledger's configured authority.
func (r *Runtime) MintClaims(ledger, account string, amount *big.Int) error {
	return r.enqueue(step{Kind: kindMint, Ledger: ledger, Account: account, Amount: cloneBig(amount)})
}

// BurnClaims journals a claim burn on a ledger.
func (r *Runtime) BurnClaims(ledger, account string, amount *big.Int) error {
	return r.enqueue(step{Kind: kindBurn, Ledger: ledger, Account: account, Amount: cloneBig(amount)})
}

// Pay journals a plain untagged transfer.
func (r *Runtime) Pay(ledger, from, to string, amount *big.Int) error {
	return r.enqueue(step{Kind: kindPay, Ledger: ledger, From: from, To: to, Amount: cloneBig(amount)})
}

// RecordFee journals the fee accrual at the collector and the custody move
// that backs it, so the collector's books and balance advance together and
// the market's custody account keeps holding exactly its collateral pool.
func (r *Runtime) RecordFee(collector, market, asset string, amount *big.Int) error {
	if err := r.enqueue(step{Kind: kindRecordFee, Instance: collector, From: market, Ledger: asset, Amount: cloneBig(amount)}); err != nil {
		return err
	}
	return r.enqueue(step{Kind: kindPay, Ledger: asset, From: market, To: collector, Amount: cloneBig(amount)})
}

// RequestPrice journals an oracle lookup on behalf of a market. The market's
// wiring names the oracle; resolution happens when the step runs.
func (r *Runtime) RequestPrice(market, underlying, quote string) error {
	return r.enqueue(step{Kind: kindPriceRequest, To: market, Underlying: underlying, Quote: quote})
}

// ScheduleStep journals one provisioning stage of a deployment chain.
func (r *Runtime) ScheduleStep(factory string, deployID uint64, stage string) error {
	return r.enqueue(step{Kind: kindDeploy, Instance: factory, DeployID: deployID, Stage: stage})
}

func (r *Runtime) execute(s step) error {
	switch s.Kind {
	case kindTransfer:
		ledger, err := r.ledgerFor(s.Ledger)
		if err != nil {
			return err
		}
		if err := ledger.MoveForCall(s.From, s.To, s.Amount); err != nil {
			return err
		}
		next := s
		next.Kind = kindDeliver
		return r.enqueue(next)
	case kindDeliver:
		return r.deliver(s)
	case kindMint:
		ledger, err := r.ledgerFor(s.Ledger)
		if err != nil {
			return err
		}
		meta, err := ledger.Meta()
		if err != nil {
			return err
		}
		return ledger.Mint(meta.Authority, s.Account, s.Amount)
	case kindBurn:
		ledger, err := r.ledgerFor(s.Ledger)
		if err != nil {
			return err
		}
		meta, err := ledger.Meta()
		if err != nil {
			return err
		}
		return ledger.Burn(meta.Authority, s.Account, s.Amount)
	case kindPay:
		ledger, err := r.ledgerFor(s.Ledger)
		if err != nil {
			return err
		}
		return ledger.Transfer(s.From, s.To, s.Amount)
	case kindRecordFee:
		collector, ok := r.collectors[s.Instance]
		if !ok {
			return fmt.Errorf("runtime: unknown collector %q", s.Instance)
		}
		return collector.RecordFee(s.From, s.Ledger, s.Amount)
	case kindPriceRequest:
		return r.requestPrice(s)
	case kindPriceResult:
		engine, ok := r.markets[s.Instance]
		if !ok {
			return fmt.Errorf("runtime: unknown market %q", s.Instance)
		}
		return engine.OnPriceResult(s.Amount, s.OK)
	case kindDeploy:
		orchestrator, ok := r.factories[s.Instance]
		if !ok {
			return fmt.Errorf("runtime: unknown factory %q", s.Instance)
		}
		return orchestrator.ExecuteStep(s.DeployID, s.Stage)
	default:
		return fmt.Errorf("runtime: unknown step kind %q", s.Kind)
	}
}

// deliver runs the receiving side of a tagged transfer. Markets and the fee
// collector consume or refuse the amount through their hooks; any other
// receiver keeps the funds as a plain credit. The unconsumed remainder flows
// back to the sender in the same step.
func (r *Runtime) deliver(s step) error {
	ledger, err := r.ledgerFor(s.Ledger)
	if err != nil {
		return err
	}
	remainder := big.NewInt(0)
	if engine, ok := r.markets[s.To]; ok {
		remainder, err = engine.OnTransfer(s.From, s.Amount, s.Tag)
		if err != nil {
			return err
		}
	} else if collector, ok := r.collectors[s.To]; ok {
		remainder, err = collector.OnTransfer(s.Ledger, s.From, s.Amount, s.Tag)
		if err != nil {
			return err
		}
	}
	_, err = ledger.ResolveTransfer(s.From, s.To, remainder)
	return err
}

func (r *Runtime) requestPrice(s step) error {
	engine, ok := r.markets[s.To]
	if !ok {
		return fmt.Errorf("runtime: unknown market %q", s.To)
	}
	wiring, err := engine.Wiring()
	if err != nil {
		return err
	}
	router, ok := r.oracles[wiring.Oracle]
	if !ok {
		return fmt.Errorf("runtime: unknown oracle %q", wiring.Oracle)
	}
	point, fresh, err := router.GetPrice(s.Underlying, s.Quote)
	if err != nil {
		return err
	}
	result := step{Kind: kindPriceResult, Instance: s.To, OK: fresh}
	if fresh {
		result.Amount = point.Price
	}
	return r.enqueue(result)
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
