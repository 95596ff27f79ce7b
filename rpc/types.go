package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"forwardnet/native/factory"
	"forwardnet/native/fees"
	"forwardnet/native/market"
	"forwardnet/native/oracle"
	"forwardnet/native/token"
)

// MarketParamsView is the JSON shape of market economics. Amounts are
// decimal strings in the fixed-point unit.
type MarketParamsView struct {
	Underlying   string `json:"underlying"`
	Quote        string `json:"quote"`
	Maturity     int64  `json:"maturity"`
	Strike       string `json:"strike"`
	Lower        string `json:"lower"`
	Upper        string `json:"upper"`
	MintFeeBps   uint32 `json:"mintFeeBps"`
	SettleFeeBps uint32 `json:"settleFeeBps"`
	RedeemFeeBps uint32 `json:"redeemFeeBps"`
}

type MarketStateView struct {
	Settled          bool   `json:"settled"`
	SettlementPrice  string `json:"settlementPrice,omitempty"`
	SettlementFactor string `json:"settlementFactor,omitempty"`
	TotalCollateral  string `json:"totalCollateral"`
	LongSupply       string `json:"longSupply"`
	ShortSupply      string `json:"shortSupply"`
	PausedMint       bool   `json:"pausedMint"`
	PausedSettle     bool   `json:"pausedSettle"`
}

type MarketView struct {
	ID     string           `json:"id"`
	Params MarketParamsView `json:"params"`
	State  MarketStateView  `json:"state"`
	Wiring MarketWiringView `json:"wiring"`
}

type MarketWiringView struct {
	Owner        string `json:"owner"`
	Guardian     string `json:"guardian"`
	LongLedger   string `json:"longLedger"`
	ShortLedger  string `json:"shortLedger"`
	Oracle       string `json:"oracle"`
	FeeCollector string `json:"feeCollector"`
}

type MarketInfoView struct {
	Key       string           `json:"key"`
	MarketID  string           `json:"marketId"`
	LongID    string           `json:"longId"`
	ShortID   string           `json:"shortId"`
	Params    MarketParamsView `json:"params"`
	CreatedAt int64            `json:"createdAt"`
	Creator   string           `json:"creator"`
}

type DeploymentView struct {
	ID        uint64           `json:"id"`
	Key       string           `json:"key"`
	Creator   string           `json:"creator"`
	Params    MarketParamsView `json:"params"`
	MarketID  string           `json:"marketId,omitempty"`
	LongID    string           `json:"longId,omitempty"`
	ShortID   string           `json:"shortId,omitempty"`
	Cursor    string           `json:"cursor"`
	Status    string           `json:"status"`
	CreatedAt int64            `json:"createdAt"`
	UpdatedAt int64            `json:"updatedAt"`
}

type PricePointView struct {
	Underlying string `json:"underlying"`
	Quote      string `json:"quote"`
	Price      string `json:"price"`
	Timestamp  int64  `json:"timestamp"`
	Source     string `json:"source,omitempty"`
	Fresh      bool   `json:"fresh"`
}

type LedgerMetaView struct {
	ID        string `json:"id"`
	Symbol    string `json:"symbol"`
	Name      string `json:"name"`
	Decimals  uint8  `json:"decimals"`
	Authority string `json:"authority,omitempty"`
}

func marketParamsView(p market.Params) MarketParamsView {
	return MarketParamsView{
		Underlying:   p.Underlying,
		Quote:        p.Quote,
		Maturity:     p.Maturity,
		Strike:       bigString(p.Strike),
		Lower:        bigString(p.Lower),
		Upper:        bigString(p.Upper),
		MintFeeBps:   p.MintFeeBps,
		SettleFeeBps: p.SettleFeeBps,
		RedeemFeeBps: p.RedeemFeeBps,
	}
}

func marketStateView(st market.State) MarketStateView {
	view := MarketStateView{
		Settled:         st.Settled,
		TotalCollateral: bigString(st.TotalCollateral),
		LongSupply:      bigString(st.LongSupply),
		ShortSupply:     bigString(st.ShortSupply),
		PausedMint:      st.PausedMint,
		PausedSettle:    st.PausedSettle,
	}
	if st.Settled {
		view.SettlementPrice = bigString(st.SettlementPrice)
		view.SettlementFactor = bigString(st.SettlementFactor)
	}
	return view
}

func marketInfoView(info factory.MarketInfo) MarketInfoView {
	return MarketInfoView{
		Key:       info.Key,
		MarketID:  info.MarketID,
		LongID:    info.LongID,
		ShortID:   info.ShortID,
		Params:    marketParamsView(info.Params),
		CreatedAt: info.CreatedAt,
		Creator:   info.Creator,
	}
}

func deploymentView(rec factory.DeploymentRecord) DeploymentView {
	return DeploymentView{
		ID:        rec.ID,
		Key:       rec.Key,
		Creator:   rec.Creator,
		Params:    marketParamsView(rec.Params),
		MarketID:  rec.MarketID,
		LongID:    rec.LongID,
		ShortID:   rec.ShortID,
		Cursor:    rec.Cursor,
		Status:    rec.Status,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

func ledgerMetaView(id string, meta token.Metadata) LedgerMetaView {
	return LedgerMetaView{
		ID:        id,
		Symbol:    meta.Symbol,
		Name:      meta.Name,
		Decimals:  meta.Decimals,
		Authority: meta.Authority,
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// marketParamsFromView reverses the JSON view for deploy requests.
func marketParamsFromView(view MarketParamsView) (market.Params, error) {
	strike, err := parseBig(view.Strike, "strike")
	if err != nil {
		return market.Params{}, err
	}
	lower, err := parseBig(view.Lower, "lower")
	if err != nil {
		return market.Params{}, err
	}
	upper, err := parseBig(view.Upper, "upper")
	if err != nil {
		return market.Params{}, err
	}
	return market.Params{
		Underlying:   view.Underlying,
		Quote:        view.Quote,
		Maturity:     view.Maturity,
		Strike:       strike,
		Lower:        lower,
		Upper:        upper,
		MintFeeBps:   view.MintFeeBps,
		SettleFeeBps: view.SettleFeeBps,
		RedeemFeeBps: view.RedeemFeeBps,
	}, nil
}

func parseBig(raw, field string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%s must be a base-10 integer", field)
	}
	return v, nil
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return errors.New("parameter object required")
	}
	return json.Unmarshal(req.Params[0], out)
}

// writeEngineError maps engine sentinel errors onto JSON-RPC codes. Gate
// failures read as invalid requests, duplicates get their own code, and
// everything else is a server error.
func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, factory.ErrDuplicateMarket):
		writeError(w, http.StatusConflict, id, codeDuplicate, err.Error(), nil)
	case errors.Is(err, oracle.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, id, codeRateLimited, err.Error(), nil)
	case errors.Is(err, factory.ErrNotOwner),
		errors.Is(err, factory.ErrNotAuthorized),
		errors.Is(err, market.ErrNotAuthorized),
		errors.Is(err, fees.ErrNotOwner),
		errors.Is(err, oracle.ErrNotOwner),
		errors.Is(err, oracle.ErrSourceNotAllowed):
		writeError(w, http.StatusForbidden, id, codeUnauthorized, err.Error(), nil)
	case errors.Is(err, factory.ErrUnknownMarket),
		errors.Is(err, factory.ErrUnknownDeployment),
		errors.Is(err, market.ErrNotMatured),
		errors.Is(err, market.ErrAlreadySettled),
		errors.Is(err, market.ErrNotSettled),
		errors.Is(err, market.ErrMintPaused),
		errors.Is(err, market.ErrSettlePaused),
		errors.Is(err, factory.ErrPaused),
		errors.Is(err, factory.ErrInsufficientFunding),
		errors.Is(err, oracle.ErrPairNotConfigured),
		errors.Is(err, oracle.ErrDeviationTooLarge),
		errors.Is(err, oracle.ErrFutureTimestamp),
		errors.Is(err, token.ErrInsufficientFunds),
		errors.Is(err, fees.ErrInsufficientFees):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error(), nil)
	}
}
