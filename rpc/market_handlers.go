package rpc

import (
	"math/big"
	"net/http"
)

type marketMintParams struct {
	Market string `json:"market"`
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

type marketMintResult struct {
	Tag string `json:"tag"`
}

func (s *Server) handleMarketMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params marketMintParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid mint parameters", err.Error())
		return
	}
	amount, err := parseBig(params.Amount, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	var tag string
	doErr := s.rt.Do(func() error {
		engine, ok := s.rt.Market(params.Market)
		if !ok {
			return errUnknownMarket(params.Market)
		}
		var inner error
		tag, inner = engine.CreatePosition(params.Caller, amount)
		return inner
	})
	if doErr != nil {
		writeEngineError(w, req.ID, doErr)
		return
	}
	writeResult(w, req.ID, marketMintResult{Tag: tag})
}

type marketTargetParams struct {
	Market string `json:"market"`
}

func (s *Server) handleMarketSettle(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params marketTargetParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid settle parameters", err.Error())
		return
	}
	doErr := s.rt.Do(func() error {
		engine, ok := s.rt.Market(params.Market)
		if !ok {
			return errUnknownMarket(params.Market)
		}
		return engine.Settle()
	})
	if doErr != nil {
		writeEngineError(w, req.ID, doErr)
		return
	}
	s.writeMarket(w, req.ID, params.Market)
}

type marketRedeemParams struct {
	Market      string `json:"market"`
	Caller      string `json:"caller"`
	LongAmount  string `json:"longAmount"`
	ShortAmount string `json:"shortAmount"`
}

type marketRedeemResult struct {
	Payout string `json:"payout"`
}

func (s *Server) handleMarketRedeem(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params marketRedeemParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid redeem parameters", err.Error())
		return
	}
	longAmt, err := parseBig(params.LongAmount, "longAmount")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	shortAmt, err := parseBig(params.ShortAmount, "shortAmount")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	var payout *big.Int
	doErr := s.rt.Do(func() error {
		engine, ok := s.rt.Market(params.Market)
		if !ok {
			return errUnknownMarket(params.Market)
		}
		var inner error
		payout, inner = engine.Redeem(params.Caller, longAmt, shortAmt)
		return inner
	})
	if doErr != nil {
		writeEngineError(w, req.ID, doErr)
		return
	}
	writeResult(w, req.ID, marketRedeemResult{Payout: bigString(payout)})
}

type marketSetPausedParams struct {
	Market      string `json:"market"`
	Caller      string `json:"caller"`
	PauseMint   bool   `json:"pauseMint"`
	PauseSettle bool   `json:"pauseSettle"`
}

func (s *Server) handleMarketSetPaused(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params marketSetPausedParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid pause parameters", err.Error())
		return
	}
	doErr := s.rt.Do(func() error {
		engine, ok := s.rt.Market(params.Market)
		if !ok {
			return errUnknownMarket(params.Market)
		}
		return engine.SetPaused(params.Caller, params.PauseMint, params.PauseSettle)
	})
	if doErr != nil {
		writeEngineError(w, req.ID, doErr)
		return
	}
	s.writeMarket(w, req.ID, params.Market)
}

func (s *Server) handleMarketGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params marketTargetParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid market parameters", err.Error())
		return
	}
	s.writeMarket(w, req.ID, params.Market)
}

func (s *Server) writeMarket(w http.ResponseWriter, id interface{}, marketID string) {
	var view MarketView
	doErr := s.rt.Do(func() error {
		engine, ok := s.rt.Market(marketID)
		if !ok {
			return errUnknownMarket(marketID)
		}
		params, err := engine.Params()
		if err != nil {
			return err
		}
		st, err := engine.State()
		if err != nil {
			return err
		}
		wiring, err := engine.Wiring()
		if err != nil {
			return err
		}
		view = MarketView{
			ID:     marketID,
			Params: marketParamsView(params),
			State:  marketStateView(st),
			Wiring: MarketWiringView{
				Owner:        wiring.Owner,
				Guardian:     wiring.Guardian,
				LongLedger:   wiring.LongLedger,
				ShortLedger:  wiring.ShortLedger,
				Oracle:       wiring.Oracle,
				FeeCollector: wiring.FeeCollector,
			},
		}
		return nil
	})
	if doErr != nil {
		writeEngineError(w, id, doErr)
		return
	}
	writeResult(w, id, view)
}

func (s *Server) handleMarketList(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	writeResult(w, req.ID, s.rt.MarketIDs())
}

type marketPreviewParams struct {
	Market string `json:"market"`
	Price  string `json:"price"`
}

type marketPreviewResult struct {
	Factor string `json:"factor"`
}

func (s *Server) handleMarketPreviewSettlement(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params marketPreviewParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid preview parameters", err.Error())
		return
	}
	price, err := parseBig(params.Price, "price")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	var factor *big.Int
	doErr := s.rt.Do(func() error {
		engine, ok := s.rt.Market(params.Market)
		if !ok {
			return errUnknownMarket(params.Market)
		}
		var inner error
		factor, inner = engine.PreviewSettlement(price)
		return inner
	})
	if doErr != nil {
		writeEngineError(w, req.ID, doErr)
		return
	}
	writeResult(w, req.ID, marketPreviewResult{Factor: bigString(factor)})
}

type marketDepositParams struct {
	Market  string `json:"market"`
	Account string `json:"account"`
}

type marketDepositResult struct {
	Deposit string `json:"deposit"`
}

func (s *Server) handleMarketDeposit(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params marketDepositParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid deposit parameters", err.Error())
		return
	}
	var deposit *big.Int
	doErr := s.rt.Do(func() error {
		engine, ok := s.rt.Market(params.Market)
		if !ok {
			return errUnknownMarket(params.Market)
		}
		var inner error
		deposit, inner = engine.UserDeposit(params.Account)
		return inner
	})
	if doErr != nil {
		writeEngineError(w, req.ID, doErr)
		return
	}
	writeResult(w, req.ID, marketDepositResult{Deposit: bigString(deposit)})
}

type marketPendingParams struct {
	Market string `json:"market"`
	Tag    string `json:"tag"`
}

type marketPendingResult struct {
	Found   bool   `json:"found"`
	Account string `json:"account,omitempty"`
	Amount  string `json:"amount,omitempty"`
	Kind    uint8  `json:"kind,omitempty"`
}

func (s *Server) handleMarketPendingAction(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params marketPendingParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid pending action parameters", err.Error())
		return
	}
	var result marketPendingResult
	doErr := s.rt.Do(func() error {
		engine, ok := s.rt.Market(params.Market)
		if !ok {
			return errUnknownMarket(params.Market)
		}
		action, found, err := engine.PendingAction(params.Tag)
		if err != nil {
			return err
		}
		if found {
			result = marketPendingResult{
				Found:   true,
				Account: action.Account,
				Amount:  bigString(action.Amount),
				Kind:    uint8(action.Kind),
			}
		}
		return nil
	})
	if doErr != nil {
		writeEngineError(w, req.ID, doErr)
		return
	}
	writeResult(w, req.ID, result)
}

func errUnknownMarket(id string) error {
	return &unknownInstanceError{kind: "market", id: id}
}

type unknownInstanceError struct {
	kind string
	id   string
}

func (e *unknownInstanceError) Error() string {
	return "rpc: unknown " + e.kind + " " + e.id
}
