package rpc

import (
	"math/big"
	"net/http"

	"forwardnet/native/fees"
	"forwardnet/runtime"
)

type feesAssetParams struct {
	Asset string `json:"asset"`
}

func (s *Server) handleFeesCollected(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params feesAssetParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid fee parameters", err.Error())
		return
	}
	var collected *big.Int
	doErr := s.rt.Do(func() error {
		collector, ok := s.rt.Collector(runtime.DefaultCollectorID)
		if !ok {
			return errUnknownCollector()
		}
		var inner error
		collected, inner = collector.CollectedFees(params.Asset)
		return inner
	})
	if doErr != nil {
		writeEngineError(w, req.ID, doErr)
		return
	}
	writeResult(w, req.ID, map[string]string{"asset": params.Asset, "collected": bigString(collected)})
}

type feesWithdrawParams struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func (s *Server) handleFeesWithdraw(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params feesWithdrawParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid withdraw parameters", err.Error())
		return
	}
	var amount *big.Int
	if params.Amount != "" {
		parsed, err := parseBig(params.Amount, "amount")
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		amount = parsed
	}
	var withdrawn *big.Int
	doErr := s.rt.Do(func() error {
		collector, ok := s.rt.Collector(runtime.DefaultCollectorID)
		if !ok {
			return errUnknownCollector()
		}
		var inner error
		withdrawn, inner = collector.WithdrawFees(params.Caller, params.Asset, amount)
		return inner
	})
	if doErr != nil {
		writeEngineError(w, req.ID, doErr)
		return
	}
	writeResult(w, req.ID, map[string]string{"asset": params.Asset, "withdrawn": bigString(withdrawn)})
}

func (s *Server) handleFeesTreasury(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var treasury string
	doErr := s.rt.Do(func() error {
		collector, ok := s.rt.Collector(runtime.DefaultCollectorID)
		if !ok {
			return errUnknownCollector()
		}
		var inner error
		treasury, inner = collector.Treasury()
		return inner
	})
	if doErr != nil {
		writeEngineError(w, req.ID, doErr)
		return
	}
	writeResult(w, req.ID, map[string]string{"treasury": treasury})
}

type feesMarketParams struct {
	Caller string `json:"caller"`
	Market string `json:"market"`
}

func (s *Server) handleFeesAuthorizeMarket(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.mutateFeesMarket(w, req, (*fees.Collector).AuthorizeMarket)
}

func (s *Server) handleFeesRevokeMarket(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.mutateFeesMarket(w, req, (*fees.Collector).RevokeMarket)
}

func (s *Server) mutateFeesMarket(w http.ResponseWriter, req *RPCRequest, mutate func(*fees.Collector, string, string) error) {
	var params feesMarketParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid market parameters", err.Error())
		return
	}
	doErr := s.rt.Do(func() error {
		collector, ok := s.rt.Collector(runtime.DefaultCollectorID)
		if !ok {
			return errUnknownCollector()
		}
		return mutate(collector, params.Caller, params.Market)
	})
	if doErr != nil {
		writeEngineError(w, req.ID, doErr)
		return
	}
	writeResult(w, req.ID, map[string]string{"market": params.Market})
}

type feesSetTreasuryParams struct {
	Caller   string `json:"caller"`
	Treasury string `json:"treasury"`
}

func (s *Server) handleFeesSetTreasury(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params feesSetTreasuryParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid treasury parameters", err.Error())
		return
	}
	doErr := s.rt.Do(func() error {
		collector, ok := s.rt.Collector(runtime.DefaultCollectorID)
		if !ok {
			return errUnknownCollector()
		}
		return collector.SetTreasury(params.Caller, params.Treasury)
	})
	if doErr != nil {
		writeEngineError(w, req.ID, doErr)
		return
	}
	writeResult(w, req.ID, map[string]string{"treasury": params.Treasury})
}

func errUnknownCollector() error {
	return &unknownInstanceError{kind: "collector", id: runtime.DefaultCollectorID}
}
