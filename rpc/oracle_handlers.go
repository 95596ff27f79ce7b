package rpc

import (
	"net/http"

	"forwardnet/native/oracle"
	"forwardnet/runtime"
)

type oraclePostPriceParams struct {
	Caller     string `json:"caller"`
	Underlying string `json:"underlying"`
	Quote      string `json:"quote"`
	Price      string `json:"price"`
	Timestamp  int64  `json:"timestamp"`
}

func (s *Server) handleOraclePostPrice(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params oraclePostPriceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid price parameters", err.Error())
		return
	}
	price, err := parseBig(params.Price, "price")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	doErr := s.rt.Do(func() error {
		router, ok := s.rt.Oracle(runtime.DefaultOracleID)
		if !ok {
			return errUnknownOracle()
		}
		return router.PostPrice(params.Caller, params.Underlying, params.Quote, price, params.Timestamp)
	})
	if doErr != nil {
		writeEngineError(w, req.ID, doErr)
		return
	}
	writeResult(w, req.ID, map[string]bool{"accepted": true})
}

type oraclePairParams struct {
	Underlying string `json:"underlying"`
	Quote      string `json:"quote"`
}

func (s *Server) handleOracleGetPrice(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params oraclePairParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid pair parameters", err.Error())
		return
	}
	var view PricePointView
	doErr := s.rt.Do(func() error {
		router, ok := s.rt.Oracle(runtime.DefaultOracleID)
		if !ok {
			return errUnknownOracle()
		}
		point, fresh, err := router.GetPrice(params.Underlying, params.Quote)
		if err != nil {
			return err
		}
		if point == nil {
			return oracle.ErrPairNotConfigured
		}
		view = PricePointView{
			Underlying: params.Underlying,
			Quote:      params.Quote,
			Price:      bigString(point.Price),
			Timestamp:  point.Timestamp,
			Source:     point.Source,
			Fresh:      fresh,
		}
		return nil
	})
	if doErr != nil {
		writeEngineError(w, req.ID, doErr)
		return
	}
	writeResult(w, req.ID, view)
}

type oraclePairConfigParams struct {
	Caller           string `json:"caller,omitempty"`
	Underlying       string `json:"underlying"`
	Quote            string `json:"quote"`
	TwapWindowSecs   int64  `json:"twapWindowSecs"`
	MaxStalenessSecs int64  `json:"maxStalenessSecs"`
	MaxDeviationBps  uint32 `json:"maxDeviationBps"`
}

func (s *Server) handleOracleSetPairConfig(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params oraclePairConfigParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid pair config", err.Error())
		return
	}
	doErr := s.rt.Do(func() error {
		router, ok := s.rt.Oracle(runtime.DefaultOracleID)
		if !ok {
			return errUnknownOracle()
		}
		return router.SetPairConfig(params.Caller, params.Underlying, params.Quote, oracle.PairConfig{
			TwapWindow:      params.TwapWindowSecs,
			MaxStaleness:    params.MaxStalenessSecs,
			MaxDeviationBps: params.MaxDeviationBps,
		})
	})
	if doErr != nil {
		writeEngineError(w, req.ID, doErr)
		return
	}
	writeResult(w, req.ID, map[string]bool{"configured": true})
}

func (s *Server) handleOraclePairConfig(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params oraclePairParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid pair parameters", err.Error())
		return
	}
	var view oraclePairConfigParams
	doErr := s.rt.Do(func() error {
		router, ok := s.rt.Oracle(runtime.DefaultOracleID)
		if !ok {
			return errUnknownOracle()
		}
		cfg, found, err := router.Config(params.Underlying, params.Quote)
		if err != nil {
			return err
		}
		if !found {
			return oracle.ErrPairNotConfigured
		}
		view = oraclePairConfigParams{
			Underlying:       params.Underlying,
			Quote:            params.Quote,
			TwapWindowSecs:   cfg.TwapWindow,
			MaxStalenessSecs: cfg.MaxStaleness,
			MaxDeviationBps:  cfg.MaxDeviationBps,
		}
		return nil
	})
	if doErr != nil {
		writeEngineError(w, req.ID, doErr)
		return
	}
	writeResult(w, req.ID, view)
}

type oracleSourceParams struct {
	Caller string `json:"caller"`
	Source string `json:"source"`
}

func (s *Server) handleOracleAuthorizeSource(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.mutateOracleSource(w, req, true)
}

func (s *Server) handleOracleRevokeSource(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.mutateOracleSource(w, req, false)
}

func (s *Server) mutateOracleSource(w http.ResponseWriter, req *RPCRequest, authorize bool) {
	var params oracleSourceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid source parameters", err.Error())
		return
	}
	doErr := s.rt.Do(func() error {
		router, ok := s.rt.Oracle(runtime.DefaultOracleID)
		if !ok {
			return errUnknownOracle()
		}
		if authorize {
			return router.AuthorizeSource(params.Caller, params.Source)
		}
		return router.RevokeSource(params.Caller, params.Source)
	})
	if doErr != nil {
		writeEngineError(w, req.ID, doErr)
		return
	}
	writeResult(w, req.ID, map[string]bool{"authorized": authorize})
}

func errUnknownOracle() error {
	return &unknownInstanceError{kind: "oracle", id: runtime.DefaultOracleID}
}
