package rpc

import (
	"math/big"
	"net/http"

	"forwardnet/native/factory"
	"forwardnet/runtime"
)

type factoryDeployParams struct {
	Caller  string           `json:"caller"`
	Funding string           `json:"funding"`
	Params  MarketParamsView `json:"params"`
}

type factoryDeployResult struct {
	DeployID uint64 `json:"deployId"`
}

func (s *Server) handleFactoryDeployMarket(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params factoryDeployParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid deploy parameters", err.Error())
		return
	}
	funding, err := parseBig(params.Funding, "funding")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	marketParams, err := marketParamsFromView(params.Params)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	var deployID uint64
	doErr := s.rt.Do(func() error {
		orchestrator, ok := s.rt.Factory(runtime.DefaultFactoryID)
		if !ok {
			return errUnknownFactory()
		}
		var inner error
		deployID, inner = orchestrator.DeployMarket(params.Caller, marketParams, funding)
		return inner
	})
	if doErr != nil {
		writeEngineError(w, req.ID, doErr)
		return
	}
	writeResult(w, req.ID, factoryDeployResult{DeployID: deployID})
}

type factoryListParams struct {
	Skip int `json:"skip"`
	Take int `json:"take"`
}

func (s *Server) handleFactoryMarkets(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	params := factoryListParams{Take: 50}
	if len(req.Params) == 1 {
		if err := decodeParams(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid list parameters", err.Error())
			return
		}
	}
	if params.Take <= 0 || params.Take > 200 {
		params.Take = 50
	}
	var views []MarketInfoView
	doErr := s.rt.Do(func() error {
		orchestrator, ok := s.rt.Factory(runtime.DefaultFactoryID)
		if !ok {
			return errUnknownFactory()
		}
		infos, err := orchestrator.Markets(params.Skip, params.Take)
		if err != nil {
			return err
		}
		views = make([]MarketInfoView, len(infos))
		for i, info := range infos {
			views[i] = marketInfoView(info)
		}
		return nil
	})
	if doErr != nil {
		writeEngineError(w, req.ID, doErr)
		return
	}
	writeResult(w, req.ID, views)
}

type factoryCreatorParams struct {
	Creator string `json:"creator"`
}

func (s *Server) handleFactoryMarketsByCreator(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params factoryCreatorParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid creator parameters", err.Error())
		return
	}
	var views []MarketInfoView
	doErr := s.rt.Do(func() error {
		orchestrator, ok := s.rt.Factory(runtime.DefaultFactoryID)
		if !ok {
			return errUnknownFactory()
		}
		infos, err := orchestrator.MarketsByCreator(params.Creator)
		if err != nil {
			return err
		}
		views = make([]MarketInfoView, len(infos))
		for i, info := range infos {
			views[i] = marketInfoView(info)
		}
		return nil
	})
	if doErr != nil {
		writeEngineError(w, req.ID, doErr)
		return
	}
	writeResult(w, req.ID, views)
}

type factoryDeploymentParams struct {
	DeployID uint64 `json:"deployId"`
}

func (s *Server) handleFactoryDeployment(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params factoryDeploymentParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid deployment parameters", err.Error())
		return
	}
	var view DeploymentView
	doErr := s.rt.Do(func() error {
		orchestrator, ok := s.rt.Factory(runtime.DefaultFactoryID)
		if !ok {
			return errUnknownFactory()
		}
		rec, found, err := orchestrator.Deployment(params.DeployID)
		if err != nil {
			return err
		}
		if !found {
			return factory.ErrUnknownDeployment
		}
		view = deploymentView(rec)
		return nil
	})
	if doErr != nil {
		writeEngineError(w, req.ID, doErr)
		return
	}
	writeResult(w, req.ID, view)
}

type factoryDeploymentsParams struct {
	Status string `json:"status"`
}

func (s *Server) handleFactoryDeployments(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params factoryDeploymentsParams
	if len(req.Params) == 1 {
		if err := decodeParams(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid deployments parameters", err.Error())
			return
		}
	}
	var views []DeploymentView
	doErr := s.rt.Do(func() error {
		orchestrator, ok := s.rt.Factory(runtime.DefaultFactoryID)
		if !ok {
			return errUnknownFactory()
		}
		recs, err := orchestrator.Deployments(params.Status)
		if err != nil {
			return err
		}
		views = make([]DeploymentView, len(recs))
		for i, rec := range recs {
			views[i] = deploymentView(rec)
		}
		return nil
	})
	if doErr != nil {
		writeEngineError(w, req.ID, doErr)
		return
	}
	writeResult(w, req.ID, views)
}

type factorySetPausedParams struct {
	Caller string `json:"caller"`
	Paused bool   `json:"paused"`
}

func (s *Server) handleFactorySetPaused(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params factorySetPausedParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid pause parameters", err.Error())
		return
	}
	doErr := s.rt.Do(func() error {
		orchestrator, ok := s.rt.Factory(runtime.DefaultFactoryID)
		if !ok {
			return errUnknownFactory()
		}
		return orchestrator.SetPaused(params.Caller, params.Paused)
	})
	if doErr != nil {
		writeEngineError(w, req.ID, doErr)
		return
	}
	writeResult(w, req.ID, map[string]bool{"paused": params.Paused})
}

type factorySetCostParams struct {
	Caller string `json:"caller"`
	Cost   string `json:"cost"`
}

func (s *Server) handleFactorySetCost(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params factorySetCostParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid cost parameters", err.Error())
		return
	}
	cost, err := parseBig(params.Cost, "cost")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	doErr := s.rt.Do(func() error {
		orchestrator, ok := s.rt.Factory(runtime.DefaultFactoryID)
		if !ok {
			return errUnknownFactory()
		}
		return orchestrator.SetProvisioningCost(params.Caller, cost)
	})
	if doErr != nil {
		writeEngineError(w, req.ID, doErr)
		return
	}
	writeResult(w, req.ID, map[string]string{"cost": cost.String()})
}

func (s *Server) handleFactoryCost(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var cost *big.Int
	doErr := s.rt.Do(func() error {
		orchestrator, ok := s.rt.Factory(runtime.DefaultFactoryID)
		if !ok {
			return errUnknownFactory()
		}
		var inner error
		cost, inner = orchestrator.ProvisioningCost()
		return inner
	})
	if doErr != nil {
		writeEngineError(w, req.ID, doErr)
		return
	}
	writeResult(w, req.ID, map[string]string{"cost": bigString(cost)})
}

func errUnknownFactory() error {
	return &unknownInstanceError{kind: "factory", id: runtime.DefaultFactoryID}
}

type factoryMarketByParamsParams struct {
	Params MarketParamsView `json:"params"`
}

func (s *Server) handleFactoryMarketByParams(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params factoryMarketByParamsParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid lookup parameters", err.Error())
		return
	}
	marketParams, err := marketParamsFromView(params.Params)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	var view MarketInfoView
	doErr := s.rt.Do(func() error {
		orchestrator, ok := s.rt.Factory(runtime.DefaultFactoryID)
		if !ok {
			return errUnknownFactory()
		}
		info, found, err := orchestrator.MarketByParams(marketParams)
		if err != nil {
			return err
		}
		if !found {
			return factory.ErrUnknownMarket
		}
		view = marketInfoView(info)
		return nil
	})
	if doErr != nil {
		writeEngineError(w, req.ID, doErr)
		return
	}
	writeResult(w, req.ID, view)
}

func (s *Server) handleFactoryMarketCount(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var count int
	doErr := s.rt.Do(func() error {
		orchestrator, ok := s.rt.Factory(runtime.DefaultFactoryID)
		if !ok {
			return errUnknownFactory()
		}
		var inner error
		count, inner = orchestrator.MarketCount()
		return inner
	})
	if doErr != nil {
		writeEngineError(w, req.ID, doErr)
		return
	}
	writeResult(w, req.ID, map[string]int{"count": count})
}

type factoryWiringParams struct {
	Caller  string `json:"caller"`
	Address string `json:"address"`
}

// handleFactorySetWiring covers the owner knobs that repoint the oracle,
// fee collector, guardian, and ownership itself.
func (s *Server) handleFactorySetWiring(update func(*factory.Engine, string, string) error, describe string) rpcHandler {
	return func(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
		var params factoryWiringParams
		if err := decodeParams(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid "+describe+" parameters", err.Error())
			return
		}
		doErr := s.rt.Do(func() error {
			orchestrator, ok := s.rt.Factory(runtime.DefaultFactoryID)
			if !ok {
				return errUnknownFactory()
			}
			return update(orchestrator, params.Caller, params.Address)
		})
		if doErr != nil {
			writeEngineError(w, req.ID, doErr)
			return
		}
		writeResult(w, req.ID, map[string]string{describe: params.Address})
	}
}

type factoryCodeBlobParams struct {
	Caller string `json:"caller"`
	Kind   string `json:"kind"`
	Blob   string `json:"blob"`
}

func (s *Server) handleFactorySetCodeBlob(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params factoryCodeBlobParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid code blob parameters", err.Error())
		return
	}
	if params.Blob == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "blob must not be empty", nil)
		return
	}
	doErr := s.rt.Do(func() error {
		orchestrator, ok := s.rt.Factory(runtime.DefaultFactoryID)
		if !ok {
			return errUnknownFactory()
		}
		return orchestrator.SetCodeBlob(params.Caller, params.Kind, []byte(params.Blob))
	})
	if doErr != nil {
		writeEngineError(w, req.ID, doErr)
		return
	}
	writeResult(w, req.ID, map[string]string{"kind": params.Kind})
}
