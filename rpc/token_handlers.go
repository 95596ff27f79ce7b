package rpc

import (
	"math/big"
	"net/http"
)

type tokenBalanceParams struct {
	Ledger  string `json:"ledger"`
	Account string `json:"account"`
}

func (s *Server) handleTokenBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params tokenBalanceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid balance parameters", err.Error())
		return
	}
	var balance *big.Int
	doErr := s.rt.Do(func() error {
		ledger, ok := s.rt.Ledger(params.Ledger)
		if !ok {
			return errUnknownLedger(params.Ledger)
		}
		var inner error
		balance, inner = ledger.BalanceOf(params.Account)
		return inner
	})
	if doErr != nil {
		writeEngineError(w, req.ID, doErr)
		return
	}
	writeResult(w, req.ID, map[string]string{
		"ledger":  params.Ledger,
		"account": params.Account,
		"balance": bigString(balance),
	})
}

type tokenLedgerParams struct {
	Ledger string `json:"ledger"`
}

func (s *Server) handleTokenSupply(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params tokenLedgerParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid supply parameters", err.Error())
		return
	}
	var supply *big.Int
	doErr := s.rt.Do(func() error {
		ledger, ok := s.rt.Ledger(params.Ledger)
		if !ok {
			return errUnknownLedger(params.Ledger)
		}
		var inner error
		supply, inner = ledger.TotalSupply()
		return inner
	})
	if doErr != nil {
		writeEngineError(w, req.ID, doErr)
		return
	}
	writeResult(w, req.ID, map[string]string{"ledger": params.Ledger, "supply": bigString(supply)})
}

func (s *Server) handleTokenMeta(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params tokenLedgerParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid meta parameters", err.Error())
		return
	}
	var view LedgerMetaView
	doErr := s.rt.Do(func() error {
		ledger, ok := s.rt.Ledger(params.Ledger)
		if !ok {
			return errUnknownLedger(params.Ledger)
		}
		meta, err := ledger.Meta()
		if err != nil {
			return err
		}
		view = ledgerMetaView(params.Ledger, meta)
		return nil
	})
	if doErr != nil {
		writeEngineError(w, req.ID, doErr)
		return
	}
	writeResult(w, req.ID, view)
}

func (s *Server) handleTokenList(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	writeResult(w, req.ID, s.rt.LedgerIDs())
}

type tokenTransferParams struct {
	Ledger string `json:"ledger"`
	Caller string `json:"caller"`
	To     string `json:"to"`
	Amount string `json:"amount"`
	Tag    string `json:"tag,omitempty"`
}

// handleTokenTransfer moves funds through the step queue so tagged
// transfers reconcile against pending market actions the same way internal
// dispatches do.
func (s *Server) handleTokenTransfer(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params tokenTransferParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid transfer parameters", err.Error())
		return
	}
	amount, err := parseBig(params.Amount, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	doErr := s.rt.Do(func() error {
		if _, ok := s.rt.Ledger(params.Ledger); !ok {
			return errUnknownLedger(params.Ledger)
		}
		return s.rt.TransferWithTag(params.Ledger, params.Caller, params.To, amount, params.Tag)
	})
	if doErr != nil {
		writeEngineError(w, req.ID, doErr)
		return
	}
	writeResult(w, req.ID, map[string]string{"ledger": params.Ledger, "amount": amount.String()})
}

func (s *Server) handleStateRoot(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	root, err := s.rt.StateRoot()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"root": root.Hex()})
}

func (s *Server) handleStateQueueDepth(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	depth, err := s.rt.QueueDepth()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]uint64{"depth": depth})
}

func errUnknownLedger(id string) error {
	return &unknownInstanceError{kind: "ledger", id: id}
}
