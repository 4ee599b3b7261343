package rpc

import (
	"net/http"

	"dripsledger/core/types"
)

type setSplitsParams struct {
	Caller    string               `json:"caller"`
	AccountID string               `json:"accountId"`
	Receivers []SplitsReceiverJSON `json:"receivers"`
}

func (s *Server) handleSetSplits(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params setSplitsParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	account, err := types.ParseAccountID(params.AccountID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	receivers, err := decodeSplitsReceivers(params.Receivers)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	if err := s.hub.SetSplits(caller, account, receivers); err != nil {
		s.metrics.RPCRequest(req.Method, "error")
		writeHubError(w, req.ID, err)
		return
	}
	s.metrics.RPCRequest(req.Method, "ok")
	writeResult(w, req.ID, true)
}

type splitParams struct {
	AccountID     string               `json:"accountId"`
	Token         string               `json:"token"`
	CurrReceivers []SplitsReceiverJSON `json:"currReceivers"`
}

type splitResult struct {
	Collectable string `json:"collectable"`
	Split       string `json:"split"`
}

func (s *Server) handleSplit(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params splitParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	account, err := types.ParseAccountID(params.AccountID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	token, err := types.ParseTokenID(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	currReceivers, err := decodeSplitsReceivers(params.CurrReceivers)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	collectableAmt, splitAmt, err := s.hub.Split(account, token, currReceivers)
	if err != nil {
		s.metrics.RPCRequest(req.Method, "error")
		writeHubError(w, req.ID, err)
		return
	}
	s.metrics.RPCRequest(req.Method, "ok")
	s.metrics.SplitApplied()
	writeResult(w, req.ID, splitResult{
		Collectable: decString(collectableAmt),
		Split:       decString(splitAmt),
	})
}

type splitResultParams struct {
	AccountID     string               `json:"accountId"`
	CurrReceivers []SplitsReceiverJSON `json:"currReceivers"`
	Amount        string               `json:"amount"`
}

func (s *Server) handleSplitResult(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params splitResultParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	account, err := types.ParseAccountID(params.AccountID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	currReceivers, err := decodeSplitsReceivers(params.CurrReceivers)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amt, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	collectableAmt, splitAmt, err := s.hub.SplitResult(account, currReceivers, amt)
	if err != nil {
		s.metrics.RPCRequest(req.Method, "error")
		writeHubError(w, req.ID, err)
		return
	}
	s.metrics.RPCRequest(req.Method, "ok")
	writeResult(w, req.ID, splitResult{
		Collectable: decString(collectableAmt),
		Split:       decString(splitAmt),
	})
}

type accountTokenParams struct {
	AccountID string `json:"accountId"`
	Token     string `json:"token"`
}

type balanceResult struct {
	Balance string `json:"balance"`
}

func (s *Server) handleSplittableBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params accountTokenParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	account, err := types.ParseAccountID(params.AccountID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	token, err := types.ParseTokenID(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	balance, err := s.hub.SplittableBalance(account, token)
	if err != nil {
		s.metrics.RPCRequest(req.Method, "error")
		writeHubError(w, req.ID, err)
		return
	}
	s.metrics.RPCRequest(req.Method, "ok")
	writeResult(w, req.ID, balanceResult{Balance: decString(balance)})
}

func (s *Server) handleCollectableBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params accountTokenParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	account, err := types.ParseAccountID(params.AccountID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	token, err := types.ParseTokenID(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	balance, err := s.hub.CollectableBalance(account, token)
	if err != nil {
		s.metrics.RPCRequest(req.Method, "error")
		writeHubError(w, req.ID, err)
		return
	}
	s.metrics.RPCRequest(req.Method, "ok")
	writeResult(w, req.ID, balanceResult{Balance: decString(balance)})
}

type collectParams struct {
	Caller    string `json:"caller"`
	AccountID string `json:"accountId"`
	Token     string `json:"token"`
}

type collectResult struct {
	Amount string `json:"amount"`
}

func (s *Server) handleCollect(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params collectParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	account, err := types.ParseAccountID(params.AccountID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	token, err := types.ParseTokenID(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	amt, err := s.hub.Collect(caller, account, token)
	if err != nil {
		s.metrics.RPCRequest(req.Method, "error")
		writeHubError(w, req.ID, err)
		return
	}
	s.metrics.RPCRequest(req.Method, "ok")
	if amt.Sign() > 0 {
		s.metrics.Collected()
	}
	writeResult(w, req.ID, collectResult{Amount: decString(amt)})
}
