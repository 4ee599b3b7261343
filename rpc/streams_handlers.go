package rpc

import (
	"math/big"
	"net/http"

	"dripsledger/core/types"
)

type setStreamsParams struct {
	Caller        string               `json:"caller"`
	AccountID     string               `json:"accountId"`
	Token         string               `json:"token"`
	CurrReceivers []StreamReceiverJSON `json:"currReceivers"`
	BalanceDelta  string               `json:"balanceDelta"`
	NewReceivers  []StreamReceiverJSON `json:"newReceivers"`
	MaxEndHints   []uint32             `json:"maxEndHints,omitempty"`
}

type setStreamsResult struct {
	RealBalanceDelta string `json:"realBalanceDelta"`
}

func (s *Server) handleSetStreams(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params setStreamsParams
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
	currReceivers, err := decodeStreamReceivers(params.CurrReceivers)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	newReceivers, err := decodeStreamReceivers(params.NewReceivers)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	balanceDelta, err := parseSignedAmount(params.BalanceDelta)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	realDelta, err := s.hub.SetStreams(caller, account, token, currReceivers, balanceDelta, newReceivers, params.MaxEndHints)
	if err != nil {
		s.metrics.RPCRequest(req.Method, "error")
		writeHubError(w, req.ID, err)
		return
	}
	s.metrics.RPCRequest(req.Method, "ok")
	s.metrics.StreamsSet()
	writeResult(w, req.ID, setStreamsResult{RealBalanceDelta: decString(realDelta)})
}

type balanceAtParams struct {
	AccountID string               `json:"accountId"`
	Token     string               `json:"token"`
	Receivers []StreamReceiverJSON `json:"receivers"`
	Timestamp uint32               `json:"timestamp"`
}

type balanceAtResult struct {
	Balance string `json:"balance"`
}

func (s *Server) handleBalanceAt(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params balanceAtParams
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
	receivers, err := decodeStreamReceivers(params.Receivers)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	balance, err := s.hub.BalanceAt(account, token, receivers, params.Timestamp)
	if err != nil {
		s.metrics.RPCRequest(req.Method, "error")
		writeHubError(w, req.ID, err)
		return
	}
	s.metrics.RPCRequest(req.Method, "ok")
	writeResult(w, req.ID, balanceAtResult{Balance: decString(balance)})
}

type receiveStreamsParams struct {
	AccountID string `json:"accountId"`
	Token     string `json:"token"`
	MaxCycles uint32 `json:"maxCycles"`
}

type receiveStreamsResult struct {
	Received         string `json:"received"`
	ReceivableCycles uint32 `json:"receivableCycles"`
}

func (s *Server) handleReceiveStreams(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params receiveStreamsParams
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

	pendingBefore, err := s.hub.ReceivableCycles(account, token)
	if err != nil {
		writeHubError(w, req.ID, err)
		return
	}
	received, receivable, err := s.hub.ReceiveStreams(account, token, params.MaxCycles)
	if err != nil {
		s.metrics.RPCRequest(req.Method, "error")
		writeHubError(w, req.ID, err)
		return
	}
	s.metrics.RPCRequest(req.Method, "ok")
	s.metrics.CyclesReceived(pendingBefore - receivable)
	if received.Sign() > 0 {
		amt, _ := new(big.Float).SetInt(received).Float64()
		s.metrics.AmountReceived("receive", amt)
	}
	writeResult(w, req.ID, receiveStreamsResult{
		Received:         decString(received),
		ReceivableCycles: receivable,
	})
}

type receivableCyclesParams struct {
	AccountID string `json:"accountId"`
	Token     string `json:"token"`
}

type receivableCyclesResult struct {
	Cycles uint32 `json:"cycles"`
}

func (s *Server) handleReceivableCycles(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params receivableCyclesParams
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

	cycles, err := s.hub.ReceivableCycles(account, token)
	if err != nil {
		s.metrics.RPCRequest(req.Method, "error")
		writeHubError(w, req.ID, err)
		return
	}
	s.metrics.RPCRequest(req.Method, "ok")
	writeResult(w, req.ID, receivableCyclesResult{Cycles: cycles})
}

type squeezeStreamsParams struct {
	Caller          string               `json:"caller"`
	AccountID       string               `json:"accountId"`
	Token           string               `json:"token"`
	Sender          string               `json:"sender"`
	SenderReceivers []StreamReceiverJSON `json:"senderReceivers"`
}

type squeezeStreamsResult struct {
	Amount string `json:"amount"`
}

func (s *Server) handleSqueezeStreams(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params squeezeStreamsParams
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
	sender, err := types.ParseAccountID(params.Sender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	senderReceivers, err := decodeStreamReceivers(params.SenderReceivers)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	amt, err := s.hub.SqueezeStreams(caller, account, token, sender, senderReceivers)
	if err != nil {
		s.metrics.RPCRequest(req.Method, "error")
		writeHubError(w, req.ID, err)
		return
	}
	s.metrics.RPCRequest(req.Method, "ok")
	if amt.Sign() > 0 {
		squeezed, _ := new(big.Float).SetInt(amt).Float64()
		s.metrics.AmountReceived("squeeze", squeezed)
	}
	writeResult(w, req.ID, squeezeStreamsResult{Amount: decString(amt)})
}
