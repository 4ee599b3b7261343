package rpc

import (
	"net/http"

	"dripsledger/core/types"
	"dripsledger/native/drips"
)

type registerDriverParams struct {
	Address string `json:"address"`
}

type registerDriverResult struct {
	DriverID uint32 `json:"driverId"`
}

func (s *Server) handleRegisterDriver(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params registerDriverParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	driverID, err := s.hub.RegisterDriver(addr)
	if err != nil {
		s.metrics.RPCRequest(req.Method, "error")
		writeHubError(w, req.ID, err)
		return
	}
	s.metrics.RPCRequest(req.Method, "ok")
	writeResult(w, req.ID, registerDriverResult{DriverID: driverID})
}

type driverAddressParams struct {
	DriverID uint32 `json:"driverId"`
}

type driverAddressResult struct {
	Address string `json:"address"`
}

func (s *Server) handleDriverAddress(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params driverAddressParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	addr, ok, err := s.hub.DriverAddress(params.DriverID)
	if err != nil {
		s.metrics.RPCRequest(req.Method, "error")
		writeHubError(w, req.ID, err)
		return
	}
	if !ok {
		s.metrics.RPCRequest(req.Method, "error")
		writeError(w, http.StatusNotFound, req.ID, codeServerError, drips.ErrUnknownDriver.Error(), nil)
		return
	}
	s.metrics.RPCRequest(req.Method, "ok")
	writeResult(w, req.ID, driverAddressResult{Address: formatAddress(addr)})
}

type updateDriverAddressParams struct {
	Caller   string `json:"caller"`
	DriverID uint32 `json:"driverId"`
	Address  string `json:"address"`
}

func (s *Server) handleUpdateDriverAddress(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params updateDriverAddressParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	newAddr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	if err := s.hub.UpdateDriverAddress(caller, params.DriverID, newAddr); err != nil {
		s.metrics.RPCRequest(req.Method, "error")
		writeHubError(w, req.ID, err)
		return
	}
	s.metrics.RPCRequest(req.Method, "ok")
	writeResult(w, req.ID, true)
}

type giveParams struct {
	Caller    string `json:"caller"`
	AccountID string `json:"accountId"`
	Receiver  string `json:"receiver"`
	Token     string `json:"token"`
	Amount    string `json:"amount"`
}

func (s *Server) handleGive(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params giveParams
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
	receiver, err := types.ParseAccountID(params.Receiver)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	token, err := types.ParseTokenID(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amt, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	if err := s.hub.Give(caller, account, receiver, token, amt); err != nil {
		s.metrics.RPCRequest(req.Method, "error")
		writeHubError(w, req.ID, err)
		return
	}
	s.metrics.RPCRequest(req.Method, "ok")
	writeResult(w, req.ID, true)
}

type accountMetadataParams struct {
	Caller    string              `json:"caller"`
	AccountID string              `json:"accountId"`
	Entries   []MetadataEntryJSON `json:"entries"`
}

func (s *Server) handleEmitAccountMetadata(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params accountMetadataParams
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
	entries := make([]drips.MetadataEntry, len(params.Entries))
	for i, entry := range params.Entries {
		entries[i] = drips.MetadataEntry{Key: entry.Key, Value: entry.Value}
	}

	if err := s.hub.EmitAccountMetadata(caller, account, entries); err != nil {
		s.metrics.RPCRequest(req.Method, "error")
		writeHubError(w, req.ID, err)
		return
	}
	s.metrics.RPCRequest(req.Method, "ok")
	writeResult(w, req.ID, true)
}

type totalBalanceParams struct {
	Token string `json:"token"`
}

func (s *Server) handleTotalBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params totalBalanceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	token, err := types.ParseTokenID(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	total, err := s.hub.TotalBalance(token)
	if err != nil {
		s.metrics.RPCRequest(req.Method, "error")
		writeHubError(w, req.ID, err)
		return
	}
	s.metrics.RPCRequest(req.Method, "ok")
	writeResult(w, req.ID, balanceResult{Balance: decString(total)})
}
