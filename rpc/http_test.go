package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dripsledger/core/state"
	"dripsledger/native/drips"
	"dripsledger/storage"
)

const (
	testToken = "0x0101010101010101010101010101010101010101"
	testAddr  = "0x0202020202020202020202020202020202020202"
)

func testAccountHex(driverID uint32, fill byte) string {
	buf := make([]byte, 32)
	buf[0] = byte(driverID >> 24)
	buf[1] = byte(driverID >> 16)
	buf[2] = byte(driverID >> 8)
	buf[3] = byte(driverID)
	for i := 4; i < len(buf); i++ {
		buf[i] = fill
	}
	return fmt.Sprintf("0x%x", buf)
}

type testServer struct {
	server *Server
	clock  int64
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	hub, err := drips.NewHub(10)
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	hub.SetState(state.NewManager(storage.NewMemDB()))
	ts := &testServer{server: NewServer(hub, nil)}
	hub.SetNowFunc(func() int64 { return ts.clock })
	return ts
}

func (ts *testServer) call(t *testing.T, method string, params interface{}) *RPCResponse {
	t.Helper()
	req := map[string]interface{}{
		"jsonrpc": jsonRPCVersion,
		"id":      1,
		"method":  method,
	}
	if params != nil {
		req["params"] = []interface{}{params}
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	recorder := httptest.NewRecorder()
	ts.server.handle(recorder, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body)))

	resp := &RPCResponse{}
	if err := json.Unmarshal(recorder.Body.Bytes(), resp); err != nil {
		t.Fatalf("unmarshal response %q: %v", recorder.Body.String(), err)
	}
	return resp
}

func (ts *testServer) mustCall(t *testing.T, method string, params interface{}, out interface{}) {
	t.Helper()
	resp := ts.call(t, method, params)
	if resp.Error != nil {
		t.Fatalf("%s failed: %+v", method, resp.Error)
	}
	if out == nil {
		return
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("remarshal result: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func TestHandleRejectsMalformedRequests(t *testing.T) {
	ts := newTestServer(t)

	recorder := httptest.NewRecorder()
	ts.server.handle(recorder, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(nil)))
	resp := &RPCResponse{}
	if err := json.Unmarshal(recorder.Body.Bytes(), resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != codeInvalidRequest {
		t.Fatalf("empty body: %+v", resp.Error)
	}

	resp = ts.call(t, "drips_noSuchMethod", nil)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("unknown method: %+v", resp.Error)
	}
}

func TestDriverLifecycleOverRPC(t *testing.T) {
	ts := newTestServer(t)

	var registered registerDriverResult
	ts.mustCall(t, "drips_registerDriver", registerDriverParams{Address: testAddr}, &registered)
	if registered.DriverID != 1 {
		t.Fatalf("driver id = %d, want 1", registered.DriverID)
	}

	var lookup driverAddressResult
	ts.mustCall(t, "drips_driverAddress", driverAddressParams{DriverID: 1}, &lookup)
	if lookup.Address != testAddr {
		t.Fatalf("driver address = %s, want %s", lookup.Address, testAddr)
	}

	resp := ts.call(t, "drips_driverAddress", driverAddressParams{DriverID: 7})
	if resp.Error == nil {
		t.Fatal("unknown driver lookup succeeded")
	}
}

func TestStreamingLifecycleOverRPC(t *testing.T) {
	ts := newTestServer(t)

	var registered registerDriverResult
	ts.mustCall(t, "drips_registerDriver", registerDriverParams{Address: testAddr}, &registered)

	sender := testAccountHex(registered.DriverID, 0xAA)
	receiver := testAccountHex(registered.DriverID, 0xBB)
	receivers := []StreamReceiverJSON{{
		AccountID: receiver,
		AmtPerSec: "1000000000", // one unit per second
	}}

	var setResult setStreamsResult
	ts.mustCall(t, "drips_setStreams", setStreamsParams{
		Caller:       testAddr,
		AccountID:    sender,
		Token:        testToken,
		BalanceDelta: "35",
		NewReceivers: receivers,
	}, &setResult)
	if setResult.RealBalanceDelta != "35" {
		t.Fatalf("real balance delta = %s, want 35", setResult.RealBalanceDelta)
	}

	var total balanceResult
	ts.mustCall(t, "drips_totalBalance", totalBalanceParams{Token: testToken}, &total)
	if total.Balance != "35" {
		t.Fatalf("total balance = %s, want 35", total.Balance)
	}

	ts.clock = 40
	var pending receivableCyclesResult
	ts.mustCall(t, "drips_receivableCycles", receivableCyclesParams{AccountID: receiver, Token: testToken}, &pending)
	if pending.Cycles != 4 {
		t.Fatalf("receivable cycles = %d, want 4", pending.Cycles)
	}

	var received receiveStreamsResult
	ts.mustCall(t, "drips_receiveStreams", receiveStreamsParams{
		AccountID: receiver,
		Token:     testToken,
		MaxCycles: ^uint32(0),
	}, &received)
	if received.Received != "35" || received.ReceivableCycles != 0 {
		t.Fatalf("receive result = %+v, want 35 received, 0 pending", received)
	}

	var split splitResult
	ts.mustCall(t, "drips_split", splitParams{AccountID: receiver, Token: testToken}, &split)
	if split.Collectable != "35" {
		t.Fatalf("collectable after split = %s, want 35", split.Collectable)
	}

	var collected collectResult
	ts.mustCall(t, "drips_collect", collectParams{
		Caller:    testAddr,
		AccountID: receiver,
		Token:     testToken,
	}, &collected)
	if collected.Amount != "35" {
		t.Fatalf("collected = %s, want 35", collected.Amount)
	}

	ts.mustCall(t, "drips_totalBalance", totalBalanceParams{Token: testToken}, &total)
	if total.Balance != "0" {
		t.Fatalf("total balance after collect = %s, want 0", total.Balance)
	}
}

func TestSetStreamsAuthErrorsOverRPC(t *testing.T) {
	ts := newTestServer(t)

	var registered registerDriverResult
	ts.mustCall(t, "drips_registerDriver", registerDriverParams{Address: testAddr}, &registered)
	sender := testAccountHex(registered.DriverID, 0xAA)

	resp := ts.call(t, "drips_setStreams", setStreamsParams{
		Caller:       "0x0303030303030303030303030303030303030303",
		AccountID:    sender,
		Token:        testToken,
		BalanceDelta: "10",
	})
	if resp.Error == nil || resp.Error.Code != codeForbidden {
		t.Fatalf("unauthorized call: %+v", resp.Error)
	}

	resp = ts.call(t, "drips_setStreams", setStreamsParams{
		Caller:       testAddr,
		AccountID:    "not-an-account",
		Token:        testToken,
		BalanceDelta: "10",
	})
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("malformed account id: %+v", resp.Error)
	}
}

func TestSplitResultOverRPC(t *testing.T) {
	ts := newTestServer(t)

	var registered registerDriverResult
	ts.mustCall(t, "drips_registerDriver", registerDriverParams{Address: testAddr}, &registered)
	account := testAccountHex(registered.DriverID, 0xAA)
	receivers := []SplitsReceiverJSON{{
		AccountID: testAccountHex(registered.DriverID, 0xBB),
		Weight:    300_000,
	}}
	ts.mustCall(t, "drips_setSplits", setSplitsParams{
		Caller:    testAddr,
		AccountID: account,
		Receivers: receivers,
	}, nil)

	var result splitResult
	ts.mustCall(t, "drips_splitResult", splitResultParams{
		AccountID:     account,
		CurrReceivers: receivers,
		Amount:        "100",
	}, &result)
	if result.Collectable != "70" || result.Split != "30" {
		t.Fatalf("split result = %+v, want (70, 30)", result)
	}

	// The dry run left the splittable pool untouched.
	var balance balanceResult
	ts.mustCall(t, "drips_splittableBalance", accountTokenParams{
		AccountID: testAccountHex(registered.DriverID, 0xBB),
		Token:     testToken,
	}, &balance)
	if balance.Balance != "0" {
		t.Fatalf("splittable balance = %s, want 0", balance.Balance)
	}

	resp := ts.call(t, "drips_splitResult", splitResultParams{
		AccountID: account,
		Amount:    "100",
	})
	if resp.Error == nil || resp.Error.Code != codeConflict {
		t.Fatalf("stale receivers: %+v", resp.Error)
	}
}

func TestReadHandlersRecordRequestMetrics(t *testing.T) {
	ts := newTestServer(t)

	var total balanceResult
	ts.mustCall(t, "drips_totalBalance", totalBalanceParams{Token: testToken}, &total)

	var pending receivableCyclesResult
	ts.mustCall(t, "drips_receivableCycles", receivableCyclesParams{
		AccountID: testAccountHex(1, 0xAA),
		Token:     testToken,
	}, &pending)

	recorder := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := recorder.Body.String()
	for _, series := range []string{
		`drips_rpc_requests_total{method="drips_totalBalance",outcome="ok"}`,
		`drips_rpc_requests_total{method="drips_receivableCycles",outcome="ok"}`,
	} {
		if !strings.Contains(body, series) {
			t.Fatalf("metrics exposition missing %s", series)
		}
	}
}
