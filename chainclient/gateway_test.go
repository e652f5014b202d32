package chainclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/identikit/go-identity-sdk/chainerr"
)

// rpcTestServer answers JSON-RPC over HTTP with the given per-method handler.
func rpcTestServer(t *testing.T, handle func(req rpcRequest) (interface{}, *rpcError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.True(t, strings.HasPrefix(r.Header.Get("User-Agent"), "go-identity-sdk/"))

		var req rpcRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, "2.0", req.JSONRPC)

		resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
		result, rpcErr := handle(req)
		if rpcErr != nil {
			resp.Error = rpcErr
		} else {
			raw, err := json.Marshal(result)
			assert.NoError(t, err)
			resp.Result = raw
		}
		w.Header().Set("Content-Type", "application/json")
		assert.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func reqParams(t *testing.T, req rpcRequest) map[string]interface{} {
	t.Helper()
	m, ok := req.Params.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return m
}

func TestNewGatewayRejectsBadEndpoints(t *testing.T) {
	_, err := NewGateway("ftp://node.example")
	require.Error(t, err)
	assert.Equal(t, chainerr.CodeChainNotConfigured, chainerr.CodeOf(err))

	_, err = NewGateway("://nope")
	require.Error(t, err)
}

func TestGatewayConnect(t *testing.T) {
	ts := rpcTestServer(t, func(req rpcRequest) (interface{}, *rpcError) {
		assert.Equal(t, methodChainInfo, req.Method)
		return ChainInfo{
			Name:           "substrate",
			Network:        "testnet",
			GenesisHash:    "0xabc",
			RuntimeVersion: 3,
			BlockHeight:    120,
			TokenSymbol:    "UNIT",
			TokenDecimals:  12,
		}, nil
	})
	defer ts.Close()

	g, err := NewGateway(ts.URL)
	require.NoError(t, err)

	info, err := g.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "testnet", info.Network)
	assert.Equal(t, uint64(120), info.BlockHeight)
	require.NoError(t, g.Disconnect())
}

func TestGatewayQuery(t *testing.T) {
	stored := "0x" + "48656c6c6f" // "Hello"
	ts := rpcTestServer(t, func(req rpcRequest) (interface{}, *rpcError) {
		p := reqParams(t, req)
		assert.Equal(t, methodStateQuery, req.Method)
		assert.Equal(t, PalletDID, p["pallet"])
		assert.Equal(t, StorageDIDs, p["item"])
		if p["key"] == "0x"+"6d697373696e67" { // "missing"
			return map[string]interface{}{"value": nil}, nil
		}
		return map[string]interface{}{"value": stored}, nil
	})
	defer ts.Close()

	g, err := NewGateway(ts.URL)
	require.NoError(t, err)

	value, err := g.Query(context.Background(), PalletDID, StorageDIDs, []byte("anything"))
	require.NoError(t, err)
	assert.Equal(t, []byte("Hello"), value)

	value, err = g.Query(context.Background(), PalletDID, StorageDIDs, []byte("missing"))
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestGatewayEstimateFee(t *testing.T) {
	ts := rpcTestServer(t, func(req rpcRequest) (interface{}, *rpcError) {
		assert.Equal(t, methodFeeEstimate, req.Method)
		p := reqParams(t, req)
		assert.Equal(t, aliceAddress, p["signer"])
		return Fee{Amount: 12345, Currency: "UNIT"}, nil
	})
	defer ts.Close()

	g, err := NewGateway(ts.URL)
	require.NoError(t, err)

	fee, err := g.EstimateFee(context.Background(), registerExtrinsic(0).Call, aliceAddress)
	require.NoError(t, err)
	assert.Equal(t, Fee{Amount: 12345, Currency: "UNIT"}, fee)

	_, err = g.EstimateFee(context.Background(), registerExtrinsic(0).Call, "garbage")
	assert.Equal(t, chainerr.CodeInvalidAddress, chainerr.CodeOf(err))
}

func TestGatewaySubmit(t *testing.T) {
	ts := rpcTestServer(t, func(req rpcRequest) (interface{}, *rpcError) {
		assert.Equal(t, methodSubmit, req.Method)
		p := reqParams(t, req)
		ext, ok := p["extrinsic"].(map[string]interface{})
		if assert.True(t, ok) {
			assert.Equal(t, aliceAddress, ext["signer"])
		}
		return map[string]interface{}{"hash": "0xfeed"}, nil
	})
	defer ts.Close()

	g, err := NewGateway(ts.URL)
	require.NoError(t, err)

	hash, err := g.Submit(context.Background(), registerExtrinsic(0))
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", hash)

	unsigned := registerExtrinsic(0)
	unsigned.Signature = nil
	_, err = g.Submit(context.Background(), unsigned)
	assert.Equal(t, chainerr.CodeSubmissionFailed, chainerr.CodeOf(err))
}

func TestGatewayNonce(t *testing.T) {
	ts := rpcTestServer(t, func(req rpcRequest) (interface{}, *rpcError) {
		assert.Equal(t, methodNonce, req.Method)
		assert.Equal(t, aliceAddress, reqParams(t, req)["address"])
		return map[string]interface{}{"nonce": 7}, nil
	})
	defer ts.Close()

	g, err := NewGateway(ts.URL)
	require.NoError(t, err)

	nonce, err := g.Nonce(context.Background(), aliceAddress)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), nonce)
}

func TestGatewayRPCErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		rpcErr   *rpcError
		wantCode chainerr.Code
	}{
		{
			name:   "did already exists",
			method: methodSubmit,
			rpcErr: &rpcError{Code: rpcCodeDIDAlreadyExists, Message: "exists",
				Data: json.RawMessage(`{"did":"` + aliceDID + `"}`)},
			wantCode: chainerr.CodeDIDAlreadyExists,
		},
		{
			name:   "did not found",
			method: methodStateQuery,
			rpcErr: &rpcError{Code: rpcCodeDIDNotFound, Message: "missing",
				Data: json.RawMessage(`{"did":"` + aliceDID + `"}`)},
			wantCode: chainerr.CodeDIDNotFound,
		},
		{
			name:   "invalid nonce",
			method: methodSubmit,
			rpcErr: &rpcError{Code: rpcCodeInvalidNonce, Message: "stale",
				Data: json.RawMessage(`{"address":"` + aliceAddress + `"}`)},
			wantCode: chainerr.CodeInvalidNonce,
		},
		{
			name:     "insufficient balance",
			method:   methodSubmit,
			rpcErr:   &rpcError{Code: rpcCodeInsufficientBalance, Message: "broke"},
			wantCode: chainerr.CodeInsufficientBalance,
		},
		{
			name:     "unknown account",
			method:   methodNonce,
			rpcErr:   &rpcError{Code: rpcCodeUnknownAccount, Message: "who"},
			wantCode: chainerr.CodeUnknownAccount,
		},
		{
			name:     "invalid transaction",
			method:   methodSubmit,
			rpcErr:   &rpcError{Code: rpcCodeInvalidTransaction, Message: "bad payload"},
			wantCode: chainerr.CodeSubmissionFailed,
		},
		{
			name:     "unknown code on fee estimate",
			method:   methodFeeEstimate,
			rpcErr:   &rpcError{Code: -32000, Message: "overloaded"},
			wantCode: chainerr.CodeFeeEstimationFailed,
		},
		{
			name:     "unknown code on query",
			method:   methodStateQuery,
			rpcErr:   &rpcError{Code: -32000, Message: "overloaded"},
			wantCode: chainerr.CodeConnectionFailed,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ts := rpcTestServer(t, func(req rpcRequest) (interface{}, *rpcError) {
				return nil, tc.rpcErr
			})
			defer ts.Close()

			g, err := NewGateway(ts.URL)
			require.NoError(t, err)

			switch tc.method {
			case methodSubmit:
				_, err = g.Submit(context.Background(), registerExtrinsic(0))
			case methodStateQuery:
				_, err = g.Query(context.Background(), PalletDID, StorageDIDs, []byte("k"))
			case methodFeeEstimate:
				_, err = g.EstimateFee(context.Background(), registerExtrinsic(0).Call, aliceAddress)
			case methodNonce:
				_, err = g.Nonce(context.Background(), aliceAddress)
			}
			require.Error(t, err)
			assert.Equal(t, tc.wantCode, chainerr.CodeOf(err))
		})
	}
}

func TestGatewayConnectionRefused(t *testing.T) {
	g, err := NewGateway("http://127.0.0.1:1")
	require.NoError(t, err)

	_, err = g.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, chainerr.CodeConnectionFailed, chainerr.CodeOf(err))
	assert.Equal(t, chainerr.CategoryNetwork, chainerr.CategoryOf(err))
	assert.True(t, chainerr.IsRetryable(err))
}

func TestGatewayTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer ts.Close()

	g, err := NewGateway(ts.URL, WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}))
	require.NoError(t, err)

	_, err = g.Nonce(context.Background(), aliceAddress)
	require.Error(t, err)
	assert.Equal(t, chainerr.CodeRPCTimeout, chainerr.CodeOf(err))
	assert.True(t, chainerr.IsRetryable(err))
}

func TestGatewayHTTPStatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	g, err := NewGateway(ts.URL)
	require.NoError(t, err)

	_, err = g.Nonce(context.Background(), aliceAddress)
	require.Error(t, err)
	assert.Equal(t, chainerr.CodeConnectionFailed, chainerr.CodeOf(err))
}

func TestBuildStatusURL(t *testing.T) {
	u, err := url.Parse("https://gateway.example")
	require.NoError(t, err)
	assert.Equal(t, "wss://gateway.example/status/stream?hash=0xfeed", buildStatusURL(u, "0xfeed"))

	u, err = url.Parse("http://localhost:9933")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:9933/status/stream?hash=0xfeed", buildStatusURL(u, "0xfeed"))
}

func TestGatewaySubscribeStatus(t *testing.T) {
	updates := []StatusUpdate{
		{Hash: "0xfeed", Kind: StatusBroadcast},
		{Hash: "0xfeed", Kind: StatusInBlock, BlockHash: "0xb1", BlockNumber: 9},
		{Hash: "0xfeed", Kind: StatusFinalized, BlockHash: "0xb1", BlockNumber: 9},
	}

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc(statusStreamPath, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "0xfeed", r.URL.Query().Get("hash"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, upd := range updates {
			data, err := json.Marshal(upd)
			assert.NoError(t, err)
			assert.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
		}
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	g, err := NewGateway(ts.URL)
	require.NoError(t, err)

	rec := &statusRecorder{}
	unsub, err := g.SubscribeStatus(context.Background(), "0xfeed", rec.record)
	require.NoError(t, err)
	defer unsub()

	require.Eventually(t, rec.terminal, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []StatusKind{StatusBroadcast, StatusInBlock, StatusFinalized}, rec.kinds())
	last, _ := rec.last()
	assert.Equal(t, uint64(9), last.BlockNumber)
}

func TestGatewayUnsubscribeClosesStream(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc(statusStreamPath, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := json.Marshal(StatusUpdate{Hash: "0xfeed", Kind: StatusBroadcast})
		assert.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

		// Block until the client closes, then the terminal write must fail.
		conn.ReadMessage()
		data, _ = json.Marshal(StatusUpdate{Hash: "0xfeed", Kind: StatusFinalized})
		conn.WriteMessage(websocket.TextMessage, data)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	g, err := NewGateway(ts.URL)
	require.NoError(t, err)

	rec := &statusRecorder{}
	unsub, err := g.SubscribeStatus(context.Background(), "0xfeed", rec.record)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	unsub()
	unsub() // idempotent

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
	assert.False(t, rec.terminal())
}

func TestGatewaySubscribeDialError(t *testing.T) {
	g, err := NewGateway("http://127.0.0.1:1")
	require.NoError(t, err)

	_, err = g.SubscribeStatus(context.Background(), "0xfeed", func(StatusUpdate) {})
	require.Error(t, err)
	assert.Equal(t, chainerr.CodeSubscriptionFailed, chainerr.CodeOf(err))
}

func TestGatewayContextCancelClosesStream(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	mux := http.NewServeMux()
	blocked := make(chan struct{})
	mux.HandleFunc(statusStreamPath, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Hold the stream open; the read returns once the client drops.
		conn.ReadMessage()
		close(blocked)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	g, err := NewGateway(ts.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	_, err = g.SubscribeStatus(ctx, "0xfeed", func(StatusUpdate) {})
	require.NoError(t, err)

	cancel()
	select {
	case <-blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("cancelling the context did not close the stream")
	}
}

func TestGatewayValidateAddress(t *testing.T) {
	g, err := NewGateway("http://localhost:9933")
	require.NoError(t, err)
	assert.True(t, g.ValidateAddress(aliceAddress))
	assert.False(t, g.ValidateAddress("junk"))
}
