package chainclient

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/carlmjohnson/versioninfo"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/identikit/go-identity-sdk/chainerr"
)

// hexBytes travels as 0x-prefixed hex on the wire.
type hexBytes []byte

func (h hexBytes) String() string {
	return "0x" + hex.EncodeToString(h)
}

func (h hexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

func (h *hexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return err
	}
	*h = raw
	return nil
}

// The node is a development tool; cross-origin browsers are allowed.
var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// Node serves the gateway wire protocol over any Client. Pointing it at a
// Sim gives applications a stand-in chain node for local development and
// integration tests; everything a Gateway client speaks, the node answers.
type Node struct {
	client Client
	addr   string
}

// NewNode wraps the client in a gateway-protocol HTTP server on addr.
func NewNode(client Client, addr string) *Node {
	return &Node{client: client, addr: addr}
}

// nodeRequest mirrors rpcRequest with raw params for typed decoding.
type nodeRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Handler returns the instrumented HTTP handler serving the protocol.
func (n *Node) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /{$}", n.handleRPC)
	mux.HandleFunc("GET /_health", n.handleHealth)
	mux.HandleFunc("GET "+statusStreamPath, n.handleStatusStream)
	return otelhttp.NewHandler(mux, "")
}

// Run starts the HTTP server (blocking).
func (n *Node) Run() error {
	logger.Infof("gateway node listening on %s", n.addr)
	return http.ListenAndServe(n.addr, n.Handler())
}

func (n *Node) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"version": versioninfo.Short(),
	})
}

func (n *Node) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req nodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPCResponse(w, rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: -32700, Message: "parse error"},
		})
		return
	}

	result, err := n.dispatch(r, &req)
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	if err != nil {
		resp.Error = rpcErrorFrom(err)
	} else {
		raw, merr := json.Marshal(result)
		if merr != nil {
			resp.Error = &rpcError{Code: -32603, Message: "internal error"}
		} else {
			resp.Result = raw
		}
	}
	writeRPCResponse(w, resp)
}

func writeRPCResponse(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Warnf("failed to write rpc response: %v", err)
	}
}

func (n *Node) dispatch(r *http.Request, req *nodeRequest) (interface{}, error) {
	ctx := r.Context()
	switch req.Method {
	case methodChainInfo:
		return n.client.Connect(ctx)

	case methodStateQuery:
		var p struct {
			Pallet string   `json:"pallet"`
			Item   string   `json:"item"`
			Key    hexBytes `json:"key"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, chainerr.NewEncodingFailed("state_query params", err)
		}
		value, err := n.client.Query(ctx, p.Pallet, p.Item, p.Key)
		if err != nil {
			return nil, err
		}
		if value == nil {
			return map[string]interface{}{"value": nil}, nil
		}
		return map[string]interface{}{"value": hexBytes(value).String()}, nil

	case methodFeeEstimate:
		var p struct {
			Call   Call   `json:"call"`
			Signer string `json:"signer"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, chainerr.NewEncodingFailed("fee_estimate params", err)
		}
		return n.client.EstimateFee(ctx, p.Call, p.Signer)

	case methodSubmit:
		var p struct {
			Extrinsic *Extrinsic `json:"extrinsic"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil || p.Extrinsic == nil {
			return nil, chainerr.NewEncodingFailed("extrinsic_submit params", err)
		}
		hash, err := n.client.Submit(ctx, p.Extrinsic)
		if err != nil {
			return nil, err
		}
		return map[string]string{"hash": hash}, nil

	case methodNonce:
		var p struct {
			Address string `json:"address"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, chainerr.NewEncodingFailed("account_nonce params", err)
		}
		nonce, err := n.client.Nonce(ctx, p.Address)
		if err != nil {
			return nil, err
		}
		return map[string]uint64{"nonce": nonce}, nil

	default:
		return nil, &rpcError{Code: -32601, Message: "method not found: " + req.Method}
	}
}

// rpcErrorFrom renders a taxonomy error on the wire, carrying its code and
// context so the client can rebuild the same error on its side.
func rpcErrorFrom(err error) *rpcError {
	var re *rpcError
	if errors.As(err, &re) {
		return re
	}
	var e *chainerr.Error
	if !errors.As(err, &e) {
		return &rpcError{Code: -32000, Message: err.Error()}
	}

	code := -32000
	switch e.Code {
	case chainerr.CodeDIDNotFound:
		code = rpcCodeDIDNotFound
	case chainerr.CodeDIDAlreadyExists:
		code = rpcCodeDIDAlreadyExists
	case chainerr.CodeInvalidNonce:
		code = rpcCodeInvalidNonce
	case chainerr.CodeInsufficientBalance:
		code = rpcCodeInsufficientBalance
	case chainerr.CodeUnknownAccount:
		code = rpcCodeUnknownAccount
	case chainerr.CodeSubmissionFailed, chainerr.CodeTransactionInvalid, chainerr.CodeInvalidAddress:
		code = rpcCodeInvalidTransaction
	}

	var data json.RawMessage
	if ec := e.Context(); len(ec) > 0 {
		data, _ = json.Marshal(ec)
	}
	return &rpcError{Code: code, Message: e.Message(), Data: data}
}

func (n *Node) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Query().Get("hash")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	updates := make(chan StatusUpdate, subBuffer)
	unsub, err := n.client.SubscribeStatus(r.Context(), hash, func(u StatusUpdate) {
		select {
		case updates <- u:
		default:
		}
	})
	if err != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, string(chainerr.CodeOf(err))))
		return
	}
	defer unsub()

	// Reads only fail; they surface the peer going away.
	peerGone := make(chan struct{})
	go func() {
		defer close(peerGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case u := <-updates:
			if err := conn.WriteJSON(u); err != nil {
				return
			}
			if u.Kind.Terminal() {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "terminal"))
				return
			}
		case <-peerGone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
