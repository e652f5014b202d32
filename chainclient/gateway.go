package chainclient

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/identikit/go-identity-sdk/chain"
	"github.com/identikit/go-identity-sdk/chainerr"
	"github.com/identikit/go-identity-sdk/internal/log"
)

var logger = log.New("chainclient")

const (
	// httpTimeout bounds every unary RPC round trip.
	httpTimeout = 30 * time.Second

	// wsReadTimeout bounds each status read. Finalization gaps longer than
	// this break the subscription; the orchestrator's confirmation timeout
	// is the real deadline.
	wsReadTimeout = 2 * time.Minute
)

// JSON-RPC methods understood by the gateway node.
const (
	methodChainInfo   = "chain_info"
	methodStateQuery  = "state_query"
	methodFeeEstimate = "fee_estimate"
	methodSubmit      = "extrinsic_submit"
	methodNonce       = "account_nonce"
)

// statusStreamPath is the WebSocket endpoint for status subscriptions.
const statusStreamPath = "/status/stream"

// Application-level RPC error codes assigned by the gateway node.
const (
	rpcCodeDIDNotFound         = 1001
	rpcCodeDIDAlreadyExists    = 1002
	rpcCodeInvalidNonce        = 1003
	rpcCodeInsufficientBalance = 1004
	rpcCodeUnknownAccount      = 1005
	rpcCodeInvalidTransaction  = 1006
)

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      uint64      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithGatewaySpec sets the chain spec used for local address validation.
func WithGatewaySpec(spec chain.Spec) GatewayOption {
	return func(g *Gateway) { g.spec = spec }
}

// WithHTTPClient replaces the default instrumented HTTP client.
func WithHTTPClient(c *http.Client) GatewayOption {
	return func(g *Gateway) { g.httpClient = c }
}

// WithWSDialer replaces the default WebSocket dialer.
func WithWSDialer(d *websocket.Dialer) GatewayOption {
	return func(g *Gateway) { g.wsDialer = d }
}

// Gateway talks JSON-RPC over HTTP to a gateway node, with status
// subscriptions over WebSocket. Unary calls are stateless; Connect probes
// the node and caches its chain info.
type Gateway struct {
	endpoint   string
	parsedURL  *url.URL
	spec       chain.Spec
	userAgent  string
	httpClient *http.Client
	wsDialer   *websocket.Dialer

	mu     sync.Mutex
	nextID uint64
	info   *ChainInfo
}

// NewGateway builds a gateway client for the given HTTP(S) endpoint.
func NewGateway(endpoint string, opts ...GatewayOption) (*Gateway, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, chainerr.NewChainNotConfigured(fmt.Sprintf("invalid gateway endpoint %q", endpoint))
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, chainerr.NewChainNotConfigured(fmt.Sprintf("gateway endpoint %q must be http or https", endpoint))
	}
	g := &Gateway{
		endpoint:  strings.TrimRight(endpoint, "/"),
		parsedURL: parsed,
		spec:      chain.Substrate(),
		userAgent: fmt.Sprintf("go-identity-sdk/%s", versioninfo.Short()),
		httpClient: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		wsDialer: websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Gateway) nextRequestID() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	return g.nextID
}

// call performs one unary JSON-RPC round trip and decodes the result into
// out when out is non-nil.
func (g *Gateway) call(ctx context.Context, method string, params, out interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      g.nextRequestID(),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return chainerr.NewEncodingFailed("rpc request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return chainerr.NewConnectionFailed(g.endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", g.userAgent)

	logger.Debugf("rpc %s -> %s", method, g.endpoint)
	resp, err := g.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return chainerr.NewRPCTimeout(method, err)
		}
		if ctx.Err() != nil {
			return chainerr.NewRPCTimeout(method, ctx.Err())
		}
		return chainerr.NewConnectionFailed(g.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return chainerr.NewConnectionFailed(g.endpoint,
			fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(raw)))
	}

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return chainerr.NewConnectionFailed(g.endpoint, fmt.Errorf("malformed rpc response: %w", err))
	}
	if rr.Error != nil {
		return g.mapRPCError(method, rr.Error)
	}
	if out != nil {
		if err := json.Unmarshal(rr.Result, out); err != nil {
			return chainerr.NewConnectionFailed(g.endpoint, fmt.Errorf("malformed rpc result: %w", err))
		}
	}
	return nil
}

// mapRPCError translates an application-level RPC error into the taxonomy.
// Unrecognized codes fall back by method: fee and submit failures keep their
// transaction category, everything else reads as a node fault.
func (g *Gateway) mapRPCError(method string, re *rpcError) error {
	var data struct {
		Address string `json:"address"`
		DID     string `json:"did"`
	}
	if len(re.Data) > 0 {
		_ = json.Unmarshal(re.Data, &data)
	}

	switch re.Code {
	case rpcCodeDIDNotFound:
		return chainerr.NewDIDNotFound(data.DID)
	case rpcCodeDIDAlreadyExists:
		return chainerr.NewDIDAlreadyExists(data.DID)
	case rpcCodeInvalidNonce:
		return chainerr.NewInvalidNonce(data.Address, re)
	case rpcCodeInsufficientBalance:
		return chainerr.NewInsufficientBalance(data.Address)
	case rpcCodeUnknownAccount:
		return chainerr.NewUnknownAccount(data.Address)
	case rpcCodeInvalidTransaction:
		return chainerr.NewSubmissionFailed(re.Message, re)
	}

	switch method {
	case methodFeeEstimate:
		return chainerr.NewFeeEstimationFailed(re)
	case methodSubmit:
		return chainerr.NewSubmissionFailed(re.Message, re)
	default:
		return chainerr.NewConnectionFailed(g.endpoint, re)
	}
}

// Connect probes the gateway and caches the reported chain info.
func (g *Gateway) Connect(ctx context.Context) (*ChainInfo, error) {
	var info ChainInfo
	if err := g.call(ctx, methodChainInfo, nil, &info); err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.info = &info
	g.mu.Unlock()
	logger.Infof("connected to %s (%s, height %d)", info.Name, info.Network, info.BlockHeight)
	return &info, nil
}

// Disconnect drops the cached chain info. Unary calls hold no connection.
func (g *Gateway) Disconnect() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.info = nil
	return nil
}

// Query reads a storage entry. Absent entries return nil, nil.
func (g *Gateway) Query(ctx context.Context, pallet, item string, key []byte) ([]byte, error) {
	params := map[string]interface{}{
		"pallet": pallet,
		"item":   item,
		"key":    "0x" + hex.EncodeToString(key),
	}
	var out struct {
		Value *string `json:"value"`
	}
	if err := g.call(ctx, methodStateQuery, params, &out); err != nil {
		return nil, err
	}
	if out.Value == nil {
		return nil, nil
	}
	value, err := hex.DecodeString(strings.TrimPrefix(*out.Value, "0x"))
	if err != nil {
		return nil, chainerr.NewConnectionFailed(g.endpoint, fmt.Errorf("malformed storage value: %w", err))
	}
	return value, nil
}

// EstimateFee asks the node to price the call for the given signer.
func (g *Gateway) EstimateFee(ctx context.Context, call Call, signerAddress string) (Fee, error) {
	if !g.ValidateAddress(signerAddress) {
		return Fee{}, chainerr.NewAddressValidation(signerAddress, nil)
	}
	params := map[string]interface{}{
		"call":   call,
		"signer": signerAddress,
	}
	var fee Fee
	if err := g.call(ctx, methodFeeEstimate, params, &fee); err != nil {
		return Fee{}, err
	}
	return fee, nil
}

// Submit broadcasts a signed extrinsic and returns the node-assigned hash.
func (g *Gateway) Submit(ctx context.Context, ext *Extrinsic) (string, error) {
	if len(ext.Signature) == 0 {
		return "", chainerr.NewSubmissionFailed("missing signature", nil)
	}
	if !g.ValidateAddress(ext.Signer) {
		return "", chainerr.NewAddressValidation(ext.Signer, nil)
	}
	params := map[string]interface{}{"extrinsic": ext}
	var out struct {
		Hash string `json:"hash"`
	}
	if err := g.call(ctx, methodSubmit, params, &out); err != nil {
		return "", err
	}
	logger.Debugf("submitted extrinsic %s", out.Hash)
	return out.Hash, nil
}

// Nonce returns the next expected nonce for the address.
func (g *Gateway) Nonce(ctx context.Context, address string) (uint64, error) {
	if !g.ValidateAddress(address) {
		return 0, chainerr.NewAddressValidation(address, nil)
	}
	params := map[string]interface{}{"address": address}
	var out struct {
		Nonce uint64 `json:"nonce"`
	}
	if err := g.call(ctx, methodNonce, params, &out); err != nil {
		return 0, err
	}
	return out.Nonce, nil
}

// ValidateAddress checks the address against the gateway's chain spec.
func (g *Gateway) ValidateAddress(address string) bool {
	return g.spec.ValidateAddress(address)
}

// SubscribeStatus opens a WebSocket stream of status updates for the hash.
// fn runs on the read goroutine, in arrival order; the stream ends after a
// terminal update, on unsubscribe, or when ctx is cancelled.
func (g *Gateway) SubscribeStatus(ctx context.Context, hash string, fn func(StatusUpdate)) (func(), error) {
	wsURL := buildStatusURL(g.parsedURL, hash)
	logger.Debugf("websocket connecting %s", wsURL)

	header := http.Header{}
	header.Set("User-Agent", g.userAgent)

	conn, _, err := g.wsDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, chainerr.NewSubscriptionFailed(hash, err)
	}

	// Close the connection when ctx is cancelled. ReadMessage doesn't accept
	// a context, so this goroutine interrupts it.
	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			conn.Close()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()

	go func() {
		defer stop()
		for {
			conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				var closeErr *websocket.CloseError
				if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
					return
				}
				select {
				case <-done:
					// unsubscribed or cancelled; the read error is expected
				default:
					logger.Warnf("status stream for %s broke: %v", hash, err)
				}
				return
			}

			var upd StatusUpdate
			if err := json.Unmarshal(msg, &upd); err != nil {
				logger.Warnf("malformed status update for %s: %v", hash, err)
				return
			}
			fn(upd)
			if upd.Kind.Terminal() {
				return
			}
		}
	}()

	return stop, nil
}

// buildStatusURL converts the gateway HTTP URL into a WebSocket status
// stream URL, e.g. "https://host" -> "wss://host/status/stream?hash=0x…".
func buildStatusURL(u *url.URL, hash string) string {
	wsu := *u
	switch wsu.Scheme {
	case "https":
		wsu.Scheme = "wss"
	case "http":
		wsu.Scheme = "ws"
	}
	wsu.Path = statusStreamPath
	q := wsu.Query()
	q.Set("hash", hash)
	wsu.RawQuery = q.Encode()
	return wsu.String()
}
