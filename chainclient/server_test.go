package chainclient

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/identikit/go-identity-sdk/chainerr"
)

// newNodePair serves a Sim through a Node and returns a Gateway client
// pointed at it.
func newNodePair(t *testing.T, opts ...SimOption) (*Gateway, *Sim) {
	t.Helper()
	sim := NewSim(opts...)
	ts := httptest.NewServer(NewNode(sim, "").Handler())
	t.Cleanup(ts.Close)

	g, err := NewGateway(ts.URL)
	require.NoError(t, err)
	return g, sim
}

func TestNodeHealth(t *testing.T) {
	sim := NewSim()
	ts := httptest.NewServer(NewNode(sim, "").Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/_health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body, "version")
}

func TestNodeRoundTrip(t *testing.T) {
	g, _ := newNodePair(t)
	ctx := context.Background()

	info, err := g.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sim", info.Network)

	value, err := g.Query(ctx, PalletDID, StorageDIDs, []byte(aliceDID))
	require.NoError(t, err)
	assert.Nil(t, value, "absent storage stays nil across the wire")

	nonce, err := g.Nonce(ctx, aliceAddress)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), nonce)

	fee, err := g.EstimateFee(ctx, registerExtrinsic(0).Call, aliceAddress)
	require.NoError(t, err)
	assert.Equal(t, "UNIT", fee.Currency)
	assert.NotZero(t, fee.Amount)

	hash, err := g.Submit(ctx, registerExtrinsic(0))
	require.NoError(t, err)

	rec := &statusRecorder{}
	unsub, err := g.SubscribeStatus(ctx, hash, rec.record)
	require.NoError(t, err)
	defer unsub()

	require.Eventually(t, rec.terminal, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []StatusKind{StatusBroadcast, StatusInBlock, StatusFinalized}, rec.kinds())

	value, err = g.Query(ctx, PalletDID, StorageDIDs, []byte(aliceDID))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"`+aliceDID+`"}`, string(value))
}

func TestNodeErrorMapping(t *testing.T) {
	g, _ := newNodePair(t)
	ctx := context.Background()
	_, err := g.Connect(ctx)
	require.NoError(t, err)

	// A stale nonce travels node -> wire -> gateway and comes back as the
	// same taxonomy code.
	_, err = g.Submit(ctx, registerExtrinsic(9))
	require.Error(t, err)
	assert.Equal(t, chainerr.CodeInvalidNonce, chainerr.CodeOf(err))

	_, err = g.Nonce(ctx, aliceAddress)
	require.NoError(t, err)
}

func TestNodeMethodNotFound(t *testing.T) {
	sim := NewSim()
	ts := httptest.NewServer(NewNode(sim, "").Handler())
	defer ts.Close()

	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"no_such_method"}`)
	resp, err := http.Post(ts.URL, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var rr rpcResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rr))
	require.NotNil(t, rr.Error)
	assert.Equal(t, -32601, rr.Error.Code)
}

func TestNodeParseError(t *testing.T) {
	sim := NewSim()
	ts := httptest.NewServer(NewNode(sim, "").Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL, "application/json", bytes.NewReader([]byte("{nope")))
	require.NoError(t, err)
	defer resp.Body.Close()

	var rr rpcResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rr))
	require.NotNil(t, rr.Error)
	assert.Equal(t, -32700, rr.Error.Code)
}

func TestHexBytes(t *testing.T) {
	raw, err := json.Marshal(hexBytes{0xde, 0xad})
	require.NoError(t, err)
	assert.Equal(t, `"0xdead"`, string(raw))

	var h hexBytes
	require.NoError(t, json.Unmarshal([]byte(`"0xbeef"`), &h))
	assert.Equal(t, hexBytes{0xbe, 0xef}, h)

	require.Error(t, json.Unmarshal([]byte(`"0xzz"`), &h))
}
