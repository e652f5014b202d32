package chainclient

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/identikit/go-identity-sdk/chainerr"
)

const (
	aliceAddress = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
	aliceDID     = "did:substrate:" + aliceAddress
)

// statusRecorder collects status updates across goroutines.
type statusRecorder struct {
	mu   sync.Mutex
	upds []StatusUpdate
}

func (r *statusRecorder) record(u StatusUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upds = append(r.upds, u)
}

func (r *statusRecorder) kinds() []StatusKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StatusKind, len(r.upds))
	for i, u := range r.upds {
		out[i] = u.Kind
	}
	return out
}

func (r *statusRecorder) last() (StatusUpdate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.upds) == 0 {
		return StatusUpdate{}, false
	}
	return r.upds[len(r.upds)-1], true
}

func (r *statusRecorder) terminal() bool {
	u, ok := r.last()
	return ok && u.Kind.Terminal()
}

func (r *statusRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.upds)
}

func newConnectedSim(t *testing.T, opts ...SimOption) *Sim {
	t.Helper()
	sim := NewSim(opts...)
	_, err := sim.Connect(context.Background())
	require.NoError(t, err)
	return sim
}

func registerExtrinsic(nonce uint64) *Extrinsic {
	return &Extrinsic{
		Call: Call{
			Pallet: PalletDID,
			Method: CallRegisterDID,
			Args: map[string]interface{}{
				ArgDID:      aliceDID,
				ArgDocument: `{"id":"` + aliceDID + `"}`,
			},
		},
		Signer:    aliceAddress,
		Nonce:     nonce,
		Signature: []byte{0x01},
	}
}

func submitAndWait(t *testing.T, sim *Sim, ext *Extrinsic) (string, *statusRecorder) {
	t.Helper()
	ctx := context.Background()
	hash, err := sim.Submit(ctx, ext)
	require.NoError(t, err)

	rec := &statusRecorder{}
	unsub, err := sim.SubscribeStatus(ctx, hash, rec.record)
	require.NoError(t, err)
	t.Cleanup(unsub)

	require.Eventually(t, rec.terminal, time.Second, 2*time.Millisecond)
	return hash, rec
}

func TestSimConnect(t *testing.T) {
	sim := NewSim()
	info, err := sim.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "substrate", info.Name)
	assert.Equal(t, "sim", info.Network)
	assert.Equal(t, "UNIT", info.TokenSymbol)
	assert.Equal(t, uint8(12), info.TokenDecimals)
	assert.True(t, strings.HasPrefix(info.GenesisHash, "0x"))
	assert.Equal(t, uint64(0), info.BlockHeight)
}

func TestSimRequiresConnect(t *testing.T) {
	sim := NewSim()
	_, err := sim.Query(context.Background(), PalletDID, StorageDIDs, []byte(aliceDID))
	require.Error(t, err)
	assert.Equal(t, chainerr.CodeConnectionFailed, chainerr.CodeOf(err))
	assert.True(t, chainerr.IsRetryable(err))

	require.NoError(t, sim.Disconnect())
	_, err = sim.Nonce(context.Background(), aliceAddress)
	require.Error(t, err)
}

func TestSimRegisterLifecycle(t *testing.T) {
	sim := newConnectedSim(t)
	hash, rec := submitAndWait(t, sim, registerExtrinsic(0))

	assert.True(t, strings.HasPrefix(hash, "0x"))
	require.Equal(t, []StatusKind{StatusBroadcast, StatusInBlock, StatusFinalized}, rec.kinds())

	last, ok := rec.last()
	require.True(t, ok)
	assert.Equal(t, hash, last.Hash)
	assert.Equal(t, uint64(1), last.BlockNumber)
	assert.True(t, strings.HasPrefix(last.BlockHash, "0x"))
	assert.Empty(t, last.Error)

	var methods []string
	for _, ev := range last.Events {
		methods = append(methods, ev.Method)
	}
	assert.Contains(t, methods, "DidRegistered")
	assert.Contains(t, methods, "ExtrinsicSuccess")

	value, err := sim.Query(context.Background(), PalletDID, StorageDIDs, []byte(aliceDID))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"`+aliceDID+`"}`, string(value))

	nonce, err := sim.Nonce(context.Background(), aliceAddress)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nonce)
	assert.Equal(t, uint64(1), sim.Height())
}

func TestSimRegisterDuplicate(t *testing.T) {
	sim := newConnectedSim(t)
	submitAndWait(t, sim, registerExtrinsic(0))

	_, rec := submitAndWait(t, sim, registerExtrinsic(1))
	last, ok := rec.last()
	require.True(t, ok)
	assert.Equal(t, StatusFailed, last.Kind)
	assert.Equal(t, DispatchDIDAlreadyExists, last.Error)

	var failed bool
	for _, ev := range last.Events {
		if ev.Method == "ExtrinsicFailed" {
			failed = true
			assert.Equal(t, DispatchDIDAlreadyExists, ev.Data["error"])
		}
	}
	assert.True(t, failed, "a failed dispatch must emit ExtrinsicFailed")
}

func TestSimUpdateMissingDID(t *testing.T) {
	sim := newConnectedSim(t)

	ext := registerExtrinsic(0)
	ext.Call.Method = CallUpdateDID
	_, rec := submitAndWait(t, sim, ext)

	last, _ := rec.last()
	assert.Equal(t, StatusFailed, last.Kind)
	assert.Equal(t, DispatchDIDNotFound, last.Error)
}

func TestSimUpdateRewritesDocument(t *testing.T) {
	sim := newConnectedSim(t)
	submitAndWait(t, sim, registerExtrinsic(0))

	ext := registerExtrinsic(1)
	ext.Call.Method = CallAddService
	ext.Call.Args[ArgDocument] = `{"id":"` + aliceDID + `","service":[]}`
	_, rec := submitAndWait(t, sim, ext)

	last, _ := rec.last()
	require.Equal(t, StatusFinalized, last.Kind)

	value, err := sim.Query(context.Background(), PalletDID, StorageDIDs, []byte(aliceDID))
	require.NoError(t, err)
	assert.Contains(t, string(value), "service")
}

func TestSimUnknownCall(t *testing.T) {
	sim := newConnectedSim(t)

	ext := registerExtrinsic(0)
	ext.Call.Method = "mint"
	_, rec := submitAndWait(t, sim, ext)
	last, _ := rec.last()
	assert.Equal(t, StatusFailed, last.Kind)
	assert.Equal(t, DispatchCallNotFound, last.Error)

	ext = registerExtrinsic(1)
	ext.Call.Pallet = "balances"
	_, rec = submitAndWait(t, sim, ext)
	last, _ = rec.last()
	assert.Equal(t, DispatchPalletNotFound, last.Error)
}

func TestSimNonceEnforcement(t *testing.T) {
	sim := newConnectedSim(t)

	_, err := sim.Submit(context.Background(), registerExtrinsic(5))
	require.Error(t, err)
	assert.Equal(t, chainerr.CodeInvalidNonce, chainerr.CodeOf(err))

	// The rejected submission must not consume the nonce.
	nonce, err := sim.Nonce(context.Background(), aliceAddress)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), nonce)

	_, err = sim.Submit(context.Background(), registerExtrinsic(0))
	require.NoError(t, err)
}

func TestSimSubmitValidation(t *testing.T) {
	sim := newConnectedSim(t)

	ext := registerExtrinsic(0)
	ext.Signature = nil
	_, err := sim.Submit(context.Background(), ext)
	assert.Equal(t, chainerr.CodeSubmissionFailed, chainerr.CodeOf(err))

	ext = registerExtrinsic(0)
	ext.Signer = "not-an-address"
	_, err = sim.Submit(context.Background(), ext)
	assert.Equal(t, chainerr.CodeInvalidAddress, chainerr.CodeOf(err))
}

func TestSimQueryAbsent(t *testing.T) {
	sim := newConnectedSim(t)
	value, err := sim.Query(context.Background(), PalletDID, StorageDIDs, []byte("did:substrate:unknown"))
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestSimSetStorage(t *testing.T) {
	sim := newConnectedSim(t)
	sim.SetStorage(PalletDID, StorageDIDs, []byte(aliceDID), []byte(`{"seeded":true}`))

	value, err := sim.Query(context.Background(), PalletDID, StorageDIDs, []byte(aliceDID))
	require.NoError(t, err)
	assert.JSONEq(t, `{"seeded":true}`, string(value))
}

func TestSimEstimateFee(t *testing.T) {
	sim := newConnectedSim(t, WithSimFees(100, 2))

	call := registerExtrinsic(0).Call
	size, err := call.Size()
	require.NoError(t, err)

	fee, err := sim.EstimateFee(context.Background(), call, aliceAddress)
	require.NoError(t, err)
	assert.Equal(t, uint64(100)+2*uint64(size), fee.Amount)
	assert.Equal(t, "UNIT", fee.Currency)

	_, err = sim.EstimateFee(context.Background(), call, "garbage")
	assert.Equal(t, chainerr.CodeInvalidAddress, chainerr.CodeOf(err))
}

func TestSimFaultInjection(t *testing.T) {
	sim := newConnectedSim(t)
	sim.SetFault(OpSubmit, errors.New("boom"))

	_, err := sim.Submit(context.Background(), registerExtrinsic(0))
	require.Error(t, err)
	assert.Equal(t, chainerr.CodeConnectionFailed, chainerr.CodeOf(err))
	assert.Equal(t, chainerr.CategoryNetwork, chainerr.CategoryOf(err))
	assert.True(t, chainerr.IsRetryable(err))

	sim.ClearFault(OpSubmit)
	_, err = sim.Submit(context.Background(), registerExtrinsic(0))
	require.NoError(t, err)
}

func TestSimForcedOutcome(t *testing.T) {
	sim := newConnectedSim(t)
	sim.FailNextSubmission(StatusDropped, "pool full")

	_, rec := submitAndWait(t, sim, registerExtrinsic(0))
	require.Equal(t, []StatusKind{StatusBroadcast, StatusDropped}, rec.kinds())
	last, _ := rec.last()
	assert.Equal(t, "pool full", last.Error)

	// The forced outcome is consumed by one submission.
	_, rec = submitAndWait(t, sim, registerExtrinsic(1))
	last, _ = rec.last()
	assert.Equal(t, StatusFinalized, last.Kind)
}

func TestSimSubscribeReplaysHistory(t *testing.T) {
	sim := newConnectedSim(t)
	hash, _ := submitAndWait(t, sim, registerExtrinsic(0))

	// A late subscriber still sees the full sequence.
	rec := &statusRecorder{}
	unsub, err := sim.SubscribeStatus(context.Background(), hash, rec.record)
	require.NoError(t, err)
	defer unsub()

	require.Eventually(t, rec.terminal, time.Second, 2*time.Millisecond)
	assert.Equal(t, []StatusKind{StatusBroadcast, StatusInBlock, StatusFinalized}, rec.kinds())
}

func TestSimSubscribeUnknownHash(t *testing.T) {
	sim := newConnectedSim(t)
	_, err := sim.SubscribeStatus(context.Background(), "0xdeadbeef", func(StatusUpdate) {})
	require.Error(t, err)
	assert.Equal(t, chainerr.CodeSubscriptionFailed, chainerr.CodeOf(err))
}

func TestSimUnsubscribeStopsUpdates(t *testing.T) {
	sim := newConnectedSim(t, WithBlockDelay(100*time.Millisecond))

	hash, err := sim.Submit(context.Background(), registerExtrinsic(0))
	require.NoError(t, err)

	rec := &statusRecorder{}
	unsub, err := sim.SubscribeStatus(context.Background(), hash, rec.record)
	require.NoError(t, err)
	unsub()
	unsub() // idempotent

	// Allow pre-unsubscribe deliveries to drain, then require the count to
	// stay flat while the pipeline runs to completion.
	time.Sleep(50 * time.Millisecond)
	before := rec.count()
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, before, rec.count())
	assert.False(t, rec.terminal())
}

func TestSimLatency(t *testing.T) {
	sim := NewSim(WithLatency(20 * time.Millisecond))

	start := time.Now()
	_, err := sim.Connect(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err = sim.Query(ctx, PalletDID, StorageDIDs, []byte(aliceDID))
	require.Error(t, err)
	assert.Equal(t, chainerr.CodeRPCTimeout, chainerr.CodeOf(err))
	assert.True(t, chainerr.IsRetryable(err))
}

func TestSimValidateAddress(t *testing.T) {
	sim := NewSim()
	assert.True(t, sim.ValidateAddress(aliceAddress))
	assert.False(t, sim.ValidateAddress("0x7e5f4552091a69125d5dfcb7b8c2659029395bdf"))
	assert.False(t, sim.ValidateAddress(""))
}
