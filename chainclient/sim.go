package chainclient

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/identikit/go-identity-sdk/chain"
	"github.com/identikit/go-identity-sdk/chainerr"
)

// Operation names accepted by Sim.SetFault.
const (
	OpConnect     = "connect"
	OpQuery       = "query"
	OpEstimateFee = "estimateFee"
	OpSubmit      = "submit"
	OpSubscribe   = "subscribe"
	OpNonce       = "nonce"
)

const (
	defaultBaseFee    = 1_000_000
	defaultPerByteFee = 1_000

	// subBuffer must exceed the longest status sequence so that deliver
	// never blocks while holding the lock.
	subBuffer = 8
)

var errNotConnected = errors.New("not connected")

// SimOption configures a Sim.
type SimOption func(*Sim)

// WithSimSpec sets the chain spec the sim validates addresses against.
func WithSimSpec(spec chain.Spec) SimOption {
	return func(s *Sim) { s.spec = spec }
}

// WithLatency makes every operation sleep d before answering.
func WithLatency(d time.Duration) SimOption {
	return func(s *Sim) { s.latency = d }
}

// WithBlockDelay sets the pause between status transitions of a submitted
// extrinsic. Zero (the default) advances transactions immediately.
func WithBlockDelay(d time.Duration) SimOption {
	return func(s *Sim) { s.blockDelay = d }
}

// WithSimFees sets the flat and per-byte components of the fee model.
func WithSimFees(base, perByte uint64) SimOption {
	return func(s *Sim) {
		s.baseFee = base
		s.perByteFee = perByte
	}
}

// Sim is an in-memory chain backend with a DID pallet. It is deterministic
// by default: zero latency, immediate block production, fees computed from
// call size. Faults and delays are injected per operation, which makes it
// the test double for everything above the adapter.
type Sim struct {
	mu         sync.Mutex
	spec       chain.Spec
	connected  bool
	height     uint64
	latency    time.Duration
	blockDelay time.Duration
	baseFee    uint64
	perByteFee uint64
	nonces     map[string]uint64
	storage    map[string][]byte
	faults     map[string]error
	forced     *forcedOutcome
	txns       map[string]*simTxn
}

type forcedOutcome struct {
	kind   StatusKind
	reason string
}

type simTxn struct {
	updates []StatusUpdate
	subs    map[int]chan StatusUpdate
	nextSub int
}

// NewSim returns a sim for the substrate spec unless overridden.
func NewSim(opts ...SimOption) *Sim {
	s := &Sim{
		spec:       chain.Substrate(),
		baseFee:    defaultBaseFee,
		perByteFee: defaultPerByteFee,
		nonces:     make(map[string]uint64),
		storage:    make(map[string][]byte),
		faults:     make(map[string]error),
		txns:       make(map[string]*simTxn),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetFault makes the named operation fail with err until cleared.
func (s *Sim) SetFault(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = err
}

// ClearFault removes a fault installed by SetFault.
func (s *Sim) ClearFault(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.faults, op)
}

// FailNextSubmission forces the next submitted extrinsic to end in the given
// terminal status instead of being dispatched. Only StatusDropped and
// StatusInvalid make sense here.
func (s *Sim) FailNextSubmission(kind StatusKind, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forced = &forcedOutcome{kind: kind, reason: reason}
}

// SetStorage seeds a storage entry directly, bypassing the pallet.
func (s *Sim) SetStorage(pallet, item string, key, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storage[storageKey(pallet, item, key)] = append([]byte(nil), value...)
}

// Height returns the current block height.
func (s *Sim) Height() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.height
}

func (s *Sim) fault(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.faults[op]
}

func (s *Sim) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect marks the sim connected and reports its chain info.
func (s *Sim) Connect(ctx context.Context) (*ChainInfo, error) {
	if err := s.sleep(ctx, s.latency); err != nil {
		return nil, chainerr.NewConnectionFailed("sim", err)
	}
	if err := s.fault(OpConnect); err != nil {
		return nil, chainerr.NewConnectionFailed("sim", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return &ChainInfo{
		Name:           s.spec.Name,
		Network:        "sim",
		GenesisHash:    simBlockHash(0),
		RuntimeVersion: 1,
		BlockHeight:    s.height,
		TokenSymbol:    s.spec.TokenSymbol,
		TokenDecimals:  s.spec.TokenDecimals,
	}, nil
}

// Disconnect marks the sim disconnected. Pending status streams for already
// submitted extrinsics still run to completion.
func (s *Sim) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

func (s *Sim) requireConnected() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return chainerr.NewConnectionFailed("sim", errNotConnected)
	}
	return nil
}

// Query reads a storage entry. Absent entries return nil, nil.
func (s *Sim) Query(ctx context.Context, pallet, item string, key []byte) ([]byte, error) {
	if err := s.sleep(ctx, s.latency); err != nil {
		return nil, chainerr.NewRPCTimeout("query", err)
	}
	if err := s.fault(OpQuery); err != nil {
		return nil, chainerr.NewConnectionFailed("sim", err)
	}
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.storage[storageKey(pallet, item, key)]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), value...), nil
}

// EstimateFee prices a call as base + perByte * encoded size.
func (s *Sim) EstimateFee(ctx context.Context, call Call, signerAddress string) (Fee, error) {
	if err := s.sleep(ctx, s.latency); err != nil {
		return Fee{}, chainerr.NewRPCTimeout("estimateFee", err)
	}
	if err := s.fault(OpEstimateFee); err != nil {
		return Fee{}, chainerr.NewFeeEstimationFailed(err)
	}
	if err := s.requireConnected(); err != nil {
		return Fee{}, err
	}
	if !s.ValidateAddress(signerAddress) {
		return Fee{}, chainerr.NewAddressValidation(signerAddress, nil)
	}
	size, err := call.Size()
	if err != nil {
		return Fee{}, chainerr.NewFeeEstimationFailed(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return Fee{
		Amount:   s.baseFee + s.perByteFee*uint64(size),
		Currency: s.spec.TokenSymbol,
	}, nil
}

// Nonce returns the next expected nonce for the address.
func (s *Sim) Nonce(ctx context.Context, address string) (uint64, error) {
	if err := s.sleep(ctx, s.latency); err != nil {
		return 0, chainerr.NewRPCTimeout("nonce", err)
	}
	if err := s.fault(OpNonce); err != nil {
		return 0, chainerr.NewConnectionFailed("sim", err)
	}
	if err := s.requireConnected(); err != nil {
		return 0, err
	}
	if !s.ValidateAddress(address) {
		return 0, chainerr.NewAddressValidation(address, nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nonces[address], nil
}

// ValidateAddress checks the address against the sim's chain spec.
func (s *Sim) ValidateAddress(address string) bool {
	return s.spec.ValidateAddress(address)
}

// Submit validates the extrinsic, claims its nonce, and starts the status
// pipeline. It returns the extrinsic hash as soon as the node would accept
// the broadcast; progress arrives through SubscribeStatus.
func (s *Sim) Submit(ctx context.Context, ext *Extrinsic) (string, error) {
	if err := s.sleep(ctx, s.latency); err != nil {
		return "", chainerr.NewRPCTimeout("submit", err)
	}
	if err := s.fault(OpSubmit); err != nil {
		return "", chainerr.NewConnectionFailed("sim", err)
	}
	if err := s.requireConnected(); err != nil {
		return "", err
	}
	if len(ext.Signature) == 0 {
		return "", chainerr.NewSubmissionFailed("missing signature", nil)
	}
	if !s.ValidateAddress(ext.Signer) {
		return "", chainerr.NewAddressValidation(ext.Signer, nil)
	}
	hash, err := ext.Hash()
	if err != nil {
		return "", chainerr.NewSubmissionFailed("unencodable extrinsic", err)
	}

	s.mu.Lock()
	if ext.Nonce != s.nonces[ext.Signer] {
		expected := s.nonces[ext.Signer]
		s.mu.Unlock()
		return "", chainerr.NewInvalidNonce(ext.Signer,
			fmt.Errorf("expected nonce %d, got %d", expected, ext.Nonce))
	}
	if _, dup := s.txns[hash]; dup {
		s.mu.Unlock()
		return "", chainerr.NewSubmissionFailed("duplicate extrinsic", nil)
	}
	s.nonces[ext.Signer]++
	s.txns[hash] = &simTxn{subs: make(map[int]chan StatusUpdate)}
	forced := s.forced
	s.forced = nil
	s.mu.Unlock()

	go s.run(hash, ext, forced)
	return hash, nil
}

// run walks one extrinsic through its status sequence, applying the call to
// storage at block inclusion.
func (s *Sim) run(hash string, ext *Extrinsic, forced *forcedOutcome) {
	ctx := context.Background()
	s.sleep(ctx, s.blockDelay)
	s.deliver(StatusUpdate{Hash: hash, Kind: StatusBroadcast})

	if forced != nil {
		s.sleep(ctx, s.blockDelay)
		s.deliver(StatusUpdate{Hash: hash, Kind: forced.kind, Error: forced.reason})
		return
	}

	s.sleep(ctx, s.blockDelay)
	s.mu.Lock()
	s.height++
	blockNumber := s.height
	events, failure := s.dispatchLocked(ext)
	s.mu.Unlock()
	blockHash := simBlockHash(blockNumber)

	inBlock := StatusUpdate{
		Hash:        hash,
		Kind:        StatusInBlock,
		BlockHash:   blockHash,
		BlockNumber: blockNumber,
		Events:      events,
	}
	s.deliver(inBlock)

	s.sleep(ctx, s.blockDelay)
	if failure != "" {
		s.deliver(StatusUpdate{
			Hash:        hash,
			Kind:        StatusFailed,
			BlockHash:   blockHash,
			BlockNumber: blockNumber,
			Events:      events,
			Error:       failure,
		})
		return
	}
	s.deliver(StatusUpdate{
		Hash:        hash,
		Kind:        StatusFinalized,
		BlockHash:   blockHash,
		BlockNumber: blockNumber,
		Events:      events,
	})
}

// dispatchLocked executes the call against storage. It returns the emitted
// events and, when the pallet rejects the call, the dispatch error name.
func (s *Sim) dispatchLocked(ext *Extrinsic) ([]Event, string) {
	if ext.Call.Pallet != PalletDID {
		return failureEvents(ext.Call.Pallet, DispatchPalletNotFound), DispatchPalletNotFound
	}

	did, _ := ext.Call.Args[ArgDID].(string)
	document, _ := ext.Call.Args[ArgDocument].(string)
	key := storageKey(PalletDID, StorageDIDs, []byte(did))
	_, exists := s.storage[key]

	switch ext.Call.Method {
	case CallRegisterDID:
		if exists {
			return failureEvents(PalletDID, DispatchDIDAlreadyExists), DispatchDIDAlreadyExists
		}
		s.storage[key] = []byte(document)
		return successEvents(Event{
			Pallet: PalletDID,
			Method: "DidRegistered",
			Data:   map[string]interface{}{ArgDID: did},
		}, s.feeEventLocked(ext)), ""
	case CallUpdateDID, CallAddVerificationMethod, CallAddService:
		if !exists {
			return failureEvents(PalletDID, DispatchDIDNotFound), DispatchDIDNotFound
		}
		s.storage[key] = []byte(document)
		return successEvents(Event{
			Pallet: PalletDID,
			Method: "DidUpdated",
			Data:   map[string]interface{}{ArgDID: did},
		}, s.feeEventLocked(ext)), ""
	default:
		return failureEvents(PalletDID, DispatchCallNotFound), DispatchCallNotFound
	}
}

// feeEventLocked reports the charged fee the way the transaction payment
// pallet does on a real chain.
func (s *Sim) feeEventLocked(ext *Extrinsic) Event {
	size, err := ext.Call.Size()
	if err != nil {
		size = 0
	}
	return Event{
		Pallet: "transactionPayment",
		Method: "TransactionFeePaid",
		Data: map[string]interface{}{
			"who":       ext.Signer,
			"actualFee": s.baseFee + s.perByteFee*uint64(size),
		},
	}
}

func successEvents(events ...Event) []Event {
	return append(events, Event{Pallet: "system", Method: "ExtrinsicSuccess"})
}

func failureEvents(module, reason string) []Event {
	return []Event{{
		Pallet: "system",
		Method: "ExtrinsicFailed",
		Data:   map[string]interface{}{"module": module, "error": reason},
	}}
}

// deliver records the update and fans it out. Channel sends never block
// because subBuffer exceeds the longest status sequence; after a terminal
// update the subscriptions are torn down.
func (s *Sim) deliver(upd StatusUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[upd.Hash]
	if !ok {
		return
	}
	t.updates = append(t.updates, upd)
	for _, ch := range t.subs {
		select {
		case ch <- upd:
		default:
		}
	}
	if upd.Kind.Terminal() {
		for id, ch := range t.subs {
			close(ch)
			delete(t.subs, id)
		}
	}
}

// SubscribeStatus streams updates for a submitted extrinsic, replaying any
// that were delivered before the subscription. fn is called from a single
// goroutine per subscription, in order.
func (s *Sim) SubscribeStatus(ctx context.Context, hash string, fn func(StatusUpdate)) (func(), error) {
	if err := s.fault(OpSubscribe); err != nil {
		return nil, chainerr.NewSubscriptionFailed(hash, err)
	}
	if err := s.requireConnected(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	t, ok := s.txns[hash]
	if !ok {
		s.mu.Unlock()
		return nil, chainerr.NewSubscriptionFailed(hash, fmt.Errorf("unknown extrinsic %s", hash))
	}
	ch := make(chan StatusUpdate, subBuffer)
	for _, upd := range t.updates {
		ch <- upd
	}
	var terminal bool
	if n := len(t.updates); n > 0 && t.updates[n-1].Kind.Terminal() {
		terminal = true
		close(ch)
	}
	id := t.nextSub
	if !terminal {
		t.subs[id] = ch
		t.nextSub++
	}
	s.mu.Unlock()

	go func() {
		for {
			select {
			case upd, open := <-ch:
				if !open {
					return
				}
				fn(upd)
			case <-ctx.Done():
				return
			}
		}
	}()

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, live := t.subs[id]; live {
			delete(t.subs, id)
			close(sub)
		}
	}
	return unsubscribe, nil
}

func storageKey(pallet, item string, key []byte) string {
	return pallet + "/" + item + "/" + hex.EncodeToString(key)
}

func simBlockHash(height uint64) string {
	sum := blake2b.Sum256([]byte(fmt.Sprintf("sim-block-%d", height)))
	return "0x" + hex.EncodeToString(sum[:])
}
