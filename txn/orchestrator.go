// Package txn drives extrinsics from preparation to a terminal status. The
// orchestrator signs and broadcasts calls, tracks every in-flight
// transaction through the prepared, submitted, inBlock and finalized stages,
// and turns failed, dropped and invalid outcomes into taxonomy errors. It
// never retries implicitly; network failures surface as retryable errors and
// callers opt in with chainerr.Retry.
package txn

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/identikit/go-identity-sdk/chain"
	"github.com/identikit/go-identity-sdk/chainclient"
	"github.com/identikit/go-identity-sdk/chainerr"
	"github.com/identikit/go-identity-sdk/internal/log"
	"github.com/identikit/go-identity-sdk/signer"
)

var logger = log.New("txn")

const (
	// DefaultConfirmationTimeout covers ten substrate block times, enough
	// for inclusion plus GRANDPA finalization under normal load.
	DefaultConfirmationTimeout = 60 * time.Second

	// Size-dependent calls inflate the estimated fee by a fixed 20% to
	// absorb estimation drift between estimate time and execution time.
	feeBufferNumerator   = 120
	feeBufferDenominator = 100

	// statusBuffer decouples the subscription callback from the wait loop.
	statusBuffer = 16
)

// Handle identifies one broadcast extrinsic. It is cheap to copy and safe to
// hold across process boundaries; only the orchestrator that issued it can
// resolve it back to a record.
type Handle struct {
	ID            string    `json:"id"`
	ExtrinsicHash string    `json:"extrinsicHash"`
	Signer        string    `json:"signer"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

// Record is the lifecycle record of a tracked transaction. Block fields are
// set once the extrinsic lands in a block; Fee is set when the chain reports
// the charged amount. A failure reason never lives here, it travels in the
// error returned by WaitForConfirmation.
type Record struct {
	ExtrinsicHash string              `json:"extrinsicHash"`
	Status        Status              `json:"status"`
	BlockNumber   uint64              `json:"blockNumber,omitempty"`
	BlockHash     string              `json:"blockHash,omitempty"`
	Events        []chainclient.Event `json:"events"`
	Fee           *chainclient.Fee    `json:"fee,omitempty"`
	SubmittedAt   time.Time           `json:"submittedAt"`
}

// clone copies the record deeply enough that callers cannot reach the
// tracked events or fee through the copy.
func (r *Record) clone() *Record {
	cp := *r
	if r.Events != nil {
		cp.Events = append([]chainclient.Event(nil), r.Events...)
	}
	if r.Fee != nil {
		fee := *r.Fee
		cp.Fee = &fee
	}
	return &cp
}

// Orchestrator submits extrinsics and tracks them to a terminal status.
// Safe for concurrent use.
type Orchestrator struct {
	client        chainclient.Client
	spec          chain.Spec
	timeout       time.Duration
	sizeDependent map[string]bool
	flight        *inflight
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfirmationTimeout sets the default WaitForConfirmation deadline.
func WithConfirmationTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.timeout = d
	}
}

// WithChainSpec sets the chain whose token denominates reported fees.
func WithChainSpec(spec chain.Spec) Option {
	return func(o *Orchestrator) {
		o.spec = spec
	}
}

// WithSizeDependentCalls replaces the set of call methods whose fee
// estimates get the 20% buffer. The default set is the DID pallet calls
// that carry a document payload.
func WithSizeDependentCalls(methods ...string) Option {
	return func(o *Orchestrator) {
		o.sizeDependent = make(map[string]bool, len(methods))
		for _, m := range methods {
			o.sizeDependent[m] = true
		}
	}
}

// NewOrchestrator wraps a connected chain client.
func NewOrchestrator(client chainclient.Client, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:  client,
		spec:    chain.Substrate(),
		timeout: DefaultConfirmationTimeout,
		sizeDependent: map[string]bool{
			chainclient.CallRegisterDID:           true,
			chainclient.CallUpdateDID:             true,
			chainclient.CallAddVerificationMethod: true,
			chainclient.CallAddService:            true,
		},
		flight: newInflight(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// EstimateFee queries the inclusion fee for an unsigned call. The result is
// advisory: the charged fee may drift between estimation and execution, so
// size-dependent calls are padded with the fixed buffer before returning.
func (o *Orchestrator) EstimateFee(ctx context.Context, call chainclient.Call, signerAddress string) (chainclient.Fee, error) {
	fee, err := o.client.EstimateFee(ctx, call, signerAddress)
	if err != nil {
		return chainclient.Fee{}, err
	}
	if o.sizeDependent[call.Method] {
		fee.Amount = fee.Amount * feeBufferNumerator / feeBufferDenominator
	}
	return fee, nil
}

// Submit signs the call with the account's next nonce and broadcasts it,
// returning as soon as the chain accepts the extrinsic into its pool.
// Confirmation is a separate concern; pass the handle to
// WaitForConfirmation. A broadcast failure leaves nothing in flight.
func (o *Orchestrator) Submit(ctx context.Context, call chainclient.Call, s signer.Signer) (*Handle, error) {
	address := s.Address()
	nonce, err := o.client.Nonce(ctx, address)
	if err != nil {
		return nil, err
	}

	ext := &chainclient.Extrinsic{Call: call, Signer: address, Nonce: nonce}
	payload, err := ext.SigningPayload()
	if err != nil {
		return nil, chainerr.NewEncodingFailed("signing payload", err)
	}
	sig, err := s.SignPayload(payload)
	if err != nil {
		return nil, chainerr.NewSignatureRejected(address, err)
	}
	ext.Signature = sig

	id := uuid.NewString()
	now := time.Now().UTC()
	o.flight.put(id, &Record{Status: StatusPrepared, SubmittedAt: now})

	hash, err := o.client.Submit(ctx, ext)
	if err != nil {
		o.flight.remove(id)
		TerminalCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(StatusFailed))))
		logger.Warn("broadcast failed",
			log.WithPallet(call.Pallet), log.WithCall(call.Method), log.WithError(err))
		return nil, err
	}

	o.flight.update(id, func(rec *Record) bool {
		rec.ExtrinsicHash = hash
		rec.Status = StatusSubmitted
		return true
	})
	SubmittedCounter.Add(ctx, 1)
	InflightGauge.Record(ctx, int64(o.flight.size()))
	logger.Debug("extrinsic submitted",
		log.WithTxHash(hash), log.WithPallet(call.Pallet), log.WithCall(call.Method), log.WithNonce(nonce))

	return &Handle{ID: id, ExtrinsicHash: hash, Signer: address, SubmittedAt: now}, nil
}

// waitConfig carries per-call WaitForConfirmation overrides.
type waitConfig struct {
	timeout  time.Duration
	onStatus func(Status, *Record)
}

// WaitOption adjusts a single WaitForConfirmation call.
type WaitOption func(*waitConfig)

// WithTimeout overrides the orchestrator's confirmation timeout.
func WithTimeout(d time.Duration) WaitOption {
	return func(c *waitConfig) {
		c.timeout = d
	}
}

// WithStatusCallback registers a callback invoked once per applied
// transition with the new status and a snapshot of the record. The callback
// runs on the waiting goroutine and must not block.
func WithStatusCallback(fn func(Status, *Record)) WaitOption {
	return func(c *waitConfig) {
		c.onStatus = fn
	}
}

// WaitForConfirmation blocks until the transaction reaches a terminal status
// or the timeout elapses. It resolves only on Finalized; failed, dropped and
// invalid outcomes come back as taxonomy errors and a cancelled context
// comes back as the context's error. On timeout the transaction stays
// outstanding on chain and in the pending set, so a later call with the
// same handle picks the watch back up. Never returns a non-terminal record.
func (o *Orchestrator) WaitForConfirmation(ctx context.Context, h *Handle, opts ...WaitOption) (*Record, error) {
	cfg := waitConfig{timeout: o.timeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	if _, ok := o.flight.get(h.ID); !ok {
		return nil, chainerr.NewSubscriptionFailed(h.ExtrinsicHash, errors.New("unknown transaction handle"))
	}

	updates := make(chan chainclient.StatusUpdate, statusBuffer)
	unsub, err := o.client.SubscribeStatus(ctx, h.ExtrinsicHash, func(upd chainclient.StatusUpdate) {
		select {
		case updates <- upd:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	defer unsub()

	timer := time.NewTimer(cfg.timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			TimeoutCounter.Add(ctx, 1)
			logger.Warn("confirmation timed out",
				log.WithTxHash(h.ExtrinsicHash), log.WithDuration(cfg.timeout))
			return nil, chainerr.NewConfirmationTimeout(h.ExtrinsicHash, cfg.timeout)
		case upd := <-updates:
			rec, done, err := o.apply(ctx, h, upd, cfg.onStatus)
			if done {
				return rec, err
			}
		}
	}
}

// SubmitAndWait is Submit followed by WaitForConfirmation on the returned
// handle.
func (o *Orchestrator) SubmitAndWait(ctx context.Context, call chainclient.Call, s signer.Signer, opts ...WaitOption) (*Record, error) {
	h, err := o.Submit(ctx, call, s)
	if err != nil {
		return nil, err
	}
	return o.WaitForConfirmation(ctx, h, opts...)
}

// Pending returns the transactions not yet terminal, in submission order.
func (o *Orchestrator) Pending() []Record {
	return o.flight.snapshot()
}

// apply folds one status notification into the tracked record. Replayed and
// out-of-order notifications fall out naturally because their transitions
// are illegal. done is true once the record reached a terminal status, at
// which point it has left the pending set.
func (o *Orchestrator) apply(ctx context.Context, h *Handle, upd chainclient.StatusUpdate, onStatus func(Status, *Record)) (*Record, bool, error) {
	st, ok := statusFromKind(upd.Kind)
	if !ok {
		return nil, false, nil
	}

	var snapshot *Record
	applied := o.flight.update(h.ID, func(rec *Record) bool {
		if !CanTransition(rec.Status, st) {
			return false
		}
		rec.Status = st
		if upd.BlockHash != "" {
			rec.BlockHash = upd.BlockHash
			rec.BlockNumber = upd.BlockNumber
		}
		if len(upd.Events) > 0 {
			rec.Events = append([]chainclient.Event(nil), upd.Events...)
		}
		if amount, ok := feeFromEvents(upd.Events); ok {
			rec.Fee = &chainclient.Fee{Amount: amount, Currency: o.spec.TokenSymbol}
		}
		snapshot = rec.clone()
		return true
	})
	if !applied {
		return nil, false, nil
	}

	if onStatus != nil {
		onStatus(st, snapshot)
	}
	if !st.Terminal() {
		return nil, false, nil
	}

	o.flight.remove(h.ID)
	InflightGauge.Record(ctx, int64(o.flight.size()))
	TerminalCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(st))))
	ConfirmationSeconds.Record(ctx, time.Since(snapshot.SubmittedAt).Seconds())
	logger.Debug("transaction terminal",
		log.WithTxHash(h.ExtrinsicHash), log.WithTxStatus(string(st)))

	switch st {
	case StatusFinalized:
		return snapshot, true, nil
	case StatusDropped:
		return nil, true, chainerr.NewTransactionDropped(h.ExtrinsicHash)
	case StatusInvalid:
		return nil, true, chainerr.NewTransactionInvalid(h.ExtrinsicHash, failureReason(upd))
	default:
		return nil, true, chainerr.NewTransactionFailed(h.ExtrinsicHash, failureReason(upd))
	}
}

// failureReason extracts the dispatch error from the update, falling back
// to the ExtrinsicFailed event payload.
func failureReason(upd chainclient.StatusUpdate) string {
	if upd.Error != "" {
		return upd.Error
	}
	for _, ev := range upd.Events {
		if ev.Pallet == "system" && ev.Method == "ExtrinsicFailed" {
			if reason, ok := ev.Data["error"].(string); ok {
				return reason
			}
		}
	}
	return "transaction failed"
}

// feeFromEvents pulls the charged amount out of the transaction payment
// event. The numeric type varies with the path the event travelled: in
// process it stays an integer, across the gateway JSON widens it to float64.
func feeFromEvents(events []chainclient.Event) (uint64, bool) {
	for _, ev := range events {
		if ev.Pallet != "transactionPayment" || ev.Method != "TransactionFeePaid" {
			continue
		}
		switch v := ev.Data["actualFee"].(type) {
		case uint64:
			return v, true
		case int64:
			return uint64(v), true
		case int:
			return uint64(v), true
		case float64:
			return uint64(v), true
		}
	}
	return 0, false
}
