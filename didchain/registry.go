// Package didchain drives the pallet-backed DID method: registration,
// storage-backed resolution and document evolution, each expressed as a
// single pallet call submitted through the transaction orchestrator. The
// registry keeps no state of its own; the chain is the source of truth and
// the only local bookkeeping is the orchestrator's in-flight table.
package didchain

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/identikit/go-identity-sdk/chain"
	"github.com/identikit/go-identity-sdk/chainclient"
	"github.com/identikit/go-identity-sdk/chainerr"
	"github.com/identikit/go-identity-sdk/did"
	"github.com/identikit/go-identity-sdk/internal/log"
	"github.com/identikit/go-identity-sdk/signer"
	"github.com/identikit/go-identity-sdk/txn"
)

var logger = log.New("didchain")

// Registry is the on-chain DID method. Safe for concurrent use.
type Registry struct {
	client chainclient.Client
	orch   *txn.Orchestrator
	spec   chain.Spec
}

// Option configures a Registry.
type Option func(*Registry)

// WithSpec sets the chain the registry's DIDs live on.
func WithSpec(spec chain.Spec) Option {
	return func(r *Registry) {
		r.spec = spec
	}
}

// WithOrchestrator shares an existing transaction orchestrator instead of
// the registry constructing its own.
func WithOrchestrator(o *txn.Orchestrator) Option {
	return func(r *Registry) {
		r.orch = o
	}
}

// NewRegistry wraps a connected chain client.
func NewRegistry(client chainclient.Client, opts ...Option) *Registry {
	r := &Registry{client: client, spec: chain.Substrate()}
	for _, opt := range opts {
		opt(r)
	}
	if r.orch == nil {
		r.orch = txn.NewOrchestrator(client, txn.WithChainSpec(r.spec))
	}
	return r
}

// DIDFromAddress returns the on-chain DID whose method-specific ID is the
// given chain-native address.
func (r *Registry) DIDFromAddress(address string) (string, error) {
	if !r.spec.ValidateAddress(address) {
		return "", chainerr.NewAddressValidation(address, nil)
	}
	return r.spec.DIDPrefix() + address, nil
}

// AddressFromDID extracts the chain-native address out of an on-chain DID.
func (r *Registry) AddressFromDID(didStr string) (string, error) {
	address, ok := strings.CutPrefix(didStr, r.spec.DIDPrefix())
	if !ok || !r.spec.ValidateAddress(address) {
		return "", chainerr.NewInvalidDIDFormat(didStr)
	}
	return address, nil
}

func (r *Registry) checkDID(didStr string) error {
	_, err := r.AddressFromDID(didStr)
	return err
}

// RegisterRequest describes a DID to create. An empty DID is derived from
// the signer's address. Controller defaults to the DID itself. When no
// verification method is supplied the signer's own public key becomes the
// document's first authentication method.
type RegisterRequest struct {
	DID                 string                   `json:"did,omitempty"`
	Controller          string                   `json:"controller,omitempty"`
	VerificationMethods []did.VerificationMethod `json:"verificationMethods,omitempty"`
	Services            []did.Service            `json:"services,omitempty"`
	Metadata            *did.Metadata            `json:"metadata,omitempty"`
}

// RegisterResult reports a completed registration.
type RegisterResult struct {
	DID      string        `json:"did"`
	Document *did.Document `json:"didDocument"`
	Record   *txn.Record   `json:"transactionResult"`
	Status   did.Status    `json:"status"`
}

// Register creates the DID on chain in one pallet call carrying the whole
// document, so either the full DID exists afterwards or none of it does.
// The existence pre-check is advisory: a concurrent registration of the
// same DID can still lose at dispatch, which surfaces as the same
// DID_ALREADY_EXISTS code.
func (r *Registry) Register(ctx context.Context, req RegisterRequest, s signer.Signer, opts ...txn.WaitOption) (*RegisterResult, error) {
	didStr := req.DID
	if didStr == "" {
		derived, err := r.DIDFromAddress(s.Address())
		if err != nil {
			return nil, err
		}
		didStr = derived
	} else if err := r.checkDID(didStr); err != nil {
		return nil, err
	}

	exists, err := r.Exists(ctx, didStr)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, chainerr.NewDIDAlreadyExists(didStr)
	}

	doc, err := r.buildDocument(didStr, req, s)
	if err != nil {
		return nil, err
	}

	call, err := buildCall(chainclient.CallRegisterDID, didStr, doc)
	if err != nil {
		return nil, err
	}
	rec, err := r.orch.SubmitAndWait(ctx, call, s, opts...)
	if err != nil {
		return nil, mapDispatch(err, didStr)
	}

	anchor(doc, rec)
	logger.Info("DID registered",
		log.WithDID(didStr), log.WithTxHash(rec.ExtrinsicHash), log.WithBlockHash(rec.BlockHash))
	return &RegisterResult{DID: didStr, Document: doc, Record: rec, Status: did.StatusActive}, nil
}

// Exists reports whether the DID has an on-chain entry. Read-only; never
// submits a transaction.
func (r *Registry) Exists(ctx context.Context, didStr string) (bool, error) {
	if err := r.checkDID(didStr); err != nil {
		return false, err
	}
	raw, err := r.client.Query(ctx, chainclient.PalletDID, chainclient.StorageDIDs, []byte(didStr))
	if err != nil {
		return false, err
	}
	return raw != nil, nil
}

// QueryDocument reconstructs the document from on-chain storage. Absence
// is not an error: the result is nil for an unregistered DID.
func (r *Registry) QueryDocument(ctx context.Context, didStr string) (*did.Document, error) {
	if err := r.checkDID(didStr); err != nil {
		return nil, err
	}
	raw, err := r.client.Query(ctx, chainclient.PalletDID, chainclient.StorageDIDs, []byte(didStr))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	return did.ParseDocument(raw)
}

// Resolve is QueryDocument for callers that need resolution to succeed or
// fail explicitly: absence comes back as DID_NOT_FOUND.
func (r *Registry) Resolve(ctx context.Context, didStr string) (*did.Document, error) {
	doc, err := r.QueryDocument(ctx, didStr)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, chainerr.NewDIDNotFound(didStr)
	}
	return doc, nil
}

// AddVerificationMethod appends one verification method in one pallet
// call. The method's controller defaults to the DID.
func (r *Registry) AddVerificationMethod(ctx context.Context, didStr string, vm did.VerificationMethod, s signer.Signer, opts ...txn.WaitOption) (*txn.Record, error) {
	return r.amend(ctx, chainclient.CallAddVerificationMethod, didStr, s, opts, func(doc *did.Document) error {
		if vm.Controller == "" {
			vm.Controller = didStr
		}
		return doc.AddVerificationMethod(vm)
	})
}

// AddService appends one service endpoint in one pallet call.
func (r *Registry) AddService(ctx context.Context, didStr string, svc did.Service, s signer.Signer, opts ...txn.WaitOption) (*txn.Record, error) {
	return r.amend(ctx, chainclient.CallAddService, didStr, s, opts, func(doc *did.Document) error {
		return doc.AddService(svc)
	})
}

// DocumentPatch is a partial document update. Zero fields leave the
// document untouched; list fields append.
type DocumentPatch struct {
	Controller          string                        `json:"controller,omitempty"`
	VerificationMethods []did.VerificationMethod      `json:"verificationMethods,omitempty"`
	Services            []did.Service                 `json:"services,omitempty"`
	Relationships       map[did.Relationship][]string `json:"relationships,omitempty"`
}

// UpdateDocument applies a partial update in one pallet call. The current
// document is fetched, patched, revalidated and resubmitted whole.
func (r *Registry) UpdateDocument(ctx context.Context, didStr string, patch DocumentPatch, s signer.Signer, opts ...txn.WaitOption) (*txn.Record, error) {
	return r.amend(ctx, chainclient.CallUpdateDID, didStr, s, opts, func(doc *did.Document) error {
		if patch.Controller != "" {
			doc.Controller = patch.Controller
		}
		for _, vm := range patch.VerificationMethods {
			if vm.Controller == "" {
				vm.Controller = didStr
			}
			if err := doc.AddVerificationMethod(vm); err != nil {
				return err
			}
		}
		for _, svc := range patch.Services {
			if err := doc.AddService(svc); err != nil {
				return err
			}
		}
		for rel, ids := range patch.Relationships {
			for _, id := range ids {
				if err := doc.Refer(rel, id); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// CalculateFee estimates the registration fee for the request without
// signing or submitting anything. The estimate carries the size buffer the
// orchestrator applies to document-bearing calls.
func (r *Registry) CalculateFee(ctx context.Context, req RegisterRequest, signerAddress string) (chainclient.Fee, error) {
	didStr := req.DID
	if didStr == "" {
		derived, err := r.DIDFromAddress(signerAddress)
		if err != nil {
			return chainclient.Fee{}, err
		}
		didStr = derived
	} else if err := r.checkDID(didStr); err != nil {
		return chainclient.Fee{}, err
	}

	doc, err := r.buildDocument(didStr, req, nil)
	if err != nil {
		return chainclient.Fee{}, err
	}
	call, err := buildCall(chainclient.CallRegisterDID, didStr, doc)
	if err != nil {
		return chainclient.Fee{}, err
	}
	return r.orch.EstimateFee(ctx, call, signerAddress)
}

// buildDocument assembles and validates the registration document. A nil
// signer skips the synthesized verification method, which fee estimation
// uses because it has only an address.
func (r *Registry) buildDocument(didStr string, req RegisterRequest, s signer.Signer) (*did.Document, error) {
	doc := did.NewDocument(didStr)
	if req.Controller != "" {
		doc.Controller = req.Controller
	}

	methods := req.VerificationMethods
	if len(methods) == 0 && s != nil {
		if vm, ok := signerMethod(didStr, s); ok {
			methods = []did.VerificationMethod{vm}
		}
	}
	for _, vm := range methods {
		if vm.Controller == "" {
			vm.Controller = didStr
		}
		if err := doc.AddVerificationMethod(vm); err != nil {
			return nil, err
		}
	}
	if len(doc.VerificationMethod) > 0 {
		first := doc.VerificationMethod[0].ID
		if err := doc.Refer(did.RelAuthentication, first); err != nil {
			return nil, err
		}
		if err := doc.Refer(did.RelAssertionMethod, first); err != nil {
			return nil, err
		}
	}

	for _, svc := range req.Services {
		if err := doc.AddService(svc); err != nil {
			return nil, err
		}
	}

	md := did.Metadata{}
	if req.Metadata != nil {
		md = *req.Metadata
	}
	md.Network = r.spec.Name
	md.Created = time.Now().UTC().Format(time.RFC3339)
	// The stored state only materializes if dispatch succeeds, so the
	// document goes up already marked active.
	md.Status = did.StatusActive
	doc.Metadata = &md

	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// amend is the shared read-patch-resubmit cycle behind every document
// mutation. The full patched document rides in the call so the pallet
// write stays a single atomic replacement.
func (r *Registry) amend(ctx context.Context, method, didStr string, s signer.Signer, opts []txn.WaitOption, patch func(*did.Document) error) (*txn.Record, error) {
	doc, err := r.QueryDocument(ctx, didStr)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, chainerr.NewDIDNotFound(didStr)
	}

	if err := patch(doc); err != nil {
		return nil, err
	}
	if doc.Metadata == nil {
		doc.Metadata = &did.Metadata{Network: r.spec.Name}
	}
	doc.Metadata.Updated = time.Now().UTC().Format(time.RFC3339)
	if doc.Metadata.Status == "" {
		doc.Metadata.Status = did.StatusActive
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	call, err := buildCall(method, didStr, doc)
	if err != nil {
		return nil, err
	}
	rec, err := r.orch.SubmitAndWait(ctx, call, s, opts...)
	if err != nil {
		return nil, mapDispatch(err, didStr)
	}

	logger.Debug("DID document amended",
		log.WithDID(didStr), log.WithCall(method), log.WithTxHash(rec.ExtrinsicHash))
	return rec, nil
}

// signerMethod synthesizes a verification method from the signer's own key
// so a freshly registered DID can always authenticate.
func signerMethod(didStr string, s signer.Signer) (did.VerificationMethod, bool) {
	pub := s.PublicKey()
	if len(pub) == 0 {
		return did.VerificationMethod{}, false
	}
	return did.VerificationMethod{
		ID:           didStr + "#keys-1",
		Type:         s.Scheme().VerificationMethodType(),
		Controller:   didStr,
		PublicKeyHex: "0x" + hex.EncodeToString(pub),
	}, true
}

func buildCall(method, didStr string, doc *did.Document) (chainclient.Call, error) {
	payload, err := doc.JSON()
	if err != nil {
		return chainclient.Call{}, chainerr.NewEncodingFailed("DID document", err)
	}
	return chainclient.Call{
		Pallet: chainclient.PalletDID,
		Method: method,
		Args: map[string]interface{}{
			chainclient.ArgDID:      didStr,
			chainclient.ArgDocument: string(payload),
		},
	}, nil
}

// anchor stamps the transaction coordinates onto the document metadata.
func anchor(doc *did.Document, rec *txn.Record) {
	if doc.Metadata == nil {
		doc.Metadata = &did.Metadata{}
	}
	doc.Metadata.TxHash = rec.ExtrinsicHash
	doc.Metadata.BlockHash = rec.BlockHash
	doc.Metadata.BlockNumber = rec.BlockNumber
	doc.Metadata.Status = did.StatusActive
}

// mapDispatch tightens generic dispatch failures into the DID-specific
// codes their pallet reasons imply.
func mapDispatch(err error, didStr string) error {
	var e *chainerr.Error
	if !errors.As(err, &e) || e.Code != chainerr.CodeTransactionFailed {
		return err
	}
	switch {
	case strings.Contains(e.Message(), chainclient.DispatchDIDAlreadyExists):
		return chainerr.NewDIDAlreadyExists(didStr)
	case strings.Contains(e.Message(), chainclient.DispatchDIDNotFound):
		return chainerr.NewDIDNotFound(didStr)
	}
	return err
}
