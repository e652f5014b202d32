// Package did defines the DID document model shared by the key-method
// resolver and the on-chain registry: typed documents, verification method
// and service entries, pallet lifecycle metadata, reference-integrity
// validation and content addressing.
package did

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
	cbor "github.com/ipfs/go-ipld-cbor"

	"github.com/identikit/go-identity-sdk/chainerr"
)

// ContextDID is the base JSON-LD context of every DID document.
const ContextDID = "https://www.w3.org/ns/did/v1"

// Status is the registry lifecycle state of a DID document.
type Status string

// Lifecycle states.
const (
	StatusCreating Status = "creating"
	StatusActive   Status = "active"
	StatusUpdating Status = "updating"
	StatusRevoked  Status = "revoked"
	StatusExpired  Status = "expired"
	StatusError    Status = "error"
)

// IsValid reports whether s is a known lifecycle state.
func (s Status) IsValid() bool {
	switch s {
	case StatusCreating, StatusActive, StatusUpdating, StatusRevoked, StatusExpired, StatusError:
		return true
	}
	return false
}

// Relationship names a verification relationship list in a document.
type Relationship string

// Verification relationships.
const (
	RelAuthentication       Relationship = "authentication"
	RelAssertionMethod      Relationship = "assertionMethod"
	RelCapabilityInvocation Relationship = "capabilityInvocation"
	RelCapabilityDelegation Relationship = "capabilityDelegation"
	RelKeyAgreement         Relationship = "keyAgreement"
)

// Document is a W3C DID document. References in the relationship lists
// point at verification method IDs declared in VerificationMethod.
type Document struct {
	Context              []string             `json:"@context"`
	ID                   string               `json:"id"`
	Controller           string               `json:"controller,omitempty"`
	VerificationMethod   []VerificationMethod `json:"verificationMethod,omitempty"`
	Authentication       []string             `json:"authentication,omitempty"`
	AssertionMethod      []string             `json:"assertionMethod,omitempty"`
	CapabilityInvocation []string             `json:"capabilityInvocation,omitempty"`
	CapabilityDelegation []string             `json:"capabilityDelegation,omitempty"`
	KeyAgreement         []string             `json:"keyAgreement,omitempty"`
	Service              []Service            `json:"service,omitempty"`
	Metadata             *Metadata            `json:"didDocumentMetadata,omitempty" refmt:"didDocumentMetadata,omitempty"`
}

// VerificationMethod is a single verification method entry.
type VerificationMethod struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	Controller         string `json:"controller"`
	PublicKeyMultibase string `json:"publicKeyMultibase,omitempty" refmt:"publicKeyMultibase,omitempty"`
	PublicKeyHex       string `json:"publicKeyHex,omitempty" refmt:"publicKeyHex,omitempty"`
}

// Service is a service endpoint entry.
type Service struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

// Metadata is the registry extension of a document: where and when it was
// anchored, and its lifecycle state.
type Metadata struct {
	Network     string `json:"network,omitempty" refmt:"network,omitempty"`
	Created     string `json:"created,omitempty" refmt:"created,omitempty"`
	Updated     string `json:"updated,omitempty" refmt:"updated,omitempty"`
	TxHash      string `json:"txHash,omitempty" refmt:"txHash,omitempty"`
	BlockHash   string `json:"blockHash,omitempty" refmt:"blockHash,omitempty"`
	BlockNumber uint64 `json:"blockNumber,omitempty" refmt:"blockNumber,omitempty"`
	Status      Status `json:"status,omitempty" refmt:"status,omitempty"`
}

func init() {
	cbor.RegisterCborType(Document{})
	cbor.RegisterCborType(VerificationMethod{})
	cbor.RegisterCborType(Service{})
	cbor.RegisterCborType(Metadata{})
}

// NewDocument returns a document for the given DID with the base context
// and no verification material.
func NewDocument(id string) *Document {
	return &Document{
		Context:    []string{ContextDID},
		ID:         id,
		Controller: id,
	}
}

// FindVerificationMethod returns the verification method with the given ID.
func (d *Document) FindVerificationMethod(id string) (*VerificationMethod, bool) {
	for i := range d.VerificationMethod {
		if d.VerificationMethod[i].ID == id {
			return &d.VerificationMethod[i], true
		}
	}
	return nil, false
}

// AddVerificationMethod appends a verification method and references it
// from the given relationship lists. Adding an ID that already exists is an
// error; the document is unchanged on failure.
func (d *Document) AddVerificationMethod(vm VerificationMethod, rels ...Relationship) error {
	if vm.ID == "" {
		return chainerr.NewInvalidDocument("verification method id is empty")
	}
	if _, ok := d.FindVerificationMethod(vm.ID); ok {
		return chainerr.NewInvalidDocument(fmt.Sprintf("duplicate verification method %s", vm.ID))
	}

	d.VerificationMethod = append(d.VerificationMethod, vm)
	for _, rel := range rels {
		if err := d.Refer(rel, vm.ID); err != nil {
			return err
		}
	}
	return nil
}

// Refer adds a reference to an existing verification method to the given
// relationship list. Referring twice is a no-op.
func (d *Document) Refer(rel Relationship, vmID string) error {
	if _, ok := d.FindVerificationMethod(vmID); !ok {
		return chainerr.NewInvalidDocument(fmt.Sprintf("%s references unknown verification method %s", rel, vmID))
	}

	list := d.relationship(rel)
	if list == nil {
		return chainerr.NewInvalidDocument(fmt.Sprintf("unknown verification relationship %s", rel))
	}
	for _, id := range *list {
		if id == vmID {
			return nil
		}
	}
	*list = append(*list, vmID)
	return nil
}

// AddService appends a service entry. Service IDs are unique within a
// document.
func (d *Document) AddService(svc Service) error {
	if svc.ID == "" || svc.Type == "" || svc.ServiceEndpoint == "" {
		return chainerr.NewInvalidDocument("service requires id, type and serviceEndpoint")
	}
	for _, s := range d.Service {
		if s.ID == svc.ID {
			return chainerr.NewInvalidDocument(fmt.Sprintf("duplicate service %s", svc.ID))
		}
	}
	d.Service = append(d.Service, svc)
	return nil
}

func (d *Document) relationship(rel Relationship) *[]string {
	switch rel {
	case RelAuthentication:
		return &d.Authentication
	case RelAssertionMethod:
		return &d.AssertionMethod
	case RelCapabilityInvocation:
		return &d.CapabilityInvocation
	case RelCapabilityDelegation:
		return &d.CapabilityDelegation
	case RelKeyAgreement:
		return &d.KeyAgreement
	}
	return nil
}

// Validate checks the document's internal consistency: a DID-shaped ID, the
// base context, complete verification methods, relationship references that
// resolve, unique well-formed services and a known lifecycle status.
func (d *Document) Validate() error {
	if !strings.HasPrefix(d.ID, "did:") {
		return chainerr.NewInvalidDocument(fmt.Sprintf("id %q is not a DID", d.ID))
	}
	if len(d.Context) == 0 || d.Context[0] != ContextDID {
		return chainerr.NewInvalidDocument(fmt.Sprintf("@context must start with %s", ContextDID))
	}

	seen := map[string]bool{}
	for _, vm := range d.VerificationMethod {
		if vm.ID == "" || vm.Type == "" || vm.Controller == "" {
			return chainerr.NewInvalidDocument(fmt.Sprintf("incomplete verification method %q", vm.ID))
		}
		if vm.PublicKeyMultibase == "" && vm.PublicKeyHex == "" {
			return chainerr.NewInvalidDocument(fmt.Sprintf("verification method %s carries no public key", vm.ID))
		}
		if seen[vm.ID] {
			return chainerr.NewInvalidDocument(fmt.Sprintf("duplicate verification method %s", vm.ID))
		}
		seen[vm.ID] = true
	}

	for _, rel := range []Relationship{
		RelAuthentication, RelAssertionMethod, RelCapabilityInvocation,
		RelCapabilityDelegation, RelKeyAgreement,
	} {
		for _, id := range *d.relationship(rel) {
			if !seen[id] {
				return chainerr.NewInvalidDocument(fmt.Sprintf("%s references unknown verification method %s", rel, id))
			}
		}
	}

	svcSeen := map[string]bool{}
	for _, svc := range d.Service {
		if svc.ID == "" || svc.Type == "" || svc.ServiceEndpoint == "" {
			return chainerr.NewInvalidDocument(fmt.Sprintf("incomplete service %q", svc.ID))
		}
		if svcSeen[svc.ID] {
			return chainerr.NewInvalidDocument(fmt.Sprintf("duplicate service %s", svc.ID))
		}
		svcSeen[svc.ID] = true
	}

	if d.Metadata != nil && d.Metadata.Status != "" && !d.Metadata.Status.IsValid() {
		return chainerr.NewInvalidDocument(fmt.Sprintf("unknown lifecycle status %q", d.Metadata.Status))
	}
	return nil
}

// JSON serializes the document.
func (d *Document) JSON() ([]byte, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal DID document: %w", err)
	}
	return b, nil
}

// ParseDocument deserializes and validates a document, checking its shape
// against the document schema first.
func ParseDocument(b []byte) (*Document, error) {
	if err := validateShape(b); err != nil {
		return nil, err
	}

	var d Document
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, chainerr.NewInvalidDocument(err.Error())
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// CID returns the content ID of the document: a CIDv1 over the dag-cbor
// serialization with a sha2-256 multihash. Two documents with equal content
// have equal CIDs regardless of how they were produced.
func (d *Document) CID() (cid.Cid, error) {
	b, err := cbor.DumpObject(d)
	if err != nil {
		return cid.Undef, fmt.Errorf("failed to serialize DID document: %w", err)
	}

	builder := cid.V1Builder{Codec: 0x71, MhType: 0x12, MhLength: 0}
	c, err := builder.Sum(b)
	if err != nil {
		return cid.Undef, fmt.Errorf("failed to compute document CID: %w", err)
	}
	return c, nil
}

// CIDString returns the string form of the document CID.
func (d *Document) CIDString() (string, error) {
	c, err := d.CID()
	if err != nil {
		return "", err
	}
	return c.String(), nil
}
