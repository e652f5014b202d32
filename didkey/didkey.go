// Package didkey implements the did:key method over chain account keys.
// A did:key identifier embeds the raw public key behind a multicodec tag,
// multibase-encoded, so derivation and resolution are pure local
// computation with no registry involved.
package didkey

import (
	"fmt"
	"strings"

	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-varint"

	"github.com/identikit/go-identity-sdk/chain"
	"github.com/identikit/go-identity-sdk/chainerr"
	"github.com/identikit/go-identity-sdk/did"
)

// Prefix is the method prefix of every did:key identifier.
const Prefix = "did:key:"

// Multicodec tags for raw public keys.
const (
	codecSr25519   uint64 = 0xef
	codecEd25519   uint64 = 0xed
	codecSecp256k1 uint64 = 0xe7
)

// fragmentLen is the length of the short key fingerprint used as the
// verification method fragment.
const fragmentLen = 8

func codecFor(scheme chain.KeyScheme) (uint64, bool) {
	switch scheme {
	case chain.SchemeSr25519:
		return codecSr25519, true
	case chain.SchemeEd25519:
		return codecEd25519, true
	case chain.SchemeSecp256k1:
		return codecSecp256k1, true
	}
	return 0, false
}

func schemeFor(code uint64) (chain.KeyScheme, bool) {
	switch code {
	case codecSr25519:
		return chain.SchemeSr25519, true
	case codecEd25519:
		return chain.SchemeEd25519, true
	case codecSecp256k1:
		return chain.SchemeSecp256k1, true
	}
	return "", false
}

// Encode returns the did:key identifier embedding the given public key.
func Encode(scheme chain.KeyScheme, publicKey []byte) (string, error) {
	code, ok := codecFor(scheme)
	if !ok {
		return "", chainerr.NewEncodingFailed("did:key", fmt.Errorf("unsupported key scheme %q", scheme))
	}
	if len(publicKey) != scheme.KeySize() {
		return "", chainerr.NewEncodingFailed("did:key",
			fmt.Errorf("%s public key must be %d bytes, got %d", scheme, scheme.KeySize(), len(publicKey)))
	}

	prefixed := append(varint.ToUvarint(code), publicKey...)
	encoded, err := multibase.Encode(multibase.Base58BTC, prefixed)
	if err != nil {
		return "", chainerr.NewEncodingFailed("did:key", err)
	}
	return Prefix + encoded, nil
}

// Decode parses a did:key identifier into its key scheme and raw public
// key. A fragment suffix is ignored.
func Decode(didStr string) (chain.KeyScheme, []byte, error) {
	s, _, _ := strings.Cut(didStr, "#")

	if !strings.HasPrefix(s, Prefix) {
		return "", nil, chainerr.NewInvalidDIDFormat(didStr)
	}
	encoded := strings.TrimPrefix(s, Prefix)
	if !strings.HasPrefix(encoded, "z") {
		return "", nil, chainerr.NewInvalidDIDFormat(didStr)
	}

	enc, data, err := multibase.Decode(encoded)
	if err != nil || enc != multibase.Base58BTC {
		return "", nil, chainerr.NewInvalidDIDFormat(didStr)
	}

	code, n, err := varint.FromUvarint(data)
	if err != nil {
		return "", nil, chainerr.NewInvalidPublicKey(didStr, err)
	}
	scheme, ok := schemeFor(code)
	if !ok {
		return "", nil, chainerr.NewInvalidPublicKey(didStr, fmt.Errorf("unsupported multicodec 0x%x", code))
	}

	key := data[n:]
	if len(key) != scheme.KeySize() {
		return "", nil, chainerr.NewInvalidPublicKey(didStr,
			fmt.Errorf("%s public key must be %d bytes, got %d", scheme, scheme.KeySize(), len(key)))
	}
	return scheme, key, nil
}

// Resolve synthesizes the DID document for a did:key identifier. No
// network or registry access is involved; the document is derived entirely
// from the embedded key.
func Resolve(didStr string) (*did.Document, error) {
	scheme, _, err := Decode(didStr)
	if err != nil {
		return nil, err
	}

	bare, _, _ := strings.Cut(didStr, "#")
	return buildDocument(bare, scheme)
}

func buildDocument(didStr string, scheme chain.KeyScheme) (*did.Document, error) {
	encoded := strings.TrimPrefix(didStr, Prefix)

	doc := did.NewDocument(didStr)
	err := doc.AddVerificationMethod(did.VerificationMethod{
		ID:                 didStr + "#" + encoded[:fragmentLen],
		Type:               scheme.VerificationMethodType(),
		Controller:         didStr,
		PublicKeyMultibase: encoded,
	},
		// Signing-only method: every relationship except keyAgreement.
		did.RelAuthentication, did.RelAssertionMethod,
		did.RelCapabilityInvocation, did.RelCapabilityDelegation,
	)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Method binds the did:key codec to a chain's native account encoding, so
// identifiers can be derived from and converted back to chain addresses.
type Method struct {
	spec chain.Spec
}

// New returns a did:key method bound to the given chain.
func New(spec chain.Spec) *Method {
	return &Method{spec: spec}
}

// Derive returns the did:key identifier of a native chain address.
// Deriving the same address twice yields the same DID.
func (m *Method) Derive(address string) (string, error) {
	pub, err := m.spec.DecodeAddress(address)
	if err != nil {
		return "", chainerr.NewAddressValidation(address, err)
	}
	return Encode(m.spec.Scheme, pub)
}

// DeriveFromPublicKey returns the did:key identifier of a raw public key.
// This is the entry point for chains whose addresses are one-way digests.
func (m *Method) DeriveFromPublicKey(publicKey []byte) (string, error) {
	return Encode(m.spec.Scheme, publicKey)
}

// CreateDocument derives the DID for an address and synthesizes its
// document: one verification method carrying the key, referenced from all
// signing relationships.
func (m *Method) CreateDocument(address string) (*did.Document, error) {
	didStr, err := m.Derive(address)
	if err != nil {
		return nil, err
	}
	return buildDocument(didStr, m.spec.Scheme)
}

// Resolve synthesizes the document for a did:key identifier.
func (m *Method) Resolve(didStr string) (*did.Document, error) {
	return Resolve(didStr)
}

// ExtractAddress recovers the chain-native address from a did:key
// identifier. The embedded key must match the chain's key scheme.
func (m *Method) ExtractAddress(didStr string) (string, error) {
	scheme, pub, err := Decode(didStr)
	if err != nil {
		return "", err
	}
	if scheme != m.spec.Scheme {
		return "", chainerr.NewInvalidPublicKey(didStr,
			fmt.Errorf("key scheme %s does not match chain %s (%s)", scheme, m.spec.Name, m.spec.Scheme))
	}
	return m.spec.EncodeAddress(pub)
}
