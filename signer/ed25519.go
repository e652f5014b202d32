package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/identikit/go-identity-sdk/chain"
)

// substrate wallets wrap raw message bytes before signing so signed
// messages are distinguishable from transaction payloads.
var (
	messageWrapOpen  = []byte("<Bytes>")
	messageWrapClose = []byte("</Bytes>")
)

// Ed25519Keyring is a local ed25519 signer with an SS58 account address.
type Ed25519Keyring struct {
	priv    ed25519.PrivateKey
	address string
	spec    chain.Spec
}

// NewEd25519Keyring builds a keyring from a 32-byte seed.
func NewEd25519Keyring(seed []byte, spec chain.Spec) (*Ed25519Keyring, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}

	priv := ed25519.NewKeyFromSeed(seed)
	address, err := chain.EncodeSS58(priv.Public().(ed25519.PublicKey), spec.SS58Prefix)
	if err != nil {
		return nil, err
	}

	return &Ed25519Keyring{priv: priv, address: address, spec: spec}, nil
}

// GenerateEd25519 builds a keyring with a fresh random key.
func GenerateEd25519(spec chain.Spec) (*Ed25519Keyring, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 seed: %w", err)
	}
	return NewEd25519Keyring(seed, spec)
}

// Address returns the SS58 account address.
func (k *Ed25519Keyring) Address() string {
	return k.address
}

// PublicKey returns the raw 32-byte public key.
func (k *Ed25519Keyring) PublicKey() []byte {
	return []byte(k.priv.Public().(ed25519.PublicKey))
}

// Scheme returns ed25519.
func (k *Ed25519Keyring) Scheme() chain.KeyScheme {
	return chain.SchemeEd25519
}

// SignPayload signs a transaction payload.
func (k *Ed25519Keyring) SignPayload(payload []byte) ([]byte, error) {
	return ed25519.Sign(k.priv, payload), nil
}

// SignMessage signs a message wrapped in the substrate wallet convention.
func (k *Ed25519Keyring) SignMessage(message []byte) ([]byte, error) {
	return ed25519.Sign(k.priv, WrapMessage(message)), nil
}

// WrapMessage applies the substrate wallet message framing.
func WrapMessage(message []byte) []byte {
	wrapped := make([]byte, 0, len(messageWrapOpen)+len(message)+len(messageWrapClose))
	wrapped = append(wrapped, messageWrapOpen...)
	wrapped = append(wrapped, message...)
	wrapped = append(wrapped, messageWrapClose...)
	return wrapped
}
