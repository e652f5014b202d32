package signer

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/identikit/go-identity-sdk/chain"
)

// ethMessagePrefix is the EIP-191 personal-message domain separator.
const ethMessagePrefix = "\x19Ethereum Signed Message:\n"

// Secp256k1Keyring is a local secp256k1 signer with an EVM-style account
// address. Signatures are deterministic (RFC 6979) 65-byte [R || S || V]
// with V in {0, 1}.
type Secp256k1Keyring struct {
	priv    *secp256k1.PrivateKey
	address string
	spec    chain.Spec
}

// NewSecp256k1Keyring builds a keyring from a 32-byte private key.
func NewSecp256k1Keyring(privKey []byte, spec chain.Spec) (*Secp256k1Keyring, error) {
	if len(privKey) != 32 {
		return nil, fmt.Errorf("secp256k1 private key must be 32 bytes, got %d", len(privKey))
	}

	priv := secp256k1.PrivKeyFromBytes(privKey)
	if priv.Key.IsZero() {
		return nil, fmt.Errorf("secp256k1 private key is zero")
	}

	address, err := chain.EVMAddressFromPublicKey(priv.PubKey().SerializeUncompressed())
	if err != nil {
		return nil, err
	}

	return &Secp256k1Keyring{priv: priv, address: address, spec: spec}, nil
}

// GenerateSecp256k1 builds a keyring with a fresh random key.
func GenerateSecp256k1(spec chain.Spec) (*Secp256k1Keyring, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate secp256k1 key: %w", err)
	}
	return NewSecp256k1Keyring(priv.Serialize(), spec)
}

// Address returns the lowercase 0x-hex account address.
func (k *Secp256k1Keyring) Address() string {
	return k.address
}

// PublicKey returns the 33-byte compressed public key.
func (k *Secp256k1Keyring) PublicKey() []byte {
	return k.priv.PubKey().SerializeCompressed()
}

// Scheme returns secp256k1.
func (k *Secp256k1Keyring) Scheme() chain.KeyScheme {
	return chain.SchemeSecp256k1
}

// SignPayload signs the keccak-256 digest of a transaction payload.
func (k *Secp256k1Keyring) SignPayload(payload []byte) ([]byte, error) {
	return k.signDigest(crypto.Keccak256(payload))
}

// SignMessage signs a message under the EIP-191 personal-message
// convention.
func (k *Secp256k1Keyring) SignMessage(message []byte) ([]byte, error) {
	return k.signDigest(MessageDigest(message))
}

func (k *Secp256k1Keyring) signDigest(digest []byte) ([]byte, error) {
	// SignCompact puts the recovery header first; rewrite to the
	// [R || S || V] layout wallets produce.
	compact := secpecdsa.SignCompact(k.priv, digest, false)
	sig := make([]byte, 65)
	copy(sig, compact[1:])
	sig[64] = compact[0] - 27
	return sig, nil
}

// MessageDigest returns the EIP-191 digest wallets sign for a personal
// message.
func MessageDigest(message []byte) []byte {
	prefixed := fmt.Sprintf("%s%d", ethMessagePrefix, len(message))
	return crypto.Keccak256(append([]byte(prefixed), message...))
}

// RecoverAddress recovers the signing account address from a message and a
// 65-byte [R || S || V] signature.
func RecoverAddress(message, sig []byte) (string, error) {
	if len(sig) != 65 {
		return "", fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}

	compact := make([]byte, 65)
	compact[0] = sig[64] + 27
	copy(compact[1:], sig[:64])

	pub, _, err := secpecdsa.RecoverCompact(compact, MessageDigest(message))
	if err != nil {
		return "", fmt.Errorf("failed to recover public key: %w", err)
	}
	return chain.EVMAddressFromPublicKey(pub.SerializeUncompressed())
}
