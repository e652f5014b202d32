// Package signer abstracts transaction and message signing so the SDK
// never holds key custody policy itself. Wallet-held keys implement Signer
// on the host side; for tests, tooling and service accounts the package
// ships local ed25519 and secp256k1 keyrings.
package signer

import (
	"github.com/identikit/go-identity-sdk/chain"
)

// Signer signs on behalf of a single chain account.
type Signer interface {
	// Address returns the account's chain-native address.
	Address() string
	// PublicKey returns the raw public key (compressed for secp256k1).
	PublicKey() []byte
	// Scheme returns the account's key scheme.
	Scheme() chain.KeyScheme
	// SignPayload signs a transaction payload exactly as the chain expects
	// it for extrinsic submission.
	SignPayload(payload []byte) ([]byte, error)
	// SignMessage signs an arbitrary message using the chain's wallet
	// convention, with domain separation so a signed message can never be
	// replayed as a transaction.
	SignMessage(message []byte) ([]byte, error)
}
