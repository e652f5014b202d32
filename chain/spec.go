// Package chain describes the chains the SDK can talk to: their DID method
// names, account key schemes, and address encodings. The codecs here are
// pure functions with no I/O; everything that touches the network lives in
// chainclient.
package chain

import (
	"fmt"
	"sync"
	"time"
)

// KeyScheme identifies the signature scheme of a chain's native accounts.
type KeyScheme string

const (
	SchemeSr25519   KeyScheme = "sr25519"
	SchemeEd25519   KeyScheme = "ed25519"
	SchemeSecp256k1 KeyScheme = "secp256k1"
)

// VerificationMethodType returns the W3C verification method type string
// for keys of this scheme.
func (s KeyScheme) VerificationMethodType() string {
	switch s {
	case SchemeSr25519:
		return "Sr25519VerificationKey2020"
	case SchemeEd25519:
		return "Ed25519VerificationKey2020"
	case SchemeSecp256k1:
		return "EcdsaSecp256k1VerificationKey2019"
	default:
		return ""
	}
}

// KeySize returns the raw public key length in bytes for this scheme.
// Secp256k1 keys are handled in compressed form.
func (s KeyScheme) KeySize() int {
	switch s {
	case SchemeSr25519, SchemeEd25519:
		return 32
	case SchemeSecp256k1:
		return 33
	default:
		return 0
	}
}

// Spec describes one chain: how its accounts are encoded and which DID
// method name its pallet-backed DIDs use.
type Spec struct {
	// Name is the registry key, e.g. "substrate".
	Name string
	// Method is the DID method name used by the on-chain DID method,
	// e.g. "substrate" yields did:substrate:<address>.
	Method string
	// Scheme is the native account signature scheme.
	Scheme KeyScheme
	// SS58Prefix is the SS58 network prefix for substrate-style chains.
	SS58Prefix uint16
	// EVM marks chains with secp256k1 accounts and 0x hex addresses.
	EVM bool
	// BlockTime is the expected block interval, used to derive confirmation
	// timeouts.
	BlockTime time.Duration
	// TokenSymbol and TokenDecimals describe the fee currency.
	TokenSymbol   string
	TokenDecimals uint8
}

// Substrate returns the generic substrate-style chain spec (SS58 prefix 42,
// sr25519 accounts, 6 second blocks).
func Substrate() Spec {
	return Spec{
		Name:          "substrate",
		Method:        "substrate",
		Scheme:        SchemeSr25519,
		SS58Prefix:    42,
		BlockTime:     6 * time.Second,
		TokenSymbol:   "UNIT",
		TokenDecimals: 12,
	}
}

// EVM returns a chain spec for an EVM-style chain with secp256k1 accounts
// and hex addresses.
func EVM(name, method string) Spec {
	return Spec{
		Name:          name,
		Method:        method,
		Scheme:        SchemeSecp256k1,
		EVM:           true,
		BlockTime:     12 * time.Second,
		TokenSymbol:   "ETH",
		TokenDecimals: 18,
	}
}

// DIDPrefix returns the "did:<method>:" prefix of the chain's on-chain DID
// method.
func (s Spec) DIDPrefix() string {
	return "did:" + s.Method + ":"
}

// EncodeAddress encodes a raw public key in the chain's native address
// format: SS58 for substrate-style chains, keccak-derived hex for EVM.
func (s Spec) EncodeAddress(publicKey []byte) (string, error) {
	if s.EVM {
		return EVMAddressFromPublicKey(publicKey)
	}
	return EncodeSS58(publicKey, s.SS58Prefix)
}

// DecodeAddress recovers the raw public key from a native address. EVM
// addresses are one-way (keccak digests), so this only succeeds for
// substrate-style chains; EVM callers must supply the public key directly.
func (s Spec) DecodeAddress(address string) ([]byte, error) {
	if s.EVM {
		return nil, fmt.Errorf("%s addresses do not embed the public key", s.Name)
	}
	prefix, pub, err := DecodeSS58(address)
	if err != nil {
		return nil, err
	}
	if prefix != s.SS58Prefix {
		return nil, fmt.Errorf("address has SS58 prefix %d, chain %s expects %d", prefix, s.Name, s.SS58Prefix)
	}
	return pub, nil
}

// ValidateAddress reports whether the address parses under the chain's
// native format.
func (s Spec) ValidateAddress(address string) bool {
	if s.EVM {
		return IsEVMAddress(address)
	}
	prefix, _, err := DecodeSS58(address)
	return err == nil && prefix == s.SS58Prefix
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Spec{
		"substrate": Substrate(),
	}
)

// Register adds or replaces a chain spec in the process-wide registry.
func Register(spec Spec) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[spec.Name] = spec
}

// Lookup returns the registered spec for a chain name.
func Lookup(name string) (Spec, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := registry[name]
	return s, ok
}

// ByMethod returns the registered spec whose DID method matches.
func ByMethod(method string) (Spec, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	for _, s := range registry {
		if s.Method == method {
			return s, true
		}
	}
	return Spec{}, false
}
