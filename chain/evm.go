package chain

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/identikit/go-identity-sdk/chainerr"
)

// EVMAddressFromPublicKey derives the lowercase 0x hex address for a
// secp256k1 public key. Both compressed (33 bytes) and uncompressed
// (65 bytes) keys are accepted.
func EVMAddressFromPublicKey(publicKey []byte) (string, error) {
	pub, err := parseSecp256k1(publicKey)
	if err != nil {
		return "", err
	}
	return strings.ToLower(crypto.PubkeyToAddress(*pub).Hex()), nil
}

// CompressSecp256k1 normalizes a secp256k1 public key to its 33-byte
// compressed form.
func CompressSecp256k1(publicKey []byte) ([]byte, error) {
	pub, err := parseSecp256k1(publicKey)
	if err != nil {
		return nil, err
	}
	return crypto.CompressPubkey(pub), nil
}

func parseSecp256k1(publicKey []byte) (*ecdsa.PublicKey, error) {
	switch {
	case len(publicKey) == 33 && (publicKey[0] == 0x02 || publicKey[0] == 0x03):
		parsed, err := btcec.ParsePubKey(publicKey)
		if err != nil {
			return nil, chainerr.NewEncodingFailed("compressed secp256k1 public key", err)
		}
		return parsed.ToECDSA(), nil
	case len(publicKey) == 65 && publicKey[0] == 0x04:
		pub, err := crypto.UnmarshalPubkey(publicKey)
		if err != nil {
			return nil, chainerr.NewEncodingFailed("uncompressed secp256k1 public key", err)
		}
		return pub, nil
	default:
		return nil, chainerr.NewEncodingFailed(
			fmt.Sprintf("unsupported secp256k1 key length %d", len(publicKey)), nil)
	}
}

// IsEVMAddress reports whether the string is a well-formed 0x hex address.
func IsEVMAddress(address string) bool {
	return common.IsHexAddress(address)
}

// NormalizeEVMAddress lowercases a hex address and guarantees the 0x prefix.
func NormalizeEVMAddress(address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", chainerr.NewAddressValidation(address, fmt.Errorf("not a hex address"))
	}
	return strings.ToLower(common.HexToAddress(address).Hex()), nil
}
