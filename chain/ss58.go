package chain

import (
	"bytes"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"

	"github.com/identikit/go-identity-sdk/chainerr"
)

// ss58Preamble is the domain separator hashed into every SS58 checksum.
var ss58Preamble = []byte("SS58PRE")

const (
	accountIDLen    = 32
	ss58ChecksumLen = 2
	maxSS58Prefix   = 0b0011_1111_1111_1111
)

// EncodeSS58 encodes a 32-byte account public key as an SS58 address under
// the given network prefix.
func EncodeSS58(publicKey []byte, prefix uint16) (string, error) {
	if len(publicKey) != accountIDLen {
		return "", chainerr.NewEncodingFailed(
			fmt.Sprintf("SS58 account id must be %d bytes, got %d", accountIDLen, len(publicKey)), nil)
	}
	if prefix > maxSS58Prefix {
		return "", chainerr.NewEncodingFailed(
			fmt.Sprintf("SS58 prefix %d out of range", prefix), nil)
	}

	var data []byte
	if prefix < 64 {
		data = append(data, byte(prefix))
	} else {
		// Two-byte prefix form used by registered networks >= 64.
		first := byte((prefix&0b0000_0000_1111_1100)>>2) | 0b0100_0000
		second := byte(prefix>>8) | byte(prefix&0b11)<<6
		data = append(data, first, second)
	}
	data = append(data, publicKey...)
	data = append(data, ss58Checksum(data)...)

	return base58.Encode(data), nil
}

// DecodeSS58 decodes an SS58 address into its network prefix and the raw
// 32-byte account public key, verifying the checksum.
func DecodeSS58(address string) (uint16, []byte, error) {
	raw, err := base58.Decode(address)
	if err != nil {
		return 0, nil, chainerr.NewAddressValidation(address, err)
	}
	if len(raw) < 1 {
		return 0, nil, chainerr.NewAddressValidation(address, fmt.Errorf("empty address payload"))
	}

	var prefix uint16
	var prefixLen int
	switch {
	case raw[0] < 64:
		prefix = uint16(raw[0])
		prefixLen = 1
	case raw[0] < 128:
		if len(raw) < 2 {
			return 0, nil, chainerr.NewAddressValidation(address, fmt.Errorf("truncated SS58 prefix"))
		}
		lower := raw[0]<<2 | raw[1]>>6
		upper := raw[1] & 0b0011_1111
		prefix = uint16(lower) | uint16(upper)<<8
		prefixLen = 2
	default:
		return 0, nil, chainerr.NewAddressValidation(address, fmt.Errorf("invalid SS58 prefix byte %#x", raw[0]))
	}

	if len(raw) != prefixLen+accountIDLen+ss58ChecksumLen {
		return 0, nil, chainerr.NewAddressValidation(address,
			fmt.Errorf("unexpected SS58 payload length %d", len(raw)))
	}

	body := raw[:len(raw)-ss58ChecksumLen]
	checksum := raw[len(raw)-ss58ChecksumLen:]
	if !bytes.Equal(checksum, ss58Checksum(body)) {
		return 0, nil, chainerr.NewAddressValidation(address, fmt.Errorf("SS58 checksum mismatch"))
	}

	pub := make([]byte, accountIDLen)
	copy(pub, raw[prefixLen:prefixLen+accountIDLen])
	return prefix, pub, nil
}

func ss58Checksum(data []byte) []byte {
	h := blake2b.Sum512(append(append([]byte{}, ss58Preamble...), data...))
	return h[:ss58ChecksumLen]
}
