package chain

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// secp256k1 generator point, i.e. the public key of private key 0x01.
const (
	genCompressedHex   = "0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"
	genUncompressedHex = "0479be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798483ada7726a3c4655da4fbfc0e1108a8fd17b448a68554199c47d08ffb10d4b8"
	genAddress         = "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf"
)

func TestEVMAddressFromPublicKey(t *testing.T) {
	compressed, err := hex.DecodeString(genCompressedHex)
	require.NoError(t, err)
	uncompressed, err := hex.DecodeString(genUncompressedHex)
	require.NoError(t, err)

	addr, err := EVMAddressFromPublicKey(compressed)
	require.NoError(t, err)
	assert.Equal(t, genAddress, addr)

	addr, err = EVMAddressFromPublicKey(uncompressed)
	require.NoError(t, err)
	assert.Equal(t, genAddress, addr)
}

func TestEVMAddressFromPublicKeyRejectsGarbage(t *testing.T) {
	_, err := EVMAddressFromPublicKey([]byte{0x01, 0x02})
	assert.Error(t, err)

	_, err = EVMAddressFromPublicKey(make([]byte, 33))
	assert.Error(t, err)
}

func TestCompressSecp256k1(t *testing.T) {
	uncompressed, err := hex.DecodeString(genUncompressedHex)
	require.NoError(t, err)

	compressed, err := CompressSecp256k1(uncompressed)
	require.NoError(t, err)
	assert.Equal(t, genCompressedHex, hex.EncodeToString(compressed))

	// Already-compressed input passes through unchanged.
	again, err := CompressSecp256k1(compressed)
	require.NoError(t, err)
	assert.Equal(t, compressed, again)
}

func TestIsEVMAddress(t *testing.T) {
	assert.True(t, IsEVMAddress(genAddress))
	assert.True(t, IsEVMAddress("0x7E5F4552091A69125d5DFcb7B8C2659029395Bdf"))
	assert.False(t, IsEVMAddress(aliceAddress))
	assert.False(t, IsEVMAddress("0x123"))
	assert.False(t, IsEVMAddress(""))
}

func TestNormalizeEVMAddress(t *testing.T) {
	got, err := NormalizeEVMAddress("0x7E5F4552091A69125d5DFcb7B8C2659029395Bdf")
	require.NoError(t, err)
	assert.Equal(t, genAddress, got)

	_, err = NormalizeEVMAddress("not-an-address")
	assert.Error(t, err)
}

func TestEVMSpec(t *testing.T) {
	spec := EVM("ethereum", "ethr")

	uncompressed, err := hex.DecodeString(genUncompressedHex)
	require.NoError(t, err)

	addr, err := spec.EncodeAddress(uncompressed)
	require.NoError(t, err)
	assert.Equal(t, genAddress, addr)
	assert.True(t, spec.ValidateAddress(addr))

	// EVM addresses are digests; the public key cannot be recovered.
	_, err = spec.DecodeAddress(addr)
	assert.Error(t, err)
}
