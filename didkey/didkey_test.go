package didkey

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-varint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/identikit/go-identity-sdk/chain"
	"github.com/identikit/go-identity-sdk/chainerr"
)

const (
	aliceAddress = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
	alicePubHex  = "d43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d"
)

func TestDerive(t *testing.T) {
	m := New(chain.Substrate())

	didStr, err := m.Derive(aliceAddress)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(didStr, "did:key:z"), didStr)

	again, err := m.Derive(aliceAddress)
	require.NoError(t, err)
	assert.Equal(t, didStr, again)

	addr, err := m.ExtractAddress(didStr)
	require.NoError(t, err)
	assert.Equal(t, aliceAddress, addr)
}

func TestDeriveRejectsBadAddress(t *testing.T) {
	m := New(chain.Substrate())

	_, err := m.Derive("not-an-address")
	require.Error(t, err)
	assert.Equal(t, chainerr.CodeInvalidAddress, chainerr.CodeOf(err))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		scheme chain.KeyScheme
		size   int
	}{
		{chain.SchemeSr25519, 32},
		{chain.SchemeEd25519, 32},
		{chain.SchemeSecp256k1, 33},
	}

	for _, tt := range tests {
		t.Run(string(tt.scheme), func(t *testing.T) {
			key := make([]byte, tt.size)
			for i := range key {
				key[i] = byte(i + 1)
			}

			didStr, err := Encode(tt.scheme, key)
			require.NoError(t, err)

			scheme, decoded, err := Decode(didStr)
			require.NoError(t, err)
			assert.Equal(t, tt.scheme, scheme)
			assert.Equal(t, key, decoded)
		})
	}

	t.Run("wrong key size", func(t *testing.T) {
		_, err := Encode(chain.SchemeEd25519, make([]byte, 16))
		require.Error(t, err)
		assert.Equal(t, chainerr.CodeEncodingFailed, chainerr.CodeOf(err))
	})
}

func TestResolve(t *testing.T) {
	m := New(chain.Substrate())

	didStr, err := m.Derive(aliceAddress)
	require.NoError(t, err)

	doc, err := Resolve(didStr)
	require.NoError(t, err)
	require.NoError(t, doc.Validate())

	assert.Equal(t, didStr, doc.ID)
	require.Len(t, doc.VerificationMethod, 1)

	vm := doc.VerificationMethod[0]
	encoded := strings.TrimPrefix(didStr, Prefix)
	assert.Equal(t, didStr+"#"+encoded[:8], vm.ID)
	assert.Equal(t, "Sr25519VerificationKey2020", vm.Type)
	assert.Equal(t, didStr, vm.Controller)
	assert.Equal(t, encoded, vm.PublicKeyMultibase)

	for _, rel := range [][]string{doc.Authentication, doc.AssertionMethod, doc.CapabilityInvocation, doc.CapabilityDelegation} {
		assert.Equal(t, []string{vm.ID}, rel)
	}
	assert.Empty(t, doc.KeyAgreement, "signing-only method must not appear in keyAgreement")

	t.Run("matches CreateDocument", func(t *testing.T) {
		created, err := m.CreateDocument(aliceAddress)
		require.NoError(t, err)
		assert.Equal(t, created, doc)
	})

	t.Run("fragment ignored", func(t *testing.T) {
		withFrag, err := Resolve(didStr + "#" + encoded[:8])
		require.NoError(t, err)
		assert.Equal(t, doc, withFrag)
	})
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name     string
		did      string
		wantCode chainerr.Code
		wantMsg  string
	}{
		{
			name:     "wrong method",
			did:      "did:invalid:123",
			wantCode: chainerr.CodeInvalidDIDFormat,
			wantMsg:  "Invalid DID format",
		},
		{
			name:     "missing multibase prefix",
			did:      "did:key:abc",
			wantCode: chainerr.CodeInvalidDIDFormat,
			wantMsg:  "Invalid DID format",
		},
		{
			name:     "empty",
			did:      "",
			wantCode: chainerr.CodeInvalidDIDFormat,
			wantMsg:  "Invalid DID format",
		},
		{
			name:     "unsupported multicodec",
			did:      mustEncodeRaw(t, 0x12, make([]byte, 32)),
			wantCode: chainerr.CodeInvalidPublicKey,
			wantMsg:  "Invalid public key in DID",
		},
		{
			name:     "truncated key",
			did:      mustEncodeRaw(t, 0xed, make([]byte, 10)),
			wantCode: chainerr.CodeInvalidPublicKey,
			wantMsg:  "Invalid public key in DID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.did)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, chainerr.CodeOf(err))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestExtractAddressSchemeMismatch(t *testing.T) {
	edDID, err := Encode(chain.SchemeEd25519, make([]byte, 32))
	require.NoError(t, err)

	m := New(chain.Substrate())
	_, err = m.ExtractAddress(edDID)
	require.Error(t, err)
	assert.Equal(t, chainerr.CodeInvalidPublicKey, chainerr.CodeOf(err))
}

func TestEVMMethod(t *testing.T) {
	m := New(chain.EVM("ethereum", "ethr"))

	// secp256k1 generator point, compressed.
	pub, err := hex.DecodeString("0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798")
	require.NoError(t, err)

	didStr, err := m.DeriveFromPublicKey(pub)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(didStr, "did:key:z"))

	addr, err := m.ExtractAddress(didStr)
	require.NoError(t, err)
	assert.Equal(t, "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf", addr)
}

func mustEncodeRaw(t *testing.T, code uint64, key []byte) string {
	t.Helper()

	encoded, err := multibase.Encode(multibase.Base58BTC, append(varint.ToUvarint(code), key...))
	require.NoError(t, err)

	return Prefix + encoded
}
