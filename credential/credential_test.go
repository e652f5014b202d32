package credential

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ageCredentialJSON = `{
  "@context": {"@vocab": "https://example.org/identity#"},
  "id": "urn:credential:age-1",
  "type": ["VerifiableCredential", "AgeCredential"],
  "issuer": "did:substrate:5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty",
  "issuanceDate": "2024-01-15T00:00:00Z",
  "credentialSubject": {
    "id": "did:substrate:5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY",
    "age": 22
  }
}`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(ageCredentialJSON))
	require.NoError(t, err)

	assert.Equal(t, "urn:credential:age-1", c.ID())
	assert.Equal(t, []string{"VerifiableCredential", "AgeCredential"}, c.Types())
	assert.True(t, c.HasType("AgeCredential"))
	assert.True(t, c.HasType("agecredential"))
	assert.False(t, c.HasType("KYCCredential"))
	assert.Equal(t, "did:substrate:5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty", c.IssuerID())
	assert.Equal(t, "2024-01-15T00:00:00Z", c.IssuanceDate())

	issued, err := c.IssuedAt()
	require.NoError(t, err)
	assert.Equal(t, 2024, issued.Year())

	assert.Equal(t, "did:substrate:5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY", c.SubjectID())

	age, ok := c.SubjectNumber("age")
	require.True(t, ok)
	assert.Equal(t, float64(22), age)

	assert.Nil(t, c.Status())
	assert.Nil(t, c.Proof())
}

func TestParseIssuerObject(t *testing.T) {
	c, err := Parse([]byte(`{
	  "id": "urn:credential:2",
	  "type": "VerifiableCredential",
	  "issuer": {"id": "did:substrate:issuer", "name": "Issuer Inc"},
	  "issuanceDate": "2024-02-01T00:00:00Z",
	  "credentialSubject": {"id": "did:substrate:subject"}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "did:substrate:issuer", c.IssuerID())
	assert.Equal(t, []string{"VerifiableCredential"}, c.Types())
}

func TestParseSubjectList(t *testing.T) {
	c, err := Parse([]byte(`{
	  "id": "urn:credential:3",
	  "type": ["VerifiableCredential"],
	  "issuer": "did:substrate:issuer",
	  "issuanceDate": "2024-02-01T00:00:00Z",
	  "credentialSubject": [{"id": "did:substrate:first", "role": "student"}]
	}`))
	require.NoError(t, err)

	assert.Equal(t, "did:substrate:first", c.SubjectID())
	assert.Equal(t, "student", c.SubjectString("role"))
}

func TestParseRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"not json", `{`},
		{"missing issuer", `{"id":"x","type":"VerifiableCredential","issuanceDate":"2024-01-01T00:00:00Z","credentialSubject":{}}`},
		{"missing subject", `{"id":"x","type":"VerifiableCredential","issuer":"did:x","issuanceDate":"2024-01-01T00:00:00Z"}`},
		{"empty issuer", `{"id":"x","type":"VerifiableCredential","issuer":"","issuanceDate":"2024-01-01T00:00:00Z","credentialSubject":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.json))
			require.Error(t, err)
		})
	}
}

func TestParseWithDisableValidation(t *testing.T) {
	c, err := Parse([]byte(`{"type":"VerifiableCredential"}`), WithDisableValidation())
	require.NoError(t, err)
	assert.Empty(t, c.ID())
}

func TestSubjectNumberFromString(t *testing.T) {
	c, err := Parse([]byte(`{
	  "id": "urn:credential:4",
	  "type": "VerifiableCredential",
	  "issuer": "did:substrate:issuer",
	  "issuanceDate": "2024-02-01T00:00:00Z",
	  "credentialSubject": {"id": "did:x", "age": "31"}
	}`))
	require.NoError(t, err)

	age, ok := c.SubjectNumber("age")
	require.True(t, ok)
	assert.Equal(t, float64(31), age)

	_, ok = c.SubjectNumber("missing")
	assert.False(t, ok)
}

func TestFingerprint(t *testing.T) {
	c, err := Parse([]byte(ageCredentialJSON))
	require.NoError(t, err)

	fp1, err := c.Fingerprint()
	require.NoError(t, err)
	require.Len(t, fp1, 32)

	t.Run("key order does not matter", func(t *testing.T) {
		reordered, err := Parse([]byte(`{
		  "credentialSubject": {"age": 22, "id": "did:substrate:5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"},
		  "issuanceDate": "2024-01-15T00:00:00Z",
		  "issuer": "did:substrate:5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty",
		  "type": ["VerifiableCredential", "AgeCredential"],
		  "id": "urn:credential:age-1",
		  "@context": {"@vocab": "https://example.org/identity#"}
		}`))
		require.NoError(t, err)

		fp2, err := reordered.Fingerprint()
		require.NoError(t, err)
		assert.Equal(t, fp1, fp2)
	})

	t.Run("proof does not contribute", func(t *testing.T) {
		signed, err := Parse([]byte(ageCredentialJSON))
		require.NoError(t, err)
		signed["proof"] = map[string]interface{}{"type": "Ed25519Signature2020", "proofValue": "zSig"}

		fp3, err := signed.Fingerprint()
		require.NoError(t, err)
		assert.Equal(t, fp1, fp3)
	})

	t.Run("content changes the fingerprint", func(t *testing.T) {
		changed, err := Parse([]byte(ageCredentialJSON))
		require.NoError(t, err)
		changed["id"] = "urn:credential:age-2"

		fp4, err := changed.Fingerprint()
		require.NoError(t, err)
		assert.NotEqual(t, fp1, fp4)
	})
}

func TestRoundTrip(t *testing.T) {
	c, err := Parse([]byte(ageCredentialJSON))
	require.NoError(t, err)

	b, err := c.ToJSON()
	require.NoError(t, err)

	back, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, c, back)
}
