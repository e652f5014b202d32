package zkproof

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/identikit/go-identity-sdk/credential"
)

func TestCatalogShape(t *testing.T) {
	circuits := Circuits()
	require.Len(t, circuits, 2)
	assert.Equal(t, CircuitAgeVerification, circuits[0].ID)
	assert.Equal(t, CircuitMembershipProof, circuits[1].ID)

	for _, c := range circuits {
		assert.NotEmpty(t, c.Name)
		assert.NotEmpty(t, c.Description)
		assert.Equal(t, "groth16", c.Type)
		assert.NotEmpty(t, c.VerificationKey)
		assert.Positive(t, c.Constraints)
		assert.Equal(t, []string{"nullifierHash", "merkleRoot", "signal"}, c.PublicInputs)
		assert.NotEmpty(t, c.PrivateInputs)
	}

	// The catalog hands out copies.
	circuits[0].Name = "mutated"
	again, ok := CircuitByID(CircuitAgeVerification)
	require.True(t, ok)
	assert.Equal(t, "Age Verification", again.Name)

	_, ok = CircuitByID("no-such-circuit")
	assert.False(t, ok)
}

func TestValidateCredentialForCircuit(t *testing.T) {
	subject := func(fields map[string]interface{}) credential.Credential {
		fields["id"] = "did:substrate:alice"
		return credential.Credential{
			"id":                "urn:uuid:validate",
			"type":              []interface{}{"VerifiableCredential"},
			"issuer":            "did:substrate:issuer",
			"issuanceDate":      "2024-01-01T00:00:00Z",
			"credentialSubject": fields,
		}
	}
	typed := func(types ...interface{}) credential.Credential {
		c := subject(map[string]interface{}{})
		c["type"] = append([]interface{}{"VerifiableCredential"}, types...)
		return c
	}

	cases := []struct {
		name    string
		cred    credential.Credential
		circuit string
		want    bool
	}{
		{"age field", subject(map[string]interface{}{"age": float64(22)}), CircuitAgeVerification, true},
		{"birthDate field", subject(map[string]interface{}{"birthDate": "2000-01-02"}), CircuitAgeVerification, true},
		{"dateOfBirth field", subject(map[string]interface{}{"dateOfBirth": "2000-01-02"}), CircuitAgeVerification, true},
		{"age type tag", typed("AgeCredential"), CircuitAgeVerification, true},
		{"no age evidence", subject(map[string]interface{}{"role": "student"}), CircuitAgeVerification, false},
		{"membership field", subject(map[string]interface{}{"membership": "acm"}), CircuitMembershipProof, true},
		{"organization field", subject(map[string]interface{}{"organization": "example"}), CircuitMembershipProof, true},
		{"role field", subject(map[string]interface{}{"role": "maintainer"}), CircuitMembershipProof, true},
		{"membership type tag", typed("MembershipCredential"), CircuitMembershipProof, true},
		{"employee type tag", typed("EmployeeCredential"), CircuitMembershipProof, true},
		{"student type tag", typed("StudentCard"), CircuitMembershipProof, true},
		{"no membership evidence", subject(map[string]interface{}{"age": float64(30)}), CircuitMembershipProof, false},
		{"unknown circuit", subject(map[string]interface{}{"age": float64(30)}), "no-such-circuit", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ValidateCredentialForCircuit(tc.cred, tc.circuit))
		})
	}
}
