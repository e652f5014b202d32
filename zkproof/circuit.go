package zkproof

import (
	"strings"

	"github.com/identikit/go-identity-sdk/credential"
)

// Circuit ids of the built-in catalog.
const (
	CircuitAgeVerification = "age-verification-circuit"
	CircuitMembershipProof = "membership-proof-circuit"
)

// Circuit describes one entry of the fixed proving catalog: the artifacts
// a backend needs plus the public and private input layout.
type Circuit struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Type            string   `json:"type"`
	VerificationKey string   `json:"verificationKey"`
	Constraints     int      `json:"constraints"`
	PublicInputs    []string `json:"publicInputs"`
	PrivateInputs   []string `json:"privateInputs"`
}

var catalog = []Circuit{
	{
		ID:              CircuitAgeVerification,
		Name:            "Age Verification",
		Description:     "Proves the holder meets a minimum age without revealing the age itself.",
		Type:            "groth16",
		VerificationKey: "zkv1:age-verification:9f2c4e81",
		Constraints:     4512,
		PublicInputs:    []string{"nullifierHash", "merkleRoot", "signal"},
		PrivateInputs:   []string{"identityTrapdoor", "identityNullifier", "merkleSiblings", "merklePathIndices"},
	},
	{
		ID:              CircuitMembershipProof,
		Name:            "Membership Proof",
		Description:     "Proves group membership without revealing which member the holder is.",
		Type:            "groth16",
		VerificationKey: "zkv1:membership-proof:5b7d13a6",
		Constraints:     3268,
		PublicInputs:    []string{"nullifierHash", "merkleRoot", "signal"},
		PrivateInputs:   []string{"identityTrapdoor", "identityNullifier", "merkleSiblings", "merklePathIndices"},
	},
}

// Circuits returns the catalog in declaration order. The returned slice is
// a copy.
func Circuits() []Circuit {
	out := make([]Circuit, len(catalog))
	copy(out, catalog)
	return out
}

// CircuitByID looks up a catalog entry.
func CircuitByID(id string) (Circuit, bool) {
	for _, c := range catalog {
		if c.ID == id {
			return c, true
		}
	}
	return Circuit{}, false
}

// ValidateCredentialForCircuit reports whether the credential carries the
// structure the circuit proves over. Unknown circuit ids fail validation,
// they are not an error.
func ValidateCredentialForCircuit(cred credential.Credential, circuitID string) bool {
	switch circuitID {
	case CircuitAgeVerification:
		for _, field := range []string{"age", "birthDate", "dateOfBirth"} {
			if _, ok := cred.SubjectField(field); ok {
				return true
			}
		}
		return hasTypeTag(cred, "age")
	case CircuitMembershipProof:
		for _, field := range []string{"membership", "organization", "role"} {
			if _, ok := cred.SubjectField(field); ok {
				return true
			}
		}
		return hasTypeTag(cred, "membership", "employee", "student")
	}
	return false
}

func hasTypeTag(cred credential.Credential, tags ...string) bool {
	for _, t := range cred.Types() {
		lower := strings.ToLower(t)
		for _, tag := range tags {
			if strings.Contains(lower, tag) {
				return true
			}
		}
	}
	return false
}
