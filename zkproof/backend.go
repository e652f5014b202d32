package zkproof

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"

	"github.com/identikit/go-identity-sdk/zkid"
)

// ProofRequest carries the witness a backend proves over.
type ProofRequest struct {
	Identity    *zkid.Identity
	MerkleProof *zkid.MerkleProof
	Signal      *big.Int
	Circuit     Circuit
}

// Backend is the proving engine behind the service. Generate produces an
// opaque proof payload for the request; Verify checks a payload against
// the public signals and the circuit's verification key. Implementations
// decide the payload format, callers never look inside it.
type Backend interface {
	Generate(ctx context.Context, req *ProofRequest) (json.RawMessage, error)
	Verify(ctx context.Context, payload json.RawMessage, publicSignals []string, verificationKey string) (bool, error)
}

// SimBackend is a deterministic stand-in for a real prover, the proving
// counterpart of the chainclient simulator. The payload is a Poseidon tag
// binding the verification key to the public signals, so verification
// fails whenever any public signal is altered after generation. It proves
// nothing cryptographically and is meant for development and tests.
type SimBackend struct{}

// NewSimBackend returns the simulated proving backend.
func NewSimBackend() *SimBackend {
	return &SimBackend{}
}

type simPayload struct {
	Scheme string `json:"scheme"`
	Tag    string `json:"tag"`
}

const simScheme = "sim-poseidon-v1"

// Generate builds the binding tag for the request's public signals.
func (b *SimBackend) Generate(ctx context.Context, req *ProofRequest) (json.RawMessage, error) {
	if req == nil || req.Identity == nil || req.MerkleProof == nil || req.Signal == nil {
		return nil, fmt.Errorf("incomplete proof request")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scope, err := circuitScope(req.Circuit.ID)
	if err != nil {
		return nil, err
	}
	nullifierHash, err := req.Identity.NullifierHash(scope)
	if err != nil {
		return nil, err
	}
	tag, err := bindingTag(req.Circuit.VerificationKey, nullifierHash, req.MerkleProof.Root, req.Signal)
	if err != nil {
		return nil, err
	}
	return json.Marshal(simPayload{Scheme: simScheme, Tag: tag.String()})
}

// Verify recomputes the binding tag from the public signals and compares.
// Malformed payloads and signals verify false, they are not an error.
func (b *SimBackend) Verify(ctx context.Context, payload json.RawMessage, publicSignals []string, verificationKey string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var p simPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Scheme != simScheme {
		return false, nil
	}
	if len(publicSignals) != 3 {
		return false, nil
	}

	nums := make([]*big.Int, 3)
	for i, s := range publicSignals {
		n, ok := new(big.Int).SetString(s, 10)
		if !ok || n.Sign() < 0 {
			return false, nil
		}
		nums[i] = n
	}
	tag, err := bindingTag(verificationKey, nums[0], nums[1], nums[2])
	if err != nil {
		return false, err
	}
	return tag.String() == p.Tag, nil
}

// circuitScope derives the external nullifier scope for a circuit, so one
// identity yields exactly one nullifier hash per circuit.
func circuitScope(circuitID string) (*big.Int, error) {
	return poseidon.HashBytes([]byte("zkproof:scope:" + circuitID))
}

func bindingTag(verificationKey string, nullifierHash, root, signal *big.Int) (*big.Int, error) {
	vk, err := poseidon.HashBytes([]byte(verificationKey))
	if err != nil {
		return nil, err
	}
	return poseidon.Hash([]*big.Int{vk, nullifierHash, root, signal})
}
