// Package zkproof generates and verifies zero-knowledge proofs over
// credential-derived identities. Proofs are built from a fixed circuit
// catalog, anchored in the per-circuit membership groups, and delegated to
// an injected proving backend; the service itself only assembles witnesses
// and enforces the pre-checks verification can do without a prover.
package zkproof

import (
	"context"
	"encoding/json"
	"math/big"
	"time"

	"github.com/iden3/go-iden3-crypto/poseidon"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/identikit/go-identity-sdk/chainerr"
	"github.com/identikit/go-identity-sdk/credential"
	"github.com/identikit/go-identity-sdk/internal/log"
	"github.com/identikit/go-identity-sdk/zkid"
)

var logger = log.New("zkproof")

// DefaultMinimumAge is the age threshold used when the caller does not
// supply one.
const DefaultMinimumAge = 18

// ZKProof is the portable proof envelope: the opaque backend payload plus
// the public signals a verifier checks it against. PublicSignals is always
// [nullifierHash, merkleRoot, signal], in that order.
type ZKProof struct {
	Type            string          `json:"type"`
	Proof           json.RawMessage `json:"proof"`
	PublicSignals   []string        `json:"publicSignals"`
	VerificationKey string          `json:"verificationKey"`
	Circuit         string          `json:"circuit"`
}

// ProofParams are the caller-chosen public inputs. MinAge applies to the
// age circuit and defaults to DefaultMinimumAge; GroupID applies to the
// membership circuit and defaults to the circuit id.
type ProofParams struct {
	MinAge  int    `json:"minAge,omitempty"`
	GroupID string `json:"groupId,omitempty"`
}

// NullifierLedger is the double-spend extension point: a verifier may
// track nullifier hashes it has already accepted. The default ledger never
// marks anything used, cross-proof spend tracking belongs to the
// integrating application.
type NullifierLedger interface {
	Used(ctx context.Context, nullifierHash string) (bool, error)
	MarkUsed(ctx context.Context, nullifierHash string) error
}

type noopLedger struct{}

func (noopLedger) Used(context.Context, string) (bool, error) {
	return false, nil
}

func (noopLedger) MarkUsed(context.Context, string) error {
	return nil
}

// Service generates and verifies proofs against the circuit catalog.
type Service struct {
	idents  *zkid.Manager
	backend Backend
	ledger  NullifierLedger
}

// Option configures a Service.
type Option func(*Service)

// WithBackend replaces the simulated proving backend.
func WithBackend(b Backend) Option {
	return func(s *Service) {
		s.backend = b
	}
}

// WithIdentityManager shares an identity manager with other components.
func WithIdentityManager(m *zkid.Manager) Option {
	return func(s *Service) {
		s.idents = m
	}
}

// WithNullifierLedger installs a double-spend ledger.
func WithNullifierLedger(l NullifierLedger) Option {
	return func(s *Service) {
		s.ledger = l
	}
}

// NewService returns a proof service backed by the simulated prover and a
// fresh identity manager unless options say otherwise.
func NewService(opts ...Option) *Service {
	s := &Service{
		idents:  zkid.NewManager(),
		backend: NewSimBackend(),
		ledger:  noopLedger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Identities returns the identity manager the service anchors proofs in.
func (s *Service) Identities() *zkid.Manager {
	return s.idents
}

// AvailableCircuits returns the proving catalog.
func (s *Service) AvailableCircuits() []Circuit {
	return Circuits()
}

// GroupStats reports the membership group of a circuit.
func (s *Service) GroupStats(circuitID string) zkid.GroupStats {
	return s.idents.GroupStats(circuitID)
}

// ClearCaches drops all cached identities and groups.
func (s *Service) ClearCaches() {
	s.idents.ClearCaches()
}

// AddMember enrolls the credential's identity in the circuit's group. The
// credential must pass the circuit's validation first. Reports whether the
// member was newly added; re-adding is a no-op.
func (s *Service) AddMember(circuitID string, cred credential.Credential) (bool, error) {
	if _, ok := CircuitByID(circuitID); !ok {
		return false, chainerr.NewCircuitNotFound(circuitID)
	}
	if !ValidateCredentialForCircuit(cred, circuitID) {
		return false, chainerr.NewCredentialInvalid(circuitID)
	}
	ident, err := s.idents.DeriveFromCredential(cred)
	if err != nil {
		return false, err
	}
	added, err := s.idents.AddMember(circuitID, ident)
	if err != nil {
		return false, err
	}
	stats := s.idents.GroupStats(circuitID)
	GroupMembersGauge.Record(context.Background(), int64(stats.Size),
		metric.WithAttributes(attribute.String("circuit", circuitID)))
	return added, nil
}

// GenerateProof proves a claim about the supplied credentials. Every
// credential must pass the circuit's validation; the identity is derived
// from the first one and enrolled in the circuit's group if it is not a
// member yet. The proof's public signals are [nullifierHash, merkleRoot,
// signal].
func (s *Service) GenerateProof(ctx context.Context, circuitID string, params ProofParams, creds []credential.Credential) (*ZKProof, error) {
	circuit, ok := CircuitByID(circuitID)
	if !ok {
		return nil, chainerr.NewCircuitNotFound(circuitID)
	}
	if len(creds) == 0 {
		return nil, chainerr.NewCredentialRequired()
	}
	for _, c := range creds {
		if !ValidateCredentialForCircuit(c, circuitID) {
			return nil, chainerr.NewCredentialInvalid(circuitID)
		}
	}

	ident, err := s.idents.DeriveFromCredential(creds[0])
	if err != nil {
		return nil, err
	}
	if _, err := s.idents.AddMember(circuitID, ident); err != nil {
		return nil, err
	}
	group := s.idents.Group(circuitID)
	merkleProof, err := group.ProofOfMembership(ident.Commitment)
	if err != nil {
		return nil, err
	}

	signal, err := s.buildSignal(circuit, params, creds)
	if err != nil {
		return nil, err
	}
	scope, err := circuitScope(circuitID)
	if err != nil {
		return nil, chainerr.NewProofGenerationFailed("scope derivation failed", err)
	}
	nullifierHash, err := ident.NullifierHash(scope)
	if err != nil {
		return nil, chainerr.NewProofGenerationFailed("nullifier hash failed", err)
	}

	start := time.Now()
	payload, err := s.backend.Generate(ctx, &ProofRequest{
		Identity:    ident,
		MerkleProof: merkleProof,
		Signal:      signal,
		Circuit:     circuit,
	})
	if err != nil {
		logger.Warn("proof generation failed", log.WithCircuit(circuitID), log.WithError(err))
		return nil, chainerr.NewProofGenerationFailed(err.Error(), err)
	}

	GeneratedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("circuit", circuitID)))
	GenerationSeconds.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("circuit", circuitID)))
	logger.Debug("proof generated",
		log.WithCircuit(circuitID),
		log.WithNullifier(nullifierHash.String()),
		log.WithMerkleRoot(merkleProof.Root.String()),
		log.WithDuration(time.Since(start)))

	return &ZKProof{
		Type:            circuit.Type,
		Proof:           payload,
		PublicSignals:   []string{nullifierHash.String(), merkleProof.Root.String(), signal.String()},
		VerificationKey: circuit.VerificationKey,
		Circuit:         circuit.ID,
	}, nil
}

// GenerateAgeVerificationProof proves the credentials' holder meets the
// minimum age. A non-positive minAge means DefaultMinimumAge.
func (s *Service) GenerateAgeVerificationProof(ctx context.Context, creds []credential.Credential, minAge int) (*ZKProof, error) {
	if minAge <= 0 {
		minAge = DefaultMinimumAge
	}
	return s.GenerateProof(ctx, CircuitAgeVerification, ProofParams{MinAge: minAge}, creds)
}

// GenerateStudentStatusProof proves membership in the given group.
func (s *Service) GenerateStudentStatusProof(ctx context.Context, creds []credential.Credential, groupID string) (*ZKProof, error) {
	return s.GenerateProof(ctx, CircuitMembershipProof, ProofParams{GroupID: groupID}, creds)
}

// VerifyProof checks a proof against the expected signal. When groupID
// names a group this process knows, the proof's claimed root must match
// that group's current root before the backend is even consulted. A
// malformed proof verifies false, never an error.
func (s *Service) VerifyProof(ctx context.Context, proof *ZKProof, expectedSignal, groupID string) bool {
	ok := s.verify(ctx, proof, expectedSignal, groupID)
	result := "rejected"
	if ok {
		result = "accepted"
	}
	VerifiedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	return ok
}

func (s *Service) verify(ctx context.Context, proof *ZKProof, expectedSignal, groupID string) bool {
	if proof == nil || len(proof.Proof) == 0 || len(proof.PublicSignals) != 3 {
		return false
	}
	nullifierHash, root, signal := proof.PublicSignals[0], proof.PublicSignals[1], proof.PublicSignals[2]

	if groupID != "" {
		if g, known := s.idents.KnownGroup(groupID); known {
			if g.Root().String() != root {
				logger.Debug("proof root does not match local group",
					log.WithGroupID(groupID), log.WithMerkleRoot(root))
				return false
			}
		}
	}
	if signal != expectedSignal {
		logger.Debug("proof signal mismatch", log.WithSignal(signal))
		return false
	}
	used, err := s.ledger.Used(ctx, nullifierHash)
	if err != nil || used {
		return false
	}

	ok, err := s.backend.Verify(ctx, proof.Proof, proof.PublicSignals, proof.VerificationKey)
	if err != nil {
		logger.Debug("proof verification errored", log.WithError(err))
		return false
	}
	return ok
}

// AgeSignal returns the public signal a verifier expects for an age claim.
func AgeSignal(minAge int, meets bool) (string, error) {
	v, err := ageSignalValue(minAge, meets)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

// MembershipSignal returns the public signal a verifier expects for a
// membership claim.
func MembershipSignal(groupID string, isMember bool) (string, error) {
	v, err := membershipSignalValue(groupID, isMember)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

// buildSignal computes the circuit-specific public signal. The signal only
// ever encodes the threshold and the outcome, never the underlying value.
func (s *Service) buildSignal(circuit Circuit, params ProofParams, creds []credential.Credential) (*big.Int, error) {
	switch circuit.ID {
	case CircuitAgeVerification:
		minAge := params.MinAge
		if minAge <= 0 {
			minAge = DefaultMinimumAge
		}
		return ageSignalValue(minAge, meetsMinimumAge(creds, minAge))
	case CircuitMembershipProof:
		groupID := params.GroupID
		if groupID == "" {
			groupID = circuit.ID
		}
		// Membership was just ensured, so the outcome is always true here.
		return membershipSignalValue(groupID, true)
	}
	return nil, chainerr.NewCircuitNotFound(circuit.ID)
}

func ageSignalValue(minAge int, meets bool) (*big.Int, error) {
	v, err := poseidon.Hash([]*big.Int{big.NewInt(int64(minAge)), boolField(meets)})
	if err != nil {
		return nil, chainerr.NewEncodingFailed("age signal", err)
	}
	return v, nil
}

func membershipSignalValue(groupID string, isMember bool) (*big.Int, error) {
	gid, err := poseidon.HashBytes([]byte(groupID))
	if err != nil {
		return nil, chainerr.NewEncodingFailed("membership signal", err)
	}
	v, err := poseidon.Hash([]*big.Int{gid, boolField(isMember)})
	if err != nil {
		return nil, chainerr.NewEncodingFailed("membership signal", err)
	}
	return v, nil
}

func boolField(b bool) *big.Int {
	if b {
		return big.NewInt(1)
	}
	return big.NewInt(0)
}

// meetsMinimumAge reports whether the credentials establish an age of at
// least minAge. The first credential stating an age or birth date decides.
func meetsMinimumAge(creds []credential.Credential, minAge int) bool {
	now := time.Now()
	for _, c := range creds {
		if age, ok := c.SubjectNumber("age"); ok {
			return age >= float64(minAge)
		}
		for _, field := range []string{"birthDate", "dateOfBirth"} {
			raw := c.SubjectString(field)
			if raw == "" {
				continue
			}
			if born, err := parseDate(raw); err == nil {
				return yearsBetween(born, now) >= minAge
			}
		}
	}
	return false
}

func parseDate(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

func yearsBetween(born, now time.Time) int {
	years := now.Year() - born.Year()
	if now.YearDay() < born.YearDay() {
		years--
	}
	return years
}
