// Package zkid derives anonymous identities from credentials or wallet
// signatures and manages the Poseidon Merkle groups those identities join.
// An identity follows the semaphore construction: a trapdoor and a
// nullifier combine into a secret whose Poseidon hash is the public
// commitment. Derivation is deterministic, so the same seed always yields
// the same commitment; the identity and group caches are process-wide,
// owned by a Manager and cleared only explicitly.
package zkid

import (
	"math/big"
	"strings"
	"sync"

	"github.com/iden3/go-iden3-crypto/poseidon"
	"golang.org/x/sync/singleflight"

	"github.com/identikit/go-identity-sdk/chainerr"
	"github.com/identikit/go-identity-sdk/credential"
	"github.com/identikit/go-identity-sdk/internal/log"
	"github.com/identikit/go-identity-sdk/signer"
)

var logger = log.New("zkid")

// Identity is a semaphore-style anonymous identity. Values are immutable
// after derivation and only the commitment ever leaves the process.
type Identity struct {
	Trapdoor   *big.Int
	Nullifier  *big.Int
	Secret     *big.Int
	Commitment *big.Int
}

// NullifierHash binds the identity's nullifier to an external scope, so
// proofs in the same scope are linkable without being deanonymizable.
func (id *Identity) NullifierHash(scope *big.Int) (*big.Int, error) {
	h, err := poseidon.Hash([]*big.Int{scope, id.Nullifier})
	if err != nil {
		return nil, chainerr.NewEncodingFailed("nullifier hash", err)
	}
	return h, nil
}

func newIdentity(trapdoor, nullifier *big.Int) (*Identity, error) {
	secret, err := poseidon.Hash([]*big.Int{trapdoor, nullifier})
	if err != nil {
		return nil, chainerr.NewEncodingFailed("identity secret", err)
	}
	commitment, err := poseidon.Hash([]*big.Int{secret})
	if err != nil {
		return nil, chainerr.NewEncodingFailed("identity commitment", err)
	}
	return &Identity{
		Trapdoor:   trapdoor,
		Nullifier:  nullifier,
		Secret:     secret,
		Commitment: commitment,
	}, nil
}

// Domain tags keep the two derivation paths and the two hash roles from
// ever colliding on the same preimage.
const (
	credTrapdoorDomain    = "zkid:credential:trapdoor"
	credNullifierDomain   = "zkid:credential:nullifier"
	walletTrapdoorDomain  = "zkid:wallet:trapdoor"
	walletNullifierDomain = "zkid:wallet:nullifier"

	walletChallengeV1 = "identikit zk-identity challenge v1"
)

// DefaultTreeDepth fits about one million members per group.
const DefaultTreeDepth = 20

// Manager owns the process-wide identity and group caches. Safe for
// concurrent use; group mutations serialize per group.
type Manager struct {
	mu     sync.RWMutex
	idents map[string]*Identity
	groups map[string]*Group
	derive singleflight.Group
	depth  int
}

// Option configures a Manager.
type Option func(*Manager)

// WithTreeDepth sets the Merkle depth of the groups the manager creates.
func WithTreeDepth(depth int) Option {
	return func(m *Manager) {
		m.depth = depth
	}
}

// NewManager returns a manager with empty caches.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		idents: make(map[string]*Identity),
		groups: make(map[string]*Group),
		depth:  DefaultTreeDepth,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DeriveFromCredential derives the identity seeded by the credential's
// identifying fields: the trapdoor folds in everything that identifies the
// issuance, the nullifier depends only on the credential id. Cached and
// idempotent.
func (m *Manager) DeriveFromCredential(cred credential.Credential) (*Identity, error) {
	seed := []string{cred.ID(), cred.SubjectID(), cred.IssuerID(), cred.IssuanceDate()}
	return m.derived("credential|"+strings.Join(seed, "|"), func() (*Identity, error) {
		trapdoor, err := fieldOf(credTrapdoorDomain, seed...)
		if err != nil {
			return nil, err
		}
		nullifier, err := fieldOf(credNullifierDomain, cred.ID())
		if err != nil {
			return nil, err
		}
		return newIdentity(trapdoor, nullifier)
	})
}

// WalletChallenge returns the deterministic message a wallet signs to
// derive its identity. Exposed so hosts can show the exact text to the
// user before signing.
func WalletChallenge(address string) string {
	return walletChallengeV1 + "\naddress: " + address
}

// DeriveFromWallet derives the identity for a wallet account: the signer
// signs the deterministic challenge, the signature seeds the trapdoor and
// the address the nullifier. Cached by address; concurrent calls for the
// same address collapse into a single wallet interaction.
func (m *Manager) DeriveFromWallet(s signer.Signer) (*Identity, error) {
	address := s.Address()
	return m.derived("wallet|"+address, func() (*Identity, error) {
		sig, err := s.SignMessage([]byte(WalletChallenge(address)))
		if err != nil {
			return nil, chainerr.NewSignatureRejected(address, err)
		}
		trapdoor, err := fieldOf(walletTrapdoorDomain, string(sig))
		if err != nil {
			return nil, err
		}
		nullifier, err := fieldOf(walletNullifierDomain, address)
		if err != nil {
			return nil, err
		}
		return newIdentity(trapdoor, nullifier)
	})
}

// derived returns the cached identity for key or computes it exactly once,
// even under concurrent callers. Failed computations are not cached.
func (m *Manager) derived(key string, compute func() (*Identity, error)) (*Identity, error) {
	m.mu.RLock()
	id, ok := m.idents[key]
	m.mu.RUnlock()
	if ok {
		return id, nil
	}

	v, err, _ := m.derive.Do(key, func() (interface{}, error) {
		id, err := compute()
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.idents[key] = id
		m.mu.Unlock()
		logger.Debug("identity derived", log.WithCommitment(id.Commitment.String()))
		return id, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Identity), nil
}

// Group returns the group for the circuit, creating it lazily on first
// access. Groups live until ClearCaches.
func (m *Manager) Group(circuitID string) *Group {
	m.mu.RLock()
	g, ok := m.groups[circuitID]
	m.mu.RUnlock()
	if ok {
		return g
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.groups[circuitID]; ok {
		return g
	}
	g = newGroup(circuitID, m.depth)
	m.groups[circuitID] = g
	logger.Debug("group created", log.WithGroupID(circuitID))
	return g
}

// KnownGroup returns the circuit's group only if it already exists,
// without creating it.
func (m *Manager) KnownGroup(circuitID string) (*Group, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[circuitID]
	return g, ok
}

// AddMember adds the identity's commitment to the circuit's group. Adding
// an existing member leaves size and root unchanged. Reports whether the
// member was newly added.
func (m *Manager) AddMember(circuitID string, id *Identity) (bool, error) {
	return m.Group(circuitID).Add(id.Commitment)
}

// HasMember reports whether the identity's commitment is in the group.
func (m *Manager) HasMember(circuitID string, id *Identity) bool {
	return m.Group(circuitID).Has(id.Commitment)
}

// GroupStats reports the circuit group's current shape, creating the group
// if it does not exist yet.
func (m *Manager) GroupStats(circuitID string) GroupStats {
	return m.Group(circuitID).Stats()
}

// ClearCaches drops every cached identity and group. Never called
// implicitly.
func (m *Manager) ClearCaches() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idents = make(map[string]*Identity)
	m.groups = make(map[string]*Group)
}

// fieldOf reduces the domain-tagged parts to one field element.
func fieldOf(domain string, parts ...string) (*big.Int, error) {
	preimage := strings.Join(append([]string{domain}, parts...), "|")
	v, err := poseidon.HashBytes([]byte(preimage))
	if err != nil {
		return nil, chainerr.NewEncodingFailed("seed material", err)
	}
	return v, nil
}
