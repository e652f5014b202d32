package zkid

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/iden3/go-iden3-crypto/poseidon"

	"github.com/identikit/go-identity-sdk/chainerr"
	"github.com/identikit/go-identity-sdk/internal/log"
)

// Group is a fixed-depth Poseidon Merkle tree of identity commitments.
// Append-only with set semantics; every mutation recomputes the root under
// the group's lock, so Root always reflects exactly the current members.
type Group struct {
	circuitID string
	depth     int
	zeros     []*big.Int

	mu     sync.RWMutex
	leaves []*big.Int
	index  map[string]int
	root   *big.Int
}

// GroupStats is a point-in-time snapshot of a group's shape.
type GroupStats struct {
	CircuitID string `json:"circuitId"`
	Depth     int    `json:"depth"`
	Capacity  int    `json:"capacity"`
	Size      int    `json:"size"`
	Root      string `json:"root"`
}

func newGroup(circuitID string, depth int) *Group {
	// zeros[d] is the root of an empty subtree of height d.
	zeros := make([]*big.Int, depth+1)
	zeros[0] = big.NewInt(0)
	for d := 1; d <= depth; d++ {
		h, err := poseidon.Hash([]*big.Int{zeros[d-1], zeros[d-1]})
		if err != nil {
			panic(err)
		}
		zeros[d] = h
	}
	return &Group{
		circuitID: circuitID,
		depth:     depth,
		zeros:     zeros,
		index:     make(map[string]int),
		root:      zeros[depth],
	}
}

// CircuitID returns the circuit this group belongs to.
func (g *Group) CircuitID() string {
	return g.circuitID
}

// Depth returns the tree depth.
func (g *Group) Depth() int {
	return g.depth
}

// Capacity returns the maximum member count.
func (g *Group) Capacity() int {
	return 1 << g.depth
}

// Size returns the current member count.
func (g *Group) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.leaves)
}

// Root returns the current Merkle root.
func (g *Group) Root() *big.Int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return new(big.Int).Set(g.root)
}

// Has reports whether the commitment is a member.
func (g *Group) Has(commitment *big.Int) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.index[commitment.String()]
	return ok
}

// Stats snapshots the group.
func (g *Group) Stats() GroupStats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return GroupStats{
		CircuitID: g.circuitID,
		Depth:     g.depth,
		Capacity:  1 << g.depth,
		Size:      len(g.leaves),
		Root:      g.root.String(),
	}
}

// Add inserts the commitment unless it is already a member. Reports
// whether it was newly added.
func (g *Group) Add(commitment *big.Int) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := commitment.String()
	if _, ok := g.index[key]; ok {
		return false, nil
	}
	if len(g.leaves) >= 1<<g.depth {
		return false, chainerr.NewProofGenerationFailed(fmt.Sprintf("group %s is full", g.circuitID), nil)
	}

	g.leaves = append(g.leaves, new(big.Int).Set(commitment))
	g.index[key] = len(g.leaves) - 1
	if err := g.recomputeLocked(); err != nil {
		// a failed append must not leave a stale root
		delete(g.index, key)
		g.leaves = g.leaves[:len(g.leaves)-1]
		return false, err
	}
	logger.Debug("group member added",
		log.WithGroupID(g.circuitID),
		log.WithGroupSize(len(g.leaves)),
		log.WithMerkleRoot(g.root.String()))
	return true, nil
}

// recomputeLocked rebuilds the root bottom-up, padding odd positions with
// the zero subtree of the current height.
func (g *Group) recomputeLocked() error {
	if len(g.leaves) == 0 {
		g.root = g.zeros[g.depth]
		return nil
	}

	level := make([]*big.Int, len(g.leaves))
	copy(level, g.leaves)
	for d := 0; d < g.depth; d++ {
		next := make([]*big.Int, (len(level)+1)/2)
		for i := range next {
			left := level[2*i]
			right := g.zeros[d]
			if 2*i+1 < len(level) {
				right = level[2*i+1]
			}
			h, err := poseidon.Hash([]*big.Int{left, right})
			if err != nil {
				return chainerr.NewEncodingFailed("merkle level", err)
			}
			next[i] = h
		}
		level = next
	}
	g.root = level[0]
	return nil
}

// MerkleProof authenticates one leaf against a root. PathIndices holds the
// leaf side per level, 0 for left and 1 for right.
type MerkleProof struct {
	Root        *big.Int
	Leaf        *big.Int
	Siblings    []*big.Int
	PathIndices []int
}

// ProofOfMembership builds the Merkle proof for the commitment against the
// group's current root.
func (g *Group) ProofOfMembership(commitment *big.Int) (*MerkleProof, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	pos, ok := g.index[commitment.String()]
	if !ok {
		return nil, chainerr.NewProofGenerationFailed("identity is not a member of the group", nil)
	}

	proof := &MerkleProof{
		Root:        new(big.Int).Set(g.root),
		Leaf:        new(big.Int).Set(commitment),
		Siblings:    make([]*big.Int, g.depth),
		PathIndices: make([]int, g.depth),
	}

	level := make([]*big.Int, len(g.leaves))
	copy(level, g.leaves)
	for d := 0; d < g.depth; d++ {
		sib := pos ^ 1
		if sib < len(level) {
			proof.Siblings[d] = new(big.Int).Set(level[sib])
		} else {
			proof.Siblings[d] = new(big.Int).Set(g.zeros[d])
		}
		proof.PathIndices[d] = pos & 1

		next := make([]*big.Int, (len(level)+1)/2)
		for i := range next {
			left := level[2*i]
			right := g.zeros[d]
			if 2*i+1 < len(level) {
				right = level[2*i+1]
			}
			h, err := poseidon.Hash([]*big.Int{left, right})
			if err != nil {
				return nil, chainerr.NewEncodingFailed("merkle level", err)
			}
			next[i] = h
		}
		level = next
		pos >>= 1
	}
	return proof, nil
}

// Valid recomputes the path and reports whether it lands on the proof's
// root. A malformed proof is invalid, never an error.
func (p *MerkleProof) Valid() bool {
	if p == nil || p.Root == nil || p.Leaf == nil || len(p.Siblings) != len(p.PathIndices) {
		return false
	}
	node := p.Leaf
	for d, sib := range p.Siblings {
		if sib == nil {
			return false
		}
		var (
			h   *big.Int
			err error
		)
		if p.PathIndices[d] == 0 {
			h, err = poseidon.Hash([]*big.Int{node, sib})
		} else {
			h, err = poseidon.Hash([]*big.Int{sib, node})
		}
		if err != nil {
			return false
		}
		node = h
	}
	return node.Cmp(p.Root) == 0
}
