// Package identitysdk bundles the SDK's building blocks behind one handle:
// a chain client, the on-chain DID registry, and the zero-knowledge proof
// service. Every piece stays usable on its own; the handle only wires
// defaults, so the zero-option form runs fully in memory against the Sim
// backend.
package identitysdk

import (
	"context"

	"github.com/identikit/go-identity-sdk/chain"
	"github.com/identikit/go-identity-sdk/chainclient"
	"github.com/identikit/go-identity-sdk/didchain"
	"github.com/identikit/go-identity-sdk/internal/log"
	"github.com/identikit/go-identity-sdk/zkid"
	"github.com/identikit/go-identity-sdk/zkproof"
)

var logger = log.New("sdk")

// SDK is the composition root. Construct with New, call Connect before any
// chain operation, then share freely; proof operations work without a
// connection.
type SDK struct {
	client   chainclient.Client
	spec     chain.Spec
	registry *didchain.Registry
	proofs   *zkproof.Service
	info     *chainclient.ChainInfo
}

// Option configures an SDK handle.
type Option func(*SDK)

// WithClient plugs in a chain backend. Defaults to an in-memory Sim built
// for the handle's chain spec.
func WithClient(c chainclient.Client) Option {
	return func(s *SDK) {
		s.client = c
	}
}

// WithChainSpec selects the chain the DID registry targets. Defaults to
// the substrate spec.
func WithChainSpec(spec chain.Spec) Option {
	return func(s *SDK) {
		s.spec = spec
	}
}

// WithProofService shares a preconfigured proof service, typically one
// carrying a production proving backend or a shared identity manager.
func WithProofService(p *zkproof.Service) Option {
	return func(s *SDK) {
		s.proofs = p
	}
}

// New assembles a handle.
func New(opts ...Option) *SDK {
	s := &SDK{spec: chain.Substrate()}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = chainclient.NewSim(chainclient.WithSimSpec(s.spec))
	}
	if s.proofs == nil {
		s.proofs = zkproof.NewService()
	}
	s.registry = didchain.NewRegistry(s.client, didchain.WithSpec(s.spec))
	return s
}

// Connect dials the chain and reports what answered.
func (s *SDK) Connect(ctx context.Context) (*chainclient.ChainInfo, error) {
	info, err := s.client.Connect(ctx)
	if err != nil {
		return nil, err
	}
	s.info = info
	logger.Info("chain connected", log.WithChain(info.Name))
	return info, nil
}

// Close releases the chain connection. Proof state survives; a closed
// handle can reconnect.
func (s *SDK) Close() error {
	return s.client.Disconnect()
}

// Client returns the chain backend the handle was built on.
func (s *SDK) Client() chainclient.Client {
	return s.client
}

// Registry returns the on-chain DID registry.
func (s *SDK) Registry() *didchain.Registry {
	return s.registry
}

// Proofs returns the zero-knowledge proof service.
func (s *SDK) Proofs() *zkproof.Service {
	return s.proofs
}

// Identities returns the identity manager behind the proof service.
func (s *SDK) Identities() *zkid.Manager {
	return s.proofs.Identities()
}

// ChainInfo returns what the last successful Connect reported, nil before
// the first connection.
func (s *SDK) ChainInfo() *chainclient.ChainInfo {
	return s.info
}
