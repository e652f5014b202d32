package credential

import (
	"crypto/sha256"
	"fmt"

	"github.com/piprate/json-gold/ld"
)

// ProcessorOpt represents an option for JSON-LD processing.
type ProcessorOpt func(*ProcessorOptions)

// ProcessorOptions holds configuration for JSON-LD processing.
type ProcessorOptions struct {
	documentLoader ld.DocumentLoader
	algorithm      string
}

// WithDocumentLoader sets the document loader for JSON-LD processing.
func WithDocumentLoader(loader ld.DocumentLoader) ProcessorOpt {
	return func(p *ProcessorOptions) {
		p.documentLoader = loader
	}
}

// WithAlgorithm sets the canonicalization algorithm.
func WithAlgorithm(alg string) ProcessorOpt {
	return func(p *ProcessorOptions) {
		p.algorithm = alg
	}
}

// defaultDocumentLoader is a shared caching loader to prevent repeated
// fetches of remote contexts across calls.
var defaultDocumentLoader ld.DocumentLoader

func init() {
	defaultDocumentLoader = ld.NewCachingDocumentLoader(ld.NewDefaultDocumentLoader(nil))
}

// CanonicalizeDocument canonicalizes a JSON-LD document to n-quads.
func CanonicalizeDocument(doc map[string]interface{}, opts ...ProcessorOpt) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("failed to canonicalize document: document is nil")
	}

	procOpts := &ProcessorOptions{
		documentLoader: defaultDocumentLoader,
		algorithm:      ld.AlgorithmURDNA2015,
	}
	for _, opt := range opts {
		opt(procOpts)
	}

	jsonldOptions := ld.NewJsonLdOptions("")
	jsonldOptions.Format = "application/n-quads"
	jsonldOptions.Algorithm = procOpts.algorithm
	jsonldOptions.DocumentLoader = procOpts.documentLoader

	canonicalized, err := ld.NewJsonLdProcessor().Normalize(doc, jsonldOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize document: %w", err)
	}

	result, ok := canonicalized.(string)
	if !ok {
		return nil, fmt.Errorf("failed to normalize document: unexpected result type %T", canonicalized)
	}
	return []byte(result), nil
}

// ComputeDigest computes the SHA-256 digest of the input data.
func ComputeDigest(data []byte) []byte {
	hash := sha256.Sum256(data)
	return hash[:]
}

// Fingerprint returns a stable digest of the credential content with the
// proof removed: the SHA-256 of its canonical JSON-LD form. Credentials
// with the same content fingerprint identically regardless of key order or
// proof representation.
func (c Credential) Fingerprint(opts ...ProcessorOpt) ([]byte, error) {
	unsigned := make(map[string]interface{}, len(c))
	for k, v := range c {
		if k != "proof" {
			unsigned[k] = v
		}
	}

	canonical, err := CanonicalizeDocument(unsigned, opts...)
	if err != nil {
		return nil, fmt.Errorf("fingerprint credential: %w", err)
	}
	return ComputeDigest(canonical), nil
}
