// Package chainclient defines the adapter contract between the SDK and a
// chain node, plus the two shipped implementations: Gateway (JSON-RPC over
// HTTP with WebSocket status subscriptions) and Sim (an in-memory chain with
// a DID pallet, for tests and local development).
//
// The SDK core talks to this interface only. Applications that already have
// their own node client implement Client once and plug it in.
package chainclient

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Client is the adapter every chain backend implements. Query returns nil
// (not an error) when the storage entry is absent. SubscribeStatus returns
// an unsubscribe function; updates stop after a terminal status or after
// unsubscribe, whichever comes first.
type Client interface {
	Connect(ctx context.Context) (*ChainInfo, error)
	Disconnect() error
	Query(ctx context.Context, pallet, item string, key []byte) ([]byte, error)
	EstimateFee(ctx context.Context, call Call, signerAddress string) (Fee, error)
	Submit(ctx context.Context, ext *Extrinsic) (string, error)
	SubscribeStatus(ctx context.Context, hash string, fn func(StatusUpdate)) (func(), error)
	Nonce(ctx context.Context, address string) (uint64, error)
	ValidateAddress(address string) bool
}

// ChainInfo describes the connected chain.
type ChainInfo struct {
	Name           string `json:"name"`
	Network        string `json:"network"`
	GenesisHash    string `json:"genesisHash"`
	RuntimeVersion uint32 `json:"runtimeVersion"`
	BlockHeight    uint64 `json:"blockHeight"`
	TokenSymbol    string `json:"tokenSymbol"`
	TokenDecimals  uint8  `json:"tokenDecimals"`
}

// Call is a pallet dispatch before signing.
type Call struct {
	Pallet string                 `json:"pallet"`
	Method string                 `json:"method"`
	Args   map[string]interface{} `json:"args,omitempty"`
}

// Encode renders the call deterministically. encoding/json writes map keys
// in sorted order, so equal calls always encode to equal bytes.
func (c Call) Encode() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode call %s.%s: %w", c.Pallet, c.Method, err)
	}
	return data, nil
}

// Size returns the encoded length of the call in bytes.
func (c Call) Size() (int, error) {
	data, err := c.Encode()
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// Fee is an estimated or charged inclusion fee in the chain's smallest unit.
type Fee struct {
	Amount   uint64 `json:"amount"`
	Currency string `json:"currency"`
}

// StatusKind is a node-reported lifecycle stage of a submitted extrinsic.
type StatusKind string

const (
	StatusBroadcast StatusKind = "broadcast"
	StatusInBlock   StatusKind = "inBlock"
	StatusFinalized StatusKind = "finalized"
	StatusDropped   StatusKind = "dropped"
	StatusInvalid   StatusKind = "invalid"
	StatusFailed    StatusKind = "failed"
)

// Terminal reports whether no further updates follow this status.
func (k StatusKind) Terminal() bool {
	switch k {
	case StatusFinalized, StatusDropped, StatusInvalid, StatusFailed:
		return true
	}
	return false
}

// Event is a runtime event emitted while executing an extrinsic.
type Event struct {
	Pallet string                 `json:"pallet"`
	Method string                 `json:"method"`
	Data   map[string]interface{} `json:"data,omitempty"`
}

// StatusUpdate is one entry of a status subscription stream. Block fields
// are set from inBlock onward; Error is set on failed and invalid.
type StatusUpdate struct {
	Hash        string     `json:"hash"`
	Kind        StatusKind `json:"kind"`
	BlockHash   string     `json:"blockHash,omitempty"`
	BlockNumber uint64     `json:"blockNumber,omitempty"`
	Events      []Event    `json:"events,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Extrinsic is a signed call ready for submission.
type Extrinsic struct {
	Call      Call   `json:"call"`
	Signer    string `json:"signer"`
	Nonce     uint64 `json:"nonce"`
	Signature []byte `json:"signature"`
}

// SigningPayload returns the 32-byte digest the account holder signs:
// blake2b-256 over the encoded call, the signer address, and the nonce.
func (e *Extrinsic) SigningPayload() ([]byte, error) {
	callData, err := e.Call.Encode()
	if err != nil {
		return nil, err
	}
	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}
	h.Write(callData)
	h.Write([]byte(e.Signer))
	var nonce [8]byte
	for i := 0; i < 8; i++ {
		nonce[i] = byte(e.Nonce >> (8 * i))
	}
	h.Write(nonce[:])
	return h.Sum(nil), nil
}

// Encode renders the full signed extrinsic deterministically.
func (e *Extrinsic) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode extrinsic: %w", err)
	}
	return data, nil
}

// Hash returns the extrinsic hash as 0x-prefixed hex of the blake2b-256
// digest of the encoded extrinsic. Signature changes change the hash.
func (e *Extrinsic) Hash() (string, error) {
	data, err := e.Encode()
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(data)
	return "0x" + hex.EncodeToString(sum[:]), nil
}
