package log

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log Fields.
const (
	FieldDID         = "did"
	FieldAddress     = "address"
	FieldChain       = "chain"
	FieldEndpoint    = "endpoint"
	FieldTxID        = "txID"
	FieldTxHash      = "txHash"
	FieldTxStatus    = "txStatus"
	FieldBlockHash   = "blockHash"
	FieldNonce       = "nonce"
	FieldFee         = "fee"
	FieldAttempt     = "attempt"
	FieldMaxAttempts = "maxAttempts"
	FieldBackoff     = "backoff"
	FieldPallet      = "pallet"
	FieldCall        = "call"
	FieldDocument    = "document"
	FieldCircuit     = "circuit"
	FieldGroupID     = "groupID"
	FieldGroupSize   = "groupSize"
	FieldMerkleRoot  = "merkleRoot"
	FieldCommitment  = "commitment"
	FieldNullifier   = "nullifier"
	FieldSignal      = "signal"
	FieldCredentials = "credentials"
	FieldTotal       = "total"
	FieldDuration    = "duration"
)

// WithDID sets the did field.
func WithDID(value string) zap.Field {
	return zap.String(FieldDID, value)
}

// WithAddress sets the address field.
func WithAddress(value string) zap.Field {
	return zap.String(FieldAddress, value)
}

// WithChain sets the chain field.
func WithChain(value string) zap.Field {
	return zap.String(FieldChain, value)
}

// WithEndpoint sets the endpoint field.
func WithEndpoint(value string) zap.Field {
	return zap.String(FieldEndpoint, value)
}

// WithTxID sets the tx-id field.
func WithTxID(value string) zap.Field {
	return zap.String(FieldTxID, value)
}

// WithTxHash sets the tx-hash field.
func WithTxHash(value string) zap.Field {
	return zap.String(FieldTxHash, value)
}

// WithTxStatus sets the tx-status field.
func WithTxStatus(value string) zap.Field {
	return zap.String(FieldTxStatus, value)
}

// WithBlockHash sets the block-hash field.
func WithBlockHash(value string) zap.Field {
	return zap.String(FieldBlockHash, value)
}

// WithNonce sets the nonce field.
func WithNonce(value uint64) zap.Field {
	return zap.Uint64(FieldNonce, value)
}

// WithFee sets the fee field.
func WithFee(value uint64) zap.Field {
	return zap.Uint64(FieldFee, value)
}

// WithAttempt sets the attempt field.
func WithAttempt(value int) zap.Field {
	return zap.Int(FieldAttempt, value)
}

// WithMaxAttempts sets the max-attempts field.
func WithMaxAttempts(value int) zap.Field {
	return zap.Int(FieldMaxAttempts, value)
}

// WithBackoff sets the backoff field.
func WithBackoff(value time.Duration) zap.Field {
	return zap.Duration(FieldBackoff, value)
}

// WithPallet sets the pallet field.
func WithPallet(value string) zap.Field {
	return zap.String(FieldPallet, value)
}

// WithCall sets the call field.
func WithCall(value string) zap.Field {
	return zap.String(FieldCall, value)
}

// WithDocument sets the document field.
func WithDocument(value interface{}) zap.Field {
	return zap.Inline(newJSONMarshaller(FieldDocument, value))
}

// WithCircuit sets the circuit field.
func WithCircuit(value string) zap.Field {
	return zap.String(FieldCircuit, value)
}

// WithGroupID sets the group-id field.
func WithGroupID(value string) zap.Field {
	return zap.String(FieldGroupID, value)
}

// WithGroupSize sets the group-size field.
func WithGroupSize(value int) zap.Field {
	return zap.Int(FieldGroupSize, value)
}

// WithMerkleRoot sets the merkle-root field.
func WithMerkleRoot(value string) zap.Field {
	return zap.String(FieldMerkleRoot, value)
}

// WithCommitment sets the commitment field.
func WithCommitment(value string) zap.Field {
	return zap.String(FieldCommitment, value)
}

// WithNullifier sets the nullifier field.
func WithNullifier(value string) zap.Field {
	return zap.String(FieldNullifier, value)
}

// WithSignal sets the signal field.
func WithSignal(value string) zap.Field {
	return zap.String(FieldSignal, value)
}

// WithCredentialTypes sets the credentials field.
func WithCredentialTypes(value ...string) zap.Field {
	return zap.Array(FieldCredentials, NewStringArrayMarshaller(value))
}

// WithTotal sets the total field.
func WithTotal(value int) zap.Field {
	return zap.Int(FieldTotal, value)
}

// WithDuration sets the duration field.
func WithDuration(value time.Duration) zap.Field {
	return zap.Duration(FieldDuration, value)
}

// WithError sets the error field.
func WithError(err error) zap.Field {
	return zap.Error(err)
}

type jsonMarshaller struct {
	key string
	obj interface{}
}

func newJSONMarshaller(key string, value interface{}) *jsonMarshaller {
	return &jsonMarshaller{key: key, obj: value}
}

func (m *jsonMarshaller) MarshalLogObject(e zapcore.ObjectEncoder) error {
	b, err := json.Marshal(m.obj)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	e.AddString(m.key, string(b))

	return nil
}

// StringArrayMarshaller marshals an array of strings into a log field.
type StringArrayMarshaller struct {
	values []string
}

// NewStringArrayMarshaller returns a new StringArrayMarshaller.
func NewStringArrayMarshaller(values []string) *StringArrayMarshaller {
	return &StringArrayMarshaller{values: values}
}

// MarshalLogArray marshals the array.
func (m *StringArrayMarshaller) MarshalLogArray(e zapcore.ArrayEncoder) error {
	for _, v := range m.values {
		e.AppendString(v)
	}

	return nil
}
