// Package chainerr defines the error taxonomy shared by every component of
// the SDK: a category/severity classification, stable error codes, and the
// retry policy for failures that are worth retrying.
//
// Errors are constructed through one explicit constructor per kind so that
// the category and severity of each kind are fixed at compile time instead
// of being derived from code ranges at runtime.
package chainerr

import (
	"errors"
	"fmt"
	"time"
)

// Category classifies an error by the subsystem that produced it.
type Category string

const (
	// CategoryNetwork covers connectivity and RPC transport failures.
	CategoryNetwork Category = "network"
	// CategoryContract covers rejections by the DID pallet or contract.
	CategoryContract Category = "contract"
	// CategoryTransaction covers nonce, balance, and fee failures.
	CategoryTransaction Category = "transaction"
	// CategoryValidation covers malformed caller input.
	CategoryValidation Category = "validation"
	// CategoryUser covers account and key issues attributable to the end user.
	CategoryUser Category = "user"
	// CategoryConfiguration covers missing keys, artifacts, or addresses.
	CategoryConfiguration Category = "configuration"
)

// Severity grades how serious an error is for the embedding application.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Code identifies a specific error kind independent of its message text.
type Code string

const (
	CodeConnectionFailed   Code = "CONNECTION_FAILED"
	CodeRPCTimeout         Code = "RPC_TIMEOUT"
	CodeSubscriptionFailed Code = "SUBSCRIPTION_FAILED"

	CodeDIDNotFound      Code = "DID_NOT_FOUND"
	CodeDIDAlreadyExists Code = "DID_ALREADY_EXISTS"
	CodePalletCallFailed Code = "PALLET_CALL_FAILED"

	CodeInvalidNonce        Code = "INVALID_NONCE"
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	CodeFeeEstimationFailed Code = "FEE_ESTIMATION_FAILED"
	CodeTransactionFailed   Code = "TRANSACTION_FAILED"
	CodeTransactionDropped  Code = "TRANSACTION_DROPPED"
	CodeTransactionInvalid  Code = "TRANSACTION_INVALID"
	CodeConfirmationTimeout Code = "CONFIRMATION_TIMEOUT"
	CodeSubmissionFailed    Code = "SUBMISSION_FAILED"

	CodeInvalidDIDFormat   Code = "INVALID_DID_FORMAT"
	CodeInvalidPublicKey   Code = "INVALID_PUBLIC_KEY"
	CodeInvalidAddress     Code = "ADDRESS_VALIDATION_FAILED"
	CodeInvalidDocument    Code = "INVALID_DOCUMENT"
	CodeCredentialRequired Code = "CREDENTIAL_REQUIRED"
	CodeCredentialInvalid  Code = "CREDENTIAL_INVALID"
	CodeCircuitNotFound    Code = "CIRCUIT_NOT_FOUND"

	CodeSignatureRejected Code = "SIGNATURE_REJECTED"
	CodeUnknownAccount    Code = "UNKNOWN_ACCOUNT"

	CodeEncodingFailed        Code = "ENCODING_FAILED"
	CodeProofGenerationFailed Code = "PROOF_GENERATION_FAILED"
	CodeProverNotConfigured   Code = "PROVER_NOT_CONFIGURED"
	CodeChainNotConfigured    Code = "CHAIN_NOT_CONFIGURED"
)

// categorySeverity fixes the severity of each category.
var categorySeverity = map[Category]Severity{
	CategoryNetwork:       SeverityCritical,
	CategoryContract:      SeverityHigh,
	CategoryTransaction:   SeverityHigh,
	CategoryValidation:    SeverityMedium,
	CategoryUser:          SeverityLow,
	CategoryConfiguration: SeverityMedium,
}

// categoryName maps a category to the error name used in developer and log
// renderings.
var categoryName = map[Category]string{
	CategoryNetwork:       "NetworkError",
	CategoryContract:      "ContractError",
	CategoryTransaction:   "TransactionError",
	CategoryValidation:    "ValidationError",
	CategoryUser:          "UserError",
	CategoryConfiguration: "ConfigurationError",
}

// categoryUserMessage maps a category to the terse message shown to end
// users. These never leak internals.
var categoryUserMessage = map[Category]string{
	CategoryNetwork:       "Network connection problem. Please check your connection and try again.",
	CategoryContract:      "The operation was rejected by the chain. Please verify the DID state and try again.",
	CategoryTransaction:   "The transaction could not be completed. Please check your account and try again.",
	CategoryValidation:    "The provided input is invalid. Please correct it and retry.",
	CategoryUser:          "There is a problem with your account or keys.",
	CategoryConfiguration: "The service is not configured correctly. Please contact the operator.",
}

// Error is the value type carried by every component of the SDK. It records
// what kind of failure occurred, when, and with what context; the original
// cause remains reachable through errors.Unwrap.
type Error struct {
	Code      Code
	Category  Category
	Severity  Severity
	Timestamp time.Time

	msg     string
	cause   error
	context map[string]interface{}
}

func newError(category Category, code Code, msg string, cause error) *Error {
	return &Error{
		Code:      code,
		Category:  category,
		Severity:  categorySeverity[category],
		Timestamp: time.Now().UTC(),
		msg:       msg,
		cause:     cause,
	}
}

// Name returns the error name used in developer and log renderings,
// e.g. "NetworkError".
func (e *Error) Name() string {
	if n, ok := categoryName[e.Category]; ok {
		return n
	}
	return "BlockchainError"
}

// Error renders the developer message: "<Name> [<code>]: <message>".
func (e *Error) Error() string {
	return fmt.Sprintf("%s [%s]: %s", e.Name(), e.Code, e.msg)
}

// Message returns the bare message without the name/code framing.
func (e *Error) Message() string {
	return e.msg
}

// UserMessage renders the terse, category-level message suitable for end
// users. It never includes the underlying cause or context.
func (e *Error) UserMessage() string {
	if m, ok := categoryUserMessage[e.Category]; ok {
		return m
	}
	return "An unexpected error occurred. Please try again."
}

// LogMessage renders the full log line:
// "<Name> [<code>] [<severity>] [<category>]: <message>".
func (e *Error) LogMessage() string {
	return fmt.Sprintf("%s [%s] [%s] [%s]: %s", e.Name(), e.Code, e.Severity, e.Category, e.msg)
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports code equality so that errors.Is can match two taxonomy errors
// of the same kind regardless of their message text.
func (e *Error) Is(target error) bool {
	var te *Error
	if !errors.As(target, &te) {
		return false
	}
	return e.Code == te.Code
}

// WithContext attaches a key/value pair to the error and returns it.
// Context is carried into logs but never into user messages.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.context == nil {
		e.context = make(map[string]interface{})
	}
	e.context[key] = value
	return e
}

// Context returns the attached context map. The returned map is the error's
// own; callers must not mutate it after handing the error off.
func (e *Error) Context() map[string]interface{} {
	return e.context
}

// CategoryOf extracts the category from an error chain. Errors outside the
// taxonomy report an empty category.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return ""
}

// CodeOf extracts the code from an error chain. Errors outside the taxonomy
// report an empty code.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// -- Network --

// NewConnectionFailed wraps a failure to reach the chain endpoint.
func NewConnectionFailed(endpoint string, cause error) *Error {
	e := newError(CategoryNetwork, CodeConnectionFailed,
		fmt.Sprintf("failed to connect to %s", endpoint), cause)
	return e.WithContext("endpoint", endpoint)
}

// NewRPCTimeout wraps an RPC call that did not answer in time.
func NewRPCTimeout(op string, cause error) *Error {
	e := newError(CategoryNetwork, CodeRPCTimeout,
		fmt.Sprintf("RPC call %q timed out", op), cause)
	return e.WithContext("operation", op)
}

// NewSubscriptionFailed wraps a broken or refused status subscription.
func NewSubscriptionFailed(hash string, cause error) *Error {
	e := newError(CategoryNetwork, CodeSubscriptionFailed,
		fmt.Sprintf("status subscription for %s failed", hash), cause)
	return e.WithContext("extrinsicHash", hash)
}

// -- Contract / pallet --

// NewDIDNotFound reports that the target DID has no on-chain entry.
func NewDIDNotFound(did string) *Error {
	e := newError(CategoryContract, CodeDIDNotFound,
		fmt.Sprintf("DID not found: %s", did), nil)
	return e.WithContext("did", did)
}

// NewDIDAlreadyExists reports a registration conflict.
func NewDIDAlreadyExists(did string) *Error {
	e := newError(CategoryContract, CodeDIDAlreadyExists,
		fmt.Sprintf("DID already exists: %s", did), nil)
	return e.WithContext("did", did)
}

// NewPalletCallFailed wraps a dispatch error reported by the pallet.
func NewPalletCallFailed(module, reason string) *Error {
	e := newError(CategoryContract, CodePalletCallFailed,
		fmt.Sprintf("pallet %s rejected the call: %s", module, reason), nil)
	return e.WithContext("module", module)
}

// -- Transaction --

// NewInvalidNonce reports a stale or future nonce.
func NewInvalidNonce(address string, cause error) *Error {
	e := newError(CategoryTransaction, CodeInvalidNonce,
		fmt.Sprintf("invalid nonce for %s", address), cause)
	return e.WithContext("address", address)
}

// NewInsufficientBalance reports that the signer cannot cover the fee.
func NewInsufficientBalance(address string) *Error {
	e := newError(CategoryTransaction, CodeInsufficientBalance,
		fmt.Sprintf("insufficient balance on %s", address), nil)
	return e.WithContext("address", address)
}

// NewFeeEstimationFailed wraps a failed inclusion-fee query.
func NewFeeEstimationFailed(cause error) *Error {
	return newError(CategoryTransaction, CodeFeeEstimationFailed,
		"fee estimation failed", cause)
}

// NewSubmissionFailed wraps a rejected broadcast that is not a transport
// failure (the node answered, and said no).
func NewSubmissionFailed(reason string, cause error) *Error {
	return newError(CategoryTransaction, CodeSubmissionFailed,
		fmt.Sprintf("transaction submission rejected: %s", reason), cause)
}

// NewTransactionFailed reports a terminal on-chain failure.
func NewTransactionFailed(hash, reason string) *Error {
	e := newError(CategoryTransaction, CodeTransactionFailed,
		fmt.Sprintf("transaction %s failed: %s", hash, reason), nil)
	return e.WithContext("extrinsicHash", hash)
}

// NewTransactionDropped reports a transaction dropped from the pool.
func NewTransactionDropped(hash string) *Error {
	e := newError(CategoryTransaction, CodeTransactionDropped,
		fmt.Sprintf("transaction %s was dropped from the pool", hash), nil)
	return e.WithContext("extrinsicHash", hash)
}

// NewTransactionInvalid reports a transaction judged invalid by the node.
func NewTransactionInvalid(hash, reason string) *Error {
	e := newError(CategoryTransaction, CodeTransactionInvalid,
		fmt.Sprintf("transaction %s is invalid: %s", hash, reason), nil)
	return e.WithContext("extrinsicHash", hash)
}

// NewConfirmationTimeout reports that a confirmation wait expired. The
// underlying transaction remains outstanding on-chain; retrying blindly may
// double-execute, so this is not classified as retryable.
func NewConfirmationTimeout(hash string, timeout time.Duration) *Error {
	e := newError(CategoryTransaction, CodeConfirmationTimeout,
		fmt.Sprintf("transaction %s not finalized within %s", hash, timeout), nil)
	return e.WithContext("extrinsicHash", hash).WithContext("timeout", timeout.String())
}

// -- Validation --

// NewInvalidDIDFormat reports a DID string that does not parse.
func NewInvalidDIDFormat(did string) *Error {
	e := newError(CategoryValidation, CodeInvalidDIDFormat, "Invalid DID format", nil)
	return e.WithContext("did", did)
}

// NewInvalidPublicKey reports a DID whose embedded key does not decode.
func NewInvalidPublicKey(did string, cause error) *Error {
	e := newError(CategoryValidation, CodeInvalidPublicKey, "Invalid public key in DID", cause)
	return e.WithContext("did", did)
}

// NewAddressValidation reports an account address that does not parse under
// the chain's address format.
func NewAddressValidation(address string, cause error) *Error {
	e := newError(CategoryValidation, CodeInvalidAddress,
		fmt.Sprintf("invalid account address: %s", address), cause)
	return e.WithContext("address", address)
}

// NewInvalidDocument reports a DID document that violates its invariants.
func NewInvalidDocument(reason string) *Error {
	return newError(CategoryValidation, CodeInvalidDocument,
		fmt.Sprintf("invalid DID document: %s", reason), nil)
}

// NewCredentialRequired reports a proof request with no credentials.
func NewCredentialRequired() *Error {
	return newError(CategoryValidation, CodeCredentialRequired,
		"At least one credential is required", nil)
}

// NewCredentialInvalid reports a credential that fails circuit validation.
// The message deliberately does not say which field was missing.
func NewCredentialInvalid(circuitID string) *Error {
	e := newError(CategoryValidation, CodeCredentialInvalid,
		"Credential does not meet circuit requirements", nil)
	return e.WithContext("circuitId", circuitID)
}

// NewCircuitNotFound reports an unknown circuit id.
func NewCircuitNotFound(circuitID string) *Error {
	e := newError(CategoryValidation, CodeCircuitNotFound,
		fmt.Sprintf("unknown circuit: %s", circuitID), nil)
	return e.WithContext("circuitId", circuitID)
}

// -- User --

// NewSignatureRejected reports that the wallet declined to sign.
func NewSignatureRejected(address string, cause error) *Error {
	e := newError(CategoryUser, CodeSignatureRejected,
		"signature request was rejected", cause)
	return e.WithContext("address", address)
}

// NewUnknownAccount reports an account the chain has never seen.
func NewUnknownAccount(address string) *Error {
	e := newError(CategoryUser, CodeUnknownAccount,
		fmt.Sprintf("unknown account: %s", address), nil)
	return e.WithContext("address", address)
}

// -- Configuration --

// NewEncodingFailed wraps an internal codec failure (multibase, multicodec).
// These are fatal until fixed and never retryable.
func NewEncodingFailed(what string, cause error) *Error {
	return newError(CategoryConfiguration, CodeEncodingFailed,
		fmt.Sprintf("encoding failed: %s", what), cause)
}

// NewProofGenerationFailed wraps a proving-backend failure.
func NewProofGenerationFailed(reason string, cause error) *Error {
	return newError(CategoryConfiguration, CodeProofGenerationFailed,
		fmt.Sprintf("ZK-proof generation failed: %s", reason), cause)
}

// NewProverNotConfigured reports missing proving artifacts or backend.
func NewProverNotConfigured(what string) *Error {
	return newError(CategoryConfiguration, CodeProverNotConfigured,
		fmt.Sprintf("proving backend not configured: %s", what), nil)
}

// NewChainNotConfigured reports missing chain connectivity configuration.
func NewChainNotConfigured(what string) *Error {
	return newError(CategoryConfiguration, CodeChainNotConfigured,
		fmt.Sprintf("chain not configured: %s", what), nil)
}
