package chainclient

// DID pallet protocol. Call builders and backends must agree on these names;
// the gateway passes them through opaquely, the sim dispatches on them.
const (
	PalletDID   = "did"
	StorageDIDs = "dids"

	CallRegisterDID           = "register_did"
	CallUpdateDID             = "update_did"
	CallAddVerificationMethod = "add_verification_method"
	CallAddService            = "add_service"

	ArgDID      = "did"
	ArgDocument = "document"
)

// Dispatch error names reported by the DID pallet.
const (
	DispatchDIDAlreadyExists = "DidAlreadyExists"
	DispatchDIDNotFound      = "DidNotFound"
	DispatchCallNotFound     = "CallNotFound"
	DispatchPalletNotFound   = "PalletNotFound"
)
