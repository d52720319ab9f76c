package chain

// Bitcoin Core RPC error codes the tracker needs to recognize.
const (
	CodeMiscError          = -1
	CodeWalletError        = -4
	CodeInvalidAddressKey  = -5
	CodeInvalidLabelName   = -11
	CodeWalletNotFound     = -18
	CodeInWarmup           = -28
	CodeWalletAlreadyExist = -4 // createwallet reuses the generic wallet error
	CodeMethodNotFound     = -32601
)

// IsWarmingUp reports whether err is bitcoind's "still warming up" error.
func IsWarmingUp(err error) bool { return ErrorCode(err) == CodeInWarmup }
