package ledger

import "errors"

// Ledger abort codes. The error text mirrors the on-ledger abort names so
// that the executor's classifier sees the same strings whether the failure
// surfaces locally or through an RPC response body.
var (
	ErrContractPaused       = errors.New("ContractPaused: registry is paused")
	ErrInvalidExecutionTime = errors.New("InvalidExecutionTime: execute_at must be in the future")
	ErrFeeTooLow            = errors.New("FeeTooLow: fee below registry minimum")
	ErrInsufficientFunds    = errors.New("InsufficientFunds: payment does not cover the fee")
	ErrInvalidStatus        = errors.New("InvalidStatus: task is not in a state that permits this operation")
	ErrNotReadyYet          = errors.New("NotReadyYet: execution time has not been reached")
	ErrUnauthorized         = errors.New("Unauthorized: caller is not permitted")
	ErrTaskNotFound         = errors.New("TaskNotFound: task object not found")
)
