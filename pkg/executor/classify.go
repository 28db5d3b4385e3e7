package executor

import (
	"errors"
	"strings"

	"github.com/timevault-hq/timevault-executor/pkg/compose"
	"github.com/timevault-hq/timevault-executor/pkg/store"
)

// ErrorType is the classification of a settlement failure. It decides
// whether and how the attempt is retried.
type ErrorType string

const (
	// ErrorTypeInsufficientGas covers gas estimation and gas funding errors.
	ErrorTypeInsufficientGas ErrorType = "insufficient_gas"
	// ErrorTypeNetwork covers RPC/connectivity failures and timeouts.
	ErrorTypeNetwork ErrorType = "network_error"
	// ErrorTypeObjectNotFound means the task was already consumed - terminal.
	ErrorTypeObjectNotFound ErrorType = "object_not_found"
	// ErrorTypeTimeNotReady is a scheduling race - retry immediately.
	ErrorTypeTimeNotReady ErrorType = "time_not_ready"
	// ErrorTypeContractPaused means the registry is paused - long backoff.
	ErrorTypeContractPaused ErrorType = "contract_paused"
	// ErrorTypeFatal covers security-sensitive failures requiring operator
	// correction. Never retried automatically.
	ErrorTypeFatal ErrorType = "fatal"
	// ErrorTypeUnknown is everything else - standard backoff.
	ErrorTypeUnknown ErrorType = "unknown_error"
)

// fatalSentinels are typed errors that must never be retried: missing or
// invalid authorization data is corrected by an operator, not by waiting.
var fatalSentinels = []error{
	compose.ErrInvalidSlippage,
	compose.ErrZeroMinOut,
	compose.ErrInvalidPositionRef,
	compose.ErrUnsupportedProtocol,
	compose.ErrMissingTarget,
	compose.ErrDanglingFunds,
	compose.ErrSponsorIsSender,
	store.ErrRecordNotFound,
}

// Classify maps a settlement failure to its error type. Typed sentinels are
// checked first; raw RPC failure text is matched the rest of the way.
func Classify(err error) ErrorType {
	for _, sentinel := range fatalSentinels {
		if errors.Is(err, sentinel) {
			return ErrorTypeFatal
		}
	}

	errStr := err.Error()

	// Scheduling race: the scan saw the task as due, the ledger disagreed.
	if strings.Contains(errStr, "NotReadyYet") {
		return ErrorTypeTimeNotReady
	}

	if strings.Contains(errStr, "ContractPaused") || strings.Contains(errStr, "paused") {
		return ErrorTypeContractPaused
	}

	// Gas budget violations are an anti-drain control, not a transient state.
	if strings.Contains(errStr, "gas budget") {
		return ErrorTypeFatal
	}

	// Missing protocol objects mean the strategy data is wrong, not stale.
	if strings.Contains(errStr, "position not found") ||
		strings.Contains(errStr, "pool not found") {
		return ErrorTypeFatal
	}

	// Corrupt routing data cannot be fixed by waiting.
	if strings.Contains(errStr, "malformed metadata") {
		return ErrorTypeFatal
	}

	// Task already consumed or no longer Pending - benign, the ledger
	// deletes tasks on first successful execution.
	if strings.Contains(errStr, "TaskNotFound") ||
		strings.Contains(errStr, "InvalidStatus") ||
		strings.Contains(errStr, "already consumed") {
		return ErrorTypeObjectNotFound
	}

	// Network/RPC errors - retry is appropriate.
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "context deadline exceeded") ||
		strings.Contains(errStr, "timed out") ||
		strings.Contains(errStr, "no response") ||
		strings.Contains(errStr, "EOF") {
		return ErrorTypeNetwork
	}

	// Gas-related errors - retry may help once prices or balances change.
	if strings.Contains(errStr, "gas required exceeds") ||
		strings.Contains(errStr, "insufficient funds for gas") ||
		strings.Contains(errStr, "gas price too low") ||
		strings.Contains(errStr, "insufficient gas") {
		return ErrorTypeInsufficientGas
	}

	return ErrorTypeUnknown
}

// IsRetryable reports whether a failure of this type should be retried.
func (t ErrorType) IsRetryable() bool {
	switch t {
	case ErrorTypeFatal, ErrorTypeObjectNotFound:
		return false
	}
	return true
}

// IsTerminal reports whether the failure ends processing of the task
// without an alert: the task was consumed by someone else.
func (t ErrorType) IsTerminal() bool {
	return t == ErrorTypeObjectNotFound
}
