package models

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Protocol identifies a supported yield protocol. The set is closed: every
// switch over Protocol must be exhaustive so that adding a protocol is a
// compile-time checked extension.
type Protocol uint8

const (
	// ProtocolNone means the capital is not deployed anywhere.
	ProtocolNone Protocol = iota
	// ProtocolLendVault is the lending-vault protocol (interest-bearing deposits).
	ProtocolLendVault
	// ProtocolStakePool is the liquid-staking pool protocol.
	ProtocolStakePool
)

// String returns the canonical name of the protocol.
func (p Protocol) String() string {
	switch p {
	case ProtocolNone:
		return "none"
	case ProtocolLendVault:
		return "lend_vault"
	case ProtocolStakePool:
		return "stake_pool"
	}
	return fmt.Sprintf("protocol(%d)", uint8(p))
}

// ParseProtocol converts a stored protocol name back into the closed enum.
func ParseProtocol(s string) (Protocol, error) {
	switch s {
	case "none", "":
		return ProtocolNone, nil
	case "lend_vault":
		return ProtocolLendVault, nil
	case "stake_pool":
		return ProtocolStakePool, nil
	}
	return ProtocolNone, fmt.Errorf("unsupported protocol: %q", s)
}

// PositionRef holds the protocol-specific identifiers required to withdraw
// from a yield position. Which fields are mandatory depends on the protocol.
type PositionRef struct {
	Protocol   Protocol
	Market     string // lend vault market id
	PositionID string // object id of the position / stake receipt
	Shares     uint64 // share amount backing the position
}

// SwapConfig describes the optional exchange step between withdraw and
// settlement.
type SwapConfig struct {
	PoolID      string
	AToB        bool // swap direction within the pool's asset pair
	SlippageBps uint64
}

// YieldStrategyRecord is the off-ledger record keyed by task id. It is
// created when a yield-optimized task is scheduled and read by the executor
// at execution time. The executor mutates only HoldingProtocol and deletes
// the record once its task settles.
type YieldStrategyRecord struct {
	TaskID          string
	HoldingProtocol Protocol
	Position        PositionRef
	Swap            *SwapConfig // nil when no exchange step is configured
	TargetAddress   common.Address
	TargetAsset     string
}
