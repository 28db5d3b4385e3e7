// Package store persists YieldStrategyRecord entries keyed by task id. The
// records are written by the scheduling component; the executor reads one
// record per settlement, tracks the holding protocol, and deletes the record
// once its task settles.
package store

import (
	"context"
	"errors"

	"github.com/timevault-hq/timevault-executor/pkg/models"
)

// ErrRecordNotFound means no strategy record exists for the task id.
var ErrRecordNotFound = errors.New("strategy record not found")

// Store abstracts the strategy-record persistence.
type Store interface {
	// Put inserts or replaces a record.
	Put(ctx context.Context, rec models.YieldStrategyRecord) error

	// Get returns the record for a task id, or ErrRecordNotFound.
	Get(ctx context.Context, taskID string) (models.YieldStrategyRecord, error)

	// SetHoldingProtocol updates the holding-protocol field of a record.
	SetHoldingProtocol(ctx context.Context, taskID string, p models.Protocol) error

	// Delete removes a record. Missing records are not an error.
	Delete(ctx context.Context, taskID string) error

	Close() error
}
