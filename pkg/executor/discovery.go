package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/timevault-hq/timevault-executor/pkg/ledger"
	"github.com/timevault-hq/timevault-executor/pkg/models"
)

// discoverDueTasks finds tasks ready for settlement. The creation-event log
// is the discovery surface; live task state is the filter. Each page is
// re-resolved against the ledger so tasks consumed since the event was
// emitted drop out instead of surfacing stale work.
func discoverDueTasks(ctx context.Context, client ledger.Client, pageSize int) ([]models.ScheduledTask, error) {
	events, err := client.QueryCreationEvents(ctx, pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to query creation events: %v", err)
	}
	if len(events) == 0 {
		return nil, nil
	}

	// Events arrive newest first. Walk them oldest first so earlier-created
	// tasks are dispatched before later ones.
	ids := make([]string, 0, len(events))
	seen := make(map[string]struct{}, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		id := events[i].TaskID
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	live, err := client.MultiGetTasks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve task state: %v", err)
	}

	now := time.Now().UnixMilli()
	due := make([]models.ScheduledTask, 0, len(live))
	for _, id := range ids {
		task, ok := live[id]
		if !ok {
			// Already executed or cancelled; the ledger deletes those.
			continue
		}
		if task.Status != models.StatusPending {
			continue
		}
		if task.ExecuteAt > now {
			continue
		}
		due = append(due, task)
	}
	return due, nil
}
