package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"

	"github.com/timevault-hq/timevault-executor/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS strategy_records (
	task_id          TEXT PRIMARY KEY,
	holding_protocol TEXT NOT NULL,
	position_json    TEXT NOT NULL,
	swap_json        TEXT,
	target_address   TEXT NOT NULL,
	target_asset     TEXT NOT NULL
);
`

// SQLite is a Store backed by a local sqlite database.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the strategy store at path.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store dir: %v", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %v", err)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate strategy store: %v", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Put(ctx context.Context, rec models.YieldStrategyRecord) error {
	positionJSON, err := json.Marshal(rec.Position)
	if err != nil {
		return fmt.Errorf("failed to encode position: %v", err)
	}
	var swapJSON sql.NullString
	if rec.Swap != nil {
		raw, err := json.Marshal(rec.Swap)
		if err != nil {
			return fmt.Errorf("failed to encode swap config: %v", err)
		}
		swapJSON = sql.NullString{String: string(raw), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO strategy_records
		 (task_id, holding_protocol, position_json, swap_json, target_address, target_asset)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.TaskID, rec.HoldingProtocol.String(), string(positionJSON), swapJSON,
		rec.TargetAddress.Hex(), rec.TargetAsset,
	)
	return err
}

func (s *SQLite) Get(ctx context.Context, taskID string) (models.YieldStrategyRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT holding_protocol, position_json, swap_json, target_address, target_asset
		 FROM strategy_records WHERE task_id = ?`, taskID)

	var (
		holding      string
		positionJSON string
		swapJSON     sql.NullString
		target       string
		asset        string
	)
	if err := row.Scan(&holding, &positionJSON, &swapJSON, &target, &asset); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.YieldStrategyRecord{}, ErrRecordNotFound
		}
		return models.YieldStrategyRecord{}, err
	}

	protocol, err := models.ParseProtocol(holding)
	if err != nil {
		return models.YieldStrategyRecord{}, fmt.Errorf("corrupt record for task %s: %w", taskID, err)
	}

	rec := models.YieldStrategyRecord{
		TaskID:          taskID,
		HoldingProtocol: protocol,
		TargetAddress:   common.HexToAddress(target),
		TargetAsset:     asset,
	}
	if err := json.Unmarshal([]byte(positionJSON), &rec.Position); err != nil {
		return models.YieldStrategyRecord{}, fmt.Errorf("corrupt position for task %s: %v", taskID, err)
	}
	if swapJSON.Valid {
		var swap models.SwapConfig
		if err := json.Unmarshal([]byte(swapJSON.String), &swap); err != nil {
			return models.YieldStrategyRecord{}, fmt.Errorf("corrupt swap config for task %s: %v", taskID, err)
		}
		rec.Swap = &swap
	}
	return rec, nil
}

func (s *SQLite) SetHoldingProtocol(ctx context.Context, taskID string, p models.Protocol) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE strategy_records SET holding_protocol = ? WHERE task_id = ?`,
		p.String(), taskID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM strategy_records WHERE task_id = ?`, taskID)
	return err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
