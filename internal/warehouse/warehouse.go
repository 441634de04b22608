// Package warehouse exports run metrics to Snowflake on an interval. The
// export is strictly one-way and best-effort: a failed sync logs and waits
// for the next tick.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/snowflakedb/gosnowflake" // snowflake driver

	"github.com/openfoia/case-engine/internal/config"
	"github.com/openfoia/case-engine/internal/pkg/logger"
	"github.com/openfoia/case-engine/internal/store"
)

// StatsSource is the store slice the exporter reads.
type StatsSource interface {
	CollectRunStats(ctx context.Context, since string) (*store.RunStats, error)
}

// Exporter pushes periodic run-stat rows into a Snowflake table.
type Exporter struct {
	source   StatsSource
	db       *sql.DB
	interval time.Duration
	now      func() time.Time
}

// NewExporter opens the Snowflake connection. Returns nil when the warehouse
// is not configured; callers skip starting the loop.
func NewExporter(cfg config.WarehouseConfig, source StatsSource) (*Exporter, error) {
	if !cfg.Enabled || cfg.Account == "" {
		return nil, nil
	}

	dsn := fmt.Sprintf("%s:%s@%s/%s/%s", cfg.User, cfg.Password, cfg.Account, cfg.Database, cfg.Schema)
	if cfg.Warehouse != "" {
		dsn += "?warehouse=" + cfg.Warehouse
	}
	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("open snowflake: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	logger.Info("warehouse export enabled",
		"account", cfg.Account, "database", cfg.Database, "interval", cfg.SyncInterval().String())
	return &Exporter{
		source:   source,
		db:       db,
		interval: cfg.SyncInterval(),
		now:      time.Now,
	}, nil
}

// Run exports on the configured interval until the context ends.
func (e *Exporter) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := e.db.Close(); err != nil {
				logger.Error("close snowflake failed", "error", err.Error())
			}
			return
		case <-ticker.C:
			if err := e.Export(ctx); err != nil {
				logger.Error("warehouse export failed", "error", err.Error())
			}
		}
	}
}

// Export collects stats for the last interval and writes one row.
func (e *Exporter) Export(ctx context.Context) error {
	since := fmt.Sprintf("%d seconds", int64(e.interval.Seconds()))
	stats, err := e.source.CollectRunStats(ctx, since)
	if err != nil {
		return fmt.Errorf("collect stats: %w", err)
	}

	_, err = e.db.ExecContext(ctx, `
		INSERT INTO CASE_ENGINE_RUN_STATS
			(COLLECTED_AT, WINDOW_SECONDS, RUNS_TOTAL, RUNS_COMPLETED, RUNS_PAUSED,
			 RUNS_FAILED, RUNS_SKIPPED, EXECUTIONS_SUCCEEDED, ESCALATIONS)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.now().UTC(), int64(e.interval.Seconds()),
		stats.Total, stats.Completed, stats.Paused,
		stats.Failed, stats.Skipped, stats.Executed, stats.Escalated)
	if err != nil {
		return fmt.Errorf("insert stats row: %w", err)
	}

	logger.Info("warehouse export completed",
		"runs", stats.Total, "completed", stats.Completed, "failed", stats.Failed)
	return nil
}
