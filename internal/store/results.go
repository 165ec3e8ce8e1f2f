package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"   // PostgreSQL driver.
	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"emagrid/internal/domain"
)

// Supported ResultStore drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
    id                     TEXT PRIMARY KEY,
    created_at             BIGINT           NOT NULL,
    strategy               TEXT             NOT NULL,
    data_file              TEXT             NOT NULL,
    fast_min               INTEGER          NOT NULL,
    fast_max               INTEGER          NOT NULL,
    slow_min               INTEGER          NOT NULL,
    slow_max               INTEGER          NOT NULL,
    fee_pct                DOUBLE PRECISION NOT NULL,
    min_trades             INTEGER          NOT NULL,
    runs                   INTEGER          NOT NULL,
    feasible               INTEGER          NOT NULL,
    elapsed_ms             BIGINT           NOT NULL,
    truncated              BOOLEAN          NOT NULL,
    has_result             BOOLEAN          NOT NULL,
    fast                   INTEGER          NOT NULL DEFAULT 0,
    slow                   INTEGER          NOT NULL DEFAULT 0,
    final_wallet           DOUBLE PRECISION NOT NULL DEFAULT 0,
    gain_pct               DOUBLE PRECISION NOT NULL DEFAULT 0,
    win_rate_pct           DOUBLE PRECISION NOT NULL DEFAULT 0,
    max_drawdown_pct       DOUBLE PRECISION NOT NULL DEFAULT 0,
    gain_over_ddc          DOUBLE PRECISION NOT NULL DEFAULT 0,
    score                  DOUBLE PRECISION NOT NULL DEFAULT 0,
    trade_count            INTEGER          NOT NULL DEFAULT 0,
    fees_paid              DOUBLE PRECISION NOT NULL DEFAULT 0,
    max_days_between_highs DOUBLE PRECISION NOT NULL DEFAULT 0
)`,
	`CREATE TABLE IF NOT EXISTS yearly_gains (
    run_id TEXT             NOT NULL,
    year   INTEGER          NOT NULL,
    pct    DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (run_id, year)
)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at DESC)`,
}

// Run is a persisted search run. The result columns are meaningful only
// when HasResult is set.
type Run struct {
	ID        string
	CreatedAt time.Time
	Strategy  string
	DataFile  string
	FastMin   int
	FastMax   int
	SlowMin   int
	SlowMax   int
	FeePct    float64
	MinTrades int
	Runs      int
	Feasible  int
	Elapsed   time.Duration
	Truncated bool

	HasResult           bool
	Fast                int
	Slow                int
	FinalWallet         float64
	GainPct             float64
	WinRatePct          float64
	MaxDrawdownPct      float64
	GainOverDDC         float64
	Score               float64
	TradeCount          int
	FeesPaid            float64
	MaxDaysBetweenHighs float64
	YearlyGains         []domain.YearlyGain
}

// SetResult copies the best result into the run.
func (r *Run) SetResult(res *domain.BacktestResult) {
	if res == nil {
		r.HasResult = false
		return
	}
	r.HasResult = true
	r.Fast = res.Pair.Fast
	r.Slow = res.Pair.Slow
	r.FinalWallet = res.FinalWallet
	r.GainPct = res.GainPct
	r.WinRatePct = res.WinRatePct
	r.MaxDrawdownPct = res.MaxDrawdownPct
	r.GainOverDDC = res.GainOverDDC
	r.Score = res.Score
	r.TradeCount = res.TradeCount
	r.FeesPaid = res.FeesPaid
	r.MaxDaysBetweenHighs = res.MaxDaysBetweenHighs
	r.YearlyGains = append([]domain.YearlyGain(nil), res.YearlyGains...)
}

// Compile-time interface check.
var _ RunStore = (*ResultStore)(nil)

// ResultStore implements RunStore on database/sql, backed by SQLite or
// PostgreSQL.
type ResultStore struct {
	db     *sql.DB
	driver string
}

// OpenResultStore opens the database and applies the schema. For SQLite dsn
// is a file path.
func OpenResultStore(ctx context.Context, driver, dsn string) (*ResultStore, error) {
	switch driver {
	case DriverSQLite:
		if err := ensureDir(dsn); err != nil {
			return nil, fmt.Errorf("store.OpenResultStore: %w", err)
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("store.OpenResultStore: unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store.OpenResultStore: open: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1) // single writer
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("store.OpenResultStore: apply schema: %w", err)
		}
	}
	return &ResultStore{db: db, driver: driver}, nil
}

// Close closes the underlying database connection.
func (s *ResultStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders as $1, $2, ... for PostgreSQL.
func (s *ResultStore) rebind(q string) string {
	if s.driver != DriverPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const runColumns = `id, created_at, strategy, data_file, fast_min, fast_max, slow_min, slow_max,
    fee_pct, min_trades, runs, feasible, elapsed_ms, truncated, has_result,
    fast, slow, final_wallet, gain_pct, win_rate_pct, max_drawdown_pct,
    gain_over_ddc, score, trade_count, fees_paid, max_days_between_highs`

// SaveRun inserts run and its yearly gains in one transaction.
func (s *ResultStore) SaveRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		return errors.New("store.SaveRun: empty run id")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store.SaveRun: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO runs (`+runColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		run.ID, run.CreatedAt.UnixMilli(), run.Strategy, run.DataFile,
		run.FastMin, run.FastMax, run.SlowMin, run.SlowMax,
		run.FeePct, run.MinTrades, run.Runs, run.Feasible, run.Elapsed.Milliseconds(),
		run.Truncated, run.HasResult,
		run.Fast, run.Slow, run.FinalWallet, run.GainPct, run.WinRatePct, run.MaxDrawdownPct,
		run.GainOverDDC, run.Score, run.TradeCount, run.FeesPaid, run.MaxDaysBetweenHighs,
	)
	if err != nil {
		return fmt.Errorf("store.SaveRun: insert run: %w", err)
	}

	for _, g := range run.YearlyGains {
		if _, err := tx.ExecContext(ctx,
			s.rebind(`INSERT INTO yearly_gains (run_id, year, pct) VALUES (?, ?, ?)`),
			run.ID, g.Year, g.Pct,
		); err != nil {
			return fmt.Errorf("store.SaveRun: insert yearly gain %d: %w", g.Year, err)
		}
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		r         Run
		createdMS int64
		elapsedMS int64
	)
	err := row.Scan(
		&r.ID, &createdMS, &r.Strategy, &r.DataFile,
		&r.FastMin, &r.FastMax, &r.SlowMin, &r.SlowMax,
		&r.FeePct, &r.MinTrades, &r.Runs, &r.Feasible, &elapsedMS,
		&r.Truncated, &r.HasResult,
		&r.Fast, &r.Slow, &r.FinalWallet, &r.GainPct, &r.WinRatePct, &r.MaxDrawdownPct,
		&r.GainOverDDC, &r.Score, &r.TradeCount, &r.FeesPaid, &r.MaxDaysBetweenHighs,
	)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = time.UnixMilli(createdMS).UTC()
	r.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	return &r, nil
}

// GetRun retrieves a run and its yearly gains. A missing run yields
// ErrNotFound.
func (s *ResultStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+runColumns+` FROM runs WHERE id = ?`), id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store.GetRun: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT year, pct FROM yearly_gains WHERE run_id = ? ORDER BY year`), id)
	if err != nil {
		return nil, fmt.Errorf("store.GetRun: yearly gains: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var g domain.YearlyGain
		if err := rows.Scan(&g.Year, &g.Pct); err != nil {
			return nil, fmt.Errorf("store.GetRun: scan yearly gain: %w", err)
		}
		run.YearlyGains = append(run.YearlyGains, g)
	}
	return run, rows.Err()
}

// ListRuns returns the most recent runs without their yearly gains.
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("store.ListRuns: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("store.ListRuns: scan: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}
