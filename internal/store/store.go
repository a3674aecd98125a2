// Package store sqlite 持久化：成交明细与会话聚合。
// 单写连接 + WAL，写失败由上层记日志，不影响交易主流程。
package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/betbot/strikebot/internal/domain"
)

type Store struct {
	db *sql.DB
}

// Open 打开（或创建）sqlite 数据库
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store 路径为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "创建数据目录失败")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "打开数据库失败")
	}
	db.SetMaxOpenConns(1) // 单写；WAL 下读不互斥
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, errors.Wrap(err, "设置 WAL 失败")
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		return nil, errors.Wrap(err, "建表失败")
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id             TEXT PRIMARY KEY,
			created_at     INTEGER NOT NULL,
			strategy       TEXT NOT NULL,
			condition_id   TEXT NOT NULL,
			token_id       TEXT NOT NULL,
			side           TEXT NOT NULL,
			ref_spot       REAL NOT NULL,
			contract_price REAL NOT NULL,
			implied_prob   REAL NOT NULL,
			edge_pct       REAL NOT NULL,
			size_usd       REAL NOT NULL,
			status         TEXT NOT NULL,
			fill_price     REAL NOT NULL DEFAULT 0,
			pnl_usd        REAL NOT NULL DEFAULT 0,
			order_id       TEXT NOT NULL DEFAULT '',
			exit_price     REAL NOT NULL DEFAULT 0,
			exit_reason    TEXT NOT NULL DEFAULT '',
			latency_ms     INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_created_at ON trades(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_condition ON trades(condition_id)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			date           TEXT PRIMARY KEY,
			trades_count   INTEGER NOT NULL,
			win_count      INTEGER NOT NULL,
			total_pnl_usd  REAL NOT NULL,
			avg_edge_pct   REAL NOT NULL,
			avg_latency_ms REAL NOT NULL,
			bankroll_start REAL NOT NULL,
			bankroll_end   REAL NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveTrade 幂等写入：同 id 重复写覆盖旧行（平仓更新走同一条路径）
func (s *Store) SaveTrade(t *domain.Trade) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO trades
			(id, created_at, strategy, condition_id, token_id, side,
			 ref_spot, contract_price, implied_prob, edge_pct, size_usd, status,
			 fill_price, pnl_usd, order_id, exit_price, exit_reason, latency_ms)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.CreatedAt.UnixMilli(), t.StrategyName, t.ConditionID, t.TokenID, string(t.Side),
		t.RefSpot, t.ContractPrice, t.ImpliedProb, t.EdgePct, t.SizeUSD, string(t.Status),
		t.FillPrice, t.PnlUSD, t.OrderID, t.ExitPrice, t.ExitReason, t.LatencyMs,
	)
	return errors.Wrap(err, "写入交易失败")
}

// UpsertSession 按日覆盖会话聚合
func (s *Store) UpsertSession(a *domain.SessionAggregate) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sessions
			(date, trades_count, win_count, total_pnl_usd, avg_edge_pct,
			 avg_latency_ms, bankroll_start, bankroll_end)
		VALUES (?,?,?,?,?,?,?,?)`,
		a.Date, a.TradesCount, a.WinCount, a.TotalPnlUSD, a.AvgEdgePct,
		a.AvgLatencyMs, a.BankrollStart, a.BankrollEnd,
	)
	return errors.Wrap(err, "写入会话失败")
}

// GetSession 读取某日会话聚合，不存在时返回 (nil, nil)
func (s *Store) GetSession(date string) (*domain.SessionAggregate, error) {
	row := s.db.QueryRow(`
		SELECT date, trades_count, win_count, total_pnl_usd, avg_edge_pct,
		       avg_latency_ms, bankroll_start, bankroll_end
		FROM sessions WHERE date = ?`, date)

	var a domain.SessionAggregate
	err := row.Scan(&a.Date, &a.TradesCount, &a.WinCount, &a.TotalPnlUSD,
		&a.AvgEdgePct, &a.AvgLatencyMs, &a.BankrollStart, &a.BankrollEnd)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "读取会话失败")
	}
	return &a, nil
}

// ListTrades 按时间倒序读取最近 limit 笔交易
func (s *Store) ListTrades(limit int) ([]domain.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, created_at, strategy, condition_id, token_id, side,
		       ref_spot, contract_price, implied_prob, edge_pct, size_usd, status,
		       fill_price, pnl_usd, order_id, exit_price, exit_reason, latency_ms
		FROM trades ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "查询交易失败")
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows.Scan)
		if err != nil {
			return nil, errors.Wrap(err, "扫描交易失败")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTrade(scan func(...any) error) (domain.Trade, error) {
	var t domain.Trade
	var createdAtMs int64
	var side, status string
	err := scan(
		&t.ID, &createdAtMs, &t.StrategyName, &t.ConditionID, &t.TokenID, &side,
		&t.RefSpot, &t.ContractPrice, &t.ImpliedProb, &t.EdgePct, &t.SizeUSD, &status,
		&t.FillPrice, &t.PnlUSD, &t.OrderID, &t.ExitPrice, &t.ExitReason, &t.LatencyMs,
	)
	if err != nil {
		return t, err
	}
	t.CreatedAt = time.UnixMilli(createdAtMs)
	t.Side = domain.Side(side)
	t.Status = domain.TradeStatus(status)
	return t, nil
}
