package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"hypercore/pkg/logger"
	"hypercore/trader"
)

// Store SQLite 审计库
// 只追加写入，永不更新或删除历史记录；核心不依赖其可用性，
// 落盘失败由调用方记日志后继续
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// Open 打开（必要时创建）审计库并建表
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开审计库失败: %w", err)
	}
	// sqlite 单写者，限制连接数避免 database is locked
	db.SetMaxOpenConns(1)

	s := &Store{db: db, log: logger.Module("store")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS trade_results (
			id         TEXT PRIMARY KEY,
			day        TEXT NOT NULL,
			symbol     TEXT,
			side       TEXT,
			action     TEXT NOT NULL,
			success    INTEGER NOT NULL,
			reason     TEXT,
			detail     TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_results_day ON trade_results(day)`,
		`CREATE TABLE IF NOT EXISTS position_closes (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			day          TEXT NOT NULL,
			symbol       TEXT NOT NULL,
			side         TEXT NOT NULL,
			entry_price  REAL NOT NULL,
			mark_price   REAL NOT NULL,
			notional_usd REAL NOT NULL,
			realized_pnl REAL NOT NULL,
			opened_at    TIMESTAMP NOT NULL,
			closed_at    TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_position_closes_day ON position_closes(day)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("初始化审计库表结构失败: %w", err)
		}
	}
	return nil
}

// SaveResult 追加一条交易尝试记录，完整结构以 JSON 存 detail 列
func (s *Store) SaveResult(r *trader.TradeResult) error {
	detail, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("序列化交易记录失败: %w", err)
	}

	symbol, side := "", ""
	if r.Signal != nil {
		symbol = r.Signal.Symbol
		side = string(r.Signal.Side)
	}
	success := 0
	if r.Success {
		success = 1
	}

	_, err = s.db.Exec(
		`INSERT INTO trade_results (id, day, symbol, side, action, success, reason, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, dayKey(r.Timestamp), symbol, side, string(r.Action), success, r.Reason, string(detail), r.Timestamp)
	if err != nil {
		return fmt.Errorf("写入交易记录失败: %w", err)
	}
	return nil
}

// SaveClose 追加一条平仓结算记录
func (s *Store) SaveClose(c *trader.PositionClose) error {
	_, err := s.db.Exec(
		`INSERT INTO position_closes (day, symbol, side, entry_price, mark_price, notional_usd, realized_pnl, opened_at, closed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		dayKey(c.ClosedAt), c.Symbol, string(c.Side), c.EntryPrice, c.MarkPrice, c.NotionalUSD, c.RealizedPnl, c.OpenedAt, c.ClosedAt)
	if err != nil {
		return fmt.Errorf("写入平仓记录失败: %w", err)
	}
	return nil
}

// DailyStats 某日的交易笔数与已实现盈亏，重启后恢复日计数用
// 笔数只统计真正推进了日上限的尝试（executed/simulated）
func (s *Store) DailyStats(day time.Time) (int, float64, error) {
	key := dayKey(day)

	var trades int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM trade_results WHERE day = ? AND action IN (?, ?)`,
		key, string(trader.ActionExecuted), string(trader.ActionSimulated)).Scan(&trades)
	if err != nil {
		return 0, 0, fmt.Errorf("统计当日交易笔数失败: %w", err)
	}

	var pnl sql.NullFloat64
	err = s.db.QueryRow(
		`SELECT SUM(realized_pnl) FROM position_closes WHERE day = ?`, key).Scan(&pnl)
	if err != nil {
		return 0, 0, fmt.Errorf("统计当日盈亏失败: %w", err)
	}
	return trades, pnl.Float64, nil
}

// RecentResults 最近 n 条交易尝试记录，新的在前
func (s *Store) RecentResults(limit int) ([]*trader.TradeResult, error) {
	rows, err := s.db.Query(
		`SELECT detail FROM trade_results ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询交易记录失败: %w", err)
	}
	defer rows.Close()

	var out []*trader.TradeResult
	for rows.Next() {
		var detail string
		if err := rows.Scan(&detail); err != nil {
			return nil, err
		}
		var r trader.TradeResult
		if err := json.Unmarshal([]byte(detail), &r); err != nil {
			s.log.Warn("⚠️ 跳过无法解析的历史记录", zap.Error(err))
			continue
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// Close 关闭底层数据库
func (s *Store) Close() error {
	return s.db.Close()
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
