// Package sqlite is the single-file audit sink for deployments without
// PostgreSQL. It mirrors the postgres schema with amounts kept as text.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3"

	"github.com/alanyoungcy/keeperbot/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS rollover_transactions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	tx_hash    TEXT      NOT NULL UNIQUE,
	loan_id    TEXT      NOT NULL,
	address    TEXT      NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rollover_transactions_created_at ON rollover_transactions (created_at);

CREATE TABLE IF NOT EXISTS arbitrage_transactions (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	tx_hash             TEXT      NOT NULL UNIQUE,
	beneficiary         TEXT      NOT NULL,
	source_token        TEXT      NOT NULL,
	target_token        TEXT      NOT NULL,
	source_token_amount TEXT      NOT NULL,
	target_token_amount TEXT      NOT NULL,
	price_feed_amount   TEXT      NOT NULL,
	profit              TEXT      NOT NULL,
	created_at          TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_arbitrage_transactions_created_at ON arbitrage_transactions (created_at);

CREATE TABLE IF NOT EXISTS audit_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	event      TEXT      NOT NULL,
	detail     TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log (created_at);
`

// Store implements domain.AuditSink on SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ domain.AuditSink = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// one writer keeps the engines from tripping over SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Health pings the database.
func (s *Store) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}

// RecordRollover inserts a rollover transaction; duplicates are ignored.
func (s *Store) RecordRollover(ctx context.Context, rec domain.RolloverRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO rollover_transactions (tx_hash, loan_id, address, created_at) VALUES (?, ?, ?, ?)`,
		rec.TxHash.Hex(), rec.LoanID.Hex(), rec.Address.Hex(), s.now(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: record rollover %s: %w", rec.TxHash.Hex(), err)
	}
	return nil
}

// ListRollovers returns rollover records, newest first.
func (s *Store) ListRollovers(ctx context.Context, opts domain.ListOpts) ([]domain.StoredRollover, error) {
	query, args := listClause(`SELECT tx_hash, loan_id, address, created_at FROM rollover_transactions WHERE 1=1`, opts)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list rollovers: %w", err)
	}
	defer rows.Close()

	var out []domain.StoredRollover
	for rows.Next() {
		var (
			r                       domain.StoredRollover
			txHash, loanID, address string
		)
		if err := rows.Scan(&txHash, &loanID, &address, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan rollover: %w", err)
		}
		r.TxHash = common.HexToHash(txHash)
		r.LoanID = common.HexToHash(loanID)
		r.Address = common.HexToAddress(address)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordArbitrage inserts an executed arbitrage; duplicates are ignored.
func (s *Store) RecordArbitrage(ctx context.Context, res domain.ArbitrageResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO arbitrage_transactions (
			tx_hash, beneficiary, source_token, target_token,
			source_token_amount, target_token_amount, price_feed_amount, profit, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.TxHash.Hex(), res.Beneficiary.Hex(), res.SourceToken.Hex(), res.TargetToken.Hex(),
		amountText(res.SourceTokenAmount), amountText(res.TargetTokenAmount),
		amountText(res.PriceFeedAmount), amountText(res.Profit), s.now(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: record arbitrage %s: %w", res.TxHash.Hex(), err)
	}
	return nil
}

// ListArbitrages returns executed arbitrages, newest first.
func (s *Store) ListArbitrages(ctx context.Context, opts domain.ListOpts) ([]domain.StoredArbitrage, error) {
	query, args := listClause(`
		SELECT tx_hash, beneficiary, source_token, target_token,
		       source_token_amount, target_token_amount, price_feed_amount, profit, created_at
		FROM arbitrage_transactions WHERE 1=1`, opts)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list arbitrages: %w", err)
	}
	defer rows.Close()

	var out []domain.StoredArbitrage
	for rows.Next() {
		var (
			a                                   domain.StoredArbitrage
			txHash, beneficiary, source, target string
			srcAmt, dstAmt, feedAmt, profit     string
		)
		if err := rows.Scan(&txHash, &beneficiary, &source, &target,
			&srcAmt, &dstAmt, &feedAmt, &profit, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan arbitrage: %w", err)
		}
		a.TxHash = common.HexToHash(txHash)
		a.Beneficiary = common.HexToAddress(beneficiary)
		a.SourceToken = common.HexToAddress(source)
		a.TargetToken = common.HexToAddress(target)
		a.SourceTokenAmount = parseAmount(srcAmt)
		a.TargetTokenAmount = parseAmount(dstAmt)
		a.PriceFeedAmount = parseAmount(feedAmt)
		a.Profit = parseAmount(profit)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Log appends an event to audit_log with detail stored as JSON text.
func (s *Store) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_log (event, detail, created_at) VALUES (?, ?, ?)`,
		event, string(detailJSON), s.now(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns audit_log entries, newest first.
func (s *Store) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := listClause(`SELECT id, event, detail, created_at FROM audit_log WHERE 1=1`, opts)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e      domain.AuditEntry
			detail sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Event, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		if detail.Valid && detail.String != "" {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal audit detail %d: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func listClause(query string, opts domain.ListOpts) (string, []any) {
	var (
		b    strings.Builder
		args []any
	)
	b.WriteString(query)
	if opts.Since != nil {
		b.WriteString(" AND created_at >= ?")
		args = append(args, opts.Since.UTC())
	}
	if opts.Until != nil {
		b.WriteString(" AND created_at < ?")
		args = append(args, opts.Until.UTC())
	}
	b.WriteString(" ORDER BY created_at DESC, id DESC")
	if opts.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			b.WriteString(" OFFSET ?")
			args = append(args, opts.Offset)
		}
	} else if opts.Offset > 0 {
		b.WriteString(" LIMIT -1 OFFSET ?")
		args = append(args, opts.Offset)
	}
	return b.String(), args
}

func amountText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAmount(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}
