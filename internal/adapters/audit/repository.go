package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
	"github.com/lcalzada-xor/ztcore/internal/core/ports"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteRepository implements ports.AuditRepository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (or creates) the audit database.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	// Initialize schema
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// SaveAuditLog persists a single administrative audit entry.
func (r *SQLiteRepository) SaveAuditLog(ctx context.Context, log domain.AuditLog) error {
	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now().UTC()
	}
	query := `
		INSERT INTO audit_logs (user_id, username, action, target, details, ip_address, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		log.UserID, log.Username, string(log.Action), log.Target, log.Details,
		log.IPAddress, log.Timestamp.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// ListAuditLogs retrieves audit entries, newest first.
func (r *SQLiteRepository) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, user_id, username, action, target, details, ip_address, timestamp
		FROM audit_logs
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.AuditLog
	for rows.Next() {
		var l domain.AuditLog
		var action, ts string
		if err := rows.Scan(&l.ID, &l.UserID, &l.Username, &action, &l.Target, &l.Details, &l.IPAddress, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		l.Action = domain.AuditAction(action)
		l.Timestamp, _ = time.Parse(time.RFC3339, ts)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// AppendDecision persists a decision record and links it into the hash
// chain. The head lookup and insert share one transaction so concurrent
// appends cannot fork the chain.
func (r *SQLiteRepository) AppendDecision(ctx context.Context, rec *domain.DecisionAudit) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	tsNanos := rec.Timestamp.UTC().UnixNano()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var prev string
	err = tx.QueryRowContext(ctx, "SELECT chain_hash FROM decision_audits ORDER BY id DESC LIMIT 1").Scan(&prev)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read chain head: %w", err)
	}

	rec.ChainHash = chainHash(prev, tsNanos, rec.DeviceID, rec.Trust,
		string(rec.ThreatLevel), string(rec.Decision), rec.Reason,
		string(rec.PrevDecision), rec.CorrelationID)

	res, err := tx.ExecContext(ctx, `
		INSERT INTO decision_audits (ts_unix_nanos, device_id, trust, threat_level, decision, reason, prev_decision, correlation_id, chain_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tsNanos, rec.DeviceID, rec.Trust, string(rec.ThreatLevel), string(rec.Decision),
		rec.Reason, string(rec.PrevDecision), rec.CorrelationID, rec.ChainHash)
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read decision id: %w", err)
	}
	rec.ID = id

	return tx.Commit()
}

// ListDecisionsSince retrieves decision records at or after the timestamp.
func (r *SQLiteRepository) ListDecisionsSince(ctx context.Context, since time.Time, limit int) ([]domain.DecisionAudit, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `
		SELECT id, ts_unix_nanos, device_id, trust, threat_level, decision, reason, prev_decision, correlation_id, chain_hash
		FROM decision_audits
		WHERE ts_unix_nanos >= ?
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, since.UTC().UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var recs []domain.DecisionAudit
	for rows.Next() {
		rec, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// LastDecision returns the newest decision record.
func (r *SQLiteRepository) LastDecision(ctx context.Context) (*domain.DecisionAudit, error) {
	query := `
		SELECT id, ts_unix_nanos, device_id, trust, threat_level, decision, reason, prev_decision, correlation_id, chain_hash
		FROM decision_audits
		ORDER BY id DESC
		LIMIT 1
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query last decision: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, domain.NotFound("decision", "latest")
	}
	rec, err := scanDecision(rows)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// VerifyChain walks the decision trail in insertion order, recomputing
// every link. It reports the first record whose stored hash does not
// match the recomputation.
func (r *SQLiteRepository) VerifyChain(ctx context.Context) (bool, int64, error) {
	query := `
		SELECT id, ts_unix_nanos, device_id, trust, threat_level, decision, reason, prev_decision, correlation_id, chain_hash
		FROM decision_audits
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return false, 0, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	prev := ""
	for rows.Next() {
		var (
			id                                                            int64
			tsNanos                                                       int64
			trust                                                         int
			deviceID, threatLevel, decision, reason, prevDecision, corrID string
			stored                                                        string
		)
		if err := rows.Scan(&id, &tsNanos, &deviceID, &trust, &threatLevel, &decision, &reason, &prevDecision, &corrID, &stored); err != nil {
			return false, 0, fmt.Errorf("failed to scan decision: %w", err)
		}
		want := chainHash(prev, tsNanos, deviceID, trust, threatLevel, decision, reason, prevDecision, corrID)
		if want != stored {
			return false, id, nil
		}
		prev = stored
	}
	return true, 0, rows.Err()
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func scanDecision(rows *sql.Rows) (domain.DecisionAudit, error) {
	var rec domain.DecisionAudit
	var tsNanos int64
	var threatLevel, decision, prevDecision string

	err := rows.Scan(&rec.ID, &tsNanos, &rec.DeviceID, &rec.Trust, &threatLevel,
		&decision, &rec.Reason, &prevDecision, &rec.CorrelationID, &rec.ChainHash)
	if err != nil {
		return rec, fmt.Errorf("failed to scan decision: %w", err)
	}
	rec.Timestamp = time.Unix(0, tsNanos).UTC()
	rec.ThreatLevel = domain.Severity(threatLevel)
	rec.Decision = domain.Decision(decision)
	rec.PrevDecision = domain.Decision(prevDecision)
	return rec, nil
}

// chainHash computes a record's link hash over the previous hash and
// every stored field, pipe-separated.
func chainHash(prev string, tsNanos int64, deviceID string, trust int, threatLevel, decision, reason, prevDecision, correlationID string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|%d|%s|%s|%s|%s|%s",
		prev, tsNanos, deviceID, trust, threatLevel, decision, reason, prevDecision, correlationID)
	return hex.EncodeToString(h.Sum(nil))
}

// Ensure interface compliance
var _ ports.AuditRepository = (*SQLiteRepository)(nil)
