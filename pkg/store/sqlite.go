package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/haldenlabs/mandate/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLStore is a Store backed by database/sql. It is written against the
// SQLite driver but sticks to portable SQL; see NewPostgresStore for the
// Postgres variant which only swaps placeholders.
type SQLStore struct {
	db *sql.DB
	ph placeholderFunc
}

// placeholderFunc renders the i-th (1-based) SQL placeholder.
type placeholderFunc func(i int) string

func sqlitePlaceholder(int) string     { return "?" }
func postgresPlaceholder(i int) string { return fmt.Sprintf("$%d", i) }

// OpenSQLite opens (creating if needed) a SQLite database at path and
// migrates the schema.
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	return NewSQLiteStore(db)
}

// NewSQLiteStore wraps an existing SQLite database handle.
func NewSQLiteStore(db *sql.DB) (*SQLStore, error) {
	s := &SQLStore{db: db, ph: sqlitePlaceholder}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps an existing Postgres handle (lib/pq driver).
func NewPostgresStore(db *sql.DB) (*SQLStore, error) {
	s := &SQLStore{db: db, ph: postgresPlaceholder}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

var _ Store = (*SQLStore)(nil)

func (s *SQLStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trust_profiles (
			user_id TEXT NOT NULL,
			category TEXT NOT NULL,
			trust_score REAL NOT NULL,
			successful_actions INTEGER NOT NULL DEFAULT 0,
			failed_actions INTEGER NOT NULL DEFAULT 0,
			override_count INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (user_id, category)
		)`,
		`CREATE TABLE IF NOT EXISTS actions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			action_type TEXT NOT NULL,
			risk_level TEXT NOT NULL,
			approval_level TEXT NOT NULL,
			status TEXT NOT NULL,
			reversible INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			executed_at TEXT,
			undo_deadline TEXT,
			rejection_reason TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS skill_records (
			user_id TEXT NOT NULL,
			skill_id TEXT NOT NULL,
			successful_executions INTEGER NOT NULL DEFAULT 0,
			failed_executions INTEGER NOT NULL DEFAULT 0,
			session_trust_granted INTEGER NOT NULL DEFAULT 0,
			globally_approved INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (user_id, skill_id)
		)`,
		`CREATE TABLE IF NOT EXISTS trust_history (
			user_id TEXT NOT NULL,
			category TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			old_score REAL NOT NULL,
			new_score REAL NOT NULL,
			at TEXT NOT NULL,
			prev_hash TEXT NOT NULL,
			entry_hash TEXT NOT NULL,
			PRIMARY KEY (user_id, category, sequence)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(context.Background(), stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// rewrite renders ? placeholders for the active dialect.
func (s *SQLStore) rewrite(query string) string {
	count := 0
	out := make([]byte, 0, len(query)+8)
	for _, c := range []byte(query) {
		if c == '?' {
			count++
			out = append(out, s.ph(count)...)
			continue
		}
		out = append(out, c)
	}
	return string(out)
}

func (s *SQLStore) GetTrustProfile(ctx context.Context, key TrustKey) (contracts.TrustProfile, uint64, error) {
	row := s.db.QueryRowContext(ctx, s.rewrite(`
		SELECT trust_score, successful_actions, failed_actions, override_count, updated_at, version
		FROM trust_profiles WHERE user_id = ? AND category = ?`),
		key.UserID, string(key.Category))

	var p contracts.TrustProfile
	var updatedAt string
	var version uint64
	p.UserID = key.UserID
	p.Category = key.Category
	err := row.Scan(&p.TrustScore, &p.SuccessfulActions, &p.FailedActions, &p.OverrideCount, &updatedAt, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.TrustProfile{}, 0, fmt.Errorf("trust profile %s/%s: %w", key.UserID, key.Category, ErrNotFound)
	}
	if err != nil {
		return contracts.TrustProfile{}, 0, fmt.Errorf("get trust profile: %w: %v", ErrUnavailable, err)
	}
	p.UpdatedAt = parseTime(updatedAt)
	return p, version, nil
}

func (s *SQLStore) PutTrustProfile(ctx context.Context, p contracts.TrustProfile) error {
	_, err := s.db.ExecContext(ctx, s.rewrite(`
		INSERT INTO trust_profiles (user_id, category, trust_score, successful_actions, failed_actions, override_count, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)`),
		p.UserID, string(p.Category), p.TrustScore, p.SuccessfulActions, p.FailedActions, p.OverrideCount, formatTime(p.UpdatedAt))
	if err != nil {
		if s.exists(ctx, `SELECT 1 FROM trust_profiles WHERE user_id = ? AND category = ?`, p.UserID, string(p.Category)) {
			return fmt.Errorf("trust profile %s/%s: %w", p.UserID, p.Category, ErrDuplicateKey)
		}
		return fmt.Errorf("put trust profile: %w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *SQLStore) CompareAndSwapTrustProfile(ctx context.Context, p contracts.TrustProfile, expectedVersion uint64) error {
	res, err := s.db.ExecContext(ctx, s.rewrite(`
		UPDATE trust_profiles
		SET trust_score = ?, successful_actions = ?, failed_actions = ?, override_count = ?, updated_at = ?, version = version + 1
		WHERE user_id = ? AND category = ? AND version = ?`),
		p.TrustScore, p.SuccessfulActions, p.FailedActions, p.OverrideCount, formatTime(p.UpdatedAt),
		p.UserID, string(p.Category), expectedVersion)
	if err != nil {
		return fmt.Errorf("cas trust profile: %w: %v", ErrUnavailable, err)
	}
	return s.casOutcome(ctx, res,
		`SELECT 1 FROM trust_profiles WHERE user_id = ? AND category = ?`,
		fmt.Sprintf("trust profile %s/%s", p.UserID, p.Category),
		p.UserID, string(p.Category))
}

func (s *SQLStore) GetAction(ctx context.Context, id string) (contracts.Action, uint64, error) {
	row := s.db.QueryRowContext(ctx, s.rewrite(`
		SELECT user_id, action_type, risk_level, approval_level, status, reversible, created_at, executed_at, undo_deadline, rejection_reason, version
		FROM actions WHERE id = ?`), id)

	var a contracts.Action
	var createdAt string
	var executedAt, undoDeadline sql.NullString
	var reversible int
	var version uint64
	a.ID = id
	err := row.Scan(&a.UserID, &a.ActionType, &a.RiskLevel, &a.ApprovalLevel, &a.Status, &reversible, &createdAt, &executedAt, &undoDeadline, &a.RejectionReason, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.Action{}, 0, fmt.Errorf("action %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return contracts.Action{}, 0, fmt.Errorf("get action: %w: %v", ErrUnavailable, err)
	}
	a.Reversible = reversible != 0
	a.CreatedAt = parseTime(createdAt)
	a.ExecutedAt = parseNullTime(executedAt)
	a.UndoDeadline = parseNullTime(undoDeadline)
	return a, version, nil
}

func (s *SQLStore) PutAction(ctx context.Context, a contracts.Action) error {
	_, err := s.db.ExecContext(ctx, s.rewrite(`
		INSERT INTO actions (id, user_id, action_type, risk_level, approval_level, status, reversible, created_at, executed_at, undo_deadline, rejection_reason, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`),
		a.ID, a.UserID, string(a.ActionType), string(a.RiskLevel), string(a.ApprovalLevel), string(a.Status),
		boolInt(a.Reversible), formatTime(a.CreatedAt), formatNullTime(a.ExecutedAt), formatNullTime(a.UndoDeadline), a.RejectionReason)
	if err != nil {
		if s.exists(ctx, `SELECT 1 FROM actions WHERE id = ?`, a.ID) {
			return fmt.Errorf("action %q: %w", a.ID, ErrDuplicateKey)
		}
		return fmt.Errorf("put action: %w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *SQLStore) CompareAndSwapAction(ctx context.Context, a contracts.Action, expectedVersion uint64) error {
	res, err := s.db.ExecContext(ctx, s.rewrite(`
		UPDATE actions
		SET status = ?, approval_level = ?, executed_at = ?, undo_deadline = ?, rejection_reason = ?, version = version + 1
		WHERE id = ? AND version = ?`),
		string(a.Status), string(a.ApprovalLevel), formatNullTime(a.ExecutedAt), formatNullTime(a.UndoDeadline), a.RejectionReason,
		a.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("cas action: %w: %v", ErrUnavailable, err)
	}
	return s.casOutcome(ctx, res, `SELECT 1 FROM actions WHERE id = ?`, fmt.Sprintf("action %q", a.ID), a.ID)
}

func (s *SQLStore) GetSkillRecord(ctx context.Context, key SkillKey) (contracts.SkillTrustRecord, uint64, error) {
	row := s.db.QueryRowContext(ctx, s.rewrite(`
		SELECT successful_executions, failed_executions, session_trust_granted, globally_approved, updated_at, version
		FROM skill_records WHERE user_id = ? AND skill_id = ?`),
		key.UserID, key.SkillID)

	var r contracts.SkillTrustRecord
	var session, global int
	var updatedAt string
	var version uint64
	r.UserID = key.UserID
	r.SkillID = key.SkillID
	err := row.Scan(&r.SuccessfulExecutions, &r.FailedExecutions, &session, &global, &updatedAt, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.SkillTrustRecord{}, 0, fmt.Errorf("skill record %s/%s: %w", key.UserID, key.SkillID, ErrNotFound)
	}
	if err != nil {
		return contracts.SkillTrustRecord{}, 0, fmt.Errorf("get skill record: %w: %v", ErrUnavailable, err)
	}
	r.SessionTrustGranted = session != 0
	r.GloballyApproved = global != 0
	r.UpdatedAt = parseTime(updatedAt)
	return r, version, nil
}

func (s *SQLStore) PutSkillRecord(ctx context.Context, r contracts.SkillTrustRecord) error {
	_, err := s.db.ExecContext(ctx, s.rewrite(`
		INSERT INTO skill_records (user_id, skill_id, successful_executions, failed_executions, session_trust_granted, globally_approved, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)`),
		r.UserID, r.SkillID, r.SuccessfulExecutions, r.FailedExecutions, boolInt(r.SessionTrustGranted), boolInt(r.GloballyApproved), formatTime(r.UpdatedAt))
	if err != nil {
		if s.exists(ctx, `SELECT 1 FROM skill_records WHERE user_id = ? AND skill_id = ?`, r.UserID, r.SkillID) {
			return fmt.Errorf("skill record %s/%s: %w", r.UserID, r.SkillID, ErrDuplicateKey)
		}
		return fmt.Errorf("put skill record: %w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *SQLStore) CompareAndSwapSkillRecord(ctx context.Context, r contracts.SkillTrustRecord, expectedVersion uint64) error {
	res, err := s.db.ExecContext(ctx, s.rewrite(`
		UPDATE skill_records
		SET successful_executions = ?, failed_executions = ?, session_trust_granted = ?, globally_approved = ?, updated_at = ?, version = version + 1
		WHERE user_id = ? AND skill_id = ? AND version = ?`),
		r.SuccessfulExecutions, r.FailedExecutions, boolInt(r.SessionTrustGranted), boolInt(r.GloballyApproved), formatTime(r.UpdatedAt),
		r.UserID, r.SkillID, expectedVersion)
	if err != nil {
		return fmt.Errorf("cas skill record: %w: %v", ErrUnavailable, err)
	}
	return s.casOutcome(ctx, res,
		`SELECT 1 FROM skill_records WHERE user_id = ? AND skill_id = ?`,
		fmt.Sprintf("skill record %s/%s", r.UserID, r.SkillID),
		r.UserID, r.SkillID)
}

func (s *SQLStore) AppendTrustChange(ctx context.Context, rec contracts.TrustChangeRecord) (*ChainedTrustChange, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("append trust change: %w: %v", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, s.rewrite(`
		SELECT sequence, entry_hash FROM trust_history
		WHERE user_id = ? AND category = ?
		ORDER BY sequence DESC LIMIT 1`),
		rec.UserID, string(rec.Category))

	var seq uint64
	prev := genesisHash
	var lastSeq uint64
	var lastHash string
	switch err := row.Scan(&lastSeq, &lastHash); {
	case errors.Is(err, sql.ErrNoRows):
		seq = 1
	case err != nil:
		return nil, fmt.Errorf("append trust change: %w: %v", ErrUnavailable, err)
	default:
		seq = lastSeq + 1
		prev = lastHash
	}

	hash, err := chainEntryHash(seq, rec, prev)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, s.rewrite(`
		INSERT INTO trust_history (user_id, category, sequence, outcome, old_score, new_score, at, prev_hash, entry_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.UserID, string(rec.Category), seq, string(rec.Outcome), rec.OldScore, rec.NewScore, formatTime(rec.At), prev, hash); err != nil {
		return nil, fmt.Errorf("append trust change: %w: %v", ErrUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("append trust change: %w: %v", ErrUnavailable, err)
	}
	return &ChainedTrustChange{Sequence: seq, Record: rec, PrevHash: prev, EntryHash: hash}, nil
}

func (s *SQLStore) ListTrustChanges(ctx context.Context, key TrustKey, limit int) ([]*ChainedTrustChange, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, s.rewrite(`
		SELECT sequence, outcome, old_score, new_score, at, prev_hash, entry_hash
		FROM trust_history
		WHERE user_id = ? AND category = ?
		ORDER BY sequence ASC LIMIT ?`),
		key.UserID, string(key.Category), limit)
	if err != nil {
		return nil, fmt.Errorf("list trust changes: %w: %v", ErrUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*ChainedTrustChange
	for rows.Next() {
		e := &ChainedTrustChange{}
		e.Record.UserID = key.UserID
		e.Record.Category = key.Category
		var at string
		if err := rows.Scan(&e.Sequence, &e.Record.Outcome, &e.Record.OldScore, &e.Record.NewScore, &at, &e.PrevHash, &e.EntryHash); err != nil {
			return nil, fmt.Errorf("list trust changes: %w: %v", ErrUnavailable, err)
		}
		e.Record.At = parseTime(at)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list trust changes: %w: %v", ErrUnavailable, err)
	}
	return out, nil
}

// casOutcome distinguishes a missing row from a lost race after an UPDATE
// matched zero rows.
func (s *SQLStore) casOutcome(ctx context.Context, res sql.Result, existsQuery, subject string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w: %v", subject, ErrUnavailable, err)
	}
	if n > 0 {
		return nil
	}
	if s.exists(ctx, existsQuery, args...) {
		return fmt.Errorf("%s: %w", subject, ErrVersionConflict)
	}
	return fmt.Errorf("%s: %w", subject, ErrNotFound)
}

func (s *SQLStore) exists(ctx context.Context, query string, args ...any) bool {
	var one int
	err := s.db.QueryRowContext(ctx, s.rewrite(query), args...).Scan(&one)
	return err == nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}
