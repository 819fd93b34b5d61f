/*
Package sqlite provides the SQLite-backed implementation of the
persistence interfaces.

PURPOSE:
  One Store implements every interface the engine persists through:
  leave.Ledger, leave.Directory, leave.RequestStore, leave.AuditLog
  and saga.HistoryStore. In production the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  users:          Directory records with single-hop manager link
  leave_requests: Request rows and their status transitions
  leave_balances: total/used/reserved per (user, leave type)
  saga_history:   Append-only step outcomes per saga instance
  audit_log:      Append-only observability trail

LEDGER SERIALIZATION:
  Reserve/Commit/Rollback each run inside one SQL transaction guarded
  by a store-level mutex, so the read-then-write on a balance row is
  never visible as two separable steps to a concurrent caller. With
  PostgreSQL the mutex goes away and SELECT ... FOR UPDATE takes over.

WAL MODE:
  SQLite is opened with WAL so readers don't block the single writer
  and crash recovery is cheap.

USAGE:
  st, err := sqlite.New("./leave.db")
  if err != nil { ... }
  defer st.Close()

SEE ALSO:
  - leave: interface definitions
  - store: in-memory implementations for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/saga"
)

const (
	dateFormat = "2006-01-02"
	timeFormat = time.RFC3339Nano
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes ledger read-then-write sections

	// DefaultTotal is the entitlement granted when a balance row is
	// created lazily. Zero means leave.DefaultEntitlement.
	DefaultTotal int
}

// New opens (or creates) the database at dbPath and migrates the
// schema. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite has a single writer anyway, and a second pooled connection
	// to ":memory:" would see a different, empty database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL CHECK(role IN ('EMPLOYEE', 'MANAGER', 'HR', 'ADMIN')),
		manager_id TEXT,
		FOREIGN KEY (manager_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS idx_users_manager_id ON users(manager_id);

	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		leave_type TEXT NOT NULL CHECK(leave_type IN ('CASUAL', 'SICK', 'EARNED', 'WELLNESS')),
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		reason TEXT NOT NULL,
		status TEXT NOT NULL CHECK(status IN ('PENDING_APPROVAL', 'APPROVED', 'REJECTED', 'CANCELLED')),
		approver_id TEXT,
		instance_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS idx_leave_requests_user_id ON leave_requests(user_id);
	CREATE INDEX IF NOT EXISTS idx_leave_requests_instance_id ON leave_requests(instance_id);
	CREATE INDEX IF NOT EXISTS idx_leave_requests_status ON leave_requests(status);

	CREATE TABLE IF NOT EXISTS leave_balances (
		user_id TEXT NOT NULL,
		leave_type TEXT NOT NULL CHECK(leave_type IN ('CASUAL', 'SICK', 'EARNED', 'WELLNESS')),
		total INTEGER NOT NULL DEFAULT 10,
		used INTEGER NOT NULL DEFAULT 0,
		reserved INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, leave_type)
	);

	-- Append-only: saga step outcomes, replayed after a restart
	CREATE TABLE IF NOT EXISTS saga_history (
		instance_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		step TEXT NOT NULL,
		result TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		PRIMARY KEY (instance_id, seq)
	);

	-- Append-only: observability trail, never read by the saga
	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		action TEXT NOT NULL,
		actor_id TEXT,
		request_id TEXT,
		details TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_request ON audit_log(request_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER - leave.Ledger
// =============================================================================

func (s *Store) defaultTotal() int {
	if s.DefaultTotal > 0 {
		return s.DefaultTotal
	}
	return leave.DefaultEntitlement
}

// ensureBalanceTx creates the balance row lazily and returns it.
func (s *Store) ensureBalanceTx(ctx context.Context, tx *sql.Tx, userID string, leaveType leave.LeaveType) (leave.LeaveBalance, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO leave_balances (user_id, leave_type, total, used, reserved)
		VALUES (?, ?, ?, 0, 0)`,
		userID, string(leaveType), s.defaultTotal())
	if err != nil {
		return leave.LeaveBalance{}, err
	}

	b := leave.LeaveBalance{UserID: userID, LeaveType: leaveType}
	err = tx.QueryRowContext(ctx, `
		SELECT total, used, reserved FROM leave_balances
		WHERE user_id = ? AND leave_type = ?`,
		userID, string(leaveType)).Scan(&b.Total, &b.Used, &b.Reserved)
	if err != nil {
		return leave.LeaveBalance{}, err
	}
	return b, nil
}

func (s *Store) Reserve(ctx context.Context, userID string, leaveType leave.LeaveType, days int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	b, err := s.ensureBalanceTx(ctx, tx, userID, leaveType)
	if err != nil {
		return false, err
	}
	if b.Available() < days {
		return false, tx.Commit() // row creation still persists
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE leave_balances SET reserved = reserved + ?
		WHERE user_id = ? AND leave_type = ?`,
		days, userID, string(leaveType)); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (s *Store) Commit(ctx context.Context, userID string, leaveType leave.LeaveType, days int) error {
	return s.settle(ctx, "commit", userID, leaveType, days)
}

func (s *Store) Rollback(ctx context.Context, userID string, leaveType leave.LeaveType, days int) error {
	return s.settle(ctx, "rollback", userID, leaveType, days)
}

// settle releases a reservation, optionally converting it to usage.
func (s *Store) settle(ctx context.Context, op string, userID string, leaveType leave.LeaveType, days int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	b, err := s.ensureBalanceTx(ctx, tx, userID, leaveType)
	if err != nil {
		return err
	}
	if b.Reserved < days {
		return &leave.LedgerInvariantError{
			Op: op, UserID: userID, LeaveType: leaveType, Days: days, Reserved: b.Reserved,
		}
	}

	query := `UPDATE leave_balances SET reserved = reserved - ? WHERE user_id = ? AND leave_type = ?`
	if op == "commit" {
		query = `UPDATE leave_balances SET reserved = reserved - ?, used = used + ? WHERE user_id = ? AND leave_type = ?`
		_, err = tx.ExecContext(ctx, query, days, days, userID, string(leaveType))
	} else {
		_, err = tx.ExecContext(ctx, query, days, userID, string(leaveType))
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Balance(ctx context.Context, userID string, leaveType leave.LeaveType) (leave.LeaveBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return leave.LeaveBalance{}, err
	}
	defer tx.Rollback()

	b, err := s.ensureBalanceTx(ctx, tx, userID, leaveType)
	if err != nil {
		return leave.LeaveBalance{}, err
	}
	return b, tx.Commit()
}

// =============================================================================
// DIRECTORY - leave.Directory
// =============================================================================

// PutUser inserts or replaces a directory record. Used by seeding and
// admin tooling; the saga never writes users.
func (s *Store) PutUser(ctx context.Context, u leave.User) error {
	var managerID any
	if u.ManagerID != "" {
		managerID = u.ManagerID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, role, manager_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			role = excluded.role,
			manager_id = excluded.manager_id`,
		u.ID, u.Name, u.Email, string(u.Role), managerID)
	return err
}

func (s *Store) GetUser(ctx context.Context, id string) (leave.User, error) {
	var u leave.User
	var managerID sql.NullString
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, role, manager_id FROM users WHERE id = ?`,
		id).Scan(&u.ID, &u.Name, &u.Email, &role, &managerID)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.User{}, leave.ErrUserNotFound
	}
	if err != nil {
		return leave.User{}, err
	}
	u.Role = leave.Role(role)
	u.ManagerID = managerID.String
	return u, nil
}

func (s *Store) GetManager(ctx context.Context, userID string) (leave.User, error) {
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, leave.ErrUserNotFound) {
			return leave.User{}, leave.ErrManagerNotFound
		}
		return leave.User{}, err
	}
	if u.ManagerID == "" {
		return leave.User{}, leave.ErrManagerNotFound
	}
	m, err := s.GetUser(ctx, u.ManagerID)
	if errors.Is(err, leave.ErrUserNotFound) {
		return leave.User{}, leave.ErrManagerNotFound
	}
	return m, err
}

// =============================================================================
// REQUEST STORE - leave.RequestStore
// =============================================================================

func (s *Store) Create(ctx context.Context, req leave.LeaveRequest) (leave.LeaveRequest, error) {
	if req.ID == "" {
		req.ID = "req-" + uuid.NewString()
	}
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now
	if req.Status == "" {
		req.Status = leave.StatusPendingApproval
	}

	var approverID, instanceID any
	if req.ApproverID != "" {
		approverID = req.ApproverID
	}
	if req.InstanceID != "" {
		instanceID = req.InstanceID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leave_requests (
			id, user_id, leave_type, start_date, end_date, reason,
			status, approver_id, instance_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.UserID, string(req.LeaveType),
		req.StartDate.UTC().Format(dateFormat), req.EndDate.UTC().Format(dateFormat),
		req.Reason, string(req.Status), approverID, instanceID,
		now.Format(timeFormat), now.Format(timeFormat))
	if err != nil {
		return leave.LeaveRequest{}, err
	}
	return req, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status leave.LeaveStatus, approverID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM leave_requests WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.ErrRequestNotFound
	}
	if err != nil {
		return err
	}
	if leave.LeaveStatus(current).Terminal() {
		if leave.LeaveStatus(current) == status {
			return tx.Commit() // idempotent re-execution
		}
		return leave.ErrRequestFinalized
	}

	var approver any
	if approverID != "" {
		approver = approverID
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE leave_requests SET status = ?, approver_id = ?, updated_at = ?
		WHERE id = ?`,
		string(status), approver, time.Now().UTC().Format(timeFormat), id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetByID(ctx context.Context, id string) (leave.LeaveRequest, error) {
	return s.getRequest(ctx, `WHERE id = ?`, id)
}

func (s *Store) GetByInstanceID(ctx context.Context, instanceID string) (leave.LeaveRequest, error) {
	return s.getRequest(ctx, `WHERE instance_id = ?`, instanceID)
}

const requestColumns = `
	SELECT id, user_id, leave_type, start_date, end_date, reason,
	       status, approver_id, instance_id, created_at, updated_at
	FROM leave_requests `

func (s *Store) getRequest(ctx context.Context, where string, arg any) (leave.LeaveRequest, error) {
	row := s.db.QueryRowContext(ctx, requestColumns+where, arg)
	req, err := scanRequest(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.LeaveRequest{}, leave.ErrRequestNotFound
	}
	return req, err
}

func (s *Store) List(ctx context.Context) ([]leave.LeaveRequest, error) {
	rows, err := s.db.QueryContext(ctx, requestColumns+`ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []leave.LeaveRequest
	for rows.Next() {
		req, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, req)
	}
	return result, rows.Err()
}

func scanRequest(scan func(...any) error) (leave.LeaveRequest, error) {
	var req leave.LeaveRequest
	var leaveType, status, startDate, endDate, createdAt, updatedAt string
	var approverID, instanceID sql.NullString

	if err := scan(&req.ID, &req.UserID, &leaveType, &startDate, &endDate, &req.Reason,
		&status, &approverID, &instanceID, &createdAt, &updatedAt); err != nil {
		return leave.LeaveRequest{}, err
	}

	req.LeaveType = leave.LeaveType(leaveType)
	req.Status = leave.LeaveStatus(status)
	req.ApproverID = approverID.String
	req.InstanceID = instanceID.String

	var err error
	if req.StartDate, err = time.Parse(dateFormat, startDate); err != nil {
		return leave.LeaveRequest{}, err
	}
	if req.EndDate, err = time.Parse(dateFormat, endDate); err != nil {
		return leave.LeaveRequest{}, err
	}
	if req.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return leave.LeaveRequest{}, err
	}
	if req.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		return leave.LeaveRequest{}, err
	}
	return req, nil
}

// =============================================================================
// SAGA HISTORY - saga.HistoryStore
// =============================================================================

func (s *Store) Append(ctx context.Context, outcome saga.StepOutcome) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO saga_history (instance_id, seq, step, result, recorded_at)
		VALUES (?, ?, ?, ?, ?)`,
		outcome.InstanceID, outcome.Seq, outcome.Step,
		string(outcome.Result), outcome.RecordedAt.Format(timeFormat))
	return err
}

func (s *Store) Load(ctx context.Context, instanceID string) ([]saga.StepOutcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instance_id, seq, step, result, recorded_at
		FROM saga_history WHERE instance_id = ? ORDER BY seq`,
		instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []saga.StepOutcome
	for rows.Next() {
		var o saga.StepOutcome
		var raw, recordedAt string
		if err := rows.Scan(&o.InstanceID, &o.Seq, &o.Step, &raw, &recordedAt); err != nil {
			return nil, err
		}
		o.Result = json.RawMessage(raw)
		if o.RecordedAt, err = time.Parse(timeFormat, recordedAt); err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

// =============================================================================
// AUDIT LOG - leave.AuditLog
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, entry leave.AuditEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (timestamp, action, actor_id, request_id, details)
		VALUES (?, ?, ?, ?, ?)`,
		entry.Timestamp.Format(timeFormat), entry.Action,
		entry.ActorID, entry.RequestID, string(details))
	return err
}

func (s *Store) AuditByRequest(ctx context.Context, requestID string) ([]leave.AuditEntry, error) {
	query := `SELECT timestamp, action, actor_id, request_id, details FROM audit_log`
	args := []any{}
	if requestID != "" {
		query += ` WHERE request_id = ?`
		args = append(args, requestID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []leave.AuditEntry
	for rows.Next() {
		var e leave.AuditEntry
		var ts, details string
		var actorID, reqID sql.NullString
		if err := rows.Scan(&ts, &e.Action, &actorID, &reqID, &details); err != nil {
			return nil, err
		}
		if e.Timestamp, err = time.Parse(timeFormat, ts); err != nil {
			return nil, err
		}
		e.ActorID = actorID.String
		e.RequestID = reqID.String
		if details != "" {
			if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
				return nil, err
			}
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// AuditSink adapts the store to leave.AuditLog. The adapter exists
// because the store's Append is taken by saga.HistoryStore.
type AuditSink struct{ Store *Store }

func (a AuditSink) Append(ctx context.Context, entry leave.AuditEntry) error {
	return a.Store.AppendAudit(ctx, entry)
}

func (a AuditSink) ByRequest(ctx context.Context, requestID string) ([]leave.AuditEntry, error) {
	return a.Store.AuditByRequest(ctx, requestID)
}

// =============================================================================
// SEED DATA - Demo directory
// =============================================================================

// Seed loads the demo directory when the users table is empty:
// an employee reporting to a manager, who reports to HR, plus an
// admin outside the chain.
func (s *Store) Seed(ctx context.Context) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	seed := []leave.User{
		{ID: "u3", Name: "Bob HR", Email: "bob@example.com", Role: leave.RoleHR},
		{ID: "u4", Name: "Alice Admin", Email: "alice@example.com", Role: leave.RoleAdmin},
		{ID: "u2", Name: "Jane Manager", Email: "jane@example.com", Role: leave.RoleManager, ManagerID: "u3"},
		{ID: "u1", Name: "John Employee", Email: "john@example.com", Role: leave.RoleEmployee, ManagerID: "u2"},
	}
	for _, u := range seed {
		if err := s.PutUser(ctx, u); err != nil {
			return fmt.Errorf("seed user %s: %w", u.ID, err)
		}
	}
	return nil
}
