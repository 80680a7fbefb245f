/*
Package sqlite provides a single-file ledger store for one-branch deployments
and local development.

Settlements keep their payment lines as JSON columns, so a replace is a single
row write. Timestamps are stored as fixed-width UTC text so that ORDER BY on
the column sorts chronologically.

The schema is created on New. Use ":memory:" for a throwaway database.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"tutupkas/backend/internal/domain"
	"tutupkas/backend/internal/money"
	"tutupkas/backend/internal/store"
	"tutupkas/backend/internal/xid"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ store.Repository = (*Store)(nil)

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A :memory: database lives and dies with its connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS branches (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		location TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS pos_points (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		branch_id TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cashiers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settlements (
		id TEXT PRIMARY KEY,
		settlement_date TEXT NOT NULL,
		pos_id TEXT NOT NULL,
		branch_id TEXT NOT NULL,
		cashier_id TEXT NOT NULL,
		total_sales_cents INTEGER NOT NULL,
		networks_json TEXT NOT NULL,
		transfers_json TEXT NOT NULL,
		actual_cash_cents INTEGER NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_settlements_pos_date ON settlements(pos_id, settlement_date);

	CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		branch_id TEXT NOT NULL,
		actor_username TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		detail TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_branch_created ON audit_logs(branch_id, created_at);

	CREATE TABLE IF NOT EXISTS app_users (
		username TEXT PRIMARY KEY,
		password TEXT NOT NULL,
		role TEXT NOT NULL,
		branch_id TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) ListSettlements(ctx context.Context) ([]domain.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, settlement_date, pos_id, branch_id, cashier_id, total_sales_cents,
			networks_json, transfers_json, actual_cash_cents, notes, created_at
		FROM settlements
		ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var settlements []domain.Settlement
	for rows.Next() {
		settlement, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		settlements = append(settlements, settlement)
	}
	return settlements, rows.Err()
}

func (s *Store) GetSettlement(ctx context.Context, id string) (*domain.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, settlement_date, pos_id, branch_id, cashier_id, total_sales_cents,
			networks_json, transfers_json, actual_cash_cents, notes, created_at
		FROM settlements WHERE id = ?`, id)
	settlement, err := scanSettlement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &settlement, nil
}

func (s *Store) UpsertSettlement(ctx context.Context, settlement domain.Settlement) (*domain.Settlement, error) {
	if strings.TrimSpace(settlement.POSID) == "" || strings.TrimSpace(settlement.Date) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if settlement.ID == "" {
		settlement.ID = xid.New("stl")
	}
	if settlement.CreatedAt.IsZero() {
		settlement.CreatedAt = time.Now().UTC()
	}
	networks, err := encodeLines(settlement.Networks)
	if err != nil {
		return nil, err
	}
	transfers, err := encodeLines(settlement.Transfers)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settlements (id, settlement_date, pos_id, branch_id, cashier_id, total_sales_cents,
			networks_json, transfers_json, actual_cash_cents, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			settlement_date = excluded.settlement_date,
			pos_id = excluded.pos_id,
			branch_id = excluded.branch_id,
			cashier_id = excluded.cashier_id,
			total_sales_cents = excluded.total_sales_cents,
			networks_json = excluded.networks_json,
			transfers_json = excluded.transfers_json,
			actual_cash_cents = excluded.actual_cash_cents,
			notes = excluded.notes,
			created_at = excluded.created_at`,
		settlement.ID, settlement.Date, settlement.POSID, settlement.BranchID, settlement.CashierID,
		int64(settlement.TotalSales), networks, transfers, int64(settlement.ActualCash), settlement.Notes,
		formatTime(settlement.CreatedAt),
	)
	if err != nil {
		return nil, err
	}
	saved := settlement.Clone()
	return &saved, nil
}

func (s *Store) DeleteSettlement(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM settlements WHERE id = ?", id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name, location FROM branches ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var branches []domain.Branch
	for rows.Next() {
		var b domain.Branch
		if err := rows.Scan(&b.ID, &b.Name, &b.Location); err != nil {
			return nil, err
		}
		branches = append(branches, b)
	}
	return branches, rows.Err()
}

func (s *Store) UpsertBranch(ctx context.Context, branch domain.Branch) error {
	if strings.TrimSpace(branch.ID) == "" {
		return store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO branches (id, name, location) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, location = excluded.location`,
		branch.ID, branch.Name, branch.Location)
	return err
}

func (s *Store) ListPOSPoints(ctx context.Context) ([]domain.POSPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name, branch_id FROM pos_points ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []domain.POSPoint
	for rows.Next() {
		var p domain.POSPoint
		if err := rows.Scan(&p.ID, &p.Name, &p.BranchID); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func (s *Store) GetPOSPoint(ctx context.Context, id string) (*domain.POSPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p domain.POSPoint
	err := s.db.QueryRowContext(ctx, "SELECT id, name, branch_id FROM pos_points WHERE id = ?", id).
		Scan(&p.ID, &p.Name, &p.BranchID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpsertPOSPoint(ctx context.Context, point domain.POSPoint) error {
	if strings.TrimSpace(point.ID) == "" || strings.TrimSpace(point.BranchID) == "" {
		return store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pos_points (id, name, branch_id) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, branch_id = excluded.branch_id`,
		point.ID, point.Name, point.BranchID)
	return err
}

func (s *Store) ListCashiers(ctx context.Context) ([]domain.Cashier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM cashiers ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cashiers []domain.Cashier
	for rows.Next() {
		var c domain.Cashier
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		cashiers = append(cashiers, c)
	}
	return cashiers, rows.Err()
}

func (s *Store) UpsertCashier(ctx context.Context, cashier domain.Cashier) error {
	if strings.TrimSpace(cashier.ID) == "" {
		return store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cashiers (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		cashier.ID, cashier.Name)
	return err
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, branch_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.BranchID, entry.ActorUsername, entry.ActorRole, entry.Action,
		entry.EntityType, entry.EntityID, entry.Detail, formatTime(entry.CreatedAt))
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE (? = '' OR branch_id = ?) AND created_at >= ? AND created_at < ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		branchID, branchID, formatTime(from), formatTime(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []domain.AuditLog
	for rows.Next() {
		var entry domain.AuditLog
		var createdAt string
		if err := rows.Scan(&entry.ID, &entry.BranchID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &createdAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = parseTime(createdAt)
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, branch_id, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		user.Username, user.Password, user.Role, user.BranchID, user.Active, formatTime(user.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, branch_id, active, created_at
		FROM app_users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.UserAccount
	for rows.Next() {
		var user domain.UserAccount
		var createdAt string
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.BranchID, &user.Active, &createdAt); err != nil {
			return nil, err
		}
		user.CreatedAt = parseTime(createdAt)
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "UPDATE app_users SET password = ? WHERE username = ?", password, username)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSettlement(row rowScanner) (domain.Settlement, error) {
	var (
		settlement domain.Settlement
		totalSales int64
		actualCash int64
		networks   string
		transfers  string
		createdAt  string
	)
	if err := row.Scan(&settlement.ID, &settlement.Date, &settlement.POSID, &settlement.BranchID,
		&settlement.CashierID, &totalSales, &networks, &transfers, &actualCash, &settlement.Notes, &createdAt); err != nil {
		return domain.Settlement{}, err
	}
	if err := json.Unmarshal([]byte(networks), &settlement.Networks); err != nil {
		return domain.Settlement{}, fmt.Errorf("decode networks for %s: %w", settlement.ID, err)
	}
	if err := json.Unmarshal([]byte(transfers), &settlement.Transfers); err != nil {
		return domain.Settlement{}, fmt.Errorf("decode transfers for %s: %w", settlement.ID, err)
	}
	settlement.TotalSales = money.Cents(totalSales)
	settlement.ActualCash = money.Cents(actualCash)
	settlement.CreatedAt = parseTime(createdAt)
	return settlement, nil
}

func encodeLines(lines []domain.PaymentLine) (string, error) {
	if lines == nil {
		lines = []domain.PaymentLine{}
	}
	raw, err := json.Marshal(lines)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	t, _ := time.Parse(timeLayout, raw)
	return t
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
