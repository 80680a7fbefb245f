package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tutupkas/backend/internal/domain"
	"tutupkas/backend/internal/store"
	"tutupkas/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

var _ store.Repository = (*Store)(nil)

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS branches (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			location TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS pos_points (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			branch_id TEXT NOT NULL REFERENCES branches(id)
		);

		CREATE TABLE IF NOT EXISTS cashiers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS settlements (
			id TEXT PRIMARY KEY,
			settlement_date DATE NOT NULL,
			pos_id TEXT NOT NULL,
			branch_id TEXT NOT NULL,
			cashier_id TEXT NOT NULL,
			total_sales_cents BIGINT NOT NULL,
			networks JSONB NOT NULL DEFAULT '[]',
			transfers JSONB NOT NULL DEFAULT '[]',
			actual_cash_cents BIGINT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_settlements_pos_date ON settlements (pos_id, settlement_date);
		CREATE INDEX IF NOT EXISTS idx_settlements_cashier ON settlements (cashier_id);

		CREATE TABLE IF NOT EXISTS audit_logs (
			id TEXT PRIMARY KEY,
			branch_id TEXT NOT NULL,
			actor_username TEXT NOT NULL,
			actor_role TEXT NOT NULL,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			detail TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_branch_created ON audit_logs (branch_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS app_users (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			role TEXT NOT NULL,
			branch_id TEXT NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
	`)
	return err
}

const settlementColumns = `
	id, to_char(settlement_date, 'YYYY-MM-DD'), pos_id, branch_id, cashier_id,
	total_sales_cents, networks, transfers, actual_cash_cents, notes, created_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSettlement(row rowScanner) (domain.Settlement, error) {
	var (
		settlement domain.Settlement
		networks   []byte
		transfers  []byte
	)
	err := row.Scan(
		&settlement.ID, &settlement.Date, &settlement.POSID, &settlement.BranchID, &settlement.CashierID,
		&settlement.TotalSales, &networks, &transfers, &settlement.ActualCash, &settlement.Notes, &settlement.CreatedAt,
	)
	if err != nil {
		return domain.Settlement{}, err
	}
	if err := json.Unmarshal(networks, &settlement.Networks); err != nil {
		return domain.Settlement{}, fmt.Errorf("decode networks for %s: %w", settlement.ID, err)
	}
	if err := json.Unmarshal(transfers, &settlement.Transfers); err != nil {
		return domain.Settlement{}, fmt.Errorf("decode transfers for %s: %w", settlement.ID, err)
	}
	settlement.CreatedAt = settlement.CreatedAt.UTC()
	return settlement, nil
}

func (s *Store) ListSettlements(ctx context.Context) ([]domain.Settlement, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+settlementColumns+` FROM settlements ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settlements := make([]domain.Settlement, 0, 64)
	for rows.Next() {
		settlement, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		settlements = append(settlements, settlement)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return settlements, nil
}

func (s *Store) GetSettlement(ctx context.Context, id string) (*domain.Settlement, error) {
	settlement, err := scanSettlement(s.db.QueryRowContext(ctx, `SELECT `+settlementColumns+` FROM settlements WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
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

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settlements (
			id, settlement_date, pos_id, branch_id, cashier_id,
			total_sales_cents, networks, transfers, actual_cash_cents, notes, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			settlement_date = EXCLUDED.settlement_date,
			pos_id = EXCLUDED.pos_id,
			branch_id = EXCLUDED.branch_id,
			cashier_id = EXCLUDED.cashier_id,
			total_sales_cents = EXCLUDED.total_sales_cents,
			networks = EXCLUDED.networks,
			transfers = EXCLUDED.transfers,
			actual_cash_cents = EXCLUDED.actual_cash_cents,
			notes = EXCLUDED.notes,
			created_at = EXCLUDED.created_at
	`, settlement.ID, settlement.Date, settlement.POSID, settlement.BranchID, settlement.CashierID,
		int64(settlement.TotalSales), networks, transfers, int64(settlement.ActualCash), settlement.Notes, settlement.CreatedAt)
	if err != nil {
		return nil, err
	}

	saved := settlement.Clone()
	return &saved, nil
}

func (s *Store) DeleteSettlement(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM settlements WHERE id = $1`, id)
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
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, location FROM branches ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	branches := make([]domain.Branch, 0, 8)
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO branches (id, name, location) VALUES ($1,$2,$3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, location = EXCLUDED.location
	`, branch.ID, branch.Name, branch.Location)
	return err
}

func (s *Store) ListPOSPoints(ctx context.Context) ([]domain.POSPoint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, branch_id FROM pos_points ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := make([]domain.POSPoint, 0, 16)
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
	var p domain.POSPoint
	err := s.db.QueryRowContext(ctx, `SELECT id, name, branch_id FROM pos_points WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.BranchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpsertPOSPoint(ctx context.Context, point domain.POSPoint) error {
	if strings.TrimSpace(point.ID) == "" || strings.TrimSpace(point.BranchID) == "" {
		return store.ErrInvalidTransaction
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pos_points (id, name, branch_id) VALUES ($1,$2,$3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, branch_id = EXCLUDED.branch_id
	`, point.ID, point.Name, point.BranchID)
	return err
}

func (s *Store) ListCashiers(ctx context.Context) ([]domain.Cashier, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM cashiers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cashiers := make([]domain.Cashier, 0, 16)
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cashiers (id, name) VALUES ($1,$2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
	`, cashier.ID, cashier.Name)
	return err
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, branch_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.BranchID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR branch_id = $1)
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, branchID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.BranchID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, branch_id, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, user.Username, user.Password, user.Role, user.BranchID, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, branch_id, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.BranchID, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
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

func encodeLines(lines []domain.PaymentLine) ([]byte, error) {
	if lines == nil {
		lines = []domain.PaymentLine{}
	}
	return json.Marshal(lines)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
