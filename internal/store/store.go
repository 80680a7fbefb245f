package store

import (
	"context"
	"errors"
	"time"

	"tutupkas/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrConflict           = errors.New("already exists")
)

// Repository is the ledger store. Settlements are always written whole.
type Repository interface {
	ListSettlements(ctx context.Context) ([]domain.Settlement, error)
	GetSettlement(ctx context.Context, id string) (*domain.Settlement, error)
	UpsertSettlement(ctx context.Context, settlement domain.Settlement) (*domain.Settlement, error)
	DeleteSettlement(ctx context.Context, id string) error

	ListBranches(ctx context.Context) ([]domain.Branch, error)
	UpsertBranch(ctx context.Context, branch domain.Branch) error
	ListPOSPoints(ctx context.Context) ([]domain.POSPoint, error)
	GetPOSPoint(ctx context.Context, id string) (*domain.POSPoint, error)
	UpsertPOSPoint(ctx context.Context, point domain.POSPoint) error
	ListCashiers(ctx context.Context) ([]domain.Cashier, error)
	UpsertCashier(ctx context.Context, cashier domain.Cashier) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
