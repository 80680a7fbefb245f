package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tutupkas/backend/internal/domain"
)

func DemoBranches() []domain.Branch {
	return []domain.Branch{
		{ID: "branch-1", Name: "Cabang Pusat", Location: "Jakarta"},
		{ID: "branch-2", Name: "Cabang Timur", Location: "Bekasi"},
	}
}

func DemoPOSPoints() []domain.POSPoint {
	return []domain.POSPoint{
		{ID: "pos-1", Name: "Kasir 1", BranchID: "branch-1"},
		{ID: "pos-2", Name: "Kasir 2", BranchID: "branch-1"},
		{ID: "pos-3", Name: "Kasir Timur", BranchID: "branch-2"},
	}
}

func DemoCashiers() []domain.Cashier {
	return []domain.Cashier{
		{ID: "cashier-1", Name: "Ayu"},
		{ID: "cashier-2", Name: "Budi"},
		{ID: "cashier-3", Name: "Citra"},
	}
}

// DemoUsers returns the admin and branch-1 cashier logins with bcrypt hashed
// passwords.
func DemoUsers(adminPassword string, cashierPassword string) ([]domain.UserAccount, error) {
	now := time.Now().UTC()
	users := make([]domain.UserAccount, 0, 2)
	for _, u := range []struct {
		username string
		password string
		role     string
		branchID string
	}{
		{"admin", adminPassword, domain.RoleAdmin, ""},
		{"cashier", cashierPassword, domain.RoleCashier, "branch-1"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash seed password for %s: %w", u.username, err)
		}
		users = append(users, domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			BranchID:  u.branchID,
			Active:    true,
			CreatedAt: now,
		})
	}
	return users, nil
}

// SeedDemo writes the demo catalog and logins. Existing users are left alone
// so a restart never resets a changed password.
func SeedDemo(ctx context.Context, repo Repository, users []domain.UserAccount) error {
	for _, branch := range DemoBranches() {
		if err := repo.UpsertBranch(ctx, branch); err != nil {
			return fmt.Errorf("seed branch %s: %w", branch.ID, err)
		}
	}
	for _, point := range DemoPOSPoints() {
		if err := repo.UpsertPOSPoint(ctx, point); err != nil {
			return fmt.Errorf("seed pos point %s: %w", point.ID, err)
		}
	}
	for _, cashier := range DemoCashiers() {
		if err := repo.UpsertCashier(ctx, cashier); err != nil {
			return fmt.Errorf("seed cashier %s: %w", cashier.ID, err)
		}
	}
	for _, user := range users {
		if err := repo.CreateUser(ctx, user); err != nil && !errors.Is(err, ErrConflict) {
			return fmt.Errorf("seed user %s: %w", user.Username, err)
		}
	}
	return nil
}
