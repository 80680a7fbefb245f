package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"tutupkas/backend/internal/domain"
	"tutupkas/backend/internal/store"
	"tutupkas/backend/internal/xid"
)

// Store keeps the ledger in process memory. It backs development runs and
// tests; everything is lost on restart.
type Store struct {
	mu              sync.RWMutex
	settlements     map[string]domain.Settlement
	branches        map[string]domain.Branch
	posPoints       map[string]domain.POSPoint
	cashiers        map[string]domain.Cashier
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		settlements:     make(map[string]domain.Settlement),
		branches:        make(map[string]domain.Branch),
		posPoints:       make(map[string]domain.POSPoint),
		cashiers:        make(map[string]domain.Cashier),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store holding the demo catalog and the given logins.
func NewSeeded(users []domain.UserAccount) *Store {
	s := New()
	for _, b := range store.DemoBranches() {
		s.branches[b.ID] = b
	}
	for _, p := range store.DemoPOSPoints() {
		s.posPoints[p.ID] = p
	}
	for _, c := range store.DemoCashiers() {
		s.cashiers[c.ID] = c
	}
	for _, u := range users {
		u.Username = strings.ToLower(strings.TrimSpace(u.Username))
		s.usersByUsername[u.Username] = u
	}
	return s
}

func (s *Store) ListSettlements(_ context.Context) ([]domain.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Settlement, 0, len(s.settlements))
	for _, settlement := range s.settlements {
		result = append(result, settlement.Clone())
	}
	slices.SortFunc(result, func(a, b domain.Settlement) int {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Compare(b.CreatedAt)
		}
		return cmpString(a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) GetSettlement(_ context.Context, id string) (*domain.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settlement, ok := s.settlements[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := settlement.Clone()
	return &dup, nil
}

func (s *Store) UpsertSettlement(_ context.Context, settlement domain.Settlement) (*domain.Settlement, error) {
	if strings.TrimSpace(settlement.POSID) == "" || strings.TrimSpace(settlement.Date) == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if settlement.ID == "" {
		settlement.ID = xid.New("stl")
	}
	if settlement.CreatedAt.IsZero() {
		settlement.CreatedAt = time.Now().UTC()
	}
	s.settlements[settlement.ID] = settlement.Clone()
	dup := settlement.Clone()
	return &dup, nil
}

func (s *Store) DeleteSettlement(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.settlements[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.settlements, id)
	return nil
}

func (s *Store) ListBranches(_ context.Context) ([]domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Branch, 0, len(s.branches))
	for _, b := range s.branches {
		result = append(result, b)
	}
	slices.SortFunc(result, func(a, b domain.Branch) int { return cmpString(a.ID, b.ID) })
	return result, nil
}

func (s *Store) UpsertBranch(_ context.Context, branch domain.Branch) error {
	if strings.TrimSpace(branch.ID) == "" {
		return store.ErrInvalidTransaction
	}
	s.mu.Lock()
	s.branches[branch.ID] = branch
	s.mu.Unlock()
	return nil
}

func (s *Store) ListPOSPoints(_ context.Context) ([]domain.POSPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.POSPoint, 0, len(s.posPoints))
	for _, p := range s.posPoints {
		result = append(result, p)
	}
	slices.SortFunc(result, func(a, b domain.POSPoint) int { return cmpString(a.ID, b.ID) })
	return result, nil
}

func (s *Store) GetPOSPoint(_ context.Context, id string) (*domain.POSPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	point, ok := s.posPoints[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &point, nil
}

func (s *Store) UpsertPOSPoint(_ context.Context, point domain.POSPoint) error {
	if strings.TrimSpace(point.ID) == "" || strings.TrimSpace(point.BranchID) == "" {
		return store.ErrInvalidTransaction
	}
	s.mu.Lock()
	s.posPoints[point.ID] = point
	s.mu.Unlock()
	return nil
}

func (s *Store) ListCashiers(_ context.Context) ([]domain.Cashier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Cashier, 0, len(s.cashiers))
	for _, c := range s.cashiers {
		result = append(result, c)
	}
	slices.SortFunc(result, func(a, b domain.Cashier) int { return cmpString(a.ID, b.ID) })
	return result, nil
}

func (s *Store) UpsertCashier(_ context.Context, cashier domain.Cashier) error {
	if strings.TrimSpace(cashier.ID) == "" {
		return store.ErrInvalidTransaction
	}
	s.mu.Lock()
	s.cashiers[cashier.ID] = cashier
	s.mu.Unlock()
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if branchID != "" && entry.BranchID != branchID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}
