package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"tutupkas/backend/internal/cache"
	"tutupkas/backend/internal/domain"
	"tutupkas/backend/internal/money"
	"tutupkas/backend/internal/reconcile"
	"tutupkas/backend/internal/store"
	"tutupkas/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const defaultDraftTTL = 12 * time.Hour

// ErrStoreUnavailable is the message degraded read views carry. The store's
// own error only goes to the log.
var ErrStoreUnavailable = errors.New("ledger store unavailable")

// Service is the settlement facade. Aggregates are always recomputed from a
// fresh read of the ledger; nothing derived is cached.
type Service struct {
	repo     store.Repository
	drafts   cache.DraftCache
	draftTTL time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func New(repo store.Repository, drafts cache.DraftCache, draftTTL time.Duration, logger *zap.Logger) *Service {
	if drafts == nil {
		drafts = cache.NewMemoryDraftCache()
	}
	if draftTTL <= 0 {
		draftTTL = defaultDraftTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		drafts:   drafts,
		draftTTL: draftTTL,
		logger:   logger.Named("service"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return domain.Actor{}, &domain.AuthorizationError{Message: "authenticated operator required"}
	}
	if !actor.IsAdmin() && actor.BranchID == "" {
		return domain.Actor{}, &domain.AuthorizationError{Message: "operator has no assigned branch"}
	}
	return actor, nil
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if !actor.IsAdmin() {
		return domain.Actor{}, &domain.AuthorizationError{Message: "admin role required"}
	}
	return actor, nil
}

func visibleTo(actor domain.Actor, branchID string) bool {
	return actor.IsAdmin() || actor.BranchID == branchID
}

// ListAll returns every settlement the operator may see, newest first.
func (s *Service) ListAll(ctx context.Context) ([]domain.Settlement, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	all, err := s.repo.ListSettlements(ctx)
	if err != nil {
		return nil, &domain.StoreError{Op: "list settlements", Err: err}
	}
	visible := make([]domain.Settlement, 0, len(all))
	for _, settlement := range all {
		if visibleTo(actor, settlement.BranchID) {
			visible = append(visible, settlement)
		}
	}
	return reconcile.SortByDateDesc(visible), nil
}

// ListSettlements is the list view. A failing store degrades to an empty list
// with the failure reported in the response.
func (s *Service) ListSettlements(ctx context.Context, from string, to string) (domain.SettlementListResponse, error) {
	inRange, err := dateFilter(from, to)
	if err != nil {
		return domain.SettlementListResponse{}, err
	}
	all, err := s.ListAll(ctx)
	if err != nil {
		if domain.IsStore(err) {
			s.logger.Warn("settlement list degraded", zap.Error(err))
			return domain.SettlementListResponse{Settlements: []domain.SettlementDetail{}, Error: ErrStoreUnavailable.Error()}, nil
		}
		return domain.SettlementListResponse{}, err
	}
	return domain.SettlementListResponse{Settlements: reconcile.Details(filterSettlements(all, inRange))}, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.SettlementDetail, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.SettlementDetail{}, err
	}
	settlement, err := s.repo.GetSettlement(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.SettlementDetail{}, err
		}
		return domain.SettlementDetail{}, &domain.StoreError{Op: "get settlement", Err: err}
	}
	if !visibleTo(actor, settlement.BranchID) {
		return domain.SettlementDetail{}, &domain.AuthorizationError{Message: "settlement belongs to another branch"}
	}
	return reconcile.Detail(*settlement), nil
}

// Create validates and persists a settlement. A non-empty ID replaces the
// stored record whole, keeping its original creation time.
func (s *Service) Create(ctx context.Context, settlement domain.Settlement) (domain.SettlementResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.SettlementResponse{}, err
	}

	settlement = normalizeSettlement(settlement)
	if err := validateSettlement(settlement); err != nil {
		return domain.SettlementResponse{}, err
	}
	if !actor.IsAdmin() {
		settlement.BranchID = actor.BranchID
	}

	point, err := s.repo.GetPOSPoint(ctx, settlement.POSID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.SettlementResponse{}, domain.NewValidationError("pos_id", "unknown POS point %q", settlement.POSID)
		}
		return domain.SettlementResponse{}, &domain.StoreError{Op: "get pos point", Err: err}
	}
	switch {
	case !actor.IsAdmin() && point.BranchID != actor.BranchID:
		return domain.SettlementResponse{}, &domain.AuthorizationError{Message: "POS point belongs to another branch"}
	case settlement.BranchID == "":
		settlement.BranchID = point.BranchID
	case settlement.BranchID != point.BranchID:
		return domain.SettlementResponse{}, domain.NewValidationError("branch_id", "POS point %s belongs to branch %s", point.ID, point.BranchID)
	}

	action := "settlement.create"
	if settlement.ID != "" {
		existing, err := s.repo.GetSettlement(ctx, settlement.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.SettlementResponse{}, err
			}
			return domain.SettlementResponse{}, &domain.StoreError{Op: "get settlement", Err: err}
		}
		if !visibleTo(actor, existing.BranchID) {
			return domain.SettlementResponse{}, &domain.AuthorizationError{Message: "settlement belongs to another branch"}
		}
		settlement.CreatedAt = existing.CreatedAt
		action = "settlement.replace"
	} else {
		settlement.ID = xid.New("stl")
	}
	if settlement.CreatedAt.IsZero() {
		settlement.CreatedAt = s.now()
	}

	saved, err := s.repo.UpsertSettlement(ctx, settlement)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransaction) {
			return domain.SettlementResponse{}, err
		}
		return domain.SettlementResponse{}, &domain.StoreError{Op: "upsert settlement", Err: err}
	}

	detail := reconcile.Detail(*saved)
	s.logAudit(ctx, saved.BranchID, action, "settlement", saved.ID,
		fmt.Sprintf("pos=%s,date=%s,variance=%s,status=%s", saved.POSID, saved.Date, detail.Variance, detail.Status))
	s.logger.Info("settlement saved",
		zap.String("action", action),
		zap.String("settlement_id", saved.ID),
		zap.String("pos_id", saved.POSID),
		zap.String("actor", actor.Username),
		zap.String("status", detail.Status),
	)

	return domain.SettlementResponse{
		Settlement:  detail,
		DuplicateOf: s.duplicatesOf(ctx, *saved),
	}, nil
}

// duplicatesOf reports other closings of the same till on the same date. A
// store failure only costs the warning.
func (s *Service) duplicatesOf(ctx context.Context, saved domain.Settlement) []string {
	all, err := s.repo.ListSettlements(ctx)
	if err != nil {
		s.logger.Warn("duplicate check skipped", zap.String("settlement_id", saved.ID), zap.Error(err))
		return nil
	}
	var ids []string
	for _, other := range all {
		if other.ID != saved.ID && other.POSID == saved.POSID && other.Date == saved.Date {
			ids = append(ids, other.ID)
		}
	}
	if len(ids) > 0 {
		slices.Sort(ids)
		s.logger.Warn("duplicate closing for till and date",
			zap.String("settlement_id", saved.ID),
			zap.String("pos_id", saved.POSID),
			zap.String("date", saved.Date),
			zap.Strings("duplicate_of", ids),
		)
	}
	return ids
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	existing, err := s.repo.GetSettlement(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		return &domain.StoreError{Op: "get settlement", Err: err}
	}
	if err := s.repo.DeleteSettlement(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		return &domain.StoreError{Op: "delete settlement", Err: err}
	}
	s.logAudit(ctx, existing.BranchID, "settlement.delete", "settlement", id,
		fmt.Sprintf("pos=%s,date=%s", existing.POSID, existing.Date))
	return nil
}

func (s *Service) POSAggregate(ctx context.Context, posID string) (domain.POSAggregateResponse, error) {
	posID = strings.TrimSpace(posID)
	if posID == "" {
		return domain.POSAggregateResponse{}, domain.NewValidationError("pos_id", "POS point is required")
	}
	all, err := s.ListAll(ctx)
	if err != nil {
		if domain.IsStore(err) {
			s.logger.Warn("pos aggregate degraded", zap.String("pos_id", posID), zap.Error(err))
			return domain.POSAggregateResponse{Aggregate: reconcile.ForPOS(posID, nil), Error: ErrStoreUnavailable.Error()}, nil
		}
		return domain.POSAggregateResponse{}, err
	}
	return domain.POSAggregateResponse{Aggregate: reconcile.ForPOS(posID, all)}, nil
}

func (s *Service) CashierAggregate(ctx context.Context, cashierID string) (domain.CashierAggregateResponse, error) {
	cashierID = strings.TrimSpace(cashierID)
	if cashierID == "" {
		return domain.CashierAggregateResponse{}, domain.NewValidationError("cashier_id", "cashier is required")
	}
	all, err := s.ListAll(ctx)
	if err != nil {
		if domain.IsStore(err) {
			s.logger.Warn("cashier aggregate degraded", zap.String("cashier_id", cashierID), zap.Error(err))
			return domain.CashierAggregateResponse{Aggregate: reconcile.ForCashier(cashierID, nil), Error: ErrStoreUnavailable.Error()}, nil
		}
		return domain.CashierAggregateResponse{}, err
	}
	return domain.CashierAggregateResponse{Aggregate: reconcile.ForCashier(cashierID, all)}, nil
}

// Overview summarizes the operator's visible settlements by classification.
func (s *Service) Overview(ctx context.Context, from string, to string) (domain.OverviewResponse, error) {
	inRange, err := dateFilter(from, to)
	if err != nil {
		return domain.OverviewResponse{}, err
	}
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.OverviewResponse{}, err
	}
	resp := domain.OverviewResponse{From: strings.TrimSpace(from), To: strings.TrimSpace(to)}
	if !actor.IsAdmin() {
		resp.BranchID = actor.BranchID
	}

	all, err := s.ListAll(ctx)
	if err != nil {
		if domain.IsStore(err) {
			s.logger.Warn("overview degraded", zap.Error(err))
			resp.Error = ErrStoreUnavailable.Error()
			return resp, nil
		}
		return domain.OverviewResponse{}, err
	}
	resp.Overview = reconcile.Summarize(filterSettlements(all, inRange))
	return resp, nil
}

func (s *Service) ListPOSPoints(ctx context.Context) ([]domain.POSPoint, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	points, err := s.repo.ListPOSPoints(ctx)
	if err != nil {
		return nil, &domain.StoreError{Op: "list pos points", Err: err}
	}
	visible := make([]domain.POSPoint, 0, len(points))
	for _, point := range points {
		if visibleTo(actor, point.BranchID) {
			visible = append(visible, point)
		}
	}
	return visible, nil
}

func (s *Service) ListCashiers(ctx context.Context) ([]domain.Cashier, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	cashiers, err := s.repo.ListCashiers(ctx)
	if err != nil {
		return nil, &domain.StoreError{Op: "list cashiers", Err: err}
	}
	return cashiers, nil
}

func (s *Service) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	branches, err := s.repo.ListBranches(ctx)
	if err != nil {
		return nil, &domain.StoreError{Op: "list branches", Err: err}
	}
	visible := make([]domain.Branch, 0, len(branches))
	for _, branch := range branches {
		if visibleTo(actor, branch.ID) {
			visible = append(visible, branch)
		}
	}
	return visible, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, branchID string, date string, limit int) ([]domain.AuditLog, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse(domain.DateLayout, strings.TrimSpace(date))
		if err != nil {
			return nil, domain.NewValidationError("date", "must be YYYY-MM-DD")
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	logs, err := s.repo.ListAuditLogs(ctx, strings.TrimSpace(branchID), from, to, limit)
	if err != nil {
		return nil, &domain.StoreError{Op: "list audit logs", Err: err}
	}
	return logs, nil
}

func (s *Service) logAudit(ctx context.Context, branchID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		BranchID:      branchID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}

func normalizeSettlement(settlement domain.Settlement) domain.Settlement {
	settlement = settlement.Clone()
	settlement.ID = strings.TrimSpace(settlement.ID)
	settlement.Date = strings.TrimSpace(settlement.Date)
	settlement.POSID = strings.TrimSpace(settlement.POSID)
	settlement.BranchID = strings.TrimSpace(settlement.BranchID)
	settlement.CashierID = strings.TrimSpace(settlement.CashierID)
	settlement.Notes = strings.TrimSpace(settlement.Notes)
	settlement.Networks = dropEmptyLines(settlement.Networks)
	settlement.Transfers = dropEmptyLines(settlement.Transfers)
	return settlement
}

func dropEmptyLines(lines []domain.PaymentLine) []domain.PaymentLine {
	out := make([]domain.PaymentLine, 0, len(lines))
	for _, line := range lines {
		if line.Amount == 0 {
			continue
		}
		if line.ID == "" {
			line.ID = xid.New("line")
		}
		out = append(out, line)
	}
	return out
}

func validateSettlement(settlement domain.Settlement) error {
	if settlement.POSID == "" {
		return domain.NewValidationError("pos_id", "POS point is required")
	}
	if settlement.CashierID == "" {
		return domain.NewValidationError("cashier_id", "cashier is required")
	}
	if _, err := time.Parse(domain.DateLayout, settlement.Date); err != nil {
		return domain.NewValidationError("date", "must be YYYY-MM-DD")
	}
	if err := checkAmount("total_sales", settlement.TotalSales); err != nil {
		return err
	}
	if err := checkAmount("actual_cash", settlement.ActualCash); err != nil {
		return err
	}
	lines := slices.Concat(settlement.Networks, settlement.Transfers)
	amounts := make([]money.Cents, 0, len(lines))
	for _, line := range lines {
		if err := checkAmount("lines."+line.ID, line.Amount); err != nil {
			return err
		}
		amounts = append(amounts, line.Amount)
	}
	if _, err := money.Sum(amounts...); err != nil {
		return domain.NewValidationError("lines", "electronic payments total is out of range")
	}
	return nil
}

func checkAmount(field string, amount money.Cents) error {
	switch {
	case amount < 0:
		return domain.NewValidationError(field, "must not be negative")
	case amount > money.MaxAmount:
		return domain.NewValidationError(field, "must not exceed %s", money.MaxAmount)
	}
	return nil
}

// dateFilter builds an inclusive YYYY-MM-DD range check. Blank bounds are open.
func dateFilter(from string, to string) (func(domain.Settlement) bool, error) {
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from != "" {
		if _, err := time.Parse(domain.DateLayout, from); err != nil {
			return nil, domain.NewValidationError("from", "must be YYYY-MM-DD")
		}
	}
	if to != "" {
		if _, err := time.Parse(domain.DateLayout, to); err != nil {
			return nil, domain.NewValidationError("to", "must be YYYY-MM-DD")
		}
	}
	if from != "" && to != "" && from > to {
		return nil, domain.NewValidationError("from", "must not be after to")
	}
	return func(s domain.Settlement) bool {
		return (from == "" || s.Date >= from) && (to == "" || s.Date <= to)
	}, nil
}

func filterSettlements(list []domain.Settlement, keep func(domain.Settlement) bool) []domain.Settlement {
	out := make([]domain.Settlement, 0, len(list))
	for _, s := range list {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}
