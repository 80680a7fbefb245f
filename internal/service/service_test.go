package service

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tutupkas/backend/internal/cache"
	"tutupkas/backend/internal/domain"
	"tutupkas/backend/internal/money"
	"tutupkas/backend/internal/store"
	"tutupkas/backend/internal/store/memory"
	"tutupkas/backend/internal/wizard"
)

var (
	adminActor   = domain.Actor{Username: "admin", Role: domain.RoleAdmin}
	cashierActor = domain.Actor{Username: "cashier", Role: domain.RoleCashier, BranchID: "branch-1"}
	eastActor    = domain.Actor{Username: "timur", Role: domain.RoleCashier, BranchID: "branch-2"}
	fixedNow     = time.Date(2026, 10, 15, 21, 0, 0, 0, time.UTC)
)

// flakyRepo fails the settlement calls selected by its fields.
type flakyRepo struct {
	store.Repository
	failList   bool
	failUpsert bool
}

var errStoreDown = errors.New("store unavailable")

func (r *flakyRepo) ListSettlements(ctx context.Context) ([]domain.Settlement, error) {
	if r.failList {
		return nil, errStoreDown
	}
	return r.Repository.ListSettlements(ctx)
}

func (r *flakyRepo) UpsertSettlement(ctx context.Context, s domain.Settlement) (*domain.Settlement, error) {
	if r.failUpsert {
		return nil, errStoreDown
	}
	return r.Repository.UpsertSettlement(ctx, s)
}

func newTestService(t *testing.T) (*Service, *flakyRepo) {
	t.Helper()
	repo := &flakyRepo{Repository: memory.NewSeeded(nil)}
	svc := New(repo, cache.NewMemoryDraftCache(), time.Hour, zap.NewNop())
	svc.now = func() time.Time { return fixedNow }
	return svc, repo
}

func as(actor domain.Actor) context.Context {
	return WithActor(context.Background(), actor)
}

func closing(posID string, date string, sales string, networks string, cash string) domain.Settlement {
	s := domain.Settlement{
		Date:       date,
		POSID:      posID,
		CashierID:  "cashier-1",
		TotalSales: money.MustParse(sales),
		ActualCash: money.MustParse(cash),
	}
	if networks != "" {
		s.Networks = []domain.PaymentLine{{ID: "n1", Name: "Card Network A", Amount: money.MustParse(networks)}}
	}
	return s
}

func TestCreateDerivesFieldsAndAudits(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := as(cashierActor)

	resp, err := svc.Create(ctx, closing("pos-1", "2026-10-15", "1000", "300", "650"))
	require.NoError(t, err)

	got := resp.Settlement
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "branch-1", got.BranchID)
	assert.Equal(t, money.MustParse("300"), got.NetElectronic)
	assert.Equal(t, money.MustParse("700"), got.ExpectedCash)
	assert.Equal(t, money.MustParse("-50"), got.Variance)
	assert.Equal(t, domain.StatusShortage, got.Status)
	assert.Equal(t, fixedNow, got.CreatedAt)
	assert.Empty(t, resp.DuplicateOf)

	logs, err := repo.ListAuditLogs(context.Background(), "branch-1", fixedNow.Add(-time.Hour), fixedNow.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "settlement.create", logs[0].Action)
	assert.Equal(t, "cashier", logs[0].ActorUsername)
}

func TestCreateRequiresPOSAndCashier(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := as(adminActor)

	missingPOS := closing("", "2026-10-15", "1", "", "1")
	_, err := svc.Create(ctx, missingPOS)
	assert.True(t, domain.IsValidation(err))

	missingCashier := closing("pos-1", "2026-10-15", "1", "", "1")
	missingCashier.CashierID = " "
	_, err = svc.Create(ctx, missingCashier)
	assert.True(t, domain.IsValidation(err))

	_, err = svc.Create(ctx, closing("pos-404", "2026-10-15", "1", "", "1"))
	assert.True(t, domain.IsValidation(err))

	negative := closing("pos-1", "2026-10-15", "1", "", "1")
	negative.ActualCash = -1
	_, err = svc.Create(ctx, negative)
	assert.True(t, domain.IsValidation(err))
}

func TestCreateForcesOperatorBranch(t *testing.T) {
	svc, _ := newTestService(t)

	tampered := closing("pos-1", "2026-10-15", "100", "", "100")
	tampered.BranchID = "branch-2"
	resp, err := svc.Create(as(cashierActor), tampered)
	require.NoError(t, err)
	assert.Equal(t, "branch-1", resp.Settlement.BranchID)

	_, err = svc.Create(as(cashierActor), closing("pos-3", "2026-10-15", "100", "", "100"))
	assert.True(t, domain.IsAuthorization(err))
}

func TestCreateAdminBranchFollowsPOSPoint(t *testing.T) {
	svc, _ := newTestService(t)

	resp, err := svc.Create(as(adminActor), closing("pos-3", "2026-10-15", "100", "", "100"))
	require.NoError(t, err)
	assert.Equal(t, "branch-2", resp.Settlement.BranchID)

	mismatched := closing("pos-3", "2026-10-15", "100", "", "100")
	mismatched.BranchID = "branch-1"
	_, err = svc.Create(as(adminActor), mismatched)
	assert.True(t, domain.IsValidation(err))
}

func TestCreateDropsZeroLines(t *testing.T) {
	svc, _ := newTestService(t)
	s := closing("pos-1", "2026-10-15", "1000", "", "925")
	s.Networks = []domain.PaymentLine{
		{ID: "a", Name: "Card Network A", Amount: 0},
		{ID: "b", Name: "Card Network B", Amount: money.MustParse("75")},
	}

	resp, err := svc.Create(as(cashierActor), s)
	require.NoError(t, err)
	require.Len(t, resp.Settlement.Networks, 1)
	assert.Equal(t, "b", resp.Settlement.Networks[0].ID)
	assert.Equal(t, domain.StatusMatched, resp.Settlement.Status)
}

func TestCreateFlagsDuplicateClosing(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := as(cashierActor)

	first, err := svc.Create(ctx, closing("pos-1", "2026-10-15", "100", "", "100"))
	require.NoError(t, err)
	second, err := svc.Create(ctx, closing("pos-1", "2026-10-15", "120", "", "120"))
	require.NoError(t, err)

	assert.Equal(t, []string{first.Settlement.ID}, second.DuplicateOf)

	other, err := svc.Create(ctx, closing("pos-1", "2026-10-16", "100", "", "100"))
	require.NoError(t, err)
	assert.Empty(t, other.DuplicateOf)
}

func TestCreateReplaceKeepsIDAndCreatedAt(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := as(adminActor)

	original, err := svc.Create(ctx, closing("pos-1", "2026-10-15", "100", "", "90"))
	require.NoError(t, err)

	svc.now = func() time.Time { return fixedNow.Add(2 * time.Hour) }
	edited := original.Settlement.Settlement.Clone()
	edited.ActualCash = money.MustParse("100")
	edited.CreatedAt = time.Time{}
	replaced, err := svc.Create(ctx, edited)
	require.NoError(t, err)

	assert.Equal(t, original.Settlement.ID, replaced.Settlement.ID)
	assert.Equal(t, fixedNow, replaced.Settlement.CreatedAt)
	assert.Equal(t, domain.StatusMatched, replaced.Settlement.Status)
	assert.Empty(t, replaced.DuplicateOf)

	all, err := repo.ListSettlements(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)

	gone := edited
	gone.ID = "stl-missing"
	_, err = svc.Create(ctx, gone)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateStoreFailureIsRetryable(t *testing.T) {
	svc, repo := newTestService(t)
	repo.failUpsert = true

	_, err := svc.Create(as(cashierActor), closing("pos-1", "2026-10-15", "100", "", "100"))
	assert.True(t, domain.IsStore(err))
	assert.ErrorIs(t, err, errStoreDown)
}

func TestListAllFiltersByBranch(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Create(as(cashierActor), closing("pos-1", "2026-10-14", "100", "", "100"))
	require.NoError(t, err)
	_, err = svc.Create(as(cashierActor), closing("pos-2", "2026-10-15", "100", "", "100"))
	require.NoError(t, err)
	_, err = svc.Create(as(eastActor), closing("pos-3", "2026-10-15", "100", "", "100"))
	require.NoError(t, err)

	mine, err := svc.ListAll(as(cashierActor))
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "2026-10-15", mine[0].Date)

	all, err := svc.ListAll(as(adminActor))
	require.NoError(t, err)
	assert.Len(t, all, 3)

	ranged, err := svc.ListSettlements(as(adminActor), "2026-10-15", "2026-10-15")
	require.NoError(t, err)
	assert.Len(t, ranged.Settlements, 2)

	_, err = svc.ListSettlements(as(adminActor), "2026-10-16", "2026-10-15")
	assert.True(t, domain.IsValidation(err))
}

func TestGetIsBranchScoped(t *testing.T) {
	svc, _ := newTestService(t)
	resp, err := svc.Create(as(eastActor), closing("pos-3", "2026-10-15", "100", "", "100"))
	require.NoError(t, err)

	_, err = svc.Get(as(cashierActor), resp.Settlement.ID)
	assert.True(t, domain.IsAuthorization(err))

	got, err := svc.Get(as(adminActor), resp.Settlement.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusMatched, got.Status)

	_, err = svc.Get(as(adminActor), "stl-missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteIsAdminOnly(t *testing.T) {
	svc, repo := newTestService(t)
	resp, err := svc.Create(as(cashierActor), closing("pos-1", "2026-10-15", "100", "", "100"))
	require.NoError(t, err)
	id := resp.Settlement.ID

	err = svc.Delete(as(cashierActor), id)
	assert.True(t, domain.IsAuthorization(err))

	require.NoError(t, svc.Delete(as(adminActor), id))
	assert.ErrorIs(t, svc.Delete(as(adminActor), id), store.ErrNotFound)

	logs, err := repo.ListAuditLogs(context.Background(), "branch-1", fixedNow.Add(-time.Hour), fixedNow.Add(time.Hour), 10)
	require.NoError(t, err)
	actions := make([]string, 0, len(logs))
	for _, entry := range logs {
		actions = append(actions, entry.Action)
	}
	assert.ElementsMatch(t, []string{"settlement.create", "settlement.delete"}, actions)
}

func TestAggregates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := as(cashierActor)

	_, err := svc.Create(ctx, closing("pos-1", "2026-10-14", "100", "150", "0"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, closing("pos-1", "2026-10-15", "200", "50", "140"))
	require.NoError(t, err)

	pos, err := svc.POSAggregate(ctx, "pos-1")
	require.NoError(t, err)
	assert.Empty(t, pos.Error)
	assert.Equal(t, 2, pos.Aggregate.Count)
	assert.Equal(t, money.MustParse("300"), pos.Aggregate.TotalSales)
	assert.Equal(t, money.MustParse("140"), pos.Aggregate.TotalCash)
	assert.Equal(t, money.MustParse("200"), pos.Aggregate.NetworkTotal)

	// Expected cash floors at zero per settlement: 0 + (140 - 150).
	cashier, err := svc.CashierAggregate(ctx, "cashier-1")
	require.NoError(t, err)
	assert.Equal(t, 2, cashier.Aggregate.Count)
	assert.Equal(t, money.MustParse("-10"), cashier.Aggregate.TotalDiff)

	overview, err := svc.Overview(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, "branch-1", overview.BranchID)
	assert.Equal(t, 2, overview.Overview.Count)
	assert.Equal(t, 1, overview.Overview.Matched)
	assert.Equal(t, 1, overview.Overview.Shortages)

	_, err = svc.POSAggregate(ctx, " ")
	assert.True(t, domain.IsValidation(err))
}

func TestAggregatesDegradeOnStoreFailure(t *testing.T) {
	svc, repo := newTestService(t)
	repo.failList = true
	ctx := as(adminActor)
	want := ErrStoreUnavailable.Error()

	pos, err := svc.POSAggregate(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, want, pos.Error)
	assert.Equal(t, 0, pos.Aggregate.Count)
	assert.NotNil(t, pos.Aggregate.Settlements)

	cashier, err := svc.CashierAggregate(ctx, "cashier-1")
	require.NoError(t, err)
	assert.Equal(t, want, cashier.Error)

	list, err := svc.ListSettlements(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, want, list.Error)
	assert.Empty(t, list.Settlements)

	overview, err := svc.Overview(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, want, overview.Error)

	for _, msg := range []string{pos.Error, cashier.Error, list.Error, overview.Error} {
		assert.NotEqual(t, errStoreDown.Error(), msg)
	}
}

func TestCreateRejectsOutOfRangeAmounts(t *testing.T) {
	cases := map[string]struct {
		mutate func(*domain.Settlement)
		field  string
	}{
		"wrapping network lines": {
			mutate: func(s *domain.Settlement) {
				s.Networks = []domain.PaymentLine{
					{ID: "n1", Name: "Card Network A", Amount: money.Cents(math.MaxInt64)},
					{ID: "n2", Name: "Card Network B", Amount: money.Cents(math.MaxInt64)},
				}
			},
			field: "lines.n1",
		},
		"sales above ceiling": {
			mutate: func(s *domain.Settlement) { s.TotalSales = money.MaxAmount + 1 },
			field:  "total_sales",
		},
		"negative cash": {
			mutate: func(s *domain.Settlement) { s.ActualCash = -1 },
			field:  "actual_cash",
		},
		"transfer above ceiling": {
			mutate: func(s *domain.Settlement) {
				s.Transfers = []domain.PaymentLine{{ID: "t1", Name: "Bank", Amount: money.MaxAmount + 1}}
			},
			field: "lines.t1",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			svc, repo := newTestService(t)
			settlement := closing("pos-1", "2026-10-15", "1000", "", "1000")
			tc.mutate(&settlement)

			_, err := svc.Create(as(adminActor), settlement)
			require.True(t, domain.IsValidation(err), "got %v", err)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)

			saved, err := repo.ListSettlements(context.Background())
			require.NoError(t, err)
			assert.Empty(t, saved)
		})
	}
}

func TestCreateAcceptsCeilingAmounts(t *testing.T) {
	svc, _ := newTestService(t)
	settlement := closing("pos-1", "2026-10-15", "1000", "", "1000")
	settlement.TotalSales = money.MaxAmount
	settlement.ActualCash = money.MaxAmount
	settlement.Networks = []domain.PaymentLine{
		{ID: "n1", Name: "Card Network A", Amount: money.MaxAmount},
		{ID: "n2", Name: "Card Network B", Amount: money.MaxAmount},
	}

	resp, err := svc.Create(as(adminActor), settlement)
	require.NoError(t, err)
	require.Len(t, resp.Settlement.Settlement.Networks, 2)
	assert.Equal(t, money.MaxAmount, resp.Settlement.Settlement.Networks[1].Amount)
}

func TestReferenceDataIsBranchScoped(t *testing.T) {
	svc, _ := newTestService(t)

	points, err := svc.ListPOSPoints(as(cashierActor))
	require.NoError(t, err)
	for _, p := range points {
		assert.Equal(t, "branch-1", p.BranchID)
	}

	branches, err := svc.ListBranches(as(eastActor))
	require.NoError(t, err)
	require.Len(t, branches, 1)
	assert.Equal(t, "branch-2", branches[0].ID)

	cashiers, err := svc.ListCashiers(as(eastActor))
	require.NoError(t, err)
	assert.Len(t, cashiers, len(store.DemoCashiers()))

	_, err = svc.ListPOSPoints(context.Background())
	assert.True(t, domain.IsAuthorization(err))
}

func TestListAuditLogsRequiresAdmin(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ListAuditLogs(as(cashierActor), "", "", 10)
	assert.True(t, domain.IsAuthorization(err))

	_, err = svc.ListAuditLogs(as(adminActor), "", "15-10-2026", 10)
	assert.True(t, domain.IsValidation(err))

	_, err = svc.Create(as(cashierActor), closing("pos-1", "2026-10-15", "1", "", "1"))
	require.NoError(t, err)
	logs, err := svc.ListAuditLogs(as(adminActor), "", "2026-10-15", 10)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func strPtr(v string) *string { return &v }

func TestWizardSessionEndToEnd(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := as(cashierActor)

	view, err := svc.StartWizard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Step)
	assert.True(t, view.BranchLocked)
	assert.Equal(t, "branch-1", view.Draft.BranchID)
	id := view.ID

	_, err = svc.Next(ctx, id)
	assert.True(t, domain.IsValidation(err))

	_, err = svc.PatchWizard(ctx, id, wizard.Patch{BranchID: strPtr("branch-2")})
	assert.True(t, domain.IsAuthorization(err))

	_, err = svc.PatchWizard(ctx, id, wizard.Patch{POSID: strPtr("pos-1"), CashierID: strPtr("cashier-2")})
	require.NoError(t, err)
	_, err = svc.Next(ctx, id)
	require.NoError(t, err)
	_, err = svc.PatchWizard(ctx, id, wizard.Patch{TotalSales: strPtr("1000")})
	require.NoError(t, err)
	view, err = svc.Next(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "electronic_payments", view.StepName)

	view, err = svc.UpdateLine(ctx, id, view.Draft.Networks[1].ID, LineUpdateRequest{Amount: strPtr("75")})
	require.NoError(t, err)
	view, lineID, err := svc.AddLine(ctx, id, LineRequest{Kind: wizard.LineTransfer, Name: "Bank", Amount: "25"})
	require.NoError(t, err)
	assert.NotEmpty(t, lineID)
	assert.Equal(t, money.MustParse("100"), view.Balance.NetElectronic)
	view, err = svc.RemoveLine(ctx, id, lineID)
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("925"), view.Balance.ExpectedCash)

	_, err = svc.Next(ctx, id)
	require.NoError(t, err)
	view, err = svc.PatchWizard(ctx, id, wizard.Patch{ActualCash: strPtr("925")})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusMatched, view.Balance.Status)

	result, err := svc.Commit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "committed", result.Wizard.StepName)
	saved := result.Settlement.Settlement
	assert.Equal(t, "branch-1", saved.BranchID)
	assert.Equal(t, "cashier-2", saved.CashierID)
	require.Len(t, saved.Networks, 1)
	assert.Equal(t, money.MustParse("75"), saved.Networks[0].Amount)
	assert.Empty(t, saved.Transfers)

	_, err = svc.GetWizard(ctx, id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestWizardCommitFailureKeepsSession(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := as(cashierActor)

	view, err := svc.StartWizard(ctx)
	require.NoError(t, err)
	id := view.ID
	_, err = svc.PatchWizard(ctx, id, wizard.Patch{POSID: strPtr("pos-1"), CashierID: strPtr("cashier-1"), TotalSales: strPtr("50")})
	require.NoError(t, err)
	for range 3 {
		_, err = svc.Next(ctx, id)
		require.NoError(t, err)
	}
	_, err = svc.PatchWizard(ctx, id, wizard.Patch{ActualCash: strPtr("50"), Notes: strPtr("late count")})
	require.NoError(t, err)

	repo.failUpsert = true
	failed, err := svc.Commit(ctx, id)
	assert.True(t, domain.IsStore(err))
	assert.Equal(t, "cash_count", failed.Wizard.StepName)

	kept, err := svc.GetWizard(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "cash_count", kept.StepName)
	assert.Equal(t, "late count", kept.Draft.Notes)
	assert.Equal(t, "50", kept.Draft.ActualCash)

	repo.failUpsert = false
	result, err := svc.Commit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "late count", result.Settlement.Settlement.Notes)
}

// stickyDrafts keeps every session it is asked to delete.
type stickyDrafts struct {
	*cache.MemoryDraftCache
}

func (stickyDrafts) Delete(context.Context, string) error {
	return errors.New("delete refused")
}

func TestWizardCommitIsNotRepeatedWhenDiscardFails(t *testing.T) {
	repo := &flakyRepo{Repository: memory.NewSeeded(nil)}
	svc := New(repo, stickyDrafts{cache.NewMemoryDraftCache()}, time.Hour, zap.NewNop())
	svc.now = func() time.Time { return fixedNow }
	ctx := as(cashierActor)

	view, err := svc.StartWizard(ctx)
	require.NoError(t, err)
	id := view.ID
	_, err = svc.PatchWizard(ctx, id, wizard.Patch{POSID: strPtr("pos-1"), CashierID: strPtr("cashier-1"), TotalSales: strPtr("50")})
	require.NoError(t, err)
	for range 3 {
		_, err = svc.Next(ctx, id)
		require.NoError(t, err)
	}
	_, err = svc.PatchWizard(ctx, id, wizard.Patch{ActualCash: strPtr("50")})
	require.NoError(t, err)

	result, err := svc.Commit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "committed", result.Wizard.StepName)

	left, err := svc.GetWizard(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "committed", left.StepName)

	_, err = svc.Commit(ctx, id)
	assert.ErrorIs(t, err, wizard.ErrInvalidStep)

	saved, err := repo.ListSettlements(context.Background())
	require.NoError(t, err)
	assert.Len(t, saved, 1)
}

func TestWizardSessionsAreOwned(t *testing.T) {
	svc, _ := newTestService(t)

	view, err := svc.StartWizard(as(cashierActor))
	require.NoError(t, err)

	_, err = svc.GetWizard(as(eastActor), view.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, svc.Abandon(as(eastActor), view.ID), ErrSessionNotFound)

	require.NoError(t, svc.Abandon(as(cashierActor), view.ID))
	_, err = svc.GetWizard(as(cashierActor), view.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStartEditReplacesSettlement(t *testing.T) {
	svc, repo := newTestService(t)
	created, err := svc.Create(as(cashierActor), closing("pos-1", "2026-10-15", "100", "40", "50"))
	require.NoError(t, err)

	_, err = svc.StartEdit(as(cashierActor), created.Settlement.ID)
	assert.True(t, domain.IsAuthorization(err))

	ctx := as(adminActor)
	view, err := svc.StartEdit(ctx, created.Settlement.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Settlement.ID, view.Draft.SettlementID)
	assert.Equal(t, "50.00", view.Draft.ActualCash)

	for range 3 {
		_, err = svc.Next(ctx, view.ID)
		require.NoError(t, err)
	}
	_, err = svc.PatchWizard(ctx, view.ID, wizard.Patch{ActualCash: strPtr("60")})
	require.NoError(t, err)
	result, err := svc.Commit(ctx, view.ID)
	require.NoError(t, err)

	assert.Equal(t, created.Settlement.ID, result.Settlement.Settlement.ID)
	assert.Equal(t, domain.StatusMatched, result.Settlement.Settlement.Status)
	assert.Equal(t, fixedNow, result.Settlement.Settlement.CreatedAt)

	all, err := repo.ListSettlements(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
