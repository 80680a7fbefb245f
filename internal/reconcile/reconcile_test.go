package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutupkas/backend/internal/domain"
	"tutupkas/backend/internal/money"
)

func settlement(id string, posID string, cashierID string, sales string, cash string, networks ...string) domain.Settlement {
	s := domain.Settlement{
		ID:         id,
		Date:       "2026-10-01",
		POSID:      posID,
		BranchID:   "branch-1",
		CashierID:  cashierID,
		TotalSales: money.MustParse(sales),
		ActualCash: money.MustParse(cash),
	}
	for i, amount := range networks {
		s.Networks = append(s.Networks, domain.PaymentLine{
			ID:     id + "-n" + string(rune('a'+i)),
			Name:   "network",
			Amount: money.MustParse(amount),
		})
	}
	return s
}

func TestMatchedWhenCashCoversRemainder(t *testing.T) {
	s := settlement("s1", "pos-1", "c-1", "1000", "600", "400")

	d := Detail(s)
	assert.Equal(t, money.MustParse("400"), d.NetElectronic)
	assert.Equal(t, money.MustParse("600"), d.ExpectedCash)
	assert.Equal(t, money.Cents(0), d.Variance)
	assert.Equal(t, domain.StatusMatched, d.Status)
}

func TestExpectedCashFloorsAtZero(t *testing.T) {
	s := settlement("s1", "pos-1", "c-1", "500", "0", "700")

	assert.Equal(t, money.Cents(0), ExpectedCash(s))
	assert.Equal(t, money.Cents(0), Variance(s))
	assert.Equal(t, domain.StatusMatched, Classify(Variance(s)))
}

func TestShortageAndSurplus(t *testing.T) {
	short := settlement("s1", "pos-1", "c-1", "1000", "750", "200")
	assert.Equal(t, money.MustParse("800"), ExpectedCash(short))
	assert.Equal(t, money.MustParse("-50"), Variance(short))
	assert.Equal(t, domain.StatusShortage, Detail(short).Status)

	over := settlement("s2", "pos-1", "c-1", "100", "100.01")
	assert.Equal(t, domain.StatusSurplus, Detail(over).Status)
}

func TestTransfersCountAsElectronic(t *testing.T) {
	s := settlement("s1", "pos-1", "c-1", "1000", "500", "300")
	s.Transfers = []domain.PaymentLine{{ID: "t1", Name: "bank", Amount: money.MustParse("200")}}

	assert.Equal(t, money.MustParse("500"), NetElectronic(s))
	assert.Equal(t, money.MustParse("500"), ExpectedCash(s))
	assert.Equal(t, domain.StatusMatched, Detail(s).Status)
}

func TestAllZeroSettlementIsMatched(t *testing.T) {
	d := Detail(domain.Settlement{ID: "empty"})
	assert.Equal(t, money.Cents(0), d.ExpectedCash)
	assert.Equal(t, domain.StatusMatched, d.Status)
}

func TestCentsAvoidFloatingPointDrift(t *testing.T) {
	// 0.1 + 0.2 style inputs must still balance exactly.
	s := settlement("s1", "pos-1", "c-1", "0.30", "0", "0.10", "0.20")
	assert.Equal(t, domain.StatusMatched, Detail(s).Status)
}

func TestPOSAggregateIsAdditive(t *testing.T) {
	list := []domain.Settlement{
		settlement("s1", "pos-1", "c-1", "100", "100"),
		settlement("s2", "pos-1", "c-2", "200", "250", "50"),
		settlement("s3", "pos-2", "c-1", "999", "999"),
	}

	agg := ForPOS("pos-1", list)
	assert.Equal(t, money.MustParse("300"), agg.TotalSales)
	assert.Equal(t, money.MustParse("350"), agg.TotalCash)
	assert.Equal(t, money.MustParse("50"), agg.NetworkTotal)
	assert.Equal(t, 2, agg.Count)
	require.Len(t, agg.Settlements, 2)
	assert.Equal(t, "s1", agg.Settlements[0].ID)
	assert.Equal(t, "s2", agg.Settlements[1].ID)
}

func TestCashierDiffSumsIndependentVariances(t *testing.T) {
	list := []domain.Settlement{
		// expected floors to 0, variance +10
		settlement("s1", "pos-1", "c-1", "100", "10", "300"),
		// expected 200, variance -50
		settlement("s2", "pos-2", "c-1", "200", "150"),
		settlement("s3", "pos-2", "c-2", "50", "0"),
	}

	agg := ForCashier("c-1", list)
	assert.Equal(t, money.MustParse("300"), agg.TotalSales)
	assert.Equal(t, money.MustParse("160"), agg.TotalActual)
	assert.Equal(t, money.MustParse("-40"), agg.TotalDiff)
	assert.Equal(t, 2, agg.Count)

	// variance of the sums would have been 160 - max(0, 300-300) = 160
	assert.NotEqual(t, agg.TotalActual-money.Max(0, agg.TotalSales-money.MustParse("300")), agg.TotalDiff)
}

func TestAggregateOfUnknownIDIsEmpty(t *testing.T) {
	agg := ForPOS("missing", nil)
	assert.Equal(t, 0, agg.Count)
	assert.NotNil(t, agg.Settlements)
}

func TestSummarizeCountsClassifications(t *testing.T) {
	list := []domain.Settlement{
		settlement("s1", "pos-1", "c-1", "1000", "600", "400"),
		settlement("s2", "pos-1", "c-1", "1000", "750", "200"),
		settlement("s3", "pos-1", "c-1", "100", "120"),
	}

	ov := Summarize(list)
	assert.Equal(t, 3, ov.Count)
	assert.Equal(t, 1, ov.Matched)
	assert.Equal(t, 1, ov.Shortages)
	assert.Equal(t, 1, ov.Surpluses)
	assert.Equal(t, money.MustParse("-30"), ov.TotalVariance)
	assert.Equal(t, money.MustParse("600"), ov.NetElectronic)
}

func TestSortByDateDesc(t *testing.T) {
	base := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	a := domain.Settlement{ID: "a", Date: "2026-09-30", CreatedAt: base}
	b := domain.Settlement{ID: "b", Date: "2026-10-01", CreatedAt: base}
	c := domain.Settlement{ID: "c", Date: "2026-10-01", CreatedAt: base.Add(time.Hour)}
	input := []domain.Settlement{a, b, c}

	sorted := SortByDateDesc(input)
	assert.Equal(t, []string{"c", "b", "a"}, []string{sorted[0].ID, sorted[1].ID, sorted[2].ID})
	assert.Equal(t, "a", input[0].ID)
}
