// Package reconcile holds the till reconciliation arithmetic. Every function
// is pure: aggregates are always recomputed from the records passed in.
package reconcile

import (
	"slices"
	"strings"

	"tutupkas/backend/internal/domain"
	"tutupkas/backend/internal/money"
)

// NetElectronic is the sum of all network and transfer lines.
func NetElectronic(s domain.Settlement) money.Cents {
	return sumLines(s.Networks) + sumLines(s.Transfers)
}

// ExpectedCash is the cash the till should hold. Electronic payments larger
// than reported sales floor the expectation at zero.
func ExpectedCash(s domain.Settlement) money.Cents {
	return money.Max(0, s.TotalSales-NetElectronic(s))
}

// Variance is counted cash minus expected cash. Negative means cash is missing.
func Variance(s domain.Settlement) money.Cents {
	return s.ActualCash - ExpectedCash(s)
}

func Classify(variance money.Cents) string {
	switch {
	case variance == 0:
		return domain.StatusMatched
	case variance < 0:
		return domain.StatusShortage
	default:
		return domain.StatusSurplus
	}
}

func Detail(s domain.Settlement) domain.SettlementDetail {
	variance := Variance(s)
	return domain.SettlementDetail{
		Settlement:    s,
		NetElectronic: NetElectronic(s),
		ExpectedCash:  ExpectedCash(s),
		Variance:      variance,
		Status:        Classify(variance),
	}
}

func Details(list []domain.Settlement) []domain.SettlementDetail {
	out := make([]domain.SettlementDetail, 0, len(list))
	for _, s := range list {
		out = append(out, Detail(s))
	}
	return out
}

// ForPOS aggregates every settlement of one till, keeping store order.
func ForPOS(posID string, list []domain.Settlement) domain.POSAggregate {
	agg := domain.POSAggregate{POSID: posID, Settlements: []domain.Settlement{}}
	for _, s := range list {
		if s.POSID != posID {
			continue
		}
		agg.TotalSales += s.TotalSales
		agg.TotalCash += s.ActualCash
		agg.NetworkTotal += NetElectronic(s)
		agg.Count++
		agg.Settlements = append(agg.Settlements, s)
	}
	return agg
}

// ForCashier aggregates every settlement of one cashier. TotalDiff is the sum
// of each settlement's own variance, not the variance of the summed fields:
// the expected-cash floor makes the two differ.
func ForCashier(cashierID string, list []domain.Settlement) domain.CashierAggregate {
	agg := domain.CashierAggregate{CashierID: cashierID, Settlements: []domain.Settlement{}}
	for _, s := range list {
		if s.CashierID != cashierID {
			continue
		}
		agg.TotalSales += s.TotalSales
		agg.TotalActual += s.ActualCash
		agg.TotalDiff += Variance(s)
		agg.Count++
		agg.Settlements = append(agg.Settlements, s)
	}
	return agg
}

func Summarize(list []domain.Settlement) domain.Overview {
	var ov domain.Overview
	for _, s := range list {
		d := Detail(s)
		ov.Count++
		ov.TotalSales += s.TotalSales
		ov.NetElectronic += d.NetElectronic
		ov.ExpectedCash += d.ExpectedCash
		ov.ActualCash += s.ActualCash
		ov.TotalVariance += d.Variance
		switch d.Status {
		case domain.StatusMatched:
			ov.Matched++
		case domain.StatusShortage:
			ov.Shortages++
		case domain.StatusSurplus:
			ov.Surpluses++
		}
	}
	return ov
}

// SortByDateDesc orders settlements newest first for display, breaking ties
// on creation time then ID. The input slice is not modified.
func SortByDateDesc(list []domain.Settlement) []domain.Settlement {
	sorted := slices.Clone(list)
	slices.SortStableFunc(sorted, func(a, b domain.Settlement) int {
		if c := strings.Compare(b.Date, a.Date); c != 0 {
			return c
		}
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return sorted
}

func sumLines(lines []domain.PaymentLine) money.Cents {
	total := money.Cents(0)
	for _, line := range lines {
		total += line.Amount
	}
	return total
}
