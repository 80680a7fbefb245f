// Package wizard implements the four-step till closing flow as a value-typed
// state machine. Every operation returns a new State and leaves the receiver
// untouched, so a failed step never loses operator input.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"tutupkas/backend/internal/domain"
	"tutupkas/backend/internal/money"
	"tutupkas/backend/internal/reconcile"
	"tutupkas/backend/internal/xid"
)

var (
	ErrInvalidStep  = errors.New("operation not allowed at current step")
	ErrLineNotFound = errors.New("payment line not found")
)

type Step int

const (
	StepSetup Step = iota + 1
	StepSalesTotal
	StepElectronicPayments
	StepCashCount
	StepCommitted
)

var stepNames = map[Step]string{
	StepSetup:              "setup",
	StepSalesTotal:         "sales_total",
	StepElectronicPayments: "electronic_payments",
	StepCashCount:          "cash_count",
	StepCommitted:          "committed",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("step(%d)", int(s))
}

func (s Step) MarshalText() ([]byte, error) {
	if _, ok := stepNames[s]; !ok {
		return nil, fmt.Errorf("unknown wizard step %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Step) UnmarshalText(text []byte) error {
	for step, name := range stepNames {
		if name == string(text) {
			*s = step
			return nil
		}
	}
	return fmt.Errorf("unknown wizard step %q", text)
}

type LineKind string

const (
	LineNetwork  LineKind = "network"
	LineTransfer LineKind = "transfer"
)

var defaultNetworks = []string{"Card Network A", "Card Network B"}

// DraftLine keeps the amount as typed by the operator.
type DraftLine struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Amount string `json:"amount"`
}

// Draft is the capture form. Numeric fields stay strings until a transition
// boundary parses them.
type Draft struct {
	SettlementID string      `json:"settlement_id,omitempty"`
	Date         string      `json:"date"`
	POSID        string      `json:"pos_id"`
	BranchID     string      `json:"branch_id"`
	CashierID    string      `json:"cashier_id"`
	TotalSales   string      `json:"total_sales"`
	Networks     []DraftLine `json:"networks"`
	Transfers    []DraftLine `json:"transfers"`
	ActualCash   string      `json:"actual_cash"`
	Notes        string      `json:"notes"`
}

func (d Draft) clone() Draft {
	dup := d
	dup.Networks = slices.Clone(d.Networks)
	dup.Transfers = slices.Clone(d.Transfers)
	return dup
}

type State struct {
	Step     Step         `json:"step"`
	Draft    Draft        `json:"draft"`
	Operator domain.Actor `json:"operator"`
}

// New starts a closing for the operator. Non-admin operators get their branch
// prefilled and locked.
func New(operator domain.Actor, today time.Time) State {
	draft := Draft{
		Date:      today.Format(domain.DateLayout),
		Networks:  make([]DraftLine, 0, len(defaultNetworks)),
		Transfers: []DraftLine{},
	}
	if !operator.IsAdmin() {
		draft.BranchID = operator.BranchID
	}
	for _, name := range defaultNetworks {
		draft.Networks = append(draft.Networks, DraftLine{ID: xid.New("line"), Name: name, Amount: "0"})
	}
	return State{Step: StepSetup, Draft: draft, Operator: operator}
}

// FromSettlement starts an edit-and-resave of an existing settlement. The
// commit replaces the record under the same ID.
func FromSettlement(operator domain.Actor, s domain.Settlement) State {
	draft := Draft{
		SettlementID: s.ID,
		Date:         s.Date,
		POSID:        s.POSID,
		BranchID:     s.BranchID,
		CashierID:    s.CashierID,
		TotalSales:   s.TotalSales.String(),
		Networks:     toDraftLines(s.Networks),
		Transfers:    toDraftLines(s.Transfers),
		ActualCash:   s.ActualCash.String(),
		Notes:        s.Notes,
	}
	if !operator.IsAdmin() {
		draft.BranchID = operator.BranchID
	}
	return State{Step: StepSetup, Draft: draft, Operator: operator}
}

func (st State) BranchLocked() bool {
	return !st.Operator.IsAdmin()
}

// Patch carries the scalar draft fields an operator may change. Nil fields
// are left alone.
type Patch struct {
	Date       *string `json:"date,omitempty"`
	POSID      *string `json:"pos_id,omitempty"`
	BranchID   *string `json:"branch_id,omitempty"`
	CashierID  *string `json:"cashier_id,omitempty"`
	TotalSales *string `json:"total_sales,omitempty"`
	ActualCash *string `json:"actual_cash,omitempty"`
	Notes      *string `json:"notes,omitempty"`
}

func (st State) Apply(p Patch) (State, error) {
	if st.Step == StepCommitted {
		return st, ErrInvalidStep
	}

	next := st.withDraft()
	if p.Date != nil {
		date := strings.TrimSpace(*p.Date)
		if _, err := time.Parse(domain.DateLayout, date); err != nil {
			return st, domain.NewValidationError("date", "must be YYYY-MM-DD")
		}
		next.Draft.Date = date
	}
	if p.BranchID != nil {
		branchID := strings.TrimSpace(*p.BranchID)
		if st.BranchLocked() && branchID != st.Operator.BranchID {
			return st, &domain.AuthorizationError{Message: "branch is fixed to the operator's assigned branch"}
		}
		next.Draft.BranchID = branchID
	}
	if p.POSID != nil {
		next.Draft.POSID = strings.TrimSpace(*p.POSID)
	}
	if p.CashierID != nil {
		next.Draft.CashierID = strings.TrimSpace(*p.CashierID)
	}
	if p.TotalSales != nil {
		next.Draft.TotalSales = strings.TrimSpace(*p.TotalSales)
	}
	if p.ActualCash != nil {
		next.Draft.ActualCash = strings.TrimSpace(*p.ActualCash)
	}
	if p.Notes != nil {
		next.Draft.Notes = *p.Notes
	}
	return next, nil
}

func (st State) AddLine(kind LineKind, name string, amount string) (State, string, error) {
	if st.Step != StepElectronicPayments {
		return st, "", ErrInvalidStep
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return st, "", domain.NewValidationError("name", "payment line name is required")
	}
	amount = strings.TrimSpace(amount)
	if _, err := money.Parse(amount); err != nil {
		return st, "", domain.NewValidationError("amount", "%v", err)
	}

	next := st.withDraft()
	line := DraftLine{ID: xid.New("line"), Name: name, Amount: amount}
	switch kind {
	case LineNetwork:
		next.Draft.Networks = append(next.Draft.Networks, line)
	case LineTransfer:
		next.Draft.Transfers = append(next.Draft.Transfers, line)
	default:
		return st, "", domain.NewValidationError("kind", "must be %q or %q", LineNetwork, LineTransfer)
	}
	return next, line.ID, nil
}

func (st State) UpdateLine(lineID string, name *string, amount *string) (State, error) {
	if st.Step != StepElectronicPayments {
		return st, ErrInvalidStep
	}
	if name != nil && strings.TrimSpace(*name) == "" {
		return st, domain.NewValidationError("name", "payment line name is required")
	}
	if amount != nil {
		if _, err := money.Parse(*amount); err != nil {
			return st, domain.NewValidationError("amount", "%v", err)
		}
	}

	next := st.withDraft()
	line := next.findLine(lineID)
	if line == nil {
		return st, ErrLineNotFound
	}
	if name != nil {
		line.Name = strings.TrimSpace(*name)
	}
	if amount != nil {
		line.Amount = strings.TrimSpace(*amount)
	}
	return next, nil
}

func (st State) RemoveLine(lineID string) (State, error) {
	if st.Step != StepElectronicPayments {
		return st, ErrInvalidStep
	}
	next := st.withDraft()
	match := func(l DraftLine) bool { return l.ID == lineID }
	before := len(next.Draft.Networks) + len(next.Draft.Transfers)
	next.Draft.Networks = slices.DeleteFunc(next.Draft.Networks, match)
	next.Draft.Transfers = slices.DeleteFunc(next.Draft.Transfers, match)
	if len(next.Draft.Networks)+len(next.Draft.Transfers) == before {
		return st, ErrLineNotFound
	}
	return next, nil
}

// Next advances one step. Leaving Setup requires a till and a cashier;
// leaving a numeric step requires its amounts to parse. Zero amounts pass.
func (st State) Next() (State, error) {
	switch st.Step {
	case StepSetup:
		if err := st.Draft.requireSetup(); err != nil {
			return st, err
		}
	case StepSalesTotal:
		if _, err := parseField("total_sales", st.Draft.TotalSales); err != nil {
			return st, err
		}
	case StepElectronicPayments:
		if _, err := parseLines("networks", st.Draft.Networks); err != nil {
			return st, err
		}
		if _, err := parseLines("transfers", st.Draft.Transfers); err != nil {
			return st, err
		}
	default:
		return st, ErrInvalidStep
	}
	next := st.withDraft()
	next.Step++
	return next, nil
}

func (st State) Back() (State, error) {
	if st.Step <= StepSetup || st.Step >= StepCommitted {
		return st, ErrInvalidStep
	}
	next := st.withDraft()
	next.Step--
	return next, nil
}

// Build validates the whole draft and assembles the settlement that a commit
// would persist. Zero and blank payment lines are dropped.
func (st State) Build(now time.Time) (domain.Settlement, error) {
	d := st.Draft
	if err := d.requireSetup(); err != nil {
		return domain.Settlement{}, err
	}
	if _, err := time.Parse(domain.DateLayout, d.Date); err != nil {
		return domain.Settlement{}, domain.NewValidationError("date", "must be YYYY-MM-DD")
	}
	totalSales, err := parseField("total_sales", d.TotalSales)
	if err != nil {
		return domain.Settlement{}, err
	}
	actualCash, err := parseField("actual_cash", d.ActualCash)
	if err != nil {
		return domain.Settlement{}, err
	}
	networks, err := parseLines("networks", d.Networks)
	if err != nil {
		return domain.Settlement{}, err
	}
	transfers, err := parseLines("transfers", d.Transfers)
	if err != nil {
		return domain.Settlement{}, err
	}

	branchID := d.BranchID
	if st.BranchLocked() {
		branchID = st.Operator.BranchID
	}

	return domain.Settlement{
		ID:         d.SettlementID,
		Date:       d.Date,
		POSID:      d.POSID,
		BranchID:   branchID,
		CashierID:  d.CashierID,
		TotalSales: totalSales,
		Networks:   positiveLines(networks),
		Transfers:  positiveLines(transfers),
		ActualCash: actualCash,
		Notes:      strings.TrimSpace(d.Notes),
		CreatedAt:  now.UTC(),
	}, nil
}

// Saver persists a committed settlement and returns the stored record.
type Saver func(ctx context.Context, s domain.Settlement) (domain.Settlement, error)

// Commit finalizes the closing from the cash count step. When save fails the
// returned state equals the receiver so the operator can retry.
func (st State) Commit(ctx context.Context, now time.Time, save Saver) (State, domain.Settlement, error) {
	if st.Step != StepCashCount {
		return st, domain.Settlement{}, ErrInvalidStep
	}
	settlement, err := st.Build(now)
	if err != nil {
		return st, domain.Settlement{}, err
	}
	saved, err := save(ctx, settlement.Clone())
	if err != nil {
		return st, domain.Settlement{}, err
	}
	return State{Step: StepCommitted, Operator: st.Operator}, saved, nil
}

// Balance is the live reconciliation shown while the operator types.
type Balance struct {
	NetElectronic money.Cents       `json:"net_electronic_cents"`
	ExpectedCash  money.Cents       `json:"expected_cash_cents"`
	Variance      money.Cents       `json:"variance_cents"`
	Status        string            `json:"status"`
	FieldErrors   map[string]string `json:"field_errors,omitempty"`
}

// Live recomputes the balance from the current draft. Blank or unparsable
// amounts count as zero; unparsable ones are reported in FieldErrors.
func (st State) Live() Balance {
	errs := map[string]string{}
	lenient := func(field string, raw string) money.Cents {
		c, err := money.Parse(raw)
		if err != nil {
			errs[field] = err.Error()
			return 0
		}
		return c
	}
	lenientLines := func(field string, lines []DraftLine) []domain.PaymentLine {
		out := make([]domain.PaymentLine, 0, len(lines))
		for _, line := range lines {
			out = append(out, domain.PaymentLine{
				ID:     line.ID,
				Name:   line.Name,
				Amount: lenient(field+"."+line.ID, line.Amount),
			})
		}
		return out
	}

	s := domain.Settlement{
		TotalSales: lenient("total_sales", st.Draft.TotalSales),
		ActualCash: lenient("actual_cash", st.Draft.ActualCash),
		Networks:   lenientLines("networks", st.Draft.Networks),
		Transfers:  lenientLines("transfers", st.Draft.Transfers),
	}
	d := reconcile.Detail(s)
	b := Balance{
		NetElectronic: d.NetElectronic,
		ExpectedCash:  d.ExpectedCash,
		Variance:      d.Variance,
		Status:        d.Status,
	}
	if len(errs) > 0 {
		b.FieldErrors = errs
	}
	return b
}

func (st State) withDraft() State {
	next := st
	next.Draft = st.Draft.clone()
	return next
}

func (st *State) findLine(lineID string) *DraftLine {
	for i := range st.Draft.Networks {
		if st.Draft.Networks[i].ID == lineID {
			return &st.Draft.Networks[i]
		}
	}
	for i := range st.Draft.Transfers {
		if st.Draft.Transfers[i].ID == lineID {
			return &st.Draft.Transfers[i]
		}
	}
	return nil
}

func (d Draft) requireSetup() error {
	if strings.TrimSpace(d.POSID) == "" {
		return domain.NewValidationError("pos_id", "POS point is required")
	}
	if strings.TrimSpace(d.CashierID) == "" {
		return domain.NewValidationError("cashier_id", "cashier is required")
	}
	return nil
}

func parseField(field string, raw string) (money.Cents, error) {
	c, err := money.Parse(raw)
	if err != nil {
		return 0, domain.NewValidationError(field, "%v", err)
	}
	return c, nil
}

func parseLines(field string, lines []DraftLine) ([]domain.PaymentLine, error) {
	out := make([]domain.PaymentLine, 0, len(lines))
	for _, line := range lines {
		amount, err := money.Parse(line.Amount)
		if err != nil {
			return nil, domain.NewValidationError(field+"."+line.ID, "%v", err)
		}
		out = append(out, domain.PaymentLine{ID: line.ID, Name: line.Name, Amount: amount})
	}
	return out, nil
}

func positiveLines(lines []domain.PaymentLine) []domain.PaymentLine {
	out := make([]domain.PaymentLine, 0, len(lines))
	for _, line := range lines {
		if line.Amount > 0 {
			out = append(out, line)
		}
	}
	return out
}

func toDraftLines(lines []domain.PaymentLine) []DraftLine {
	out := make([]DraftLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, DraftLine{ID: line.ID, Name: line.Name, Amount: line.Amount.String()})
	}
	return out
}
