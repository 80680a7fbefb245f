package domain

import (
	"time"

	"tutupkas/backend/internal/money"
)

const DateLayout = "2006-01-02"

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

type Branch struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
}

// POSPoint is a till. It belongs to exactly one branch.
type POSPoint struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	BranchID string `json:"branch_id"`
}

// Cashier is not branch scoped; one cashier may close tills in several branches.
type Cashier struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type PaymentLine struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Amount money.Cents `json:"amount_cents"`
}

// Settlement is the end-of-shift record for one till closing. It is only ever
// written whole: edits replace the full record under the same ID.
type Settlement struct {
	ID         string        `json:"id"`
	Date       string        `json:"date"`
	POSID      string        `json:"pos_id"`
	BranchID   string        `json:"branch_id"`
	CashierID  string        `json:"cashier_id"`
	TotalSales money.Cents   `json:"total_sales_cents"`
	Networks   []PaymentLine `json:"networks"`
	Transfers  []PaymentLine `json:"transfers"`
	ActualCash money.Cents   `json:"actual_cash_cents"`
	Notes      string        `json:"notes,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

func (s Settlement) Clone() Settlement {
	dup := s
	dup.Networks = append([]PaymentLine(nil), s.Networks...)
	dup.Transfers = append([]PaymentLine(nil), s.Transfers...)
	return dup
}

const (
	StatusMatched  = "matched"
	StatusShortage = "shortage"
	StatusSurplus  = "surplus"
)

// SettlementDetail is a settlement plus the fields derived from it.
type SettlementDetail struct {
	Settlement
	NetElectronic money.Cents `json:"net_electronic_cents"`
	ExpectedCash  money.Cents `json:"expected_cash_cents"`
	Variance      money.Cents `json:"variance_cents"`
	Status        string      `json:"status"`
}

type POSAggregate struct {
	POSID        string       `json:"pos_id"`
	TotalSales   money.Cents  `json:"total_sales_cents"`
	TotalCash    money.Cents  `json:"total_cash_cents"`
	NetworkTotal money.Cents  `json:"network_total_cents"`
	Count        int          `json:"count"`
	Settlements  []Settlement `json:"settlements"`
}

type CashierAggregate struct {
	CashierID   string       `json:"cashier_id"`
	TotalSales  money.Cents  `json:"total_sales_cents"`
	TotalActual money.Cents  `json:"total_actual_cents"`
	TotalDiff   money.Cents  `json:"total_diff_cents"`
	Count       int          `json:"count"`
	Settlements []Settlement `json:"settlements"`
}

// Overview summarizes a set of settlements by classification.
type Overview struct {
	Count         int         `json:"count"`
	Matched       int         `json:"matched"`
	Shortages     int         `json:"shortages"`
	Surpluses     int         `json:"surpluses"`
	TotalSales    money.Cents `json:"total_sales_cents"`
	NetElectronic money.Cents `json:"net_electronic_cents"`
	ExpectedCash  money.Cents `json:"expected_cash_cents"`
	ActualCash    money.Cents `json:"actual_cash_cents"`
	TotalVariance money.Cents `json:"total_variance_cents"`
}

// Actor is the authenticated operator. BranchID is empty for administrators
// without an assigned branch.
type Actor struct {
	Username string
	Role     string
	BranchID string
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	BranchID    string `json:"branch_id,omitempty"`
	ExpiresAt   string `json:"expires_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	BranchID  string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	BranchID      string    `json:"branch_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type SettlementListResponse struct {
	Settlements []SettlementDetail `json:"settlements"`
	Error       string             `json:"error,omitempty"`
}

type SettlementResponse struct {
	Settlement  SettlementDetail `json:"settlement"`
	DuplicateOf []string         `json:"duplicate_of,omitempty"`
}

type POSAggregateResponse struct {
	Aggregate POSAggregate `json:"aggregate"`
	Error     string       `json:"error,omitempty"`
}

type CashierAggregateResponse struct {
	Aggregate CashierAggregate `json:"aggregate"`
	Error     string           `json:"error,omitempty"`
}

type OverviewResponse struct {
	BranchID string   `json:"branch_id,omitempty"`
	From     string   `json:"from,omitempty"`
	To       string   `json:"to,omitempty"`
	Overview Overview `json:"overview"`
	Error    string   `json:"error,omitempty"`
}
