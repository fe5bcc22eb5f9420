package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/treasury/internal/shared"
)

// Kind enumerates ledger participants. The first five carry a running balance;
// the rest are nominal counter-entities that only receive postings.
type Kind string

const (
	KindSafe              Kind = "safe"
	KindBank              Kind = "bank"
	KindCurrentAccount    Kind = "current_account"
	KindReceivableAccount Kind = "receivable_account"
	KindPayableAccount    Kind = "payable_account"

	KindCustomer Kind = "customer"
	KindSupplier Kind = "supplier"
	KindRevenue  Kind = "revenue"
	KindVat      Kind = "vat"
	KindExpense  Kind = "expense"
)

var codePrefixes = map[Kind]string{
	KindSafe:              "SAFE",
	KindBank:              "BANK",
	KindCurrentAccount:    "CA",
	KindReceivableAccount: "RA",
	KindPayableAccount:    "PA",
}

// ParseKind validates a raw kind value.
func ParseKind(raw string) (Kind, error) {
	k := Kind(raw)
	if !k.Valid() {
		return "", shared.Errorf(shared.ErrValidation, "ledger: unknown account kind %q", raw)
	}
	return k, nil
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindCustomer, KindSupplier, KindRevenue, KindVat, KindExpense:
		return true
	}
	return k.HasBalance()
}

// HasBalance reports whether accounts of this kind keep a current balance row.
func (k Kind) HasBalance() bool {
	_, ok := codePrefixes[k]
	return ok
}

// IsCash reports whether k can act as the cash leg of a voucher.
func (k Kind) IsCash() bool {
	return k == KindSafe || k == KindBank
}

// RequiresOpenPeriod reports whether opening an account of this kind is period-gated.
func (k Kind) RequiresOpenPeriod() bool {
	return k == KindCurrentAccount || k == KindReceivableAccount || k == KindPayableAccount
}

// CodePrefix returns the sequence prefix used for account codes.
func (k Kind) CodePrefix() string {
	return codePrefixes[k]
}

// Ref addresses one ledger participant.
type Ref struct {
	Kind Kind  `json:"kind"`
	ID   int64 `json:"id"`
}

func (r Ref) String() string {
	return fmt.Sprintf("%s#%d", r.Kind, r.ID)
}

func sortRefs(refs []Ref) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Kind != refs[j].Kind {
			return refs[i].Kind < refs[j].Kind
		}
		return refs[i].ID < refs[j].ID
	})
}

// Account is a balance-bearing ledger account.
type Account struct {
	ID             int64           `json:"id"`
	TenantID       int64           `json:"tenant_id"`
	Kind           Kind            `json:"kind"`
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	OpeningDate    time.Time       `json:"opening_date"`
	CreatedBy      int64           `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Ref returns the account's address.
func (a Account) Ref() Ref {
	return Ref{Kind: a.Kind, ID: a.ID}
}

// Source kinds recorded on postings.
const (
	SourceOpening = "opening"
)

// Posting is one signed movement in the append-only log. Positive amounts credit
// (increase) the account, negative amounts debit it.
type Posting struct {
	ID         int64           `json:"id"`
	TenantID   int64           `json:"tenant_id"`
	Account    Ref             `json:"account"`
	Amount     decimal.Decimal `json:"amount"`
	BatchID    uuid.UUID       `json:"batch_id"`
	SourceKind string          `json:"source_kind"`
	SourceID   int64           `json:"source_id"`
	Reversal   bool            `json:"reversal"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Drift reports an account whose cached balance disagrees with its posting log.
type Drift struct {
	Account Ref             `json:"account"`
	Code    string          `json:"code"`
	Cached  decimal.Decimal `json:"cached"`
	Posted  decimal.Decimal `json:"posted"`
}

// Delta returns cached minus posted.
func (d Drift) Delta() decimal.Decimal {
	return d.Cached.Sub(d.Posted)
}

// MoneyScale is the number of decimal places stored for every amount.
const MoneyScale = 2

// HasMoneyScale reports whether d is representable with MoneyScale decimal places
// without rounding.
func HasMoneyScale(d decimal.Decimal) bool {
	return d.Equal(d.Round(MoneyScale))
}

// InsufficientFundsError reports a debit that would drive a balance below zero.
type InsufficientFundsError struct {
	Account   Ref
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("ledger: insufficient funds in %s: available %s, requested %s",
		e.Account, e.Available.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *InsufficientFundsError) Unwrap() error {
	return shared.ErrInsufficientFunds
}

func accountNotFound(ref Ref) error {
	return shared.Errorf(shared.ErrNotFound, "ledger: %s not found", ref)
}
