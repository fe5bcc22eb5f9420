package vouchers

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/treasury/internal/ledger"
	"github.com/odyssey-erp/treasury/internal/sequence"
	"github.com/odyssey-erp/treasury/internal/shared"
)

// Kind enumerates voucher types.
type Kind string

const (
	KindReceipt  Kind = "receipt"
	KindPayment  Kind = "payment"
	KindTransfer Kind = "transfer"
)

// Valid reports whether k is a known voucher kind.
func (k Kind) Valid() bool {
	return k == KindReceipt || k == KindPayment || k == KindTransfer
}

// Prefix returns the sequence prefix for codes of this kind.
func (k Kind) Prefix() string {
	switch k {
	case KindReceipt:
		return sequence.PrefixReceipt
	case KindPayment:
		return sequence.PrefixPayment
	default:
		return sequence.PrefixTransfer
	}
}

// PaymentMethod selects the cash leg of a receipt or payment.
type PaymentMethod string

const (
	MethodSafe PaymentMethod = "safe"
	MethodBank PaymentMethod = "bank"
)

// Valid reports whether m is a known method.
func (m PaymentMethod) Valid() bool {
	return m == MethodSafe || m == MethodBank
}

// EntityType identifies the counter-entity of a receipt or payment.
type EntityType string

const (
	EntityCustomer          EntityType = "customer"
	EntitySupplier          EntityType = "supplier"
	EntityCurrentAccount    EntityType = "current_account"
	EntityReceivableAccount EntityType = "receivable_account"
	EntityPayableAccount    EntityType = "payable_account"
	EntityRevenue           EntityType = "revenue"
	EntityVat               EntityType = "vat"
	EntityExpense           EntityType = "expense"
)

type entityRule struct {
	kind    ledger.Kind
	receipt bool
	payment bool
}

// entityRules is the closed table of counter-entities per voucher kind.
var entityRules = map[EntityType]entityRule{
	EntityCustomer:          {kind: ledger.KindCustomer, receipt: true, payment: true},
	EntitySupplier:          {kind: ledger.KindSupplier, receipt: true, payment: true},
	EntityCurrentAccount:    {kind: ledger.KindCurrentAccount, receipt: true, payment: true},
	EntityReceivableAccount: {kind: ledger.KindReceivableAccount, receipt: true},
	EntityPayableAccount:    {kind: ledger.KindPayableAccount, receipt: true},
	EntityRevenue:           {kind: ledger.KindRevenue, receipt: true},
	EntityVat:               {kind: ledger.KindVat, receipt: true},
	EntityExpense:           {kind: ledger.KindExpense, payment: true},
}

// AllowedFor reports whether e may be the counter-entity of a voucher of kind k.
func (e EntityType) AllowedFor(k Kind) bool {
	rule, ok := entityRules[e]
	if !ok {
		return false
	}
	switch k {
	case KindReceipt:
		return rule.receipt
	case KindPayment:
		return rule.payment
	}
	return false
}

// Voucher is a persisted receipt, payment or internal transfer.
type Voucher struct {
	ID            int64           `json:"id"`
	TenantID      int64           `json:"tenant_id"`
	Kind          Kind            `json:"kind"`
	Code          string          `json:"code"`
	Date          time.Time       `json:"date"`
	EntityType    EntityType      `json:"entity_type,omitempty"`
	EntityID      int64           `json:"entity_id,omitempty"`
	EntityName    string          `json:"entity_name,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod PaymentMethod   `json:"payment_method,omitempty"`
	SafeID        *int64          `json:"safe_id,omitempty"`
	BankID        *int64          `json:"bank_id,omitempty"`
	ExpenseCodeID *int64          `json:"expense_code_id,omitempty"`
	FromType      ledger.Kind     `json:"from_type,omitempty"`
	FromID        int64           `json:"from_id,omitempty"`
	ToType        ledger.Kind     `json:"to_type,omitempty"`
	ToID          int64           `json:"to_id,omitempty"`
	Description   string          `json:"description"`
	CreatedBy     int64           `json:"created_by"`
	UpdatedBy     int64           `json:"updated_by"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ListFilter narrows voucher listings.
type ListFilter struct {
	TenantID int64
	Kind     Kind
	From     *time.Time
	To       *time.Time
	Page     int
	PerPage  int
}

func notFound(kind Kind, id int64) error {
	return shared.Errorf(shared.ErrNotFound, "vouchers: %s %d not found", kind, id)
}

func invalid(format string, args ...any) error {
	return shared.Errorf(shared.ErrValidation, "vouchers: "+format, args...)
}
