package vouchers

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/treasury/internal/ledger"
)

// ReceiptInput creates a receipt voucher.
type ReceiptInput struct {
	Date          time.Time
	EntityType    EntityType
	EntityID      int64
	Amount        decimal.Decimal
	PaymentMethod PaymentMethod
	SafeID        *int64
	BankID        *int64
	Description   string
}

func (in ReceiptInput) voucher() Voucher {
	return Voucher{
		Kind:          KindReceipt,
		Date:          in.Date,
		EntityType:    in.EntityType,
		EntityID:      in.EntityID,
		Amount:        in.Amount,
		PaymentMethod: in.PaymentMethod,
		SafeID:        in.SafeID,
		BankID:        in.BankID,
		Description:   in.Description,
	}
}

// PaymentInput creates a payment voucher.
type PaymentInput struct {
	Date          time.Time
	EntityType    EntityType
	EntityID      int64
	Amount        decimal.Decimal
	PaymentMethod PaymentMethod
	SafeID        *int64
	BankID        *int64
	ExpenseCodeID *int64
	Description   string
}

func (in PaymentInput) voucher() Voucher {
	return Voucher{
		Kind:          KindPayment,
		Date:          in.Date,
		EntityType:    in.EntityType,
		EntityID:      in.EntityID,
		Amount:        in.Amount,
		PaymentMethod: in.PaymentMethod,
		SafeID:        in.SafeID,
		BankID:        in.BankID,
		ExpenseCodeID: in.ExpenseCodeID,
		Description:   in.Description,
	}
}

// TransferInput creates an internal transfer between safes and banks.
type TransferInput struct {
	Date        time.Time
	FromType    ledger.Kind
	FromID      int64
	ToType      ledger.Kind
	ToID        int64
	Amount      decimal.Decimal
	Description string
}

func (in TransferInput) voucher() Voucher {
	return Voucher{
		Kind:        KindTransfer,
		Date:        in.Date,
		FromType:    in.FromType,
		FromID:      in.FromID,
		ToType:      in.ToType,
		ToID:        in.ToID,
		Amount:      in.Amount,
		Description: in.Description,
	}
}

// CashPatch carries the optional fields shared by receipt and payment updates.
// Nil fields keep the stored value.
type CashPatch struct {
	Date          *time.Time
	EntityType    *EntityType
	EntityID      *int64
	Amount        *decimal.Decimal
	PaymentMethod *PaymentMethod
	SafeID        *int64
	BankID        *int64
	Description   *string
}

func (p CashPatch) check() error {
	if err := checkAmount(p.Amount); err != nil {
		return err
	}
	if p.PaymentMethod != nil && !p.PaymentMethod.Valid() {
		return invalid("unknown payment method %q", *p.PaymentMethod)
	}
	if p.EntityType != nil {
		if _, ok := entityRules[*p.EntityType]; !ok {
			return invalid("unknown entity type %q", *p.EntityType)
		}
	}
	return nil
}

func (p CashPatch) apply(v Voucher) Voucher {
	if p.Date != nil {
		v.Date = *p.Date
	}
	if p.EntityType != nil {
		v.EntityType = *p.EntityType
	}
	if p.EntityID != nil {
		v.EntityID = *p.EntityID
	}
	if p.Amount != nil {
		v.Amount = *p.Amount
	}
	if p.PaymentMethod != nil {
		v.PaymentMethod = *p.PaymentMethod
	}
	if p.SafeID != nil {
		id := *p.SafeID
		v.SafeID = &id
	}
	if p.BankID != nil {
		id := *p.BankID
		v.BankID = &id
	}
	if p.Description != nil {
		v.Description = *p.Description
	}
	return v
}

// ReceiptPatch updates a receipt voucher.
type ReceiptPatch struct {
	CashPatch
}

// PaymentPatch updates a payment voucher.
type PaymentPatch struct {
	CashPatch
	ExpenseCodeID *int64
}

func (p PaymentPatch) apply(v Voucher) Voucher {
	v = p.CashPatch.apply(v)
	if p.ExpenseCodeID != nil {
		id := *p.ExpenseCodeID
		v.ExpenseCodeID = &id
	}
	return v
}

// TransferPatch updates an internal transfer.
type TransferPatch struct {
	Date        *time.Time
	FromType    *ledger.Kind
	FromID      *int64
	ToType      *ledger.Kind
	ToID        *int64
	Amount      *decimal.Decimal
	Description *string
}

func (p TransferPatch) check() error {
	if err := checkAmount(p.Amount); err != nil {
		return err
	}
	if p.FromType != nil && !p.FromType.IsCash() {
		return invalid("transfer source must be a safe or bank")
	}
	if p.ToType != nil && !p.ToType.IsCash() {
		return invalid("transfer destination must be a safe or bank")
	}
	return nil
}

func (p TransferPatch) apply(v Voucher) Voucher {
	if p.Date != nil {
		v.Date = *p.Date
	}
	if p.FromType != nil {
		v.FromType = *p.FromType
	}
	if p.FromID != nil {
		v.FromID = *p.FromID
	}
	if p.ToType != nil {
		v.ToType = *p.ToType
	}
	if p.ToID != nil {
		v.ToID = *p.ToID
	}
	if p.Amount != nil {
		v.Amount = *p.Amount
	}
	if p.Description != nil {
		v.Description = *p.Description
	}
	return v
}

func dateOnly(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func checkAmount(amount *decimal.Decimal) error {
	if amount == nil {
		return nil
	}
	if !amount.IsPositive() {
		return invalid("amount must be greater than zero")
	}
	if !ledger.HasMoneyScale(*amount) {
		return invalid("amount has more than %d decimal places", ledger.MoneyScale)
	}
	return nil
}
