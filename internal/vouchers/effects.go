package vouchers

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/treasury/internal/ledger"
)

const maxDescription = 500

// effect is one signed balance movement caused by a voucher.
type effect struct {
	ref   ledger.Ref
	delta decimal.Decimal
}

// normalize drops the cash leg that does not match the payment method.
func (v *Voucher) normalize() {
	switch v.Kind {
	case KindReceipt, KindPayment:
		switch v.PaymentMethod {
		case MethodSafe:
			v.BankID = nil
		case MethodBank:
			v.SafeID = nil
		}
		if v.Kind == KindReceipt {
			v.ExpenseCodeID = nil
		}
		v.FromType, v.FromID, v.ToType, v.ToID = "", 0, "", 0
	case KindTransfer:
		v.EntityType, v.EntityID, v.EntityName = "", 0, ""
		v.PaymentMethod, v.SafeID, v.BankID, v.ExpenseCodeID = "", nil, nil, nil
	}
	v.Date = dateOnly(v.Date)
}

func (v Voucher) validate() error {
	if !v.Kind.Valid() {
		return invalid("unknown voucher kind %q", v.Kind)
	}
	if v.Date.IsZero() {
		return invalid("date required")
	}
	if !v.Amount.IsPositive() {
		return invalid("amount must be greater than zero")
	}
	if !ledger.HasMoneyScale(v.Amount) {
		return invalid("amount has more than %d decimal places", ledger.MoneyScale)
	}
	if len(v.Description) > maxDescription {
		return invalid("description exceeds %d characters", maxDescription)
	}
	if v.Kind == KindTransfer {
		if !v.FromType.IsCash() || !v.ToType.IsCash() {
			return invalid("transfer endpoints must be safes or banks")
		}
		if v.FromID <= 0 || v.ToID <= 0 {
			return invalid("transfer source and destination required")
		}
		if v.FromType == v.ToType && v.FromID == v.ToID {
			return invalid("transfer source and destination must differ")
		}
		return nil
	}
	if _, err := v.cashRef(); err != nil {
		return err
	}
	if !v.EntityType.AllowedFor(v.Kind) {
		return invalid("entity type %q not allowed on a %s", v.EntityType, v.Kind)
	}
	if v.EntityID <= 0 {
		return invalid("entity id required")
	}
	if v.ExpenseCodeID != nil && *v.ExpenseCodeID <= 0 {
		return invalid("expense code id must be positive")
	}
	return nil
}

func (v Voucher) cashRef() (ledger.Ref, error) {
	switch v.PaymentMethod {
	case MethodSafe:
		if v.SafeID == nil || *v.SafeID <= 0 {
			return ledger.Ref{}, invalid("safe_id required when payment method is safe")
		}
		return ledger.Ref{Kind: ledger.KindSafe, ID: *v.SafeID}, nil
	case MethodBank:
		if v.BankID == nil || *v.BankID <= 0 {
			return ledger.Ref{}, invalid("bank_id required when payment method is bank")
		}
		return ledger.Ref{Kind: ledger.KindBank, ID: *v.BankID}, nil
	}
	return ledger.Ref{}, invalid("unknown payment method %q", v.PaymentMethod)
}

func (v Voucher) counterRef() ledger.Ref {
	return ledger.Ref{Kind: entityRules[v.EntityType].kind, ID: v.EntityID}
}

// effects lists the voucher's movements, cash leg first. Receipts credit cash and
// debit the counter-entity; payments do the opposite; transfers debit the source.
func (v Voucher) effects() ([]effect, error) {
	amount := v.Amount
	switch v.Kind {
	case KindTransfer:
		return []effect{
			{ref: ledger.Ref{Kind: v.FromType, ID: v.FromID}, delta: amount.Neg()},
			{ref: ledger.Ref{Kind: v.ToType, ID: v.ToID}, delta: amount},
		}, nil
	case KindReceipt, KindPayment:
		cash, err := v.cashRef()
		if err != nil {
			return nil, err
		}
		if v.Kind == KindReceipt {
			return []effect{{ref: cash, delta: amount}, {ref: v.counterRef(), delta: amount.Neg()}}, nil
		}
		return []effect{{ref: cash, delta: amount.Neg()}, {ref: v.counterRef(), delta: amount}}, nil
	}
	return nil, invalid("unknown voucher kind %q", v.Kind)
}

func (v Voucher) refs() []ledger.Ref {
	effects, err := v.effects()
	if err != nil {
		return nil
	}
	out := make([]ledger.Ref, 0, len(effects))
	for _, e := range effects {
		out = append(out, e.ref)
	}
	return out
}

// post applies the voucher's effects, or their exact inverse when reversing.
func post(ctx context.Context, store *ledger.Store, v Voucher, reversal bool) error {
	effects, err := v.effects()
	if err != nil {
		return err
	}
	for _, e := range effects {
		delta := e.delta
		if reversal {
			delta = delta.Neg()
		}
		if err := store.Post(ctx, e.ref, delta, reversal); err != nil {
			return err
		}
	}
	return nil
}

func counterChanged(old, next Voucher) bool {
	return old.EntityType != next.EntityType || old.EntityID != next.EntityID
}
