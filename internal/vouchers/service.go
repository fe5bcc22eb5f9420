// Package vouchers implements receipt, payment and internal transfer vouchers and the
// balance mutations behind them.
package vouchers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/odyssey-erp/treasury/internal/ledger"
	"github.com/odyssey-erp/treasury/internal/shared"
)

// Repository persists vouchers and opens units of work.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, tenantID, id int64) (Voucher, error)
	List(ctx context.Context, filter ListFilter) ([]Voucher, int, error)
}

// TxRepository is everything one unit of work touches: ledger rows, the code
// sequence and the voucher row. Its EnsurePostable holds the covering periods
// until commit, so a period cannot close underneath a posting.
type TxRepository interface {
	ledger.TxStore
	PeriodGate
	NextCode(ctx context.Context, tenantID int64, prefix string) (string, error)
	LoadForUpdate(ctx context.Context, tenantID int64, kind Kind, id int64) (Voucher, error)
	Insert(ctx context.Context, v Voucher) (Voucher, error)
	Update(ctx context.Context, v Voucher) (Voucher, error)
	Delete(ctx context.Context, tenantID, id int64) error
}

// PeriodGate rejects dates that cannot be posted to.
type PeriodGate interface {
	EnsurePostable(ctx context.Context, tenantID int64, date time.Time) error
}

// NameLookup resolves a counter-entity display name, or "" when unknown.
type NameLookup interface {
	EntityName(ctx context.Context, tenantID int64, entityType EntityType, id int64) (string, error)
}

// AuditPort records voucher lifecycle events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsRecorder counts voucher operations.
type MetricsRecorder interface {
	RecordVoucher(kind, op, outcome string)
}

const (
	opCreate = "create"
	opUpdate = "update"
	opDelete = "delete"
)

// Service is the voucher engine.
type Service struct {
	repo    Repository
	gate    PeriodGate
	names   NameLookup
	audit   AuditPort
	metrics MetricsRecorder
	now     func() time.Time
}

// NewService constructs the engine.
func NewService(repo Repository, gate PeriodGate, names NameLookup, audit AuditPort) *Service {
	return &Service{repo: repo, gate: gate, names: names, audit: audit, now: time.Now}
}

// WithMetrics installs an operation counter.
func (s *Service) WithMetrics(m MetricsRecorder) {
	s.metrics = m
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateReceipt records money received into a safe or bank.
func (s *Service) CreateReceipt(ctx context.Context, actor shared.Actor, in ReceiptInput) (Voucher, error) {
	return s.create(ctx, actor, in.voucher())
}

// UpdateReceipt reverses the stored receipt and applies the patched one.
func (s *Service) UpdateReceipt(ctx context.Context, actor shared.Actor, id int64, patch ReceiptPatch) (Voucher, error) {
	if err := patch.check(); err != nil {
		return Voucher{}, s.observe(KindReceipt, opUpdate, err)
	}
	return s.update(ctx, actor, KindReceipt, id, patch.apply)
}

// DeleteReceipt reverses and removes a receipt.
func (s *Service) DeleteReceipt(ctx context.Context, actor shared.Actor, id int64) error {
	return s.delete(ctx, actor, KindReceipt, id)
}

// CreatePayment records money paid out of a safe or bank.
func (s *Service) CreatePayment(ctx context.Context, actor shared.Actor, in PaymentInput) (Voucher, error) {
	return s.create(ctx, actor, in.voucher())
}

// UpdatePayment reverses the stored payment and applies the patched one.
func (s *Service) UpdatePayment(ctx context.Context, actor shared.Actor, id int64, patch PaymentPatch) (Voucher, error) {
	if err := patch.check(); err != nil {
		return Voucher{}, s.observe(KindPayment, opUpdate, err)
	}
	return s.update(ctx, actor, KindPayment, id, patch.apply)
}

// DeletePayment reverses and removes a payment.
func (s *Service) DeletePayment(ctx context.Context, actor shared.Actor, id int64) error {
	return s.delete(ctx, actor, KindPayment, id)
}

// CreateTransfer moves money between two safes or banks.
func (s *Service) CreateTransfer(ctx context.Context, actor shared.Actor, in TransferInput) (Voucher, error) {
	return s.create(ctx, actor, in.voucher())
}

// UpdateTransfer reverses the stored transfer and applies the patched one.
func (s *Service) UpdateTransfer(ctx context.Context, actor shared.Actor, id int64, patch TransferPatch) (Voucher, error) {
	if err := patch.check(); err != nil {
		return Voucher{}, s.observe(KindTransfer, opUpdate, err)
	}
	return s.update(ctx, actor, KindTransfer, id, patch.apply)
}

// DeleteTransfer reverses and removes a transfer.
func (s *Service) DeleteTransfer(ctx context.Context, actor shared.Actor, id int64) error {
	return s.delete(ctx, actor, KindTransfer, id)
}

// Get returns one voucher of any kind.
func (s *Service) Get(ctx context.Context, tenantID, id int64) (Voucher, error) {
	return s.repo.Get(ctx, tenantID, id)
}

// List returns a page of vouchers.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Voucher, shared.Pagination, error) {
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, shared.Pagination{}, invalid("unknown voucher kind %q", filter.Kind)
	}
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

func (s *Service) create(ctx context.Context, actor shared.Actor, draft Voucher) (Voucher, error) {
	if err := s.ready(actor); err != nil {
		return Voucher{}, err
	}
	draft.normalize()
	if err := draft.validate(); err != nil {
		return Voucher{}, s.observe(draft.Kind, opCreate, err)
	}
	// early reject; the transaction repeats the check under lock
	if err := s.gate.EnsurePostable(ctx, actor.TenantID, draft.Date); err != nil {
		return Voucher{}, s.observe(draft.Kind, opCreate, err)
	}

	var saved Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		v := draft
		v.TenantID = actor.TenantID
		v.CreatedBy = actor.UserID
		v.UpdatedBy = actor.UserID
		if err := tx.EnsurePostable(ctx, actor.TenantID, v.Date); err != nil {
			return err
		}

		store := ledger.NewStore(tx, actor.TenantID)
		if err := store.Lock(ctx, v.refs()...); err != nil {
			return err
		}
		if err := s.resolveName(ctx, &v); err != nil {
			return err
		}
		if err := post(ctx, store, v, false); err != nil {
			return err
		}
		code, err := tx.NextCode(ctx, actor.TenantID, v.Kind.Prefix())
		if err != nil {
			return err
		}
		v.Code = code
		inserted, err := tx.Insert(ctx, v)
		if err != nil {
			return err
		}
		if err := store.Flush(ctx, string(v.Kind), inserted.ID); err != nil {
			return err
		}
		saved = inserted
		return nil
	})
	if err != nil {
		return Voucher{}, s.observe(draft.Kind, opCreate, fmt.Errorf("vouchers: create %s: %w", draft.Kind, err))
	}
	s.observe(saved.Kind, opCreate, nil)
	s.record(ctx, actor, opCreate, saved)
	return saved, nil
}

func (s *Service) update(ctx context.Context, actor shared.Actor, kind Kind, id int64, merge func(Voucher) Voucher) (Voucher, error) {
	if err := s.ready(actor); err != nil {
		return Voucher{}, err
	}
	var saved Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		old, err := tx.LoadForUpdate(ctx, actor.TenantID, kind, id)
		if err != nil {
			return err
		}
		next := merge(old)
		next.normalize()
		if err := next.validate(); err != nil {
			return err
		}
		if err := tx.EnsurePostable(ctx, actor.TenantID, old.Date); err != nil {
			return err
		}
		if !next.Date.Equal(old.Date) {
			if err := tx.EnsurePostable(ctx, actor.TenantID, next.Date); err != nil {
				return err
			}
		}

		store := ledger.NewStore(tx, actor.TenantID)
		if err := store.Lock(ctx, append(old.refs(), next.refs()...)...); err != nil {
			return err
		}
		if err := post(ctx, store, old, true); err != nil {
			return err
		}
		if counterChanged(old, next) {
			if err := s.resolveName(ctx, &next); err != nil {
				return err
			}
		}
		if err := post(ctx, store, next, false); err != nil {
			return err
		}
		next.UpdatedBy = actor.UserID
		updated, err := tx.Update(ctx, next)
		if err != nil {
			return err
		}
		if err := store.Flush(ctx, string(kind), id); err != nil {
			return err
		}
		saved = updated
		return nil
	})
	if err != nil {
		return Voucher{}, s.observe(kind, opUpdate, fmt.Errorf("vouchers: update %s %d: %w", kind, id, err))
	}
	s.observe(kind, opUpdate, nil)
	s.record(ctx, actor, opUpdate, saved)
	return saved, nil
}

func (s *Service) delete(ctx context.Context, actor shared.Actor, kind Kind, id int64) error {
	if err := s.ready(actor); err != nil {
		return err
	}
	var removed Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		old, err := tx.LoadForUpdate(ctx, actor.TenantID, kind, id)
		if err != nil {
			return err
		}
		if err := tx.EnsurePostable(ctx, actor.TenantID, old.Date); err != nil {
			return err
		}
		store := ledger.NewStore(tx, actor.TenantID)
		if err := store.Lock(ctx, old.refs()...); err != nil {
			return err
		}
		if err := post(ctx, store, old, true); err != nil {
			return err
		}
		if err := store.Flush(ctx, string(kind), id); err != nil {
			return err
		}
		if err := tx.Delete(ctx, actor.TenantID, id); err != nil {
			return err
		}
		removed = old
		return nil
	})
	if err != nil {
		return s.observe(kind, opDelete, fmt.Errorf("vouchers: delete %s %d: %w", kind, id, err))
	}
	s.observe(kind, opDelete, nil)
	s.record(ctx, actor, opDelete, removed)
	return nil
}

func (s *Service) ready(actor shared.Actor) error {
	if s == nil || s.repo == nil || s.gate == nil {
		return errors.New("vouchers: service not initialised")
	}
	if !actor.Valid() {
		return invalid("tenant and user required")
	}
	return nil
}

func (s *Service) resolveName(ctx context.Context, v *Voucher) error {
	if v.Kind == KindTransfer || s.names == nil {
		return nil
	}
	name, err := s.names.EntityName(ctx, v.TenantID, v.EntityType, v.EntityID)
	if err != nil {
		return fmt.Errorf("vouchers: entity name: %w", err)
	}
	v.EntityName = name
	return nil
}

// observe counts the outcome and returns err unchanged.
func (s *Service) observe(kind Kind, op string, err error) error {
	if s.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = shared.KindOf(err)
		}
		s.metrics.RecordVoucher(string(kind), op, outcome)
	}
	return err
}

func (s *Service) record(ctx context.Context, actor shared.Actor, op string, v Voucher) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		TenantID: actor.TenantID,
		ActorID:  actor.UserID,
		Action:   "vouchers." + string(v.Kind) + "." + op,
		Entity:   "voucher",
		EntityID: strconv.FormatInt(v.ID, 10),
		Meta: map[string]any{
			"code":   v.Code,
			"amount": v.Amount.String(),
			"date":   v.Date.Format("2006-01-02"),
		},
		At: s.now(),
	})
}
