package ledger

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/treasury/internal/shared"
)

// Repository exposes read access and the transactional port.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetAccount(ctx context.Context, tenantID int64, ref Ref) (Account, error)
	ListAccounts(ctx context.Context, tenantID int64, kind Kind) ([]Account, error)
	ListPostings(ctx context.Context, tenantID int64, ref Ref, limit int) ([]Posting, error)
	Drift(ctx context.Context, tenantID int64) ([]Drift, error)
	Tenants(ctx context.Context) ([]int64, error)
}

// TxRepository is the transactional surface used when opening accounts. Its
// EnsurePostable holds the covering periods until commit.
type TxRepository interface {
	TxStore
	PeriodGate
	NextCode(ctx context.Context, tenantID int64, prefix string) (string, error)
	InsertAccount(ctx context.Context, acc Account) (Account, error)
}

// PeriodGate rejects dates that cannot be posted to.
type PeriodGate interface {
	EnsurePostable(ctx context.Context, tenantID int64, date time.Time) error
}

// AuditPort records account lifecycle events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CreateAccountInput describes a new balance-bearing account.
type CreateAccountInput struct {
	Kind           Kind
	Name           string
	OpeningBalance decimal.Decimal
	OpeningDate    time.Time
}

// Validate performs structural checks before touching storage.
func (in CreateAccountInput) Validate() error {
	if !in.Kind.HasBalance() {
		return shared.Errorf(shared.ErrValidation, "ledger: kind %q does not hold a balance", in.Kind)
	}
	if strings.TrimSpace(in.Name) == "" {
		return shared.Errorf(shared.ErrValidation, "ledger: name required")
	}
	if in.OpeningBalance.IsNegative() {
		return shared.Errorf(shared.ErrValidation, "ledger: opening balance cannot be negative")
	}
	if !HasMoneyScale(in.OpeningBalance) {
		return shared.Errorf(shared.ErrValidation, "ledger: opening balance has more than %d decimal places", MoneyScale)
	}
	if in.OpeningDate.IsZero() {
		return shared.Errorf(shared.ErrValidation, "ledger: opening date required")
	}
	return nil
}

// Service manages ledger accounts outside of voucher workflows.
type Service struct {
	repo  Repository
	gate  PeriodGate
	audit AuditPort
	now   func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo Repository, gate PeriodGate, audit AuditPort) *Service {
	return &Service{repo: repo, gate: gate, audit: audit, now: time.Now}
}

// WithNow overrides the clock for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateAccount opens an account, recording a non-zero opening balance as its first posting.
func (s *Service) CreateAccount(ctx context.Context, actor shared.Actor, in CreateAccountInput) (Account, error) {
	if s == nil || s.repo == nil {
		return Account{}, errors.New("ledger: service not initialised")
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := in.Validate(); err != nil {
		return Account{}, err
	}
	if in.Kind.RequiresOpenPeriod() {
		if s.gate == nil {
			return Account{}, errors.New("ledger: period gate not configured")
		}
		if err := s.gate.EnsurePostable(ctx, actor.TenantID, in.OpeningDate); err != nil {
			return Account{}, err
		}
	}

	var created Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if in.Kind.RequiresOpenPeriod() {
			if err := tx.EnsurePostable(ctx, actor.TenantID, in.OpeningDate); err != nil {
				return err
			}
		}
		code, err := tx.NextCode(ctx, actor.TenantID, in.Kind.CodePrefix())
		if err != nil {
			return err
		}
		created, err = tx.InsertAccount(ctx, Account{
			TenantID:       actor.TenantID,
			Kind:           in.Kind,
			Code:           code,
			Name:           in.Name,
			OpeningBalance: in.OpeningBalance,
			CurrentBalance: decimal.Zero,
			OpeningDate:    in.OpeningDate,
			CreatedBy:      actor.UserID,
		})
		if err != nil {
			return err
		}
		if !in.OpeningBalance.IsPositive() {
			return nil
		}
		store := NewStore(tx, actor.TenantID)
		store.now = s.now
		if err := store.Credit(ctx, created.Ref(), in.OpeningBalance); err != nil {
			return err
		}
		created.CurrentBalance, _ = store.Balance(created.Ref())
		return store.Flush(ctx, SourceOpening, created.ID)
	})
	if err != nil {
		return Account{}, err
	}
	s.record(ctx, actor, "ledger.account.create", created)
	return created, nil
}

// GetAccount returns one account.
func (s *Service) GetAccount(ctx context.Context, tenantID int64, ref Ref) (Account, error) {
	if !ref.Kind.HasBalance() {
		return Account{}, accountNotFound(ref)
	}
	return s.repo.GetAccount(ctx, tenantID, ref)
}

// ListAccounts returns the tenant's accounts, optionally filtered by kind.
func (s *Service) ListAccounts(ctx context.Context, tenantID int64, kind Kind) ([]Account, error) {
	if kind != "" && !kind.HasBalance() {
		return nil, shared.Errorf(shared.ErrValidation, "ledger: kind %q does not hold a balance", kind)
	}
	return s.repo.ListAccounts(ctx, tenantID, kind)
}

// Postings returns the latest postings of ref, newest first.
func (s *Service) Postings(ctx context.Context, tenantID int64, ref Ref, limit int) ([]Posting, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if ref.Kind.HasBalance() {
		if _, err := s.repo.GetAccount(ctx, tenantID, ref); err != nil {
			return nil, err
		}
	}
	return s.repo.ListPostings(ctx, tenantID, ref, limit)
}

// Reconcile lists accounts whose cached balance differs from the posting log.
func (s *Service) Reconcile(ctx context.Context, tenantID int64) ([]Drift, error) {
	return s.repo.Drift(ctx, tenantID)
}

// Tenants lists tenants owning at least one ledger account.
func (s *Service) Tenants(ctx context.Context) ([]int64, error) {
	return s.repo.Tenants(ctx)
}

func (s *Service) record(ctx context.Context, actor shared.Actor, action string, acc Account) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		TenantID: actor.TenantID,
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   string(acc.Kind),
		EntityID: strconv.FormatInt(acc.ID, 10),
		Meta: map[string]any{
			"code":            acc.Code,
			"opening_balance": acc.OpeningBalance.String(),
		},
		At: s.now(),
	})
}
