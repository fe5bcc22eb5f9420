package periods

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/treasury/internal/shared"
)

// Repository persists fiscal periods.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context, tenantID int64) ([]Period, error)
	Get(ctx context.Context, tenantID, id int64) (Period, error)
	// Covering returns every period of the tenant whose range contains date.
	Covering(ctx context.Context, tenantID int64, date time.Time) ([]Period, error)
}

// TxRepository is the transactional surface.
type TxRepository interface {
	// LockTenant serialises period writes of one tenant until the transaction ends.
	LockTenant(ctx context.Context, tenantID int64) error
	LoadForUpdate(ctx context.Context, tenantID, id int64) (Period, error)
	HasOverlap(ctx context.Context, tenantID int64, start, end time.Time, excludeID int64) (bool, error)
	Insert(ctx context.Context, in CreateInput) (Period, error)
	Update(ctx context.Context, p Period) (Period, error)
	UpdateStatus(ctx context.Context, p Period) (Period, error)
}

// IncomeStatement computes net profit over a date range.
type IncomeStatement interface {
	NetProfit(ctx context.Context, tenantID int64, start, end time.Time) (decimal.Decimal, error)
}

// Locker guards close/reopen across processes.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// AuditPort records period state changes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service implements the period gate and the period lifecycle.
type Service struct {
	repo   Repository
	income IncomeStatement
	audit  AuditPort
	locker Locker
	now    func() time.Time
}

// NewService constructs a Service instance.
func NewService(repo Repository, income IncomeStatement, audit AuditPort) *Service {
	return &Service{repo: repo, income: income, audit: audit, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithLocker installs a distributed lock for close and reopen.
func (s *Service) WithLocker(l Locker) {
	s.locker = l
}

// HasOpenPeriod reports whether an OPEN period contains date.
func (s *Service) HasOpenPeriod(ctx context.Context, tenantID int64, date time.Time) (bool, error) {
	return s.covered(ctx, tenantID, date, StatusOpen)
}

// IsInClosedPeriod reports whether a CLOSED period contains date.
func (s *Service) IsInClosedPeriod(ctx context.Context, tenantID int64, date time.Time) (bool, error) {
	return s.covered(ctx, tenantID, date, StatusClosed)
}

func (s *Service) covered(ctx context.Context, tenantID int64, date time.Time, status Status) (bool, error) {
	list, err := s.repo.Covering(ctx, tenantID, DateOnly(date))
	if err != nil {
		return false, err
	}
	for _, p := range list {
		if p.Status == status && p.Contains(date) {
			return true, nil
		}
	}
	return false, nil
}

// EnsurePostable rejects dates inside a CLOSED period or outside every OPEN period.
// It reads without locks; posting transactions repeat the check through TxGate.
func (s *Service) EnsurePostable(ctx context.Context, tenantID int64, date time.Time) error {
	list, err := s.repo.Covering(ctx, tenantID, DateOnly(date))
	if err != nil {
		return err
	}
	return Postable(list, date)
}

// Postable decides whether date may be posted to given the periods covering it.
// A CLOSED period wins over an OPEN one.
func Postable(covering []Period, date time.Time) error {
	open := false
	for _, p := range covering {
		if !p.Contains(date) {
			continue
		}
		switch p.Status {
		case StatusClosed:
			return shared.Errorf(shared.ErrPeriodClosed, "periods: %s falls in a closed fiscal period", date.Format("2006-01-02"))
		case StatusOpen:
			open = true
		}
	}
	if !open {
		return shared.Errorf(shared.ErrNoOpenPeriod, "periods: no open fiscal period covers %s", date.Format("2006-01-02"))
	}
	return nil
}

// List returns the tenant's periods ordered by start date.
func (s *Service) List(ctx context.Context, tenantID int64) ([]Period, error) {
	return s.repo.List(ctx, tenantID)
}

// Get returns one period.
func (s *Service) Get(ctx context.Context, tenantID, id int64) (Period, error) {
	return s.repo.Get(ctx, tenantID, id)
}

// Create inserts an OPEN period after validating the range and overlap.
func (s *Service) Create(ctx context.Context, in CreateInput) (Period, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.StartDate, in.EndDate = DateOnly(in.StartDate), DateOnly(in.EndDate)
	if err := in.Validate(); err != nil {
		return Period{}, err
	}
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockTenant(ctx, in.TenantID); err != nil {
			return err
		}
		overlap, err := tx.HasOverlap(ctx, in.TenantID, in.StartDate, in.EndDate, 0)
		if err != nil {
			return err
		}
		if overlap {
			return ErrPeriodOverlap
		}
		period, err = tx.Insert(ctx, in)
		return err
	})
	if err != nil {
		return Period{}, err
	}
	s.record(ctx, in.ActorID, "periods.create", period)
	return period, nil
}

// Update changes name or range, falling back to stored values for omitted fields.
func (s *Service) Update(ctx context.Context, in UpdateInput) (Period, error) {
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return Period{}, shared.Errorf(shared.ErrValidation, "periods: name required")
	}
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockTenant(ctx, in.TenantID); err != nil {
			return err
		}
		current, err := tx.LoadForUpdate(ctx, in.TenantID, in.ID)
		if err != nil {
			return err
		}
		next := in.Apply(current)
		if err := validateRange(next.StartDate, next.EndDate); err != nil {
			return err
		}
		overlap, err := tx.HasOverlap(ctx, in.TenantID, next.StartDate, next.EndDate, current.ID)
		if err != nil {
			return err
		}
		if overlap {
			return ErrPeriodOverlap
		}
		period, err = tx.Update(ctx, next)
		return err
	})
	if err != nil {
		return Period{}, err
	}
	s.record(ctx, in.ActorID, "periods.update", period)
	return period, nil
}

// Close freezes the period's net profit as retained earnings and marks it CLOSED.
func (s *Service) Close(ctx context.Context, tenantID, id, actorID int64) (Period, error) {
	if s.income == nil {
		return Period{}, errors.New("periods: income statement not configured")
	}
	unlock, err := s.lock(ctx, tenantID, id)
	if err != nil {
		return Period{}, err
	}
	defer unlock()

	var period Period
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LoadForUpdate(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if err := transition(current.Status, StatusClosed); err != nil {
			return err
		}
		net, err := s.income.NetProfit(ctx, tenantID, current.StartDate, current.EndDate)
		if err != nil {
			return fmt.Errorf("periods: net profit: %w", err)
		}
		now := s.now()
		current.Status = StatusClosed
		current.RetainedEarnings = &net
		current.ClosedBy = &actorID
		current.ClosedAt = &now
		period, err = tx.UpdateStatus(ctx, current)
		return err
	})
	if err != nil {
		return Period{}, err
	}
	s.record(ctx, actorID, "periods.close", period)
	return period, nil
}

// Reopen clears retained earnings and marks the period OPEN.
func (s *Service) Reopen(ctx context.Context, tenantID, id, actorID int64) (Period, error) {
	unlock, err := s.lock(ctx, tenantID, id)
	if err != nil {
		return Period{}, err
	}
	defer unlock()

	var period Period
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LoadForUpdate(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if err := transition(current.Status, StatusOpen); err != nil {
			return err
		}
		if current.StartDate.Year() > s.now().Year() {
			return ErrFutureReopen
		}
		current.Status = StatusOpen
		current.RetainedEarnings = nil
		current.ClosedBy = nil
		current.ClosedAt = nil
		period, err = tx.UpdateStatus(ctx, current)
		return err
	})
	if err != nil {
		return Period{}, err
	}
	s.record(ctx, actorID, "periods.reopen", period)
	return period, nil
}

func (s *Service) lock(ctx context.Context, tenantID, id int64) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	return s.locker.Lock(ctx, shared.PeriodLockKey(tenantID, id))
}

func (s *Service) record(ctx context.Context, actorID int64, action string, p Period) {
	if s.audit == nil {
		return
	}
	meta := map[string]any{
		"status": string(p.Status),
		"start":  p.StartDate.Format("2006-01-02"),
		"end":    p.EndDate.Format("2006-01-02"),
	}
	if p.RetainedEarnings != nil {
		meta["retained_earnings"] = p.RetainedEarnings.String()
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		TenantID: p.TenantID,
		ActorID:  actorID,
		Action:   action,
		Entity:   "fiscal_period",
		EntityID: strconv.FormatInt(p.ID, 10),
		Meta:     meta,
		At:       s.now(),
	})
}
