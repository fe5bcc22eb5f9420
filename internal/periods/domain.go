package periods

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/treasury/internal/shared"
)

// Status enumerates fiscal period states.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// Period is a tenant's fiscal window. Ranges are inclusive on both ends.
type Period struct {
	ID               int64            `json:"id"`
	TenantID         int64            `json:"tenant_id"`
	Name             string           `json:"name"`
	StartDate        time.Time        `json:"start_date"`
	EndDate          time.Time        `json:"end_date"`
	Status           Status           `json:"status"`
	RetainedEarnings *decimal.Decimal `json:"retained_earnings,omitempty"`
	ClosedBy         *int64           `json:"closed_by,omitempty"`
	ClosedAt         *time.Time       `json:"closed_at,omitempty"`
	CreatedBy        int64            `json:"created_by"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Contains reports whether date falls inside the period.
func (p Period) Contains(date time.Time) bool {
	d := DateOnly(date)
	return !d.Before(DateOnly(p.StartDate)) && !d.After(DateOnly(p.EndDate))
}

// Overlaps reports whether [aStart, aEnd] and [bStart, bEnd] share at least one day:
// a starts inside b, a ends inside b, or a contains b.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	aStart, aEnd, bStart, bEnd = DateOnly(aStart), DateOnly(aEnd), DateOnly(bStart), DateOnly(bEnd)
	return !aStart.After(bEnd) && !bStart.After(aEnd)
}

// DateOnly truncates t to midnight UTC of its calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var (
	// ErrPeriodNotFound indicates the period does not exist for the tenant.
	ErrPeriodNotFound = shared.Errorf(shared.ErrNotFound, "periods: fiscal period not found")
	// ErrPeriodOverlap indicates the range intersects another period of the tenant.
	ErrPeriodOverlap = shared.Errorf(shared.ErrConstraint, "periods: range overlaps an existing fiscal period")
	// ErrAlreadyClosed is returned when closing a CLOSED period.
	ErrAlreadyClosed = shared.Errorf(shared.ErrConstraint, "periods: fiscal period already closed")
	// ErrAlreadyOpen is returned when reopening an OPEN period.
	ErrAlreadyOpen = shared.Errorf(shared.ErrConstraint, "periods: fiscal period already open")
	// ErrFutureReopen is returned when reopening a period that starts after the current year.
	ErrFutureReopen = shared.Errorf(shared.ErrConstraint, "periods: cannot reopen a period starting in a future year")
)

// CreateInput captures a new period request.
type CreateInput struct {
	TenantID  int64
	Name      string
	StartDate time.Time
	EndDate   time.Time
	ActorID   int64
}

// Validate ensures the input is coherent.
func (in CreateInput) Validate() error {
	if in.TenantID == 0 {
		return shared.Errorf(shared.ErrValidation, "periods: tenant required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return shared.Errorf(shared.ErrValidation, "periods: name required")
	}
	return validateRange(in.StartDate, in.EndDate)
}

// UpdateInput patches an existing period; nil fields keep stored values.
type UpdateInput struct {
	TenantID  int64
	ID        int64
	Name      *string
	StartDate *time.Time
	EndDate   *time.Time
	ActorID   int64
}

// Apply merges the patch over p.
func (in UpdateInput) Apply(p Period) Period {
	if in.Name != nil {
		p.Name = strings.TrimSpace(*in.Name)
	}
	if in.StartDate != nil {
		p.StartDate = DateOnly(*in.StartDate)
	}
	if in.EndDate != nil {
		p.EndDate = DateOnly(*in.EndDate)
	}
	return p
}

func validateRange(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return shared.Errorf(shared.ErrValidation, "periods: start and end date required")
	}
	if !DateOnly(start).Before(DateOnly(end)) {
		return shared.Errorf(shared.ErrValidation, "periods: start date must be before end date")
	}
	return nil
}

// transition checks a status change, mirroring the lifecycle OPEN <-> CLOSED.
func transition(current, target Status) error {
	switch {
	case current == target && target == StatusClosed:
		return ErrAlreadyClosed
	case current == target && target == StatusOpen:
		return ErrAlreadyOpen
	case target != StatusOpen && target != StatusClosed:
		return shared.Errorf(shared.ErrValidation, "periods: unknown status %q", target)
	}
	return nil
}
