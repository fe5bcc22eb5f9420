package vouchers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/treasury/internal/ledger"
	"github.com/odyssey-erp/treasury/internal/platform/httpx"
	"github.com/odyssey-erp/treasury/internal/shared"
)

// IdempotencyHeader carries the client's replay key on create requests.
const IdempotencyHeader = "Idempotency-Key"

type voucherService interface {
	CreateReceipt(ctx context.Context, actor shared.Actor, in ReceiptInput) (Voucher, error)
	UpdateReceipt(ctx context.Context, actor shared.Actor, id int64, patch ReceiptPatch) (Voucher, error)
	DeleteReceipt(ctx context.Context, actor shared.Actor, id int64) error
	CreatePayment(ctx context.Context, actor shared.Actor, in PaymentInput) (Voucher, error)
	UpdatePayment(ctx context.Context, actor shared.Actor, id int64, patch PaymentPatch) (Voucher, error)
	DeletePayment(ctx context.Context, actor shared.Actor, id int64) error
	CreateTransfer(ctx context.Context, actor shared.Actor, in TransferInput) (Voucher, error)
	UpdateTransfer(ctx context.Context, actor shared.Actor, id int64, patch TransferPatch) (Voucher, error)
	DeleteTransfer(ctx context.Context, actor shared.Actor, id int64) error
	Get(ctx context.Context, tenantID, id int64) (Voucher, error)
	List(ctx context.Context, filter ListFilter) ([]Voucher, shared.Pagination, error)
}

type idempotencyStore interface {
	CheckAndInsert(ctx context.Context, tenantID int64, key, module string) error
	Delete(ctx context.Context, tenantID int64, key, module string) error
}

// Handler exposes the voucher engine over JSON.
type Handler struct {
	logger      *slog.Logger
	service     voucherService
	idempotency idempotencyStore
	validator   *validator.Validate
}

// NewHandler constructs the voucher handler. idem may be nil to disable replay protection.
func NewHandler(logger *slog.Logger, service voucherService, idem idempotencyStore) *Handler {
	return &Handler{logger: logger, service: service, idempotency: idem, validator: validator.New()}
}

// MountRoutes registers voucher routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{id}", h.get)

	r.Post("/receipts", h.createReceipt)
	r.Patch("/receipts/{id}", h.updateReceipt)
	r.Delete("/receipts/{id}", h.deleteVoucher(KindReceipt))

	r.Post("/payments", h.createPayment)
	r.Patch("/payments/{id}", h.updatePayment)
	r.Delete("/payments/{id}", h.deleteVoucher(KindPayment))

	r.Post("/transfers", h.createTransfer)
	r.Patch("/transfers/{id}", h.updateTransfer)
	r.Delete("/transfers/{id}", h.deleteVoucher(KindTransfer))
}

type cashRequest struct {
	Date          string          `json:"date" validate:"required"`
	EntityType    string          `json:"entity_type" validate:"required"`
	EntityID      int64           `json:"entity_id" validate:"required,gt=0"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method" validate:"required,oneof=safe bank"`
	SafeID        *int64          `json:"safe_id"`
	BankID        *int64          `json:"bank_id"`
	ExpenseCodeID *int64          `json:"expense_code_id"`
	Description   string          `json:"description" validate:"max=500"`
}

type transferRequest struct {
	Date        string          `json:"date" validate:"required"`
	FromType    string          `json:"from_type" validate:"required,oneof=safe bank"`
	FromID      int64           `json:"from_id" validate:"required,gt=0"`
	ToType      string          `json:"to_type" validate:"required,oneof=safe bank"`
	ToID        int64           `json:"to_id" validate:"required,gt=0"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"max=500"`
}

type cashPatchRequest struct {
	Date          *string          `json:"date"`
	EntityType    *string          `json:"entity_type"`
	EntityID      *int64           `json:"entity_id"`
	Amount        *decimal.Decimal `json:"amount"`
	PaymentMethod *string          `json:"payment_method" validate:"omitempty,oneof=safe bank"`
	SafeID        *int64           `json:"safe_id"`
	BankID        *int64           `json:"bank_id"`
	ExpenseCodeID *int64           `json:"expense_code_id"`
	Description   *string          `json:"description" validate:"omitempty,max=500"`
}

type transferPatchRequest struct {
	Date        *string          `json:"date"`
	FromType    *string          `json:"from_type" validate:"omitempty,oneof=safe bank"`
	FromID      *int64           `json:"from_id"`
	ToType      *string          `json:"to_type" validate:"omitempty,oneof=safe bank"`
	ToID        *int64           `json:"to_id"`
	Amount      *decimal.Decimal `json:"amount"`
	Description *string          `json:"description" validate:"omitempty,max=500"`
}

func (p cashPatchRequest) cashPatch() (CashPatch, error) {
	date, err := parsePatchDate(p.Date)
	if err != nil {
		return CashPatch{}, err
	}
	patch := CashPatch{
		Date:        date,
		EntityID:    p.EntityID,
		Amount:      p.Amount,
		SafeID:      p.SafeID,
		BankID:      p.BankID,
		Description: p.Description,
	}
	if p.EntityType != nil {
		et := EntityType(*p.EntityType)
		patch.EntityType = &et
	}
	if p.PaymentMethod != nil {
		m := PaymentMethod(*p.PaymentMethod)
		patch.PaymentMethod = &m
	}
	return patch, nil
}

func (h *Handler) createReceipt(w http.ResponseWriter, r *http.Request) {
	var req cashRequest
	h.create(w, r, KindReceipt, &req, func(ctx context.Context, actor shared.Actor) (Voucher, error) {
		date, err := httpx.ParseDate(req.Date)
		if err != nil {
			return Voucher{}, err
		}
		return h.service.CreateReceipt(ctx, actor, ReceiptInput{
			Date:          date,
			EntityType:    EntityType(req.EntityType),
			EntityID:      req.EntityID,
			Amount:        req.Amount,
			PaymentMethod: PaymentMethod(req.PaymentMethod),
			SafeID:        req.SafeID,
			BankID:        req.BankID,
			Description:   req.Description,
		})
	})
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	var req cashRequest
	h.create(w, r, KindPayment, &req, func(ctx context.Context, actor shared.Actor) (Voucher, error) {
		date, err := httpx.ParseDate(req.Date)
		if err != nil {
			return Voucher{}, err
		}
		return h.service.CreatePayment(ctx, actor, PaymentInput{
			Date:          date,
			EntityType:    EntityType(req.EntityType),
			EntityID:      req.EntityID,
			Amount:        req.Amount,
			PaymentMethod: PaymentMethod(req.PaymentMethod),
			SafeID:        req.SafeID,
			BankID:        req.BankID,
			ExpenseCodeID: req.ExpenseCodeID,
			Description:   req.Description,
		})
	})
}

func (h *Handler) createTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	h.create(w, r, KindTransfer, &req, func(ctx context.Context, actor shared.Actor) (Voucher, error) {
		date, err := httpx.ParseDate(req.Date)
		if err != nil {
			return Voucher{}, err
		}
		return h.service.CreateTransfer(ctx, actor, TransferInput{
			Date:        date,
			FromType:    ledger.Kind(req.FromType),
			FromID:      req.FromID,
			ToType:      ledger.Kind(req.ToType),
			ToID:        req.ToID,
			Amount:      req.Amount,
			Description: req.Description,
		})
	})
}

// create decodes and validates req, claims the idempotency key if one was sent and
// releases it again when fn fails so the client can retry.
func (h *Handler) create(w http.ResponseWriter, r *http.Request, kind Kind, req any, fn func(context.Context, shared.Actor) (Voucher, error)) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	if err := httpx.Decode(r, req); err != nil {
		h.fail(w, err)
		return
	}
	if err := httpx.Validate(h.validator, req); err != nil {
		h.fail(w, err)
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	module := "vouchers." + string(kind)
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), actor.TenantID, key, module); err != nil {
			h.fail(w, err)
			return
		}
	}

	v, err := fn(r.Context(), actor)
	if err != nil {
		if key != "" && h.idempotency != nil {
			if delErr := h.idempotency.Delete(context.WithoutCancel(r.Context()), actor.TenantID, key, module); delErr != nil && h.logger != nil {
				h.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", delErr))
			}
		}
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, v)
}

func (h *Handler) updateReceipt(w http.ResponseWriter, r *http.Request) {
	var req cashPatchRequest
	h.update(w, r, &req, func(ctx context.Context, actor shared.Actor, id int64) (Voucher, error) {
		patch, err := req.cashPatch()
		if err != nil {
			return Voucher{}, err
		}
		return h.service.UpdateReceipt(ctx, actor, id, ReceiptPatch{CashPatch: patch})
	})
}

func (h *Handler) updatePayment(w http.ResponseWriter, r *http.Request) {
	var req cashPatchRequest
	h.update(w, r, &req, func(ctx context.Context, actor shared.Actor, id int64) (Voucher, error) {
		patch, err := req.cashPatch()
		if err != nil {
			return Voucher{}, err
		}
		return h.service.UpdatePayment(ctx, actor, id, PaymentPatch{CashPatch: patch, ExpenseCodeID: req.ExpenseCodeID})
	})
}

func (h *Handler) updateTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferPatchRequest
	h.update(w, r, &req, func(ctx context.Context, actor shared.Actor, id int64) (Voucher, error) {
		date, err := parsePatchDate(req.Date)
		if err != nil {
			return Voucher{}, err
		}
		patch := TransferPatch{Date: date, FromID: req.FromID, ToID: req.ToID, Amount: req.Amount, Description: req.Description}
		if req.FromType != nil {
			k := ledger.Kind(*req.FromType)
			patch.FromType = &k
		}
		if req.ToType != nil {
			k := ledger.Kind(*req.ToType)
			patch.ToType = &k
		}
		return h.service.UpdateTransfer(ctx, actor, id, patch)
	})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request, req any, fn func(context.Context, shared.Actor, int64) (Voucher, error)) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	id, err := httpx.URLParamID(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	if err := httpx.Decode(r, req); err != nil {
		h.fail(w, err)
		return
	}
	if err := httpx.Validate(h.validator, req); err != nil {
		h.fail(w, err)
		return
	}
	v, err := fn(r.Context(), actor, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) deleteVoucher(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := httpx.RequireActor(w, r)
		if !ok {
			return
		}
		id, err := httpx.URLParamID(r, "id")
		if err != nil {
			h.fail(w, err)
			return
		}
		switch kind {
		case KindReceipt:
			err = h.service.DeleteReceipt(r.Context(), actor, id)
		case KindPayment:
			err = h.service.DeletePayment(r.Context(), actor, id)
		default:
			err = h.service.DeleteTransfer(r.Context(), actor, id)
		}
		if err != nil {
			h.fail(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	id, err := httpx.URLParamID(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	v, err := h.service.Get(r.Context(), actor.TenantID, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	from, err := httpx.ParseOptionalDate(q.Get("from"))
	if err != nil {
		h.fail(w, err)
		return
	}
	to, err := httpx.ParseOptionalDate(q.Get("to"))
	if err != nil {
		h.fail(w, err)
		return
	}
	items, page, err := h.service.List(r.Context(), ListFilter{
		TenantID: actor.TenantID,
		Kind:     Kind(q.Get("kind")),
		From:     from,
		To:       to,
		Page:     httpx.QueryInt(r, "page", 1),
		PerPage:  httpx.QueryInt(r, "per_page", 20),
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	if items == nil {
		items = []Voucher{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items, "pagination": page})
}

func parsePatchDate(raw *string) (*time.Time, error) {
	if raw == nil {
		return nil, nil
	}
	return httpx.ParseOptionalDate(*raw)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if !httpx.RespondError(w, err) && h.logger != nil {
		h.logger.Error("voucher request failed", slog.Any("error", err))
	}
}
