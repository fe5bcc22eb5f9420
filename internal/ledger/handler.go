package ledger

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/treasury/internal/platform/httpx"
	"github.com/odyssey-erp/treasury/internal/shared"
)

type accountService interface {
	CreateAccount(ctx context.Context, actor shared.Actor, in CreateAccountInput) (Account, error)
	GetAccount(ctx context.Context, tenantID int64, ref Ref) (Account, error)
	ListAccounts(ctx context.Context, tenantID int64, kind Kind) ([]Account, error)
	Postings(ctx context.Context, tenantID int64, ref Ref, limit int) ([]Posting, error)
}

// Handler exposes ledger accounts over JSON.
type Handler struct {
	logger    *slog.Logger
	service   accountService
	validator *validator.Validate
}

// NewHandler constructs the ledger HTTP handler.
func NewHandler(logger *slog.Logger, service accountService) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers account routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{kind}/{id}", h.get)
	r.Get("/{kind}/{id}/postings", h.postings)
}

type createAccountRequest struct {
	Kind           string          `json:"kind" validate:"required,oneof=safe bank current_account receivable_account payable_account"`
	Name           string          `json:"name" validate:"required,max=120"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	OpeningDate    string          `json:"opening_date" validate:"required"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	var req createAccountRequest
	if err := httpx.Decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if err := httpx.Validate(h.validator, req); err != nil {
		h.fail(w, err)
		return
	}
	openingDate, err := httpx.ParseDate(req.OpeningDate)
	if err != nil {
		h.fail(w, err)
		return
	}
	acc, err := h.service.CreateAccount(r.Context(), actor, CreateAccountInput{
		Kind:           Kind(req.Kind),
		Name:           req.Name,
		OpeningBalance: req.OpeningBalance,
		OpeningDate:    openingDate,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, acc)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	accounts, err := h.service.ListAccounts(r.Context(), actor.TenantID, Kind(r.URL.Query().Get("kind")))
	if err != nil {
		h.fail(w, err)
		return
	}
	if accounts == nil {
		accounts = []Account{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": accounts})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	ref, err := refFromRequest(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	acc, err := h.service.GetAccount(r.Context(), actor.TenantID, ref)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, acc)
}

func (h *Handler) postings(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	ref, err := refFromRequest(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	postings, err := h.service.Postings(r.Context(), actor.TenantID, ref, httpx.QueryInt(r, "limit", 100))
	if err != nil {
		h.fail(w, err)
		return
	}
	if postings == nil {
		postings = []Posting{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": postings})
}

func refFromRequest(r *http.Request) (Ref, error) {
	kind, err := ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		return Ref{}, err
	}
	id, err := httpx.URLParamID(r, "id")
	if err != nil {
		return Ref{}, err
	}
	return Ref{Kind: kind, ID: id}, nil
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if !httpx.RespondError(w, err) && h.logger != nil {
		h.logger.Error("ledger request failed", slog.Any("error", err))
	}
}
