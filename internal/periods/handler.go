package periods

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/treasury/internal/platform/httpx"
)

type periodService interface {
	List(ctx context.Context, tenantID int64) ([]Period, error)
	Get(ctx context.Context, tenantID, id int64) (Period, error)
	Create(ctx context.Context, in CreateInput) (Period, error)
	Update(ctx context.Context, in UpdateInput) (Period, error)
	Close(ctx context.Context, tenantID, id, actorID int64) (Period, error)
	Reopen(ctx context.Context, tenantID, id, actorID int64) (Period, error)
}

// Handler exposes fiscal periods over JSON.
type Handler struct {
	logger    *slog.Logger
	service   periodService
	validator *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service periodService) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers period routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Patch("/{id}", h.update)
	r.Post("/{id}/close", h.close)
	r.Post("/{id}/reopen", h.reopen)
}

type createPeriodRequest struct {
	Name      string `json:"name" validate:"required,max=80"`
	StartDate string `json:"start_date" validate:"required"`
	EndDate   string `json:"end_date" validate:"required"`
}

type updatePeriodRequest struct {
	Name      *string `json:"name" validate:"omitempty,max=80"`
	StartDate string  `json:"start_date"`
	EndDate   string  `json:"end_date"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	list, err := h.service.List(r.Context(), actor.TenantID)
	if err != nil {
		h.fail(w, err)
		return
	}
	if list == nil {
		list = []Period{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": list})
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
	p, err := h.service.Get(r.Context(), actor.TenantID, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	var req createPeriodRequest
	if err := httpx.Decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if err := httpx.Validate(h.validator, req); err != nil {
		h.fail(w, err)
		return
	}
	start, err := httpx.ParseDate(req.StartDate)
	if err != nil {
		h.fail(w, err)
		return
	}
	end, err := httpx.ParseDate(req.EndDate)
	if err != nil {
		h.fail(w, err)
		return
	}
	p, err := h.service.Create(r.Context(), CreateInput{
		TenantID:  actor.TenantID,
		Name:      req.Name,
		StartDate: start,
		EndDate:   end,
		ActorID:   actor.UserID,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	id, err := httpx.URLParamID(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	var req updatePeriodRequest
	if err := httpx.Decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if err := httpx.Validate(h.validator, req); err != nil {
		h.fail(w, err)
		return
	}
	in := UpdateInput{TenantID: actor.TenantID, ID: id, Name: req.Name, ActorID: actor.UserID}
	if in.StartDate, err = httpx.ParseOptionalDate(req.StartDate); err != nil {
		h.fail(w, err)
		return
	}
	if in.EndDate, err = httpx.ParseOptionalDate(req.EndDate); err != nil {
		h.fail(w, err)
		return
	}
	p, err := h.service.Update(r.Context(), in)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Close)
}

func (h *Handler) reopen(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Reopen)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, tenantID, id, actorID int64) (Period, error)) {
	actor, ok := httpx.RequireActor(w, r)
	if !ok {
		return
	}
	id, err := httpx.URLParamID(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	p, err := fn(r.Context(), actor.TenantID, id, actor.UserID)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if !httpx.RespondError(w, err) && h.logger != nil {
		h.logger.Error("periods request failed", slog.Any("error", err))
	}
}
