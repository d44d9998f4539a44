package referral

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chickfarms/chickfarms-api/internal/middleware"
	"github.com/chickfarms/chickfarms-api/internal/pkg/logger"
	"github.com/chickfarms/chickfarms-api/internal/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// ListEarnings handles GET /referrals/earnings
func (h *Handler) ListEarnings(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	items, err := h.svc.ListEarnings(r.Context(), userID, limit, offset)
	if err != nil {
		logger.FromContext(r.Context()).Error().Err(err).Msg("Failed to list referral earnings")
		response.InternalError(w)
		return
	}

	out := make([]EarningResponse, 0, len(items))
	for _, e := range items {
		out = append(out, EarningResponseFromEntity(e))
	}
	response.WithMeta(w, out, response.Meta{Limit: limit, Offset: offset, Count: len(out), HasNext: len(out) == limit})
}

// Summary handles GET /referrals/earnings/summary
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	items, err := h.svc.Summary(r.Context(), userID)
	if err != nil {
		logger.FromContext(r.Context()).Error().Err(err).Msg("Failed to summarize referral earnings")
		response.InternalError(w)
		return
	}
	response.OK(w, items)
}

// Claim handles POST /referrals/earnings/{id}/claim
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	earningID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid earning id")
		return
	}

	e, err := h.svc.Claim(r.Context(), userID, earningID)
	if err != nil {
		switch {
		case errors.Is(err, ErrEarningNotFound):
			response.NotFound(w, "referral earning not found")
		case errors.Is(err, ErrAlreadyClaimed):
			response.Conflict(w, "referral earning already claimed")
		default:
			logger.FromContext(r.Context()).Error().Err(err).Msg("Failed to claim referral earning")
			response.InternalError(w)
		}
		return
	}

	response.OK(w, EarningResponseFromEntity(e))
}

// BySource handles GET /admin/referrals/sources/{transactionId}
func (h *Handler) BySource(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.BySource(r.Context(), chi.URLParam(r, "transactionId"))
	if err != nil {
		logger.FromContext(r.Context()).Error().Err(err).Msg("Failed to list cascade earnings")
		response.InternalError(w)
		return
	}

	out := make([]EarningResponse, 0, len(items))
	for _, e := range items {
		out = append(out, EarningResponseFromEntity(e))
	}
	response.OK(w, out)
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/earnings", h.ListEarnings)
	r.Get("/earnings/summary", h.Summary)
	r.Post("/earnings/{id}/claim", h.Claim)
	return r
}

// AdminRoutes lets admins inspect the cascade of a settled deposit.
func (h *Handler) AdminRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Use(middleware.RequireAdmin())
	r.Get("/sources/{transactionId}", h.BySource)
	return r
}
