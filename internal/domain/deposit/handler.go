package deposit

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chickfarms/chickfarms-api/internal/domain/ledger"
	"github.com/chickfarms/chickfarms-api/internal/middleware"
	"github.com/chickfarms/chickfarms-api/internal/pkg/errorhandler"
	"github.com/chickfarms/chickfarms-api/internal/pkg/logger"
	"github.com/chickfarms/chickfarms-api/internal/pkg/nowpayments"
	"github.com/chickfarms/chickfarms-api/internal/pkg/response"
	"github.com/chickfarms/chickfarms-api/internal/pkg/validator"
)

const maxIPNBodyBytes = 64 << 10

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Create handles POST /deposits
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req CreateDepositRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return
	}

	dep, err := h.svc.CreateDeposit(r.Context(), userID, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Created(w, dep)
}

// Status handles GET /deposits/{transactionId}/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	status, err := h.svc.PollStatus(r.Context(), userID, chi.URLParam(r, "transactionId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, status)
}

// Approve handles POST /admin/deposits/{transactionId}/approve
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "transactionId")

	settlement, err := h.svc.Approve(r.Context(), externalID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	logger.FromContext(r.Context()).Info().
		Str("admin_id", middleware.GetUserID(r.Context()).String()).
		Str("transaction_id", externalID).
		Bool("already_finalized", settlement.Guard.AlreadyFinalized).
		Msg("Admin approved deposit")
	response.OK(w, settleResponse(externalID, settlement))
}

// Reject handles POST /admin/deposits/{transactionId}/reject
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "transactionId")

	var req RejectRequest
	if r.ContentLength != 0 {
		if err := response.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
			response.BadRequest(w, "invalid JSON body")
			return
		}
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	changed, err := h.svc.Reject(r.Context(), externalID, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, map[string]interface{}{
		"transaction_id": externalID,
		"rejected":       changed,
	})
}

// NowPaymentsIPN handles POST /webhooks/nowpayments. It answers 2xx for
// anything it accepted or deliberately ignored so the gateway stops retrying.
func (h *Handler) NowPaymentsIPN(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxIPNBodyBytes))
	if err != nil {
		response.BadRequest(w, "unreadable body")
		return
	}

	result, err := h.svc.HandleIPN(r.Context(), body, r.Header.Get(nowpayments.SignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, nowpayments.ErrMissingSignature), errors.Is(err, nowpayments.ErrInvalidSignature):
			logger.FromContext(r.Context()).Warn().Err(err).Str("ip", r.RemoteAddr).Msg("Rejected IPN with bad signature")
			response.Unauthorized(w, "invalid signature")
		case errors.Is(err, nowpayments.ErrMalformedIPN):
			response.BadRequest(w, "invalid notification")
		default:
			errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", "IPN processing failed", err)
		}
		return
	}
	response.OK(w, result)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, ledger.ErrTransactionNotFound):
		response.NotFound(w, "deposit not found")
	case errors.Is(err, ErrNotOwner):
		response.NotFound(w, "deposit not found")
	case errors.Is(err, ledger.ErrNotDeposit):
		response.BadRequest(w, "transaction is not a deposit")
	case errors.Is(err, ledger.ErrTransactionNotPending):
		response.Conflict(w, "deposit is no longer pending")
	case errors.Is(err, ledger.ErrInvalidAmount):
		response.BadRequest(w, "amount must be greater than zero")
	case errors.Is(err, ledger.ErrUserNotFound):
		errorhandler.HandleError(ctx, w, http.StatusUnprocessableEntity, "USER_NOT_FOUND", "deposit owner not found", err)
	case errors.Is(err, ErrGatewayFailure):
		errorhandler.LogExternalServiceError(ctx, "nowpayments", r.URL.Path, http.StatusBadGateway, err, "")
		response.BadGateway(w, "payment gateway unavailable, try again later")
	default:
		errorhandler.HandleError(ctx, w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", err)
	}
}

// Routes returns the player-facing deposit routes.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Post("/", h.Create)
	r.Get("/{transactionId}/status", h.Status)
	return r
}

// AdminRoutes returns routes for manual deposit review.
func (h *Handler) AdminRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Use(middleware.RequireAdmin())
	r.Post("/{transactionId}/approve", h.Approve)
	r.Post("/{transactionId}/reject", h.Reject)
	return r
}

// WebhookRoutes returns gateway callbacks; they authenticate by signature.
func (h *Handler) WebhookRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/nowpayments", h.NowPaymentsIPN)
	return r
}
