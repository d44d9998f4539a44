package transaction

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chickfarms/chickfarms-api/internal/middleware"
	"github.com/chickfarms/chickfarms-api/internal/pkg/logger"
	"github.com/chickfarms/chickfarms-api/internal/pkg/response"
)

// Handler exposes a user's ledger history.
type Handler struct {
	repo Repository
}

func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// List handles GET /transactions?type=&status=&limit=&offset=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	q := r.URL.Query()
	filter := ListFilter{
		Type:   Type(q.Get("type")),
		Status: Status(q.Get("status")),
	}
	if filter.Type != "" && !filter.Type.IsValid() {
		response.BadRequest(w, "unknown transaction type")
		return
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))
	filter.Limit, filter.Offset = normalizePage(filter.Limit, filter.Offset)

	// One extra row tells us whether another page exists.
	probe := filter
	probe.Limit++
	items, err := h.repo.ListByUserFiltered(r.Context(), userID, probe)
	if err != nil {
		logger.FromContext(r.Context()).Error().Err(err).Str("user_id", userID.String()).Msg("Failed to list transactions")
		response.InternalError(w)
		return
	}

	hasNext := len(items) > filter.Limit
	if hasNext {
		items = items[:filter.Limit]
	}

	out := make([]TransactionResponse, 0, len(items))
	for _, t := range items {
		out = append(out, ResponseFromEntity(t))
	}

	response.WithMeta(w, out, response.Meta{
		Limit:   filter.Limit,
		Offset:  filter.Offset,
		Count:   len(out),
		HasNext: hasNext,
	})
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/", h.List)
	return r
}
