package records

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/jervis/backend/internal/model/chat"
	"github.com/zhouzirui/jervis/backend/pkg/utils"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Lister reads persisted message records back, newest first.
type Lister interface {
	List(ctx context.Context, limit int) ([]chat.Record, error)
}

// Handler 持久化消息的只读查询接口
type Handler struct {
	records Lister
}

// New 创建记录处理器
func New(records Lister) *Handler {
	return &Handler{records: records}
}

// RegisterRoutes 注册记录相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/records", h.handleList)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			utils.RespondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLimit)
	}

	records, err := h.records.List(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to list records", "err", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	if records == nil {
		records = []chat.Record{}
	}
	utils.RespondJSON(w, http.StatusOK, records)
}
