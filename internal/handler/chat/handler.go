package chat

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/jervis/backend/internal/model/chat"
	chatService "github.com/zhouzirui/jervis/backend/internal/service/chat"
	"github.com/zhouzirui/jervis/backend/internal/service/widget"
	"github.com/zhouzirui/jervis/backend/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	widgets *widget.Manager
}

// New 创建聊天处理器
func New(widgets *widget.Manager) *Handler {
	return &Handler{widgets: widgets}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.handleCreateSession)
	r.Route("/session/{sessionID}", func(r chi.Router) {
		r.Delete("/", h.handleCloseSession)
		r.Get("/messages", h.handleListMessages)
		r.Post("/messages", h.handleSendMessage)
		r.Post("/messages/{turnID}/replay", h.handleReplay)
	})
}

type sendResponse struct {
	Outcome string      `json:"outcome"`
	Turns   []chat.Turn `json:"turns"`
}

// handleCreateSession 打开一个新的 widget 会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Token string `json:"token"`
	}
	if err := utils.DecodeJSON(r, &payload, true); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wg, err := h.widgets.Open(r.Context(), strings.TrimSpace(payload.Token))
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusCreated, wg.Session())
}

func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.widgets.Close(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	wg, ok := h.lookup(w, r)
	if !ok {
		return
	}

	turns, err := wg.Turns(r.Context())
	if err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, turns)
}

// handleSendMessage 以键盘输入的方式发送一条消息
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	wg, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload, false); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	outcome, err := wg.SendMessage(r.Context(), payload.Text, chat.OriginTyped)
	if err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}

	turns, err := wg.Turns(r.Context())
	if err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, sendResponse{Outcome: outcome.String(), Turns: turns})
}

// handleReplay 重新播报一条助手消息
func (h *Handler) handleReplay(w http.ResponseWriter, r *http.Request) {
	wg, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if err := wg.Replay(r.Context(), chi.URLParam(r, "turnID")); err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*widget.Widget, bool) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "sessionID is required")
		return nil, false
	}
	wg, err := h.widgets.Get(sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return wg, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound), errors.Is(err, chatService.ErrTurnNotFound):
		return http.StatusNotFound
	case errors.Is(err, chatService.ErrNotReplayable):
		return http.StatusConflict
	case errors.Is(err, chatService.ErrEmptyText), errors.Is(err, chatService.ErrInvalidSender):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
