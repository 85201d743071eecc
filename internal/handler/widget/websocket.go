package widget

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/jervis/backend/internal/model/chat"
	"github.com/zhouzirui/jervis/backend/internal/service/speech"
	widgetService "github.com/zhouzirui/jervis/backend/internal/service/widget"
)

// WebSocketHandler widget 页面的 WebSocket 通道
type WebSocketHandler struct {
	widgets  *widgetService.Manager
	upgrader websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(widgets *widgetService.Manager) *WebSocketHandler {
	return &WebSocketHandler{
		widgets: widgets,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// TextMessage 键盘输入（回车和发送按钮相同）
type TextMessage struct {
	Text string `json:"text"`
}

// RecognitionMessage 语音识别引擎的生命周期回调
type RecognitionMessage struct {
	Event      string `json:"event"`
	Transcript string `json:"transcript"`
	Error      string `json:"error"`
}

// SpeechMessage 语音合成引擎的回调
type SpeechMessage struct {
	Event       string `json:"event"`
	UtteranceID string `json:"utteranceId"`
}

// ReplayMessage 点击消息旁的播放按钮
type ReplayMessage struct {
	TurnID string `json:"turnId"`
}

// CapabilitiesMessage 页面上报的平台能力
type CapabilitiesMessage struct {
	Recognition bool `json:"recognition"`
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "sessionID is required", http.StatusBadRequest)
		return
	}

	wg, err := h.widgets.Get(sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Websocket upgrade failed", "session", sessionID, "err", err)
		return
	}
	defer conn.Close()

	slog.Info("Websocket connected", "session", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := newClient(conn, sessionID)
	wg.Attach(c)
	defer wg.Detach(c)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go pingLoop(ctx, c)

	// Attach 会把监听状态重置为 idle
	c.SetListening(false, wg.Persona().IdleStatus)

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("Websocket read error", "session", sessionID, "err", err)
			}
			slog.Info("Websocket disconnected", "session", sessionID)
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if msg.SessionID != "" && msg.SessionID != sessionID {
			c.sendError("session mismatch")
			continue
		}

		h.handleMessage(ctx, wg, c, &msg)
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, wg *widgetService.Widget, c *client, msg *inboundMessage) {
	switch msg.Type {
	case "text":
		var text TextMessage
		if err := decodeData(msg.Data, &text); err != nil {
			c.sendError("invalid text payload")
			return
		}
		// 对话请求可能很慢，读循环需要继续接收语音回调；断线不取消进行中的请求
		sendCtx := context.WithoutCancel(ctx)
		go func() {
			if _, err := wg.SendMessage(sendCtx, text.Text, chat.OriginTyped); err != nil {
				c.sendError(err.Error())
			}
		}()
	case "mic":
		if err := wg.ToggleMic(ctx); err != nil {
			c.sendError(err.Error())
		}
	case "recognition":
		h.handleRecognition(ctx, wg, c, msg.Data)
	case "speech":
		var ev SpeechMessage
		if err := decodeData(msg.Data, &ev); err != nil || ev.Event != "end" {
			c.sendError("invalid speech payload")
			return
		}
		wg.SpeechEnded(ev.UtteranceID)
	case "replay":
		var replay ReplayMessage
		if err := decodeData(msg.Data, &replay); err != nil || replay.TurnID == "" {
			c.sendError("invalid replay payload")
			return
		}
		if err := wg.Replay(ctx, replay.TurnID); err != nil {
			c.sendError(err.Error())
		}
	case "capabilities":
		var caps CapabilitiesMessage
		if err := decodeData(msg.Data, &caps); err != nil {
			c.sendError("invalid capabilities payload")
			return
		}
		c.recognition.Store(caps.Recognition)
	default:
		c.sendError("unsupported message type: " + msg.Type)
	}
}

func (h *WebSocketHandler) handleRecognition(ctx context.Context, wg *widgetService.Widget, c *client, raw json.RawMessage) {
	var rec RecognitionMessage
	if err := decodeData(raw, &rec); err != nil {
		c.sendError("invalid recognition payload")
		return
	}

	ev, ok := recognitionEvent(rec)
	if !ok {
		c.sendError("unsupported recognition event: " + rec.Event)
		return
	}
	if err := wg.Recognition(ctx, ev); err != nil {
		c.sendError(err.Error())
	}
}

func recognitionEvent(rec RecognitionMessage) (speech.Event, bool) {
	switch rec.Event {
	case "start":
		return speech.Event{Kind: speech.EventStarted}, true
	case "result":
		return speech.Event{Kind: speech.EventResult, Transcript: rec.Transcript}, true
	case "error":
		msg := rec.Error
		if msg == "" {
			msg = "unknown recognition error"
		}
		return speech.Event{Kind: speech.EventError, Err: errors.New(msg)}, true
	case "end":
		return speech.Event{Kind: speech.EventEnded}, true
	default:
		return speech.Event{}, false
	}
}

func decodeData(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return errors.New("missing data")
	}
	return json.Unmarshal(raw, dst)
}

// pingLoop 定期发送ping消息
func pingLoop(ctx context.Context, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}
