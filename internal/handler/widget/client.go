package widget

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/jervis/backend/internal/model/chat"
	speechmodel "github.com/zhouzirui/jervis/backend/internal/model/speech"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// client 把连接的页面包装成 widget.Client：渲染、语音合成和语音识别都通过下发命令完成。
type client struct {
	conn      *websocket.Conn
	sessionID string

	writeMu     sync.Mutex
	recognition atomic.Bool
}

func newClient(conn *websocket.Conn, sessionID string) *client {
	return &client{conn: conn, sessionID: sessionID}
}

func (c *client) send(msgType string, data any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(outgoingMessage{
		Type:      msgType,
		SessionID: c.sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

func (c *client) notify(msgType string, data any) {
	if err := c.send(msgType, data); err != nil {
		slog.Warn("Websocket write failed", "session", c.sessionID, "type", msgType, "err", err)
	}
}

func (c *client) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *client) sendError(message string) {
	c.notify("error", map[string]string{"message": message})
}

func (c *client) AppendTurn(turn chat.Turn) {
	c.notify("turn", turn)
}

func (c *client) Speak(_ context.Context, u speechmodel.Utterance) error {
	return c.send("speak", map[string]string{
		"utteranceId": u.ID,
		"text":        u.Text,
		"lang":        u.Lang,
	})
}

func (c *client) Cancel(context.Context) error {
	return c.send("cancel_speech", nil)
}

// Supported 由页面通过 capabilities 消息上报，默认不支持。
func (c *client) Supported() bool {
	return c.recognition.Load()
}

func (c *client) Start(_ context.Context, cfg speechmodel.RecognitionConfig) error {
	return c.send("recognition_start", cfg)
}

func (c *client) Stop(context.Context) error {
	return c.send("recognition_stop", nil)
}

func (c *client) SetListening(listening bool, status string) {
	c.notify("status", map[string]any{"listening": listening, "text": status})
}

func (c *client) Notice(message string) {
	c.notify("notice", map[string]string{"message": message})
}

func (c *client) ClearInput() {
	c.notify("clear_input", nil)
}

func (c *client) SetLoading(visible bool) {
	c.notify("loading", map[string]bool{"visible": visible})
}
