package widget

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/jervis/backend/internal/model/chat"
	"github.com/zhouzirui/jervis/backend/internal/model/persona"
	"github.com/zhouzirui/jervis/backend/internal/service/conversation"
	widgetService "github.com/zhouzirui/jervis/backend/internal/service/widget"
)

type stubAI struct{ reply string }

func (s stubAI) Converse(context.Context, string) (string, error) {
	return s.reply, nil
}

type received struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

// gatedAI 在 release 关闭前阻塞，ctx 取消时提前返回
type gatedAI struct {
	reply   string
	entered chan struct{}
	release chan struct{}
}

func (g gatedAI) Converse(ctx context.Context, _ string) (string, error) {
	close(g.entered)
	select {
	case <-g.release:
		return g.reply, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func setupServer(t *testing.T, reply string) (*httptest.Server, *widgetService.Widget) {
	t.Helper()
	return setupServerWith(t, stubAI{reply: reply})
}

func setupServerWith(t *testing.T, ai conversation.Conversationalist) (*httptest.Server, *widgetService.Widget) {
	t.Helper()
	widgets := widgetService.NewManager(widgetService.Options{AI: ai})
	wg, err := widgets.Open(context.Background(), "")
	if err != nil {
		t.Fatalf("Open err: %v", err)
	}

	r := chi.NewRouter()
	NewWebSocketHandler(widgets).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		widgets.CloseAll(context.Background())
	})
	return srv, wg
}

func dial(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, msgType string, data any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": msgType, "data": data}); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

// readUntil 读取消息直到出现 msgType
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) received {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg received
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", msgType, err)
		}
		if msg.Type == msgType {
			return msg
		}
	}
}

func TestWebSocketUnknownSession(t *testing.T) {
	srv, _ := setupServer(t, "ok")

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %+v", resp)
	}
}

func TestWebSocketTypedMessage(t *testing.T) {
	reply := "नमस्ते! मैं आपकी कैसे मदद कर सकता हूँ?"
	srv, wg := setupServer(t, reply)
	conn := dial(t, srv, wg.ID())

	status := readUntil(t, conn, "status")
	if !strings.Contains(string(status.Data), `"listening":false`) {
		t.Fatalf("expected idle status on connect, got %s", status.Data)
	}

	sendJSON(t, conn, "text", map[string]string{"text": "नमस्ते"})

	readUntil(t, conn, "clear_input")
	speak := readUntil(t, conn, "speak")

	var payload struct {
		UtteranceID string `json:"utteranceId"`
		Text        string `json:"text"`
		Lang        string `json:"lang"`
	}
	if err := json.Unmarshal(speak.Data, &payload); err != nil {
		t.Fatalf("decode speak: %v", err)
	}
	if payload.Text != reply || payload.Lang != "hi-IN" || payload.UtteranceID == "" {
		t.Fatalf("unexpected speak payload %+v", payload)
	}

	loading := readUntil(t, conn, "loading")
	if !strings.Contains(string(loading.Data), `"visible":false`) {
		t.Fatalf("expected loading hidden, got %s", loading.Data)
	}

	sendJSON(t, conn, "speech", map[string]string{"event": "end", "utteranceId": payload.UtteranceID})
}

func TestWebSocketDisconnectKeepsPendingReply(t *testing.T) {
	ai := gatedAI{reply: "जवाब", entered: make(chan struct{}), release: make(chan struct{})}
	srv, wg := setupServerWith(t, ai)
	conn := dial(t, srv, wg.ID())
	readUntil(t, conn, "status")

	sendJSON(t, conn, "text", map[string]string{"text": "hello"})
	select {
	case <-ai.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("model was not called")
	}
	conn.Close()
	// 等服务端读循环退出
	time.Sleep(50 * time.Millisecond)
	close(ai.release)

	deadline := time.Now().Add(3 * time.Second)
	for {
		turns, err := wg.Turns(context.Background())
		if err != nil {
			t.Fatalf("Turns err: %v", err)
		}
		if len(turns) == 2 {
			if turns[1].Sender != chat.SenderAssistant || turns[1].Text != "जवाब" {
				t.Fatalf("expected the model reply to be kept, got %+v", turns[1])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("reply never stored, turns %+v", turns)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebSocketMicWithoutRecognition(t *testing.T) {
	srv, wg := setupServer(t, "ok")
	conn := dial(t, srv, wg.ID())

	sendJSON(t, conn, "mic", map[string]any{})
	notice := readUntil(t, conn, "notice")
	if !strings.Contains(string(notice.Data), persona.Default().UnsupportedNotice) {
		t.Fatalf("unexpected notice %s", notice.Data)
	}
}

func TestWebSocketVoiceFlow(t *testing.T) {
	srv, wg := setupServer(t, "जवाब")
	conn := dial(t, srv, wg.ID())

	sendJSON(t, conn, "capabilities", map[string]bool{"recognition": true})
	sendJSON(t, conn, "mic", map[string]any{})

	start := readUntil(t, conn, "recognition_start")
	if !strings.Contains(string(start.Data), `"lang":"hi-IN"`) || !strings.Contains(string(start.Data), `"continuous":false`) {
		t.Fatalf("unexpected recognition config %s", start.Data)
	}

	sendJSON(t, conn, "recognition", map[string]string{"event": "start"})
	status := readUntil(t, conn, "status")
	if !strings.Contains(string(status.Data), `"listening":true`) {
		t.Fatalf("expected listening status, got %s", status.Data)
	}

	sendJSON(t, conn, "recognition", map[string]string{"event": "result", "transcript": "नमस्ते"})
	speak := readUntil(t, conn, "speak")
	if !strings.Contains(string(speak.Data), "जवाब") {
		t.Fatalf("expected spoken reply, got %s", speak.Data)
	}

	sendJSON(t, conn, "mic", map[string]any{})
	readUntil(t, conn, "recognition_stop")
	stopAck := readUntil(t, conn, "speak")
	if !strings.Contains(string(stopAck.Data), persona.Default().StopAck) {
		t.Fatalf("expected stop acknowledgment, got %s", stopAck.Data)
	}
}

func TestWebSocketUnsupportedType(t *testing.T) {
	srv, wg := setupServer(t, "ok")
	conn := dial(t, srv, wg.ID())

	sendJSON(t, conn, "audio", map[string]any{})
	msg := readUntil(t, conn, "error")
	if !strings.Contains(string(msg.Data), "unsupported message type") {
		t.Fatalf("unexpected error %s", msg.Data)
	}
}

func TestRecognitionEventMapping(t *testing.T) {
	for _, name := range []string{"start", "result", "error", "end"} {
		if _, ok := recognitionEvent(RecognitionMessage{Event: name}); !ok {
			t.Fatalf("expected %s to map", name)
		}
	}
	if _, ok := recognitionEvent(RecognitionMessage{Event: "nomatch"}); ok {
		t.Fatal("unknown events must not map")
	}
	ev, _ := recognitionEvent(RecognitionMessage{Event: "error"})
	if ev.Err == nil {
		t.Fatal("error events need an error")
	}
}
