package persistence

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/tidwall/gjson"

	"github.com/zhouzirui/jervis/backend/internal/model/chat"
	"github.com/zhouzirui/jervis/backend/internal/service/identity"
)

// FirestoreSink creates one document per record through the Firestore REST
// API. The bootstrap identity's ID token, when present on the context,
// authorizes the write.
type FirestoreSink struct {
	endpoint string
	client   *http.Client
}

// NewFirestore returns a sink writing to the app collection of projectID.
func NewFirestore(projectID, appID, baseURL string, client *http.Client) *FirestoreSink {
	if baseURL == "" {
		baseURL = "https://firestore.googleapis.com/v1"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &FirestoreSink{
		endpoint: fmt.Sprintf("%s/projects/%s/databases/(default)/documents/%s",
			strings.TrimRight(baseURL, "/"), projectID, chat.CollectionPath(appID)),
		client: client,
	}
}

type stringValue struct {
	StringValue string `json:"stringValue"`
}

type integerValue struct {
	// Firestore encodes int64 values as decimal strings.
	IntegerValue string `json:"integerValue"`
}

type document struct {
	Fields map[string]any `json:"fields"`
}

// Record implements Sink.
func (s *FirestoreSink) Record(ctx context.Context, rec chat.Record) error {
	payload, err := sonic.Marshal(document{Fields: map[string]any{
		"text":      stringValue{rec.Text},
		"sender":    stringValue{rec.SenderID},
		"timestamp": integerValue{strconv.FormatInt(rec.Timestamp, 10)},
	}})
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id := identity.FromContext(ctx); id.IDToken != "" {
		req.Header.Set("Authorization", "Bearer "+id.IDToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := gjson.GetBytes(body, "error.message").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("create document failed with status %d: %s", resp.StatusCode, msg)
	}
	return nil
}
