package records

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/jervis/backend/internal/model/chat"
	"github.com/zhouzirui/jervis/backend/internal/service/persistence"
)

type failingLister struct{}

func (failingLister) List(context.Context, int) ([]chat.Record, error) {
	return nil, errors.New("database is locked")
}

func setupRouter(l Lister) *chi.Mux {
	r := chi.NewRouter()
	New(l).RegisterRoutes(r)
	return r
}

func TestListRecordsFromSQLite(t *testing.T) {
	sink, err := persistence.NewSQLite(filepath.Join(t.TempDir(), "records.db"), "app-1")
	if err != nil {
		t.Fatalf("NewSQLite err: %v", err)
	}
	defer sink.Close()

	for _, text := range []string{"पहला", "दूसरा", "तीसरा"} {
		if err := sink.Record(context.Background(), chat.NewRecord(text, "user-1")); err != nil {
			t.Fatalf("Record err: %v", err)
		}
	}

	resp := httptest.NewRecorder()
	setupRouter(sink).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/records?limit=2", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var records []chat.Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	for _, rec := range records {
		if rec.SenderID != "user-1" || rec.Timestamp == 0 {
			t.Fatalf("unexpected record %+v", rec)
		}
	}
}

func TestListRecordsBadLimit(t *testing.T) {
	for _, q := range []string{"abc", "0", "-3"} {
		resp := httptest.NewRecorder()
		setupRouter(failingLister{}).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/records?limit="+q, nil))
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("limit=%s: expected 400, got %d", q, resp.Code)
		}
	}
}

func TestListRecordsStoreError(t *testing.T) {
	resp := httptest.NewRecorder()
	setupRouter(failingLister{}).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/records", nil))

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
}
