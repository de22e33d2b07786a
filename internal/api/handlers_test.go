package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/mosaicboard/backend/internal/auth"
	"github.com/mosaicboard/backend/internal/db"
	"github.com/mosaicboard/backend/internal/session"
	"github.com/mosaicboard/backend/internal/ws"
)

func newTestAPI(t *testing.T) (*API, *db.Store) {
	t.Helper()

	store, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	reg := session.NewRegistry(store, time.Minute, zap.NewNop())
	hub := ws.NewHub(reg, auth.NewStaticVerifier(), zap.NewNop())

	return New(hub, store, zap.NewNop()), store
}

func doRequest(t *testing.T, a *API, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	r := mux.NewRouter()
	a.Routes(r)

	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Response not valid JSON: %v", err)
	}
	return body
}

func TestHealthHandler(t *testing.T) {
	a, _ := newTestAPI(t)

	rec := doRequest(t, a, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", body["status"])
	}
}

func TestStatsHandler(t *testing.T) {
	a, store := newTestAPI(t)

	if _, err := store.AppendSnapshot("doc1", []byte{1}); err != nil {
		t.Fatal(err)
	}

	rec := doRequest(t, a, http.MethodGet, "/api/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	body := decodeBody(t, rec)
	if body["active_rooms"] != float64(0) {
		t.Errorf("Expected 0 active rooms, got %v", body["active_rooms"])
	}
	if body["total_documents"] != float64(1) {
		t.Errorf("Expected 1 document, got %v", body["total_documents"])
	}
	if body["total_snapshots"] != float64(1) {
		t.Errorf("Expected 1 snapshot, got %v", body["total_snapshots"])
	}
}

func TestSnapshotsHandler(t *testing.T) {
	a, store := newTestAPI(t)

	for i := 0; i < 3; i++ {
		if _, err := store.AppendSnapshot("doc1", []byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}

	rec := doRequest(t, a, http.MethodGet, "/api/documents/doc1/snapshots")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	body := decodeBody(t, rec)
	if body["total"] != float64(3) {
		t.Errorf("Expected total 3, got %v", body["total"])
	}
	snaps, ok := body["snapshots"].([]interface{})
	if !ok || len(snaps) != 3 {
		t.Fatalf("Expected 3 snapshots, got %v", body["snapshots"])
	}

	newest := snaps[0].(map[string]interface{})
	if newest["version"] != float64(3) {
		t.Errorf("Expected newest first, got version %v", newest["version"])
	}
	if _, exposed := newest["Payload"]; exposed {
		t.Error("Snapshot payload must not be exposed in listings")
	}
}

func TestSnapshotsHandlerUnknownDocument(t *testing.T) {
	a, _ := newTestAPI(t)

	rec := doRequest(t, a, http.MethodGet, "/api/documents/nope/snapshots")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["total"] != float64(0) {
		t.Errorf("Expected total 0, got %v", body["total"])
	}
}
