package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/mosaicboard/backend/internal/db"
	"github.com/mosaicboard/backend/internal/ws"
)

// API is the thin read-only HTTP surface next to the sync endpoint: health,
// stats and snapshot listings. Document metadata CRUD lives elsewhere.
type API struct {
	hub    *ws.Hub
	store  *db.Store
	logger *zap.Logger
}

func New(hub *ws.Hub, store *db.Store, logger *zap.Logger) *API {
	return &API{hub: hub, store: store, logger: logger}
}

// Routes registers all handlers on the router.
func (a *API) Routes(r *mux.Router) {
	r.HandleFunc("/health", a.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", a.StatsHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/documents/{id}/snapshots", a.SnapshotsHandler).Methods(http.MethodGet)
}

func (a *API) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (a *API) errorResponse(w http.ResponseWriter, status int, message string) {
	a.jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	a.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms":   a.hub.GetRoomCount(),
		"active_clients": a.hub.GetClientCount(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.store != nil {
		dbStats, err := a.store.Stats()
		if err == nil {
			stats["total_documents"] = dbStats["document_count"]
			stats["total_snapshots"] = dbStats["snapshot_count"]
		}
	}

	a.jsonResponse(w, http.StatusOK, stats)
}

// SnapshotsHandler lists snapshot metadata for one document, newest first.
func (a *API) SnapshotsHandler(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["id"]
	if documentID == "" {
		a.errorResponse(w, http.StatusBadRequest, "Document ID is required")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	snaps, err := a.store.ListSnapshots(documentID, limit, offset)
	if err != nil {
		a.logger.Warn("failed to list snapshots",
			zap.String("document", documentID), zap.Error(err))
		a.errorResponse(w, http.StatusInternalServerError, "Failed to list snapshots")
		return
	}

	total, _ := a.store.SnapshotCount(documentID)

	a.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"snapshots": snaps,
		"total":     total,
		"limit":     limit,
		"offset":    offset,
	})
}
