package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mosaicboard/backend/internal/db"
	"github.com/mosaicboard/backend/internal/document"
)

// Participant is one live connection's membership in a room. Owned by the
// connection manager; the registry only keeps the aggregate set so it can
// decide eviction and hand rosters to joiners.
type Participant struct {
	ConnID string
	UserID string
	Name   string
}

// Room pairs a document id with its single in-memory replicated document and
// the set of connected participants.
type Room struct {
	ID  string
	Doc *document.Document

	mu           sync.RWMutex
	participants map[string]Participant
	emptySince   time.Time
}

func newRoom(id string, doc *document.Document) *Room {
	return &Room{
		ID:           id,
		Doc:          doc,
		participants: make(map[string]Participant),
		emptySince:   time.Now(),
	}
}

func (r *Room) addParticipant(p Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants[p.ConnID] = p
	r.emptySince = time.Time{}
}

func (r *Room) removeParticipant(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.participants, connID)
	if len(r.participants) == 0 {
		r.emptySince = time.Now()
	}
}

// Participants returns a copy of the current membership.
func (r *Room) Participants() []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	return out
}

func (r *Room) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

func (r *Room) emptyFor(grace time.Duration, now time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants) == 0 && !r.emptySince.IsZero() && now.Sub(r.emptySince) >= grace
}

// SnapshotLoader is the slice of the durable store the registry needs to
// resurrect a document.
type SnapshotLoader interface {
	LoadLatestSnapshot(documentID string) (*db.Snapshot, error)
}

// Registry maps document ids to in-memory rooms. It guarantees at most one
// room per document id: concurrent first joins for the same id are
// serialized through the registry lock, so the snapshot load happens once.
type Registry struct {
	loader SnapshotLoader
	logger *zap.Logger

	// rooms that have been empty for at least this long are evicted by the
	// periodic sweep; persisted snapshots survive
	cleanupGrace time.Duration

	mu    sync.RWMutex
	rooms map[string]*Room

	onEvict func(*Room)

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewRegistry(loader SnapshotLoader, cleanupGrace time.Duration, logger *zap.Logger) *Registry {
	return &Registry{
		loader:       loader,
		logger:       logger,
		cleanupGrace: cleanupGrace,
		rooms:        make(map[string]*Room),
		stop:         make(chan struct{}),
	}
}

// SetEvictHook installs a callback invoked with each room just before it is
// dropped from memory. Used for a final best-effort snapshot.
func (reg *Registry) SetEvictHook(fn func(*Room)) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.onEvict = fn
}

// GetOrCreate returns the room for documentID, creating it from the latest
// snapshot on first use. A failed or missing load falls back to an empty
// document with the default containers rather than failing the join.
func (reg *Registry) GetOrCreate(documentID string) *Room {
	reg.mu.RLock()
	room, ok := reg.rooms[documentID]
	reg.mu.RUnlock()
	if ok {
		return room
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if room, ok := reg.rooms[documentID]; ok {
		return room
	}

	room = newRoom(documentID, reg.loadDocument(documentID))
	reg.rooms[documentID] = room
	reg.logger.Info("room created", zap.String("document", documentID))
	return room
}

func (reg *Registry) loadDocument(documentID string) *document.Document {
	snap, err := reg.loader.LoadLatestSnapshot(documentID)
	if err != nil {
		reg.logger.Warn("snapshot load failed, starting empty",
			zap.String("document", documentID), zap.Error(err))
		return document.New()
	}
	if snap == nil {
		return document.New()
	}

	doc, err := document.Load(snap.Payload)
	if err != nil {
		reg.logger.Warn("snapshot unreadable, starting empty",
			zap.String("document", documentID),
			zap.Int64("version", snap.Version), zap.Error(err))
		return document.New()
	}

	reg.logger.Info("document restored",
		zap.String("document", documentID), zap.Int64("version", snap.Version))
	return doc
}

// Get returns the room for documentID if it is resident, or nil.
func (reg *Registry) Get(documentID string) *Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.rooms[documentID]
}

// Join registers a participant, creating the room if needed. The sweep may
// evict an empty room between the lookup and the membership write, so after
// adding the participant Join confirms the room is still the registered one
// and retries against the replacement if not. SweepOnce checks emptiness and
// unregisters under the registry lock, so a room that passes the re-check
// with a participant in it cannot be evicted.
func (reg *Registry) Join(documentID string, p Participant) *Room {
	for {
		room := reg.GetOrCreate(documentID)
		room.addParticipant(p)

		reg.mu.RLock()
		current := reg.rooms[documentID]
		reg.mu.RUnlock()
		if current == room {
			return room
		}
		room.removeParticipant(p.ConnID)
	}
}

// Leave removes a participant. The room stays resident until the sweep
// evicts it, so a quick reconnect does not reload from disk.
func (reg *Registry) Leave(documentID, connID string) {
	reg.mu.RLock()
	room := reg.rooms[documentID]
	reg.mu.RUnlock()
	if room != nil {
		room.removeParticipant(connID)
	}
}

// Rooms returns all resident rooms.
func (reg *Registry) Rooms() []*Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		out = append(out, room)
	}
	return out
}

// ActiveCounts returns participant counts per resident room.
func (reg *Registry) ActiveCounts() map[string]int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	counts := make(map[string]int, len(reg.rooms))
	for id, room := range reg.rooms {
		counts[id] = room.ParticipantCount()
	}
	return counts
}

// SweepOnce evicts rooms that have been empty past the cleanup grace and
// returns how many were evicted.
func (reg *Registry) SweepOnce() int {
	now := time.Now()

	reg.mu.Lock()
	var evicted []*Room
	for id, room := range reg.rooms {
		if room.emptyFor(reg.cleanupGrace, now) {
			delete(reg.rooms, id)
			evicted = append(evicted, room)
		}
	}
	hook := reg.onEvict
	reg.mu.Unlock()

	for _, room := range evicted {
		if hook != nil {
			hook(room)
		}
		reg.logger.Info("room evicted", zap.String("document", room.ID))
	}
	return len(evicted)
}

// StartSweeper runs the eviction sweep on a fixed interval until Stop.
func (reg *Registry) StartSweeper(interval time.Duration) {
	reg.wg.Add(1)
	go func() {
		defer reg.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-reg.stop:
				return
			case <-ticker.C:
				reg.SweepOnce()
			}
		}
	}()
}

func (reg *Registry) Stop() {
	close(reg.stop)
	reg.wg.Wait()
}
