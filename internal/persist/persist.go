package persist

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mosaicboard/backend/internal/db"
	"github.com/mosaicboard/backend/internal/metrics"
	"github.com/mosaicboard/backend/internal/session"
)

// Appender is the slice of the durable store the bridge writes through.
type Appender interface {
	AppendSnapshot(documentID string, payload []byte) (*db.Snapshot, error)
}

// Rooms yields the rooms to snapshot on each pass.
type Rooms interface {
	Rooms() []*session.Room
}

type Config struct {
	Interval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Minute,
	}
}

// Service periodically writes a full-state snapshot of every resident room.
// It only ever reads document state; failed writes are logged and retried on
// the next tick so live collaboration never waits on storage.
type Service struct {
	store    Appender
	registry Rooms
	config   Config
	logger   *zap.Logger

	mu        sync.Mutex
	lastSaved map[string]string // document id -> heads fingerprint

	stop chan struct{}
	wg   sync.WaitGroup
}

func New(store Appender, registry Rooms, config Config, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		registry:  registry,
		config:    config,
		logger:    logger,
		lastSaved: make(map[string]string),
		stop:      make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Info("persistence bridge started", zap.Duration("interval", s.config.Interval))
}

func (s *Service) Stop() {
	close(s.stop)
	s.wg.Wait()
	s.logger.Info("persistence bridge stopped")
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.RunOnce()
		}
	}
}

// RunOnce snapshots every room whose state changed since its last save and
// returns how many snapshots were written.
func (s *Service) RunOnce() int {
	saved := 0
	for _, room := range s.registry.Rooms() {
		if err := s.SaveRoom(room); err != nil {
			s.logger.Warn("snapshot save failed, will retry",
				zap.String("document", room.ID), zap.Error(err))
			metrics.SnapshotFailures.Inc()
			continue
		}
		saved++
	}
	return saved
}

// SaveRoom writes one room's current state unless it is unchanged since the
// previous save.
func (s *Service) SaveRoom(room *session.Room) error {
	heads := room.Doc.HeadsKey()

	s.mu.Lock()
	unchanged := s.lastSaved[room.ID] == heads
	s.mu.Unlock()
	if unchanged {
		return nil
	}

	snap, err := s.store.AppendSnapshot(room.ID, room.Doc.EncodeState())
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.lastSaved[room.ID] = heads
	s.mu.Unlock()

	metrics.SnapshotSaves.Inc()
	s.logger.Info("snapshot saved",
		zap.String("document", room.ID),
		zap.Int64("version", snap.Version),
		zap.Int("bytes", snap.Size))
	return nil
}

// Forget drops save-tracking state for an evicted room.
func (s *Service) Forget(documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lastSaved, documentID)
}

// EvictHook returns the callback the registry runs when dropping a room: a
// final best-effort save, then forget.
func (s *Service) EvictHook() func(*session.Room) {
	return func(room *session.Room) {
		if err := s.SaveRoom(room); err != nil {
			s.logger.Warn("final snapshot on evict failed",
				zap.String("document", room.ID), zap.Error(err))
			metrics.SnapshotFailures.Inc()
		}
		s.Forget(room.ID)
	}
}
