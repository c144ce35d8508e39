// Package historian drains the draft journal from Redis and archives it in batches.
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jason-s-yu/draftsync/internal/cache"
	"github.com/jason-s-yu/draftsync/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Archive is where batches end up. *database.Archive implements it.
type Archive interface {
	Write(ctx context.Context, batch []models.DraftAction) error
	MarkAbandoned(ctx context.Context, roomID string) error
}

// Config tunes batching and inactivity tracking.
type Config struct {
	Queue      string
	BatchSize  int
	FlushDelay time.Duration
	// Inactivity is how long a room may stay silent before it is marked abandoned.
	Inactivity time.Duration
	// PopTimeout bounds each blocking pop so cancellation is noticed.
	PopTimeout time.Duration
}

// DefaultConfig matches the historian's production defaults.
var DefaultConfig = Config{
	Queue:      cache.DefaultQueueName,
	BatchSize:  20,
	FlushDelay: 500 * time.Millisecond,
	Inactivity: 10 * time.Minute,
	PopTimeout: 3 * time.Second,
}

// Service encapsulates the Redis + archive logic for capturing draft actions
// and marking rooms abandoned when they go quiet.
type Service struct {
	rdb     *redis.Client
	archive Archive
	cfg     Config
	log     logrus.FieldLogger
	now     func() time.Time

	lastActivity sync.Map // room id -> time.Time

	batchMu sync.Mutex
	batch   []models.DraftAction
}

// New returns a service; zero fields of cfg fall back to DefaultConfig.
func New(rdb *redis.Client, archive Archive, cfg Config, log logrus.FieldLogger) *Service {
	if cfg.Queue == "" {
		cfg.Queue = DefaultConfig.Queue
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig.BatchSize
	}
	if cfg.FlushDelay <= 0 {
		cfg.FlushDelay = DefaultConfig.FlushDelay
	}
	if cfg.Inactivity <= 0 {
		cfg.Inactivity = DefaultConfig.Inactivity
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = DefaultConfig.PopTimeout
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		rdb:     rdb,
		archive: archive,
		cfg:     cfg,
		log:     log.WithField("queue", cfg.Queue),
		now:     time.Now,
		batch:   make([]models.DraftAction, 0, cfg.BatchSize),
	}
}

// Run starts the flush and inactivity loops and reads the queue until ctx is done. Whatever is
// still batched is flushed on the way out.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("historian started")
	defer s.log.Info("historian shutting down")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.flushLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.inactivityLoop(ctx)
	}()

	s.readLoop(ctx)
	wg.Wait()

	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Flush(shutdown)
	return ctx.Err()
}

// readLoop continuously uses BLPop to retrieve messages from the Redis queue.
func (s *Service) readLoop(ctx context.Context) {
	for ctx.Err() == nil {
		res, err := s.rdb.BLPop(ctx, s.cfg.PopTimeout, s.cfg.Queue).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				s.log.WithError(err).Error("BLPop failed")
				// back off briefly so a dead connection does not spin
				select {
				case <-ctx.Done():
				case <-time.After(s.cfg.FlushDelay):
				}
			}
			continue
		}
		// res[0] is the queue name and res[1] the payload.
		if len(res) < 2 {
			continue
		}
		s.ingest(ctx, res[1])
	}
}

func (s *Service) ingest(ctx context.Context, payload string) {
	var rec models.DraftAction
	if err := json.Unmarshal([]byte(payload), &rec); err != nil || rec.RoomID == "" {
		s.log.WithError(err).Warn("invalid action record")
		return
	}
	if rec.Status == "completed" {
		s.lastActivity.Delete(rec.RoomID)
	} else {
		s.lastActivity.Store(rec.RoomID, s.now())
	}
	s.appendToBatch(ctx, rec)
}

// appendToBatch adds a record to the in-memory batch and flushes if the threshold is reached.
func (s *Service) appendToBatch(ctx context.Context, rec models.DraftAction) {
	s.batchMu.Lock()
	s.batch = append(s.batch, rec)
	full := len(s.batch) >= s.cfg.BatchSize
	s.batchMu.Unlock()

	if full {
		s.Flush(ctx)
	}
}

func (s *Service) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.FlushDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}

// Flush writes the current batch in one archive call. A failed batch is put back at the front so
// the next flush retries it.
func (s *Service) Flush(ctx context.Context) int {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	if len(s.batch) == 0 {
		return 0
	}
	batch := make([]models.DraftAction, len(s.batch))
	copy(batch, s.batch)

	if err := s.archive.Write(ctx, batch); err != nil {
		s.log.WithError(err).WithField("size", len(batch)).Error("flush failed")
		return 0
	}
	s.batch = s.batch[:0]
	s.log.WithField("size", len(batch)).Debug("flushed actions")
	return len(batch)
}

// Pending returns how many records are waiting for the next flush.
func (s *Service) Pending() int {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	return len(s.batch)
}

// inactivityLoop periodically marks rooms abandoned once they exceed the inactivity threshold.
func (s *Service) inactivityLoop(ctx context.Context) {
	interval := time.Minute
	if s.cfg.Inactivity < interval {
		interval = s.cfg.Inactivity
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepInactive(ctx)
		}
	}
}

// sweepInactive returns how many rooms it marked abandoned.
func (s *Service) sweepInactive(ctx context.Context) int {
	now := s.now()
	var marked int
	s.lastActivity.Range(func(key, val interface{}) bool {
		roomID, ok1 := key.(string)
		last, ok2 := val.(time.Time)
		if !ok1 || !ok2 || now.Sub(last) <= s.cfg.Inactivity {
			return true
		}
		// the room's actions must be archived before its row can be marked
		s.Flush(ctx)
		if err := s.archive.MarkAbandoned(ctx, roomID); err != nil {
			s.log.WithError(err).WithField("room", roomID).Warn("failed to mark room abandoned")
			return true
		}
		s.lastActivity.Delete(roomID)
		s.log.WithField("room", roomID).Info("marked room abandoned due to inactivity")
		marked++
		return true
	})
	return marked
}
