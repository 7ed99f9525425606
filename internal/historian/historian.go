// Package historian drains the deck journal and archives each record in the database, in batches.
package historian

import (
	"context"
	"errors"
	"time"

	"github.com/jason-s-yu/pickup/internal/cache"
	"github.com/sirupsen/logrus"
)

// Source yields journal records. *cache.Journal satisfies it.
type Source interface {
	Pop(ctx context.Context, timeout time.Duration) (cache.DeckRecord, bool, error)
}

// Store persists a batch atomically. *database.SnapshotStore satisfies it.
type Store interface {
	SaveSnapshots(ctx context.Context, recs []cache.DeckRecord) error
}

// maxPendingBatches bounds how much we hold while the store is failing.
const maxPendingBatches = 10

// Service moves records from a Source to a Store.
type Service struct {
	source     Source
	store      Store
	batchSize  int
	flushDelay time.Duration
	popTimeout time.Duration
	log        *logrus.Logger

	batch []cache.DeckRecord
}

// NewService builds a historian. batchSize below 1 is treated as 1 and a
// non-positive flushDelay as 500ms.
func NewService(source Source, store Store, batchSize int, flushDelay time.Duration, logger *logrus.Logger) *Service {
	if batchSize < 1 {
		batchSize = 1
	}
	if flushDelay <= 0 {
		flushDelay = 500 * time.Millisecond
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	popTimeout := 3 * time.Second
	if flushDelay < popTimeout {
		popTimeout = flushDelay
	}
	return &Service{
		source:     source,
		store:      store,
		batchSize:  batchSize,
		flushDelay: flushDelay,
		popTimeout: popTimeout,
		log:        logger,
		batch:      make([]cache.DeckRecord, 0, batchSize),
	}
}

// Run pops records until ctx is cancelled, flushing whenever the batch is
// full or flushDelay has passed. Whatever is pending is flushed on the way out.
func (hs *Service) Run(ctx context.Context) error {
	hs.log.Info("historian started")
	ticker := time.NewTicker(hs.flushDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// ctx is done; give the last flush its own deadline.
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			hs.flush(flushCtx)
			cancel()
			hs.log.Info("historian shutting down")
			return nil

		case <-ticker.C:
			hs.flush(ctx)

		default:
			// Pop blocks at most popTimeout so cancellation and the ticker are noticed.
			rec, ok, err := hs.source.Pop(ctx, hs.popTimeout)
			if err != nil {
				if errors.Is(err, context.Canceled) || ctx.Err() != nil {
					continue
				}
				hs.log.WithError(err).Error("reading deck journal")
				continue
			}
			if !ok {
				continue
			}
			hs.append(ctx, rec)
		}
	}
}

// append adds a record to the batch and flushes if the threshold is reached.
func (hs *Service) append(ctx context.Context, rec cache.DeckRecord) {
	hs.batch = append(hs.batch, rec)
	if len(hs.batch) >= hs.batchSize {
		hs.flush(ctx)
	}
}

// flush hands the pending batch to the store. On failure the records are
// kept for the next attempt, oldest dropped past maxPendingBatches.
func (hs *Service) flush(ctx context.Context) {
	if len(hs.batch) == 0 {
		return
	}
	pending := make([]cache.DeckRecord, len(hs.batch))
	copy(pending, hs.batch)

	if err := hs.store.SaveSnapshots(ctx, pending); err != nil {
		hs.log.WithError(err).Errorf("flushing %d deck records", len(pending))
		if limit := hs.batchSize * maxPendingBatches; len(hs.batch) > limit {
			dropped := len(hs.batch) - limit
			hs.batch = append(hs.batch[:0], hs.batch[dropped:]...)
			hs.log.Warnf("dropped %d deck records while the store is unavailable", dropped)
		}
		return
	}
	hs.batch = hs.batch[:0]
	hs.log.Debugf("flushed %d deck records", len(pending))
}

// Pending reports how many records are waiting to be flushed. Not safe while Run is active.
func (hs *Service) Pending() int {
	return len(hs.batch)
}
