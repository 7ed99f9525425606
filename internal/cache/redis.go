// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/pickup/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultQueueName is the Redis list the journal appends accepted decks to.
const DefaultQueueName = "pickup_decks"

// DeckRecord is one accepted deck as observed by a client session.
type DeckRecord struct {
	ID         uuid.UUID     `json:"id"`
	SessionID  uuid.UUID     `json:"session_id"`
	Dealer     string        `json:"dealer"`
	Sequence   int           `json:"sequence"`
	Cards      []models.Card `json:"cards"`
	ReceivedAt int64         `json:"received_at"` // epoch millis
}

// NewDeckRecord snapshots d for the journal.
func NewDeckRecord(sessionID uuid.UUID, dealer string, seq int, d models.Deck, at time.Time) DeckRecord {
	id, _ := uuid.NewRandom()
	return DeckRecord{
		ID:         id,
		SessionID:  sessionID,
		Dealer:     dealer,
		Sequence:   seq,
		Cards:      d.Cards(),
		ReceivedAt: at.UnixMilli(),
	}
}

// Deck rebuilds the deck the record was taken from.
func (r DeckRecord) Deck() models.Deck {
	return models.NewDeck(r.Cards)
}

// ConnectRedis opens a client and pings it.
func ConnectRedis(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// Journal is a Redis list of DeckRecords, written by players and drained by the historian.
type Journal struct {
	rdb   *redis.Client
	queue string
}

// NewJournal uses queue as the list key, DefaultQueueName if empty.
func NewJournal(rdb *redis.Client, queue string) *Journal {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &Journal{rdb: rdb, queue: queue}
}

// Queue returns the list key.
func (j *Journal) Queue() string {
	return j.queue
}

// Publish serializes the record to JSON, then pushes it to the tail of the list.
func (j *Journal) Publish(ctx context.Context, rec DeckRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal DeckRecord: %w", err)
	}
	if err := j.rdb.RPush(ctx, j.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", j.queue, err)
	}
	return nil
}

// Pop blocks up to timeout for the next record. ok is false when nothing
// arrived in time.
func (j *Journal) Pop(ctx context.Context, timeout time.Duration) (rec DeckRecord, ok bool, err error) {
	res, err := j.rdb.BLPop(ctx, timeout, j.queue).Result()
	if errors.Is(err, redis.Nil) {
		return DeckRecord{}, false, nil
	}
	if err != nil {
		return DeckRecord{}, false, fmt.Errorf("BLPop %s: %w", j.queue, err)
	}
	// res[0] is the queue name and res[1] the payload.
	if len(res) < 2 {
		return DeckRecord{}, false, nil
	}
	if err := json.Unmarshal([]byte(res[1]), &rec); err != nil {
		return DeckRecord{}, false, fmt.Errorf("invalid deck record: %w", err)
	}
	return rec, true, nil
}

// Len reports how many records are waiting.
func (j *Journal) Len(ctx context.Context) (int64, error) {
	return j.rdb.LLen(ctx, j.queue).Result()
}

// Publisher is the part of Journal a Recorder needs.
type Publisher interface {
	Publish(ctx context.Context, rec DeckRecord) error
}

// Recorder numbers the decks of one session and publishes them. Record has
// the signature of a session's OnDeckUpdated hook.
type Recorder struct {
	pub       Publisher
	sessionID uuid.UUID
	dealer    string
	timeout   time.Duration
	log       logrus.FieldLogger
	seq       atomic.Int64
}

// NewRecorder returns a Recorder for one session.
func NewRecorder(pub Publisher, sessionID uuid.UUID, dealer string, log logrus.FieldLogger) *Recorder {
	return &Recorder{
		pub:       pub,
		sessionID: sessionID,
		dealer:    dealer,
		timeout:   2 * time.Second,
		log:       log,
	}
}

// Record publishes d. Failures are logged; the journal is best effort.
func (r *Recorder) Record(d models.Deck) {
	seq := int(r.seq.Add(1))
	rec := NewDeckRecord(r.sessionID, r.dealer, seq, d, time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.pub.Publish(ctx, rec); err != nil {
		r.log.WithError(err).Warnf("Unable to journal deck %d", seq)
	}
}
