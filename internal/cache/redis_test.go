package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/pickup/internal/logging"
	"github.com/jason-s-yu/pickup/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	mu   sync.Mutex
	recs []DeckRecord
	err  error
}

func (mp *mockPublisher) Publish(_ context.Context, rec DeckRecord) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.err != nil {
		return mp.err
	}
	mp.recs = append(mp.recs, rec)
	return nil
}

func sampleDeck() models.Deck {
	return models.NewDeck([]models.Card{
		{Suit: models.Heart, Rank: 1},
		{Suit: models.Spade, Rank: 13},
	})
}

func TestDeckRecordJSON(t *testing.T) {
	sid := uuid.New()
	at := time.UnixMilli(1700000000123)
	rec := NewDeckRecord(sid, "127.0.0.1:60451", 4, sampleDeck(), at)

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, sid.String(), raw["session_id"])
	assert.Equal(t, float64(4), raw["sequence"])
	assert.Equal(t, float64(1700000000123), raw["received_at"])
	assert.Len(t, raw["cards"], 2)

	var back DeckRecord
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, sampleDeck().Cards(), back.Deck().Cards())
	assert.NotEqual(t, uuid.Nil, back.ID)
}

func TestRecorderNumbersDecks(t *testing.T) {
	mp := &mockPublisher{}
	sid := uuid.New()
	r := NewRecorder(mp, sid, "dealer:1", logging.New("error"))

	r.Record(sampleDeck())
	r.Record(sampleDeck())

	require.Len(t, mp.recs, 2)
	assert.Equal(t, 1, mp.recs[0].Sequence)
	assert.Equal(t, 2, mp.recs[1].Sequence)
	assert.Equal(t, sid, mp.recs[1].SessionID)
	assert.Equal(t, "dealer:1", mp.recs[1].Dealer)
}

func TestRecorderSwallowsErrors(t *testing.T) {
	mp := &mockPublisher{err: errors.New("redis down")}
	r := NewRecorder(mp, uuid.New(), "dealer:1", logging.New("error"))
	assert.NotPanics(t, func() { r.Record(sampleDeck()) })
}

// TestJournalRoundTrip needs a real local Redis; it is skipped otherwise.
func TestJournalRoundTrip(t *testing.T) {
	ctx := context.Background()
	rdb, err := ConnectRedis(ctx, "localhost:6379", 0)
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	defer rdb.Close()

	j := NewJournal(rdb, "pickup_decks_test_"+uuid.NewString())
	defer rdb.Del(ctx, j.Queue())

	rec := NewDeckRecord(uuid.New(), "dealer:1", 1, sampleDeck(), time.Now())
	require.NoError(t, j.Publish(ctx, rec))

	n, err := j.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, ok, err := j.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Cards, got.Cards)

	_, ok, err = j.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}
