package dealer

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/jason-s-yu/pickup/internal/codec"
	"github.com/jason-s-yu/pickup/internal/dealer/dealertest"
	"github.com/jason-s-yu/pickup/internal/logging"
	"github.com/jason-s-yu/pickup/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

// mockConsumer records every callback instead of rendering anything.
type mockConsumer struct {
	mu    sync.Mutex
	decks []models.Deck
	lost  []error
}

func (mc *mockConsumer) onDeckUpdated(d models.Deck) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.decks = append(mc.decks, d)
}

func (mc *mockConsumer) onConnectionLost(err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.lost = append(mc.lost, err)
}

func (mc *mockConsumer) deckCount() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.decks)
}

func (mc *mockConsumer) getDecks() []models.Deck {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return append([]models.Deck(nil), mc.decks...)
}

func (mc *mockConsumer) getLost() []error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return append([]error(nil), mc.lost...)
}

func deckOf(cards ...models.Card) models.Deck {
	return models.NewDeck(cards)
}

// setupSession starts a fake dealer and a connected session wired to a mock consumer.
func setupSession(t *testing.T) (*Session, *dealertest.Server, *mockConsumer) {
	t.Helper()
	srv, err := dealertest.NewServer()
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	mc := &mockConsumer{}
	s := NewSession(srv.Addr(), logging.New("debug"))
	s.OnDeckUpdated = mc.onDeckUpdated
	s.OnConnectionLost = mc.onConnectionLost
	s.WriteTimeout = time.Second

	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, srv.WaitClient(waitFor))
	require.Equal(t, Connected, s.State())
	t.Cleanup(func() { s.Disconnect() })
	return s, srv, mc
}

func TestConnectFailure(t *testing.T) {
	// Grab a free port and release it so nothing is listening there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	s := NewSession(addr, logging.New("error"))
	err = s.Connect(context.Background())
	require.ErrorIs(t, err, ErrConnection)
	assert.Equal(t, Disconnected, s.State())

	assert.ErrorIs(t, s.RequestShuffle(), ErrNotConnected)
	assert.ErrorIs(t, s.Disconnect(), ErrNotConnected)
}

func TestConnectHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewSession("127.0.0.1:1", logging.New("error"))
	err := s.Connect(ctx)
	require.ErrorIs(t, err, ErrConnection)
	assert.Equal(t, Disconnected, s.State())
}

// TestDeckUpdatesSkipBadLines feeds valid, malformed, valid, empty, valid and expects only the three valid decks.
func TestDeckUpdatesSkipBadLines(t *testing.T) {
	s, srv, mc := setupSession(t)

	valid1 := deckOf(models.Card{Suit: models.Heart, Rank: 1})
	valid2 := deckOf(models.Card{Suit: models.Spade, Rank: 13}, models.Card{Suit: models.Club, Rank: 7})
	valid3 := deckOf(models.Card{Suit: models.Diamond, Rank: 2}, models.Card{Suit: models.Heart, Rank: 3}, models.Card{Suit: models.Club, Rank: 4})

	require.NoError(t, srv.SendDeck(valid1))
	require.NoError(t, srv.Send(`{"count":2,"cards":[{"suit":"Heart"`))
	require.NoError(t, srv.SendDeck(valid2))
	require.NoError(t, srv.Send(`{"count":0,"cards":[]}`))
	require.NoError(t, srv.SendDeck(valid3))

	require.Eventually(t, func() bool { return mc.deckCount() == 3 }, waitFor, 10*time.Millisecond)
	// Nothing else should trickle in.
	time.Sleep(50 * time.Millisecond)

	decks := mc.getDecks()
	require.Len(t, decks, 3)
	assert.Equal(t, valid1.Cards(), decks[0].Cards())
	assert.Equal(t, valid2.Cards(), decks[1].Cards())
	assert.Equal(t, valid3.Cards(), decks[2].Cards())

	current, ok := s.CurrentDeck()
	require.True(t, ok)
	assert.Equal(t, valid3.Cards(), current.Cards())
	assert.Empty(t, mc.getLost())
	assert.Equal(t, Connected, s.State())
}

// TestEmptyDeckKeepsCurrent checks an empty update leaves the previous deck in place.
func TestEmptyDeckKeepsCurrent(t *testing.T) {
	s, srv, mc := setupSession(t)

	_, ok := s.CurrentDeck()
	assert.False(t, ok)

	first := deckOf(models.Card{Suit: models.Club, Rank: 10})
	require.NoError(t, srv.SendDeck(first))
	require.Eventually(t, func() bool { return mc.deckCount() == 1 }, waitFor, 10*time.Millisecond)

	require.NoError(t, srv.Send(`{"count":0,"cards":[]}`))
	require.NoError(t, srv.Send(`not a deck`))
	// A valid marker line proves the two before it were processed.
	marker := deckOf(models.Card{Suit: models.Heart, Rank: 11})
	require.NoError(t, srv.SendDeck(marker))
	require.Eventually(t, func() bool { return mc.deckCount() == 2 }, waitFor, 10*time.Millisecond)

	decks := mc.getDecks()
	assert.Equal(t, first.Cards(), decks[0].Cards())
	assert.Equal(t, marker.Cards(), decks[1].Cards())
}

func TestRequestShuffleIsDecoupled(t *testing.T) {
	s, srv, mc := setupSession(t)

	require.NoError(t, s.RequestShuffle())
	cmd, err := srv.NextCommand(waitFor)
	require.NoError(t, err)
	assert.Equal(t, CommandShuffle, cmd)

	// The request alone never yields a deck.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, mc.deckCount())

	reply := deckOf(models.Card{Suit: models.Spade, Rank: 1}, models.Card{Suit: models.Heart, Rank: 5})
	require.NoError(t, srv.SendDeck(reply))
	require.Eventually(t, func() bool { return mc.deckCount() == 1 }, waitFor, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, mc.deckCount())
	assert.Equal(t, reply.Cards(), mc.getDecks()[0].Cards())
}

func TestShuffleReplyFromDealer(t *testing.T) {
	s, srv, mc := setupSession(t)
	reply := deckOf(models.Card{Suit: models.Diamond, Rank: 9})
	srv.SetShuffleReply(func() models.Deck { return reply })

	require.NoError(t, s.RequestShuffle())
	require.Eventually(t, func() bool { return mc.deckCount() == 1 }, waitFor, 10*time.Millisecond)
	assert.Equal(t, reply.Cards(), mc.getDecks()[0].Cards())
}

// TestConcurrentShufflesDoNotInterleave fires many requests at once and expects whole lines only.
func TestConcurrentShufflesDoNotInterleave(t *testing.T) {
	s, srv, _ := setupSession(t)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.RequestShuffle())
		}()
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		cmd, err := srv.NextCommand(waitFor)
		require.NoError(t, err)
		require.Equal(t, CommandShuffle, cmd)
	}
}

func TestDisconnect(t *testing.T) {
	s, srv, mc := setupSession(t)

	require.NoError(t, s.Disconnect())
	assert.Equal(t, Disconnected, s.State())

	cmd, err := srv.NextCommand(waitFor)
	require.NoError(t, err)
	assert.Equal(t, CommandDisconnect, cmd)

	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("read loop did not stop after Disconnect")
	}

	// No second DISCONNECT, no loss notification.
	_, err = srv.NextCommand(100 * time.Millisecond)
	assert.Error(t, err)
	assert.Empty(t, mc.getLost())

	assert.ErrorIs(t, s.Disconnect(), ErrNotConnected)
	assert.ErrorIs(t, s.RequestShuffle(), ErrNotConnected)
	assert.ErrorIs(t, s.Connect(context.Background()), ErrSessionClosed)
}

// pipeDialer connects the session to one end of an in-memory pipe and hands
// the other end to the test. Nothing reads the peer unless the test does.
type pipeDialer struct {
	peers chan net.Conn
	wrap  func(net.Conn) net.Conn
}

func (pd *pipeDialer) DialContext(_ context.Context, _, _ string) (net.Conn, error) {
	client, peer := net.Pipe()
	pd.peers <- peer
	if pd.wrap != nil {
		return pd.wrap(client), nil
	}
	return client, nil
}

// failingConn reads normally but every write fails.
type failingConn struct {
	net.Conn
}

func (fc failingConn) Write([]byte) (int, error) {
	return 0, errors.New("broken pipe")
}

// setupPipeSession connects a session over a pipe. WriteTimeout is left at 0.
func setupPipeSession(t *testing.T, wrap func(net.Conn) net.Conn) (*Session, net.Conn, *mockConsumer) {
	t.Helper()
	pd := &pipeDialer{peers: make(chan net.Conn, 1), wrap: wrap}

	mc := &mockConsumer{}
	s := NewSession("dealer.test:60451", logging.New("error"))
	s.Dialer = pd
	s.OnDeckUpdated = mc.onDeckUpdated
	s.OnConnectionLost = mc.onConnectionLost

	require.NoError(t, s.Connect(context.Background()))
	peer := <-pd.peers
	t.Cleanup(func() {
		s.Disconnect()
		peer.Close()
	})
	return s, peer, mc
}

func TestRequestShuffleSendError(t *testing.T) {
	s, peer, mc := setupPipeSession(t, func(c net.Conn) net.Conn { return failingConn{c} })

	err := s.RequestShuffle()
	require.ErrorIs(t, err, ErrSend)
	assert.Contains(t, err.Error(), CommandShuffle)
	assert.Equal(t, Connected, s.State())

	// Still reading after the failed send.
	line, err := codec.Encode(deckOf(models.Card{Suit: models.Heart, Rank: 5}))
	require.NoError(t, err)
	_, err = peer.Write([]byte(line + "\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return mc.deckCount() == 1 }, waitFor, 5*time.Millisecond)
	assert.Empty(t, mc.getLost())
}

func TestDisconnectSendError(t *testing.T) {
	s, _, mc := setupPipeSession(t, func(c net.Conn) net.Conn { return failingConn{c} })

	err := s.Disconnect()
	require.ErrorIs(t, err, ErrSend)
	assert.Contains(t, err.Error(), CommandDisconnect)
	assert.Equal(t, Disconnected, s.State())

	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("read loop did not stop after Disconnect")
	}
	assert.Empty(t, mc.getLost())
	assert.ErrorIs(t, s.Disconnect(), ErrNotConnected)
}

// TestDisconnectWithStuckWrite closes the session while a shuffle write is
// blocked on a dealer that never reads.
func TestDisconnectWithStuckWrite(t *testing.T) {
	s, _, mc := setupPipeSession(t, nil)

	shuffled := make(chan error, 1)
	go func() { shuffled <- s.RequestShuffle() }()
	// Let the shuffle take writeMu and block in Write.
	time.Sleep(50 * time.Millisecond)

	disconnected := make(chan error, 1)
	go func() { disconnected <- s.Disconnect() }()

	select {
	case err := <-disconnected:
		assert.ErrorIs(t, err, ErrSend)
	case <-time.After(disconnectTimeout + waitFor):
		t.Fatalf("Disconnect still blocked; state=%s", s.State())
	}
	assert.Equal(t, Disconnected, s.State())

	select {
	case err := <-shuffled:
		assert.ErrorIs(t, err, ErrSend)
	case <-time.After(waitFor):
		t.Fatal("shuffle write still blocked")
	}
	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("read loop did not stop after Disconnect")
	}
	assert.Empty(t, mc.getLost())
}

// TestNoDeckAcceptedAfterDisconnect holds the first deck in the callback while
// Disconnect runs; the deck queued behind it must be dropped.
func TestNoDeckAcceptedAfterDisconnect(t *testing.T) {
	srv, err := dealertest.NewServer()
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	mc := &mockConsumer{}
	s := NewSession(srv.Addr(), logging.New("error"))
	s.OnDeckUpdated = func(d models.Deck) {
		entered <- struct{}{}
		<-release
		mc.onDeckUpdated(d)
	}
	s.OnConnectionLost = mc.onConnectionLost
	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, srv.WaitClient(waitFor))

	first := deckOf(models.Card{Suit: models.Club, Rank: 1})
	second := deckOf(models.Card{Suit: models.Spade, Rank: 2})
	require.NoError(t, srv.SendDeck(first))
	require.NoError(t, srv.SendDeck(second))

	select {
	case <-entered:
	case <-time.After(waitFor):
		t.Fatal("first deck never delivered")
	}
	require.NoError(t, s.Disconnect())
	close(release)

	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("read loop did not stop after Disconnect")
	}
	decks := mc.getDecks()
	require.Len(t, decks, 1)
	assert.Equal(t, first.Cards(), decks[0].Cards())
	cur, ok := s.CurrentDeck()
	require.True(t, ok)
	assert.Equal(t, first.Cards(), cur.Cards())
	assert.Empty(t, mc.getLost())
}

func TestRemoteCloseNotifiesOnce(t *testing.T) {
	s, srv, mc := setupSession(t)

	require.NoError(t, srv.DropClient())

	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("read loop did not stop after remote close")
	}
	assert.Equal(t, Disconnected, s.State())

	lost := mc.getLost()
	require.Len(t, lost, 1)
	assert.ErrorIs(t, lost[0], ErrConnectionLost)

	assert.ErrorIs(t, s.RequestShuffle(), ErrNotConnected)
	assert.ErrorIs(t, s.Disconnect(), ErrNotConnected)
	assert.ErrorIs(t, s.Connect(context.Background()), ErrSessionClosed)
	assert.Len(t, mc.getLost(), 1)
}

func TestReadTimeoutEndsSession(t *testing.T) {
	srv, err := dealertest.NewServer()
	require.NoError(t, err)
	defer srv.Close()

	mc := &mockConsumer{}
	s := NewSession(srv.Addr(), logging.New("error"))
	s.OnConnectionLost = mc.onConnectionLost
	s.ReadTimeout = 100 * time.Millisecond

	require.NoError(t, s.Connect(context.Background()))
	require.Eventually(t, func() bool { return len(mc.getLost()) == 1 }, waitFor, 10*time.Millisecond)

	lost := mc.getLost()[0]
	assert.ErrorIs(t, lost, ErrConnectionLost)
	assert.Contains(t, lost.Error(), "timeout")
	assert.Equal(t, Disconnected, s.State())
}

func TestOverlongLineIsFatal(t *testing.T) {
	s, srv, mc := setupSession(t)

	big := make([]byte, MaxLineBytes+1)
	for i := range big {
		big[i] = 'x'
	}
	go srv.Send(string(big))

	require.Eventually(t, func() bool { return len(mc.getLost()) == 1 }, waitFor, 10*time.Millisecond)
	assert.Equal(t, Disconnected, s.State())
}

func TestWebSocketTransport(t *testing.T) {
	srv := dealertest.NewWebSocketServer("/dealer", WebSocketSubprotocol)
	defer srv.Close()

	mc := &mockConsumer{}
	s := NewSession(srv.Addr(), logging.New("debug"))
	s.Dialer = WebSocketDialer{Path: "/dealer"}
	s.OnDeckUpdated = mc.onDeckUpdated
	s.OnConnectionLost = mc.onConnectionLost
	assert.Equal(t, "ws", TransportName(s.Dialer))

	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, srv.WaitClient(waitFor))

	line := `{"count":3,"cards":[{"suit":"Heart","value":1},{"suit":"Spade","value":13},{"suit":"Club","value":7}]}`
	want, err := codec.Decode(line)
	require.NoError(t, err)
	require.NoError(t, srv.Send(line))
	require.Eventually(t, func() bool { return mc.deckCount() == 1 }, waitFor, 10*time.Millisecond)
	assert.Equal(t, want.Cards(), mc.getDecks()[0].Cards())

	require.NoError(t, s.RequestShuffle())
	cmd, err := srv.NextCommand(waitFor)
	require.NoError(t, err)
	assert.Equal(t, CommandShuffle, cmd)

	require.NoError(t, s.Disconnect())
	cmd, err = srv.NextCommand(waitFor)
	require.NoError(t, err)
	assert.Equal(t, CommandDisconnect, cmd)
	assert.Empty(t, mc.getLost())
}

func TestWebSocketDialerRejectsMissingSubprotocol(t *testing.T) {
	srv := dealertest.NewWebSocketServer("/dealer", "other")
	defer srv.Close()

	s := NewSession(srv.Addr(), logging.New("error"))
	s.Dialer = WebSocketDialer{Path: "/dealer"}
	assert.ErrorIs(t, s.Connect(context.Background()), ErrConnection)
	assert.Equal(t, Disconnected, s.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "disconnecting", Disconnecting.String())
	assert.Equal(t, "127.0.0.1:60451", Addr("127.0.0.1", 60451))
	assert.Equal(t, "tcp", TransportName(&net.Dialer{}))
}
