// internal/dealer/session.go
package dealer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/pickup/internal/codec"
	"github.com/jason-s-yu/pickup/internal/logging"
	"github.com/jason-s-yu/pickup/internal/models"
	"github.com/sirupsen/logrus"
)

// MaxLineBytes bounds a single inbound line. A longer line breaks framing and
// ends the session.
const MaxLineBytes = 1 << 20

// disconnectTimeout bounds Disconnect when WriteTimeout is 0, so a dealer that
// stopped reading cannot keep the session from closing.
const disconnectTimeout = 2 * time.Second

// Addr joins a dealer host and port into a dial address.
func Addr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Session is one connection to the dealer. It mirrors the dealer's deck and
// sends commands on behalf of the user. A Session is used for a single
// connection; once it has been connected and closed, make a new one.
type Session struct {
	// OnDeckUpdated is called from the read goroutine for every accepted deck,
	// in the order the dealer sent them. Keep it short or hand off to a channel.
	// No deck is accepted once Disconnect has started, but a call already in
	// progress may return after Disconnect does.
	OnDeckUpdated func(deck models.Deck)

	// OnConnectionLost is called once if the session ends for any reason other
	// than Disconnect. err wraps ErrConnectionLost.
	OnConnectionLost func(err error)

	// Dialer opens the stream. Defaults to a plain TCP dialer.
	Dialer Dialer

	// ConnectTimeout bounds Connect in addition to the caller's context (0 => none).
	ConnectTimeout time.Duration
	// ReadTimeout is the longest the dealer may stay silent before the session
	// is considered lost (0 => none).
	ReadTimeout time.Duration
	// WriteTimeout bounds a single command write (0 => none).
	WriteTimeout time.Duration

	id   uuid.UUID
	addr string
	log  *logrus.Entry

	// mu guards state, conn and the current deck.
	mu      sync.Mutex
	state   State
	used    bool
	conn    net.Conn
	current models.Deck
	hasDeck bool

	// writeMu serializes writes on conn.
	writeMu sync.Mutex

	done chan struct{}
}

// NewSession prepares a session for the dealer at addr. Set the callbacks and
// options before calling Connect. A nil logger uses the logrus standard logger.
func NewSession(addr string, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	id, _ := uuid.NewRandom()
	return &Session{
		id:    id,
		addr:  addr,
		state: Disconnected,
		done:  make(chan struct{}),
		log: logger.WithFields(logrus.Fields{
			"session": id,
			"dealer":  addr,
		}),
	}
}

// ID identifies the session in logs and journal records.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Addr returns the dealer address this session dials.
func (s *Session) Addr() string {
	return s.addr
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CurrentDeck returns the latest accepted deck, or false if none has arrived yet.
func (s *Session) CurrentDeck() (models.Deck, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.hasDeck
}

// Done is closed once the read loop of a connected session has exited.
// It is never closed for a session that did not connect.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Connect dials the dealer and starts the read loop. On failure the session
// stays Disconnected and the error wraps ErrConnection.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.used {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state != Disconnected {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("connect: session is %s", st)
	}
	s.state = Connecting
	dialer := s.Dialer
	s.mu.Unlock()

	if dialer == nil {
		dialer = &net.Dialer{}
	}
	if s.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.ConnectTimeout)
		defer cancel()
	}

	s.log.Debug("Connecting to dealer")
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		s.mu.Lock()
		s.state = Disconnected
		s.mu.Unlock()
		s.log.WithError(err).Error("Unable to connect to dealer")
		return fmt.Errorf("%w: %s: %v", ErrConnection, s.addr, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.state = Connected
	s.used = true
	s.mu.Unlock()

	logging.LogDealerConnect(s.log, TransportName(dialer))
	go s.readLoop(conn)
	return nil
}

// RequestShuffle asks the dealer to reshuffle. It does not wait for the new
// deck, which arrives through OnDeckUpdated like any other update.
func (s *Session) RequestShuffle() error {
	return s.send(CommandShuffle)
}

// Disconnect tells the dealer the client is leaving and closes the
// connection. OnConnectionLost is not called. The session ends Disconnected
// even when the DISCONNECT write fails; that failure is returned wrapped in ErrSend.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.state != Connected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.state = Disconnecting
	conn := s.conn
	s.mu.Unlock()

	limit := s.WriteTimeout
	if limit <= 0 {
		limit = disconnectTimeout
	}
	// A RequestShuffle stuck on a peer that stopped reading holds writeMu.
	// Closing conn after limit fails that write and releases the lock.
	watchdog := time.AfterFunc(limit, func() { conn.Close() })
	s.writeMu.Lock()
	werr := s.writeLocked(conn, CommandDisconnect, limit)
	s.writeMu.Unlock()
	watchdog.Stop()
	cerr := conn.Close()

	s.mu.Lock()
	s.state = Disconnected
	s.conn = nil
	s.mu.Unlock()

	if cerr != nil {
		s.log.WithError(cerr).Debug("Closing dealer connection")
	}
	logging.LogDealerDisconnect(s.log, true, nil)

	if werr != nil {
		s.log.WithError(werr).Warnf("Unable to send %s to dealer", CommandDisconnect)
		return fmt.Errorf("%w: %s: %v", ErrSend, CommandDisconnect, werr)
	}
	return nil
}

// send writes one command while Connected.
func (s *Session) send(cmd string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.state != Connected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	conn := s.conn
	s.mu.Unlock()

	if err := s.writeLocked(conn, cmd, s.WriteTimeout); err != nil {
		s.log.WithError(err).Warnf("Unable to send %s to dealer", cmd)
		return fmt.Errorf("%w: %s: %v", ErrSend, cmd, err)
	}
	s.log.Debugf("Sent %s to dealer", cmd)
	return nil
}

// writeLocked writes cmd as one line, bounded by timeout when it is positive.
// Caller holds writeMu.
func (s *Session) writeLocked(conn net.Conn, cmd string, timeout time.Duration) error {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := io.WriteString(conn, cmd+"\n")
	return err
}

// readLoop owns the inbound side of conn until it closes or fails.
func (s *Session) readLoop(conn net.Conn) {
	defer close(s.done)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), MaxLineBytes)

	for {
		if s.ReadTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(s.ReadTimeout)); err != nil {
				s.finish(conn, err)
				return
			}
		}
		if !scanner.Scan() {
			break
		}
		s.handleLine(scanner.Text())
	}
	s.finish(conn, scanner.Err())
}

// handleLine decodes one message and publishes it if it is a usable deck.
func (s *Session) handleLine(line string) {
	s.log.Debugf("Message from dealer: %s", line)

	deck, err := codec.Decode(line)
	if errors.Is(err, codec.ErrEmptyDeck) {
		s.log.Warn("Dealer sent an empty deck, keeping the current one")
		return
	}
	if err != nil {
		s.log.WithError(err).Warn("Dropping dealer message")
		return
	}

	s.mu.Lock()
	if s.state != Connected {
		s.mu.Unlock()
		return
	}
	s.current = deck
	s.hasDeck = true
	fn := s.OnDeckUpdated
	s.mu.Unlock()

	s.log.Debugf("Accepted deck of %d cards", deck.Len())
	if fn != nil {
		fn(deck)
	}
}

// finish runs once when the read loop stops. If Disconnect did not cause the
// stop, the session is torn down here and the consumer told.
func (s *Session) finish(conn net.Conn, err error) {
	s.mu.Lock()
	local := s.state != Connected
	if !local {
		s.state = Disconnected
		s.conn = nil
	}
	fn := s.OnConnectionLost
	s.mu.Unlock()

	if local {
		s.log.Debug("Read loop stopped after disconnect")
		return
	}

	// Close unblocks any writer stuck on a dead peer.
	conn.Close()

	if err == nil {
		err = io.EOF
	}
	logging.LogDealerDisconnect(s.log, false, err)
	if fn != nil {
		fn(fmt.Errorf("%w: %v", ErrConnectionLost, err))
	}
}
