// Package dealertest provides an in-process dealer for exercising clients
// over a real loopback connection, in the spirit of net/http/httptest.
package dealertest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/pickup/internal/codec"
	"github.com/jason-s-yu/pickup/internal/models"
)

// ErrNoClient is returned when the server has no connected client to talk to.
var ErrNoClient = errors.New("dealertest: no client connected")

// Server is a scripted dealer. It accepts clients one at a time (a new
// client replaces the previous one), records every command line it receives
// and lets the test push arbitrary lines.
type Server struct {
	addr string
	ln   net.Listener
	hs   *httptest.Server

	mu           sync.Mutex
	conn         net.Conn
	shuffleReply func() models.Deck
	closed       bool

	clients  chan struct{}
	commands chan string
}

func newServer() *Server {
	return &Server{
		clients:  make(chan struct{}, 16),
		commands: make(chan string, 1024),
	}
}

// NewServer starts a TCP dealer on a free loopback port.
func NewServer() (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("dealertest: listen: %w", err)
	}
	s := newServer()
	s.ln = ln
	s.addr = ln.Addr().String()
	go s.acceptLoop()
	return s, nil
}

// NewWebSocketServer starts a dealer that speaks the line protocol inside
// WebSocket text messages at path. Addr returns host:port without scheme.
func NewWebSocketServer(path, subprotocol string) *Server {
	s := newServer()
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols: []string{subprotocol},
		})
		if err != nil {
			return
		}
		if c.Subprotocol() != subprotocol {
			c.Close(websocket.StatusPolicyViolation, "unsupported subprotocol")
			return
		}
		// Serve on this goroutine; returning would tear the connection down.
		s.serve(websocket.NetConn(r.Context(), c, websocket.MessageText))
	})
	s.hs = httptest.NewServer(mux)
	s.addr = strings.TrimPrefix(s.hs.URL, "http://")
	return s
}

// Addr is the host:port clients should dial.
func (s *Server) Addr() string {
	return s.addr
}

// SetShuffleReply makes the server answer every SHUFFLE with the deck fn returns.
func (s *Server) SetShuffleReply(fn func() models.Deck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shuffleReply = fn
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.serve(conn)
	}
}

// serve records commands from conn until it closes.
func (s *Server) serve(conn net.Conn) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = conn
	s.mu.Unlock()

	select {
	case s.clients <- struct{}{}:
	default:
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		select {
		case s.commands <- line:
		default:
		}

		if line != "SHUFFLE" {
			continue
		}
		s.mu.Lock()
		fn := s.shuffleReply
		s.mu.Unlock()
		if fn != nil {
			if err := s.writeTo(conn, fn()); err != nil {
				break
			}
		}
	}

	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) writeTo(conn net.Conn, d models.Deck) error {
	line, err := codec.Encode(d)
	if err != nil {
		return err
	}
	_, err = io.WriteString(conn, line+"\n")
	return err
}

// WaitClient blocks until a client connects or timeout elapses.
func (s *Server) WaitClient(timeout time.Duration) error {
	select {
	case <-s.clients:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("dealertest: no client within %s", timeout)
	}
}

// Send writes one raw line (newline appended) to the connected client.
func (s *Server) Send(line string) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNoClient
	}
	_, err := io.WriteString(conn, line+"\n")
	return err
}

// SendDeck encodes d and sends it to the connected client.
func (s *Server) SendDeck(d models.Deck) error {
	line, err := codec.Encode(d)
	if err != nil {
		return err
	}
	return s.Send(line)
}

// Commands exposes every line received from clients, in order.
func (s *Server) Commands() <-chan string {
	return s.commands
}

// NextCommand waits for the next received line.
func (s *Server) NextCommand(timeout time.Duration) (string, error) {
	select {
	case cmd := <-s.commands:
		return cmd, nil
	case <-time.After(timeout):
		return "", fmt.Errorf("dealertest: no command within %s", timeout)
	}
}

// DropClient closes the current client connection from the dealer side.
func (s *Server) DropClient() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return ErrNoClient
	}
	return conn.Close()
}

// Close stops accepting and drops any client.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if s.hs != nil {
		s.hs.CloseClientConnections()
		s.hs.Close()
		return nil
	}
	return s.ln.Close()
}
