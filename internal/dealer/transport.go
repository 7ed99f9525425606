// internal/dealer/transport.go
package dealer

import (
	"context"
	"fmt"
	"net"
	"net/url"

	"github.com/coder/websocket"
)

// Dialer opens the byte stream to the dealer. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// WebSocketSubprotocol is the subprotocol offered by WebSocketDialer.
const WebSocketSubprotocol = "dealer"

// WebSocketDialer reaches a dealer exposed behind a WebSocket endpoint. Each
// text message is treated as a chunk of the same newline-delimited stream a
// TCP dealer would send, so the session does not care which one it talks to.
type WebSocketDialer struct {
	// Path is the endpoint path, e.g. "/dealer".
	Path string
	// Secure selects wss:// over ws://.
	Secure bool
}

// DialContext ignores network and dials ws://addr/Path.
func (d WebSocketDialer) DialContext(ctx context.Context, _ string, addr string) (net.Conn, error) {
	scheme := "ws"
	if d.Secure {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: addr, Path: d.Path}

	c, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{WebSocketSubprotocol},
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", u.String(), err)
	}
	if c.Subprotocol() != WebSocketSubprotocol {
		c.Close(websocket.StatusPolicyViolation, "dealer subprotocol required")
		return nil, fmt.Errorf("websocket dial %s: server did not accept subprotocol %q", u.String(), WebSocketSubprotocol)
	}
	// The conn outlives ctx, which only bounds the handshake.
	return websocket.NetConn(context.Background(), c, websocket.MessageText), nil
}

// TransportName is a short label for logging.
func TransportName(d Dialer) string {
	switch d.(type) {
	case WebSocketDialer, *WebSocketDialer:
		return "ws"
	}
	return "tcp"
}
