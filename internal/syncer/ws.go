package syncer

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/replica/internal/protocol"
)

// closeWait bounds the close handshake write.
const closeWait = time.Second

// WSConn carries protocol messages as websocket text frames, one JSON
// message per frame.
type WSConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// DialWS opens a websocket to url, authenticating with a bearer token when
// token is non-empty.
func DialWS(ctx context.Context, url, token string) (*WSConn, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w", url, &TransportError{StatusCode: resp.StatusCode})
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewWSConn(conn), nil
}

// NewWSConn wraps an established websocket.
func NewWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn}
}

// Send writes m as one text frame. Concurrent calls are serialized.
func (c *WSConn) Send(ctx context.Context, m protocol.Message) error {
	data, err := protocol.EncodeMessage(m)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", m.MessageType(), err)
	}
	return nil
}

// Receive blocks for the next frame and decodes it. Cancelling ctx
// interrupts the read and leaves the connection unusable. Frames with an
// unknown type return an error wrapping protocol.ErrUnknownMessage and the
// connection stays usable.
func (c *WSConn) Receive(ctx context.Context) (protocol.Message, error) {
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read: %w", err)
	}
	return protocol.DecodeMessage(data)
}

// Close sends a close frame and closes the underlying connection.
func (c *WSConn) Close() error {
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
	c.writeMu.Unlock()
	return c.conn.Close()
}
