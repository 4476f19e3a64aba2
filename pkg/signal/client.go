package signal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrNoSharer is returned when a room has nobody to answer offers
	ErrNoSharer = errors.New("no sharer in room")
	// ErrPasswordRequired is returned when joining a protected room without a password
	ErrPasswordRequired = errors.New("room requires a password")
	// ErrPasswordInvalid is returned when the room password does not match
	ErrPasswordInvalid = errors.New("invalid room password")
	// ErrUnexpectedMessage is returned for replies that make no sense at that point
	ErrUnexpectedMessage = errors.New("unexpected signaling message")
)

const handshakeTimeout = 5 * time.Second

// RemoteError carries an error reported by the relay or the sharer
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "signal server: " + e.Message
}

// remoteError maps relay error texts onto sentinels where one exists
func remoteError(text string) error {
	switch text {
	case errTextNoSharer, errTextSharerDisconnected:
		return fmt.Errorf("%w: %s", ErrNoSharer, text)
	}
	return &RemoteError{Message: text}
}

// dial opens a signaling connection for room on the server at baseURL
func dial(ctx context.Context, baseURL, room string) (*websocket.Conn, error) {
	wsURL, err := WebSocketURL(baseURL, room)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to signal server: %w", err)
	}
	return conn, nil
}

// join sends a join request and waits for the relay to accept it
func join(conn *websocket.Conn, role, password string) (SignalMessage, error) {
	if err := conn.WriteJSON(SignalMessage{Type: TypeJoin, Role: role, Password: password}); err != nil {
		return SignalMessage{}, fmt.Errorf("failed to send join: %w", err)
	}

	var resp SignalMessage
	if err := conn.ReadJSON(&resp); err != nil {
		return SignalMessage{}, fmt.Errorf("failed to read join response: %w", err)
	}

	switch resp.Type {
	case TypeJoined:
		return resp, nil
	case TypePasswordRequired:
		return resp, ErrPasswordRequired
	case TypePasswordInvalid:
		return resp, ErrPasswordInvalid
	case TypeError:
		return resp, remoteError(resp.Error)
	default:
		return resp, fmt.Errorf("%w: %q while joining", ErrUnexpectedMessage, resp.Type)
	}
}

// closeOnDone closes conn if ctx ends before the returned stop is called,
// which unblocks any pending read
func closeOnDone(ctx context.Context, conn *websocket.Conn) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}
