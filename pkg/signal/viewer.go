package signal

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
)

// Viewer is a joined viewer connection to a relay room
type Viewer struct {
	conn   *websocket.Conn
	room   string
	peerID string
}

// DialViewer connects to the relay at baseURL and joins room as a viewer
func DialViewer(ctx context.Context, baseURL, room, password string) (*Viewer, error) {
	conn, err := dial(ctx, baseURL, room)
	if err != nil {
		return nil, err
	}

	stop := closeOnDone(ctx, conn)
	resp, err := join(conn, RoleViewer, password)
	stop()
	if err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	return &Viewer{
		conn:   conn,
		room:   NormalizeRoomCode(room),
		peerID: resp.PeerID,
	}, nil
}

// PeerID returns the identifier the relay assigned on join
func (v *Viewer) PeerID() string {
	return v.peerID
}

// Exchange sends offerSDP to the sharer and waits for its answer. Relay
// notifications unrelated to the exchange are skipped.
func (v *Viewer) Exchange(ctx context.Context, offerSDP string) (string, error) {
	stop := closeOnDone(ctx, v.conn)
	defer stop()

	if err := v.conn.WriteJSON(SignalMessage{Type: TypeOffer, Room: v.room, SDP: offerSDP}); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("failed to send offer: %w", err)
	}

	for {
		var msg SignalMessage
		if err := v.conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("failed to read answer: %w", err)
		}

		switch msg.Type {
		case TypeAnswer:
			if msg.SDP == "" {
				return "", fmt.Errorf("%w: answer without SDP", ErrUnexpectedMessage)
			}
			return msg.SDP, nil
		case TypeError:
			return "", remoteError(msg.Error)
		case TypePasswordRequired:
			return "", ErrPasswordRequired
		case TypePasswordInvalid:
			return "", ErrPasswordInvalid
		}
	}
}

// Close disconnects from the relay
func (v *Viewer) Close() error {
	return v.conn.Close()
}

// NewOfferExchanger returns a signaling function that dials the relay for
// every negotiation, trades the offer for the sharer's answer and hangs up.
// Its signature matches what a session expects for reaching the remote side.
func NewOfferExchanger(baseURL, room, password string) func(ctx context.Context, offerSDP string) (string, error) {
	return func(ctx context.Context, offerSDP string) (string, error) {
		viewer, err := DialViewer(ctx, baseURL, room, password)
		if err != nil {
			return "", err
		}
		defer viewer.Close()

		return viewer.Exchange(ctx, offerSDP)
	}
}
