package signal

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// readPump reads messages from the WebSocket
func (c *Client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.shutdown()
		c.conn.Close()
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.WithFields(logrus.Fields{
					"function": "readPump",
					"error":    err,
				}).Warn("WebSocket error")
			}
			return
		}

		var msg SignalMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.log.WithFields(logrus.Fields{
				"function": "readPump",
				"error":    err,
			}).Debug("Invalid message format")
			continue
		}

		c.handleMessage(msg)
	}
}

// writePump sends queued messages to the WebSocket
func (c *Client) writePump() {
	defer c.conn.Close()

	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.WithFields(logrus.Fields{
					"function": "writePump",
					"error":    err,
				}).Debug("WebSocket write error")
				return
			}
		}
	}
}

func (c *Client) handleMessage(msg SignalMessage) {
	if msg.Type == TypeJoin {
		c.handleJoin(msg)
		return
	}
	if c.role == "" {
		c.queue(SignalMessage{Type: TypeError, Room: c.room, Error: errTextNotJoined})
		return
	}

	room := c.server.getOrCreateRoom(c.room)

	switch msg.Type {
	case TypeOffer:
		c.handleOffer(room, msg)
	case TypeAnswer, TypeError:
		c.forwardToViewer(room, msg)
	default:
		c.log.WithFields(logrus.Fields{
			"function": "handleMessage",
			"type":     msg.Type,
		}).Debug("Ignoring message")
	}
}

func (c *Client) handleJoin(msg SignalMessage) {
	switch msg.Role {
	case RoleSharer:
		var old *Client
		var viewers []string
		c.server.withRoom(c.room, func(room *Room) {
			old = room.sharer
			room.sharer = c
			room.password = msg.Password
			c.role = RoleSharer
			for peerID := range room.viewers {
				viewers = append(viewers, peerID)
			}
		})

		// A reconnecting sharer takes over the room
		if old != nil && old != c {
			old.shutdown()
			old.conn.Close()
		}

		c.queue(SignalMessage{Type: TypeJoined, Room: c.room, Role: RoleSharer})
		for _, peerID := range viewers {
			c.queue(SignalMessage{Type: TypeViewerJoined, Room: c.room, PeerID: peerID})
		}

		c.log.WithFields(logrus.Fields{
			"function": "handleJoin",
			"viewers":  len(viewers),
		}).Info("Sharer joined")

	case RoleViewer:
		var reply SignalMessage
		var sharer *Client
		c.server.withRoom(c.room, func(room *Room) {
			if room.password != "" {
				if msg.Password == "" {
					reply = SignalMessage{Type: TypePasswordRequired, Room: room.code}
					return
				}
				if subtle.ConstantTimeCompare([]byte(msg.Password), []byte(room.password)) != 1 {
					reply = SignalMessage{Type: TypePasswordInvalid, Room: room.code}
					return
				}
			}
			if c.role == RoleViewer {
				delete(room.viewers, c.peerID)
			}
			c.role = RoleViewer
			c.peerID = fmt.Sprintf("viewer-%d", c.server.peerSeq.Add(1))
			room.viewers[c.peerID] = c
			sharer = room.sharer
			reply = SignalMessage{Type: TypeJoined, Room: room.code, Role: RoleViewer, PeerID: c.peerID}
		})

		c.queue(reply)
		if reply.Type != TypeJoined {
			return
		}
		if sharer != nil {
			sharer.queue(SignalMessage{Type: TypeViewerJoined, Room: c.room, PeerID: c.peerID})
		}

		c.log.WithFields(logrus.Fields{
			"function": "handleJoin",
			"peer":     c.peerID,
		}).Debug("Viewer joined")

	default:
		c.queue(SignalMessage{Type: TypeError, Room: c.room, Error: fmt.Sprintf("Unknown role %q", msg.Role)})
	}
}

// handleOffer forwards a viewer offer to the sharer, tagged with the
// viewer's peer ID
func (c *Client) handleOffer(room *Room, msg SignalMessage) {
	if c.role != RoleViewer {
		return
	}

	room.mu.RLock()
	sharer := room.sharer
	room.mu.RUnlock()

	if sharer == nil {
		c.queue(SignalMessage{Type: TypeError, Room: room.code, PeerID: c.peerID, Error: errTextNoSharer})
		return
	}

	sharer.queue(SignalMessage{Type: TypeOffer, Room: room.code, PeerID: c.peerID, SDP: msg.SDP})
}

// forwardToViewer routes a sharer answer or error to the viewer named by
// PeerID
func (c *Client) forwardToViewer(room *Room, msg SignalMessage) {
	if c.role != RoleSharer {
		return
	}

	room.mu.RLock()
	viewer, ok := room.viewers[msg.PeerID]
	room.mu.RUnlock()

	if !ok {
		if msg.Type == TypeAnswer {
			c.queue(SignalMessage{Type: TypeError, Room: room.code, PeerID: msg.PeerID, Error: errTextUnknownViewer})
		}
		return
	}

	msg.Room = room.code
	viewer.queue(msg)
}
