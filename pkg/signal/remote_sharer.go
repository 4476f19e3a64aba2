package signal

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// AnswerFunc produces an SDP answer for an offer from the viewer peerID
type AnswerFunc func(ctx context.Context, peerID, offerSDP string) (string, error)

// RemoteSharer answers viewer offers forwarded by a relay
type RemoteSharer struct {
	conn         *websocket.Conn
	connMu       sync.Mutex
	answer       AnswerFunc
	ctx          context.Context
	cancel       context.CancelFunc
	onDisconnect func()
	closed       bool
	closeMu      sync.Mutex
	log          logrus.FieldLogger
}

// DialSharer connects to the relay at baseURL, claims room as its sharer and
// starts answering offers with answer
func DialSharer(ctx context.Context, baseURL, room, password string, answer AnswerFunc, logger logrus.FieldLogger) (*RemoteSharer, error) {
	conn, err := dial(ctx, baseURL, room)
	if err != nil {
		return nil, err
	}

	stop := closeOnDone(ctx, conn)
	_, err = join(conn, RoleSharer, password)
	stop()
	if err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	return NewRemoteSharer(conn, answer, logger), nil
}

// NewRemoteSharer wraps an already joined sharer connection
func NewRemoteSharer(conn *websocket.Conn, answer AnswerFunc, logger logrus.FieldLogger) *RemoteSharer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	rs := &RemoteSharer{
		conn:   conn,
		answer: answer,
		ctx:    ctx,
		cancel: cancel,
		log:    logger,
	}
	go rs.readLoop()
	return rs
}

func (rs *RemoteSharer) readLoop() {
	defer func() {
		rs.closeMu.Lock()
		handler := rs.onDisconnect
		closed := rs.closed
		rs.closeMu.Unlock()
		rs.cancel()
		if handler != nil && !closed {
			handler()
		}
	}()

	for {
		var msg SignalMessage
		if err := rs.conn.ReadJSON(&msg); err != nil {
			rs.log.WithFields(logrus.Fields{
				"function": "readLoop",
				"error":    err,
			}).Debug("Sharer connection ended")
			return
		}

		switch msg.Type {
		case TypeOffer:
			go rs.handleOffer(msg)
		case TypeViewerJoined, TypeViewerLeft:
			rs.log.WithFields(logrus.Fields{
				"function": "readLoop",
				"peer":     msg.PeerID,
			}).Info(msg.Type)
		case TypeError:
			rs.log.WithFields(logrus.Fields{
				"function": "readLoop",
				"peer":     msg.PeerID,
				"error":    msg.Error,
			}).Warn("Relay reported an error")
		}
	}
}

func (rs *RemoteSharer) handleOffer(msg SignalMessage) {
	sdp, err := rs.answer(rs.ctx, msg.PeerID, msg.SDP)
	if err != nil {
		rs.log.WithFields(logrus.Fields{
			"function": "handleOffer",
			"peer":     msg.PeerID,
			"error":    err,
		}).Warn("Failed to answer offer")
		rs.SendToViewer(msg.PeerID, SignalMessage{Type: TypeError, Error: err.Error()})
		return
	}
	rs.SendToViewer(msg.PeerID, SignalMessage{Type: TypeAnswer, SDP: sdp})
}

// SendToViewer sends a message to a specific viewer
func (rs *RemoteSharer) SendToViewer(peerID string, msg SignalMessage) {
	rs.closeMu.Lock()
	closed := rs.closed
	rs.closeMu.Unlock()
	if closed {
		return
	}

	msg.PeerID = peerID
	rs.connMu.Lock()
	defer rs.connMu.Unlock()
	if err := rs.conn.WriteJSON(msg); err != nil {
		rs.log.WithFields(logrus.Fields{
			"function": "SendToViewer",
			"peer":     peerID,
			"error":    err,
		}).Warn("Send failed")
	}
}

// SetDisconnectHandler sets callback for when connection is lost
func (rs *RemoteSharer) SetDisconnectHandler(handler func()) {
	rs.closeMu.Lock()
	rs.onDisconnect = handler
	rs.closeMu.Unlock()
}

// Done is closed once the sharer stops answering
func (rs *RemoteSharer) Done() <-chan struct{} {
	return rs.ctx.Done()
}

// Close shuts down the sharer
func (rs *RemoteSharer) Close() {
	rs.closeMu.Lock()
	defer rs.closeMu.Unlock()
	if !rs.closed {
		rs.closed = true
		rs.cancel()
		rs.conn.Close()
	}
}
