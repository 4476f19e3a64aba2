package signal

// Message types
const (
	TypeJoin             = "join"
	TypeJoined           = "joined"
	TypeOffer            = "offer"
	TypeAnswer           = "answer"
	TypeError            = "error"
	TypeViewerJoined     = "viewer-joined"
	TypeViewerLeft       = "viewer-left"
	TypePasswordRequired = "password-required"
	TypePasswordInvalid  = "password-invalid"
)

// Roles
const (
	RoleSharer = "sharer"
	RoleViewer = "viewer"
)

// SignalMessage represents a WebSocket signaling message
type SignalMessage struct {
	Type     string `json:"type"`               // join, joined, offer, answer, error, viewer-joined, viewer-left, password-required, password-invalid
	Room     string `json:"room,omitempty"`     // room code
	Role     string `json:"role,omitempty"`     // sharer or viewer
	SDP      string `json:"sdp,omitempty"`      // SDP offer/answer
	Error    string `json:"error,omitempty"`    // error message
	PeerID   string `json:"peerId,omitempty"`   // peer identifier for routing
	Password string `json:"password,omitempty"` // room password (for joining protected rooms)
}
