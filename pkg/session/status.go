package session

import "github.com/pion/webrtc/v3"

// Status is the externally visible phase of a session
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusDisconnected Status = "disconnected"
	StatusFailed       Status = "failed"
	StatusClosed       Status = "closed"
)

// String implements fmt.Stringer
func (s Status) String() string {
	return string(s)
}

// Terminal reports whether the session will not leave this status on its own
func (s Status) Terminal() bool {
	switch s {
	case StatusDisconnected, StatusFailed, StatusClosed:
		return true
	}
	return false
}

// Event names emitted on the session hub
const (
	EventStatus = "status"
	EventError  = "error"
)

// DefaultRetryTime is the reconnect ceiling used when Options.RetryTime is zero
const DefaultRetryTime = 3

// statusForSignal maps ICE connection states that do not involve the retry
// policy. Disconnected is handled by the caller.
func statusForSignal(state webrtc.ICEConnectionState) Status {
	switch state {
	case webrtc.ICEConnectionStateNew, webrtc.ICEConnectionStateChecking:
		return StatusConnecting
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		return StatusConnected
	case webrtc.ICEConnectionStateFailed:
		return StatusFailed
	default:
		return StatusClosed
	}
}
