package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSignaling is returned when Options.GetRemoteSDP is nil
	ErrNoSignaling = errors.New("no signaling function configured")

	// ErrEmptyOffer is reported when the transport produced an offer without SDP
	ErrEmptyOffer = errors.New("offer has no session description")

	// ErrDestroyed is returned by operations on a destroyed session
	ErrDestroyed = errors.New("session destroyed")

	// ErrNoTransport is returned when a rebuild failed and no transport is live
	ErrNoTransport = errors.New("no live transport")
)

// Negotiation steps reported in NegotiationError.Step
const (
	StepCreateOffer     = "create offer"
	StepSetLocal        = "set local description"
	StepGathering       = "gather candidates"
	StepExchange        = "exchange sdp"
	StepSetRemote       = "set remote description"
	StepPlay            = "start playback"
	StepCreateTransport = "create transport"
)

// NegotiationError describes a failed offer/answer attempt
type NegotiationError struct {
	Step string
	Err  error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation failed to %s: %v", e.Step, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

func negotiationError(step string, err error) *NegotiationError {
	return &NegotiationError{Step: step, Err: err}
}
