// Package session drives a single receive-only WebRTC session: it negotiates
// an offer/answer exchange through a caller supplied signaling function, maps
// ICE connectivity onto a small set of statuses and rebuilds the peer
// connection when connectivity drops, up to a retry ceiling.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
	"github.com/tomaslejdung/peepview/pkg/events"
)

// Sink receives inbound media and is told to start playback once
// negotiation succeeds
type Sink interface {
	Attach(track *webrtc.TrackRemote)
	Play(ctx context.Context) error
}

// RemoteSDPFunc carries the local offer to the remote peer and returns its answer
type RemoteSDPFunc func(ctx context.Context, localSDP string) (string, error)

// Options configures a Session. It is captured at construction and reused
// for every transport rebuild.
type Options struct {
	Sink     Sink // optional
	AutoLoad bool // negotiate during New

	// RetryTime caps consecutive automatic reconnects. Zero means
	// DefaultRetryTime, a negative value disables reconnecting. Every
	// disconnect counts against it, but disconnects arriving while a
	// reconnect is in flight are merged into a single queued reconnect.
	RetryTime int

	GetRemoteSDP RemoteSDPFunc    // required
	NewTransport TransportFactory // defaults to a pion factory with default ICE servers
	Logger       logrus.FieldLogger

	// Observers registered before the first event is emitted
	OnStatus func(Status)
	OnError  func(error)
}

// Session manages the lifecycle of one peer connection at a time
type Session struct {
	hub *events.Hub

	options      Options
	remoteSDP    RemoteSDPFunc
	newTransport TransportFactory
	retryTime    int
	log          logrus.FieldLogger

	// ctx is cancelled by Destroy; automatic reconnects negotiate under it
	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	transport     Transport
	generation    uint64 // bumped whenever transport is detached or replaced
	status        Status
	retryCount    int
	reloading     bool // automatic reconnect goroutine running
	pendingReload bool // disconnect seen while reloading
	halted        bool // retry ceiling reached, cleared by a caller's Load or Reload
	destroyed     bool

	reloadMu sync.Mutex // serializes transport replacement
}

// New creates a session, sets up its first transport and, when AutoLoad is
// set, negotiates before returning. A failed negotiation does not fail New:
// it is reported through the error event and the closed status.
func New(ctx context.Context, options Options) (*Session, error) {
	if options.GetRemoteSDP == nil {
		return nil, ErrNoSignaling
	}

	newTransport := options.NewTransport
	if newTransport == nil {
		factory, err := NewPionFactory(ICEConfig{}, nil)
		if err != nil {
			return nil, err
		}
		newTransport = factory
	}

	retryTime := options.RetryTime
	if retryTime == 0 {
		retryTime = DefaultRetryTime
	}

	logger := options.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		hub:          events.NewHub(),
		options:      options,
		remoteSDP:    options.GetRemoteSDP,
		newTransport: newTransport,
		retryTime:    retryTime,
		log:          logger,
		ctx:          sessionCtx,
		cancel:       cancel,
		status:       StatusConnecting,
	}

	if options.OnStatus != nil {
		s.OnStatus(options.OnStatus)
	}
	if options.OnError != nil {
		s.OnError(options.OnError)
	}

	if err := s.install(); err != nil {
		cancel()
		return nil, err
	}

	if options.AutoLoad {
		// failure already reported through the error event and closed status
		_ = s.Load(ctx)
	}
	return s, nil
}

// OnStatus registers the status observer, replacing any previous one
func (s *Session) OnStatus(fn func(Status)) {
	s.hub.On(EventStatus, func(payload any) {
		if status, ok := payload.(Status); ok {
			fn(status)
		}
	})
}

// OnError registers the error observer, replacing any previous one
func (s *Session) OnError(fn func(error)) {
	s.hub.On(EventError, func(payload any) {
		if err, ok := payload.(error); ok {
			fn(err)
		}
	})
}

// Status returns the current status
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// RetryCount returns the number of consecutive automatic reconnects
func (s *Session) RetryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryCount
}

// install creates a transport, declares the receive-only video and audio
// slots and hooks up track and connectivity handlers
func (s *Session) install() error {
	t, err := s.newTransport()
	if err != nil {
		return err
	}

	t.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.log.WithFields(logrus.Fields{
			"function": "OnTrack",
			"track":    track.ID(),
			"stream":   track.StreamID(),
			"kind":     track.Kind().String(),
		}).Debug("Inbound track")

		if s.options.Sink != nil {
			s.options.Sink.Attach(track)
		}
	})

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		_, err := t.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		})
		if err != nil {
			t.Close()
			return fmt.Errorf("failed to add %s transceiver: %w", kind, err)
		}
	}

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		t.Close()
		return ErrDestroyed
	}
	s.generation++
	gen := s.generation
	s.transport = t
	s.mu.Unlock()

	t.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		s.handleConnectionState(gen, state)
	})

	s.changeStatus(StatusConnecting)
	return nil
}

// current returns the live transport and its generation
func (s *Session) current() (Transport, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return nil, 0, ErrDestroyed
	}
	if s.transport == nil {
		return nil, 0, ErrNoTransport
	}
	return s.transport, s.generation, nil
}

// handleConnectionState applies the transition table for a signal from the
// transport installed as generation gen
func (s *Session) handleConnectionState(gen uint64, state webrtc.ICEConnectionState) {
	s.mu.Lock()
	if s.destroyed || gen != s.generation {
		s.mu.Unlock()
		s.log.WithFields(logrus.Fields{
			"function": "handleConnectionState",
			"state":    state.String(),
		}).Debug("Ignoring signal from replaced transport")
		return
	}

	status := statusForSignal(state)
	startReload := false
	if state == webrtc.ICEConnectionStateDisconnected {
		if s.retryCount < s.retryTime {
			status = StatusReconnecting
			s.retryCount++
			if s.reloading {
				s.pendingReload = true
			} else {
				s.reloading = true
				startReload = true
			}
		} else {
			status = StatusDisconnected
			s.pendingReload = false
			s.halted = true
		}
	}
	s.status = status
	retryCount := s.retryCount
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"function":    "handleConnectionState",
		"state":       state.String(),
		"status":      status,
		"retry_count": retryCount,
		"retry_time":  s.retryTime,
	}).Info("Connection state changed")

	s.hub.Emit(EventStatus, status)

	if startReload {
		go s.reconnectLoop()
	}
}

// reconnectLoop runs automatic reloads until no disconnect arrived during the
// previous one
func (s *Session) reconnectLoop() {
	for {
		if err := s.reload(s.ctx, false); err != nil {
			s.log.WithFields(logrus.Fields{
				"function": "reconnectLoop",
				"error":    err.Error(),
			}).Warn("Reconnect attempt failed")
		}

		s.mu.Lock()
		if s.destroyed || !s.pendingReload {
			s.reloading = false
			s.mu.Unlock()
			return
		}
		s.pendingReload = false
		s.mu.Unlock()
	}
}

// changeStatus records status and emits it, even when unchanged
func (s *Session) changeStatus(status Status) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.status = status
	s.mu.Unlock()

	s.hub.Emit(EventStatus, status)
}

// GetOffer creates an offer on the current transport, commits it as the
// local description and waits for candidate gathering to finish
func (s *Session) GetOffer(ctx context.Context, options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	t, _, err := s.current()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	return getOffer(ctx, t, options)
}

func getOffer(ctx context.Context, t Transport, options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	offer, err := t.CreateOffer(options)
	if err != nil {
		return webrtc.SessionDescription{}, negotiationError(StepCreateOffer, err)
	}

	gathered := t.GatheringComplete()
	if err := t.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, negotiationError(StepSetLocal, err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return webrtc.SessionDescription{}, negotiationError(StepGathering, ctx.Err())
	}

	if local := t.LocalDescription(); local != nil {
		return *local, nil
	}
	return offer, nil
}

// Load runs one offer/answer negotiation on the current transport. On
// failure the status is forced to closed and the error event is emitted; the
// same error is returned for convenience. Failures are never retried here.
func (s *Session) Load(ctx context.Context) error {
	return s.load(ctx, true)
}

// load negotiates on the current transport. Only a caller's request lifts a
// halt imposed by the retry ceiling.
func (s *Session) load(ctx context.Context, manual bool) error {
	if s.remoteSDP == nil {
		return ErrNoSignaling
	}

	t, gen, err := s.current()
	if err != nil {
		return err
	}

	if err := s.negotiate(ctx, t, gen, manual); err != nil {
		s.mu.Lock()
		stale := s.destroyed || gen != s.generation
		s.mu.Unlock()

		logger := s.log.WithFields(logrus.Fields{
			"function": "Load",
			"error":    err.Error(),
		})
		if stale {
			logger.Debug("Discarding failure from replaced transport")
			return err
		}
		logger.Warn("Negotiation failed")

		s.changeStatus(StatusClosed)
		s.hub.Emit(EventError, err)
		return err
	}
	return nil
}

func (s *Session) negotiate(ctx context.Context, t Transport, gen uint64, manual bool) error {
	offer, err := getOffer(ctx, t, nil)
	if err != nil {
		return err
	}
	if offer.SDP == "" {
		return negotiationError(StepCreateOffer, ErrEmptyOffer)
	}

	// A committed offer starts a fresh retry budget
	s.mu.Lock()
	if manual {
		s.halted = false
	}
	if gen == s.generation && !s.halted {
		s.retryCount = 0
	}
	s.mu.Unlock()

	answer, err := s.remoteSDP(ctx, offer.SDP)
	if err != nil {
		return negotiationError(StepExchange, err)
	}

	err = t.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	})
	if err != nil {
		return negotiationError(StepSetRemote, err)
	}

	if s.options.Sink != nil {
		if err := s.options.Sink.Play(ctx); err != nil {
			return negotiationError(StepPlay, err)
		}
	}

	s.log.WithFields(logrus.Fields{
		"function":   "Load",
		"offer_len":  len(offer.SDP),
		"answer_len": len(answer),
	}).Info("Negotiation complete")
	return nil
}

// Reload tears down the current transport, builds a new one from the same
// options and negotiates on it regardless of AutoLoad
func (s *Session) Reload(ctx context.Context) error {
	return s.reload(ctx, true)
}

func (s *Session) reload(ctx context.Context, manual bool) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	s.closeTransport()

	if err := s.install(); err != nil {
		if errors.Is(err, ErrDestroyed) {
			return err
		}
		nerr := negotiationError(StepCreateTransport, err)
		s.log.WithFields(logrus.Fields{
			"function": "Reload",
			"error":    err.Error(),
		}).Warn("Failed to rebuild transport")
		s.changeStatus(StatusClosed)
		s.hub.Emit(EventError, nerr)
		return nerr
	}

	return s.load(ctx, manual)
}

// closeTransport detaches and closes the current transport. Signals it emits
// while closing are ignored because the generation has moved on.
func (s *Session) closeTransport() {
	s.mu.Lock()
	t := s.transport
	s.transport = nil
	s.generation++
	s.mu.Unlock()

	if t == nil {
		return
	}
	if err := t.Close(); err != nil {
		s.log.WithFields(logrus.Fields{
			"function": "closeTransport",
			"error":    err.Error(),
		}).Debug("Transport close returned error")
	}
}

// Destroy releases the transport and clears all event handlers. It is safe
// to call more than once; the session must not be used afterwards.
func (s *Session) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.pendingReload = false
	s.mu.Unlock()

	s.cancel()
	s.closeTransport()
	s.hub.Clear()

	s.log.WithField("function", "Destroy").Debug("Session destroyed")
}
