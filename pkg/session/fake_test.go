package session

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v3"
)

// fakeTransport records what the session does to it and lets tests fire
// connectivity signals by hand
type fakeTransport struct {
	mu sync.Mutex

	offerSDP  string
	offerErr  error
	localErr  error
	remoteErr error

	// offerGate, when set, blocks CreateOffer until closed
	offerGate    chan struct{}
	offerStarted chan struct{}

	local        *webrtc.SessionDescription
	remote       *webrtc.SessionDescription
	transceivers []webrtc.RTPTransceiverInit
	kinds        []webrtc.RTPCodecType
	onICE        func(webrtc.ICEConnectionState)
	onTrack      func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	closed       bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		offerSDP:     "v=0 offer",
		offerStarted: make(chan struct{}, 1),
	}
}

func (f *fakeTransport) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	select {
	case f.offerStarted <- struct{}{}:
	default:
	}

	f.mu.Lock()
	gate := f.offerGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offerErr != nil {
		return webrtc.SessionDescription{}, f.offerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: f.offerSDP}, nil
}

func (f *fakeTransport) SetLocalDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.localErr != nil {
		return f.localErr
	}
	f.local = &desc
	return nil
}

func (f *fakeTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("transport closed")
	}
	if f.remoteErr != nil {
		return f.remoteErr
	}
	f.remote = &desc
	return nil
}

func (f *fakeTransport) LocalDescription() *webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.local
}

func (f *fakeTransport) AddTransceiverFromKind(kind webrtc.RTPCodecType, init ...webrtc.RTPTransceiverInit) (*webrtc.RTPTransceiver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds = append(f.kinds, kind)
	f.transceivers = append(f.transceivers, init...)
	return nil, nil
}

func (f *fakeTransport) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onTrack = fn
}

func (f *fakeTransport) OnICEConnectionStateChange(fn func(webrtc.ICEConnectionState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onICE = fn
}

func (f *fakeTransport) GatheringComplete() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	handler := f.onICE
	f.closed = true
	f.mu.Unlock()

	// pion reports closed to the handler while closing
	if handler != nil {
		handler(webrtc.ICEConnectionStateClosed)
	}
	return nil
}

// fire delivers a connectivity signal the way pion would
func (f *fakeTransport) fire(state webrtc.ICEConnectionState) {
	f.mu.Lock()
	handler := f.onICE
	f.mu.Unlock()
	if handler != nil {
		handler(state)
	}
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) remoteDescription() *webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remote
}

// fakeFactory hands out fakeTransports, letting tests tweak each one by index
type fakeFactory struct {
	mu        sync.Mutex
	created   []*fakeTransport
	configure func(index int, t *fakeTransport)
	failAt    map[int]error
	createdCh chan *fakeTransport
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		failAt:    make(map[int]error),
		createdCh: make(chan *fakeTransport, 16),
	}
}

func (f *fakeFactory) New() (Transport, error) {
	f.mu.Lock()
	index := len(f.created)
	if err, ok := f.failAt[index]; ok {
		delete(f.failAt, index)
		f.mu.Unlock()
		return nil, err
	}
	t := newFakeTransport()
	if f.configure != nil {
		f.configure(index, t)
	}
	f.created = append(f.created, t)
	f.mu.Unlock()

	f.createdCh <- t
	return t, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakeFactory) get(index int) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[index]
}

// recorder collects emitted events
type recorder struct {
	mu       sync.Mutex
	statuses []Status
	errs     []error
}

func (r *recorder) onStatus(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *recorder) onError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) Statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.statuses...)
}

func (r *recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// fakeSink records Play calls
type fakeSink struct {
	mu      sync.Mutex
	plays   int
	playErr error
}

func (s *fakeSink) Attach(*webrtc.TrackRemote) {}

func (s *fakeSink) Play(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plays++
	return s.playErr
}

func (s *fakeSink) Plays() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plays
}

func answerWith(sdp string) RemoteSDPFunc {
	return func(context.Context, string) (string, error) {
		return sdp, nil
	}
}
