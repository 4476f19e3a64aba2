package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newTestSession(t *testing.T, factory *fakeFactory, rec *recorder, opts Options) *Session {
	t.Helper()

	if opts.GetRemoteSDP == nil {
		opts.GetRemoteSDP = answerWith("v=0 answer")
	}
	opts.NewTransport = factory.New
	opts.Logger = quietLogger()
	opts.OnStatus = rec.onStatus
	opts.OnError = rec.onError

	s, err := New(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(s.Destroy)
	return s
}

func TestNewRequiresSignalingFunction(t *testing.T) {
	_, err := New(context.Background(), Options{NewTransport: newFakeFactory().New})
	assert.ErrorIs(t, err, ErrNoSignaling)
}

func TestNewFailsWhenTransportCannotBeCreated(t *testing.T) {
	factory := newFakeFactory()
	boom := errors.New("no engine")
	factory.failAt[0] = boom

	_, err := New(context.Background(), Options{
		GetRemoteSDP: answerWith("x"),
		NewTransport: factory.New,
		Logger:       quietLogger(),
	})
	assert.ErrorIs(t, err, boom)
}

func TestNewDeclaresReceiveOnlyVideoAndAudio(t *testing.T) {
	factory := newFakeFactory()
	rec := &recorder{}
	s := newTestSession(t, factory, rec, Options{})

	tr := factory.get(0)
	assert.Equal(t, []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio}, tr.kinds)
	require.Len(t, tr.transceivers, 2)
	for _, init := range tr.transceivers {
		assert.Equal(t, webrtc.RTPTransceiverDirectionRecvonly, init.Direction)
	}

	// no negotiation without AutoLoad
	assert.Nil(t, tr.remoteDescription())
	assert.Equal(t, StatusConnecting, s.Status())
	assert.Equal(t, []Status{StatusConnecting}, rec.Statuses())
}

func TestTransitionTable(t *testing.T) {
	factory := newFakeFactory()
	rec := &recorder{}
	s := newTestSession(t, factory, rec, Options{})
	tr := factory.get(0)

	signals := []webrtc.ICEConnectionState{
		webrtc.ICEConnectionStateNew,
		webrtc.ICEConnectionStateChecking,
		webrtc.ICEConnectionStateConnected,
		webrtc.ICEConnectionStateCompleted,
		webrtc.ICEConnectionStateConnected,
		webrtc.ICEConnectionStateFailed,
		webrtc.ICEConnectionStateFailed,
		webrtc.ICEConnectionStateClosed,
		webrtc.ICEConnectionState(0), // unknown
	}
	for _, sig := range signals {
		tr.fire(sig)
	}

	want := []Status{
		StatusConnecting, // construction
		StatusConnecting,
		StatusConnecting,
		StatusConnected,
		StatusConnected,
		StatusConnected,
		StatusFailed,
		StatusFailed,
		StatusClosed,
		StatusClosed,
	}
	assert.Equal(t, want, rec.Statuses())
	assert.Equal(t, StatusClosed, s.Status())
	assert.Empty(t, rec.Errors())

	// failed and closed are never retried
	assert.Equal(t, 1, factory.count())
	assert.Equal(t, 0, s.RetryCount())
}

func TestAutoLoadNegotiatesBeforeReturning(t *testing.T) {
	factory := newFakeFactory()
	rec := &recorder{}
	sink := &fakeSink{}

	var gotOffer string
	s := newTestSession(t, factory, rec, Options{
		AutoLoad: true,
		Sink:     sink,
		GetRemoteSDP: func(_ context.Context, localSDP string) (string, error) {
			gotOffer = localSDP
			return "v=0 answer", nil
		},
	})

	tr := factory.get(0)
	assert.Equal(t, "v=0 offer", gotOffer)
	require.NotNil(t, tr.LocalDescription())
	assert.Equal(t, webrtc.SDPTypeOffer, tr.LocalDescription().Type)

	remote := tr.remoteDescription()
	require.NotNil(t, remote)
	assert.Equal(t, webrtc.SDPTypeAnswer, remote.Type)
	assert.Equal(t, "v=0 answer", remote.SDP)
	assert.Equal(t, 1, sink.Plays())

	tr.fire(webrtc.ICEConnectionStateConnected)

	assert.Equal(t, []Status{StatusConnecting, StatusConnected}, rec.Statuses())
	assert.Empty(t, rec.Errors())
	assert.Equal(t, StatusConnected, s.Status())
}

func TestLoadFailureClosesAndEmitsOneError(t *testing.T) {
	factory := newFakeFactory()
	rec := &recorder{}
	rejected := errors.New("remote rejected offer")

	s := newTestSession(t, factory, rec, Options{
		AutoLoad: true,
		GetRemoteSDP: func(context.Context, string) (string, error) {
			return "", rejected
		},
	})

	assert.Equal(t, []Status{StatusConnecting, StatusClosed}, rec.Statuses())
	require.Len(t, rec.Errors(), 1)

	err := rec.Errors()[0]
	assert.ErrorIs(t, err, rejected)
	var nerr *NegotiationError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, StepExchange, nerr.Step)

	// a rejected negotiation is not retried
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, factory.count())
	assert.Equal(t, StatusClosed, s.Status())
}

func TestLoadFailureSteps(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name      string
		configure func(*fakeTransport)
		sink      *fakeSink
		step      string
		target    error
	}{
		{
			name:      "create offer",
			configure: func(tr *fakeTransport) { tr.offerErr = boom },
			step:      StepCreateOffer,
			target:    boom,
		},
		{
			name:      "empty offer",
			configure: func(tr *fakeTransport) { tr.offerSDP = "" },
			step:      StepCreateOffer,
			target:    ErrEmptyOffer,
		},
		{
			name:      "set local description",
			configure: func(tr *fakeTransport) { tr.localErr = boom },
			step:      StepSetLocal,
			target:    boom,
		},
		{
			name:      "set remote description",
			configure: func(tr *fakeTransport) { tr.remoteErr = boom },
			step:      StepSetRemote,
			target:    boom,
		},
		{
			name:   "start playback",
			sink:   &fakeSink{playErr: boom},
			step:   StepPlay,
			target: boom,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory := newFakeFactory()
			if tt.configure != nil {
				factory.configure = func(_ int, tr *fakeTransport) { tt.configure(tr) }
			}
			rec := &recorder{}
			opts := Options{}
			if tt.sink != nil {
				opts.Sink = tt.sink
			}
			s := newTestSession(t, factory, rec, opts)

			err := s.Load(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)

			var nerr *NegotiationError
			require.ErrorAs(t, err, &nerr)
			assert.Equal(t, tt.step, nerr.Step)

			assert.Equal(t, []Status{StatusConnecting, StatusClosed}, rec.Statuses())
			assert.Len(t, rec.Errors(), 1)
		})
	}
}

func TestGetOfferCommitsLocalDescription(t *testing.T) {
	factory := newFakeFactory()
	s := newTestSession(t, factory, &recorder{}, Options{})

	offer, err := s.GetOffer(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "v=0 offer", offer.SDP)
	assert.Equal(t, &offer, factory.get(0).LocalDescription())
}

func TestLoadResetsRetryCountBeforeSignaling(t *testing.T) {
	factory := newFakeFactory()
	rec := &recorder{}

	var s *Session
	seen := make(chan int, 4)
	s = newTestSession(t, factory, rec, Options{
		RetryTime: 5,
		GetRemoteSDP: func(context.Context, string) (string, error) {
			seen <- s.RetryCount()
			return "v=0 answer", nil
		},
	})

	factory.get(0).fire(webrtc.ICEConnectionStateDisconnected)

	select {
	case count := <-seen:
		assert.Equal(t, 0, count)
	case <-time.After(time.Second):
		t.Fatal("reconnect never reached the signaling function")
	}
}

func TestReloadReplacesTransport(t *testing.T) {
	factory := newFakeFactory()
	rec := &recorder{}
	s := newTestSession(t, factory, rec, Options{})
	old := factory.get(0)

	old.fire(webrtc.ICEConnectionStateDisconnected)

	require.Eventually(t, func() bool {
		return factory.count() == 2 && factory.get(1).remoteDescription() != nil
	}, time.Second, 5*time.Millisecond)

	fresh := factory.get(1)
	assert.True(t, old.isClosed())
	assert.False(t, fresh.isClosed())
	assert.Equal(t, []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio}, fresh.kinds)

	// exactly one connecting for the rebuilt transport, and the closed
	// signal from the old transport is ignored
	assert.Equal(t, []Status{StatusConnecting, StatusReconnecting, StatusConnecting}, rec.Statuses())

	fresh.fire(webrtc.ICEConnectionStateConnected)
	old.fire(webrtc.ICEConnectionStateFailed)

	assert.Equal(t, []Status{StatusConnecting, StatusReconnecting, StatusConnecting, StatusConnected}, rec.Statuses())
	assert.Equal(t, StatusConnected, s.Status())
	assert.Empty(t, rec.Errors())
}

func TestManualReloadAlwaysNegotiates(t *testing.T) {
	factory := newFakeFactory()
	rec := &recorder{}
	s := newTestSession(t, factory, rec, Options{AutoLoad: false})

	require.NoError(t, s.Reload(context.Background()))

	assert.Equal(t, 2, factory.count())
	assert.True(t, factory.get(0).isClosed())
	assert.NotNil(t, factory.get(1).remoteDescription())
	assert.Equal(t, []Status{StatusConnecting, StatusConnecting}, rec.Statuses())
}

func TestRetryCeiling(t *testing.T) {
	factory := newFakeFactory()
	gate := make(chan struct{})
	factory.configure = func(index int, tr *fakeTransport) {
		if index == 1 {
			tr.offerGate = gate
		}
	}
	rec := &recorder{}
	s := newTestSession(t, factory, rec, Options{RetryTime: 2})

	factory.get(0).fire(webrtc.ICEConnectionStateDisconnected)
	assert.Equal(t, 1, s.RetryCount())

	var second *fakeTransport
	select {
	case <-factory.createdCh: // the first transport
	default:
	}
	select {
	case second = <-factory.createdCh:
	case <-time.After(time.Second):
		t.Fatal("reconnect never created a transport")
	}
	select {
	case <-second.offerStarted:
	case <-time.After(time.Second):
		t.Fatal("reconnect never started negotiating")
	}

	// disconnects while the reconnect is still negotiating
	second.fire(webrtc.ICEConnectionStateDisconnected)
	assert.Equal(t, 2, s.RetryCount())
	second.fire(webrtc.ICEConnectionStateDisconnected)
	assert.Equal(t, 2, s.RetryCount())
	assert.Equal(t, StatusDisconnected, s.Status())

	want := []Status{
		StatusConnecting,
		StatusReconnecting,
		StatusConnecting,
		StatusReconnecting,
		StatusDisconnected,
	}
	assert.Equal(t, want, rec.Statuses())

	close(gate)
	require.Eventually(t, func() bool {
		return second.remoteDescription() != nil
	}, time.Second, 5*time.Millisecond)

	// the ceiling cancelled the queued reconnect
	assert.Never(t, func() bool {
		return factory.count() > 2
	}, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, StatusDisconnected, s.Status())
	assert.Equal(t, want, rec.Statuses())

	// the reconnect that finished after the ceiling keeps the counter
	assert.Equal(t, 2, s.RetryCount())
	second.fire(webrtc.ICEConnectionStateDisconnected)
	assert.Never(t, func() bool {
		return factory.count() > 2
	}, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, StatusDisconnected, s.Status())
	assert.Equal(t, append(want, StatusDisconnected), rec.Statuses())

	// a manual load starts from a clean counter and re-arms reconnects
	require.NoError(t, s.Load(context.Background()))
	assert.Equal(t, 0, s.RetryCount())

	second.fire(webrtc.ICEConnectionStateDisconnected)
	assert.Equal(t, 1, s.RetryCount())
	require.Eventually(t, func() bool { return factory.count() == 3 }, time.Second, 5*time.Millisecond)
}

func TestDisconnectsDuringReconnectAreMerged(t *testing.T) {
	factory := newFakeFactory()
	gate := make(chan struct{})
	factory.configure = func(index int, tr *fakeTransport) {
		if index == 1 {
			tr.offerGate = gate
		}
	}
	rec := &recorder{}
	s := newTestSession(t, factory, rec, Options{RetryTime: 5})

	factory.get(0).fire(webrtc.ICEConnectionStateDisconnected)
	require.Eventually(t, func() bool { return factory.count() == 2 }, time.Second, 5*time.Millisecond)
	second := factory.get(1)
	<-second.offerStarted

	// each disconnect consumes a retry but only one reconnect is queued
	second.fire(webrtc.ICEConnectionStateDisconnected)
	second.fire(webrtc.ICEConnectionStateDisconnected)
	second.fire(webrtc.ICEConnectionStateDisconnected)
	assert.Equal(t, 4, s.RetryCount())
	assert.Equal(t, StatusReconnecting, s.Status())

	close(gate)
	require.Eventually(t, func() bool {
		return factory.count() == 3 && factory.get(2).remoteDescription() != nil
	}, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool {
		return factory.count() > 3
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestQueuedReconnectRunsAfterInFlightOne(t *testing.T) {
	factory := newFakeFactory()
	gate := make(chan struct{})
	factory.configure = func(index int, tr *fakeTransport) {
		if index == 1 {
			tr.offerGate = gate
		}
	}
	rec := &recorder{}
	newTestSession(t, factory, rec, Options{RetryTime: 3})

	factory.get(0).fire(webrtc.ICEConnectionStateDisconnected)

	require.Eventually(t, func() bool { return factory.count() == 2 }, time.Second, 5*time.Millisecond)
	second := factory.get(1)
	<-second.offerStarted

	second.fire(webrtc.ICEConnectionStateDisconnected)
	assert.Equal(t, 2, factory.count(), "no concurrent transport replacement")

	close(gate)
	require.Eventually(t, func() bool {
		return factory.count() == 3 && factory.get(2).remoteDescription() != nil
	}, time.Second, 5*time.Millisecond)
	assert.True(t, second.isClosed())
}

func TestNegativeRetryTimeDisablesReconnect(t *testing.T) {
	factory := newFakeFactory()
	rec := &recorder{}
	s := newTestSession(t, factory, rec, Options{RetryTime: -1})

	factory.get(0).fire(webrtc.ICEConnectionStateDisconnected)

	assert.Equal(t, []Status{StatusConnecting, StatusDisconnected}, rec.Statuses())
	assert.Equal(t, StatusDisconnected, s.Status())
	assert.Equal(t, 1, factory.count())
}

func TestReloadTransportFailureClosesSession(t *testing.T) {
	factory := newFakeFactory()
	boom := errors.New("out of sockets")
	factory.failAt[1] = boom
	rec := &recorder{}
	s := newTestSession(t, factory, rec, Options{})

	err := s.Reload(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var nerr *NegotiationError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, StepCreateTransport, nerr.Step)

	assert.Equal(t, []Status{StatusConnecting, StatusClosed}, rec.Statuses())
	assert.Len(t, rec.Errors(), 1)
	assert.Equal(t, StatusClosed, s.Status())

	// no live transport left to negotiate on
	assert.ErrorIs(t, s.Load(context.Background()), ErrNoTransport)
}

func TestDestroySilencesSession(t *testing.T) {
	factory := newFakeFactory()
	rec := &recorder{}
	s := newTestSession(t, factory, rec, Options{})
	tr := factory.get(0)

	s.Destroy()
	s.Destroy()

	assert.True(t, tr.isClosed())
	assert.False(t, s.hub.Has(EventStatus))
	assert.False(t, s.hub.Has(EventError))

	tr.fire(webrtc.ICEConnectionStateConnected)
	tr.fire(webrtc.ICEConnectionStateDisconnected)

	assert.Equal(t, []Status{StatusConnecting}, rec.Statuses())
	assert.Empty(t, rec.Errors())
	assert.Equal(t, 1, factory.count())

	assert.ErrorIs(t, s.Load(context.Background()), ErrDestroyed)
	assert.ErrorIs(t, s.Reload(context.Background()), ErrDestroyed)
	_, err := s.GetOffer(context.Background(), nil)
	assert.ErrorIs(t, err, ErrDestroyed)
}

func TestDestroyCancelsReconnectNegotiation(t *testing.T) {
	factory := newFakeFactory()
	rec := &recorder{}
	exchangeStarted := make(chan struct{})

	s := newTestSession(t, factory, rec, Options{
		GetRemoteSDP: func(ctx context.Context, _ string) (string, error) {
			close(exchangeStarted)
			<-ctx.Done()
			return "", ctx.Err()
		},
	})

	factory.get(0).fire(webrtc.ICEConnectionStateDisconnected)

	select {
	case <-exchangeStarted:
	case <-time.After(time.Second):
		t.Fatal("reconnect never reached the signaling function")
	}

	s.Destroy()

	require.Eventually(t, func() bool {
		return factory.get(1).isClosed()
	}, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool {
		return len(rec.Errors()) > 0
	}, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, []Status{StatusConnecting, StatusReconnecting, StatusConnecting}, rec.Statuses())
}

func TestObserversCanBeReplaced(t *testing.T) {
	factory := newFakeFactory()
	rec := &recorder{}
	s := newTestSession(t, factory, rec, Options{})

	other := &recorder{}
	s.OnStatus(other.onStatus)
	factory.get(0).fire(webrtc.ICEConnectionStateConnected)

	assert.Equal(t, []Status{StatusConnecting}, rec.Statuses())
	assert.Equal(t, []Status{StatusConnected}, other.Statuses())

	// raw hub access sees the typed payload
	var raw any
	s.hub.On(EventStatus, func(payload any) { raw = payload })
	factory.get(0).fire(webrtc.ICEConnectionStateChecking)
	assert.Equal(t, StatusConnecting, raw)
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusConnecting.Terminal())
	assert.False(t, StatusConnected.Terminal())
	assert.False(t, StatusReconnecting.Terminal())
	assert.True(t, StatusDisconnected.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusClosed.Terminal())
	assert.Equal(t, "reconnecting", StatusReconnecting.String())
}
