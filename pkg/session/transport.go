package session

import (
	"fmt"

	"github.com/pion/interceptor"
	pionlog "github.com/pion/logging"
	"github.com/pion/webrtc/v3"
)

// Transport is the part of a pion PeerConnection the session drives.
// A session owns exactly one Transport at a time and never reuses one after Close.
type Transport interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	AddTransceiverFromKind(kind webrtc.RTPCodecType, init ...webrtc.RTPTransceiverInit) (*webrtc.RTPTransceiver, error)
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnICEConnectionStateChange(f func(webrtc.ICEConnectionState))

	// GatheringComplete is closed once ICE candidate gathering has finished
	GatheringComplete() <-chan struct{}

	Close() error
}

// TransportFactory creates a fresh transport for every connection attempt
type TransportFactory func() (Transport, error)

// ICE servers for NAT traversal
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
}

// ICEConfig holds ICE server configuration
type ICEConfig struct {
	STUNServers []string // defaults to DefaultSTUNServers when empty
	TURNServer  string
	TURNUser    string
	TURNPass    string
	ForceRelay  bool
}

// Configuration builds the pion configuration for c
func (c ICEConfig) Configuration() webrtc.Configuration {
	iceServers := make([]webrtc.ICEServer, 0)

	if !c.ForceRelay {
		stun := c.STUNServers
		if len(stun) == 0 {
			stun = DefaultSTUNServers
		}
		for _, url := range stun {
			iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
		}
	}

	if c.TURNServer != "" {
		turnServer := webrtc.ICEServer{
			URLs: []string{c.TURNServer},
		}
		if c.TURNUser != "" {
			turnServer.Username = c.TURNUser
			turnServer.Credential = c.TURNPass
			turnServer.CredentialType = webrtc.ICECredentialTypePassword
		}
		iceServers = append(iceServers, turnServer)
	}

	policy := webrtc.ICETransportPolicyAll
	if c.ForceRelay {
		policy = webrtc.ICETransportPolicyRelay
	}

	return webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	}
}

// pionTransport adapts *webrtc.PeerConnection to Transport
type pionTransport struct {
	*webrtc.PeerConnection
}

func (t *pionTransport) GatheringComplete() <-chan struct{} {
	return webrtc.GatheringCompletePromise(t.PeerConnection)
}

// NewPionFactory builds a pion API with the default codecs and interceptors and
// returns a factory creating peer connections from it. loggerFactory may be nil.
func NewPionFactory(ice ICEConfig, loggerFactory pionlog.LoggerFactory) (TransportFactory, error) {
	if ice.ForceRelay && ice.TURNServer == "" {
		return nil, fmt.Errorf("force relay requires a TURN server")
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	if loggerFactory != nil {
		se.LoggerFactory = loggerFactory
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)
	config := ice.Configuration()

	return func() (Transport, error) {
		pc, err := api.NewPeerConnection(config)
		if err != nil {
			return nil, fmt.Errorf("failed to create peer connection: %w", err)
		}
		return &pionTransport{PeerConnection: pc}, nil
	}, nil
}
