// Package media consumes inbound WebRTC tracks. Player drains RTP from the
// tracks of the current inbound stream and keeps per-track statistics.
package media

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

// ErrClosed is returned by Play after Close
var ErrClosed = errors.New("player closed")

// trackReader is the subset of *webrtc.TrackRemote the player reads from
type trackReader interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// TrackStats holds real-time statistics for a single inbound track
type TrackStats struct {
	TrackID  string
	StreamID string
	Kind     string  // "video" or "audio"
	Codec    string  // Display name, e.g. "VP8"
	Packets  uint64  // RTP packets received
	Bytes    uint64  // Payload bytes received
	Frames   uint64  // Completed video frames (marker bit)
	Lost     uint64  // Packets missing from the sequence
	Bitrate  float64 // Payload kbps since playback started
	FPS      float64 // Frames per second since playback started
	Duration time.Duration
}

type trackState struct {
	reader    trackReader
	stop      chan struct{}
	started   bool
	startedAt time.Time

	packets atomic.Uint64
	bytes   atomic.Uint64
	frames  atomic.Uint64
	lost    atomic.Uint64

	// only touched by the read loop
	lastSeq uint16
	haveSeq bool
}

// Player is a session.Sink that plays back the first inbound stream by
// draining its tracks. A track from a different stream replaces the current
// stream, like swapping the source of a playback surface.
type Player struct {
	log logrus.FieldLogger

	mu       sync.Mutex
	streamID string
	tracks   map[string]*trackState
	playing  bool
	closed   bool
}

// NewPlayer creates an idle player. logger may be nil.
func NewPlayer(logger logrus.FieldLogger) *Player {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Player{
		log:    logger,
		tracks: make(map[string]*trackState),
	}
}

// Attach adds an inbound track. Reading starts once Play has been called.
func (p *Player) Attach(track *webrtc.TrackRemote) {
	p.attach(track)
}

func (p *Player) attach(r trackReader) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	if p.streamID != "" && r.StreamID() != p.streamID {
		p.log.WithFields(logrus.Fields{
			"function":   "Attach",
			"old_stream": p.streamID,
			"new_stream": r.StreamID(),
		}).Info("Switching to new inbound stream")
		p.stopAllLocked()
		p.tracks = make(map[string]*trackState)
	}
	p.streamID = r.StreamID()

	if old, ok := p.tracks[r.ID()]; ok {
		old.halt()
	}

	ts := &trackState{reader: r, stop: make(chan struct{})}
	p.tracks[r.ID()] = ts

	p.log.WithFields(logrus.Fields{
		"function": "Attach",
		"track":    r.ID(),
		"kind":     r.Kind().String(),
		"codec":    CodecName(r.Codec().MimeType),
	}).Debug("Track attached")

	if p.playing {
		p.startLocked(ts)
	}
}

// Play starts draining every attached track and any attached later
func (p *Player) Play(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	p.playing = true
	for _, ts := range p.tracks {
		if !ts.started {
			p.startLocked(ts)
		}
	}
	return nil
}

func (p *Player) startLocked(ts *trackState) {
	ts.started = true
	ts.startedAt = time.Now()
	go p.readLoop(ts)
}

func (p *Player) readLoop(ts *trackState) {
	isVideo := ts.reader.Kind() == webrtc.RTPCodecTypeVideo

	for {
		pkt, _, err := ts.reader.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.log.WithFields(logrus.Fields{
					"function": "readLoop",
					"track":    ts.reader.ID(),
					"error":    err.Error(),
				}).Debug("Track read ended")
			}
			return
		}

		select {
		case <-ts.stop:
			return
		default:
		}

		ts.record(pkt, isVideo)
	}
}

func (ts *trackState) record(pkt *rtp.Packet, isVideo bool) {
	ts.packets.Add(1)
	ts.bytes.Add(uint64(len(pkt.Payload)))
	if isVideo && pkt.Marker {
		ts.frames.Add(1)
	}

	if ts.haveSeq {
		gap := pkt.SequenceNumber - ts.lastSeq
		// gaps past half the sequence space are reordered packets, not loss
		if gap > 1 && gap < 0x8000 {
			ts.lost.Add(uint64(gap - 1))
		}
		if gap == 0 || gap >= 0x8000 {
			return
		}
	}
	ts.lastSeq = pkt.SequenceNumber
	ts.haveSeq = true
}

// Stats returns a snapshot per track, sorted by track ID
func (p *Player) Stats() []TrackStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := make([]TrackStats, 0, len(p.tracks))
	for id, ts := range p.tracks {
		st := TrackStats{
			TrackID:  id,
			StreamID: ts.reader.StreamID(),
			Kind:     ts.reader.Kind().String(),
			Codec:    CodecName(ts.reader.Codec().MimeType),
			Packets:  ts.packets.Load(),
			Bytes:    ts.bytes.Load(),
			Frames:   ts.frames.Load(),
			Lost:     ts.lost.Load(),
		}
		if ts.started {
			st.Duration = time.Since(ts.startedAt)
			if secs := st.Duration.Seconds(); secs > 0 {
				st.Bitrate = float64(st.Bytes) * 8 / 1000 / secs
				st.FPS = float64(st.Frames) / secs
			}
		}
		stats = append(stats, st)
	}

	sort.Slice(stats, func(i, j int) bool { return stats[i].TrackID < stats[j].TrackID })
	return stats
}

// StreamID returns the ID of the stream being played, or ""
func (p *Player) StreamID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streamID
}

// Playing reports whether Play has been called and the player is open
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing && !p.closed
}

// Close stops every read loop. Loops blocked in ReadRTP exit when their
// track ends, which happens when the owning peer connection closes.
func (p *Player) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	p.playing = false
	p.stopAllLocked()
}

func (p *Player) stopAllLocked() {
	for _, ts := range p.tracks {
		ts.halt()
	}
}

func (ts *trackState) halt() {
	select {
	case <-ts.stop:
	default:
		close(ts.stop)
	}
}
