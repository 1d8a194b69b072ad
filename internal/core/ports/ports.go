package ports

import (
	"context"
	"time"

	"pointlink/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// PeerTransport abstracts the peer-connection stack a session drives. Any
// conformant implementation works: the production one wraps pion, tests use
// an in-process fake. Callbacks must be registered before Initiate/Accept
// and are never invoked after Close returns.
type PeerTransport interface {
	// Initiate starts the handshake as the offering side. The resulting
	// offer and every gathered candidate are delivered through OnSignal.
	Initiate(ctx context.Context) error

	// Accept starts the handshake as the answering side, consuming the
	// counterparty's offer payload. The answer is delivered through
	// OnSignal.
	Accept(ctx context.Context, offer []byte) error

	// Signal feeds an inbound answer or trickled ICE candidate into the
	// handshake.
	Signal(kind domain.SignalKind, payload []byte) error

	// SendData writes one message to the auxiliary data channel.
	SendData(data []byte) error

	// OutstandingBytes reports the data channel's unacknowledged send
	// buffer, the input to the backpressure gate.
	OutstandingBytes() int

	// AttachMedia adds the local capture tracks to the connection. Must be
	// called before Initiate/Accept so the tracks are negotiated.
	AttachMedia(source MediaSource) error

	OnSignal(fn func(kind domain.SignalKind, payload []byte))
	OnConnected(fn func())
	OnData(fn func(data []byte))
	OnClosed(fn func())
	OnError(fn func(err error))

	Close() error
}

// TransportFactory builds a fresh PeerTransport. Sessions use it once at
// construction and once more if the data channel overflows and has to be
// rebuilt.
type TransportFactory func() (PeerTransport, error)

// MediaSource is the capturable audio/video handle the capability bridge
// supplies. The core never inspects the tracks, it only hands them to the
// transport.
type MediaSource interface {
	Tracks() []webrtc.TrackLocal
}

// CaptureBridge is the acquisition/rendering boundary. The core delivers
// inbound point batches and view-mode switches to it and reads the local
// media source from it.
type CaptureBridge interface {
	Media() MediaSource
	OnPointBatch(batch domain.PointBatch)
	OnViewModeChange(mode domain.ViewMode)
}

// Signaler sends handshake messages toward one counterparty through the
// relay.
type Signaler interface {
	Send(kind domain.SignalKind, target domain.MemberID, payload []byte) error
}

// MetricsSink receives observability readings from sessions and the
// point-cloud protocol. Injected explicitly so nothing in the core touches
// process-wide state.
type MetricsSink interface {
	RecordSessionState(state domain.SessionState)
	RecordBatchSent(points, bytes int)
	RecordBatchDropped(reason string)
	RecordOutstandingBytes(n int)
	RecordLatency(d time.Duration)
	RecordFrameRate(fps float64)
}

// NopMetrics discards every reading.
type NopMetrics struct{}

func (NopMetrics) RecordSessionState(domain.SessionState) {}
func (NopMetrics) RecordBatchSent(int, int)               {}
func (NopMetrics) RecordBatchDropped(string)              {}
func (NopMetrics) RecordOutstandingBytes(int)             {}
func (NopMetrics) RecordLatency(time.Duration)            {}
func (NopMetrics) RecordFrameRate(float64)                {}
