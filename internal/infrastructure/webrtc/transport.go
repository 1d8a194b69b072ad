package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"pointlink/internal/core/domain"
	"pointlink/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// dataChannelLabel names the auxiliary transport carrying point batches and
// control messages alongside the media tracks.
const dataChannelLabel = "pointcloud"

// maxBufferedBytes is the hard cap on the data channel's send queue. pion
// buffers without bound, so the cap is enforced here; hitting it is the
// overflow condition the session reacts to.
const maxBufferedBytes = 16 * 1024 * 1024

var ErrSendQueueFull = errors.New("data channel send queue full")

// Config carries the ICE servers and port range for new connections.
type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// Transport implements ports.PeerTransport on a pion peer connection with
// one ordered, zero-retransmit data channel.
type Transport struct {
	cfg     Config
	pc      *webrtc.PeerConnection
	metrics ports.MetricsSink
	logger  *zap.SugaredLogger

	mu        sync.Mutex
	dc        *webrtc.DataChannel
	dcOpen    bool
	remoteSet bool
	// Candidates trickling in before the remote description are buffered
	// here, not rejected.
	pendingCandidates []webrtc.ICECandidateInit

	onSignal    func(domain.SignalKind, []byte)
	onConnected func()
	onData      func([]byte)
	onClosed    func()
	onError     func(error)

	closed atomic.Bool
}

func New(cfg Config, metrics ports.MetricsSink, log *zap.Logger) (*Transport, error) {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	t := &Transport{
		cfg:     cfg,
		metrics: metrics,
		logger:  log.Sugar(),
	}

	pc, err := t.createPeerConnection()
	if err != nil {
		return nil, err
	}
	t.pc = pc

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || t.closed.Load() {
			return
		}
		payload, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		t.emitSignal(domain.KindICECandidate, payload)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.logger.Debugw("peer connection state changed", "state", state.String())
		if t.closed.Load() {
			return
		}
		switch state {
		case webrtc.PeerConnectionStateFailed:
			t.emitError(fmt.Errorf("peer connection failed"))
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
			t.emitClosed()
		}
	})

	// The responder side receives the channel the initiator created.
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != dataChannelLabel {
			return
		}
		t.adoptDataChannel(dc)
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		t.logger.Infow("remote track started",
			"track_id", track.ID(), "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		go t.drainTrack(track)
		go t.drainRTCP(receiver)
	})

	return t, nil
}

func (t *Transport) createPeerConnection() (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{
		ICEServers:   t.cfg.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	}

	settingEngine := webrtc.SettingEngine{}
	if t.cfg.PortRange.Min > 0 && t.cfg.PortRange.Max > 0 {
		settingEngine.SetEphemeralUDPPortRange(t.cfg.PortRange.Min, t.cfg.PortRange.Max)
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(config)
}

func (t *Transport) OnSignal(fn func(domain.SignalKind, []byte)) { t.onSignal = fn }
func (t *Transport) OnConnected(fn func())                       { t.onConnected = fn }
func (t *Transport) OnData(fn func([]byte))                      { t.onData = fn }
func (t *Transport) OnClosed(fn func())                          { t.onClosed = fn }
func (t *Transport) OnError(fn func(error))                      { t.onError = fn }

// Initiate opens the data channel, produces the local offer and starts
// candidate gathering. The offer and candidates reach the counterparty via
// OnSignal.
func (t *Transport) Initiate(ctx context.Context) error {
	ordered := true
	maxRetransmits := uint16(0)
	dc, err := t.pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
	})
	if err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}
	t.adoptDataChannel(dc)

	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	payload, err := json.Marshal(t.pc.LocalDescription())
	if err != nil {
		return err
	}
	t.emitSignal(domain.KindOffer, payload)
	return nil
}

// Accept consumes the counterparty's offer and answers it.
func (t *Transport) Accept(ctx context.Context, offer []byte) error {
	desc, err := parseDescription(offer, webrtc.SDPTypeOffer)
	if err != nil {
		return err
	}
	if err := t.setRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	payload, err := json.Marshal(t.pc.LocalDescription())
	if err != nil {
		return err
	}
	t.emitSignal(domain.KindAnswer, payload)
	return nil
}

// Signal feeds an inbound answer or trickled candidate into the handshake.
func (t *Transport) Signal(kind domain.SignalKind, payload []byte) error {
	switch kind {
	case domain.KindAnswer:
		desc, err := parseDescription(payload, webrtc.SDPTypeAnswer)
		if err != nil {
			return err
		}
		return t.setRemoteDescription(desc)

	case domain.KindICECandidate:
		candidate, err := parseCandidate(payload)
		if err != nil {
			return err
		}
		t.mu.Lock()
		if !t.remoteSet {
			t.pendingCandidates = append(t.pendingCandidates, candidate)
			t.mu.Unlock()
			return nil
		}
		t.mu.Unlock()
		return t.pc.AddICECandidate(candidate)

	default:
		return fmt.Errorf("unexpected signal kind %q", kind)
	}
}

func (t *Transport) setRemoteDescription(desc webrtc.SessionDescription) error {
	if err := t.pc.SetRemoteDescription(desc); err != nil {
		return err
	}

	t.mu.Lock()
	t.remoteSet = true
	buffered := t.pendingCandidates
	t.pendingCandidates = nil
	t.mu.Unlock()

	for _, c := range buffered {
		if err := t.pc.AddICECandidate(c); err != nil {
			t.logger.Warnw("buffered candidate rejected", "error", err)
		}
	}
	return nil
}

// SendData writes one message to the data channel, refusing once the send
// queue is at its cap.
func (t *Transport) SendData(data []byte) error {
	t.mu.Lock()
	dc, open := t.dc, t.dcOpen
	t.mu.Unlock()

	if dc == nil || !open {
		return domain.ErrTransportNotReady
	}
	if dc.BufferedAmount()+uint64(len(data)) > maxBufferedBytes {
		return ErrSendQueueFull
	}
	return dc.Send(data)
}

// OutstandingBytes reports the data channel's unacknowledged send buffer.
func (t *Transport) OutstandingBytes() int {
	t.mu.Lock()
	dc := t.dc
	t.mu.Unlock()

	if dc == nil {
		return 0
	}
	return int(dc.BufferedAmount())
}

// AttachMedia adds the local capture tracks and starts draining their RTCP
// feedback.
func (t *Transport) AttachMedia(source ports.MediaSource) error {
	for _, track := range source.Tracks() {
		sender, err := t.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add track: %w", err)
		}
		go t.drainSenderRTCP(sender)
	}
	return nil
}

func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	return t.pc.Close()
}

func (t *Transport) adoptDataChannel(dc *webrtc.DataChannel) {
	t.mu.Lock()
	t.dc = dc
	t.mu.Unlock()

	dc.OnOpen(func() {
		t.mu.Lock()
		t.dcOpen = true
		t.mu.Unlock()
		t.logger.Infow("data channel open", "label", dc.Label())
		if !t.closed.Load() && t.onConnected != nil {
			t.onConnected()
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if t.closed.Load() || t.onData == nil {
			return
		}
		t.onData(msg.Data)
	})

	dc.OnClose(func() {
		t.mu.Lock()
		t.dcOpen = false
		t.mu.Unlock()
		t.emitClosed()
	})
}

// drainTrack consumes inbound media packets. Rendering happens outside the
// core; the read keeps the receiver's buffers moving.
func (t *Transport) drainTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500) // MTU size
	packet := &rtp.Packet{}
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			return
		}
		if err := packet.Unmarshal(buf[:n]); err != nil {
			t.logger.Debugw("malformed RTP packet", "error", err)
		}
	}
}

// drainRTCP reads receiver reports for link-quality readings.
func (t *Transport) drainRTCP(receiver *webrtc.RTPReceiver) {
	for {
		packets, _, err := receiver.ReadRTCP()
		if err != nil {
			return
		}
		t.recordRTCP(packets)
	}
}

func (t *Transport) drainSenderRTCP(sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		t.recordRTCP(packets)
	}
}

func (t *Transport) recordRTCP(packets []rtcp.Packet) {
	for _, packet := range packets {
		if report, ok := packet.(*rtcp.ReceiverReport); ok {
			for _, recv := range report.Reports {
				if recv.FractionLost > 0 {
					t.logger.Debugw("rtcp receiver report",
						"fraction_lost", recv.FractionLost, "jitter", recv.Jitter)
				}
			}
		}
	}
}

func (t *Transport) emitSignal(kind domain.SignalKind, payload []byte) {
	if t.closed.Load() || t.onSignal == nil {
		return
	}
	t.onSignal(kind, payload)
}

func (t *Transport) emitClosed() {
	if t.closed.Load() || t.onClosed == nil {
		return
	}
	t.onClosed()
}

func (t *Transport) emitError(err error) {
	if t.closed.Load() || t.onError == nil {
		return
	}
	t.onError(err)
}

func parseDescription(payload []byte, sdpType webrtc.SDPType) (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(payload, &desc); err != nil {
		return desc, fmt.Errorf("parse session description: %w", err)
	}
	if desc.SDP == "" {
		return desc, fmt.Errorf("session description missing sdp")
	}
	// Untagged bodies were already classified upstream.
	if desc.Type == webrtc.SDPType(0) {
		desc.Type = sdpType
	}
	return desc, nil
}

func parseCandidate(payload []byte) (webrtc.ICECandidateInit, error) {
	var direct webrtc.ICECandidateInit
	if err := json.Unmarshal(payload, &direct); err == nil && direct.Candidate != "" {
		return direct, nil
	}

	// Some senders nest the candidate one level down.
	var wrapped struct {
		Candidate webrtc.ICECandidateInit `json:"candidate"`
	}
	if err := json.Unmarshal(payload, &wrapped); err == nil && wrapped.Candidate.Candidate != "" {
		return wrapped.Candidate, nil
	}
	return webrtc.ICECandidateInit{}, fmt.Errorf("parse ice candidate: unrecognized shape")
}
