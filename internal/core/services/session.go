package services

import (
	"context"
	"sync"

	"pointlink/internal/core/domain"
	"pointlink/internal/core/ports"

	"go.uber.org/zap"
)

type eventKind int

const (
	evSignal eventKind = iota
	evTransportConnected
	evTransportError
	evTransportClosed
	evPeerLeft
	evOverflow
)

// sessionEvent is the single currency of the session run loop: transport
// callbacks, relay messages and protocol hooks are all posted as events and
// handled on one goroutine.
type sessionEvent struct {
	kind       eventKind
	signalKind domain.SignalKind
	payload    []byte
	err        error
}

// SessionConfig identifies the two parties and carries the protocol tuning.
type SessionConfig struct {
	Self       domain.MemberID
	Peer       domain.MemberID
	Role       domain.SessionRole
	PointCloud PointCloudConfig
}

// PeerSession owns one counterparty: one peer-connection handshake, one
// media transport and one auxiliary data transport. It is the only object
// that touches its own state; everything reaches it as a posted event.
type PeerSession struct {
	cfg      SessionConfig
	signaler ports.Signaler
	bridge   ports.CaptureBridge
	factory  ports.TransportFactory
	metrics  ports.MetricsSink
	protocol *PointCloudProtocol
	logger   *zap.SugaredLogger

	events chan sessionEvent

	stateMu sync.RWMutex
	state   domain.SessionState

	// transport is written by the run loop on rebuild and read by Close from
	// arbitrary goroutines, so every access goes through transportMu.
	transportMu sync.Mutex
	transport   ports.PeerTransport
	rebuilt     bool // the one data-transport rebuild has been spent

	onStateChange  func(domain.SessionState)
	onDisconnected func()
	onSaturated    func()
	disconnectOnce sync.Once

	closed    chan struct{}
	closeOnce sync.Once
	runCtx    context.Context
	runCancel context.CancelFunc
}

func NewPeerSession(cfg SessionConfig, signaler ports.Signaler, bridge ports.CaptureBridge, factory ports.TransportFactory, metrics ports.MetricsSink, log *zap.Logger) *PeerSession {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	s := &PeerSession{
		cfg:      cfg,
		signaler: signaler,
		bridge:   bridge,
		factory:  factory,
		metrics:  metrics,
		logger:   log.Sugar().With("peer", cfg.Peer, "role", cfg.Role),
		events:   make(chan sessionEvent, 32),
		state:    domain.StateIdle,
		closed:   make(chan struct{}),
	}
	s.protocol = NewPointCloudProtocol(cfg.PointCloud, bridge, metrics, log)
	s.protocol.OnOverflow(func() { s.post(sessionEvent{kind: evOverflow}) })
	s.protocol.OnSaturated(func() {
		if s.onSaturated != nil {
			s.onSaturated()
		}
	})
	return s
}

// OnStateChange registers a state observer. Must be set before Start.
func (s *PeerSession) OnStateChange(fn func(domain.SessionState)) { s.onStateChange = fn }

// OnDisconnected registers the connection-loss notification; it fires at
// most once per session. Must be set before Start.
func (s *PeerSession) OnDisconnected(fn func()) { s.onDisconnected = fn }

// OnSaturated registers the sink for repeated transport overflow, after the
// single automatic rebuild has been spent. Must be set before Start.
func (s *PeerSession) OnSaturated(fn func()) { s.onSaturated = fn }

// State returns the current lifecycle state.
func (s *PeerSession) State() domain.SessionState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Start builds the transport and begins negotiating. The initiator produces
// its offer immediately; the responder waits for one.
func (s *PeerSession) Start(ctx context.Context) error {
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	if err := s.buildTransport(); err != nil {
		return err
	}

	s.setState(domain.StateNegotiating)
	s.protocol.Start()
	go s.run()

	if s.cfg.Role == domain.RoleInitiator {
		if err := s.currentTransport().Initiate(s.runCtx); err != nil {
			s.fail(err)
			return err
		}
	}
	return nil
}

func (s *PeerSession) buildTransport() error {
	t, err := s.factory()
	if err != nil {
		return err
	}

	t.OnSignal(func(kind domain.SignalKind, payload []byte) {
		if s.isClosed() {
			return
		}
		if err := s.signaler.Send(kind, s.cfg.Peer, payload); err != nil {
			s.logger.Warnw("outbound signal failed", "kind", kind, "error", err)
		}
	})
	t.OnConnected(func() { s.post(sessionEvent{kind: evTransportConnected}) })
	t.OnData(func(data []byte) {
		if s.isClosed() {
			return
		}
		s.protocol.HandleMessage(data)
	})
	t.OnClosed(func() { s.post(sessionEvent{kind: evTransportClosed}) })
	t.OnError(func(err error) { s.post(sessionEvent{kind: evTransportError, err: err}) })

	if s.bridge != nil {
		if src := s.bridge.Media(); src != nil {
			if err := t.AttachMedia(src); err != nil {
				t.Close()
				return err
			}
		}
	}

	if !s.setTransport(t) {
		t.Close()
		return domain.ErrSessionClosed
	}
	return nil
}

// setTransport installs t as the live transport unless the session closed in
// the meantime, in which case the caller must discard t.
func (s *PeerSession) setTransport(t ports.PeerTransport) bool {
	s.transportMu.Lock()
	defer s.transportMu.Unlock()
	if s.isClosed() {
		return false
	}
	s.transport = t
	return true
}

func (s *PeerSession) currentTransport() ports.PeerTransport {
	s.transportMu.Lock()
	defer s.transportMu.Unlock()
	return s.transport
}

// HandleSignal feeds a relayed handshake message from the counterparty into
// the session.
func (s *PeerSession) HandleSignal(kind domain.SignalKind, payload []byte) {
	s.post(sessionEvent{kind: evSignal, signalKind: kind, payload: payload})
}

// PeerLeft tells the session its counterparty left the room.
func (s *PeerSession) PeerLeft() {
	s.post(sessionEvent{kind: evPeerLeft})
}

// SubmitPointBatch offers one frame of points for throttled transmission.
func (s *PeerSession) SubmitPointBatch(positions, colors []float32) error {
	return s.protocol.Submit(domain.PointBatch{Positions: positions, Colors: colors})
}

// SendViewMode asks the counterparty to switch rendering mode.
func (s *PeerSession) SendViewMode(mode domain.ViewMode) error {
	return s.protocol.SendViewMode(mode)
}

// Close tears the session down: the rate-gate timer stops before Close
// returns and no further bridge callbacks are emitted. In-flight
// transport-level sends that cannot be cancelled finish silently. Terminal.
func (s *PeerSession) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.protocol.Stop()
		if t := s.currentTransport(); t != nil {
			t.Close()
		}
		if s.runCancel != nil {
			s.runCancel()
		}
		s.setState(domain.StateClosed)
	})
}

func (s *PeerSession) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *PeerSession) post(ev sessionEvent) {
	select {
	case <-s.closed:
	case s.events <- ev:
	}
}

func (s *PeerSession) run() {
	for {
		select {
		case <-s.closed:
			return
		case ev := <-s.events:
			s.handleEvent(ev)
		}
	}
}

func (s *PeerSession) handleEvent(ev sessionEvent) {
	switch ev.kind {
	case evSignal:
		s.handleSignalEvent(ev)

	case evTransportConnected:
		s.setState(domain.StateConnected)
		s.protocol.Bind(s.currentTransport())
		if err := s.protocol.SendProbe(); err != nil {
			s.logger.Debugw("liveness probe failed", "error", err)
		}

	case evTransportError:
		s.logger.Warnw("transport error", "error", ev.err)
		s.fail(ev.err)

	case evTransportClosed:
		s.logger.Infow("transport closed by counterparty")
		s.notifyDisconnected()
		s.Close()

	case evPeerLeft:
		s.logger.Infow("counterparty left room")
		s.notifyDisconnected()
		s.Close()

	case evOverflow:
		s.rebuildDataTransport()
	}
}

func (s *PeerSession) handleSignalEvent(ev sessionEvent) {
	state := s.State()
	if state != domain.StateNegotiating && state != domain.StateConnected {
		s.logger.Debugw("signal ignored in state", "state", state, "kind", ev.signalKind)
		return
	}

	kind := ev.signalKind
	if kind == "" || !kind.IsRelayable() {
		// Untagged message: repair from the payload body, expecting the
		// kind our role implies.
		expected := domain.KindOffer
		if s.cfg.Role == domain.RoleInitiator {
			expected = domain.KindAnswer
		}
		resolved, err := classifyHandshakePayload(ev.payload, expected)
		if err != nil {
			s.fail(err)
			return
		}
		kind = resolved
	}

	t := s.currentTransport()
	if t == nil {
		return
	}

	var err error
	switch kind {
	case domain.KindOffer:
		if s.cfg.Role != domain.RoleResponder {
			s.logger.Warnw("offer received while initiating, ignored")
			return
		}
		err = t.Accept(s.runCtx, ev.payload)
	case domain.KindAnswer, domain.KindICECandidate:
		err = t.Signal(kind, ev.payload)
	}

	if err != nil {
		s.fail(&domain.HandshakeError{Reason: "transport rejected " + string(kind), Cause: err})
	}
}

// rebuildDataTransport spends the session's one automatic reconnect: the
// peer connection is torn down and renegotiated from scratch.
func (s *PeerSession) rebuildDataTransport() {
	if s.rebuilt || s.isClosed() {
		return
	}
	s.rebuilt = true

	s.logger.Warnw("rebuilding peer connection after send overflow")
	s.protocol.Unbind()
	if t := s.currentTransport(); t != nil {
		t.Close()
	}

	if err := s.buildTransport(); err != nil {
		s.fail(err)
		return
	}
	s.setState(domain.StateNegotiating)

	if s.cfg.Role == domain.RoleInitiator {
		if err := s.currentTransport().Initiate(s.runCtx); err != nil {
			s.fail(err)
		}
	}
}

// fail moves the session to the failed state and stops its transports.
// There is no automatic retry; the caller may construct a new session.
func (s *PeerSession) fail(err error) {
	if s.isClosed() || s.State() == domain.StateFailed {
		return
	}
	s.logger.Errorw("session failed", "error", err)
	s.protocol.Unbind()
	if t := s.currentTransport(); t != nil {
		t.Close()
	}
	s.setState(domain.StateFailed)
}

func (s *PeerSession) notifyDisconnected() {
	s.disconnectOnce.Do(func() {
		if s.onDisconnected != nil {
			s.onDisconnected()
		}
	})
}

func (s *PeerSession) setState(state domain.SessionState) {
	s.stateMu.Lock()
	if s.state == domain.StateClosed && state != domain.StateClosed {
		s.stateMu.Unlock()
		return
	}
	s.state = state
	s.stateMu.Unlock()

	s.metrics.RecordSessionState(state)
	if s.onStateChange != nil {
		s.onStateChange(state)
	}
}
