package services

import (
	"context"
	"sync"

	"pointlink/internal/core/domain"
	"pointlink/internal/core/ports"

	"go.uber.org/zap"
)

// SessionManager owns one PeerSession per counterparty in the room. A
// member already present when we join reaches us through its own offer; a
// member arriving after us is announced by the relay and we initiate. Both
// paths end in exactly one session per pair.
type SessionManager struct {
	self       domain.MemberID
	pointCloud PointCloudConfig
	signaler   ports.Signaler
	bridge     ports.CaptureBridge
	factory    ports.TransportFactory
	metrics    ports.MetricsSink
	logger     *zap.SugaredLogger

	mu       sync.Mutex
	sessions map[domain.MemberID]*PeerSession
}

func NewSessionManager(self domain.MemberID, pointCloud PointCloudConfig, signaler ports.Signaler, bridge ports.CaptureBridge, factory ports.TransportFactory, metrics ports.MetricsSink, log *zap.Logger) *SessionManager {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &SessionManager{
		self:       self,
		pointCloud: pointCloud,
		signaler:   signaler,
		bridge:     bridge,
		factory:    factory,
		metrics:    metrics,
		logger:     log.Sugar().With("member", self),
		sessions:   make(map[domain.MemberID]*PeerSession),
	}
}

// Run consumes relay envelopes until the channel closes, then closes every
// session.
func (m *SessionManager) Run(ctx context.Context, events <-chan domain.Envelope) {
	for {
		select {
		case <-ctx.Done():
			m.CloseAll()
			return
		case env, ok := <-events:
			if !ok {
				m.CloseAll()
				return
			}
			m.Dispatch(ctx, env)
		}
	}
}

// Dispatch routes one relay envelope to the owning session, creating or
// destroying sessions on membership events.
func (m *SessionManager) Dispatch(ctx context.Context, env domain.Envelope) {
	switch env.Type {
	case domain.KindWelcome, domain.KindRoomJoined:
		m.logger.Infow("relay acknowledged", "type", env.Type)

	case domain.KindUserConnected:
		m.ensureSession(ctx, env.From, domain.RoleInitiator)

	case domain.KindUserDisconnected:
		m.dropSession(env.From)

	case domain.KindOffer:
		s := m.ensureSession(ctx, env.From, domain.RoleResponder)
		if s != nil {
			s.HandleSignal(env.Type, env.Payload)
		}

	case domain.KindAnswer, domain.KindICECandidate:
		m.mu.Lock()
		s := m.sessions[env.From]
		m.mu.Unlock()
		if s == nil {
			m.logger.Debugw("signal for unknown peer dropped", "from", env.From, "type", env.Type)
			return
		}
		s.HandleSignal(env.Type, env.Payload)

	default:
		m.logger.Debugw("unhandled relay message", "type", env.Type)
	}
}

func (m *SessionManager) ensureSession(ctx context.Context, peer domain.MemberID, role domain.SessionRole) *PeerSession {
	if peer == "" || peer == m.self {
		return nil
	}

	m.mu.Lock()
	if existing, ok := m.sessions[peer]; ok {
		m.mu.Unlock()
		return existing
	}

	s := NewPeerSession(SessionConfig{
		Self:       m.self,
		Peer:       peer,
		Role:       role,
		PointCloud: m.pointCloud,
	}, m.signaler, m.bridge, m.factory, m.metrics, m.logger.Desugar())
	s.OnDisconnected(func() { m.logger.Infow("peer disconnected", "peer", peer) })
	s.OnSaturated(func() {
		m.logger.Warnw("point-cloud transmission degraded", "peer", peer, "error", domain.ErrTransportSaturated)
	})
	m.sessions[peer] = s
	m.mu.Unlock()

	if err := s.Start(ctx); err != nil {
		m.logger.Errorw("session start failed", "peer", peer, "error", err)
		m.dropSession(peer)
		return nil
	}
	m.logger.Infow("session created", "peer", peer, "role", role)
	return s
}

func (m *SessionManager) dropSession(peer domain.MemberID) {
	m.mu.Lock()
	s := m.sessions[peer]
	delete(m.sessions, peer)
	m.mu.Unlock()

	if s != nil {
		s.PeerLeft()
		s.Close()
	}
}

// Session returns the session for one counterparty, if any.
func (m *SessionManager) Session(peer domain.MemberID) (*PeerSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[peer]
	return s, ok
}

// SubmitPointBatch is the capture bridge's producer entry point: the batch
// is offered to every live session, each throttled independently.
func (m *SessionManager) SubmitPointBatch(positions, colors []float32) error {
	batch := domain.PointBatch{Positions: positions, Colors: colors}
	if err := batch.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	sessions := make([]*PeerSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		if err := s.SubmitPointBatch(positions, colors); err != nil {
			m.logger.Debugw("batch not accepted", "peer", s.cfg.Peer, "error", err)
		}
	}
	return nil
}

// CloseAll tears every session down.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[domain.MemberID]*PeerSession)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
