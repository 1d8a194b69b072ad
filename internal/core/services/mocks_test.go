package services

import (
	"context"
	"sync"

	"pointlink/internal/core/domain"
	"pointlink/internal/core/ports"
)

// fakeTransport is an in-memory ports.PeerTransport for exercising the
// protocol and session logic without a real peer connection.
type fakeTransport struct {
	mu sync.Mutex

	sent        [][]byte
	sendErr     error
	outstanding int

	initiated bool
	accepted  bool
	offers    [][]byte
	signals   []fakeSignalMsg
	closed    bool

	onSignal    func(domain.SignalKind, []byte)
	onConnected func()
	onData      func([]byte)
	onClosed    func()
	onError     func(error)
}

type fakeSignalMsg struct {
	kind    domain.SignalKind
	payload []byte
}

func newFakeTransport() *fakeTransport { return &fakeTransport{} }

func (f *fakeTransport) Initiate(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initiated = true
	return nil
}

func (f *fakeTransport) Accept(ctx context.Context, offer []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted = true
	f.offers = append(f.offers, offer)
	return nil
}

func (f *fakeTransport) Signal(kind domain.SignalKind, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, fakeSignalMsg{kind: kind, payload: payload})
	return nil
}

func (f *fakeTransport) SendData(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeTransport) OutstandingBytes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outstanding
}

func (f *fakeTransport) AttachMedia(source ports.MediaSource) error { return nil }

func (f *fakeTransport) OnSignal(fn func(domain.SignalKind, []byte)) { f.onSignal = fn }
func (f *fakeTransport) OnConnected(fn func())                      { f.onConnected = fn }
func (f *fakeTransport) OnData(fn func([]byte))                     { f.onData = fn }
func (f *fakeTransport) OnClosed(fn func())                         { f.onClosed = fn }
func (f *fakeTransport) OnError(fn func(error))                     { f.onError = fn }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) setSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

func (f *fakeTransport) setOutstanding(n int) {
	f.mu.Lock()
	f.outstanding = n
	f.mu.Unlock()
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeTransport) lastSent() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) wasInitiated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initiated
}

func (f *fakeTransport) wasAccepted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accepted
}

func (f *fakeTransport) signalCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.signals)
}

// fakeBridge records what the core delivers to the capture boundary.
type fakeBridge struct {
	mu      sync.Mutex
	batches []domain.PointBatch
	modes   []domain.ViewMode
}

func (b *fakeBridge) Media() ports.MediaSource { return nil }

func (b *fakeBridge) OnPointBatch(batch domain.PointBatch) {
	b.mu.Lock()
	b.batches = append(b.batches, batch)
	b.mu.Unlock()
}

func (b *fakeBridge) OnViewModeChange(mode domain.ViewMode) {
	b.mu.Lock()
	b.modes = append(b.modes, mode)
	b.mu.Unlock()
}

func (b *fakeBridge) batchCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batches)
}

func (b *fakeBridge) lastBatch() domain.PointBatch {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.batches[len(b.batches)-1]
}

func (b *fakeBridge) modeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.modes)
}

// fakeSignaler records handshake messages sent toward the relay.
type fakeSignaler struct {
	mu   sync.Mutex
	sent []fakeOutboundSignal
}

type fakeOutboundSignal struct {
	kind    domain.SignalKind
	target  domain.MemberID
	payload []byte
}

func (s *fakeSignaler) Send(kind domain.SignalKind, target domain.MemberID, payload []byte) error {
	s.mu.Lock()
	s.sent = append(s.sent, fakeOutboundSignal{kind: kind, target: target, payload: payload})
	s.mu.Unlock()
	return nil
}

func (s *fakeSignaler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}
