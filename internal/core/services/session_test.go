package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pointlink/internal/core/domain"
	"pointlink/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func (f *fakeTransport) fireConnected() {
	if f.onConnected != nil {
		f.onConnected()
	}
}

func (f *fakeTransport) fireClosed() {
	if f.onClosed != nil {
		f.onClosed()
	}
}

func (f *fakeTransport) fireData(data []byte) {
	if f.onData != nil {
		f.onData(data)
	}
}

// fakeFactory hands out fake transports and remembers every one it built.
type fakeFactory struct {
	mu    sync.Mutex
	built []*fakeTransport
}

func (f *fakeFactory) factory() (ports.PeerTransport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tr := newFakeTransport()
	f.built = append(f.built, tr)
	return tr, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.built)
}

func (f *fakeFactory) get(i int) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built[i]
}

func newTestSession(t *testing.T, role domain.SessionRole) (*PeerSession, *fakeFactory, *fakeBridge, *fakeSignaler) {
	t.Helper()

	factory := &fakeFactory{}
	bridge := &fakeBridge{}
	signaler := &fakeSignaler{}

	cfg := SessionConfig{
		Self: "alice",
		Peer: "bob",
		Role: role,
		PointCloud: PointCloudConfig{
			SendInterval:  testGateInterval,
			SampleStride:  1,
			BufferCeiling: 5 * 1024 * 1024,
		},
	}
	s := NewPeerSession(cfg, signaler, bridge, factory.factory, nil, zap.NewNop())
	t.Cleanup(s.Close)
	return s, factory, bridge, signaler
}

func waitForState(t *testing.T, s *PeerSession, want domain.SessionState) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want },
		time.Second, time.Millisecond, "expected state %s, still %s", want, s.State())
}

func TestInitiatorStartsNegotiating(t *testing.T) {
	s, factory, _, _ := newTestSession(t, domain.RoleInitiator)

	require.NoError(t, s.Start(context.Background()))

	assert.Equal(t, domain.StateNegotiating, s.State())
	require.Equal(t, 1, factory.count())
	assert.True(t, factory.get(0).wasInitiated())
}

func TestResponderWaitsForOffer(t *testing.T) {
	s, factory, _, _ := newTestSession(t, domain.RoleResponder)

	require.NoError(t, s.Start(context.Background()))

	tr := factory.get(0)
	assert.False(t, tr.wasInitiated())

	s.HandleSignal(domain.KindOffer, []byte(`{"type":"offer","sdp":"v=0"}`))
	require.Eventually(t, func() bool { return tr.wasAccepted() }, time.Second, time.Millisecond)
}

func TestInitiatorIgnoresOffer(t *testing.T) {
	s, factory, _, _ := newTestSession(t, domain.RoleInitiator)
	require.NoError(t, s.Start(context.Background()))

	s.HandleSignal(domain.KindOffer, []byte(`{"type":"offer","sdp":"v=0"}`))

	time.Sleep(50 * time.Millisecond)
	assert.False(t, factory.get(0).wasAccepted())
	assert.Equal(t, domain.StateNegotiating, s.State())
}

func TestTransportConnectedMovesToConnected(t *testing.T) {
	s, factory, _, _ := newTestSession(t, domain.RoleInitiator)
	require.NoError(t, s.Start(context.Background()))

	tr := factory.get(0)
	tr.fireConnected()

	waitForState(t, s, domain.StateConnected)

	// connection is probed immediately
	require.Eventually(t, func() bool { return tr.sentCount() >= 1 }, time.Second, time.Millisecond)
}

func TestUntaggedAnswerIsRepaired(t *testing.T) {
	s, factory, _, _ := newTestSession(t, domain.RoleInitiator)
	require.NoError(t, s.Start(context.Background()))

	tr := factory.get(0)
	s.HandleSignal("", []byte(`{"sdp":"v=0\r\n"}`))

	require.Eventually(t, func() bool { return tr.signalCount() == 1 }, time.Second, time.Millisecond)
	tr.mu.Lock()
	kind := tr.signals[0].kind
	tr.mu.Unlock()
	assert.Equal(t, domain.KindAnswer, kind)
}

func TestUnclassifiablePayloadFailsSession(t *testing.T) {
	s, factory, _, _ := newTestSession(t, domain.RoleInitiator)
	require.NoError(t, s.Start(context.Background()))

	s.HandleSignal("", []byte(`{"foo":"bar"}`))

	waitForState(t, s, domain.StateFailed)
	assert.True(t, factory.get(0).isClosed())
}

func TestDisconnectNotifiedExactlyOnce(t *testing.T) {
	s, factory, _, _ := newTestSession(t, domain.RoleInitiator)

	var disconnects atomic.Int32
	s.OnDisconnected(func() { disconnects.Add(1) })

	require.NoError(t, s.Start(context.Background()))
	tr := factory.get(0)
	tr.fireConnected()
	waitForState(t, s, domain.StateConnected)

	tr.fireClosed()
	tr.fireClosed()
	s.PeerLeft()

	waitForState(t, s, domain.StateClosed)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), disconnects.Load())
}

func TestNoBridgeCallbacksAfterClose(t *testing.T) {
	s, factory, bridge, _ := newTestSession(t, domain.RoleInitiator)
	require.NoError(t, s.Start(context.Background()))

	tr := factory.get(0)
	tr.fireConnected()
	waitForState(t, s, domain.StateConnected)

	s.Close()
	tr.fireData(encodeBatch(testBatch(2, 1)))

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, bridge.batchCount())
}

func TestCloseIsTerminal(t *testing.T) {
	s, factory, _, _ := newTestSession(t, domain.RoleInitiator)
	require.NoError(t, s.Start(context.Background()))

	s.Close()
	assert.Equal(t, domain.StateClosed, s.State())

	// late transport callbacks cannot resurrect the session
	factory.get(0).fireConnected()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, domain.StateClosed, s.State())
}

func TestCloseDuringRebuildClosesEveryTransport(t *testing.T) {
	// Close racing the overflow rebuild must never leave a freshly built
	// transport open behind a stale reference.
	for i := 0; i < 25; i++ {
		s, factory, _, _ := newTestSession(t, domain.RoleInitiator)
		require.NoError(t, s.Start(context.Background()))

		tr1 := factory.get(0)
		tr1.setSendErr(errors.New("send queue full"))
		tr1.fireConnected()
		waitForState(t, s, domain.StateConnected)

		// the failed flush posts the overflow; Close lands mid-rebuild
		require.NoError(t, s.SubmitPointBatch([]float32{1, 2, 3}, []float32{4, 5, 6}))
		s.Close()

		require.Eventually(t, func() bool {
			for j := 0; j < factory.count(); j++ {
				if !factory.get(j).isClosed() {
					return false
				}
			}
			return true
		}, time.Second, time.Millisecond, "iteration %d left a transport open", i)
	}
}

func TestOverflowRebuildsOnceThenSaturates(t *testing.T) {
	s, factory, _, _ := newTestSession(t, domain.RoleInitiator)

	var saturations atomic.Int32
	s.OnSaturated(func() { saturations.Add(1) })

	require.NoError(t, s.Start(context.Background()))
	tr1 := factory.get(0)
	tr1.setSendErr(errors.New("send queue full"))
	tr1.fireConnected()
	waitForState(t, s, domain.StateConnected)

	// first failed flush spends the one automatic rebuild
	require.NoError(t, s.SubmitPointBatch([]float32{1, 2, 3}, []float32{4, 5, 6}))
	require.Eventually(t, func() bool { return factory.count() == 2 }, time.Second, time.Millisecond)

	assert.True(t, tr1.isClosed())
	waitForState(t, s, domain.StateNegotiating)
	tr2 := factory.get(1)
	require.Eventually(t, func() bool { return tr2.wasInitiated() }, time.Second, time.Millisecond)

	// the rebuilt transport overflows as well: surfaced, no second rebuild
	tr2.setSendErr(errors.New("send queue full"))
	tr2.fireConnected()
	waitForState(t, s, domain.StateConnected)

	require.NoError(t, s.SubmitPointBatch([]float32{1, 2, 3}, []float32{4, 5, 6}))
	require.Eventually(t, func() bool { return saturations.Load() >= 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 2, factory.count())
}
