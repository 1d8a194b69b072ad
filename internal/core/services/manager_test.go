package services

import (
	"bytes"
	"context"
	"testing"
	"time"

	"pointlink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T) (*SessionManager, *fakeFactory) {
	t.Helper()

	factory := &fakeFactory{}
	cfg := PointCloudConfig{
		SendInterval:  testGateInterval,
		SampleStride:  1,
		BufferCeiling: 5 * 1024 * 1024,
	}
	m := NewSessionManager("alice", cfg, &fakeSignaler{}, &fakeBridge{}, factory.factory, nil, zap.NewNop())
	t.Cleanup(m.CloseAll)
	return m, factory
}

func TestManagerInitiatesTowardArrivals(t *testing.T) {
	m, factory := newTestManager(t)
	ctx := context.Background()

	m.Dispatch(ctx, domain.Envelope{Type: domain.KindUserConnected, From: "bob"})

	s, ok := m.Session("bob")
	require.True(t, ok)
	assert.Equal(t, domain.RoleInitiator, s.cfg.Role)
	require.Equal(t, 1, factory.count())
	assert.True(t, factory.get(0).wasInitiated())
}

func TestManagerRespondsToOffers(t *testing.T) {
	m, factory := newTestManager(t)
	ctx := context.Background()

	m.Dispatch(ctx, domain.Envelope{
		Type:    domain.KindOffer,
		From:    "bob",
		Payload: []byte(`{"type":"offer","sdp":"v=0"}`),
	})

	s, ok := m.Session("bob")
	require.True(t, ok)
	assert.Equal(t, domain.RoleResponder, s.cfg.Role)

	tr := factory.get(0)
	require.Eventually(t, func() bool { return tr.wasAccepted() }, time.Second, time.Millisecond)
	assert.False(t, tr.wasInitiated())
}

func TestManagerOneSessionPerPeer(t *testing.T) {
	m, factory := newTestManager(t)
	ctx := context.Background()

	m.Dispatch(ctx, domain.Envelope{Type: domain.KindUserConnected, From: "bob"})
	m.Dispatch(ctx, domain.Envelope{Type: domain.KindUserConnected, From: "bob"})
	m.Dispatch(ctx, domain.Envelope{
		Type:    domain.KindOffer,
		From:    "bob",
		Payload: []byte(`{"type":"offer","sdp":"v=0"}`),
	})

	assert.Equal(t, 1, factory.count())
}

func TestManagerIgnoresSelfAndBlankArrivals(t *testing.T) {
	m, factory := newTestManager(t)
	ctx := context.Background()

	m.Dispatch(ctx, domain.Envelope{Type: domain.KindUserConnected, From: "alice"})
	m.Dispatch(ctx, domain.Envelope{Type: domain.KindUserConnected})

	assert.Zero(t, factory.count())
}

func TestManagerDropsSessionOnDeparture(t *testing.T) {
	m, factory := newTestManager(t)
	ctx := context.Background()

	m.Dispatch(ctx, domain.Envelope{Type: domain.KindUserConnected, From: "bob"})
	s, _ := m.Session("bob")

	m.Dispatch(ctx, domain.Envelope{Type: domain.KindUserDisconnected, From: "bob"})

	_, ok := m.Session("bob")
	assert.False(t, ok)
	assert.Equal(t, domain.StateClosed, s.State())
	assert.True(t, factory.get(0).isClosed())
}

func TestManagerDropsSignalsForUnknownPeers(t *testing.T) {
	m, factory := newTestManager(t)
	ctx := context.Background()

	m.Dispatch(ctx, domain.Envelope{
		Type:    domain.KindAnswer,
		From:    "stranger",
		Payload: []byte(`{"type":"answer","sdp":"v=0"}`),
	})

	_, ok := m.Session("stranger")
	assert.False(t, ok)
	assert.Zero(t, factory.count())
}

func TestManagerBroadcastsBatches(t *testing.T) {
	m, factory := newTestManager(t)
	ctx := context.Background()

	m.Dispatch(ctx, domain.Envelope{Type: domain.KindUserConnected, From: "bob"})
	m.Dispatch(ctx, domain.Envelope{Type: domain.KindUserConnected, From: "carol"})
	require.Equal(t, 2, factory.count())

	factory.get(0).fireConnected()
	factory.get(1).fireConnected()
	for _, name := range []domain.MemberID{"bob", "carol"} {
		s, _ := m.Session(name)
		waitForState(t, s, domain.StateConnected)
	}

	require.NoError(t, m.SubmitPointBatch([]float32{1, 2, 3}, []float32{4, 5, 6}))

	// one gated transmission per session; probes are JSON, batches binary
	want := encodeBatch(domain.PointBatch{Positions: []float32{1, 2, 3}, Colors: []float32{4, 5, 6}})
	for i := 0; i < 2; i++ {
		tr := factory.get(i)
		require.Eventually(t, func() bool {
			tr.mu.Lock()
			defer tr.mu.Unlock()
			for _, msg := range tr.sent {
				if bytes.Equal(msg, want) {
					return true
				}
			}
			return false
		}, time.Second, time.Millisecond, "session %d never transmitted the batch", i)
	}

	err := m.SubmitPointBatch([]float32{1, 2}, []float32{3, 4})
	assert.ErrorIs(t, err, domain.ErrBatchNotTriples)
}

func TestManagerRunClosesSessionsWhenStreamEnds(t *testing.T) {
	m, factory := newTestManager(t)

	events := make(chan domain.Envelope, 4)
	events <- domain.Envelope{Type: domain.KindUserConnected, From: "bob"}
	close(events)

	m.Run(context.Background(), events)

	require.Equal(t, 1, factory.count())
	assert.True(t, factory.get(0).isClosed())
}
