package services

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"sync"
	"time"

	"pointlink/internal/core/domain"
	"pointlink/internal/core/ports"

	"go.uber.org/zap"
)

// Control message discriminators carried over the data channel alongside
// binary point-cloud payloads.
const (
	ctrlPointCloudData = "pointCloudData"
	ctrlViewModeChange = "viewModeChange"
	ctrlTest           = "test"
	ctrlTestResponse   = "testResponse"
)

type controlEnvelope struct {
	Type      string    `json:"type"`
	Mode      string    `json:"mode,omitempty"`
	Positions []float32 `json:"positions,omitempty"`
	Colors    []float32 `json:"colors,omitempty"`
	SentAt    int64     `json:"sentAt,omitempty"`
}

// PointCloudConfig tunes the transport protocol.
type PointCloudConfig struct {
	// SendInterval is the rate gate: at most one batch is transmitted per
	// interval.
	SendInterval time.Duration

	// SampleStride keeps every Nth point before encoding.
	SampleStride int

	// BufferCeiling is the backpressure gate: transmission is skipped while
	// the transport's outstanding bytes are at or above it.
	BufferCeiling int
}

// DefaultPointCloudConfig mirrors the shipped configuration defaults.
func DefaultPointCloudConfig() PointCloudConfig {
	return PointCloudConfig{
		SendInterval:  500 * time.Millisecond,
		SampleStride:  10,
		BufferCeiling: 5 * 1024 * 1024,
	}
}

// PointCloudProtocol carries point batches over the auxiliary data
// transport without starving the media stream or growing the transport's
// send buffer unbounded.
//
// Point-cloud data is a continuously refreshed state stream: staleness
// matters more than completeness. Submit therefore never blocks and never
// queues more than the single latest batch; the gate timer transmits that
// batch and drops everything submitted in between.
type PointCloudProtocol struct {
	cfg     PointCloudConfig
	bridge  ports.CaptureBridge
	metrics ports.MetricsSink
	logger  *zap.SugaredLogger

	mu          sync.Mutex
	transport   ports.PeerTransport // nil until the session binds one
	pending     *domain.PointBatch  // latest downsampled batch, not yet sent
	submissions int
	overflowed  bool
	closed      bool

	onOverflow  func() // first send-queue overflow: ask the session to rebuild
	onSaturated func() // repeated overflow: surface to the caller

	done     chan struct{}
	stopOnce sync.Once
}

func NewPointCloudProtocol(cfg PointCloudConfig, bridge ports.CaptureBridge, metrics ports.MetricsSink, log *zap.Logger) *PointCloudProtocol {
	if cfg.SendInterval <= 0 {
		cfg.SendInterval = 500 * time.Millisecond
	}
	if cfg.SampleStride < 1 {
		cfg.SampleStride = 1
	}
	if cfg.BufferCeiling <= 0 {
		cfg.BufferCeiling = 5 * 1024 * 1024
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &PointCloudProtocol{
		cfg:     cfg,
		bridge:  bridge,
		metrics: metrics,
		logger:  log.Sugar(),
		done:    make(chan struct{}),
	}
}

// OnOverflow registers the session hook invoked on the first send-queue
// overflow of the transport's lifetime.
func (p *PointCloudProtocol) OnOverflow(fn func()) {
	p.mu.Lock()
	p.onOverflow = fn
	p.mu.Unlock()
}

// OnSaturated registers the hook invoked when overflow repeats after the
// one rebuild attempt has been spent.
func (p *PointCloudProtocol) OnSaturated(fn func()) {
	p.mu.Lock()
	p.onSaturated = fn
	p.mu.Unlock()
}

// Start runs the rate-gate timer until Stop.
func (p *PointCloudProtocol) Start() {
	go p.gateLoop()
}

// Stop halts the rate-gate timer and rejects further submissions. It is
// safe to call more than once.
func (p *PointCloudProtocol) Stop() {
	p.stopOnce.Do(func() { close(p.done) })
	p.mu.Lock()
	p.closed = true
	p.pending = nil
	p.mu.Unlock()
}

// Bind attaches a (re)established data transport and immediately flushes
// the batch that was waiting for it, if any.
func (p *PointCloudProtocol) Bind(t ports.PeerTransport) {
	p.mu.Lock()
	p.transport = t
	p.mu.Unlock()
	p.flush()
}

// Unbind detaches the transport, parking submissions until the next Bind.
func (p *PointCloudProtocol) Unbind() {
	p.mu.Lock()
	p.transport = nil
	p.mu.Unlock()
}

// Submit offers a batch for transmission. Invalid batches are rejected with
// no side effect. A valid batch replaces whatever was pending; whether it is
// ever transmitted depends on the rate and backpressure gates. Submit never
// blocks the caller.
func (p *PointCloudProtocol) Submit(batch domain.PointBatch) error {
	if err := batch.Validate(); err != nil {
		p.metrics.RecordBatchDropped("invalid")
		return err
	}

	sampled := batch.Downsample(p.cfg.SampleStride)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return domain.ErrSessionClosed
	}
	p.pending = &sampled
	p.submissions++
	return nil
}

func (p *PointCloudProtocol) gateLoop() {
	ticker := time.NewTicker(p.cfg.SendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.mu.Lock()
			n := p.submissions
			p.submissions = 0
			p.mu.Unlock()
			p.metrics.RecordFrameRate(float64(n) / p.cfg.SendInterval.Seconds())
			p.flush()
		}
	}
}

// flush transmits the pending batch if the transport is bound and below the
// backpressure ceiling. A skipped batch stays pending: it remains the
// freshest sample until a newer submission replaces it.
func (p *PointCloudProtocol) flush() {
	p.mu.Lock()
	t := p.transport
	batch := p.pending
	if t == nil || batch == nil || p.closed {
		p.mu.Unlock()
		return
	}

	outstanding := t.OutstandingBytes()
	p.metrics.RecordOutstandingBytes(outstanding)
	if outstanding >= p.cfg.BufferCeiling {
		p.mu.Unlock()
		p.metrics.RecordBatchDropped("backpressure")
		p.logger.Debugw("send skipped, transport saturated",
			"outstanding_bytes", outstanding, "ceiling", p.cfg.BufferCeiling)
		return
	}

	p.pending = nil
	p.mu.Unlock()

	data := encodeBatch(*batch)
	if err := t.SendData(data); err != nil {
		p.handleSendFailure(err)
		return
	}
	p.metrics.RecordBatchSent(batch.NumPoints(), len(data))
}

func (p *PointCloudProtocol) handleSendFailure(err error) {
	p.metrics.RecordBatchDropped("send_error")

	p.mu.Lock()
	first := !p.overflowed
	p.overflowed = true
	overflow, saturated := p.onOverflow, p.onSaturated
	p.mu.Unlock()

	if first {
		p.logger.Warnw("data transport send failed, requesting rebuild", "error", err)
		if overflow != nil {
			overflow()
		}
		return
	}

	p.logger.Warnw("data transport saturated", "error", err)
	if saturated != nil {
		saturated()
	}
}

// SendViewMode notifies the counterparty of a rendering mode switch.
func (p *PointCloudProtocol) SendViewMode(mode domain.ViewMode) error {
	return p.sendControl(controlEnvelope{Type: ctrlViewModeChange, Mode: string(mode)})
}

// SendProbe transmits a liveness probe; the counterparty echoes it back as
// a testResponse and the round trip lands in the metrics sink.
func (p *PointCloudProtocol) SendProbe() error {
	return p.sendControl(controlEnvelope{Type: ctrlTest, SentAt: time.Now().UnixMilli()})
}

func (p *PointCloudProtocol) sendControl(env controlEnvelope) error {
	p.mu.Lock()
	t := p.transport
	p.mu.Unlock()
	if t == nil {
		return domain.ErrTransportNotReady
	}

	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return t.SendData(data)
}

// HandleMessage is the receive path for everything arriving on the data
// channel. Control envelopes are dispatched by discriminator; anything else
// is treated as a binary point-cloud payload. Garbage is dropped and
// logged, never fatal.
func (p *PointCloudProtocol) HandleMessage(raw []byte) {
	if len(raw) == 0 {
		p.logger.Debugw("empty data channel message dropped")
		return
	}

	var env controlEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Type != "" {
		p.handleControl(env)
		return
	}

	batch, err := decodeBatch(raw)
	if err != nil {
		p.logger.Warnw("undecodable data channel message dropped",
			"bytes", len(raw), "error", err)
		return
	}
	p.bridge.OnPointBatch(batch)
}

func (p *PointCloudProtocol) handleControl(env controlEnvelope) {
	switch env.Type {
	case ctrlPointCloudData:
		batch := domain.PointBatch{Positions: env.Positions, Colors: env.Colors}
		if err := batch.Validate(); err != nil {
			p.logger.Warnw("invalid point batch in control message", "error", err)
			return
		}
		p.bridge.OnPointBatch(batch)

	case ctrlViewModeChange:
		mode, err := domain.ParseViewMode(env.Mode)
		if err != nil {
			p.logger.Warnw("unknown view mode rejected", "mode", env.Mode)
			return
		}
		p.bridge.OnViewModeChange(mode)

	case ctrlTest:
		if err := p.sendControl(controlEnvelope{Type: ctrlTestResponse, SentAt: env.SentAt}); err != nil {
			p.logger.Debugw("probe response failed", "error", err)
		}

	case ctrlTestResponse:
		if env.SentAt > 0 {
			rtt := time.Duration(time.Now().UnixMilli()-env.SentAt) * time.Millisecond
			p.metrics.RecordLatency(rtt)
			p.logger.Debugw("data channel probe round trip", "rtt", rtt)
		}

	default:
		p.logger.Warnw("unknown control message dropped", "type", env.Type)
	}
}

// encodeBatch packs positions then colors into one contiguous little-endian
// float32 buffer. Both halves are always the same length by construction,
// so no framing is needed: the split is at len/2.
func encodeBatch(b domain.PointBatch) []byte {
	out := make([]byte, 4*(len(b.Positions)+len(b.Colors)))
	off := 0
	for _, v := range b.Positions {
		binary.LittleEndian.PutUint32(out[off:], math.Float32bits(v))
		off += 4
	}
	for _, v := range b.Colors {
		binary.LittleEndian.PutUint32(out[off:], math.Float32bits(v))
		off += 4
	}
	return out
}

// decodeBatch splits a binary payload at the midpoint into positions and
// colors. Rejects anything that cannot be a well-formed batch.
func decodeBatch(raw []byte) (domain.PointBatch, error) {
	if len(raw) == 0 || len(raw)%4 != 0 {
		return domain.PointBatch{}, domain.ErrMalformedPayload
	}
	elems := len(raw) / 4
	if elems%2 != 0 {
		return domain.PointBatch{}, domain.ErrMalformedPayload
	}
	half := elems / 2
	if half%3 != 0 {
		return domain.PointBatch{}, domain.ErrBatchNotTriples
	}

	values := make([]float32, elems)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	batch := domain.PointBatch{
		Positions: values[:half],
		Colors:    values[half:],
	}
	return batch, batch.Validate()
}
