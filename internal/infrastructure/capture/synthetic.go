package capture

import (
	"context"
	"math"
	"sync"
	"time"

	"pointlink/internal/core/domain"
	"pointlink/internal/core/ports"

	"go.uber.org/zap"
)

// SyntheticSource fabricates a drifting point field so an agent can run
// loopback and soak tests without a depth camera attached. It implements
// ports.CaptureBridge; inbound batches and view-mode switches are logged
// and counted, not rendered.
type SyntheticSource struct {
	points int
	phase  float64
	logger *zap.SugaredLogger

	// every peer session delivers callbacks from its own transport
	// goroutine, so the inbound counters share a mutex
	mu       sync.Mutex
	received int64
	mode     domain.ViewMode
}

func NewSyntheticSource(points int, log *zap.Logger) *SyntheticSource {
	if points < 1 {
		points = 1
	}
	return &SyntheticSource{
		points: points,
		logger: log.Sugar(),
		mode:   domain.ViewModeHybrid,
	}
}

// Media reports no local tracks; the synthetic agent is data-channel only.
func (s *SyntheticSource) Media() ports.MediaSource { return nil }

func (s *SyntheticSource) OnPointBatch(batch domain.PointBatch) {
	s.mu.Lock()
	s.received++
	total := s.received
	s.mu.Unlock()

	if total%100 == 1 {
		s.logger.Debugw("point batch received",
			"points", batch.NumPoints(),
			"total_batches", total,
		)
	}
}

func (s *SyntheticSource) OnViewModeChange(mode domain.ViewMode) {
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
	s.logger.Infow("view mode changed", "mode", mode)
}

// BatchesReceived reports how many inbound batches arrived so far.
func (s *SyntheticSource) BatchesReceived() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received
}

// Mode returns the most recently requested rendering mode.
func (s *SyntheticSource) Mode() domain.ViewMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// NextFrame advances the field one step and returns its flattened
// positions and colors.
func (s *SyntheticSource) NextFrame() (positions, colors []float32) {
	positions = make([]float32, 0, s.points*3)
	colors = make([]float32, 0, s.points*3)

	for i := 0; i < s.points; i++ {
		u := float64(i) / float64(s.points)
		angle := u*2*math.Pi + s.phase

		x := math.Cos(angle)
		y := math.Sin(angle*3) * 0.5
		z := math.Sin(angle)
		positions = append(positions, float32(x), float32(y), float32(z))

		colors = append(colors,
			float32(0.5+0.5*math.Sin(angle)),
			float32(0.5+0.5*math.Cos(angle)),
			float32(u),
		)
	}

	s.phase += 0.05
	return positions, colors
}

// Run generates frames at the given interval and feeds them to submit
// until the context is cancelled. Submit errors are logged and the frame
// dropped; the generator keeps going.
func (s *SyntheticSource) Run(ctx context.Context, interval time.Duration, submit func(positions, colors []float32) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			positions, colors := s.NextFrame()
			if err := submit(positions, colors); err != nil {
				s.logger.Warnw("frame submit failed", "error", err)
			}
		}
	}
}
