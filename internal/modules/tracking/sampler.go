// README: Sampler filters raw readings by significance and debounces what it forwards.
package tracking

import (
	"context"
	"log/slog"
	"time"

	"foodtrack/internal/geo"
	"foodtrack/internal/types"
)

const (
	DefaultThresholdMeters = 10.0
	DefaultMinInterval     = time.Second
)

// DefaultFallback is Kathmandu city centre.
var DefaultFallback = types.Point{Lat: 27.7172, Lng: 85.3240}

type SamplerConfig struct {
	ThresholdMeters float64
	MinInterval     time.Duration
	Fallback        types.Point
}

func (c SamplerConfig) withDefaults() SamplerConfig {
	if c.ThresholdMeters <= 0 {
		c.ThresholdMeters = DefaultThresholdMeters
	}
	if c.MinInterval <= 0 {
		c.MinInterval = DefaultMinInterval
	}
	if c.Fallback == (types.Point{}) {
		c.Fallback = DefaultFallback
	}
	return c
}

// SampleEvent is what a Sampler hands to its consumer. Unavailable events
// are sent once per run; Fallback marks a reading at the configured default
// coordinate rather than a real fix.
type SampleEvent struct {
	Reading     Reading
	HasReading  bool
	Unavailable bool
	Fallback    bool
	Err         error
	EmittedAt   time.Time
}

type Sampler struct {
	src    Source
	cfg    SamplerConfig
	logger *slog.Logger
}

func NewSampler(src Source, cfg SamplerConfig, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{src: src, cfg: cfg.withDefaults(), logger: logger}
}

// Run starts the source and forwards significant, debounced readings to
// onUpdate until ctx is done. The source is stopped on every return path.
// onUpdate is always called from the Run goroutine.
func (s *Sampler) Run(ctx context.Context, onUpdate func(SampleEvent)) {
	srcCtx, stop := context.WithCancel(ctx)
	readings := make(chan Reading)
	srcDone := make(chan error, 1)
	go func() { srcDone <- s.src.Run(srcCtx, readings) }()
	srcFinished := false
	defer func() {
		stop()
		if !srcFinished {
			<-srcDone
		}
	}()

	var (
		last     Reading
		hasLast  bool
		lastSeen time.Time
		lastEmit time.Time
		pending  *Reading
		timer    *time.Timer
		timerC   <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	emit := func(ev SampleEvent) {
		ev.EmittedAt = time.Now()
		if ev.HasReading {
			last, hasLast = ev.Reading, true
			lastEmit = ev.EmittedAt
		}
		onUpdate(ev)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case r := <-readings:
			if !lastSeen.IsZero() && r.CapturedAt.Before(lastSeen) {
				continue
			}
			lastSeen = r.CapturedAt
			if hasLast && geo.DistanceMeters(last.Position, r.Position) <= s.cfg.ThresholdMeters {
				continue
			}
			wait := s.cfg.MinInterval - time.Since(lastEmit)
			if lastEmit.IsZero() || (wait <= 0 && pending == nil) {
				emit(SampleEvent{Reading: r, HasReading: true})
				continue
			}
			pending = &r
			if timerC == nil {
				timer = time.NewTimer(wait)
				timerC = timer.C
			}

		case <-timerC:
			timerC = nil
			if pending != nil {
				emit(SampleEvent{Reading: *pending, HasReading: true})
				pending = nil
			}

		case err := <-srcDone:
			srcFinished = true
			srcDone = nil
			if err == nil || ctx.Err() != nil {
				continue
			}
			s.logger.WarnContext(ctx, "position source unavailable", "error", err)
			ev := SampleEvent{Unavailable: true, Err: err}
			if !hasLast && pending == nil {
				ev.Reading = Reading{Position: s.cfg.Fallback, CapturedAt: time.Now()}
				ev.HasReading = true
				ev.Fallback = true
			}
			emit(ev)
		}
	}
}
