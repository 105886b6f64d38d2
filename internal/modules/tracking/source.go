// README: Position sources. Polled and pushed producers share one interface.
package tracking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"foodtrack/internal/types"
)

// Reading is one raw position fix from a source.
type Reading struct {
	Position       types.Point `json:"position"`
	AccuracyMeters float64     `json:"accuracy_meters,omitempty"`
	CapturedAt     time.Time   `json:"captured_at"`
}

// Source produces readings into out until ctx is done or the source fails.
// Run owns every resource it acquires and releases it before returning.
// A nil return means the source ended normally.
type Source interface {
	Run(ctx context.Context, out chan<- Reading) error
}

// Poller is a pull-style source such as a location store or a simulator.
type Poller interface {
	Poll(ctx context.Context) (Reading, error)
}

// PollSource turns a Poller into a Source by polling on a fixed interval.
// ErrNoReading is skipped; ErrSourceUnavailable ends the source. Any other
// error is retried with exponential backoff capped at MaxBackoff.
type PollSource struct {
	Poller     Poller
	Interval   time.Duration
	MaxBackoff time.Duration
	Logger     *slog.Logger
}

const defaultMaxPollBackoff = 30 * time.Second

func (p PollSource) retryPolicy(interval time.Duration) *backoff.ExponentialBackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = interval
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.2
	eb.MaxInterval = max(p.MaxBackoff, interval)
	if p.MaxBackoff <= 0 {
		eb.MaxInterval = max(defaultMaxPollBackoff, interval)
	}
	eb.MaxElapsedTime = 0
	eb.Reset()
	return eb
}

func (p PollSource) Run(ctx context.Context, out chan<- Reading) error {
	interval := p.Interval
	if interval <= 0 {
		interval = time.Second
	}
	retry := p.retryPolicy(interval)
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		wait := interval
		r, err := p.Poller.Poll(ctx)
		switch {
		case err == nil:
			retry.Reset()
			select {
			case out <- r:
			case <-ctx.Done():
				return nil
			}
		case errors.Is(err, ErrSourceUnavailable):
			return err
		case errors.Is(err, ErrNoReading), ctx.Err() != nil:
			retry.Reset()
		default:
			wait = retry.NextBackOff()
			if p.Logger != nil {
				p.Logger.WarnContext(ctx, "position poll failed", "error", err, "retry_in", wait)
			}
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}
}

// PushSource forwards readings pushed by another producer, e.g. a device
// stream. A closed channel ends the source.
type PushSource struct {
	C <-chan Reading
}

func (p PushSource) Run(ctx context.Context, out chan<- Reading) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case r, ok := <-p.C:
			if !ok {
				return nil
			}
			select {
			case out <- r:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// FailoverSource runs Primary and switches to Fallback once Primary fails.
type FailoverSource struct {
	Primary  Source
	Fallback Source
	Logger   *slog.Logger
}

func (f FailoverSource) Run(ctx context.Context, out chan<- Reading) error {
	err := f.Primary.Run(ctx, out)
	if err == nil || ctx.Err() != nil || f.Fallback == nil {
		return err
	}
	if f.Logger != nil {
		f.Logger.WarnContext(ctx, "primary position source failed, switching to fallback", "error", err)
	}
	return f.Fallback.Run(ctx, out)
}
