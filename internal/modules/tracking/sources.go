package tracking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"foodtrack/internal/modules/location"
	"foodtrack/internal/modules/order"
	"foodtrack/internal/types"
)

// DefaultMaxMisses is how many empty polls a never-seen agent feed gets
// before the feed is declared unavailable.
const DefaultMaxMisses = 3

// LatestReader is satisfied by *location.Service.
type LatestReader interface {
	Latest(ctx context.Context, orderID types.ID) (location.Sample, error)
}

// AgentFeed polls the latest submitted agent position for one order.
type AgentFeed struct {
	reader    LatestReader
	orderID   types.ID
	maxMisses int

	mu     sync.Mutex
	misses int
	seen   bool
}

func NewAgentFeed(reader LatestReader, orderID types.ID, maxMisses int) *AgentFeed {
	if maxMisses <= 0 {
		maxMisses = DefaultMaxMisses
	}
	return &AgentFeed{reader: reader, orderID: orderID, maxMisses: maxMisses}
}

func (f *AgentFeed) Poll(ctx context.Context) (Reading, error) {
	smp, err := f.reader.Latest(ctx, f.orderID)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		if !f.seen {
			f.misses++
			if f.misses >= f.maxMisses {
				return Reading{}, errors.Join(ErrSourceUnavailable, err)
			}
		}
		if errors.Is(err, location.ErrNoSample) {
			return Reading{}, ErrNoReading
		}
		return Reading{}, err
	}
	f.seen = true
	f.misses = 0
	return Reading{
		Position:       smp.Position,
		AccuracyMeters: smp.AccuracyMeters,
		CapturedAt:     smp.CapturedAt,
	}, nil
}

type SourceConfig struct {
	PollInterval time.Duration
	SimTick      time.Duration
	Sim          SimConfig
	MaxMisses    int
}

// AgentSources reads submitted agent positions and switches to simulated
// movement when the agent never reports. A nil reader always simulates.
func AgentSources(reader LatestReader, cfg SourceConfig, logger *slog.Logger) SourceFactory {
	return func(o *order.Order) Source {
		sim := PollSource{
			Poller:   NewSimulator(SimulatedStart(o.Destination, o.Status), o.Destination, cfg.Sim),
			Interval: cfg.SimTick,
			Logger:   logger,
		}
		if reader == nil {
			return sim
		}
		return FailoverSource{
			Primary: PollSource{
				Poller:   NewAgentFeed(reader, o.ID, cfg.MaxMisses),
				Interval: cfg.PollInterval,
				Logger:   logger,
			},
			Fallback: sim,
			Logger:   logger,
		}
	}
}
