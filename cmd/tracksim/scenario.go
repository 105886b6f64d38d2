// README: In-process delivery scenario driving the order, tracking and viewport packages.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"foodtrack/internal/geo"
	"foodtrack/internal/maps"
	"foodtrack/internal/modules/order"
	"foodtrack/internal/modules/tracking"
	"foodtrack/internal/types"
	"foodtrack/internal/viewport"
)

var (
	simCustomer = order.Actor{ID: "sim-customer", Role: order.RoleCustomer}
	simChef     = order.Actor{ID: "sim-chef", Role: order.RoleChef}
	simRider    = order.Actor{ID: "sim-rider", Role: order.RoleDelivery}
)

type frame struct {
	Elapsed  string            `json:"elapsed"`
	Snapshot tracking.Snapshot `json:"snapshot"`
	View     viewport.View     `json:"view"`
}

func runScenario(ctx context.Context, opts options, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	orders := order.NewService(order.NewMemoryStore(), order.WithLogger(logger))
	resolver := maps.NewResolver(maps.StraightLineProvider{Detour: 1.3}, 2*time.Second, logger)
	sources := tracking.AgentSources(nil, tracking.SourceConfig{
		SimTick: opts.Tick,
		Sim:     tracking.SimConfig{Fraction: opts.Fraction, SpeedMPS: opts.SpeedMPS},
	}, logger)
	tracker := tracking.NewTracker(orders, resolver, sources, logger,
		tracking.WithSessionConfig(tracking.SessionConfig{
			Sampler: tracking.SamplerConfig{
				ThresholdMeters: opts.ThresholdMeters,
				MinInterval:     opts.Debounce,
			},
		}))
	defer tracker.Shutdown()
	orders.SetNotifier(tracker)

	dest := types.Point{Lat: opts.DestLat, Lng: opts.DestLng}
	o, err := orders.Place(ctx, order.PlaceCommand{
		CustomerID:      simCustomer.ID,
		Items:           []order.PlaceItem{{FoodItemID: "momo", Quantity: 2, UnitPrice: 180}},
		Destination:     dest,
		DeliveryAddress: "simulated",
		DeliveryPhone:   "0000000000",
		PaymentMethod:   order.PaymentCashOnDelivery,
	})
	if err != nil {
		return fmt.Errorf("place order: %w", err)
	}

	cam := viewport.NewController(viewport.Config{})
	start := time.Now()
	emit := func(snap tracking.Snapshot) error {
		points := []types.Point{snap.Destination}
		if snap.Position != nil {
			points = append(points, *snap.Position)
		}
		return writeFrame(out, opts.Format, frame{
			Elapsed:  time.Since(start).Round(time.Millisecond).String(),
			Snapshot: snap,
			View:     cam.Observe(points...),
		})
	}

	for _, s := range []order.Status{order.StatusConfirmed, order.StatusPreparing, order.StatusReady} {
		if _, err := orders.Advance(ctx, order.AdvanceCommand{OrderID: o.ID, Target: s, Actor: simChef}); err != nil {
			return fmt.Errorf("advance to %s: %w", s, err)
		}
		snap, err := tracker.Snapshot(ctx, o.ID)
		if err != nil {
			return err
		}
		if err := emit(snap); err != nil {
			return err
		}
	}
	if _, err := orders.Advance(ctx, order.AdvanceCommand{OrderID: o.ID, Target: order.StatusPickedUp, Actor: simRider}); err != nil {
		return fmt.Errorf("pick up: %w", err)
	}

	updates, unsubscribe, err := tracker.Subscribe(ctx, o.ID)
	if err != nil {
		return err
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("delivery not completed: %w", ctx.Err())
		case snap, ok := <-updates:
			if !ok {
				final, err := orders.Get(ctx, o.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "order %s %s after %s\n", final.ID, final.Status, time.Since(start).Round(time.Millisecond))
				return nil
			}
			if err := emit(snap); err != nil {
				return err
			}
			if snap.Position != nil && geo.DistanceMeters(*snap.Position, dest) <= opts.ArriveMeters {
				if _, err := orders.Advance(ctx, order.AdvanceCommand{OrderID: o.ID, Target: order.StatusDelivered, Actor: simRider}); err != nil {
					return fmt.Errorf("deliver: %w", err)
				}
			}
		}
	}
}

func writeFrame(out io.Writer, format string, f frame) error {
	if format == "json" {
		return json.NewEncoder(out).Encode(f)
	}
	s := f.Snapshot
	pos := "-"
	if s.Position != nil {
		pos = s.Position.String()
	}
	_, err := fmt.Fprintf(out, "%8s  %-10s pos=%s dist=%.0fm eta=%s band=%s route=%t stale=%t view=%s rot=%.0f\n",
		f.Elapsed, s.Status, pos, s.DistanceMeters,
		(time.Duration(s.ETASeconds) * time.Second).String(), s.ETABand,
		s.HasRoute, s.Stale, f.View.Center.String(), f.View.RotationDeg)
	return err
}
