package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/cadence"
	"github.com/jpalmerr/cadence/adaptive"
	"github.com/jpalmerr/cadence/eventbus"
)

func main() {
	// start mock server (see mock_server.go)
	go StartMockHealthServer(":9999")
	time.Sleep(100 * time.Millisecond)

	var endpoints []cadence.Endpoint
	for _, svc := range []string{"users", "orders", "billing"} {
		ep, err := cadence.NewEndpoint(svc, "http://localhost:9999/health?svc="+svc,
			cadence.WithExtractor(cadence.JSONFieldExtractor("status")),
			cadence.WithLabels("env", "demo"),
		)
		if err != nil {
			slog.Error("failed to create endpoint", "error", err)
			os.Exit(1)
		}
		endpoints = append(endpoints, ep)
	}

	// an external endpoint that backs off to a slower ceiling
	github, _ := cadence.NewEndpoint("GitHub", "https://api.github.com",
		cadence.WithEndpointPolicy(adaptive.Policy{
			MinInterval: 10 * time.Second,
			MaxInterval: 5 * time.Minute,
			BackoffStep: 30 * time.Second,
		}),
	)
	endpoints = append(endpoints, github)

	bus := eventbus.New()
	eventbus.Listen(bus, cadence.EventCycle, func(c adaptive.Cycle) {
		slog.Debug("cycle", "endpoint", c.Name, "outcome", c.Outcome, "next", c.Interval)
	})

	board, err := cadence.New(
		cadence.WithTitle("Cadence Demo"),
		cadence.WithEndpoints(endpoints...),
		cadence.WithPolicy(adaptive.Policy{
			MinInterval:    2 * time.Second,
			MaxInterval:    30 * time.Second,
			BackoffStep:    4 * time.Second,
			ActiveInterval: 2 * time.Second,
			IdleInterval:   30 * time.Second,
			IdleTimeout:    time.Minute,
		}),
		cadence.WithEventBus(bus),
		cadence.WithPort(8080),
		cadence.WithStatusCallback(func(r cadence.StatusResult) {
			if r.Changed {
				fmt.Printf("  %-8s -> %-8s (next probe in %s)\n", r.EndpointName, r.Status, r.Interval)
			}
		}),
	)
	if err != nil {
		slog.Error("failed to create board", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  Cadence Demo")
	fmt.Println()
	fmt.Println("  Open http://localhost:8080 in your browser")
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    3 mock services that change status every 20-60s")
	fmt.Println("    1 external (GitHub, backs off to 5m)")
	fmt.Println()
	fmt.Println("  Polling speeds up while the page is in use or a status")
	fmt.Println("  changes, and slows down while nothing happens.")
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := board.Start(ctx); err != nil {
		slog.Error("board error", "error", err)
		os.Exit(1)
	}
}
