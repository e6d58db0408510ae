// Command itp-server runs a self-contained demo of the subscription
// core: simulated sensors write Gaussian random-walk values into an
// in-memory address space, and one session per configured client
// profile subscribes to them, printing the delivered notification
// messages.
//
// Usage:
//
//	itp-server [flags]
//
// Flags:
//
//	-config string     YAML configuration file (default: built-in demo setup)
//	-log-level string  Log level: debug, info, warn, error (default "info")
//	-duration duration Stop after this long; 0 runs until interrupted
//	-state string      JSON file for persisting sensor values across restarts
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/clock"

	"github.com/itp-protocol/itp-go/pkg/addrspace"
	itplog "github.com/itp-protocol/itp-go/pkg/log"
	"github.com/itp-protocol/itp-go/pkg/persistence"
	"github.com/itp-protocol/itp-go/pkg/service"
	"github.com/itp-protocol/itp-go/pkg/subscription"
	"github.com/itp-protocol/itp-go/pkg/wire"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	duration := flag.Duration("duration", 0, "stop after this long; 0 runs until interrupted")
	statePath := flag.String("state", "", "JSON file for persisting sensor values across restarts")
	flag.Parse()

	logger := newLogger(*logLevel)

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if *duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sig:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := run(ctx, cfg, *statePath, logger); err != nil {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, statePath string, logger *slog.Logger) error {
	space := addrspace.NewMemory(clock.WallClock)

	var store *persistence.ServerStateStore
	var saved *persistence.ServerState
	if statePath != "" {
		store = persistence.NewServerStateStore(statePath)
		loaded, err := store.Load()
		if err != nil {
			return fmt.Errorf("load state %q: %w", statePath, err)
		}
		saved = loaded
	}

	sims := make([]*simulator, 0, len(cfg.Sensors))
	for _, sc := range cfg.Sensors {
		sim, err := newSimulator(space, sc, logger)
		if err != nil {
			return fmt.Errorf("sensor %q: %w", sc.Name, err)
		}
		if saved != nil {
			if src, ok := saved.Source(sc.Name); ok {
				if err := sim.restore(src.Value); err != nil {
					return fmt.Errorf("sensor %q: restore: %w", sc.Name, err)
				}
				logger.Info("sensor restored", "node", sim.node.String(), "value", src.Value)
			}
		}
		sims = append(sims, sim)
		go sim.run(ctx)
		logger.Info("sensor started", "node", sim.node.String(), "interval", sc.UpdateInterval)
	}

	for _, cc := range cfg.Clients {
		client, err := startClient(ctx, cc, cfg.Sensors, space, logger)
		if err != nil {
			return fmt.Errorf("client %q: %w", cc.Name, err)
		}
		defer client.close()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	if store != nil {
		state := &persistence.ServerState{SavedAt: time.Now()}
		for _, sim := range sims {
			state.Sources = append(state.Sources, persistence.SourceState{
				Name:      sim.cfg.Name,
				Value:     sim.current(),
				UpdatedAt: time.Now(),
			})
		}
		if err := store.Save(state); err != nil {
			logger.Error("save state failed", "path", statePath, "err", err)
		} else {
			logger.Info("state saved", "path", statePath, "sensors", len(state.Sources))
		}
	}
	return nil
}

// client is one simulated subscriber: a session with a single
// subscription over every sensor, pumped by a self-refilling publish
// request loop.
type client struct {
	name      string
	session   *service.Session
	logger    *slog.Logger
	responses chan wire.PublishResponse
}

func startClient(ctx context.Context, cc ClientConfig, sensors []SensorConfig, space *addrspace.Memory, logger *slog.Logger) (*client, error) {
	c := &client{
		name:      cc.Name,
		logger:    logger.With("client", cc.Name),
		responses: make(chan wire.PublishResponse, 16),
	}
	sender := subscription.SenderFunc(func(resp wire.PublishResponse) {
		select {
		case c.responses <- resp:
		default:
			c.logger.Warn("response dropped, client pump stalled")
		}
	})
	c.session = service.NewSession(space, sender, clock.WallClock, itplog.NewSlogAdapter(c.logger))

	created := c.session.CreateSubscription(wire.CreateSubscriptionRequest{
		PublishingInterval: cc.PublishingInterval,
		LifetimeCount:      cc.LifetimeCount,
		MaxKeepAliveCount:  cc.MaxKeepAliveCount,
		PublishingEnabled:  true,
	})
	c.logger.Info("subscription created",
		"subscription_id", created.SubscriptionID,
		"publishing_interval", created.RevisedPublishingInterval,
		"lifetime_count", created.RevisedLifetimeCount)

	reqs := make([]wire.MonitoredItemCreateRequest, 0, len(sensors))
	for i, sc := range sensors {
		var filter *wire.DataChangeFilter
		if cc.Deadband > 0 {
			filter = &wire.DataChangeFilter{
				Trigger:       wire.DataChangeTriggerStatusValue,
				DeadbandType:  wire.DeadbandAbsolute,
				DeadbandValue: cc.Deadband,
			}
		}
		reqs = append(reqs, wire.MonitoredItemCreateRequest{
			ItemToMonitor:  wire.ReadValueID{NodeID: wire.NodeID{Namespace: 2, ID: sc.Name}, AttributeID: wire.AttributeValue},
			MonitoringMode: wire.MonitoringModeReporting,
			RequestedParameters: wire.MonitoringParameters{
				ClientHandle:     uint32(i + 1),
				SamplingInterval: cc.SamplingInterval,
				QueueSize:        cc.QueueSize,
				DiscardOldest:    true,
				Filter:           filter,
			},
		})
	}
	results, status := c.session.CreateMonitoredItems(created.SubscriptionID, wire.TimestampsSource, reqs)
	if status != wire.Good {
		c.session.Close()
		return nil, fmt.Errorf("create monitored items: %s", status)
	}
	for i, r := range results {
		if r.StatusCode != wire.Good {
			c.logger.Warn("monitored item rejected", "sensor", sensors[i].Name, "status", r.StatusCode.String())
			continue
		}
		c.logger.Info("monitored item created",
			"sensor", sensors[i].Name,
			"monitored_item_id", r.MonitoredItemID,
			"sampling_interval", r.RevisedSamplingInterval)
	}

	go c.pump(ctx, created.SubscriptionID)
	return c, nil
}

// pump keeps publish requests outstanding and prints delivered
// notifications, acknowledging each data message in the request that
// follows it.
func (c *client) pump(ctx context.Context, subscriptionID uint32) {
	var handle uint32
	next := func(acks []wire.SubscriptionAcknowledgement) {
		handle++
		c.session.OnPublishRequest(wire.PublishRequest{
			RequestHandle:                handle,
			SubscriptionAcknowledgements: acks,
		})
	}
	next(nil)
	next(nil)

	for {
		select {
		case <-ctx.Done():
			return
		case resp := <-c.responses:
			var acks []wire.SubscriptionAcknowledgement
			if resp.ServiceResult != wire.Good {
				c.logger.Warn("publish failed", "status", resp.ServiceResult.String())
			} else if resp.NotificationMessage.IsKeepAlive() {
				c.logger.Debug("keep-alive", "sequence", resp.NotificationMessage.SequenceNumber)
			} else {
				c.printNotifications(resp)
				acks = []wire.SubscriptionAcknowledgement{{
					SubscriptionID: subscriptionID,
					SequenceNumber: resp.NotificationMessage.SequenceNumber,
				}}
			}
			// Replace the consumed request after a short client-side
			// round trip.
			time.AfterFunc(10*time.Millisecond, func() { next(acks) })
		}
	}
}

func (c *client) printNotifications(resp wire.PublishResponse) {
	for _, data := range resp.NotificationMessage.NotificationData {
		if data.StatusChange != nil {
			c.logger.Warn("subscription status change", "status", data.StatusChange.Status.String())
			continue
		}
		if data.DataChanges == nil {
			continue
		}
		for _, n := range data.DataChanges.MonitoredItems {
			c.logger.Info("notification",
				"sequence", resp.NotificationMessage.SequenceNumber,
				"client_handle", n.ClientHandle,
				"value", n.Value.Value,
				"status", n.Value.Status.String(),
				"overflow", n.Value.Status.IsOverflow(),
				"source_time", n.Value.SourceTimestamp.Format(time.RFC3339Nano))
		}
	}
}

func (c *client) close() {
	c.session.Close()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
