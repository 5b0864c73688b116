// Package kafkaconsumer applies dataset invalidation events from Kafka to
// the response cache.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	lru "github.com/hashicorp/golang-lru/v2"

	obs "github.com/mohammed-shakir/geo-search-bridge/internal/core/observability"
	"github.com/mohammed-shakir/geo-search-bridge/internal/invalidation"
	mylog "github.com/mohammed-shakir/geo-search-bridge/internal/logger"
)

// Invalidator drops cached responses of one dataset.
type Invalidator interface {
	Invalidate(backendID, dataset string) uint64
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	target Invalidator

	mu      sync.Mutex
	// applied holds the newest event time applied per dataset scope.
	applied *lru.Cache[string, time.Time]
}

func New(cfg Config, logger *slog.Logger, target Invalidator) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	applied, _ := lru.New[string, time.Time](cfg.DedupeSize)
	return &Consumer{cfg: cfg, logger: logger, target: target, applied: applied}
}

// Start joins the consumer group and processes events until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if c.target == nil {
		return errors.New("kafkaconsumer: no invalidation target")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.ClientID = "featureserver-invalidation"
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	ctx = mylog.WithComponent(ctx, "invalidation")
	handler := &groupHandler{process: c.ProcessOne}
	c.logger.InfoContext(ctx, "invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil && ctx.Err() == nil {
			c.logger.ErrorContext(ctx, "consumer error", "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
			}
		}
		if ctx.Err() != nil {
			c.logger.InfoContext(ctx, "invalidation consumer shutting down")
			return nil
		}
	}
}

// ProcessOne applies a single event. Undecodable or invalid events are
// logged and skipped so they cannot stall the partition.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.ObserveInvalidation("unknown", "invalid")
		c.logger.WarnContext(ctx, "undecodable invalidation event",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		obs.ObserveInvalidation(ev.Op, "invalid")
		c.logger.WarnContext(ctx, "invalid invalidation event",
			"offset", msg.Offset, "err", err)
		return nil
	}

	if !c.newer(ev) {
		obs.ObserveInvalidation(ev.Op, "stale")
		c.logger.DebugContext(ctx, "stale invalidation event skipped", "scope", ev.Scope(), "ts", ev.TS)
		return nil
	}

	gen := c.target.Invalidate(ev.Backend, ev.Dataset)
	obs.ObserveInvalidation(ev.Op, "applied")
	c.logger.InfoContext(ctx, "dataset invalidated",
		"backend", ev.Backend, "dataset", ev.Dataset, "op", ev.Op, "generation", gen)
	return nil
}

// newer records ev as applied when it is later than the last applied
// event for its scope.
func (c *Consumer) newer(ev invalidation.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.applied.Get(ev.Scope()); ok && !ev.TS.After(last) {
		return false
	}
	c.applied.Add(ev.Scope(), ev.TS)
	return true
}
