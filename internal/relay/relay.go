// Package relay carries room broadcasts between casechatd processes over a
// Redis pub/sub channel, so sessions connected to any process see every
// event of the cases they joined. Case ids only mean something within one
// message store, so the channel and every frame are scoped to a store id
// and processes backed by different stores never exchange events.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/matheus3301/casechat/internal/bus"
	"github.com/matheus3301/casechat/internal/protocol"
)

// Client is the subset of a go-redis client the relay uses.
type Client interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// Deliverer receives events published by other processes.
type Deliverer interface {
	DeliverLocal(caseID int64, env protocol.Envelope) int
}

// frame is the JSON message on the channel.
type frame struct {
	Store    string            `json:"store"`
	Node     string            `json:"node"`
	CaseID   int64             `json:"case_id"`
	Envelope protocol.Envelope `json:"envelope"`
}

// Received is the bus payload for events that arrived from another node.
type Received struct {
	Node      string
	CaseID    int64
	Type      string
	Delivered int
}

// Relay publishes local broadcasts and replays remote ones.
type Relay struct {
	rdb     Client
	channel string
	store   string
	node    string
	target  Deliverer
	logger  *zap.Logger
	bus     *bus.Bus

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

// New creates a relay for the message store identified by storeID. The
// Redis channel is prefix:storeID. node identifies this process; frames it
// published itself are ignored on receipt.
func New(rdb Client, prefix, storeID, node string, target Deliverer, logger *zap.Logger, b *bus.Bus) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		rdb:     rdb,
		channel: ChannelName(prefix, storeID),
		store:   storeID,
		node:    node,
		target:  target,
		logger:  logger,
		bus:     b,
	}
}

// ChannelName is the Redis channel shared by processes on one store.
func ChannelName(prefix, storeID string) string {
	return prefix + ":" + storeID
}

// Channel returns the Redis channel this relay publishes on.
func (r *Relay) Channel() string {
	return r.channel
}

// Publish sends an event for caseID to the other nodes.
func (r *Relay) Publish(ctx context.Context, caseID int64, env protocol.Envelope) error {
	data, err := json.Marshal(frame{Store: r.store, Node: r.node, CaseID: caseID, Envelope: env})
	if err != nil {
		return fmt.Errorf("marshal relay frame: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", r.channel, err)
	}
	return nil
}

// Start subscribes to the channel and begins delivering remote frames.
func (r *Relay) Start(ctx context.Context) error {
	ps := r.rdb.Subscribe(ctx, r.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}

	r.mu.Lock()
	r.pubsub = ps
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			r.handle(msg.Payload)
		}
	}()
	r.logger.Info("relay subscribed", zap.String("channel", r.channel), zap.String("store", r.store), zap.String("node", r.node))
	return nil
}

// Stop unsubscribes and waits for the delivery loop to exit.
func (r *Relay) Stop() error {
	r.mu.Lock()
	ps, done := r.pubsub, r.done
	r.pubsub, r.done = nil, nil
	r.mu.Unlock()
	if ps == nil {
		return nil
	}
	err := ps.Close()
	<-done
	return err
}

func (r *Relay) handle(payload string) {
	var f frame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		r.logger.Warn("relay frame malformed", zap.Error(err))
		return
	}
	if f.Node == r.node {
		return
	}
	if f.Store != r.store {
		r.logger.Warn("relay frame from another store dropped",
			zap.String("store", f.Store), zap.String("node", f.Node), zap.Int64("case_id", f.CaseID))
		return
	}
	n := r.target.DeliverLocal(f.CaseID, f.Envelope)
	if r.bus != nil {
		r.bus.Emit(bus.KindRelayDeliveryReceived, Received{
			Node:      f.Node,
			CaseID:    f.CaseID,
			Type:      f.Envelope.Type,
			Delivered: n,
		})
	}
}
