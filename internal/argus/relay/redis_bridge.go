package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

const (
	DefaultRedisChannel   = "argus:alerts"
	DefaultPublishQueue   = 256
	DefaultPublishTimeout = 500 * time.Millisecond
	DefaultRetryInterval  = 5 * time.Second
)

type BridgeConfig struct {
	Channel        string
	QueueSize      int           // pending publishes; a full queue drops
	PublishTimeout time.Duration // per Redis publish
	RetryInterval  time.Duration // between subscribe attempts in Connect
}

// NewRedisClient builds a client whose calls fail fast. Context deadlines
// bound network reads and writes, so a stalled server cannot hold a
// publish past its timeout.
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:                  addr,
		DialTimeout:           2 * time.Second,
		ReadTimeout:           time.Second,
		WriteTimeout:          time.Second,
		MaxRetries:            1,
		ContextTimeoutEnabled: true,
	})
}

// envelope is the message carried on the Redis channel.
type envelope struct {
	Origin string      `json:"origin"`
	ExamID string      `json:"exam_id"`
	Alert  types.Alert `json:"alert"`
}

// RedisBridge fans alerts out across server processes. Notify delivers to
// the local relay and queues the alert for Redis; a single publisher
// goroutine drains the queue. Each process feeds envelopes from other
// origins into its own local relay.
//
// Close must be called to stop the publisher.
type RedisBridge struct {
	client redis.UniversalClient
	cfg    BridgeConfig
	local  *Relay
	origin string
	logger *log.Logger

	queue   chan []byte
	dropped atomic.Int64
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
	pubsub *redis.PubSub
	done   chan struct{}
}

func NewRedisBridge(client redis.UniversalClient, cfg BridgeConfig, local *Relay, logger *log.Logger) *RedisBridge {
	if cfg.Channel == "" {
		cfg.Channel = DefaultRedisChannel
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultPublishQueue
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &RedisBridge{
		client: client,
		cfg:    cfg,
		local:  local,
		origin: uuid.NewString(),
		logger: logger,
		queue:  make(chan []byte, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	b.wg.Add(1)
	go b.publishLoop()
	return b
}

// Start subscribes to the channel and waits for Redis to confirm before
// returning, so alerts published afterwards are not missed.
func (b *RedisBridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("%w: bridge closed", ErrRelayUnavailable)
	}
	if b.pubsub != nil {
		return nil
	}

	ps := b.client.Subscribe(ctx, b.cfg.Channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("%w: subscribe %s: %v", ErrRelayUnavailable, b.cfg.Channel, err)
	}

	b.pubsub = ps
	b.done = make(chan struct{})
	go b.receiveLoop(ps.Channel(), b.done)

	b.logger.Printf("relay bridge subscribed to redis channel %s", b.cfg.Channel)
	return nil
}

// Connect is Start that keeps retrying in the background until it
// succeeds, ctx ends or the bridge is closed. It never blocks past the
// first attempt.
func (b *RedisBridge) Connect(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(b.ctx, cancel)

	err := b.Start(ctx)
	if err == nil {
		stop()
		cancel()
		return
	}
	b.logger.Printf("relay bridge: %v; retrying every %s", err, b.cfg.RetryInterval)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		stop()
		cancel()
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		defer cancel()
		defer stop()

		t := time.NewTicker(b.cfg.RetryInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			if err := b.Start(ctx); err == nil {
				return
			}
		}
	}()
}

// Subscribed reports whether alerts from other processes are being received.
func (b *RedisBridge) Subscribed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pubsub != nil
}

// Dropped reports how many alerts never reached Redis because the publish
// queue was full.
func (b *RedisBridge) Dropped() int64 { return b.dropped.Load() }

func (b *RedisBridge) receiveLoop(msgs <-chan *redis.Message, done chan struct{}) {
	defer close(done)
	for msg := range msgs {
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			b.logger.Printf("relay bridge: bad envelope: %v", err)
			continue
		}
		if env.Origin == b.origin || env.ExamID == "" {
			continue
		}
		b.local.Publish(env.ExamID, env.Alert)
	}
}

// publishLoop logs the first failure of an outage and the recovery, not
// every failed publish.
func (b *RedisBridge) publishLoop() {
	defer b.wg.Done()

	failing := false
	for {
		select {
		case <-b.ctx.Done():
			return
		case payload := <-b.queue:
			ctx, cancel := context.WithTimeout(b.ctx, b.cfg.PublishTimeout)
			err := b.client.Publish(ctx, b.cfg.Channel, payload).Err()
			cancel()

			switch {
			case err != nil && !failing:
				failing = true
				b.logger.Printf("relay bridge: redis publish failing: %v", err)
			case err == nil && failing:
				failing = false
				b.logger.Printf("relay bridge: redis publish recovered")
			}
		}
	}
}

// Close stops retries and the publisher, then unsubscribes. Alerts still
// queued are dropped.
func (b *RedisBridge) Close() error {
	b.cancel()

	b.mu.Lock()
	b.closed = true
	ps, done := b.pubsub, b.done
	b.pubsub = nil
	b.mu.Unlock()

	b.wg.Wait()

	if ps == nil {
		return nil
	}
	err := ps.Close()
	<-done
	return err
}

// Notify implements the ledger's notifier contract. It never waits on
// Redis: local monitors are served immediately and the cross-process copy
// is queued, or dropped when the queue is full.
func (b *RedisBridge) Notify(ctx context.Context, examID string, a types.Alert) error {
	localErr := b.local.Notify(ctx, examID, a)

	if b.ctx.Err() != nil {
		return fmt.Errorf("%w: bridge closed", ErrRelayUnavailable)
	}
	payload, err := json.Marshal(envelope{Origin: b.origin, ExamID: examID, Alert: a})
	if err != nil {
		return fmt.Errorf("Notify: %w", err)
	}
	select {
	case b.queue <- payload:
	default:
		b.dropped.Add(1)
		return fmt.Errorf("%w: redis publish queue full", ErrRelayUnavailable)
	}
	return localErr
}
