// Package notify publishes shaping events to a Redis channel so services
// outside the bench can follow runs without holding a websocket.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"clayformer.ai/internal/protocol"
	"clayformer.ai/internal/sim/shaping"
)

const DefaultChannel = "clayformer_events"

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

type Options struct {
	Addr    string
	Channel string
	Queue   int
	// Kinds limits which events are published; empty publishes all.
	Kinds   []shaping.EventKind
	Timeout time.Duration
	Logger  *log.Logger
}

type Stats struct {
	QueueDepth int
	Published  uint64
	Dropped    uint64
	Failed     uint64
}

// Publisher is a shaping.EventSink. Emit never blocks; events that do not
// fit the queue are dropped.
type Publisher struct {
	pub   publisher
	opts  Options
	log   *log.Logger
	kinds map[shaping.EventKind]bool

	queue     chan []byte
	wg        sync.WaitGroup
	closeOnce sync.Once

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

var _ shaping.EventSink = (*Publisher)(nil)

// Dial connects to Redis and fails if the server does not answer PING.
func Dial(ctx context.Context, opts Options) (*Publisher, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("notify: missing redis addr")
	}
	rdb := redis.NewClient(&redis.Options{Addr: opts.Addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("notify: ping %s: %w", opts.Addr, err)
	}
	return newPublisher(rdb, opts), nil
}

func newPublisher(pub publisher, opts Options) *Publisher {
	if opts.Channel == "" {
		opts.Channel = DefaultChannel
	}
	if opts.Queue <= 0 {
		opts.Queue = 1024
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	p := &Publisher{pub: pub, opts: opts, log: logger, queue: make(chan []byte, opts.Queue)}
	if len(opts.Kinds) > 0 {
		p.kinds = map[shaping.EventKind]bool{}
		for _, k := range opts.Kinds {
			p.kinds[k] = true
		}
	}
	p.wg.Add(1)
	go p.loop()
	return p
}

func (p *Publisher) Emit(ev shaping.Event) {
	if p.kinds != nil && !p.kinds[ev.Kind] {
		return
	}
	b, err := json.Marshal(protocol.FromEvent(ev))
	if err != nil {
		return
	}
	select {
	case p.queue <- b:
	default:
		p.dropped.Add(1)
	}
}

func (p *Publisher) loop() {
	defer p.wg.Done()
	for b := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.opts.Timeout)
		err := p.pub.Publish(ctx, p.opts.Channel, string(b)).Err()
		cancel()
		if err != nil {
			if n := p.failed.Add(1); n == 1 || n%100 == 0 {
				p.log.Printf("notify: publish to %s: %v (failed_total=%d)", p.opts.Channel, err, n)
			}
			continue
		}
		p.published.Add(1)
	}
}

// Close publishes what is queued and closes the client. Emit must not be
// called afterwards.
func (p *Publisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.queue)
		p.wg.Wait()
		err = p.pub.Close()
	})
	return err
}

func (p *Publisher) Stats() Stats {
	return Stats{
		QueueDepth: len(p.queue),
		Published:  p.published.Load(),
		Dropped:    p.dropped.Load(),
		Failed:     p.failed.Load(),
	}
}
