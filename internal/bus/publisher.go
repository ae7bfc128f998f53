// Package bus wires the gateway package's InboundPublisher seam to a NATS
// connection, using a bounded async queue so a slow or disconnected broker
// degrades to back-pressure (ActionAbort) instead of blocking the framer
// loop.
package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/arclight-markets/fixgw/internal/gateway"
)

// Config configures the NATS connection and the publish queue depth.
type Config struct {
	URL           string
	Subject       string
	QueueDepth    int
	MaxReconnects int
	ReconnectWait time.Duration
}

// Publisher implements gateway.InboundPublisher. Each OnReplayComplete
// call tries to enqueue a publish task; if the queue is full (the broker
// can't keep up, or is down and reconnecting) it returns ActionAbort
// immediately rather than block, mirroring the corpus's worker-pool
// backpressure idiom applied to a single outbound queue instead of a
// worker fleet.
type Publisher struct {
	conn    *nats.Conn
	subject string
	log     zerolog.Logger

	queue   chan publishTask
	wg      sync.WaitGroup
	dropped int64

	cancel context.CancelFunc
}

type publishTask struct {
	correlationID int64
}

// Connect dials NATS and starts the single draining goroutine. Call Close
// to stop it and close the connection.
func Connect(cfg Config, logger zerolog.Logger) (*Publisher, error) {
	p := &Publisher{subject: cfg.Subject, log: logger, queue: make(chan publishTask, cfg.QueueDepth)}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ConnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("connected to nats")
		}),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("disconnected from nats")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("reconnected to nats")
		}),
		nats.ErrorHandler(func(c *nats.Conn, s *nats.Subscription, err error) {
			logger.Warn().Err(err).Msg("nats error")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	p.conn = conn

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go p.drain(ctx)

	return p, nil
}

func (p *Publisher) drain(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case task := <-p.queue:
			p.publish(task)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Publisher) publish(task publishTask) {
	body := encodeReplayComplete(task.correlationID)
	if err := p.conn.Publish(p.subject, body); err != nil {
		p.log.Warn().Err(err).Int64("correlation_id", task.correlationID).Msg("publish replay-complete failed")
	}
}

// OnReplayComplete implements gateway.InboundPublisher.
func (p *Publisher) OnReplayComplete(correlationID int64) gateway.Action {
	select {
	case p.queue <- publishTask{correlationID: correlationID}:
		return gateway.ActionContinue
	default:
		atomic.AddInt64(&p.dropped, 1)
		return gateway.ActionAbort
	}
}

// Dropped reports how many publish attempts were back-pressured away.
func (p *Publisher) Dropped() int64 {
	return atomic.LoadInt64(&p.dropped)
}

// Close stops the drain goroutine and closes the NATS connection. Blocks
// until the drain goroutine exits.
func (p *Publisher) Close() error {
	p.cancel()
	p.wg.Wait()
	p.conn.Close()
	return nil
}

func encodeReplayComplete(correlationID int64) []byte {
	b := make([]byte, 8)
	u := uint64(correlationID)
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (8 * i))
	}
	return b
}
