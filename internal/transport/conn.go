package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"yuzu/interviewer/internal/protocol"
)

var errConnClosed = errors.New("transport: connection closed")

// Conn serializes outbound events onto one socket. Emit only enqueues; a
// single writer goroutine owns the socket, so wire order is call order.
type Conn struct {
	ws           *websocket.Conn
	queue        chan protocol.Event
	done         chan struct{}
	writeTimeout time.Duration
	pingInterval time.Duration
	log          *zap.Logger
}

func newConn(c *websocket.Conn, queueSize int, writeTimeout, pingInterval time.Duration, log *zap.Logger) *Conn {
	if queueSize <= 0 {
		queueSize = 64
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	return &Conn{
		ws:           c,
		queue:        make(chan protocol.Event, queueSize),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		log:          log,
	}
}

// Emit blocks while the queue is full; it fails once the writer has exited.
func (c *Conn) Emit(ev protocol.Event) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.queue <- ev:
		return nil
	case <-c.done:
		return errConnClosed
	}
}

func (c *Conn) run(ctx context.Context) error {
	defer close(c.done)
	ping := time.NewTicker(c.pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			c.drain()
			return nil
		case ev := <-c.queue:
			if err := c.write(ev); err != nil {
				return fmt.Errorf("write %s: %w", ev.Type, err)
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

// drain flushes what is already queued, e.g. the error event that ended the
// session, before the socket is closed.
func (c *Conn) drain() {
	deadline := time.Now().Add(c.writeTimeout)
	for time.Now().Before(deadline) {
		select {
		case ev := <-c.queue:
			if err := c.write(ev); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(ev protocol.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()
	if err := c.ws.Write(ctx, websocket.MessageText, b); err != nil {
		return err
	}
	metricEventsOut.WithLabelValues(ev.Type).Inc()
	return nil
}
