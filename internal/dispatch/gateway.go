// Package dispatch sends composed messages over the live connection.
//
// All sends against one connection go through a single writer goroutine, so
// the transport never sees overlapping calls. Each caller waits on its own
// result channel.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/wagate/internal/compose"
	"github.com/nextlevelbuilder/wagate/internal/transport"
)

const tracerName = "github.com/nextlevelbuilder/wagate/internal/dispatch"

// DefaultQueueCap is the number of sends that may wait behind the active one.
const DefaultQueueCap = 64

// Link exposes the connection handle while the session is Connected.
type Link interface {
	Live() (transport.Conn, bool)
}

// Ack is the opaque success result of a dispatch.
type Ack struct {
	MessageID string    `json:"id"`
	Target    string    `json:"target"`
	Timestamp time.Time `json:"timestamp"`
}

// Config configures the gateway.
type Config struct {
	QueueCap int
}

type outcome struct {
	ack Ack
	err error
}

type pendingSend struct {
	ctx    context.Context
	target string
	msg    compose.Composed
	result chan outcome
}

// Gateway serializes sends against the live connection.
type Gateway struct {
	link   Link
	queue  chan *pendingSend
	tracer trace.Tracer

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a gateway and starts its writer.
func New(link Link, cfg Config) *Gateway {
	if cfg.QueueCap <= 0 {
		cfg.QueueCap = DefaultQueueCap
	}
	g := &Gateway{
		link:   link,
		queue:  make(chan *pendingSend, cfg.QueueCap),
		tracer: otel.Tracer(tracerName),
		stopCh: make(chan struct{}),
	}
	g.wg.Add(1)
	go g.writeLoop()
	return g
}

// Dispatch sends msg to target. It fails fast with ErrNotConnected when the
// session is not Connected, without touching the transport.
func (g *Gateway) Dispatch(ctx context.Context, target string, msg compose.Composed) (Ack, error) {
	ctx, span := g.tracer.Start(ctx, "wagate.dispatch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("wagate.kind", string(msg.Content.Kind)),
			attribute.Bool("wagate.branded", msg.Content.Context != nil),
		),
	)
	defer span.End()

	ack, err := g.dispatch(ctx, target, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Ack{}, err
	}
	span.SetAttributes(attribute.String("wagate.message_id", ack.MessageID))
	span.SetStatus(codes.Ok, "")
	return ack, nil
}

func (g *Gateway) dispatch(ctx context.Context, target string, msg compose.Composed) (Ack, error) {
	if _, ok := g.link.Live(); !ok {
		return Ack{}, ErrNotConnected
	}

	p := &pendingSend{ctx: ctx, target: target, msg: msg, result: make(chan outcome, 1)}

	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return Ack{}, ErrStopped
	}
	select {
	case g.queue <- p:
	default:
		g.mu.Unlock()
		slog.Warn("dispatch: queue full", "cap", cap(g.queue))
		return Ack{}, ErrQueueFull
	}
	g.mu.Unlock()

	select {
	case out := <-p.result:
		return out.ack, out.err
	case <-ctx.Done():
		return Ack{}, ctx.Err()
	}
}

// QueueLen returns the number of sends waiting for the writer.
func (g *Gateway) QueueLen() int {
	return len(g.queue)
}

// Stop halts the writer. Queued sends fail with ErrStopped.
func (g *Gateway) Stop() {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	g.stopped = true
	close(g.stopCh)
	g.mu.Unlock()

	g.wg.Wait()
}

func (g *Gateway) writeLoop() {
	defer g.wg.Done()
	for {
		select {
		case <-g.stopCh:
			g.drain()
			return
		case p := <-g.queue:
			p.result <- g.send(p)
		}
	}
}

// send runs on the writer goroutine only.
func (g *Gateway) send(p *pendingSend) outcome {
	if err := p.ctx.Err(); err != nil {
		return outcome{err: err}
	}
	// The session may have dropped while this send was queued.
	conn, ok := g.link.Live()
	if !ok {
		return outcome{err: ErrNotConnected}
	}

	start := time.Now()
	receipt, err := conn.Send(p.ctx, p.target, p.msg)
	if err != nil {
		slog.Warn("dispatch: send failed", "kind", p.msg.Content.Kind, "error", err)
		return outcome{err: &SendFailedError{Cause: err}}
	}

	ts := receipt.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	slog.Info("dispatch: sent",
		"kind", p.msg.Content.Kind,
		"id", receipt.MessageID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return outcome{ack: Ack{MessageID: receipt.MessageID, Target: p.target, Timestamp: ts}}
}

func (g *Gateway) drain() {
	for {
		select {
		case p := <-g.queue:
			p.result <- outcome{err: ErrStopped}
		default:
			return
		}
	}
}
