package processor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Delivery is one message handed over by a source. Ack is called exactly
// once, after the message has been handled.
type Delivery struct {
	ID   string
	Data []byte
	Ack  func()
}

// Source represents anything that feeds deliveries into the pipeline
// (subscriptions or push receivers). Once Stop returns, the source must not
// send on the channel again, even when Stop reports an error.
type Source interface {
	Start(context.Context, chan<- *Delivery) error
	Stop() error
	Name() string
}

// Handler processes the payload of one delivery.
type Handler interface {
	Handle(ctx context.Context, data []byte) error
}

// Publisher sends a message to a topic and waits for the broker's
// acknowledgement. It returns the broker-assigned message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg any) (string, error)
}

// Processor is the main interface for delivery processing systems
type Processor interface {
	// RegisterSource adds a new source to the processor
	RegisterSource(Source)

	// Start begins processing deliveries from all registered sources
	Start(context.Context) error

	// Stop gracefully shuts down the processor and all sources
	Stop() error

	// Name returns the processor's identifier
	Name() string
}

// Pipeline fans deliveries from its sources out to a fixed pool of workers
// that run the handler. Handler errors are logged and the delivery is still
// acknowledged: a message that cannot be handled now will not be handled on
// redelivery either.
type Pipeline struct {
	name     string
	handler  Handler
	workers  int
	sources  []Source
	delivery chan *Delivery
	wg       sync.WaitGroup
}

var _ Processor = (*Pipeline)(nil)

func NewPipeline(name string, handler Handler, workers int) *Pipeline {
	if workers <= 0 {
		workers = 1
	}
	return &Pipeline{
		name:     name,
		handler:  handler,
		workers:  workers,
		delivery: make(chan *Delivery, workers*4),
	}
}

func (p *Pipeline) RegisterSource(src Source) {
	p.sources = append(p.sources, src)
}

func (p *Pipeline) Name() string {
	return p.name
}

func (p *Pipeline) Start(ctx context.Context) error {
	slog.Info("starting pipeline", "pipeline", p.name, "workers", p.workers, "sources", len(p.sources))
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx)
	}
	for _, src := range p.sources {
		if err := src.Start(ctx, p.delivery); err != nil {
			return fmt.Errorf("failed to start source %s: %w", src.Name(), err)
		}
		slog.Info("source started", "pipeline", p.name, "source", src.Name())
	}
	return nil
}

func (p *Pipeline) work(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case d, ok := <-p.delivery:
			if !ok {
				return
			}
			p.handle(ctx, d)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) handle(ctx context.Context, d *Delivery) {
	if d == nil {
		slog.Warn("received nil delivery, skipping", "pipeline", p.name)
		return
	}
	if d.Ack != nil {
		defer d.Ack()
	}
	if err := p.handler.Handle(ctx, d.Data); err != nil {
		slog.Error("delivery failed", "pipeline", p.name, "delivery_id", d.ID, "err", err)
	}
}

// Stop stops every source, then drains in-flight deliveries. The delivery
// channel is closed only after every source has stopped sending.
func (p *Pipeline) Stop() error {
	slog.Info("stopping pipeline", "pipeline", p.name)
	var firstErr error
	for _, src := range p.sources {
		if err := src.Stop(); err != nil {
			slog.Error("error stopping source", "source", src.Name(), "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	close(p.delivery)
	p.wg.Wait()
	return firstErr
}
