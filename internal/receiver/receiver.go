// Package receiver accepts deliveries over HTTP: Pub/Sub push subscriptions
// and raw OCM notifications.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fraser-isbester/kingfisher/internal/processor"
)

// Config holds configuration for the receiver
type Config struct {
	Port int
	// ShutdownTimeout bounds the graceful part of Stop. Requests still open
	// afterwards are answered 503 and their connections closed.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a default receiver configuration
func DefaultConfig() Config {
	return Config{
		Port:            8080,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Receiver is an HTTP source. Each registered handler owns one path and
// turns requests into deliveries.
type Receiver struct {
	config   Config
	server   *http.Server
	listener net.Listener
	handlers map[string]Handler
	sink     *Sink
}

// Handler defines the contract for path-specific request handlers
type Handler interface {
	Path() string
	Handle(w http.ResponseWriter, r *http.Request, sink *Sink)
}

var _ processor.Source = (*Receiver)(nil)

func New(config Config) *Receiver {
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}
	return &Receiver{
		config:   config,
		handlers: make(map[string]Handler),
	}
}

// RegisterHandler adds a handler under a name
func (rc *Receiver) RegisterHandler(name string, handler Handler) {
	rc.handlers[name] = handler
}

// Mux builds the routing table, including /healthz.
func (rc *Receiver) Mux(out chan<- *processor.Delivery) http.Handler {
	rc.sink = newSink(out)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	for name, handler := range rc.handlers {
		h := handler
		mux.HandleFunc(h.Path(), func(w http.ResponseWriter, r *http.Request) {
			h.Handle(w, r, rc.sink)
		})
		slog.Info("registered handler", "handler", name, "path", h.Path())
	}
	return mux
}

// Start begins listening. The port is bound before Start returns.
func (rc *Receiver) Start(ctx context.Context, out chan<- *processor.Delivery) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", rc.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", rc.config.Port, err)
	}
	rc.listener = ln
	rc.server = &http.Server{
		Handler:           rc.Mux(out),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("starting receiver", "addr", ln.Addr().String())
		if err := rc.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("receiver server error", "err", err)
		}
	}()
	return nil
}

// Addr reports the bound address once started.
func (rc *Receiver) Addr() string {
	if rc.listener == nil {
		return ""
	}
	return rc.listener.Addr().String()
}

// Stop gracefully shuts down the receiver. In-flight requests wait for
// their deliveries to be acknowledged until ShutdownTimeout; after that they
// are released with 503. No request sends a delivery once Stop returns.
func (rc *Receiver) Stop() error {
	if rc.server == nil {
		if rc.sink != nil {
			rc.sink.close()
		}
		return nil
	}
	slog.Info("stopping receiver")
	ctx, cancel := context.WithTimeout(context.Background(), rc.config.ShutdownTimeout)
	defer cancel()

	err := rc.server.Shutdown(ctx)
	if err != nil {
		slog.Warn("receiver shutdown timed out, releasing open requests", "err", err)
	}
	rc.sink.close()
	if err != nil {
		if cerr := rc.server.Close(); cerr != nil {
			slog.Error("error closing receiver", "err", cerr)
		}
		return fmt.Errorf("shutdown receiver: %w", err)
	}
	return nil
}

func (rc *Receiver) Name() string {
	return "receiver"
}

// Sink hands request bodies to the pipeline. It tracks the requests that
// may still send so that Stop can wait for them.
type Sink struct {
	out      chan<- *processor.Delivery
	stopping chan struct{}

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

func newSink(out chan<- *processor.Delivery) *Sink {
	return &Sink{out: out, stopping: make(chan struct{})}
}

func (s *Sink) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.inflight.Add(1)
	return true
}

// close refuses new deliveries, releases waiting requests and waits for
// them to return.
func (s *Sink) close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.stopping)
	}
	s.mu.Unlock()
	s.inflight.Wait()
}

// Deliver hands data to the pipeline and holds the request open until it
// has been handled, so the caller only sees success for processed work.
func (s *Sink) Deliver(w http.ResponseWriter, r *http.Request, id string, data []byte) {
	if !s.acquire() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.inflight.Done()

	handled := make(chan struct{})
	d := &processor.Delivery{
		ID:   id,
		Data: data,
		Ack:  func() { close(handled) },
	}

	select {
	case s.out <- d:
	case <-s.stopping:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	case <-r.Context().Done():
		return
	}

	select {
	case <-handled:
		w.WriteHeader(http.StatusNoContent)
	case <-s.stopping:
		slog.Warn("receiver stopping before delivery was handled", "delivery_id", id)
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
	case <-r.Context().Done():
		slog.Warn("request closed before delivery was handled", "delivery_id", id)
	}
}
