// Package bus implements the MessageBus: a gin router served over a Unix
// socket, giving agent processes a local JSON-over-HTTP surface to submit
// evidence, exchange messages, and poll inboxes. Grounded on the teacher's
// internal/api/v1 gin handler style (route-group registration methods,
// gin.H{...} JSON responses), run over net.Listen("unix", ...) instead of
// TCP since the bus is local-only by design.
package bus

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orchestra-dev/orchestra/internal/engine"
	"github.com/orchestra-dev/orchestra/internal/idgen"
	"github.com/orchestra-dev/orchestra/internal/logging"
	"github.com/orchestra-dev/orchestra/internal/telemetry"
	"github.com/orchestra-dev/orchestra/internal/workflow"
)

// Engine is the subset of engine.Engine the bus depends on.
type Engine interface {
	List() ([]*workflow.RuntimeState, error)
	Get(workflowID string) (*workflow.RuntimeState, error)
	SubmitEvidence(workflowID string, sub engine.Submission) (*engine.Outcome, error)
}

// Definitions is the subset of registry.Registry the bus consults to
// resolve GET /status's supplemented heartbeat liveness (§9.3): which role
// is assigned to a workflow's current state.
type Definitions interface {
	Get(name string) (*workflow.Definition, bool)
}

// defaultInboxTimeout is GET /inbox/<agent>'s long-poll default, per §4.4.
const defaultInboxTimeout = 10 * time.Second

var busLog = logging.Component("bus")

// Bus is the MessageBus: the gin router plus the WAL-backed inbox state it
// serves.
type Bus struct {
	engine      Engine
	definitions Definitions
	wal         *wal
	inboxe      *inboxSet
	now         func() time.Time
	telemetry   *telemetry.Telemetry

	heartbeatsMu sync.Mutex
	heartbeats   map[string]time.Time

	jobs chan func()

	router   *gin.Engine
	listener net.Listener

	inboxTimeout time.Duration
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithInboxTimeout overrides the long-poll default, for deterministic tests.
func WithInboxTimeout(d time.Duration) Option {
	return func(b *Bus) { b.inboxTimeout = d }
}

// WithClock overrides the bus's time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

// WithDefinitions attaches the definition registry the heartbeat-liveness
// supplement in GET /status consults. Omit to leave last_heartbeat unset.
func WithDefinitions(d Definitions) Option {
	return func(b *Bus) { b.definitions = d }
}

// WithTelemetry attaches the tracer/meter wrapper instrumenting every bus
// route. Buses constructed without this option still get one backed by the
// global (default no-op) otel providers.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(b *Bus) { b.telemetry = t }
}

// New constructs a Bus rooted at root (the WAL lives at
// <root>/bus.wal), replaying any pending messages the WAL already holds.
func New(root string, eng Engine, opts ...Option) (*Bus, error) {
	w, err := openWAL(filepath.Join(root, "bus.wal"))
	if err != nil {
		return nil, err
	}

	b := &Bus{
		engine:       eng,
		wal:          w,
		inboxe:       newInboxSet(),
		now:          func() time.Time { return time.Now().UTC() },
		telemetry:    telemetry.New(),
		heartbeats:   map[string]time.Time{},
		jobs:         make(chan func(), 256),
		inboxTimeout: defaultInboxTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}

	pending, err := w.replay()
	if err != nil {
		return nil, err
	}
	for agentID, messages := range pending {
		box := b.inboxe.get(agentID)
		box.messages = append(box.messages, messages...)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(b.tracingMiddleware())
	b.router = router
	b.registerRoutes()

	go b.runJobs()

	busLog.Info("ready, replayed %d pending inbox(es)", len(pending))
	return b, nil
}

// registerRoutes wires the endpoint contract from §4.4, unchanged from
// spec.md.
func (b *Bus) registerRoutes() {
	b.router.GET("/status", b.handleStatus)
	b.router.GET("/workflow/:id", b.handleGetWorkflow)
	b.router.POST("/evidence/:id", b.handleSubmitEvidence)
	b.router.POST("/heartbeat/:agent", b.handleHeartbeat)
	b.router.POST("/messages", b.handleSendMessage)
	b.router.GET("/inbox/:agent", b.handleInbox)
	b.router.POST("/ack", b.handleAck)
}

// tracingMiddleware wraps every route in a bus request span, per §4.2's
// instrumentation note extended to the bus's own HTTP surface.
func (b *Bus) tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		ctx, span := b.telemetry.StartBusRequestSpan(c.Request.Context(), route)
		c.Request = c.Request.WithContext(ctx)
		begin := b.now()

		c.Next()

		var err error
		if len(c.Errors) > 0 {
			err = c.Errors.Last().Err
		} else if c.Writer.Status() >= http.StatusBadRequest {
			err = errors.New(http.StatusText(c.Writer.Status()))
		}
		b.telemetry.EndBusRequestSpan(span, route, begin, err)
	}
}

// runJobs is the single goroutine draining the dispatch queue, serializing
// every engine-mutating handler invocation per §5's "handler invocation
// may be serialized through a dispatch queue" note. Grounded on the
// teacher's single-consumer channel idiom in
// internal/lattice/work/dispatcher.go.
func (b *Bus) runJobs() {
	for job := range b.jobs {
		job()
	}
}

// submit runs fn on the dispatch-queue goroutine and blocks until it
// completes, so HTTP handlers can report fn's outcome synchronously.
func (b *Bus) submit(fn func()) {
	done := make(chan struct{})
	b.jobs <- func() {
		defer close(done)
		fn()
	}
	<-done
}

// Serve listens on a Unix socket at socketPath and serves the router until
// ctx is cancelled. The socket file is removed first if a stale one from a
// previous crash remains.
func (b *Bus) Serve(ctx context.Context, socketPath string) error {
	_ = os.Remove(socketPath)

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return err
	}
	b.listener = ln

	srv := &http.Server{Handler: b.router}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler exposes the bus's HTTP router directly, for callers (tests, or
// an alternate transport) that don't need the Unix-socket listener Serve
// sets up.
func (b *Bus) Handler() http.Handler {
	return b.router
}

// Close releases the WAL file handle and the dispatch-queue goroutine.
// Callers should cancel Serve's context first.
func (b *Bus) Close() error {
	close(b.jobs)
	return b.wal.Close()
}

// Compact rewrites the WAL to drop tombstoned history, per §4.4's "compact
// at idle". Safe to call while the bus is serving requests.
func (b *Bus) Compact() error {
	return b.wal.compact(b.inboxe.allPending())
}

func (b *Bus) heartbeatAt(agentID string) (time.Time, bool) {
	b.heartbeatsMu.Lock()
	defer b.heartbeatsMu.Unlock()
	t, ok := b.heartbeats[agentID]
	return t, ok
}

func newMessageID() string {
	return idgen.MessageID()
}
