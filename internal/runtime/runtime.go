// Package runtime owns a worker's lifecycle: building the registration
// payload from its declared capabilities, registering with the controller
// (retrying through startup races), heartbeating in the background,
// tracking the health state machine, and coordinating graceful shutdown
// across dependent subsystems.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/workmesh/workmesh/internal/catalog"
	"github.com/workmesh/workmesh/internal/client"
	"github.com/workmesh/workmesh/internal/identity"
	"github.com/workmesh/workmesh/pkg/models"
)

// ControllerClient is the slice of the controller stub the runtime needs.
// *client.Client satisfies it; tests substitute fakes.
type ControllerClient interface {
	Register(ctx context.Context) error
	RunHeartbeat(ctx context.Context)
	Deregister(ctx context.Context) error
}

// Hooks are optional extension points a concrete worker supplies.
type Hooks struct {
	// OnStart runs after the runtime reaches healthy, before serving.
	// An error here is a fatal startup failure.
	OnStart func(ctx context.Context) error

	// OnStop runs at the beginning of shutdown, right after the state
	// flips to stopping and before the heartbeat loop is cancelled.
	OnStop func(ctx context.Context)
}

// Config configures a Runtime.
type Config struct {
	// WorkerID identifies this worker. Empty generates a uuid.
	WorkerID string

	// ServiceLabel is the human-facing name sent in the registration
	// payload (e.g. "doc-converter").
	ServiceLabel string

	// Catalog holds the capabilities this worker declares. Must be
	// non-empty at Start.
	Catalog *catalog.Catalog

	// Client talks to the controller. Nil means "build from ClientConfig".
	Client ControllerClient

	// ClientConfig is used to construct the default controller client
	// when Client is nil. Capabilities are filled from the catalog.
	ClientConfig client.Config

	// Identity optionally provisions the TLS identity before the
	// runtime starts serving. A provisioning failure aborts startup.
	Identity identity.Provider

	// CallbackTimeout bounds each shutdown callback independently.
	CallbackTimeout time.Duration
}

type shutdownCallback struct {
	name string
	fn   func(ctx context.Context) error
}

// Runtime is a worker's lifecycle coordinator.
type Runtime struct {
	workerID string
	cat      *catalog.Catalog
	client   ControllerClient
	hooks    Hooks
	provider identity.Provider
	cbTO     time.Duration

	mu        sync.RWMutex
	state     models.WorkerState
	details   map[string]interface{}
	callbacks []shutdownCallback
	tlsID     *identity.Identity

	startedAt time.Time
	hbCancel  context.CancelFunc
	hbDone    chan struct{}
	stopOnce  sync.Once

	clientCfg client.Config
}

// New constructs a Runtime in the starting state.
func New(cfg Config, hooks Hooks) *Runtime {
	if cfg.WorkerID == "" {
		cfg.WorkerID = uuid.NewString()
	}
	if cfg.CallbackTimeout <= 0 {
		cfg.CallbackTimeout = 10 * time.Second
	}
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.New()
	}
	return &Runtime{
		workerID:  cfg.WorkerID,
		cat:       cfg.Catalog,
		client:    cfg.Client,
		hooks:     hooks,
		provider:  cfg.Identity,
		cbTO:      cfg.CallbackTimeout,
		state:     models.WorkerStarting,
		details:   make(map[string]interface{}),
		startedAt: time.Now(),
		clientCfg: cfg.ClientConfig,
	}
}

// WorkerID returns this worker's identity.
func (r *Runtime) WorkerID() string { return r.workerID }

// TLSIdentity returns the provisioned TLS identity, nil when no provider
// was configured.
func (r *Runtime) TLSIdentity() *identity.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tlsID
}

// ── Startup ──────────────────────────────────────────────────

// Start runs the startup sequence in strict order: collect declared
// capabilities, provision identity, build the controller client, block
// on registration (exhausted retries are logged, never fatal — the
// controller may appear later), launch the heartbeat loop, flip to
// healthy, then run the startup hook.
//
// The heartbeat task launches after registration returns, success or
// not; it is never blocked behind registration retries indefinitely.
func (r *Runtime) Start(ctx context.Context) error {
	caps := r.cat.Schemas()
	if len(caps) == 0 {
		return errors.New("worker declares no capabilities")
	}

	if r.provider != nil {
		id, err := r.provider.Identity()
		if err != nil {
			return fmt.Errorf("provision TLS identity: %w", err)
		}
		r.mu.Lock()
		r.tlsID = id
		r.mu.Unlock()
	}

	if r.client == nil {
		cc := r.clientCfg
		cc.WorkerID = r.workerID
		cc.Capabilities = caps
		r.client = client.New(cc)
	}

	if err := r.client.Register(ctx); err != nil {
		// Not fatal: the worker keeps serving capability traffic it can
		// receive by other paths; discoverability self-heals when the
		// controller shows up.
		log.Error().Err(err).Str("worker_id", r.workerID).Msg("registration failed, continuing startup")
	}

	hbCtx, cancel := context.WithCancel(context.Background())
	r.hbCancel = cancel
	r.hbDone = make(chan struct{})
	go func() {
		defer close(r.hbDone)
		r.client.RunHeartbeat(hbCtx)
	}()

	r.SetState(models.WorkerHealthy)
	log.Info().
		Str("worker_id", r.workerID).
		Int("capabilities", len(caps)).
		Msg("worker runtime started")

	if r.hooks.OnStart != nil {
		if err := r.hooks.OnStart(ctx); err != nil {
			return fmt.Errorf("startup hook: %w", err)
		}
	}
	return nil
}

// ── Health ───────────────────────────────────────────────────

// State returns the current lifecycle state.
func (r *Runtime) State() models.WorkerState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// SetState transitions the state machine. Stopping is terminal: once
// shutdown begins no business-logic transition can undo it.
func (r *Runtime) SetState(s models.WorkerState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == models.WorkerStopping {
		return
	}
	if r.state != s {
		log.Info().
			Str("worker_id", r.workerID).
			Str("from", string(r.state)).
			Str("to", string(s)).
			Msg("worker state changed")
	}
	r.state = s
}

// SetDetail records a diagnostic value surfaced in health reports.
func (r *Runtime) SetDetail(key string, value interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.details[key] = value
}

// Health reports the runtime's externally visible health. OK only in
// the healthy state; orchestration probes treat anything else as down.
func (r *Runtime) Health() models.HealthReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	details := make(map[string]interface{}, len(r.details))
	for k, v := range r.details {
		details[k] = v
	}
	return models.HealthReport{
		OK:            r.state == models.WorkerHealthy,
		State:         r.state,
		WorkerID:      r.workerID,
		UptimeSeconds: time.Since(r.startedAt).Seconds(),
		Details:       details,
	}
}

// ── Shutdown ─────────────────────────────────────────────────

// OnShutdown registers a callback to run during shutdown. Callbacks run
// in last-registered-first order, each under its own timeout; a callback
// that fails or times out is logged and skipped, never aborting the rest.
func (r *Runtime) OnShutdown(name string, fn func(ctx context.Context) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, shutdownCallback{name: name, fn: fn})
}

// Shutdown runs the shutdown sequence. The state flips to stopping
// synchronously before any asynchronous cancellation begins, so health
// probes fail immediately. The heartbeat loop is cancelled and awaited
// before callbacks run, so no beat can touch resources a callback has
// already torn down. Safe to call more than once.
func (r *Runtime) Shutdown(ctx context.Context) {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.state = models.WorkerStopping
		callbacks := make([]shutdownCallback, len(r.callbacks))
		copy(callbacks, r.callbacks)
		r.mu.Unlock()

		log.Info().Str("worker_id", r.workerID).Msg("worker shutting down")

		if r.hooks.OnStop != nil {
			r.hooks.OnStop(ctx)
		}

		if r.hbCancel != nil {
			r.hbCancel()
			<-r.hbDone
		}

		for i := len(callbacks) - 1; i >= 0; i-- {
			r.runCallback(callbacks[i])
		}

		if r.client != nil {
			if err := r.client.Deregister(ctx); err != nil {
				log.Warn().Err(err).Str("worker_id", r.workerID).Msg("deregistration failed")
			}
		}

		log.Info().Str("worker_id", r.workerID).Msg("worker shutdown complete")
	})
}

// runCallback executes one shutdown callback under its own timeout,
// isolating failures and panics from the remaining callbacks.
func (r *Runtime) runCallback(cb shutdownCallback) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cbTO)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("panic: %v", p)
			}
		}()
		done <- cb.fn(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Warn().Err(err).Str("callback", cb.name).Msg("shutdown callback failed")
		}
	case <-ctx.Done():
		log.Warn().Str("callback", cb.name).Dur("timeout", r.cbTO).Msg("shutdown callback timed out")
	}
}
