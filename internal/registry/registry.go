// Package registry implements the controller-side capability registry:
// the worker set, the verb:name routing index, staleness cleanup, and the
// persisted state log that makes the whole thing survive a controller
// restart.
//
// One Registry instance owns the worker map and the index. All compound
// read-modify-write sequences (replace worker, rebuild index, persist)
// run under a single mutex; the index is rebuilt into a fresh map and
// swapped in, never mutated while routing readers might be iterating.
package registry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/workmesh/workmesh/internal/metrics"
	"github.com/workmesh/workmesh/pkg/models"
)

// logFileName is the newline-delimited worker state log inside DataDir.
const logFileName = "workers.jsonl"

// Options configures a Registry.
type Options struct {
	// HeartbeatTimeout is the staleness window for IsHealthy checks.
	HeartbeatTimeout time.Duration

	// DataDir is where the state log lives. Empty disables persistence
	// (tests, ephemeral controllers).
	DataDir string

	// Now overrides the clock. Nil means time.Now. Tests use this to
	// expire liveness windows without sleeping.
	Now func() time.Time
}

// Registry tracks worker endpoints and answers routing queries.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*models.WorkerEndpoint
	index   map[string][]string // "verb:name" → worker ids, rebuilt on every membership change

	heartbeatTimeout time.Duration
	logPath          string // empty = no persistence
	now              func() time.Time

	saveMu sync.Mutex // serializes state log writes
}

// New creates a Registry. Call Load before serving requests so a
// restarted controller starts from its persisted state.
func New(opts Options) *Registry {
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = 90 * time.Second
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logPath := ""
	if opts.DataDir != "" {
		if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
			log.Warn().Err(err).Str("dir", opts.DataDir).Msg("cannot create data dir, persistence disabled")
		} else {
			logPath = filepath.Join(opts.DataDir, logFileName)
		}
	}
	return &Registry{
		workers:          make(map[string]*models.WorkerEndpoint),
		index:            make(map[string][]string),
		heartbeatTimeout: opts.HeartbeatTimeout,
		logPath:          logPath,
		now:              now,
	}
}

// HeartbeatTimeout returns the configured staleness window.
func (r *Registry) HeartbeatTimeout() time.Duration {
	return r.heartbeatTimeout
}

// ── Mutations ────────────────────────────────────────────────

// Register creates or fully replaces the endpoint record for workerID.
// Re-registration with the same id is the normal recovery path for a
// crashed worker, not an error: the fresh record simply overwrites any
// stale state and both timestamps reset to now.
func (r *Registry) Register(workerID, workerURL string, capabilities []models.CapabilitySchema) error {
	if workerID == "" {
		return &models.ValidationError{Field: "worker_id", Reason: "must not be empty"}
	}
	if workerURL == "" {
		return &models.ValidationError{Field: "worker_url", Reason: "must not be empty"}
	}
	if len(capabilities) == 0 {
		return &models.ValidationError{Field: "capabilities", Reason: "must not be empty"}
	}
	for _, c := range capabilities {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("capability %q: %w", c.Key(), err)
		}
	}

	ts := r.now()
	r.mu.Lock()
	r.workers[workerID] = &models.WorkerEndpoint{
		WorkerID:      workerID,
		WorkerURL:     workerURL,
		Capabilities:  capabilities,
		LastHeartbeat: ts,
		RegisteredAt:  ts,
	}
	r.rebuildIndexLocked()
	count := len(r.workers)
	r.mu.Unlock()

	metrics.Registrations.Inc()
	metrics.RegisteredWorkers.Set(float64(count))

	keys := make([]string, 0, len(capabilities))
	for _, c := range capabilities {
		keys = append(keys, c.Key())
	}
	log.Info().
		Str("worker_id", workerID).
		Str("worker_url", workerURL).
		Strs("capabilities", keys).
		Msg("worker registered")

	r.persist()
	return nil
}

// Heartbeat bumps the liveness timestamp for workerID. Returns false if
// the worker is unknown — the caller must treat that as "re-register",
// since the controller may have restarted with a stale or rotated log.
func (r *Registry) Heartbeat(workerID string) bool {
	r.mu.Lock()
	w, ok := r.workers[workerID]
	if ok {
		w.LastHeartbeat = r.now()
	}
	r.mu.Unlock()

	if !ok {
		metrics.Heartbeats.WithLabelValues("unknown").Inc()
		log.Warn().Str("worker_id", workerID).Msg("heartbeat from unknown worker")
		return false
	}

	metrics.Heartbeats.WithLabelValues("ok").Inc()
	r.persist()
	return true
}

// Deregister removes the worker unconditionally. Removing an absent id
// is a no-op; graceful shutdown must never fail here.
func (r *Registry) Deregister(workerID string) {
	r.mu.Lock()
	_, existed := r.workers[workerID]
	delete(r.workers, workerID)
	if existed {
		r.rebuildIndexLocked()
	}
	count := len(r.workers)
	r.mu.Unlock()

	if existed {
		metrics.RegisteredWorkers.Set(float64(count))
		log.Info().Str("worker_id", workerID).Msg("worker deregistered")
		r.persist()
	}
}

// CleanupStale removes every worker whose liveness window has expired
// and returns the removed count. The index is rebuilt once, not per
// removal. Idempotent: a second immediate call removes nothing.
func (r *Registry) CleanupStale() int {
	r.mu.Lock()
	var removed []string
	for id, w := range r.workers {
		if r.now().Sub(w.LastHeartbeat) >= r.heartbeatTimeout {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		delete(r.workers, id)
	}
	if len(removed) > 0 {
		r.rebuildIndexLocked()
	}
	count := len(r.workers)
	r.mu.Unlock()

	if len(removed) > 0 {
		metrics.StaleEvictions.Add(float64(len(removed)))
		metrics.RegisteredWorkers.Set(float64(count))
		log.Info().Strs("worker_ids", removed).Msg("evicted stale workers")
		r.persist()
	}
	return len(removed)
}

// rebuildIndexLocked rebuilds the verb:name index from scratch and swaps
// it in. Caller holds r.mu. Rebuilding (rather than patching) keeps the
// index from ever drifting out of sync with the worker set.
func (r *Registry) rebuildIndexLocked() {
	idx := make(map[string][]string)
	for id, w := range r.workers {
		for _, c := range w.Capabilities {
			idx[c.Key()] = append(idx[c.Key()], id)
		}
	}
	r.index = idx
}

// ── Routing ──────────────────────────────────────────────────

// RouteConstraints are reserved extension points for future SLO-aware or
// economic routing. The baseline implementation carries them through
// without acting on them; callers must not assume any candidate ordering
// beyond "first healthy, arbitrary tie-break".
type RouteConstraints struct {
	SLO               *models.SLOTargets
	RequesterIdentity string
	BudgetTokens      int
}

// Route resolves a (verb, capability) pair to a live worker endpoint.
// Returns a copy of the first healthy candidate, or nil when none of the
// indexed workers has an open liveness window.
func (r *Registry) Route(verb, capability string, _ *RouteConstraints) *models.WorkerEndpoint {
	start := time.Now()
	defer func() { metrics.RouteLatency.Observe(time.Since(start).Seconds()) }()

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.index[verb+":"+capability] {
		w, ok := r.workers[id]
		if !ok {
			continue
		}
		if r.now().Sub(w.LastHeartbeat) < r.heartbeatTimeout {
			metrics.Routes.WithLabelValues("hit").Inc()
			cp := *w
			cp.Capabilities = append([]models.CapabilitySchema(nil), w.Capabilities...)
			return &cp
		}
	}
	metrics.Routes.WithLabelValues("miss").Inc()
	return nil
}

// Workers returns a snapshot copy of all endpoint records.
func (r *Registry) Workers() []models.WorkerEndpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.WorkerEndpoint, 0, len(r.workers))
	for _, w := range r.workers {
		cp := *w
		cp.Capabilities = append([]models.CapabilitySchema(nil), w.Capabilities...)
		out = append(out, cp)
	}
	return out
}

// Count returns the current worker set size.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// ── Multi-controller hooks ───────────────────────────────────

// ExportState returns a serializable snapshot of the worker set for
// peer-to-peer controller sync.
func (r *Registry) ExportState(controllerID string) models.RegistryState {
	return models.RegistryState{
		ControllerID: controllerID,
		ExportedAt:   r.now(),
		Workers:      r.Workers(),
	}
}

// ImportRemoteState is the merge point for multi-controller sync. The
// baseline behavior is to log and do nothing; conflict resolution is an
// explicit future extension, not something to improvise here.
func (r *Registry) ImportRemoteState(controllerID string, state models.RegistryState) {
	log.Info().
		Str("controller_id", controllerID).
		Int("workers", len(state.Workers)).
		Time("exported_at", state.ExportedAt).
		Msg("remote state import requested (merge not implemented)")
}

// ── Persistence ──────────────────────────────────────────────

// persist rewrites the state log: one JSON record per worker, newline
// delimited, atomically replacing the previous file. Called after the
// in-memory mutation has been applied, so a write failure costs
// durability but never corrupts live state.
func (r *Registry) persist() {
	if r.logPath == "" {
		return
	}

	r.mu.RLock()
	records := make([][]byte, 0, len(r.workers))
	var marshalErr error
	for _, w := range r.workers {
		b, err := json.Marshal(w)
		if err != nil {
			marshalErr = err
			break
		}
		records = append(records, b)
	}
	r.mu.RUnlock()

	if marshalErr != nil {
		metrics.PersistFailures.Inc()
		log.Error().Err(marshalErr).Msg("failed to marshal registry state")
		return
	}

	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	tmp := r.logPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		metrics.PersistFailures.Inc()
		log.Error().Err(err).Str("path", tmp).Msg("failed to open state log tmp")
		return
	}
	for _, rec := range records {
		if _, err = f.Write(append(rec, '\n')); err != nil {
			break
		}
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		metrics.PersistFailures.Inc()
		log.Error().Err(err).Str("path", tmp).Msg("failed to write state log")
		return
	}
	if err := os.Rename(tmp, r.logPath); err != nil {
		metrics.PersistFailures.Inc()
		log.Error().Err(err).Str("path", r.logPath).Msg("failed to replace state log")
	}
}

// Load reads the state log into memory. A missing file means "start
// empty", not an error. Must run before the registry accepts requests.
func (r *Registry) Load() error {
	if r.logPath == "" {
		return nil
	}
	f, err := os.Open(r.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", r.logPath).Msg("no state log found, starting empty")
			return nil
		}
		return fmt.Errorf("open state log: %w", err)
	}
	defer f.Close()

	workers := make(map[string]*models.WorkerEndpoint)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var w models.WorkerEndpoint
		if err := json.Unmarshal(scanner.Bytes(), &w); err != nil {
			log.Warn().Err(err).Int("line", line).Msg("skipping malformed state log record")
			continue
		}
		workers[w.WorkerID] = &w
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read state log: %w", err)
	}

	r.mu.Lock()
	r.workers = workers
	r.rebuildIndexLocked()
	count := len(r.workers)
	r.mu.Unlock()

	metrics.RegisteredWorkers.Set(float64(count))
	log.Info().Int("workers", count).Str("path", r.logPath).Msg("registry state loaded")
	return nil
}
