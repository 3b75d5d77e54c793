// Package models defines the shared data types for the WorkMesh control
// plane: the versioned capability contract model, the registry-side
// capability records, and the worker endpoint state tracked by the
// controller. All types here are plain data; behavior lives in the
// registry and runtime packages.
package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ── Capability Version ───────────────────────────────────────

// CapabilityVersion is a semantic version attached to a capability
// definition. Immutable once constructed.
type CapabilityVersion struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

// NewCapabilityVersion validates the three components (all must be
// non-negative) and returns the version.
func NewCapabilityVersion(major, minor, patch int) (CapabilityVersion, error) {
	if major < 0 || minor < 0 || patch < 0 {
		return CapabilityVersion{}, &ValidationError{
			Field:  "version",
			Reason: fmt.Sprintf("components must be non-negative, got %d.%d.%d", major, minor, patch),
		}
	}
	return CapabilityVersion{Major: major, Minor: minor, Patch: patch}, nil
}

// ParseCapabilityVersion parses a "major.minor.patch" string.
// Wrong segment count or non-numeric segments are validation errors.
func ParseCapabilityVersion(s string) (CapabilityVersion, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return CapabilityVersion{}, &ValidationError{
			Field:  "version",
			Reason: fmt.Sprintf("expected major.minor.patch, got %q", s),
		}
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return CapabilityVersion{}, &ValidationError{
				Field:  "version",
				Reason: fmt.Sprintf("segment %q is not a non-negative integer", p),
			}
		}
		nums[i] = n
	}
	return CapabilityVersion{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// String formats the version as "major.minor.patch".
func (v CapabilityVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// IsCompatibleWith reports whether two versions are compatible:
// major components must match, minor/patch differences are always fine.
func (v CapabilityVersion) IsCompatibleWith(other CapabilityVersion) bool {
	return v.Major == other.Major
}

// ── Error Codes ──────────────────────────────────────────────

// ErrorCode is a machine-readable error a capability can raise, declared
// up front so callers can decide retry policy without inspecting prose.
type ErrorCode struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Retryable   bool   `json:"retryable"`
}

// ── IO Contract ──────────────────────────────────────────────

// Schema is a structured schema object. Every schema must declare its
// own "type" tag; the rest of the shape is free-form JSON-schema-like.
type Schema map[string]interface{}

// Type returns the schema's declared type tag, or "" if missing.
func (s Schema) Type() string {
	if t, ok := s["type"].(string); ok {
		return t
	}
	return ""
}

// IOContract couples a capability's input schema, output schema, and the
// error codes it may declare. The error list may be empty.
type IOContract struct {
	Input  Schema      `json:"input"`
	Output Schema      `json:"output"`
	Errors []ErrorCode `json:"errors,omitempty"`
}

// NewIOContract validates that both schemas declare a type tag.
func NewIOContract(input, output Schema, errors []ErrorCode) (IOContract, error) {
	if input.Type() == "" {
		return IOContract{}, &ValidationError{Field: "input", Reason: "schema missing type tag"}
	}
	if output.Type() == "" {
		return IOContract{}, &ValidationError{Field: "output", Reason: "schema missing type tag"}
	}
	return IOContract{Input: input, Output: output, Errors: errors}, nil
}

// ── Capability Definition ────────────────────────────────────

// CapabilityDefinition is the canonical, versioned description of one
// thing a worker can do. Constructed once per worker type, typically from
// a static catalog; immutable after construction, compared only.
type CapabilityDefinition struct {
	ID                string            `json:"id"` // dotted, e.g. "email.classify"
	Version           CapabilityVersion `json:"version"`
	DisplayName       string            `json:"display_name"`
	Description       string            `json:"description,omitempty"`
	Contract          IOContract        `json:"contract"`
	Tags              []string          `json:"tags,omitempty"`
	RequiresGPU       bool              `json:"requires_gpu,omitempty"`
	EstimatedDuration time.Duration     `json:"estimated_duration,omitempty"`
}

// NewCapabilityDefinition validates the dotted id and returns the
// definition. The id must contain at least one dot separating non-empty
// segments ("verb.name").
func NewCapabilityDefinition(id string, version CapabilityVersion, displayName string, contract IOContract) (CapabilityDefinition, error) {
	if err := validateCapabilityID(id); err != nil {
		return CapabilityDefinition{}, err
	}
	if displayName == "" {
		return CapabilityDefinition{}, &ValidationError{Field: "display_name", Reason: "must not be empty"}
	}
	return CapabilityDefinition{
		ID:          id,
		Version:     version,
		DisplayName: displayName,
		Contract:    contract,
	}, nil
}

func validateCapabilityID(id string) error {
	if id == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	parts := strings.Split(id, ".")
	if len(parts) < 2 {
		return &ValidationError{Field: "id", Reason: fmt.Sprintf("%q is not a dotted id", id)}
	}
	for _, p := range parts {
		if p == "" {
			return &ValidationError{Field: "id", Reason: fmt.Sprintf("%q has an empty segment", id)}
		}
	}
	return nil
}

// IsCompatibleWith reports whether another definition's version is
// compatible with this one.
func (d CapabilityDefinition) IsCompatibleWith(other CapabilityDefinition) bool {
	return d.Version.IsCompatibleWith(other.Version)
}

// ── Capability Schema (registry-side record) ─────────────────

// ResourceConstraints are optional per-capability resource bounds.
// Carried and persisted, not yet enforced.
type ResourceConstraints struct {
	MaxMemoryMB int `json:"max_memory_mb,omitempty"`
	MaxCPUMilli int `json:"max_cpu_milli,omitempty"`
}

// SLOTargets are optional latency/availability targets for a capability.
// Carried and persisted, not yet consumed by routing.
type SLOTargets struct {
	P99LatencyMS int     `json:"p99_latency_ms,omitempty"`
	Availability float64 `json:"availability,omitempty"` // e.g. 0.999
}

// CapabilityExtensions is the forward-looking extension block attached to
// a registered capability. Every field here is inert today: the routing
// algorithm acts only on verb+name, but these fields must survive
// persistence and serialization untouched.
type CapabilityExtensions struct {
	RuntimeHints         map[string]string    `json:"runtime_hints,omitempty"` // environment-profile hints
	Resources            *ResourceConstraints `json:"resources,omitempty"`
	SLO                  *SLOTargets          `json:"slo,omitempty"`
	IdentityRef          string               `json:"identity_ref,omitempty"`
	DependsOn            []string             `json:"depends_on,omitempty"` // capabilities this worker itself needs
	CostPerCall          float64              `json:"cost_per_call,omitempty"`
	BidTokens            int                  `json:"bid_tokens,omitempty"`
	PreferredControllers []string             `json:"preferred_controllers,omitempty"`
}

// CapabilitySchema is the form a capability takes once registered with
// the controller. Only Verb and Name participate in routing today.
type CapabilitySchema struct {
	Name           string                `json:"name"`
	Verb           string                `json:"verb"`
	Version        string                `json:"version"`
	RequiresGPU    bool                  `json:"requires_gpu,omitempty"`
	MaxConcurrency int                   `json:"max_concurrency,omitempty"`
	Extensions     *CapabilityExtensions `json:"extensions,omitempty"`
}

// Key returns the routing index key "verb:name".
func (c CapabilitySchema) Key() string {
	return c.Verb + ":" + c.Name
}

// Validate checks the required fields of a registered capability.
func (c CapabilitySchema) Validate() error {
	if c.Name == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if c.Verb == "" {
		return &ValidationError{Field: "verb", Reason: "must not be empty"}
	}
	return nil
}

// SchemaFromDefinition converts a CapabilityDefinition into the
// registry-side record. The dotted id splits as "verb.name" (the name may
// itself contain dots; the first segment is the verb).
func SchemaFromDefinition(d CapabilityDefinition) CapabilitySchema {
	verb, name := d.ID, ""
	if i := strings.Index(d.ID, "."); i >= 0 {
		verb, name = d.ID[:i], d.ID[i+1:]
	}
	return CapabilitySchema{
		Name:        name,
		Verb:        verb,
		Version:     d.Version.String(),
		RequiresGPU: d.RequiresGPU,
	}
}

// ── Worker Endpoint ──────────────────────────────────────────

// WorkerEndpoint is the per-worker state held by the controller: identity,
// reachable address, capability list, and liveness timestamps. Created on
// registration; mutated only by heartbeat (timestamp bump) or
// re-registration (full replace); destroyed by deregistration or
// staleness cleanup.
type WorkerEndpoint struct {
	WorkerID      string             `json:"worker_id"`
	WorkerURL     string             `json:"worker_url"`
	Capabilities  []CapabilitySchema `json:"capabilities"`
	LastHeartbeat time.Time          `json:"last_heartbeat"`
	RegisteredAt  time.Time          `json:"registered_at"`
}

// IsHealthy reports whether the endpoint's liveness window is still open:
// true iff now - last_heartbeat < timeout.
func (w *WorkerEndpoint) IsHealthy(timeout time.Duration) bool {
	return time.Since(w.LastHeartbeat) < timeout
}

// ── Worker State ─────────────────────────────────────────────

// WorkerState is the worker runtime's health state machine.
type WorkerState string

const (
	WorkerStarting  WorkerState = "starting"
	WorkerHealthy   WorkerState = "healthy"
	WorkerDegraded  WorkerState = "degraded"
	WorkerUnhealthy WorkerState = "unhealthy"
	WorkerStopping  WorkerState = "stopping"
)

// HealthReport is the worker runtime's externally visible health summary.
// OK is true only when the state machine is in WorkerHealthy; any other
// state is a non-2xx signal to orchestration probes.
type HealthReport struct {
	OK            bool                   `json:"ok"`
	State         WorkerState            `json:"state"`
	WorkerID      string                 `json:"worker_id"`
	UptimeSeconds float64                `json:"uptime_seconds"`
	Details       map[string]interface{} `json:"details,omitempty"`
}

// ── Transport Payloads ───────────────────────────────────────

// RegistrationRequest is the wire payload a worker sends to register.
// CapabilityIDs is a derived convenience list ("verb:name" keys) for
// logging and display; Capabilities is authoritative.
type RegistrationRequest struct {
	WorkerID      string             `json:"worker_id"`
	ServiceLabel  string             `json:"service_label,omitempty"`
	EndpointURL   string             `json:"endpoint_url"`
	HealthURL     string             `json:"health_url,omitempty"`
	Capabilities  []CapabilitySchema `json:"capabilities"`
	CapabilityIDs []string           `json:"capability_ids,omitempty"`
}

// HeartbeatRequest is the wire payload for a liveness renewal.
type HeartbeatRequest struct {
	WorkerID string `json:"worker_id"`
}

// HeartbeatResponse acknowledges a heartbeat. Acknowledged is false when
// the controller does not know the worker id, signalling the worker to
// re-register.
type HeartbeatResponse struct {
	Acknowledged bool   `json:"acknowledged"`
	Status       string `json:"status,omitempty"`
}

// RegistryState is the serializable snapshot of the registry used by the
// multi-controller export/import hooks.
type RegistryState struct {
	ControllerID string           `json:"controller_id,omitempty"`
	ExportedAt   time.Time        `json:"exported_at"`
	Workers      []WorkerEndpoint `json:"workers"`
}

// ── Validation Errors ────────────────────────────────────────

// ValidationError reports a malformed field at construction time.
// Validation failures are never silently coerced.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}
