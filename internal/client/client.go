// Package client implements the worker-side stub that talks to the
// controller: registration with retry and truncated exponential backoff,
// the periodic heartbeat loop, and graceful deregistration.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/workmesh/workmesh/pkg/models"
)

// ErrRegistrationExhausted is returned when every registration attempt
// failed. Callers log it and carry on: the controller may appear later,
// and the heartbeat loop will keep nudging it.
var ErrRegistrationExhausted = errors.New("registration attempts exhausted")

// backoffBase is the exponential backoff unit between registration
// attempts: min(2^attempt, cap) seconds.
const backoffBase = 2

// Config configures a Client.
type Config struct {
	ControllerURL string
	WorkerID      string
	ServiceLabel  string
	EndpointURL   string
	HealthURL     string
	Capabilities  []models.CapabilitySchema
	AuthToken     string

	// Registration retry policy.
	MaxAttempts int           // default 5
	BackoffCap  time.Duration // default 30s

	// Heartbeat loop timing.
	HeartbeatInterval time.Duration // default 30s
	HeartbeatRetry    time.Duration // default 5s, used after a failed send
	HeartbeatGrace    time.Duration // default 10s before the first beat

	// RequestTimeout bounds each network call, independent of the loop
	// interval, so a hung call never stalls the next scheduled beat.
	RequestTimeout time.Duration // default 10s
}

// Client is the worker's controller stub. Safe for use by one runtime;
// the heartbeat loop runs as a single background task.
type Client struct {
	cfg  Config
	http *http.Client

	// sleep is a test seam for the backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Client with defaults applied.
func New(cfg Config) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 30 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.HeartbeatRetry <= 0 {
		cfg.HeartbeatRetry = 5 * time.Second
	}
	if cfg.HeartbeatGrace < 0 {
		cfg.HeartbeatGrace = 10 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.RequestTimeout},
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ── Registration ─────────────────────────────────────────────

// Register delivers the registration payload, retrying up to MaxAttempts
// with min(2^attempt, cap) seconds between attempts. A non-success
// response counts as a failed attempt just like a network error. Returns
// ErrRegistrationExhausted after the final failure; the caller should
// log it and keep starting up.
func (c *Client) Register(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		lastErr = c.registerOnce(ctx)
		if lastErr == nil {
			log.Info().
				Str("worker_id", c.cfg.WorkerID).
				Int("attempt", attempt).
				Msg("registered with controller")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		log.Warn().
			Err(lastErr).
			Str("worker_id", c.cfg.WorkerID).
			Int("attempt", attempt).
			Int("max_attempts", c.cfg.MaxAttempts).
			Msg("registration attempt failed")

		if attempt < c.cfg.MaxAttempts {
			if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrRegistrationExhausted, c.cfg.MaxAttempts, lastErr)
}

// backoff returns the delay after the given 1-based failed attempt,
// truncated at the configured cap.
func (c *Client) backoff(attempt int) time.Duration {
	d := time.Second
	for i := 0; i < attempt; i++ {
		d *= backoffBase
		if d >= c.cfg.BackoffCap {
			return c.cfg.BackoffCap
		}
	}
	return d
}

// registerOnce performs a single registration attempt.
func (c *Client) registerOnce(ctx context.Context) error {
	ids := make([]string, 0, len(c.cfg.Capabilities))
	for _, cs := range c.cfg.Capabilities {
		ids = append(ids, cs.Key())
	}
	payload := models.RegistrationRequest{
		WorkerID:      c.cfg.WorkerID,
		ServiceLabel:  c.cfg.ServiceLabel,
		EndpointURL:   c.cfg.EndpointURL,
		HealthURL:     c.cfg.HealthURL,
		Capabilities:  c.cfg.Capabilities,
		CapabilityIDs: ids,
	}

	resp, err := c.post(ctx, "/api/v1/workers", payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("controller returned status %d", resp.StatusCode)
	}
	return nil
}

// ── Heartbeat ────────────────────────────────────────────────

// Heartbeat sends one liveness renewal. Returns (false, nil) when the
// controller does not know this worker — the signal to re-register — and
// a non-nil error only for transport-level failures.
func (c *Client) Heartbeat(ctx context.Context) (bool, error) {
	resp, err := c.post(ctx, "/api/v1/workers/"+c.cfg.WorkerID+"/heartbeat", models.HeartbeatRequest{WorkerID: c.cfg.WorkerID})
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("controller returned status %d", resp.StatusCode)
	}

	var ack models.HeartbeatResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return false, fmt.Errorf("decode heartbeat response: %w", err)
	}
	return ack.Acknowledged, nil
}

// RunHeartbeat is the heartbeat loop. It blocks until ctx is cancelled,
// so the runtime can await its termination and guarantee no beat is in
// flight when shutdown callbacks start tearing resources down.
//
// After an initial grace delay (avoiding a race with the controller's
// own startup) it beats every HeartbeatInterval. Any error reschedules
// at the shorter HeartbeatRetry so a transient blip recovers quickly.
// An unknown-worker response triggers an immediate single-shot
// re-registration: the controller may have restarted and lost us.
func (c *Client) RunHeartbeat(ctx context.Context) {
	if err := c.sleep(ctx, c.cfg.HeartbeatGrace); err != nil {
		return
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		next := c.cfg.HeartbeatInterval
		ack, err := c.Heartbeat(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("worker_id", c.cfg.WorkerID).Msg("heartbeat failed")
			next = c.cfg.HeartbeatRetry
		case !ack:
			log.Warn().Str("worker_id", c.cfg.WorkerID).Msg("controller does not know us, re-registering")
			if rerr := c.registerOnce(ctx); rerr != nil {
				log.Warn().Err(rerr).Str("worker_id", c.cfg.WorkerID).Msg("re-registration failed")
				next = c.cfg.HeartbeatRetry
			}
		}

		timer.Reset(next)
	}
}

// ── Deregistration ───────────────────────────────────────────

// Deregister removes this worker from the controller. Used during
// graceful shutdown; absence on the controller side is not an error.
func (c *Client) Deregister(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.cfg.ControllerURL+"/api/v1/workers/"+c.cfg.WorkerID, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("controller returned status %d", resp.StatusCode)
	}
	return nil
}

// ── HTTP plumbing ────────────────────────────────────────────

func (c *Client) post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	// The http.Client timeout bounds the whole call including body read;
	// no per-call context deadline needed on top.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ControllerURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)

	return c.http.Do(req) //nolint:bodyclose // closed by callers
}

func (c *Client) setHeaders(req *http.Request) {
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}
}
