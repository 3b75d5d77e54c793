package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workmesh/workmesh/pkg/models"
)

func testCaps() []models.CapabilitySchema {
	return []models.CapabilitySchema{{Verb: "classify", Name: "email", Version: "1.0.0"}}
}

// recordingSleeper captures backoff delays instead of sleeping.
type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func newTestClient(controllerURL string) (*Client, *recordingSleeper) {
	c := New(Config{
		ControllerURL:     controllerURL,
		WorkerID:          "w-test",
		ServiceLabel:      "test-worker",
		EndpointURL:       "http://localhost:8500",
		Capabilities:      testCaps(),
		HeartbeatGrace:    time.Millisecond,
		HeartbeatInterval: 10 * time.Millisecond,
		HeartbeatRetry:    time.Millisecond,
	})
	rs := &recordingSleeper{}
	c.sleep = rs.sleep
	return c, rs
}

// ─── Registration retry policy ───────────────────────────────

// A controller failing the first 3 attempts then succeeding yields
// exactly 4 attempts with strictly increasing, capped delays.
func TestRegisterRetriesThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c, rs := newTestClient(srv.URL)
	err := c.Register(context.Background())

	require.NoError(t, err)
	assert.EqualValues(t, 4, atomic.LoadInt32(&attempts))
	require.Len(t, rs.delays, 3)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, rs.delays)
}

func TestRegisterExhaustsAttempts(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, rs := newTestClient(srv.URL)
	err := c.Register(context.Background())

	require.ErrorIs(t, err, ErrRegistrationExhausted)
	assert.EqualValues(t, 5, atomic.LoadInt32(&attempts))
	// 4 delays between 5 attempts, capped at 30s: 2, 4, 8, 16.
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}, rs.delays)
}

func TestBackoffCap(t *testing.T) {
	c := New(Config{ControllerURL: "http://x", BackoffCap: 30 * time.Second})
	assert.Equal(t, 2*time.Second, c.backoff(1))
	assert.Equal(t, 16*time.Second, c.backoff(4))
	assert.Equal(t, 30*time.Second, c.backoff(5))  // 32 truncated
	assert.Equal(t, 30*time.Second, c.backoff(10)) // stays capped
}

func TestRegisterSendsPayload(t *testing.T) {
	var got models.RegistrationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "Bearer sekrit", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := New(Config{
		ControllerURL: srv.URL,
		WorkerID:      "w-7",
		ServiceLabel:  "doc-converter",
		EndpointURL:   "https://w7:8500",
		HealthURL:     "https://w7:8500/health",
		Capabilities:  testCaps(),
		AuthToken:     "sekrit",
	})
	require.NoError(t, c.Register(context.Background()))

	assert.Equal(t, "w-7", got.WorkerID)
	assert.Equal(t, "doc-converter", got.ServiceLabel)
	assert.Equal(t, "https://w7:8500", got.EndpointURL)
	assert.Equal(t, "https://w7:8500/health", got.HealthURL)
	require.Len(t, got.Capabilities, 1)
	assert.Equal(t, []string{"classify:email"}, got.CapabilityIDs)
}

// ─── Heartbeat ───────────────────────────────────────────────

func TestHeartbeatAcknowledged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/workers/w-test/heartbeat", r.URL.Path)
		json.NewEncoder(w).Encode(models.HeartbeatResponse{Acknowledged: true, Status: "ok"})
	}))
	defer srv.Close()

	c, _ := newTestClient(srv.URL)
	ack, err := c.Heartbeat(context.Background())
	require.NoError(t, err)
	assert.True(t, ack)
}

// An unknown worker is a protocol signal, not a transport error.
func TestHeartbeatUnknownWorker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, _ := newTestClient(srv.URL)
	ack, err := c.Heartbeat(context.Background())
	require.NoError(t, err)
	assert.False(t, ack)
}

func TestHeartbeatTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := newTestClient(srv.URL)
	_, err := c.Heartbeat(context.Background())
	require.Error(t, err)
}

// The loop re-registers when the controller forgets us (restart with a
// lost log) and resumes acknowledged heartbeats afterwards.
func TestHeartbeatLoopReRegisters(t *testing.T) {
	var registered atomic.Bool
	var beats int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v1/workers" && r.Method == http.MethodPost:
			registered.Store(true)
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPost: // heartbeat
			atomic.AddInt32(&beats, 1)
			if !registered.Load() {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(models.HeartbeatResponse{Acknowledged: true})
		}
	}))
	defer srv.Close()

	c := New(Config{
		ControllerURL:     srv.URL,
		WorkerID:          "w-test",
		Capabilities:      testCaps(),
		HeartbeatGrace:    time.Millisecond,
		HeartbeatInterval: 5 * time.Millisecond,
		HeartbeatRetry:    time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.RunHeartbeat(ctx)
	}()

	require.Eventually(t, func() bool {
		return registered.Load() && atomic.LoadInt32(&beats) >= 2
	}, 2*time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("heartbeat loop did not terminate after cancellation")
	}
}

// ─── Deregister ──────────────────────────────────────────────

func TestDeregister(t *testing.T) {
	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, _ := newTestClient(srv.URL)
	require.NoError(t, c.Deregister(context.Background()))
	assert.Equal(t, http.MethodDelete, method)
	assert.Equal(t, "/api/v1/workers/w-test", path)
}
