package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the WorkMesh control plane and
// worker runtime. Everything is environment-driven with documented
// defaults so a controller and a worker can run with zero setup.
type Config struct {
	Port      int
	Version   string
	DataDir   string
	Registry  RegistryConfig
	Worker    WorkerConfig
	TLS       TLSConfig
	Telemetry TelemetryConfig
	Auth      AuthConfig
}

type RegistryConfig struct {
	// HeartbeatTimeout is the staleness window: a worker whose last
	// heartbeat is older than this is excluded from routing and removed
	// by cleanup.
	HeartbeatTimeout time.Duration

	// CleanupInterval is the janitor cadence for evicting stale workers.
	CleanupInterval time.Duration
}

type WorkerConfig struct {
	ControllerURL       string
	ServiceLabel        string
	EndpointURL         string
	HeartbeatInterval   time.Duration
	HeartbeatRetry      time.Duration // shorter retry after a failed send
	HeartbeatGrace      time.Duration // initial delay before the first heartbeat
	RegisterMaxAttempts int
	RegisterBackoffCap  time.Duration
	RequestTimeout      time.Duration // per-call network timeout
	ShutdownCallback    time.Duration // per-callback timeout during shutdown
}

type TLSConfig struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

type AuthConfig struct {
	// Token is a shared bearer token for registration/heartbeat calls.
	// Empty disables auth (local dev).
	Token string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("WORKMESH_PORT", 8420),
		Version: envStr("WORKMESH_VERSION", "0.2.0"),
		DataDir: envStr("WORKMESH_DATA_DIR", defaultDataDir()),
		Registry: RegistryConfig{
			HeartbeatTimeout: envDur("WORKMESH_HEARTBEAT_TIMEOUT", 90*time.Second),
			CleanupInterval:  envDur("WORKMESH_CLEANUP_INTERVAL", 60*time.Second),
		},
		Worker: WorkerConfig{
			ControllerURL:       envStr("WORKMESH_CONTROLLER_URL", "http://localhost:8420"),
			ServiceLabel:        envStr("WORKMESH_SERVICE_LABEL", ""),
			EndpointURL:         envStr("WORKMESH_ENDPOINT_URL", ""),
			HeartbeatInterval:   envDur("WORKMESH_HEARTBEAT_INTERVAL", 30*time.Second),
			HeartbeatRetry:      envDur("WORKMESH_HEARTBEAT_RETRY", 5*time.Second),
			HeartbeatGrace:      envDur("WORKMESH_HEARTBEAT_GRACE", 10*time.Second),
			RegisterMaxAttempts: envInt("WORKMESH_REGISTER_MAX_ATTEMPTS", 5),
			RegisterBackoffCap:  envDur("WORKMESH_REGISTER_BACKOFF_CAP", 30*time.Second),
			RequestTimeout:      envDur("WORKMESH_REQUEST_TIMEOUT", 10*time.Second),
			ShutdownCallback:    envDur("WORKMESH_SHUTDOWN_CALLBACK_TIMEOUT", 10*time.Second),
		},
		TLS: TLSConfig{
			CertFile: envStr("WORKMESH_TLS_CERT", ""),
			KeyFile:  envStr("WORKMESH_TLS_KEY", ""),
			CAFile:   envStr("WORKMESH_TLS_CA", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "workmesh-controller"),
		},
		Auth: AuthConfig{
			Token: envStr("WORKMESH_AUTH_TOKEN", ""),
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".workmesh"
	}
	return home + "/.workmesh"
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
