// WorkMesh demo worker — registers a small set of capabilities with the
// controller, heartbeats in the background, and serves its own health
// endpoint. Real workers follow the same shape with their own catalogs
// and request handlers.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/workmesh/workmesh/internal/catalog"
	"github.com/workmesh/workmesh/internal/client"
	"github.com/workmesh/workmesh/internal/config"
	"github.com/workmesh/workmesh/internal/identity"
	"github.com/workmesh/workmesh/internal/runtime"
	"github.com/workmesh/workmesh/pkg/models"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg := config.Load()
	port := 8500
	if v := os.Getenv("WORKMESH_WORKER_PORT"); v != "" {
		fmt.Sscanf(v, "%d", &port)
	}

	endpointURL := cfg.Worker.EndpointURL
	if endpointURL == "" {
		endpointURL = fmt.Sprintf("http://localhost:%d", port)
	}

	cat := demoCatalog()

	var provider identity.Provider
	if cfg.TLS.CertFile != "" {
		provider = &identity.FileProvider{
			CertFile: cfg.TLS.CertFile,
			KeyFile:  cfg.TLS.KeyFile,
			CAFile:   cfg.TLS.CAFile,
		}
	}

	rt := runtime.New(runtime.Config{
		WorkerID:     os.Getenv("WORKMESH_WORKER_ID"),
		ServiceLabel: cfg.Worker.ServiceLabel,
		Catalog:      cat,
		Identity:     provider,
		ClientConfig: client.Config{
			ControllerURL:     cfg.Worker.ControllerURL,
			ServiceLabel:      cfg.Worker.ServiceLabel,
			EndpointURL:       endpointURL,
			HealthURL:         endpointURL + "/health",
			AuthToken:         cfg.Auth.Token,
			MaxAttempts:       cfg.Worker.RegisterMaxAttempts,
			BackoffCap:        cfg.Worker.RegisterBackoffCap,
			HeartbeatInterval: cfg.Worker.HeartbeatInterval,
			HeartbeatRetry:    cfg.Worker.HeartbeatRetry,
			HeartbeatGrace:    cfg.Worker.HeartbeatGrace,
			RequestTimeout:    cfg.Worker.RequestTimeout,
		},
		CallbackTimeout: cfg.Worker.ShutdownCallback,
	}, runtime.Hooks{})

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		report := rt.Health()
		w.Header().Set("Content-Type", "application/json")
		if !report.OK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(report)
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	rt.OnShutdown("http-server", func(ctx context.Context) error {
		return httpServer.Shutdown(ctx)
	})

	ctx := context.Background()
	if err := rt.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("worker startup failed")
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		rt.Shutdown(shutdownCtx)
		os.Exit(0)
	}()

	log.Info().
		Int("port", port).
		Str("worker_id", rt.WorkerID()).
		Str("controller", cfg.Worker.ControllerURL).
		Msg("worker listening")

	var err error
	if id := rt.TLSIdentity(); id != nil {
		httpServer.TLSConfig = id.ServerTLSConfig()
		err = httpServer.ListenAndServeTLS("", "")
	} else {
		err = httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("worker server failed")
	}
}

// demoCatalog declares the capabilities this example worker offers.
func demoCatalog() *catalog.Catalog {
	cat := catalog.New()

	v1, _ := models.NewCapabilityVersion(1, 0, 0)

	emailContract, _ := models.NewIOContract(
		models.Schema{"type": "object", "properties": map[string]interface{}{"body": map[string]interface{}{"type": "string"}}},
		models.Schema{"type": "object", "properties": map[string]interface{}{"label": map[string]interface{}{"type": "string"}}},
		[]models.ErrorCode{
			{Code: "EMPTY_BODY", Description: "message body was empty"},
			{Code: "MODEL_BUSY", Description: "classifier is overloaded", Retryable: true},
		},
	)
	classify, _ := models.NewCapabilityDefinition("classify.email", v1, "Email Classifier", emailContract)
	classify.Description = "Classifies inbound email into routing labels."
	classify.Tags = []string{"nlp", "email"}
	classify.EstimatedDuration = 2 * time.Second
	cat.Register(classify)

	convContract, _ := models.NewIOContract(
		models.Schema{"type": "object", "properties": map[string]interface{}{"url": map[string]interface{}{"type": "string"}}},
		models.Schema{"type": "object", "properties": map[string]interface{}{"pdf_url": map[string]interface{}{"type": "string"}}},
		nil,
	)
	convert, _ := models.NewCapabilityDefinition("convert.document", v1, "Document Converter", convContract)
	convert.Description = "Converts office documents to PDF."
	convert.EstimatedDuration = 30 * time.Second
	cat.Register(convert)

	return cat
}
