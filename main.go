package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/docker/model-ranker/pkg/localservice"
	"github.com/docker/model-ranker/pkg/logging"
	"github.com/docker/model-ranker/pkg/metrics"
	"github.com/docker/model-ranker/pkg/middleware"
	"github.com/docker/model-ranker/pkg/routing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

var log = logrus.New()

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		logger, err := logging.New(os.Stderr, level, logging.Format(os.Getenv("LOG_FORMAT")))
		if err != nil {
			log.Fatalf("Invalid logging configuration: %v", err)
		}
		log = logger
	}

	port := os.Getenv("RANKER_SERVICE_PORT")
	if port == "" {
		port = "8080"
	}

	router := routing.NewNormalizedServeMux()
	serviceOpts := createServiceOptionsFromEnv()

	// Add metrics endpoint if enabled
	if os.Getenv("DISABLE_METRICS") != "1" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		serviceOpts = append(serviceOpts, localservice.WithMetrics(metrics.NewServiceMetrics(registry)))
		router.Handle("GET /metrics", metrics.HTTPHandler(registry))
		log.Info("Metrics endpoint enabled at /metrics")
	} else {
		log.Info("Metrics endpoint disabled")
	}

	service := localservice.New(log.WithField("component", "ranking-service"), serviceOpts...)
	router.Handle("/", service)

	handler := middleware.CORS(middleware.ParseOrigins(os.Getenv("RANKER_ORIGINS")), router)
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           routing.RequestLogger(log.WithField("component", "http"), handler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrors := make(chan error, 1)

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		log.Fatalf("Failed to listen on port %s: %v", port, err)
	}
	log.Infof("Listening on TCP port %s", port)
	go func() {
		serverErrors <- server.Serve(ln)
	}()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Server error: %v", err)
		}
	case <-ctx.Done():
		log.Infoln("Shutdown signal received")
		log.Infoln("Shutting down the server")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Server shutdown error: %v", err)
		}
	}
	log.Infoln("Ranking service stopped")
}

// createServiceOptionsFromEnv configures the ranking service from
// environment variables.
func createServiceOptionsFromEnv() []localservice.Option {
	var opts []localservice.Option

	if raw := os.Getenv("RANKER_TRAINING_POLLS"); raw != "" {
		polls, err := strconv.Atoi(raw)
		if err != nil || polls < 0 {
			log.Fatalf("RANKER_TRAINING_POLLS must be a non-negative integer, got %q", raw)
		}
		opts = append(opts, localservice.WithTrainingPolls(polls))
	}

	username := os.Getenv("RANKER_SERVICE_USERNAME")
	password := os.Getenv("RANKER_SERVICE_PASSWORD")
	if password != "" && username == "" {
		log.Fatalf("RANKER_SERVICE_PASSWORD requires RANKER_SERVICE_USERNAME")
	}
	if username != "" {
		log.Infof("Basic authentication enabled for user %s", logging.Sanitize(username))
		opts = append(opts, localservice.WithBasicAuth(username, password))
	}

	if os.Getenv("RECORD_REQUESTS") == "1" {
		log.Info("Recording rank requests at /debug/requests")
		opts = append(opts, localservice.WithRecorder(
			metrics.NewRankRecorder(log.WithField("component", "recorder"))))
	}

	return opts
}
