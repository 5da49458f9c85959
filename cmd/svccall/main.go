// Package main is a command-line front end for the gateway client. It
// loads configuration, issues a single call (or serves the admin/metrics
// endpoints until interrupted), and prints the response body to stdout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dskow/gateway-client/admin"
	"github.com/dskow/gateway-client/client"
	"github.com/dskow/gateway-client/config"
	"github.com/dskow/gateway-client/logging"
)

func main() {
	configPath := flag.String("config", "configs/client.yaml", "path to configuration file")
	target := flag.String("target", "", "target service name")
	endpoint := flag.String("endpoint", "", "endpoint path on the target service")
	method := flag.String("method", "GET", "HTTP method")
	data := flag.String("data", "", "JSON request body for non-GET calls")
	params := flag.String("params", "", "query parameters as a JSON object")
	timeout := flag.Duration("timeout", 0, "per-call timeout override")
	noCache := flag.Bool("no-cache", false, "bypass the response cache")
	noRetry := flag.Bool("no-retry", false, "issue exactly one transport attempt")
	noBreaker := flag.Bool("no-breaker", false, "bypass the circuit breaker")
	listen := flag.String("listen", "", "serve admin and metrics endpoints on this address instead of making a call")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.Setup(
		cfg.Logging.Output,
		cfg.Logging.Level,
		cfg.Logging.MaxSizeMB,
		cfg.Logging.MaxBackups,
		cfg.Logging.MaxAgeDays,
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to set up logging:", err)
		os.Exit(1)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "message", w)
	}

	c, err := client.New(cfg, client.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create client", "error", err)
		os.Exit(1)
	}
	defer c.Close()

	reloader := config.NewReloader(*configPath, cfg, logger)
	reloader.OnReload(c.UpdateConfig)
	reloader.Start()
	defer reloader.Stop()

	if *listen != "" {
		serve(c, cfg, logger, *listen)
		return
	}

	if *target == "" || *endpoint == "" {
		fmt.Fprintln(os.Stderr, "-target and -endpoint are required")
		os.Exit(2)
	}

	req := client.Request{
		TargetService:      *target,
		Endpoint:           *endpoint,
		Method:             *method,
		Timeout:            *timeout,
		SkipCache:          *noCache,
		SkipRetry:          *noRetry,
		SkipCircuitBreaker: *noBreaker,
	}

	if *data != "" {
		var body any
		if err := json.Unmarshal([]byte(*data), &body); err != nil {
			fmt.Fprintln(os.Stderr, "-data is not valid JSON:", err)
			os.Exit(2)
		}
		req.Body = body
	}
	if *params != "" {
		if err := json.Unmarshal([]byte(*params), &req.Params); err != nil {
			fmt.Fprintln(os.Stderr, "-params is not a JSON object of strings:", err)
			os.Exit(2)
		}
	}

	body, err := c.Call(context.Background(), req)
	if err != nil {
		logger.Error("call failed", "target", *target, "endpoint", *endpoint, "error", err)
		os.Exit(1)
	}

	os.Stdout.Write(body)
	fmt.Println()
}

// serve exposes the Prometheus metrics endpoint and, when enabled in
// config, the admin surface, until SIGINT/SIGTERM.
func serve(c *client.Client, cfg *config.Config, logger *slog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Metrics().Handler())

	if cfg.Admin.Enabled {
		admin.New(c, cfg.Admin.IPAllowlist, logger).RegisterRoutes(mux)
		logger.Info("admin endpoints registered")
	}

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx) //nolint:errcheck
	logger.Info("stopped")
}
