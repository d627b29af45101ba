// Package main is the entry point for the demonstration gateway binary:
// it wires config → backend adapters → Router → Bridge → an HTTP surface.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"time"

	"github.com/hnolan/irgateway/internal/backend"
	backendanthropic "github.com/hnolan/irgateway/internal/backend/anthropic"
	backendgemini "github.com/hnolan/irgateway/internal/backend/gemini"
	backendopenai "github.com/hnolan/irgateway/internal/backend/openai"
	"github.com/hnolan/irgateway/internal/bridge"
	"github.com/hnolan/irgateway/internal/config"
	frontendopenai "github.com/hnolan/irgateway/internal/frontend/openai"
	"github.com/hnolan/irgateway/internal/middleware"
	"github.com/hnolan/irgateway/internal/router"
	"github.com/hnolan/irgateway/internal/server"
)

// backendFactory builds one backend.Adapter from its config entry. Keyed
// by BackendConfig.Type so adding a new backend kind is one map entry,
// not a growing if/else chain.
type backendFactory func(name string, cfg config.BackendConfig) backend.Adapter

func main() {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	constructors := map[string]backendFactory{
		"openai": func(name string, c config.BackendConfig) backend.Adapter {
			return backendopenai.New(name, c.APIKey, c.BaseURL, http.DefaultClient)
		},
		"anthropic": func(name string, c config.BackendConfig) backend.Adapter {
			return backendanthropic.New(name, c.APIKey, c.BaseURL, http.DefaultClient)
		},
		"gemini": func(name string, c config.BackendConfig) backend.Adapter {
			return backendgemini.New(name, c.APIKey, c.BaseURL, http.DefaultClient)
		},
	}

	// Build the model→backend patterns before constructing the Router,
	// since Config is captured by value at New and never re-read.
	var modelPatterns []router.ModelPattern
	for name, backendCfg := range cfg.Backends {
		for _, model := range backendCfg.Models {
			modelPatterns = append(modelPatterns, router.ModelPattern{
				Pattern: regexp.MustCompile("^" + regexp.QuoteMeta(model) + "$"),
				Backend: name,
			})
		}
	}

	routerCfg := router.Config{
		RoutingStrategy:         router.SelectionStrategy(cfg.Router.RoutingStrategy),
		FallbackStrategy:        router.FallbackStrategy(cfg.Router.FallbackStrategy),
		DefaultBackend:          cfg.Router.DefaultBackend,
		HealthCheckInterval:     cfg.Router.HealthCheckInterval,
		EnableCircuitBreaker:    cfg.Router.EnableCircuitBreaker,
		CircuitBreakerThreshold: cfg.Router.CircuitBreakerThreshold,
		CircuitBreakerTimeout:   cfg.Router.CircuitBreakerTimeout,
		TrackLatency:            cfg.Router.TrackLatency,
		TrackCost:               cfg.Router.TrackCost,
		ModelMapping:            map[string]string{},
		ModelPatterns:           modelPatterns,
	}

	onEvent := func(name string, payload map[string]any) {
		log.Printf("router event %s: %v", name, payload)
	}
	rtr := router.New(routerCfg, onEvent)

	for name, backendCfg := range cfg.Backends {
		factory, ok := constructors[backendCfg.Type]
		if !ok {
			log.Fatalf("unknown backend type in config: %q", backendCfg.Type)
		}
		rtr.Register(name, factory(name, backendCfg))
		log.Printf("registered backend %q (type %q)", name, backendCfg.Type)
	}

	if cfg.Router.HealthCheckInterval > 0 {
		stop := rtr.StartHealthChecks(context.Background(), 5*time.Second)
		defer stop()
	}

	gw := bridge.New(frontendopenai.New(), rtr, bridge.Config{AutoRequestID: true})
	gw.Use(middleware.NewLogging(nil))

	srv := server.New(cfg, gw)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Printf("gateway listening on :%d", cfg.Server.Port)

	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
