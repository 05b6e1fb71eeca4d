// main is the entry point of the Muster application.
// It initializes the configuration, logger, database, GeoIP provider,
// resolves the rally-point server list, and starts the HTTP server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/muster/internal/config"
	"github.com/woozymasta/muster/internal/geoip"
	"github.com/woozymasta/muster/internal/logger"
	"github.com/woozymasta/muster/internal/maintenance"
	"github.com/woozymasta/muster/internal/rallypoint"
	"github.com/woozymasta/muster/internal/server"
	"github.com/woozymasta/muster/internal/storage"
)

func main() {
	cfg := config.Parse()

	logger.Setup(cfg.Logger)
	log.Info().Msg("Starting muster service...")

	// Database
	store, err := storage.New(cfg.Storage.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database")
		}
	}()

	// Database maintenance
	if maintenance.Run(cfg, store) {
		return
	}

	// GeoIP Update
	var geoProvider *geoip.Provider
	if !cfg.GeoIP.Disabled {
		log.Info().Msg("Checking GeoIP database...")
		if err := geoip.EnsureDB(cfg.GeoIP.Path, cfg.GeoIP.URL, cfg.GeoIP.Interval); err != nil {
			log.Error().Err(err).Msg("Failed to download GeoIP database")
		}

		geoProvider, err = geoip.Open(cfg.GeoIP.Path)
		if err != nil {
			log.Error().Err(err).Msg("Failed to open GeoIP database, country detection disabled")
			geoProvider = nil
		} else {
			defer func() {
				if err := geoProvider.Close(); err != nil {
					log.Error().Err(err).Msg("Error closing GeoIP provider")
				}
			}()
		}
	}

	// Rally-point resolution
	endpoints := make([]rallypoint.Endpoint, 0, len(cfg.RallyPoint.Servers))
	for _, entry := range cfg.RallyPoint.Servers {
		ep, err := rallypoint.ParseEndpoint(entry)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid rally-point server")
		}
		endpoints = append(endpoints, ep)
	}

	resolveCtx, cancelResolve := context.WithTimeout(context.Background(), cfg.RallyPoint.ResolveTimeout)
	servers, err := rallypoint.Resolve(resolveCtx, endpoints)
	cancelResolve()
	if err != nil {
		log.Fatal().Err(err).Msg("Rally-point resolution failed")
	}
	log.Info().
		Int("resolved", len(servers)).
		Int("configured", len(endpoints)).
		Msg("Rally-point servers resolved")

	registry := rallypoint.NewRegistry(servers)

	// Init server
	srvHandler := server.New(store, geoProvider, registry, cfg)

	// Background queue
	srvHandler.StartWorkers()

	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      srvHandler.Run(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 0, // websockets manage their own write deadlines
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("address", cfg.Server.Address).Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Shut down HTTP
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop workers (wait queue done)
	srvHandler.StopWorkers()

	log.Info().Msg("Server exited")
}
