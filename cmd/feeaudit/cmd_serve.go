// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/AleutianAI/feeaudit/services/taxaudit/api"
	"github.com/AleutianAI/feeaudit/services/taxaudit/store"
	"github.com/AleutianAI/feeaudit/services/taxaudit/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

// shutdownGrace bounds how long in-flight requests get after a signal.
const shutdownGrace = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var (
		addr  string
		debug bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve diagnostics, inspections and report history over HTTP",
		Long: `Starts the HTTP API on server.addr:

  GET  /v1/health
  POST /v1/diagnostics
  POST /v1/inspections
  GET  /v1/reports
  GET  /v1/reports/:id
  GET  /metrics          (when telemetry.metric_exporter is prometheus)

The backend is chosen by audit.backend. With the simulation backend all
requests share one ledger seeded at startup.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			return a.runServe(cmd.Context(), debug)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	cmd.Flags().BoolVar(&debug, "debug", false, "gin debug mode")
	return cmd
}

func (a *app) runServe(ctx context.Context, debug bool) error {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	metrics, stop, err := a.startTelemetry(ctx, false)
	if err != nil {
		return err
	}
	defer stop()

	be, err := a.openBackend(ctx, metrics)
	if err != nil {
		return err
	}
	defer be.close()

	reports, err := a.openStore()
	if err != nil {
		return err
	}
	if reports == nil {
		a.logger.Warn("report store disabled, keeping reports in memory")
		if reports, err = store.Open(store.InMemoryConfig()); err != nil {
			return err
		}
	}
	defer reports.Close()

	router := api.NewRouter(api.Deps{
		Diagnoser: be.runner,
		Reports:   reports,
		Metrics:   telemetry.MetricsHandler(),
		Logger:    a.logger.With("component", "api"),
		Source:    be.source,
	})
	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("feeaudit api listening", "addr", srv.Addr, "backend", be.source)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down feeaudit api")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(sctx)
}
