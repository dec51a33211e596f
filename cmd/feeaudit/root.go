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
	"fmt"
	"io"
	"time"

	"github.com/AleutianAI/feeaudit/cmd/feeaudit/config"
	"github.com/AleutianAI/feeaudit/pkg/logging"
	"github.com/AleutianAI/feeaudit/services/taxaudit/report"
	"github.com/AleutianAI/feeaudit/services/taxaudit/store"
	"github.com/AleutianAI/feeaudit/services/taxaudit/telemetry"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
)

// skipConfig marks commands that must run without loading the config file.
const skipConfig = "feeaudit/skip-config"

// app is the state shared by every subcommand of one invocation.
type app struct {
	// Persistent flags.
	configPath string
	format     string
	logLevel   string

	cfg    config.FeeAuditConfig
	logger *logging.Logger

	out    io.Writer
	errOut io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{out: stdout, errOut: stderr, logger: logging.Nop()}

	root := &cobra.Command{
		Use:   "feeaudit",
		Short: "Audit fee-on-transfer token tax behavior",
		Long: `feeaudit predicts how a fee-on-transfer token should tax buys, sells and
liquidity operations on a constant-product pool, runs those operations,
and reconciles what happened against the declared policy.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfig] == "true" {
				return nil
			}
			return a.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = a.logger.Close()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default ~/.feeaudit/feeaudit.yaml)")
	pf.StringVarP(&a.format, "output", "o", string(report.FormatAuto), "output format: auto, styled, plain or json")
	pf.StringVar(&a.logLevel, "log-level", "", "override log.level from the config")

	root.AddCommand(
		newSimulateCmd(a),
		newScenarioCmd(a),
		newInspectCmd(a),
		newCompareCmd(a),
		newHistoryCmd(a),
		newServeCmd(a),
		newConfigCmd(a),
	)
	return root
}

// load reads the config file and builds the logger.
func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	lc, err := cfg.Log.LoggingConfig("feeaudit")
	if err != nil {
		return err
	}
	lc.Output = a.errOut
	a.cfg = cfg
	a.logger = logging.New(lc)
	return nil
}

func (a *app) renderer() (*report.Renderer, error) {
	format, err := report.ParseFormat(a.format)
	if err != nil {
		return nil, err
	}
	return report.NewRenderer(a.out, format), nil
}

// startTelemetry installs the configured providers and creates the audit
// instruments. oneShot disables the Prometheus exporter, since nothing
// scrapes a process that exits after one report.
func (a *app) startTelemetry(ctx context.Context, oneShot bool) (*telemetry.Metrics, func(), error) {
	tc := a.cfg.Telemetry
	if oneShot && tc.MetricExporter == "prometheus" {
		tc.MetricExporter = "none"
	}
	shutdown, err := telemetry.Init(ctx, tc)
	if err != nil {
		return nil, nil, err
	}
	stop := func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			a.logger.Warn("telemetry shutdown failed", "error", err)
		}
	}
	metrics, err := telemetry.NewMetrics(otel.Meter(telemetry.TracerName))
	if err != nil {
		stop()
		return nil, nil, err
	}
	return metrics, stop, nil
}

// openStore opens the report store, or returns nil when it is disabled.
func (a *app) openStore() (*store.ReportStore, error) {
	sc, ok := a.cfg.Store.BadgerConfig()
	if !ok {
		return nil, nil
	}
	sc.Logger = a.logger.Slog()
	return store.Open(sc)
}

// persist saves doc when the store is enabled. Failures are logged, not
// returned: a report that was computed is still printed.
func (a *app) persist(ctx context.Context, doc report.Document) {
	st, err := a.openStore()
	if err != nil {
		a.logger.Warn("report store unavailable", "error", err)
		return
	}
	if st == nil {
		return
	}
	defer st.Close()
	if err := st.Save(ctx, doc); err != nil {
		a.logger.Warn("failed to save report", "id", doc.ID, "error", err)
		return
	}
	a.logger.Debug("report saved", "id", doc.ID, "kind", doc.Kind)
}

// outcome maps a rendered document to the command's error.
func outcome(doc report.Document, runErr error) error {
	if runErr != nil {
		return runErr
	}
	if doc.Defect() {
		return errDefect
	}
	return nil
}

// requireStore opens the store for commands that cannot work without it.
func (a *app) requireStore() (*store.ReportStore, error) {
	st, err := a.openStore()
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errors.New("report store is disabled (store.disabled or empty store.path)")
	}
	return st, nil
}

func addressFlagHelp(what string) string {
	return fmt.Sprintf("%s address (0x + 40 hex chars)", what)
}
