/*
Copyright 2026 The ClusterLens Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command clusterlens keeps a live relationship graph of a Kubernetes
// cluster and answers relation queries and summary requests over it.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/manager/signals"

	"github.com/clusterlens/clusterlens/internal/cluster"
	"github.com/clusterlens/clusterlens/internal/config"
	"github.com/clusterlens/clusterlens/internal/graph"
	"github.com/clusterlens/clusterlens/internal/logging"
	"github.com/clusterlens/clusterlens/internal/query"
	"github.com/clusterlens/clusterlens/internal/summary"
	"github.com/clusterlens/clusterlens/internal/syncer"
)

func main() {
	var configPath string
	var kubeconfig string
	var logLevel string

	pflag.StringVar(&configPath, "config", "", "Path to a YAML configuration file.")
	pflag.StringVar(&kubeconfig, "kubeconfig", "", "Path to a kubeconfig file; empty selects in-cluster configuration.")
	pflag.StringVar(&logLevel, "log-level", "", "Logging verbosity: info, debug, trace, warn, or error. Overrides the configured value.")
	pflag.Parse()

	if err := run(configPath, kubeconfig, logLevel); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(configPath, kubeconfig, logLevel string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if kubeconfig != "" {
		cfg.Kubeconfig = kubeconfig
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logging.NewLogger(cfg.LogLevel)
	log := ctrl.Log.WithName("clusterlens")
	log.Info("starting", "syncInterval", cfg.SyncInterval, "graphTTL", cfg.GraphTTL)
	log.V(logging.DEBUG).Info("effective configuration\n" + cfg.Dump())

	accessor, err := cluster.NewKubeAccessorFromKubeconfig(cfg.Kubeconfig)
	if err != nil {
		return fmt.Errorf("building cluster accessor: %w", err)
	}

	g := graph.New(graph.Options{
		TTL:            cfg.GraphTTL,
		MemoryBudgetMB: cfg.GraphMemoryBudgetMB,
	})
	engine := syncer.New(g, accessor, syncer.Options{
		SyncInterval:    cfg.SyncInterval,
		WatchTimeout:    cfg.WatchTimeout,
		MaxWatchRetries: cfg.MaxWatchRetries,
		GraphTTL:        cfg.GraphTTL,
	})
	generator := summary.NewGenerator(g, cfg.SummaryMaxSizeKB)
	handler := query.NewHandler(g, generator, query.Options{
		CacheTTL:  cfg.QueryCacheTTL,
		CacheSize: cfg.QueryCacheSize,
	})

	ctx := signals.SetupSignalHandler()
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("starting sync engine: %w", err)
	}
	log.Info("sync engine running")

	go reportLoop(ctx, cfg.SyncInterval, engine, generator, handler)

	<-ctx.Done()
	log.Info("shutting down")
	engine.Stop()

	status := engine.Status()
	log.Info("stopped", "resources", g.Statistics().NodeCount, "errors", status.ErrorCount)
	return nil
}

// reportLoop periodically logs a condensed cluster health report built
// from the summary generator and a topology query.
func reportLoop(ctx context.Context, interval time.Duration, engine *syncer.Engine, generator *summary.Generator, handler *query.Handler) {
	log := ctrl.Log.WithName("report")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			status := engine.Status()
			health := syncer.HealthFor(status, interval, now)

			view, err := generator.GenerateHealthView()
			if err != nil {
				log.Error(err, "generating health view")
				continue
			}
			result := handler.Execute(ctx, query.Request{Type: query.TypeClusterTopology})
			namespaces := 0
			if result.Success && result.Topology != nil {
				namespaces = len(result.Topology.Namespaces)
			}
			log.Info("cluster health",
				"sync", health,
				"score", view.Score,
				"health", view.Health,
				"abnormal", view.AbnormalCount,
				"namespaces", namespaces,
			)
		}
	}
}
