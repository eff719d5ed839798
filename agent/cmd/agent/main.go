package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/echoscope/echoscope/agent/internal/compute"
	"github.com/echoscope/echoscope/agent/internal/config"
	"github.com/echoscope/echoscope/agent/internal/probe"
	"github.com/echoscope/echoscope/agent/internal/shipper"
	"github.com/echoscope/echoscope/pkg/health"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	envFile := flag.String("env-file", ".env", "optional dotenv file with secrets")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("echoscope-agent starting", "config", *configPath)

	if err := config.LoadEnv(*envFile); err != nil {
		slog.Error("failed to load env file", "err", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"server_endpoint", cfg.Agent.ServerEndpoint,
		"sources", len(cfg.Agent.Sources),
		"probe_interval", cfg.Agent.ProbeInterval,
		"batch_size", cfg.Agent.BatchSize,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	type pipeline struct {
		src config.Source
		p   probe.Prober
	}
	var pipelines []pipeline
	for _, src := range cfg.Agent.Sources {
		p, err := probe.New(src)
		if err != nil {
			slog.Error("skipping source, could not build prober", "source", src.ID, "err", err)
			continue
		}
		pipelines = append(pipelines, pipeline{src: src, p: p})
		slog.Info("registered source", "id", src.ID, "type", src.Type, "target", src.Target, "endpoint", src.Endpoint)
	}

	if len(pipelines) == 0 {
		slog.Warn("no sources configured, agent will idle")
	}

	ship, err := shipper.New(cfg.Agent)
	if err != nil {
		slog.Error("failed to build shipper", "err", err)
		os.Exit(1)
	}
	go ship.Run(ctx)

	engine := compute.NewEngine(cfg.Agent.BatchSize, health.DefaultPolicy())

	// One probe loop per source so a slow target cannot delay the others.
	var wg sync.WaitGroup
	for _, pl := range pipelines {
		wg.Add(1)
		go func(pl pipeline) {
			defer wg.Done()
			ticker := time.NewTicker(cfg.Agent.ProbeInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case t := <-ticker.C:
					res, err := pl.p.Probe(ctx)
					if err != nil {
						slog.Warn("probe error", "source", pl.src.ID, "err", err)
						continue
					}
					batch := engine.Process(res, t)
					if batch == nil {
						continue
					}
					ship.Ship(batch)
					slog.Info("batch ready",
						"source", pl.src.ID,
						"samples", batch.Dataset.Count(),
						"local_score", batch.Local.Score,
						"local_level", batch.Local.Level,
						"uptime_pct", batch.UptimePct,
						"pending_batches", ship.Pending(),
					)
				}
			}
		}(pl)
	}

	<-ctx.Done()
	wg.Wait()
	slog.Info("echoscope-agent shutting down")
}
