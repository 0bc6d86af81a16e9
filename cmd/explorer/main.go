package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alvmarrod/screen-weaver/internal/api"
	"github.com/alvmarrod/screen-weaver/internal/config"
	"github.com/alvmarrod/screen-weaver/internal/explorer"
	"github.com/alvmarrod/screen-weaver/internal/memory"
	"github.com/alvmarrod/screen-weaver/internal/metrics"
	"github.com/alvmarrod/screen-weaver/internal/storage"
	"github.com/alvmarrod/screen-weaver/internal/version"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON or YAML config file")
	resume := flag.Bool("resume", false, "resume the most recent session stored in the database")
	flag.Parse()

	// Configure logging
	logrus.SetLevel(logrus.InfoLevel)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	logrus.Infof("Screen Weaver v%s starting...", version.Version)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	level, _ := logrus.ParseLevel(cfg.LogLevel)
	logrus.SetLevel(level)

	logrus.Infof("Configuration loaded: app=%s, max_steps=%d, output=%s",
		cfg.TargetApp, cfg.MaxSteps, cfg.OutputDir)

	// Initialize storage
	store, err := storage.NewStorage(cfg.DBPath)
	if err != nil {
		logrus.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	logrus.Infof("Database initialized: %s", cfg.DBPath)

	tracker := metrics.NewTracker()
	graph := memory.NewFeatureGraph()

	sessionID := ""
	if *resume {
		latest, err := store.LatestSession()
		if err != nil {
			logrus.Fatalf("Failed to look up previous session: %v", err)
		}
		if latest != "" {
			if err := graph.LoadFromStorage(store, latest); err != nil {
				logrus.Fatalf("Failed to resume session %s: %v", latest, err)
			}
			sessionID = latest
		} else {
			logrus.Info("No previous session found, starting fresh")
		}
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
		graph.Initialize(cfg.RootFeature, cfg.RootDescription)
	}
	logrus.Infof("Session %s", sessionID)

	var perception explorer.PerceptionProvider
	if cfg.DeviceURL != "" {
		perception, err = explorer.NewHTTPSource(cfg.DeviceURL, time.Duration(cfg.RequestTimeoutMs)*time.Millisecond)
	} else {
		perception, err = explorer.NewDirSource(cfg.DumpDir, cfg.TargetApp)
	}
	if err != nil {
		logrus.Fatalf("Failed to create perception provider: %v", err)
	}

	var decider explorer.DecisionProvider = &explorer.ReplayDecider{}
	if cfg.DecisionsPath != "" {
		if decider, err = explorer.NewReplayDecider(cfg.DecisionsPath); err != nil {
			logrus.Fatalf("Failed to load decisions: %v", err)
		}
	}

	exp, err := explorer.New(cfg, graph, tracker,
		explorer.WithStorage(store, sessionID),
		explorer.WithPerception(perception),
		explorer.WithDecider(decider),
		explorer.WithActuator(explorer.LoggingActuator{}),
	)
	if err != nil {
		logrus.Fatalf("Failed to create explorer: %v", err)
	}

	// Optional inspection API
	var srv *http.Server
	if cfg.APIAddr != "" {
		srv = &http.Server{
			Addr:              cfg.APIAddr,
			Handler:           api.NewServer(graph, exp, tracker),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logrus.Infof("Inspection API listening on %s", cfg.APIAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.Errorf("Inspection API failed: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First signal cancels the run; a second one forces an emergency save and exit
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logrus.Infof("Received signal: %v", sig)
		cancel()

		sig = <-sigChan
		logrus.Warnf("Received second signal (%v) - forcing immediate exit!", sig)
		logrus.Warn("Attempting emergency save...")

		if err := exp.Flush(); err != nil {
			logrus.Errorf("Emergency flush failed: %v", err)
		} else {
			logrus.Info("Emergency flush succeeded")
		}
		if err := tracker.WriteToFile(cfg.MetricsPath, "forced_exit"); err != nil {
			logrus.Errorf("Emergency metrics save failed: %v", err)
		}
		os.Exit(1)
	}()

	// Start progress logger
	var wg sync.WaitGroup
	stopProgress := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				logrus.Info(tracker.LogProgress())
			case <-stopProgress:
				return
			}
		}
	}()

	terminationReason, runErr := exp.Run(ctx)
	if runErr != nil {
		logrus.Errorf("Exploration ended with error: %v", runErr)
	}
	logrus.Infof("Exploration finished after %d steps: %s", exp.Steps(), terminationReason)

	close(stopProgress)
	wg.Wait()

	logrus.Info("Initiating graceful shutdown...")
	logrus.Info("Step 1/4: Stopping inspection API...")
	if srv != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.Warnf("Inspection API shutdown: %v", err)
		}
		cancelShutdown()
	}

	logrus.Info("Step 2/4: Flushing feature graph...")
	if err := exp.Flush(); err != nil {
		logrus.Errorf("Failed to flush feature graph: %v", err)
	} else {
		logrus.Infof("Feature graph written to %s and %s", cfg.OutputDir, cfg.DBPath)
	}

	logrus.Info("Step 3/4: Writing final metrics...")
	logrus.Info("Final stats: " + tracker.LogProgress())
	if err := tracker.WriteToFile(cfg.MetricsPath, terminationReason); err != nil {
		logrus.Errorf("Failed to write metrics: %v", err)
	} else {
		logrus.Infof("Metrics written to %s", cfg.MetricsPath)
	}

	logrus.Info("Step 4/4: Closing database connection...")

	// Database is closed via defer store.Close()

	logrus.Info("Graceful shutdown complete. Goodbye!")
}
