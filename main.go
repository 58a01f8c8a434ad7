package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/eaglenode/vpsd/config"
	"github.com/eaglenode/vpsd/database"
	"github.com/eaglenode/vpsd/deployment"
	dockerengine "github.com/eaglenode/vpsd/docker"
	"github.com/eaglenode/vpsd/handlers"
	"github.com/eaglenode/vpsd/jobs"
	"github.com/eaglenode/vpsd/metrics"
	"github.com/eaglenode/vpsd/scheduler"
	"github.com/eaglenode/vpsd/statefile"
	"github.com/eaglenode/vpsd/vps"
)

// version is set at build time via ldflags
var version = "dev"

// InfoResponse is the payload of the /info endpoint.
type InfoResponse struct {
	Component string `json:"component"`
	Version   string `json:"version"`
	Hostname  string `json:"hostname"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	NodeUUID  string `json:"node_uuid"`
	Runtime   string `json:"runtime"`
}

// NodeInfo provides component information to /info and metrics.
type NodeInfo struct {
	nodeUUID       string
	runtimeHealthy bool
}

func (n *NodeInfo) GetInfo() interface{} {
	hostname, _ := os.Hostname()
	runtimeState := "available"
	if !n.runtimeHealthy {
		runtimeState = "unavailable"
	}
	return InfoResponse{
		Component: "vpsd",
		Version:   version,
		Hostname:  hostname,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		NodeUUID:  n.nodeUUID,
		Runtime:   runtimeState,
	}
}

func (n *NodeInfo) GetDeploymentName() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "localhost"
	}
	return hostname
}

func (n *NodeInfo) GetVersion() string {
	return version
}

// setupLogging configures logging to write to both stdout and a log file
func setupLogging(logFile string) (*os.File, error) {
	if logFile == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
		log.Printf("Warning: could not create log directory: %v (logging to stdout only)", err)
		return nil, nil
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Printf("Warning: could not open log file %s: %v (logging to stdout only)", logFile, err)
		return nil, nil
	}

	log.SetOutput(io.MultiWriter(os.Stdout, file))
	log.SetFlags(log.LstdFlags)
	return file, nil
}

// openStore picks the configured state backend. The sqlite DB handle
// is returned too so main can close it on shutdown.
func openStore(cfg *config.Config) (vps.Store, *database.DB, error) {
	switch cfg.StateBackend {
	case "sqlite":
		db, err := database.New(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return db, db, nil
	default:
		return statefile.New(cfg.StateFile), nil, nil
	}
}

func main() {
	cfg, err := config.LoadConfigWithDefaults()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logFile, _ := setupLogging(cfg.LogFile)
	if logFile != nil {
		defer func() { _ = logFile.Close() }()
	}

	log.Printf("vpsd v%s starting", version)
	log.Printf("Configuration: port=%s, state_backend=%s, max_vps_per_user=%d, max_containers=%d",
		cfg.Port, cfg.StateBackend, cfg.MaxVPSPerUser, cfg.MaxContainers)

	nodeUUID, err := deployment.NewUUID(filepath.Dir(cfg.DBPath))
	if err != nil {
		log.Fatalf("Failed to initialize node UUID: %v", err)
	}
	log.Printf("Node UUID: %s", nodeUUID)

	store, db, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Error initializing state backend: %v", err)
	}
	if db != nil {
		defer func() { _ = database.Close(db) }()
	}

	registry := vps.NewRegistry(store)
	if err := registry.Load(); err != nil {
		log.Fatalf("Error loading registry: %v", err)
	}

	// An unreachable Docker daemon is reported once here; the manager
	// then rejects every lifecycle operation until vpsd is restarted.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var engine vps.Runtime
	dockerEngine, err := dockerengine.New(ctx, cfg.DockerNetwork)
	if err != nil {
		log.Printf("Docker unavailable: %v", err)
	} else {
		engine = dockerEngine
		defer func() { _ = dockerEngine.Close() }()
	}

	admins := vps.NewStaticAdmins(cfg.AdminIDs, cfg.AdminRole)
	manager := vps.NewManager(registry, engine, admins, vps.ManagerConfig{
		Quota: vps.Quota{
			MaxPerOwner: cfg.MaxVPSPerUser,
			MaxTotal:    cfg.MaxContainers,
		},
		DeniedPatterns:  cfg.DeniedImages,
		DefaultImage:    cfg.DefaultImage,
		Watermark:       cfg.Watermark,
		WelcomeMessage:  cfg.WelcomeMessage,
		MaxRuntimeCalls: cfg.MaxRuntimeCalls,
	})

	// Background jobs: periodic state backup and orphan detection.
	sched := scheduler.New()
	if err := sched.AddJob(jobs.NewBackupJob(registry),
		scheduler.NewIntervalScheduleWithJitter(cfg.BackupInterval, time.Minute),
		scheduler.JobConfig{Enabled: true, Timeout: time.Minute}); err != nil {
		log.Fatalf("Failed to register backup job: %v", err)
	}
	if engine != nil {
		if err := sched.AddJob(jobs.NewReconcileJob(registry, engine),
			scheduler.NewIntervalScheduleWithJitter(cfg.ReconcileInterval, time.Minute),
			scheduler.JobConfig{Enabled: true, Timeout: 5 * time.Minute}); err != nil {
			log.Fatalf("Failed to register reconcile job: %v", err)
		}
	}
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	info := &NodeInfo{nodeUUID: nodeUUID.String(), runtimeHealthy: engine != nil}

	// Optional OTEL metrics export.
	var otelExporter *metrics.OTELExporter
	if cfg.OTELEndpoint != "" {
		collector := metrics.NewCollector(info, nodeUUID.String(), registry)
		otelExporter, err = metrics.NewOTELExporter(ctx, collector, metrics.OTELConfig{
			Endpoint:     cfg.OTELEndpoint,
			PushInterval: cfg.OTELPushInterval,
			Insecure:     cfg.OTELInsecure,
		})
		if err != nil {
			log.Printf("Warning: OTEL exporter disabled: %v", err)
		} else {
			otelExporter.Start()
			log.Printf("OTEL metrics export enabled: endpoint=%s", cfg.OTELEndpoint)
		}
	}

	mux := http.NewServeMux()
	handlers.RegisterHandlers(mux, info)
	handlers.RegisterVPSHandlers(mux, manager)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		log.Printf("vpsd listening on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("Received signal %v, shutting down", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Warning: HTTP server shutdown: %v", err)
	}

	if err := sched.Stop(); err != nil {
		log.Printf("Warning: scheduler stop: %v", err)
	}
	if otelExporter != nil {
		_ = otelExporter.Shutdown()
	}

	// Final save so the registry survives the restart even if the last
	// post-mutation persist failed.
	if err := registry.Save(); err != nil {
		log.Printf("Warning: final registry save failed: %v", err)
	}
	log.Printf("vpsd stopped")
}
