// Package app bootstraps the sensor: it wires storage, the detection
// pipeline, the capture supervisor, the learner and the HTTP surface
// together and manages their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gorm.io/gorm"

	"github.com/safelink/safelink/internal/adapters/capture"
	"github.com/safelink/safelink/internal/adapters/storage"
	"github.com/safelink/safelink/internal/adapters/web"
	"github.com/safelink/safelink/internal/adapters/web/handlers"
	"github.com/safelink/safelink/internal/adapters/web/websocket"
	"github.com/safelink/safelink/internal/config"
	"github.com/safelink/safelink/internal/core/services/classifier"
	"github.com/safelink/safelink/internal/core/services/detect"
	"github.com/safelink/safelink/internal/core/services/dispatch"
	"github.com/safelink/safelink/internal/core/services/feature"
	"github.com/safelink/safelink/internal/core/services/learner"
	"github.com/safelink/safelink/internal/core/services/pipeline"
	"github.com/safelink/safelink/internal/core/services/sniffer"
	"github.com/safelink/safelink/internal/telemetry"
)

// Application holds the assembled components. Capture stays idle until
// started over the API; the learner runs from boot when enabled.
type Application struct {
	Config *config.Config

	DB         *gorm.DB
	Hub        *websocket.Hub
	Alerts     *storage.AlertRepo
	Archive    *storage.ArchiveRepo
	Threats    *storage.ThreatRepo
	Extractor  *feature.Extractor
	Model      *classifier.Classifier
	Analyzer   *detect.Analyzer
	Registry   *capture.Registry
	Engine     *capture.Engine
	Supervisor *sniffer.Supervisor
	Learner    *learner.Learner
}

// New creates an Application and bootstraps its components.
func New(cfg *config.Config) (*Application, error) {
	app := &Application{Config: cfg}
	if err := app.bootstrap(); err != nil {
		return nil, fmt.Errorf("application bootstrap failed: %w", err)
	}
	return app, nil
}

func (app *Application) bootstrap() error {
	telemetry.InitMetrics()

	if err := app.initStorage(); err != nil {
		return err
	}
	if err := app.initModel(); err != nil {
		return err
	}
	app.initPipeline()
	return app.initLearner()
}

func (app *Application) initStorage() error {
	if dir := filepath.Dir(app.Config.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := storage.Open(app.Config.Database.Path)
	if err != nil {
		return fmt.Errorf("opening alert database: %w", err)
	}
	app.DB = db
	app.Hub = websocket.NewHub(app.Config.Hub.QueueSize, app.Config.Hub.OverflowLimit)
	app.Alerts = storage.NewAlertRepo(db, app.Hub)
	app.Archive = storage.NewArchiveRepo(db)
	app.Threats = storage.NewThreatRepo(db)
	return nil
}

// initModel restores the feature schema and the classifier checkpoint. A
// missing or unreadable checkpoint starts a fresh model; a checkpoint whose
// feature order disagrees with the schema refuses to boot.
func (app *Application) initModel() error {
	registry, err := feature.NewRegistry(app.Config.Model.SchemaDir)
	if err != nil {
		return fmt.Errorf("opening feature schema registry: %w", err)
	}
	schema, ok := registry.Get(feature.DefaultVersion)
	if !ok {
		schema, err = registry.Register(feature.DefaultVersion, "arp_default",
			feature.DefaultFeatures, feature.DefaultFeatureTypes(),
			"built-in ARP frame schema")
		if err != nil {
			return fmt.Errorf("registering feature schema: %w", err)
		}
	}
	app.Extractor = feature.NewExtractor(schema)

	model, err := classifier.Load(app.Config.Model.Path, schema.Features)
	switch {
	case err == nil:
	case errors.Is(err, classifier.ErrCheckpointMismatch):
		return fmt.Errorf("model checkpoint rejected: %w", err)
	case errors.Is(err, os.ErrNotExist):
		log.Println("No model checkpoint found, starting with a fresh model")
		model = classifier.New(schema.Features, nil, classifier.DefaultDropout, app.Config.Model.Path)
	default:
		log.Printf("Model checkpoint unreadable (%v), starting with a fresh model", err)
		model = classifier.New(schema.Features, nil, classifier.DefaultDropout, app.Config.Model.Path)
	}
	app.Model = model
	return nil
}

func (app *Application) initPipeline() {
	cfg := app.Config

	dfa := detect.NewDFAFilter(cfg.Detect.GratuitousThreshold,
		time.Duration(cfg.Detect.GratuitousWindowSec*float64(time.Second)))
	app.Analyzer = detect.NewAnalyzer(cfg.Detect.MaxHistory,
		time.Duration(cfg.Detect.PendingTTLSec)*time.Second)
	vendor := detect.NewVendorChecker(cfg.Detect.VendorCacheSize)
	pipe := pipeline.New(dfa, app.Analyzer, vendor, app.Extractor, app.Model,
		app.Alerts, app.Threats)

	// The supervisor rebuilds the dispatcher on every start, so it gets a
	// factory rather than an instance.
	newDispatcher := func() *dispatch.Dispatcher {
		return dispatch.New(cfg.Dispatch.Workers, cfg.Dispatch.QueueSize,
			dispatch.Strategy(cfg.Dispatch.Strategy),
			time.Duration(cfg.Dispatch.DrainGraceSeconds)*time.Second,
			pipe.Handle)
	}

	app.Registry = capture.NewRegistry()
	app.Engine = capture.NewEngine(
		capture.NewLiveOpener(cfg.Capture.Snaplen, cfg.Capture.Promisc),
		app.Registry, cfg.Capture.BufferSize)

	app.Supervisor = sniffer.NewSupervisor(app.Engine, newDispatcher, app.Analyzer,
		app.Archive, app.Threats, sniffer.Config{
			Interfaces:        cfg.Capture.Interfaces,
			DaysToKeep:        cfg.Retention.DaysToKeep,
			ArchiveDaysToKeep: cfg.Retention.ArchiveDaysToKeep,
			MaxActiveAlerts:   cfg.Retention.MaxActiveAlerts,
		})
}

func (app *Application) initLearner() error {
	cfg := app.Config
	l, err := learner.New(app.Alerts, app.Model, app.Extractor, learner.Options{
		Interval:     time.Duration(cfg.Learning.IntervalSec) * time.Second,
		MinSamples:   cfg.Learning.MinSamples,
		BatchSize:    cfg.Learning.BatchSize,
		LearningRate: cfg.Learning.LearningRate,
		MaxHistory:   cfg.Learning.MaxHistory,
		BackupDir:    cfg.Model.BackupDir,
		StateFile:    cfg.Learning.StateFile,
	})
	if err != nil {
		return fmt.Errorf("restoring learner state: %w", err)
	}
	app.Learner = l
	return nil
}

// Run starts the background services and serves the HTTP API until ctx is
// canceled or the server fails, then tears everything down.
func (app *Application) Run(ctx context.Context) error {
	if app.Config.Learning.Enabled {
		app.Learner.Start(ctx)
	}

	// Handlers that start long-lived work get ctx so API-driven starts
	// outlive their requests but still die with the application.
	h := web.Handlers{
		Sniffer:   handlers.NewSnifferHandler(ctx, app.Supervisor),
		Alerts:    handlers.NewAlertHandler(app.Alerts, app.Archive),
		Learning:  handlers.NewLearningHandler(ctx, app.Learner),
		Threats:   handlers.NewThreatHandler(app.Threats),
		Interface: handlers.NewInterfaceHandler(app.Registry),
		LiveFeed:  handlers.NewLiveFeedHandler(app.Alerts),
		WS:        websocket.NewHandler(app.Hub),
	}
	server := web.NewServer(app.Config.Service.HTTPListen, h)

	err := server.Run(ctx)
	app.cleanup()
	return err
}

// cleanup stops the services in dependency order: capture first so no new
// frames arrive, then the learner, then the push hub and the database.
func (app *Application) cleanup() {
	if err := app.Supervisor.Stop(); err != nil && !errors.Is(err, sniffer.ErrNotRunning) {
		log.Println("Sniffer shutdown error:", err)
	}
	app.Learner.Stop()
	app.Hub.Shutdown()
	if err := storage.Close(app.DB); err != nil {
		log.Println("Database close error:", err)
	}
}
