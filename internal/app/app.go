package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"edgeclassifier/internal/config"
	"edgeclassifier/internal/handler"
	"edgeclassifier/internal/logger"
	"edgeclassifier/internal/model"
	"edgeclassifier/internal/repository/sqlite"
	"edgeclassifier/internal/route"
	"edgeclassifier/internal/service/driver"
	"edgeclassifier/internal/service/inference"
	"edgeclassifier/internal/service/metrics"
	"edgeclassifier/internal/service/overlay"
	"edgeclassifier/internal/service/snapshot"
	"edgeclassifier/internal/service/source"
	wsservice "edgeclassifier/internal/service/websocket"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var errStreamsEnded = errors.New("all streams ended")

type App struct {
	config *config.Config
	logger *logger.Logger
	runID  string

	db        *sqlite.DB
	mqtt      mqtt.Client
	engine    inference.Engine
	source    source.Source
	cameras   *source.CameraSource
	driver    *driver.Driver
	hub       *wsservice.HubService
	snapshots *snapshot.Service
	router    http.Handler

	// targets holds the output frames of the current tick that carry a
	// target-class detection. Only the tick goroutine touches it.
	targets map[*model.Frame]bool
}

func NewApp() *App {
	return &App{
		runID:   uuid.NewString(),
		targets: make(map[*model.Frame]bool),
	}
}

// Init loads the configuration and builds every service. It logs the cause
// and returns false on the first failure.
func (a *App) Init() bool {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return false
	}
	a.config = cfg

	log, err := logger.New(cfg.LogDirectory)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return false
	}
	a.logger = log

	if err := a.initServices(); err != nil {
		a.logger.Error("Initialization failed: %v", err)
		return false
	}
	return true
}

func (a *App) initServices() error {
	cfg := a.config

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return err
	}
	a.db = db
	epochRepo := sqlite.NewEpochRepository(db)
	detectionRepo := sqlite.NewDetectionRepository(db)
	snapshotRepo := sqlite.NewSnapshotRepository(db)

	sinks := metrics.MultiSink{
		metrics.NewLogSink(a.logger),
		metrics.NewStoreSink(sqlite.NewMetricRepository(db), epochRepo, a.runID),
	}
	if cfg.MQTTBroker != "" {
		client, err := metrics.ConnectMQTT(cfg.MQTTBroker, "edgeclassifier-"+a.runID, a.logger)
		if err != nil {
			return err
		}
		a.mqtt = client
		sinks = append(sinks, metrics.NewMQTTSink(client, cfg.MQTTTopicPrefix))
	}

	engine, err := newEngine(cfg, a.logger)
	if err != nil {
		return err
	}
	a.engine = engine

	if err := a.initSource(); err != nil {
		return err
	}

	a.hub = wsservice.NewHubService(a.logger)
	a.snapshots = snapshot.NewService(snapshot.Options{
		Directory:     cfg.ImageDirectory,
		Limit:         cfg.SnapshotLimit,
		FlushInterval: time.Duration(cfg.SnapshotFlushInterval) * time.Second,
		RunID:         a.runID,
	}, a.logger, snapshotRepo, detectionRepo)

	opts := driver.OptionsFromConfig(cfg)
	opts.OnDetections = a.onDetections
	a.driver = driver.New(a.engine, sinks, a.logger, opts)

	a.router = route.SetupRoutes(route.Dependencies{
		Pipeline:      a.driver,
		Hub:           a.hub,
		EpochRepo:     epochRepo,
		DetectionRepo: detectionRepo,
		SnapshotRepo:  snapshotRepo,
	}, cfg, a.logger)
	return nil
}

func newEngine(cfg *config.Config, log *logger.Logger) (inference.Engine, error) {
	if cfg.Backend == config.BackendKServe {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		engine, err := inference.NewKServeEngine(ctx, cfg.KServeURL, cfg.ModelName, cfg.KServeInput, log)
		if err != nil {
			return nil, err
		}
		return engine, nil
	}
	engine, err := inference.NewDNNEngine(cfg.ModelPath, cfg.ModelConfigPath, log)
	if err != nil {
		return nil, err
	}
	return engine, nil
}

// initSource opens the configured capture URIs, or falls back to frames
// pushed by UDP cameras.
func (a *App) initSource() error {
	if len(a.config.Streams) > 0 {
		src, err := source.OpenCaptures(a.config.Streams, a.logger)
		if err != nil {
			return err
		}
		a.source = src
		return nil
	}
	if a.config.CamerasPort > 0 {
		a.cameras = source.NewCameraSource(a.logger)
		a.source = a.cameras
		return nil
	}
	return fmt.Errorf("no frame source: set STREAMS, STREAMS_FILE or CAMERAS_PORT")
}

// Run starts the background services and the tick loop and blocks until ctx
// is done or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.hub.Run(ctx) })
	g.Go(func() error { return a.snapshots.Run(ctx) })
	g.Go(func() error { return a.serveHTTP(ctx) })
	if a.cameras != nil {
		g.Go(func() error { return handler.UDPCameraHandler(ctx, a.cameras, a.logger, a.config) })
	}
	g.Go(func() error { return a.runPipeline(ctx) })

	a.logger.Info("Edge classifier %s started (run %s)", a.config.ModelName, a.runID)
	a.logger.Info("URL: http://localhost:%d", a.config.Port)
	a.logger.Info("Backend: %s, threshold %.2f, epoch %d ticks", a.config.Backend, a.config.Threshold, a.config.EpochFrames)

	err := g.Wait()
	if errors.Is(err, errStreamsEnded) {
		a.logger.Info("All streams ended, shutting down")
		return nil
	}
	return err
}

func (a *App) serveHTTP(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.Port),
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// runPipeline is the tick loop: one Source.Next and one Driver.Tick per
// iteration, optionally paced by TickInterval.
func (a *App) runPipeline(ctx context.Context) error {
	var pace <-chan time.Time
	if a.config.TickInterval > 0 {
		ticker := time.NewTicker(a.config.TickInterval)
		defer ticker.Stop()
		pace = ticker.C
	}

	for {
		frames, err := a.source.Next(ctx)
		switch {
		case ctx.Err() != nil:
			release(frames, nil)
			return nil
		case errors.Is(err, source.ErrClosed):
			return nil
		case errors.Is(err, source.ErrExhausted):
			return errStreamsEnded
		case err != nil:
			a.logger.Error("Failed to read frames: %v", err)
			continue
		}

		outputs, err := a.driver.Tick(ctx, frames)
		if err != nil {
			a.logger.Warning("Tick %d: %v", a.driver.TickCount(), err)
		}
		a.emit(outputs)
		release(frames, outputs)

		if pace != nil {
			select {
			case <-pace:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (a *App) onDetections(frame *model.Frame, detections []model.Detection) {
	a.snapshots.RecordDetections(frame, detections)
	for _, det := range detections {
		if det.Target {
			a.targets[frame] = true
			return
		}
	}
}

// emit renders the output frames for viewers and buffers snapshots of those
// with a target detection.
func (a *App) emit(outputs []*model.Frame) {
	defer clear(a.targets)

	viewers := a.hub.GetClientCount() > 0
	for _, out := range outputs {
		if out == nil {
			continue
		}
		target := a.targets[out]
		if !viewers && !target {
			continue
		}

		jpeg, err := overlay.Render(out)
		if err != nil {
			a.logger.Warning("%v", &driver.StreamError{StreamURI: out.StreamURI, Stage: driver.StageOverlay, Err: err})
			continue
		}
		if viewers {
			if err := a.hub.BroadcastFrame(out, jpeg); err != nil {
				a.logger.Error("Failed to encode viewer message: %v", err)
			}
		}
		if target {
			a.snapshots.AddImage(out, jpeg)
		}
	}
}

// release closes every frame that is no longer held by the stream buffer.
func release(frames, outputs []*model.Frame) {
	for _, group := range [][]*model.Frame{frames, outputs} {
		for _, f := range group {
			if f != nil && !f.Pinned() {
				f.Close()
			}
		}
	}
}

// Close releases the source, the buffered frames, the engine, the database
// and the log files.
func (a *App) Close() {
	if a.source != nil {
		a.source.Close()
	}
	if a.driver != nil {
		buffer := a.driver.Buffer()
		for _, stream := range buffer.Streams() {
			if entry, ok := buffer.Get(stream); ok && buffer.Remove(stream) && entry.Raw != nil {
				entry.Raw.Close()
			}
		}
	}
	if a.engine != nil {
		if err := a.engine.Close(); err != nil {
			a.logger.Error("Failed to close inference engine: %v", err)
		}
	}
	if a.mqtt != nil {
		a.mqtt.Disconnect(250)
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("Failed to close database: %v", err)
		}
	}
	if a.logger != nil {
		a.logger.Close()
	}
}
