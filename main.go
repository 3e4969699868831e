/*
Purpose:
- surroundings engine

Description:
- Builds triangulated 3D surroundings of a location (terrain, buildings, vegetation, water,
  streets, railways, mountains) and runs noise, view and sun simulations on them.

Releases:
- v1.0.0 - 2026-09-28: initial release (surroundings, noise)
- v1.1.0 - 2026-10-12: potential simulations (view, sun) with workers and progress store

Remarks:
- Usage 'serve' : HTTP API (point, simulation, metrics)
- Usage 'worker' : consumes potential jobs from the queue
- Usage 'schedule' : enqueues potential units for a range of national tiles
- Usage 'rerun' : re-enqueues failed and stuck units

Links:
- https://pkg.go.dev/github.com/airbusgeo/godal
- https://pkg.go.dev/github.com/paulmach/orb
- https://pkg.go.dev/github.com/spf13/cobra
- https://pkg.go.dev/gopkg.in/natefinch/lumberjack.v2
*/

// main package
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/airbusgeo/godal"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

// general program info
var (
	progName      = strings.TrimSuffix(filepath.Base(os.Args[0]), filepath.Ext(filepath.Base(os.Args[0])))
	progVersion   = "v1.1.0"
	progDate      = "2026-10-12"
	progPurpose   = "surroundings engine"
	progInfo      = "Builds 3D surroundings of a location and runs noise, view and sun simulations on them."
	progCopyright = "© 2026 | surroundings engine authors"
)

// statistics
var (
	PointRequests       uint64
	SimulationRequests  uint64
	SimulationTriangles uint64
	PotentialJobs       uint64
)

/*
main starts this program.
*/
func main() {
	var configFile string
	rootCmd := &cobra.Command{
		Use:           progName,
		Short:         progPurpose,
		Long:          progInfo,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", progName+".yaml", "configuration file")

	rootCmd.AddCommand(serveCmd(&configFile))
	rootCmd.AddCommand(workerCmd(&configFile))
	rootCmd.AddCommand(scheduleCmd(&configFile))
	rootCmd.AddCommand(rerunCmd(&configFile))

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", progName, err)
		os.Exit(1)
	}
}

func serveCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API (point, simulation, metrics)",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(*configFile)
		},
	}
}

func workerCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume potential jobs from the queue",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runWorker(*configFile)
		},
	}
}

func scheduleCmd(configFile *string) *cobra.Command {
	var first, last int
	var floors []int
	var simulations []string
	var family string

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Enqueue potential units for a range of national tiles",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runSchedule(*configFile, first, last, simulations, floors, family)
		},
	}
	cmd.Flags().IntVar(&first, "first", 0, "first tile index")
	cmd.Flags().IntVar(&last, "last", DefaultTileGrid.Count()-1, "last tile index (inclusive)")
	cmd.Flags().IntSliceVar(&floors, "floors", []int{0}, "floors to simulate")
	cmd.Flags().StringSliceVar(&simulations, "simulations", []string{SimulationView, SimulationSun}, "potential simulations")
	cmd.Flags().StringVar(&family, "family", "SWISSTOPO", "source family (OSM, SWISSTOPO)")
	return cmd
}

func rerunCmd(configFile *string) *cobra.Command {
	var family string

	cmd := &cobra.Command{
		Use:   "rerun",
		Short: "Re-enqueue failed and stuck potential units",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runRerun(*configFile, family)
		},
	}
	cmd.Flags().StringVar(&family, "family", "SWISSTOPO", "source family (OSM, SWISSTOPO)")
	return cmd
}

/*
runtimeEnv holds the process-wide resources of one command.
*/
type runtimeEnv struct {
	config           ProgConfig
	lumberjackLogger *lumberjack.Logger
	reprojector      *Reprojector
	repository       *TileRepository
	metrics          *EngineMetrics
	progress         *ProgressStore
	queue            JobQueue
	engine           *Engine
	orchestrator     *Orchestrator
	shutdownTracing  func(context.Context) error
}

/*
setup loads the configuration, starts logging and builds all shared resources.
*/
func setup(configFile string, command string) (*runtimeEnv, error) {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}
	env := &runtimeEnv{config: cfg}
	env.lumberjackLogger = setupLogging(cfg, command)

	// log program start
	slog.Info(progPurpose+" startet", "name", progName, "version", progVersion, "date", progDate, "info", progInfo,
		"copyright", progCopyright, "command", command, "command line", os.Args)
	jsonData, _ := json.MarshalIndent(redacted(cfg), "", "  ")
	slog.Info("content of configuration file", "configuration file", configFile, "content", string(jsonData))

	env.shutdownTracing, err = initTracing(cfg.Tracing, cfg.TraceFile)
	if err != nil {
		return nil, err
	}

	env.metrics, err = NewEngineMetrics(nil)
	if err != nil {
		return nil, err
	}

	// initialize GDAL, register all known GDAL drivers
	godal.RegisterAll()
	env.reprojector = NewReprojector()

	if len(cfg.TileRepositories) > 0 {
		env.repository, err = BuildTileRepository(cfg.TileRepositories)
		if err != nil {
			return nil, fmt.Errorf("error building tile repository: %w", err)
		}
		if cfg.TileRepositoryCSV != "" {
			err = env.repository.Save(cfg.TileRepositoryCSV)
			if err != nil {
				return nil, fmt.Errorf("error saving tile repository: %w", err)
			}
		}
	} else {
		slog.Warn("no tile repositories configured, elevation lookups will fail")
	}

	var blobs BlobStore = FileBlobStore{Directory: cfg.BlobDirectory}
	var remote BlobStore
	if cfg.ObjectStore.Endpoint != "" {
		minioStore, err := NewMinioBlobStore(cfg.ObjectStore)
		if err != nil {
			return nil, err
		}
		blobs, remote = minioStore, minioStore
	}

	env.progress, err = OpenProgressStore(cfg.ProgressDatabase)
	if err != nil {
		return nil, err
	}

	if len(cfg.Queue.Brokers) > 0 {
		env.queue = NewKafkaQueue(cfg.Queue)
	} else {
		env.queue = NewMemoryQueue(1024)
	}

	sunInstants, err := cfg.sunInstants()
	if err != nil {
		return nil, err
	}
	factory := &SurroundingsFactory{
		Cache: &SourceCache{
			Directory:    cfg.CacheDirectory,
			Remote:       remote,
			RemotePrefix: cfg.SourcePrefix,
			MaxAttempts:  cfg.MaxAttempts,
			Metrics:      env.metrics,
		},
		Reprojector:        env.reprojector,
		Repository:         env.repository,
		Metrics:            env.metrics,
		WorkingEPSG:        cfg.WorkingEPSG,
		Margins:            cfg.margins(),
		GroundResolution:   cfg.GroundResolution,
		MountainResolution: cfg.MountainResolution,
		ExcavationDepth:    cfg.ExcavationDepth,
		BuildingHeight:     cfg.BuildingHeight,
	}
	env.engine = &Engine{
		Factory:     factory,
		Reprojector: env.reprojector,
		Results: &ResultStore{
			Blobs:       blobs,
			Namespace:   cfg.ResultNamespace,
			Encoding:    cfg.ResultEncoding,
			MaxAttempts: cfg.MaxAttempts,
		},
		Grid:                 DefaultTileGrid,
		Observation:          ObservationGenerator(cfg.Observation),
		PotentialObservation: ObservationGenerator(cfg.PotentialObservation),
		FloorHeight:          cfg.FloorHeight,
		NoiseSampleSpacing:   cfg.NoiseSampleSpacing,
		NoiseLayers:          cfg.noiseLayers(),
		ViewRays:             cfg.ViewRays,
		SunInstants:          sunInstants,
	}
	env.orchestrator = &Orchestrator{
		Grid:              DefaultTileGrid,
		Progress:          env.progress,
		Queue:             env.queue,
		Runner:            env.engine,
		Concurrency:       cfg.Concurrency,
		ProcessingTimeout: time.Duration(cfg.ProcessingTimeout) * time.Second,
		Metrics:           env.metrics,
	}
	return env, nil
}

/*
close releases all resources; errors are logged only.
*/
func (env *runtimeEnv) close() {
	if env.queue != nil {
		err := env.queue.Close()
		if err != nil {
			slog.Error("error at queue.Close()", "error", err)
		}
	}
	if env.progress != nil {
		err := env.progress.Close()
		if err != nil {
			slog.Error("error at progress.Close()", "error", err)
		}
	}
	if env.reprojector != nil {
		env.reprojector.Close()
	}
	if env.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := env.shutdownTracing(ctx)
		if err != nil {
			slog.Error("error shutting down tracing", "error", err)
		}
	}
}

/*
setupLogging installs the JSON logger writing to a rotated log file per command.
*/
func setupLogging(cfg ProgConfig, command string) *lumberjack.Logger {
	// logging: replacer for logging objects
	replacer := func(_ []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			source := a.Value.Any().(*slog.Source)   // get source object
			source.File = filepath.Base(source.File) // basepath only
		}
		if a.Key == slog.TimeKey {
			return slog.String("time", a.Value.Time().Format(time.RFC3339Nano)) // local time -> RFC3339Nano
		}
		return a
	}

	// logging: log file output and rotate (with lumberjack package)
	lumberjackLogger := &lumberjack.Logger{
		Filename: filepath.Join(cfg.LogDirectory, progName+"-"+command+".log"),
		MaxSize:  128,  // megabytes
		MaxAge:   28,   // days
		Compress: true, // gzip rotated log
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(parseLogLevel(cfg.LogLevel))

	logger := slog.New(slog.NewJSONHandler(lumberjackLogger, &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: true, ReplaceAttr: replacer}).WithAttrs([]slog.Attr{slog.String("prog", progName)}))
	slog.SetDefault(logger)
	return lumberjackLogger
}

/*
redacted returns a copy of the configuration without secrets (for logging).
*/
func redacted(cfg ProgConfig) ProgConfig {
	if cfg.ObjectStore.SecretAccessKey != "" {
		cfg.ObjectStore.SecretAccessKey = "***"
	}
	return cfg
}

/*
runServe runs the HTTP API until SIGINT or SIGTERM. Without a Kafka broker,
potential jobs are processed by in-process workers.
*/
func runServe(configFile string) error {
	env, err := setup(configFile, "serve")
	if err != nil {
		return err
	}
	defer env.close()
	cfg := env.config

	validator, err := NewRequestValidator(simulationRequestSchema)
	if err != nil {
		return err
	}
	service := &Service{
		Config:      cfg,
		Repository:  env.repository,
		Reprojector: env.reprojector,
		Grid:        DefaultTileGrid,
		Engine:      env.engine,
		Scheduler:   env.orchestrator,
		Validator:   validator,
		Metrics:     env.metrics,
	}

	workCtx, stopWork := context.WithCancel(context.Background())
	defer stopWork()
	if _, inProcess := env.queue.(*MemoryQueue); inProcess {
		slog.Info("no queue brokers configured, running in-process workers", "concurrency", cfg.Concurrency)
		go func() {
			err := env.orchestrator.Work(workCtx)
			if err != nil {
				slog.Error("in-process workers stopped", "error", err)
			}
		}()
	}

	surroundingsService := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           service.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       120 * time.Second,
		WriteTimeout:      600 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("surroundings engine listening for requests", "ListenAddress", cfg.ListenAddress, "hostname", hostname)
		var err error
		if cfg.ServerCertificate != "" {
			err = surroundingsService.ListenAndServeTLS(cfg.ServerCertificate, cfg.ServerKey)
		} else {
			err = surroundingsService.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	err = waitForShutdown(env.lumberjackLogger, serveErr)
	if err != nil {
		slog.Error("error at surroundingsService.ListenAndServe()", "error", err)
		return err
	}

	// shutdown grace period (wait max n seconds before halting)
	gracePeriod := time.Duration(cfg.ShutdownGracePeriod) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), gracePeriod)
	defer cancel()
	err = surroundingsService.Shutdown(ctx)
	if err != nil {
		slog.Error("fatal error at surroundingsService.Shutdown()", "error", err)
	}
	stopWork()

	logStatistics()
	slog.Info("service gracefully shut down")
	return nil
}

/*
runWorker consumes potential jobs until SIGINT or SIGTERM.
*/
func runWorker(configFile string) error {
	env, err := setup(configFile, "worker")
	if err != nil {
		return err
	}
	defer env.close()
	if _, inProcess := env.queue.(*MemoryQueue); inProcess {
		return errors.New("worker requires Queue.Brokers in the configuration")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	workErr := make(chan error, 1)
	go func() {
		slog.Info("potential worker started", "topic", env.config.Queue.Topic, "concurrency", env.config.Concurrency)
		workErr <- env.orchestrator.Work(ctx)
	}()

	err = waitForShutdown(env.lumberjackLogger, workErr)
	stop()
	if err != nil {
		return err
	}
	logProgress(env.progress)
	slog.Info("worker gracefully shut down")
	return nil
}

/*
runSchedule enqueues the units of the tile range and exits.
*/
func runSchedule(configFile string, first, last int, simulations []string, floors []int, family string) error {
	env, err := setup(configFile, "schedule")
	if err != nil {
		return err
	}
	defer env.close()
	if _, inProcess := env.queue.(*MemoryQueue); inProcess {
		return errors.New("schedule requires Queue.Brokers in the configuration")
	}
	for i, simulation := range simulations {
		simulations[i] = strings.ToUpper(simulation)
		if simulations[i] != SimulationView && simulations[i] != SimulationSun {
			return fmt.Errorf("unknown potential simulation [%s]", simulation)
		}
	}
	_, err = sourceFamily(family)
	if err != nil {
		return err
	}

	runID, n, err := env.orchestrator.Schedule(context.Background(), first, last, simulations, floors, family)
	if err != nil {
		return err
	}
	fmt.Printf("run %s: %d units enqueued (tiles %d-%d)\n", runID, n, first, last)
	return nil
}

/*
runRerun re-enqueues failed and stuck units and exits.
*/
func runRerun(configFile string, family string) error {
	env, err := setup(configFile, "rerun")
	if err != nil {
		return err
	}
	defer env.close()
	if _, inProcess := env.queue.(*MemoryQueue); inProcess {
		return errors.New("rerun requires Queue.Brokers in the configuration")
	}

	runID, n, err := env.orchestrator.Rerun(context.Background(), family)
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Println("nothing to rerun")
		return nil
	}
	fmt.Printf("run %s: %d units re-enqueued\n", runID, n)
	return nil
}

/*
waitForShutdown rotates the log once a day until a shutdown signal arrives or failed reports an error.
*/
func waitForShutdown(lumberjackLogger *lumberjack.Logger, failed <-chan error) error {
	logrotateStartYearDay := time.Now().UTC().YearDay()

	// start rotate trigger (checks, if log rotate is required)
	rotateTrigger := time.NewTicker(60 * time.Second)
	defer rotateTrigger.Stop()

	// start shutdown trigger and subscribe to shutdown signals
	shutdownTrigger := make(chan os.Signal, 1)
	signal.Notify(shutdownTrigger, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdownTrigger)

	for {
		select {
		case <-rotateTrigger.C:
			logrotateCurrentYearDay := time.Now().UTC().YearDay()
			if logrotateCurrentYearDay != logrotateStartYearDay {
				slog.Info("new day detected, log rotate triggered")
				err := lumberjackLogger.Rotate()
				if err != nil {
					slog.Error("error at lumberjackLogger.Rotate()", "error", err)
				}
				logrotateStartYearDay = logrotateCurrentYearDay
				logStatistics()
			}
		case err := <-failed:
			return err
		case sig := <-shutdownTrigger:
			slog.Info("signal received, shutting down", "signal", sig)
			return nil
		}
	}
}

/*
logStatistics logs and resets the request statistics.
*/
func logStatistics() {
	slog.Info("load statistics",
		"PointRequests", atomic.SwapUint64(&PointRequests, 0),
		"SimulationRequests", atomic.SwapUint64(&SimulationRequests, 0),
		"SimulationTriangles", atomic.SwapUint64(&SimulationTriangles, 0),
		"PotentialJobs", atomic.SwapUint64(&PotentialJobs, 0),
	)
}

/*
logProgress logs the unit counts per state.
*/
func logProgress(progress *ProgressStore) {
	counts, err := progress.Counts(context.Background())
	if err != nil {
		slog.Error("error reading unit progress", "error", err)
		return
	}
	slog.Info("unit progress", "counts", counts)
}

/*
parseLogLevel parses log level setting from configuration.
*/
func parseLogLevel(logLevel string) slog.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
