package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/plate.report/internal/api"
	"github.com/banshee-data/plate.report/internal/capture"
	"github.com/banshee-data/plate.report/internal/config"
	"github.com/banshee-data/plate.report/internal/db"
	"github.com/banshee-data/plate.report/internal/detect"
	"github.com/banshee-data/plate.report/internal/fsutil"
	"github.com/banshee-data/plate.report/internal/monitoring"
	"github.com/banshee-data/plate.report/internal/ocr"
	"github.com/banshee-data/plate.report/internal/pipeline"
	"github.com/banshee-data/plate.report/internal/timeutil"
	"github.com/banshee-data/plate.report/internal/units"
	"github.com/banshee-data/plate.report/internal/version"
)

var (
	listen      = flag.String("listen", ":8080", "HTTP listen address")
	dbFile      = flag.String("db", "plates.db", "Path to the SQLite database file")
	source      = flag.String("source", "", "Video file, stream URL or camera index to process (empty: serve the store only)")
	replayDir   = flag.String("replay", "", "Replay archived frames from a directory instead of opening a video source")
	modelPath   = flag.String("model", "", "Path to the detector model weights")
	modelConfig = flag.String("model-config", "", "Path to the detector model config")
	configFile  = flag.String("config", "", "Path to a pipeline config JSON file")
	debugMode   = flag.Bool("debug", false, "Enable per-detection debug logging")
	showVersion = flag.Bool("version", false, "Print version and exit")

	// Overrides for values the config file carries. Only flags that were
	// explicitly set are applied, so a partial config file stays partial.
	useOCR       = flag.Bool("ocr", false, "Run OCR on plate crops")
	measureSpeed = flag.Bool("speed", false, "Derive speed estimates from frame gaps")
	rotationScan = flag.Bool("rotate", false, "Scan rotated orientations for tilted plates")
	saveDir      = flag.String("save-dir", "", "Directory to archive best plate crops")
	unitsFlag    = flag.String("units", "", "Display units for speeds ("+units.GetValidUnitsString()+")")
	distance     = flag.Float64("distance", 0, "Field-of-view width in meters for speed estimates")
	fpsFlag      = flag.Float64("fps", 0, "Frame rate override (0: use the source rate)")
)

func loadConfig() *config.PipelineConfig {
	cfg := config.EmptyPipelineConfig()
	if *configFile != "" {
		loaded, err := config.LoadPipelineConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "ocr":
			cfg.UseOCR = useOCR
		case "speed":
			cfg.MeasureSpeed = measureSpeed
		case "rotate":
			cfg.RotationScan = rotationScan
		case "save-dir":
			cfg.SaveDir = saveDir
		case "units":
			cfg.Units = unitsFlag
		case "distance":
			cfg.DistanceMeters = distance
		case "fps":
			cfg.FPS = fpsFlag
		}
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	return cfg
}

// openSource picks the frame source: a directory replay when -replay is set,
// otherwise whatever OpenCV can open from -source.
func openSource(cfg *config.PipelineConfig) (capture.Source, string, error) {
	if *replayDir != "" {
		src, err := capture.NewReplaySource(fsutil.OSFileSystem{}, timeutil.RealClock{}, *replayDir, cfg.GetFPS())
		return src, *replayDir, err
	}
	src, err := capture.OpenVideo(*source)
	return src, *source, err
}

func buildPipeline(cfg *config.PipelineConfig, database *db.DB) (*pipeline.Pipeline, error) {
	src, sourceName, err := openSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open source: %w", err)
	}

	detectorCfg := detect.DefaultConfig()
	detectorCfg.ModelPath = *modelPath
	detectorCfg.ConfigPath = *modelConfig
	detectorCfg.MinConfidence = cfg.GetConfidenceThreshold()

	dnn, err := detect.NewDNN(detectorCfg)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to load detector model: %w", err)
	}
	detector := detect.NewMultiAngle(dnn, cfg.GetConfidenceThreshold())

	var extractor ocr.TextExtractor = ocr.Noop{}
	if cfg.GetUseOCR() {
		extractor, err = ocr.NewTesseract(cfg.GetOCRLanguage())
		if err != nil {
			detector.Close()
			src.Close()
			return nil, fmt.Errorf("failed to initialize OCR: %w", err)
		}
	}

	return pipeline.New(src, detector, extractor, database, pipeline.Options{
		Source:         sourceName,
		MinClarity:     cfg.GetMinClarity(),
		MinConfidence:  cfg.GetMinConfidence(),
		UseOCR:         cfg.GetUseOCR(),
		MeasureSpeed:   cfg.GetMeasureSpeed(),
		DistanceMeters: cfg.GetDistanceMeters(),
		FPS:            cfg.GetFPS(),
		SaveDir:        cfg.GetSaveDir(),
		RotationScan:   cfg.GetRotationScan(),
	})
}

// Main
func main() {
	// The migrate subcommand manages the schema directly and skips the
	// automatic migrations NewDB would run.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		migrateFlags := flag.NewFlagSet("migrate", flag.ExitOnError)
		migrateDB := migrateFlags.String("db", "plates.db", "Path to the SQLite database file")
		migrateFlags.Parse(os.Args[2:])
		db.RunMigrateCommand(migrateFlags.Args(), *migrateDB)
		return
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("plate-report %s\n", version.String())
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if *source != "" && *replayDir != "" {
		log.Fatal("-source and -replay are mutually exclusive")
	}
	processing := *source != "" || *replayDir != ""
	if processing && *modelPath == "" {
		log.Fatal("Model path is required when processing a source")
	}

	if *debugMode {
		monitoring.EnableDebug()
	}

	cfg := loadConfig()

	log.Printf("plate-report %s (%s)", version.Version, version.GitSHA)

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	var pipe *pipeline.Pipeline
	if processing {
		pipe, err = buildPipeline(cfg, database)
		if err != nil {
			log.Fatalf("Failed to build pipeline: %v", err)
		}
		defer pipe.Close()
	} else {
		log.Printf("No source given, serving stored plates only")
	}

	// Create a wait group for the pipeline and HTTP server routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run the processing pipeline; a drained source ends the process
	if pipe != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pipe.Run(ctx); err != nil {
				log.Printf("Pipeline failed: %v", err)
			} else {
				log.Printf("Pipeline finished")
			}
			stop()
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		// A nil *Pipeline must not reach the interface value or the
		// handlers would see it as attached.
		var control api.PipelineControl
		if pipe != nil {
			control = pipe
		}
		mux := api.NewServer(database, control, cfg.GetUnits()).ServeMux()

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("Starting HTTP server on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		// Create a shutdown context with a shorter timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			// Force close the server if graceful shutdown fails
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
