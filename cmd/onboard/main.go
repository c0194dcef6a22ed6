// Command onboard runs the capture-to-plan onboarding service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fitcoach/onboard/internal/api"
	"github.com/fitcoach/onboard/internal/camera"
	"github.com/fitcoach/onboard/internal/config"
	"github.com/fitcoach/onboard/internal/db"
	"github.com/fitcoach/onboard/internal/fsutil"
	"github.com/fitcoach/onboard/internal/inference"
	"github.com/fitcoach/onboard/internal/monitoring"
	"github.com/fitcoach/onboard/internal/onboarding"
	"github.com/fitcoach/onboard/internal/timeutil"
	"github.com/fitcoach/onboard/internal/version"
)

type options struct {
	configPath string
	listen     string
	dbPath     string
	devMode    bool
	debug      bool
}

func newFlagSet(out io.Writer) (*flag.FlagSet, *options) {
	o := &options{}
	fs := flag.NewFlagSet("onboard", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&o.configPath, "config", config.DefaultConfigPath, "Path to JSON configuration file")
	fs.StringVar(&o.listen, "listen", "", "Listen address (overrides config)")
	fs.StringVar(&o.dbPath, "db", "", "Path to sqlite database (overrides config)")
	fs.BoolVar(&o.devMode, "dev", false, "Use fixture camera and fixture services instead of hardware and remote endpoints")
	fs.BoolVar(&o.debug, "debug", false, "Mount /debug/ admin routes")
	fs.Usage = func() {
		fmt.Fprintf(out, `Usage: onboard [flags] [command]

Commands:
  serve                 run the onboarding service (default)
  migrate <action>      manage the database schema (see: onboard migrate help)
  reset                 clear the stored plan so the device onboards again
  runs                  list recent onboarding runs
  version               print build information

Flags:
`)
		fs.PrintDefaults()
	}
	return fs, o
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: could not load .env file: %v", err)
	}
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatal(err)
	}
}

func run(args []string, out io.Writer) error {
	fs, opts := newFlagSet(out)
	if err := fs.Parse(args); err != nil {
		return err
	}
	command := "serve"
	rest := fs.Args()
	if len(rest) > 0 {
		command, rest = rest[0], rest[1:]
	}

	if command == "version" {
		fmt.Fprintln(out, version.String())
		return nil
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	switch command {
	case "serve":
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, opts)
	case "migrate":
		db.DevMode = opts.devMode
		return db.RunMigrateCommand(rest, cfg.DBPath, out)
	case "reset":
		return resetPlan(cfg, out)
	case "runs":
		return listRuns(cfg, out)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

// loadConfig reads the config file (defaults when the default path is
// absent), then applies environment and flag overrides.
func loadConfig(opts *options) (*config.Config, error) {
	var cfg *config.Config
	if _, err := os.Stat(opts.configPath); errors.Is(err, os.ErrNotExist) && opts.configPath == config.DefaultConfigPath {
		log.Printf("no config at %s, using defaults", opts.configPath)
		cfg = config.Default()
	} else {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	cfg.ApplyEnv(os.LookupEnv)
	if opts.listen != "" {
		cfg.Listen = opts.listen
	}
	if opts.dbPath != "" {
		cfg.DBPath = opts.dbPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// services are the pipeline collaborators chosen by mode.
type services struct {
	camera     onboarding.Camera
	biometrics onboarding.BiometricsUploader
	planner    onboarding.PlanGenerator
}

func buildServices(cfg *config.Config, devMode bool, files fsutil.FileSystem, clock timeutil.Clock) (*services, error) {
	images, err := camera.NewImageStore(cfg.ImageDir, files, clock)
	if err != nil {
		return nil, err
	}

	if devMode {
		fixtures, err := inference.LoadFixtures(files, cfg.FixturesPath)
		if err != nil {
			return nil, err
		}
		paths := make(map[onboarding.Slot]string, len(cfg.FixtureImagePaths))
		for k, v := range cfg.FixtureImagePaths {
			slot, err := onboarding.ParseSlot(k)
			if err != nil {
				return nil, fmt.Errorf("fixture_images: %w", err)
			}
			paths[slot] = v
		}
		log.Printf("dev mode: fixture camera and fixture services from %s", cfg.FixturesPath)
		return &services{
			camera:     &camera.FixtureCamera{Store: images, Source: files, Paths: paths},
			biometrics: fixtures,
			planner:    fixtures,
		}, nil
	}

	cam, err := camera.NewCommandCamera(images, cfg.ShutterCommand)
	if err != nil {
		return nil, fmt.Errorf("%w (set shutter_command or run with -dev)", err)
	}
	client := inference.NewClient(nil, files, cfg.BiometricsURL, cfg.PlanURL)
	return &services{camera: cam, biometrics: client, planner: client}, nil
}

func serve(ctx context.Context, cfg *config.Config, opts *options) error {
	db.DevMode = opts.devMode
	database, err := db.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	clock := timeutil.RealClock{}
	svc, err := buildServices(cfg, opts.devMode, fsutil.OSFileSystem{}, clock)
	if err != nil {
		return err
	}

	ctrl, err := onboarding.NewController(onboarding.Options{
		Camera:         svc.camera,
		Biometrics:     svc.biometrics,
		Planner:        svc.planner,
		Store:          database,
		Catalog:        onboarding.Catalog{Goals: cfg.Goals, Levels: cfg.Levels},
		Recorder:       database,
		Clock:          clock,
		CaptureTimeout: cfg.GetCaptureTimeout(),
		UploadTimeout:  cfg.GetUploadTimeout(),
		PlanTimeout:    cfg.GetPlanTimeout(),
	})
	if err != nil {
		return err
	}

	if dest, err := onboarding.Route(ctx, database); err == nil {
		log.Printf("launch destination: %s", dest)
	}

	srv := api.NewServer(api.Options{
		Pipeline:       ctrl,
		Store:          database,
		Runs:           database,
		Clock:          clock,
		AllowedOrigins: cfg.AllowedOrigins,
		Units:          cfg.Units,
	})
	mux := srv.ServeMux()
	if opts.debug {
		if err := database.AttachAdminRoutes(mux); err != nil {
			return err
		}
	}

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("%s listening on %s", version.String(), cfg.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		ctrl.Close(context.Background())
		return fmt.Errorf("failed to start server: %w", err)
	}

	log.Println("shutting down...")
	// Abandon first so in-flight stages return and their handlers finish.
	if err := ctrl.Close(context.Background()); err != nil {
		monitoring.Logf("failed to abandon run: %v", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	wg.Wait()
	log.Printf("Graceful shutdown complete")
	return nil
}

func resetPlan(cfg *config.Config, out io.Writer) error {
	database, err := db.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	if err := database.ClearPlan(context.Background()); err != nil {
		return err
	}
	fmt.Fprintln(out, "Stored plan cleared; the device will onboard again on next launch")
	return nil
}

func listRuns(cfg *config.Config, out io.Writer) error {
	database, err := db.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	runs, err := database.RecentRuns(context.Background(), 20)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded")
		return nil
	}
	for _, r := range runs {
		line := fmt.Sprintf("%s  %-9s  %-22s  attempts=%d  %s", r.FinishedAt.Local().Format(time.DateTime), r.Outcome, r.LastState, r.Attempts, r.ID)
		if r.FailedStage != "" {
			line += fmt.Sprintf("  failed=%s (%s)", r.FailedStage, r.ErrorKind)
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
