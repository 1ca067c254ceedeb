package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/dancesync/dancesync-agent/internal/align"
	"github.com/dancesync/dancesync-agent/internal/api"
	"github.com/dancesync/dancesync-agent/internal/audio"
	"github.com/dancesync/dancesync-agent/internal/beats"
	"github.com/dancesync/dancesync-agent/internal/catalog"
	"github.com/dancesync/dancesync-agent/internal/config"
	"github.com/dancesync/dancesync-agent/internal/db"
	"github.com/dancesync/dancesync-agent/internal/metrics"
	"github.com/dancesync/dancesync-agent/internal/pipeline"
	"github.com/dancesync/dancesync-agent/internal/pipelines"
	"github.com/dancesync/dancesync-agent/internal/playback"
	"github.com/dancesync/dancesync-agent/internal/ui"
)

const (
	deviceIDKey  = "device_id"
	lockFilename = "dancesync.lock"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local analysis agent and HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, ctx.ensureLogger(), cmd.OutOrStdout())
		},
	}
}

func runServe(parent context.Context, cfg *config.EnvConfig, logger *slog.Logger, out io.Writer) error {
	startTime := time.Now()

	for _, dir := range []string{cfg.DataDir(), cfg.UploadsDir(), cfg.ArtifactsDir(), exportsDir(cfg)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	lock := flock.New(filepath.Join(cfg.DataDir(), lockFilename))
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another dancesync agent is already using " + cfg.DataDir())
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release agent lock", "error", err)
		}
	}()

	logger.Info("starting dancesync agent", "version", config.Version, "data_dir", cfg.DataDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := catalog.NewRepository(database.Conn())

	deviceID, err := ensureConfigValue(repo, deviceIDKey, 16)
	if err != nil {
		return fmt.Errorf("failed to ensure device ID: %w", err)
	}
	authToken, err := ensureConfigValue(repo, api.AuthTokenKey, 32)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "  DanceSync Agent v%s\n", config.Version)
	fmt.Fprintf(out, "  API URL:    http://%s\n", cfg.Addr())
	fmt.Fprintf(out, "  Auth Token: %s\n", authToken)
	fmt.Fprintf(out, "  Device ID:  %s...\n", deviceID[:16])
	fmt.Fprintln(out)

	ffmpeg := pipeline.NewRealFFmpeg(logger)
	decoder := audio.NewFFmpegDecoder(ffmpeg, cfg.SampleRate(), "", logger)

	var pipeRunner pipelines.Runner
	var doctor *pipelines.CachedDoctor
	var extractor catalog.VideoBeatExtractor
	var beatExtractor align.BeatExtractor

	pipeCfg := pipelineConfig(cfg, logger)
	pr, err := pipelines.NewRunner(pipeCfg)
	if err != nil {
		logger.Warn("pipeline runner unavailable, analysis disabled", "error", err)
	} else {
		pipeRunner = pr
		doctor = pipelines.NewCachedDoctor(pr, logger)

		be := beats.NewExtractor(pipelines.NewBeatTracker(pr, "", logger), decoder, logger)
		extractor = be
		beatExtractor = be

		initCtx, initCancel := context.WithTimeout(parent, pipeCfg.DoctorTimeout)
		if caps, err := doctor.Refresh(initCtx); err != nil {
			logger.Warn("initial doctor probe failed", "error", err)
		} else {
			logger.Info("pipeline capabilities detected",
				"pose", caps.HasPose,
				"beats", caps.HasBeats,
				"deps", fmt.Sprintf("%d/%d", caps.Summary.Available, caps.Summary.Total),
			)
		}
		initCancel()
	}

	catalogSvc := catalog.NewService(repo, catalog.ServiceConfig{
		UploadsDir:     cfg.UploadsDir(),
		ArtifactsDir:   cfg.ArtifactsDir(),
		MaxUploadBytes: cfg.MaxUploadBytes(),
		DefaultFPS:     cfg.DefaultFPS(),
		Decoder:        decoder,
		Aligner:        align.NewAligner(beatExtractor, logger),
	}, logger)

	var m *metrics.Metrics
	if cfg.MetricsEnabled() {
		m = metrics.New()
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	runner := catalog.NewRunner(repo, pipeRunner, ffmpeg, doctor, extractor, logger)
	if m != nil {
		runner.SetObserver(m)
	}
	go runner.Start(ctx)

	apiServer := api.NewServer(api.ServerConfig{
		Addr:           cfg.Addr(),
		ExportsDir:     exportsDir(cfg),
		MaxUploadBytes: cfg.MaxUploadBytes(),
		CatalogService: catalogSvc,
		PlaybackServer: playback.NewServer(logger),
		Repository:     repo,
		Runner:         runner,
		Doctor:         doctor,
		Metrics:        m,
		Logger:         logger,
		StartTime:      startTime,
		DeviceID:       deviceID,
	})

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- apiServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	quitCh := make(chan struct{})
	var runErr error

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
		case err := <-serveErr:
			if err != nil {
				logger.Error("HTTP server error", "error", err)
				runErr = err
			}
		case <-ctx.Done():
		}
		close(quitCh)
	}()

	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			CatalogService: catalogSvc,
			Runner:         runner,
			Logger:         logger,
			APIURL:         "http://" + cfg.Addr(),
			OnOpenUploads: func() error {
				return openFolder(cfg.UploadsDir())
			},
			OnQuit: func() {
				cancel()
			},
		})
		go tray.Run()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return runErr
}

func exportsDir(cfg *config.EnvConfig) string {
	return filepath.Join(cfg.DataDir(), "exports")
}

// ensureConfigValue returns the stored value for key, generating and
// persisting a random hex value of n bytes on first use.
func ensureConfigValue(repo catalog.Repository, key string, n int) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, key)
	if err == nil && existing != "" {
		return existing, nil
	}

	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	value := hex.EncodeToString(buf)

	if err := repo.SetConfig(ctx, key, value); err != nil {
		return "", err
	}
	return value, nil
}

func openFolder(path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	return cmd.Start()
}
