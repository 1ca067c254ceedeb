// Package config provides configuration management for the DanceSync agent.
// Configuration is loaded from environment variables, optionally seeded from
// a .env file, with sensible defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Default values
	DefaultPort           = 8787
	DefaultBindHost       = "127.0.0.1"
	DefaultLogLevel       = "info"
	DefaultDataDir        = ".dancesync"
	DefaultFPS            = 30
	DefaultSampleRate     = 22050
	DefaultMaxUploadBytes = 2 * 1024 * 1024 * 1024 // 2GB

	// Environment variable names
	EnvPort           = "DANCESYNC_PORT"
	EnvBindHost       = "DANCESYNC_BIND_HOST"
	EnvLogLevel       = "DANCESYNC_LOG_LEVEL"
	EnvDataDir        = "DANCESYNC_DATA_DIR"
	EnvUploadsDir     = "DANCESYNC_UPLOADS_DIR"
	EnvHeadless       = "DANCESYNC_HEADLESS"
	EnvDefaultFPS     = "DANCESYNC_DEFAULT_FPS"
	EnvSampleRate     = "DANCESYNC_SAMPLE_RATE"
	EnvMaxUploadBytes = "DANCESYNC_MAX_UPLOAD_BYTES"
	EnvMetrics        = "DANCESYNC_METRICS"

	// Pipeline environment variable names
	EnvPipelinesPython        = "DANCESYNC_PIPELINES_PYTHON"
	EnvPipelinesModule        = "DANCESYNC_PIPELINES_MODULE"
	EnvPipelinesPoseModel     = "DANCESYNC_PIPELINES_POSE_MODEL"
	EnvPipelinesTimeoutDoctor = "DANCESYNC_PIPELINES_TIMEOUT_DOCTOR"
	EnvPipelinesTimeoutPose   = "DANCESYNC_PIPELINES_TIMEOUT_POSE"
	EnvPipelinesTimeoutBeats  = "DANCESYNC_PIPELINES_TIMEOUT_BEATS"

	// Database filename
	DBFilename = "dancesync.db"

	// Pipeline defaults
	DefaultPipelinesModule        = "dancesync_pipelines"
	DefaultPipelinesPoseModel     = "yolov8n-pose.pt"
	DefaultPipelinesTimeoutDoctor = 30   // seconds
	DefaultPipelinesTimeoutPose   = 1800 // 30 minutes
	DefaultPipelinesTimeoutBeats  = 300  // 5 minutes
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	BindHost() string
	Addr() string
	LogLevel() string
	DataDir() string
	DBPath() string
	UploadsDir() string
	ArtifactsDir() string
	Headless() bool
	DefaultFPS() int
	SampleRate() int
	MaxUploadBytes() int64
	MetricsEnabled() bool
	PipelinesPython() string
	PipelinesModule() string
	PipelinesPoseModel() string
	PipelinesTimeoutDoctor() time.Duration
	PipelinesTimeoutPose() time.Duration
	PipelinesTimeoutBeats() time.Duration
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port           int
	bindHost       string
	logLevel       string
	dataDir        string
	uploadsDir     string
	headless       bool
	defaultFPS     int
	sampleRate     int
	maxUploadBytes int64
	metrics        bool

	pipelinesPython    string
	pipelinesModule    string
	pipelinesPoseModel string
	timeoutDoctor      int
	timeoutPose        int
	timeoutBeats       int
}

// LoadDotEnv seeds the process environment from .env files. Variables that
// are already set win. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:           DefaultPort,
		bindHost:       DefaultBindHost,
		logLevel:       DefaultLogLevel,
		dataDir:        defaultDataDir(),
		headless:       true,
		defaultFPS:     DefaultFPS,
		sampleRate:     DefaultSampleRate,
		maxUploadBytes: DefaultMaxUploadBytes,
		metrics:        true,
		timeoutDoctor:  DefaultPipelinesTimeoutDoctor,
		timeoutPose:    DefaultPipelinesTimeoutPose,
		timeoutBeats:   DefaultPipelinesTimeoutBeats,
	}

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if h := os.Getenv(EnvBindHost); h != "" {
		cfg.bindHost = h
	}

	// Override log level from environment
	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	// Override data directory from environment
	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	cfg.uploadsDir = os.Getenv(EnvUploadsDir)

	var err error
	if cfg.headless, err = envBool(EnvHeadless, cfg.headless); err != nil {
		return nil, err
	}
	if cfg.metrics, err = envBool(EnvMetrics, cfg.metrics); err != nil {
		return nil, err
	}
	if cfg.defaultFPS, err = envPositiveInt(EnvDefaultFPS, cfg.defaultFPS); err != nil {
		return nil, err
	}
	if cfg.sampleRate, err = envPositiveInt(EnvSampleRate, cfg.sampleRate); err != nil {
		return nil, err
	}
	if v := os.Getenv(EnvMaxUploadBytes); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid %s: must be a non-negative integer", EnvMaxUploadBytes)
		}
		cfg.maxUploadBytes = n
	}

	cfg.pipelinesPython = os.Getenv(EnvPipelinesPython)
	cfg.pipelinesModule = os.Getenv(EnvPipelinesModule)
	cfg.pipelinesPoseModel = os.Getenv(EnvPipelinesPoseModel)

	if cfg.timeoutDoctor, err = envPositiveInt(EnvPipelinesTimeoutDoctor, cfg.timeoutDoctor); err != nil {
		return nil, err
	}
	if cfg.timeoutPose, err = envPositiveInt(EnvPipelinesTimeoutPose, cfg.timeoutPose); err != nil {
		return nil, err
	}
	if cfg.timeoutBeats, err = envPositiveInt(EnvPipelinesTimeoutBeats, cfg.timeoutBeats); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envPositiveInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

func (c *EnvConfig) BindHost() string {
	return c.bindHost
}

// Addr is the listen address for the HTTP server.
func (c *EnvConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.bindHost, c.port)
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// UploadsDir returns where uploaded videos are stored.
func (c *EnvConfig) UploadsDir() string {
	if c.uploadsDir != "" {
		return c.uploadsDir
	}
	return filepath.Join(c.dataDir, "uploads")
}

// ArtifactsDir returns where pose and beat artifacts are stored.
func (c *EnvConfig) ArtifactsDir() string {
	return filepath.Join(c.dataDir, "artifacts")
}

// Headless reports whether the tray UI is disabled.
func (c *EnvConfig) Headless() bool {
	return c.headless
}

func (c *EnvConfig) DefaultFPS() int {
	return c.defaultFPS
}

// SampleRate is the rate audio is decoded at for beat tracking and alignment.
func (c *EnvConfig) SampleRate() int {
	return c.sampleRate
}

// MaxUploadBytes returns the upload size limit; 0 disables it.
func (c *EnvConfig) MaxUploadBytes() int64 {
	return c.maxUploadBytes
}

func (c *EnvConfig) MetricsEnabled() bool {
	return c.metrics
}

func (c *EnvConfig) PipelinesPython() string {
	return c.pipelinesPython
}

func (c *EnvConfig) PipelinesModule() string {
	if c.pipelinesModule != "" {
		return c.pipelinesModule
	}
	return DefaultPipelinesModule
}

func (c *EnvConfig) PipelinesPoseModel() string {
	if c.pipelinesPoseModel != "" {
		return c.pipelinesPoseModel
	}
	return DefaultPipelinesPoseModel
}

func (c *EnvConfig) PipelinesTimeoutDoctor() time.Duration {
	return time.Duration(c.timeoutDoctor) * time.Second
}

func (c *EnvConfig) PipelinesTimeoutPose() time.Duration {
	return time.Duration(c.timeoutPose) * time.Second
}

func (c *EnvConfig) PipelinesTimeoutBeats() time.Duration {
	return time.Duration(c.timeoutBeats) * time.Second
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
