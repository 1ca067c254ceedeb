package pipelines

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics

	DefaultModuleName = "dancesync_pipelines"
	DefaultPoseModel  = "yolov8n-pose.pt"
)

// Runner executes Python pipeline commands as subprocesses.
type Runner interface {
	// RunDoctor executes `python -m <module> doctor --json --out <path>` and
	// returns parsed capabilities.
	RunDoctor(ctx context.Context) (*Capabilities, error)

	// RunPose runs keypoint detection over every frame of a video.
	RunPose(ctx context.Context, videoPath, outPath string) (RunResult, error)

	// RunBeats runs the beat tracker over a raw f32le mono sample file.
	RunBeats(ctx context.Context, samplesPath string, sampleRate int, outPath string) (RunResult, error)

	// ValidateOutput reads a pipeline output JSON and checks required fields.
	ValidateOutput(path string) (*PipelineOutput, error)

	// ArtifactsDir returns the base directory for pipeline outputs.
	ArtifactsDir() string
}

type Config struct {
	PythonPath    string // path to python binary; empty = auto-detect
	ModuleName    string
	PoseModel     string
	ArtifactsBase string // base dir for outputs, e.g. ~/.dancesync/artifacts
	DoctorTimeout time.Duration
	PoseTimeout   time.Duration
	BeatsTimeout  time.Duration
	Logger        *slog.Logger
	DebugPaths    bool // if true, log full file paths; otherwise sanitise
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig(dataDir string, logger *slog.Logger) Config {
	return Config{
		ModuleName:    DefaultModuleName,
		PoseModel:     DefaultPoseModel,
		ArtifactsBase: filepath.Join(dataDir, "artifacts"),
		DoctorTimeout: 30 * time.Second,
		PoseTimeout:   30 * time.Minute,
		BeatsTimeout:  5 * time.Minute,
		Logger:        logger,
	}
}

// SubprocessRunner is the production implementation of Runner. It is built
// once at startup and shared; it holds no per-request state.
type SubprocessRunner struct {
	cfg    Config
	python string // resolved python path
}

// NewRunner creates a SubprocessRunner, resolving the Python binary path.
func NewRunner(cfg Config) (*SubprocessRunner, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ModuleName == "" {
		cfg.ModuleName = DefaultModuleName
	}
	if cfg.PoseModel == "" {
		cfg.PoseModel = DefaultPoseModel
	}

	python, err := resolvePython(cfg.PythonPath)
	if err != nil {
		return nil, fmt.Errorf("cannot locate python: %w", err)
	}

	if err := os.MkdirAll(cfg.ArtifactsBase, 0755); err != nil {
		return nil, fmt.Errorf("cannot create artifacts dir: %w", err)
	}

	cfg.Logger.Info("pipeline runner initialised",
		"python", python,
		"module", cfg.ModuleName,
		"pose_model", cfg.PoseModel,
		"artifacts_dir", cfg.ArtifactsBase,
	)

	return &SubprocessRunner{cfg: cfg, python: python}, nil
}

func (r *SubprocessRunner) ArtifactsDir() string {
	return r.cfg.ArtifactsBase
}

// RunDoctor probes the installed pipelines environment.
func (r *SubprocessRunner) RunDoctor(ctx context.Context) (*Capabilities, error) {
	outPath := filepath.Join(r.cfg.ArtifactsBase, ".doctor.json")

	ctx, cancel := context.WithTimeout(ctx, r.cfg.DoctorTimeout)
	defer cancel()

	result := r.exec(ctx, outPath, "doctor", "--json", "--out", outPath)
	if !result.IsSuccess() {
		return nil, fmt.Errorf("doctor exited %d: %s", result.ExitCode, result.StderrTail)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read doctor output: %w", err)
	}

	caps, err := parseCapabilities(data)
	if err != nil {
		return nil, err
	}

	r.cfg.Logger.Info("doctor probe complete",
		"pose", caps.HasPose,
		"beats", caps.HasBeats,
		"deps_available", caps.Summary.Available,
		"deps_total", caps.Summary.Total,
	)

	return caps, nil
}

func parseCapabilities(data []byte) (*Capabilities, error) {
	var caps Capabilities
	if err := json.Unmarshal(data, &caps); err != nil {
		return nil, fmt.Errorf("cannot parse doctor JSON: %w", err)
	}

	caps.HasPose = isAvailable(caps.Dependencies, "ultralytics") &&
		isAvailable(caps.Dependencies, "cv2")
	caps.HasBeats = isAvailable(caps.Dependencies, "librosa") &&
		isAvailable(caps.Dependencies, "numpy")

	// newer pipeline packages self-report; a pipeline they disable stays off
	var reported struct {
		Pipelines *PipelinesInfo `json:"pipelines"`
	}
	if err := json.Unmarshal(data, &reported); err == nil && reported.Pipelines != nil {
		caps.HasPose = caps.HasPose && reported.Pipelines.Pose
		caps.HasBeats = caps.HasBeats && reported.Pipelines.Beats
	}

	caps.ProbedAt = time.Now()
	return &caps, nil
}

// RunPose runs the pose detection CLI.
func (r *SubprocessRunner) RunPose(ctx context.Context, videoPath, outPath string) (RunResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.PoseTimeout)
	defer cancel()

	result := r.exec(ctx, outPath,
		"pose", "detect",
		"--video", videoPath,
		"--model", r.cfg.PoseModel,
		"--out", outPath,
	)
	return result, nil
}

// RunBeats runs the beat tracking CLI.
func (r *SubprocessRunner) RunBeats(ctx context.Context, samplesPath string, sampleRate int, outPath string) (RunResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.BeatsTimeout)
	defer cancel()

	result := r.exec(ctx, outPath,
		"beats", "track",
		"--samples", samplesPath,
		"--sample-rate", strconv.Itoa(sampleRate),
		"--out", outPath,
	)
	return result, nil
}

// ValidateOutput reads a pipeline JSON output and checks required metadata fields.
func (r *SubprocessRunner) ValidateOutput(path string) (*PipelineOutput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read output file %s: %w", r.safePath(path), err)
	}
	return validateOutput(data)
}

func validateOutput(data []byte) (*PipelineOutput, error) {
	var out PipelineOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("cannot parse output JSON: %w", err)
	}

	if !out.RequiredFieldsPresent() {
		missing := []string{}
		if out.SchemaVersion == "" {
			missing = append(missing, "schema_version")
		}
		if out.PipelineVersion == "" {
			missing = append(missing, "pipeline_version")
		}
		if out.ModelVersion == "" {
			missing = append(missing, "model_version")
		}
		return &out, fmt.Errorf("pipeline output missing required fields: %s", strings.Join(missing, ", "))
	}

	return &out, nil
}

// exec is the core subprocess execution helper.
func (r *SubprocessRunner) exec(ctx context.Context, outPath string, args ...string) RunResult {
	start := time.Now()

	if outPath != "" {
		if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
			r.cfg.Logger.Error("cannot create output dir", "error", err)
			return RunResult{ExitCode: -1, StderrTail: err.Error(), Duration: time.Since(start)}
		}
	}

	cmdArgs := append([]string{"-m", r.cfg.ModuleName}, args...)
	cmd := exec.CommandContext(ctx, r.python, cmdArgs...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})
	cmd.Stdout = io.Discard // CLI writes to --out file, not stdout

	r.cfg.Logger.Info("executing pipeline command", "command", args[0])
	r.cfg.Logger.Debug("pipeline command args", "args", r.safeArgs(cmdArgs))

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	stderrTail := stderrBuf.String()
	if exitCode == -1 && stderrTail == "" && err != nil {
		stderrTail = err.Error()
	}

	if exitCode != 0 {
		r.cfg.Logger.Warn("pipeline command failed",
			"command", args[0],
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrTail, 512),
		)
	} else {
		r.cfg.Logger.Info("pipeline command succeeded",
			"command", args[0],
			"duration_ms", elapsed.Milliseconds(),
			"output", r.safePath(outPath),
		)
	}

	return RunResult{
		ExitCode:   exitCode,
		OutputPath: outPath,
		StderrTail: stderrTail,
		Duration:   elapsed,
	}
}

func (r *SubprocessRunner) safeArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if filepath.IsAbs(a) {
			out[i] = r.safePath(a)
		} else {
			out[i] = a
		}
	}
	return out
}

func (r *SubprocessRunner) safePath(path string) string {
	if r.cfg.DebugPaths {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Base(path)
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return filepath.Base(path)
}

// resolvePython finds a usable python binary.
func resolvePython(preferred string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured python %q not found", preferred)
	}
	for _, name := range []string{"python3", "python"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no python binary found on PATH (tried python3, python)")
}

func isAvailable(deps map[string]DepInfo, name string) bool {
	d, ok := deps[name]
	return ok && d.Available
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
