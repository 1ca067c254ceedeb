package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dancesync/dancesync-agent/internal/audio"
	"github.com/dancesync/dancesync-agent/internal/beats"
	"github.com/dancesync/dancesync-agent/internal/logging"
	"github.com/dancesync/dancesync-agent/internal/pipeline"
	"github.com/dancesync/dancesync-agent/internal/pipelines"
)

// NoPosesMessage is the job error when the detector found nobody in any frame.
const NoPosesMessage = "no poses detected in video"

// VideoBeatExtractor is satisfied by *beats.Extractor.
type VideoBeatExtractor interface {
	ExtractFromVideo(ctx context.Context, videoPath string) (beats.Track, audio.Signal, error)
}

// JobObserver is notified when a job finishes.
type JobObserver interface {
	ObserveJob(jobType, status string, elapsed time.Duration)
}

type Runner struct {
	repo         Repository
	pipeRunner   pipelines.Runner
	ffmpeg       pipeline.FFmpeg
	doctor       *pipelines.CachedDoctor
	extractor    VideoBeatExtractor
	observer     JobObserver
	logger       *slog.Logger
	pollInterval time.Duration
	wake         chan struct{}
	running      atomic.Bool
	paused       atomic.Bool
}

func NewRunner(repo Repository, pipeRunner pipelines.Runner, ffmpeg pipeline.FFmpeg,
	doctor *pipelines.CachedDoctor, extractor VideoBeatExtractor, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		repo:         repo,
		pipeRunner:   pipeRunner,
		ffmpeg:       ffmpeg,
		doctor:       doctor,
		extractor:    extractor,
		logger:       logging.WithComponent(logger, "runner"),
		pollInterval: 5 * time.Second,
		wake:         make(chan struct{}, 1),
	}
}

func (r *Runner) SetObserver(o JobObserver) {
	r.observer = o
}

func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("job runner started")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
		case <-r.wake:
		}
		if !r.paused.Load() {
			r.processNextJob(ctx)
		}
	}
}

// Notify asks the runner to poll now instead of waiting for the next tick.
func (r *Runner) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("job runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("job runner resumed")
	r.Notify()
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

func (r *Runner) processNextJob(ctx context.Context) {
	jobs, err := r.repo.ListPendingJobs(ctx)
	if err != nil {
		r.logger.Error("failed to list pending jobs", "error", err)
		return
	}

	if len(jobs) == 0 {
		return
	}

	job := jobs[0]
	logger := logging.WithJobID(r.logger, job.ID)
	logger.Info("processing job", "type", job.Type)

	start := time.Now()
	switch job.Type {
	case JobTypeAnalyze:
		r.processAnalyzeJob(ctx, job)
	default:
		logger.Warn("unknown job type", "type", job.Type)
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, "unknown job type")
	}

	if r.observer != nil {
		status := JobStatusFailed
		if j, err := r.repo.GetJob(ctx, job.ID); err == nil && j != nil {
			status = j.Status
		}
		r.observer.ObserveJob(job.Type, status, time.Since(start))
	}
}

func (r *Runner) processAnalyzeJob(ctx context.Context, job *Job) {
	logger := logging.WithVideoID(logging.WithJobID(r.logger, job.ID), job.VideoID)

	fail := func(msg string) {
		logger.Warn("analysis failed", "error", msg)
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, msg)
		if job.VideoID != "" {
			r.repo.UpdateVideoStatus(ctx, job.VideoID, VideoStatusFailed, msg)
		}
	}

	if r.pipeRunner == nil || r.doctor == nil {
		fail("pipeline runner not configured")
		return
	}
	if r.extractor == nil || r.ffmpeg == nil {
		fail("audio tools not configured")
		return
	}

	video, err := r.repo.GetVideo(ctx, job.VideoID)
	if err != nil || video == nil {
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, "video not found")
		return
	}

	r.repo.UpdateJobStatus(ctx, job.ID, JobStatusRunning, "")
	r.repo.UpdateVideoStatus(ctx, video.ID, VideoStatusAnalyzing, "")

	if err := r.doctor.RequireAnalysis(ctx); err != nil {
		fail(err.Error())
		return
	}

	probe, err := r.ffmpeg.Probe(ctx, video.Path)
	if err != nil {
		fail(fmt.Sprintf("could not open video file: %v", err))
		return
	}
	video.FPS = probe.FrameRate
	video.Duration = probe.Duration
	video.Width = probe.Width
	video.Height = probe.Height
	if err := r.repo.UpdateVideoProbe(ctx, video); err != nil {
		logger.Warn("failed to store probe result", "error", err)
	}
	r.repo.UpdateJobProgress(ctx, job.ID, 10)

	artifactsBase := filepath.Join(r.pipeRunner.ArtifactsDir(), video.ID)
	posePath := filepath.Join(artifactsBase, "pose.json")

	logger.Info("running pose pipeline")
	result, err := r.pipeRunner.RunPose(ctx, video.Path, posePath)
	if err != nil {
		fail(fmt.Sprintf("pose pipeline error: %v", err))
		return
	}
	if !result.IsSuccess() {
		fail(fmt.Sprintf("pose pipeline exited %d: %s", result.ExitCode, truncateStr(result.StderrTail, 512)))
		return
	}
	if _, err := r.pipeRunner.ValidateOutput(posePath); err != nil {
		fail(fmt.Sprintf("pose output invalid: %v", err))
		return
	}

	_, payload, stats, err := pipelines.LoadPoseTrack(posePath, logger)
	if err != nil {
		fail(fmt.Sprintf("pose output unreadable: %v", err))
		return
	}
	if stats.Emitted == 0 {
		fail(NoPosesMessage)
		return
	}
	if video.FPS <= 0 && payload.FPS > 0 {
		video.FPS = payload.FPS
	}
	r.repo.UpdateJobProgress(ctx, job.ID, 60)
	logger.Info("pose pipeline completed",
		"duration", result.Duration,
		"frames", stats.Frames,
		"frames_with_poses", stats.Emitted,
		"failed_frames", stats.Failed,
	)

	track, _, err := r.extractor.ExtractFromVideo(ctx, video.Path)
	if err != nil {
		fail(fmt.Sprintf("beat extraction failed: %v", err))
		return
	}
	beatsPath := filepath.Join(artifactsBase, "beats.json")
	if err := writeJSON(beatsPath, track); err != nil {
		fail(fmt.Sprintf("cannot store beats: %v", err))
		return
	}
	r.repo.UpdateJobProgress(ctx, job.ID, 90)

	video.Tempo = track.Tempo
	video.BeatCount = len(track.BeatTimes)
	video.PoseFrames = stats.Emitted
	video.PoseArtifact = posePath
	video.BeatsArtifact = beatsPath
	if err := r.repo.SaveVideoAnalysis(ctx, video); err != nil {
		fail(fmt.Sprintf("cannot save analysis: %v", err))
		return
	}

	r.repo.UpdateJobProgress(ctx, job.ID, 100)
	r.repo.UpdateJobStatus(ctx, job.ID, JobStatusCompleted, "")
	logger.Info("analysis completed",
		"tempo", video.Tempo,
		"beats", video.BeatCount,
		"frames_with_poses", video.PoseFrames,
	)
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[len(s)-maxLen:]
}

func (r *Runner) GetActiveJobCount(ctx context.Context) int {
	jobs, err := r.repo.ListJobs(ctx, 100)
	if err != nil {
		return 0
	}
	count := 0
	for _, j := range jobs {
		if j.Status == JobStatusRunning || j.Status == JobStatusPending {
			count++
		}
	}
	return count
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
