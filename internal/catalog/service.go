package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/dancesync/dancesync-agent/internal/align"
	"github.com/dancesync/dancesync-agent/internal/audio"
	"github.com/dancesync/dancesync-agent/internal/beats"
	"github.com/dancesync/dancesync-agent/internal/compare"
	"github.com/dancesync/dancesync-agent/internal/pipelines"
	"github.com/dancesync/dancesync-agent/internal/pose"
)

// CatalogService is what the HTTP API and tray need from the catalog.
type CatalogService interface {
	UploadVideo(ctx context.Context, filename string, r io.Reader) (*Video, *Job, error)
	GetVideo(ctx context.Context, id string) (*Video, error)
	ListVideos(ctx context.Context) ([]*Video, error)
	CountVideos(ctx context.Context) (int, error)
	DeleteVideo(ctx context.Context, id string) error
	LoadPoseTrack(ctx context.Context, id string) (pose.VideoPoseTrack, *Video, error)
	LoadBeats(ctx context.Context, id string) (beats.Track, *Video, error)
	SyncVideos(ctx context.Context, refID, userID string) (align.Result, error)
	ResolveFPS(requested int, ref *Video) int
	CompareVideos(ctx context.Context, in CompareVideosInput) (*Comparison, error)
	RecordComparison(ctx context.Context, refID, userID string, fps int, res compare.Result, offset *float64) (*Comparison, error)
	GetComparison(ctx context.Context, id string) (*Comparison, error)
	ListComparisons(ctx context.Context, limit int) ([]*Comparison, error)
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
}

var _ CatalogService = (*Service)(nil)

type ServiceConfig struct {
	UploadsDir     string
	ArtifactsDir   string
	MaxUploadBytes int64 // <= 0 means unlimited
	DefaultFPS     int
	Decoder        audio.Decoder
	Aligner        *align.Aligner
}

type Service struct {
	repo   Repository
	cfg    ServiceConfig
	logger *slog.Logger
}

func NewService(repo Repository, cfg ServiceConfig, logger *slog.Logger) *Service {
	if cfg.DefaultFPS <= 0 {
		cfg.DefaultFPS = compare.DefaultFPS
	}
	if cfg.Aligner == nil {
		cfg.Aligner = align.NewAligner(nil, logger)
	}
	return &Service{repo: repo, cfg: cfg, logger: logger}
}

// UploadVideo stores an uploaded file and queues it for analysis.
func (s *Service) UploadVideo(ctx context.Context, filename string, r io.Reader) (*Video, *Job, error) {
	if filename == "" {
		return nil, nil, Wrap(ErrValidation, "upload", "", "no selected file", nil)
	}
	if !IsVideoFile(filename) {
		return nil, nil, Wrap(ErrValidation, "upload", "", "invalid file type", nil)
	}
	clean := SanitizeFilename(filename)
	if clean == "" || !IsVideoFile(clean) {
		return nil, nil, Wrap(ErrValidation, "upload", "", "invalid file name", nil)
	}

	if err := os.MkdirAll(s.cfg.UploadsDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create uploads dir: %w", err)
	}

	id := NewID()
	path := filepath.Join(s.cfg.UploadsDir, id[:8]+"_"+clean)
	size, err := s.writeUpload(path, r)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	video := &Video{
		ID:        id,
		Filename:  clean,
		Path:      path,
		Size:      size,
		Status:    VideoStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateVideo(ctx, video); err != nil {
		os.Remove(path)
		return nil, nil, err
	}

	job := &Job{
		ID:        NewID(),
		Type:      JobTypeAnalyze,
		Status:    JobStatusPending,
		VideoID:   video.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, nil, err
	}

	if s.logger != nil {
		s.logger.Info("video uploaded", "video_id", video.ID, "job_id", job.ID, "size", size)
	}
	return video, job, nil
}

func (s *Service) writeUpload(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create upload file: %w", err)
	}

	src := r
	if s.cfg.MaxUploadBytes > 0 {
		src = io.LimitReader(r, s.cfg.MaxUploadBytes+1)
	}
	n, err := io.Copy(f, src)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("write upload: %w", err)
	}
	if s.cfg.MaxUploadBytes > 0 && n > s.cfg.MaxUploadBytes {
		os.Remove(path)
		return 0, Wrap(ErrValidation, "upload", "", fmt.Sprintf("file exceeds %d bytes", s.cfg.MaxUploadBytes), nil)
	}
	if n == 0 {
		os.Remove(path)
		return 0, Wrap(ErrValidation, "upload", "", "empty file", nil)
	}
	return n, nil
}

func (s *Service) GetVideo(ctx context.Context, id string) (*Video, error) {
	v, err := s.repo.GetVideo(ctx, id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, Wrap(ErrNotFound, "video", id, "", nil)
	}
	return v, nil
}

func (s *Service) ListVideos(ctx context.Context) ([]*Video, error) {
	return s.repo.ListVideos(ctx)
}

func (s *Service) CountVideos(ctx context.Context) (int, error) {
	return s.repo.CountVideos(ctx)
}

// DeleteVideo removes the record, the upload and its artifacts.
func (s *Service) DeleteVideo(ctx context.Context, id string) error {
	v, err := s.GetVideo(ctx, id)
	if err != nil {
		return err
	}
	if v.Status == VideoStatusAnalyzing {
		return Wrap(ErrValidation, "video", id, "analysis in progress", nil)
	}
	if err := s.repo.DeleteVideo(ctx, id); err != nil {
		return err
	}

	if err := os.Remove(v.Path); err != nil && !errors.Is(err, os.ErrNotExist) && s.logger != nil {
		s.logger.Warn("failed to remove upload", "video_id", id, "error", err)
	}
	if s.cfg.ArtifactsDir != "" {
		if err := os.RemoveAll(filepath.Join(s.cfg.ArtifactsDir, id)); err != nil && s.logger != nil {
			s.logger.Warn("failed to remove artifacts", "video_id", id, "error", err)
		}
	}
	if s.logger != nil {
		s.logger.Info("video deleted", "video_id", id)
	}
	return nil
}

func (s *Service) readyVideo(ctx context.Context, id string) (*Video, error) {
	v, err := s.GetVideo(ctx, id)
	if err != nil {
		return nil, err
	}
	if !v.IsReady() {
		return nil, Wrap(ErrNotReady, "video", id, "status "+v.Status, nil)
	}
	return v, nil
}

// LoadPoseTrack reads the stored pose artifact of a ready video.
func (s *Service) LoadPoseTrack(ctx context.Context, id string) (pose.VideoPoseTrack, *Video, error) {
	v, err := s.readyVideo(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	track, _, _, err := pipelines.LoadPoseTrack(v.PoseArtifact, s.logger)
	if err != nil {
		return nil, nil, Wrap(ErrPipeline, "video", id, "load pose artifact", err)
	}
	return track, v, nil
}

// LoadBeats reads the stored beat artifact of a ready video.
func (s *Service) LoadBeats(ctx context.Context, id string) (beats.Track, *Video, error) {
	v, err := s.readyVideo(ctx, id)
	if err != nil {
		return beats.Track{}, nil, err
	}
	var track beats.Track
	if err := readJSON(v.BeatsArtifact, &track); err != nil {
		return beats.Track{}, nil, Wrap(ErrPipeline, "video", id, "load beat artifact", err)
	}
	if track.BeatTimes == nil {
		track.BeatTimes = []float64{}
	}
	return track, v, nil
}

// SyncVideos aligns the audio of two analysed videos using their stored
// beat tracks.
func (s *Service) SyncVideos(ctx context.Context, refID, userID string) (align.Result, error) {
	if s.cfg.Decoder == nil {
		return align.Result{}, Wrap(ErrPipeline, "sync", "", "audio decoder not configured", nil)
	}

	refTrack, ref, err := s.LoadBeats(ctx, refID)
	if err != nil {
		return align.Result{}, err
	}
	userTrack, user, err := s.LoadBeats(ctx, userID)
	if err != nil {
		return align.Result{}, err
	}

	refSig, err := s.cfg.Decoder.Decode(ctx, ref.Path)
	if err != nil {
		return align.Result{}, fmt.Errorf("reference audio: %w", err)
	}
	userSig, err := s.cfg.Decoder.Decode(ctx, user.Path)
	if err != nil {
		return align.Result{}, fmt.Errorf("user audio: %w", err)
	}

	return s.cfg.Aligner.AlignTracks(refSig, userSig, refTrack, userTrack)
}

type CompareVideosInput struct {
	ReferenceVideoID string
	UserVideoID      string
	FPS              int
	IncludeOffset    bool
}

// ResolveFPS picks the frame rate for a comparison: the requested value,
// else the reference video's probed rate rounded, else the default.
func (s *Service) ResolveFPS(requested int, ref *Video) int {
	if requested > 0 {
		return requested
	}
	if ref != nil && ref.FPS > 0 {
		if fps := int(math.Round(ref.FPS)); fps > 0 {
			return fps
		}
	}
	return s.cfg.DefaultFPS
}

// CompareVideos scores two analysed videos at their beats and stores the
// result.
func (s *Service) CompareVideos(ctx context.Context, in CompareVideosInput) (*Comparison, error) {
	if in.ReferenceVideoID == "" || in.UserVideoID == "" {
		return nil, Wrap(ErrValidation, "compare", "", "reference_video_id and user_video_id are required", nil)
	}
	if in.FPS < 0 {
		return nil, Wrap(ErrValidation, "compare", "", "fps must be positive", compare.ErrInvalidFrameRate)
	}

	refTrack, ref, err := s.LoadPoseTrack(ctx, in.ReferenceVideoID)
	if err != nil {
		return nil, err
	}
	userTrack, _, err := s.LoadPoseTrack(ctx, in.UserVideoID)
	if err != nil {
		return nil, err
	}
	refBeats, _, err := s.LoadBeats(ctx, in.ReferenceVideoID)
	if err != nil {
		return nil, err
	}
	userBeats, _, err := s.LoadBeats(ctx, in.UserVideoID)
	if err != nil {
		return nil, err
	}

	fps := s.ResolveFPS(in.FPS, ref)
	res, err := compare.Compare(refTrack, userTrack, refBeats.BeatTimes, userBeats.BeatTimes, fps)
	if err != nil {
		return nil, Wrap(ErrValidation, "compare", "", "", err)
	}

	var offset *float64
	if in.IncludeOffset {
		sync, err := s.SyncVideos(ctx, in.ReferenceVideoID, in.UserVideoID)
		if err != nil {
			return nil, err
		}
		offset = &sync.TimeOffsetSeconds
	}

	return s.RecordComparison(ctx, in.ReferenceVideoID, in.UserVideoID, fps, res, offset)
}

// RecordComparison persists a comparison result.
func (s *Service) RecordComparison(ctx context.Context, refID, userID string, fps int, res compare.Result, offset *float64) (*Comparison, error) {
	c := &Comparison{
		ID:                NewID(),
		ReferenceVideoID:  refID,
		UserVideoID:       userID,
		FPS:               fps,
		AverageSimilarity: res.AverageSimilarity,
		NumBeatsAnalyzed:  res.NumBeatsAnalyzed,
		TimeOffsetSeconds: offset,
		Results:           res.Results,
		CreatedAt:         time.Now(),
	}
	if c.Results == nil {
		c.Results = []compare.BeatScore{}
	}
	if err := s.repo.CreateComparison(ctx, c); err != nil {
		return nil, err
	}
	if s.logger != nil {
		s.logger.Info("comparison stored",
			"comparison_id", c.ID,
			"beats", c.NumBeatsAnalyzed,
			"average_similarity", c.AverageSimilarity,
		)
	}
	return c, nil
}

func (s *Service) GetComparison(ctx context.Context, id string) (*Comparison, error) {
	c, err := s.repo.GetComparison(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, Wrap(ErrNotFound, "comparison", id, "", nil)
	}
	return c, nil
}

func (s *Service) ListComparisons(ctx context.Context, limit int) ([]*Comparison, error) {
	return s.repo.ListComparisons(ctx, limit)
}

func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	j, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, Wrap(ErrNotFound, "job", id, "", nil)
	}
	return j, nil
}

func (s *Service) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	return s.repo.ListJobs(ctx, limit)
}
